package metrics

// Reporter receives every record. Implementations must not block.
type Reporter interface {
	Report(r Record)
}
