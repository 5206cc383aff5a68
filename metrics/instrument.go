package metrics

import "time"

// Counter accumulates values over time.
type Counter interface {
	Metrics
	IncrWithDim(delta Value, dimensions Dimension)
	Incr(delta Value)
}

// Gauge reports a level. How updates combine depends on its Policy.
type Gauge interface {
	Metrics
	Update(value Value)
	UpdateWithDim(value Value, dimensions Dimension)
}

// StopWatch reports durations.
type StopWatch interface {
	Metrics
	RecordWithDim(dimensions Dimension, startTime time.Time) time.Duration
}

type instrument struct {
	name  string
	group string
}

func (i *instrument) Name() string  { return i.name }
func (i *instrument) Group() string { return i.group }

type counter struct {
	instrument
}

func (c *counter) Policy() Policy {
	return Policy_Sum
}

func (c *counter) Incr(v Value) {
	c.IncrWithDim(v, nil)
}

func (c *counter) IncrWithDim(v Value, dimensions Dimension) {
	report(Record{metrics: c, value: v, dimensions: dimensions})
}

type gauge struct {
	instrument
	policy Policy
}

func (g *gauge) Policy() Policy {
	return g.policy
}

func (g *gauge) Update(v Value) {
	g.UpdateWithDim(v, nil)
}

func (g *gauge) UpdateWithDim(v Value, dimensions Dimension) {
	r := Record{metrics: g, value: v, dimensions: dimensions}
	if g.policy == Policy_Avg {
		r.cnt = 1
	}
	report(r)
}

type stopwatch struct {
	instrument
}

func (s *stopwatch) Policy() Policy {
	return Policy_Stopwatch
}

func (s *stopwatch) RecordWithDim(dimensions Dimension, startTime time.Time) time.Duration {
	duration := time.Since(startTime)
	report(Record{
		metrics:    s,
		value:      Value(float64(duration.Microseconds()) / 1000),
		cnt:        1,
		dimensions: dimensions,
	})
	return duration
}
