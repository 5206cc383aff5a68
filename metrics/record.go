package metrics

import (
	"fmt"
	"maps"
)

// Record is one measurement handed to reporters. cnt is the number of
// samples folded into value; only averaged policies use it.
type Record struct {
	metrics    Metrics
	value      Value
	cnt        int
	dimensions Dimension
}

// Clone copies r including its dimensions.
func (r *Record) Clone() *Record {
	cp := *r
	cp.dimensions = maps.Clone(r.dimensions)
	return &cp
}

// Metrics returns the series the record belongs to.
func (r *Record) Metrics() Metrics {
	return r.metrics
}

// Value is the reportable value: the mean for averaged policies, the raw
// value otherwise.
func (r *Record) Value() Value {
	if p := r.metrics.Policy(); (p == Policy_Avg || p == Policy_Stopwatch) && r.cnt != 0 {
		return r.value / Value(r.cnt)
	}
	return r.value
}

// RawData returns the accumulated value and sample count.
func (r *Record) RawData() (Value, int) {
	return r.value, r.cnt
}

// Dimensions returns the record labels.
func (r *Record) Dimensions() map[string]string {
	return r.dimensions
}

func (r *Record) sameSeries(other *Record) error {
	a, b := r.metrics, other.metrics
	switch {
	case a.Name() != b.Name():
		return fmt.Errorf("metrics name %s != %s", a.Name(), b.Name())
	case a.Group() != b.Group():
		return fmt.Errorf("metrics(%s) group %s != %s", a.Name(), a.Group(), b.Group())
	case a.Policy() != b.Policy():
		return fmt.Errorf("metrics(%s) policy %v != %v", a.Name(), a.Policy(), b.Policy())
	case !maps.Equal(r.dimensions, other.dimensions):
		return fmt.Errorf("metrics(%s) dimensions %v != %v", a.Name(), r.dimensions, other.dimensions)
	}
	return nil
}

// Merge folds other into r according to the series policy. Both records must
// belong to the same series with the same dimensions.
func (r *Record) Merge(other Record) error {
	if err := r.sameSeries(&other); err != nil {
		return err
	}

	switch r.metrics.Policy() {
	case Policy_Set:
		r.value = other.value
	case Policy_Sum:
		r.value += other.value
	case Policy_Max:
		r.value = max(r.value, other.value)
	case Policy_Min:
		r.value = min(r.value, other.value)
	case Policy_Stopwatch, Policy_Avg:
		r.value += other.value
		r.cnt += other.cnt
	default:
		return fmt.Errorf("metrics(%s) policy %v can not merge", r.metrics.Name(), r.metrics.Policy())
	}
	return nil
}
