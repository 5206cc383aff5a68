package metrics

import (
	"sync"
	"time"
)

// Metrics describes one named series.
type Metrics interface {
	Name() string
	Group() string
	Policy() Policy
}

var (
	_reporters     []Reporter
	_lockReporters sync.RWMutex

	_counters   = newRegistry(func(name, group string) *counter { return &counter{instrument{name, group}} })
	_gauges     = newRegistry(func(name, group string) *gauge { return &gauge{instrument{name, group}, Policy_Set} })
	_avgGauges  = newRegistry(func(name, group string) *gauge { return &gauge{instrument{name, group}, Policy_Avg} })
	_maxGauges  = newRegistry(func(name, group string) *gauge { return &gauge{instrument{name, group}, Policy_Max} })
	_stopwatchs = newRegistry(func(name, group string) *stopwatch { return &stopwatch{instrument{name, group}} })
)

// SetMetricsReporters replaces every reporter.
func SetMetricsReporters(reports []Reporter) {
	_lockReporters.Lock()
	defer _lockReporters.Unlock()
	_reporters = reports
}

// AddReporter appends a reporter.
func AddReporter(r Reporter) {
	_lockReporters.Lock()
	defer _lockReporters.Unlock()
	_reporters = append(_reporters, r)
}

// RemoveReporter drops a reporter added earlier.
func RemoveReporter(r Reporter) {
	_lockReporters.Lock()
	defer _lockReporters.Unlock()
	kept := _reporters[:0:0]
	for _, cur := range _reporters {
		if cur != r {
			kept = append(kept, cur)
		}
	}
	_reporters = kept
}

func report(r Record) {
	_lockReporters.RLock()
	reporters := _reporters
	_lockReporters.RUnlock()
	for _, reporter := range reporters {
		reporter.Report(r)
	}
}

// IncrCounterWithGroup adds value to a counter.
func IncrCounterWithGroup(key string, group string, value Value) {
	_counters.get(key, group).Incr(value)
}

// IncrCounterWithDimGroup adds value to a counter with dimensions.
func IncrCounterWithDimGroup(key string, group string, value Value, dimensions Dimension) {
	_counters.get(key, group).IncrWithDim(value, dimensions)
}

// UpdateGaugeWithGroup sets a gauge.
func UpdateGaugeWithGroup(key string, group string, value Value) {
	_gauges.get(key, group).Update(value)
}

// UpdateGaugeWithDimGroup sets a gauge with dimensions.
func UpdateGaugeWithDimGroup(key string, group string, value Value, dimensions Dimension) {
	_gauges.get(key, group).UpdateWithDim(value, dimensions)
}

// UpdateAvgGaugeWithGroup feeds a gauge reporting the average of its updates.
func UpdateAvgGaugeWithGroup(key string, group string, value Value) {
	_avgGauges.get(key, group).Update(value)
}

// UpdateAvgGaugeWithDimGroup is UpdateAvgGaugeWithGroup with dimensions.
func UpdateAvgGaugeWithDimGroup(key string, group string, value Value, dimensions Dimension) {
	_avgGauges.get(key, group).UpdateWithDim(value, dimensions)
}

// UpdateMaxGaugeWithGroup feeds a gauge reporting the maximum of its updates.
func UpdateMaxGaugeWithGroup(key string, group string, value Value) {
	_maxGauges.get(key, group).Update(value)
}

// UpdateMaxGaugeWithDimGroup is UpdateMaxGaugeWithGroup with dimensions.
func UpdateMaxGaugeWithDimGroup(key string, group string, value Value, dimensions Dimension) {
	_maxGauges.get(key, group).UpdateWithDim(value, dimensions)
}

// RecordStopwatchWithGroup reports the time elapsed since startTime in milliseconds.
func RecordStopwatchWithGroup(key string, group string, startTime time.Time) time.Duration {
	return _stopwatchs.get(key, group).RecordWithDim(nil, startTime)
}

// RecordStopwatchWithDimGroup is RecordStopwatchWithGroup with dimensions.
func RecordStopwatchWithDimGroup(key string, group string, startTime time.Time, dimensions Dimension) time.Duration {
	return _stopwatchs.get(key, group).RecordWithDim(dimensions, startTime)
}

// registry lazily creates one instrument per name.
type registry[T Metrics] struct {
	lock  sync.RWMutex
	items map[string]T
	newFn func(name, group string) T
}

func newRegistry[T Metrics](newFn func(name, group string) T) *registry[T] {
	return &registry[T]{items: map[string]T{}, newFn: newFn}
}

func (r *registry[T]) get(name string, group string) T {
	r.lock.RLock()
	m, ok := r.items[name]
	r.lock.RUnlock()
	if ok {
		return m
	}

	r.lock.Lock()
	defer r.lock.Unlock()
	if m, ok = r.items[name]; ok {
		return m
	}
	m = r.newFn(name, group)
	r.items[name] = m
	return m
}
