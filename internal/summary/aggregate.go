package summary

import (
	"math"
	"sync"

	"github.com/DataDog/sketches-go/ddsketch"
	"github.com/xtxerr/replay/config"
)

// Stats is the result of an Aggregate.
type Stats struct {
	Count int64
	Sum   float64
	Min   float64
	Max   float64
	Avg   float64

	// Percentiles (nil if disabled or empty)
	P50 *float64
	P90 *float64
	P95 *float64
	P99 *float64
}

// HasPercentiles reports whether percentile values are set.
func (s Stats) HasPercentiles() bool {
	return s.P50 != nil
}

// Aggregate maintains running statistics over a stream of values, with
// optional percentiles backed by DDSketch.
type Aggregate struct {
	mu sync.Mutex

	count int64
	sum   float64
	min   float64
	max   float64

	// nil if percentiles are disabled
	sketch   *ddsketch.DDSketch
	accuracy float64
}

// NewAggregate creates an aggregate. accuracy is the relative accuracy of
// percentiles; zero or less disables them.
func NewAggregate(accuracy float64) *Aggregate {
	a := &Aggregate{
		min:      math.MaxFloat64,
		max:      -math.MaxFloat64,
		accuracy: accuracy,
	}
	if accuracy > 0 {
		sketch, err := ddsketch.NewDefaultDDSketch(accuracy)
		if err == nil {
			a.sketch = sketch
		}
	}
	return a
}

// NewDefaultAggregate creates an aggregate with the default accuracy.
func NewDefaultAggregate() *Aggregate {
	return NewAggregate(config.DefaultSketchAccuracy)
}

// Add adds a value. NaN values are ignored.
func (a *Aggregate) Add(value float64) {
	if math.IsNaN(value) {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.count++
	a.sum += value

	if value < a.min {
		a.min = value
	}
	if value > a.max {
		a.max = value
	}

	if a.sketch != nil {
		a.sketch.Add(value)
	}
}

// Count returns the number of values added.
func (a *Aggregate) Count() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.count
}

// Result returns the current statistics.
func (a *Aggregate) Result() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()

	s := Stats{
		Count: a.count,
		Sum:   a.sum,
	}
	if a.count == 0 {
		return s
	}

	s.Avg = a.sum / float64(a.count)
	s.Min = a.min
	s.Max = a.max

	if a.sketch != nil {
		p50, _ := a.sketch.GetValueAtQuantile(0.50)
		p90, _ := a.sketch.GetValueAtQuantile(0.90)
		p95, _ := a.sketch.GetValueAtQuantile(0.95)
		p99, _ := a.sketch.GetValueAtQuantile(0.99)
		s.P50, s.P90, s.P95, s.P99 = &p50, &p90, &p95, &p99
	}
	return s
}

// Reset clears all state.
func (a *Aggregate) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.count = 0
	a.sum = 0
	a.min = math.MaxFloat64
	a.max = -math.MaxFloat64

	if a.sketch != nil {
		// DDSketch has no Clear method
		sketch, err := ddsketch.NewDefaultDDSketch(a.accuracy)
		if err == nil {
			a.sketch = sketch
		}
	}
}

// Merge combines other into a.
func (a *Aggregate) Merge(other *Aggregate) {
	if other == nil || other == a {
		return
	}

	other.mu.Lock()
	defer other.mu.Unlock()
	if other.count == 0 {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.count += other.count
	a.sum += other.sum
	if other.min < a.min {
		a.min = other.min
	}
	if other.max > a.max {
		a.max = other.max
	}

	if a.sketch != nil && other.sketch != nil {
		a.sketch.MergeWith(other.sketch)
	}
}
