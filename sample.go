package monitor

import (
	"math"
	"time"
)

// Sample is a single named, keyed observation pushed by a producer.
// It lives only inside a queue slot until a drain loop folds it into
// an aggregate record.
type Sample struct {
	Name  string
	Key   string
	Value float64
}

// PlainRecord holds the latest value per key for one metric name,
// stamped with the time of the most recent contributing sample.
type PlainRecord struct {
	Values    map[string]float64
	Timestamp time.Time
}

// RateStats accumulates running statistics for one (name, key) pair
// within the current reporting window.
type RateStats struct {
	Min     float64
	Max     float64
	MeanAcc float64
	Count   uint64
}

func newRateStats() RateStats {
	return RateStats{Min: math.Inf(1), Max: math.Inf(-1)}
}

func (s *RateStats) observe(v float64) {
	s.Min = math.Min(s.Min, v)
	s.Max = math.Max(s.Max, v)
	s.MeanAcc += v
	s.Count++
}

// Mean returns the window mean and whether any samples were observed.
// Min and Max hold sentinel infinities until the first observation and
// must not be reported while the second result is false.
func (s RateStats) Mean() (float64, bool) {
	if s.Count == 0 {
		return 0, false
	}
	return s.MeanAcc / float64(s.Count), true
}

// RateRecord holds the per-key running statistics for one metric name.
type RateRecord struct {
	Stats map[string]RateStats
}
