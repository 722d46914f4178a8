package monitor

import (
	"sync"
	"time"
)

// plainAggregator folds drained samples into per-name records with
// latest-value-wins semantics per key. The map is owned by a single
// drain goroutine; the lock exists only for the flush snapshot.
type plainAggregator struct {
	mu      sync.Mutex
	records map[string]*PlainRecord
}

func newPlainAggregator() *plainAggregator {
	return &plainAggregator{records: make(map[string]*PlainRecord)}
}

func (a *plainAggregator) fold(s Sample) {
	a.mu.Lock()
	defer a.mu.Unlock()
	rec, ok := a.records[s.Name]
	if !ok {
		rec = &PlainRecord{Values: make(map[string]float64)}
		a.records[s.Name] = rec
	}
	rec.Values[s.Key] = s.Value
	rec.Timestamp = time.Now()
}

// snapshot hands out the current records and resets the map.
// The caller owns the returned map outright; sink calls happen
// without the lock.
func (a *plainAggregator) snapshot() map[string]*PlainRecord {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.records) == 0 {
		return nil
	}
	out := a.records
	a.records = make(map[string]*PlainRecord)
	return out
}

// rateAggregator folds drained samples into per-(name,key) running
// min/max/mean/count statistics, cleared each time a window closes.
type rateAggregator struct {
	mu      sync.Mutex
	records map[string]*RateRecord
}

func newRateAggregator() *rateAggregator {
	return &rateAggregator{records: make(map[string]*RateRecord)}
}

func (a *rateAggregator) fold(s Sample) {
	a.mu.Lock()
	defer a.mu.Unlock()
	rec, ok := a.records[s.Name]
	if !ok {
		rec = &RateRecord{Stats: make(map[string]RateStats)}
		a.records[s.Name] = rec
	}
	st, ok := rec.Stats[s.Key]
	if !ok {
		st = newRateStats()
	}
	st.observe(s.Value)
	rec.Stats[s.Key] = st
}

func (a *rateAggregator) snapshot() map[string]*RateRecord {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.records) == 0 {
		return nil
	}
	out := a.records
	a.records = make(map[string]*RateRecord)
	return out
}
