package monitor

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type plainCall struct {
	name   string
	ts     time.Time
	values map[string]float64
}

type rateCall struct {
	name  string
	ts    time.Time
	stats map[string]RateStats
}

// captureSink records every delivery for inspection.
type captureSink struct {
	mu    sync.Mutex
	plain []plainCall
	rate  []rateCall
}

func (s *captureSink) SendPlain(name string, ts time.Time, values map[string]float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.plain = append(s.plain, plainCall{name, ts, values})
	return nil
}

func (s *captureSink) SendRate(name string, ts time.Time, stats map[string]RateStats) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rate = append(s.rate, rateCall{name, ts, stats})
	return nil
}

func (s *captureSink) calls() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.plain), len(s.rate)
}

func (s *captureSink) rateCountFor(name, key string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var total uint64
	for _, c := range s.rate {
		if c.name == name {
			total += c.stats[key].Count
		}
	}
	return total
}

func testPipeline(t *testing.T, sink Sink, intervalSec float64) *Pipeline {
	t.Helper()
	cfg := DefaultConfig()
	cfg.IntervalSeconds = intervalSec
	cfg.Sink = sink
	p, err := NewPipeline(cfg)
	require.NoError(t, err)
	t.Cleanup(p.Stop)
	return p
}

func TestPipelineEndToEndRateWindow(t *testing.T) {
	sink := &captureSink{}
	p := testPipeline(t, sink, 0.05)
	p.Start()
	p.SetActive(true)

	p.PushRate("rate_x", "a", 1.0)
	p.PushRate("rate_x", "a", 3.0)
	p.PushRate("rate_x", "a", 2.0)

	require.Eventually(t, func() bool {
		return sink.rateCountFor("rate_x", "a") == 3
	}, 2*time.Second, 5*time.Millisecond)

	sink.mu.Lock()
	defer sink.mu.Unlock()
	require.NotEmpty(t, sink.rate)

	// All three samples land in one window in practice; fold the
	// captured calls so a split across two flush ticks cannot flake.
	merged := newRateStats()
	step := windowStep(p.interval()).Microseconds()
	for _, c := range sink.rate {
		assert.Equal(t, "rate_x", c.name)
		st := c.stats["a"]
		merged.Min = min(merged.Min, st.Min)
		merged.Max = max(merged.Max, st.Max)
		merged.MeanAcc += st.MeanAcc
		merged.Count += st.Count

		// The window timestamp sits on the alignment grid.
		assert.Zero(t, c.ts.UnixMicro()%step)
	}
	assert.Equal(t, 1.0, merged.Min)
	assert.Equal(t, 3.0, merged.Max)
	assert.Equal(t, uint64(3), merged.Count)
	mean, ok := merged.Mean()
	require.True(t, ok)
	assert.Equal(t, 2.0, mean)
}

func TestPipelinePlainDelivery(t *testing.T) {
	sink := &captureSink{}
	p := testPipeline(t, sink, 0.05)
	p.Start()
	p.SetActive(true)

	p.Push("buffer", "used", 10)
	p.Push("buffer", "used", 42)

	require.Eventually(t, func() bool {
		sink.mu.Lock()
		defer sink.mu.Unlock()
		for _, c := range sink.plain {
			if c.values["used"] == 42.0 {
				return true
			}
		}
		return false
	}, 2*time.Second, 5*time.Millisecond, "latest value must win")
}

func TestPipelineInactivePushesAreNoops(t *testing.T) {
	sink := &captureSink{}
	p := testPipeline(t, sink, 0.05)
	p.Start()

	for i := 0; i < 100; i++ {
		p.Push("m", "k", float64(i))
		p.PushRate("r", "k", float64(i))
	}

	time.Sleep(150 * time.Millisecond)
	nPlain, nRate := sink.calls()
	assert.Zero(t, nPlain)
	assert.Zero(t, nRate)
	assert.Nil(t, p.plain.snapshot(), "aggregate maps must stay empty while inactive")
	assert.Nil(t, p.rate.snapshot())
}

func TestPipelineStopDrainsBufferedSamples(t *testing.T) {
	sink := &captureSink{}
	// Long interval: the ticker never fires, only the tail flush runs.
	p := testPipeline(t, sink, 60)
	p.Start()
	p.SetActive(true)

	const n = 50
	for i := 0; i < n; i++ {
		p.PushRate("r", "k", float64(i))
	}
	p.Stop()

	assert.Equal(t, uint64(n), sink.rateCountFor("r", "k"))

	// Nothing leaks out after the goroutines have joined.
	_, before := sink.calls()
	time.Sleep(50 * time.Millisecond)
	_, after := sink.calls()
	assert.Equal(t, before, after)
}

func TestPipelineStartStopIdempotent(t *testing.T) {
	p := testPipeline(t, &captureSink{}, 1)

	p.Start()
	p.Start()
	p.Stop()
	p.Stop()

	// A stopped pipeline silently drops pushes.
	p.Push("m", "k", 1)
	p.PushRate("m", "k", 1)
}

func TestPipelineRestart(t *testing.T) {
	sink := &captureSink{}
	p := testPipeline(t, sink, 60)

	p.Start()
	p.SetActive(true)
	p.PushRate("r", "k", 1)
	p.Stop()

	p.Start()
	p.SetActive(true)
	p.PushRate("r", "k", 2)
	p.Stop()

	assert.Equal(t, uint64(2), sink.rateCountFor("r", "k"))
}

func TestPipelineSetIntervalEpsilonDeactivates(t *testing.T) {
	p := testPipeline(t, &captureSink{}, 1)
	p.Start()
	p.SetActive(true)
	require.True(t, p.active.Load())

	p.SetInterval(0)
	assert.False(t, p.active.Load())

	p.SetInterval(2.5)
	assert.Equal(t, 2500*time.Millisecond, p.interval())
}

func TestPipelineDegenerateConfigInterval(t *testing.T) {
	cfg := DefaultConfig()
	cfg.IntervalSeconds = -1
	p, err := NewPipeline(cfg)
	require.NoError(t, err)
	t.Cleanup(p.Stop)

	// Clamped to the default rather than rejected; stays inactive.
	assert.Equal(t, 2*time.Second, p.interval())
	p.Start()
	assert.False(t, p.accepting())
}

func TestPipelineNilReceiver(t *testing.T) {
	var p *Pipeline
	p.Start()
	p.Stop()
	p.Push("m", "k", 1)
	p.PushRate("m", "k", 1)
	p.SetActive(true)
	p.SetInterval(1)
	p.SetTag("x")
	p.SetRunNumber(7)
	p.Activate(0, "x")
	p.EnableProcessMonitoring(1)
}

func TestPipelineActivateClampsRunNumber(t *testing.T) {
	sink := &tagRecorder{}
	cfg := DefaultConfig()
	cfg.Sink = sink
	p, err := NewPipeline(cfg)
	require.NoError(t, err)

	p.Activate(0, "part-1")
	assert.Equal(t, uint32(1), sink.run)
	assert.Equal(t, "part-1", sink.partition)
	assert.True(t, p.active.Load())
}

// tagRecorder is a sink that also accepts tag/run-number updates.
type tagRecorder struct {
	captureSink
	partition string
	run       uint32
}

func (s *tagRecorder) SetTag(partition string) { s.partition = partition }
func (s *tagRecorder) SetRunNumber(run uint32) { s.run = run }
