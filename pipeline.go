package monitor

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Pipeline states. Start and Stop are idempotent; calling either in
// the wrong state is a no-op.
const (
	stateStopped int32 = iota
	stateStarting
	stateRunning
	stateStopping
)

// intervalEpsilon is the threshold below which SetInterval deactivates
// the pipeline instead of producing a degenerate window.
const intervalEpsilon = 1e-6

// Pipeline is one independent metric reporting channel: two bounded
// sample queues, a drain goroutine per queue folding samples into
// aggregate maps, and a flush goroutine that periodically snapshots
// the maps and forwards them to the sink.
//
// All methods are safe to call from any goroutine. A nil *Pipeline is
// valid; every method on it is a no-op.
type Pipeline struct {
	cfg    Config
	logger *zap.Logger

	state      atomic.Int32
	active     atomic.Bool
	logMetrics atomic.Bool
	intervalNs atomic.Int64

	plainQueue *sampleQueue
	rateQueue  *sampleQueue
	plain      *plainAggregator
	rate       *rateAggregator

	sink    Sink
	logSink *logSink

	procMu          sync.Mutex
	procIntervalSec int
	procCancel      context.CancelFunc

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewPipeline builds a pipeline from cfg without starting it. When
// cfg.Sink is nil and a backend URL is configured, a Prometheus remote
// write sink is constructed for it.
func NewPipeline(cfg Config) (*Pipeline, error) {
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = defaultQueueCapacity
	}

	p := &Pipeline{
		cfg:    cfg,
		logger: cfg.Logger,
	}
	if p.logger == nil {
		p.logger = zap.NewNop()
	}
	p.logSink = &logSink{logger: p.logger}
	p.logMetrics.Store(cfg.LogMetrics)
	p.procIntervalSec = cfg.ProcessIntervalSeconds

	if cfg.Sink != nil {
		p.sink = cfg.Sink
	} else if cfg.BackendURL != "" {
		s, err := newBackendSink(cfg, p.logger)
		if err != nil {
			return nil, err
		}
		p.sink = s
	}

	if interval, ok := cfg.interval(); ok {
		p.intervalNs.Store(int64(interval))
	} else {
		// Degenerate interval: keep the pipeline constructible but
		// inactive, with a sane cadence should it be re-enabled.
		p.intervalNs.Store(int64(defaultIntervalSeconds * float64(time.Second)))
		p.active.Store(false)
	}
	return p, nil
}

// Start spawns the drain and flush goroutines. Starting a running
// pipeline is a no-op.
func (p *Pipeline) Start() {
	if p == nil {
		return
	}
	if !p.state.CompareAndSwap(stateStopped, stateStarting) {
		return
	}

	p.plainQueue = newSampleQueue(p.cfg.QueueCapacity)
	p.rateQueue = newSampleQueue(p.cfg.QueueCapacity)
	p.plain = newPlainAggregator()
	p.rate = newRateAggregator()
	p.ctx, p.cancel = context.WithCancel(context.Background())

	p.wg.Add(3)
	go p.drainLoop(p.plainQueue, func(s Sample) { p.plain.fold(s) })
	go p.drainLoop(p.rateQueue, func(s Sample) { p.rate.fold(s) })
	go p.flushLoop()

	p.state.Store(stateRunning)
	p.logger.Info("metric pipeline started",
		zap.String("subsystem", p.cfg.Subsystem),
		zap.Duration("interval", p.interval()))

	p.procMu.Lock()
	if p.procIntervalSec >= 0 {
		p.startProcessMonitorLocked()
	}
	p.procMu.Unlock()
}

// Stop closes the queues, lets the drain goroutines consume whatever
// is still buffered, performs one final flush, and joins everything.
// Stopping a stopped pipeline is a no-op.
func (p *Pipeline) Stop() {
	if p == nil {
		return
	}
	if !p.state.CompareAndSwap(stateRunning, stateStopping) {
		return
	}

	// Barrier against a concurrent EnableProcessMonitoring: anyone
	// acquiring procMu from here on sees the Stopping state.
	p.procMu.Lock()
	if p.procCancel != nil {
		p.procCancel()
		p.procCancel = nil
	}
	p.procMu.Unlock()

	p.plainQueue.close()
	p.rateQueue.close()
	p.cancel()
	p.wg.Wait()

	// Tail flush so samples accepted before Stop are not lost.
	p.flush(time.Now())

	p.state.Store(stateStopped)
	p.logger.Info("metric pipeline stopped", zap.String("subsystem", p.cfg.Subsystem))
}

// Push records a plain (latest-value) sample. It is a no-op unless the
// pipeline is running and active, so producers pay nothing while
// monitoring is disabled.
func (p *Pipeline) Push(name, key string, value float64) {
	if !p.accepting() {
		return
	}
	p.plainQueue.push(Sample{Name: name, Key: key, Value: value})
}

// PushRate records a sample aggregated as min/max/mean/count over the
// current window.
func (p *Pipeline) PushRate(name, key string, value float64) {
	if !p.accepting() {
		return
	}
	p.rateQueue.push(Sample{Name: name, Key: key, Value: value})
}

func (p *Pipeline) accepting() bool {
	return p != nil && p.state.Load() == stateRunning && p.active.Load()
}

// SetActive toggles whether flushed snapshots are forwarded to the
// sink. Takes effect on the next flush tick.
func (p *Pipeline) SetActive(active bool) {
	if p == nil {
		return
	}
	p.active.Store(active)
}

// SetInterval changes the flush cadence, in seconds. Values at or
// below a tiny epsilon deactivate the pipeline instead of producing a
// zero-length window. Takes effect on the next flush tick.
func (p *Pipeline) SetInterval(seconds float64) {
	if p == nil {
		return
	}
	if seconds <= intervalEpsilon {
		p.active.Store(false)
		return
	}
	p.intervalNs.Store(int64(seconds * float64(time.Second)))
}

// SetLogMetrics toggles per-metric log lines at flush time.
func (p *Pipeline) SetLogMetrics(enabled bool) {
	if p == nil {
		return
	}
	p.logMetrics.Store(enabled)
}

// SetTag sets the partition tag attached to every emitted series, when
// the sink supports tagging.
func (p *Pipeline) SetTag(partition string) {
	if p == nil {
		return
	}
	if s, ok := p.sink.(interface{ SetTag(string) }); ok {
		s.SetTag(partition)
	}
}

// SetRunNumber sets the run number attached to every emitted series,
// when the sink supports it.
func (p *Pipeline) SetRunNumber(run uint32) {
	if p == nil {
		return
	}
	if s, ok := p.sink.(interface{ SetRunNumber(uint32) }); ok {
		s.SetRunNumber(run)
	}
}

// Activate sets the run number (clamped to at least 1) and partition
// tag, then marks the pipeline active.
func (p *Pipeline) Activate(run uint32, partition string) {
	if p == nil {
		return
	}
	if run < 1 {
		run = 1
	}
	p.SetRunNumber(run)
	p.SetTag(partition)
	p.SetActive(true)
}

func (p *Pipeline) interval() time.Duration {
	return time.Duration(p.intervalNs.Load())
}

func (p *Pipeline) drainLoop(q *sampleQueue, fold func(Sample)) {
	defer p.wg.Done()
	for {
		s, ok := q.pop()
		if !ok {
			return
		}
		fold(s)
	}
}

func (p *Pipeline) flushLoop() {
	defer p.wg.Done()

	interval := p.interval()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case now := <-ticker.C:
			p.safeFlush(now)
			if next := p.interval(); next != interval {
				interval = next
				ticker.Reset(interval)
			}
		case <-p.ctx.Done():
			return
		}
	}
}

// safeFlush shields the flush loop from sink or snapshot failures; a
// panicking cycle is logged and the loop continues.
func (p *Pipeline) safeFlush(now time.Time) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("flush cycle panicked", zap.Any("panic", r))
		}
	}()
	p.flush(now)
}

// flush snapshots and clears both aggregate maps under their locks,
// then forwards the snapshots outside any lock. Inactive pipelines
// discard the snapshots, which still bounds memory.
func (p *Pipeline) flush(now time.Time) {
	plainSnap := p.plain.snapshot()
	rateSnap := p.rate.snapshot()
	if !p.active.Load() {
		return
	}

	window := roundToWindow(now, windowStep(p.interval()))

	for name, rec := range plainSnap {
		p.deliverPlain(name, rec)
	}
	for name, rec := range rateSnap {
		p.deliverRate(name, window, rec)
	}
}

func (p *Pipeline) deliverPlain(name string, rec *PlainRecord) {
	if p.logMetrics.Load() {
		_ = p.logSink.SendPlain(name, rec.Timestamp, rec.Values)
	}
	if p.sink == nil {
		return
	}
	if err := p.sink.SendPlain(name, rec.Timestamp, rec.Values); err != nil {
		p.logger.Warn("plain metric send failed",
			zap.String("name", name), zap.Error(err))
	}
}

func (p *Pipeline) deliverRate(name string, window time.Time, rec *RateRecord) {
	if p.logMetrics.Load() {
		_ = p.logSink.SendRate(name, window, rec.Stats)
	}
	if p.sink == nil {
		return
	}
	if err := p.sink.SendRate(name, window, rec.Stats); err != nil {
		p.logger.Warn("rate metric send failed",
			zap.String("name", name), zap.Error(err))
	}
}
