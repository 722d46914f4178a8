package monitor

import "sync"

// DefaultChannel is the reporting channel the package-level helpers
// operate on.
const DefaultChannel = "data"

// Channel registry. The Pipeline type is the real unit of composition;
// these helpers exist so producers scattered across a process can push
// samples without threading a pipeline reference everywhere. Every
// helper is a safe no-op before Init and after Shutdown.
var (
	regMu    sync.RWMutex
	registry = make(map[string]*Pipeline)
)

// Init creates and starts the default reporting channel. Initializing
// an already-initialized channel is a no-op.
func Init(cfg Config) error {
	return InitChannel(DefaultChannel, cfg)
}

// InitChannel creates and starts an independent named reporting
// channel, e.g. a secondary channel for scheduler metrics alongside
// the default data channel.
func InitChannel(name string, cfg Config) error {
	regMu.Lock()
	defer regMu.Unlock()
	if _, ok := registry[name]; ok {
		return nil
	}
	p, err := NewPipeline(cfg)
	if err != nil {
		return err
	}
	p.Start()
	registry[name] = p
	return nil
}

// Shutdown stops and removes every registered channel, draining
// buffered samples best-effort.
func Shutdown() {
	regMu.Lock()
	pipelines := make([]*Pipeline, 0, len(registry))
	for _, p := range registry {
		pipelines = append(pipelines, p)
	}
	registry = make(map[string]*Pipeline)
	regMu.Unlock()

	for _, p := range pipelines {
		p.Stop()
	}
}

// ShutdownChannel stops and removes one channel.
func ShutdownChannel(name string) {
	regMu.Lock()
	p := registry[name]
	delete(registry, name)
	regMu.Unlock()
	p.Stop()
}

// Channel returns the named pipeline, or nil if it was never
// initialized. A nil pipeline accepts every call as a no-op.
func Channel(name string) *Pipeline {
	regMu.RLock()
	defer regMu.RUnlock()
	return registry[name]
}

// Push records a plain sample on the default channel.
func Push(name, key string, value float64) {
	Channel(DefaultChannel).Push(name, key, value)
}

// PushRate records a rate sample on the default channel.
func PushRate(name, key string, value float64) {
	Channel(DefaultChannel).PushRate(name, key, value)
}

// SetActive toggles forwarding on the default channel.
func SetActive(active bool) {
	Channel(DefaultChannel).SetActive(active)
}

// SetInterval changes the default channel's flush cadence in seconds.
func SetInterval(seconds float64) {
	Channel(DefaultChannel).SetInterval(seconds)
}

// SetLogMetrics toggles per-metric logging on the default channel.
func SetLogMetrics(enabled bool) {
	Channel(DefaultChannel).SetLogMetrics(enabled)
}

// Activate sets run number and partition tag on the default channel
// and marks it active.
func Activate(run uint32, partition string) {
	Channel(DefaultChannel).Activate(run, partition)
}

// EnableProcessMonitoring starts process self-sampling on the default
// channel.
func EnableProcessMonitoring(intervalSec int) {
	Channel(DefaultChannel).EnableProcessMonitoring(intervalSec)
}
