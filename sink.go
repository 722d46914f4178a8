package monitor

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/eryajf/promwrite"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Sink receives flushed metric snapshots. Implementations must be safe
// for use from the flush goroutine only; the pipeline never calls a
// sink concurrently with itself.
type Sink interface {
	// SendPlain forwards the latest values recorded per key for one
	// metric name.
	SendPlain(name string, ts time.Time, values map[string]float64) error
	// SendRate forwards per-key window statistics for one metric name.
	SendRate(name string, ts time.Time, stats map[string]RateStats) error
}

const remoteWriteTimeout = 15 * time.Second

// newBackendSink builds the sink for a configured backend endpoint
// list (comma-separated). Multiple endpoints fan out to one remote
// sink each.
func newBackendSink(cfg Config, logger *zap.Logger) (Sink, error) {
	var sinks multiSink
	for _, endpoint := range strings.Split(cfg.BackendURL, ",") {
		endpoint = strings.TrimSpace(endpoint)
		if endpoint == "" {
			continue
		}
		c := cfg
		c.BackendURL = endpoint
		rs, err := newRemoteSink(c, logger)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, rs)
	}
	switch len(sinks) {
	case 0:
		return nil, nil
	case 1:
		return sinks[0], nil
	default:
		return sinks, nil
	}
}

// multiSink fans every delivery out to all member sinks and collects
// their errors.
type multiSink []Sink

func (m multiSink) SendPlain(name string, ts time.Time, values map[string]float64) error {
	var err error
	for _, s := range m {
		err = multierr.Append(err, s.SendPlain(name, ts, values))
	}
	return err
}

func (m multiSink) SendRate(name string, ts time.Time, stats map[string]RateStats) error {
	var err error
	for _, s := range m {
		err = multierr.Append(err, s.SendRate(name, ts, stats))
	}
	return err
}

func (m multiSink) SetTag(partition string) {
	for _, s := range m {
		if t, ok := s.(interface{ SetTag(string) }); ok {
			t.SetTag(partition)
		}
	}
}

func (m multiSink) SetRunNumber(run uint32) {
	for _, s := range m {
		if t, ok := s.(interface{ SetRunNumber(uint32) }); ok {
			t.SetRunNumber(run)
		}
	}
}

// remoteSink ships snapshots to a Prometheus remote write endpoint.
// Partition tag and run number become constant labels on every series.
type remoteSink struct {
	endpoint  string
	subsystem string
	logger    *zap.Logger

	mu        sync.Mutex
	client    *promwrite.Client
	partition string
	runNumber uint32

	resolver *resolverPool
}

func newRemoteSink(cfg Config, logger *zap.Logger) (*remoteSink, error) {
	u, err := url.Parse(cfg.BackendURL)
	if err != nil {
		return nil, fmt.Errorf("invalid backend url %q: %w", cfg.BackendURL, err)
	}

	s := &remoteSink{
		endpoint:  cfg.BackendURL,
		subsystem: cfg.Subsystem,
		logger:    logger,
		client:    promwrite.NewClient(cfg.BackendURL),
	}
	if host := u.Hostname(); host != "" {
		s.resolver = newResolverPool(host, cfg, logger)
	}
	return s, nil
}

func (s *remoteSink) SetTag(partition string) {
	s.mu.Lock()
	s.partition = partition
	s.mu.Unlock()
}

func (s *remoteSink) SetRunNumber(run uint32) {
	s.mu.Lock()
	s.runNumber = run
	s.mu.Unlock()
}

func (s *remoteSink) SendPlain(name string, ts time.Time, values map[string]float64) error {
	series := make([]promwrite.TimeSeries, 0, len(values))
	for key, val := range values {
		series = append(series, s.makeSeries(name, key, val, ts))
	}
	return s.write(series)
}

func (s *remoteSink) SendRate(name string, ts time.Time, stats map[string]RateStats) error {
	series := make([]promwrite.TimeSeries, 0, 4*len(stats))
	for key, st := range stats {
		mean, ok := st.Mean()
		if !ok {
			continue
		}
		series = append(series,
			s.makeSeries(name+"_min", key, st.Min, ts),
			s.makeSeries(name+"_max", key, st.Max, ts),
			s.makeSeries(name+"_mean", key, mean, ts),
			s.makeSeries(name+"_count", key, float64(st.Count), ts),
		)
	}
	return s.write(series)
}

func (s *remoteSink) makeSeries(name, key string, val float64, ts time.Time) promwrite.TimeSeries {
	s.mu.Lock()
	partition, run := s.partition, s.runNumber
	s.mu.Unlock()

	labels := make([]promwrite.Label, 0, 5)
	labels = append(labels,
		promwrite.Label{Name: "__name__", Value: name},
		promwrite.Label{Name: "subsystem", Value: s.subsystem},
		promwrite.Label{Name: "key", Value: key},
	)
	if partition != "" {
		labels = append(labels, promwrite.Label{Name: "partition", Value: partition})
	}
	if run > 0 {
		labels = append(labels, promwrite.Label{Name: "run", Value: strconv.FormatUint(uint64(run), 10)})
	}
	return promwrite.TimeSeries{
		Labels: labels,
		Sample: promwrite.Sample{Time: ts, Value: val},
	}
}

func (s *remoteSink) write(series []promwrite.TimeSeries) error {
	if len(series) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), remoteWriteTimeout)
	defer cancel()

	req := &promwrite.WriteRequest{TimeSeries: series}
	if _, err := s.currentClient().Write(ctx, req); err != nil {
		// One retry after a forced resolver refresh; the endpoint may
		// have moved behind a DNS change.
		if s.refreshClient(ctx) {
			if _, retryErr := s.currentClient().Write(ctx, req); retryErr != nil {
				return fmt.Errorf("remote write failed after dns refresh: %w", retryErr)
			}
			return nil
		}
		return fmt.Errorf("remote write failed: %w", err)
	}
	return nil
}

func (s *remoteSink) currentClient() *promwrite.Client {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.client
}

// refreshClient re-resolves the backend host and rebuilds the client
// when the address set changed, forcing fresh connections.
func (s *remoteSink) refreshClient(ctx context.Context) bool {
	if s.resolver == nil {
		return false
	}
	changed, err := s.resolver.refresh(ctx, true)
	if err != nil {
		if s.logger != nil {
			s.logger.Warn("backend dns refresh failed", zap.Error(err))
		}
		return false
	}
	if !changed {
		return false
	}
	s.mu.Lock()
	s.client = promwrite.NewClient(s.endpoint)
	s.mu.Unlock()
	if s.logger != nil {
		s.logger.Info("rebuilt remote write client after dns change",
			zap.Strings("addrs", s.resolver.addrs()))
	}
	return true
}

// logSink writes flushed metrics to the logger instead of (or in
// addition to) a backend.
type logSink struct {
	logger *zap.Logger
}

func (s *logSink) SendPlain(name string, ts time.Time, values map[string]float64) error {
	for key, val := range values {
		s.logger.Info("metric",
			zap.String("name", name),
			zap.String("key", key),
			zap.Float64("value", val),
			zap.Time("ts", ts))
	}
	return nil
}

func (s *logSink) SendRate(name string, ts time.Time, stats map[string]RateStats) error {
	for key, st := range stats {
		mean, ok := st.Mean()
		if !ok {
			continue
		}
		s.logger.Info("rate metric",
			zap.String("name", name),
			zap.String("key", key),
			zap.Float64("min", st.Min),
			zap.Float64("max", st.Max),
			zap.Float64("mean", mean),
			zap.Uint64("count", st.Count),
			zap.Time("window", ts))
	}
	return nil
}
