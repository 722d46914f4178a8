// Package monitor is an in-process metric aggregation pipeline for
// distributed data-acquisition services.
//
// Producers push named, keyed samples from any goroutine without
// blocking; bounded queues decouple them from two background drain
// loops that fold samples into aggregate maps. A flush loop
// periodically snapshots the maps and forwards them to a Prometheus
// remote write backend and/or the log.
//
// Rate samples are summarized as min/max/mean/count over fixed
// wall-clock-aligned windows, so a fleet of processes with
// unsynchronized flush timers still emits points that line up in time.
//
// Basic usage:
//
//	cfg := monitor.DefaultConfig()
//	cfg.BackendURL = "http://prometheus:9090/api/v1/write"
//	cfg.IntervalSeconds = 2.0
//
//	if err := monitor.Init(cfg); err != nil {
//	  log.Fatal(err)
//	}
//	defer monitor.Shutdown()
//
//	monitor.Activate(runNumber, "partition-a")
//	monitor.Push("buffer", "used_bytes", 1<<20)
//	monitor.PushRate("readout", "stf_size", 48235.0)
package monitor
