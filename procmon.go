package monitor

import (
	"context"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"
)

// Process self-monitoring: a goroutine that samples the host process
// on its own cadence and feeds the results through the pipeline's
// plain queue under the "process" metric name.

// EnableProcessMonitoring starts process-level sampling. intervalSec
// semantics follow the configuration surface: negative disables, zero
// means "use the flush interval", positive is an explicit cadence.
// Calling it before Start records the cadence; Start picks it up.
func (p *Pipeline) EnableProcessMonitoring(intervalSec int) {
	if p == nil {
		return
	}
	p.procMu.Lock()
	defer p.procMu.Unlock()

	p.procIntervalSec = intervalSec
	if intervalSec < 0 {
		if p.procCancel != nil {
			p.procCancel()
			p.procCancel = nil
		}
		return
	}
	if p.state.Load() == stateRunning {
		p.startProcessMonitorLocked()
	}
}

// startProcessMonitorLocked spawns the sampling goroutine. Caller
// holds procMu and has verified the pipeline is running.
func (p *Pipeline) startProcessMonitorLocked() {
	if p.procCancel != nil {
		return
	}

	interval := time.Duration(p.procIntervalSec) * time.Second
	if interval <= 0 {
		interval = p.interval()
	}

	ctx, cancel := context.WithCancel(p.ctx)
	p.procCancel = cancel

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				p.sampleProcess()
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (p *Pipeline) sampleProcess() {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	p.Push("process", "mem_alloc_bytes", float64(ms.Alloc))
	p.Push("process", "mem_sys_bytes", float64(ms.Sys))
	p.Push("process", "heap_inuse_bytes", float64(ms.HeapInuse))
	p.Push("process", "gc_runs", float64(ms.NumGC))
	p.Push("process", "goroutines", float64(runtime.NumGoroutine()))

	if rss := readProcessRSS(); rss > 0 {
		p.Push("process", "rss_bytes", float64(rss))
	}
	if cpu, ok := readProcessCPU(); ok {
		p.Push("process", "cpu_seconds", cpu)
	}
	if fds := countOpenFDs(); fds > 0 {
		p.Push("process", "open_fds", float64(fds))
	}
}

// readProcessRSS reads resident set size from /proc/self/status.
// Returns 0 on non-Linux systems.
func readProcessRSS() uint64 {
	data, err := os.ReadFile("/proc/self/status")
	if err != nil {
		return 0
	}
	for _, line := range strings.Split(string(data), "\n") {
		if !strings.HasPrefix(line, "VmRSS:") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			return 0
		}
		kb, err := strconv.ParseUint(fields[1], 10, 64)
		if err != nil {
			return 0
		}
		return kb * 1024
	}
	return 0
}

// readProcessCPU reads cumulative user+system CPU time in seconds from
// /proc/self/stat (fields 14 and 15, in clock ticks of 1/100s).
func readProcessCPU() (float64, bool) {
	data, err := os.ReadFile("/proc/self/stat")
	if err != nil {
		return 0, false
	}
	// comm (field 2) may contain spaces; skip past the closing paren.
	idx := strings.LastIndexByte(string(data), ')')
	if idx < 0 {
		return 0, false
	}
	fields := strings.Fields(string(data)[idx+1:])
	if len(fields) < 13 {
		return 0, false
	}
	utime, err1 := strconv.ParseUint(fields[11], 10, 64)
	stime, err2 := strconv.ParseUint(fields[12], 10, 64)
	if err1 != nil || err2 != nil {
		return 0, false
	}
	const clkTck = 100
	return float64(utime+stime) / clkTck, true
}

func countOpenFDs() uint64 {
	entries, err := os.ReadDir("/proc/self/fd")
	if err != nil {
		return 0
	}
	return uint64(len(entries))
}
