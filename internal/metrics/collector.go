// Package metrics reports import progress together with system load, so a
// slow import can be told apart from a starved machine.
package metrics

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/process"
	"go.uber.org/zap"
)

// Snapshot is one progress and load sample.
type Snapshot struct {
	Records           int64
	RecordsPerSec     float64
	CPUPercent        float64
	ProcessCPUPercent float64
	MemoryUsedGB      float64
	MemoryPercent     float64
	Timestamp         time.Time
}

// Reporter counts processed records and periodically logs throughput with a
// system load sample.
type Reporter struct {
	interval time.Duration
	log      *zap.Logger
	proc     *process.Process

	records atomic.Int64

	mu          sync.RWMutex
	last        *Snapshot
	lastRecords int64
	lastSample  time.Time
}

// NewReporter creates a reporter. Intervals under a second fall back to 30s.
func NewReporter(interval time.Duration, log *zap.Logger) *Reporter {
	if interval < time.Second {
		interval = 30 * time.Second
	}
	proc, _ := process.NewProcess(int32(os.Getpid()))
	return &Reporter{
		interval: interval,
		log:      log,
		proc:     proc,
	}
}

// Add counts n processed records.
func (r *Reporter) Add(n int64) { r.records.Add(n) }

// Last returns the most recent sample, or nil before the first one.
func (r *Reporter) Last() *Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.last
}

// Run samples until the context is cancelled.
func (r *Reporter) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.sample(false)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			r.sample(true)
		}
	}
}

func (r *Reporter) sample(logIt bool) {
	now := time.Now()
	s := &Snapshot{
		Records:   r.records.Load(),
		Timestamp: now,
	}

	if pct, err := cpu.Percent(0, false); err == nil && len(pct) > 0 {
		s.CPUPercent = pct[0]
	}
	if r.proc != nil {
		if pct, err := r.proc.Percent(0); err == nil {
			s.ProcessCPUPercent = pct
		}
	}
	if vmem, err := mem.VirtualMemory(); err == nil {
		s.MemoryUsedGB = float64(vmem.Used) / (1 << 30)
		s.MemoryPercent = vmem.UsedPercent
	}

	r.mu.Lock()
	if !r.lastSample.IsZero() {
		elapsed := now.Sub(r.lastSample).Seconds()
		if elapsed > 0 {
			s.RecordsPerSec = float64(s.Records-r.lastRecords) / elapsed
		}
	}
	r.lastRecords = s.Records
	r.lastSample = now
	r.last = s
	r.mu.Unlock()

	if logIt {
		r.log.Info("Import progress",
			zap.Int64("records", s.Records),
			zap.Float64("records_per_sec", s.RecordsPerSec),
			zap.Float64("cpu_pct", s.CPUPercent),
			zap.Float64("process_cpu_pct", s.ProcessCPUPercent),
			zap.Float64("mem_used_gb", s.MemoryUsedGB),
			zap.Float64("mem_pct", s.MemoryPercent))
	}
}
