// Package telemetry samples resource usage of the encoder processes the
// relay supervises and publishes the totals as metrics gauges.
package telemetry

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"bitriver-relay/internal/observability/metrics"
)

// DefaultInterval is how often the sampler polls encoder processes.
const DefaultInterval = 15 * time.Second

// PIDSource reports the operating system process IDs currently running
// encoders. The relay session registry satisfies this.
type PIDSource interface {
	ActivePIDs() []int
}

type Config struct {
	Source   PIDSource
	Interval time.Duration
	Logger   *slog.Logger
	Metrics  *metrics.Recorder
}

// Sampler periodically aggregates CPU and resident memory across all live
// encoder processes. CPU percentages are deltas between polls, so per-process
// handles are kept between rounds.
type Sampler struct {
	source   PIDSource
	interval time.Duration
	logger   *slog.Logger
	metrics  *metrics.Recorder

	procs map[int32]*process.Process
}

func New(cfg Config) (*Sampler, error) {
	if cfg.Source == nil {
		return nil, errors.New("telemetry: pid source is required")
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	recorder := cfg.Metrics
	if recorder == nil {
		recorder = metrics.Default()
	}
	return &Sampler{
		source:   cfg.Source,
		interval: interval,
		logger:   logger.With("component", "telemetry"),
		metrics:  recorder,
		procs:    make(map[int32]*process.Process),
	}, nil
}

// Run polls until ctx is cancelled.
func (s *Sampler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.sample()
		}
	}
}

func (s *Sampler) sample() {
	pids := s.source.ActivePIDs()
	seen := make(map[int32]struct{}, len(pids))

	var totalCPU float64
	var totalRSS uint64
	for _, pid := range pids {
		if pid <= 0 {
			continue
		}
		id := int32(pid)
		seen[id] = struct{}{}
		proc, ok := s.procs[id]
		if !ok {
			var err error
			proc, err = process.NewProcess(id)
			if err != nil {
				s.logger.Debug("encoder process not inspectable", "pid", pid, "error", err)
				continue
			}
			s.procs[id] = proc
		}
		cpu, err := proc.Percent(0)
		if err != nil {
			s.logger.Debug("encoder cpu sample failed", "pid", pid, "error", err)
			delete(s.procs, id)
			continue
		}
		totalCPU += cpu
		mem, err := proc.MemoryInfo()
		if err != nil {
			s.logger.Debug("encoder memory sample failed", "pid", pid, "error", err)
			continue
		}
		if mem != nil {
			totalRSS += mem.RSS
		}
	}

	// Drop handles for encoders that exited so the map does not grow with
	// session churn.
	for id := range s.procs {
		if _, ok := seen[id]; !ok {
			delete(s.procs, id)
		}
	}

	s.metrics.SetEncoderUsage(totalCPU, totalRSS)
}
