// Package platform samples host CPU usage for connection admission control.
package platform

import (
	"context"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
)

// CPUSampler reports recent CPU utilization as a percentage of total
// capacity, refreshed on a background interval so hot paths (connection
// admission) never block on a syscall.
type CPUSampler struct {
	mu      sync.RWMutex
	percent float64

	interval time.Duration
	stop     chan struct{}
	once     sync.Once
}

// NewCPUSampler creates a sampler that refreshes every interval. Call Start
// to begin background sampling; the zero-value reading is 0% until the
// first sample completes.
func NewCPUSampler(interval time.Duration) *CPUSampler {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &CPUSampler{interval: interval, stop: make(chan struct{})}
}

// Start runs the sampling loop until ctx is cancelled or Stop is called.
func (s *CPUSampler) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stop:
				return
			case <-ticker.C:
				s.sample()
			}
		}
	}()
}

func (s *CPUSampler) sample() {
	percents, err := cpu.Percent(0, false)
	if err != nil || len(percents) == 0 {
		return
	}
	s.mu.Lock()
	s.percent = percents[0]
	s.mu.Unlock()
}

// Percent returns the most recently sampled CPU utilization, 0-100 (and
// potentially above 100 on hosts with throttling/overcommit).
func (s *CPUSampler) Percent() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.percent
}

// Stop halts background sampling. Safe to call multiple times.
func (s *CPUSampler) Stop() {
	s.once.Do(func() { close(s.stop) })
}
