// Package poller keeps the stream repository's live fields current: a
// global status refresh on a fixed interval and staggered per-stream
// preview refreshes.
package poller

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"live-stream-manager/internal/fabric"
	"live-stream-manager/internal/scheduler"
)

// DefaultStatusInterval is the period of the bulk status refresh.
const DefaultStatusInterval = 60 * time.Second

const statusKey = "status"

// StatusSource fetches and applies stream statuses. *streams.Service
// satisfies it.
type StatusSource interface {
	FetchStatuses(ctx context.Context) map[string]*fabric.StreamStatus
	ApplyStatuses(results map[string]*fabric.StreamStatus)
}

// StatusPoller refreshes all statuses once on Start and then every interval.
// After Stop returns no further repository writes come from the poller;
// results of fetches still in flight are discarded.
type StatusPoller struct {
	src      StatusSource
	sched    *scheduler.Scheduler
	interval time.Duration
	log      *slog.Logger

	mu      sync.Mutex
	running bool
	gen     uint64
}

// NewStatusPoller returns a stopped poller. interval <= 0 uses
// DefaultStatusInterval; a nil clock uses the real clock.
func NewStatusPoller(src StatusSource, clock scheduler.Clock, interval time.Duration, log *slog.Logger) *StatusPoller {
	if interval <= 0 {
		interval = DefaultStatusInterval
	}
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &StatusPoller{
		src:      src,
		sched:    scheduler.New(clock),
		interval: interval,
		log:      log,
	}
}

// Start schedules an immediate refresh followed by the interval. Calling
// Start on a running poller does nothing.
func (p *StatusPoller) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return
	}
	p.running = true
	p.gen++
	gen := p.gen

	p.sched.After(statusKey, 0, func() {
		p.refresh(ctx, gen)

		p.mu.Lock()
		defer p.mu.Unlock()
		if p.current(gen) {
			p.sched.Every(statusKey, p.interval, func() { p.refresh(ctx, gen) })
		}
	})
	p.log.Info("status poller started", slog.Duration("interval", p.interval))
}

// Stop clears the interval.
func (p *StatusPoller) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running {
		return
	}
	p.running = false
	p.gen++
	p.sched.Cancel(statusKey)
	p.log.Info("status poller stopped")
}

// Running reports whether the poller is started.
func (p *StatusPoller) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *StatusPoller) refresh(ctx context.Context, gen uint64) {
	if ctx.Err() != nil {
		return
	}
	results := p.src.FetchStatuses(ctx)

	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.current(gen) {
		p.log.Debug("discarding status results from stopped poller", slog.Int("count", len(results)))
		return
	}
	p.src.ApplyStatuses(results)
}

// current reports whether gen is the live run. Caller must hold p.mu.
func (p *StatusPoller) current(gen uint64) bool {
	return p.running && p.gen == gen
}
