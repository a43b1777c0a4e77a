package poller

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"live-stream-manager/internal/scheduler"
	"live-stream-manager/internal/streams"
)

const (
	// PreviewValidity is how long a fetched preview frame counts as fresh.
	PreviewValidity = 60 * time.Second

	// previewRepeat is the base delay between refreshes of one preview.
	previewRepeat = 60 * time.Second
)

// PreviewFetcher returns a current preview frame URL for a stream.
// *streams.Service satisfies it.
type PreviewFetcher interface {
	FetchPreview(ctx context.Context, slug string) (string, error)
}

// PreviewItem is a visible stream tile and its position in the list.
type PreviewItem struct {
	Slug  string
	Index int
}

type previewTask struct {
	index int
	token uint64
}

// PreviewRefresher keeps preview frames of running streams fresh. The first
// fetch for the tile at position i fires after scheduler.Stagger(i) so that
// many tiles appearing together do not hit the fabric at once; later
// fetches follow every 60s + Stagger(i).
type PreviewRefresher struct {
	repo  streams.Repository
	fetch PreviewFetcher
	sched *scheduler.Scheduler
	clock scheduler.Clock
	log   *slog.Logger

	mu      sync.Mutex
	enabled bool
	tasks   map[string]*previewTask
	nextTok uint64
}

// NewPreviewRefresher returns an enabled refresher with nothing scheduled.
func NewPreviewRefresher(repo streams.Repository, fetch PreviewFetcher, clock scheduler.Clock, log *slog.Logger) *PreviewRefresher {
	if clock == nil {
		clock = scheduler.RealClock{}
	}
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &PreviewRefresher{
		repo:    repo,
		fetch:   fetch,
		sched:   scheduler.New(clock),
		clock:   clock,
		log:     log,
		enabled: true,
		tasks:   make(map[string]*previewTask),
	}
}

// Sync reconciles timers with the visible items. Items that disappeared,
// changed position, or are no longer running lose their timers; running
// items without a timer get one.
func (p *PreviewRefresher) Sync(ctx context.Context, items []PreviewItem) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.enabled {
		return
	}

	want := make(map[string]int, len(items))
	for _, it := range items {
		want[it.Slug] = it.Index
	}
	for slug, task := range p.tasks {
		if idx, ok := want[slug]; !ok || idx != task.index {
			p.cancelLocked(slug)
		}
	}

	now := p.clock.Now()
	for _, it := range items {
		st, ok := p.repo.Get(it.Slug)
		if !ok || st.Status != streams.StatusRunning {
			p.cancelLocked(it.Slug)
			continue
		}
		if _, scheduled := p.tasks[it.Slug]; scheduled {
			continue
		}
		delay := scheduler.Stagger(it.Index)
		if age := now.Sub(st.PreviewFetchedAt); st.PreviewURL != "" && age < PreviewValidity {
			delay += PreviewValidity - age
		}
		p.scheduleLocked(ctx, it.Slug, it.Index, delay)
	}
}

// SyncAll syncs against the full stream list in slug order.
func (p *PreviewRefresher) SyncAll(ctx context.Context) {
	list := p.repo.List()
	items := make([]PreviewItem, len(list))
	for i, st := range list {
		items[i] = PreviewItem{Slug: st.Slug, Index: i}
	}
	p.Sync(ctx, items)
}

// Run syncs on every repository event until ctx is done, then stops.
func (p *PreviewRefresher) Run(ctx context.Context) {
	events, unsubscribe := p.repo.Subscribe()
	defer unsubscribe()
	defer p.Stop()

	p.SyncAll(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-events:
			if !ok {
				return
			}
			p.SyncAll(ctx)
		}
	}
}

// SetEnabled turns previews on or off. Turning them off cancels every timer.
func (p *PreviewRefresher) SetEnabled(on bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.enabled = on
	if !on {
		p.cancelAllLocked()
	}
}

// Enabled reports whether previews are on.
func (p *PreviewRefresher) Enabled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.enabled
}

// Stop cancels every timer. Sync may schedule again afterwards.
func (p *PreviewRefresher) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cancelAllLocked()
}

// Scheduled returns the slugs that have a pending fetch.
func (p *PreviewRefresher) Scheduled() []string {
	return p.sched.Keys()
}

func (p *PreviewRefresher) scheduleLocked(ctx context.Context, slug string, index int, delay time.Duration) {
	p.nextTok++
	task := &previewTask{index: index, token: p.nextTok}
	p.tasks[slug] = task
	p.sched.After(slug, delay, func() { p.run(ctx, slug, task.token) })
}

func (p *PreviewRefresher) run(ctx context.Context, slug string, token uint64) {
	if ctx.Err() != nil {
		return
	}
	url, err := p.fetch.FetchPreview(ctx, slug)

	p.mu.Lock()
	defer p.mu.Unlock()
	task, ok := p.tasks[slug]
	if !ok || task.token != token || !p.enabled {
		return
	}
	if err != nil {
		p.log.Warn("preview fetch failed", slog.String("slug", slug), slog.String("error", err.Error()))
	} else if err := p.repo.SetPreview(slug, url, p.clock.Now()); err != nil {
		p.log.Debug("preview for removed stream dropped", slog.String("slug", slug))
		delete(p.tasks, slug)
		return
	}

	st, ok := p.repo.Get(slug)
	if !ok || st.Status != streams.StatusRunning {
		delete(p.tasks, slug)
		return
	}
	p.scheduleLocked(ctx, slug, task.index, previewRepeat+scheduler.Stagger(task.index))
}

func (p *PreviewRefresher) cancelLocked(slug string) {
	p.sched.Cancel(slug)
	delete(p.tasks, slug)
}

func (p *PreviewRefresher) cancelAllLocked() {
	p.sched.CancelAll()
	for slug := range p.tasks {
		delete(p.tasks, slug)
	}
}
