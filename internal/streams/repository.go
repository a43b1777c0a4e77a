package streams

import (
	"errors"
	"sync"
	"time"

	"live-stream-manager/internal/fabric"
)

// EventKind says what happened to a stream.
type EventKind string

const (
	EventUpdated EventKind = "updated"
	EventRemoved EventKind = "removed"
)

// Event is published to subscribers after every repository mutation.
// Stream is a copy of the new record and is nil for removals.
type Event struct {
	Kind   EventKind `json:"kind"`
	Slug   string    `json:"slug"`
	Stream *Stream   `json:"stream,omitempty"`
}

const subscriberBuffer = 64

// Repository is the concurrency-safe, observable set of streams. All reads
// return copies; all writes go through the methods below and are published
// to subscribers.
type Repository interface {
	// Get returns a copy of the stream with the given slug.
	Get(slug string) (*Stream, bool)

	// List returns copies of all streams sorted by slug.
	List() []*Stream

	// Insert adds a new stream. It returns ErrExists if the slug is taken.
	Insert(s *Stream) error

	// Put inserts or replaces a stream.
	Put(s *Stream)

	// Update applies fn to the stored stream. It returns ErrNotFound if the
	// slug is unknown. fn must not retain the pointer.
	Update(slug string, fn func(*Stream)) error

	// ApplyStatus records a status query result for slug.
	ApplyStatus(slug string, st *fabric.StreamStatus, at time.Time) error

	// SetPreview records a freshly fetched preview frame URL for slug.
	SetPreview(slug, url string, at time.Time) error

	// Remove deletes the stream. Removing an unknown slug is a no-op.
	Remove(slug string)

	// Subscribe returns a channel of events and a function that ends the
	// subscription. Events are dropped for subscribers that fall behind.
	Subscribe() (<-chan Event, func())

	// ActiveCount returns the number of streams whose status is active.
	ActiveCount() int
}

var (
	// ErrNotFound is returned for an unknown slug.
	ErrNotFound = errors.New("stream not found")

	// ErrExists is returned when inserting a slug that is already present.
	ErrExists = errors.New("stream already exists")
)

// InMemoryRepository is a concurrency-safe implementation of Repository.
// It uses a Store for persistence; by default that is an InMemoryStore.
type InMemoryRepository struct {
	mu    sync.RWMutex
	store Store

	subMu     sync.Mutex
	subs      map[int]chan Event
	nextSubID int
	dropped   uint64
}

// NewInMemoryRepository constructs a new repository with a default in-memory store.
func NewInMemoryRepository() *InMemoryRepository {
	return NewInMemoryRepositoryWithStore(NewInMemoryStore())
}

// NewInMemoryRepositoryWithStore constructs a repository that uses the given Store.
func NewInMemoryRepositoryWithStore(store Store) *InMemoryRepository {
	return &InMemoryRepository{store: store, subs: make(map[int]chan Event)}
}

// Get implements Repository.Get.
func (r *InMemoryRepository) Get(slug string) (*Stream, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	st, ok := r.store.Get(slug)
	if !ok {
		return nil, false
	}
	return st.Clone(), true
}

// List implements Repository.List.
func (r *InMemoryRepository) List() []*Stream {
	r.mu.RLock()
	defer r.mu.RUnlock()
	slugs := r.store.Slugs()
	out := make([]*Stream, 0, len(slugs))
	for _, slug := range slugs {
		if st, ok := r.store.Get(slug); ok {
			out = append(out, st.Clone())
		}
	}
	return out
}

// Insert implements Repository.Insert.
func (r *InMemoryRepository) Insert(s *Stream) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.store.Get(s.Slug); exists {
		return ErrExists
	}
	r.setLocked(s.Clone())
	return nil
}

// Put implements Repository.Put.
func (r *InMemoryRepository) Put(s *Stream) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.setLocked(s.Clone())
}

// Update implements Repository.Update.
func (r *InMemoryRepository) Update(slug string, fn func(*Stream)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.store.Get(slug)
	if !ok {
		return ErrNotFound
	}
	next := st.Clone()
	fn(next)
	next.Slug = slug
	r.setLocked(next)
	return nil
}

// ApplyStatus implements Repository.ApplyStatus.
func (r *InMemoryRepository) ApplyStatus(slug string, st *fabric.StreamStatus, at time.Time) error {
	return r.Update(slug, func(s *Stream) {
		s.Status = Status(st.State)
		s.Quality = st.Quality
		s.Warnings = append([]string(nil), st.Warnings...)
		if st.RecordingPeriod != nil {
			rp := *st.RecordingPeriod
			s.RecordingPeriod = &rp
		} else {
			s.RecordingPeriod = nil
		}
		s.PlayoutURLs = nil
		if len(st.PlayoutURLs) > 0 {
			s.PlayoutURLs = make(map[string]string, len(st.PlayoutURLs))
			for k, v := range st.PlayoutURLs {
				s.PlayoutURLs[k] = v
			}
		}
		s.StatusCheckedAt = at
	})
}

// SetPreview implements Repository.SetPreview.
func (r *InMemoryRepository) SetPreview(slug, url string, at time.Time) error {
	return r.Update(slug, func(s *Stream) {
		s.PreviewURL = url
		s.PreviewFetchedAt = at
	})
}

// Remove implements Repository.Remove.
func (r *InMemoryRepository) Remove(slug string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.store.Get(slug); !ok {
		return
	}
	r.store.Delete(slug)
	r.publish(Event{Kind: EventRemoved, Slug: slug})
}

// ActiveCount implements Repository.ActiveCount.
func (r *InMemoryRepository) ActiveCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, slug := range r.store.Slugs() {
		if st, ok := r.store.Get(slug); ok && st.Status.Active() {
			n++
		}
	}
	return n
}

// Subscribe implements Repository.Subscribe.
func (r *InMemoryRepository) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)

	r.subMu.Lock()
	id := r.nextSubID
	r.nextSubID++
	r.subs[id] = ch
	r.subMu.Unlock()

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			r.subMu.Lock()
			delete(r.subs, id)
			r.subMu.Unlock()
			close(ch)
		})
	}
	return ch, unsubscribe
}

// Dropped returns how many events were discarded for slow subscribers.
func (r *InMemoryRepository) Dropped() uint64 {
	r.subMu.Lock()
	defer r.subMu.Unlock()
	return r.dropped
}

// setLocked stores st and publishes an update. Caller must hold r.mu in write mode.
func (r *InMemoryRepository) setLocked(st *Stream) {
	r.store.Set(st)
	r.publish(Event{Kind: EventUpdated, Slug: st.Slug, Stream: st.Clone()})
}

// publish never blocks; events for a full subscriber are dropped.
func (r *InMemoryRepository) publish(ev Event) {
	r.subMu.Lock()
	defer r.subMu.Unlock()
	for _, ch := range r.subs {
		select {
		case ch <- ev:
		default:
			r.dropped++
		}
	}
}
