// Package scheduler runs keyed, cancellable delayed and repeating tasks on an
// injectable Clock.
package scheduler

import (
	"sort"
	"sync"
	"time"
)

const (
	staggerBase = 200 * time.Millisecond
	staggerStep = 500 * time.Millisecond
	staggerMax  = 10 * time.Second
)

// Stagger returns the start delay for the item at position index in a list:
// min(200ms + 500ms*index, 10s). Negative indexes are treated as 0.
func Stagger(index int) time.Duration {
	if index < 0 {
		index = 0
	}
	d := staggerBase + time.Duration(index)*staggerStep
	if d > staggerMax || d < 0 {
		return staggerMax
	}
	return d
}

// Scheduler holds at most one pending task per key. Scheduling a key that
// already has a task replaces it; a replaced or cancelled task never runs.
type Scheduler struct {
	clock Clock

	mu    sync.Mutex
	tasks map[string]*task
}

type task struct {
	timer Timer
}

// New returns a Scheduler driven by clock. A nil clock means RealClock.
func New(clock Clock) *Scheduler {
	if clock == nil {
		clock = RealClock{}
	}
	return &Scheduler{clock: clock, tasks: make(map[string]*task)}
}

// After runs fn once, d from now, unless the key is cancelled or rescheduled first.
func (s *Scheduler) After(key string, d time.Duration, fn func()) {
	s.schedule(key, d, 0, fn)
}

// Every runs fn after interval and then again every interval until cancelled.
// The next run is armed only after fn returns.
func (s *Scheduler) Every(key string, interval time.Duration, fn func()) {
	s.schedule(key, interval, interval, fn)
}

// Cancel stops the task for key. It reports whether a task was pending.
func (s *Scheduler) Cancel(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[key]
	if !ok {
		return false
	}
	t.timer.Stop()
	delete(s.tasks, key)
	return true
}

// CancelAll stops every pending task.
func (s *Scheduler) CancelAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, t := range s.tasks {
		t.timer.Stop()
		delete(s.tasks, key)
	}
}

// Pending reports whether key has a scheduled task.
func (s *Scheduler) Pending(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.tasks[key]
	return ok
}

// Keys returns the keys with scheduled tasks, sorted.
func (s *Scheduler) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.tasks))
	for k := range s.tasks {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (s *Scheduler) schedule(key string, delay, repeat time.Duration, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.tasks[key]; ok {
		old.timer.Stop()
	}
	t := &task{}
	s.tasks[key] = t
	s.armLocked(key, t, delay, repeat, fn)
}

// armLocked starts t's timer. Caller must hold s.mu.
func (s *Scheduler) armLocked(key string, t *task, delay, repeat time.Duration, fn func()) {
	t.timer = s.clock.AfterFunc(delay, func() {
		s.mu.Lock()
		if s.tasks[key] != t {
			s.mu.Unlock()
			return
		}
		if repeat <= 0 {
			delete(s.tasks, key)
		}
		s.mu.Unlock()

		fn()

		if repeat > 0 {
			s.mu.Lock()
			if s.tasks[key] == t {
				s.armLocked(key, t, repeat, repeat, fn)
			}
			s.mu.Unlock()
		}
	})
}
