package streams

import "sort"

// Store is the persistence abstraction for stream records.
// The Repository uses Store for all reads and writes and guards it with its
// own lock, so implementations need not be concurrency-safe.
type Store interface {
	Get(slug string) (*Stream, bool)
	Set(s *Stream)
	Delete(slug string)
	Slugs() []string
}

// InMemoryStore is an in-memory implementation of Store.
type InMemoryStore struct {
	streams map[string]*Stream
}

// NewInMemoryStore returns a new empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		streams: make(map[string]*Stream),
	}
}

// Get implements Store.Get.
func (s *InMemoryStore) Get(slug string) (*Stream, bool) {
	st, ok := s.streams[slug]
	return st, ok
}

// Set implements Store.Set.
func (s *InMemoryStore) Set(st *Stream) {
	s.streams[st.Slug] = st
}

// Delete implements Store.Delete.
func (s *InMemoryStore) Delete(slug string) {
	delete(s.streams, slug)
}

// Slugs implements Store.Slugs. The result is sorted.
func (s *InMemoryStore) Slugs() []string {
	slugs := make([]string, 0, len(s.streams))
	for slug := range s.streams {
		slugs = append(slugs, slug)
	}
	sort.Strings(slugs)
	return slugs
}
