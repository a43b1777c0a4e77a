package streams

import (
	"testing"
)

func TestInMemoryStore_GetSet(t *testing.T) {
	store := NewInMemoryStore()

	if _, ok := store.Get("s1"); ok {
		t.Error("expected not found for empty store")
	}

	st := &Stream{Slug: "s1", ObjectID: "iq__1"}
	store.Set(st)

	got, ok := store.Get("s1")
	if !ok || got != st {
		t.Errorf("Get: ok=%v, got %p want %p", ok, got, st)
	}
}

func TestInMemoryStore_Delete_and_Slugs(t *testing.T) {
	store := NewInMemoryStore()
	store.Set(&Stream{Slug: "b"})
	store.Set(&Stream{Slug: "a"})
	store.Set(&Stream{Slug: "c"})
	store.Delete("b")

	slugs := store.Slugs()
	if len(slugs) != 2 || slugs[0] != "a" || slugs[1] != "c" {
		t.Errorf("Slugs = %v", slugs)
	}
}

func TestNewInMemoryRepositoryWithStore(t *testing.T) {
	store := NewInMemoryStore()
	repo := NewInMemoryRepositoryWithStore(store)

	if err := repo.Insert(&Stream{Slug: "s1", ObjectID: "iq__1"}); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if _, ok := store.Get("s1"); !ok {
		t.Error("injected store should contain stream after Insert")
	}
}
