package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tbxark/intakeagent/simcache"
)

func TestStoreCreateGetClose(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store, _ := newTestStore(t, extractorFor(nil), &stubGenerator{})

	a := store.Create(ctx)
	b := store.Create(ctx)
	if a.ID() == b.ID() {
		t.Fatalf("duplicate session id %s", a.ID())
	}
	if store.Len() != 2 {
		t.Fatalf("len = %d, want 2", store.Len())
	}

	got, err := store.Get(a.ID())
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != a {
		t.Error("get returned a different engine")
	}

	if err := store.Close(a.ID()); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := store.Get(a.ID()); !errors.Is(err, ErrNotFound) {
		t.Errorf("get after close: %v, want ErrNotFound", err)
	}
	if err := store.Close(a.ID()); !errors.Is(err, ErrNotFound) {
		t.Errorf("double close: %v, want ErrNotFound", err)
	}
	if store.Len() != 1 {
		t.Errorf("len = %d, want 1", store.Len())
	}
}

func TestStoreGetUnknown(t *testing.T) {
	t.Parallel()
	store, _ := newTestStore(t, extractorFor(nil), &stubGenerator{})
	if _, err := store.Get("no-such-session"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestStoreCloseIdle(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store, _ := newTestStore(t, extractorFor(nil), &stubGenerator{})

	stale := store.Create(ctx)
	time.Sleep(20 * time.Millisecond)

	if n := store.CloseIdle(time.Hour); n != 0 {
		t.Errorf("evicted %d fresh sessions", n)
	}
	if n := store.CloseIdle(time.Millisecond); n != 1 {
		t.Errorf("evicted %d sessions, want 1", n)
	}
	if _, err := store.Get(stale.ID()); !errors.Is(err, ErrNotFound) {
		t.Errorf("stale session still reachable: %v", err)
	}
}

func TestNewStoreRequiresCollaborators(t *testing.T) {
	t.Parallel()
	cache := simcache.New(stubEmbedder{}, simcache.NewMemoryIndex(), 0.5)

	cases := []Config{
		{Generator: &stubGenerator{}, Cache: cache},
		{Extractor: extractorFor(nil), Cache: cache},
		{Extractor: extractorFor(nil), Generator: &stubGenerator{}},
	}
	for i, conf := range cases {
		if _, err := NewStore(conf); err == nil {
			t.Errorf("case %d: expected error for missing collaborator", i)
		}
	}
}
