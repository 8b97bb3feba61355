package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newSessionStoreTest(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		rdb.Close()
		mr.Close()
	})
	return NewStore(rdb, "ags", time.Hour), mr
}

func TestNewAndOpen(t *testing.T) {
	store, _ := newSessionStoreTest(t)
	ctx := context.Background()

	h, err := store.New(ctx)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := h.Set(ctx, "two_factor_verified", "false"); err != nil {
		t.Fatalf("Set: %v", err)
	}

	again, err := store.Open(ctx, h.ID())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	v, ok, err := again.Get(ctx, "two_factor_verified")
	if err != nil || !ok || v != "false" {
		t.Fatalf("Get = %q %v %v", v, ok, err)
	}

	if _, ok, _ := again.Get(ctx, "missing"); ok {
		t.Fatal("missing field must report ok=false")
	}
}

func TestOpenUnknownOrExpired(t *testing.T) {
	store, mr := newSessionStoreTest(t)
	ctx := context.Background()

	if _, err := store.Open(ctx, "not-a-session-id"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for malformed id, got %v", err)
	}

	h, err := store.New(ctx)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	mr.FastForward(2 * time.Hour)
	if _, err := store.Open(ctx, h.ID()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after ttl, got %v", err)
	}
}

func TestDestroyIdempotentAndUnlinks(t *testing.T) {
	store, mr := newSessionStoreTest(t)
	ctx := context.Background()

	h, err := store.New(ctx)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := h.Set(ctx, FieldAccountID, "acct-1"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if n, _ := store.CountForAccount(ctx, "acct-1"); n != 1 {
		t.Fatalf("expected indexed session, got %d", n)
	}

	if err := h.Destroy(ctx); err != nil {
		t.Fatalf("Destroy: %v", err)
	}
	if err := h.Destroy(ctx); err != nil {
		t.Fatalf("second Destroy: %v", err)
	}
	if mr.Exists("ags:s:" + h.ID()) {
		t.Fatal("session hash must be deleted")
	}
	if n, _ := store.CountForAccount(ctx, "acct-1"); n != 0 {
		t.Fatalf("expected empty index, got %d", n)
	}
	if err := h.Set(ctx, "x", "y"); !errors.Is(err, ErrDestroyed) {
		t.Fatalf("expected ErrDestroyed, got %v", err)
	}
}

func TestDestroyAllForAccount(t *testing.T) {
	store, _ := newSessionStoreTest(t)
	ctx := context.Background()

	var handles []*Handle
	for i := 0; i < 3; i++ {
		h, err := store.New(ctx)
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		if err := h.Set(ctx, FieldAccountID, "acct-1"); err != nil {
			t.Fatalf("Set: %v", err)
		}
		handles = append(handles, h)
	}
	other, _ := store.New(ctx)
	_ = other.Set(ctx, FieldAccountID, "acct-2")

	removed, err := store.DestroyAllForAccount(ctx, "acct-1")
	if err != nil {
		t.Fatalf("DestroyAllForAccount: %v", err)
	}
	if removed != 3 {
		t.Fatalf("expected 3 removed, got %d", removed)
	}
	for _, h := range handles {
		if _, err := store.Open(ctx, h.ID()); !errors.Is(err, ErrNotFound) {
			t.Fatalf("session %s should be gone, got %v", h.ID(), err)
		}
	}
	if _, err := store.Open(ctx, other.ID()); err != nil {
		t.Fatalf("other account's session must survive: %v", err)
	}
}

func TestAccountIndexSlidesWithSession(t *testing.T) {
	store, mr := newSessionStoreTest(t)
	ctx := context.Background()

	h, err := store.New(ctx)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := h.Set(ctx, FieldAccountID, "acct-1"); err != nil {
		t.Fatalf("Set: %v", err)
	}

	// three reopens 40 minutes apart keep the session alive well past one
	// idle TTL from the moment it was bound
	for i := 0; i < 3; i++ {
		mr.FastForward(40 * time.Minute)
		if _, err := store.Open(ctx, h.ID()); err != nil {
			t.Fatalf("Open %d: %v", i, err)
		}
	}
	mr.FastForward(40 * time.Minute)
	if err := h.Set(ctx, "two_factor_verified", "true"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	mr.FastForward(40 * time.Minute)

	if n, _ := store.CountForAccount(ctx, "acct-1"); n != 1 {
		t.Fatalf("expected the live session to stay indexed, got %d", n)
	}
	removed, err := store.DestroyAllForAccount(ctx, "acct-1")
	if err != nil || removed != 1 {
		t.Fatalf("DestroyAllForAccount = %d, %v", removed, err)
	}
	if _, err := store.Open(ctx, h.ID()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected revoked session, got %v", err)
	}
}

func TestRebindMovesSessionBetweenIndexes(t *testing.T) {
	store, _ := newSessionStoreTest(t)
	ctx := context.Background()

	h, _ := store.New(ctx)
	if err := h.Set(ctx, FieldAccountID, "acct-1"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := h.Set(ctx, FieldAccountID, "acct-2"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if n, _ := store.CountForAccount(ctx, "acct-1"); n != 0 {
		t.Fatalf("old index should be empty, got %d", n)
	}
	if n, _ := store.CountForAccount(ctx, "acct-2"); n != 1 {
		t.Fatalf("new index should hold the session, got %d", n)
	}
}
