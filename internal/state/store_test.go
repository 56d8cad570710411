package state

import (
	"context"
	"errors"
	"testing"
	"time"

	"nextread/internal/db"
	"nextread/internal/domain"
	"nextread/internal/migrate"
)

func newTestStore(t *testing.T) Store {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return Store{DB: conn}
}

func testState() domain.AppState {
	return domain.AppState{
		ID:               "global",
		CompletedBookIDs: []string{},
		SeriesState: map[string]domain.SeriesState{
			"Alpha": {Status: domain.SeriesUnstarted, NextOrder: 1},
		},
		UpdatedAt: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC).Format(time.RFC3339),
	}
}

func TestLoadMissing(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Load(context.Background(), "global"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestInitThenLoad(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	snap, err := s.Init(ctx, testState())
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	if snap.Version != 1 {
		t.Fatalf("version = %d, want 1", snap.Version)
	}
	loaded, err := s.Load(ctx, "global")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.Version != 1 || loaded.State.SeriesState["Alpha"].NextOrder != 1 {
		t.Fatalf("loaded = %+v", loaded)
	}
	if loaded.State.CurrentPickID != "" || loaded.State.PendingDecision != "" {
		t.Fatalf("empty optionals round-tripped as %q/%q", loaded.State.CurrentPickID, loaded.State.PendingDecision)
	}
}

func TestSaveAdvancesVersion(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	snap, err := s.Init(ctx, testState())
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	st := snap.State
	st.CompletedBookIDs = append(st.CompletedBookIDs, "alpha-1")
	st.PendingDecision = "Alpha"
	saved, err := s.Save(ctx, st, snap.Version)
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if saved.Version != 2 {
		t.Fatalf("version = %d, want 2", saved.Version)
	}
	loaded, err := s.Load(ctx, "global")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.State.PendingDecision != "Alpha" || len(loaded.State.CompletedBookIDs) != 1 {
		t.Fatalf("loaded = %+v", loaded.State)
	}
}

func TestStaleVersionConflicts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	snap, err := s.Init(ctx, testState())
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	// Two writers load version 1; the second save must fail.
	first := snap.State
	first.CurrentPickID = "s1"
	if _, err := s.Save(ctx, first, snap.Version); err != nil {
		t.Fatalf("first save: %v", err)
	}
	second := snap.State
	second.CurrentPickID = "s2"
	if _, err := s.Save(ctx, second, snap.Version); !errors.Is(err, ErrVersionConflict) {
		t.Fatalf("err = %v, want ErrVersionConflict", err)
	}
	loaded, err := s.Load(ctx, "global")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.State.CurrentPickID != "s1" {
		t.Fatalf("pick = %q, the losing writer clobbered the winner", loaded.State.CurrentPickID)
	}
}

func TestSaveMissingRow(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Save(context.Background(), testState(), 1); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}
