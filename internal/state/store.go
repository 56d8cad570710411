// Package state persists the single shared club snapshot. Members poll and
// race against the same row, so every save carries the version the caller
// loaded; a stale version fails with ErrVersionConflict and the caller re-runs
// its operation on a fresh snapshot.
package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"nextread/internal/domain"
)

var (
	ErrNotFound        = errors.New("app state not found")
	ErrVersionConflict = errors.New("app state version conflict")
)

type Store struct {
	DB *sql.DB
}

// Snapshot pairs the in-memory state with the version token it was loaded at.
type Snapshot struct {
	State   domain.AppState
	Version int64
}

// row is the persisted shape of the snapshot document.
type row struct {
	ID               string                        `json:"id"`
	CompletedBookIDs []string                      `json:"completed_book_ids"`
	SeriesState      map[string]domain.SeriesState `json:"series_state"`
	CurrentPickID    *string                       `json:"current_pick_id"`
	PendingDecision  *string                       `json:"pending_decision"`
}

func toRow(st domain.AppState) row {
	r := row{
		ID:               st.ID,
		CompletedBookIDs: st.CompletedBookIDs,
		SeriesState:      st.SeriesState,
	}
	if r.CompletedBookIDs == nil {
		r.CompletedBookIDs = []string{}
	}
	if r.SeriesState == nil {
		r.SeriesState = map[string]domain.SeriesState{}
	}
	if st.CurrentPickID != "" {
		r.CurrentPickID = &st.CurrentPickID
	}
	if st.PendingDecision != "" {
		r.PendingDecision = &st.PendingDecision
	}
	return r
}

func fromRow(r row, updatedAt string) domain.AppState {
	st := domain.AppState{
		ID:               r.ID,
		CompletedBookIDs: r.CompletedBookIDs,
		SeriesState:      r.SeriesState,
		UpdatedAt:        updatedAt,
	}
	if st.CompletedBookIDs == nil {
		st.CompletedBookIDs = []string{}
	}
	if st.SeriesState == nil {
		st.SeriesState = map[string]domain.SeriesState{}
	}
	if r.CurrentPickID != nil {
		st.CurrentPickID = *r.CurrentPickID
	}
	if r.PendingDecision != nil {
		st.PendingDecision = *r.PendingDecision
	}
	return st
}

// Load fetches the snapshot by its fixed id.
func (s Store) Load(ctx context.Context, id string) (Snapshot, error) {
	var (
		payload   string
		version   int64
		updatedAt string
	)
	err := s.DB.QueryRowContext(ctx, `SELECT snapshot_json, version, updated_at FROM app_state WHERE id=?`, id).
		Scan(&payload, &version, &updatedAt)
	if err == sql.ErrNoRows {
		return Snapshot{}, ErrNotFound
	}
	if err != nil {
		return Snapshot{}, err
	}
	var r row
	if err := json.Unmarshal([]byte(payload), &r); err != nil {
		return Snapshot{}, fmt.Errorf("decode app state: %w", err)
	}
	return Snapshot{State: fromRow(r, updatedAt), Version: version}, nil
}

// Init inserts the initial snapshot. It fails if a snapshot already exists.
func (s Store) Init(ctx context.Context, st domain.AppState) (Snapshot, error) {
	payload, err := json.Marshal(toRow(st))
	if err != nil {
		return Snapshot{}, err
	}
	if st.UpdatedAt == "" {
		st.UpdatedAt = time.Now().UTC().Format(time.RFC3339)
	}
	if _, err := s.DB.ExecContext(ctx, `INSERT INTO app_state(id,snapshot_json,version,updated_at) VALUES (?,?,1,?)`,
		st.ID, string(payload), st.UpdatedAt); err != nil {
		return Snapshot{}, fmt.Errorf("insert app state: %w", err)
	}
	return Snapshot{State: st, Version: 1}, nil
}

// SaveTx writes the snapshot inside the caller's transaction, guarded by the
// version the caller loaded. The stored version advances by one.
func (s Store) SaveTx(ctx context.Context, tx *sql.Tx, st domain.AppState, version int64) (Snapshot, error) {
	payload, err := json.Marshal(toRow(st))
	if err != nil {
		return Snapshot{}, err
	}
	res, err := tx.ExecContext(ctx,
		`UPDATE app_state SET snapshot_json=?, version=version+1, updated_at=? WHERE id=? AND version=?`,
		string(payload), st.UpdatedAt, st.ID, version)
	if err != nil {
		return Snapshot{}, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return Snapshot{}, err
	}
	if affected == 0 {
		var exists int
		if err := tx.QueryRowContext(ctx, `SELECT 1 FROM app_state WHERE id=?`, st.ID).Scan(&exists); err == sql.ErrNoRows {
			return Snapshot{}, ErrNotFound
		} else if err != nil {
			return Snapshot{}, err
		}
		return Snapshot{}, ErrVersionConflict
	}
	return Snapshot{State: st, Version: version + 1}, nil
}

// Save is SaveTx in its own transaction.
func (s Store) Save(ctx context.Context, st domain.AppState, version int64) (Snapshot, error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return Snapshot{}, err
	}
	defer tx.Rollback()
	snap, err := s.SaveTx(ctx, tx, st, version)
	if err != nil {
		return Snapshot{}, err
	}
	if err := tx.Commit(); err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}
