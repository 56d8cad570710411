package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"nextread/internal/catalog"
	"nextread/internal/config"
	"nextread/internal/domain"
	"nextread/internal/events"
	"nextread/internal/picker"
	"nextread/internal/repo"
	"nextread/internal/state"
)

// Errors for caller misuse. The pure picker stays permissive; the engine is
// where transitions are enforced before anything is persisted.
var (
	ErrUnknownBook         = errors.New("unknown book")
	ErrAlreadyCompleted    = errors.New("book already completed")
	ErrNoPendingDecision   = errors.New("no decision pending for this series")
	ErrInvalidDecision     = errors.New("decision must be continue, pause or drop")
	ErrInvalidTransition   = errors.New("invalid series transition")
	ErrUnknownSeries       = errors.New("unknown series")
	ErrInvalidPasscode     = errors.New("invalid passcode")
	ErrDuplicateSuggestion = errors.New("book already suggested")
	ErrNotOwner            = errors.New("only the suggesting member may delete")
)

// saveRetries bounds the optimistic-concurrency retry loop.
const saveRetries = 3

type Engine struct {
	DB      *sql.DB
	Repo    repo.Repo
	Store   state.Store
	Events  events.Writer
	Config  *config.Config
	Catalog []domain.Book
	Now     func() time.Time
	Rand    *rand.Rand
}

func New(db *sql.DB, cfg *config.Config, books []domain.Book) Engine {
	return Engine{
		DB:      db,
		Repo:    repo.Repo{DB: db},
		Store:   state.Store{DB: db},
		Events:  events.Writer{DB: db},
		Config:  cfg,
		Catalog: books,
		Now:     time.Now,
		Rand:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) rng() *rand.Rand {
	if e.Rand != nil {
		return e.Rand
	}
	return rand.New(rand.NewSource(time.Now().UnixNano()))
}

// EnsureState loads the shared snapshot, creating the initial one on first
// use and backfilling series newly added to the catalog (persisted entries
// win on merge).
func (e Engine) EnsureState(ctx context.Context) (state.Snapshot, error) {
	snap, err := e.Store.Load(ctx, picker.StateID)
	if errors.Is(err, state.ErrNotFound) {
		initial := picker.NewInitialState(e.Catalog, e.now())
		snap, err = e.Store.Init(ctx, initial)
		if err != nil {
			return state.Snapshot{}, fmt.Errorf("init app state: %w", err)
		}
		if err := e.appendEvent(ctx, "state.initialized", "state", picker.StateID, "system", events.EventPayload{}); err != nil {
			return state.Snapshot{}, err
		}
		return snap, nil
	}
	if err != nil {
		return state.Snapshot{}, err
	}
	snap.State.SeriesState = picker.MergeSeriesState(e.Catalog, snap.State.SeriesState)
	return snap, nil
}

// State returns the current snapshot and its derived mode.
func (e Engine) State(ctx context.Context) (domain.AppState, domain.ModeInfo, error) {
	snap, err := e.EnsureState(ctx)
	if err != nil {
		return domain.AppState{}, domain.ModeInfo{}, err
	}
	return snap.State, picker.Mode(snap.State), nil
}

type stateEvent struct {
	Type     string
	EntityID string
	Payload  events.EventPayload
}

// updateState runs apply against a fresh snapshot and persists the result
// together with its audit events, retrying on version conflicts. apply may
// return a nil event list to signal nothing to record.
func (e Engine) updateState(ctx context.Context, actorID string, apply func(domain.AppState) (domain.AppState, []stateEvent, error)) (domain.AppState, error) {
	var lastErr error
	for attempt := 0; attempt < saveRetries; attempt++ {
		snap, err := e.EnsureState(ctx)
		if err != nil {
			return domain.AppState{}, err
		}
		next, evts, err := apply(snap.State)
		if err != nil {
			return snap.State, err
		}
		tx, err := e.DB.BeginTx(ctx, nil)
		if err != nil {
			return domain.AppState{}, err
		}
		saved, err := e.Store.SaveTx(ctx, tx, next, snap.Version)
		if errors.Is(err, state.ErrVersionConflict) {
			tx.Rollback()
			lastErr = err
			continue
		}
		if err != nil {
			tx.Rollback()
			return domain.AppState{}, err
		}
		for _, evt := range evts {
			if err := e.Events.Append(ctx, tx, evt.Type, "state", evt.EntityID, actorID, evt.Payload); err != nil {
				tx.Rollback()
				return domain.AppState{}, err
			}
		}
		if err := tx.Commit(); err != nil {
			return domain.AppState{}, err
		}
		return saved.State, nil
	}
	return domain.AppState{}, fmt.Errorf("save app state: %w", lastErr)
}

// Draw picks the next book and records it as the current pick.
func (e Engine) Draw(ctx context.Context, actorID string) (domain.PickResult, error) {
	var result domain.PickResult
	_, err := e.updateState(ctx, actorID, func(st domain.AppState) (domain.AppState, []stateEvent, error) {
		result = picker.PickNextBook(e.Catalog, st, e.rng())
		if result.Book == nil {
			return st, nil, nil
		}
		next := st
		next.CurrentPickID = result.Book.ID
		next.UpdatedAt = e.now().UTC().Format(time.RFC3339)
		return next, []stateEvent{{
			Type:     "pick.drawn",
			EntityID: result.Book.ID,
			Payload: events.EventPayload{
				"title":          result.Book.Title,
				"author":         result.Book.Author,
				"forced":         result.Forced,
				"reason":         result.Reason,
				"eligible_count": result.EligibleCount,
			},
		}}, nil
	})
	return result, err
}

// Complete marks a book read. Unknown and repeated ids are rejected here even
// though the underlying picker treats them as no-ops.
func (e Engine) Complete(ctx context.Context, bookID, actorID string) (domain.AppState, error) {
	book, ok := catalog.FindBook(e.Catalog, bookID)
	if !ok {
		return domain.AppState{}, fmt.Errorf("%w: %s", ErrUnknownBook, bookID)
	}
	return e.updateState(ctx, actorID, func(st domain.AppState) (domain.AppState, []stateEvent, error) {
		for _, id := range st.CompletedBookIDs {
			if id == bookID {
				return st, nil, fmt.Errorf("%w: %s", ErrAlreadyCompleted, bookID)
			}
		}
		next := picker.CompleteBook(e.Catalog, st, bookID, e.now())

		evts := []stateEvent{{
			Type:     "book.completed",
			EntityID: bookID,
			Payload: events.EventPayload{
				"title":            book.Title,
				"total_completed":  len(next.CompletedBookIDs),
				"pending_decision": next.PendingDecision,
			},
		}}
		if book.Series != nil {
			before, after := st.SeriesState[book.Series.Name], next.SeriesState[book.Series.Name]
			if before.Status == domain.SeriesActive && after.Status == domain.SeriesUnstarted && after.NextOrder == 1 {
				evts = append(evts, stateEvent{
					Type:     "series.finished",
					EntityID: book.Series.Name,
					Payload:  events.EventPayload{"total_books": book.Series.Total},
				})
			}
		}
		return next, evts, nil
	})
}

// Decide resolves the pending continue/pause/drop decision for a series.
func (e Engine) Decide(ctx context.Context, seriesName, decision, actorID string) (domain.AppState, error) {
	switch decision {
	case domain.DecisionContinue, domain.DecisionPause, domain.DecisionDrop:
	default:
		return domain.AppState{}, fmt.Errorf("%w: %q", ErrInvalidDecision, decision)
	}
	return e.updateState(ctx, actorID, func(st domain.AppState) (domain.AppState, []stateEvent, error) {
		if st.PendingDecision != seriesName {
			return st, nil, fmt.Errorf("%w: %s", ErrNoPendingDecision, seriesName)
		}
		next := picker.DecideSeries(st, seriesName, decision, e.now())
		return next, []stateEvent{{
			Type:     "series.decided",
			EntityID: seriesName,
			Payload:  events.EventPayload{"decision": decision, "status": next.SeriesState[seriesName].Status},
		}}, nil
	})
}

// Pause suspends an active series.
func (e Engine) Pause(ctx context.Context, seriesName, actorID string) (domain.AppState, error) {
	return e.updateState(ctx, actorID, func(st domain.AppState) (domain.AppState, []stateEvent, error) {
		cur, ok := st.SeriesState[seriesName]
		if !ok {
			return st, nil, fmt.Errorf("%w: %s", ErrUnknownSeries, seriesName)
		}
		if cur.Status != domain.SeriesActive {
			return st, nil, fmt.Errorf("%w: cannot pause %s series", ErrInvalidTransition, cur.Status)
		}
		next := picker.PauseSeries(st, seriesName, e.now())
		return next, []stateEvent{{
			Type:     "series.paused",
			EntityID: seriesName,
			Payload:  events.EventPayload{"next_order": cur.NextOrder},
		}}, nil
	})
}

// Resume reactivates a paused series. Dropped series stay dropped.
func (e Engine) Resume(ctx context.Context, seriesName, actorID string) (domain.AppState, error) {
	return e.updateState(ctx, actorID, func(st domain.AppState) (domain.AppState, []stateEvent, error) {
		cur, ok := st.SeriesState[seriesName]
		if !ok {
			return st, nil, fmt.Errorf("%w: %s", ErrUnknownSeries, seriesName)
		}
		if cur.Status != domain.SeriesPaused {
			return st, nil, fmt.Errorf("%w: cannot resume %s series", ErrInvalidTransition, cur.Status)
		}
		next := picker.ResumeSeries(st, seriesName, e.now())
		return next, []stateEvent{{
			Type:     "series.resumed",
			EntityID: seriesName,
			Payload:  events.EventPayload{"next_order": cur.NextOrder},
		}}, nil
	})
}

// Eligibility explains whether a book could be selected right now.
func (e Engine) Eligibility(ctx context.Context, bookID string) (domain.Book, domain.Eligibility, error) {
	book, ok := catalog.FindBook(e.Catalog, bookID)
	if !ok {
		return domain.Book{}, domain.Eligibility{}, fmt.Errorf("%w: %s", ErrUnknownBook, bookID)
	}
	snap, err := e.EnsureState(ctx)
	if err != nil {
		return domain.Book{}, domain.Eligibility{}, err
	}
	return book, picker.BookEligibility(book, snap.State), nil
}

// SeriesProgress reports completed/total/status for a series.
func (e Engine) SeriesProgress(ctx context.Context, seriesName string) (domain.SeriesProgress, error) {
	snap, err := e.EnsureState(ctx)
	if err != nil {
		return domain.SeriesProgress{}, err
	}
	progress := picker.SeriesProgress(e.Catalog, snap.State, seriesName)
	if progress.Total == 0 {
		return domain.SeriesProgress{}, fmt.Errorf("%w: %s", ErrUnknownSeries, seriesName)
	}
	return progress, nil
}

// --- membership ---

// Authenticate checks the shared club passcode and returns the member,
// creating the profile on first login.
func (e Engine) Authenticate(ctx context.Context, displayName, passcode string) (domain.Member, error) {
	displayName = strings.TrimSpace(displayName)
	if displayName == "" {
		return domain.Member{}, errors.New("display name required")
	}
	hash := ""
	if e.Config != nil {
		hash = e.Config.Club.PasscodeHash
	}
	if hash == "" {
		return domain.Member{}, errors.New("club passcode not configured")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(passcode)); err != nil {
		return domain.Member{}, ErrInvalidPasscode
	}
	m, err := e.Repo.GetMemberByName(ctx, displayName)
	if err == nil {
		return m, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return domain.Member{}, err
	}
	return e.Join(ctx, displayName, "")
}

// HashPasscode produces the bcrypt hash stored in the config file.
func HashPasscode(passcode string) (string, error) {
	if strings.TrimSpace(passcode) == "" {
		return "", errors.New("passcode required")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(passcode), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// Join creates a member profile.
func (e Engine) Join(ctx context.Context, displayName, avatarURL string) (domain.Member, error) {
	m := domain.Member{
		ID:          uuid.New().String(),
		DisplayName: strings.TrimSpace(displayName),
		AvatarURL:   avatarURL,
		JoinedAt:    e.now().UTC().Format(time.RFC3339),
	}
	if m.DisplayName == "" {
		return domain.Member{}, errors.New("display name required")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Member{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertMember(ctx, tx, m); err != nil {
		return domain.Member{}, fmt.Errorf("insert member: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "member.joined", "member", m.ID, m.ID, events.EventPayload{"display_name": m.DisplayName}); err != nil {
		return domain.Member{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Member{}, err
	}
	return m, nil
}

// SetReadingGoal updates a member's yearly goal.
func (e Engine) SetReadingGoal(ctx context.Context, memberID string, goal int) (domain.Member, error) {
	if goal < 1 {
		return domain.Member{}, errors.New("reading goal must be positive")
	}
	if err := e.Repo.UpdateMember(ctx, memberID, nil, nil, &goal); err != nil {
		return domain.Member{}, err
	}
	if err := e.appendEvent(ctx, "goal.set", "member", memberID, memberID, events.EventPayload{"goal": goal}); err != nil {
		return domain.Member{}, err
	}
	return e.Repo.GetMember(ctx, memberID)
}

// CreateAPIKey mints an API key for a member and returns the plaintext once.
func (e Engine) CreateAPIKey(ctx context.Context, memberID, name string) (domain.APIKey, string, error) {
	if _, err := e.Repo.GetMember(ctx, memberID); err != nil {
		return domain.APIKey{}, "", err
	}
	plaintext := "nrk_" + strings.ReplaceAll(uuid.New().String()+uuid.New().String(), "-", "")
	key := domain.APIKey{
		ID:        uuid.New().String(),
		MemberID:  memberID,
		Name:      name,
		KeyHash:   repo.HashAPIKey(plaintext),
		CreatedAt: e.now().UTC().Format(time.RFC3339),
	}
	if err := e.Repo.InsertAPIKey(ctx, nil, key); err != nil {
		return domain.APIKey{}, "", err
	}
	return key, plaintext, nil
}

// --- remarks ---

func (e Engine) AddRemark(ctx context.Context, memberID, bookID, note string, rating *int) (domain.Remark, error) {
	if _, ok := catalog.FindBook(e.Catalog, bookID); !ok {
		return domain.Remark{}, fmt.Errorf("%w: %s", ErrUnknownBook, bookID)
	}
	note = strings.TrimSpace(note)
	if note == "" {
		return domain.Remark{}, errors.New("note required")
	}
	if rating != nil && (*rating < 1 || *rating > 5) {
		return domain.Remark{}, errors.New("rating must be between 1 and 5")
	}
	rm := domain.Remark{
		ID:        uuid.New().String(),
		BookID:    bookID,
		MemberID:  memberID,
		Rating:    rating,
		Note:      note,
		CreatedAt: e.now().UTC().Format(time.RFC3339),
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Remark{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertRemark(ctx, tx, rm); err != nil {
		return domain.Remark{}, fmt.Errorf("insert remark: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "remark.added", "remark", rm.ID, memberID, events.EventPayload{"book_id": bookID}); err != nil {
		return domain.Remark{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Remark{}, err
	}
	return rm, nil
}

// --- suggestions ---

func (e Engine) AddSuggestion(ctx context.Context, memberID, title, author, coverURL string, genres []string) (domain.Suggestion, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return domain.Suggestion{}, errors.New("title required")
	}
	if _, err := e.Repo.GetSuggestionByTitle(ctx, title); err == nil {
		return domain.Suggestion{}, ErrDuplicateSuggestion
	} else if !errors.Is(err, repo.ErrNotFound) {
		return domain.Suggestion{}, err
	}
	now := e.now().UTC().Format(time.RFC3339)
	s := domain.Suggestion{
		ID:          uuid.New().String(),
		Title:       title,
		Author:      strings.TrimSpace(author),
		CoverURL:    coverURL,
		Genres:      genres,
		SuggestedBy: memberID,
		CreatedAt:   now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Suggestion{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertSuggestion(ctx, tx, s); err != nil {
		return domain.Suggestion{}, fmt.Errorf("insert suggestion: %w", err)
	}
	// Suggesting counts as the member's own vote.
	if _, err := e.Repo.ToggleVote(ctx, tx, s.ID, memberID, now); err != nil {
		return domain.Suggestion{}, err
	}
	if err := e.Events.Append(ctx, tx, "suggestion.added", "suggestion", s.ID, memberID, events.EventPayload{"title": title}); err != nil {
		return domain.Suggestion{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Suggestion{}, err
	}
	s.Votes = []string{memberID}
	return s, nil
}

// VoteSuggestion toggles the member's vote and reports whether it is now set.
func (e Engine) VoteSuggestion(ctx context.Context, memberID, suggestionID string) (bool, error) {
	if _, err := e.Repo.GetSuggestion(ctx, suggestionID); err != nil {
		return false, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()
	voted, err := e.Repo.ToggleVote(ctx, tx, suggestionID, memberID, e.now().UTC().Format(time.RFC3339))
	if err != nil {
		return false, err
	}
	if err := e.Events.Append(ctx, tx, "suggestion.voted", "suggestion", suggestionID, memberID, events.EventPayload{"voted": voted}); err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	return voted, nil
}

// DeleteSuggestion removes a suggestion; only its author may do so.
func (e Engine) DeleteSuggestion(ctx context.Context, memberID, suggestionID string) error {
	s, err := e.Repo.GetSuggestion(ctx, suggestionID)
	if err != nil {
		return err
	}
	if s.SuggestedBy != memberID {
		return ErrNotOwner
	}
	if err := e.Repo.DeleteSuggestion(ctx, suggestionID); err != nil {
		return err
	}
	return e.appendEvent(ctx, "suggestion.removed", "suggestion", suggestionID, memberID, events.EventPayload{"title": s.Title})
}

// --- reading progress ---

func (e Engine) SetProgress(ctx context.Context, memberID, bookID string, currentChapter, totalChapters int) (domain.ReadingProgress, error) {
	if _, ok := catalog.FindBook(e.Catalog, bookID); !ok {
		return domain.ReadingProgress{}, fmt.Errorf("%w: %s", ErrUnknownBook, bookID)
	}
	if totalChapters < 1 {
		return domain.ReadingProgress{}, errors.New("total chapters must be positive")
	}
	if currentChapter < 0 || currentChapter > totalChapters {
		return domain.ReadingProgress{}, fmt.Errorf("current chapter out of range 0..%d", totalChapters)
	}
	p := domain.ReadingProgress{
		MemberID:       memberID,
		BookID:         bookID,
		CurrentChapter: currentChapter,
		TotalChapters:  totalChapters,
		UpdatedAt:      e.now().UTC().Format(time.RFC3339),
	}
	if err := e.Repo.UpsertProgress(ctx, p); err != nil {
		return domain.ReadingProgress{}, fmt.Errorf("upsert progress: %w", err)
	}
	if err := e.appendEvent(ctx, "progress.updated", "progress", bookID, memberID, events.EventPayload{
		"book_id": bookID, "current_chapter": currentChapter, "total_chapters": totalChapters,
	}); err != nil {
		return domain.ReadingProgress{}, err
	}
	return p, nil
}

// appendEvent records a single event in its own transaction.
func (e Engine) appendEvent(ctx context.Context, evtType, entityKind, entityID, actorID string, payload events.EventPayload) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Events.Append(ctx, tx, evtType, entityKind, entityID, actorID, payload); err != nil {
		return err
	}
	return tx.Commit()
}
