// Package picker implements the book selection state machine: which book the
// club reads next, how multi-book series are gated, and how a one-time
// continue/pause/drop decision affects future eligibility. Every function is
// pure; the only nondeterminism is the rng handed to PickNextBook.
package picker

import (
	"fmt"
	"math/rand"
	"sort"
	"time"

	"nextread/internal/domain"
)

// StateID is the fixed key of the single shared snapshot.
const StateID = "global"

// InitializeSeriesState returns {unstarted, nextOrder:1} for every distinct
// series name in the catalog.
func InitializeSeriesState(books []domain.Book) map[string]domain.SeriesState {
	states := map[string]domain.SeriesState{}
	for _, b := range books {
		if b.Series == nil {
			continue
		}
		if _, ok := states[b.Series.Name]; !ok {
			states[b.Series.Name] = domain.SeriesState{Status: domain.SeriesUnstarted, NextOrder: 1}
		}
	}
	return states
}

// MergeSeriesState backfills series newly added to the catalog into an
// existing persisted state. Persisted entries always win.
func MergeSeriesState(books []domain.Book, persisted map[string]domain.SeriesState) map[string]domain.SeriesState {
	merged := InitializeSeriesState(books)
	for name, st := range persisted {
		merged[name] = st
	}
	return merged
}

// NewInitialState is the canonical empty snapshot.
func NewInitialState(books []domain.Book, now time.Time) domain.AppState {
	return domain.AppState{
		ID:               StateID,
		CompletedBookIDs: []string{},
		SeriesState:      InitializeSeriesState(books),
		UpdatedAt:        now.UTC().Format(time.RFC3339),
	}
}

// activeSeries returns the name and state of the active series, scanning
// names in sorted order so the answer is stable even if more than one entry
// is active.
func activeSeries(state domain.AppState) (string, domain.SeriesState, bool) {
	names := make([]string, 0, len(state.SeriesState))
	for name := range state.SeriesState {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if st := state.SeriesState[name]; st.Status == domain.SeriesActive {
			return name, st, true
		}
	}
	return "", domain.SeriesState{}, false
}

// Mode derives the current app mode. An unresolved decision always wins over
// an active series: it must be cleared before any other reading proceeds.
func Mode(state domain.AppState) domain.ModeInfo {
	if state.PendingDecision != "" {
		return domain.ModeInfo{Mode: domain.ModeDecisionRequired, SeriesName: state.PendingDecision}
	}
	if name, st, ok := activeSeries(state); ok {
		return domain.ModeInfo{Mode: domain.ModeSeriesLock, SeriesName: name, NextOrder: st.NextOrder}
	}
	return domain.ModeInfo{Mode: domain.ModeRandomDraw}
}

func completedSet(state domain.AppState) map[string]bool {
	set := make(map[string]bool, len(state.CompletedBookIDs))
	for _, id := range state.CompletedBookIDs {
		set[id] = true
	}
	return set
}

// eligibleForDraw reports whether a book belongs in the random pool. Completed
// books are excluded, standalones are always in, and of series books only the
// order-1 book of an unstarted series qualifies. Order 2+ is reachable only
// through an active series' forced continuation.
func eligibleForDraw(b domain.Book, state domain.AppState, completed map[string]bool) bool {
	if completed[b.ID] {
		return false
	}
	if b.Series == nil {
		return true
	}
	st, ok := state.SeriesState[b.Series.Name]
	if ok && (st.Status == domain.SeriesPaused || st.Status == domain.SeriesDropped) {
		return false
	}
	return b.Series.Order == 1 && (!ok || st.Status == domain.SeriesUnstarted)
}

// PickNextBook chooses the next book: the forced continuation of an active
// series when one exists, otherwise a uniform draw from the eligible pool.
func PickNextBook(books []domain.Book, state domain.AppState, rng *rand.Rand) domain.PickResult {
	completed := completedSet(state)

	if name, st, ok := activeSeries(state); ok {
		for i := range books {
			b := books[i]
			if b.Series != nil && b.Series.Name == name && b.Series.Order == st.NextOrder && !completed[b.ID] {
				return domain.PickResult{
					Book:          &b,
					Forced:        true,
					Reason:        fmt.Sprintf("Continuing %q series (Book %d)", name, st.NextOrder),
					EligibleCount: 1,
				}
			}
		}
		// Active series with no matching next book: data inconsistency.
		// Fall through to the random draw.
	}

	var eligible []domain.Book
	for _, b := range books {
		if eligibleForDraw(b, state, completed) {
			eligible = append(eligible, b)
		}
	}
	if len(eligible) == 0 {
		return domain.PickResult{Reason: "No eligible books remaining!"}
	}

	pick := eligible[rng.Intn(len(eligible))]
	reason := fmt.Sprintf("Randomly selected from %d eligible books", len(eligible))
	if pick.Series != nil {
		reason = fmt.Sprintf("Randomly selected Book 1 of %q from %d options", pick.Series.Name, len(eligible))
	}
	return domain.PickResult{Book: &pick, Reason: reason, EligibleCount: len(eligible)}
}

func findBook(books []domain.Book, id string) (domain.Book, bool) {
	for _, b := range books {
		if b.ID == id {
			return b, true
		}
	}
	return domain.Book{}, false
}

func cloneSeriesState(in map[string]domain.SeriesState) map[string]domain.SeriesState {
	out := make(map[string]domain.SeriesState, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// CompleteBook marks a book read and updates series state. Unknown ids and
// repeated completions leave the state unchanged.
func CompleteBook(books []domain.Book, state domain.AppState, bookID string, now time.Time) domain.AppState {
	book, ok := findBook(books, bookID)
	if !ok {
		return state
	}
	if completedSet(state)[bookID] {
		return state
	}

	next := state
	next.CompletedBookIDs = append(append([]string{}, state.CompletedBookIDs...), bookID)
	next.SeriesState = cloneSeriesState(state.SeriesState)
	next.CurrentPickID = ""
	next.UpdatedAt = now.UTC().Format(time.RFC3339)

	if book.Series == nil {
		return next
	}

	st, known := state.SeriesState[book.Series.Name]

	// Completing the pilot of an undecided series raises the decision. A
	// re-read of an already-decided series' pilot does not.
	if book.Series.Order == 1 && (!known || st.Status == domain.SeriesUnstarted) {
		next.PendingDecision = book.Series.Name
	}

	// Completing the expected installment of an active series advances it;
	// past the final book the series resets so it can be re-read later.
	if known && st.Status == domain.SeriesActive && st.NextOrder == book.Series.Order {
		advanced := domain.SeriesState{Status: domain.SeriesActive, NextOrder: st.NextOrder + 1}
		if advanced.NextOrder > book.Series.Total {
			advanced = domain.SeriesState{Status: domain.SeriesUnstarted, NextOrder: 1}
		}
		next.SeriesState[book.Series.Name] = advanced
	}
	return next
}

// DecideSeries applies the continue/pause/drop decision made after a pilot.
// The pilot was always order 1, so the next book is always 2. The function
// applies the decision unconditionally; callers that need the decision to
// match the pending one enforce that themselves.
func DecideSeries(state domain.AppState, seriesName, decision string, now time.Time) domain.AppState {
	next := state
	next.PendingDecision = ""
	next.UpdatedAt = now.UTC().Format(time.RFC3339)
	next.SeriesState = cloneSeriesState(state.SeriesState)

	switch decision {
	case domain.DecisionContinue:
		next.SeriesState[seriesName] = domain.SeriesState{Status: domain.SeriesActive, NextOrder: 2}
	case domain.DecisionPause:
		next.SeriesState[seriesName] = domain.SeriesState{Status: domain.SeriesPaused, NextOrder: 2}
	case domain.DecisionDrop:
		next.SeriesState[seriesName] = domain.SeriesState{Status: domain.SeriesDropped, NextOrder: 2}
	}
	return next
}

// PauseSeries flips an active series to paused, preserving nextOrder.
func PauseSeries(state domain.AppState, seriesName string, now time.Time) domain.AppState {
	st, ok := state.SeriesState[seriesName]
	if !ok || st.Status != domain.SeriesActive {
		return state
	}
	next := state
	next.UpdatedAt = now.UTC().Format(time.RFC3339)
	next.SeriesState = cloneSeriesState(state.SeriesState)
	next.SeriesState[seriesName] = domain.SeriesState{Status: domain.SeriesPaused, NextOrder: st.NextOrder}
	return next
}

// ResumeSeries flips a paused series back to active, preserving nextOrder.
// Dropped series have no resume path.
func ResumeSeries(state domain.AppState, seriesName string, now time.Time) domain.AppState {
	st, ok := state.SeriesState[seriesName]
	if !ok || st.Status != domain.SeriesPaused {
		return state
	}
	next := state
	next.UpdatedAt = now.UTC().Format(time.RFC3339)
	next.SeriesState = cloneSeriesState(state.SeriesState)
	next.SeriesState[seriesName] = domain.SeriesState{Status: domain.SeriesActive, NextOrder: st.NextOrder}
	return next
}

// BookEligibility explains whether a book could be selected right now. It must
// stay consistent with the pool filter in PickNextBook.
func BookEligibility(book domain.Book, state domain.AppState) domain.Eligibility {
	if completedSet(state)[book.ID] {
		return domain.Eligibility{Reason: "Already completed"}
	}
	if book.Series == nil {
		return domain.Eligibility{Eligible: true, Reason: "Standalone - eligible"}
	}
	st, ok := state.SeriesState[book.Series.Name]
	if ok {
		switch st.Status {
		case domain.SeriesDropped:
			return domain.Eligibility{Reason: fmt.Sprintf("Series %q was dropped", book.Series.Name)}
		case domain.SeriesPaused:
			return domain.Eligibility{Reason: fmt.Sprintf("Series %q is paused", book.Series.Name)}
		case domain.SeriesActive:
			if book.Series.Order == st.NextOrder {
				return domain.Eligibility{Eligible: true, Reason: fmt.Sprintf("Next in active series %q", book.Series.Name)}
			}
			return domain.Eligibility{Reason: fmt.Sprintf("Not next in series (need Book %d)", st.NextOrder)}
		}
	}
	if book.Series.Order == 1 {
		return domain.Eligibility{Eligible: true, Reason: "Book 1 - eligible for random selection"}
	}
	return domain.Eligibility{Reason: fmt.Sprintf("Book %d - must complete earlier books first", book.Series.Order)}
}

// SeriesProgress counts completed books of a series against the catalog.
func SeriesProgress(books []domain.Book, state domain.AppState, seriesName string) domain.SeriesProgress {
	completed := completedSet(state)
	progress := domain.SeriesProgress{Status: domain.SeriesUnstarted}
	for _, b := range books {
		if b.Series == nil || b.Series.Name != seriesName {
			continue
		}
		progress.Total++
		if completed[b.ID] {
			progress.Completed++
		}
	}
	if st, ok := state.SeriesState[seriesName]; ok {
		progress.Status = st.Status
	}
	return progress
}
