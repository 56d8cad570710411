package picker_test

import (
	"math/rand"
	"testing"
	"time"

	"nextread/internal/domain"
	"nextread/internal/picker"
)

var fixedNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func seriesBook(id, name string, order, total int) domain.Book {
	return domain.Book{
		ID:     id,
		Title:  id,
		Author: "someone",
		Series: &domain.Series{Name: name, Order: order, Total: total},
	}
}

func testCatalog() []domain.Book {
	return []domain.Book{
		{ID: "s1", Title: "Standalone One", Author: "a"},
		{ID: "s2", Title: "Standalone Two", Author: "b"},
		seriesBook("a1", "Alpha", 1, 3),
		seriesBook("a2", "Alpha", 2, 3),
		seriesBook("a3", "Alpha", 3, 3),
		seriesBook("b1", "Beta", 1, 2),
		seriesBook("b2", "Beta", 2, 2),
	}
}

func newRand() *rand.Rand { return rand.New(rand.NewSource(42)) }

func TestInitializeSeriesState(t *testing.T) {
	states := picker.InitializeSeriesState(testCatalog())
	if len(states) != 2 {
		t.Fatalf("expected 2 series, got %d", len(states))
	}
	for _, name := range []string{"Alpha", "Beta"} {
		st, ok := states[name]
		if !ok {
			t.Fatalf("missing series %s", name)
		}
		if st.Status != domain.SeriesUnstarted || st.NextOrder != 1 {
			t.Fatalf("series %s: got %+v", name, st)
		}
	}
}

func TestMergeSeriesStatePersistedWins(t *testing.T) {
	persisted := map[string]domain.SeriesState{
		"Alpha": {Status: domain.SeriesDropped, NextOrder: 2},
	}
	merged := picker.MergeSeriesState(testCatalog(), persisted)
	if merged["Alpha"].Status != domain.SeriesDropped {
		t.Fatalf("persisted entry overwritten: %+v", merged["Alpha"])
	}
	if merged["Beta"].Status != domain.SeriesUnstarted || merged["Beta"].NextOrder != 1 {
		t.Fatalf("new series not backfilled: %+v", merged["Beta"])
	}
}

func TestModePendingDecisionWinsOverActiveSeries(t *testing.T) {
	state := picker.NewInitialState(testCatalog(), fixedNow)
	state.PendingDecision = "Beta"
	state.SeriesState["Alpha"] = domain.SeriesState{Status: domain.SeriesActive, NextOrder: 2}

	mode := picker.Mode(state)
	if mode.Mode != domain.ModeDecisionRequired || mode.SeriesName != "Beta" {
		t.Fatalf("expected decision_required for Beta, got %+v", mode)
	}
}

func TestModeSeriesLock(t *testing.T) {
	state := picker.NewInitialState(testCatalog(), fixedNow)
	state.SeriesState["Alpha"] = domain.SeriesState{Status: domain.SeriesActive, NextOrder: 3}
	mode := picker.Mode(state)
	if mode.Mode != domain.ModeSeriesLock || mode.SeriesName != "Alpha" || mode.NextOrder != 3 {
		t.Fatalf("unexpected mode %+v", mode)
	}
}

func TestModeRandomDraw(t *testing.T) {
	state := picker.NewInitialState(testCatalog(), fixedNow)
	if mode := picker.Mode(state); mode.Mode != domain.ModeRandomDraw {
		t.Fatalf("expected random_draw, got %+v", mode)
	}
}

func TestRandomPoolNeverContainsLaterSeriesBooks(t *testing.T) {
	catalog := testCatalog()
	state := picker.NewInitialState(catalog, fixedNow)
	rng := newRand()
	for i := 0; i < 500; i++ {
		res := picker.PickNextBook(catalog, state, rng)
		if res.Book == nil {
			t.Fatal("expected a pick")
		}
		if res.Book.Series != nil && res.Book.Series.Order >= 2 {
			t.Fatalf("order %d book %s surfaced in random draw", res.Book.Series.Order, res.Book.ID)
		}
		if res.EligibleCount != 4 {
			t.Fatalf("expected pool of 4 (s1,s2,a1,b1), got %d", res.EligibleCount)
		}
	}
}

func TestForcedPickFromActiveSeries(t *testing.T) {
	catalog := testCatalog()
	state := picker.NewInitialState(catalog, fixedNow)
	state.CompletedBookIDs = []string{"a1"}
	state.SeriesState["Alpha"] = domain.SeriesState{Status: domain.SeriesActive, NextOrder: 2}

	res := picker.PickNextBook(catalog, state, newRand())
	if !res.Forced || res.Book == nil || res.Book.ID != "a2" {
		t.Fatalf("expected forced a2, got %+v", res)
	}
	if res.EligibleCount != 1 {
		t.Fatalf("forced pick should report eligibleCount 1, got %d", res.EligibleCount)
	}
}

func TestActiveSeriesWithMissingNextBookFallsThrough(t *testing.T) {
	catalog := testCatalog()
	state := picker.NewInitialState(catalog, fixedNow)
	// Inconsistent: active series pointing past the catalog.
	state.SeriesState["Alpha"] = domain.SeriesState{Status: domain.SeriesActive, NextOrder: 9}

	res := picker.PickNextBook(catalog, state, newRand())
	if res.Forced {
		t.Fatalf("expected fallback to random draw, got forced %+v", res)
	}
	if res.Book == nil {
		t.Fatal("expected a pick from the fallback pool")
	}
}

func TestPausedAndDroppedSeriesNeverDrawn(t *testing.T) {
	catalog := testCatalog()
	state := picker.NewInitialState(catalog, fixedNow)
	state.SeriesState["Alpha"] = domain.SeriesState{Status: domain.SeriesPaused, NextOrder: 2}
	state.SeriesState["Beta"] = domain.SeriesState{Status: domain.SeriesDropped, NextOrder: 2}

	rng := newRand()
	for i := 0; i < 500; i++ {
		res := picker.PickNextBook(catalog, state, rng)
		if res.Book == nil {
			t.Fatal("expected a standalone pick")
		}
		if res.Book.Series != nil {
			t.Fatalf("series book %s drawn from paused/dropped series", res.Book.ID)
		}
		if res.EligibleCount != 2 {
			t.Fatalf("expected pool of 2 standalones, got %d", res.EligibleCount)
		}
	}
}

func TestEmptyPool(t *testing.T) {
	catalog := testCatalog()
	state := picker.NewInitialState(catalog, fixedNow)
	state.CompletedBookIDs = []string{"s1", "s2"}
	state.SeriesState["Alpha"] = domain.SeriesState{Status: domain.SeriesDropped, NextOrder: 2}
	state.SeriesState["Beta"] = domain.SeriesState{Status: domain.SeriesDropped, NextOrder: 2}

	res := picker.PickNextBook(catalog, state, newRand())
	if res.Book != nil || res.EligibleCount != 0 {
		t.Fatalf("expected empty result, got %+v", res)
	}
	if res.Reason != "No eligible books remaining!" {
		t.Fatalf("unexpected reason %q", res.Reason)
	}
}

func TestCompletePilotTriggersDecision(t *testing.T) {
	catalog := testCatalog()
	state := picker.NewInitialState(catalog, fixedNow)
	state.CurrentPickID = "a1"

	next := picker.CompleteBook(catalog, state, "a1", fixedNow)
	if next.PendingDecision != "Alpha" {
		t.Fatalf("expected pending decision for Alpha, got %q", next.PendingDecision)
	}
	if next.CurrentPickID != "" {
		t.Fatalf("current pick not cleared")
	}
	if len(next.CompletedBookIDs) != 1 || next.CompletedBookIDs[0] != "a1" {
		t.Fatalf("completion not recorded: %v", next.CompletedBookIDs)
	}
	// Original snapshot untouched.
	if state.PendingDecision != "" || len(state.CompletedBookIDs) != 0 {
		t.Fatalf("input state mutated: %+v", state)
	}
}

func TestCompleteStandaloneNoDecision(t *testing.T) {
	catalog := testCatalog()
	state := picker.NewInitialState(catalog, fixedNow)
	next := picker.CompleteBook(catalog, state, "s1", fixedNow)
	if next.PendingDecision != "" {
		t.Fatalf("standalone completion raised decision %q", next.PendingDecision)
	}
}

func TestCompletePilotOfDecidedSeriesNoRetrigger(t *testing.T) {
	catalog := testCatalog()
	state := picker.NewInitialState(catalog, fixedNow)
	state.SeriesState["Alpha"] = domain.SeriesState{Status: domain.SeriesDropped, NextOrder: 2}
	next := picker.CompleteBook(catalog, state, "a1", fixedNow)
	if next.PendingDecision != "" {
		t.Fatalf("re-read pilot re-triggered decision %q", next.PendingDecision)
	}
}

func TestCompleteAdvancesActiveSeries(t *testing.T) {
	catalog := testCatalog()
	state := picker.NewInitialState(catalog, fixedNow)
	state.CompletedBookIDs = []string{"a1"}
	state.SeriesState["Alpha"] = domain.SeriesState{Status: domain.SeriesActive, NextOrder: 2}

	next := picker.CompleteBook(catalog, state, "a2", fixedNow)
	st := next.SeriesState["Alpha"]
	if st.Status != domain.SeriesActive || st.NextOrder != 3 {
		t.Fatalf("expected active nextOrder 3, got %+v", st)
	}
}

func TestCompleteFinalBookResetsSeries(t *testing.T) {
	catalog := testCatalog()
	state := picker.NewInitialState(catalog, fixedNow)
	state.CompletedBookIDs = []string{"a1", "a2"}
	state.SeriesState["Alpha"] = domain.SeriesState{Status: domain.SeriesActive, NextOrder: 3}

	next := picker.CompleteBook(catalog, state, "a3", fixedNow)
	st := next.SeriesState["Alpha"]
	if st.Status != domain.SeriesUnstarted || st.NextOrder != 1 {
		t.Fatalf("expected cycle reset, got %+v", st)
	}
}

func TestCompleteUnknownBookNoOp(t *testing.T) {
	catalog := testCatalog()
	state := picker.NewInitialState(catalog, fixedNow)
	next := picker.CompleteBook(catalog, state, "nope", fixedNow)
	if len(next.CompletedBookIDs) != 0 {
		t.Fatalf("unknown book recorded: %v", next.CompletedBookIDs)
	}
}

func TestCompleteDuplicateNoOp(t *testing.T) {
	catalog := testCatalog()
	state := picker.NewInitialState(catalog, fixedNow)
	state = picker.CompleteBook(catalog, state, "s1", fixedNow)
	next := picker.CompleteBook(catalog, state, "s1", fixedNow)
	if len(next.CompletedBookIDs) != 1 {
		t.Fatalf("duplicate completion appended: %v", next.CompletedBookIDs)
	}
}

func TestDecideSeries(t *testing.T) {
	cases := []struct {
		decision string
		status   string
	}{
		{domain.DecisionContinue, domain.SeriesActive},
		{domain.DecisionPause, domain.SeriesPaused},
		{domain.DecisionDrop, domain.SeriesDropped},
	}
	for _, tc := range cases {
		state := picker.NewInitialState(testCatalog(), fixedNow)
		state.PendingDecision = "Alpha"
		next := picker.DecideSeries(state, "Alpha", tc.decision, fixedNow)
		if next.PendingDecision != "" {
			t.Fatalf("%s: pending decision not cleared", tc.decision)
		}
		st := next.SeriesState["Alpha"]
		if st.Status != tc.status || st.NextOrder != 2 {
			t.Fatalf("%s: got %+v", tc.decision, st)
		}
	}
}

func TestPauseResumeTransitions(t *testing.T) {
	state := picker.NewInitialState(testCatalog(), fixedNow)

	// Pause on a non-active series is a no-op.
	if next := picker.PauseSeries(state, "Alpha", fixedNow); next.SeriesState["Alpha"].Status != domain.SeriesUnstarted {
		t.Fatal("pause of unstarted series took effect")
	}

	state.SeriesState["Alpha"] = domain.SeriesState{Status: domain.SeriesActive, NextOrder: 3}
	paused := picker.PauseSeries(state, "Alpha", fixedNow)
	if st := paused.SeriesState["Alpha"]; st.Status != domain.SeriesPaused || st.NextOrder != 3 {
		t.Fatalf("pause lost nextOrder: %+v", st)
	}

	resumed := picker.ResumeSeries(paused, "Alpha", fixedNow)
	if st := resumed.SeriesState["Alpha"]; st.Status != domain.SeriesActive || st.NextOrder != 3 {
		t.Fatalf("resume lost nextOrder: %+v", st)
	}

	// Dropped series have no resume path.
	paused.SeriesState["Alpha"] = domain.SeriesState{Status: domain.SeriesDropped, NextOrder: 2}
	if next := picker.ResumeSeries(paused, "Alpha", fixedNow); next.SeriesState["Alpha"].Status != domain.SeriesDropped {
		t.Fatal("resume revived a dropped series")
	}
}

// BookEligibility must agree with the pool PickNextBook draws from, modulo
// the forced next-in-active-series book, which is eligible in both views but
// never part of the random pool.
func TestEligibilityConsistentWithDrawPool(t *testing.T) {
	catalog := testCatalog()
	states := []domain.AppState{
		picker.NewInitialState(catalog, fixedNow),
		func() domain.AppState {
			s := picker.NewInitialState(catalog, fixedNow)
			s.CompletedBookIDs = []string{"s1", "a1"}
			s.SeriesState["Alpha"] = domain.SeriesState{Status: domain.SeriesActive, NextOrder: 2}
			return s
		}(),
		func() domain.AppState {
			s := picker.NewInitialState(catalog, fixedNow)
			s.SeriesState["Alpha"] = domain.SeriesState{Status: domain.SeriesPaused, NextOrder: 2}
			s.SeriesState["Beta"] = domain.SeriesState{Status: domain.SeriesDropped, NextOrder: 2}
			return s
		}(),
	}

	for si, state := range states {
		inPool := map[string]bool{}
		rng := newRand()
		for i := 0; i < 2000; i++ {
			res := picker.PickNextBook(catalog, state, rng)
			if res.Book != nil && !res.Forced {
				inPool[res.Book.ID] = true
			}
		}
		hasActive := false
		for _, st := range state.SeriesState {
			if st.Status == domain.SeriesActive {
				hasActive = true
			}
		}
		for _, b := range catalog {
			el := picker.BookEligibility(b, state)
			if hasActive {
				// With a series lock the random pool is never sampled;
				// only check that the forced book is reported eligible.
				if b.Series != nil && b.Series.Name == "Alpha" && b.Series.Order == 2 && !el.Eligible {
					t.Fatalf("state %d: forced next book reported ineligible: %+v", si, el)
				}
				continue
			}
			if el.Eligible != inPool[b.ID] {
				t.Fatalf("state %d: eligibility mismatch for %s: explainer=%v pool=%v (%s)",
					si, b.ID, el.Eligible, inPool[b.ID], el.Reason)
			}
		}
	}
}

func TestSeriesProgress(t *testing.T) {
	catalog := testCatalog()
	state := picker.NewInitialState(catalog, fixedNow)
	state.CompletedBookIDs = []string{"a1", "a2", "s1"}
	state.SeriesState["Alpha"] = domain.SeriesState{Status: domain.SeriesActive, NextOrder: 3}

	p := picker.SeriesProgress(catalog, state, "Alpha")
	if p.Completed != 2 || p.Total != 3 || p.Status != domain.SeriesActive {
		t.Fatalf("unexpected progress %+v", p)
	}
	if p := picker.SeriesProgress(catalog, state, "Beta"); p.Status != domain.SeriesUnstarted || p.Total != 2 {
		t.Fatalf("unexpected Beta progress %+v", p)
	}
}

// Full walk through the series life cycle: draw pool, pilot decision, series
// lock, advancing, and the reset after the final installment.
func TestSeriesLifecycle(t *testing.T) {
	catalog := []domain.Book{
		{ID: "s1", Title: "One", Author: "x"},
		{ID: "s2", Title: "Two", Author: "y"},
		seriesBook("a1", "A", 1, 3),
		seriesBook("a2", "A", 2, 3),
		seriesBook("a3", "A", 3, 3),
	}
	state := picker.NewInitialState(catalog, fixedNow)
	rng := newRand()

	seen := map[string]bool{}
	for i := 0; i < 300; i++ {
		res := picker.PickNextBook(catalog, state, rng)
		seen[res.Book.ID] = true
	}
	for _, id := range []string{"s1", "s2", "a1"} {
		if !seen[id] {
			t.Fatalf("pool never produced %s", id)
		}
	}
	if seen["a2"] || seen["a3"] {
		t.Fatal("later series books leaked into the pool")
	}

	state = picker.CompleteBook(catalog, state, "a1", fixedNow)
	if state.PendingDecision != "A" {
		t.Fatalf("expected decision for A, got %q", state.PendingDecision)
	}

	state = picker.DecideSeries(state, "A", domain.DecisionContinue, fixedNow)
	if st := state.SeriesState["A"]; st.Status != domain.SeriesActive || st.NextOrder != 2 {
		t.Fatalf("continue: got %+v", st)
	}
	if state.PendingDecision != "" {
		t.Fatal("pending decision survived the decision")
	}

	res := picker.PickNextBook(catalog, state, rng)
	if !res.Forced || res.Book.ID != "a2" {
		t.Fatalf("expected forced a2, got %+v", res)
	}

	state = picker.CompleteBook(catalog, state, "a2", fixedNow)
	if st := state.SeriesState["A"]; st.Status != domain.SeriesActive || st.NextOrder != 3 {
		t.Fatalf("after a2: got %+v", st)
	}

	state = picker.CompleteBook(catalog, state, "a3", fixedNow)
	if st := state.SeriesState["A"]; st.Status != domain.SeriesUnstarted || st.NextOrder != 1 {
		t.Fatalf("expected reset after final book, got %+v", st)
	}
}
