package engine

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"nextread/internal/config"
	"nextread/internal/db"
	"nextread/internal/domain"
	"nextread/internal/migrate"
	"nextread/internal/repo"
)

var fixedNow = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

func testCatalog() []domain.Book {
	return []domain.Book{
		{ID: "s1", Title: "Standalone One", Author: "A"},
		{ID: "s2", Title: "Standalone Two", Author: "B"},
		{ID: "alpha-1", Title: "Alpha 1", Author: "C", Series: &domain.Series{Name: "Alpha", Order: 1, Total: 3}},
		{ID: "alpha-2", Title: "Alpha 2", Author: "C", Series: &domain.Series{Name: "Alpha", Order: 2, Total: 3}},
		{ID: "alpha-3", Title: "Alpha 3", Author: "C", Series: &domain.Series{Name: "Alpha", Order: 3, Total: 3}},
		{ID: "beta-1", Title: "Beta 1", Author: "D", Series: &domain.Series{Name: "Beta", Order: 1, Total: 2}},
		{ID: "beta-2", Title: "Beta 2", Author: "D", Series: &domain.Series{Name: "Beta", Order: 2, Total: 2}},
	}
}

func newTestEngine(t *testing.T) Engine {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	hash, err := HashPasscode("open sesame")
	if err != nil {
		t.Fatalf("hash passcode: %v", err)
	}
	cfg := config.Default("test club")
	cfg.Club.PasscodeHash = hash
	e := New(conn, cfg, testCatalog())
	e.Now = func() time.Time { return fixedNow }
	e.Rand = rand.New(rand.NewSource(1))
	return e
}

func eventTypes(t *testing.T, e Engine) []string {
	t.Helper()
	evts, err := e.Repo.ListEvents(context.Background(), 100)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	types := make([]string, len(evts))
	for i, evt := range evts {
		types[i] = evt.Type
	}
	return types
}

func hasEvent(types []string, want string) bool {
	for _, tp := range types {
		if tp == want {
			return true
		}
	}
	return false
}

func TestEnsureStateInitializes(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	snap, err := e.EnsureState(ctx)
	if err != nil {
		t.Fatalf("ensure state: %v", err)
	}
	if snap.Version != 1 {
		t.Fatalf("version = %d, want 1", snap.Version)
	}
	if len(snap.State.SeriesState) != 2 {
		t.Fatalf("series state has %d entries, want 2", len(snap.State.SeriesState))
	}
	for name, ss := range snap.State.SeriesState {
		if ss.Status != domain.SeriesUnstarted || ss.NextOrder != 1 {
			t.Fatalf("series %s = %+v, want unstarted/1", name, ss)
		}
	}
	if !hasEvent(eventTypes(t, e), "state.initialized") {
		t.Fatal("missing state.initialized event")
	}

	// A second call loads rather than re-inits.
	again, err := e.EnsureState(ctx)
	if err != nil {
		t.Fatalf("ensure state again: %v", err)
	}
	if again.Version != 1 {
		t.Fatalf("version after reload = %d, want 1", again.Version)
	}
}

func TestDrawRecordsCurrentPick(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	result, err := e.Draw(ctx, "tester")
	if err != nil {
		t.Fatalf("draw: %v", err)
	}
	if result.Book == nil {
		t.Fatal("expected a book")
	}
	if result.EligibleCount != 4 {
		t.Fatalf("eligible count = %d, want 4", result.EligibleCount)
	}
	st, _, err := e.State(ctx)
	if err != nil {
		t.Fatalf("state: %v", err)
	}
	if st.CurrentPickID != result.Book.ID {
		t.Fatalf("current pick = %q, want %q", st.CurrentPickID, result.Book.ID)
	}
	if !hasEvent(eventTypes(t, e), "pick.drawn") {
		t.Fatal("missing pick.drawn event")
	}
}

func TestCompleteRejectsUnknownAndDuplicate(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	if _, err := e.Complete(ctx, "nope", "tester"); !errors.Is(err, ErrUnknownBook) {
		t.Fatalf("unknown book err = %v, want ErrUnknownBook", err)
	}
	if _, err := e.Complete(ctx, "s1", "tester"); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if _, err := e.Complete(ctx, "s1", "tester"); !errors.Is(err, ErrAlreadyCompleted) {
		t.Fatalf("duplicate err = %v, want ErrAlreadyCompleted", err)
	}
}

func TestPilotDecisionFlow(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	st, err := e.Complete(ctx, "alpha-1", "tester")
	if err != nil {
		t.Fatalf("complete pilot: %v", err)
	}
	if st.PendingDecision != "Alpha" {
		t.Fatalf("pending decision = %q, want Alpha", st.PendingDecision)
	}
	if _, mode, _ := e.State(ctx); mode.Mode != domain.ModeDecisionRequired {
		t.Fatalf("mode = %q, want decision_required", mode.Mode)
	}

	// Only the pending series can be decided.
	if _, err := e.Decide(ctx, "Beta", domain.DecisionContinue, "tester"); !errors.Is(err, ErrNoPendingDecision) {
		t.Fatalf("wrong series err = %v, want ErrNoPendingDecision", err)
	}
	if _, err := e.Decide(ctx, "Alpha", "maybe", "tester"); !errors.Is(err, ErrInvalidDecision) {
		t.Fatalf("bad decision err = %v, want ErrInvalidDecision", err)
	}

	st, err = e.Decide(ctx, "Alpha", domain.DecisionContinue, "tester")
	if err != nil {
		t.Fatalf("decide: %v", err)
	}
	if got := st.SeriesState["Alpha"]; got.Status != domain.SeriesActive || got.NextOrder != 2 {
		t.Fatalf("Alpha = %+v, want active/2", got)
	}

	result, err := e.Draw(ctx, "tester")
	if err != nil {
		t.Fatalf("draw: %v", err)
	}
	if result.Book == nil || result.Book.ID != "alpha-2" || !result.Forced {
		t.Fatalf("draw = %+v, want forced alpha-2", result)
	}
	types := eventTypes(t, e)
	if !hasEvent(types, "series.decided") {
		t.Fatal("missing series.decided event")
	}
}

func TestPauseResumeValidation(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	if _, err := e.Pause(ctx, "Alpha", "tester"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("pause unstarted err = %v, want ErrInvalidTransition", err)
	}
	if _, err := e.Pause(ctx, "Gamma", "tester"); !errors.Is(err, ErrUnknownSeries) {
		t.Fatalf("pause unknown err = %v, want ErrUnknownSeries", err)
	}

	if _, err := e.Complete(ctx, "alpha-1", "tester"); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if _, err := e.Decide(ctx, "Alpha", domain.DecisionContinue, "tester"); err != nil {
		t.Fatalf("decide: %v", err)
	}
	st, err := e.Pause(ctx, "Alpha", "tester")
	if err != nil {
		t.Fatalf("pause: %v", err)
	}
	if st.SeriesState["Alpha"].Status != domain.SeriesPaused {
		t.Fatalf("Alpha = %+v, want paused", st.SeriesState["Alpha"])
	}
	if _, err := e.Pause(ctx, "Alpha", "tester"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("double pause err = %v, want ErrInvalidTransition", err)
	}
	st, err = e.Resume(ctx, "Alpha", "tester")
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if got := st.SeriesState["Alpha"]; got.Status != domain.SeriesActive || got.NextOrder != 2 {
		t.Fatalf("Alpha = %+v, want active/2", got)
	}
	if _, err := e.Resume(ctx, "Alpha", "tester"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("resume active err = %v, want ErrInvalidTransition", err)
	}
}

func TestFinishingSeriesEmitsEvent(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	if _, err := e.Complete(ctx, "beta-1", "tester"); err != nil {
		t.Fatalf("complete beta-1: %v", err)
	}
	if _, err := e.Decide(ctx, "Beta", domain.DecisionContinue, "tester"); err != nil {
		t.Fatalf("decide: %v", err)
	}
	st, err := e.Complete(ctx, "beta-2", "tester")
	if err != nil {
		t.Fatalf("complete beta-2: %v", err)
	}
	if got := st.SeriesState["Beta"]; got.Status != domain.SeriesUnstarted || got.NextOrder != 1 {
		t.Fatalf("Beta = %+v, want unstarted/1 after finishing", got)
	}
	if !hasEvent(eventTypes(t, e), "series.finished") {
		t.Fatal("missing series.finished event")
	}
}

func TestEligibilityAndProgress(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	_, el, err := e.Eligibility(ctx, "alpha-2")
	if err != nil {
		t.Fatalf("eligibility: %v", err)
	}
	if el.Eligible {
		t.Fatalf("alpha-2 eligible = true, want false (%s)", el.Reason)
	}
	if _, _, err := e.Eligibility(ctx, "nope"); !errors.Is(err, ErrUnknownBook) {
		t.Fatalf("unknown book err = %v, want ErrUnknownBook", err)
	}

	progress, err := e.SeriesProgress(ctx, "Alpha")
	if err != nil {
		t.Fatalf("series progress: %v", err)
	}
	if progress.Completed != 0 || progress.Total != 3 {
		t.Fatalf("progress = %+v, want 0/3", progress)
	}
	if _, err := e.SeriesProgress(ctx, "Gamma"); !errors.Is(err, ErrUnknownSeries) {
		t.Fatalf("unknown series err = %v, want ErrUnknownSeries", err)
	}
}

func TestAuthenticateCreatesMemberOnce(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	if _, err := e.Authenticate(ctx, "Casey", "wrong"); !errors.Is(err, ErrInvalidPasscode) {
		t.Fatalf("bad passcode err = %v, want ErrInvalidPasscode", err)
	}
	m, err := e.Authenticate(ctx, "Casey", "open sesame")
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if m.DisplayName != "Casey" || m.ID == "" {
		t.Fatalf("member = %+v", m)
	}
	// Same name (case-insensitive) maps to the same profile.
	again, err := e.Authenticate(ctx, "casey", "open sesame")
	if err != nil {
		t.Fatalf("authenticate again: %v", err)
	}
	if again.ID != m.ID {
		t.Fatalf("got new member %s, want %s", again.ID, m.ID)
	}
	if !hasEvent(eventTypes(t, e), "member.joined") {
		t.Fatal("missing member.joined event")
	}
}

func TestSetReadingGoal(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	m, err := e.Join(ctx, "Robin", "")
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	if _, err := e.SetReadingGoal(ctx, m.ID, 0); err == nil {
		t.Fatal("expected error for non-positive goal")
	}
	updated, err := e.SetReadingGoal(ctx, m.ID, 24)
	if err != nil {
		t.Fatalf("set goal: %v", err)
	}
	if updated.ReadingGoal == nil || *updated.ReadingGoal != 24 {
		t.Fatalf("goal = %v, want 24", updated.ReadingGoal)
	}
	if _, err := e.SetReadingGoal(ctx, "missing", 10); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("missing member err = %v, want repo.ErrNotFound", err)
	}
}

func TestRemarkValidation(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	m, err := e.Join(ctx, "Robin", "")
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	if _, err := e.AddRemark(ctx, m.ID, "nope", "great", nil); !errors.Is(err, ErrUnknownBook) {
		t.Fatalf("unknown book err = %v, want ErrUnknownBook", err)
	}
	bad := 6
	if _, err := e.AddRemark(ctx, m.ID, "s1", "great", &bad); err == nil {
		t.Fatal("expected error for rating out of range")
	}
	rating := 4
	rm, err := e.AddRemark(ctx, m.ID, "s1", "loved the ending", &rating)
	if err != nil {
		t.Fatalf("add remark: %v", err)
	}
	listed, err := e.Repo.ListRemarks(ctx, "s1")
	if err != nil {
		t.Fatalf("list remarks: %v", err)
	}
	if len(listed) != 1 || listed[0].ID != rm.ID || *listed[0].Rating != 4 {
		t.Fatalf("remarks = %+v", listed)
	}
}

func TestSuggestionLifecycle(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	owner, err := e.Join(ctx, "Robin", "")
	if err != nil {
		t.Fatalf("join owner: %v", err)
	}
	other, err := e.Join(ctx, "Casey", "")
	if err != nil {
		t.Fatalf("join other: %v", err)
	}

	s, err := e.AddSuggestion(ctx, owner.ID, "Piranesi", "Susanna Clarke", "", []string{"fantasy"})
	if err != nil {
		t.Fatalf("suggest: %v", err)
	}
	if len(s.Votes) != 1 || s.Votes[0] != owner.ID {
		t.Fatalf("votes = %v, want auto-vote from owner", s.Votes)
	}
	if _, err := e.AddSuggestion(ctx, other.ID, "piranesi", "", "", nil); !errors.Is(err, ErrDuplicateSuggestion) {
		t.Fatalf("duplicate err = %v, want ErrDuplicateSuggestion", err)
	}

	voted, err := e.VoteSuggestion(ctx, other.ID, s.ID)
	if err != nil || !voted {
		t.Fatalf("vote = %v, %v; want true, nil", voted, err)
	}
	voted, err = e.VoteSuggestion(ctx, other.ID, s.ID)
	if err != nil || voted {
		t.Fatalf("unvote = %v, %v; want false, nil", voted, err)
	}

	if err := e.DeleteSuggestion(ctx, other.ID, s.ID); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("delete by non-owner err = %v, want ErrNotOwner", err)
	}
	if err := e.DeleteSuggestion(ctx, owner.ID, s.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := e.Repo.GetSuggestion(ctx, s.ID); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("after delete err = %v, want repo.ErrNotFound", err)
	}
}

func TestSetProgress(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	m, err := e.Join(ctx, "Robin", "")
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	if _, err := e.SetProgress(ctx, m.ID, "s1", 30, 20); err == nil {
		t.Fatal("expected error for chapter past total")
	}
	p, err := e.SetProgress(ctx, m.ID, "s1", 5, 20)
	if err != nil {
		t.Fatalf("set progress: %v", err)
	}
	if p.CurrentChapter != 5 || p.TotalChapters != 20 {
		t.Fatalf("progress = %+v", p)
	}
	// Upsert replaces the previous row.
	if _, err := e.SetProgress(ctx, m.ID, "s1", 12, 20); err != nil {
		t.Fatalf("update progress: %v", err)
	}
	listed, err := e.Repo.ListProgress(ctx, "s1")
	if err != nil {
		t.Fatalf("list progress: %v", err)
	}
	if len(listed) != 1 || listed[0].CurrentChapter != 12 {
		t.Fatalf("progress rows = %+v", listed)
	}
}

func TestCreateAPIKey(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	m, err := e.Join(ctx, "Robin", "")
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	key, plaintext, err := e.CreateAPIKey(ctx, m.ID, "scripts")
	if err != nil {
		t.Fatalf("create api key: %v", err)
	}
	if plaintext == "" || key.KeyHash != repo.HashAPIKey(plaintext) {
		t.Fatal("plaintext does not hash to the stored value")
	}
	got, err := e.Repo.GetAPIKeyByHash(ctx, repo.HashAPIKey(plaintext))
	if err != nil {
		t.Fatalf("lookup by hash: %v", err)
	}
	if got.MemberID != m.ID {
		t.Fatalf("key member = %s, want %s", got.MemberID, m.ID)
	}
}
