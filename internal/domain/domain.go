package domain

// Series is embedded in a Book. The name is the join key across books of the
// same series; there is no separate series entity.
type Series struct {
	Name  string `json:"name" yaml:"name"`
	Order int    `json:"order" yaml:"order"`
	Total int    `json:"total" yaml:"total"`
}

type Book struct {
	ID       string   `json:"id" yaml:"id"`
	Title    string   `json:"title" yaml:"title"`
	Author   string   `json:"author" yaml:"author"`
	Genres   []string `json:"genres,omitempty" yaml:"genres,omitempty"`
	Series   *Series  `json:"series,omitempty" yaml:"series,omitempty"`
	CoverURL string   `json:"cover_url,omitempty" yaml:"cover_url,omitempty"`
}

// Series statuses within the shared club state.
const (
	SeriesUnstarted = "unstarted"
	SeriesActive    = "active"
	SeriesPaused    = "paused"
	SeriesDropped   = "dropped"
)

type SeriesState struct {
	Status    string `json:"status" enum:"unstarted,active,paused,dropped"`
	NextOrder int    `json:"next_order"`
}

// AppState is the single shared club snapshot, keyed by a fixed id.
type AppState struct {
	ID               string                 `json:"id"`
	CompletedBookIDs []string               `json:"completed_book_ids"`
	SeriesState      map[string]SeriesState `json:"series_state"`
	CurrentPickID    string                 `json:"current_pick_id,omitempty"`
	PendingDecision  string                 `json:"pending_decision,omitempty"`
	UpdatedAt        string                 `json:"updated_at" format:"date-time"`
}

// PickResult is returned to the caller and never persisted.
type PickResult struct {
	Book          *Book  `json:"book"`
	Forced        bool   `json:"forced"`
	Reason        string `json:"reason"`
	EligibleCount int    `json:"eligible_count"`
}

// App modes derived from state.
const (
	ModeDecisionRequired = "decision_required"
	ModeSeriesLock       = "series_lock"
	ModeRandomDraw       = "random_draw"
)

type ModeInfo struct {
	Mode       string `json:"mode" enum:"decision_required,series_lock,random_draw"`
	SeriesName string `json:"series_name,omitempty"`
	NextOrder  int    `json:"next_order,omitempty"`
}

// Decisions accepted after a pilot book is completed.
const (
	DecisionContinue = "continue"
	DecisionPause    = "pause"
	DecisionDrop     = "drop"
)

type Eligibility struct {
	Eligible bool   `json:"eligible"`
	Reason   string `json:"reason"`
}

type SeriesProgress struct {
	Completed int    `json:"completed"`
	Total     int    `json:"total"`
	Status    string `json:"status"`
}

type Member struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	AvatarURL   string `json:"avatar_url,omitempty"`
	ReadingGoal *int   `json:"reading_goal,omitempty"`
	JoinedAt    string `json:"joined_at" format:"date-time"`
}

type Remark struct {
	ID        string `json:"id"`
	BookID    string `json:"book_id"`
	MemberID  string `json:"member_id"`
	Rating    *int   `json:"rating,omitempty"`
	Note      string `json:"note"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type Suggestion struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Author      string   `json:"author,omitempty"`
	CoverURL    string   `json:"cover_url,omitempty"`
	Genres      []string `json:"genres,omitempty"`
	SuggestedBy string   `json:"suggested_by"`
	Votes       []string `json:"votes"`
	CreatedAt   string   `json:"created_at" format:"date-time"`
}

type ReadingProgress struct {
	MemberID       string `json:"member_id"`
	BookID         string `json:"book_id"`
	CurrentChapter int    `json:"current_chapter"`
	TotalChapters  int    `json:"total_chapters"`
	UpdatedAt      string `json:"updated_at" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	MemberID  string `json:"member_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
