package nextreadsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Nextread HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Book mirrors the API catalog model.
type Book struct {
	ID       string   `json:"id"`
	Title    string   `json:"title"`
	Author   string   `json:"author"`
	Genres   []string `json:"genres,omitempty"`
	Series   *Series  `json:"series,omitempty"`
	CoverURL string   `json:"cover_url,omitempty"`
}

type Series struct {
	Name  string `json:"name"`
	Order int    `json:"order"`
	Total int    `json:"total"`
}

type SeriesState struct {
	Status    string `json:"status"`
	NextOrder int    `json:"next_order"`
}

// AppState is the shared club snapshot.
type AppState struct {
	ID               string                 `json:"id"`
	CompletedBookIDs []string               `json:"completed_book_ids"`
	SeriesState      map[string]SeriesState `json:"series_state"`
	CurrentPickID    string                 `json:"current_pick_id,omitempty"`
	PendingDecision  string                 `json:"pending_decision,omitempty"`
	UpdatedAt        string                 `json:"updated_at"`
}

type ModeInfo struct {
	Mode       string `json:"mode"`
	SeriesName string `json:"series_name,omitempty"`
	NextOrder  int    `json:"next_order,omitempty"`
}

type PickResult struct {
	Book          *Book  `json:"book"`
	Forced        bool   `json:"forced"`
	Reason        string `json:"reason"`
	EligibleCount int    `json:"eligible_count"`
}

type Member struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	AvatarURL   string `json:"avatar_url,omitempty"`
	ReadingGoal *int   `json:"reading_goal,omitempty"`
	JoinedAt    string `json:"joined_at"`
}

type Suggestion struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Author      string   `json:"author,omitempty"`
	CoverURL    string   `json:"cover_url,omitempty"`
	Genres      []string `json:"genres,omitempty"`
	SuggestedBy string   `json:"suggested_by"`
	Votes       []string `json:"votes"`
	CreatedAt   string   `json:"created_at"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// Login exchanges the club passcode for a bearer token and stores it on the
// client for subsequent calls.
func (c *Client) Login(ctx context.Context, displayName, passcode string) (Member, error) {
	var resp struct {
		Token  string `json:"token"`
		Member Member `json:"member"`
	}
	err := c.do(ctx, http.MethodPost, "v0/login", map[string]any{
		"display_name": displayName,
		"passcode":     passcode,
	}, &resp)
	if err != nil {
		return Member{}, err
	}
	c.BearerToken = resp.Token
	return resp.Member, nil
}

// State returns the shared state and derived mode.
func (c *Client) State(ctx context.Context) (AppState, ModeInfo, error) {
	var resp struct {
		State AppState `json:"state"`
		Mode  ModeInfo `json:"mode"`
	}
	err := c.do(ctx, http.MethodGet, "v0/state", nil, &resp)
	return resp.State, resp.Mode, err
}

// Draw picks the next book.
func (c *Client) Draw(ctx context.Context) (PickResult, error) {
	var resp PickResult
	err := c.do(ctx, http.MethodPost, "v0/draw", nil, &resp)
	return resp, err
}

// Complete marks a book finished.
func (c *Client) Complete(ctx context.Context, bookID string) (AppState, error) {
	var resp AppState
	endpoint := fmt.Sprintf("v0/books/%s/complete", url.PathEscape(bookID))
	err := c.do(ctx, http.MethodPost, endpoint, nil, &resp)
	return resp, err
}

// Decide resolves the pending series decision.
func (c *Client) Decide(ctx context.Context, seriesName, decision string) (AppState, error) {
	var resp AppState
	endpoint := fmt.Sprintf("v0/series/%s/decision", url.PathEscape(seriesName))
	err := c.do(ctx, http.MethodPost, endpoint, map[string]any{"decision": decision}, &resp)
	return resp, err
}

// PauseSeries suspends an active series.
func (c *Client) PauseSeries(ctx context.Context, seriesName string) (AppState, error) {
	var resp AppState
	endpoint := fmt.Sprintf("v0/series/%s/pause", url.PathEscape(seriesName))
	err := c.do(ctx, http.MethodPost, endpoint, nil, &resp)
	return resp, err
}

// ResumeSeries reactivates a paused series.
func (c *Client) ResumeSeries(ctx context.Context, seriesName string) (AppState, error) {
	var resp AppState
	endpoint := fmt.Sprintf("v0/series/%s/resume", url.PathEscape(seriesName))
	err := c.do(ctx, http.MethodPost, endpoint, nil, &resp)
	return resp, err
}

// Suggest adds a book suggestion.
func (c *Client) Suggest(ctx context.Context, title, author string, genres []string) (Suggestion, error) {
	var resp Suggestion
	err := c.do(ctx, http.MethodPost, "v0/suggestions", map[string]any{
		"title":  title,
		"author": author,
		"genres": genres,
	}, &resp)
	return resp, err
}

// Vote toggles the caller's vote on a suggestion.
func (c *Client) Vote(ctx context.Context, suggestionID string) (bool, error) {
	var resp struct {
		Voted bool `json:"voted"`
	}
	endpoint := fmt.Sprintf("v0/suggestions/%s/vote", url.PathEscape(suggestionID))
	err := c.do(ctx, http.MethodPost, endpoint, nil, &resp)
	return resp.Voted, err
}

// Events returns recent audit events, newest first.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	endpoint := "v0/events"
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	var resp []Event
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
