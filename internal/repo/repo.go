package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"nextread/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

// --- members ---

func (r Repo) InsertMember(ctx context.Context, tx *sql.Tx, m domain.Member) error {
	exec := r.DB.ExecContext
	if tx != nil {
		exec = tx.ExecContext
	}
	_, err := exec(ctx, `INSERT INTO members(id,display_name,avatar_url,reading_goal,joined_at) VALUES (?,?,?,?,?)`,
		m.ID, m.DisplayName, nullable(m.AvatarURL), m.ReadingGoal, m.JoinedAt)
	return err
}

func scanMember(row *sql.Row) (domain.Member, error) {
	var m domain.Member
	var avatar sql.NullString
	var goal sql.NullInt64
	err := row.Scan(&m.ID, &m.DisplayName, &avatar, &goal, &m.JoinedAt)
	if err == sql.ErrNoRows {
		return m, ErrNotFound
	}
	if err != nil {
		return m, err
	}
	if avatar.Valid {
		m.AvatarURL = avatar.String
	}
	if goal.Valid {
		g := int(goal.Int64)
		m.ReadingGoal = &g
	}
	return m, nil
}

func (r Repo) GetMember(ctx context.Context, id string) (domain.Member, error) {
	return scanMember(r.DB.QueryRowContext(ctx,
		`SELECT id,display_name,avatar_url,reading_goal,joined_at FROM members WHERE id=?`, id))
}

func (r Repo) GetMemberByName(ctx context.Context, displayName string) (domain.Member, error) {
	return scanMember(r.DB.QueryRowContext(ctx,
		`SELECT id,display_name,avatar_url,reading_goal,joined_at FROM members WHERE display_name=? COLLATE NOCASE`, displayName))
}

func (r Repo) ListMembers(ctx context.Context) ([]domain.Member, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT id,display_name,avatar_url,reading_goal,joined_at FROM members ORDER BY joined_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var members []domain.Member
	for rows.Next() {
		var m domain.Member
		var avatar sql.NullString
		var goal sql.NullInt64
		if err := rows.Scan(&m.ID, &m.DisplayName, &avatar, &goal, &m.JoinedAt); err != nil {
			return nil, err
		}
		if avatar.Valid {
			m.AvatarURL = avatar.String
		}
		if goal.Valid {
			g := int(goal.Int64)
			m.ReadingGoal = &g
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

func (r Repo) UpdateMember(ctx context.Context, id string, displayName, avatarURL *string, readingGoal *int) error {
	var (
		fields []string
		args   []any
	)
	if displayName != nil {
		fields = append(fields, "display_name=?")
		args = append(args, *displayName)
	}
	if avatarURL != nil {
		fields = append(fields, "avatar_url=?")
		args = append(args, nullable(*avatarURL))
	}
	if readingGoal != nil {
		fields = append(fields, "reading_goal=?")
		args = append(args, *readingGoal)
	}
	if len(fields) == 0 {
		return nil
	}
	args = append(args, id)
	res, err := r.DB.ExecContext(ctx, fmt.Sprintf(`UPDATE members SET %s WHERE id=?`, strings.Join(fields, ",")), args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// --- remarks ---

func (r Repo) InsertRemark(ctx context.Context, tx *sql.Tx, rm domain.Remark) error {
	exec := r.DB.ExecContext
	if tx != nil {
		exec = tx.ExecContext
	}
	_, err := exec(ctx, `INSERT INTO remarks(id,book_id,member_id,rating,note,created_at) VALUES (?,?,?,?,?,?)`,
		rm.ID, rm.BookID, rm.MemberID, rm.Rating, rm.Note, rm.CreatedAt)
	return err
}

func (r Repo) ListRemarks(ctx context.Context, bookID string) ([]domain.Remark, error) {
	query := `SELECT id,book_id,member_id,rating,note,created_at FROM remarks`
	var args []any
	if bookID != "" {
		query += ` WHERE book_id=?`
		args = append(args, bookID)
	}
	query += ` ORDER BY created_at DESC`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var remarks []domain.Remark
	for rows.Next() {
		var rm domain.Remark
		var rating sql.NullInt64
		if err := rows.Scan(&rm.ID, &rm.BookID, &rm.MemberID, &rating, &rm.Note, &rm.CreatedAt); err != nil {
			return nil, err
		}
		if rating.Valid {
			v := int(rating.Int64)
			rm.Rating = &v
		}
		remarks = append(remarks, rm)
	}
	return remarks, rows.Err()
}

// --- suggestions ---

func (r Repo) InsertSuggestion(ctx context.Context, tx *sql.Tx, s domain.Suggestion) error {
	exec := r.DB.ExecContext
	if tx != nil {
		exec = tx.ExecContext
	}
	genres, err := marshalStringSlice(s.Genres)
	if err != nil {
		return err
	}
	_, err = exec(ctx, `INSERT INTO suggestions(id,title,author,cover_url,genres_json,suggested_by,created_at) VALUES (?,?,?,?,?,?,?)`,
		s.ID, s.Title, nullable(s.Author), nullable(s.CoverURL), genres, s.SuggestedBy, s.CreatedAt)
	return err
}

func (r Repo) GetSuggestion(ctx context.Context, id string) (domain.Suggestion, error) {
	row := r.DB.QueryRowContext(ctx,
		`SELECT id,title,COALESCE(author,''),COALESCE(cover_url,''),genres_json,suggested_by,created_at FROM suggestions WHERE id=?`, id)
	var s domain.Suggestion
	var genres sql.NullString
	err := row.Scan(&s.ID, &s.Title, &s.Author, &s.CoverURL, &genres, &s.SuggestedBy, &s.CreatedAt)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	if err != nil {
		return s, err
	}
	if genres.Valid && genres.String != "" {
		_ = json.Unmarshal([]byte(genres.String), &s.Genres)
	}
	s.Votes, err = r.listVotes(ctx, s.ID)
	return s, err
}

// GetSuggestionByTitle matches case-insensitively, for duplicate detection.
func (r Repo) GetSuggestionByTitle(ctx context.Context, title string) (domain.Suggestion, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT id FROM suggestions WHERE title=? COLLATE NOCASE LIMIT 1`, title)
	var id string
	err := row.Scan(&id)
	if err == sql.ErrNoRows {
		return domain.Suggestion{}, ErrNotFound
	}
	if err != nil {
		return domain.Suggestion{}, err
	}
	return r.GetSuggestion(ctx, id)
}

func (r Repo) ListSuggestions(ctx context.Context) ([]domain.Suggestion, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT id,title,COALESCE(author,''),COALESCE(cover_url,''),genres_json,suggested_by,created_at FROM suggestions ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var suggestions []domain.Suggestion
	for rows.Next() {
		var s domain.Suggestion
		var genres sql.NullString
		if err := rows.Scan(&s.ID, &s.Title, &s.Author, &s.CoverURL, &genres, &s.SuggestedBy, &s.CreatedAt); err != nil {
			return nil, err
		}
		if genres.Valid && genres.String != "" {
			_ = json.Unmarshal([]byte(genres.String), &s.Genres)
		}
		suggestions = append(suggestions, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range suggestions {
		votes, err := r.listVotes(ctx, suggestions[i].ID)
		if err != nil {
			return nil, err
		}
		suggestions[i].Votes = votes
	}
	return suggestions, nil
}

func (r Repo) DeleteSuggestion(ctx context.Context, id string) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM suggestions WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) listVotes(ctx context.Context, suggestionID string) ([]string, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT member_id FROM suggestion_votes WHERE suggestion_id=? ORDER BY created_at`, suggestionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	votes := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		votes = append(votes, id)
	}
	return votes, rows.Err()
}

// ToggleVote adds the member's vote, or removes it when already present.
// It reports whether the member has a vote after the call.
func (r Repo) ToggleVote(ctx context.Context, tx *sql.Tx, suggestionID, memberID, now string) (bool, error) {
	query := tx.QueryRowContext
	exec := tx.ExecContext
	var exists int
	err := query(ctx, `SELECT 1 FROM suggestion_votes WHERE suggestion_id=? AND member_id=?`, suggestionID, memberID).Scan(&exists)
	switch {
	case err == sql.ErrNoRows:
		_, err = exec(ctx, `INSERT INTO suggestion_votes(suggestion_id,member_id,created_at) VALUES (?,?,?)`,
			suggestionID, memberID, now)
		return true, err
	case err != nil:
		return false, err
	default:
		_, err = exec(ctx, `DELETE FROM suggestion_votes WHERE suggestion_id=? AND member_id=?`, suggestionID, memberID)
		return false, err
	}
}

// --- reading progress ---

func (r Repo) UpsertProgress(ctx context.Context, p domain.ReadingProgress) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO reading_progress(member_id,book_id,current_chapter,total_chapters,updated_at) VALUES (?,?,?,?,?)
ON CONFLICT(member_id,book_id) DO UPDATE SET current_chapter=excluded.current_chapter, total_chapters=excluded.total_chapters, updated_at=excluded.updated_at`,
		p.MemberID, p.BookID, p.CurrentChapter, p.TotalChapters, p.UpdatedAt)
	return err
}

func (r Repo) ListProgress(ctx context.Context, bookID string) ([]domain.ReadingProgress, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT member_id,book_id,current_chapter,total_chapters,updated_at FROM reading_progress WHERE book_id=?`, bookID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var progress []domain.ReadingProgress
	for rows.Next() {
		var p domain.ReadingProgress
		if err := rows.Scan(&p.MemberID, &p.BookID, &p.CurrentChapter, &p.TotalChapters, &p.UpdatedAt); err != nil {
			return nil, err
		}
		progress = append(progress, p)
	}
	return progress, rows.Err()
}

// --- events ---

func (r Repo) ListEvents(ctx context.Context, limit int) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.DB.QueryContext(ctx,
		`SELECT id,ts,type,entity_kind,COALESCE(entity_id,''),actor_id,payload_json FROM events ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectEvents(rows)
}

// EventsAfter returns up to limit events with id greater than cursor, oldest
// first. The webhook dispatcher tails the log with this.
func (r Repo) EventsAfter(ctx context.Context, limit int, cursor int64) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.DB.QueryContext(ctx,
		`SELECT id,ts,type,entity_kind,COALESCE(entity_id,''),actor_id,payload_json FROM events WHERE id>? ORDER BY id LIMIT ?`, cursor, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectEvents(rows)
}

func (r Repo) LatestEventID(ctx context.Context) (int64, error) {
	var id sql.NullInt64
	if err := r.DB.QueryRowContext(ctx, `SELECT MAX(id) FROM events`).Scan(&id); err != nil {
		return 0, err
	}
	return id.Int64, nil
}

func collectEvents(rows *sql.Rows) ([]domain.Event, error) {
	var events []domain.Event
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.EntityKind, &e.EntityID, &e.ActorID, &e.Payload); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// --- helpers ---

func marshalStringSlice(in []string) (*string, error) {
	if len(in) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(in)
	if err != nil {
		return nil, err
	}
	s := string(b)
	return &s, nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
