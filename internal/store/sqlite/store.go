package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/engramdev/engram/internal/memory"
	"github.com/engramdev/engram/internal/retrieval"
)

// timeLayout is fixed-width so lexicographic comparison on stored strings
// matches chronological order.
const timeLayout = "2006-01-02T15:04:05.000Z07:00"

// Store implements memory.Store on SQLite.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Compile-time interface guard.
var _ memory.Store = (*Store)(nil)

// Close releases the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

// SetClock overrides the store's clock. Test hook.
func (s *Store) SetClock(now func() time.Time) { s.now = now }

func (s *Store) clock() time.Time {
	if s.now != nil {
		return s.now().UTC()
	}
	return time.Now().UTC()
}

// EnsureSession implements memory.Store.
func (s *Store) EnsureSession(ctx context.Context, userID, sessionID string) (memory.Session, error) {
	var owner string
	err := s.db.QueryRowContext(ctx, "SELECT user_id FROM sessions WHERE id = ?", sessionID).Scan(&owner)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		now := s.clock()
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO sessions (id, user_id, active, created_at, updated_at)
			VALUES (?, ?, 1, ?, ?)`,
			sessionID, userID, fmtTime(now), fmtTime(now))
		if err != nil {
			return memory.Session{}, fmt.Errorf("sqlite: create session: %w", err)
		}
		return memory.Session{ID: sessionID, UserID: userID, Active: true, CreatedAt: now, UpdatedAt: now}, nil
	case err != nil:
		return memory.Session{}, fmt.Errorf("sqlite: lookup session: %w", err)
	case owner != userID:
		return memory.Session{}, memory.ErrSessionOwner
	}
	return s.Session(ctx, sessionID)
}

// Session implements memory.Store.
func (s *Store) Session(ctx context.Context, sessionID string) (memory.Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, title, active, created_at, updated_at
		FROM sessions WHERE id = ?`, sessionID)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return memory.Session{}, memory.ErrSessionNotFound
	}
	return sess, err
}

// SessionsForUser implements memory.Store.
func (s *Store) SessionsForUser(ctx context.Context, userID string) ([]memory.Session, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, title, active, created_at, updated_at
		FROM sessions WHERE user_id = ?
		ORDER BY updated_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: sessions for user: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []memory.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

// Users implements memory.Store.
func (s *Store) Users(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT DISTINCT user_id FROM sessions ORDER BY user_id")
	if err != nil {
		return nil, fmt.Errorf("sqlite: list users: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("sqlite: scan user: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// AppendMessage implements memory.Store. The seq assignment and the session
// bookkeeping happen in one transaction.
func (s *Store) AppendMessage(ctx context.Context, msg memory.Message) (memory.Message, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return memory.Message{}, fmt.Errorf("sqlite: begin append tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var title string
	err = tx.QueryRowContext(ctx, "SELECT title FROM sessions WHERE id = ?", msg.SessionID).Scan(&title)
	if errors.Is(err, sql.ErrNoRows) {
		return memory.Message{}, memory.ErrSessionNotFound
	}
	if err != nil {
		return memory.Message{}, fmt.Errorf("sqlite: lookup session: %w", err)
	}

	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	msg.CreatedAt = s.clock()
	msg.Summarized = false
	msg.SummaryRef = ""

	topics, err := json.Marshal(sliceOrEmpty(msg.Topics))
	if err != nil {
		return memory.Message{}, fmt.Errorf("sqlite: marshal topics: %w", err)
	}

	err = tx.QueryRowContext(ctx, `
		INSERT INTO messages (session_id, seq, id, role, content, token_count, importance, topics, embedding, created_at)
		VALUES (?, COALESCE((SELECT MAX(seq) FROM messages WHERE session_id = ?), 0) + 1,
		        ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING seq`,
		msg.SessionID, msg.SessionID,
		msg.ID, string(msg.Role), msg.Content, msg.TokenCount, msg.Importance,
		string(topics), encodeEmbedding(msg.Embedding), fmtTime(msg.CreatedAt),
	).Scan(&msg.Seq)
	if err != nil {
		return memory.Message{}, fmt.Errorf("sqlite: append message: %w", err)
	}

	if title == "" && msg.Role == memory.RoleUser {
		title = memory.DeriveTitle(msg.Content)
	}
	if _, err := tx.ExecContext(ctx,
		"UPDATE sessions SET updated_at = ?, title = ? WHERE id = ?",
		fmtTime(msg.CreatedAt), title, msg.SessionID); err != nil {
		return memory.Message{}, fmt.Errorf("sqlite: bump session: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return memory.Message{}, fmt.Errorf("sqlite: commit append: %w", err)
	}
	return msg, nil
}

// Message implements memory.Store.
func (s *Store) Message(ctx context.Context, messageID string) (memory.Message, error) {
	row := s.db.QueryRowContext(ctx, messageColumns+`
		FROM messages
		WHERE id = ?`, messageID)
	msg, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return memory.Message{}, memory.ErrMessageNotFound
	}
	if err != nil {
		return memory.Message{}, fmt.Errorf("sqlite: load message: %w", err)
	}
	return msg, nil
}

// RecentMessages implements memory.Store.
func (s *Store) RecentMessages(ctx context.Context, sessionID string, limit int) ([]memory.Message, error) {
	if limit <= 0 {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, messageColumns+`
		FROM messages
		WHERE session_id = ? AND summarized = 0
		ORDER BY seq DESC
		LIMIT ?`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite: recent messages: %w", err)
	}
	msgs, err := collectMessages(rows)
	if err != nil {
		return nil, err
	}
	slices.Reverse(msgs)
	return msgs, nil
}

// MessagesOlderThan implements memory.Store.
func (s *Store) MessagesOlderThan(ctx context.Context, sessionID string, cutoff time.Time) ([]memory.Message, error) {
	rows, err := s.db.QueryContext(ctx, messageColumns+`
		FROM messages
		WHERE session_id = ? AND summarized = 0 AND created_at < ?
		ORDER BY seq ASC`, sessionID, fmtTime(cutoff.UTC()))
	if err != nil {
		return nil, fmt.Errorf("sqlite: messages older than: %w", err)
	}
	return collectMessages(rows)
}

// MessagesBySummary implements memory.Store.
func (s *Store) MessagesBySummary(ctx context.Context, summaryID string) ([]memory.Message, error) {
	rows, err := s.db.QueryContext(ctx, messageColumns+`
		FROM messages
		WHERE summary_ref = ?
		ORDER BY seq ASC`, summaryID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: messages by summary: %w", err)
	}
	return collectMessages(rows)
}

// SetImportance implements memory.Store.
func (s *Store) SetImportance(ctx context.Context, messageID string, score float64) error {
	res, err := s.db.ExecContext(ctx, "UPDATE messages SET importance = ? WHERE id = ?", score, messageID)
	if err != nil {
		return fmt.Errorf("sqlite: set importance: %w", err)
	}
	return checkFound(res, memory.ErrMessageNotFound)
}

// SetMessageEmbedding implements memory.Store.
func (s *Store) SetMessageEmbedding(ctx context.Context, messageID string, vec []float32) error {
	res, err := s.db.ExecContext(ctx, "UPDATE messages SET embedding = ? WHERE id = ?", encodeEmbedding(vec), messageID)
	if err != nil {
		return fmt.Errorf("sqlite: set message embedding: %w", err)
	}
	return checkFound(res, memory.ErrMessageNotFound)
}

// CreateSummary implements memory.Store. The summary insert and the source
// flag flips commit together or not at all.
func (s *Store) CreateSummary(ctx context.Context, sum memory.Summary, messageIDs []string) (memory.Summary, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return memory.Summary{}, fmt.Errorf("sqlite: begin summary tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	// Validate the whole batch before mutating anything.
	for _, id := range messageIDs {
		var summarized int
		err := tx.QueryRowContext(ctx, "SELECT summarized FROM messages WHERE id = ?", id).Scan(&summarized)
		if errors.Is(err, sql.ErrNoRows) {
			return memory.Summary{}, memory.ErrMessageNotFound
		}
		if err != nil {
			return memory.Summary{}, fmt.Errorf("sqlite: lookup message: %w", err)
		}
		if summarized != 0 {
			return memory.Summary{}, memory.ErrAlreadySummarized
		}
	}

	if sum.ID == "" {
		sum.ID = uuid.NewString()
	}
	now := s.clock()
	sum.CreatedAt = now
	sum.UpdatedAt = now

	keyPoints, err := json.Marshal(sliceOrEmpty(sum.KeyPoints))
	if err != nil {
		return memory.Summary{}, fmt.Errorf("sqlite: marshal key points: %w", err)
	}
	topics, err := json.Marshal(sliceOrEmpty(sum.Topics))
	if err != nil {
		return memory.Summary{}, fmt.Errorf("sqlite: marshal topics: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO summaries (id, user_id, session_id, kind, content, key_points, topics,
		                       importance, original_tokens, token_count, restored, embedding,
		                       created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?, ?)`,
		sum.ID, sum.UserID, sum.SessionID, string(sum.Kind), sum.Content,
		string(keyPoints), string(topics), sum.Importance, sum.OriginalTokens,
		sum.TokenCount, encodeEmbedding(sum.Embedding), fmtTime(now), fmtTime(now))
	if err != nil {
		return memory.Summary{}, fmt.Errorf("sqlite: insert summary: %w", err)
	}

	for _, id := range messageIDs {
		if _, err := tx.ExecContext(ctx,
			"UPDATE messages SET summarized = 1, summary_ref = ? WHERE id = ?", sum.ID, id); err != nil {
			return memory.Summary{}, fmt.Errorf("sqlite: flag message summarized: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return memory.Summary{}, fmt.Errorf("sqlite: commit summary: %w", err)
	}
	return sum, nil
}

// RestoreSummary implements memory.Store.
func (s *Store) RestoreSummary(ctx context.Context, summaryID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin restore tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var one int
	err = tx.QueryRowContext(ctx, "SELECT 1 FROM summaries WHERE id = ?", summaryID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return memory.ErrSummaryNotFound
	}
	if err != nil {
		return fmt.Errorf("sqlite: lookup summary: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		"UPDATE messages SET summarized = 0, summary_ref = '' WHERE summary_ref = ?", summaryID); err != nil {
		return fmt.Errorf("sqlite: unflag messages: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		"UPDATE summaries SET restored = 1, updated_at = ? WHERE id = ?",
		fmtTime(s.clock()), summaryID); err != nil {
		return fmt.Errorf("sqlite: mark summary restored: %w", err)
	}

	return tx.Commit()
}

// SummariesForUser implements memory.Store.
func (s *Store) SummariesForUser(ctx context.Context, userID string) ([]memory.Summary, error) {
	rows, err := s.db.QueryContext(ctx, summaryColumns+`
		FROM summaries
		WHERE user_id = ? AND restored = 0
		ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: summaries for user: %w", err)
	}
	return collectSummaries(rows)
}

// Summary implements memory.Store.
func (s *Store) Summary(ctx context.Context, summaryID string) (memory.Summary, error) {
	row := s.db.QueryRowContext(ctx, summaryColumns+" FROM summaries WHERE id = ?", summaryID)
	sum, err := scanSummary(row)
	if errors.Is(err, sql.ErrNoRows) {
		return memory.Summary{}, memory.ErrSummaryNotFound
	}
	return sum, err
}

// SetSummaryEmbedding implements memory.Store.
func (s *Store) SetSummaryEmbedding(ctx context.Context, summaryID string, vec []float32) error {
	res, err := s.db.ExecContext(ctx, "UPDATE summaries SET embedding = ? WHERE id = ?", encodeEmbedding(vec), summaryID)
	if err != nil {
		return fmt.Errorf("sqlite: set summary embedding: %w", err)
	}
	return checkFound(res, memory.ErrSummaryNotFound)
}

// SearchMessages implements memory.Store with FTS5 ranking.
func (s *Store) SearchMessages(ctx context.Context, userID, query string, limit int) ([]memory.Message, error) {
	match := ftsQuery(query)
	if match == "" {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, messageColumns+`
		FROM messages_fts f
		JOIN messages ON messages.rowid = f.rowid
		JOIN sessions ON sessions.id = messages.session_id
		WHERE messages_fts MATCH ? AND sessions.user_id = ? AND messages.summarized = 0
		ORDER BY rank
		LIMIT ?`, match, userID, limitOrDefault(limit))
	if err != nil {
		return nil, fmt.Errorf("sqlite: search messages: %w", err)
	}
	return collectMessages(rows)
}

// SearchSummaries implements memory.Store with FTS5 ranking.
func (s *Store) SearchSummaries(ctx context.Context, userID, query string, limit int) ([]memory.Summary, error) {
	match := ftsQuery(query)
	if match == "" {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, summaryColumns+`
		FROM summaries_fts f
		JOIN summaries ON summaries.rowid = f.rowid
		WHERE summaries_fts MATCH ? AND summaries.user_id = ? AND summaries.restored = 0
		ORDER BY rank
		LIMIT ?`, match, userID, limitOrDefault(limit))
	if err != nil {
		return nil, fmt.Errorf("sqlite: search summaries: %w", err)
	}
	return collectSummaries(rows)
}

// RecordAccess implements memory.Store.
func (s *Store) RecordAccess(ctx context.Context, rec memory.AccessRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.clock()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO access_records (id, user_id, session_id, message_id, summary_id, access_type, relevance, explicit, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.UserID, rec.SessionID, rec.MessageID, rec.SummaryID,
		string(rec.AccessType), rec.Relevance, boolInt(rec.Explicit), fmtTime(rec.CreatedAt.UTC()))
	if err != nil {
		return fmt.Errorf("sqlite: record access: %w", err)
	}
	return nil
}

// LatestFeedback implements memory.Store.
func (s *Store) LatestFeedback(ctx context.Context, messageID string) (float64, bool, error) {
	var score float64
	err := s.db.QueryRowContext(ctx, `
		SELECT relevance FROM access_records
		WHERE message_id = ? AND explicit = 1
		ORDER BY created_at DESC, rowid DESC
		LIMIT 1`, messageID).Scan(&score)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("sqlite: latest feedback: %w", err)
	}
	return score, true, nil
}

// AccessRecordsSince implements memory.Store.
func (s *Store) AccessRecordsSince(ctx context.Context, userID string, since time.Time) ([]memory.AccessRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, session_id, message_id, summary_id, access_type, relevance, explicit, created_at
		FROM access_records
		WHERE user_id = ? AND created_at >= ?
		ORDER BY created_at ASC, rowid ASC`, userID, fmtTime(since.UTC()))
	if err != nil {
		return nil, fmt.Errorf("sqlite: access records since: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []memory.AccessRecord
	for rows.Next() {
		var (
			rec        memory.AccessRecord
			accessType string
			explicit   int
			createdAt  string
		)
		if err := rows.Scan(&rec.ID, &rec.UserID, &rec.SessionID, &rec.MessageID, &rec.SummaryID,
			&accessType, &rec.Relevance, &explicit, &createdAt); err != nil {
			return nil, fmt.Errorf("sqlite: scan access record: %w", err)
		}
		rec.AccessType = memory.AccessType(accessType)
		rec.Explicit = explicit != 0
		if rec.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// PruneAccessRecords implements memory.Store.
func (s *Store) PruneAccessRecords(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM access_records WHERE created_at < ?", fmtTime(cutoff.UTC()))
	if err != nil {
		return 0, fmt.Errorf("sqlite: prune access records: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("sqlite: prune rows affected: %w", err)
	}
	return int(n), nil
}

// UserMessageStats implements memory.Store.
func (s *Store) UserMessageStats(ctx context.Context, userID string) (memory.MessageStats, error) {
	var stats memory.MessageStats
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sessions WHERE user_id = ?", userID).Scan(&stats.Sessions)
	if err != nil {
		return memory.MessageStats{}, fmt.Errorf("sqlite: count sessions: %w", err)
	}

	err = s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(m.token_count), 0), COALESCE(SUM(m.summarized), 0)
		FROM messages m
		JOIN sessions s ON s.id = m.session_id
		WHERE s.user_id = ?`, userID).Scan(&stats.Messages, &stats.TotalTokens, &stats.SummarizedMsgs)
	if err != nil {
		return memory.MessageStats{}, fmt.Errorf("sqlite: message stats: %w", err)
	}
	return stats, nil
}

// MessageCountsByDay implements memory.Store.
func (s *Store) MessageCountsByDay(ctx context.Context, userID string, days int) ([]memory.DayCount, error) {
	since := s.clock().AddDate(0, 0, -days)

	rows, err := s.db.QueryContext(ctx, `
		SELECT substr(m.created_at, 1, 10), COUNT(*), COALESCE(SUM(m.token_count), 0)
		FROM messages m
		JOIN sessions s ON s.id = m.session_id
		WHERE s.user_id = ? AND m.created_at >= ?
		GROUP BY 1
		ORDER BY 1 ASC`, userID, fmtTime(since))
	if err != nil {
		return nil, fmt.Errorf("sqlite: counts by day: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []memory.DayCount
	for rows.Next() {
		var (
			day string
			dc  memory.DayCount
		)
		if err := rows.Scan(&day, &dc.Messages, &dc.Tokens); err != nil {
			return nil, fmt.Errorf("sqlite: scan day count: %w", err)
		}
		if dc.Day, err = time.Parse("2006-01-02", day); err != nil {
			return nil, fmt.Errorf("sqlite: parse day %q: %w", day, err)
		}
		out = append(out, dc)
	}
	return out, rows.Err()
}

// ---------------------------------------------------------------------------
// scan helpers
// ---------------------------------------------------------------------------

const messageColumns = `SELECT messages.id, messages.session_id, messages.seq, messages.role,
	messages.content, messages.token_count, messages.importance, messages.summarized,
	messages.summary_ref, messages.topics, messages.embedding, messages.created_at`

const summaryColumns = `SELECT summaries.id, summaries.user_id, summaries.session_id, summaries.kind,
	summaries.content, summaries.key_points, summaries.topics, summaries.importance,
	summaries.original_tokens, summaries.token_count, summaries.restored,
	summaries.embedding, summaries.created_at, summaries.updated_at`

// scanner abstracts *sql.Row and *sql.Rows for shared scan logic.
type scanner interface {
	Scan(dest ...any) error
}

func scanSession(s scanner) (memory.Session, error) {
	var (
		sess                 memory.Session
		active               int
		createdAt, updatedAt string
	)
	if err := s.Scan(&sess.ID, &sess.UserID, &sess.Title, &active, &createdAt, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return memory.Session{}, err
		}
		return memory.Session{}, fmt.Errorf("sqlite: scan session: %w", err)
	}
	sess.Active = active != 0

	var err error
	if sess.CreatedAt, err = parseTime(createdAt); err != nil {
		return memory.Session{}, err
	}
	if sess.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return memory.Session{}, err
	}
	return sess, nil
}

func scanMessage(s scanner) (memory.Message, error) {
	var (
		msg        memory.Message
		role       string
		summarized int
		topics     string
		embedding  []byte
		createdAt  string
	)
	if err := s.Scan(&msg.ID, &msg.SessionID, &msg.Seq, &role, &msg.Content, &msg.TokenCount,
		&msg.Importance, &summarized, &msg.SummaryRef, &topics, &embedding, &createdAt); err != nil {
		return memory.Message{}, fmt.Errorf("sqlite: scan message: %w", err)
	}
	msg.Role = memory.Role(role)
	msg.Summarized = summarized != 0

	var err error
	if msg.Topics, err = decodeList(topics); err != nil {
		return memory.Message{}, err
	}
	if msg.Embedding, err = decodeEmbedding(embedding); err != nil {
		return memory.Message{}, err
	}
	if msg.CreatedAt, err = parseTime(createdAt); err != nil {
		return memory.Message{}, err
	}
	return msg, nil
}

func scanSummary(s scanner) (memory.Summary, error) {
	var (
		sum                  memory.Summary
		kind                 string
		keyPoints, topics    string
		restored             int
		embedding            []byte
		createdAt, updatedAt string
	)
	if err := s.Scan(&sum.ID, &sum.UserID, &sum.SessionID, &kind, &sum.Content, &keyPoints,
		&topics, &sum.Importance, &sum.OriginalTokens, &sum.TokenCount, &restored,
		&embedding, &createdAt, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return memory.Summary{}, err
		}
		return memory.Summary{}, fmt.Errorf("sqlite: scan summary: %w", err)
	}
	sum.Kind = memory.SummaryKind(kind)
	sum.Restored = restored != 0

	var err error
	if sum.KeyPoints, err = decodeList(keyPoints); err != nil {
		return memory.Summary{}, err
	}
	if sum.Topics, err = decodeList(topics); err != nil {
		return memory.Summary{}, err
	}
	if sum.Embedding, err = decodeEmbedding(embedding); err != nil {
		return memory.Summary{}, err
	}
	if sum.CreatedAt, err = parseTime(createdAt); err != nil {
		return memory.Summary{}, err
	}
	if sum.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return memory.Summary{}, err
	}
	return sum, nil
}

func collectMessages(rows *sql.Rows) ([]memory.Message, error) {
	defer func() { _ = rows.Close() }()

	var out []memory.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, msg)
	}
	return out, rows.Err()
}

func collectSummaries(rows *sql.Rows) ([]memory.Summary, error) {
	defer func() { _ = rows.Close() }()

	var out []memory.Summary
	for rows.Next() {
		sum, err := scanSummary(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sum)
	}
	return out, rows.Err()
}

// ---------------------------------------------------------------------------
// codec helpers
// ---------------------------------------------------------------------------

func fmtTime(t time.Time) string { return t.UTC().Format(timeLayout) }

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("sqlite: parse time %q: %w", s, err)
	}
	return t, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func sliceOrEmpty(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func decodeList(raw string) ([]string, error) {
	if raw == "" || raw == "[]" {
		return nil, nil
	}
	var out []string
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, fmt.Errorf("sqlite: decode list: %w", err)
	}
	return out, nil
}

func encodeEmbedding(vec []float32) []byte {
	if len(vec) == 0 {
		return nil
	}
	blob, err := retrieval.EncodeVector(vec)
	if err != nil {
		return nil
	}
	return blob
}

func decodeEmbedding(blob []byte) ([]float32, error) {
	if len(blob) == 0 {
		return nil, nil
	}
	vec, err := retrieval.DecodeVector(blob)
	if err != nil {
		return nil, fmt.Errorf("sqlite: decode embedding: %w", err)
	}
	return vec, nil
}

func checkFound(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: rows affected: %w", err)
	}
	if n == 0 {
		return notFound
	}
	return nil
}

func limitOrDefault(limit int) int {
	if limit <= 0 {
		return 50
	}
	return limit
}

// ftsQuery turns free text into a safe FTS5 match expression: bare terms,
// each quoted, joined with OR. Operators and punctuation in the input are
// neutralised by the quoting.
func ftsQuery(query string) string {
	fields := strings.FieldsFunc(query, func(r rune) bool {
		return !('a' <= r && r <= 'z' || 'A' <= r && r <= 'Z' || '0' <= r && r <= '9')
	})
	if len(fields) == 0 {
		return ""
	}
	terms := make([]string, 0, len(fields))
	for _, f := range fields {
		terms = append(terms, `"`+f+`"`)
	}
	return strings.Join(terms, " OR ")
}
