package memory

import (
	"context"
	"time"
)

// MessageStats aggregates per-user message counts for analytics.
type MessageStats struct {
	Messages       int
	Sessions       int
	TotalTokens    int
	SummarizedMsgs int
}

// DayCount is a per-day message count used for trend reporting.
type DayCount struct {
	Day      time.Time // midnight UTC
	Messages int
	Tokens   int
}

// Store is the persistent record of messages, summaries, and the access log.
// It is the only shared mutable resource in the engine; implementations must
// be safe for concurrent use and must serialize writes per session so that
// sequence numbers stay monotone.
type Store interface {
	// EnsureSession returns the session, creating it (active, untitled)
	// when it does not exist. The userID must match on an existing session.
	EnsureSession(ctx context.Context, userID, sessionID string) (Session, error)

	// Session returns a session by ID. Returns ErrSessionNotFound.
	Session(ctx context.Context, sessionID string) (Session, error)

	// SessionsForUser returns all sessions owned by a user, most recently
	// updated first.
	SessionsForUser(ctx context.Context, userID string) ([]Session, error)

	// Users returns every user ID with at least one session. Used by
	// background sweeps.
	Users(ctx context.Context) ([]string, error)

	// AppendMessage persists a message, assigning ID, Seq, and CreatedAt.
	// Appends within one session are serialized: Seq is strictly
	// increasing per session. The session's UpdatedAt is bumped and, when
	// the session has no title yet and the message is a user turn, the
	// title is derived from the content.
	AppendMessage(ctx context.Context, msg Message) (Message, error)

	// Message returns a message by ID. Returns ErrMessageNotFound.
	Message(ctx context.Context, messageID string) (Message, error)

	// RecentMessages returns up to limit non-summarized messages for the
	// session, in chronological (ascending Seq) order, taken from the
	// most recent end of the history.
	RecentMessages(ctx context.Context, sessionID string, limit int) ([]Message, error)

	// MessagesOlderThan returns non-summarized messages created before
	// cutoff, in chronological order. Used by the compression engine.
	MessagesOlderThan(ctx context.Context, sessionID string, cutoff time.Time) ([]Message, error)

	// MessagesBySummary returns the messages subsumed by a summary.
	MessagesBySummary(ctx context.Context, summaryID string) ([]Message, error)

	// SetImportance persists a lazily computed importance score.
	SetImportance(ctx context.Context, messageID string, score float64) error

	// SetMessageEmbedding back-fills a message's semantic vector.
	SetMessageEmbedding(ctx context.Context, messageID string, vec []float32) error

	// CreateSummary persists the summary and flips Summarized/SummaryRef
	// on the source messages in a single transaction: both are committed
	// together or not at all. Messages already summarized by another
	// summary cause ErrAlreadySummarized and no change.
	CreateSummary(ctx context.Context, s Summary, messageIDs []string) (Summary, error)

	// RestoreSummary reverses CreateSummary's flag flip for every message
	// referencing the summary, atomically, and marks the summary restored.
	// The summary record itself is kept. Returns ErrSummaryNotFound.
	RestoreSummary(ctx context.Context, summaryID string) error

	// SummariesForUser returns a user's non-restored summaries, most
	// recent first.
	SummariesForUser(ctx context.Context, userID string) ([]Summary, error)

	// Summary returns a summary by ID. Returns ErrSummaryNotFound.
	Summary(ctx context.Context, summaryID string) (Summary, error)

	// SetSummaryEmbedding back-fills a summary's semantic vector.
	SetSummaryEmbedding(ctx context.Context, summaryID string, vec []float32) error

	// SearchMessages returns a user's non-summarized messages matching the
	// full-text query, best match first.
	SearchMessages(ctx context.Context, userID, query string, limit int) ([]Message, error)

	// SearchSummaries returns a user's non-restored summaries matching the
	// full-text query, best match first.
	SearchSummaries(ctx context.Context, userID, query string, limit int) ([]Summary, error)

	// RecordAccess appends an access record. Append-only.
	RecordAccess(ctx context.Context, rec AccessRecord) error

	// LatestFeedback returns the most recent explicit feedback score for a
	// message. ok is false when no explicit feedback exists.
	LatestFeedback(ctx context.Context, messageID string) (score float64, ok bool, err error)

	// AccessRecordsSince returns a user's access records created at or
	// after since, oldest first.
	AccessRecordsSince(ctx context.Context, userID string, since time.Time) ([]AccessRecord, error)

	// PruneAccessRecords deletes access records older than cutoff and
	// returns the number removed. Diagnostic data only; safe to drop.
	PruneAccessRecords(ctx context.Context, cutoff time.Time) (int, error)

	// UserMessageStats aggregates message counts for analytics.
	UserMessageStats(ctx context.Context, userID string) (MessageStats, error)

	// MessageCountsByDay returns per-day message counts for the trailing
	// days window, oldest day first. Days with no traffic are omitted.
	MessageCountsByDay(ctx context.Context, userID string, days int) ([]DayCount, error)
}
