// Package memory defines the core records of the engine (messages, sessions,
// summaries, access log entries) and the Store interface that persists them.
package memory

import "time"

// Role is the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}

// Message is one conversation turn. Content is immutable once stored; only
// Importance, Embedding, and the summarization flags change afterwards.
type Message struct {
	ID         string    `json:"id"`
	SessionID  string    `json:"session_id"`
	Seq        int64     `json:"seq"`
	Role       Role      `json:"role"`
	Content    string    `json:"content"`
	TokenCount int       `json:"token_count"`
	Importance *float64  `json:"importance,omitempty"` // nil until scored
	Summarized bool      `json:"summarized"`
	SummaryRef string    `json:"summary_ref,omitempty"`
	Topics     []string  `json:"topics,omitempty"`
	Embedding  []float32 `json:"-"`
	CreatedAt  time.Time `json:"created_at"`
}

// ImportanceOr returns the stored importance score, or def when the message
// has not been scored yet.
func (m Message) ImportanceOr(def float64) float64 {
	if m.Importance == nil {
		return def
	}
	return *m.Importance
}

// Session groups messages for one user conversation.
type Session struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Title     string    `json:"title,omitempty"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SummaryKind distinguishes what a summary condenses.
type SummaryKind string

const (
	SummaryConversation SummaryKind = "conversation-summary"
	SummaryTopic        SummaryKind = "topic-summary"
	SummaryPreference   SummaryKind = "preference-fact"
)

// Summary is a compressed stand-in for a batch of messages. The source
// messages are kept (flagged Summarized) so the summary can be reversed.
type Summary struct {
	ID             string      `json:"id"`
	UserID         string      `json:"user_id"`
	SessionID      string      `json:"session_id"`
	Kind           SummaryKind `json:"kind"`
	Content        string      `json:"content"`
	KeyPoints      []string    `json:"key_points,omitempty"`
	Topics         []string    `json:"topics,omitempty"`
	Importance     float64     `json:"importance"`
	OriginalTokens int         `json:"original_tokens"`
	TokenCount     int         `json:"token_count"`
	Restored       bool        `json:"restored"`
	Embedding      []float32   `json:"-"`
	CreatedAt      time.Time   `json:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at"`
}

// CompressionRatio is summary tokens over original tokens; lower is better.
// Returns 0 when the summary has no token accounting.
func (s Summary) CompressionRatio() float64 {
	if s.OriginalTokens <= 0 || s.TokenCount <= 0 {
		return 0
	}
	return float64(s.TokenCount) / float64(s.OriginalTokens)
}

// AccessType records why a memory surfaced in a context window.
type AccessType string

const (
	AccessRecent    AccessType = "recent"
	AccessRetrieved AccessType = "retrieved"
	AccessRestored  AccessType = "restored"
)

// AccessRecord is one entry in the append-only access log. Explicit records
// carry user feedback in Relevance; implicit records carry the retrieval
// similarity. The log is diagnostic: context assembly never reads it.
type AccessRecord struct {
	ID         string     `json:"id"`
	UserID     string     `json:"user_id"`
	SessionID  string     `json:"session_id,omitempty"`
	MessageID  string     `json:"message_id,omitempty"`
	SummaryID  string     `json:"summary_id,omitempty"`
	AccessType AccessType `json:"access_type"`
	Relevance  float64    `json:"relevance"`
	Explicit   bool       `json:"explicit"`
	CreatedAt  time.Time  `json:"created_at"`
}
