package memory

import (
	"context"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemStore is an in-memory Store implementation. It is the default when no
// database path is configured and the fixture store for unit tests. Search
// degrades to case-insensitive substring matching (the SQLite store uses
// FTS5).
type MemStore struct {
	mu        sync.RWMutex
	sessions  map[string]Session
	messages  map[string]*Message
	bySession map[string][]*Message // ascending Seq
	seqs      map[string]int64
	summaries map[string]*Summary
	access    []AccessRecord
	now       func() time.Time
}

// Compile-time interface guard.
var _ Store = (*MemStore)(nil)

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		sessions:  make(map[string]Session),
		messages:  make(map[string]*Message),
		bySession: make(map[string][]*Message),
		seqs:      make(map[string]int64),
		summaries: make(map[string]*Summary),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the store's clock. Test hook. A nil clock restores
// real time, matching the sqlite store's contract.
func (s *MemStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	s.now = now
}

// EnsureSession implements Store.
func (s *MemStore) EnsureSession(_ context.Context, userID, sessionID string) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sess, ok := s.sessions[sessionID]; ok {
		if sess.UserID != userID {
			return Session{}, ErrSessionOwner
		}
		return sess, nil
	}

	now := s.now()
	sess := Session{
		ID:        sessionID,
		UserID:    userID,
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.sessions[sessionID] = sess
	return sess, nil
}

// Session implements Store.
func (s *MemStore) Session(_ context.Context, sessionID string) (Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return Session{}, ErrSessionNotFound
	}
	return sess, nil
}

// SessionsForUser implements Store.
func (s *MemStore) SessionsForUser(_ context.Context, userID string) ([]Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Session
	for _, sess := range s.sessions {
		if sess.UserID == userID {
			out = append(out, sess)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

// Users implements Store.
func (s *MemStore) Users(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]struct{})
	var out []string
	for _, sess := range s.sessions {
		if _, ok := seen[sess.UserID]; ok {
			continue
		}
		seen[sess.UserID] = struct{}{}
		out = append(out, sess.UserID)
	}
	sort.Strings(out)
	return out, nil
}

// AppendMessage implements Store.
func (s *MemStore) AppendMessage(_ context.Context, msg Message) (Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[msg.SessionID]
	if !ok {
		return Message{}, ErrSessionNotFound
	}

	s.seqs[msg.SessionID]++
	msg.Seq = s.seqs[msg.SessionID]
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	msg.CreatedAt = s.now()
	msg.Summarized = false
	msg.SummaryRef = ""

	stored := msg
	s.messages[msg.ID] = &stored
	s.bySession[msg.SessionID] = append(s.bySession[msg.SessionID], &stored)

	sess.UpdatedAt = msg.CreatedAt
	if sess.Title == "" && msg.Role == RoleUser {
		sess.Title = DeriveTitle(msg.Content)
	}
	s.sessions[msg.SessionID] = sess

	return stored, nil
}

// Message implements Store.
func (s *MemStore) Message(_ context.Context, messageID string) (Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.messages[messageID]
	if !ok {
		return Message{}, ErrMessageNotFound
	}
	return *m, nil
}

// RecentMessages implements Store.
func (s *MemStore) RecentMessages(_ context.Context, sessionID string, limit int) ([]Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		return nil, nil
	}

	all := s.bySession[sessionID]
	var live []Message
	for _, m := range all {
		if !m.Summarized {
			live = append(live, *m)
		}
	}
	if len(live) > limit {
		live = live[len(live)-limit:]
	}
	return live, nil
}

// MessagesOlderThan implements Store.
func (s *MemStore) MessagesOlderThan(_ context.Context, sessionID string, cutoff time.Time) ([]Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Message
	for _, m := range s.bySession[sessionID] {
		if !m.Summarized && m.CreatedAt.Before(cutoff) {
			out = append(out, *m)
		}
	}
	return out, nil
}

// MessagesBySummary implements Store.
func (s *MemStore) MessagesBySummary(_ context.Context, summaryID string) ([]Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Message
	for _, m := range s.messages {
		if m.SummaryRef == summaryID {
			out = append(out, *m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

// SetImportance implements Store.
func (s *MemStore) SetImportance(_ context.Context, messageID string, score float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.messages[messageID]
	if !ok {
		return ErrMessageNotFound
	}
	m.Importance = &score
	return nil
}

// SetMessageEmbedding implements Store.
func (s *MemStore) SetMessageEmbedding(_ context.Context, messageID string, vec []float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.messages[messageID]
	if !ok {
		return ErrMessageNotFound
	}
	m.Embedding = slices.Clone(vec)
	return nil
}

// CreateSummary implements Store. The summary insert and the flag flips are
// applied under one lock acquisition; either all take effect or none.
func (s *MemStore) CreateSummary(_ context.Context, sum Summary, messageIDs []string) (Summary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Validate the whole batch before mutating anything.
	for _, id := range messageIDs {
		m, ok := s.messages[id]
		if !ok {
			return Summary{}, ErrMessageNotFound
		}
		if m.Summarized {
			return Summary{}, ErrAlreadySummarized
		}
	}

	if sum.ID == "" {
		sum.ID = uuid.NewString()
	}
	now := s.now()
	sum.CreatedAt = now
	sum.UpdatedAt = now

	stored := sum
	s.summaries[sum.ID] = &stored
	for _, id := range messageIDs {
		s.messages[id].Summarized = true
		s.messages[id].SummaryRef = sum.ID
	}
	return stored, nil
}

// RestoreSummary implements Store.
func (s *MemStore) RestoreSummary(_ context.Context, summaryID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sum, ok := s.summaries[summaryID]
	if !ok {
		return ErrSummaryNotFound
	}
	for _, m := range s.messages {
		if m.SummaryRef == summaryID {
			m.Summarized = false
			m.SummaryRef = ""
		}
	}
	sum.Restored = true
	sum.UpdatedAt = s.now()
	return nil
}

// SummariesForUser implements Store.
func (s *MemStore) SummariesForUser(_ context.Context, userID string) ([]Summary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Summary
	for _, sum := range s.summaries {
		if sum.UserID == userID && !sum.Restored {
			out = append(out, *sum)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// Summary implements Store.
func (s *MemStore) Summary(_ context.Context, summaryID string) (Summary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sum, ok := s.summaries[summaryID]
	if !ok {
		return Summary{}, ErrSummaryNotFound
	}
	return *sum, nil
}

// SetSummaryEmbedding implements Store.
func (s *MemStore) SetSummaryEmbedding(_ context.Context, summaryID string, vec []float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sum, ok := s.summaries[summaryID]
	if !ok {
		return ErrSummaryNotFound
	}
	sum.Embedding = slices.Clone(vec)
	return nil
}

// SearchMessages implements Store with substring matching.
func (s *MemStore) SearchMessages(_ context.Context, userID, query string, limit int) ([]Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	terms := strings.Fields(strings.ToLower(query))
	var out []Message
	for _, m := range s.messages {
		if m.Summarized {
			continue
		}
		sess, ok := s.sessions[m.SessionID]
		if !ok || sess.UserID != userID {
			continue
		}
		if anyTermMatches(strings.ToLower(m.Content), terms) {
			out = append(out, *m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// SearchSummaries implements Store with substring matching.
func (s *MemStore) SearchSummaries(_ context.Context, userID, query string, limit int) ([]Summary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	terms := strings.Fields(strings.ToLower(query))
	var out []Summary
	for _, sum := range s.summaries {
		if sum.UserID != userID || sum.Restored {
			continue
		}
		if anyTermMatches(strings.ToLower(sum.Content), terms) || topicsMatch(sum.Topics, terms) {
			out = append(out, *sum)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// RecordAccess implements Store.
func (s *MemStore) RecordAccess(_ context.Context, rec AccessRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.now()
	}
	s.access = append(s.access, rec)
	return nil
}

// LatestFeedback implements Store.
func (s *MemStore) LatestFeedback(_ context.Context, messageID string) (float64, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for i := len(s.access) - 1; i >= 0; i-- {
		rec := s.access[i]
		if rec.Explicit && rec.MessageID == messageID {
			return rec.Relevance, true, nil
		}
	}
	return 0, false, nil
}

// AccessRecordsSince implements Store.
func (s *MemStore) AccessRecordsSince(_ context.Context, userID string, since time.Time) ([]AccessRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []AccessRecord
	for _, rec := range s.access {
		if rec.UserID == userID && !rec.CreatedAt.Before(since) {
			out = append(out, rec)
		}
	}
	return out, nil
}

// PruneAccessRecords implements Store.
func (s *MemStore) PruneAccessRecords(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.access[:0]
	pruned := 0
	for _, rec := range s.access {
		if rec.CreatedAt.Before(cutoff) {
			pruned++
			continue
		}
		kept = append(kept, rec)
	}
	s.access = kept
	return pruned, nil
}

// UserMessageStats implements Store.
func (s *MemStore) UserMessageStats(_ context.Context, userID string) (MessageStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var stats MessageStats
	for _, sess := range s.sessions {
		if sess.UserID != userID {
			continue
		}
		stats.Sessions++
		for _, m := range s.bySession[sess.ID] {
			stats.Messages++
			stats.TotalTokens += m.TokenCount
			if m.Summarized {
				stats.SummarizedMsgs++
			}
		}
	}
	return stats, nil
}

// MessageCountsByDay implements Store.
func (s *MemStore) MessageCountsByDay(_ context.Context, userID string, days int) ([]DayCount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	since := s.now().AddDate(0, 0, -days)
	byDay := make(map[time.Time]*DayCount)
	for _, sess := range s.sessions {
		if sess.UserID != userID {
			continue
		}
		for _, m := range s.bySession[sess.ID] {
			if m.CreatedAt.Before(since) {
				continue
			}
			day := m.CreatedAt.UTC().Truncate(24 * time.Hour)
			dc, ok := byDay[day]
			if !ok {
				dc = &DayCount{Day: day}
				byDay[day] = dc
			}
			dc.Messages++
			dc.Tokens += m.TokenCount
		}
	}

	out := make([]DayCount, 0, len(byDay))
	for _, dc := range byDay {
		out = append(out, *dc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Day.Before(out[j].Day) })
	return out, nil
}

// DeriveTitle produces a session title from the first user message.
func DeriveTitle(content string) string {
	const maxTitle = 60
	title := strings.TrimSpace(content)
	if nl := strings.IndexByte(title, '\n'); nl >= 0 {
		title = title[:nl]
	}
	if runes := []rune(title); len(runes) > maxTitle {
		title = strings.TrimSpace(string(runes[:maxTitle]))
	}
	return title
}

func anyTermMatches(content string, terms []string) bool {
	for _, term := range terms {
		if strings.Contains(content, term) {
			return true
		}
	}
	return false
}

func topicsMatch(topics []string, terms []string) bool {
	for _, t := range topics {
		if anyTermMatches(strings.ToLower(t), terms) {
			return true
		}
	}
	return false
}

