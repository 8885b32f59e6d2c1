package compress_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/engramdev/engram/internal/compress"
	"github.com/engramdev/engram/internal/memory"
	"github.com/engramdev/engram/internal/scoring"
	"github.com/engramdev/engram/internal/token"
)

func newCompressor(store memory.Store, cfg compress.Config) *compress.Compressor {
	return compress.New(store, nil, scoring.New(scoring.Config{}), token.NewCharCounter(4), cfg, nil)
}

// seedAgedSession appends n messages dated `age` in the past.
func seedAgedSession(t *testing.T, store *memory.MemStore, userID, sessionID string, n int, age time.Duration) []memory.Message {
	t.Helper()
	ctx := context.Background()
	if _, err := store.EnsureSession(ctx, userID, sessionID); err != nil {
		t.Fatalf("EnsureSession: %v", err)
	}

	past := time.Now().UTC().Add(-age)
	store.SetClock(func() time.Time { return past })
	defer store.SetClock(func() time.Time { return time.Now().UTC() })

	msgs := make([]memory.Message, 0, n)
	for i := 0; i < n; i++ {
		role := memory.RoleUser
		if i%2 == 1 {
			role = memory.RoleAssistant
		}
		m, err := store.AppendMessage(ctx, memory.Message{
			SessionID:  sessionID,
			Role:       role,
			Content:    fmt.Sprintf("turn %d discussing the migration plan for the billing database", i),
			TokenCount: 12,
		})
		if err != nil {
			t.Fatalf("AppendMessage: %v", err)
		}
		msgs = append(msgs, m)
	}
	return msgs
}

// ---------------------------------------------------------------------------
// Trigger policy
// ---------------------------------------------------------------------------

func TestCompressSession_BelowMinBatchIsNoop(t *testing.T) {
	t.Parallel()

	store := memory.NewMemStore()
	seedAgedSession(t, store, "u1", "s1", 5, 30*24*time.Hour)

	c := newCompressor(store, compress.Config{MinBatch: 10})
	sum, err := c.CompressSession(context.Background(), "s1")
	if err != nil {
		t.Fatalf("CompressSession: %v", err)
	}
	if sum != nil {
		t.Errorf("summary = %+v, want nil (batch below minimum)", sum)
	}
}

func TestCompressSession_FreshMessagesNotEligible(t *testing.T) {
	t.Parallel()

	store := memory.NewMemStore()
	seedAgedSession(t, store, "u1", "s1", 20, time.Hour) // fresher than 7d default

	c := newCompressor(store, compress.Config{})
	sum, err := c.CompressSession(context.Background(), "s1")
	if err != nil {
		t.Fatalf("CompressSession: %v", err)
	}
	if sum != nil {
		t.Error("fresh messages must not be compressed")
	}
}

// ---------------------------------------------------------------------------
// Compaction result
// ---------------------------------------------------------------------------

func TestCompressSession_ProducesSummaryAndMarksSources(t *testing.T) {
	t.Parallel()

	store := memory.NewMemStore()
	msgs := seedAgedSession(t, store, "u1", "s1", 12, 30*24*time.Hour)

	c := newCompressor(store, compress.Config{})
	sum, err := c.CompressSession(context.Background(), "s1")
	if err != nil {
		t.Fatalf("CompressSession: %v", err)
	}
	if sum == nil {
		t.Fatal("summary = nil, want one")
	}

	if sum.Kind != memory.SummaryConversation {
		t.Errorf("Kind = %q", sum.Kind)
	}
	if sum.Content == "" || len(sum.KeyPoints) == 0 || len(sum.Topics) == 0 {
		t.Errorf("summary missing content/key points/topics: %+v", sum)
	}
	if sum.OriginalTokens != 12*len(msgs) {
		t.Errorf("OriginalTokens = %d, want %d", sum.OriginalTokens, 12*len(msgs))
	}
	if sum.TokenCount <= 0 || sum.CompressionRatio() <= 0 {
		t.Errorf("token accounting missing: tokens=%d ratio=%v", sum.TokenCount, sum.CompressionRatio())
	}

	// Every source message is flagged with a valid summaryRef.
	subsumed, err := store.MessagesBySummary(context.Background(), sum.ID)
	if err != nil {
		t.Fatalf("MessagesBySummary: %v", err)
	}
	if len(subsumed) != len(msgs) {
		t.Fatalf("subsumed = %d messages, want %d", len(subsumed), len(msgs))
	}
	for _, m := range subsumed {
		if !m.Summarized || m.SummaryRef != sum.ID {
			t.Errorf("message %s not properly marked: summarized=%v ref=%q", m.ID, m.Summarized, m.SummaryRef)
		}
	}
}

func TestCompressSession_Idempotent(t *testing.T) {
	t.Parallel()

	store := memory.NewMemStore()
	seedAgedSession(t, store, "u1", "s1", 12, 30*24*time.Hour)

	c := newCompressor(store, compress.Config{})
	first, err := c.CompressSession(context.Background(), "s1")
	if err != nil || first == nil {
		t.Fatalf("first CompressSession = (%v, %v)", first, err)
	}

	second, err := c.CompressSession(context.Background(), "s1")
	if err != nil {
		t.Fatalf("second CompressSession: %v", err)
	}
	if second != nil {
		t.Errorf("second run produced a summary, want no-op")
	}
}

func TestCompressSession_UserFlaggedImportanceFloors(t *testing.T) {
	t.Parallel()

	store := memory.NewMemStore()
	msgs := seedAgedSession(t, store, "u1", "s1", 12, 30*24*time.Hour)

	// User explicitly rated one old throwaway message as critical.
	if err := store.RecordAccess(context.Background(), memory.AccessRecord{
		UserID:    "u1",
		MessageID: msgs[3].ID,
		Relevance: 0.97,
		Explicit:  true,
	}); err != nil {
		t.Fatalf("RecordAccess: %v", err)
	}

	c := newCompressor(store, compress.Config{})
	sum, err := c.CompressSession(context.Background(), "s1")
	if err != nil || sum == nil {
		t.Fatalf("CompressSession = (%v, %v)", sum, err)
	}
	if sum.Importance < 0.97 {
		t.Errorf("Importance = %v, want >= user-flagged 0.97", sum.Importance)
	}
}

func TestCompressUser_SweepsAllSessions(t *testing.T) {
	t.Parallel()

	store := memory.NewMemStore()
	seedAgedSession(t, store, "u1", "s1", 12, 30*24*time.Hour)
	seedAgedSession(t, store, "u1", "s2", 15, 30*24*time.Hour)
	seedAgedSession(t, store, "u1", "s3", 2, 30*24*time.Hour) // below min batch

	c := newCompressor(store, compress.Config{})
	sums, err := c.CompressUser(context.Background(), "u1")
	if err != nil {
		t.Fatalf("CompressUser: %v", err)
	}
	if len(sums) != 2 {
		t.Errorf("summaries = %d, want 2 (tiny session skipped)", len(sums))
	}
}

// ---------------------------------------------------------------------------
// Extractive summarizer
// ---------------------------------------------------------------------------

func TestExtractive_KeyPointsFromUserTurns(t *testing.T) {
	t.Parallel()

	e := compress.NewExtractive(3, 5)
	msgs := []memory.Message{
		{Role: memory.RoleUser, Content: "Plan the Lisbon trip. We fly in June."},
		{Role: memory.RoleAssistant, Content: "Sure, here is a detailed plan for your trip."},
		{Role: memory.RoleUser, Content: "Book window seats only"},
		{Role: memory.RoleUser, Content: ""},
	}

	draft, err := e.Summarize(context.Background(), msgs)
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if len(draft.KeyPoints) != 2 {
		t.Fatalf("KeyPoints = %v, want 2 user turns", draft.KeyPoints)
	}
	if draft.KeyPoints[0] != "Plan the Lisbon trip." {
		t.Errorf("KeyPoints[0] = %q, want first sentence only", draft.KeyPoints[0])
	}
	if len(draft.Topics) == 0 {
		t.Error("want extracted topics")
	}
	if draft.Content == "" {
		t.Error("want non-empty content")
	}
}

func TestConfig_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		cfg     compress.Config
		wantErr bool
	}{
		{"defaults", compress.Config{}, false},
		{"negative age", compress.Config{AgeThreshold: -time.Hour}, true},
		{"max below min", compress.Config{MinBatch: 50, MaxBatch: 10}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
