package analytics_test

import (
	"context"
	"testing"
	"time"

	"github.com/engramdev/engram/internal/analytics"
	"github.com/engramdev/engram/internal/memory"
)

func seedUser(t *testing.T, s *memory.MemStore, userID, sessionID string, msgs, tokensEach int) []memory.Message {
	t.Helper()
	if _, err := s.EnsureSession(context.Background(), userID, sessionID); err != nil {
		t.Fatalf("EnsureSession: %v", err)
	}
	out := make([]memory.Message, 0, msgs)
	for i := 0; i < msgs; i++ {
		role := memory.RoleUser
		if i%2 == 1 {
			role = memory.RoleAssistant
		}
		m, err := s.AppendMessage(context.Background(), memory.Message{
			SessionID:  sessionID,
			Role:       role,
			Content:    "turn content",
			TokenCount: tokensEach,
		})
		if err != nil {
			t.Fatalf("AppendMessage: %v", err)
		}
		out = append(out, m)
	}
	return out
}

// ---------------------------------------------------------------------------
// Insights
// ---------------------------------------------------------------------------

func TestGetInsights_CountsAndCompression(t *testing.T) {
	t.Parallel()

	store := memory.NewMemStore()
	msgs := seedUser(t, store, "u1", "s1", 10, 20)
	seedUser(t, store, "u1", "s2", 4, 20)
	seedUser(t, store, "other", "s3", 50, 100)

	ids := []string{msgs[0].ID, msgs[1].ID}
	_, err := store.CreateSummary(context.Background(), memory.Summary{
		UserID:         "u1",
		SessionID:      "s1",
		Kind:           memory.SummaryConversation,
		Content:        "earlier discussion",
		Topics:         []string{"travel", "budget"},
		OriginalTokens: 40,
		TokenCount:     10,
	}, ids)
	if err != nil {
		t.Fatalf("CreateSummary: %v", err)
	}

	ins, err := analytics.New(store).GetInsights(context.Background(), "u1")
	if err != nil {
		t.Fatalf("GetInsights: %v", err)
	}

	if ins.Sessions != 2 || ins.Messages != 14 {
		t.Errorf("sessions/messages = %d/%d, want 2/14", ins.Sessions, ins.Messages)
	}
	if ins.SummarizedMessages != 2 || ins.Summaries != 1 {
		t.Errorf("summarized/summaries = %d/%d, want 2/1", ins.SummarizedMessages, ins.Summaries)
	}
	if ins.TotalTokens != 14*20 {
		t.Errorf("TotalTokens = %d, want %d", ins.TotalTokens, 14*20)
	}
	if ins.AvgCompression != 0.25 {
		t.Errorf("AvgCompression = %v, want 0.25", ins.AvgCompression)
	}
	if ins.TokensSaved != 30 {
		t.Errorf("TokensSaved = %d, want 30", ins.TokensSaved)
	}
	if len(ins.TopTopics) != 2 {
		t.Errorf("TopTopics = %v, want both summary topics", ins.TopTopics)
	}
}

func TestGetInsights_HitRateFromExplicitFeedback(t *testing.T) {
	t.Parallel()

	store := memory.NewMemStore()
	msgs := seedUser(t, store, "u1", "s1", 2, 5)

	recs := []memory.AccessRecord{
		// Implicit retrieval record: ignored by the hit rate.
		{UserID: "u1", MessageID: msgs[0].ID, AccessType: memory.AccessRetrieved, Relevance: 0.9},
		{UserID: "u1", MessageID: msgs[0].ID, AccessType: memory.AccessRetrieved, Relevance: 0.8, Explicit: true},
		{UserID: "u1", MessageID: msgs[1].ID, AccessType: memory.AccessRetrieved, Relevance: 0.1, Explicit: true},
		// Explicit but not a retrieval: ignored.
		{UserID: "u1", MessageID: msgs[1].ID, AccessType: memory.AccessRecent, Relevance: 1.0, Explicit: true},
	}
	for _, rec := range recs {
		if err := store.RecordAccess(context.Background(), rec); err != nil {
			t.Fatalf("RecordAccess: %v", err)
		}
	}

	ins, err := analytics.New(store).GetInsights(context.Background(), "u1")
	if err != nil {
		t.Fatalf("GetInsights: %v", err)
	}
	if ins.RetrievalHitRate != 0.5 {
		t.Errorf("RetrievalHitRate = %v, want 0.5", ins.RetrievalHitRate)
	}
}

func TestGetInsights_EmptyUser(t *testing.T) {
	t.Parallel()

	ins, err := analytics.New(memory.NewMemStore()).GetInsights(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("GetInsights: %v", err)
	}
	if ins.Sessions != 0 || ins.Messages != 0 || ins.AvgCompression != 0 {
		t.Errorf("empty user insights = %+v, want zero values", ins)
	}
}

// ---------------------------------------------------------------------------
// Optimization
// ---------------------------------------------------------------------------

func TestGetOptimization_BudgetTracksSessionSize(t *testing.T) {
	t.Parallel()

	store := memory.NewMemStore()
	// One session, 30 messages of 100 tokens: 3000 tokens per session.
	seedUser(t, store, "u1", "s1", 30, 100)

	opt, err := analytics.New(store).GetOptimization(context.Background(), "u1")
	if err != nil {
		t.Fatalf("GetOptimization: %v", err)
	}
	if opt.ObservedSessionTokens != 3000 {
		t.Errorf("ObservedSessionTokens = %d, want 3000", opt.ObservedSessionTokens)
	}
	if opt.SuggestedTokenBudget != 5000 {
		t.Errorf("SuggestedTokenBudget = %d, want 5000", opt.SuggestedTokenBudget)
	}
	if len(opt.Rationale) == 0 {
		t.Error("expected a rationale for the suggested budget")
	}
}

func TestGetOptimization_BudgetClamped(t *testing.T) {
	t.Parallel()

	store := memory.NewMemStore()
	seedUser(t, store, "u1", "s1", 2, 10) // tiny history

	opt, err := analytics.New(store).GetOptimization(context.Background(), "u1")
	if err != nil {
		t.Fatalf("GetOptimization: %v", err)
	}
	if opt.SuggestedTokenBudget != 1024 {
		t.Errorf("SuggestedTokenBudget = %d, want floor 1024", opt.SuggestedTokenBudget)
	}
}

func TestGetOptimization_StrongCompressionShortensAge(t *testing.T) {
	t.Parallel()

	store := memory.NewMemStore()
	msgs := seedUser(t, store, "u1", "s1", 4, 50)
	_, err := store.CreateSummary(context.Background(), memory.Summary{
		UserID: "u1", SessionID: "s1", Kind: memory.SummaryConversation,
		Content: "x", OriginalTokens: 200, TokenCount: 20, // ratio 0.1
	}, []string{msgs[0].ID, msgs[1].ID})
	if err != nil {
		t.Fatalf("CreateSummary: %v", err)
	}

	opt, err := analytics.New(store).GetOptimization(context.Background(), "u1")
	if err != nil {
		t.Fatalf("GetOptimization: %v", err)
	}
	if opt.SuggestedCompressAge != 3*24*time.Hour {
		t.Errorf("SuggestedCompressAge = %v, want 72h", opt.SuggestedCompressAge)
	}
}

func TestGetOptimization_WeakCompressionRaisesThresholds(t *testing.T) {
	t.Parallel()

	store := memory.NewMemStore()
	msgs := seedUser(t, store, "u1", "s1", 4, 50)
	_, err := store.CreateSummary(context.Background(), memory.Summary{
		UserID: "u1", SessionID: "s1", Kind: memory.SummaryConversation,
		Content: "x", OriginalTokens: 100, TokenCount: 80, // ratio 0.8
	}, []string{msgs[0].ID, msgs[1].ID})
	if err != nil {
		t.Fatalf("CreateSummary: %v", err)
	}

	opt, err := analytics.New(store).GetOptimization(context.Background(), "u1")
	if err != nil {
		t.Fatalf("GetOptimization: %v", err)
	}
	if opt.SuggestedCompressAge != 14*24*time.Hour {
		t.Errorf("SuggestedCompressAge = %v, want 336h", opt.SuggestedCompressAge)
	}
	if opt.SuggestedMinBatch != 20 {
		t.Errorf("SuggestedMinBatch = %d, want 20", opt.SuggestedMinBatch)
	}
}

func TestGetOptimization_DefaultsWithoutHistory(t *testing.T) {
	t.Parallel()

	opt, err := analytics.New(memory.NewMemStore()).GetOptimization(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("GetOptimization: %v", err)
	}
	if opt.SuggestedTokenBudget != 4096 {
		t.Errorf("SuggestedTokenBudget = %d, want default 4096", opt.SuggestedTokenBudget)
	}
	if opt.SuggestedCompressAge != 7*24*time.Hour || opt.SuggestedMinBatch != 10 {
		t.Errorf("defaults = (%v, %d), want (168h, 10)", opt.SuggestedCompressAge, opt.SuggestedMinBatch)
	}
}

// ---------------------------------------------------------------------------
// Trends
// ---------------------------------------------------------------------------

func TestGetTrends(t *testing.T) {
	t.Parallel()

	store := memory.NewMemStore()
	seedUser(t, store, "u1", "s1", 6, 10)

	tr, err := analytics.New(store).GetTrends(context.Background(), "u1", 7)
	if err != nil {
		t.Fatalf("GetTrends: %v", err)
	}
	if tr.Days != 7 {
		t.Errorf("Days = %d, want 7", tr.Days)
	}
	if tr.Total != 6 {
		t.Errorf("Total = %d, want 6", tr.Total)
	}
	if len(tr.Points) != 1 || tr.Points[0].Messages != 6 {
		t.Fatalf("Points = %+v, want one day with 6 messages", tr.Points)
	}
	if got, want := tr.AvgPerDay, 6.0/7.0; got != want {
		t.Errorf("AvgPerDay = %v, want %v", got, want)
	}
}

func TestGetTrends_DefaultWindow(t *testing.T) {
	t.Parallel()

	tr, err := analytics.New(memory.NewMemStore()).GetTrends(context.Background(), "u1", 0)
	if err != nil {
		t.Fatalf("GetTrends: %v", err)
	}
	if tr.Days != 30 {
		t.Errorf("Days = %d, want default 30", tr.Days)
	}
}
