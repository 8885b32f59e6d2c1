package ctxengine_test

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"testing"
	"time"

	ctxengine "github.com/engramdev/engram/internal/context"
	"github.com/engramdev/engram/internal/memory"
	"github.com/engramdev/engram/internal/retrieval"
	"github.com/engramdev/engram/internal/scoring"
	"github.com/engramdev/engram/internal/token"
)

// stubRetriever returns canned results or a canned error.
type stubRetriever struct {
	results []retrieval.Result
	err     error
	delay   time.Duration
}

func (s *stubRetriever) FindRelevant(ctx context.Context, _, _, _ string, _, tokenBudget int) ([]retrieval.Result, error) {
	if s.delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(s.delay):
		}
	}
	if s.err != nil {
		return nil, s.err
	}
	var out []retrieval.Result
	used := 0
	for _, r := range s.results {
		if used+r.TokenCount > tokenBudget {
			break
		}
		out = append(out, r)
		used += r.TokenCount
	}
	return out, nil
}

func newAssembler(t *testing.T, store memory.Store, r ctxengine.Retriever, cfg ctxengine.Config) *ctxengine.Assembler {
	t.Helper()
	return ctxengine.New(store, r, scoring.New(scoring.Config{}), token.NewCharCounter(4), cfg, nil)
}

func seedMessages(t *testing.T, store *memory.MemStore, sessionID string, tokenCounts []int) []memory.Message {
	t.Helper()
	ctx := context.Background()
	if _, err := store.EnsureSession(ctx, "u1", sessionID); err != nil {
		t.Fatalf("EnsureSession: %v", err)
	}
	msgs := make([]memory.Message, 0, len(tokenCounts))
	for i, n := range tokenCounts {
		msg, err := store.AppendMessage(ctx, memory.Message{
			SessionID:  sessionID,
			Role:       memory.RoleUser,
			Content:    fmt.Sprintf("message %d %s", i, strings.Repeat("x ", n)),
			TokenCount: n,
		})
		if err != nil {
			t.Fatalf("AppendMessage: %v", err)
		}
		msgs = append(msgs, msg)
	}
	return msgs
}

// ---------------------------------------------------------------------------
// Scenarios from the design: small session, large session
// ---------------------------------------------------------------------------

func TestBuildContext_SmallSessionAllVerbatim(t *testing.T) {
	t.Parallel()

	store := memory.NewMemStore()
	seedMessages(t, store, "s1", []int{20, 15, 15}) // 50 tokens total

	a := newAssembler(t, store, &stubRetriever{}, ctxengine.Config{})
	res, err := a.BuildContext(context.Background(), ctxengine.Request{
		UserID: "u1", SessionID: "s1", TurnText: "anything", TokenBudget: 1000,
	})
	if err != nil {
		t.Fatalf("BuildContext: %v", err)
	}
	if len(res.Verbatim) != 3 {
		t.Errorf("verbatim = %d messages, want all 3", len(res.Verbatim))
	}
	if res.UsedTokens > 600 {
		t.Errorf("usedTokens = %d, want <= 600 (60%% of 1000)", res.UsedTokens)
	}
}

func TestBuildContext_LargeSessionCappedAtRecentShare(t *testing.T) {
	t.Parallel()

	store := memory.NewMemStore()
	counts := make([]int, 200)
	for i := range counts {
		counts[i] = 20
	}
	seedMessages(t, store, "s1", counts)

	a := newAssembler(t, store, &stubRetriever{}, ctxengine.Config{RecentFetchLimit: 250})
	res, err := a.BuildContext(context.Background(), ctxengine.Request{
		UserID: "u1", SessionID: "s1", TurnText: "query", TokenBudget: 4000,
	})
	if err != nil {
		t.Fatalf("BuildContext: %v", err)
	}

	verbatimTokens := 0
	for _, m := range res.Verbatim {
		verbatimTokens += m.TokenCount
	}
	if verbatimTokens > 2400 {
		t.Errorf("verbatim tokens = %d, want <= 2400 (60%% of 4000)", verbatimTokens)
	}
	if len(res.Verbatim) == 0 {
		t.Error("verbatim set empty, want it filled near the cap")
	}
}

// ---------------------------------------------------------------------------
// Budget invariant (property test)
// ---------------------------------------------------------------------------

func TestBuildContext_BudgetInvariant(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewSource(42))
	for trial := 0; trial < 25; trial++ {
		store := memory.NewMemStore()
		n := 1 + rng.Intn(40)
		counts := make([]int, n)
		for i := range counts {
			counts[i] = 1 + rng.Intn(200)
		}
		seedMessages(t, store, "s1", counts)

		budget := 50 + rng.Intn(4000)
		ret := &stubRetriever{results: []retrieval.Result{
			{SummaryID: "sum1", Content: "old summary", TokenCount: 1 + rng.Intn(100)},
			{SummaryID: "sum2", Content: "older summary", TokenCount: 1 + rng.Intn(100)},
		}}

		a := newAssembler(t, store, ret, ctxengine.Config{})
		res, err := a.BuildContext(context.Background(), ctxengine.Request{
			UserID: "u1", SessionID: "s1", TurnText: "query text", TokenBudget: budget,
		})
		if err != nil {
			t.Fatalf("trial %d: BuildContext: %v", trial, err)
		}
		if res.UsedTokens > budget {
			t.Fatalf("trial %d: usedTokens %d > budget %d", trial, res.UsedTokens, budget)
		}
	}
}

// ---------------------------------------------------------------------------
// Ordering, dedup, eviction
// ---------------------------------------------------------------------------

func TestBuildContext_VerbatimStrictlyIncreasingSeq(t *testing.T) {
	t.Parallel()

	store := memory.NewMemStore()
	seedMessages(t, store, "s1", []int{5, 5, 5, 5, 5})

	a := newAssembler(t, store, &stubRetriever{}, ctxengine.Config{})
	res, err := a.BuildContext(context.Background(), ctxengine.Request{
		UserID: "u1", SessionID: "s1", TurnText: "q", TokenBudget: 1000,
	})
	if err != nil {
		t.Fatalf("BuildContext: %v", err)
	}
	for i := 1; i < len(res.Verbatim); i++ {
		if res.Verbatim[i].Seq <= res.Verbatim[i-1].Seq {
			t.Fatalf("verbatim out of order at %d: seq %d after %d", i, res.Verbatim[i].Seq, res.Verbatim[i-1].Seq)
		}
	}
}

func TestBuildContext_NoDoubleCounting(t *testing.T) {
	t.Parallel()

	store := memory.NewMemStore()
	msgs := seedMessages(t, store, "s1", []int{5, 5})

	ret := &stubRetriever{results: []retrieval.Result{
		{MessageID: msgs[0].ID, SessionID: "s1", Content: "dup", TokenCount: 5},
		{SummaryID: "sum1", Content: "unique summary", TokenCount: 5},
	}}

	a := newAssembler(t, store, ret, ctxengine.Config{})
	res, err := a.BuildContext(context.Background(), ctxengine.Request{
		UserID: "u1", SessionID: "s1", TurnText: "q", TokenBudget: 1000,
	})
	if err != nil {
		t.Fatalf("BuildContext: %v", err)
	}

	verbatimIDs := make(map[string]bool)
	for _, m := range res.Verbatim {
		verbatimIDs[m.ID] = true
	}
	for _, r := range res.Retrieved {
		if r.MessageID != "" && verbatimIDs[r.MessageID] {
			t.Errorf("message %s appears in both sets", r.MessageID)
		}
	}
	if len(res.Retrieved) != 1 || res.Retrieved[0].SummaryID != "sum1" {
		t.Errorf("retrieved = %+v, want only the summary", res.Retrieved)
	}
}

func TestBuildContext_LowImportanceDroppedFirst(t *testing.T) {
	t.Parallel()

	store := memory.NewMemStore()
	ctx := context.Background()
	if _, err := store.EnsureSession(ctx, "u1", "s1"); err != nil {
		t.Fatalf("EnsureSession: %v", err)
	}

	// Oldest message is substantive, newer ones are throwaway acks.
	specs := []struct {
		content string
		tokens  int
	}{
		{"the complete deployment plan for the production cluster rollout", 60},
		{"ok", 20},
		{"thanks", 20},
	}
	var ids []string
	for _, sp := range specs {
		m, err := store.AppendMessage(ctx, memory.Message{
			SessionID: "s1", Role: memory.RoleUser, Content: sp.content, TokenCount: sp.tokens,
		})
		if err != nil {
			t.Fatalf("AppendMessage: %v", err)
		}
		ids = append(ids, m.ID)
	}

	// Budget fits two of three messages: the low-importance acks must be
	// dropped before the substantive (older!) message.
	a := newAssembler(t, store, &stubRetriever{}, ctxengine.Config{})
	res, err := a.BuildContext(ctx, ctxengine.Request{
		UserID: "u1", SessionID: "s1", TurnText: "q", TokenBudget: 140, // recent budget 84
	})
	if err != nil {
		t.Fatalf("BuildContext: %v", err)
	}

	if len(res.Verbatim) != 2 {
		t.Fatalf("verbatim = %d messages, want 2", len(res.Verbatim))
	}
	if res.Verbatim[0].ID != ids[0] {
		t.Errorf("substantive oldest message was evicted before low-importance acks")
	}
}

func TestBuildContext_OversizedSingleMessageOmitted(t *testing.T) {
	t.Parallel()

	store := memory.NewMemStore()
	seedMessages(t, store, "s1", []int{500})

	a := newAssembler(t, store, &stubRetriever{}, ctxengine.Config{})
	res, err := a.BuildContext(context.Background(), ctxengine.Request{
		UserID: "u1", SessionID: "s1", TurnText: "q", TokenBudget: 100,
	})
	if err != nil {
		t.Fatalf("BuildContext: %v", err)
	}
	if len(res.Verbatim) != 0 {
		t.Errorf("verbatim = %d messages, want empty set (never truncate)", len(res.Verbatim))
	}
}

// ---------------------------------------------------------------------------
// Graceful degradation
// ---------------------------------------------------------------------------

func TestBuildContext_RetrieverErrorDegrades(t *testing.T) {
	t.Parallel()

	store := memory.NewMemStore()
	seedMessages(t, store, "s1", []int{10, 10})

	a := newAssembler(t, store, &stubRetriever{err: errors.New("index offline")}, ctxengine.Config{})
	res, err := a.BuildContext(context.Background(), ctxengine.Request{
		UserID: "u1", SessionID: "s1", TurnText: "q", TokenBudget: 1000,
	})
	if err != nil {
		t.Fatalf("BuildContext must not fail on retriever error: %v", err)
	}
	if !res.Degraded {
		t.Error("Degraded = false, want true")
	}
	if len(res.Verbatim) != 2 {
		t.Errorf("verbatim = %d, want 2", len(res.Verbatim))
	}
	if len(res.Retrieved) != 0 {
		t.Errorf("retrieved = %d, want none", len(res.Retrieved))
	}
}

func TestBuildContext_RetrieverTimeoutDegrades(t *testing.T) {
	t.Parallel()

	store := memory.NewMemStore()
	seedMessages(t, store, "s1", []int{10})

	slow := &stubRetriever{
		delay:   200 * time.Millisecond,
		results: []retrieval.Result{{SummaryID: "x", Content: "y", TokenCount: 1}},
	}
	a := newAssembler(t, store, slow, ctxengine.Config{RetrievalTimeout: 20 * time.Millisecond})

	start := time.Now()
	res, err := a.BuildContext(context.Background(), ctxengine.Request{
		UserID: "u1", SessionID: "s1", TurnText: "q", TokenBudget: 1000,
	})
	if err != nil {
		t.Fatalf("BuildContext: %v", err)
	}
	if !res.Degraded {
		t.Error("Degraded = false, want true on timeout")
	}
	if elapsed := time.Since(start); elapsed > 150*time.Millisecond {
		t.Errorf("BuildContext took %v, want bounded by the retrieval timeout", elapsed)
	}
}

func TestConfig_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		cfg     ctxengine.Config
		wantErr bool
	}{
		{"defaults", ctxengine.Config{}, false},
		{"no reserve left", ctxengine.Config{RecentShare: 0.7, RetrievalShare: 0.3}, true},
		{"negative share", ctxengine.Config{RecentShare: -0.5}, true},
		{"floor out of range", ctxengine.Config{ImportanceFloor: 1.5}, true},
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
