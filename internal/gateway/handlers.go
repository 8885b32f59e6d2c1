package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	ctxengine "github.com/engramdev/engram/internal/context"
	"github.com/engramdev/engram/internal/engine"
	"github.com/engramdev/engram/internal/memory"
)

// healthResponse is the JSON response for GET /health.
type healthResponse struct {
	Status string `json:"status"`
	Uptime string `json:"uptime"`
}

func (g *Gateway) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, healthResponse{
			Status: "ok",
			Uptime: time.Since(g.startedAt).Round(time.Second).String(),
		})
	}
}

type recordTurnRequest struct {
	UserID  string `json:"user_id"`
	Role    string `json:"role"`
	Content string `json:"content"`
}

func (g *Gateway) handleRecordTurn() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req recordTurnRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid JSON body", http.StatusBadRequest)
			return
		}

		msg, err := g.engine.RecordTurn(r.Context(), req.UserID,
			chi.URLParam(r, "sessionID"), memory.Role(req.Role), req.Content)
		if err != nil {
			g.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, msg)
	}
}

type buildContextRequest struct {
	UserID      string `json:"user_id"`
	SessionID   string `json:"session_id"`
	TurnText    string `json:"turn_text"`
	TokenBudget int    `json:"token_budget"`
}

type buildContextResponse struct {
	Verbatim   []memory.Message `json:"verbatim"`
	Retrieved  []retrievedJSON  `json:"retrieved"`
	UsedTokens int              `json:"used_tokens"`
	Degraded   bool             `json:"degraded"`
}

type retrievedJSON struct {
	MessageID  string  `json:"message_id,omitempty"`
	SummaryID  string  `json:"summary_id,omitempty"`
	SessionID  string  `json:"session_id"`
	Content    string  `json:"content"`
	Similarity float64 `json:"similarity"`
	TokenCount int     `json:"token_count"`
}

func (g *Gateway) handleBuildContext() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req buildContextRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid JSON body", http.StatusBadRequest)
			return
		}

		res, err := g.engine.BuildContext(r.Context(), ctxengine.Request{
			UserID:      req.UserID,
			SessionID:   req.SessionID,
			TurnText:    req.TurnText,
			TokenBudget: req.TokenBudget,
		})
		if err != nil {
			g.writeError(w, err)
			return
		}

		g.metrics.contextTokens.Observe(float64(res.UsedTokens))
		if res.Degraded {
			g.metrics.degradedTurns.Inc()
		}

		resp := buildContextResponse{
			Verbatim:   res.Verbatim,
			Retrieved:  make([]retrievedJSON, 0, len(res.Retrieved)),
			UsedTokens: res.UsedTokens,
			Degraded:   res.Degraded,
		}
		if resp.Verbatim == nil {
			resp.Verbatim = []memory.Message{}
		}
		for _, item := range res.Retrieved {
			resp.Retrieved = append(resp.Retrieved, retrievedJSON{
				MessageID:  item.MessageID,
				SummaryID:  item.SummaryID,
				SessionID:  item.SessionID,
				Content:    item.Content,
				Similarity: item.Similarity,
				TokenCount: item.TokenCount,
			})
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func (g *Gateway) handleCompressSession() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sum, err := g.engine.CompressSession(r.Context(), chi.URLParam(r, "sessionID"))
		if err != nil {
			g.writeError(w, err)
			return
		}
		if sum == nil {
			writeJSON(w, http.StatusOK, map[string]any{"compressed": false})
			return
		}
		g.metrics.summariesMade.Inc()
		writeJSON(w, http.StatusCreated, sum)
	}
}

func (g *Gateway) handleCompressUser() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sums, err := g.engine.CompressUserMemories(r.Context(), chi.URLParam(r, "userID"))
		if err != nil {
			g.writeError(w, err)
			return
		}
		g.metrics.summariesMade.Add(float64(len(sums)))
		if sums == nil {
			sums = []memory.Summary{}
		}
		writeJSON(w, http.StatusOK, sums)
	}
}

func (g *Gateway) handleRestoreSummary() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sum, err := g.engine.RestoreSummary(r.Context(), chi.URLParam(r, "summaryID"))
		if err != nil {
			g.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, sum)
	}
}

type feedbackRequest struct {
	UserID    string  `json:"user_id"`
	SessionID string  `json:"session_id"`
	MessageID string  `json:"message_id"`
	SummaryID string  `json:"summary_id"`
	Relevance float64 `json:"relevance"`
}

func (g *Gateway) handleFeedback() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req feedbackRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid JSON body", http.StatusBadRequest)
			return
		}

		err := g.engine.RecordFeedback(r.Context(), engine.Feedback{
			UserID:    req.UserID,
			SessionID: req.SessionID,
			MessageID: req.MessageID,
			SummaryID: req.SummaryID,
			Relevance: req.Relevance,
		})
		if err != nil {
			g.writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (g *Gateway) handleInsights() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ins, err := g.engine.GetInsights(r.Context(), chi.URLParam(r, "userID"))
		if err != nil {
			g.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, ins)
	}
}

func (g *Gateway) handleOptimization() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		opt, err := g.engine.GetOptimization(r.Context(), chi.URLParam(r, "userID"))
		if err != nil {
			g.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, opt)
	}
}

func (g *Gateway) handleTrends() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		days := 0
		if raw := r.URL.Query().Get("days"); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil || parsed < 0 {
				http.Error(w, "days must be a non-negative integer", http.StatusBadRequest)
				return
			}
			days = parsed
		}

		tr, err := g.engine.GetTrends(r.Context(), chi.URLParam(r, "userID"), days)
		if err != nil {
			g.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, tr)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps the engine's error taxonomy onto HTTP status codes.
func (g *Gateway) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, engine.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, memory.ErrSessionNotFound),
		errors.Is(err, memory.ErrMessageNotFound),
		errors.Is(err, memory.ErrSummaryNotFound):
		status = http.StatusNotFound
	case errors.Is(err, memory.ErrSessionOwner):
		status = http.StatusForbidden
	case errors.Is(err, memory.ErrAlreadySummarized):
		status = http.StatusConflict
	case errors.Is(err, engine.ErrStoreUnavailable):
		status = http.StatusServiceUnavailable
	}
	if status == http.StatusInternalServerError {
		g.logger.Error("gateway: request failed", "error", err)
	}
	http.Error(w, err.Error(), status)
}
