package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"memoryd/internal/episodic"
	"memoryd/internal/memerr"
	"memoryd/internal/queue"
	"memoryd/internal/retrieval"
	"memoryd/internal/semantic"
)

type addMessageRequest struct {
	ConversationID uuid.UUID `json:"conversation_id"`
	Message        struct {
		Role      string     `json:"role"`
		Content   string     `json:"content"`
		Timestamp *time.Time `json:"timestamp"`
	} `json:"message"`
}

func (s *Server) handleAddMessage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req addMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	if req.ConversationID == uuid.Nil || req.Message.Role == "" || req.Message.Content == "" {
		respondError(w, http.StatusBadRequest, errors.New("conversation_id, message.role, and message.content are required"))
		return
	}
	ts := time.Now().UTC()
	if req.Message.Timestamp != nil {
		ts = *req.Message.Timestamp
	}

	result, err := s.queue.Push(ctx, req.ConversationID, queue.Message{
		Role: req.Message.Role, Content: req.Message.Content, Timestamp: ts,
	})
	if err != nil {
		respondError(w, statusFromError(err), err)
		return
	}
	if result.Fenced {
		if err := s.dispatcher.DispatchSegmentation(ctx, req.ConversationID, result.FenceCount); err != nil {
			respondError(w, http.StatusInternalServerError, err)
			return
		}
	}
	respondJSON(w, http.StatusOK, map[string]any{})
}

type retrieveMemoryRequest struct {
	ConversationID uuid.UUID `json:"conversation_id"`
	Query          string    `json:"query"`
	EpisodicLimit  int       `json:"episodic_limit"`
	SemanticLimit  int       `json:"semantic_limit"`
	Detail         string    `json:"detail"`
	Category       string    `json:"category"`
}

func decodeRetrieveMemoryRequest(r *http.Request) (retrieveMemoryRequest, retrieval.DetailLevel, error) {
	var req retrieveMemoryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return req, "", fmt.Errorf("decode request: %w", err)
	}
	if req.ConversationID == uuid.Nil || req.Query == "" {
		return req, "", errors.New("conversation_id and query are required")
	}
	if req.EpisodicLimit <= 0 {
		req.EpisodicLimit = 5
	}
	if req.SemanticLimit <= 0 {
		req.SemanticLimit = 20
	}
	if req.Detail == "" {
		req.Detail = string(retrieval.DetailAuto)
	}
	detail, err := retrieval.ValidateDetailLevel(req.Detail)
	if err != nil {
		return req, "", err
	}
	return req, detail, nil
}

func (s *Server) handleRetrieveMemory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, detail, err := decodeRetrieveMemoryRequest(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	res, err := s.coordinator.RetrieveMemory(ctx, req.ConversationID, req.Query, req.EpisodicLimit, req.SemanticLimit, req.Category)
	if err != nil {
		respondError(w, statusFromError(err), err)
		return
	}
	respondMarkdown(w, retrieval.RenderMarkdown(res, detail, time.Now().UTC()))
}

func (s *Server) handleRetrieveMemoryRaw(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, _, err := decodeRetrieveMemoryRequest(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	res, err := s.coordinator.RetrieveMemory(ctx, req.ConversationID, req.Query, req.EpisodicLimit, req.SemanticLimit, req.Category)
	if err != nil {
		respondError(w, statusFromError(err), err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"semantic": rawSemanticFacts(res.Semantic),
		"episodic": rawEpisodicMemories(res.Episodic),
	})
}

type contextPreRetrieveRequest struct {
	ConversationID uuid.UUID `json:"conversation_id"`
	Query          string    `json:"query"`
	SemanticLimit  int       `json:"semantic_limit"`
	Category       string    `json:"category"`
}

func (s *Server) handleContextPreRetrieve(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req contextPreRetrieveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	if req.ConversationID == uuid.Nil || req.Query == "" {
		respondError(w, http.StatusBadRequest, errors.New("conversation_id and query are required"))
		return
	}
	if req.SemanticLimit <= 0 {
		req.SemanticLimit = 20
	}
	facts, err := s.coordinator.ContextPreRetrieve(ctx, req.ConversationID, req.Query, req.SemanticLimit, req.Category)
	if err != nil {
		respondError(w, statusFromError(err), err)
		return
	}
	res := retrieval.Result{Semantic: facts}
	respondMarkdown(w, retrieval.RenderMarkdown(res, retrieval.DetailNone, time.Now().UTC()))
}

type recentMemoryRequest struct {
	ConversationID uuid.UUID `json:"conversation_id"`
	Limit          int       `json:"limit"`
}

func decodeRecentMemoryRequest(r *http.Request) (recentMemoryRequest, error) {
	var req recentMemoryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return req, fmt.Errorf("decode request: %w", err)
	}
	if req.ConversationID == uuid.Nil {
		return req, errors.New("conversation_id is required")
	}
	if req.Limit <= 0 {
		req.Limit = 10
	}
	return req, nil
}

func (s *Server) handleRecentMemory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, err := decodeRecentMemoryRequest(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	mems, err := s.coordinator.Recent(ctx, req.ConversationID, req.Limit)
	if err != nil {
		respondError(w, statusFromError(err), err)
		return
	}
	res := retrieval.Result{Episodic: unscored(mems)}
	respondMarkdown(w, retrieval.RenderMarkdown(res, retrieval.DetailHigh, time.Now().UTC()))
}

func (s *Server) handleRecentMemoryRaw(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, err := decodeRecentMemoryRequest(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	mems, err := s.coordinator.Recent(ctx, req.ConversationID, req.Limit)
	if err != nil {
		respondError(w, statusFromError(err), err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"episodic": rawEpisodicMemories(unscored(mems))})
}

// unscored wraps plain episodic memories (no meaningful relevance score) so
// they can share the Markdown renderer and raw response shape with ranked
// retrieval results.
func unscored(mems []episodic.Memory) []episodic.Scored {
	out := make([]episodic.Scored, len(mems))
	for i, m := range mems {
		out[i] = episodic.Scored{Memory: m}
	}
	return out
}

// rawSemanticFact is semantic.Memory's wire form, omitting the embedding and
// adding the RRF fusion score.
type rawSemanticFact struct {
	ID                uuid.UUID   `json:"id"`
	ConversationID    uuid.UUID   `json:"conversation_id"`
	Category          string      `json:"category"`
	Fact              string      `json:"fact"`
	Keywords          []string    `json:"keywords"`
	SearchText        string      `json:"search_text"`
	SourceEpisodicIDs []uuid.UUID `json:"source_episodic_ids"`
	ValidAt           time.Time   `json:"valid_at"`
	InvalidAt         *time.Time  `json:"invalid_at"`
	CreatedAt         time.Time   `json:"created_at"`
	Score             float64     `json:"score"`
}

func rawSemanticFacts(scored []semantic.Scored) []rawSemanticFact {
	out := make([]rawSemanticFact, len(scored))
	for i, s := range scored {
		m := s.Memory
		out[i] = rawSemanticFact{
			ID: m.ID, ConversationID: m.ConversationID, Category: string(m.Category),
			Fact: m.Fact, Keywords: m.Keywords, SearchText: m.SearchText,
			SourceEpisodicIDs: m.SourceEpisodicIDs, ValidAt: m.ValidAt, InvalidAt: m.InvalidAt,
			CreatedAt: m.CreatedAt, Score: s.Score,
		}
	}
	return out
}

// rawEpisodicMemory is episodic.Memory's wire form, omitting the embedding
// and adding the retrieval score (zero for unranked recent_memory results).
type rawEpisodicMemory struct {
	ID             uuid.UUID       `json:"id"`
	ConversationID uuid.UUID       `json:"conversation_id"`
	Messages       []queue.Message `json:"messages"`
	Title          string          `json:"title"`
	Summary        string          `json:"summary"`
	Stability      float64         `json:"stability"`
	Difficulty     float64         `json:"difficulty"`
	Surprise       float64         `json:"surprise"`
	CreatedAt      time.Time       `json:"created_at"`
	StartAt        time.Time       `json:"start_at"`
	EndAt          time.Time       `json:"end_at"`
	LastReviewedAt time.Time       `json:"last_reviewed_at"`
	ConsolidatedAt *time.Time      `json:"consolidated_at"`
	Score          float64         `json:"score"`
}

func rawEpisodicMemories(scored []episodic.Scored) []rawEpisodicMemory {
	out := make([]rawEpisodicMemory, len(scored))
	for i, s := range scored {
		m := s.Memory
		out[i] = rawEpisodicMemory{
			ID: m.ID, ConversationID: m.ConversationID, Messages: m.Messages, Title: m.Title,
			Summary: m.Summary, Stability: m.Stability, Difficulty: m.Difficulty, Surprise: m.Surprise,
			CreatedAt: m.CreatedAt, StartAt: m.StartAt, EndAt: m.EndAt, LastReviewedAt: m.LastReviewedAt,
			ConsolidatedAt: m.ConsolidatedAt, Score: s.Score,
		}
	}
	return out
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondMarkdown(w http.ResponseWriter, markdown string) {
	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(markdown))
}

func respondError(w http.ResponseWriter, status int, err error) {
	respondJSON(w, status, map[string]any{"error": err.Error()})
}

func statusFromError(err error) int {
	switch {
	case errors.Is(err, memerr.ErrUnknownCategory), errors.Is(err, memerr.ErrUnknownDetailLevel):
		return http.StatusBadRequest
	case errors.Is(err, memerr.ErrQueueNotFound), errors.Is(err, memerr.ErrMemoryNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
