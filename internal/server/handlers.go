package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/raaihank/sentence-encoder/internal/embeddings"
	"github.com/raaihank/sentence-encoder/internal/vector"
	"github.com/raaihank/sentence-encoder/internal/websocket"
	"go.uber.org/zap"
)

// EncodeRequest is the body of POST /v1/encode
type EncodeRequest struct {
	Sentences []string `json:"sentences"`
	BatchSize int      `json:"batch_size,omitempty"`
	Normalize bool     `json:"normalize,omitempty"`
}

// EncodeResponse is returned by POST /v1/encode
type EncodeResponse struct {
	Model      string      `json:"model"`
	Dimension  int         `json:"dimension"`
	Embeddings [][]float32 `json:"embeddings"`
}

// SimilarityRequest is the body of POST /v1/similarity
type SimilarityRequest struct {
	A string `json:"a"`
	B string `json:"b"`
}

// SimilarityResponse is returned by POST /v1/similarity
type SimilarityResponse struct {
	Model      string  `json:"model"`
	Similarity float32 `json:"similarity"`
}

// SearchRequest is the body of POST /v1/search
type SearchRequest struct {
	Text          string  `json:"text"`
	Limit         int     `json:"limit,omitempty"`
	MinSimilarity float32 `json:"min_similarity,omitempty"`
	Source        string  `json:"source,omitempty"`
}

// StatsResponse is returned by GET /v1/stats
type StatsResponse struct {
	Model       *embeddings.ModelStats `json:"model"`
	WebSocket   websocket.HubStats     `json:"websocket"`
	RateLimited int                    `json:"tracked_clients"`
	Uptime      string                 `json:"uptime"`
}

type errorResponse struct {
	Error     string `json:"error"`
	Type      string `json:"type,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status, code := "healthy", http.StatusOK
	if err := s.svc.HealthCheck(r.Context()); err != nil {
		status, code = "unhealthy", http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]string{
		"status":    status,
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

// handleInfo handles info requests
func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"name":          "sentence-encoder",
		"version":       Version,
		"model":         embeddings.Describe(s.svc),
		"max_sentences": s.config.Server.MaxSentences,
		"batch_size":    s.config.Model.BatchSize,
		"vector_search": s.store != nil,
	})
}

func (s *Server) handleEncode(w http.ResponseWriter, r *http.Request) {
	var req EncodeRequest
	if !s.decode(w, r, &req) {
		return
	}
	if len(req.Sentences) > s.config.Server.MaxSentences {
		writeError(w, http.StatusRequestEntityTooLarge, "too many sentences")
		return
	}
	batchSize := req.BatchSize
	if batchSize == 0 {
		batchSize = s.config.Model.BatchSize
	}

	requestID := getRequestID(r.Context())
	start := time.Now()

	ctx, cancel := s.encodeContext(r)
	defer cancel()
	ctx, report := embeddings.WithEncodeReport(ctx)
	vectors, err := s.svc.Encode(ctx, req.Sentences, batchSize)
	duration := time.Since(start)
	if err != nil {
		s.logger.WithRequestID(requestID).Error("Encode failed",
			zap.Int("sentences", len(req.Sentences)),
			zap.Int("batch_size", batchSize),
			zap.Error(err),
		)
		s.broadcastEncode(requestID, len(req.Sentences), batchSize, 0, duration, err)
		s.writeServiceError(w, r, err)
		return
	}

	if req.Normalize {
		for i := range vectors {
			vectors[i] = embeddings.NormalizeEmbedding(vectors[i])
		}
	}

	s.broadcastEncode(requestID, len(req.Sentences), batchSize, report.CacheHits(), duration, nil)

	writeJSON(w, http.StatusOK, EncodeResponse{
		Model:      s.svc.Name(),
		Dimension:  s.svc.Dimension(),
		Embeddings: vectors,
	})
}

func (s *Server) handleSimilarity(w http.ResponseWriter, r *http.Request) {
	var req SimilarityRequest
	if !s.decode(w, r, &req) {
		return
	}

	ctx, cancel := s.encodeContext(r)
	defer cancel()
	vectors, err := s.svc.Encode(ctx, []string{req.A, req.B}, s.config.Model.BatchSize)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, SimilarityResponse{
		Model:      s.svc.Name(),
		Similarity: s.svc.ComputeSimilarity(vectors[0], vectors[1]),
	})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req SearchRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.Text == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}

	ctx, cancel := s.encodeContext(r)
	defer cancel()
	vectors, err := s.svc.Encode(ctx, []string{req.Text}, 1)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	results, err := s.store.FindSimilar(r.Context(), vectors[0], &vector.SearchOptions{
		Limit:         req.Limit,
		MinSimilarity: req.MinSimilarity,
		Model:         s.svc.Name(),
		Source:        req.Source,
	})
	if err != nil {
		s.logger.WithRequestID(getRequestID(r.Context())).Error("Vector search failed", zap.Error(err))
		writeError(w, http.StatusBadGateway, "vector search failed")
		return
	}
	if results == nil {
		results = []*vector.SimilarityResult{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"results": results})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, StatsResponse{
		Model:       s.svc.GetStats(),
		WebSocket:   s.wsHub.GetStats(),
		RateLimited: s.limiter.Clients(),
		Uptime:      time.Since(s.started).Round(time.Second).String(),
	})
}

func (s *Server) broadcastEncode(requestID string, sentences, batchSize int, cacheHits int64, duration time.Duration, err error) {
	event := websocket.EncodeCompletedEvent{
		Sentences:  sentences,
		Dimension:  s.svc.Dimension(),
		CacheHits:  cacheHits,
		DurationMs: float64(duration.Microseconds()) / 1000,
		Model:      s.svc.Name(),
	}
	if batchSize > 0 {
		event.Batches = (sentences + batchSize - 1) / batchSize
	}
	if err != nil {
		event.Error = err.Error()
	}
	s.wsHub.BroadcastEvent(websocket.Event{
		Type:      websocket.EventTypeEncodeCompleted,
		Timestamp: time.Now(),
		RequestID: requestID,
		Data:      event,
	})
}

// encodeContext bounds an encode call by model.model_timeout
func (s *Server) encodeContext(r *http.Request) (context.Context, context.CancelFunc) {
	if s.config.Model.ModelTimeout > 0 {
		return context.WithTimeout(r.Context(), s.config.Model.ModelTimeout)
	}
	return context.WithCancel(r.Context())
}

// decode reads a JSON body, answering 400 or 413 itself on failure
func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if s.config.Server.MaxBodyBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.config.Server.MaxBodyBytes)
	}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return false
	}
	return true
}

// statusFor maps encoder errors to HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, embeddings.ErrInvalidInput), errors.Is(err, embeddings.ErrTokenizationFailed):
		return http.StatusBadRequest
	case errors.Is(err, embeddings.ErrTimeoutError), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, embeddings.ErrModelNotLoaded), errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	resp := errorResponse{Error: err.Error(), RequestID: getRequestID(r.Context())}
	var embErr *embeddings.EmbeddingError
	if errors.As(err, &embErr) {
		resp.Type = embErr.Type
	}
	writeJSON(w, statusFor(err), resp)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
