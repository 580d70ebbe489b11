package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/johnmartinsson/active-learning-for-audio-data/internal/sampling"
	"github.com/johnmartinsson/active-learning-for-audio-data/internal/segment"
	"github.com/johnmartinsson/active-learning-for-audio-data/pkg/annotator"
	"github.com/johnmartinsson/active-learning-for-audio-data/pkg/models"
)

// Server encapsulates the HTTP server and its dependencies
type Server struct {
	service annotator.Service
	config  *ServerConfig
	log     annotator.Logger
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port           string
	DataDir        string
	Dataset        string
	DBPath         string
	AllowedOrigins []string
}

// NewServer creates a new server instance
func NewServer(service annotator.Service, config *ServerConfig, log annotator.Logger) *Server {
	return &Server{
		service: service,
		config:  config,
		log:     log,
	}
}

// respondJSON writes a JSON response
func (s *Server) respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Errorf("Failed to encode JSON response: %v", err)
	}
}

// respondError writes an error response
func (s *Server) respondError(w http.ResponseWriter, statusCode int, message string) {
	s.respondJSON(w, statusCode, ErrorResponse{
		Error:   http.StatusText(statusCode),
		Message: message,
		Code:    statusCode,
	})
}

// statusFor maps engine errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrUnknownRecording), errors.Is(err, models.ErrMissingEmbeddings):
		return http.StatusNotFound
	case errors.Is(err, models.ErrInvalidLabel),
		errors.Is(err, sampling.ErrUnknownStrategy),
		errors.Is(err, sampling.ErrInvalidBatchSize),
		errors.Is(err, segment.ErrInvalidSegments):
		return http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// queryInt reads an integer query parameter. Missing, non-numeric or zero values fall back to def.
func queryInt(r *http.Request, key string, def int) int {
	n, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil || n == 0 {
		return def
	}
	return n
}

// handleRoot handles GET /
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]any{
		"service": "Active learning annotation API",
		"version": "1.0.0",
		"dataset": s.config.Dataset,
		"endpoints": map[string]string{
			"health":       "GET /health",
			"stats":        "GET /api/stats",
			"prototypes":   "GET /api/prototypes",
			"batch":        "GET /api/audio/batch?strategy=&batchSize=",
			"segments":     "GET /api/audio/{filename}/segments?labelingStrategyChoice=&numSegments=",
			"submitLabels": "POST /api/audio/{filename}/labels",
			"history":      "GET /api/audio/{filename}/history",
			"data":         "GET /data/...",
		},
	})
}

// handleHealth handles GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   time.Now().Format(time.RFC3339),
	})
}

// handleStats handles GET /api/stats
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.service.Stats()
	if err != nil {
		s.log.Errorf("Failed to compute stats: %v", err)
		s.respondError(w, http.StatusInternalServerError, "Failed to retrieve stats")
		return
	}
	s.respondJSON(w, http.StatusOK, stats)
}

// handlePrototypes handles GET /api/prototypes
func (s *Server) handlePrototypes(w http.ResponseWriter, r *http.Request) {
	protos, err := s.service.Prototypes(r.Context())
	if err != nil {
		s.log.Errorf("Failed to compute prototypes: %v", err)
		s.respondError(w, http.StatusInternalServerError, "Failed to compute prototypes")
		return
	}
	s.respondJSON(w, http.StatusOK, protos)
}

// handleBatch handles GET /api/audio/batch
func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request) {
	kind, err := sampling.ParseKind(r.URL.Query().Get("strategy"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	batchSize := queryInt(r, "batchSize", defaultBatchSize)

	batch, err := s.service.Batch(r.Context(), kind, batchSize)
	if err != nil {
		status := statusFor(err)
		s.log.Errorf("Error during %s sampling: %v", kind, err)
		if status == http.StatusInternalServerError {
			s.respondError(w, status, "Error during batch retrieval")
			return
		}
		s.respondError(w, status, err.Error())
		return
	}

	s.respondJSON(w, http.StatusOK, BatchResponse{Batch: batch})
}

// handleSegments handles GET /api/audio/{filename}/segments
func (s *Server) handleSegments(w http.ResponseWriter, r *http.Request) {
	filename := r.PathValue("filename")
	policy, err := segment.ParsePolicy(r.URL.Query().Get("labelingStrategyChoice"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	numSegments := queryInt(r, "numSegments", defaultNumSegments)

	res, err := s.service.Segments(r.Context(), filename, policy, numSegments)
	if err != nil {
		s.log.Errorf("Failed to compute segments for %s: %v", filename, err)
		status := statusFor(err)
		if status == http.StatusInternalServerError {
			s.respondError(w, status, "Failed to compute segments")
			return
		}
		s.respondError(w, status, "Failed to compute segments: "+err.Error())
		return
	}

	segs := make([]SegmentDTO, len(res.Segments))
	for i, seg := range res.Segments {
		segs[i] = SegmentDTO{Start: seg.Start, End: seg.End}
	}
	s.respondJSON(w, http.StatusOK, SegmentsResponse{
		Segments:        segs,
		Probabilities:   res.Probabilities,
		Timings:         res.Timings,
		SuggestedLabels: res.SuggestedLabels(),
	})
}

// handleSubmitLabels handles POST /api/audio/{filename}/labels
func (s *Server) handleSubmitLabels(w http.ResponseWriter, r *http.Request) {
	filename := r.PathValue("filename")

	var req SubmitLabelsRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		s.log.Errorf("Failed to decode request: %v", err)
		s.respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := req.Validate(); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	sub, err := s.service.SubmitLabels(r.Context(), filename, req.Labels)
	if err != nil {
		s.log.Errorf("Failed to save labels for %s: %v", filename, err)
		s.respondError(w, statusFor(err), "Failed to save labels: "+err.Error())
		return
	}

	s.respondJSON(w, http.StatusOK, SubmitLabelsResponse{
		Message:    "Labels and embeddings updated successfully",
		Submission: sub,
	})
}

// handleHistory handles GET /api/audio/{filename}/history
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	filename := r.PathValue("filename")

	subs, err := s.service.History(filename)
	if err != nil {
		s.log.Errorf("Failed to read history for %s: %v", filename, err)
		s.respondError(w, http.StatusInternalServerError, "Failed to retrieve history")
		return
	}
	if subs == nil {
		subs = []annotator.Submission{}
	}

	s.respondJSON(w, http.StatusOK, HistoryResponse{
		Filename:    filename,
		Submissions: subs,
		Count:       len(subs),
	})
}
