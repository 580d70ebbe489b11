package main

import (
	"net/http"
	"strings"
	"time"

	"github.com/rs/cors"
)

// setupRoutes registers all HTTP routes and middleware
func (s *Server) setupRoutes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", s.handleRoot)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /api/stats", s.handleStats)
	mux.HandleFunc("GET /api/prototypes", s.handlePrototypes)

	// Annotation loop
	mux.HandleFunc("GET /api/audio/batch", s.handleBatch)
	mux.HandleFunc("GET /api/audio/{filename}/segments", s.handleSegments)
	mux.HandleFunc("POST /api/audio/{filename}/labels", s.handleSubmitLabels)
	mux.HandleFunc("GET /api/audio/{filename}/history", s.handleHistory)

	// Audio, spectrograms and embeddings for the front end
	mux.Handle("GET /data/", http.StripPrefix("/data/", http.FileServer(http.Dir(s.config.DataDir))))

	return corsMiddleware(s.config.AllowedOrigins)(loggingMiddleware(s.log)(mux))
}

// corsMiddleware adds CORS headers to responses
func corsMiddleware(allowedOrigins []string) func(http.Handler) http.Handler {
	allowAll := len(allowedOrigins) == 0 || (len(allowedOrigins) == 1 && allowedOrigins[0] == "*")
	opts := cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", "Authorization", "X-Requested-With"},
		AllowCredentials: !allowAll,
		MaxAge:           3600,
	}
	if allowAll {
		opts.AllowedOrigins = []string{"*"}
	}
	return cors.New(opts).Handler
}

type requestLogger interface {
	Infof(format string, args ...any)
}

// loggingMiddleware logs all HTTP requests
func loggingMiddleware(log requestLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(wrapped, r)
			log.Infof("%s %s from %s -> %d", r.Method, r.URL.Path, getClientIP(r), wrapped.statusCode)
		})
	}
}

// responseWriter wraps http.ResponseWriter to capture the status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// getClientIP extracts the client IP from the request
func getClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		ips := strings.Split(xff, ",")
		return strings.TrimSpace(ips[0])
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}

	ip := r.RemoteAddr
	if idx := strings.LastIndex(ip, ":"); idx != -1 {
		ip = ip[:idx]
	}
	return ip
}

// Start starts the HTTP server
func (s *Server) Start() error {
	addr := ":" + s.config.Port
	s.log.Infof("Annotation server starting on %s", addr)
	s.log.Infof("   Dataset: %s (%s)", s.config.Dataset, s.config.DataDir)
	s.log.Infof("   Database: %s", s.config.DBPath)
	s.log.Infof("   CORS Origins: %v", s.config.AllowedOrigins)
	s.log.Infof("Endpoints:")
	s.log.Infof("   GET    /health                              - Health check")
	s.log.Infof("   GET    /api/stats                           - Annotation progress")
	s.log.Infof("   GET    /api/prototypes                      - Current class prototypes")
	s.log.Infof("   GET    /api/audio/batch                     - Next batch to annotate")
	s.log.Infof("   GET    /api/audio/{filename}/segments       - Suggested segments")
	s.log.Infof("   POST   /api/audio/{filename}/labels         - Submit labels")
	s.log.Infof("   GET    /api/audio/{filename}/history        - Submission history")
	s.log.Infof("   GET    /data/...                            - Static dataset files")

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.setupRoutes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return srv.ListenAndServe()
}
