package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"defi-risk-metrics/internal/cache"
	"defi-risk-metrics/internal/market"
	"defi-risk-metrics/internal/version"
)

// MetricsService is the subset of market.Service the HTTP layer drives.
type MetricsService interface {
	GetMarketMetrics(ctx context.Context, poolID string) (market.Result, error)
	ClearCache()
	ResetCacheStats()
	CacheStats() cache.Stats
	Metrics() market.OperationalMetrics
}

// Options configure the HTTP listener.
type Options struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	MetricsPath     string
	// Gatherer backs the metrics endpoint. Nil uses the default registry.
	Gatherer prometheus.Gatherer
}

// Server exposes market metrics and cache administration over HTTP.
type Server struct {
	opts   Options
	svc    MetricsService
	router *mux.Router
	logger zerolog.Logger
	now    func() time.Time
}

// envelope is the JSON shape of every API response.
type envelope struct {
	Success        bool        `json:"success"`
	Data           interface{} `json:"data,omitempty"`
	Error          string      `json:"error,omitempty"`
	Timestamp      string      `json:"timestamp"`
	RequestID      string      `json:"requestId"`
	ProcessingTime *float64    `json:"processingTime,omitempty"`
	CacheStatus    string      `json:"cacheStatus,omitempty"`
}

type cacheRequest struct {
	Action string `json:"action"`
}

// New wires routes for svc.
func New(opts Options, svc MetricsService, logger zerolog.Logger) *Server {
	if opts.Addr == "" {
		opts.Addr = ":8080"
	}
	if opts.MetricsPath == "" {
		opts.MetricsPath = "/metrics"
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 10 * time.Second
	}
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}

	s := &Server{
		opts:   opts,
		svc:    svc,
		router: mux.NewRouter(),
		logger: logger.With().Str("component", "api_server").Logger(),
		now:    time.Now,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.Handle(s.opts.MetricsPath, promhttp.HandlerFor(s.opts.Gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	// OPTIONS is routed so preflight requests reach the CORS middleware.
	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/market-metrics", s.handleMarketMetrics).Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc("/market-metrics/{poolId}", s.handleMarketMetrics).Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc("/cache", s.handleCache).Methods(http.MethodPost, http.MethodOptions)
	api.HandleFunc("/performance", s.handlePerformance).Methods(http.MethodGet, http.MethodOptions)

	s.router.Use(s.corsMiddleware)
	s.router.Use(s.loggingMiddleware)
}

// Handler returns the routed handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	server := &http.Server{
		Addr:         s.opts.Addr,
		Handler:      s.router,
		ReadTimeout:  s.opts.ReadTimeout,
		WriteTimeout: s.opts.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.opts.Addr).Msg("http server listening")
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	s.logger.Info().Msg("http server stopped")
	return nil
}

func (s *Server) handleMarketMetrics(w http.ResponseWriter, r *http.Request) {
	poolID, ok := mux.Vars(r)["poolId"]
	if !ok {
		poolID = r.URL.Query().Get("poolId")
	}

	res, err := s.svc.GetMarketMetrics(r.Context(), poolID)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, market.ErrInvalidPoolID) {
			status = http.StatusBadRequest
		}
		requestID := res.RequestID
		if requestID == "" {
			requestID = market.NewRequestID(s.now())
		}
		s.writeError(w, status, requestID, err.Error())
		return
	}

	ms := durationMillis(res.ProcessingTime)
	s.writeJSON(w, http.StatusOK, envelope{
		Success:        true,
		Data:           res.Metrics,
		Timestamp:      res.Timestamp.UTC().Format(time.RFC3339Nano),
		RequestID:      res.RequestID,
		ProcessingTime: &ms,
		CacheStatus:    string(res.CacheStatus),
	})
}

func (s *Server) handleCache(w http.ResponseWriter, r *http.Request) {
	start := s.now()
	requestID := market.NewRequestID(start)

	var req cacheRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, requestID, "invalid request body")
		return
	}

	var data interface{}
	switch req.Action {
	case "clear":
		s.svc.ClearCache()
		data = map[string]interface{}{"cleared": true, "stats": s.svc.CacheStats()}
	case "stats":
		data = s.svc.CacheStats()
	case "reset-stats":
		s.svc.ResetCacheStats()
		data = s.svc.CacheStats()
	default:
		s.writeError(w, http.StatusBadRequest, requestID, "unknown action: "+req.Action)
		return
	}

	ms := durationMillis(s.now().Sub(start))
	s.writeJSON(w, http.StatusOK, envelope{
		Success:        true,
		Data:           data,
		Timestamp:      start.UTC().Format(time.RFC3339Nano),
		RequestID:      requestID,
		ProcessingTime: &ms,
	})
}

func (s *Server) handlePerformance(w http.ResponseWriter, r *http.Request) {
	now := s.now()
	s.writeJSON(w, http.StatusOK, envelope{
		Success:   true,
		Data:      s.svc.Metrics(),
		Timestamp: now.UTC().Format(time.RFC3339Nano),
		RequestID: market.NewRequestID(now),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "OK",
		"timestamp": s.now().UTC().Format(time.RFC3339Nano),
		"version":   version.Get(),
		"cache":     s.svc.CacheStats(),
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error().Err(err).Msg("failed to encode response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, statusCode int, requestID, message string) {
	s.writeJSON(w, statusCode, envelope{
		Success:   false,
		Error:     message,
		Timestamp: s.now().UTC().Format(time.RFC3339Nano),
		RequestID: requestID,
	})
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapper := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapper, r)

		s.logger.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("remote_addr", r.RemoteAddr).
			Int("status", wrapper.statusCode).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusRecorder) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

func durationMillis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
