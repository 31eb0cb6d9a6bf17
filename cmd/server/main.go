// Package main is the entry point for points-pulse, a service that
// aggregates loyalty-points balances for tracked wallet positions and
// reconciles them against expected accrual baselines.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/yourorg/points-pulse/internal/config"
	"github.com/yourorg/points-pulse/internal/expect"
	"github.com/yourorg/points-pulse/internal/fetch"
	"github.com/yourorg/points-pulse/internal/model"
	"github.com/yourorg/points-pulse/internal/otel"
	"github.com/yourorg/points-pulse/internal/pipeline"
	"github.com/yourorg/points-pulse/internal/prices"
	"github.com/yourorg/points-pulse/internal/registry"
	"github.com/yourorg/points-pulse/internal/store"
	"github.com/yourorg/points-pulse/internal/strategies"
)

// startTime records when the service was initialized for uptime reporting
var startTime = time.Now()

// Server is the HTTP surface over the aggregation pipeline.
type Server struct {
	cfg     config.Config
	service *pipeline.Service
	store   *store.Store
	server  *http.Server
	limiter *rate.Limiter
	metrics *serverMetrics
}

// serverMetrics holds Prometheus metrics for the HTTP layer
type serverMetrics struct {
	requestCounter  *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
}

// registerMetrics sets up Prometheus metrics collection
func registerMetrics() *serverMetrics {
	m := &serverMetrics{
		requestCounter: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pointspulse_requests_total",
				Help: "Total number of requests processed",
			},
			[]string{"endpoint", "status"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pointspulse_request_duration_seconds",
				Help:    "Request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"endpoint"},
		),
	}
	prometheus.MustRegister(m.requestCounter, m.requestDuration)
	return m
}

func main() {
	// .env is optional; real deployments inject environment directly
	_ = godotenv.Load()

	setupLogging()
	cfg := config.Load()

	shutdownTracer := otel.InitTracer(cfg)
	defer shutdownTracer()

	if cfg.DatabaseURL == "" {
		logrus.Fatal("DATABASE_URL is required")
	}
	auditStore, err := store.New(cfg.DatabaseURL)
	if err != nil {
		logrus.Fatalf("Error opening audit store: %v", err)
	}

	reg := registry.New(cfg)
	converter := prices.New(cfg.PriceFeedURL, cfg.PriceFeedKey)
	engine := fetch.New(reg, cfg.RequestTimeout, rate.NewLimiter(rate.Limit(cfg.FetchRPS), cfg.FetchBurst))

	service, err := pipeline.New(pipeline.Options{
		Strategies:  strategies.Default(),
		Registry:    reg,
		Engine:      engine,
		Calculator:  expect.New(converter),
		Converter:   converter,
		Store:       auditStore,
		MinInterval: cfg.MinPersistInterval,
		Concurrency: cfg.FetchConcurrency,
		Metrics:     pipeline.NewMetrics(prometheus.DefaultRegisterer),
	})
	if err != nil {
		logrus.Fatalf("Error building pipeline: %v", err)
	}

	server := &Server{
		cfg:     cfg,
		service: service,
		store:   auditStore,
		limiter: rate.NewLimiter(rate.Limit(getEnvFloat("RATE_LIMIT_RPS", 10.0)), getEnvInt("RATE_LIMIT_BURST", 20)),
		metrics: registerMetrics(),
	}
	server.Start()
}

// setupLogging configures the logging for the application
func setupLogging() {
	logFormat := strings.ToLower(os.Getenv("LOG_FORMAT"))
	logLevel := strings.ToLower(os.Getenv("LOG_LEVEL"))

	switch logFormat {
	case "json":
		logrus.SetFormatter(&logrus.JSONFormatter{})
	default:
		logrus.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
	}

	switch logLevel {
	case "debug":
		logrus.SetLevel(logrus.DebugLevel)
	case "info":
		logrus.SetLevel(logrus.InfoLevel)
	case "warn", "warning":
		logrus.SetLevel(logrus.WarnLevel)
	case "error":
		logrus.SetLevel(logrus.ErrorLevel)
	default:
		logrus.SetLevel(logrus.InfoLevel)
	}
}

// Start begins the HTTP server and sets up graceful shutdown
func (s *Server) Start() {
	mux := http.NewServeMux()

	mux.HandleFunc("/points", s.limited(s.handlePoints))
	mux.HandleFunc("/persist", s.limited(s.handlePersist))
	mux.HandleFunc("/performance", s.limited(s.handlePerformance))
	mux.HandleFunc("/snapshots/latest", s.limited(s.handleLatestSnapshot))
	mux.HandleFunc("/snapshots/history", s.limited(s.handleHistory))
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/status", s.handleStatus)
	mux.Handle("/metrics", promhttp.Handler())

	s.server = &http.Server{
		Addr:         ":" + s.cfg.Port,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logrus.Infof("Server starting on port %s", s.cfg.Port)
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.Fatalf("Error starting server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logrus.Info("Server shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		logrus.Fatalf("Server shutdown failed: %v", err)
	}
	logrus.Info("Server stopped")
}

// limited wraps a handler with the inbound rate limiter and request metrics.
func (s *Server) limited(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow() {
			s.errorResponse(w, r, http.StatusTooManyRequests, "Rate limit exceeded")
			return
		}
		start := time.Now()
		h(w, r)
		s.metrics.requestDuration.WithLabelValues(r.URL.Path).Observe(time.Since(start).Seconds())
	}
}

// handlePoints computes actual and expected points for all strategies now.
// Optional programs=a,b restricts the computation to those program ids.
func (s *Server) handlePoints(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.errorResponse(w, r, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var programs []string
	if raw := r.URL.Query().Get("programs"); raw != "" {
		programs = strings.Split(raw, ",")
	}

	results, errs := s.service.ComputeAll(r.Context(), programs)

	response := map[string]interface{}{
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"results":   results,
	}
	status := http.StatusOK
	if len(errs) > 0 {
		msgs := make([]string, 0, len(errs))
		blocked := false
		for _, err := range errs {
			msgs = append(msgs, err.Error())
			var b *model.UpstreamBlockedError
			if errors.As(err, &b) {
				blocked = true
			}
		}
		response["errors"] = msgs
		response["blocked_region"] = blocked
		if len(results) == 0 {
			status = http.StatusBadGateway
		}
	}

	s.jsonResponse(w, r, status, response)
}

// handlePersist runs the guarded persistence pipeline.
func (s *Server) handlePersist(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.errorResponse(w, r, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	report, err := s.service.PersistRun(r.Context())
	if err != nil {
		if errors.Is(err, model.ErrComputationSkipped) {
			s.jsonResponse(w, r, http.StatusOK, map[string]interface{}{
				"status": "skipped",
				"reason": err.Error(),
			})
			return
		}
		var cfgErr *model.ConfigurationError
		if errors.As(err, &cfgErr) {
			s.errorResponse(w, r, http.StatusInternalServerError, err.Error())
			return
		}
		s.errorResponse(w, r, http.StatusBadGateway, err.Error())
		return
	}

	s.jsonResponse(w, r, http.StatusOK, map[string]interface{}{
		"status": "persisted",
		"report": report,
	})
}

// handlePerformance returns realized-vs-expected comparisons over the
// trailing window. Optional strategies=s1,s2 restricts the output.
func (s *Server) handlePerformance(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.errorResponse(w, r, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var names []string
	if raw := r.URL.Query().Get("strategies"); raw != "" {
		names = strings.Split(raw, ",")
	}

	perf, err := s.service.Performance(r.Context(), names)
	if err != nil {
		s.errorResponse(w, r, http.StatusInternalServerError, err.Error())
		return
	}
	s.jsonResponse(w, r, http.StatusOK, map[string]interface{}{"performance": perf})
}

// handleLatestSnapshot returns the last persisted snapshot for a pair.
func (s *Server) handleLatestSnapshot(w http.ResponseWriter, r *http.Request) {
	strategy, programID, ok := s.pairParams(w, r)
	if !ok {
		return
	}

	snap, err := s.store.LatestSnapshot(r.Context(), strategy, programID)
	if err != nil {
		s.errorResponse(w, r, http.StatusInternalServerError, err.Error())
		return
	}
	if snap == nil {
		s.errorResponse(w, r, http.StatusNotFound, fmt.Sprintf("no snapshots for %s/%s", strategy, programID))
		return
	}
	s.jsonResponse(w, r, http.StatusOK, snap)
}

// handleHistory returns the full snapshot log for a pair.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	strategy, programID, ok := s.pairParams(w, r)
	if !ok {
		return
	}

	history, err := s.store.History(r.Context(), strategy, programID)
	if err != nil {
		s.errorResponse(w, r, http.StatusInternalServerError, err.Error())
		return
	}
	s.jsonResponse(w, r, http.StatusOK, map[string]interface{}{"snapshots": history})
}

// pairParams reads the strategy/program query parameters shared by the
// snapshot endpoints.
func (s *Server) pairParams(w http.ResponseWriter, r *http.Request) (string, string, bool) {
	if r.Method != http.MethodGet {
		s.errorResponse(w, r, http.StatusMethodNotAllowed, "Method not allowed")
		return "", "", false
	}
	strategy := r.URL.Query().Get("strategy")
	programID := r.URL.Query().Get("program")
	if strategy == "" || programID == "" {
		s.errorResponse(w, r, http.StatusBadRequest, "strategy and program query parameters are required")
		return "", "", false
	}
	return strategy, programID, true
}

// handleHealth is a simple health check endpoint
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{
		"status":    "OK",
		"version":   "1.0.0",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// handleStatus provides detailed service status information
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := map[string]interface{}{
		"status":     "operational",
		"uptime":     time.Since(startTime).String(),
		"version":    "1.0.0",
		"strategies": len(s.service.Strategies()),
		"configuration": map[string]interface{}{
			"min_persist_interval": s.cfg.MinPersistInterval.String(),
			"fetch_concurrency":    s.cfg.FetchConcurrency,
			"request_timeout":      s.cfg.RequestTimeout.String(),
		},
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(status)
}

func (s *Server) jsonResponse(w http.ResponseWriter, r *http.Request, status int, payload interface{}) {
	s.metrics.requestCounter.WithLabelValues(r.URL.Path, "success").Inc()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

// errorResponse returns a formatted error response
func (s *Server) errorResponse(w http.ResponseWriter, r *http.Request, statusCode int, errorMsg string) {
	logrus.Warn(errorMsg)
	s.metrics.requestCounter.WithLabelValues(r.URL.Path, "error").Inc()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status": "error",
		"error":  errorMsg,
	})
}
