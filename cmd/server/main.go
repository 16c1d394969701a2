package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"golang.org/x/time/rate"

	"github.com/brandrank/quantum-intel/internal/api"
	"github.com/brandrank/quantum-intel/internal/audit"
	"github.com/brandrank/quantum-intel/internal/cache"
	"github.com/brandrank/quantum-intel/internal/config"
	"github.com/brandrank/quantum-intel/internal/forecast"
	"github.com/brandrank/quantum-intel/internal/metrics"
	"github.com/brandrank/quantum-intel/internal/orchestrator"
	"github.com/brandrank/quantum-intel/internal/source"
	"github.com/brandrank/quantum-intel/internal/store"
	pkgotel "github.com/brandrank/quantum-intel/pkg/otel"
)

type Server struct {
	orch    *orchestrator.Orchestrator
	builder *forecast.Builder
	limiter *rate.Limiter
	metricsAuth struct {
		enabled  bool
		user     string
		password string
	}
}

func main() {
	cfg := config.FromEnv()

	// Setup analysis store
	storeBackend := getEnv("STORE_BACKEND", "postgres")
	var analysisStore store.AnalysisStore
	var responses source.ResponseSource
	var related source.RelatedSource
	var err error

	switch storeBackend {
	case "memory":
		analysisStore = store.NewMemoryStore()
		mem := source.NewMemorySource()
		responses, related = mem, mem
	case "postgres":
		if cfg.PostgresConn == "" {
			log.Fatal("POSTGRES_CONN is required when STORE_BACKEND=postgres")
		}
		pgStore, err := store.NewPostgresStore(cfg.PostgresConn)
		if err != nil {
			log.Fatalf("Failed to create Postgres store: %v", err)
		}
		analysisStore = pgStore
		pgSource, err := source.ConnectPostgresSource(cfg.PostgresConn)
		if err != nil {
			log.Fatalf("Failed to create Postgres source: %v", err)
		}
		responses, related = pgSource, pgSource
	default:
		log.Fatalf("Unknown STORE_BACKEND: %s", storeBackend)
	}

	// Setup result cache
	var resultCache cache.ResultCache = cache.Disabled{}
	if cfg.CacheEnabled {
		if cfg.RedisAddr != "" {
			resultCache, err = cache.NewRedisCache(cfg.RedisAddr, getEnv("REDIS_PASSWORD", ""), cfg.RedisDB, cfg.CacheTTL)
			if err != nil {
				log.Fatalf("Failed to create Redis cache: %v", err)
			}
		} else {
			resultCache, err = cache.NewLRUCache(cfg.CacheSize, cfg.CacheTTL)
			if err != nil {
				log.Fatalf("Failed to create LRU cache: %v", err)
			}
		}
	}

	// Audit recorder rides the store's backend
	var auditor audit.Recorder = audit.NewMemoryRecorder()
	if pgSource, ok := responses.(*source.PostgresSource); ok {
		auditor = audit.NewPostgresRecorder(pgSource.Pool())
	}

	m := metrics.New(prometheus.DefaultRegisterer)

	orch, err := orchestrator.New(cfg, orchestrator.Deps{
		Responses: responses,
		Related:   related,
		Cache:     resultCache,
		Store:     analysisStore,
		Auditor:   auditor,
		Metrics:   m,
	})
	if err != nil {
		// ConfigurationError is fatal for the subsystem but the process stays
		// up serving a disabled health report, per the rollout contract.
		log.Printf("quantum: subsystem failed to initialize: %v", err)
	}

	var builder *forecast.Builder
	if orch != nil {
		builder = forecast.NewBuilder(orch, analysisStore)
	}

	// Tracing (optional)
	var tp *sdktrace.TracerProvider
	if endpoint := getEnv("OTEL_COLLECTOR_ENDPOINT", ""); endpoint != "" {
		otelCfg := pkgotel.DefaultConfig("quantum-intel")
		otelCfg.CollectorEndpoint = endpoint
		provider, err := pkgotel.InitTracer(context.Background(), otelCfg)
		if err != nil {
			log.Printf("Failed to init tracing: %v", err)
		} else {
			tp = provider
		}
	}

	// Rate limiter
	tokenRate := getEnvInt("TOKEN_RATE", 100)
	srv := &Server{
		orch:    orch,
		builder: builder,
		limiter: rate.NewLimiter(rate.Limit(tokenRate), tokenRate*2),
	}
	srv.metricsAuth.enabled = getEnv("METRICS_USER", "") != ""
	srv.metricsAuth.user = getEnv("METRICS_USER", "")
	srv.metricsAuth.password = getEnv("METRICS_PASS", "")

	// Setup HTTP routes
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/quantum/analysis/", srv.handleAnalysis)
	mux.HandleFunc("/v1/quantum/forecast-card/", srv.handleForecastCard)
	mux.HandleFunc("/v1/quantum/status", srv.handleStatus)
	mux.Handle("/metrics", srv.metricsHandler())
	mux.HandleFunc("/health", handleHealth)

	port := getEnv("PORT", "8080")
	httpServer := &http.Server{
		Addr:         ":" + port,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	go func() {
		log.Printf("Starting quantum intelligence server on port %s (shadow=%v)", port, cfg.ShadowMode)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	<-shutdown
	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}
	if orch != nil {
		if err := orch.Close(); err != nil {
			log.Printf("Error draining background tasks: %v", err)
		}
	}
	if err := resultCache.Close(); err != nil {
		log.Printf("Error closing cache: %v", err)
	}
	if err := analysisStore.Close(); err != nil {
		log.Printf("Error closing store: %v", err)
	}
	if err := pkgotel.Shutdown(context.Background(), tp); err != nil {
		log.Printf("Error shutting down tracing: %v", err)
	}

	log.Println("Server stopped")
}

func (s *Server) handleAnalysis(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !s.limiter.Allow() {
		w.Header().Set("Retry-After", "10")
		http.Error(w, "Too many requests", http.StatusTooManyRequests)
		return
	}
	if s.orch == nil || !s.orch.Config().APIExposed {
		http.Error(w, "Not found", http.StatusNotFound)
		return
	}

	subjectID := strings.TrimPrefix(r.URL.Path, "/v1/quantum/analysis/")
	if subjectID == "" {
		http.Error(w, "subject id is required", http.StatusBadRequest)
		return
	}

	result, err := s.orch.Analyze(r.Context(), subjectID)
	if err != nil {
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	if result == nil {
		respondJSON(w, http.StatusOK, map[string]string{
			"subject_id": subjectID,
			"status":     "analysis not yet available",
		})
		return
	}
	respondJSON(w, http.StatusOK, result)
}

func (s *Server) handleForecastCard(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !s.limiter.Allow() {
		w.Header().Set("Retry-After", "10")
		http.Error(w, "Too many requests", http.StatusTooManyRequests)
		return
	}
	if s.builder == nil || !s.orch.Config().APIExposed {
		http.Error(w, "Not found", http.StatusNotFound)
		return
	}

	subjectID := strings.TrimPrefix(r.URL.Path, "/v1/quantum/forecast-card/")
	if subjectID == "" {
		http.Error(w, "subject id is required", http.StatusBadRequest)
		return
	}
	tier := r.URL.Query().Get("tier")
	if tier == "" {
		tier = api.TierFree
	}
	if !api.ValidTier(tier) {
		http.Error(w, "tier must be free or enterprise", http.StatusBadRequest)
		return
	}

	// Cards are regenerable; let intermediaries hold them briefly.
	w.Header().Set("Cache-Control", "public, max-age=900")

	card, err := s.builder.Build(r.Context(), subjectID, tier)
	if err != nil {
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}
	if card == nil {
		respondJSON(w, http.StatusOK, map[string]string{
			"subject_id": subjectID,
			"status":     "forecast not yet available",
		})
		return
	}
	respondJSON(w, http.StatusOK, card)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if s.orch == nil {
		respondJSON(w, http.StatusOK, api.HealthReport{Status: orchestrator.StatusDisabled})
		return
	}
	respondJSON(w, http.StatusOK, s.orch.HealthCheck(r.Context()))
}

func (s *Server) metricsHandler() http.Handler {
	handler := promhttp.Handler()
	if !s.metricsAuth.enabled {
		return handler
	}

	// Wrap with Basic Auth
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != s.metricsAuth.user || pass != s.metricsAuth.password {
			w.Header().Set("WWW-Authenticate", `Basic realm="Metrics"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		handler.ServeHTTP(w, r)
	})
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func respondJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}
