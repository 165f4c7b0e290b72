package api

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sexxyrexxy/mycelium-sub000/internal/ingest"
	"github.com/sexxyrexxy/mycelium-sub000/internal/models"
	"github.com/sexxyrexxy/mycelium-sub000/internal/rangecache"
	"github.com/sexxyrexxy/mycelium-sub000/pkg/config"
)

// SeriesStore is the durable store surface the API needs.
type SeriesStore interface {
	InsertSample(ctx context.Context, entityID string, s models.Sample) error
	GetSamples(ctx context.Context, entityID string, since time.Time, limit int) ([]models.Sample, error)
	LatestTimestamp(ctx context.Context, entityID string) (time.Time, error)
	UpsertEntity(ctx context.Context, e *models.Entity) error
	GetEntity(ctx context.Context, entityID string) (*models.Entity, error)
	ListEntities(ctx context.Context) ([]models.Entity, error)
	DeleteEntity(ctx context.Context, entityID string) error
}

// RecentReader serves the Redis-backed recent-sample tail. Optional.
type RecentReader interface {
	GetRecent(ctx context.Context, entityID string, count int) ([]models.Sample, error)
}

// Replayer runs one upload replay job.
type Replayer interface {
	Run(ctx context.Context, entityID string, samples []models.Sample) (ingest.Summary, error)
}

// Server wires the HTTP surface: upload, SSE stream, historical reads,
// classification views, and deletion.
type Server struct {
	router *mux.Router
	store  SeriesStore
	pacer  Replayer
	hub    http.Handler
	ranges *rangecache.Cache
	recent RecentReader // nil when Redis is disabled
	cfg    *config.Config
}

func NewServer(store SeriesStore, pacer Replayer, hub http.Handler, ranges *rangecache.Cache, recent RecentReader, cfg *config.Config) *Server {
	s := &Server{
		router: mux.NewRouter(),
		store:  store,
		pacer:  pacer,
		hub:    hub,
		ranges: ranges,
		recent: recent,
		cfg:    cfg,
	}
	s.setupRoutes()
	return s
}

// NewStoreFetch builds the range-cache fetch function over the durable
// store: range tokens resolve to an hour window relative to the latest
// stored sample.
func NewStoreFetch(store SeriesStore) rangecache.FetchFunc {
	return func(ctx context.Context, entityID string, rng models.Range) ([]models.Sample, error) {
		var since time.Time
		if hours := rng.Hours(); hours > 0 {
			latest, err := store.LatestTimestamp(ctx, entityID)
			if err != nil {
				return nil, err
			}
			if !latest.IsZero() {
				since = latest.Add(-time.Duration(hours) * time.Hour)
			}
		}
		return store.GetSamples(ctx, entityID, since, 0)
	}
}

func (s *Server) setupRoutes() {
	s.router.Use(s.instrument)

	s.router.HandleFunc("/health", s.healthHandler).Methods("GET")
	s.router.HandleFunc("/api/signals/upload", s.uploadHandler).Methods("POST")
	s.router.HandleFunc("/api/signals/stream", s.streamHandler).Methods("GET")
	s.router.HandleFunc("/api/entities", s.entitiesHandler).Methods("GET")
	s.router.HandleFunc("/api/series/{entityId}", s.seriesHandler).Methods("GET")
	s.router.HandleFunc("/api/series/{entityId}/classified", s.classifiedHandler).Methods("GET")
	s.router.HandleFunc("/api/series/{entityId}/recent", s.recentHandler).Methods("GET")
	s.router.HandleFunc("/api/series/{entityId}/live", s.liveHandler).Methods("GET")
	s.router.HandleFunc("/api/series/{entityId}", s.deleteHandler).Methods("DELETE")
	s.router.Handle("/metrics/prometheus", promhttp.Handler())
}

// Router exposes the configured handler, mainly for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Flush keeps SSE streaming working behind the recorder.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		endpoint := r.URL.Path
		if route := mux.CurrentRoute(r); route != nil {
			if tmpl, err := route.GetPathTemplate(); err == nil {
				endpoint = tmpl
			}
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		requestDuration.WithLabelValues(r.Method, endpoint).Observe(time.Since(start).Seconds())
		httpRequestsTotal.WithLabelValues(r.Method, endpoint, strconv.Itoa(rec.status)).Inc()
	})
}

// Run serves until SIGINT/SIGTERM, then shuts down gracefully.
func (s *Server) Run(addr string) error {
	srv := &http.Server{
		Addr:        addr,
		Handler:     s.router,
		ReadTimeout: 10 * time.Second,
		IdleTimeout: 30 * time.Second,
	}

	done := make(chan bool, 1)
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		log.Println("Server is shutting down...")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		srv.SetKeepAlivesEnabled(false)
		if err := srv.Shutdown(ctx); err != nil {
			log.Printf("Could not gracefully shutdown the server: %v", err)
		}
		close(done)
	}()

	log.Printf("Server is ready to handle requests at %s", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("could not listen on %s: %w", addr, err)
	}

	<-done
	log.Println("Server stopped")
	return nil
}
