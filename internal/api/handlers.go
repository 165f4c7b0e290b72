package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/sexxyrexxy/mycelium-sub000/internal/classify"
	"github.com/sexxyrexxy/mycelium-sub000/internal/database"
	"github.com/sexxyrexxy/mycelium-sub000/internal/models"
	"github.com/sexxyrexxy/mycelium-sub000/internal/parser"
	"github.com/sexxyrexxy/mycelium-sub000/internal/rangecache"
)

const maxUploadBytes = 32 << 20

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
	})
}

type uploadResponse struct {
	Status        string `json:"status"`
	EntityID      string `json:"entityId"`
	InsertedCount int    `json:"insertedCount"`
	TotalCount    int    `json:"totalCount"`
	TotalRows     int    `json:"totalRows"`
	Error         string `json:"error,omitempty"`
}

// uploadHandler accepts a multipart CSV upload and replays it through the
// pacer, bound to the request context so a client disconnect aborts the job.
// Samples written before an abort stay durable.
func (s *Server) uploadHandler(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}

	name := r.FormValue("name")
	if name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	species := r.FormValue("species")

	file, _, err := r.FormFile("csv")
	if err != nil {
		writeError(w, http.StatusBadRequest, "csv file is required")
		return
	}
	defer file.Close()

	samples, report, err := parser.ParseCSV(file)
	if err != nil {
		if errors.Is(err, parser.ErrEmptyInput) {
			writeError(w, http.StatusUnprocessableEntity, "no valid samples in upload")
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	now := time.Now()
	entity := &models.Entity{
		EntityID:  uuid.NewString(),
		Name:      name,
		Species:   species,
		CreatedAt: now,
		LastSeen:  now,
		IsActive:  true,
	}
	if err := s.store.UpsertEntity(r.Context(), entity); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to register entity")
		return
	}

	summary, runErr := s.pacer.Run(r.Context(), entity.EntityID, samples)
	samplesIngested.Add(float64(summary.Inserted))

	resp := uploadResponse{
		Status:        "completed",
		EntityID:      entity.EntityID,
		InsertedCount: summary.Inserted,
		TotalCount:    summary.Total,
		TotalRows:     report.TotalRows,
	}
	if runErr != nil {
		resp.Status = "aborted"
		resp.Error = runErr.Error()
		uploadsTotal.WithLabelValues("aborted").Inc()
		writeJSON(w, http.StatusInternalServerError, resp)
		return
	}
	uploadsTotal.WithLabelValues("completed").Inc()
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) streamHandler(w http.ResponseWriter, r *http.Request) {
	s.hub.ServeHTTP(w, r)
}

func (s *Server) entitiesHandler(w http.ResponseWriter, r *http.Request) {
	entities, err := s.store.ListEntities(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list entities")
		return
	}
	if entities == nil {
		entities = []models.Entity{}
	}
	writeJSON(w, http.StatusOK, entities)
}

type seriesMeta struct {
	Range models.Range `json:"range"`
	Count int          `json:"count"`
	Hours int          `json:"hours"`
}

type seriesResponse struct {
	EntityID string          `json:"entityId"`
	Samples  []models.Sample `json:"samples"`
	Meta     seriesMeta      `json:"meta"`
}

// seriesHandler serves a historical slice through the range cache, so
// repeated dashboard reads inside the TTL hit memory instead of ClickHouse.
func (s *Server) seriesHandler(w http.ResponseWriter, r *http.Request) {
	entityID := mux.Vars(r)["entityId"]

	rng, err := models.ParseRange(r.URL.Query().Get("range"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if _, err := s.store.GetEntity(r.Context(), entityID); err != nil {
		if errors.Is(err, database.ErrEntityNotFound) {
			writeError(w, http.StatusNotFound, "entity not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to load entity")
		return
	}

	slice, _, err := s.ranges.Get(r.Context(), entityID, rng)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load series")
		return
	}

	samples := slice.Samples
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if limit, err := strconv.Atoi(limitStr); err == nil && limit > 0 {
			samples = rangecache.Downsample(samples, limit)
		}
	}
	if samples == nil {
		samples = []models.Sample{}
	}

	writeJSON(w, http.StatusOK, seriesResponse{
		EntityID: entityID,
		Samples:  samples,
		Meta: seriesMeta{
			Range: rng,
			Count: len(samples),
			Hours: rng.Hours(),
		},
	})
}

// classifiedHandler runs the window classification engine over a range slice.
func (s *Server) classifiedHandler(w http.ResponseWriter, r *http.Request) {
	entityID := mux.Vars(r)["entityId"]

	rng, err := models.ParseRange(r.URL.Query().Get("range"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	slice, _, err := s.ranges.Get(r.Context(), entityID, rng)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load series")
		return
	}

	result, err := classify.Classify(slice.Samples, classify.Options{
		MinSamples: s.cfg.MinWindowSamples,
		MinWindow:  s.cfg.MinWindow,
		MinWindows: s.cfg.MinWindows,
		MaxWindows: s.cfg.MaxWindows,
	})
	if err != nil {
		if errors.Is(err, classify.ErrNoSamples) {
			writeError(w, http.StatusUnprocessableEntity, "no samples to classify")
			return
		}
		writeError(w, http.StatusInternalServerError, "classification failed")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) recentHandler(w http.ResponseWriter, r *http.Request) {
	if s.recent == nil {
		writeError(w, http.StatusNotFound, "recent cache disabled")
		return
	}

	entityID := mux.Vars(r)["entityId"]
	limit := 0
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		limit, _ = strconv.Atoi(limitStr)
	}

	samples, err := s.recent.GetRecent(r.Context(), entityID, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read recent samples")
		return
	}
	if samples == nil {
		samples = []models.Sample{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"entityId": entityID,
		"samples":  samples,
	})
}

// liveHandler seeds a client's live view: the freshest cached slice trimmed
// to the live capacity. The client appends to it from the SSE stream.
func (s *Server) liveHandler(w http.ResponseWriter, r *http.Request) {
	entityID := mux.Vars(r)["entityId"]

	window := s.ranges.Live(entityID, s.cfg.LivePointCap)
	samples := window.Snapshot()
	if samples == nil {
		samples = []models.Sample{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"entityId": entityID,
		"samples":  samples,
		"capacity": s.cfg.LivePointCap,
	})
}

// deleteHandler cascades: samples first, then the entity record.
func (s *Server) deleteHandler(w http.ResponseWriter, r *http.Request) {
	entityID := mux.Vars(r)["entityId"]

	if _, err := s.store.GetEntity(r.Context(), entityID); err != nil {
		if errors.Is(err, database.ErrEntityNotFound) {
			writeError(w, http.StatusNotFound, "entity not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to load entity")
		return
	}

	if err := s.store.DeleteEntity(r.Context(), entityID); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to delete entity")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":   "deleted",
		"entityId": entityID,
	})
}
