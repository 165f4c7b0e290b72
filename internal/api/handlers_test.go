package api

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/sexxyrexxy/mycelium-sub000/internal/broadcast"
	"github.com/sexxyrexxy/mycelium-sub000/internal/database"
	"github.com/sexxyrexxy/mycelium-sub000/internal/gateway"
	"github.com/sexxyrexxy/mycelium-sub000/internal/ingest"
	"github.com/sexxyrexxy/mycelium-sub000/internal/models"
	"github.com/sexxyrexxy/mycelium-sub000/internal/rangecache"
	"github.com/sexxyrexxy/mycelium-sub000/pkg/config"
)

type memStore struct {
	mu       sync.Mutex
	samples  map[string][]models.Sample
	entities map[string]models.Entity
}

func newMemStore() *memStore {
	return &memStore{
		samples:  make(map[string][]models.Sample),
		entities: make(map[string]models.Entity),
	}
}

func (m *memStore) InsertSample(ctx context.Context, entityID string, s models.Sample) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.samples[entityID] = append(m.samples[entityID], s)
	return nil
}

func (m *memStore) GetSamples(ctx context.Context, entityID string, since time.Time, limit int) ([]models.Sample, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Sample
	for _, s := range m.samples[entityID] {
		if !since.IsZero() && s.Timestamp.Before(since) {
			continue
		}
		out = append(out, s)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *memStore) LatestTimestamp(ctx context.Context, entityID string) (time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rows := m.samples[entityID]
	if len(rows) == 0 {
		return time.Time{}, nil
	}
	return rows[len(rows)-1].Timestamp, nil
}

func (m *memStore) UpsertEntity(ctx context.Context, e *models.Entity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entities[e.EntityID] = *e
	return nil
}

func (m *memStore) GetEntity(ctx context.Context, entityID string) (*models.Entity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entities[entityID]
	if !ok {
		return nil, database.ErrEntityNotFound
	}
	return &e, nil
}

func (m *memStore) ListEntities(ctx context.Context) ([]models.Entity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.Entity, 0, len(m.entities))
	for _, e := range m.entities {
		out = append(out, e)
	}
	return out, nil
}

func (m *memStore) DeleteEntity(ctx context.Context, entityID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.samples, entityID)
	delete(m.entities, entityID)
	return nil
}

func (m *memStore) count(entityID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.samples[entityID])
}

func testConfig() *config.Config {
	return &config.Config{
		LivePointCap:     4,
		MinWindowSamples: 3,
		MinWindow:        time.Minute,
		MinWindows:       3,
		MaxWindows:       16,
	}
}

func newTestServer(t *testing.T) (*Server, *memStore) {
	t.Helper()
	store := newMemStore()
	bus := broadcast.NewBus()
	t.Cleanup(func() { bus.Close() })

	pacer := ingest.NewPacer(store, bus, nil, 0)
	hub := gateway.NewHub(bus, time.Second)
	ranges := rangecache.New(NewStoreFetch(store), rangecache.Config{
		TTL:         time.Minute,
		PointBudget: 2000,
	})
	return NewServer(store, pacer, hub, ranges, nil, testConfig()), store
}

func multipartUpload(t *testing.T, name, species, csv string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if name != "" {
		mw.WriteField("name", name)
	}
	if species != "" {
		mw.WriteField("species", species)
	}
	fw, err := mw.CreateFormFile("csv", "signal.csv")
	if err != nil {
		t.Fatalf("CreateFormFile failed: %v", err)
	}
	fw.Write([]byte(csv))
	mw.Close()
	return &buf, mw.FormDataContentType()
}

func seedEntity(store *memStore, entityID string, n int) {
	base := time.UnixMilli(1700000000000).UTC()
	store.UpsertEntity(context.Background(), &models.Entity{
		EntityID: entityID,
		Name:     "Test Shroom",
		IsActive: true,
	})
	for i := 0; i < n; i++ {
		store.InsertSample(context.Background(), entityID, models.Sample{
			Timestamp: base.Add(time.Duration(i) * 20 * time.Second),
			Value:     float64(i % 7),
		})
	}
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", rec.Code)
	}
}

func TestUploadHappyPath(t *testing.T) {
	srv, store := newTestServer(t)

	csv := "timestamp,value\n" +
		"1700000000000,10\n" +
		"1700000001000,12\n" +
		"1700000002000,9\n" +
		"1700000003000,40\n" +
		"1700000004000,11\n"
	body, contentType := multipartUpload(t, "Oyster", "Pleurotus ostreatus", csv)

	req := httptest.NewRequest(http.MethodPost, "/api/signals/upload", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp uploadResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp.Status != "completed" {
		t.Errorf("Expected status completed, got %s", resp.Status)
	}
	if resp.InsertedCount != 5 || resp.TotalCount != 5 || resp.TotalRows != 5 {
		t.Errorf("Expected 5/5 of 5 rows, got %d/%d of %d", resp.InsertedCount, resp.TotalCount, resp.TotalRows)
	}
	if resp.EntityID == "" {
		t.Fatal("Expected a generated entity id")
	}
	if store.count(resp.EntityID) != 5 {
		t.Errorf("Expected 5 durable samples, got %d", store.count(resp.EntityID))
	}
	if _, err := store.GetEntity(context.Background(), resp.EntityID); err != nil {
		t.Errorf("Entity not registered: %v", err)
	}
}

func TestUploadSkipsMalformedRows(t *testing.T) {
	srv, _ := newTestServer(t)

	csv := "timestamp,value\n" +
		"1700000000000,10\n" +
		"1700000001000,garbage\n" +
		"1700000002000,9\n" +
		"1700000003000,40\n" +
		"1700000004000,11\n"
	body, contentType := multipartUpload(t, "Oyster", "", csv)

	req := httptest.NewRequest(http.MethodPost, "/api/signals/upload", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp uploadResponse
	json.NewDecoder(rec.Body).Decode(&resp)
	if resp.InsertedCount != 4 || resp.TotalRows != 5 {
		t.Errorf("Expected 4 inserted of 5 rows, got %d of %d", resp.InsertedCount, resp.TotalRows)
	}
}

func TestUploadEmptyCSV(t *testing.T) {
	srv, _ := newTestServer(t)

	body, contentType := multipartUpload(t, "Oyster", "", "timestamp,value\n")
	req := httptest.NewRequest(http.MethodPost, "/api/signals/upload", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("Expected 422 for empty upload, got %d", rec.Code)
	}
}

func TestUploadRequiresName(t *testing.T) {
	srv, _ := newTestServer(t)

	body, contentType := multipartUpload(t, "", "", "timestamp,value\n1700000000000,1\n")
	req := httptest.NewRequest(http.MethodPost, "/api/signals/upload", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 without name, got %d", rec.Code)
	}
}

func TestSeriesReturnsRangeSlice(t *testing.T) {
	srv, store := newTestServer(t)
	seedEntity(store, "shroom-1", 30)

	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/series/shroom-1?range=4h", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp seriesResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp.EntityID != "shroom-1" {
		t.Errorf("Unexpected entity id %s", resp.EntityID)
	}
	if len(resp.Samples) != 30 || resp.Meta.Count != 30 {
		t.Errorf("Expected 30 samples, got %d (meta %d)", len(resp.Samples), resp.Meta.Count)
	}
	if resp.Meta.Range != models.Range4H || resp.Meta.Hours != 4 {
		t.Errorf("Unexpected meta: %+v", resp.Meta)
	}
}

func TestSeriesLimitDownsamples(t *testing.T) {
	srv, store := newTestServer(t)
	seedEntity(store, "shroom-1", 30)

	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/series/shroom-1?range=4h&limit=5", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	var resp seriesResponse
	json.NewDecoder(rec.Body).Decode(&resp)
	if len(resp.Samples) > 5 {
		t.Errorf("Expected at most 5 points, got %d", len(resp.Samples))
	}
}

func TestSeriesInvalidRange(t *testing.T) {
	srv, store := newTestServer(t)
	seedEntity(store, "shroom-1", 5)

	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/series/shroom-1?range=banana", nil))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for unknown range, got %d", rec.Code)
	}
}

func TestSeriesUnknownEntity(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/series/nope?range=4h", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", rec.Code)
	}
}

func TestClassifiedReturnsWindows(t *testing.T) {
	srv, store := newTestServer(t)
	seedEntity(store, "shroom-1", 60)

	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/series/shroom-1/classified?range=4h", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var result struct {
		WindowMs int64 `json:"window_ms"`
		Global   struct {
			Count int `json:"count"`
		} `json:"global_stats"`
		Windows []json.RawMessage `json:"windows"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&result); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if result.Global.Count != 60 {
		t.Errorf("Expected global count 60, got %d", result.Global.Count)
	}
	if result.WindowMs <= 0 || len(result.Windows) == 0 {
		t.Errorf("Expected derived windows, got window_ms=%d windows=%d", result.WindowMs, len(result.Windows))
	}
}

func TestClassifiedNoSamples(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/series/ghost/classified?range=4h", nil))
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("Expected 422 with nothing to classify, got %d", rec.Code)
	}
}

func TestRecentDisabledWithoutRedis(t *testing.T) {
	srv, store := newTestServer(t)
	seedEntity(store, "shroom-1", 5)

	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/series/shroom-1/recent", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404 when the recent cache is disabled, got %d", rec.Code)
	}
}

func TestLiveSeedsFromWarmCache(t *testing.T) {
	srv, store := newTestServer(t)
	seedEntity(store, "shroom-1", 30)

	// Cold cache: nothing to seed from yet.
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/series/shroom-1/live", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	var resp struct {
		EntityID string          `json:"entityId"`
		Samples  []models.Sample `json:"samples"`
		Capacity int             `json:"capacity"`
	}
	json.NewDecoder(rec.Body).Decode(&resp)
	if len(resp.Samples) != 0 {
		t.Errorf("Expected empty seed from a cold cache, got %d samples", len(resp.Samples))
	}

	// Warm the range cache, then the live seed is the newest tail of it.
	rec = httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/series/shroom-1?range=4h", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("Warmup read failed: %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/series/shroom-1/live", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp.Capacity != 4 {
		t.Errorf("Expected configured capacity 4, got %d", resp.Capacity)
	}
	if len(resp.Samples) != 4 {
		t.Fatalf("Expected seed trimmed to capacity 4, got %d samples", len(resp.Samples))
	}
	for i := 1; i < len(resp.Samples); i++ {
		if !resp.Samples[i].Timestamp.After(resp.Samples[i-1].Timestamp) {
			t.Errorf("Live seed not ascending at %d", i)
		}
	}
}

func TestDeleteCascades(t *testing.T) {
	srv, store := newTestServer(t)
	seedEntity(store, "shroom-1", 10)

	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/series/shroom-1", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if store.count("shroom-1") != 0 {
		t.Errorf("Expected samples deleted, %d remain", store.count("shroom-1"))
	}

	rec = httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/series/shroom-1?range=4h", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404 after delete, got %d", rec.Code)
	}
}

func TestDeleteUnknownEntity(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/series/nope", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", rec.Code)
	}
}

func TestEntitiesList(t *testing.T) {
	srv, store := newTestServer(t)
	seedEntity(store, "shroom-1", 1)
	seedEntity(store, "shroom-2", 1)

	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/entities", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	var entities []models.Entity
	if err := json.NewDecoder(rec.Body).Decode(&entities); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if len(entities) != 2 {
		t.Errorf("Expected 2 entities, got %d", len(entities))
	}
}
