package ingest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sexxyrexxy/mycelium-sub000/internal/models"
)

type fakeStore struct {
	mu     sync.Mutex
	rows   []models.Sample
	failAt int // insert index that fails; -1 never fails
}

func newFakeStore() *fakeStore {
	return &fakeStore{failAt: -1}
}

func (f *fakeStore) InsertSample(ctx context.Context, entityID string, s models.Sample) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAt >= 0 && len(f.rows) == f.failAt {
		return errors.New("disk on fire")
	}
	f.rows = append(f.rows, s)
	return nil
}

func (f *fakeStore) inserted() []models.Sample {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.Sample, len(f.rows))
	copy(out, f.rows)
	return out
}

type fakeBus struct {
	mu        sync.Mutex
	published []models.BroadcastMessage
	err       error
}

func (f *fakeBus) Publish(msg models.BroadcastMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.published = append(f.published, msg)
	return nil
}

func (f *fakeBus) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.published)
}

func testSamples(n int, values ...float64) []models.Sample {
	base := time.UnixMilli(1700000000000).UTC()
	out := make([]models.Sample, n)
	for i := range out {
		v := float64(i)
		if i < len(values) {
			v = values[i]
		}
		out[i] = models.Sample{Timestamp: base.Add(time.Duration(i) * time.Second), Value: v}
	}
	return out
}

func TestRunHappyPathOrdered(t *testing.T) {
	store := newFakeStore()
	bus := &fakeBus{}
	pacer := NewPacer(store, bus, nil, 0)

	samples := testSamples(5, 10, 12, 9, 40, 11)
	summary, err := pacer.Run(context.Background(), "shroom-1", samples)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if summary.Inserted != 5 || summary.Total != 5 {
		t.Errorf("Expected summary 5/5, got %d/%d", summary.Inserted, summary.Total)
	}

	rows := store.inserted()
	if len(rows) != 5 {
		t.Fatalf("Expected 5 durable rows, got %d", len(rows))
	}
	for i, row := range rows {
		if row.Value != samples[i].Value || !row.Timestamp.Equal(samples[i].Timestamp) {
			t.Errorf("Row %d out of order: got %+v, want %+v", i, row, samples[i])
		}
	}
	if bus.count() != 5 {
		t.Errorf("Expected 5 broadcast messages, got %d", bus.count())
	}
}

func TestRunWriteFailureAborts(t *testing.T) {
	store := newFakeStore()
	store.failAt = 2
	bus := &fakeBus{}
	pacer := NewPacer(store, bus, nil, 0)

	summary, err := pacer.Run(context.Background(), "shroom-1", testSamples(5))
	if err == nil {
		t.Fatal("Expected write failure, got nil")
	}
	if summary.Inserted != 2 || summary.Total != 5 {
		t.Errorf("Expected partial summary 2/5, got %d/%d", summary.Inserted, summary.Total)
	}
	// Prior writes stay durable, no rollback.
	if len(store.inserted()) != 2 {
		t.Errorf("Expected 2 durable rows after abort, got %d", len(store.inserted()))
	}
	if bus.count() != 2 {
		t.Errorf("Expected 2 broadcasts before abort, got %d", bus.count())
	}
}

func TestRunPublishFailureNonFatal(t *testing.T) {
	store := newFakeStore()
	bus := &fakeBus{err: errors.New("bus closed")}
	pacer := NewPacer(store, bus, nil, 0)

	summary, err := pacer.Run(context.Background(), "shroom-1", testSamples(3))
	if err != nil {
		t.Fatalf("Publish failure should be non-fatal, got %v", err)
	}
	if summary.Inserted != 3 {
		t.Errorf("Expected 3 inserted despite publish failures, got %d", summary.Inserted)
	}
}

func TestRunCancelledDuringWait(t *testing.T) {
	store := newFakeStore()
	bus := &fakeBus{}
	pacer := NewPacer(store, bus, nil, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	var summary Summary
	var runErr error
	go func() {
		summary, runErr = pacer.Run(ctx, "shroom-1", testSamples(3))
		close(done)
	}()

	// Wait for the first insert, then cancel mid-wait.
	deadline := time.After(2 * time.Second)
	for len(store.inserted()) == 0 {
		select {
		case <-deadline:
			t.Fatal("Timeout waiting for first insert")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}

	if !errors.Is(runErr, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", runErr)
	}
	if summary.Inserted != 1 || summary.Total != 3 {
		t.Errorf("Expected partial summary 1/3, got %d/%d", summary.Inserted, summary.Total)
	}
}
