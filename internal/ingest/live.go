package ingest

import (
	"context"
	"log"
	"time"

	"github.com/sexxyrexxy/mycelium-sub000/internal/models"
)

// EntityRegistry records which entities have been seen.
type EntityRegistry interface {
	UpsertEntity(ctx context.Context, e *models.Entity) error
}

// LiveIngestor drains readings arriving over MQTT into the same
// store-then-broadcast path the pacer uses for uploads.
type LiveIngestor struct {
	store    SampleStore
	bus      Publisher
	recent   RecentCache
	registry EntityRegistry

	// Readings is written by the MQTT subscriber.
	Readings chan *models.SignalReading

	seen map[string]bool
}

// NewLiveIngestor creates a live ingestor. recent may be nil.
func NewLiveIngestor(store SampleStore, bus Publisher, recent RecentCache, registry EntityRegistry, channelSize int) *LiveIngestor {
	return &LiveIngestor{
		store:    store,
		bus:      bus,
		recent:   recent,
		registry: registry,
		Readings: make(chan *models.SignalReading, channelSize),
		seen:     make(map[string]bool),
	}
}

// Start processes readings until ctx is cancelled. Run in its own goroutine;
// it is the only reader of Readings, so seen needs no lock.
func (li *LiveIngestor) Start(ctx context.Context) {
	log.Println("LiveIngestor: Starting...")

	for {
		select {
		case <-ctx.Done():
			log.Println("LiveIngestor: Shutting down...")
			return
		case reading, ok := <-li.Readings:
			if !ok {
				log.Println("LiveIngestor: Channel closed, shutting down...")
				return
			}
			li.process(ctx, reading)
		}
	}
}

func (li *LiveIngestor) process(ctx context.Context, reading *models.SignalReading) {
	sample := models.Sample{Timestamp: reading.Timestamp, Value: reading.Value}

	if err := li.store.InsertSample(ctx, reading.EntityID, sample); err != nil {
		log.Printf("LiveIngestor: error saving reading for %s: %v", reading.EntityID, err)
		return
	}

	if err := li.bus.Publish(models.BroadcastMessage{EntityID: reading.EntityID, Sample: sample}); err != nil {
		log.Printf("LiveIngestor: publish failed for %s: %v", reading.EntityID, err)
	}

	if li.recent != nil {
		if err := li.recent.StoreSample(ctx, reading.EntityID, sample); err != nil {
			log.Printf("LiveIngestor: recent cache store failed for %s: %v", reading.EntityID, err)
		}
	}

	li.register(ctx, reading.EntityID)
}

// register auto-registers an entity on first reading, best effort.
func (li *LiveIngestor) register(ctx context.Context, entityID string) {
	if li.seen[entityID] {
		return
	}
	li.seen[entityID] = true

	entity := &models.Entity{
		EntityID:  entityID,
		Name:      entityID,
		Species:   "unknown",
		CreatedAt: time.Now(),
		LastSeen:  time.Now(),
		IsActive:  true,
	}
	if err := li.registry.UpsertEntity(ctx, entity); err != nil {
		log.Printf("LiveIngestor: error registering entity %s: %v", entityID, err)
	}
}
