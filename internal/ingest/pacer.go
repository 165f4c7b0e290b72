package ingest

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/sexxyrexxy/mycelium-sub000/internal/models"
)

// SampleStore is the durable sink for samples.
type SampleStore interface {
	InsertSample(ctx context.Context, entityID string, s models.Sample) error
}

// Publisher is the live broadcast side of the pipeline.
type Publisher interface {
	Publish(msg models.BroadcastMessage) error
}

// RecentCache keeps a short tail of samples for fast reconnect backfill.
// Best effort; may be nil.
type RecentCache interface {
	StoreSample(ctx context.Context, entityID string, s models.Sample) error
}

// Summary reports how far a replay job got.
type Summary struct {
	Inserted int `json:"inserted"`
	Total    int `json:"total"`
}

// Pacer replays one validated series into the system as if it arrived in real
// time: write to the durable store, publish to the broadcast bus, wait one
// interval, repeat. One job per upload; jobs for different entities may run
// concurrently, but writes within a job are strictly ordered.
type Pacer struct {
	store    SampleStore
	bus      Publisher
	recent   RecentCache
	interval time.Duration
}

// NewPacer creates a pacer. interval 0 disables pacing (test mode);
// recent may be nil.
func NewPacer(store SampleStore, bus Publisher, recent RecentCache, interval time.Duration) *Pacer {
	return &Pacer{store: store, bus: bus, recent: recent, interval: interval}
}

// Run replays samples for entityID in order. A write failure aborts the job
// and returns the partial summary; samples already written stay durable. A
// publish failure only costs the live frame for that tick. The inter-sample
// wait is the sole suspension point and honors ctx cancellation.
func (p *Pacer) Run(ctx context.Context, entityID string, samples []models.Sample) (Summary, error) {
	sum := Summary{Total: len(samples)}

	for i, s := range samples {
		if err := ctx.Err(); err != nil {
			return sum, err
		}

		if err := p.store.InsertSample(ctx, entityID, s); err != nil {
			return sum, fmt.Errorf("insert sample %d for %s: %w", i, entityID, err)
		}
		sum.Inserted++

		if err := p.bus.Publish(models.BroadcastMessage{EntityID: entityID, Sample: s}); err != nil {
			log.Printf("Pacer: publish failed for %s: %v", entityID, err)
		}

		if p.recent != nil {
			if err := p.recent.StoreSample(ctx, entityID, s); err != nil {
				log.Printf("Pacer: recent cache store failed for %s: %v", entityID, err)
			}
		}

		if p.interval > 0 && i < len(samples)-1 {
			select {
			case <-ctx.Done():
				return sum, ctx.Err()
			case <-time.After(p.interval):
			}
		}
	}

	log.Printf("Pacer: replay complete for %s (%d/%d samples)", entityID, sum.Inserted, sum.Total)
	return sum, nil
}
