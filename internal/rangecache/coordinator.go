package rangecache

import (
	"context"
	"sync"

	"github.com/sexxyrexxy/mycelium-sub000/internal/models"
)

// Update is delivered to the coordinator's callback when a selection's data
// arrives. Err is set only when the fetch failed with nothing cached.
type Update struct {
	EntityID string
	Range    models.Range
	Slice    Slice
	Err      error
}

// UpdateFunc receives updates for the current selection. Called from the
// fetching goroutine.
type UpdateFunc func(Update)

// Coordinator tracks the current range selection per entity. Rapid range
// switches bump a per-entity generation token; a fetch completing for a
// superseded selection is still cached but discarded silently instead of
// overwriting the newer view.
type Coordinator struct {
	cache    *Cache
	onUpdate UpdateFunc

	mu   sync.Mutex
	gens map[string]uint64
}

func NewCoordinator(cache *Cache, onUpdate UpdateFunc) *Coordinator {
	return &Coordinator{
		cache:    cache,
		onUpdate: onUpdate,
		gens:     make(map[string]uint64),
	}
}

// Select makes rng the current selection for entityID and resolves it
// asynchronously through the cache.
func (co *Coordinator) Select(ctx context.Context, entityID string, rng models.Range) {
	co.mu.Lock()
	co.gens[entityID]++
	gen := co.gens[entityID]
	co.mu.Unlock()

	go func() {
		slice, _, err := co.cache.Get(ctx, entityID, rng)

		co.mu.Lock()
		current := co.gens[entityID]
		co.mu.Unlock()
		if gen != current {
			// Superseded selection; the slice stays cached for later.
			return
		}

		co.onUpdate(Update{EntityID: entityID, Range: rng, Slice: slice, Err: err})
	}()
}
