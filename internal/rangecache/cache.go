package rangecache

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/sexxyrexxy/mycelium-sub000/internal/models"
)

// FetchFunc loads the backing series for one (entity, range) key.
type FetchFunc func(ctx context.Context, entityID string, rng models.Range) ([]models.Sample, error)

// State is the lifecycle of one cached range slice.
type State int

const (
	StateIdle State = iota
	StateLoading
	StateReady
	StateRefreshing
	StateError
)

func (s State) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateRefreshing:
		return "refreshing"
	case StateError:
		return "error"
	default:
		return "idle"
	}
}

// Slice is one cached range of samples.
type Slice struct {
	Range     models.Range    `json:"range"`
	Samples   []models.Sample `json:"samples"`
	FetchedAt time.Time       `json:"fetched_at"`
}

// Config carries the cache policy knobs.
type Config struct {
	TTL         time.Duration
	PointBudget int                  // default per-slice point budget
	Budgets     map[models.Range]int // optional per-range overrides
	Now         func() time.Time     // injected clock; nil means time.Now
}

type key struct {
	entityID string
	rng      models.Range
}

type fetchResult struct {
	slice Slice
	err   error
}

type entry struct {
	state    State
	slice    *Slice
	lastErr  error
	inflight bool
	waiters  []chan fetchResult
	fetches  int
}

// Cache reconciles named time ranges against the backing series. Entries
// become stale after TTL and are refetched in the background while the
// previous value stays visible. Concurrent gets for one key coalesce into a
// single fetch.
type Cache struct {
	fetch       FetchFunc
	ttl         time.Duration
	pointBudget int
	budgets     map[models.Range]int
	now         func() time.Time

	mu      sync.Mutex
	entries map[key]*entry
}

func New(fetch FetchFunc, cfg Config) *Cache {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	budget := cfg.PointBudget
	if budget <= 0 {
		budget = 2000
	}
	return &Cache{
		fetch:       fetch,
		ttl:         cfg.TTL,
		pointBudget: budget,
		budgets:     cfg.Budgets,
		now:         now,
		entries:     make(map[key]*entry),
	}
}

func (c *Cache) budgetFor(rng models.Range) int {
	if b, ok := c.budgets[rng]; ok && b > 0 {
		return b
	}
	return c.pointBudget
}

func (c *Cache) entry(k key) *entry {
	e, ok := c.entries[k]
	if !ok {
		e = &entry{state: StateIdle}
		c.entries[k] = e
	}
	return e
}

// Get returns the slice for (entityID, rng). Fresh entries are served
// immediately. Stale entries trigger a background refetch and keep serving
// the previous value. With nothing cached the caller blocks on the fetch;
// concurrent callers attach to the same in-flight fetch.
func (c *Cache) Get(ctx context.Context, entityID string, rng models.Range) (Slice, State, error) {
	k := key{entityID: entityID, rng: rng}

	c.mu.Lock()
	e := c.entry(k)

	if e.slice != nil {
		if c.now().Sub(e.slice.FetchedAt) < c.ttl {
			slice := *e.slice
			state := e.state
			c.mu.Unlock()
			return slice, state, nil
		}
		// Stale: refresh in the background, serve what we have.
		if !e.inflight {
			e.inflight = true
			e.state = StateRefreshing
			e.fetches++
			go c.doFetch(context.Background(), k)
		}
		slice := *e.slice
		c.mu.Unlock()
		return slice, StateRefreshing, nil
	}

	if e.inflight {
		wait := make(chan fetchResult, 1)
		e.waiters = append(e.waiters, wait)
		c.mu.Unlock()

		select {
		case res := <-wait:
			if res.err != nil {
				return Slice{}, StateError, res.err
			}
			return res.slice, StateReady, nil
		case <-ctx.Done():
			return Slice{}, StateLoading, ctx.Err()
		}
	}

	e.inflight = true
	e.state = StateLoading
	e.fetches++
	c.mu.Unlock()

	res := c.doFetch(ctx, k)
	if res.err != nil {
		return Slice{}, StateError, res.err
	}
	return res.slice, StateReady, nil
}

// doFetch performs the fetch for k and settles the entry. A failed refresh
// leaves the stale slice visible; the error stays available via LastError.
func (c *Cache) doFetch(ctx context.Context, k key) fetchResult {
	samples, err := c.fetch(ctx, k.entityID, k.rng)

	c.mu.Lock()
	e := c.entry(k)
	e.inflight = false

	var res fetchResult
	if err != nil {
		e.lastErr = err
		if e.slice != nil {
			e.state = StateReady
			res = fetchResult{slice: *e.slice, err: err}
		} else {
			e.state = StateError
			res = fetchResult{err: err}
		}
	} else {
		slice := Slice{
			Range:     k.rng,
			Samples:   Downsample(samples, c.budgetFor(k.rng)),
			FetchedAt: c.now(),
		}
		e.slice = &slice
		e.state = StateReady
		e.lastErr = nil
		res = fetchResult{slice: slice}
	}

	waiters := e.waiters
	e.waiters = nil
	c.mu.Unlock()

	for _, w := range waiters {
		w <- res
	}
	return res
}

// State reports the lifecycle state for one key.
func (c *Cache) State(entityID string, rng models.Range) State {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[key{entityID, rng}]; ok {
		return e.state
	}
	return StateIdle
}

// LastError reports the most recent fetch error for one key, out-of-band
// from the served data.
func (c *Cache) LastError(entityID string, rng models.Range) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[key{entityID, rng}]; ok {
		return e.lastErr
	}
	return nil
}

// FetchCount reports how many fetches have been issued for one key.
func (c *Cache) FetchCount(entityID string, rng models.Range) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[key{entityID, rng}]; ok {
		return e.fetches
	}
	return 0
}

// Merged unions every cached range for an entity into one series, deduped by
// exact timestamp. When ranges overlap, the most recently fetched slice wins.
func (c *Cache) Merged(entityID string) []models.Sample {
	c.mu.Lock()
	slices := make([]Slice, 0, 4)
	for k, e := range c.entries {
		if k.entityID == entityID && e.slice != nil {
			slices = append(slices, *e.slice)
		}
	}
	c.mu.Unlock()

	sort.Slice(slices, func(i, j int) bool {
		return slices[i].FetchedAt.Before(slices[j].FetchedAt)
	})

	byTS := make(map[int64]models.Sample)
	for _, s := range slices {
		for _, sample := range s.Samples {
			byTS[sample.Timestamp.UnixMilli()] = sample
		}
	}

	merged := make([]models.Sample, 0, len(byTS))
	for _, sample := range byTS {
		merged = append(merged, sample)
	}
	sort.Slice(merged, func(i, j int) bool {
		return merged[i].Timestamp.Before(merged[j].Timestamp)
	})
	return merged
}

// FreshestSlice returns the most recently fetched cached slice for an entity,
// used to seed the live view.
func (c *Cache) FreshestSlice(entityID string) (Slice, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var best *Slice
	for k, e := range c.entries {
		if k.entityID != entityID || e.slice == nil {
			continue
		}
		if best == nil || e.slice.FetchedAt.After(best.FetchedAt) {
			best = e.slice
		}
	}
	if best == nil {
		return Slice{}, false
	}
	return *best, true
}
