package rangecache

import (
	"sync"

	"github.com/sexxyrexxy/mycelium-sub000/internal/models"
)

// LiveWindow is the bounded series shown in live mode: seeded from the most
// recent cached historical slice, then appended to from the broadcast stream,
// evicting the oldest points beyond its capacity.
type LiveWindow struct {
	mu       sync.Mutex
	capacity int
	samples  []models.Sample
}

func NewLiveWindow(capacity int) *LiveWindow {
	if capacity <= 0 {
		capacity = 600
	}
	return &LiveWindow{capacity: capacity}
}

// Live returns a live window for entityID seeded from the freshest cached
// slice, if any.
func (c *Cache) Live(entityID string, capacity int) *LiveWindow {
	w := NewLiveWindow(capacity)
	if slice, ok := c.FreshestSlice(entityID); ok {
		w.Seed(slice.Samples)
	}
	return w
}

// Seed replaces the window contents, keeping at most the newest capacity points.
func (w *LiveWindow) Seed(samples []models.Sample) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if len(samples) > w.capacity {
		samples = samples[len(samples)-w.capacity:]
	}
	w.samples = append(w.samples[:0], samples...)
}

// Append adds one incoming sample, evicting the oldest when full.
func (w *LiveWindow) Append(s models.Sample) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.samples = append(w.samples, s)
	if len(w.samples) > w.capacity {
		w.samples = w.samples[len(w.samples)-w.capacity:]
	}
}

// Snapshot returns a copy of the current window contents.
func (w *LiveWindow) Snapshot() []models.Sample {
	w.mu.Lock()
	defer w.mu.Unlock()

	out := make([]models.Sample, len(w.samples))
	copy(out, w.samples)
	return out
}

// Len reports the number of retained points.
func (w *LiveWindow) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.samples)
}
