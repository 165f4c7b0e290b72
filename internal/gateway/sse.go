package gateway

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/sexxyrexxy/mycelium-sub000/internal/broadcast"
	"github.com/sexxyrexxy/mycelium-sub000/internal/models"
)

const subscriberBuffer = 64

// Hub relays broadcast messages to long-lived SSE connections. Each client
// gets an independent subscription; a slow client drops frames instead of
// stalling the publisher or other clients. No replay: a client connecting
// after a message was published never sees it and backfills from the store.
type Hub struct {
	bus       *broadcast.Bus
	heartbeat time.Duration
	nextID    uint64
}

// NewHub creates a gateway hub over bus. heartbeat defeats idle connection
// timeouts (15 s in production, short in tests).
func NewHub(bus *broadcast.Bus, heartbeat time.Duration) *Hub {
	return &Hub{bus: bus, heartbeat: heartbeat}
}

// SubscriberCount reports active subscriptions on the underlying bus.
func (h *Hub) SubscriberCount() int {
	return h.bus.SubscriberCount()
}

type rowItem struct {
	EntityID  string  `json:"entityId"`
	Timestamp int64   `json:"timestamp"`
	Value     float64 `json:"value"`
}

type eventPayload struct {
	Type    string    `json:"type"`
	Item    *rowItem  `json:"item,omitempty"`
	Items   []rowItem `json:"items,omitempty"`
	Message string    `json:"message,omitempty"`
}

func toItem(msg models.BroadcastMessage) rowItem {
	return rowItem{
		EntityID:  msg.EntityID,
		Timestamp: msg.Sample.Timestamp.UnixMilli(),
		Value:     msg.Sample.Value,
	}
}

// ServeHTTP streams matching broadcast messages as SSE frames until the
// client disconnects. An optional entityId query parameter filters the feed.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	entityID := r.URL.Query().Get("entityId")

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	id := fmt.Sprintf("sse-%d", atomic.AddUint64(&h.nextID, 1))
	ch := make(chan models.BroadcastMessage, subscriberBuffer)
	if err := h.bus.Subscribe(id, entityID, ch); err != nil {
		writeEvent(w, "error", eventPayload{Type: "error", Message: err.Error()})
		flusher.Flush()
		return
	}
	defer h.bus.Unsubscribe(id)

	sseClients.Inc()
	defer sseClients.Dec()

	log.Printf("Gateway: client %s connected (entity=%q)", id, entityID)
	defer log.Printf("Gateway: client %s disconnected", id)

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	// Initial heartbeat confirms the subscription to the client.
	if err := writeHeartbeat(w); err != nil {
		return
	}
	flusher.Flush()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return

		case msg := <-ch:
			batch := drain(ch, msg)
			var err error
			if len(batch) == 1 {
				item := batch[0]
				err = writeEvent(w, "row", eventPayload{Type: "row", Item: &item})
			} else {
				err = writeEvent(w, "rows", eventPayload{Type: "rows", Items: batch})
			}
			if err != nil {
				return
			}
			flusher.Flush()

		case <-ticker.C:
			if err := writeHeartbeat(w); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// drain collects whatever else is already queued so bursts go out as one
// "rows" frame instead of many "row" frames.
func drain(ch <-chan models.BroadcastMessage, first models.BroadcastMessage) []rowItem {
	batch := []rowItem{toItem(first)}
	for {
		select {
		case msg := <-ch:
			batch = append(batch, toItem(msg))
		default:
			return batch
		}
	}
}

func writeEvent(w http.ResponseWriter, name string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, data)
	return err
}

func writeHeartbeat(w http.ResponseWriter) error {
	return writeEvent(w, "heartbeat", eventPayload{Type: "heartbeat"})
}
