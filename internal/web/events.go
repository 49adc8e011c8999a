package web

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"plotwatch/internal/display"
	"plotwatch/internal/highlight"
)

// StreamMessage is one Server-Sent Event.
type StreamMessage struct {
	Type  string           `json:"type"`
	Event *highlight.Event `json:"event,omitempty"`
	Alert *display.Notice  `json:"alert,omitempty"`
}

// EventStream fans highlight events and alerts out to SSE listeners. It
// keeps the latest highlight so new subscribers start from the current
// state. It is a display.Sink.
type EventStream struct {
	mu       sync.RWMutex
	subs     map[int]chan StreamMessage
	nextID   int
	last     StreamMessage
	haveLast bool
}

func NewEventStream() *EventStream {
	return &EventStream{
		subs: make(map[int]chan StreamMessage),
	}
}

func (b *EventStream) Subscribe(buffer int) (int, <-chan StreamMessage) {
	if b == nil {
		return 0, nil
	}
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan StreamMessage, buffer)
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	last := b.last
	have := b.haveLast
	b.mu.Unlock()
	if have {
		select {
		case ch <- last:
		default:
		}
	}
	return id, ch
}

func (b *EventStream) Unsubscribe(id int) {
	if b == nil {
		return
	}
	b.mu.Lock()
	ch, ok := b.subs[id]
	if ok {
		delete(b.subs, id)
		close(ch)
	}
	b.mu.Unlock()
}

func (b *EventStream) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Publish never blocks: a subscriber whose buffer is full misses msg.
func (b *EventStream) Publish(msg StreamMessage) {
	if b == nil {
		return
	}
	// Send under the read lock so Unsubscribe cannot close a channel mid-send.
	b.mu.RLock()
	for _, ch := range b.subs {
		select {
		case ch <- msg:
		default:
		}
	}
	b.mu.RUnlock()
	if msg.Type == "highlight" {
		b.mu.Lock()
		b.last = msg
		b.haveLast = true
		b.mu.Unlock()
	}
}

func (b *EventStream) Render(ev highlight.Event) {
	b.Publish(StreamMessage{Type: "highlight", Event: &ev})
}

func (b *EventStream) Alert(n display.Notice) {
	b.Publish(StreamMessage{Type: "alert", Alert: &n})
}

const sseKeepAlive = 15 * time.Second

func (b *EventStream) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming unsupported", http.StatusInternalServerError)
			return
		}
		// The server's write timeout does not apply to a long-lived stream.
		_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-store")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)
		flusher.Flush()

		id, ch := b.Subscribe(16)
		defer b.Unsubscribe(id)

		ping := time.NewTicker(sseKeepAlive)
		defer ping.Stop()
		for {
			select {
			case <-r.Context().Done():
				return
			case <-ping.C:
				if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
					return
				}
				flusher.Flush()
			case msg, ok := <-ch:
				if !ok {
					return
				}
				data, err := json.Marshal(msg)
				if err != nil {
					continue
				}
				if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", msg.Type, data); err != nil {
					return
				}
				flusher.Flush()
			}
		}
	})
}
