package tracking

import (
	"net/http"
	"sync"
	"time"

	"flowdelivery/internal/models"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Event is pushed to live-tracking subscribers on every committed
// assignment transition.
type Event struct {
	OrderID    string    `json:"orderId"`
	Status     string    `json:"status"`
	OccurredAt time.Time `json:"occurredAt"`
}

const (
	writeWait        = 10 * time.Second
	pongWait         = 60 * time.Second
	pingPeriod       = 54 * time.Second
	subscriberBuffer = 8
)

// Hub fans committed delivery transitions out to websocket subscribers,
// keyed by order. Push is best effort: a subscriber that can't keep up is
// dropped rather than blocking the publisher.
type Hub struct {
	mu   sync.Mutex
	subs map[string]map[chan Event]struct{}
	log  *zap.Logger
}

func NewHub(log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{subs: make(map[string]map[chan Event]struct{}), log: log}
}

// PublishStatus satisfies services.StatusNotifier.
func (h *Hub) PublishStatus(orderID string, status models.AssignmentStatus, occurredAt time.Time) {
	ev := Event{OrderID: orderID, Status: string(status), OccurredAt: occurredAt}

	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs[orderID] {
		select {
		case ch <- ev:
		default:
			h.removeLocked(orderID, ch)
			h.log.Warn("dropped slow tracking subscriber", zap.String("order_id", orderID))
		}
	}
}

func (h *Hub) Subscribe(orderID string) chan Event {
	ch := make(chan Event, subscriberBuffer)
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.subs[orderID] == nil {
		h.subs[orderID] = make(map[chan Event]struct{})
	}
	h.subs[orderID][ch] = struct{}{}
	return ch
}

func (h *Hub) Unsubscribe(orderID string, ch chan Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(orderID, ch)
}

// removeLocked must be called with h.mu held. Closing only at the point of
// removal keeps the channel from being closed twice.
func (h *Hub) removeLocked(orderID string, ch chan Event) {
	set, ok := h.subs[orderID]
	if !ok {
		return
	}
	if _, ok := set[ch]; !ok {
		return
	}
	delete(set, ch)
	close(ch)
	if len(set) == 0 {
		delete(h.subs, orderID)
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The tracking page is public; the GET projection carries no secrets.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ServeWS upgrades the request and streams events for one order until the
// client goes away or falls behind.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, orderID string) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	ch := h.Subscribe(orderID)

	go func() {
		defer func() {
			h.Unsubscribe(orderID, ch)
			conn.Close()
		}()
		conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			conn.SetReadDeadline(time.Now().Add(pongWait))
			return nil
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		h.Unsubscribe(orderID, ch)
		conn.Close()
	}()
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
