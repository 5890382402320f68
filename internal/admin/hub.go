package admin

import (
	"context"
	"sync"

	"github.com/chainworker/chainworker/internal/events"
	"github.com/chainworker/chainworker/internal/logger"
	"github.com/chainworker/chainworker/internal/metrics"
)

// hub fans out events.Event lifecycle notifications to every connected
// /ws/events client. There is a single implicit subscription: every client
// gets every event — this worker's event volume is low enough that
// per-client filtering isn't worth the protocol.
type hub struct {
	bus events.Publisher

	clients    map[*wsClient]bool
	broadcast  chan *events.Event
	register   chan *wsClient
	unregister chan *wsClient
	mu         sync.RWMutex
	stopCh     chan struct{}
	wg         sync.WaitGroup
}

func newHub(bus events.Publisher) *hub {
	return &hub{
		bus:        bus,
		clients:    make(map[*wsClient]bool),
		broadcast:  make(chan *events.Event, 256),
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
		stopCh:     make(chan struct{}),
	}
}

// run subscribes to the shared event bus and pumps every event to every
// connected client until ctx is cancelled or Stop is called.
func (h *hub) run(ctx context.Context) {
	eventCh, err := h.bus.SubscribeAll(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("admin: failed to subscribe to events")
		return
	}

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case <-h.stopCh:
				return
			case event, ok := <-eventCh:
				if !ok {
					return
				}
				select {
				case h.broadcast <- event:
				default:
					logger.Warn().Msg("admin: broadcast channel full, dropping event")
				}
			}
		}
	}()

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		for {
			select {
			case <-ctx.Done():
				h.closeAll()
				return
			case <-h.stopCh:
				h.closeAll()
				return
			case c := <-h.register:
				h.mu.Lock()
				h.clients[c] = true
				h.mu.Unlock()
				metrics.SetWebSocketConnections(float64(h.clientCount()))
			case c := <-h.unregister:
				h.mu.Lock()
				if _, ok := h.clients[c]; ok {
					delete(h.clients, c)
					close(c.send)
				}
				h.mu.Unlock()
				metrics.SetWebSocketConnections(float64(h.clientCount()))
			case event := <-h.broadcast:
				h.deliver(event)
			}
		}
	}()
}

func (h *hub) stop() {
	close(h.stopCh)
	h.wg.Wait()
}

func (h *hub) clientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *hub) deliver(event *events.Event) {
	data, err := event.ToJSON()
	if err != nil {
		logger.Error().Err(err).Msg("admin: failed to serialize event for broadcast")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.clients {
		select {
		case c.send <- data:
			metrics.RecordWebSocketMessage(string(event.Type))
		default:
			go func(c *wsClient) { h.unregister <- c }(c)
		}
	}
}

func (h *hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		close(c.send)
		delete(h.clients, c)
	}
}
