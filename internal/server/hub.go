package server

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/Tyrowin/gochat-realtime/internal/realtime"
)

// Hub owns the WebSocket clients of this node. Registration and
// unregistration go through its Run loop, so connect and disconnect handling
// never overlap.
type Hub struct {
	clients    map[*Client]struct{}
	register   chan *Client
	unregister chan *Client
	mutex      sync.RWMutex
	wg         sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc
	done       chan struct{}

	lifecycle  *realtime.Lifecycle
	dispatcher *realtime.Dispatcher
	logger     *zap.Logger
}

// NewHub creates a Hub that reports connections to lifecycle and routes
// inbound frames to dispatcher.
func NewHub(lifecycle *realtime.Lifecycle, dispatcher *realtime.Dispatcher, logger *zap.Logger) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		clients:    make(map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
		lifecycle:  lifecycle,
		dispatcher: dispatcher,
		logger:     logger.Named("hub"),
	}
}

// Register hands a freshly upgraded client to the Run loop. It returns false
// once the hub is shutting down.
func (h *Hub) Register(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.ctx.Done():
		return false
	}
}

func (h *Hub) unregisterClient(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// ClientCount returns the number of registered clients.
func (h *Hub) ClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

// Run starts the hub's main event loop. Call it in its own goroutine.
func (h *Hub) Run() {
	defer close(h.done)

	for {
		select {
		case <-h.ctx.Done():
			h.shutdownClients()
			return

		case client := <-h.register:
			if client == nil {
				h.logger.Warn("Received nil client registration; skipping")
				continue
			}
			h.addClient(client)

		case client := <-h.unregister:
			h.removeClient(client)
		}
	}
}

func (h *Hub) addClient(client *Client) {
	h.mutex.Lock()
	h.clients[client] = struct{}{}
	clientCount := len(h.clients)
	h.mutex.Unlock()

	state := h.lifecycle.Connect(h.ctx, client, client.rawUserID)
	client.setState(state)
	h.logger.Info("Client registered",
		zap.String("session", string(client.id)),
		zap.String("remote", client.addr),
		zap.Stringer("state", state),
		zap.Int("clients", clientCount),
	)

	h.wg.Add(2)
	go func() {
		defer h.wg.Done()
		client.writePump()
	}()
	go func() {
		defer h.wg.Done()
		client.readPump()
	}()
}

func (h *Hub) removeClient(client *Client) {
	h.mutex.Lock()
	if _, ok := h.clients[client]; !ok {
		h.mutex.Unlock()
		return
	}
	delete(h.clients, client)
	clientCount := len(h.clients)
	h.mutex.Unlock()

	client.closeSend()
	wasBound := h.lifecycle.Disconnect(h.ctx, client)
	client.setState(realtime.StateUnbound)

	h.logger.Info("Client unregistered",
		zap.String("session", string(client.id)),
		zap.String("remote", client.addr),
		zap.Bool("bound", wasBound),
		zap.Int("clients", clientCount),
	)
}

// shutdownClients runs the disconnect path for every client and closes its
// connection.
func (h *Hub) shutdownClients() {
	h.logger.Info("Shutting down all client connections")

	h.mutex.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.mutex.RUnlock()

	// h.ctx is already cancelled here.
	ctx := context.Background()
	for _, client := range clients {
		h.mutex.Lock()
		delete(h.clients, client)
		h.mutex.Unlock()

		client.closeSend()
		h.lifecycle.Disconnect(ctx, client)
		client.closeConn()
	}

	h.logger.Info("Closed client connections", zap.Int("count", len(clients)))
}

// Shutdown stops the hub, waits for the lastSeen writes of the clients it
// disconnected, and waits for all client goroutines to finish. The whole
// sequence is bounded by timeout.
func (h *Hub) Shutdown(timeout time.Duration) error {
	h.logger.Info("Initiating hub shutdown")

	h.cancel()
	<-h.done

	deadline := time.Now().Add(timeout)
	flushCtx, cancel := context.WithDeadline(context.Background(), deadline)
	defer cancel()
	if err := h.lifecycle.Flush(flushCtx); err != nil && !errors.Is(err, realtime.ErrLifecycleClosed) {
		h.logger.Warn("Store writes still pending at shutdown", zap.Error(err))
	}

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		h.logger.Info("Hub shutdown completed")
		return nil
	case <-time.After(time.Until(deadline)):
		h.logger.Warn("Hub shutdown timeout reached, some goroutines may still be running")
		return context.DeadlineExceeded
	}
}
