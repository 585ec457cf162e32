// Package realtime pushes completion state to connected display clients and
// accepts their toggles. Transports (WebSocket, Server-Sent Events) share one
// Gateway that owns the client registry and the fan-out.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/kds/backend/internal/domain/kitchen"
	"github.com/kds/backend/internal/infrastructure/telemetry"
	"go.uber.org/zap"
)

// Gateway errors
var (
	ErrGatewayStopped = errors.New("realtime gateway stopped")
	ErrTooManyClients = errors.New("maximum number of realtime clients reached")
)

// CompletionStore is the part of the completion store the gateway needs
type CompletionStore interface {
	Get() map[string][]string
	SetCompletion(ctx context.Context, change kitchen.Change) error
	Subscribe(listener kitchen.ChangeListener) (unsubscribe func())
}

// Gateway tracks connected clients and fans completion changes out to them
type Gateway struct {
	store    CompletionStore
	validate *validator.Validate

	mu      sync.RWMutex
	clients map[string]*Client
	stopped bool

	unsubscribe func()
	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	startOnce   sync.Once

	bufferSize int
	maxClients int
	heartbeat  time.Duration

	logger  *zap.Logger
	metrics *telemetry.Metrics
}

// GatewayOption configures a Gateway
type GatewayOption func(*Gateway)

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) GatewayOption {
	return func(g *Gateway) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// WithMetrics records client counts, drops and toggles into m
func WithMetrics(m *telemetry.Metrics) GatewayOption {
	return func(g *Gateway) {
		g.metrics = m
	}
}

// WithClientBuffer sets the per-client outbound queue size
func WithClientBuffer(size int) GatewayOption {
	return func(g *Gateway) {
		if size > 0 {
			g.bufferSize = size
		}
	}
}

// WithMaxClients caps concurrent clients; zero means unlimited
func WithMaxClients(max int) GatewayOption {
	return func(g *Gateway) {
		g.maxClients = max
	}
}

// WithHeartbeat sets the heartbeat interval; zero disables heartbeats
func WithHeartbeat(interval time.Duration) GatewayOption {
	return func(g *Gateway) {
		g.heartbeat = interval
	}
}

// NewGateway creates a gateway and subscribes it to store changes
func NewGateway(store CompletionStore, opts ...GatewayOption) *Gateway {
	ctx, cancel := context.WithCancel(context.Background())
	g := &Gateway{
		store:      store,
		validate:   validator.New(validator.WithRequiredStructEnabled()),
		clients:    make(map[string]*Client),
		ctx:        ctx,
		cancel:     cancel,
		bufferSize: 64,
		maxClients: 1000,
		heartbeat:  30 * time.Second,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(g)
	}
	g.logger = g.logger.Named("realtime")
	g.unsubscribe = store.Subscribe(g.onChange)
	return g
}

// Start begins sending heartbeats. Calling it more than once has no effect.
func (g *Gateway) Start() {
	g.startOnce.Do(func() {
		if g.heartbeat <= 0 {
			return
		}
		g.wg.Add(1)
		go g.sendHeartbeats()
	})
}

// Stop disconnects every client, detaches from the store and waits for the
// heartbeat loop to exit
func (g *Gateway) Stop() {
	g.mu.Lock()
	if g.stopped {
		g.mu.Unlock()
		return
	}
	g.stopped = true
	clients := make([]*Client, 0, len(g.clients))
	for id, c := range g.clients {
		clients = append(clients, c)
		delete(g.clients, id)
	}
	g.mu.Unlock()

	g.unsubscribe()
	g.cancel()
	for _, c := range clients {
		c.close()
		g.metrics.AddRealtimeClients(c.transport, -1)
	}
	g.wg.Wait()
	g.logger.Info("Realtime gateway stopped", zap.Int("disconnected_clients", len(clients)))
}

// Connect registers a new client and queues the full completion snapshot as
// its first message. The snapshot is taken and the client marked connected
// under the registry lock, so a concurrent toggle is either contained in the
// snapshot or broadcast to the client afterwards.
func (g *Gateway) Connect(transport string) (*Client, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.stopped {
		return nil, ErrGatewayStopped
	}
	if g.maxClients > 0 && len(g.clients) >= g.maxClients {
		return nil, ErrTooManyClients
	}

	client := newClient(uuid.New().String(), transport, g.bufferSize)

	msg, err := NewMessage(EventInitialState, g.store.Get())
	if err != nil {
		return nil, fmt.Errorf("encode initial state: %w", err)
	}
	client.enqueue(msg)

	g.clients[client.id] = client
	client.setState(StateConnected)
	g.metrics.AddRealtimeClients(transport, 1)

	g.logger.Info("Realtime client connected",
		zap.String("client_id", client.id),
		zap.String("transport", transport),
	)
	return client, nil
}

// Disconnect removes the client. It is safe to call more than once.
func (g *Gateway) Disconnect(client *Client) {
	g.mu.Lock()
	_, ok := g.clients[client.id]
	if ok {
		delete(g.clients, client.id)
	}
	g.mu.Unlock()

	client.close()
	if ok {
		g.metrics.AddRealtimeClients(client.transport, -1)
		g.logger.Info("Realtime client disconnected",
			zap.String("client_id", client.id),
			zap.String("transport", client.transport),
		)
	}
}

// ClientCount returns the number of registered clients
func (g *Gateway) ClientCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.clients)
}

// Toggle validates and applies a toggle. origin is the issuing client's ID,
// or empty for toggles that did not come from a realtime client; the change
// is broadcast to every connected client except the origin.
func (g *Gateway) Toggle(ctx context.Context, ev ToggleEvent, origin string) error {
	transport := TransportHTTP
	if origin != "" {
		g.mu.RLock()
		if c, ok := g.clients[origin]; ok {
			transport = c.transport
		}
		g.mu.RUnlock()
	}

	if err := g.validate.Struct(ev); err != nil {
		g.metrics.IncToggle(transport, "invalid")
		return fmt.Errorf("%w: %v", kitchen.ErrInvalidToggle, err)
	}

	change := kitchen.Change{
		Key:       kitchen.CompletionKey{OrderID: ev.OrderID, ItemID: ev.ItemID},
		Completed: *ev.Completed,
		Origin:    origin,
	}
	if err := g.store.SetCompletion(ctx, change); err != nil {
		g.metrics.IncToggle(transport, "invalid")
		return err
	}
	g.metrics.IncToggle(transport, "ok")
	return nil
}

// HandleClientMessage processes one inbound frame from a client. Malformed
// frames are answered with an error event; the connection stays open.
func (g *Gateway) HandleClientMessage(ctx context.Context, client *Client, raw []byte) {
	var in inboundMessage
	if err := json.Unmarshal(raw, &in); err != nil {
		g.rejectClientMessage(client, "malformed message", err)
		return
	}

	switch in.Event {
	case EventToggle:
		var ev ToggleEvent
		if err := json.Unmarshal(in.Data, &ev); err != nil {
			g.rejectClientMessage(client, "malformed toggle", err)
			return
		}
		if err := g.Toggle(ctx, ev, client.id); err != nil {
			g.rejectClientMessage(client, "invalid toggle", err)
		}
	default:
		g.rejectClientMessage(client, "unknown event", fmt.Errorf("event %q", in.Event))
	}
}

func (g *Gateway) rejectClientMessage(client *Client, reason string, err error) {
	g.logger.Warn("Rejected client message",
		zap.String("client_id", client.id),
		zap.String("reason", reason),
		zap.Error(err),
	)
	msg, encErr := NewMessage(EventError, ErrorPayload{Message: reason + ": " + err.Error()})
	if encErr != nil {
		return
	}
	if !client.enqueue(msg) {
		g.metrics.IncRealtimeDropped(client.transport)
	}
}

// onChange is the store listener. It runs inside the store's writer section
// and never blocks.
func (g *Gateway) onChange(_ context.Context, change kitchen.Change) {
	completed := change.Completed
	msg, err := NewMessage(EventToggle, ToggleEvent{
		OrderID:   change.Key.OrderID,
		ItemID:    change.Key.ItemID,
		Completed: &completed,
	})
	if err != nil {
		g.logger.Error("Failed to encode toggle broadcast", zap.Error(err))
		return
	}
	g.broadcast(msg, change.Origin)
}

// broadcast queues msg for every connected client except exclude. A client
// whose queue is full misses the message.
func (g *Gateway) broadcast(msg Message, exclude string) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	for id, client := range g.clients {
		if id == exclude || client.State() != StateConnected {
			continue
		}
		if !client.enqueue(msg) {
			g.metrics.IncRealtimeDropped(client.transport)
			g.logger.Warn("Client queue full, dropping message",
				zap.String("client_id", id),
				zap.String("event", msg.Event),
			)
		}
	}
}

func (g *Gateway) sendHeartbeats() {
	defer g.wg.Done()

	ticker := time.NewTicker(g.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-g.ctx.Done():
			return
		case now := <-ticker.C:
			msg, err := NewMessage(EventHeartbeat, HeartbeatPayload{Timestamp: now.Unix()})
			if err != nil {
				continue
			}
			g.broadcast(msg, "")
		}
	}
}
