package realtime

import (
	"sync"
	"sync/atomic"
)

// Transport names, also used as metric labels
const (
	TransportWebSocket = "websocket"
	TransportSSE       = "sse"
	TransportHTTP      = "http"
)

// ClientState is the lifecycle state of a realtime client
type ClientState int32

const (
	StateConnecting ClientState = iota
	StateConnected
	StateDisconnected
)

func (s ClientState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// Client is one connected display. Outbound messages are queued on a buffered
// channel that the transport drains; the channel is never closed, Done is.
type Client struct {
	id        string
	transport string
	send      chan Message
	done      chan struct{}
	closeOnce sync.Once
	state     atomic.Int32
}

func newClient(id, transport string, buffer int) *Client {
	c := &Client{
		id:        id,
		transport: transport,
		send:      make(chan Message, buffer),
		done:      make(chan struct{}),
	}
	c.setState(StateConnecting)
	return c
}

// ID returns the client's unique ID
func (c *Client) ID() string { return c.id }

// Transport returns the transport the client is connected over
func (c *Client) Transport() string { return c.transport }

// State returns the current lifecycle state
func (c *Client) State() ClientState { return ClientState(c.state.Load()) }

// Messages returns the outbound queue
func (c *Client) Messages() <-chan Message { return c.send }

// Done is closed when the client is disconnected
func (c *Client) Done() <-chan struct{} { return c.done }

func (c *Client) setState(s ClientState) { c.state.Store(int32(s)) }

// enqueue queues msg without blocking and reports whether it was accepted
func (c *Client) enqueue(msg Message) bool {
	if c.State() == StateDisconnected {
		return false
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

func (c *Client) close() {
	c.closeOnce.Do(func() {
		c.setState(StateDisconnected)
		close(c.done)
	})
}
