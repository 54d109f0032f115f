// Package hub is the server side of huddle: it routes envelopes from room
// connections into the room registry and broadcasts the results.
package hub

import (
	"context"
	"log/slog"
	"time"

	"github.com/BioHazard786/huddle/internal/room"
)

// Hub is the central brain of the room server. All registry state is owned
// by the goroutine running Run, so no handler ever needs a lock.
type Hub struct {
	registry *room.Registry

	register   chan *Client
	unregister chan *Client
	inbound    chan inbound
	done       chan struct{}

	// clients are all open connections, bound or not.
	clients map[*Client]struct{}

	log *slog.Logger
	now func() time.Time
}

type inbound struct {
	client *Client
	data   []byte
}

// NewHub creates a hub that owns registry.
func NewHub(registry *room.Registry) *Hub {
	return &Hub{
		registry:   registry,
		register:   make(chan *Client),
		unregister: make(chan *Client),
		inbound:    make(chan inbound),
		done:       make(chan struct{}),
		clients:    make(map[*Client]struct{}),
		log:        slog.With("component", "hub"),
		now:        time.Now,
	}
}

// Run processes connection events until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return

		case c := <-h.register:
			h.handleRegister(c)

		case c := <-h.unregister:
			h.handleUnregister(c)

		case in := <-h.inbound:
			h.handleMessage(in.client, in.data)
		}
	}
}

// Register hands a freshly opened connection to the hub. It returns false
// if the hub is no longer running.
func (h *Hub) Register(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

// Unregister reports that a connection's transport closed.
func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// Receive queues a raw inbound frame. It returns false if the hub stopped.
func (h *Hub) Receive(c *Client, data []byte) bool {
	select {
	case h.inbound <- inbound{client: c, data: data}:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) handleRegister(c *Client) {
	h.clients[c] = struct{}{}
	h.log.Debug("connection opened", "conn", c.ID, "room", c.RoomID)
}

func (h *Hub) handleUnregister(c *Client) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	h.log.Debug("connection closed", "conn", c.ID, "room", c.RoomID, "participant", c.ParticipantID)

	if c.Bound() {
		h.leave(c.RoomID, c.ParticipantID)
	}
	h.closeClient(c)
}

// closeClient stops the client's WritePump, which closes the transport.
func (h *Hub) closeClient(c *Client) {
	c.ParticipantID = ""
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

func (h *Hub) shutdown() {
	for c := range h.clients {
		h.closeClient(c)
		delete(h.clients, c)
	}
	h.log.Info("hub stopped")
}
