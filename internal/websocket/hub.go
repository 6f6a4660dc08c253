// Mentornet - Course Progress Ledger
// Copyright 2026 Devansh Joshi (Devanshjoshi2804)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Devanshjoshi2804/mentornet

// Package websocket streams ledger projections to UI clients. Each client
// sees only its own learner's events unless it holds the admin role.
package websocket

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/Devanshjoshi2804/mentornet/internal/ledger"
	"github.com/Devanshjoshi2804/mentornet/internal/logging"
	"github.com/Devanshjoshi2804/mentornet/internal/metrics"
)

// ShutdownReason identifies why the hub is shutting down.
type ShutdownReason string

const (
	ShutdownReasonContextCanceled ShutdownReason = "context_canceled"
	ShutdownReasonContextDeadline ShutdownReason = "context_deadline"
)

// Message types for WebSocket communication
const (
	MessageTypeProjection      = "projection"
	MessageTypeModuleCompleted = "module_completed"
	MessageTypeCourseCompleted = "course_completed"
	MessageTypePing            = "ping"
	MessageTypePong            = "pong"
)

// ErrBroadcastFull is returned by Publish when the hub cannot keep up.
var ErrBroadcastFull = errors.New("websocket: broadcast channel full")

// Message represents a WebSocket message
type Message struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// CourseCompletedData is the payload of a course_completed message.
type CourseCompletedData struct {
	LearnerID string `json:"learner_id"`
	CourseID  string `json:"course_id"`
}

type outbound struct {
	learnerID string
	msg       Message
}

// Hub maintains the set of active clients and routes messages to them.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan outbound
	Register   chan *Client
	Unregister chan *Client
	mu         sync.RWMutex
}

// NewHub creates a new Hub
func NewHub() *Hub {
	return &Hub{
		broadcast:  make(chan outbound, 256),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		clients:    make(map[*Client]bool),
	}
}

// Serve runs the hub until ctx is canceled. It implements suture.Service.
func (h *Hub) Serve(ctx context.Context) error {
	return h.RunWithContext(ctx)
}

func (h *Hub) String() string { return "websocket-hub" }

// RunWithContext processes registrations and broadcasts until ctx is
// canceled, then closes every client. Lifecycle events are drained before
// broadcasts so a freshly registered client receives the next message.
func (h *Hub) RunWithContext(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			h.logGracefulShutdown(ctx)
			return ctx.Err()
		default:
		}

		select {
		case client := <-h.Register:
			h.addClient(client)
			continue
		case client := <-h.Unregister:
			h.removeClient(client)
			continue
		default:
		}

		select {
		case <-ctx.Done():
			h.logGracefulShutdown(ctx)
			return ctx.Err()
		case client := <-h.Register:
			h.addClient(client)
		case client := <-h.Unregister:
			h.removeClient(client)
		case out := <-h.broadcast:
			h.broadcastToClients(out)
		}
	}
}

func (h *Hub) addClient(client *Client) {
	h.mu.Lock()
	h.clients[client] = true
	total := len(h.clients)
	h.mu.Unlock()
	metrics.WebSocketConnections.Inc()
	logging.Debug().Str("learner_id", client.learnerID).Int("total_clients", total).Msg("websocket client connected")
}

func (h *Hub) removeClient(client *Client) {
	h.mu.Lock()
	_, ok := h.clients[client]
	if ok {
		delete(h.clients, client)
		client.close()
	}
	total := len(h.clients)
	h.mu.Unlock()
	if ok {
		metrics.WebSocketConnections.Dec()
		logging.Debug().Str("learner_id", client.learnerID).Int("total_clients", total).Msg("websocket client disconnected")
	}
}

func (h *Hub) logGracefulShutdown(ctx context.Context) {
	clientCount := h.GetClientCount()
	h.closeAllClients()

	logging.Info().
		Str("component", "websocket-hub").
		Str("reason", string(getShutdownReason(ctx))).
		Int("clients_closed", clientCount).
		Msg("websocket hub stopped")
}

func getShutdownReason(ctx context.Context) ShutdownReason {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return ShutdownReasonContextDeadline
	}
	return ShutdownReasonContextCanceled
}

// sortedClients returns clients in ID order. Callers hold h.mu.
func (h *Hub) sortedClients() []*Client {
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	sort.Slice(clients, func(i, j int) bool {
		return clients[i].id < clients[j].id
	})
	return clients
}

// broadcastToClients delivers to every client entitled to see the message.
// A client whose send buffer is full is disconnected.
func (h *Hub) broadcastToClients(out outbound) {
	h.mu.Lock()
	defer h.mu.Unlock()

	var toRemove []*Client
	for _, client := range h.sortedClients() {
		if !client.wants(out.learnerID) {
			continue
		}
		if !client.enqueue(out.msg) {
			toRemove = append(toRemove, client)
		}
	}

	for _, client := range toRemove {
		client.close()
		delete(h.clients, client)
		metrics.WebSocketMessagesDropped.Inc()
		metrics.WebSocketConnections.Dec()
		logging.Warn().Str("learner_id", client.learnerID).Msg("websocket client too slow, disconnected")
	}
}

func (h *Hub) closeAllClients() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, client := range h.sortedClients() {
		client.close()
		delete(h.clients, client)
		metrics.WebSocketConnections.Dec()
	}
}

// Publish implements ledger.Publisher. It never blocks on slow clients.
func (h *Hub) Publish(_ context.Context, e ledger.Event) error {
	msg, ok := messageForEvent(e)
	if !ok {
		return nil
	}
	select {
	case h.broadcast <- outbound{learnerID: e.LearnerID, msg: msg}:
		return nil
	default:
		metrics.WebSocketMessagesDropped.Inc()
		return ErrBroadcastFull
	}
}

// Name implements ledger.Publisher.
func (h *Hub) Name() string { return "websocket" }

func messageForEvent(e ledger.Event) (Message, bool) {
	switch e.Type {
	case ledger.EventProgressUpdated, ledger.EventModuleCompleted:
		if e.Record == nil {
			return Message{}, false
		}
		typ := MessageTypeProjection
		if e.Type == ledger.EventModuleCompleted {
			typ = MessageTypeModuleCompleted
		}
		return Message{Type: typ, Data: e.Record.Projection()}, true
	case ledger.EventCourseCompleted:
		return Message{
			Type: MessageTypeCourseCompleted,
			Data: CourseCompletedData{LearnerID: e.LearnerID, CourseID: e.CourseID},
		}, true
	default:
		return Message{}, false
	}
}

// GetClientCount returns the number of connected clients
func (h *Hub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
