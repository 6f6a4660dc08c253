// Mentornet - Course Progress Ledger
// Copyright 2026 Devansh Joshi (Devanshjoshi2804)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Devanshjoshi2804/mentornet

package websocket

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/Devanshjoshi2804/mentornet/internal/auth"
	"github.com/Devanshjoshi2804/mentornet/internal/ledger"
)

type rawMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// startHub runs a hub and an upgrade endpoint whose caller identity comes
// from the learner and role query parameters.
func startHub(t *testing.T) (*Hub, *httptest.Server, context.CancelFunc) {
	t.Helper()
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = hub.Serve(ctx)
	}()

	handler := NewHandler(hub, nil)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims := &auth.Claims{Role: r.URL.Query().Get("role")}
		claims.Subject = r.URL.Query().Get("learner")
		handler.ServeHTTP(w, r.WithContext(auth.WithClaims(r.Context(), claims)))
	}))

	stop := func() {
		cancel()
		<-done
		server.Close()
	}
	t.Cleanup(stop)
	return hub, server, cancel
}

func dial(t *testing.T, server *httptest.Server, learner, role string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/?learner=" + learner + "&role=" + role
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if resp != nil && resp.Body != nil {
		defer resp.Body.Close()
	}
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func waitForClients(t *testing.T, hub *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for hub.GetClientCount() != n {
		if time.Now().After(deadline) {
			t.Fatalf("client count = %d, want %d", hub.GetClientCount(), n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func readMessage(t *testing.T, conn *websocket.Conn, timeout time.Duration) (rawMessage, error) {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(timeout))
	var msg rawMessage
	_, data, err := conn.ReadMessage()
	if err != nil {
		return msg, err
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("decode message: %v", err)
	}
	return msg, nil
}

func progressEvent(learner string, pct int) ledger.Event {
	rec := &ledger.ProgressRecord{
		Key:             ledger.Key{LearnerID: learner, CourseID: "go-101", ModuleID: "m1"},
		Registered:      true,
		WatchPercentage: pct,
		SeekCount:       1,
	}
	return ledger.Event{ID: "e-" + learner, Type: ledger.EventProgressUpdated, LearnerID: learner, CourseID: "go-101", ModuleID: "m1", Record: rec}
}

func TestHub_RoutesEventsByLearner(t *testing.T) {
	hub, server, _ := startHub(t)

	alice := dial(t, server, "alice", auth.RoleLearner)
	bob := dial(t, server, "bob", auth.RoleLearner)
	admin := dial(t, server, "ops", auth.RoleAdmin)
	waitForClients(t, hub, 3)

	if err := hub.Publish(context.Background(), progressEvent("alice", 42)); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	for name, conn := range map[string]*websocket.Conn{"alice": alice, "admin": admin} {
		msg, err := readMessage(t, conn, 2*time.Second)
		if err != nil {
			t.Fatalf("%s read: %v", name, err)
		}
		if msg.Type != MessageTypeProjection {
			t.Fatalf("%s message type = %q", name, msg.Type)
		}
		var p ledger.Projection
		if err := json.Unmarshal(msg.Data, &p); err != nil {
			t.Fatal(err)
		}
		if p.LearnerID != "alice" || p.Progress != 42 || !p.IsRegistered || p.IsCompleted {
			t.Fatalf("%s projection = %+v", name, p)
		}
	}

	if _, err := readMessage(t, bob, 150*time.Millisecond); err == nil {
		t.Fatal("bob received alice's projection")
	}
}

func TestHub_PingPong(t *testing.T) {
	hub, server, _ := startHub(t)
	conn := dial(t, server, "alice", auth.RoleLearner)
	waitForClients(t, hub, 1)

	if err := conn.WriteJSON(Message{Type: MessageTypePing}); err != nil {
		t.Fatal(err)
	}
	msg, err := readMessage(t, conn, 2*time.Second)
	if err != nil || msg.Type != MessageTypePong {
		t.Fatalf("got %+v, %v; want pong", msg, err)
	}
}

func TestHub_ShutdownClosesClients(t *testing.T) {
	hub, server, cancel := startHub(t)
	conn := dial(t, server, "alice", auth.RoleLearner)
	waitForClients(t, hub, 1)

	cancel()

	if _, err := readMessage(t, conn, 2*time.Second); err == nil {
		t.Fatal("expected the connection to close after shutdown")
	}
	waitForClients(t, hub, 0)
}

func TestHub_DisconnectUnregisters(t *testing.T) {
	hub, server, _ := startHub(t)
	conn := dial(t, server, "alice", auth.RoleLearner)
	waitForClients(t, hub, 1)

	_ = conn.Close()
	waitForClients(t, hub, 0)
}

func TestHub_PublishFull(t *testing.T) {
	hub := NewHub() // not running, nothing drains the buffer
	var err error
	for i := 0; i < cap(hub.broadcast)+1; i++ {
		err = hub.Publish(context.Background(), progressEvent("alice", i%100))
	}
	if !errors.Is(err, ErrBroadcastFull) {
		t.Fatalf("err = %v, want ErrBroadcastFull", err)
	}
}

func TestMessageForEvent(t *testing.T) {
	completed := progressEvent("alice", 95)
	completed.Type = ledger.EventModuleCompleted
	completed.Record.Completed = true

	tests := []struct {
		name     string
		event    ledger.Event
		wantType string
		wantOK   bool
	}{
		{"progress", progressEvent("alice", 10), MessageTypeProjection, true},
		{"module completed", completed, MessageTypeModuleCompleted, true},
		{"course completed", ledger.Event{Type: ledger.EventCourseCompleted, LearnerID: "alice", CourseID: "go-101"}, MessageTypeCourseCompleted, true},
		{"progress without record", ledger.Event{Type: ledger.EventProgressUpdated}, "", false},
		{"unknown", ledger.Event{Type: "Other"}, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, ok := messageForEvent(tt.event)
			if ok != tt.wantOK || msg.Type != tt.wantType {
				t.Fatalf("messageForEvent = %q, %v; want %q, %v", msg.Type, ok, tt.wantType, tt.wantOK)
			}
		})
	}
}

func TestOriginChecker(t *testing.T) {
	tests := []struct {
		name    string
		allowed []string
		origin  string
		host    string
		want    bool
	}{
		{"no origin", nil, "", "ledger.local", true},
		{"same host", nil, "https://ledger.local", "ledger.local", true},
		{"foreign", nil, "https://evil.example", "ledger.local", false},
		{"listed", []string{"https://app.example"}, "https://app.example", "ledger.local", true},
		{"wildcard", []string{"*"}, "https://any.example", "ledger.local", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.Host = tt.host
			if tt.origin != "" {
				r.Header.Set("Origin", tt.origin)
			}
			if got := originChecker(tt.allowed)(r); got != tt.want {
				t.Fatalf("originChecker = %v, want %v", got, tt.want)
			}
		})
	}
}
