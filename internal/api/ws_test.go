package api_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/algotrendy/execution-engine/internal/api"
	"github.com/algotrendy/execution-engine/internal/events"
	"github.com/algotrendy/execution-engine/internal/model"
)

func dialHub(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("ws dial: %v", err)
	}
	return conn
}

// readEvent publishes the given event repeatedly until the connection
// receives a message, since client registration is asynchronous.
func readEvent(t *testing.T, conn *websocket.Conn, bus *events.Bus, kind events.Kind, payload any) api.WSMessage {
	t.Helper()

	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(10 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				bus.Publish(kind, payload)
			case <-done:
				return
			}
		}
	}()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ws read: %v", err)
	}
	var msg api.WSMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("decoding ws message: %v", err)
	}
	return msg
}

func TestWSHubBroadcastsBusEvents(t *testing.T) {
	bus := events.NewBus()
	hub := api.NewWSHub(bus)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()

	conn := dialHub(t, srv)
	defer conn.Close()

	order := model.Order{ID: "o-1", Symbol: "BTCUSDT", Status: model.StatusFilled}
	msg := readEvent(t, conn, bus, events.OrderStatusChanged, order)
	if msg.Type != string(events.OrderStatusChanged) {
		t.Errorf("message type = %q, want %q", msg.Type, events.OrderStatusChanged)
	}
}

func TestWSHubSurvivesClientDisconnect(t *testing.T) {
	bus := events.NewBus()
	hub := api.NewWSHub(bus)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()

	first := dialHub(t, srv)
	position := model.Position{Symbol: "BTCUSDT", Exchange: "paper"}
	readEvent(t, first, bus, events.PositionUpdated, position)

	// Drop the client, then keep broadcasting to drive its eviction.
	first.Close()
	for i := 0; i < 20; i++ {
		hub.Broadcast(api.WSMessage{Type: "ping", Data: i})
		time.Sleep(5 * time.Millisecond)
	}

	// A fresh client still receives events after the eviction.
	second := dialHub(t, srv)
	defer second.Close()
	msg := readEvent(t, second, bus, events.PositionUpdated, position)
	if msg.Type != string(events.PositionUpdated) {
		t.Errorf("message type = %q, want %q", msg.Type, events.PositionUpdated)
	}
}
