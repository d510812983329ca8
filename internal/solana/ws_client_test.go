package solana

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"solana-wallet-ledger/internal/observability"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsTestServer runs handler for every upgraded connection and returns a ws:// URL.
func wsTestServer(t *testing.T, handler func(conn *websocket.Conn)) string {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		handler(conn)
	}))
	t.Cleanup(server.Close)
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func drain(conn *websocket.Conn) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func readRequest(t *testing.T, conn *websocket.Conn) (wsRequest, bool) {
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return wsRequest{}, false
	}
	var req wsRequest
	if err := json.Unmarshal(msg, &req); err != nil {
		t.Errorf("unmarshal request: %v", err)
		return wsRequest{}, false
	}
	return req, true
}

func logsNotification(subID int64, signature string, slot int64) map[string]interface{} {
	return map[string]interface{}{
		"jsonrpc": "2.0",
		"method":  "logsNotification",
		"params": map[string]interface{}{
			"subscription": subID,
			"result": map[string]interface{}{
				"context": map[string]interface{}{"slot": slot},
				"value": map[string]interface{}{
					"signature": signature,
					"logs":      []string{"Program log: Test"},
					"err":       nil,
				},
			},
		},
	}
}

func TestWSClient_Connect(t *testing.T) {
	wsURL := wsTestServer(t, drain)

	client, err := NewWSClient(context.Background(), wsURL, nil, nil)
	if err != nil {
		t.Fatalf("NewWSClient: %v", err)
	}
	defer client.Close()

	if client.closed.Load() {
		t.Error("client should not be closed")
	}
}

func TestWSClient_SubscribeLogs(t *testing.T) {
	mentions := make(chan []interface{}, 1)

	wsURL := wsTestServer(t, func(conn *websocket.Conn) {
		req, ok := readRequest(t, conn)
		if !ok {
			return
		}
		if req.Method != "logsSubscribe" {
			t.Errorf("expected logsSubscribe, got %s", req.Method)
		}
		mentions <- req.Params

		// Subscription id 0 is valid.
		if err := conn.WriteJSON(map[string]interface{}{"jsonrpc": "2.0", "id": req.ID, "result": 0}); err != nil {
			return
		}
		time.Sleep(50 * time.Millisecond)
		if err := conn.WriteJSON(logsNotification(0, "testsig", 100)); err != nil {
			return
		}
		drain(conn)
	})

	ctx := context.Background()
	client, err := NewWSClient(ctx, wsURL, nil, nil)
	if err != nil {
		t.Fatalf("NewWSClient: %v", err)
	}
	defer client.Close()

	sub, err := client.SubscribeLogs(ctx, LogsFilter{Mentions: []string{"wallet1"}})
	if err != nil {
		t.Fatalf("SubscribeLogs: %v", err)
	}

	params := <-mentions
	if len(params) != 2 {
		t.Fatalf("expected 2 params, got %d", len(params))
	}
	filter, _ := params[0].(map[string]interface{})
	got, _ := filter["mentions"].([]interface{})
	if len(got) != 1 || got[0] != "wallet1" {
		t.Errorf("expected mentions [wallet1], got %v", filter["mentions"])
	}

	select {
	case notif := <-sub.C:
		if notif.Signature != "testsig" {
			t.Errorf("expected testsig, got %s", notif.Signature)
		}
		if len(notif.Logs) != 1 {
			t.Errorf("expected 1 log, got %d", len(notif.Logs))
		}
		if notif.Slot != 100 {
			t.Errorf("expected slot 100, got %d", notif.Slot)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for notification")
	}
}

func TestWSClient_Unsubscribe(t *testing.T) {
	unsubscribed := make(chan wsRequest, 1)

	wsURL := wsTestServer(t, func(conn *websocket.Conn) {
		req, ok := readRequest(t, conn)
		if !ok {
			return
		}
		if err := conn.WriteJSON(map[string]interface{}{"jsonrpc": "2.0", "id": req.ID, "result": 77}); err != nil {
			return
		}
		req, ok = readRequest(t, conn)
		if !ok {
			return
		}
		unsubscribed <- req
		_ = conn.WriteJSON(map[string]interface{}{"jsonrpc": "2.0", "id": req.ID, "result": true})
		drain(conn)
	})

	ctx := context.Background()
	client, err := NewWSClient(ctx, wsURL, nil, nil)
	if err != nil {
		t.Fatalf("NewWSClient: %v", err)
	}
	defer client.Close()

	sub, err := client.SubscribeLogs(ctx, LogsFilter{Mentions: []string{"wallet1"}})
	if err != nil {
		t.Fatalf("SubscribeLogs: %v", err)
	}
	if err := client.Unsubscribe(ctx, sub); err != nil {
		t.Fatalf("Unsubscribe: %v", err)
	}

	select {
	case req := <-unsubscribed:
		if req.Method != "logsUnsubscribe" {
			t.Errorf("expected logsUnsubscribe, got %s", req.Method)
		}
		if len(req.Params) != 1 || req.Params[0] != float64(77) {
			t.Errorf("expected params [77], got %v", req.Params)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for logsUnsubscribe")
	}

	if _, open := <-sub.C; open {
		t.Error("subscription channel should be closed")
	}

	// Second unsubscribe is a no-op.
	if err := client.Unsubscribe(ctx, sub); err != nil {
		t.Errorf("second Unsubscribe: %v", err)
	}
}

func TestWSClient_DropsWhenBufferFull(t *testing.T) {
	wsURL := wsTestServer(t, func(conn *websocket.Conn) {
		req, ok := readRequest(t, conn)
		if !ok {
			return
		}
		if err := conn.WriteJSON(map[string]interface{}{"jsonrpc": "2.0", "id": req.ID, "result": 5}); err != nil {
			return
		}
		for i := 0; i < 3; i++ {
			if err := conn.WriteJSON(logsNotification(5, "sig", int64(i))); err != nil {
				return
			}
		}
		drain(conn)
	})

	config := DefaultWSConfig()
	config.BufferSize = 1
	before := testutil.ToFloat64(observability.DefaultMetrics.WSDropped)
	dropped := func() float64 {
		return testutil.ToFloat64(observability.DefaultMetrics.WSDropped) - before
	}

	ctx := context.Background()
	client, err := NewWSClient(ctx, wsURL, &config, nil)
	if err != nil {
		t.Fatalf("NewWSClient: %v", err)
	}
	defer client.Close()

	sub, err := client.SubscribeLogs(ctx, LogsFilter{Mentions: []string{"wallet1"}})
	if err != nil {
		t.Fatalf("SubscribeLogs: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for dropped() < 2 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if dropped() != 2 {
		t.Fatalf("expected 2 dropped notifications, got %v", dropped())
	}

	notif := <-sub.C
	if notif.Slot != 0 {
		t.Errorf("expected first notification to be kept, got slot %d", notif.Slot)
	}
}

func TestWSClient_Close(t *testing.T) {
	wsURL := wsTestServer(t, drain)

	client, err := NewWSClient(context.Background(), wsURL, nil, nil)
	if err != nil {
		t.Fatalf("NewWSClient: %v", err)
	}

	if err := client.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
	if !client.closed.Load() {
		t.Error("client should be closed")
	}

	// Double close should be safe
	if err := client.Close(); err != nil {
		t.Errorf("double Close: %v", err)
	}
}

func TestWSClient_SubscribeAfterClose(t *testing.T) {
	wsURL := wsTestServer(t, drain)

	ctx := context.Background()
	client, err := NewWSClient(ctx, wsURL, nil, nil)
	if err != nil {
		t.Fatalf("NewWSClient: %v", err)
	}

	client.Close()

	if _, err := client.SubscribeLogs(ctx, LogsFilter{}); err == nil {
		t.Error("expected error subscribing after close")
	}
}

func TestWSClient_SubscribeTimeout(t *testing.T) {
	wsURL := wsTestServer(t, drain)

	config := DefaultWSConfig()
	config.SubscribeTimeout = 100 * time.Millisecond

	ctx := context.Background()
	client, err := NewWSClient(ctx, wsURL, &config, nil)
	if err != nil {
		t.Fatalf("NewWSClient: %v", err)
	}
	defer client.Close()

	if _, err := client.SubscribeLogs(ctx, LogsFilter{Mentions: []string{"wallet1"}}); err == nil {
		t.Fatal("expected subscription timeout")
	}

	client.pendingSubsMu.Lock()
	pending := len(client.pendingSubs)
	client.pendingSubsMu.Unlock()
	if pending != 0 {
		t.Errorf("expected no pending subscriptions, got %d", pending)
	}
}
