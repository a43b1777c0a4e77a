package bridge

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"live-stream-manager/internal/fabric/fabrictest"
)

func TestServer_round_trip(t *testing.T) {
	fake := fabrictest.New()
	reloads := make(chan struct{}, 1)
	srv := httptest.NewServer(NewServer(ServerConfig{
		Executor: fake,
		Region:   fake,
		Setup: func(b *Bridge) {
			b.On(OpReload, func(context.Context, Message) { reloads <- struct{}{} })
		},
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	req := map[string]any{
		"type":         "ElvFrameRequest",
		"requestId":    "abc",
		"calledMethod": "UseRegion",
		"args":         map[string]any{"region": "eu-west"},
	}
	if err := conn.WriteJSON(req); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}
	var reply Message
	if err := conn.ReadJSON(&reply); err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	if reply.Type != TypeResponse || reply.RequestID != "abc" {
		t.Errorf("unexpected reply %+v", reply)
	}
	if fake.Region() != "eu-west" {
		t.Errorf("Region = %q", fake.Region())
	}

	if err := conn.WriteJSON(map[string]any{"type": "ElvFrameRequest", "requestId": "r", "operation": "Reload"}); err != nil {
		t.Fatal(err)
	}
	select {
	case <-reloads:
	case <-time.After(5 * time.Second):
		t.Fatal("reload callback did not run")
	}

	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	conn.Close()
	deadline := time.Now().Add(5 * time.Second)
	for fake.Region() != "" && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if fake.Region() != "" {
		t.Error("region should be reset when the frame disconnects")
	}
}

func TestOriginChecker(t *testing.T) {
	if OriginChecker(nil) != nil {
		t.Error("empty allowlist should defer to the default check")
	}

	check := OriginChecker([]string{"https://Admin.Example.com/", " "})
	tests := []struct {
		origin string
		want   bool
	}{
		{"", true},
		{"https://admin.example.com", true},
		{"https://evil.example.com", false},
		{"http://admin.example.com", false},
		{"::not a url", false},
	}
	for _, tt := range tests {
		r := httptest.NewRequest(http.MethodGet, "/frame", nil)
		if tt.origin != "" {
			r.Header.Set("Origin", tt.origin)
		}
		if got := check(r); got != tt.want {
			t.Errorf("origin %q = %v, want %v", tt.origin, got, tt.want)
		}
	}

	r := httptest.NewRequest(http.MethodGet, "/frame", nil)
	r.Header.Set("Origin", "https://anything.test")
	if !OriginChecker([]string{"*"})(r) {
		t.Error("wildcard should admit every origin")
	}
}
