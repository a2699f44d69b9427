package alerting

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func sampleNote() Notification {
	return Notification{
		PoolID:        "747c1d2a-c668-4682-b9f9-296708a3dd90",
		ComputedAt:    time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
		RiskScore:     72.345,
		RiskLevel:     "high",
		PreviousLevel: "medium",
		Volatility:    0.0312,
		SharpeRatio:   -0.42,
		MaxDrawdown:   0.185,
		LatestTVL:     1234567.89,
		LatestAPY:     18.5,
	}
}

func TestTelegramNotifierSuccess(t *testing.T) {
	received := make(map[string]string)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "/bottoken/sendMessage") {
			t.Errorf("path should target sendMessage, got %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Errorf("decode request body: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "chat", srv.URL, time.Second, testLogger())
	if err := notifier.Notify(context.Background(), sampleNote()); err != nil {
		t.Fatalf("notify should succeed: %v", err)
	}

	if received["chat_id"] != "chat" {
		t.Fatalf("unexpected chat_id: %#v", received)
	}
	if !strings.Contains(received["text"], "747c1d2a-c668-4682-b9f9-296708a3dd90") {
		t.Fatalf("text should name the pool: %q", received["text"])
	}
}

func TestTelegramNotifierError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": false, "description": "chat not found"})
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "chat", srv.URL, time.Second, testLogger())
	err := notifier.Notify(context.Background(), sampleNote())
	if err == nil {
		t.Fatal("ok=false should fail")
	}
	if !strings.Contains(err.Error(), "chat not found") {
		t.Fatalf("error should carry the description: %v", err)
	}
}

func TestTelegramNotifierHTTPStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "chat", srv.URL, time.Second, testLogger())
	if err := notifier.Notify(context.Background(), sampleNote()); err == nil {
		t.Fatal("non-2xx status should fail")
	}
}

func TestRenderMessage(t *testing.T) {
	text := renderMessage(sampleNote())

	for _, want := range []string{
		"Risk: high (was medium), score 72.3",
		"Volatility: 3.120%",
		"Sharpe: -0.420",
		"Max drawdown: 18.50%",
		"TVL: 1234568 USD",
		"APY: 18.50%",
		"2024-03-01T12:00:00Z",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("message missing %q:\n%s", want, text)
		}
	}

	note := sampleNote()
	note.PreviousLevel = ""
	note.LatestTVL = 0
	text = renderMessage(note)
	if strings.Contains(text, "was") || strings.Contains(text, "TVL") {
		t.Fatalf("optional lines should be omitted:\n%s", text)
	}
}

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}
