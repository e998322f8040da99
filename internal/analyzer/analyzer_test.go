package analyzer

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/feedhawk/signalscout/internal/models"
)

func testItem() models.ContentItem {
	return models.ContentItem{
		ID:        "tweet-1",
		AccountID: "acct-1",
		Text:      "Long $BTC here, stop 95k, targets 112k and 120k",
		Modality:  models.ModalityText,
		PostedAt:  time.Now(),
	}
}

func TestParseVerdict_Long(t *testing.T) {
	reply := `{"symbol": "btcusdt", "direction": "long", "sentiment": 0.8,
		"entry_price": 100000, "stop_loss": 95000, "take_profit": [112000, 120000],
		"confidence": 0.85}`

	res, ok, err := parseVerdict(testItem(), reply)
	if err != nil {
		t.Fatalf("parseVerdict failed: %v", err)
	}
	if !ok {
		t.Fatal("expected a tradable verdict")
	}
	if res.Symbol != "BTCUSDT" {
		t.Errorf("expected normalized symbol BTCUSDT, got %q", res.Symbol)
	}
	if res.Direction != models.DirectionLong {
		t.Errorf("expected long, got %q", res.Direction)
	}
	want := []float64{100000, 95000, 112000, 120000}
	if len(res.PriceLevels) != len(want) {
		t.Fatalf("expected %d levels, got %v", len(want), res.PriceLevels)
	}
	for i, lv := range want {
		if res.PriceLevels[i] != lv {
			t.Errorf("level[%d]: expected %v, got %v", i, lv, res.PriceLevels[i])
		}
	}
	if res.ContentID != "tweet-1" || res.AccountID != "acct-1" {
		t.Errorf("verdict must inherit item identity, got %q/%q", res.ContentID, res.AccountID)
	}
}

func TestParseVerdict_CodeFence(t *testing.T) {
	reply := "```json\n" + `{"symbol": "ETH", "direction": "short", "sentiment": -0.5,
		"entry_price": 4000, "stop_loss": 4200, "take_profit": [3500],
		"confidence": 0.8}` + "\n```"

	res, ok, err := parseVerdict(testItem(), reply)
	if err != nil {
		t.Fatalf("parseVerdict failed: %v", err)
	}
	if !ok || res.Direction != models.DirectionShort {
		t.Fatalf("expected short verdict, got ok=%v res=%+v", ok, res)
	}
}

func TestParseVerdict_NotTradable(t *testing.T) {
	tests := []struct {
		name  string
		reply string
	}{
		{"direction none", `{"symbol": "", "direction": "none", "sentiment": 0.1, "confidence": 0.9}`},
		{"no entry", `{"symbol": "BTC", "direction": "long", "sentiment": 0.5, "stop_loss": 95, "take_profit": [110], "confidence": 0.9}`},
		{"no stop", `{"symbol": "BTC", "direction": "long", "sentiment": 0.5, "entry_price": 100, "take_profit": [110], "confidence": 0.9}`},
		{"no targets", `{"symbol": "BTC", "direction": "long", "sentiment": 0.5, "entry_price": 100, "stop_loss": 95, "take_profit": [], "confidence": 0.9}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ok, err := parseVerdict(testItem(), tt.reply)
			if err != nil {
				t.Fatalf("parseVerdict failed: %v", err)
			}
			if ok {
				t.Error("expected non-tradable verdict")
			}
		})
	}
}

func TestParseVerdict_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		reply string
	}{
		{"not json", "I think this looks bullish!"},
		{"bad direction", `{"direction": "sideways", "entry_price": 100, "stop_loss": 95, "take_profit": [110], "confidence": 0.9}`},
		{"confidence out of range", `{"symbol": "BTC", "direction": "long", "entry_price": 100, "stop_loss": 95, "take_profit": [110], "confidence": 1.5}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, err := parseVerdict(testItem(), tt.reply); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestAnalyze(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("unexpected auth header %q", got)
		}
		verdict := `{\"symbol\": \"BTC\", \"direction\": \"long\", \"sentiment\": 0.7, \"entry_price\": 100, \"stop_loss\": 95, \"take_profit\": [115], \"confidence\": 0.9}`
		fmt.Fprintf(w, `{"choices": [{"message": {"role": "assistant", "content": "%s"}}]}`, verdict)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "test-key", "gpt-4o-mini", 5*time.Second, 3, 10*time.Millisecond)
	res, ok, err := c.Analyze(context.Background(), testItem())
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	if !ok {
		t.Fatal("expected tradable result")
	}
	if res.Symbol != "BTC" || res.Confidence != 0.9 {
		t.Errorf("unexpected result %+v", res)
	}
}

func TestAnalyze_RetriesServerErrors(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 2 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		verdict := `{\"symbol\": \"BTC\", \"direction\": \"long\", \"sentiment\": 0.7, \"entry_price\": 100, \"stop_loss\": 95, \"take_profit\": [115], \"confidence\": 0.9}`
		fmt.Fprintf(w, `{"choices": [{"message": {"role": "assistant", "content": "%s"}}]}`, verdict)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "test-key", "gpt-4o-mini", 5*time.Second, 3, time.Millisecond)
	_, ok, err := c.Analyze(context.Background(), testItem())
	if err != nil {
		t.Fatalf("expected success after retry, got %v", err)
	}
	if !ok {
		t.Fatal("expected tradable result")
	}
	if calls != 2 {
		t.Errorf("expected 2 attempts, got %d", calls)
	}
}

func TestAnalyze_RateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "test-key", "gpt-4o-mini", 5*time.Second, 3, 10*time.Millisecond)
	if _, _, err := c.Analyze(context.Background(), testItem()); err != models.ErrRateLimited {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
}
