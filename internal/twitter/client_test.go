package twitter

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/feedhawk/signalscout/internal/models"
)

const timelineJSON = `{
  "data": [
    {"id": "103", "text": "BTC long setup", "created_at": "2026-08-29T12:00:00Z",
     "attachments": {"media_keys": ["m1"]}},
    {"id": "102", "text": "chart incoming", "created_at": "2026-08-29T11:00:00Z"},
    {"id": "101", "text": "gm", "created_at": "2026-08-29T10:00:00Z"}
  ],
  "includes": {"media": [{"media_key": "m1", "type": "photo", "url": "https://pbs.example/m1.jpg"}]},
  "meta": {"newest_id": "103", "result_count": 3}
}`

func TestFetchNewContent(t *testing.T) {
	var gotAuth, gotSinceID string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotSinceID = r.URL.Query().Get("since_id")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(timelineJSON))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "secret", 20, 5*time.Second, 3, 10*time.Millisecond)
	acct := models.Account{ID: "acct-1", Handle: "8842", Cursor: "100"}

	items, cursor, err := c.FetchNewContent(context.Background(), acct)
	if err != nil {
		t.Fatalf("FetchNewContent failed: %v", err)
	}

	if gotAuth != "Bearer secret" {
		t.Errorf("unexpected auth header %q", gotAuth)
	}
	if gotSinceID != "100" {
		t.Errorf("expected since_id=100, got %q", gotSinceID)
	}
	if cursor != "103" {
		t.Errorf("expected cursor 103, got %q", cursor)
	}

	if len(items) != 3 {
		t.Fatalf("expected 3 items, got %d", len(items))
	}
	// Oldest first.
	if items[0].ID != "101" || items[2].ID != "103" {
		t.Errorf("items not in posting order: %v, %v, %v", items[0].ID, items[1].ID, items[2].ID)
	}
	if items[0].Modality != models.ModalityText {
		t.Errorf("expected text modality, got %q", items[0].Modality)
	}
	if items[2].Modality != models.ModalityImage {
		t.Errorf("expected image modality for tweet with photo, got %q", items[2].Modality)
	}
	if items[2].MediaURL != "https://pbs.example/m1.jpg" {
		t.Errorf("unexpected media url %q", items[2].MediaURL)
	}
	if items[0].AccountID != "acct-1" {
		t.Errorf("items must carry the registry account id, got %q", items[0].AccountID)
	}
}

func TestFetchNewContent_Empty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"meta": {"result_count": 0}}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "secret", 20, 5*time.Second, 3, 10*time.Millisecond)
	items, cursor, err := c.FetchNewContent(context.Background(), models.Account{ID: "a", Handle: "1"})
	if err != nil {
		t.Fatalf("FetchNewContent failed: %v", err)
	}
	if len(items) != 0 || cursor != "" {
		t.Errorf("expected no items and empty cursor, got %d items, cursor %q", len(items), cursor)
	}
}

func TestFetchNewContent_RateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "secret", 20, 5*time.Second, 3, 10*time.Millisecond)
	_, _, err := c.FetchNewContent(context.Background(), models.Account{ID: "a", Handle: "1"})
	if !errors.Is(err, models.ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
}

func TestFetchNewContent_RetriesServerErrors(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(timelineJSON))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "secret", 20, 5*time.Second, 3, time.Millisecond)
	items, _, err := c.FetchNewContent(context.Background(), models.Account{ID: "a", Handle: "1"})
	if err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 attempts, got %d", calls)
	}
	if len(items) != 3 {
		t.Errorf("expected 3 items, got %d", len(items))
	}

	// A single attempt is not enough against the same failure pattern.
	calls = 0
	c = NewClient(srv.URL, "secret", 20, 5*time.Second, 1, time.Millisecond)
	if _, _, err := c.FetchNewContent(context.Background(), models.Account{ID: "a", Handle: "1"}); err == nil {
		t.Fatal("expected error with max_retries=1")
	}
	if calls != 1 {
		t.Errorf("expected 1 attempt with max_retries=1, got %d", calls)
	}
}

func TestFetchNewContent_AuthFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "bad", 20, 5*time.Second, 3, 10*time.Millisecond)
	_, _, err := c.FetchNewContent(context.Background(), models.Account{ID: "a", Handle: "1"})
	if err == nil {
		t.Fatal("expected error for 401 response")
	}
	if errors.Is(err, models.ErrRateLimited) {
		t.Fatal("401 must not map to ErrRateLimited")
	}
}
