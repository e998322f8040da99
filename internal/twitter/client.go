// Package twitter fetches new posts for monitored accounts via the v2 API.
package twitter

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/feedhawk/signalscout/internal/models"
)

// Client provides access to the Twitter v2 API
type Client struct {
	apiURL         string
	bearerToken    string
	maxResults     int
	maxRetries     int
	retryDelayBase time.Duration
	httpClient     *http.Client
}

// tweet represents a single tweet in a v2 timeline response
type tweet struct {
	ID          string `json:"id"`
	Text        string `json:"text"`
	CreatedAt   string `json:"created_at"`
	Attachments struct {
		MediaKeys []string `json:"media_keys"`
	} `json:"attachments"`
}

// media represents an expanded media object
type media struct {
	MediaKey string `json:"media_key"`
	Type     string `json:"type"` // photo, video, animated_gif
	URL      string `json:"url"`
}

// timelineResponse is the envelope for GET /users/:id/tweets
type timelineResponse struct {
	Data     []tweet `json:"data"`
	Includes struct {
		Media []media `json:"media"`
	} `json:"includes"`
	Meta struct {
		NewestID    string `json:"newest_id"`
		ResultCount int    `json:"result_count"`
	} `json:"meta"`
}

// NewClient creates a new Twitter client
func NewClient(apiURL, bearerToken string, maxResults int, timeout time.Duration, maxRetries int, retryDelayBase time.Duration) *Client {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	if retryDelayBase <= 0 {
		retryDelayBase = time.Second
	}
	return &Client{
		apiURL:         apiURL,
		bearerToken:    bearerToken,
		maxResults:     maxResults,
		maxRetries:     maxRetries,
		retryDelayBase: retryDelayBase,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// FetchNewContent retrieves tweets posted since the account's cursor,
// oldest first. The returned cursor is the newest tweet ID seen; it is empty
// when no new tweets exist. The account handle is the upstream user ID.
func (c *Client) FetchNewContent(ctx context.Context, acct models.Account) ([]models.ContentItem, string, error) {
	u, err := url.Parse(fmt.Sprintf("%s/users/%s/tweets", c.apiURL, url.PathEscape(acct.Handle)))
	if err != nil {
		return nil, "", fmt.Errorf("failed to parse URL: %w", err)
	}

	q := u.Query()
	q.Set("max_results", fmt.Sprintf("%d", c.maxResults))
	q.Set("tweet.fields", "created_at,attachments")
	q.Set("expansions", "attachments.media_keys")
	q.Set("media.fields", "type,url")
	if acct.Cursor != "" {
		q.Set("since_id", acct.Cursor)
	}
	u.RawQuery = q.Encode()

	resp, err := c.doRequest(ctx, u.String())
	if err != nil {
		return nil, "", fmt.Errorf("failed to fetch timeline: %w", err)
	}
	defer resp.Body.Close()

	var tl timelineResponse
	if err := json.NewDecoder(resp.Body).Decode(&tl); err != nil {
		return nil, "", fmt.Errorf("failed to decode timeline: %w", err)
	}
	if len(tl.Data) == 0 {
		return nil, "", nil
	}

	mediaByKey := make(map[string]media, len(tl.Includes.Media))
	for _, m := range tl.Includes.Media {
		mediaByKey[m.MediaKey] = m
	}

	// The API returns newest first; flip to oldest first so downstream
	// processing follows posting order.
	items := make([]models.ContentItem, 0, len(tl.Data))
	for i := len(tl.Data) - 1; i >= 0; i-- {
		tw := tl.Data[i]
		item := models.ContentItem{
			ID:        tw.ID,
			AccountID: acct.ID,
			Text:      tw.Text,
			Modality:  models.ModalityText,
		}
		if ts, err := time.Parse(time.RFC3339, tw.CreatedAt); err == nil {
			item.PostedAt = ts
		}
		for _, key := range tw.Attachments.MediaKeys {
			m, ok := mediaByKey[key]
			if !ok {
				continue
			}
			switch m.Type {
			case "photo":
				item.Modality = models.ModalityImage
			case "video", "animated_gif":
				item.Modality = models.ModalityVideo
			}
			if m.URL != "" {
				item.MediaURL = m.URL
			}
			break
		}
		items = append(items, item)
	}

	newCursor := tl.Meta.NewestID
	if newCursor == "" {
		newCursor = items[len(items)-1].ID
	}
	return items, newCursor, nil
}

// doRequest performs HTTP request with retry logic. Upstream rate limiting
// is surfaced as models.ErrRateLimited and never retried locally.
func (c *Client) doRequest(ctx context.Context, urlStr string) (*http.Response, error) {
	var lastErr error

	for i := 0; i < c.maxRetries; i++ {
		req, err := http.NewRequestWithContext(ctx, "GET", urlStr, nil)
		if err != nil {
			return nil, err
		}

		req.Header.Set("Accept", "application/json")
		req.Header.Set("Authorization", "Bearer "+c.bearerToken)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			time.Sleep(c.retryDelayBase * time.Duration(i+1))
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			resp.Body.Close()
			return nil, models.ErrRateLimited
		}

		if resp.StatusCode >= 500 {
			resp.Body.Close()
			lastErr = fmt.Errorf("server error: %d", resp.StatusCode)
			time.Sleep(c.retryDelayBase * time.Duration(i+1))
			continue
		}

		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return nil, fmt.Errorf("unexpected status: %d", resp.StatusCode)
		}

		return resp, nil
	}

	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}
