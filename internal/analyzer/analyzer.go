// Package analyzer scores content items through an OpenAI-compatible chat
// completion endpoint and maps the structured reply onto analysis results.
package analyzer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/feedhawk/signalscout/internal/models"
)

const systemPrompt = `You are a trading signal extractor. Given a social media post from a trader, respond with a single JSON object and nothing else:
{"symbol": "<ticker or empty>", "direction": "long"|"short"|"none", "sentiment": <-1.0..1.0>, "entry_price": <number or null>, "stop_loss": <number or null>, "take_profit": [<numbers>], "confidence": <0.0..1.0>}
Use direction "none" when the post contains no actionable trade idea.`

// Client calls the analysis API
type Client struct {
	apiURL         string
	apiKey         string
	model          string
	maxRetries     int
	retryDelayBase time.Duration
	httpClient     *http.Client
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// verdict is the model's structured reply
type verdict struct {
	Symbol     string    `json:"symbol"`
	Direction  string    `json:"direction"`
	Sentiment  float64   `json:"sentiment"`
	EntryPrice *float64  `json:"entry_price"`
	StopLoss   *float64  `json:"stop_loss"`
	TakeProfit []float64 `json:"take_profit"`
	Confidence float64   `json:"confidence"`
}

// NewClient creates a new analysis client
func NewClient(apiURL, apiKey, model string, timeout time.Duration, maxRetries int, retryDelayBase time.Duration) *Client {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	if retryDelayBase <= 0 {
		retryDelayBase = time.Second
	}
	return &Client{
		apiURL:         apiURL,
		apiKey:         apiKey,
		model:          model,
		maxRetries:     maxRetries,
		retryDelayBase: retryDelayBase,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Analyze scores one content item. ok=false means the item carries no
// tradable idea (direction none or missing price levels) and should be
// dropped without recording a rejection.
func (c *Client) Analyze(ctx context.Context, item models.ContentItem) (models.AnalysisResult, bool, error) {
	body, err := json.Marshal(chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: item.Text},
		},
		Temperature: 0,
	})
	if err != nil {
		return models.AnalysisResult{}, false, fmt.Errorf("failed to encode request: %w", err)
	}

	resp, err := c.doRequest(ctx, body)
	if err != nil {
		return models.AnalysisResult{}, false, err
	}
	defer resp.Body.Close()

	var cr chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return models.AnalysisResult{}, false, fmt.Errorf("failed to decode response: %w", err)
	}
	if len(cr.Choices) == 0 {
		return models.AnalysisResult{}, false, fmt.Errorf("analysis API returned no choices")
	}

	return parseVerdict(item, cr.Choices[0].Message.Content)
}

// doRequest posts the completion request with retry logic. Upstream rate
// limiting is surfaced as models.ErrRateLimited and never retried locally.
func (c *Client) doRequest(ctx context.Context, body []byte) (*http.Response, error) {
	var lastErr error

	for i := 0; i < c.maxRetries; i++ {
		req, err := http.NewRequestWithContext(ctx, "POST", c.apiURL+"/chat/completions", bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+c.apiKey)

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
			return nil, fmt.Errorf("analysis API status %d", resp.StatusCode)
		}

		return resp, nil
	}

	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

// parseVerdict maps the model's JSON reply onto an AnalysisResult. Replies
// wrapped in markdown code fences are tolerated.
func parseVerdict(item models.ContentItem, reply string) (models.AnalysisResult, bool, error) {
	reply = strings.TrimSpace(reply)
	reply = strings.TrimPrefix(reply, "```json")
	reply = strings.TrimPrefix(reply, "```")
	reply = strings.TrimSuffix(reply, "```")
	reply = strings.TrimSpace(reply)

	var v verdict
	if err := json.Unmarshal([]byte(reply), &v); err != nil {
		return models.AnalysisResult{}, false, fmt.Errorf("unparseable verdict: %w", err)
	}

	var dir models.Direction
	switch v.Direction {
	case "long":
		dir = models.DirectionLong
	case "short":
		dir = models.DirectionShort
	case "none", "":
		return models.AnalysisResult{}, false, nil
	default:
		return models.AnalysisResult{}, false, fmt.Errorf("unknown direction %q", v.Direction)
	}

	if v.EntryPrice == nil || v.StopLoss == nil || len(v.TakeProfit) == 0 {
		return models.AnalysisResult{}, false, nil
	}

	levels := make([]float64, 0, 2+len(v.TakeProfit))
	levels = append(levels, *v.EntryPrice, *v.StopLoss)
	levels = append(levels, v.TakeProfit...)

	res := models.AnalysisResult{
		AccountID:   item.AccountID,
		ContentID:   item.ID,
		Symbol:      strings.ToUpper(strings.TrimSpace(v.Symbol)),
		Modality:    item.Modality,
		Sentiment:   v.Sentiment,
		PriceLevels: levels,
		Direction:   dir,
		Confidence:  v.Confidence,
		Timestamp:   time.Now(),
	}
	if err := res.Validate(); err != nil {
		return models.AnalysisResult{}, false, fmt.Errorf("invalid verdict: %w", err)
	}
	return res, true, nil
}
