package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"maxxit/apps/worker/internal/failure"
)

// DeploymentError is one per-deployment failure as reported by the executor.
type DeploymentError struct {
	DeploymentID string `json:"deploymentId"`
	Error        string `json:"error"`
	Reason       string `json:"reason"`
}

type Result struct {
	Success          bool              `json:"success"`
	PositionsCreated int               `json:"positionsCreated"`
	Errors           []DeploymentError `json:"errors"`
	Message          string            `json:"message"`
}

type Client struct {
	apiKey  string
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
}

// NewClient builds an executor client. ratePerSec <= 0 disables pacing.
func NewClient(baseURL, apiKey string, timeout time.Duration, ratePerSec float64) *Client {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	limit := rate.Inf
	if ratePerSec > 0 {
		limit = rate.Limit(ratePerSec)
	}
	return &Client{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(limit, 1),
	}
}

func (c *Client) SetBaseURL(url string) {
	c.baseURL = strings.TrimRight(url, "/")
}

// Execute asks the executor to place the trade for every deployment of the
// signal's agent on the given venue. A non-2xx response whose body decodes is
// returned as a Result; only unreadable responses are errors.
func (c *Client) Execute(ctx context.Context, signalID, venue string) (*Result, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("executor rate limit wait: %w", err)
	}

	body, _ := json.Marshal(map[string]string{
		"signalId": signalID,
		"venue":    venue,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/execute", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read executor response: %w", err)
	}

	var result Result
	if err := json.Unmarshal(raw, &result); err != nil {
		if resp.StatusCode >= 300 {
			return nil, fmt.Errorf("executor api error: %d %s", resp.StatusCode, strings.TrimSpace(string(raw)))
		}
		return nil, fmt.Errorf("decode executor response: %w", err)
	}

	if resp.StatusCode >= 300 && len(result.Errors) == 0 && result.PositionsCreated == 0 {
		msg := result.Message
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		result.Errors = []DeploymentError{{Error: fmt.Sprintf("%d %s", resp.StatusCode, msg)}}
	}
	return &result, nil
}

// Outcome converts a call result into the classifier's input.
func Outcome(res *Result, err error) failure.TradeOutcome {
	if err != nil {
		return failure.TradeOutcome{TransportErr: err}
	}
	out := failure.TradeOutcome{PositionsCreated: res.PositionsCreated}
	for _, e := range res.Errors {
		out.Failures = append(out.Failures, failure.Attempt{
			DeploymentID: e.DeploymentID,
			Message:      e.Error,
			Category:     failure.Normalize(e.Reason, e.Error),
		})
	}
	return out
}
