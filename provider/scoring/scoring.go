// Package scoring is an HTTP client for the external Model Scoring Service
// that the Model Selector (C5) consults for the "score" and
// "predicted_length" terms of its per-model ranking formula.
package scoring

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// ErrUnavailable wraps a transport or non-2xx failure talking to the scoring
// service. Callers translate this to ModelScoringUnavailable.
var ErrUnavailable = errors.New("scoring: service unavailable")

// Inference is one model's score and predicted completion length for a
// given prompt.
type Inference struct {
	ModelID         string  `json:"model_id"`
	Score           float64 `json:"score"`
	PredictedLength float64 `json:"predicted_length"`
}

// Client talks to a deployed scoring service (see dummy_model_scoring_service.py
// for the reference wire shape this client targets).
type Client struct {
	baseURL string
	http    *http.Client
}

// New creates a scoring Client against baseURL (no trailing slash required).
func New(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// HealthCheck reports whether the scoring service is reachable. diagnose
// calls it after a failed /infer request so the returned error says
// whether the service itself is down; the failed request is not retried.
func (c *Client) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: health check returned %d", ErrUnavailable, resp.StatusCode)
	}
	return nil
}

// GetInferences scores each candidate model against prompt, batching
// requests at batchSize models per call.
func (c *Client) GetInferences(ctx context.Context, modelsToScore []string, prompt string, batchSize int) ([]Inference, error) {
	if batchSize <= 0 {
		batchSize = len(modelsToScore)
	}
	var out []Inference
	for start := 0; start < len(modelsToScore); start += batchSize {
		end := start + batchSize
		if end > len(modelsToScore) {
			end = len(modelsToScore)
		}
		batch, err := c.infer(ctx, modelsToScore[start:end], prompt)
		if err != nil {
			return nil, err
		}
		out = append(out, batch...)
	}
	return out, nil
}

func (c *Client) infer(ctx context.Context, models []string, prompt string) ([]Inference, error) {
	q := url.Values{}
	q.Set("prompts", prompt)
	q.Set("batch_size", strconv.Itoa(len(models)))
	for _, m := range models {
		q.Add("models_to_score", m)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/infer?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, c.diagnose(ctx, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, c.diagnose(ctx, fmt.Errorf("scoring service returned %d", resp.StatusCode))
	}

	var body struct {
		Inferences []Inference `json:"inferences"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", ErrUnavailable, err)
	}
	return body.Inferences, nil
}

// diagnose calls HealthCheck so the returned error distinguishes "the
// service is down" from "this particular request failed", matching the
// reference client's behavior.
func (c *Client) diagnose(ctx context.Context, cause error) error {
	if healthErr := c.HealthCheck(ctx); healthErr != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, healthErr)
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, cause)
}
