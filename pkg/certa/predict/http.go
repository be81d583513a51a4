package predict

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/cognicore/certa/pkg/certa/record"
)

// HTTPPredictor calls a remote model server that scores record pairs.
//
// Request:  {"pairs": [{"ltable_id": "0", "ltable_name": "...", "rtable_id": "3", ...}]}
// Response: {"predictions": [{"nomatch_score": 0.1, "match_score": 0.9}]}
type HTTPPredictor struct {
	Endpoint string
	APIKey   string

	HTTPClient *http.Client
	limiter    *rate.Limiter
}

// HTTPOptions configures an HTTPPredictor
type HTTPOptions struct {
	APIKey string
	// RequestsPerSecond throttles calls; <= 0 disables throttling.
	RequestsPerSecond float64
	Timeout           time.Duration
}

type predictRequest struct {
	Pairs []map[string]string `json:"pairs"`
}

type predictResponse struct {
	Predictions []Prediction `json:"predictions"`
	Error       *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// NewHTTPPredictor creates a predictor for the given endpoint.
func NewHTTPPredictor(endpoint string, opts HTTPOptions) *HTTPPredictor {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	p := &HTTPPredictor{
		Endpoint:   endpoint,
		APIKey:     opts.APIKey,
		HTTPClient: &http.Client{Timeout: timeout},
	}
	if opts.RequestsPerSecond > 0 {
		p.limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), 1)
	}
	return p
}

// Predict implements Predictor. Failures are returned as-is, never retried.
func (p *HTTPPredictor) Predict(ctx context.Context, pairs []record.Pair) ([]Prediction, error) {
	if p.Endpoint == "" {
		return nil, fmt.Errorf("predict: endpoint required")
	}
	if len(pairs) == 0 {
		return nil, nil
	}

	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter: %w", err)
		}
	}

	body := predictRequest{Pairs: make([]map[string]string, len(pairs))}
	for i, pair := range pairs {
		row := make(map[string]string)
		for _, f := range pair.Fields() {
			row[f.Name] = f.Value
		}
		body.Pairs[i] = row
	}
	reqBody, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.Endpoint, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.APIKey)
	}

	resp, err := p.httpClient().Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("model server error (status %d): %s", resp.StatusCode, string(raw))
	}

	var payload predictResponse
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	if payload.Error != nil {
		return nil, fmt.Errorf("model server error: %s", payload.Error.Message)
	}
	if len(payload.Predictions) != len(pairs) {
		return nil, fmt.Errorf("model server returned %d predictions for %d pairs", len(payload.Predictions), len(pairs))
	}
	return payload.Predictions, nil
}

func (p *HTTPPredictor) httpClient() *http.Client {
	if p.HTTPClient != nil {
		return p.HTTPClient
	}
	return &http.Client{Timeout: 60 * time.Second}
}
