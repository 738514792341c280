package scoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/prodk123/Customer-Churn-Prediction-System-ML-Embedded/schema"
)

// HTTPProvider delegates scoring to a remote model server.
//
// Request:  POST {"records": [{"<column>": "<value>", ...}, ...]}
// Response: {"predictions": [{"churn_probability": 0.42, "churn_label": 0}, ...]}
type HTTPProvider struct {
	url    string
	client *http.Client
}

func NewHTTPProvider(url string, timeout time.Duration) *HTTPProvider {
	return &HTTPProvider{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

type scoreRequest struct {
	Records []schema.CustomerRecord `json:"records"`
}

// remoteScore keeps an absent churn_probability distinguishable from 0.
type remoteScore struct {
	Probability *float64 `json:"churn_probability"`
	Label       *int     `json:"churn_label"`
}

type scoreResponse struct {
	Predictions []remoteScore `json:"predictions"`
}

func (p *HTTPProvider) Score(ctx context.Context, records []schema.CustomerRecord) ([]Score, error) {
	body, err := json.Marshal(scoreRequest{Records: records})
	if err != nil {
		return nil, fmt.Errorf("encode scoring request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build scoring request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call model server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("model server returned %d: %s", resp.StatusCode, bytes.TrimSpace(snippet))
	}

	var out scoreResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode scoring response: %w", err)
	}

	scores := make([]Score, len(out.Predictions))
	for i, p := range out.Predictions {
		if p.Probability == nil {
			return nil, fmt.Errorf("%w: row %d: missing churn_probability", ErrInvalidOutput, i+1)
		}
		scores[i] = Score{Probability: *p.Probability, Label: p.Label}
	}
	return scores, nil
}
