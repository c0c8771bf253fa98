package usage

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/venturekit/planner/internal/domain"
)

// HTTPReader fetches usage counters from the billing service.
type HTTPReader struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewHTTPReader creates a billing usage client.
func NewHTTPReader(baseURL, apiKey string, timeout time.Duration) *HTTPReader {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPReader{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
	}
}

func (r *HTTPReader) Snapshot(ctx context.Context) (domain.UsageSnapshot, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.baseURL+"/v1/billing/usage", nil)
	if err != nil {
		return domain.UsageSnapshot{}, fmt.Errorf("creating usage request: %w", err)
	}
	if r.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+r.apiKey)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return domain.UsageSnapshot{}, fmt.Errorf("fetching usage: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.UsageSnapshot{}, fmt.Errorf("reading usage response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return domain.UsageSnapshot{}, fmt.Errorf("billing api error (%d): %s", resp.StatusCode, string(body))
	}

	var snap domain.UsageSnapshot
	if err := json.Unmarshal(body, &snap); err != nil {
		return domain.UsageSnapshot{}, fmt.Errorf("parsing usage response: %w", err)
	}
	return snap, nil
}
