package advisory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ignite/smart-import/internal/pkg/httpretry"
)

// HTTPAdvisor posts the request as JSON to an external analysis endpoint
// and expects a Report back.
type HTTPAdvisor struct {
	client   httpretry.HTTPDoer
	endpoint string
	now      func() time.Time
}

// NewHTTPAdvisor uses a retrying client when client is nil.
func NewHTTPAdvisor(client httpretry.HTTPDoer, endpoint string) *HTTPAdvisor {
	if client == nil {
		client = httpretry.New(nil, httpretry.Options{MaxRetries: 2, BaseDelay: 500 * time.Millisecond})
	}
	return &HTTPAdvisor{client: client, endpoint: endpoint, now: time.Now}
}

func (h *HTTPAdvisor) Name() string { return "http" }

func (h *HTTPAdvisor) Analyze(ctx context.Context, req Request) (*Report, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("%w: marshal request: %w", ErrUnavailable, err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := h.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w: status %d: %s", ErrUnavailable, resp.StatusCode, bytes.TrimSpace(snippet))
	}

	var r Report
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&r); err != nil {
		return nil, fmt.Errorf("%w: decode report: %w", ErrUnavailable, err)
	}
	if !r.Status.valid() {
		return nil, fmt.Errorf("%w: invalid status %q", ErrUnavailable, r.Status)
	}
	r.Platform = req.Platform
	r.Provider = h.Name()
	if r.GeneratedAt.IsZero() {
		r.GeneratedAt = h.now().UTC()
	}
	return &r, nil
}
