package advisory

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/smart-import/internal/config"
	"github.com/ignite/smart-import/internal/datanorm"
	"github.com/ignite/smart-import/internal/pkg/httpretry"
)

func sampleRequest() Request {
	return Request{
		ClientID:      "client-1",
		Platform:      datanorm.PlatformInstagram,
		ImportedCount: 30,
		DateRange:     &datanorm.DateRange{Start: "2024-03-01", End: "2024-03-30"},
		ImportTypes:   []datanorm.ContentKind{datanorm.KindReach},
		FileName:      "reach.csv",
		Totals:        map[datanorm.ContentKind]map[string]float64{datanorm.KindReach: {"reach": 1200}},
	}
}

// =============================================================================
// LOCAL
// =============================================================================

func TestLocalAdvisorHealthy(t *testing.T) {
	r := LocalAdvisor{}.Report(sampleRequest())
	assert.Equal(t, StatusSuccess, r.Status)
	assert.Equal(t, "local", r.Provider)
	assert.Equal(t, 30, r.Stats["days"])
	assert.Contains(t, r.Details, "Date range: 2024-03-01 to 2024-03-30 (30 days)")
	assert.Empty(t, r.Issues)
}

func TestLocalAdvisorFindings(t *testing.T) {
	req := sampleRequest()
	req.FailedCount = 2
	req.DateRange = &datanorm.DateRange{Start: "2024-03-01", End: "2024-03-03"}
	req.Totals[datanorm.KindReach]["reach"] = 0

	r := LocalAdvisor{}.Report(req)
	assert.Equal(t, StatusWarning, r.Status)
	assert.Contains(t, r.Issues, "2 records failed to commit")
	assert.Contains(t, r.Issues, "All metric totals for reach are zero")
	assert.NotEmpty(t, r.Recommendations)

	empty := LocalAdvisor{}.Report(Request{})
	assert.Equal(t, StatusError, empty.Status)
}

// =============================================================================
// BEDROCK
// =============================================================================

type fakeInvoker struct {
	body  string
	err   error
	input *bedrockruntime.InvokeModelInput
}

func (f *fakeInvoker) InvokeModel(_ context.Context, in *bedrockruntime.InvokeModelInput, _ ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error) {
	f.input = in
	if f.err != nil {
		return nil, f.err
	}
	return &bedrockruntime.InvokeModelOutput{Body: []byte(f.body)}, nil
}

func bedrockBody(t *testing.T, text string) string {
	t.Helper()
	b, err := json.Marshal(map[string]any{
		"content":     []map[string]string{{"type": "text", "text": text}},
		"stop_reason": "end_turn",
	})
	require.NoError(t, err)
	return string(b)
}

func TestBedrockAdvisor(t *testing.T) {
	inv := &fakeInvoker{body: bedrockBody(t, "Here is the review:\n```json\n"+
		`{"status":"warning","summary":"Reach dipped","details":["30 days"],"issues":["drop on 03-12"],"recommendations":["check ads"]}`+
		"\n```")}
	a := NewBedrockAdvisor(inv, "")

	r, err := a.Analyze(context.Background(), sampleRequest())
	require.NoError(t, err)
	assert.Equal(t, StatusWarning, r.Status)
	assert.Equal(t, "Reach dipped", r.Summary)
	assert.Equal(t, []string{"drop on 03-12"}, r.Issues)
	assert.Equal(t, datanorm.PlatformInstagram, r.Platform)
	assert.Equal(t, "bedrock", r.Provider)

	require.NotNil(t, inv.input)
	assert.Equal(t, DefaultModelID, *inv.input.ModelId)
	var sent bedrockRequest
	require.NoError(t, json.Unmarshal(inv.input.Body, &sent))
	assert.Equal(t, "bedrock-2023-05-31", sent.AnthropicVersion)
	assert.Contains(t, sent.Messages[0].Content[0].Text, `"importedCount":30`)
}

func TestBedrockAdvisorErrors(t *testing.T) {
	tests := []struct {
		name string
		inv  *fakeInvoker
	}{
		{"invoke fails", &fakeInvoker{err: errors.New("throttled")}},
		{"not json", &fakeInvoker{body: "oops"}},
		{"no object", &fakeInvoker{body: bedrockBody(t, "I cannot help")}},
		{"bad status", &fakeInvoker{body: bedrockBody(t, `{"status":"great"}`)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewBedrockAdvisor(tt.inv, "m").Analyze(context.Background(), sampleRequest())
			assert.ErrorIs(t, err, ErrUnavailable)
		})
	}
}

// =============================================================================
// HTTP
// =============================================================================

func TestHTTPAdvisor(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req Request
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "reach.csv", req.FileName)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"success","summary":"ok","details":[],"issues":[],"recommendations":[]}`))
	}))
	defer srv.Close()

	r, err := NewHTTPAdvisor(srv.Client(), srv.URL).Analyze(context.Background(), sampleRequest())
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, r.Status)
	assert.Equal(t, "http", r.Provider)
	assert.False(t, r.GeneratedAt.IsZero())
}

func TestHTTPAdvisorRetriesThenFails(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client := httpretry.New(srv.Client(), httpretry.Options{MaxRetries: 2, BaseDelay: time.Millisecond, MinDelay: time.Millisecond})
	_, err := NewHTTPAdvisor(client, srv.URL).Analyze(context.Background(), sampleRequest())
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, int32(3), calls.Load())
}

// =============================================================================
// PENDING
// =============================================================================

type slowAdvisor struct{ delay time.Duration }

func (slowAdvisor) Name() string { return "slow" }

func (s slowAdvisor) Analyze(ctx context.Context, req Request) (*Report, error) {
	select {
	case <-time.After(s.delay):
		return &Report{Status: StatusSuccess, Summary: "remote", Provider: "slow"}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func TestPendingReturnsRemoteReport(t *testing.T) {
	got := make(chan *Report, 1)
	p := Start(slowAdvisor{delay: time.Millisecond}, sampleRequest(), time.Second, func(r *Report) { got <- r })

	r := p.Wait(context.Background())
	assert.Equal(t, "remote", r.Summary)
	assert.Equal(t, "remote", (<-got).Summary)
}

func TestPendingTimeoutFallsBack(t *testing.T) {
	p := Start(slowAdvisor{delay: time.Second}, sampleRequest(), 10*time.Millisecond, nil)
	r := p.Wait(context.Background())
	assert.Equal(t, "local", r.Provider)
}

func TestPendingWaitContextEndsFirst(t *testing.T) {
	p := Start(slowAdvisor{delay: time.Second}, sampleRequest(), time.Second, nil)
	defer p.Cancel()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()
	start := time.Now()
	r := p.Wait(ctx)
	assert.Equal(t, "local", r.Provider)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestNewFromConfig(t *testing.T) {
	a, err := New(context.Background(), config.AdvisoryConfig{}, "")
	require.NoError(t, err)
	assert.Equal(t, "local", a.Name())

	a, err = New(context.Background(), config.AdvisoryConfig{Enabled: true, Provider: "http", Endpoint: "http://x", TimeoutSeconds: 1}, "")
	require.NoError(t, err)
	assert.Equal(t, "http", a.Name())

	_, err = New(context.Background(), config.AdvisoryConfig{Enabled: true, Provider: "openai"}, "")
	assert.Error(t, err)
}
