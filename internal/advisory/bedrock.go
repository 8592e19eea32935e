package advisory

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
)

// DefaultModelID is used when no model is configured.
const DefaultModelID = "anthropic.claude-3-haiku-20240307-v1:0"

// ModelInvoker is the subset of the Bedrock runtime client used here.
type ModelInvoker interface {
	InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
}

// BedrockAdvisor asks a Claude model on AWS Bedrock for a health report.
type BedrockAdvisor struct {
	client  ModelInvoker
	modelID string
	now     func() time.Time
}

type bedrockMessage struct {
	Role    string                `json:"role"`
	Content []bedrockContentBlock `json:"content"`
}

type bedrockContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type bedrockRequest struct {
	AnthropicVersion string           `json:"anthropic_version"`
	MaxTokens        int              `json:"max_tokens"`
	System           string           `json:"system,omitempty"`
	Messages         []bedrockMessage `json:"messages"`
	Temperature      float64          `json:"temperature"`
}

type bedrockResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
}

const systemPrompt = `You review social media analytics imports for data quality.
You receive import statistics as JSON. Reply with a single JSON object and nothing else:
{"status":"success|warning|error","summary":"...","details":["..."],"issues":["..."],"recommendations":["..."]}
Use "warning" for suspicious but usable data and "error" only when the import is unusable.`

// NewBedrockAdvisor wraps a Bedrock runtime client.
func NewBedrockAdvisor(client ModelInvoker, modelID string) *BedrockAdvisor {
	if modelID == "" {
		modelID = DefaultModelID
	}
	return &BedrockAdvisor{client: client, modelID: modelID, now: time.Now}
}

func (b *BedrockAdvisor) Name() string { return "bedrock" }

func (b *BedrockAdvisor) Analyze(ctx context.Context, req Request) (*Report, error) {
	stats, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("%w: marshal request: %w", ErrUnavailable, err)
	}
	body, err := json.Marshal(bedrockRequest{
		AnthropicVersion: "bedrock-2023-05-31",
		MaxTokens:        1024,
		System:           systemPrompt,
		Messages: []bedrockMessage{{
			Role:    "user",
			Content: []bedrockContentBlock{{Type: "text", Text: string(stats)}},
		}},
		Temperature: 0.2,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: marshal request: %w", ErrUnavailable, err)
	}

	output, err := b.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(b.modelID),
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
		Body:        body,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: bedrock: %w", ErrUnavailable, err)
	}

	var resp bedrockResponse
	if err := json.Unmarshal(output.Body, &resp); err != nil {
		return nil, fmt.Errorf("%w: parse response: %w", ErrUnavailable, err)
	}
	var text strings.Builder
	for _, c := range resp.Content {
		if c.Type == "text" {
			text.WriteString(c.Text)
		}
	}

	r, err := parseReport(text.String())
	if err != nil {
		return nil, err
	}
	r.Platform = req.Platform
	r.Provider = b.Name()
	r.GeneratedAt = b.now().UTC()
	return r, nil
}

// parseReport extracts the first JSON object from model output, which may
// be wrapped in prose or a code fence.
func parseReport(text string) (*Report, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end < start {
		return nil, fmt.Errorf("%w: no report in model output", ErrUnavailable)
	}
	var r Report
	if err := json.Unmarshal([]byte(text[start:end+1]), &r); err != nil {
		return nil, fmt.Errorf("%w: decode report: %w", ErrUnavailable, err)
	}
	if !r.Status.valid() {
		return nil, fmt.Errorf("%w: invalid status %q", ErrUnavailable, r.Status)
	}
	return &r, nil
}
