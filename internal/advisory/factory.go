package advisory

import (
	"context"
	"fmt"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	"github.com/ignite/smart-import/internal/config"
	"github.com/ignite/smart-import/internal/pkg/awsutil"
	"github.com/ignite/smart-import/internal/pkg/httpretry"
)

// New builds the configured advisor. A disabled advisory section yields
// the local advisor.
func New(ctx context.Context, cfg config.AdvisoryConfig, awsProfile string) (Advisor, error) {
	if !cfg.Enabled {
		return LocalAdvisor{}, nil
	}
	switch cfg.Provider {
	case "bedrock":
		awsCfg, err := awsutil.Load(ctx, cfg.Region, awsProfile)
		if err != nil {
			return nil, err
		}
		return NewBedrockAdvisor(bedrockruntime.NewFromConfig(awsCfg), cfg.ModelID), nil
	case "http":
		client := httpretry.New(&http.Client{Timeout: cfg.Timeout()}, httpretry.Options{MaxRetries: 2})
		return NewHTTPAdvisor(client, cfg.Endpoint), nil
	case "local", "":
		return LocalAdvisor{}, nil
	}
	return nil, fmt.Errorf("unknown advisory provider %q", cfg.Provider)
}
