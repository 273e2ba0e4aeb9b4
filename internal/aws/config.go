package aws

import (
	"context"
	"fmt"
	"os"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
)

const defaultRegion = "us-east-1"

// Settings selects the region and an optional emulator endpoint.
type Settings struct {
	Region   string
	Endpoint string
}

// SettingsFromEnv reads AWS_REGION and AWS_ENDPOINT_OVERRIDE.
func SettingsFromEnv() Settings {
	return Settings{
		Region:   os.Getenv("AWS_REGION"),
		Endpoint: os.Getenv("AWS_ENDPOINT_OVERRIDE"),
	}
}

// LoadAWSConfig loads the shared SDK config. A non-empty Endpoint points every
// client at a local emulator such as localstack.
func LoadAWSConfig(ctx context.Context, s Settings) (sdkaws.Config, error) {
	region := s.Region
	if region == "" {
		region = defaultRegion
	}

	opts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if s.Endpoint != "" {
		opts = append(opts, config.WithBaseEndpoint(s.Endpoint))
	}

	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return cfg, fmt.Errorf("load aws config: %w", err)
	}
	return cfg, nil
}
