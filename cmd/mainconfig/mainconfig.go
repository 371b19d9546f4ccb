// Package mainconfig builds the cloud clients shared by the binaries.
package mainconfig

import (
	"context"
	"errors"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	appconfig "github.com/endovel/clinic-platform/internal/config"
)

var (
	errNoRegion      = errors.New("mainconfig: AWS_REGION is required for sqs")
	errPartialStatic = errors.New("mainconfig: AWS_ACCESS_KEY_ID and AWS_SECRET_ACCESS_KEY must be set together")
)

// NewSQSClient returns the client for the conversation queue.
// AWS_ENDPOINT_OVERRIDE points it at LocalStack or ElasticMQ. Without static
// keys the default chain applies, so deployed tasks keep their role.
func NewSQSClient(ctx context.Context, cfg *appconfig.Config) (*sqs.Client, error) {
	awsCfg, err := loadAWSConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return sqs.NewFromConfig(awsCfg, withEndpoint(cfg.AWSEndpointOverride)), nil
}

func loadAWSConfig(ctx context.Context, cfg *appconfig.Config) (aws.Config, error) {
	region := strings.TrimSpace(cfg.AWSRegion)
	if region == "" {
		return aws.Config{}, errNoRegion
	}
	loaders := []func(*config.LoadOptions) error{config.WithRegion(region)}

	key := strings.TrimSpace(cfg.AWSAccessKeyID)
	secret := strings.TrimSpace(cfg.AWSSecretAccessKey)
	switch {
	case key != "" && secret != "":
		loaders = append(loaders, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(key, secret, ""),
		))
	case key != "" || secret != "":
		return aws.Config{}, errPartialStatic
	}
	return config.LoadDefaultConfig(ctx, loaders...)
}

func withEndpoint(raw string) func(*sqs.Options) {
	endpoint := strings.TrimRight(strings.TrimSpace(raw), "/")
	return func(o *sqs.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	}
}
