package bootstrap

import (
	"context"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	appconfig "github.com/wolfman30/booking-wizard/internal/config"
)

// LoadAWSConfig builds the SDK config shared by the SQS event queue and the
// SES mailer. AWS_ENDPOINT_OVERRIDE points both at LocalStack.
func LoadAWSConfig(ctx context.Context, cfg *appconfig.Config) (aws.Config, error) {
	loaders := []func(*config.LoadOptions) error{config.WithRegion(cfg.AWSRegion)}
	if strings.TrimSpace(cfg.AWSAccessKeyID) != "" && strings.TrimSpace(cfg.AWSSecretAccessKey) != "" {
		loaders = append(loaders, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AWSAccessKeyID, cfg.AWSSecretAccessKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, loaders...)
	if err != nil {
		return aws.Config{}, err
	}

	if endpoint := cfg.AWSEndpointOverride; endpoint != "" {
		awsCfg.EndpointResolverWithOptions = aws.EndpointResolverWithOptionsFunc(
			func(service, region string, _ ...interface{}) (aws.Endpoint, error) {
				switch service {
				case sqs.ServiceID, sesv2.ServiceID:
					return aws.Endpoint{
						URL:           endpoint,
						PartitionID:   "aws",
						SigningRegion: cfg.AWSRegion,
					}, nil
				default:
					return aws.Endpoint{}, &aws.EndpointNotFoundError{}
				}
			},
		)
	}

	return awsCfg, nil
}

// AWSLoader loads the AWS config on first use so deployments without SQS or
// SES never touch the credential chain.
type AWSLoader struct {
	cfg    *appconfig.Config
	loaded *aws.Config
}

func NewAWSLoader(cfg *appconfig.Config) *AWSLoader {
	return &AWSLoader{cfg: cfg}
}

// Config returns the loaded config. It is not safe for concurrent use.
func (l *AWSLoader) Config(ctx context.Context) (aws.Config, error) {
	if l.loaded != nil {
		return *l.loaded, nil
	}
	awsCfg, err := LoadAWSConfig(ctx, l.cfg)
	if err != nil {
		return aws.Config{}, err
	}
	l.loaded = &awsCfg
	return awsCfg, nil
}
