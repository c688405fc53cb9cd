package awsutil

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	configv2 "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
)

// StaticKeys overrides the default credential chain when both fields are set.
type StaticKeys struct {
	AccessKeyID     string
	SecretAccessKey string
}

// LoadConfig loads the default AWS config. With endpoint set (e.g.
// http://localhost:4566 for LocalStack) and no explicit keys, static dummy
// creds are used; LocalStack accepts these.
func LoadConfig(ctx context.Context, region, endpoint string, keys StaticKeys) (aws.Config, error) {
	opts := []func(*configv2.LoadOptions) error{
		configv2.WithRegion(region),
	}
	switch {
	case keys.AccessKeyID != "" && keys.SecretAccessKey != "":
		opts = append(opts, configv2.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(keys.AccessKeyID, keys.SecretAccessKey, ""),
		))
	case endpoint != "":
		opts = append(opts, configv2.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider("test", "test", ""),
		))
	}
	return configv2.LoadDefaultConfig(ctx, opts...)
}

func NewSQSClient(ctx context.Context, region, endpoint string) (*sqs.Client, error) {
	cfg, err := LoadConfig(ctx, region, endpoint, StaticKeys{})
	if err != nil {
		return nil, err
	}
	return sqs.NewFromConfig(cfg, sqsOptions(endpoint)...), nil
}

// NewS3Client builds an S3 client. A custom endpoint (LocalStack, MinIO)
// switches to path-style addressing.
func NewS3Client(ctx context.Context, region, endpoint string, keys StaticKeys) (*s3.Client, error) {
	cfg, err := LoadConfig(ctx, region, endpoint, keys)
	if err != nil {
		return nil, err
	}
	return s3.NewFromConfig(cfg, s3Options(endpoint)...), nil
}

func sqsOptions(endpoint string) []func(*sqs.Options) {
	if endpoint == "" {
		return nil
	}
	return []func(*sqs.Options){func(o *sqs.Options) {
		o.BaseEndpoint = aws.String(endpoint)
	}}
}

func s3Options(endpoint string) []func(*s3.Options) {
	if endpoint == "" {
		return nil
	}
	return []func(*s3.Options){func(o *s3.Options) {
		o.BaseEndpoint = aws.String(endpoint)
		o.UsePathStyle = true
	}}
}
