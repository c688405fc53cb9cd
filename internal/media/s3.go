package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

type S3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// S3 stores documents in a bucket. With PublicBaseURL set, links are plain
// object URLs; otherwise they are presigned GETs.
type S3 struct {
	Client        S3API
	Presign       *s3.PresignClient
	Bucket        string
	Prefix        string
	PublicBaseURL string
}

func NewS3(client *s3.Client, bucket, prefix, publicBaseURL string) (*S3, error) {
	if bucket == "" {
		return nil, errors.New("media: S3_BUCKET is required for the s3 backend")
	}
	return &S3{
		Client:        client,
		Presign:       s3.NewPresignClient(client),
		Bucket:        bucket,
		Prefix:        strings.Trim(prefix, "/"),
		PublicBaseURL: strings.TrimRight(publicBaseURL, "/"),
	}, nil
}

func (s *S3) objectKey(key string) (string, error) {
	if err := ValidateKey(key); err != nil {
		return "", err
	}
	if s.Prefix == "" {
		return key, nil
	}
	return s.Prefix + "/" + key, nil
}

func (s *S3) Save(ctx context.Context, key string, r io.Reader) error {
	obj, err := s.objectKey(key)
	if err != nil {
		return err
	}
	_, err = s.Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.Bucket),
		Key:         aws.String(obj),
		Body:        r,
		ContentType: aws.String("application/pdf"),
	})
	if err != nil {
		return fmt.Errorf("put object: %w", err)
	}
	return nil
}

func (s *S3) Exists(ctx context.Context, key string) (bool, error) {
	obj, err := s.objectKey(key)
	if err != nil {
		return false, err
	}
	_, err = s.Client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: aws.String(s.Bucket), Key: aws.String(obj)})
	if err == nil {
		return true, nil
	}
	if isNotFound(err) {
		return false, nil
	}
	return false, fmt.Errorf("head object: %w", err)
}

func (s *S3) Delete(ctx context.Context, key string) (bool, error) {
	existed, err := s.Exists(ctx, key)
	if err != nil {
		return false, err
	}
	obj, _ := s.objectKey(key)
	if _, err := s.Client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: aws.String(s.Bucket), Key: aws.String(obj)}); err != nil {
		return false, fmt.Errorf("delete object: %w", err)
	}
	return existed, nil
}

func (s *S3) PublicURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	obj, err := s.objectKey(key)
	if err != nil {
		return "", err
	}
	if s.PublicBaseURL != "" {
		return s.PublicBaseURL + "/" + obj, nil
	}
	if ttl < time.Second {
		ttl = time.Second
	}
	req, err := s.Presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.Bucket),
		Key:    aws.String(obj),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", fmt.Errorf("presign: %w", err)
	}
	return req.URL, nil
}

func (s *S3) LocalPath(string) (string, bool) { return "", false }

func isNotFound(err error) bool {
	var nf *types.NotFound
	if errors.As(err, &nf) {
		return true
	}
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		return code == "NotFound" || code == "NoSuchKey"
	}
	return false
}
