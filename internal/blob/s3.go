package blob

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// S3 stores artifacts in an S3 bucket and returns presigned download URLs.
type S3 struct {
	client  *s3.Client
	presign *s3.PresignClient
	bucket  string
	prefix  string
	urlTTL  time.Duration
}

// NewS3 creates an S3 object store using the ambient AWS credential chain.
// Presigned URLs expire after urlTTL, defaulting to one hour.
func NewS3(ctx context.Context, bucket, prefix string, urlTTL time.Duration) (*S3, error) {
	if bucket == "" {
		return nil, fmt.Errorf("s3 store: bucket is required")
	}
	if urlTTL <= 0 {
		urlTTL = time.Hour
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(cfg)
	return &S3{
		client:  client,
		presign: s3.NewPresignClient(client),
		bucket:  bucket,
		prefix:  prefix,
		urlTTL:  urlTTL,
	}, nil
}

func (s *S3) Put(ctx context.Context, key string, data []byte) (string, error) {
	fullKey := path.Join(s.prefix, key)

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(fullKey),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(xlsxContentType),
	})
	if err != nil {
		return "", fmt.Errorf("put s3 object %s: %w", fullKey, err)
	}

	req, err := s.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(fullKey),
	}, func(opts *s3.PresignOptions) {
		opts.Expires = s.urlTTL
	})
	if err != nil {
		return "", fmt.Errorf("presign s3 object %s: %w", fullKey, err)
	}

	return req.URL, nil
}
