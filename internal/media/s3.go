// Package media provides S3-compatible storage for the optional
// thumbnail/poster-frame objects the ingest component generates while
// archiving a video. Thumbnails live outside the archive channel; an
// ArchivedFile references one through Metadata["thumbnail_key"].
package media

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Client wraps the AWS S3 client for thumbnail storage operations.
type S3Client struct {
	client *s3.Client
	bucket string
}

// NewS3Client creates a client for AWS S3 or an S3-compatible service
// (MinIO, R2, etc).
func NewS3Client(endpoint, region, bucket, accessKey, secretKey string) (*S3Client, error) {
	cfg, err := config.LoadDefaultConfig(context.TODO(),
		config.WithRegion(region),
		config.WithBaseEndpoint(endpoint),
		config.WithCredentialsProvider(aws.CredentialsProviderFunc(
			func(ctx context.Context) (aws.Credentials, error) {
				return aws.Credentials{
					AccessKeyID:     accessKey,
					SecretAccessKey: secretKey,
				}, nil
			})),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.UsePathStyle = true
	})

	return &S3Client{client: client, bucket: bucket}, nil
}

// PutThumbnail uploads a poster-frame image under the caller-supplied
// object key.
func (s *S3Client) PutThumbnail(ctx context.Context, key string, body []byte, contentType string) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("failed to upload thumbnail: %w", err)
	}
	return nil
}

// PresignThumbnailURL generates a time-limited GET URL for a thumbnail.
func (s *S3Client) PresignThumbnailURL(ctx context.Context, key string, expires time.Duration) (string, error) {
	presignClient := s3.NewPresignClient(s.client)

	result, err := presignClient.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}, func(opts *s3.PresignOptions) {
		opts.Expires = expires
	})
	if err != nil {
		return "", fmt.Errorf("failed to generate presigned URL: %w", err)
	}

	return result.URL, nil
}
