package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"

	"youposm/internal/shared/storage/object"
	"youposm/internal/shared/storeerr"
)

// Presigned GET URLs cannot outlive SigV4's seven day ceiling.
const signedURLTTL = 7 * 24 * time.Hour

const (
	URLModePublic = "public"
	URLModeSigned = "signed"
)

// Store implements BlobStore using Amazon S3.
type Store struct {
	client  *s3.Client
	presign *s3.PresignClient
	bucket  string
	region  string
	prefix  string
	urlMode string
}

// New creates a new S3-backed blob store using the default AWS config chain.
func New(ctx context.Context, region, bucket, prefix, urlMode string) (*Store, error) {
	if bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{}
	if region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(region))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return NewWithClient(s3.NewFromConfig(cfg), cfg.Region, bucket, prefix, urlMode), nil
}

// NewWithClient wraps an existing S3 client.
func NewWithClient(client *s3.Client, region, bucket, prefix, urlMode string) *Store {
	if urlMode != URLModeSigned {
		urlMode = URLModePublic
	}
	return &Store{
		client:  client,
		presign: s3.NewPresignClient(client),
		bucket:  bucket,
		region:  region,
		prefix:  strings.Trim(strings.TrimSpace(prefix), "/"),
		urlMode: urlMode,
	}
}

// Put uploads r to the prefixed key. r should be seekable so the SDK can
// compute the payload checksum without buffering.
func (s *Store) Put(ctx context.Context, key string, r io.Reader, contentType string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	objectKey := object.ApplyPrefix(s.prefix, key)
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(objectKey),
		Body:        r,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("s3 put object bucket=%s key=%s: %w", s.bucket, objectKey, classify(err))
	}
	return s.url(ctx, objectKey)
}

// Delete removes the blob at key.
func (s *Store) Delete(ctx context.Context, key string) error {
	objectKey := object.ApplyPrefix(s.prefix, key)
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(objectKey),
	})
	if err != nil {
		return fmt.Errorf("s3 delete object bucket=%s key=%s: %w", s.bucket, objectKey, classify(err))
	}
	return nil
}

// List returns the keys under prefix.
func (s *Store) List(ctx context.Context, prefix string) ([]string, error) {
	listPrefix := object.ApplyPrefix(s.prefix, prefix)
	p := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(listPrefix),
	})

	keys := []string{}
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("s3 list objects bucket=%s prefix=%s: %w", s.bucket, listPrefix, classify(err))
		}
		for _, obj := range page.Contents {
			keys = append(keys, object.TrimPrefix(s.prefix, aws.ToString(obj.Key)))
		}
	}
	return keys, nil
}

func (s *Store) url(ctx context.Context, objectKey string) (string, error) {
	if s.urlMode == URLModeSigned {
		out, err := s.presign.PresignGetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(objectKey),
		}, s3.WithPresignExpires(signedURLTTL))
		if err != nil {
			return "", fmt.Errorf("s3 presign get key=%s: %w", objectKey, err)
		}
		return out.URL, nil
	}
	return publicURL(s.bucket, s.region, objectKey), nil
}

func publicURL(bucket, region, objectKey string) string {
	host := bucket + ".s3.amazonaws.com"
	if region != "" && region != "us-east-1" {
		host = fmt.Sprintf("%s.s3.%s.amazonaws.com", bucket, region)
	}
	return "https://" + host + "/" + object.EscapePath(objectKey)
}

func classify(err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "AccessDenied", "InvalidAccessKeyId", "SignatureDoesNotMatch", "ExpiredToken":
			return storeerr.Wrap(storeerr.ErrUnauthorized, err)
		case "NoSuchBucket", "NoSuchKey", "NotFound":
			return storeerr.Wrap(storeerr.ErrNotFound, err)
		case "SlowDown", "RequestTimeout", "InternalError", "ServiceUnavailable":
			return storeerr.Wrap(storeerr.ErrTransient, err)
		}
	}
	var respErr *awshttp.ResponseError
	if errors.As(err, &respErr) {
		if kind := storeerr.FromStatus(respErr.HTTPStatusCode()); kind != nil {
			return storeerr.Wrap(kind, err)
		}
	}
	return storeerr.Classify(err)
}

var _ object.BlobStore = (*Store)(nil)
