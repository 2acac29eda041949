// Package gcs is the Google Cloud Storage blob backend. Uploaded images are
// addressed either by their public storage.googleapis.com URL or by a V4
// signed URL.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"youposm/internal/shared/storage/object"
	"youposm/internal/shared/storeerr"
)

const signedURLTTL = 7 * 24 * time.Hour

const (
	URLModePublic = "public"
	URLModeSigned = "signed"
)

// Options configures a Store.
type Options struct {
	Bucket  string
	Prefix  string
	URLMode string
	// MakePublic grants allUsers read on each uploaded object. Buckets with
	// uniform bucket-level access must be made public at the bucket instead.
	MakePublic bool
}

// Store implements BlobStore using Google Cloud Storage.
type Store struct {
	client *storage.Client
	bucket bucketHandle
	opts   Options
	now    func() time.Time
}

// New creates a GCS client and wraps the configured bucket.
func New(ctx context.Context, opts Options, clientOpts ...option.ClientOption) (*Store, error) {
	if opts.Bucket == "" {
		return nil, fmt.Errorf("gcs bucket is required")
	}
	client, err := storage.NewClient(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("create gcs client: %w", err)
	}
	s := newWithBucket(&realBucketHandle{bh: client.Bucket(opts.Bucket)}, opts)
	s.client = client
	return s, nil
}

func newWithBucket(bh bucketHandle, opts Options) *Store {
	if opts.URLMode != URLModeSigned {
		opts.URLMode = URLModePublic
	}
	return &Store{bucket: bh, opts: opts, now: time.Now}
}

// Close releases the underlying client.
func (s *Store) Close() error {
	if s.client == nil {
		return nil
	}
	return s.client.Close()
}

// Bucket returns the configured bucket name.
func (s *Store) Bucket() string {
	return s.opts.Bucket
}

// Put uploads r to the prefixed key and returns its URL.
func (s *Store) Put(ctx context.Context, key string, r io.Reader, contentType string) (string, error) {
	objectKey := object.ApplyPrefix(s.opts.Prefix, key)
	obj := s.bucket.Object(objectKey)

	w := obj.NewWriter(ctx, contentType)
	if _, err := io.Copy(w, r); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("gcs upload write key=%s: %w", objectKey, classify(err))
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("gcs upload close key=%s: %w", objectKey, classify(err))
	}

	if s.opts.MakePublic {
		if err := obj.MakePublic(ctx); err != nil {
			return "", fmt.Errorf("gcs make public key=%s: %w", objectKey, classify(err))
		}
	}

	if s.opts.URLMode == URLModeSigned {
		u, err := s.bucket.SignedURL(objectKey, &storage.SignedURLOptions{
			Method:  "GET",
			Scheme:  storage.SigningSchemeV4,
			Expires: s.now().Add(signedURLTTL),
		})
		if err != nil {
			return "", fmt.Errorf("gcs sign url key=%s: %w", objectKey, classify(err))
		}
		return u, nil
	}
	return PublicURL(s.opts.Bucket, objectKey), nil
}

// Delete removes the blob at key.
func (s *Store) Delete(ctx context.Context, key string) error {
	objectKey := object.ApplyPrefix(s.opts.Prefix, key)
	if err := s.bucket.Object(objectKey).Delete(ctx); err != nil {
		return fmt.Errorf("gcs delete key=%s: %w", objectKey, classify(err))
	}
	return nil
}

// List returns the keys under prefix.
func (s *Store) List(ctx context.Context, prefix string) ([]string, error) {
	listPrefix := object.ApplyPrefix(s.opts.Prefix, prefix)
	it := s.bucket.Objects(ctx, &storage.Query{Prefix: listPrefix})
	keys := []string{}
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("gcs list prefix=%s: %w", listPrefix, classify(err))
		}
		keys = append(keys, object.TrimPrefix(s.opts.Prefix, attrs.Name))
	}
	return keys, nil
}

// Check verifies the bucket exists and the credentials can read its metadata.
func (s *Store) Check(ctx context.Context) error {
	if _, err := s.bucket.Attrs(ctx); err != nil {
		return fmt.Errorf("gcs bucket %s: %w", s.opts.Bucket, classify(err))
	}
	return nil
}

// PublicURL returns the unauthenticated URL for an object.
func PublicURL(bucket, objectKey string) string {
	return "https://storage.googleapis.com/" + bucket + "/" + object.EscapePath(objectKey)
}

func classify(err error) error {
	if errors.Is(err, storage.ErrObjectNotExist) || errors.Is(err, storage.ErrBucketNotExist) {
		return storeerr.Wrap(storeerr.ErrNotFound, err)
	}
	return storeerr.Classify(err)
}

var _ object.BlobStore = (*Store)(nil)
