package gcs

import (
	"context"
	"io"

	"cloud.google.com/go/storage"
)

// bucketHandle abstracts *storage.BucketHandle for testability.
type bucketHandle interface {
	Object(name string) objectHandle
	Objects(ctx context.Context, q *storage.Query) objectIterator
	SignedURL(name string, opts *storage.SignedURLOptions) (string, error)
	Attrs(ctx context.Context) (*storage.BucketAttrs, error)
}

type objectHandle interface {
	NewWriter(ctx context.Context, contentType string) io.WriteCloser
	Delete(ctx context.Context) error
	MakePublic(ctx context.Context) error
}

type objectIterator interface {
	Next() (*storage.ObjectAttrs, error)
}

type realBucketHandle struct{ bh *storage.BucketHandle }

func (r *realBucketHandle) Object(name string) objectHandle {
	return &realObjectHandle{oh: r.bh.Object(name)}
}

func (r *realBucketHandle) Objects(ctx context.Context, q *storage.Query) objectIterator {
	return r.bh.Objects(ctx, q)
}

func (r *realBucketHandle) SignedURL(name string, opts *storage.SignedURLOptions) (string, error) {
	return r.bh.SignedURL(name, opts)
}

func (r *realBucketHandle) Attrs(ctx context.Context) (*storage.BucketAttrs, error) {
	return r.bh.Attrs(ctx)
}

type realObjectHandle struct{ oh *storage.ObjectHandle }

func (r *realObjectHandle) NewWriter(ctx context.Context, contentType string) io.WriteCloser {
	w := r.oh.NewWriter(ctx)
	w.ContentType = contentType
	return w
}

func (r *realObjectHandle) Delete(ctx context.Context) error {
	return r.oh.Delete(ctx)
}

func (r *realObjectHandle) MakePublic(ctx context.Context) error {
	return r.oh.ACL().Set(ctx, storage.AllUsers, storage.RoleReader)
}
