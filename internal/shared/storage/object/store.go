package object

import (
	"context"
	"io"
	"net/url"
	"strings"
)

// BlobStore defines the contract for writing image blobs and resolving their URLs.
// Keys are relative; backends apply their configured root prefix.
type BlobStore interface {
	// Put writes r under key and returns a URL that resolves to the blob.
	Put(ctx context.Context, key string, r io.Reader, contentType string) (string, error)
	Delete(ctx context.Context, key string) error
	List(ctx context.Context, prefix string) ([]string, error)
}

// ApplyPrefix joins a root prefix and a key with a single slash.
func ApplyPrefix(prefix, key string) string {
	cleanPrefix := strings.Trim(strings.TrimSpace(prefix), "/")
	cleanKey := strings.TrimLeft(key, "/")
	if cleanPrefix == "" {
		return cleanKey
	}
	if cleanKey == "" {
		return cleanPrefix
	}
	return cleanPrefix + "/" + cleanKey
}

// TrimPrefix is the inverse of ApplyPrefix for keys returned by a listing.
func TrimPrefix(prefix, objectKey string) string {
	cleanPrefix := strings.Trim(strings.TrimSpace(prefix), "/")
	if cleanPrefix == "" {
		return objectKey
	}
	return strings.TrimPrefix(objectKey, cleanPrefix+"/")
}

// EscapePath percent-encodes each segment of a slash-separated key.
func EscapePath(key string) string {
	parts := strings.Split(key, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}
