package local

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"youposm/internal/shared/storage/object"
	"youposm/internal/shared/storeerr"
)

// MediaRoute is the URL path under which the router serves local blobs.
const MediaRoute = "/media"

// Store implements BlobStore using the local filesystem.
type Store struct {
	baseDir string
	prefix  string
	baseURL string
}

// New creates a local blob store rooted at baseDir. URLs are built from
// baseURL and MediaRoute.
func New(baseDir, prefix, baseURL string) *Store {
	return &Store{
		baseDir: baseDir,
		prefix:  prefix,
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

// BaseDir returns the root directory served under MediaRoute.
func (s *Store) BaseDir() string {
	return s.baseDir
}

// Put writes the reader to disk at the prefixed key. No content type is
// stored; the media route derives it from the key's extension.
func (s *Store) Put(ctx context.Context, key string, r io.Reader, _ string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	objectKey := object.ApplyPrefix(s.prefix, key)
	fullPath, err := s.resolve(objectKey)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		return "", fmt.Errorf("mkdir: %w", err)
	}

	// O_EXCL: an existing blob is never overwritten.
	f, err := os.OpenFile(fullPath, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o644)
	if err != nil {
		return "", fmt.Errorf("open file: %w", err)
	}
	if _, err := io.Copy(f, r); err != nil {
		_ = f.Close()
		_ = os.Remove(fullPath)
		return "", fmt.Errorf("write body: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close file: %w", err)
	}

	return s.baseURL + MediaRoute + "/" + object.EscapePath(objectKey), nil
}

// Delete removes the blob stored at key.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	fullPath, err := s.resolve(object.ApplyPrefix(s.prefix, key))
	if err != nil {
		return err
	}
	if err := os.Remove(fullPath); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return storeerr.Wrap(storeerr.ErrNotFound, err)
		}
		return fmt.Errorf("remove file: %w", err)
	}
	return nil
}

// List returns the keys stored under prefix, sorted.
func (s *Store) List(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	root, err := s.resolve(object.ApplyPrefix(s.prefix, prefix))
	if err != nil {
		return nil, err
	}

	keys := []string{}
	err = filepath.WalkDir(root, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			if errors.Is(walkErr, fs.ErrNotExist) {
				return fs.SkipAll
			}
			return walkErr
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(s.baseDir, p)
		if err != nil {
			return err
		}
		keys = append(keys, object.TrimPrefix(s.prefix, filepath.ToSlash(rel)))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", root, err)
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *Store) resolve(objectKey string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(objectKey))
	if strings.HasPrefix(clean, "..") || filepath.IsAbs(clean) {
		return "", fmt.Errorf("invalid storage key %q", objectKey)
	}
	return filepath.Join(s.baseDir, clean), nil
}

var _ object.BlobStore = (*Store)(nil)
