package submissions

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"
	"sync"
	"testing"

	"youposm/internal/rows"
)

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.NRGBA{R: uint8(x), G: uint8(y), B: 120, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func jpegBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatalf("encode jpeg: %v", err)
	}
	return buf.Bytes()
}

// fakeBlobs records puts and deletes. failOn maps a put number (1-based) to
// the errors returned by successive attempts of that put.
type fakeBlobs struct {
	mu      sync.Mutex
	objects map[string][]byte
	puts    int
	calls   int
	failOn  map[int][]error
	deletes []string
}

func newFakeBlobs() *fakeBlobs {
	return &fakeBlobs{objects: map[string][]byte{}, failOn: map[int][]error{}}
}

func (f *fakeBlobs) Put(ctx context.Context, key string, r io.Reader, contentType string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if errs := f.failOn[f.puts+1]; len(errs) > 0 {
		f.failOn[f.puts+1] = errs[1:]
		return "", errs[0]
	}
	f.puts++
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	if _, exists := f.objects[key]; exists {
		return "", fmt.Errorf("overwrite of %s", key)
	}
	f.objects[key] = data
	return "https://blobs.example/" + key, nil
}

func (f *fakeBlobs) Delete(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes = append(f.deletes, key)
	delete(f.objects, key)
	return nil
}

func (f *fakeBlobs) List(ctx context.Context, prefix string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for k := range f.objects {
		out = append(out, k)
	}
	return out, nil
}

// flakyRows fails the first len(errs) appends.
type flakyRows struct {
	*rows.MemoryStore
	mu      sync.Mutex
	errs    []error
	appends int
}

func (f *flakyRows) Append(ctx context.Context, rec rows.Record) error {
	f.mu.Lock()
	f.appends++
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		f.mu.Unlock()
		return err
	}
	f.mu.Unlock()
	return f.MemoryStore.Append(ctx, rec)
}
