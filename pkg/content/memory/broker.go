// Package memory provides an in-memory content broker for development
// and tests. URLs it issues point nowhere; tests assert on their shape
// and on the removal log.
package memory

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/wardenfs/warden/pkg/content"
)

// MemoryBroker fabricates signed URLs and records object removals.
type MemoryBroker struct {
	mu        sync.Mutex
	objects   map[string]struct{}
	removed   []string
	urlExpiry time.Duration

	// FailRemovals, when set, makes every removal fail. Used to test
	// best-effort cleanup paths.
	FailRemovals bool
}

// NewMemoryBroker creates an empty in-memory broker with a five minute
// URL validity window.
func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{
		objects:   make(map[string]struct{}),
		urlExpiry: 5 * time.Minute,
	}
}

// PutObject registers a storage path as existing.
func (b *MemoryBroker) PutObject(storagePath string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects[storagePath] = struct{}{}
}

// SignedDownloadURL fabricates a URL embedding the storage path and an
// expiry, mirroring the shape of a presigned S3 URL.
func (b *MemoryBroker) SignedDownloadURL(ctx context.Context, req content.SignedURLRequest) (*content.SignedURL, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	expiresAt := time.Now().Add(b.urlExpiry)

	query := url.Values{}
	query.Set("expires", fmt.Sprintf("%d", expiresAt.Unix()))
	if req.Filename != "" {
		query.Set("filename", req.Filename)
	}

	return &content.SignedURL{
		URL:       "memory://objects/" + url.PathEscape(req.StoragePath) + "?" + query.Encode(),
		ExpiresAt: expiresAt,
	}, nil
}

// RemoveObjects deletes registered objects and records every requested
// path. Missing objects are not failures.
func (b *MemoryBroker) RemoveObjects(ctx context.Context, storagePaths []string) map[string]error {
	b.mu.Lock()
	defer b.mu.Unlock()

	failures := make(map[string]error)
	for _, path := range storagePaths {
		if b.FailRemovals {
			failures[path] = fmt.Errorf("removal disabled")
			continue
		}
		delete(b.objects, path)
		b.removed = append(b.removed, path)
	}
	return failures
}

// Removed returns every storage path successfully removed so far.
func (b *MemoryBroker) Removed() []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]string, len(b.removed))
	copy(out, b.removed)
	return out
}
