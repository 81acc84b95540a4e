// Package artifact keeps generated binary assets in process memory and hands
// out revocable handles that the HTTP layer can serve by ID.
package artifact

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned for unknown or already released handles.
var ErrNotFound = errors.New("artifact not found")

// Handle addresses one registered asset.
type Handle struct {
	ID        string    `json:"id"`
	MIMEType  string    `json:"mime_type"`
	Size      int       `json:"size"`
	CreatedAt time.Time `json:"created_at"`
}

// URL is the path the asset is served under.
func (h *Handle) URL() string {
	return "/api/artifacts/" + h.ID
}

type blob struct {
	handle Handle
	data   []byte
}

// Registry is a thread-safe in-memory asset store.
type Registry struct {
	mu       sync.RWMutex
	blobs    map[string]*blob
	released atomic.Int64
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{blobs: make(map[string]*blob)}
}

// Create registers data and returns its handle. The registry keeps its own copy.
func (r *Registry) Create(data []byte, mimeType string) *Handle {
	buf := make([]byte, len(data))
	copy(buf, data)

	h := Handle{
		ID:        uuid.NewString(),
		MIMEType:  mimeType,
		Size:      len(buf),
		CreatedAt: time.Now(),
	}

	r.mu.Lock()
	r.blobs[h.ID] = &blob{handle: h, data: buf}
	r.mu.Unlock()

	return &h
}

// Open returns the asset bytes and handle for id.
func (r *Registry) Open(id string) ([]byte, *Handle, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	b, ok := r.blobs[id]
	if !ok {
		return nil, nil, ErrNotFound
	}
	h := b.handle
	return b.data, &h, nil
}

// Release revokes the handle. Releasing twice returns ErrNotFound.
func (r *Registry) Release(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.blobs[id]; !ok {
		return ErrNotFound
	}
	delete(r.blobs, id)
	r.released.Add(1)
	return nil
}

// Live returns the number of handles not yet released.
func (r *Registry) Live() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.blobs)
}

// Released returns the number of successful releases so far.
func (r *Registry) Released() int64 {
	return r.released.Load()
}
