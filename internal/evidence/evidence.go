// Package evidence stores the files drivers attach to appeals. The service
// layer only sees BlobStore; the MinIO and in-memory implementations swap
// via configuration.
package evidence

import (
	"bytes"
	"context"
	"io"
	"sync"

	"github.com/google/uuid"

	"fineledger/pkg/platform/sentinel"
)

// Blob describes one stored evidence file.
type Blob struct {
	Key         string
	FileName    string
	ContentType string
	SizeBytes   int64
}

type BlobStore interface {
	// Put stores the reader's contents and returns the assigned key.
	Put(ctx context.Context, appealID string, fileName, contentType string, r io.Reader, size int64) (Blob, error)
	// Get opens the blob for reading. Callers close the reader.
	Get(ctx context.Context, key string) (Blob, io.ReadCloser, error)
	// Delete removes the blob. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
}

// NewKey namespaces blobs per appeal so one appeal's evidence lists together.
func NewKey(appealID string) string {
	return appealID + "/" + uuid.NewString()
}

// MemoryStore holds blobs in memory. Development and tests only.
type MemoryStore struct {
	mu    sync.RWMutex
	blobs map[string]memoryBlob
}

type memoryBlob struct {
	meta Blob
	data []byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{blobs: make(map[string]memoryBlob)}
}

func (s *MemoryStore) Put(_ context.Context, appealID, fileName, contentType string, r io.Reader, size int64) (Blob, error) {
	data, err := io.ReadAll(io.LimitReader(r, size))
	if err != nil {
		return Blob{}, err
	}
	blob := Blob{
		Key:         NewKey(appealID),
		FileName:    fileName,
		ContentType: contentType,
		SizeBytes:   int64(len(data)),
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blobs[blob.Key] = memoryBlob{meta: blob, data: data}
	return blob, nil
}

func (s *MemoryStore) Get(_ context.Context, key string) (Blob, io.ReadCloser, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stored, ok := s.blobs[key]
	if !ok {
		return Blob{}, nil, sentinel.ErrNotFound
	}
	return stored.meta, io.NopCloser(bytes.NewReader(stored.data)), nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.blobs, key)
	return nil
}
