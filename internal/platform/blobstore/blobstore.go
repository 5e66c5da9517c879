// Package blobstore stores export artifacts (workbooks) under opaque keys.
// Objects are write-once: putting an existing key fails with ErrExists.
package blobstore

import (
	"bytes"
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	ErrBlobNotFound = errors.New("blob not found")
	ErrExists       = errors.New("blob already exists")
	ErrFileTooLarge = errors.New("file exceeds maximum allowed size")
	ErrInvalidKey   = errors.New("invalid blob key")
)

// MaxFileSize bounds a single object (100 MB).
const MaxFileSize = 100 * 1024 * 1024

// ContentTypeXLSX is the media type of exported workbooks.
const ContentTypeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// Object describes a stored blob.
type Object struct {
	Key         string    `json:"key"`
	ContentType string    `json:"content_type"`
	Size        int64     `json:"size"`
	SHA256      string    `json:"sha256"`
	CreatedAt   time.Time `json:"created_at"`
	Location    string    `json:"location"`
}

// BlobStore is implemented by the local directory, S3 and in-memory stores.
type BlobStore interface {
	Put(ctx context.Context, key, contentType string, content io.Reader) (*Object, error)
	Get(ctx context.Context, key string) (io.ReadCloser, *Object, error)
}

// NewKey returns a unique key under prefix, keeping name as the last
// segment: exports/2024/03/<uuid>/occhealth.xlsx.
func NewKey(prefix, name string, now time.Time) string {
	return path.Join(prefix, now.UTC().Format("2006/01"), uuid.NewString(), name)
}

func validKey(key string) error {
	if key == "" || strings.HasPrefix(key, "/") || strings.Contains(key, "..") || strings.ContainsRune(key, 0) {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return nil
}

// readAll buffers content, enforcing MaxFileSize, and returns the bytes
// with their hex SHA-256.
func readAll(content io.Reader) ([]byte, string, error) {
	data, err := io.ReadAll(io.LimitReader(content, MaxFileSize+1))
	if err != nil {
		return nil, "", fmt.Errorf("reading content: %w", err)
	}
	if int64(len(data)) > MaxFileSize {
		return nil, "", ErrFileTooLarge
	}
	return data, fmt.Sprintf("%x", sha256.Sum256(data)), nil
}

type storedBlob struct {
	object  Object
	content []byte
}

// InMemoryBlobStore is a thread-safe BlobStore for tests and dry runs.
type InMemoryBlobStore struct {
	mu    sync.RWMutex
	blobs map[string]*storedBlob
}

func NewInMemoryBlobStore() *InMemoryBlobStore {
	return &InMemoryBlobStore{blobs: make(map[string]*storedBlob)}
}

func (s *InMemoryBlobStore) Put(_ context.Context, key, contentType string, content io.Reader) (*Object, error) {
	if err := validKey(key); err != nil {
		return nil, err
	}
	data, sum, err := readAll(content)
	if err != nil {
		return nil, err
	}
	obj := Object{
		Key:         key,
		ContentType: contentType,
		Size:        int64(len(data)),
		SHA256:      sum,
		CreatedAt:   time.Now().UTC(),
		Location:    "mem://" + key,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.blobs[key]; ok {
		return nil, fmt.Errorf("%s: %w", key, ErrExists)
	}
	s.blobs[key] = &storedBlob{object: obj, content: data}
	out := obj
	return &out, nil
}

func (s *InMemoryBlobStore) Get(_ context.Context, key string) (io.ReadCloser, *Object, error) {
	s.mu.RLock()
	blob, ok := s.blobs[key]
	s.mu.RUnlock()
	if !ok {
		return nil, nil, fmt.Errorf("%s: %w", key, ErrBlobNotFound)
	}
	obj := blob.object
	return io.NopCloser(bytes.NewReader(blob.content)), &obj, nil
}

// Keys lists stored keys; order is unspecified.
func (s *InMemoryBlobStore) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.blobs))
	for k := range s.blobs {
		keys = append(keys, k)
	}
	return keys
}
