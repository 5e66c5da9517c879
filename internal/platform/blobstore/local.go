package blobstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"mime"
	"os"
	"path/filepath"
	"time"
)

// LocalBlobStore keeps objects as files under a root directory.
type LocalBlobStore struct {
	root string
}

func NewLocal(root string) (*LocalBlobStore, error) {
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("create blob root: %w", err)
	}
	return &LocalBlobStore{root: root}, nil
}

func (s *LocalBlobStore) path(key string) string {
	return filepath.Join(s.root, filepath.FromSlash(key))
}

func (s *LocalBlobStore) Put(_ context.Context, key, contentType string, content io.Reader) (*Object, error) {
	if err := validKey(key); err != nil {
		return nil, err
	}
	data, sum, err := readAll(content)
	if err != nil {
		return nil, err
	}
	p := s.path(key)
	if err := os.MkdirAll(filepath.Dir(p), 0o750); err != nil {
		return nil, fmt.Errorf("put %s: %w", key, err)
	}
	f, err := os.OpenFile(p, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o640)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return nil, fmt.Errorf("%s: %w", key, ErrExists)
		}
		return nil, fmt.Errorf("put %s: %w", key, err)
	}
	if _, err := io.Copy(f, bytes.NewReader(data)); err != nil {
		f.Close()
		os.Remove(p)
		return nil, fmt.Errorf("put %s: %w", key, err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("put %s: %w", key, err)
	}
	return &Object{
		Key:         key,
		ContentType: contentType,
		Size:        int64(len(data)),
		SHA256:      sum,
		CreatedAt:   time.Now().UTC(),
		Location:    "file://" + p,
	}, nil
}

func (s *LocalBlobStore) Get(_ context.Context, key string) (io.ReadCloser, *Object, error) {
	if err := validKey(key); err != nil {
		return nil, nil, err
	}
	p := s.path(key)
	f, err := os.Open(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil, fmt.Errorf("%s: %w", key, ErrBlobNotFound)
		}
		return nil, nil, fmt.Errorf("get %s: %w", key, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, nil, fmt.Errorf("get %s: %w", key, err)
	}
	return f, &Object{
		Key:         key,
		ContentType: mime.TypeByExtension(filepath.Ext(p)),
		Size:        info.Size(),
		CreatedAt:   info.ModTime().UTC(),
		Location:    "file://" + p,
	}, nil
}
