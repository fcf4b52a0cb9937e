// Package upload is the interface boundary for image storage. Compression
// and CDN delivery are out of scope here; bytes are stored as received.
package upload

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// BlobStore persists uploaded images and returns a URL the API can serve.
type BlobStore interface {
	// Save stores the blob under the given folder and returns its public URL.
	Save(ctx context.Context, folder, filename string, r io.Reader) (string, error)
	// Remove deletes a blob previously returned by Save. Unknown URLs are a no-op.
	Remove(ctx context.Context, url string) error
}

// LocalStore writes blobs to a directory served under /uploads/.
type LocalStore struct {
	dir     string
	baseURL string
}

// NewLocalStore creates the upload directory if needed.
func NewLocalStore(dir, baseURL string) (*LocalStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &LocalStore{dir: dir, baseURL: strings.TrimSuffix(baseURL, "/")}, nil
}

// Dir returns the directory blobs are written to.
func (s *LocalStore) Dir() string { return s.dir }

func (s *LocalStore) Save(_ context.Context, folder, filename string, r io.Reader) (string, error) {
	ext := filepath.Ext(filepath.Base(filename))
	name := uuid.NewString() + ext

	if err := os.MkdirAll(filepath.Join(s.dir, folder), 0o755); err != nil {
		return "", err
	}

	dst, err := os.Create(filepath.Join(s.dir, folder, name))
	if err != nil {
		return "", err
	}
	defer dst.Close()

	if _, err := io.Copy(dst, r); err != nil {
		os.Remove(dst.Name())
		return "", err
	}

	return fmt.Sprintf("%s/uploads/%s/%s", s.baseURL, folder, name), nil
}

func (s *LocalStore) Remove(_ context.Context, url string) error {
	idx := strings.Index(url, "/uploads/")
	if idx < 0 {
		return nil
	}
	rel := path.Clean(strings.TrimPrefix(url[idx:], "/uploads/"))
	if rel == "." || strings.HasPrefix(rel, "..") {
		return nil
	}
	err := os.Remove(filepath.Join(s.dir, filepath.FromSlash(rel)))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}
