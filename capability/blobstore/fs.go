package blobstore

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"github.com/futureforging/omnia/capability"
)

// Filesystem returns a factory for the directory-backed blobstore. The root
// comes from OMNIA_BLOB_DIR (default: a per-user dir under the OS temp
// root). Each container is a subdirectory, each blob a file with its key
// path-escaped.
func Filesystem() capability.Factory {
	return func(ctx context.Context, logger zerolog.Logger) (capability.Capability, error) {
		root := os.Getenv("OMNIA_BLOB_DIR")
		if root == "" {
			root = filepath.Join(os.TempDir(), "omnia-blobs")
		}
		store, err := OpenFilesystem(root)
		if err != nil {
			return nil, err
		}
		return New(store, logger), nil
	}
}

// FilesystemStore keeps blobs as files under a root directory.
type FilesystemStore struct {
	root string
}

// OpenFilesystem creates the root directory if needed.
func OpenFilesystem(root string) (*FilesystemStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("creating blob root %s: %w", root, err)
	}
	return &FilesystemStore{root: root}, nil
}

// Container implements Blobstore.
func (s *FilesystemStore) Container(ctx context.Context, name string) (Container, error) {
	dir := filepath.Join(s.root, url.PathEscape(name))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating container %s: %w", name, err)
	}
	return &fsContainer{dir: dir}, nil
}

// Close implements Blobstore.
func (s *FilesystemStore) Close(ctx context.Context) error { return nil }

type fsContainer struct {
	dir string
}

func (c *fsContainer) path(key string) string {
	return filepath.Join(c.dir, url.PathEscape(key))
}

func (c *fsContainer) Put(ctx context.Context, key string, data []byte) error {
	// Write-then-rename so a concurrent Get never sees a partial blob.
	tmp, err := os.CreateTemp(c.dir, ".tmp-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), c.path(key))
}

func (c *fsContainer) Get(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := os.ReadFile(c.path(key))
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

func (c *fsContainer) Delete(ctx context.Context, key string) error {
	err := os.Remove(c.path(key))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

func (c *fsContainer) List(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".tmp-") {
			continue
		}
		key, err := url.PathUnescape(e.Name())
		if err != nil {
			continue
		}
		keys = append(keys, key)
	}
	return keys, nil
}
