package store

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"dfs-go/internal/dfs"
)

// FileSystemStore is a content-addressed store in a local directory:
//
//	<root>/
//	  content/
//	    <cid>     (raw CIDv1 of the bytes)
//
// Resolve returns file:// URLs, so previews work without a gateway.
type FileSystemStore struct {
	root       string
	contentDir string
}

// NewFileSystemStore creates a store rooted at root.
func NewFileSystemStore(root string) (*FileSystemStore, error) {
	contentDir := filepath.Join(root, "content")
	if err := os.MkdirAll(contentDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create content directory: %w", err)
	}
	return &FileSystemStore{root: root, contentDir: contentDir}, nil
}

// Pin writes data under its content id. Pinning existing content is a no-op.
func (s *FileSystemStore) Pin(ctx context.Context, _ string, data []byte) (string, error) {
	contentID, err := ComputeCID(data)
	if err != nil {
		return "", dfs.NewError(dfs.KindStoreRejected, dfs.OpPin, err)
	}
	if err := ctx.Err(); err != nil {
		return "", dfs.NewError(dfs.KindStoreUnavailable, dfs.OpPin, err)
	}

	destPath := filepath.Join(s.contentDir, contentID)
	if _, err := os.Stat(destPath); err == nil {
		return contentID, nil
	}
	if err := s.writeFile(destPath, data); err != nil {
		return "", dfs.NewError(dfs.KindStoreUnavailable, dfs.OpPin, err)
	}
	return contentID, nil
}

func (s *FileSystemStore) Resolve(contentID string) string {
	return "file://" + filepath.ToSlash(filepath.Join(s.contentDir, contentID))
}

func (s *FileSystemStore) Fetch(ctx context.Context, contentID string) ([]byte, error) {
	if strings.ContainsAny(contentID, `/\`) || contentID == "" || strings.HasPrefix(contentID, ".") {
		return nil, dfs.Errorf(dfs.KindInvalidInput, dfs.OpFetch, "invalid content id %q", contentID)
	}
	if err := ctx.Err(); err != nil {
		return nil, dfs.NewError(dfs.KindStoreUnavailable, dfs.OpFetch, err)
	}

	data, err := os.ReadFile(filepath.Join(s.contentDir, contentID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, dfs.Errorf(dfs.KindStoreUnavailable, dfs.OpFetch, "content not found: %s", contentID)
		}
		return nil, dfs.NewError(dfs.KindStoreUnavailable, dfs.OpFetch, fmt.Errorf("failed to read content: %w", err))
	}
	return data, nil
}

// writeFile writes data to destPath using atomic write (temp file + rename).
func (s *FileSystemStore) writeFile(destPath string, data []byte) error {
	tmpFile, err := os.CreateTemp(filepath.Dir(destPath), ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if _, err := io.Copy(tmpFile, bytes.NewReader(data)); err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to write data: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, destPath); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	success = true
	return nil
}

var _ dfs.ContentStore = (*FileSystemStore)(nil)
