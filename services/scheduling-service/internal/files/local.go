// Package files stores session attachments on the local filesystem and
// serves them back under a public base URL.
package files

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

var ErrTooLarge = errors.New("file too large")

type LocalStore struct {
	dir     string
	baseURL string
	maxSize int64
}

func NewLocalStore(dir, baseURL string, maxSize int64) (*LocalStore, error) {
	if dir == "" {
		return nil, errors.New("upload dir is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	if maxSize <= 0 {
		maxSize = 10 << 20
	}
	return &LocalStore{dir: dir, baseURL: strings.TrimRight(baseURL, "/"), maxSize: maxSize}, nil
}

// Stored describes a saved file.
type Stored struct {
	Key  string
	URL  string
	Size int64
}

// Save writes r under prefix with a random name keeping the extension of
// name. Partially written files are removed on error.
func (s *LocalStore) Save(ctx context.Context, prefix, name string, r io.Reader) (Stored, error) {
	if err := ctx.Err(); err != nil {
		return Stored{}, err
	}
	key := joinKey(prefix, uuid.NewString()+safeExt(name))
	full := filepath.Join(s.dir, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return Stored{}, err
	}
	f, err := os.OpenFile(full, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return Stored{}, err
	}
	n, err := io.Copy(f, io.LimitReader(r, s.maxSize+1))
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil && n > s.maxSize {
		err = ErrTooLarge
	}
	if err != nil {
		_ = os.Remove(full)
		return Stored{}, err
	}
	return Stored{Key: key, URL: s.baseURL + "/uploads/" + key, Size: n}, nil
}

func joinKey(prefix, name string) string {
	prefix = strings.Trim(filepath.ToSlash(filepath.Clean("/"+prefix)), "/")
	if prefix == "" {
		return name
	}
	return prefix + "/" + name
}

func safeExt(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	if len(ext) > 10 || strings.ContainsAny(ext, `/\`) {
		return ""
	}
	return ext
}
