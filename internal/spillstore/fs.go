// Package spillstore provides spill.Storage implementations: local
// filesystem, in-memory (for tests / memory:// sources), and cloud
// adapters (S3, Azure, GCS, HDFS), plus RetryingStorage, a retry
// wrapper for any of them.
package spillstore

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/karrick/godirwalk"

	"github.com/NVIDIA/emsqrt/internal/spill"
)

// FsStorage implements spill.Storage against a local directory tree.
type FsStorage struct {
	root string
}

func NewFsStorage(root string) *FsStorage { return &FsStorage{root: root} }

func (s *FsStorage) resolve(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(s.root, path)
}

func (s *FsStorage) Write(_ context.Context, path string, data []byte) error {
	full := s.resolve(path)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return fsErr(err, "write", path)
	}
	if err := os.WriteFile(full, data, 0o644); err != nil {
		return fsErr(err, "write", path)
	}
	return nil
}

func (s *FsStorage) ReadRange(_ context.Context, path string, offset int64, length int) ([]byte, error) {
	f, err := os.Open(s.resolve(path))
	if err != nil {
		return nil, fsErr(err, "read", path)
	}
	defer f.Close()
	buf := make([]byte, length)
	n, err := f.ReadAt(buf, offset)
	if err != nil && n != length {
		return nil, fsErr(err, "read", path)
	}
	return buf[:n], nil
}

func (s *FsStorage) Delete(_ context.Context, path string) error {
	if err := os.Remove(s.resolve(path)); err != nil && !os.IsNotExist(err) {
		return fsErr(err, "delete", path)
	}
	return nil
}

// List walks the directory tree under prefix using godirwalk, the way
// aistore's fs package favors it over filepath.Walk for large trees.
func (s *FsStorage) List(_ context.Context, prefix string) ([]string, error) {
	root := s.resolve(prefix)
	var out []string
	info, err := os.Stat(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fsErr(err, "list", prefix)
	}
	if !info.IsDir() {
		out = append(out, prefix)
		return out, nil
	}
	err = godirwalk.Walk(root, &godirwalk.Options{
		Callback: func(p string, de *godirwalk.Dirent) error {
			if de.IsDir() {
				return nil
			}
			rel, rerr := filepath.Rel(s.root, p)
			if rerr != nil {
				rel = p
			}
			out = append(out, filepath.ToSlash(rel))
			return nil
		},
		Unsorted: true,
	})
	if err != nil {
		return nil, fsErr(err, "list", prefix)
	}
	return out, nil
}

func (s *FsStorage) Size(_ context.Context, path string) (int64, error) {
	info, err := os.Stat(s.resolve(path))
	if err != nil {
		return 0, fsErr(err, "size", path)
	}
	return info.Size(), nil
}

// Etag uses the file's mtime+size as a cheap local ETag surrogate; real
// cloud backends return the provider's native ETag.
func (s *FsStorage) Etag(_ context.Context, path string) (string, bool, error) {
	info, err := os.Stat(s.resolve(path))
	if err != nil {
		return "", false, fsErr(err, "etag", path)
	}
	return strings.Join([]string{info.ModTime().String(), itoa64(info.Size())}, "-"), true, nil
}

func itoa64(v int64) string {
	if v == 0 {
		return "0"
	}
	neg := v < 0
	if neg {
		v = -v
	}
	var buf [20]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

func fsErr(err error, op, path string) error {
	kind := spill.ErrFatal
	if os.IsNotExist(err) {
		kind = spill.ErrNotFound
	}
	return &spill.StorageError{Kind: kind, Op: op, Path: path, Err: err}
}
