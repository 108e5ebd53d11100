package spillstore

import (
	"context"
	"io"
	"os"
	"path"

	"github.com/colinmarc/hdfs/v2"

	emspill "github.com/NVIDIA/emsqrt/internal/spill"
)

// HDFSStorage implements spill.Storage against an HDFS cluster.
type HDFSStorage struct {
	client *hdfs.Client
	root   string
}

func NewHDFSStorage(client *hdfs.Client, root string) *HDFSStorage {
	return &HDFSStorage{client: client, root: root}
}

func (h *HDFSStorage) resolve(p string) string { return path.Join(h.root, p) }

func (h *HDFSStorage) Write(_ context.Context, p string, data []byte) error {
	full := h.resolve(p)
	if err := h.client.MkdirAll(path.Dir(full), 0o755); err != nil {
		return hdfsErr(err, "write", p)
	}
	w, err := h.client.Create(full)
	if err != nil {
		if os.IsExist(err) {
			if rmErr := h.client.Remove(full); rmErr != nil {
				return hdfsErr(rmErr, "write", p)
			}
			w, err = h.client.Create(full)
		}
		if err != nil {
			return hdfsErr(err, "write", p)
		}
	}
	if _, err := w.Write(data); err != nil {
		w.Close()
		return hdfsErr(err, "write", p)
	}
	return hdfsErr(w.Close(), "write", p)
}

func (h *HDFSStorage) ReadRange(_ context.Context, p string, offset int64, length int) ([]byte, error) {
	r, err := h.client.Open(h.resolve(p))
	if err != nil {
		return nil, hdfsErr(err, "read", p)
	}
	defer r.Close()
	if _, err := r.Seek(offset, io.SeekStart); err != nil {
		return nil, hdfsErr(err, "read", p)
	}
	buf := make([]byte, length)
	n, err := io.ReadFull(r, buf)
	if err != nil && err != io.ErrUnexpectedEOF {
		return nil, hdfsErr(err, "read", p)
	}
	return buf[:n], nil
}

func (h *HDFSStorage) Delete(_ context.Context, p string) error {
	if err := h.client.Remove(h.resolve(p)); err != nil && !os.IsNotExist(err) {
		return hdfsErr(err, "delete", p)
	}
	return nil
}

func (h *HDFSStorage) List(_ context.Context, prefix string) ([]string, error) {
	full := h.resolve(prefix)
	infos, err := h.client.ReadDir(full)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, hdfsErr(err, "list", prefix)
	}
	out := make([]string, 0, len(infos))
	for _, info := range infos {
		out = append(out, path.Join(prefix, info.Name()))
	}
	return out, nil
}

func (h *HDFSStorage) Size(_ context.Context, p string) (int64, error) {
	info, err := h.client.Stat(h.resolve(p))
	if err != nil {
		return 0, hdfsErr(err, "size", p)
	}
	return info.Size(), nil
}

func (h *HDFSStorage) Etag(_ context.Context, p string) (string, bool, error) {
	info, err := h.client.Stat(h.resolve(p))
	if err != nil {
		return "", false, hdfsErr(err, "etag", p)
	}
	return info.ModTime().String(), true, nil
}

func hdfsErr(err error, op, path string) error {
	if err == nil {
		return nil
	}
	kind := emspill.ErrFatal
	if os.IsNotExist(err) {
		kind = emspill.ErrNotFound
	}
	return &emspill.StorageError{Kind: kind, Op: op, Path: path, Err: err}
}
