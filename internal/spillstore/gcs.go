package spillstore

import (
	"context"
	"errors"
	"io"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"

	emspill "github.com/NVIDIA/emsqrt/internal/spill"
)

// GCSStorage implements spill.Storage against a Google Cloud Storage bucket.
type GCSStorage struct {
	client *storage.Client
	bucket string
}

func NewGCSStorage(client *storage.Client, bucket string) *GCSStorage {
	return &GCSStorage{client: client, bucket: bucket}
}

func (g *GCSStorage) obj(path string) *storage.ObjectHandle {
	return g.client.Bucket(g.bucket).Object(path)
}

func (g *GCSStorage) Write(ctx context.Context, path string, data []byte) error {
	w := g.obj(path).NewWriter(ctx)
	if _, err := w.Write(data); err != nil {
		w.Close()
		return gcsErr(err, "write", path)
	}
	return gcsErr(w.Close(), "write", path)
}

func (g *GCSStorage) ReadRange(ctx context.Context, path string, offset int64, length int) ([]byte, error) {
	r, err := g.obj(path).NewRangeReader(ctx, offset, int64(length))
	if err != nil {
		return nil, gcsErr(err, "read", path)
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, gcsErr(err, "read", path)
	}
	return data, nil
}

func (g *GCSStorage) Delete(ctx context.Context, path string) error {
	err := g.obj(path).Delete(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil
	}
	return gcsErr(err, "delete", path)
}

func (g *GCSStorage) List(ctx context.Context, prefix string) ([]string, error) {
	var out []string
	it := g.client.Bucket(g.bucket).Objects(ctx, &storage.Query{Prefix: prefix})
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, gcsErr(err, "list", prefix)
		}
		out = append(out, attrs.Name)
	}
	return out, nil
}

func (g *GCSStorage) Size(ctx context.Context, path string) (int64, error) {
	attrs, err := g.obj(path).Attrs(ctx)
	if err != nil {
		return 0, gcsErr(err, "size", path)
	}
	return attrs.Size, nil
}

func (g *GCSStorage) Etag(ctx context.Context, path string) (string, bool, error) {
	attrs, err := g.obj(path).Attrs(ctx)
	if err != nil {
		return "", false, gcsErr(err, "etag", path)
	}
	return attrs.Etag, true, nil
}

func gcsErr(err error, op, path string) error {
	if err == nil {
		return nil
	}
	kind := emspill.ErrFatal
	if errors.Is(err, storage.ErrObjectNotExist) {
		kind = emspill.ErrNotFound
	}
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case 404:
			kind = emspill.ErrNotFound
		case 429, 500, 502, 503, 504:
			kind = emspill.ErrTransient
		}
	}
	return &emspill.StorageError{Kind: kind, Op: op, Path: path, Err: err}
}
