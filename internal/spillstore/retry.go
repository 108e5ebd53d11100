package spillstore

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/NVIDIA/emsqrt/internal/spill"
)

// RetryConfig mirrors spec.md §6's spill_retry_{max_attempts, initial_ms, max_ms}.
type RetryConfig struct {
	MaxAttempts int
	InitialMs   int
	MaxMs       int
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{MaxAttempts: 3, InitialMs: 200, MaxMs: 5000}
}

// RetryingStorage wraps a cloud/network Storage backend with exponential
// backoff (cenkalti/backoff/v4), skipping retries on NotFound/AlreadyExists
// per spec.md §6.
type RetryingStorage struct {
	inner spill.Storage
	cfg   RetryConfig
}

func WithRetry(inner spill.Storage, cfg RetryConfig) *RetryingStorage {
	return &RetryingStorage{inner: inner, cfg: cfg}
}

func (r *RetryingStorage) policy() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Duration(r.cfg.InitialMs) * time.Millisecond
	b.MaxInterval = time.Duration(r.cfg.MaxMs) * time.Millisecond
	b.Multiplier = 2
	b.MaxElapsedTime = 0
	return backoff.WithMaxRetries(b, uint64(r.cfg.MaxAttempts))
}

func retryable(err error) bool {
	se, ok := err.(*spill.StorageError)
	if !ok {
		return false
	}
	return se.Kind == spill.ErrTransient
}

func (r *RetryingStorage) run(ctx context.Context, op func() error) error {
	return backoff.Retry(func() error {
		err := op()
		if err == nil {
			return nil
		}
		if !retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(r.policy(), ctx))
}

func (r *RetryingStorage) Write(ctx context.Context, path string, data []byte) error {
	return r.run(ctx, func() error { return r.inner.Write(ctx, path, data) })
}

func (r *RetryingStorage) ReadRange(ctx context.Context, path string, offset int64, length int) ([]byte, error) {
	var out []byte
	err := r.run(ctx, func() error {
		var e error
		out, e = r.inner.ReadRange(ctx, path, offset, length)
		return e
	})
	return out, err
}

func (r *RetryingStorage) Delete(ctx context.Context, path string) error {
	return r.run(ctx, func() error { return r.inner.Delete(ctx, path) })
}

func (r *RetryingStorage) List(ctx context.Context, prefix string) ([]string, error) {
	var out []string
	err := r.run(ctx, func() error {
		var e error
		out, e = r.inner.List(ctx, prefix)
		return e
	})
	return out, err
}

func (r *RetryingStorage) Size(ctx context.Context, path string) (int64, error) {
	var out int64
	err := r.run(ctx, func() error {
		var e error
		out, e = r.inner.Size(ctx, path)
		return e
	})
	return out, err
}

func (r *RetryingStorage) Etag(ctx context.Context, path string) (string, bool, error) {
	var (
		tag string
		ok  bool
	)
	err := r.run(ctx, func() error {
		var e error
		tag, ok, e = r.inner.Etag(ctx, path)
		return e
	})
	return tag, ok, err
}
