package spillstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	emspill "github.com/NVIDIA/emsqrt/internal/spill"
)

// S3Storage implements spill.Storage against an S3-compatible bucket,
// the way aistore's ais/backend S3 adapter wraps aws-sdk-go-v2.
type S3Storage struct {
	client *s3.Client
	bucket string
}

func NewS3Storage(client *s3.Client, bucket string) *S3Storage {
	return &S3Storage{client: client, bucket: bucket}
}

func (s *S3Storage) Write(ctx context.Context, path string, data []byte) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(path),
		Body:   bytes.NewReader(data),
	})
	return s3Err(err, "write", path)
}

func (s *S3Storage) ReadRange(ctx context.Context, path string, offset int64, length int) ([]byte, error) {
	rng := fmt.Sprintf("bytes=%d-%d", offset, offset+int64(length)-1)
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(path),
		Range:  aws.String(rng),
	})
	if err != nil {
		return nil, s3Err(err, "read", path)
	}
	defer out.Body.Close()
	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, s3Err(err, "read", path)
	}
	return data, nil
}

func (s *S3Storage) Delete(ctx context.Context, path string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(path),
	})
	return s3Err(err, "delete", path)
}

func (s *S3Storage) List(ctx context.Context, prefix string) ([]string, error) {
	var out []string
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, s3Err(err, "list", prefix)
		}
		for _, obj := range page.Contents {
			out = append(out, aws.ToString(obj.Key))
		}
	}
	return out, nil
}

func (s *S3Storage) Size(ctx context.Context, path string) (int64, error) {
	head, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(path),
	})
	if err != nil {
		return 0, s3Err(err, "size", path)
	}
	return aws.ToInt64(head.ContentLength), nil
}

func (s *S3Storage) Etag(ctx context.Context, path string) (string, bool, error) {
	head, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(path),
	})
	if err != nil {
		return "", false, s3Err(err, "etag", path)
	}
	return strings.Trim(aws.ToString(head.ETag), `"`), true, nil
}

func s3Err(err error, op, path string) error {
	if err == nil {
		return nil
	}
	kind := emspill.ErrFatal
	var nf *types.NoSuchKey
	var apiErr smithy.APIError
	switch {
	case asNoSuchKey(err, &nf):
		kind = emspill.ErrNotFound
	case errorsAs(err, &apiErr) && isTransientS3(apiErr):
		kind = emspill.ErrTransient
	}
	return &emspill.StorageError{Kind: kind, Op: op, Path: path, Err: err}
}

func isTransientS3(apiErr smithy.APIError) bool {
	switch apiErr.ErrorCode() {
	case "RequestTimeout", "SlowDown", "InternalError", "ServiceUnavailable", "Throttling":
		return true
	default:
		return false
	}
}
