package spillstore

import (
	"bytes"
	"context"
	"io"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/container"

	emspill "github.com/NVIDIA/emsqrt/internal/spill"
)

// AzureStorage implements spill.Storage against an Azure Blob container.
type AzureStorage struct {
	client    *azblob.Client
	container string
}

func NewAzureStorage(client *azblob.Client, containerName string) *AzureStorage {
	return &AzureStorage{client: client, container: containerName}
}

func (a *AzureStorage) Write(ctx context.Context, path string, data []byte) error {
	_, err := a.client.UploadBuffer(ctx, a.container, path, data, nil)
	return azureErr(err, "write", path)
}

func (a *AzureStorage) ReadRange(ctx context.Context, path string, offset int64, length int) ([]byte, error) {
	resp, err := a.client.DownloadStream(ctx, a.container, path, &azblob.DownloadStreamOptions{
		Range: azblob.HTTPRange{Offset: offset, Count: int64(length)},
	})
	if err != nil {
		return nil, azureErr(err, "read", path)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, azureErr(err, "read", path)
	}
	return data, nil
}

func (a *AzureStorage) Delete(ctx context.Context, path string) error {
	_, err := a.client.DeleteBlob(ctx, a.container, path, nil)
	return azureErr(err, "delete", path)
}

func (a *AzureStorage) List(ctx context.Context, prefix string) ([]string, error) {
	var out []string
	pager := a.client.NewListBlobsFlatPager(a.container, &container.ListBlobsFlatOptions{Prefix: &prefix})
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, azureErr(err, "list", prefix)
		}
		for _, item := range page.Segment.BlobItems {
			if item.Name != nil {
				out = append(out, *item.Name)
			}
		}
	}
	return out, nil
}

func (a *AzureStorage) Size(ctx context.Context, path string) (int64, error) {
	props, err := a.client.ServiceClient().NewContainerClient(a.container).NewBlobClient(path).GetProperties(ctx, nil)
	if err != nil {
		return 0, azureErr(err, "size", path)
	}
	if props.ContentLength == nil {
		return 0, nil
	}
	return *props.ContentLength, nil
}

func (a *AzureStorage) Etag(ctx context.Context, path string) (string, bool, error) {
	props, err := a.client.ServiceClient().NewContainerClient(a.container).NewBlobClient(path).GetProperties(ctx, nil)
	if err != nil {
		return "", false, azureErr(err, "etag", path)
	}
	if props.ETag == nil {
		return "", true, nil
	}
	return string(*props.ETag), true, nil
}

func azureErr(err error, op, path string) error {
	if err == nil {
		return nil
	}
	kind := emspill.ErrFatal
	msg := err.Error()
	if containsAny(msg, "BlobNotFound", "ContainerNotFound", "404") {
		kind = emspill.ErrNotFound
	} else if containsAny(msg, "ServerBusy", "OperationTimedOut", "InternalError", "503", "500") {
		kind = emspill.ErrTransient
	}
	return &emspill.StorageError{Kind: kind, Op: op, Path: path, Err: err}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if bytesContains(s, sub) {
			return true
		}
	}
	return false
}

func bytesContains(s, sub string) bool {
	return bytes.Contains([]byte(s), []byte(sub))
}
