// Package azure archives audit exports in an Azure Blob Storage container.
// Downloads are handed out as read-only SAS URLs. Uploads carry
// If-None-Match: * so an existing blob is never replaced.
package azure

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/streaming"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blockblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/sas"

	"github.com/gigmarket/marketplace/internal/config"
	"github.com/gigmarket/marketplace/internal/storage"
	"github.com/gigmarket/marketplace/pkg/checksum"
)

func init() {
	storage.Register("azure", func(cfg *config.Config) (storage.Storage, error) {
		return New(&cfg.Storage.Azure)
	})
}

// clockSkew backdates SAS start times
const clockSkew = 5 * time.Minute

// AzureStorage implements storage.Storage on one container
type AzureStorage struct {
	client     *azblob.Client
	credential *azblob.SharedKeyCredential
	container  string
	serviceURL string
}

// New creates a shared-key client for the configured account
func New(cfg *config.AzureStorageConfig) (*AzureStorage, error) {
	if cfg.AccountName == "" {
		return nil, fmt.Errorf("azure storage account name is required")
	}
	if cfg.AccountKey == "" {
		return nil, fmt.Errorf("azure storage account key is required")
	}
	if cfg.ContainerName == "" {
		return nil, fmt.Errorf("azure storage container name is required")
	}

	credential, err := azblob.NewSharedKeyCredential(cfg.AccountName, cfg.AccountKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create Azure credential: %w", err)
	}
	serviceURL := fmt.Sprintf("https://%s.blob.core.windows.net/", cfg.AccountName)
	client, err := azblob.NewClientWithSharedKeyCredential(serviceURL, credential, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create Azure Blob client: %w", err)
	}

	return &AzureStorage{
		client:     client,
		credential: credential,
		container:  cfg.ContainerName,
		serviceURL: serviceURL,
	}, nil
}

func (s *AzureStorage) blob(path string) *blockblob.Client {
	return s.client.ServiceClient().NewContainerClient(s.container).NewBlockBlobClient(path)
}

// Upload writes a new block blob with the checksum in its metadata
func (s *AzureStorage) Upload(ctx context.Context, path string, reader io.Reader, _ int64) (*storage.UploadResult, error) {
	data, sum, err := storage.ReadAll(reader)
	if err != nil {
		return nil, err
	}

	_, err = s.blob(path).Upload(ctx, streaming.NopCloser(bytes.NewReader(data)), &blockblob.UploadOptions{
		HTTPHeaders: &blob.HTTPHeaders{BlobContentType: to.Ptr(storage.ContentType)},
		Metadata:    map[string]*string{storage.ChecksumMetaKey: to.Ptr(sum)},
		AccessConditions: &blob.AccessConditions{
			ModifiedAccessConditions: &blob.ModifiedAccessConditions{IfNoneMatch: to.Ptr(azcore.ETagAny)},
		},
	})
	if err != nil {
		switch statusCode(err) {
		case http.StatusConflict, http.StatusPreconditionFailed:
			return nil, storage.Exists(path)
		}
		return nil, fmt.Errorf("failed to upload to Azure Blob: %w", err)
	}

	return &storage.UploadResult{Path: path, Size: int64(len(data)), Checksum: sum}, nil
}

// Download streams the blob
func (s *AzureStorage) Download(ctx context.Context, path string) (io.ReadCloser, error) {
	resp, err := s.blob(path).DownloadStream(ctx, nil)
	if err != nil {
		if statusCode(err) == http.StatusNotFound {
			return nil, storage.NotFound(path)
		}
		return nil, fmt.Errorf("failed to download from Azure Blob: %w", err)
	}
	return resp.Body, nil
}

// GetURL signs a read-only HTTPS SAS valid for ttl
func (s *AzureStorage) GetURL(_ context.Context, path string, ttl time.Duration) (string, error) {
	now := time.Now().UTC()
	params, err := sas.BlobSignatureValues{
		Protocol:      sas.ProtocolHTTPS,
		StartTime:     now.Add(-clockSkew),
		ExpiryTime:    now.Add(ttl),
		Permissions:   to.Ptr(sas.BlobPermissions{Read: true}).String(),
		ContainerName: s.container,
		BlobName:      path,
	}.SignWithSharedKey(s.credential)
	if err != nil {
		return "", fmt.Errorf("failed to generate SAS token: %w", err)
	}
	return fmt.Sprintf("%s%s/%s?%s", s.serviceURL, s.container, url.PathEscape(path), params.Encode()), nil
}

// Exists reads blob properties. Only a 404 means absent.
func (s *AzureStorage) Exists(ctx context.Context, path string) (bool, error) {
	_, err := s.blob(path).GetProperties(ctx, nil)
	if err != nil {
		if statusCode(err) == http.StatusNotFound {
			return false, nil
		}
		return false, fmt.Errorf("failed to check blob existence: %w", err)
	}
	return true, nil
}

// GetMetadata reads blob properties, hashing the body when no checksum was stored
func (s *AzureStorage) GetMetadata(ctx context.Context, path string) (*storage.FileMetadata, error) {
	props, err := s.blob(path).GetProperties(ctx, nil)
	if err != nil {
		if statusCode(err) == http.StatusNotFound {
			return nil, storage.NotFound(path)
		}
		return nil, fmt.Errorf("failed to get blob properties: %w", err)
	}

	var sum string
	// header canonicalization changes the key's case
	for k, v := range props.Metadata {
		if v != nil && strings.EqualFold(k, storage.ChecksumMetaKey) {
			sum = *v
		}
	}
	if sum == "" {
		body, err := s.Download(ctx, path)
		if err != nil {
			return nil, err
		}
		defer body.Close()
		if sum, err = checksum.CalculateSHA256(body); err != nil {
			return nil, err
		}
	}

	meta := &storage.FileMetadata{Path: path, Checksum: sum}
	if props.ContentLength != nil {
		meta.Size = *props.ContentLength
	}
	if props.LastModified != nil {
		meta.LastModified = *props.LastModified
	}
	return meta, nil
}

// statusCode returns the HTTP status of an Azure response error, or 0.
func statusCode(err error) int {
	var re *azcore.ResponseError
	if errors.As(err, &re) {
		return re.StatusCode
	}
	return 0
}
