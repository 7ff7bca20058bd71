package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/container"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/sas"
)

type AzureOptions struct {
	AccountName string
	AccountKey  string
	Container   string
	// ServiceURL overrides https://{account}.blob.core.windows.net/ (e.g. Azurite).
	ServiceURL string
	TempDir    string
}

// Azure stores artifacts as block blobs in one container.
type Azure struct {
	client    *azblob.Client
	container *container.Client
	name      string
	tempDir   string
}

func NewAzure(opts AzureOptions) (*Azure, error) {
	if opts.Container == "" {
		return nil, errors.New("azure storage: container is required")
	}
	cred, err := azblob.NewSharedKeyCredential(opts.AccountName, opts.AccountKey)
	if err != nil {
		return nil, fmt.Errorf("azure storage: credentials: %w", err)
	}
	serviceURL := opts.ServiceURL
	if serviceURL == "" {
		serviceURL = fmt.Sprintf("https://%s.blob.core.windows.net/", opts.AccountName)
	}
	client, err := azblob.NewClientWithSharedKeyCredential(serviceURL, cred, nil)
	if err != nil {
		return nil, fmt.Errorf("azure storage: client: %w", err)
	}
	return &Azure{
		client:    client,
		container: client.ServiceClient().NewContainerClient(opts.Container),
		name:      opts.Container,
		tempDir:   opts.TempDir,
	}, nil
}

func (a *Azure) MoveTo(ctx context.Context, localPath, dest string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("open %s: %w", localPath, err)
	}
	_, err = a.client.UploadFile(ctx, a.name, Key(dest), f, nil)
	f.Close()
	if err != nil {
		return fmt.Errorf("upload blob %s: %w", dest, err)
	}
	return os.Remove(localPath)
}

func (a *Azure) Delete(ctx context.Context, p string) error {
	if _, err := a.client.DeleteBlob(ctx, a.name, Key(p), nil); err != nil {
		return fmt.Errorf("delete blob %s: %w", p, err)
	}
	return nil
}

func (a *Azure) ListFiles(ctx context.Context, prefix string) ([]string, error) {
	opts := &azblob.ListBlobsFlatOptions{}
	if prefix != "" {
		key := Key(prefix)
		opts.Prefix = &key
	}
	var names []string
	pager := a.client.NewListBlobsFlatPager(a.name, opts)
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list blobs: %w", err)
		}
		for _, item := range page.Segment.BlobItems {
			if item.Name != nil {
				names = append(names, *item.Name)
			}
		}
	}
	return names, nil
}

func (a *Azure) Fetch(ctx context.Context, p string) (string, func(), error) {
	body, err := a.Open(ctx, p)
	if err != nil {
		return "", nil, err
	}
	defer body.Close()
	return downloadTemp(a.tempDir, p, body)
}

func (a *Azure) Open(ctx context.Context, p string) (io.ReadCloser, error) {
	resp, err := a.client.DownloadStream(ctx, a.name, Key(p), nil)
	if err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound) {
			return nil, fmt.Errorf("%s: %w", p, ErrNotExist)
		}
		return nil, fmt.Errorf("download blob %s: %w", p, err)
	}
	return resp.Body, nil
}

func (a *Azure) Exists(ctx context.Context, p string) (bool, error) {
	_, err := a.Size(ctx, p)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, ErrNotExist) {
		return false, nil
	}
	return false, err
}

func (a *Azure) Size(ctx context.Context, p string) (int64, error) {
	props, err := a.container.NewBlobClient(Key(p)).GetProperties(ctx, nil)
	if err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound) {
			return 0, fmt.Errorf("%s: %w", p, ErrNotExist)
		}
		return 0, fmt.Errorf("blob properties %s: %w", p, err)
	}
	if props.ContentLength == nil {
		return 0, nil
	}
	return *props.ContentLength, nil
}

func (a *Azure) PresignedLink(_ context.Context, p string, expiry time.Duration) (string, error) {
	link, err := a.container.NewBlobClient(Key(p)).GetSASURL(sas.BlobPermissions{Read: true}, time.Now().Add(expiry), nil)
	if err != nil {
		return "", fmt.Errorf("sas url %s: %w", p, err)
	}
	return link, nil
}
