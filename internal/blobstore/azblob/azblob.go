// Package azblob — blobstore.Store поверх Azure Blob Storage.
package azblob

import (
	"bytes"
	"context"
	"io"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/pkg/errors"

	"github.com/shaiso/Netomata/internal/blobstore"
)

// Scheme — схема ссылок на объекты Azure Blob.
const Scheme = "azblob"

// Options — параметры клиента.
type Options struct {
	ConnectionString string
	Container        string
}

// Validate проверяет параметры.
func (opts Options) Validate() error {
	return validation.ValidateStruct(&opts,
		validation.Field(&opts.ConnectionString, validation.Required),
		validation.Field(&opts.Container, validation.Required),
	)
}

// Store — blobstore.Store поверх Azure Blob.
type Store struct {
	client    *azblob.Client
	container string
}

// New создаёт клиента по строке подключения.
func New(opts Options) (*Store, error) {
	if err := opts.Validate(); err != nil {
		return nil, errors.WithMessage(err, "azblob: invalid configuration")
	}
	client, err := azblob.NewClientFromConnectionString(opts.ConnectionString, nil)
	if err != nil {
		return nil, errors.WithMessage(err, "azblob: failed to initialize client")
	}
	return &Store{client: client, container: opts.Container}, nil
}

// Put реализует blobstore.Store.
func (s *Store) Put(ctx context.Context, key string, data []byte) (string, error) {
	contentType := "text/plain"
	_, err := s.client.UploadBuffer(ctx, s.container, key, data, &azblob.UploadBufferOptions{
		HTTPHeaders: &blob.HTTPHeaders{BlobContentType: &contentType},
	})
	if err != nil {
		return "", errors.WithMessage(err, "azblob: failed to upload object to blob")
	}
	return blobstore.Ref(Scheme, s.container, key), nil
}

// Get реализует blobstore.Store.
func (s *Store) Get(ctx context.Context, ref string) ([]byte, error) {
	key, err := blobstore.ParseRef(ref, Scheme, s.container)
	if err != nil {
		return nil, err
	}
	rsp, err := s.client.DownloadStream(ctx, s.container, key, nil)
	if err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound, bloberror.ContainerNotFound) {
			return nil, blobstore.ErrNotFound
		}
		return nil, errors.WithMessage(err, "azblob: failed to download object")
	}
	defer rsp.Body.Close()

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, rsp.Body); err != nil {
		return nil, errors.WithMessage(err, "azblob: failed to read object")
	}
	return buf.Bytes(), nil
}

// Delete реализует blobstore.Store. Отсутствующий объект — не ошибка.
func (s *Store) Delete(ctx context.Context, ref string) error {
	key, err := blobstore.ParseRef(ref, Scheme, s.container)
	if err != nil {
		return err
	}
	_, err = s.client.DeleteBlob(ctx, s.container, key, nil)
	if err != nil && !bloberror.HasCode(err, bloberror.BlobNotFound) {
		return errors.WithMessage(err, "azblob: failed to delete object")
	}
	return nil
}
