// Package s3 — blobstore.Store поверх AWS S3 (и совместимых хранилищ).
package s3

import (
	"bytes"
	"context"
	"io"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsHttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/pkg/errors"

	"github.com/shaiso/Netomata/internal/blobstore"
)

// Scheme — схема ссылок на объекты S3.
const Scheme = "s3"

// StaticCredentials — ключи доступа, перекрывающие конфигурацию AWS.
type StaticCredentials struct {
	Key    string
	Secret string
	Token  string
}

// Validate проверяет ключи.
func (creds StaticCredentials) Validate() error {
	return validation.ValidateStruct(&creds,
		validation.Field(&creds.Key, validation.Required),
		validation.Field(&creds.Secret, validation.Required),
	)
}

// Retrieve реализует aws.CredentialsProvider.
func (creds StaticCredentials) Retrieve(context.Context) (aws.Credentials, error) {
	return aws.Credentials{
		AccessKeyID:     creds.Key,
		SecretAccessKey: creds.Secret,
		SessionToken:    creds.Token,
		Source:          "netomata:StaticCredentials",
	}, nil
}

// Options — параметры клиента.
type Options struct {
	Bucket string
	Region string

	// Endpoint — адрес S3-совместимого API (MinIO). Пусто — AWS.
	Endpoint string

	// ForcePathStyle кодирует bucket в пути запроса.
	ForcePathStyle bool

	StaticCredentials *StaticCredentials
}

// Validate проверяет параметры.
func (opts Options) Validate() error {
	return validation.ValidateStruct(&opts,
		validation.Field(&opts.Bucket, validation.Required),
		validation.Field(&opts.Region, validation.Required),
		validation.Field(&opts.StaticCredentials),
	)
}

// Store — blobstore.Store поверх S3.
type Store struct {
	client *s3.Client
	bucket string
}

// New создаёт клиента S3 из конфигурации окружения AWS.
func New(ctx context.Context, opts Options) (*Store, error) {
	if err := opts.Validate(); err != nil {
		return nil, errors.WithMessage(err, "s3: invalid configuration")
	}
	cfg, err := awsConfig.LoadDefaultConfig(ctx, awsConfig.WithRegion(opts.Region))
	if err != nil {
		return nil, errors.WithMessage(err, "s3: failed to load aws config")
	}
	return NewFromConfig(cfg, opts)
}

// NewFromConfig создаёт клиента из готовой aws.Config.
func NewFromConfig(cfg aws.Config, opts Options) (*Store, error) {
	if err := opts.Validate(); err != nil {
		return nil, errors.WithMessage(err, "s3: invalid configuration")
	}
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.Region = opts.Region
		o.UsePathStyle = opts.ForcePathStyle
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
		if opts.StaticCredentials != nil {
			o.Credentials = *opts.StaticCredentials
		}
	})
	return &Store{client: client, bucket: opts.Bucket}, nil
}

// Put реализует blobstore.Store.
func (s *Store) Put(ctx context.Context, key string, data []byte) (string, error) {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("text/plain"),
	})
	if err != nil {
		return "", errors.WithMessage(err, "s3: error uploading object")
	}
	return blobstore.Ref(Scheme, s.bucket, key), nil
}

// Get реализует blobstore.Store.
func (s *Store) Get(ctx context.Context, ref string) ([]byte, error) {
	key, err := blobstore.ParseRef(ref, Scheme, s.bucket)
	if err != nil {
		return nil, err
	}
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, blobstore.ErrNotFound
		}
		return nil, errors.WithMessage(err, "s3: error getting object")
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, errors.WithMessage(err, "s3: error reading object")
	}
	return data, nil
}

// Delete реализует blobstore.Store. Отсутствующий объект — не ошибка.
func (s *Store) Delete(ctx context.Context, ref string) error {
	key, err := blobstore.ParseRef(ref, Scheme, s.bucket)
	if err != nil {
		return err
	}
	_, err = s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil && !isNotFound(err) {
		return errors.WithMessage(err, "s3: error deleting object")
	}
	return nil
}

func isNotFound(err error) bool {
	var noKey *types.NoSuchKey
	if errors.As(err, &noKey) {
		return true
	}
	var rspErr *awsHttp.ResponseError
	return errors.As(err, &rspErr) && rspErr.Response != nil &&
		rspErr.Response.StatusCode == http.StatusNotFound
}
