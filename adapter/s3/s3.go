// Package s3 stores serialized database images as objects in Amazon S3.
package s3

import (
	"bytes"
	"context"
	"errors"
	"io"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/hupe1980/docgo/adapter"
)

// Adapter persists one object per database under an optional key prefix.
type Adapter struct {
	client   *s3.Client
	uploader *manager.Uploader
	bucket   string
	prefix   string
}

// New loads the default AWS configuration and returns an adapter for bucket.
// prefix is prepended to all keys (e.g. "my-app/").
func New(ctx context.Context, bucket, prefix string) (*Adapter, error) {
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, err
	}
	return NewWithClient(s3.NewFromConfig(cfg), bucket, prefix), nil
}

// NewWithClient returns an adapter using a caller-supplied client.
func NewWithClient(client *s3.Client, bucket, prefix string) *Adapter {
	return &Adapter{
		client:   client,
		uploader: manager.NewUploader(client),
		bucket:   bucket,
		prefix:   prefix,
	}
}

func (a *Adapter) key(name string) string {
	return path.Join(a.prefix, name)
}

// Load fetches the object for name. A missing object maps to
// adapter.ErrNotFound.
func (a *Adapter) Load(ctx context.Context, name string) ([]byte, error) {
	resp, err := a.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(a.key(name)),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, adapter.ErrNotFound
		}
		var nf *types.NotFound
		if errors.As(err, &nf) {
			return nil, adapter.ErrNotFound
		}
		return nil, err
	}
	defer resp.Body.Close()

	return io.ReadAll(resp.Body)
}

// Save uploads the image. The manager uploader switches to multipart for
// large images.
func (a *Adapter) Save(ctx context.Context, name string, data []byte) error {
	_, err := a.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(a.key(name)),
		Body:   bytes.NewReader(data),
	})
	return err
}

// Delete removes the object. Deleting a missing object is not an error.
func (a *Adapter) Delete(ctx context.Context, name string) error {
	_, err := a.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(a.key(name)),
	})
	return err
}
