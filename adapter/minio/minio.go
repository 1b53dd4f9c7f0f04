// Package minio stores serialized database images in MinIO or any
// S3-compatible object store.
package minio

import (
	"bytes"
	"context"
	"io"
	"path"

	"github.com/hupe1980/docgo/adapter"
	"github.com/minio/minio-go/v7"
)

// Adapter persists one object per database under an optional key prefix.
type Adapter struct {
	client *minio.Client
	bucket string
	prefix string
}

// New returns an adapter for bucket using a caller-supplied client.
// prefix is prepended to all keys (e.g. "databases/").
func New(client *minio.Client, bucket, prefix string) *Adapter {
	return &Adapter{
		client: client,
		bucket: bucket,
		prefix: prefix,
	}
}

func (a *Adapter) key(name string) string {
	return path.Join(a.prefix, name)
}

// Load fetches the object for name. A missing object maps to
// adapter.ErrNotFound.
func (a *Adapter) Load(ctx context.Context, name string) ([]byte, error) {
	key := a.key(name)

	// StatObject surfaces not-found cleanly; GetObject only fails on read.
	if _, err := a.client.StatObject(ctx, a.bucket, key, minio.StatObjectOptions{}); err != nil {
		errResp := minio.ToErrorResponse(err)
		if errResp.Code == "NoSuchKey" || errResp.Code == "NotFound" {
			return nil, adapter.ErrNotFound
		}
		return nil, err
	}

	obj, err := a.client.GetObject(ctx, a.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, err
	}
	defer obj.Close()

	return io.ReadAll(obj)
}

// Save uploads the image.
func (a *Adapter) Save(ctx context.Context, name string, data []byte) error {
	_, err := a.client.PutObject(ctx, a.bucket, a.key(name), bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{})
	return err
}

// Delete removes the object. Deleting a missing object is not an error.
func (a *Adapter) Delete(ctx context.Context, name string) error {
	err := a.client.RemoveObject(ctx, a.bucket, a.key(name), minio.RemoveObjectOptions{})
	if err != nil {
		errResp := minio.ToErrorResponse(err)
		if errResp.Code == "NoSuchKey" || errResp.Code == "NotFound" {
			return nil
		}
		return err
	}
	return nil
}
