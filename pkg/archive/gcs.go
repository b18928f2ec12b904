package archive

import (
	"context"
	"time"

	"cloud.google.com/go/storage"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/drivepoint/source-quickbooks/pkg/errors"
)

type gcsArchiver struct {
	client *storage.Client
	bucket *storage.BucketHandle
	prefix string
	codec  codec
	logger *zap.Logger
}

func newGCS(ctx context.Context, bucket, prefix string, c codec, logger *zap.Logger, opts ...option.ClientOption) (*gcsArchiver, error) {
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to create GCS client")
	}
	return &gcsArchiver{
		client: client,
		bucket: client.Bucket(bucket),
		prefix: prefix,
		codec:  c,
		logger: logger.With(zap.String("bucket", bucket)),
	}, nil
}

func (a *gcsArchiver) Put(ctx context.Context, key string, data []byte) error {
	content, err := a.codec.encode(data)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeData, "failed to compress archive object")
	}
	name := joinKey(a.prefix, key) + a.codec.ext

	w := a.bucket.Object(name).NewWriter(ctx)
	w.ContentType = a.codec.contentType
	w.Metadata = map[string]string{
		"compression": a.codec.name,
		"created":     time.Now().UTC().Format(time.RFC3339),
	}

	if _, err := w.Write(content); err != nil {
		_ = w.Close()
		return errors.Wrap(err, errors.ErrorTypeConnection, "failed to write to GCS")
	}
	if err := w.Close(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, "failed to close GCS writer")
	}

	a.logger.Debug("report archived", zap.String("object", name), zap.Int("bytes", len(content)))
	return nil
}

func (a *gcsArchiver) Backend() string { return "gs" }

func (a *gcsArchiver) Close() error {
	return a.client.Close()
}
