package archive

import (
	"bytes"
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"

	"github.com/drivepoint/source-quickbooks/pkg/errors"
)

type s3Archiver struct {
	uploader *manager.Uploader
	bucket   string
	prefix   string
	codec    codec
	logger   *zap.Logger
}

func newS3(ctx context.Context, bucket, prefix, region, endpoint string, c codec, logger *zap.Logger) (*s3Archiver, error) {
	var loadOpts []func(*awsconfig.LoadOptions) error
	if region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to load AWS configuration")
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	})

	return &s3Archiver{
		uploader: manager.NewUploader(client, func(u *manager.Uploader) {
			u.Concurrency = 2
		}),
		bucket: bucket,
		prefix: prefix,
		codec:  c,
		logger: logger.With(zap.String("bucket", bucket)),
	}, nil
}

func (a *s3Archiver) Put(ctx context.Context, key string, data []byte) error {
	content, err := a.codec.encode(data)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeData, "failed to compress archive object")
	}
	name := joinKey(a.prefix, key) + a.codec.ext

	_, err = a.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(name),
		Body:        bytes.NewReader(content),
		ContentType: aws.String(a.codec.contentType),
		Metadata:    map[string]string{"compression": a.codec.name},
	})
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, "failed to upload to S3")
	}

	a.logger.Debug("report archived", zap.String("key", name), zap.Int("bytes", len(content)))
	return nil
}

func (a *s3Archiver) Backend() string { return "s3" }

func (a *s3Archiver) Close() error { return nil }
