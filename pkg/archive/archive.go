// Package archive stores raw report responses next to the records derived
// from them, in Cloud Storage, S3 or a local directory.
package archive

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"strings"
	"time"

	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/drivepoint/source-quickbooks/pkg/errors"
)

// Archiver writes objects under a prefix
type Archiver interface {
	// Put compresses data and stores it under key
	Put(ctx context.Context, key string, data []byte) error
	// Backend names the storage system, e.g. "gs"
	Backend() string
	Close() error
}

// Options configures Open
type Options struct {
	Logger *zap.Logger
	// GCSOptions are passed to the Cloud Storage client
	GCSOptions []option.ClientOption
	// S3Endpoint overrides the S3 endpoint, for S3 compatible stores
	S3Endpoint string
}

// Open returns the archiver for uri. Supported forms are
// gs://bucket/prefix, s3://bucket/prefix?region=us-east-1 and
// file:///dir. The compression query parameter selects gzip (default),
// zstd or none.
func Open(ctx context.Context, uri string, opts Options) (Archiver, error) {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	u, err := url.Parse(uri)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "invalid archive_uri")
	}

	cdc, err := codecFor(u.Query().Get("compression"))
	if err != nil {
		return nil, err
	}
	prefix := strings.Trim(u.Path, "/")
	logger := opts.Logger.With(zap.String("component", "archive"), zap.String("backend", u.Scheme))

	var (
		a    Archiver
		oErr error
	)
	switch u.Scheme {
	case "gs":
		a, oErr = nilOnError(newGCS(ctx, u.Host, prefix, cdc, logger, opts.GCSOptions...))
	case "s3":
		a, oErr = nilOnError(newS3(ctx, u.Host, prefix, u.Query().Get("region"), opts.S3Endpoint, cdc, logger))
	case "file":
		dir := u.Path
		if u.Host != "" {
			dir = path.Join(u.Host, u.Path)
		}
		a, oErr = nilOnError(newFile(dir, cdc, logger))
	default:
		return nil, errors.New(errors.ErrorTypeConfig, fmt.Sprintf("unsupported archive scheme %q", u.Scheme))
	}
	if oErr != nil {
		return nil, oErr
	}
	return a, nil
}

// nilOnError keeps a typed nil pointer out of the Archiver interface
func nilOnError[T Archiver](a T, err error) (Archiver, error) {
	if err != nil {
		return nil, err
	}
	return a, nil
}

// Key builds the object key of a report slice, without the compression
// extension
func Key(stream, realmID, start, end string, fetchedAt time.Time) string {
	if start == "" {
		start = "begin"
	}
	return path.Join(
		stream,
		"realm="+realmID,
		fmt.Sprintf("%s_%s_%s.json", start, end, fetchedAt.UTC().Format("20060102T150405Z")),
	)
}

func joinKey(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "/" + strings.TrimLeft(key, "/")
}
