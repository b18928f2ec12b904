package archive

import (
	"context"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/drivepoint/source-quickbooks/pkg/errors"
)

type fileArchiver struct {
	dir    string
	codec  codec
	logger *zap.Logger
}

func newFile(dir string, c codec, logger *zap.Logger) (*fileArchiver, error) {
	if dir == "" {
		return nil, errors.New(errors.ErrorTypeConfig, "file archive needs a directory")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "failed to create archive directory")
	}
	return &fileArchiver{dir: dir, codec: c, logger: logger.With(zap.String("dir", dir))}, nil
}

func (a *fileArchiver) Put(ctx context.Context, key string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	content, err := a.codec.encode(data)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeData, "failed to compress archive object")
	}

	name := filepath.Join(a.dir, filepath.FromSlash(key)+a.codec.ext)
	if err := os.MkdirAll(filepath.Dir(name), 0o755); err != nil {
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to create archive directory")
	}

	// rename so readers never see a partial object
	tmp := name + ".tmp"
	if err := os.WriteFile(tmp, content, 0o644); err != nil {
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to write archive object")
	}
	if err := os.Rename(tmp, name); err != nil {
		_ = os.Remove(tmp)
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to commit archive object")
	}

	a.logger.Debug("report archived", zap.String("path", name), zap.Int("bytes", len(content)))
	return nil
}

func (a *fileArchiver) Backend() string { return "file" }

func (a *fileArchiver) Close() error { return nil }
