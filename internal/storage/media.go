package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"storepulse/pkg/logger"

	"go.uber.org/zap"
)

// ErrMediaNotFound means the record's media reference points at nothing.
// Fatal for the record: no automatic retry.
var ErrMediaNotFound = errors.New("media not found")

// MediaResolver turns a stored media reference into a local file path the
// transcoder can read. References of the form s3://<key> are fetched from
// object storage into a temp file; /uploads/ URLs and bare filenames
// resolve under the upload directory.
type MediaResolver struct {
	uploadDir string
	objects   *ObjectStore
}

func NewMediaResolver(uploadDir string, objects *ObjectStore) *MediaResolver {
	return &MediaResolver{
		uploadDir: uploadDir,
		objects:   objects,
	}
}

// Resolve returns a readable local path for ref plus a cleanup func that
// releases any temp file. cleanup is always non-nil.
func (m *MediaResolver) Resolve(ctx context.Context, ref string) (string, func(), error) {
	noop := func() {}

	if strings.HasPrefix(ref, "s3://") {
		if m.objects == nil {
			return "", noop, fmt.Errorf("%w: object storage not configured for %s", ErrMediaNotFound, ref)
		}
		return m.download(ctx, strings.TrimPrefix(ref, "s3://"))
	}

	var path string
	switch {
	case strings.HasPrefix(ref, "/uploads/"):
		path = filepath.Join(m.uploadDir, strings.TrimPrefix(ref, "/uploads/"))
	case filepath.IsAbs(ref):
		path = ref
	default:
		path = filepath.Join(m.uploadDir, ref)
	}

	if _, err := os.Stat(path); err != nil {
		return "", noop, fmt.Errorf("%w: %s", ErrMediaNotFound, path)
	}

	return path, noop, nil
}

func (m *MediaResolver) download(ctx context.Context, key string) (string, func(), error) {
	noop := func() {}

	tmp, err := os.CreateTemp("", "storepulse-media-*"+filepath.Ext(key))
	if err != nil {
		return "", noop, fmt.Errorf("failed to create temp file: %w", err)
	}

	cleanup := func() {
		if err := os.Remove(tmp.Name()); err != nil && !os.IsNotExist(err) {
			logger.Warn("Failed to remove temp media file",
				zap.String("path", tmp.Name()), zap.Error(err))
		}
	}

	if err := m.objects.DownloadTo(ctx, key, tmp); err != nil {
		tmp.Close()
		cleanup()
		if errors.Is(err, ErrObjectNotFound) {
			return "", noop, fmt.Errorf("%w: s3://%s", ErrMediaNotFound, key)
		}
		return "", noop, err
	}

	if err := tmp.Close(); err != nil {
		cleanup()
		return "", noop, fmt.Errorf("failed to write temp media file: %w", err)
	}

	return tmp.Name(), cleanup, nil
}
