package usecase

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"go.uber.org/zap"
)

// artifact is a temporary file owned by exactly one task. Its path is fixed
// before any stage runs so Release can be deferred unconditionally.
type artifact struct {
	path   string
	logger *zap.Logger
}

func newArtifact(dir, taskID, suffix string, logger *zap.Logger) artifact {
	return artifact{path: filepath.Join(dir, taskID+suffix), logger: logger}
}

// Release removes the file. A file that was never created is not an error.
func (a artifact) Release() {
	err := os.Remove(a.path)
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return
	}
	a.logger.Warn("failed to remove temporary file", zap.String("path", a.path), zap.Error(err))
}
