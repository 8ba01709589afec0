package media

import (
	"errors"
	"io/fs"
	"os"

	"go.uber.org/zap"
)

// Cleaner implements bid.ArtifactCleaner by deleting files from disk.
type Cleaner struct {
	logger *zap.Logger
}

// NewCleaner returns a Cleaner.
func NewCleaner(logger *zap.Logger) *Cleaner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cleaner{logger: logger.Named("cleanup")}
}

// Cleanup removes both files. Empty paths and files already gone are ignored.
func (c *Cleaner) Cleanup(mediaPath, cardPath string) {
	for _, p := range []string{mediaPath, cardPath} {
		if p == "" {
			continue
		}
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			c.logger.Warn("remove artifact failed", zap.String("path", p), zap.Error(err))
		}
	}
}
