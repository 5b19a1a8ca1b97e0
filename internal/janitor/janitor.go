// Package janitor periodically evicts task results nobody polled and
// temporary files left behind by a crashed process.
package janitor

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/example/facemoji/internal/taskstore"
)

// Report summarizes one sweep.
type Report struct {
	EvictedResults int
	RemovedFiles   int
}

// Janitor runs sweeps on a cron schedule.
type Janitor struct {
	sweeper   taskstore.Sweeper
	uploadDir string
	maxAge    time.Duration
	logger    *zap.Logger

	cron *cron.Cron
	now  func() time.Time
}

// New validates schedule and builds a Janitor. sweeper may be nil when the
// store expires entries itself.
func New(schedule string, sweeper taskstore.Sweeper, uploadDir string, maxAge time.Duration, logger *zap.Logger) (*Janitor, error) {
	if maxAge <= 0 {
		return nil, errors.New("janitor max age must be positive")
	}
	j := &Janitor{
		sweeper:   sweeper,
		uploadDir: uploadDir,
		maxAge:    maxAge,
		logger:    logger.Named("janitor"),
		cron:      cron.New(),
		now:       time.Now,
	}
	if _, err := j.cron.AddFunc(schedule, func() { j.RunOnce() }); err != nil {
		return nil, fmt.Errorf("parse janitor schedule %q: %w", schedule, err)
	}
	return j, nil
}

// Start begins the schedule in the background.
func (j *Janitor) Start() {
	j.cron.Start()
	j.logger.Info("janitor started", zap.Duration("max_age", j.maxAge), zap.String("upload_dir", j.uploadDir))
}

// Stop halts the schedule and waits for a running sweep or ctx.
func (j *Janitor) Stop(ctx context.Context) error {
	done := j.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for janitor: %w", ctx.Err())
	}
}

// RunOnce performs a single sweep.
func (j *Janitor) RunOnce() Report {
	var report Report
	if j.sweeper != nil {
		report.EvictedResults = j.sweeper.Sweep(j.maxAge)
	}
	report.RemovedFiles = j.removeStaleFiles()

	if report.EvictedResults > 0 || report.RemovedFiles > 0 {
		j.logger.Info("sweep finished",
			zap.Int("evicted_results", report.EvictedResults),
			zap.Int("removed_files", report.RemovedFiles))
	}
	return report
}

// removeStaleFiles deletes regular files in the upload directory older than
// maxAge. Live tasks never own a file that old because maxAge exceeds the
// task timeout.
func (j *Janitor) removeStaleFiles() int {
	entries, err := os.ReadDir(j.uploadDir)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			j.logger.Warn("failed to list upload dir", zap.String("upload_dir", j.uploadDir), zap.Error(err))
		}
		return 0
	}

	cutoff := j.now().Add(-j.maxAge)
	removed := 0
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		info, err := entry.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		path := filepath.Join(j.uploadDir, entry.Name())
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			j.logger.Warn("failed to remove stale file", zap.String("path", path), zap.Error(err))
			continue
		}
		removed++
	}
	return removed
}
