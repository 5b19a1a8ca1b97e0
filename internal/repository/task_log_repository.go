package repository

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/example/facemoji/internal/logging"
)

// ErrNotFound is returned when no outcome is stored for a task.
var ErrNotFound = errors.New("task log not found")

// TaskLog is the persisted outcome of one task.
type TaskLog struct {
	ID        uint      `gorm:"primaryKey"`
	TaskID    string    `gorm:"column:task_id;uniqueIndex;size:64"`
	Status    string    `gorm:"column:status;size:16;index"`
	Result    string    `gorm:"column:result;type:text"`
	Error     string    `gorm:"column:error;type:text"`
	LatencyMs int64     `gorm:"column:latency_ms"`
	CreatedAt time.Time `gorm:"column:created_at"`
}

// TableName overrides the default table name.
func (TaskLog) TableName() string {
	return "task_logs"
}

// MetricsAggregation is the raw aggregate over all task logs.
type MetricsAggregation struct {
	TotalCount       int64
	CompletedCount   int64
	FailedCount      int64
	AverageLatencyMs float64
}

// TaskLogRepository persists task outcomes.
type TaskLogRepository struct {
	db             *gorm.DB
	logger         *zap.Logger
	retryAttempts  int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// NewTaskLogRepository creates a new repository instance.
func NewTaskLogRepository(db *gorm.DB, logger *zap.Logger) *TaskLogRepository {
	return &TaskLogRepository{
		db:             db,
		logger:         logger.Named("task_log_repository"),
		retryAttempts:  3,
		initialBackoff: 50 * time.Millisecond,
		maxBackoff:     time.Second,
	}
}

// AutoMigrate ensures the schema is available.
func (r *TaskLogRepository) AutoMigrate(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(&TaskLog{})
}

// SaveLog persists a task outcome.
func (r *TaskLogRepository) SaveLog(ctx context.Context, log *TaskLog) error {
	return r.executeWithRetry(ctx, "repository.save_log", log.TaskID, func() error {
		return r.db.WithContext(ctx).Create(log).Error
	})
}

// FindByTaskID retrieves the outcome of one task.
func (r *TaskLogRepository) FindByTaskID(ctx context.Context, taskID string) (*TaskLog, error) {
	var log TaskLog
	err := r.executeWithRetry(ctx, "repository.find_by_task_id", taskID, func() error {
		return r.db.WithContext(ctx).First(&log, "task_id = ?", taskID).Error
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &log, nil
}

// AggregateMetrics summarizes every stored outcome.
func (r *TaskLogRepository) AggregateMetrics(ctx context.Context) (*MetricsAggregation, error) {
	var agg MetricsAggregation
	err := r.executeWithRetry(ctx, "repository.aggregate_metrics", "", func() error {
		return r.db.WithContext(ctx).
			Model(&TaskLog{}).
			Select(`COUNT(*) AS total_count,
				COALESCE(SUM(CASE WHEN status = 'completed' THEN 1 ELSE 0 END), 0) AS completed_count,
				COALESCE(SUM(CASE WHEN status = 'failed' THEN 1 ELSE 0 END), 0) AS failed_count,
				COALESCE(AVG(latency_ms), 0) AS average_latency_ms`).
			Scan(&agg).Error
	})
	if err != nil {
		return nil, err
	}
	return &agg, nil
}

func (r *TaskLogRepository) executeWithRetry(ctx context.Context, operation, taskID string, fn func() error) error {
	opLogger := logging.WithOperation(r.logger, operation, taskID)
	backoff := r.initialBackoff

	var err error
	for attempt := 0; attempt < max(r.retryAttempts, 1); attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return logging.NewOperationError(operation, taskID, ctx.Err())
			case <-time.After(backoff):
			}
			if next := backoff * 2; next <= r.maxBackoff {
				backoff = next
			}
		}

		err = fn()
		if err == nil {
			if attempt > 0 {
				opLogger.Info("database operation succeeded after retry", zap.Int("attempt", attempt+1))
			}
			return nil
		}
		if errors.Is(err, gorm.ErrRecordNotFound) {
			opLogger.Debug("record not found")
			return logging.NewOperationError(operation, taskID, err)
		}
		if !isTransientError(err) {
			break
		}
		opLogger.Warn("transient database error", zap.Error(err), zap.Int("attempt", attempt+1))
	}

	opLogger.Error("database operation failed", zap.Error(err))
	return logging.NewOperationError(operation, taskID, err)
}

func isTransientError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var temporary interface{ Temporary() bool }
	if errors.As(err, &temporary) && temporary.Temporary() {
		return true
	}
	return false
}
