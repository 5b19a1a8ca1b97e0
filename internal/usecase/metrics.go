package usecase

import (
	"context"

	"github.com/example/facemoji/internal/repository"
)

// StatsSummary represents aggregated task outcomes.
type StatsSummary struct {
	TotalTasks       int64   `json:"total_tasks"`
	CompletedTasks   int64   `json:"completed_tasks"`
	FailedTasks      int64   `json:"failed_tasks"`
	SuccessRate      float64 `json:"success_rate"`
	AverageLatencyMs float64 `json:"average_latency_ms"`
}

// StatsEnabled reports whether outcomes are being persisted.
func (o *Orchestrator) StatsEnabled() bool {
	return o.logs != nil
}

// StatsSummary aggregates task outcomes from the persisted logs.
func (o *Orchestrator) StatsSummary(ctx context.Context) (*StatsSummary, error) {
	if o.logs == nil {
		return nil, ErrStatsUnavailable
	}
	aggregation, err := o.logs.AggregateMetrics(ctx)
	if err != nil {
		return nil, err
	}

	summary := &StatsSummary{
		TotalTasks:       aggregation.TotalCount,
		CompletedTasks:   aggregation.CompletedCount,
		FailedTasks:      aggregation.FailedCount,
		AverageLatencyMs: aggregation.AverageLatencyMs,
	}
	if aggregation.TotalCount > 0 {
		summary.SuccessRate = float64(aggregation.CompletedCount) / float64(aggregation.TotalCount)
	}
	return summary, nil
}

// TaskHistory returns the persisted outcome of taskID. Unlike Poll it does
// not consume anything.
func (o *Orchestrator) TaskHistory(ctx context.Context, taskID string) (*repository.TaskLog, error) {
	if o.logs == nil {
		return nil, ErrStatsUnavailable
	}
	return o.logs.FindByTaskID(ctx, taskID)
}
