package executor

import "context"

// CheckpointManager receives task progress events during a run so the run
// journal can show how far a turn got. SaveTaskStart fires before every
// attempt (attempt counts from 0), SaveTaskFailure after each failed attempt
// with the attempt number already advanced, and SaveTaskSuccess once on the
// transition to DONE.
type CheckpointManager interface {
	StartRun(ctx context.Context, runID string) error
	SaveTaskStart(ctx context.Context, runID string, task Task, attempt int) error
	SaveTaskSuccess(ctx context.Context, runID string, task Task, attempt int) error
	SaveTaskFailure(ctx context.Context, runID string, task Task, attempt int, err error) error
}

// NoopCheckpointManager discards progress events; the executor falls back to
// it when no run journal is configured.
type NoopCheckpointManager struct{}

func NewNoopCheckpointManager() *NoopCheckpointManager { return &NoopCheckpointManager{} }

func (NoopCheckpointManager) StartRun(ctx context.Context, runID string) error { return nil }

func (NoopCheckpointManager) SaveTaskStart(ctx context.Context, runID string, task Task, attempt int) error {
	return nil
}

func (NoopCheckpointManager) SaveTaskSuccess(ctx context.Context, runID string, task Task, attempt int) error {
	return nil
}

func (NoopCheckpointManager) SaveTaskFailure(ctx context.Context, runID string, task Task, attempt int, err error) error {
	return nil
}
