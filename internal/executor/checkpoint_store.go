package executor

import (
	"context"
	"strconv"

	"github.com/mohammad-safakhou/glance/internal/store"
)

// checkpointStore is the subset of store.Store the manager needs.
type checkpointStore interface {
	UpsertCheckpoint(ctx context.Context, cp store.Checkpoint) error
	MarkCheckpointStatus(ctx context.Context, runID string, taskID int, status string) error
}

// StoreCheckpointManager persists checkpoints using the shared store.
type StoreCheckpointManager struct {
	store checkpointStore
}

// NewStoreCheckpointManager constructs a CheckpointManager backed by store.Store.
func NewStoreCheckpointManager(st checkpointStore) *StoreCheckpointManager {
	return &StoreCheckpointManager{store: st}
}

func (m *StoreCheckpointManager) StartRun(ctx context.Context, runID string) error {
	// no-op: progress is tracked at task granularity
	return nil
}

func (m *StoreCheckpointManager) SaveTaskStart(ctx context.Context, runID string, task Task, attempt int) error {
	if m.store == nil {
		return nil
	}
	cp := store.Checkpoint{
		RunID:           runID,
		TaskID:          task.ID,
		Status:          store.CheckpointStatusDispatched,
		CheckpointToken: strconv.Itoa(task.ID),
		Payload: map[string]interface{}{
			"operator":      string(task.Operator),
			"renderer_hint": task.RendererHint,
		},
		Retries: attempt,
	}
	return m.store.UpsertCheckpoint(ctx, cp)
}

func (m *StoreCheckpointManager) SaveTaskSuccess(ctx context.Context, runID string, task Task, attempt int) error {
	if m.store == nil {
		return nil
	}
	return m.store.MarkCheckpointStatus(ctx, runID, task.ID, store.CheckpointStatusCompleted)
}

func (m *StoreCheckpointManager) SaveTaskFailure(ctx context.Context, runID string, task Task, attempt int, err error) error {
	if m.store == nil {
		return nil
	}
	payload := map[string]interface{}{
		"operator": string(task.Operator),
	}
	if err != nil {
		payload["error"] = err.Error()
	}
	cp := store.Checkpoint{
		RunID:           runID,
		TaskID:          task.ID,
		Status:          store.CheckpointStatusCompleted,
		CheckpointToken: strconv.Itoa(task.ID),
		Payload:         payload,
		Retries:         attempt,
	}
	return m.store.UpsertCheckpoint(ctx, cp)
}

var _ CheckpointManager = (*StoreCheckpointManager)(nil)
