package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/lib/pq"

	"github.com/mohammad-safakhou/glance/config"
)

// Store wraps the Postgres connection used for the run journal.
type Store struct {
	DB *sql.DB
}

// Checkpoint statuses persisted for run processing.
const (
	CheckpointStatusReceived   = "received"
	CheckpointStatusDispatched = "dispatched"
	CheckpointStatusCompleted  = "completed"
)

// Run statuses recorded in the journal.
const (
	RunStatusRunning   = "running"
	RunStatusSucceeded = "succeeded"
	RunStatusFailed    = "failed"
)

// Run is one journaled request: a single user turn through the pipeline.
type Run struct {
	ID         string
	SessionID  string
	Query      string
	Status     string
	Error      string
	Cost       float64
	Tokens     int64
	CreatedAt  time.Time
	FinishedAt sql.NullTime
}

// Checkpoint captures durable progress for one task of a run.
type Checkpoint struct {
	RunID           string
	TaskID          int
	Status          string
	CheckpointToken string
	Payload         map[string]interface{}
	Retries         int
	UpdatedAt       time.Time
}

// New constructs the Store from environment configuration.
func New(ctx context.Context) (*Store, error) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		host := getenvDefault("POSTGRES_HOST", "localhost")
		port := getenvDefault("POSTGRES_PORT", "5432")
		user := os.Getenv("POSTGRES_USER")
		pass := os.Getenv("POSTGRES_PASSWORD")
		db := os.Getenv("POSTGRES_DB")
		ssl := getenvDefault("POSTGRES_SSLMODE", "disable")
		dsn = fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", user, pass, host, port, db, ssl)
	}
	return NewWithDSN(ctx, dsn)
}

// NewFromConfig constructs the Store from the loaded configuration.
func NewFromConfig(ctx context.Context, cfg config.PostgresConfig) (*Store, error) {
	dsn, err := cfg.DSN()
	if err != nil {
		return nil, err
	}
	return NewWithDSN(ctx, dsn)
}

// NewWithDSN constructs the Store using an explicit Postgres DSN.
func NewWithDSN(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}
	return &Store{DB: db}, nil
}

func getenvDefault(k, def string) string {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	return v
}

// InsertRun journals the start of a request.
func (s *Store) InsertRun(ctx context.Context, id, sessionID, query string) error {
	_, err := s.DB.ExecContext(ctx, `
INSERT INTO runs (id, session_id, query, status, created_at)
VALUES ($1,$2,$3,$4,NOW())`, id, sessionID, query, RunStatusRunning)
	return err
}

// FinishRun records the terminal outcome of a run.
func (s *Store) FinishRun(ctx context.Context, id, status, errMsg string, cost float64, tokens int64) error {
	_, err := s.DB.ExecContext(ctx, `
UPDATE runs SET status=$2, error=$3, cost=$4, tokens=$5, finished_at=NOW() WHERE id=$1`,
		id, status, errMsg, cost, tokens)
	return err
}

// GetRun retrieves one run by id. The bool indicates whether it was found.
func (s *Store) GetRun(ctx context.Context, id string) (Run, bool, error) {
	var r Run
	row := s.DB.QueryRowContext(ctx, `
SELECT id::text, session_id, query, status, COALESCE(error,''), cost, tokens, created_at, finished_at
FROM runs WHERE id = $1`, id)
	if err := row.Scan(&r.ID, &r.SessionID, &r.Query, &r.Status, &r.Error, &r.Cost, &r.Tokens, &r.CreatedAt, &r.FinishedAt); err != nil {
		if err == sql.ErrNoRows {
			return Run{}, false, nil
		}
		return Run{}, false, err
	}
	return r, true, nil
}

// ListRunsBySession returns the journaled runs for a session, newest first.
func (s *Store) ListRunsBySession(ctx context.Context, sessionID string, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.DB.QueryContext(ctx, `
SELECT id::text, session_id, query, status, COALESCE(error,''), cost, tokens, created_at, finished_at
FROM runs WHERE session_id = $1 ORDER BY created_at DESC LIMIT $2`, sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Run
	for rows.Next() {
		var r Run
		if err := rows.Scan(&r.ID, &r.SessionID, &r.Query, &r.Status, &r.Error, &r.Cost, &r.Tokens, &r.CreatedAt, &r.FinishedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// UpsertCheckpoint persists checkpoint progress for one task of a run.
func (s *Store) UpsertCheckpoint(ctx context.Context, cp Checkpoint) error {
	if cp.RunID == "" {
		return fmt.Errorf("run_id is required")
	}
	payloadBytes, err := json.Marshal(cp.Payload)
	if err != nil {
		return fmt.Errorf("marshal checkpoint payload: %w", err)
	}
	_, err = s.DB.ExecContext(ctx, `
INSERT INTO run_checkpoints (run_id, task_id, checkpoint_token, status, payload, retries, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,NOW())
ON CONFLICT (run_id, task_id) DO UPDATE SET
  checkpoint_token = EXCLUDED.checkpoint_token,
  status           = EXCLUDED.status,
  payload          = EXCLUDED.payload,
  retries          = EXCLUDED.retries,
  updated_at       = NOW();
`, cp.RunID, cp.TaskID, cp.CheckpointToken, cp.Status, payloadBytes, cp.Retries)
	return err
}

// GetCheckpoint retrieves a checkpoint for a run/task. The bool indicates whether a record was found.
func (s *Store) GetCheckpoint(ctx context.Context, runID string, taskID int) (Checkpoint, bool, error) {
	var (
		payloadBytes []byte
		cp           Checkpoint
	)
	row := s.DB.QueryRowContext(ctx, `
SELECT run_id::text, task_id, status, checkpoint_token, payload, retries, updated_at
FROM run_checkpoints
WHERE run_id = $1 AND task_id = $2`, runID, taskID)
	if err := row.Scan(&cp.RunID, &cp.TaskID, &cp.Status, &cp.CheckpointToken, &payloadBytes, &cp.Retries, &cp.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return Checkpoint{}, false, nil
		}
		return Checkpoint{}, false, err
	}
	if len(payloadBytes) > 0 {
		var m map[string]interface{}
		_ = json.Unmarshal(payloadBytes, &m)
		cp.Payload = m
	}
	return cp, true, nil
}

// ListCheckpointsByStatus returns checkpoints matching any of the provided statuses.
func (s *Store) ListCheckpointsByStatus(ctx context.Context, statuses ...string) ([]Checkpoint, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	rows, err := s.DB.QueryContext(ctx, `
SELECT run_id::text, task_id, status, checkpoint_token, payload, retries, updated_at
FROM run_checkpoints
WHERE status = ANY($1)`, pq.Array(statuses))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Checkpoint
	for rows.Next() {
		var (
			cp           Checkpoint
			payloadBytes []byte
		)
		if err := rows.Scan(&cp.RunID, &cp.TaskID, &cp.Status, &cp.CheckpointToken, &payloadBytes, &cp.Retries, &cp.UpdatedAt); err != nil {
			return nil, err
		}
		if len(payloadBytes) > 0 {
			var m map[string]interface{}
			_ = json.Unmarshal(payloadBytes, &m)
			cp.Payload = m
		}
		out = append(out, cp)
	}
	return out, rows.Err()
}

// MarkCheckpointStatus updates the checkpoint status for a run task.
func (s *Store) MarkCheckpointStatus(ctx context.Context, runID string, taskID int, status string) error {
	_, err := s.DB.ExecContext(ctx, `UPDATE run_checkpoints SET status=$3, updated_at=NOW() WHERE run_id=$1 AND task_id=$2`, runID, taskID, status)
	return err
}
