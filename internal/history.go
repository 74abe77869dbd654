package internal

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// HistoryEntry summarizes one past reconstruction
type HistoryEntry struct {
	ID             string        `json:"id" yaml:"id"`
	MonitorID      string        `json:"monitor_id" yaml:"monitor_id"`
	GroupingKey    string        `json:"grouping_key" yaml:"grouping_key"`
	StartedAt      time.Time     `json:"started_at" yaml:"started_at"`
	DurationMicros int64         `json:"duration_us" yaml:"duration_us"`
	StepCount      int           `json:"step_count" yaml:"step_count"`
	FailedCount    int           `json:"failed_count" yaml:"failed_count"`
	Elapsed        time.Duration `json:"elapsed" yaml:"elapsed"`
	CreatedAt      time.Time     `json:"created_at" yaml:"created_at"`
	Steps          []HistoryStep `json:"steps,omitempty" yaml:"steps,omitempty"`
}

// HistoryStep is the stored outcome of one step
type HistoryStep struct {
	StepIndex  int    `json:"step_index" yaml:"step_index"`
	Status     string `json:"status" yaml:"status"`
	Error      string `json:"error,omitempty" yaml:"error,omitempty"`
	Format     string `json:"format,omitempty" yaml:"format,omitempty"`
	Width      int    `json:"width,omitempty" yaml:"width,omitempty"`
	Height     int    `json:"height,omitempty" yaml:"height,omitempty"`
	SizeBytes  int    `json:"size_bytes,omitempty" yaml:"size_bytes,omitempty"`
	OutputPath string `json:"output_path,omitempty" yaml:"output_path,omitempty"`
}

// HistoryStore records reconstruction metadata. Image bytes are never stored and
// the engine never reads from it.
type HistoryStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewHistoryStore creates a HistoryStore on an opened database
func NewHistoryStore(db *sql.DB) *HistoryStore {
	return &HistoryStore{db: db, now: time.Now}
}

// Record stores a reconstruction. outputPaths maps step index to the written file.
func (h *HistoryStore) Record(ctx context.Context, rec *Reconstruction, outputPaths map[int]string) error {
	tx, err := h.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `INSERT INTO reconstructions
		(id, monitor_id, grouping_key, started_at, duration_us, step_count, failed_count, elapsed_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.MonitorID, rec.Run.GroupingKey, rec.Run.StartedAt.UnixMilli(), rec.Run.DurationMicros,
		len(rec.Steps), len(rec.Failed()), rec.Elapsed.Milliseconds(), h.now().UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to insert reconstruction: %w", err)
	}

	for _, s := range rec.Steps {
		step := historyStepFromResult(s, outputPaths[s.StepIndex])
		_, err := tx.ExecContext(ctx, `INSERT INTO reconstruction_steps
			(reconstruction_id, step_index, status, error, format, width, height, size_bytes, output_path)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			rec.ID, step.StepIndex, step.Status, step.Error, step.Format, step.Width, step.Height, step.SizeBytes, step.OutputPath)
		if err != nil {
			return fmt.Errorf("failed to insert step %d: %w", s.StepIndex, err)
		}
	}

	return tx.Commit()
}

func historyStepFromResult(s StepResult, outputPath string) HistoryStep {
	step := HistoryStep{StepIndex: s.StepIndex, OutputPath: outputPath}
	if !s.OK() {
		step.Status = FailureKind(s.Err)
		if s.Err != nil {
			step.Error = s.Err.Error()
		}
		return step
	}
	step.Status = "ok"
	step.Format = s.Image.Format
	step.Width = s.Image.Width
	step.Height = s.Image.Height
	step.SizeBytes = len(s.Image.Data)
	return step
}

// List returns the most recent entries, newest first. An empty monitorID lists all.
func (h *HistoryStore) List(ctx context.Context, monitorID string, limit int) ([]HistoryEntry, error) {
	if limit <= 0 {
		limit = 20
	}

	query := `SELECT id, monitor_id, grouping_key, started_at, duration_us, step_count, failed_count, elapsed_ms, created_at
		FROM reconstructions`
	args := []interface{}{}
	if monitorID != "" {
		query += " WHERE monitor_id = ?"
		args = append(args, monitorID)
	}
	query += " ORDER BY created_at DESC, rowid DESC LIMIT ?"
	args = append(args, limit)

	rows, err := h.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	var entries []HistoryEntry
	for rows.Next() {
		var (
			e                               HistoryEntry
			startedAt, elapsedMs, createdAt int64
		)
		if err := rows.Scan(&e.ID, &e.MonitorID, &e.GroupingKey, &startedAt, &e.DurationMicros,
			&e.StepCount, &e.FailedCount, &elapsedMs, &createdAt); err != nil {
			return nil, fmt.Errorf("scan failed: %w", err)
		}
		e.StartedAt = time.UnixMilli(startedAt)
		e.Elapsed = time.Duration(elapsedMs) * time.Millisecond
		e.CreatedAt = time.UnixMilli(createdAt)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	return entries, nil
}

// Steps returns the stored steps of one reconstruction in step order
func (h *HistoryStore) Steps(ctx context.Context, id string) ([]HistoryStep, error) {
	rows, err := h.db.QueryContext(ctx, `SELECT step_index, status, error, format, width, height, size_bytes, output_path
		FROM reconstruction_steps WHERE reconstruction_id = ? ORDER BY step_index`, id)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	var steps []HistoryStep
	for rows.Next() {
		var (
			s                    HistoryStep
			errText, format, out sql.NullString
			width, height, size  sql.NullInt64
		)
		if err := rows.Scan(&s.StepIndex, &s.Status, &errText, &format, &width, &height, &size, &out); err != nil {
			return nil, fmt.Errorf("scan failed: %w", err)
		}
		s.Error = errText.String
		s.Format = format.String
		s.Width = int(width.Int64)
		s.Height = int(height.Int64)
		s.SizeBytes = int(size.Int64)
		s.OutputPath = out.String
		steps = append(steps, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	return steps, nil
}
