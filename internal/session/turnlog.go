// Package session derives per-session conversational state from the
// append-only turn log: the active task pointer and the displayed-index to
// segment mapping. Both are "latest value for this session" queries, never
// separate tables.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/pahuang-96485/clinic-scheduler/pkg/logging"
)

// ErrSlotMappingNotFound reports that no published mapping within the lookback
// window covers the requested index. Missing is a first-class result.
var ErrSlotMappingNotFound = errors.New("session: no slot mapping for index")

// defaultLookback bounds how many recent turn records a slot resolution scans.
const defaultLookback = 5

// PgxPool is the pgx surface the turn log needs; pgxmock satisfies it.
type PgxPool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// TurnRecord is one appended conversation turn.
type TurnRecord struct {
	SessionID uuid.UUID
	PatientID *uuid.UUID
	DoctorID  *uuid.UUID
	Role      string
	Input     string
	Response  string
	InputMode string
	TaskID    string
	Meta      map[string]any
}

// ChatTurn is the reduced view replayed to the language models.
type ChatTurn struct {
	Role     string `json:"role"`
	Input    string `json:"input"`
	Response string `json:"response"`
}

// TurnLog reads and appends conversation turn records.
type TurnLog struct {
	pool     PgxPool
	lookback int
	logger   *logging.Logger
	tracer   trace.Tracer
}

// NewTurnLog creates a turn log over a pgx pool. lookback <= 0 uses the default.
func NewTurnLog(pool PgxPool, lookback int, logger *logging.Logger) *TurnLog {
	if pool == nil {
		panic("session: pgx pool required")
	}
	if lookback <= 0 {
		lookback = defaultLookback
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &TurnLog{pool: pool, lookback: lookback, logger: logger, tracer: otel.Tracer("session")}
}

// Append writes a turn record. Meta is stored as JSON when present.
func (l *TurnLog) Append(ctx context.Context, rec TurnRecord) error {
	ctx, span := l.tracer.Start(ctx, "session.append_turn")
	defer span.End()

	var meta any
	if len(rec.Meta) > 0 {
		data, err := json.Marshal(rec.Meta)
		if err != nil {
			return fmt.Errorf("session: encode turn meta: %w", err)
		}
		meta = data
	}
	var taskID any
	if rec.TaskID != "" {
		taskID = rec.TaskID
	}

	_, err := l.pool.Exec(ctx, `
		INSERT INTO conversations (session_id, patient_id, doctor_id, role, input, response, input_mode, task_id, meta)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, rec.SessionID, rec.PatientID, rec.DoctorID, rec.Role, rec.Input, rec.Response, rec.InputMode, taskID, meta)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("session: append turn: %w", err)
	}
	return nil
}

// SetTask annotates the session's most recent turn record with the task, or
// clears it when task is empty. Appending turns is not this method's job: when
// the session has no records yet it logs a warning and returns nil.
func (l *TurnLog) SetTask(ctx context.Context, sessionID uuid.UUID, task string) error {
	ctx, span := l.tracer.Start(ctx, "session.set_task")
	defer span.End()

	var taskID any
	if task != "" {
		taskID = task
	}
	tag, err := l.pool.Exec(ctx, `
		UPDATE conversations SET task_id = $1
		WHERE id = (
			SELECT id FROM conversations
			WHERE session_id = $2
			ORDER BY created_at DESC, id DESC
			LIMIT 1
		)
	`, taskID, sessionID)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("session: set task: %w", err)
	}
	if tag.RowsAffected() == 0 {
		l.logger.Warn("no turn record to annotate with task", "session_id", sessionID, "task", task)
	}
	return nil
}

// Task returns the task attached to the session's most recent turn record, or
// empty when the session has no records or no task set.
func (l *TurnLog) Task(ctx context.Context, sessionID uuid.UUID) (string, error) {
	var task *string
	err := l.pool.QueryRow(ctx, `
		SELECT task_id FROM conversations
		WHERE session_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`, sessionID).Scan(&task)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("session: read task: %w", err)
	}
	if task == nil {
		return "", nil
	}
	return *task, nil
}

// History returns the session's most recent turns in chronological order.
func (l *TurnLog) History(ctx context.Context, sessionID uuid.UUID, limit int) ([]ChatTurn, error) {
	if limit <= 0 {
		limit = 6
	}
	rows, err := l.pool.Query(ctx, `
		SELECT role, input, response FROM conversations
		WHERE session_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("session: read history: %w", err)
	}
	defer rows.Close()

	var turns []ChatTurn
	for rows.Next() {
		var t ChatTurn
		if err := rows.Scan(&t.Role, &t.Input, &t.Response); err != nil {
			return nil, fmt.Errorf("session: scan history row: %w", err)
		}
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("session: iterate history: %w", err)
	}

	// Rows come newest-first; callers want them oldest-first.
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns, nil
}

// Delete removes all turn records for the session (logout).
func (l *TurnLog) Delete(ctx context.Context, sessionID uuid.UUID) error {
	ctx, span := l.tracer.Start(ctx, "session.delete_session")
	defer span.End()

	if _, err := l.pool.Exec(ctx, `DELETE FROM conversations WHERE session_id = $1`, sessionID); err != nil {
		span.RecordError(err)
		return fmt.Errorf("session: delete session turns: %w", err)
	}
	return nil
}
