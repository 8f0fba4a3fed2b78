package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"mockpair/internal/models"
)

const queueTaskColumns = `id, payload, status, retry_count, last_error, created_at, processed_at, next_retry_at, locked_until`

func (db *DB) EnqueueIntentTask(ctx context.Context, payload string) (*models.QueueTask, error) {
	ts := utcNow()
	query := `INSERT INTO intent_queue (payload, status, retry_count, created_at) VALUES (?, ?, 0, ?) RETURNING id`
	var id int64
	if err := db.QueryRowContext(ctx, db.rebind(query), payload, models.TaskPending, ts).Scan(&id); err != nil {
		return nil, classify("enqueue intent task", err)
	}
	return &models.QueueTask{
		ID:        id,
		Payload:   payload,
		Status:    models.TaskPending,
		CreatedAt: ts,
	}, nil
}

// ClaimIntentTask takes the oldest runnable task and hides it from other
// consumers for visibility. A processing task whose lock expired counts as
// runnable again. Returns nil when nothing is due.
func (db *DB) ClaimIntentTask(ctx context.Context, visibility time.Duration) (*models.QueueTask, error) {
	ts := utcNow()
	lock := ""
	if db.driver == DriverPostgres {
		lock = " FOR UPDATE SKIP LOCKED"
	}
	query := `UPDATE intent_queue SET status = ?, locked_until = ?
		WHERE id = (
			SELECT id FROM intent_queue
			WHERE (status IN (?, ?) AND (next_retry_at IS NULL OR next_retry_at <= ?))
			   OR (status = ? AND locked_until <= ?)
			ORDER BY id
			LIMIT 1` + lock + `
		)
		RETURNING ` + queueTaskColumns

	row := db.QueryRowContext(ctx, db.rebind(query),
		models.TaskProcessing, ts.Add(visibility),
		models.TaskPending, models.TaskRetry, ts,
		models.TaskProcessing, ts,
	)
	task, err := scanQueueTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, classify("claim intent task", err)
	}
	return task, nil
}

func (db *DB) CompleteIntentTask(ctx context.Context, id int64) error {
	query := `UPDATE intent_queue SET status = ?, processed_at = ?, locked_until = NULL WHERE id = ?`
	if _, err := db.ExecContext(ctx, db.rebind(query), models.TaskCompleted, utcNow(), id); err != nil {
		return classify("complete intent task", err)
	}
	return nil
}

// RetryIntentTask releases the task for another attempt at nextRetryAt.
func (db *DB) RetryIntentTask(ctx context.Context, id int64, errMsg string, nextRetryAt time.Time) error {
	query := `UPDATE intent_queue
		SET status = ?, last_error = ?, next_retry_at = ?, locked_until = NULL, retry_count = retry_count + 1
		WHERE id = ?`
	if _, err := db.ExecContext(ctx, db.rebind(query), models.TaskRetry, errMsg, nextRetryAt.UTC(), id); err != nil {
		return classify("retry intent task", err)
	}
	return nil
}

func (db *DB) FailIntentTask(ctx context.Context, id int64, errMsg string) error {
	query := `UPDATE intent_queue
		SET status = ?, last_error = ?, processed_at = ?, next_retry_at = NULL, locked_until = NULL
		WHERE id = ?`
	if _, err := db.ExecContext(ctx, db.rebind(query), models.TaskFailed, errMsg, utcNow(), id); err != nil {
		return classify("fail intent task", err)
	}
	return nil
}

func (db *DB) GetIntentTask(ctx context.Context, id int64) (*models.QueueTask, error) {
	query := `SELECT ` + queueTaskColumns + ` FROM intent_queue WHERE id = ?`
	task, err := scanQueueTask(db.QueryRowContext(ctx, db.rebind(query), id))
	if err != nil {
		return nil, classify("get intent task", err)
	}
	return task, nil
}

// GetFailedIntentTasks lists dead-lettered tasks, newest first.
func (db *DB) GetFailedIntentTasks(ctx context.Context) ([]*models.QueueTask, error) {
	query := `SELECT ` + queueTaskColumns + ` FROM intent_queue WHERE status = ? ORDER BY id DESC`
	rows, err := db.QueryContext(ctx, db.rebind(query), models.TaskFailed)
	if err != nil {
		return nil, classify("get failed intent tasks", err)
	}
	defer rows.Close()

	var tasks []*models.QueueTask
	for rows.Next() {
		t, err := scanQueueTask(rows)
		if err != nil {
			return nil, classify("get failed intent tasks", err)
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("get failed intent tasks", err)
	}
	return tasks, nil
}

func scanQueueTask(row rowScanner) (*models.QueueTask, error) {
	var t models.QueueTask
	var lastError sql.NullString
	if err := row.Scan(
		&t.ID,
		&t.Payload,
		&t.Status,
		&t.RetryCount,
		&lastError,
		scanTime{dst: &t.CreatedAt},
		scanNullTime{dst: &t.ProcessedAt},
		scanNullTime{dst: &t.NextRetryAt},
		scanNullTime{dst: &t.LockedUntil},
	); err != nil {
		return nil, err
	}
	if lastError.Valid {
		msg := lastError.String
		t.LastError = &msg
	}
	return &t, nil
}

// PurgeCompletedIntentTasks drops completed tasks processed before cutoff.
func (db *DB) PurgeCompletedIntentTasks(ctx context.Context, before time.Time) (int64, error) {
	query := `DELETE FROM intent_queue WHERE status = ? AND processed_at <= ?`
	result, err := db.ExecContext(ctx, db.rebind(query), models.TaskCompleted, before.UTC())
	if err != nil {
		return 0, classify("purge intent tasks", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purge intent tasks: %w (%v)", ErrFatal, err)
	}
	return n, nil
}
