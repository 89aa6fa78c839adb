package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"crontabd/internal/core"
)

// taskRow is the flat database shape of a task entity. The spec travels as a
// JSON document; the bookkeeping fields get their own columns so the eviction
// sweep could be pushed into SQL later.
type taskRow struct {
	id         string
	version    uint64
	spec       string
	lastTrig   sql.NullString
	success    sql.NullBool
	errorCount int64
}

const taskColumns = "id, version, spec, last_trig, success, error_count"

func (s *SQLiteStore) Create(ctx context.Context, task core.Task) (core.TaskEntity, error) {
	return s.CreateWithID(ctx, core.NewID(), task)
}

func (s *SQLiteStore) CreateWithID(ctx context.Context, id string, task core.Task) (core.TaskEntity, error) {
	row, err := rowFromTask(id, 0, task)
	if err != nil {
		return core.TaskEntity{}, err
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO tasks(id, version, spec, last_trig, success, error_count, created_at, updated_at)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?)`,
		row.id, row.version, row.spec, row.lastTrig, row.success, row.errorCount, now, now)
	if err != nil {
		return core.TaskEntity{}, fmt.Errorf("insert task %s: %w", id, err)
	}
	return core.TaskEntity{ID: id, Version: 0, Task: task}, nil
}

func (s *SQLiteStore) Retrieve(ctx context.Context, id string) (core.TaskEntity, error) {
	var row taskRow
	err := s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id).
		Scan(&row.id, &row.version, &row.spec, &row.lastTrig, &row.success, &row.errorCount)
	if errors.Is(err, sql.ErrNoRows) {
		return core.TaskEntity{}, fmt.Errorf("task %s: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return core.TaskEntity{}, fmt.Errorf("retrieve task %s: %w", id, err)
	}
	return row.toEntity()
}

// Update replaces the stored task value and bumps the version. The new
// version is derived from the row's current version, not the caller's, so the
// store stays the version authority.
func (s *SQLiteStore) Update(ctx context.Context, entity core.TaskEntity, task core.Task) (core.TaskEntity, error) {
	current, err := s.Retrieve(ctx, entity.ID)
	if err != nil {
		return core.TaskEntity{}, err
	}
	version := current.Version + 1
	row, err := rowFromTask(entity.ID, version, task)
	if err != nil {
		return core.TaskEntity{}, err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE tasks
		SET version = ?, spec = ?, last_trig = ?, success = ?, error_count = ?, updated_at = ?
		WHERE id = ?`,
		row.version, row.spec, row.lastTrig, row.success, row.errorCount,
		time.Now().UTC().Format(time.RFC3339Nano), entity.ID)
	if err != nil {
		return core.TaskEntity{}, fmt.Errorf("update task %s: %w", entity.ID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return core.TaskEntity{}, fmt.Errorf("task %s: %w", entity.ID, core.ErrNotFound)
	}
	return core.TaskEntity{ID: entity.ID, Version: version, Task: task}, nil
}

func (s *SQLiteStore) Delete(ctx context.Context, entity core.TaskEntity) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, entity.ID)
	if err != nil {
		return fmt.Errorf("delete task %s: %w", entity.ID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("task %s: %w", entity.ID, core.ErrNotFound)
	}
	return nil
}

// Page returns the tasks at indices [startIndex,endIndex] in insertion order,
// plus the total row count.
func (s *SQLiteStore) Page(ctx context.Context, startIndex, endIndex int64) ([]core.TaskEntity, int64, error) {
	if startIndex < 0 || endIndex < startIndex {
		return nil, 0, fmt.Errorf("invalid page range [%d,%d]", startIndex, endIndex)
	}

	var total int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM tasks`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count tasks: %w", err)
	}

	limit := endIndex - startIndex + 1
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+taskColumns+` FROM tasks ORDER BY seq LIMIT ? OFFSET ?`, limit, startIndex)
	if err != nil {
		return nil, 0, fmt.Errorf("page tasks: %w", err)
	}
	defer rows.Close()

	var entities []core.TaskEntity
	for rows.Next() {
		var row taskRow
		if err := rows.Scan(&row.id, &row.version, &row.spec, &row.lastTrig, &row.success, &row.errorCount); err != nil {
			return nil, 0, fmt.Errorf("scan task row: %w", err)
		}
		entity, err := row.toEntity()
		if err != nil {
			return nil, 0, err
		}
		entities = append(entities, entity)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("page tasks: %w", err)
	}
	return entities, total, nil
}

func rowFromTask(id string, version uint64, task core.Task) (taskRow, error) {
	spec, err := json.Marshal(task.Spec)
	if err != nil {
		return taskRow{}, fmt.Errorf("marshal task spec: %w", err)
	}
	row := taskRow{id: id, version: version, spec: string(spec), errorCount: task.ErrorCount}
	if task.LastTrig != nil {
		row.lastTrig = sql.NullString{String: task.LastTrig.UTC().Format(time.RFC3339Nano), Valid: true}
	}
	if task.Success != nil {
		row.success = sql.NullBool{Bool: *task.Success, Valid: true}
	}
	return row, nil
}

func (r taskRow) toEntity() (core.TaskEntity, error) {
	var spec core.TaskSpec
	if err := json.Unmarshal([]byte(r.spec), &spec); err != nil {
		return core.TaskEntity{}, fmt.Errorf("unmarshal spec of task %s: %w", r.id, err)
	}
	task := core.Task{Spec: spec, ErrorCount: r.errorCount}
	if r.lastTrig.Valid {
		t, err := time.Parse(time.RFC3339Nano, r.lastTrig.String)
		if err != nil {
			return core.TaskEntity{}, fmt.Errorf("parse last_trig of task %s: %w", r.id, err)
		}
		task.LastTrig = &t
	}
	if r.success.Valid {
		success := r.success.Bool
		task.Success = &success
	}
	return core.TaskEntity{ID: r.id, Version: r.version, Task: task}, nil
}
