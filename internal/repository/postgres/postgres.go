// Package postgres implements repository.Repository against the schema
// from the persistence spec, in the query style of
// gofire/internal/store/postgres.PostgresCronJobStore (plain
// database/sql + lib/pq, no ORM, RETURNING id on insert).
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"runinator/internal/repository"
)

type Repository struct {
	db *sql.DB
}

func New(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func Open(connectionURL string) (*Repository, error) {
	db, err := sql.Open("postgres", connectionURL)
	if err != nil {
		return nil, fmt.Errorf("postgres open: %w", err)
	}
	return &Repository{db: db}, nil
}

func (r *Repository) Close() error { return r.db.Close() }

const taskColumns = `id, name, cron_schedule, action_name, action_function, action_configuration, timeout, next_execution, enabled`

func scanTask(row interface{ Scan(...any) error }) (repository.ScheduledTask, error) {
	var t repository.ScheduledTask
	var next sql.NullTime
	if err := row.Scan(&t.ID, &t.Name, &t.CronSchedule, &t.ActionName, &t.ActionFunction,
		&t.ActionConfiguration, &t.TimeoutMS, &next, &t.Enabled); err != nil {
		return repository.ScheduledTask{}, err
	}
	if next.Valid {
		next.Time = next.Time.UTC()
		t.NextExecution = &next.Time
	}
	return t, nil
}

func (r *Repository) ListTasks(ctx context.Context) ([]repository.ScheduledTask, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+taskColumns+` FROM scheduled_tasks ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var out []repository.ScheduledTask
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("list tasks: scan: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *Repository) ListDueTasks(ctx context.Context, now time.Time) ([]repository.ScheduledTask, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+taskColumns+`
		FROM scheduled_tasks
		WHERE enabled = TRUE AND next_execution IS NOT NULL AND next_execution <= $1
		ORDER BY next_execution ASC
	`, now.UTC())
	if err != nil {
		return nil, fmt.Errorf("list due tasks: %w", err)
	}
	defer rows.Close()

	var out []repository.ScheduledTask
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("list due tasks: scan: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *Repository) GetTask(ctx context.Context, id int64) (repository.ScheduledTask, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM scheduled_tasks WHERE id = $1`, id)
	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return repository.ScheduledTask{}, repository.ErrNotFound
	}
	if err != nil {
		return repository.ScheduledTask{}, fmt.Errorf("get task: %w", err)
	}
	return t, nil
}

func (r *Repository) CreateTask(ctx context.Context, t repository.ScheduledTask) (int64, error) {
	var id int64
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO scheduled_tasks
			(name, cron_schedule, action_name, action_function, action_configuration, timeout, next_execution, enabled)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`, t.Name, t.CronSchedule, t.ActionName, t.ActionFunction, t.ActionConfiguration, t.TimeoutMS, t.NextExecution, t.Enabled).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("create task: %w", err)
	}
	return id, nil
}

func (r *Repository) PatchTask(ctx context.Context, id int64, patch repository.TaskPatch) error {
	existing, err := r.GetTask(ctx, id)
	if err != nil {
		return err
	}
	if patch.Name != nil {
		existing.Name = *patch.Name
	}
	if patch.CronSchedule != nil {
		existing.CronSchedule = *patch.CronSchedule
	}
	if patch.ActionName != nil {
		existing.ActionName = *patch.ActionName
	}
	if patch.ActionFunction != nil {
		existing.ActionFunction = *patch.ActionFunction
	}
	if patch.HasActionConfig {
		existing.ActionConfiguration = patch.ActionConfiguration
	}
	if patch.TimeoutMS != nil {
		existing.TimeoutMS = *patch.TimeoutMS
	}
	if patch.Enabled != nil {
		existing.Enabled = *patch.Enabled
	}
	if patch.HasNextExecution {
		existing.NextExecution = patch.NextExecution
	}

	var nextArg any
	if existing.NextExecution != nil {
		nextArg = existing.NextExecution.UTC()
	}

	res, err := r.db.ExecContext(ctx, `
		UPDATE scheduled_tasks
		SET name = $1, cron_schedule = $2, action_name = $3, action_function = $4,
		    action_configuration = $5, timeout = $6, enabled = $7, next_execution = $8
		WHERE id = $9
	`, existing.Name, existing.CronSchedule, existing.ActionName, existing.ActionFunction,
		existing.ActionConfiguration, existing.TimeoutMS, existing.Enabled, nextArg, id)
	if err != nil {
		return fmt.Errorf("patch task: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *Repository) AdvanceNextExecution(ctx context.Context, id int64, next *time.Time) error {
	var nextArg any
	if next != nil {
		nextArg = next.UTC()
	}
	res, err := r.db.ExecContext(ctx, `UPDATE scheduled_tasks SET next_execution = $1 WHERE id = $2`, nextArg, id)
	if err != nil {
		return fmt.Errorf("advance next_execution: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *Repository) RecordTaskRun(ctx context.Context, run repository.TaskRun) (int64, error) {
	var id int64
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO task_runs (task_id, start_time, duration_ms)
		VALUES ($1, $2, $3)
		RETURNING id
	`, run.TaskID, run.StartTime.UTC(), run.DurationMS).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("record task run: %w", err)
	}
	return id, nil
}

// Migrate creates the schema from spec §6 if it does not already exist,
// in the style of gofire/internal/db.Init's bootstrap migration.
func Migrate(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS scheduled_tasks (
			id SERIAL PRIMARY KEY,
			name TEXT NOT NULL,
			cron_schedule TEXT NOT NULL,
			action_name TEXT NOT NULL,
			action_function TEXT NOT NULL,
			action_configuration BYTEA,
			timeout INTEGER NOT NULL DEFAULT 0,
			next_execution TIMESTAMPTZ NULL,
			enabled BOOLEAN NOT NULL DEFAULT TRUE
		);
		CREATE TABLE IF NOT EXISTS task_runs (
			id SERIAL PRIMARY KEY,
			task_id INTEGER NOT NULL REFERENCES scheduled_tasks(id),
			start_time TIMESTAMPTZ NOT NULL,
			duration_ms INTEGER NOT NULL
		);
	`)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}
