// Package repository defines the persistence collaborator the web service
// uses for scheduled tasks and task runs, grounded on gofire's
// store.CronJobStore — narrowed to the two tables this system actually
// needs instead of gofire's broader job-status lifecycle.
package repository

import (
	"context"
	"time"
)

// ScheduledTask is the persisted form of a cron task definition.
type ScheduledTask struct {
	ID                  int64
	Name                string
	CronSchedule        string
	ActionName          string
	ActionFunction      string
	ActionConfiguration []byte
	TimeoutMS           int64
	NextExecution       *time.Time
	Enabled             bool
}

// TaskRun records one completed (or timed-out) handler invocation.
type TaskRun struct {
	ID         int64
	TaskID     int64
	StartTime  time.Time
	DurationMS int64
}

// TaskPatch carries only the fields a PATCH /tasks/{id} request updated.
type TaskPatch struct {
	Name                 *string
	CronSchedule         *string
	ActionName           *string
	ActionFunction       *string
	ActionConfiguration  []byte
	HasActionConfig      bool
	TimeoutMS            *int64
	Enabled              *bool
	NextExecution        *time.Time
	HasNextExecution      bool
}

// Repository is the narrow persistence contract the web service depends on.
// The scheduler's embedded-test mode talks to it directly, bypassing HTTP,
// the way gofire's CronJobManager can be constructed against either a real
// store or test/mocks.MockCronJobRepository.
type Repository interface {
	ListTasks(ctx context.Context) ([]ScheduledTask, error)
	ListDueTasks(ctx context.Context, now time.Time) ([]ScheduledTask, error)
	GetTask(ctx context.Context, id int64) (ScheduledTask, error)
	CreateTask(ctx context.Context, t ScheduledTask) (int64, error)
	PatchTask(ctx context.Context, id int64, patch TaskPatch) error
	AdvanceNextExecution(ctx context.Context, id int64, next *time.Time) error
	RecordTaskRun(ctx context.Context, r TaskRun) (int64, error)
}

// ErrNotFound is returned by GetTask/PatchTask when the id does not exist.
var ErrNotFound = notFoundError{}

type notFoundError struct{}

func (notFoundError) Error() string { return "repository: task not found" }
