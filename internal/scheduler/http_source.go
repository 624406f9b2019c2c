package scheduler

import (
	"context"
	"time"

	"runinator/internal/webservice"
)

// HTTPSource adapts webservice.Client into a TaskSource — the real
// deployment path spec §4.3 describes as "from the web service", as
// opposed to RepositorySource's direct, in-process embedded-test path.
// It fetches every task on each tick and filters due+enabled ones
// client-side, since the web service's /tasks endpoint returns the full
// set rather than a due-only view.
type HTTPSource struct {
	client *webservice.Client
}

func NewHTTPSource(client *webservice.Client) *HTTPSource {
	return &HTTPSource{client: client}
}

func (s *HTTPSource) DueTasks(ctx context.Context, now time.Time) ([]Task, error) {
	tasks, err := s.client.ListTasks(ctx)
	if err != nil {
		return nil, err
	}

	var due []Task
	for _, t := range tasks {
		if !t.Enabled || t.NextExecution == nil || t.NextExecution.After(now) {
			continue
		}
		due = append(due, Task{
			ID:                  t.ID,
			CronSchedule:        t.CronSchedule,
			ActionName:          t.ActionName,
			ActionFunction:      t.ActionFunction,
			ActionConfiguration: t.ActionConfiguration,
			TimeoutMS:           t.TimeoutMS,
			NextExecution:       t.NextExecution,
			Enabled:             t.Enabled,
		})
	}
	return due, nil
}

func (s *HTTPSource) Advance(ctx context.Context, taskID int64, next *time.Time) error {
	return s.client.AdvanceNextExecution(ctx, taskID, next)
}
