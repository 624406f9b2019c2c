package scheduler

import (
	"context"
	"time"

	"runinator/internal/repository"
)

// RepositorySource adapts a repository.Repository directly into a
// TaskSource, bypassing HTTP — the "embedded tests" path spec §4.3 calls
// out explicitly.
type RepositorySource struct {
	repo repository.Repository
}

func NewRepositorySource(repo repository.Repository) *RepositorySource {
	return &RepositorySource{repo: repo}
}

func (s *RepositorySource) DueTasks(ctx context.Context, now time.Time) ([]Task, error) {
	rows, err := s.repo.ListDueTasks(ctx, now)
	if err != nil {
		return nil, err
	}
	out := make([]Task, len(rows))
	for i, r := range rows {
		out[i] = Task{
			ID:                  r.ID,
			CronSchedule:        r.CronSchedule,
			ActionName:          r.ActionName,
			ActionFunction:      r.ActionFunction,
			ActionConfiguration: r.ActionConfiguration,
			TimeoutMS:           r.TimeoutMS,
			NextExecution:       r.NextExecution,
			Enabled:             r.Enabled,
		}
	}
	return out, nil
}

func (s *RepositorySource) Advance(ctx context.Context, taskID int64, next *time.Time) error {
	return s.repo.AdvanceNextExecution(ctx, taskID, next)
}
