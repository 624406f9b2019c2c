package repository

import (
	"context"
	"testing"
	"time"
)

func TestMemoryListDueTasksFiltersDisabledAndFuture(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	now := time.Now().UTC()
	past := now.Add(-time.Minute)
	future := now.Add(time.Minute)

	dueID, _ := m.CreateTask(ctx, ScheduledTask{Name: "due", Enabled: true, NextExecution: &past})
	_, _ = m.CreateTask(ctx, ScheduledTask{Name: "disabled", Enabled: false, NextExecution: &past})
	_, _ = m.CreateTask(ctx, ScheduledTask{Name: "future", Enabled: true, NextExecution: &future})

	due, err := m.ListDueTasks(ctx, now)
	if err != nil {
		t.Fatal(err)
	}
	if len(due) != 1 || due[0].ID != dueID {
		t.Fatalf("expected only the due task, got %+v", due)
	}
}

func TestMemoryPatchTaskPartialUpdate(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	id, _ := m.CreateTask(ctx, ScheduledTask{Name: "orig", CronSchedule: "* * * * *", Enabled: true})

	newName := "renamed"
	if err := m.PatchTask(ctx, id, TaskPatch{Name: &newName}); err != nil {
		t.Fatal(err)
	}

	got, err := m.GetTask(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if got.Name != "renamed" || got.CronSchedule != "* * * * *" {
		t.Fatalf("expected only name to change, got %+v", got)
	}
}

func TestMemoryGetTaskNotFound(t *testing.T) {
	m := NewMemory()
	if _, err := m.GetTask(context.Background(), 999); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryRecordTaskRun(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	id, _ := m.RecordTaskRun(ctx, TaskRun{TaskID: 1, StartTime: time.Now(), DurationMS: 42})
	if id == 0 {
		t.Fatal("expected nonzero run id")
	}
	if len(m.Runs()) != 1 {
		t.Fatalf("expected one recorded run, got %d", len(m.Runs()))
	}
}
