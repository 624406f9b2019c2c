// Package webservice is the HTTP API from spec §6, the JSON counterpart to
// gofire/web.HttpRouteHandler's route-per-method registration style
// (though gofire's own handlers render an HTML dashboard; this API is
// consumed by the scheduler, worker, and command-center instead).
package webservice

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"runinator/internal/broker"
	"runinator/internal/repository"
)

type Server struct {
	repo   repository.Repository
	broker broker.Client
	log    *zap.Logger
}

func NewServer(repo repository.Repository, brokerClient broker.Client, log *zap.Logger) *Server {
	return &Server{repo: repo, broker: brokerClient, log: log}
}

// Routes registers the API from spec §6 on mux.
func (s *Server) Routes(mux *http.ServeMux) {
	mux.HandleFunc("/tasks", s.handleTasksCollection)
	mux.HandleFunc("/tasks/", s.handleTaskItem)
	mux.HandleFunc("/task_runs", s.handleTaskRuns)
}

type taskWire struct {
	ID                   int64   `json:"id,omitempty"`
	Name                 string  `json:"name"`
	CronSchedule         string  `json:"cron_schedule"`
	ActionName           string  `json:"action_name"`
	ActionFunction       string  `json:"action_function"`
	ActionConfiguration  string  `json:"action_configuration"` // base64
	TimeoutMS            int64   `json:"timeout_ms"`
	NextExecution        *string `json:"next_execution"` // ISO-8601 UTC
	Enabled              bool    `json:"enabled"`
}

func toTaskWire(t repository.ScheduledTask) taskWire {
	w := taskWire{
		ID:                  t.ID,
		Name:                t.Name,
		CronSchedule:        t.CronSchedule,
		ActionName:          t.ActionName,
		ActionFunction:      t.ActionFunction,
		ActionConfiguration: encodeConfig(t.ActionConfiguration),
		TimeoutMS:           t.TimeoutMS,
		Enabled:             t.Enabled,
	}
	if t.NextExecution != nil {
		s := t.NextExecution.UTC().Format(time.RFC3339Nano)
		w.NextExecution = &s
	}
	return w
}

func (w taskWire) toTask() (repository.ScheduledTask, error) {
	cfg, err := decodeConfig(w.ActionConfiguration)
	if err != nil {
		return repository.ScheduledTask{}, err
	}
	t := repository.ScheduledTask{
		ID:                  w.ID,
		Name:                w.Name,
		CronSchedule:        w.CronSchedule,
		ActionName:          w.ActionName,
		ActionFunction:      w.ActionFunction,
		ActionConfiguration: cfg,
		TimeoutMS:           w.TimeoutMS,
		Enabled:             w.Enabled,
	}
	if w.NextExecution != nil {
		ts, err := time.Parse(time.RFC3339Nano, *w.NextExecution)
		if err != nil {
			return repository.ScheduledTask{}, err
		}
		ts = ts.UTC()
		t.NextExecution = &ts
	}
	return t, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"message": message})
}

func (s *Server) handleTasksCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		tasks, err := s.repo.ListTasks(r.Context())
		if err != nil {
			writeErr(w, http.StatusInternalServerError, "failed to list tasks")
			return
		}
		out := make([]taskWire, len(tasks))
		for i, t := range tasks {
			out[i] = toTaskWire(t)
		}
		writeJSON(w, http.StatusOK, out)

	case http.MethodPost:
		var wire taskWire
		if err := json.NewDecoder(r.Body).Decode(&wire); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "message": "invalid task payload: " + err.Error()})
			return
		}
		t, err := wire.toTask()
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "message": "invalid action_configuration encoding"})
			return
		}
		id, err := s.repo.CreateTask(r.Context(), t)
		if err != nil {
			s.log.Error("webservice: create task failed", zap.Error(err))
			writeJSON(w, http.StatusInternalServerError, map[string]any{"success": false, "message": "failed to create task"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "created", "id": id})

	default:
		writeErr(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// handleTaskItem dispatches /tasks/{id} and /tasks/{id}/request_run.
func (s *Server) handleTaskItem(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/tasks/")
	parts := strings.SplitN(rest, "/", 2)

	id, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		writeErr(w, http.StatusBadRequest, "invalid task id")
		return
	}

	if len(parts) == 2 && parts[1] == "request_run" {
		s.handleRequestRun(w, r, id)
		return
	}

	if r.Method != http.MethodPatch {
		writeErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	s.handlePatchTask(w, r, id)
}

type patchWire struct {
	Name                *string `json:"name"`
	CronSchedule        *string `json:"cron_schedule"`
	ActionName          *string `json:"action_name"`
	ActionFunction      *string `json:"action_function"`
	ActionConfiguration *string `json:"action_configuration"`
	TimeoutMS           *int64  `json:"timeout_ms"`
	Enabled             *bool   `json:"enabled"`
	NextExecution       *string `json:"next_execution"`
}

func (s *Server) handlePatchTask(w http.ResponseWriter, r *http.Request, id int64) {
	var wire patchWire
	if err := json.NewDecoder(r.Body).Decode(&wire); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "message": "invalid patch payload"})
		return
	}

	patch := repository.TaskPatch{
		Name: wire.Name, CronSchedule: wire.CronSchedule,
		ActionName: wire.ActionName, ActionFunction: wire.ActionFunction,
		TimeoutMS: wire.TimeoutMS, Enabled: wire.Enabled,
	}
	if wire.ActionConfiguration != nil {
		cfg, err := decodeConfig(*wire.ActionConfiguration)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "message": "invalid action_configuration encoding"})
			return
		}
		patch.ActionConfiguration = cfg
		patch.HasActionConfig = true
	}
	if wire.NextExecution != nil {
		patch.HasNextExecution = true
		if *wire.NextExecution != "" {
			ts, err := time.Parse(time.RFC3339Nano, *wire.NextExecution)
			if err != nil {
				writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "message": "invalid next_execution"})
				return
			}
			ts = ts.UTC()
			patch.NextExecution = &ts
		}
	}

	if err := s.repo.PatchTask(r.Context(), id, patch); err != nil {
		if err == repository.ErrNotFound {
			writeJSON(w, http.StatusNotFound, map[string]any{"success": false, "message": "task not found"})
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]any{"success": false, "message": "patch failed"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "updated"})
}

func (s *Server) handleRequestRun(w http.ResponseWriter, r *http.Request, id int64) {
	if r.Method != http.MethodPost {
		writeErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	t, err := s.repo.GetTask(r.Context(), id)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]any{"success": false, "message": "task not found"})
		return
	}

	// An immediate out-of-schedule firing keys on the request instant. The
	// broker's idempotency key uses whole seconds, so it shares a key only
	// with another firing of this task scheduled for that same second.
	_, err = s.broker.Publish(r.Context(), broker.Firing{
		TaskID:         t.ID,
		ScheduledFor:   time.Now().UTC(),
		Configuration:  t.ActionConfiguration,
		ActionName:     t.ActionName,
		ActionFunction: t.ActionFunction,
		TimeoutMS:      t.TimeoutMS,
	})
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"success": false, "message": "failed to publish firing"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "run requested"})
}

type taskRunWire struct {
	TaskID     int64  `json:"task_id"`
	StartTime  string `json:"start_time"`
	DurationMS int64  `json:"duration_ms"`
}

func (s *Server) handleTaskRuns(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var wire taskRunWire
	if err := json.NewDecoder(r.Body).Decode(&wire); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid task run payload")
		return
	}
	start, err := time.Parse(time.RFC3339Nano, wire.StartTime)
	if err != nil {
		writeErr(w, http.StatusBadRequest, "invalid start_time")
		return
	}
	if _, err := s.repo.RecordTaskRun(r.Context(), repository.TaskRun{
		TaskID: wire.TaskID, StartTime: start.UTC(), DurationMS: wire.DurationMS,
	}); err != nil {
		writeErr(w, http.StatusInternalServerError, "failed to record task run")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}
