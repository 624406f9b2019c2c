package webservice

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"runinator/internal/repository"
)

// Client is the HTTP counterpart a scheduler or worker running out-of-process
// from the web service uses instead of an internal/repository.Repository
// directly — the "from the web service" half of spec §4.3's TaskSource.
type Client struct {
	mu         sync.RWMutex
	baseURL    string
	httpClient *http.Client
}

func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{baseURL: baseURL, httpClient: httpClient}
}

// SetBaseURL repoints the client at a new web service address, letting a
// gossip directory selection change (spec §4.5) redirect an already-running
// scheduler or worker without a restart.
func (c *Client) SetBaseURL(baseURL string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.baseURL = baseURL
}

func (c *Client) currentBaseURL() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.baseURL
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("webservice client: encode request: %w", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.currentBaseURL()+path, reader)
	if err != nil {
		return fmt.Errorf("webservice client: build request: %w", err)
	}
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("webservice client: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("webservice client: %s %s: status %d: %s", method, path, resp.StatusCode, string(data))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// ListTasks fetches every task definition known to the web service.
func (c *Client) ListTasks(ctx context.Context) ([]repository.ScheduledTask, error) {
	var wire []taskWire
	if err := c.do(ctx, http.MethodGet, "/tasks", nil, &wire); err != nil {
		return nil, err
	}
	out := make([]repository.ScheduledTask, 0, len(wire))
	for _, w := range wire {
		t, err := w.toTask()
		if err != nil {
			return nil, fmt.Errorf("webservice client: decode task %d: %w", w.ID, err)
		}
		out = append(out, t)
	}
	return out, nil
}

// AdvanceNextExecution PATCHes a task's next_execution, the only field the
// scheduler ever writes back through the HTTP-backed TaskSource.
func (c *Client) AdvanceNextExecution(ctx context.Context, taskID int64, next *time.Time) error {
	empty := ""
	patch := patchWire{NextExecution: &empty}
	if next != nil {
		s := next.UTC().Format(time.RFC3339Nano)
		patch.NextExecution = &s
	}
	return c.do(ctx, http.MethodPatch, "/tasks/"+strconv.FormatInt(taskID, 10), patch, nil)
}

// RecordTaskRun reports a completed handler invocation.
func (c *Client) RecordTaskRun(ctx context.Context, r repository.TaskRun) error {
	wire := taskRunWire{
		TaskID:     r.TaskID,
		StartTime:  r.StartTime.UTC().Format(time.RFC3339Nano),
		DurationMS: r.DurationMS,
	}
	return c.do(ctx, http.MethodPost, "/task_runs", wire, nil)
}
