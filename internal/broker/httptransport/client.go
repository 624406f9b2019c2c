package httptransport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"runinator/internal/broker"
)

// Client talks to a remote Server over HTTP. It implements broker.Client.
type Client struct {
	baseURL string
	http    *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
	}
}

func (c *Client) Publish(ctx context.Context, f broker.Firing) (int64, error) {
	snap := broker.Snapshot{Firing: f}
	body, err := json.Marshal(toWire(&snap))
	if err != nil {
		return 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/publish", bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, remoteError(resp)
	}

	var out struct {
		ID int64 `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, err
	}
	return out.ID, nil
}

func (c *Client) Lease(ctx context.Context, consumerID string, maxWait time.Duration) (*broker.Snapshot, error) {
	url := fmt.Sprintf("%s/lease?consumer_id=%s&wait_ms=%d", c.baseURL, consumerID, maxWait.Milliseconds())
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, remoteError(resp)
	}

	var wire firingWire
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return nil, err
	}
	f, err := wire.toFiring()
	if err != nil {
		return nil, err
	}
	f.ID = wire.ID
	return &broker.Snapshot{
		Firing:     f,
		LeaseToken: wire.LeaseToken,
	}, nil
}

func (c *Client) Ack(ctx context.Context, firingID int64, leaseToken string) error {
	return c.ackOrNack(ctx, "/ack/"+strconv.FormatInt(firingID, 10), map[string]any{
		"lease_token": leaseToken,
	})
}

func (c *Client) Nack(ctx context.Context, firingID int64, leaseToken string, requeue bool, reason string) error {
	return c.ackOrNack(ctx, "/nack/"+strconv.FormatInt(firingID, 10), map[string]any{
		"lease_token": leaseToken,
		"requeue":     requeue,
		"reason":      reason,
	})
}

func (c *Client) ackOrNack(ctx context.Context, path string, body map[string]any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		return nil
	case http.StatusGone:
		return broker.ErrStale
	default:
		return remoteError(resp)
	}
}

// RemoteError is surfaced for any non-2xx response the broker returns.
type RemoteError struct {
	Status  int
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("broker: remote error (status %d): %s", e.Status, e.Message)
}

func remoteError(resp *http.Response) error {
	var body struct {
		Message string `json:"message"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&body)
	return &RemoteError{Status: resp.StatusCode, Message: body.Message}
}
