package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/me/simq/internal/queue"
	"github.com/me/simq/pkg/task"
)

// Client speaks the queue server's worker protocol. The shared secret
// travels as a query or form parameter on every call.
type Client struct {
	baseURL    string
	secret     string
	httpClient *http.Client
}

// NewClient creates a queue API client with connection pooling.
func NewClient(baseURL, secret string) *Client {
	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		secret:  secret,
		httpClient: &http.Client{
			Timeout:   30 * time.Second,
			Transport: transport,
		},
	}
}

// Info probes the queue server at worker startup, verifying both
// reachability and the shared secret.
func (c *Client) Info(ctx context.Context) error {
	var resp struct {
		Response string `json:"response"`
	}
	if err := c.get(ctx, "/worker_info", &resp); err != nil {
		return fmt.Errorf("worker info: %w", err)
	}
	if resp.Response != "okay" {
		return fmt.Errorf("worker info: unexpected response %q", resp.Response)
	}
	return nil
}

// PollTask asks for work, advertising the model versions this worker
// can execute. Returns a nil task with the queue's status when nothing
// matched.
func (c *Client) PollTask(ctx context.Context, supported map[string][]string) (*task.Task, queue.PollStatus, error) {
	versions, err := json.Marshal(supported)
	if err != nil {
		return nil, "", fmt.Errorf("marshal supported versions: %w", err)
	}

	form := url.Values{
		"secret":              {c.secret},
		"model_versions_json": {string(versions)},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/worker_work_task", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	httpResp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("poll: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(httpResp.Body)
		return nil, "", fmt.Errorf("poll: HTTP %d: %s", httpResp.StatusCode, body)
	}

	var resp struct {
		Task   *task.Task `json:"task"`
		Status string     `json:"status"`
	}
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return nil, "", fmt.Errorf("poll: decode response: %w", err)
	}
	if resp.Task != nil {
		return resp.Task, queue.PollTask, nil
	}
	return nil, queue.PollStatus(resp.Status), nil
}

// KeepAlive refreshes the heartbeat for an in-flight task. A false
// return means the queue no longer considers this worker the owner.
func (c *Client) KeepAlive(ctx context.Context, taskID string) (bool, error) {
	return c.yesNo(ctx, "/worker_keep_alive_task/"+taskID)
}

// HasTask asks whether the queue still holds the task for this worker.
func (c *Client) HasTask(ctx context.Context, taskID string) (bool, error) {
	return c.yesNo(ctx, "/worker_has_task/"+taskID)
}

// Succeed acknowledges a completed task.
func (c *Client) Succeed(ctx context.Context, taskID string) error {
	var resp struct {
		Response string `json:"response"`
	}
	return c.get(ctx, "/worker_succeed_task/"+taskID, &resp)
}

// Fail acknowledges a failed task.
func (c *Client) Fail(ctx context.Context, taskID string) error {
	var resp struct {
		Response string `json:"response"`
	}
	return c.get(ctx, "/worker_failed_task/"+taskID, &resp)
}

func (c *Client) yesNo(ctx context.Context, path string) (bool, error) {
	var resp struct {
		Response string `json:"response"`
	}
	if err := c.get(ctx, path, &resp); err != nil {
		return false, err
	}
	return resp.Response == "yes", nil
}

// get performs an authenticated GET and decodes the JSON body.
func (c *Client) get(ctx context.Context, path string, dest any) error {
	u := c.baseURL + path + "?secret=" + url.QueryEscape(c.secret)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("GET %s: HTTP %d: %s", path, resp.StatusCode, body)
	}
	return json.NewDecoder(resp.Body).Decode(dest)
}
