package web

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/me/simq/pkg/task"
)

// QueueClient is the front-end's connection to the queue server. The
// worker-liveness answer is cached so a burst of page loads does not
// turn into a burst of queue requests.
type QueueClient struct {
	baseURL    string
	httpClient *http.Client

	cacheFor time.Duration
	mu       sync.Mutex
	checked  time.Time
	hasWork  bool
}

// NewQueueClient creates a client for the queue server at baseURL.
// cacheFor bounds how stale the HasWorkers answer may be.
func NewQueueClient(baseURL string, cacheFor time.Duration) *QueueClient {
	return &QueueClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		cacheFor: cacheFor,
	}
}

// CreateTask submits a task and returns its confirmation code together
// with the stored task. A 400 from the queue surfaces as the error
// text the queue produced, suitable for redisplay on the form.
func (c *QueueClient) CreateTask(ctx context.Context, t *task.Task) (code string, err error) {
	taskJSON, err := json.Marshal(t)
	if err != nil {
		return "", fmt.Errorf("marshal task: %w", err)
	}

	form := url.Values{"task_json": {string(taskJSON)}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/client_model_create", strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	httpResp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("queue unreachable: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		var errResp struct {
			Error string `json:"error"`
		}
		body, _ := io.ReadAll(httpResp.Body)
		if json.Unmarshal(body, &errResp) == nil && errResp.Error != "" {
			return "", fmt.Errorf("%s", errResp.Error)
		}
		return "", fmt.Errorf("queue returned HTTP %d", httpResp.StatusCode)
	}

	var resp struct {
		Response struct {
			Code string    `json:"code"`
			Task task.Task `json:"task"`
		} `json:"response"`
	}
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return "", fmt.Errorf("decode create response: %w", err)
	}
	t.ID = resp.Response.Task.ID
	return resp.Response.Code, nil
}

// ConfirmResult mirrors the queue's confirmation outcomes.
type ConfirmResult string

const (
	ConfirmOkay     ConfirmResult = "okay"
	ConfirmExpired  ConfirmResult = "expired"
	ConfirmNotFound ConfirmResult = "notfound"
)

// Confirm redeems a confirmation code with the queue.
func (c *QueueClient) Confirm(ctx context.Context, code string) (ConfirmResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/client_confirm/"+url.PathEscape(code), nil)
	if err != nil {
		return "", err
	}

	httpResp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("queue unreachable: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode == http.StatusNotFound {
		return ConfirmNotFound, nil
	}
	if httpResp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("queue returned HTTP %d", httpResp.StatusCode)
	}

	var resp struct {
		Response string `json:"response"`
	}
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return "", fmt.Errorf("decode confirm response: %w", err)
	}
	return ConfirmResult(resp.Response), nil
}

// HasWorkers reports whether the queue has live workers, from cache
// when the last answer is fresh enough. Submissions are still accepted
// when this returns false; the form only shows a delay warning.
func (c *QueueClient) HasWorkers(ctx context.Context) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.checked.IsZero() && time.Since(c.checked) < c.cacheFor {
		return c.hasWork
	}

	c.hasWork = c.queryHasWorkers(ctx)
	c.checked = time.Now()
	return c.hasWork
}

func (c *QueueClient) queryHasWorkers(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/client_queue_has_workers", nil)
	if err != nil {
		return false
	}
	httpResp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer httpResp.Body.Close()

	var resp struct {
		Response struct {
			HasWorkers bool `json:"has_workers"`
		} `json:"response"`
	}
	if json.NewDecoder(httpResp.Body).Decode(&resp) != nil {
		return false
	}
	return resp.Response.HasWorkers
}
