// Package client is the HTTP client for the queue daemon's API. The web
// frontend uses it to submit and confirm requests; workers use it to
// lease tasks and report progress.
package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/numerus/internal/queue"
	"github.com/ternarybob/numerus/internal/task"
)

var (
	// ErrBadSecret means the daemon rejected our shared secret.
	ErrBadSecret = errors.New("queue rejected request secret")
	// ErrBadID means the daemon no longer tracks the task id.
	ErrBadID = errors.New("queue does not know this task id")
	// ErrUnknownCode means the confirmation code expired or never existed.
	ErrUnknownCode = errors.New("unknown confirmation code")
)

// ConfirmResult distinguishes a fresh confirmation from a repeat visit.
type ConfirmResult int

const (
	Confirmed ConfirmResult = iota
	AlreadyConfirmed
)

// Client talks to one queue daemon.
type Client struct {
	baseURL string
	secret  string
	http    *http.Client
	logger  arbor.ILogger
}

func New(baseURL, secret string, logger arbor.ILogger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		secret:  secret,
		http:    &http.Client{Timeout: 30 * time.Second},
		logger:  logger,
	}
}

// envelope covers every response shape the daemon produces. Error is
// either the string "bad_secret" or an object with a "type" field.
type envelope struct {
	Status   string          `json:"status"`
	Response json.RawMessage `json:"response"`
	Task     json.RawMessage `json:"task"`
	Error    json.RawMessage `json:"error"`
}

type errorDetail struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func (e *envelope) err() error {
	if len(e.Error) == 0 {
		return nil
	}
	var s string
	if json.Unmarshal(e.Error, &s) == nil {
		if s == "bad_secret" {
			return ErrBadSecret
		}
		return fmt.Errorf("queue error: %s", s)
	}
	var detail errorDetail
	if json.Unmarshal(e.Error, &detail) == nil {
		if detail.Type == "bad_id" {
			return ErrBadID
		}
		return fmt.Errorf("queue error %s: %s", detail.Type, detail.Message)
	}
	return fmt.Errorf("queue error: %s", string(e.Error))
}

func (c *Client) get(path string) (*envelope, int, error) {
	req, err := http.NewRequest(http.MethodGet, c.url(path), nil)
	if err != nil {
		return nil, 0, err
	}
	return c.do(req)
}

func (c *Client) postForm(path string, form url.Values) (*envelope, int, error) {
	req, err := http.NewRequest(http.MethodPost, c.url(path), strings.NewReader(form.Encode()))
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.do(req)
}

func (c *Client) url(path string) string {
	return fmt.Sprintf("%s%s?secret=%s", c.baseURL, path, url.QueryEscape(c.secret))
}

func (c *Client) do(req *http.Request) (*envelope, int, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("queue request failed: %w", err)
	}
	defer resp.Body.Close()

	// Not-found responses carry a plain text body.
	if resp.StatusCode == http.StatusNotFound {
		return &envelope{}, resp.StatusCode, nil
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, resp.StatusCode, fmt.Errorf("malformed queue response: %w", err)
	}
	if err := env.err(); err != nil {
		return nil, resp.StatusCode, err
	}
	return &env, resp.StatusCode, nil
}

// CreateTask submits a validated request for email confirmation. It
// returns the daemon's copy of the record, which carries the assigned
// task id, plus the confirmation code.
func (c *Client) CreateTask(rec task.Record) (task.Record, string, error) {
	raw, err := json.Marshal(rec)
	if err != nil {
		return task.Record{}, "", fmt.Errorf("failed to encode task: %w", err)
	}

	env, status, err := c.postForm("/client_model_create", url.Values{"task_json": {string(raw)}})
	if err != nil {
		return task.Record{}, "", err
	}
	if status != http.StatusOK {
		return task.Record{}, "", fmt.Errorf("unexpected status %d from task create", status)
	}

	var response struct {
		Task task.Record `json:"task"`
		Code string      `json:"code"`
	}
	if err := json.Unmarshal(env.Response, &response); err != nil {
		return task.Record{}, "", fmt.Errorf("malformed create response: %w", err)
	}
	return response.Task, response.Code, nil
}

// Confirm redeems a confirmation code, moving the request onto the
// queue. Unknown or expired codes get ErrUnknownCode.
func (c *Client) Confirm(code string) (ConfirmResult, error) {
	env, status, err := c.get("/client_confirm/" + url.PathEscape(code))
	if err != nil {
		return 0, err
	}
	if status == http.StatusNotFound {
		return 0, ErrUnknownCode
	}

	var response string
	if err := json.Unmarshal(env.Response, &response); err != nil {
		return 0, fmt.Errorf("malformed confirm response: %w", err)
	}
	switch response {
	case "okay":
		return Confirmed, nil
	case "already_confirmed":
		return AlreadyConfirmed, nil
	default:
		return 0, fmt.Errorf("unexpected confirm response %q", response)
	}
}

// HasWorkers reports whether a worker has checked in recently.
func (c *Client) HasWorkers() (bool, error) {
	env, _, err := c.get("/client_queue_has_workers")
	if err != nil {
		return false, err
	}
	var response struct {
		HasWorkers bool `json:"has_workers"`
	}
	if err := json.Unmarshal(env.Response, &response); err != nil {
		return false, fmt.Errorf("malformed has_workers response: %w", err)
	}
	return response.HasWorkers, nil
}

// Info announces the worker to the daemon so HasWorkers turns true.
func (c *Client) Info() error {
	_, _, err := c.get("/worker_info")
	return err
}

// WorkTask asks for the oldest pending task matching one of the given
// model versions. A nil record with a nil error means nothing to do.
func (c *Client) WorkTask(versions []queue.VersionKey) (*task.Record, error) {
	raw, err := json.Marshal(versions)
	if err != nil {
		return nil, fmt.Errorf("failed to encode model versions: %w", err)
	}

	env, _, err := c.postForm("/worker_work_task", url.Values{"model_versions_json": {string(raw)}})
	if err != nil {
		return nil, err
	}

	switch env.Status {
	case "empty_queue":
		return nil, nil
	case "no_version":
		c.logger.Warn().Msg("Queue has tasks but none match our model versions")
		return nil, nil
	}

	var rec task.Record
	if err := json.Unmarshal(env.Task, &rec); err != nil {
		return nil, fmt.Errorf("malformed task in work response: %w", err)
	}
	return &rec, nil
}

// KeepAlive refreshes the lease on a running task.
func (c *Client) KeepAlive(id uint64) error {
	_, _, err := c.get(fmt.Sprintf("/worker_keep_alive_task/%d", id))
	return err
}

// Succeed reports a task finished and its results mailed.
func (c *Client) Succeed(id uint64) error {
	_, _, err := c.get(fmt.Sprintf("/worker_succeed_task/%d", id))
	return err
}

// Failed reports a task attempt failed so the daemon can retry or give up.
func (c *Client) Failed(id uint64) error {
	_, _, err := c.get(fmt.Sprintf("/worker_failed_task/%d", id))
	return err
}

// HasTask reports whether the daemon still considers the task leased to
// us. Workers check this before mailing results.
func (c *Client) HasTask(id uint64) (bool, error) {
	env, _, err := c.get(fmt.Sprintf("/worker_has_task/%d", id))
	if err != nil {
		return false, err
	}
	var response string
	if err := json.Unmarshal(env.Response, &response); err != nil {
		return false, fmt.Errorf("malformed has_task response: %w", err)
	}
	return response == "yes", nil
}
