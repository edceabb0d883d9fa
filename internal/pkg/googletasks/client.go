package googletasks

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"golang.org/x/time/rate"

	"github.com/ManuelReschke/TaskFox/app/models"
	"github.com/ManuelReschke/TaskFox/internal/pkg/env"
	"github.com/ManuelReschke/TaskFox/internal/pkg/tasksync"
)

const (
	defaultAPIBaseURL = "https://tasks.googleapis.com/tasks/v1"
	defaultRateLimit  = 5.0
	defaultRateBurst  = 5
	defaultTimeout    = 15 * time.Second
	defaultMaxRetries = 3
	pageSize          = 100
)

// APIError is a non-2xx response from the Tasks API.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("google tasks api: status=%d body=%s", e.StatusCode, e.Body)
}

// Unwrap lets callers match rejected credentials with errors.Is.
func (e *APIError) Unwrap() error {
	if e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden {
		return tasksync.ErrUnauthorized
	}
	return nil
}

// retryable reports whether a failed call may be sent again. A create can be
// committed even when the response is a 5xx, so POST is only retried on 429.
func (e *APIError) retryable(method string) bool {
	if e.StatusCode == http.StatusTooManyRequests {
		return true
	}
	return e.StatusCode >= 500 && method != http.MethodPost
}

// Client talks to the Google Tasks REST API with one user's access token.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	MaxRetries int

	token   string
	limiter *rate.Limiter
}

// New creates a client for accessToken with default settings.
func New(accessToken string) *Client {
	return &Client{
		BaseURL:    defaultAPIBaseURL,
		HTTPClient: &http.Client{Timeout: defaultTimeout},
		MaxRetries: defaultMaxRetries,
		token:      strings.TrimSpace(accessToken),
		limiter:    rate.NewLimiter(rate.Limit(defaultRateLimit), defaultRateBurst),
	}
}

// NewFromEnv creates a client configured through GOOGLE_TASKS_* variables.
func NewFromEnv(accessToken string) *Client {
	c := New(accessToken)
	c.BaseURL = strings.TrimRight(strings.TrimSpace(env.GetEnv("GOOGLE_TASKS_API_BASE_URL", defaultAPIBaseURL)), "/")
	if rps, err := strconv.ParseFloat(env.GetEnv("GOOGLE_TASKS_RATE_LIMIT", ""), 64); err == nil && rps > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(rps), defaultRateBurst)
	}
	if secs, err := strconv.Atoi(env.GetEnv("GOOGLE_TASKS_TIMEOUT_SECONDS", "")); err == nil && secs > 0 {
		c.HTTPClient.Timeout = time.Duration(secs) * time.Second
	}
	return c
}

// Factory builds a tasksync.Client for an integration's resolved token.
func Factory(accessToken string, _ *models.ExternalIntegration) (tasksync.Client, error) {
	if strings.TrimSpace(accessToken) == "" {
		return nil, errors.New("google tasks: access token is required")
	}
	return NewFromEnv(accessToken), nil
}

var _ tasksync.Client = (*Client)(nil)

type apiTaskList struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Etag    string `json:"etag"`
	Updated string `json:"updated"`
}

type apiTask struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Notes     string `json:"notes"`
	Status    string `json:"status"`
	Due       string `json:"due"`
	Completed string `json:"completed"`
	Updated   string `json:"updated"`
	Etag      string `json:"etag"`
	Parent    string `json:"parent"`
	Position  string `json:"position"`
	Deleted   bool   `json:"deleted"`
	Hidden    bool   `json:"hidden"`
}

type taskListsPage struct {
	Items         []apiTaskList `json:"items"`
	NextPageToken string        `json:"nextPageToken"`
}

type tasksPage struct {
	Items         []apiTask `json:"items"`
	NextPageToken string    `json:"nextPageToken"`
}

func parseTime(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return nil
	}
	t = t.UTC()
	return &t
}

func (l apiTaskList) toRemote() tasksync.RemoteTaskList {
	return tasksync.RemoteTaskList{ID: l.ID, Title: l.Title, Etag: l.Etag, Updated: parseTime(l.Updated)}
}

// toRemote never drops a task: a field that cannot be parsed is left empty
// and reported through DecodeErr.
func (t apiTask) toRemote() tasksync.RemoteTask {
	due, err := tasksync.ParseDueDate(t.Due)
	if err != nil {
		err = fmt.Errorf("task %s: %w", t.ID, err)
	}
	return tasksync.RemoteTask{
		ID:        t.ID,
		Title:     t.Title,
		Notes:     t.Notes,
		Status:    t.Status,
		Due:       due,
		Completed: parseTime(t.Completed),
		Updated:   parseTime(t.Updated),
		Etag:      t.Etag,
		Parent:    t.Parent,
		Position:  t.Position,
		Deleted:   t.Deleted,
		Hidden:    t.Hidden,
		DecodeErr: err,
	}
}

func taskBody(in tasksync.TaskInput) map[string]interface{} {
	body := map[string]interface{}{
		"title":  in.Title,
		"notes":  in.Notes,
		"status": in.Status,
		"due":    nil,
	}
	if due := tasksync.FormatDueDate(in.Due); due != "" {
		body["due"] = due
	}
	if in.Status == tasksync.RemoteStatusCompleted && in.Completed != nil {
		body["completed"] = in.Completed.UTC().Format(time.RFC3339)
	} else {
		body["completed"] = nil
	}
	return body
}

// ListTaskLists returns every tasklist of the user across all pages.
func (c *Client) ListTaskLists(ctx context.Context) ([]tasksync.RemoteTaskList, error) {
	var out []tasksync.RemoteTaskList
	pageToken := ""
	for {
		q := url.Values{}
		q.Set("maxResults", strconv.Itoa(pageSize))
		if pageToken != "" {
			q.Set("pageToken", pageToken)
		}
		var page taskListsPage
		if err := c.do(ctx, http.MethodGet, "/users/@me/lists", q, nil, &page); err != nil {
			return nil, err
		}
		for _, l := range page.Items {
			out = append(out, l.toRemote())
		}
		if page.NextPageToken == "" {
			return out, nil
		}
		pageToken = page.NextPageToken
	}
}

// ListTasks returns every task of a list, including completed, hidden and
// deleted ones so deletions are observable.
func (c *Client) ListTasks(ctx context.Context, listID string) ([]tasksync.RemoteTask, error) {
	var out []tasksync.RemoteTask
	pageToken := ""
	for {
		q := url.Values{}
		q.Set("maxResults", strconv.Itoa(pageSize))
		q.Set("showCompleted", "true")
		q.Set("showDeleted", "true")
		q.Set("showHidden", "true")
		if pageToken != "" {
			q.Set("pageToken", pageToken)
		}
		var page tasksPage
		if err := c.do(ctx, http.MethodGet, "/lists/"+url.PathEscape(listID)+"/tasks", q, nil, &page); err != nil {
			return nil, err
		}
		for _, t := range page.Items {
			rt := t.toRemote()
			if rt.DecodeErr != nil {
				log.Warnf("[GoogleTasks] list %s: %v", listID, rt.DecodeErr)
			}
			out = append(out, rt)
		}
		if page.NextPageToken == "" {
			return out, nil
		}
		pageToken = page.NextPageToken
	}
}

func (c *Client) GetTask(ctx context.Context, listID, taskID string) (*tasksync.RemoteTask, error) {
	var t apiTask
	if err := c.do(ctx, http.MethodGet, taskPath(listID, taskID), nil, nil, &t); err != nil {
		return nil, err
	}
	rt := t.toRemote()
	if rt.DecodeErr != nil {
		return nil, rt.DecodeErr
	}
	return &rt, nil
}

// CreateTask inserts a task; a non-empty parentID makes it a subtask.
func (c *Client) CreateTask(ctx context.Context, listID, parentID string, in tasksync.TaskInput) (*tasksync.RemoteTask, error) {
	q := url.Values{}
	if parentID != "" {
		q.Set("parent", parentID)
	}
	var t apiTask
	if err := c.do(ctx, http.MethodPost, "/lists/"+url.PathEscape(listID)+"/tasks", q, taskBody(in), &t); err != nil {
		return nil, err
	}
	rt := t.toRemote()
	return &rt, nil
}

func (c *Client) UpdateTask(ctx context.Context, listID, taskID string, in tasksync.TaskInput) (*tasksync.RemoteTask, error) {
	var t apiTask
	if err := c.do(ctx, http.MethodPatch, taskPath(listID, taskID), nil, taskBody(in), &t); err != nil {
		return nil, err
	}
	rt := t.toRemote()
	return &rt, nil
}

// DeleteTask deletes a task. A task that is already gone counts as deleted.
func (c *Client) DeleteTask(ctx context.Context, listID, taskID string) error {
	return ignoreNotFound(c.do(ctx, http.MethodDelete, taskPath(listID, taskID), nil, nil, nil))
}

func (c *Client) CreateTasklist(ctx context.Context, title string) (*tasksync.RemoteTaskList, error) {
	var l apiTaskList
	if err := c.do(ctx, http.MethodPost, "/users/@me/lists", nil, map[string]string{"title": title}, &l); err != nil {
		return nil, err
	}
	rl := l.toRemote()
	return &rl, nil
}

func (c *Client) UpdateTasklist(ctx context.Context, listID, title string) (*tasksync.RemoteTaskList, error) {
	var l apiTaskList
	if err := c.do(ctx, http.MethodPatch, "/users/@me/lists/"+url.PathEscape(listID), nil, map[string]string{"title": title}, &l); err != nil {
		return nil, err
	}
	rl := l.toRemote()
	return &rl, nil
}

func (c *Client) DeleteTasklist(ctx context.Context, listID string) error {
	return ignoreNotFound(c.do(ctx, http.MethodDelete, "/users/@me/lists/"+url.PathEscape(listID), nil, nil, nil))
}

func taskPath(listID, taskID string) string {
	return "/lists/" + url.PathEscape(listID) + "/tasks/" + url.PathEscape(taskID)
}

func ignoreNotFound(err error) error {
	var apiErr *APIError
	if errors.As(err, &apiErr) && (apiErr.StatusCode == http.StatusNotFound || apiErr.StatusCode == http.StatusGone) {
		return nil
	}
	return err
}

// do sends one API call with rate limiting and retries on 429, and on 5xx
// for calls that are safe to repeat.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out interface{}) error {
	if c.token == "" {
		return tasksync.ErrUnauthorized
	}
	var payload []byte
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal body: %w", err)
		}
		payload = b
	}

	var lastErr error
	for attempt := 0; attempt <= c.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(1<<uint(attempt-1)) * 200 * time.Millisecond
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limiter: %w", err)
		}

		err := c.doOnce(ctx, method, path, query, payload, out)
		if err == nil {
			return nil
		}
		lastErr = err
		var apiErr *APIError
		if !errors.As(err, &apiErr) || !apiErr.retryable(method) {
			return err
		}
		log.Warnf("[GoogleTasks] %s %s failed with status %d (attempt %d/%d)", method, path, apiErr.StatusCode, attempt+1, c.MaxRetries+1)
	}
	return lastErr
}

func (c *Client) doOnce(ctx context.Context, method, path string, query url.Values, payload []byte, out interface{}) error {
	u := strings.TrimRight(c.BaseURL, "/") + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}
	if out == nil || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}
