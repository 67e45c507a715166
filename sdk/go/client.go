package swipeflowsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal swipeflow HTTP API client.
type Client struct {
	BaseURL    string
	BasePath   string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:  baseURL,
		BasePath: "/v0",
		Timeout:  10 * time.Second,
	}
}

type Task struct {
	ID              string     `json:"id"`
	Title           string     `json:"title"`
	AssignedRole    string     `json:"assigned_role"`
	IsComplete      bool       `json:"is_complete"`
	IsRequired      bool       `json:"is_required"`
	Status          string     `json:"status"`
	DependsOnTaskID string     `json:"depends_on_task_id,omitempty"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	CompletedBy     string     `json:"completed_by,omitempty"`
}

type AssignedUser struct {
	Role   string `json:"role"`
	UserID string `json:"user_id,omitempty"`
	Name   string `json:"name,omitempty"`
}

type CompletionStamp struct {
	ID              string    `json:"id"`
	TaskID          string    `json:"task_id"`
	TaskName        string    `json:"task_name"`
	CompletedAt     time.Time `json:"completed_at"`
	CompletedBy     string    `json:"completed_by"`
	CompletedByName string    `json:"completed_by_name"`
	CanUndo         bool      `json:"can_undo"`
	DisplayTime     string    `json:"display_time"`
	Permanent       bool      `json:"permanent"`
}

// Event represents the API event model (partial).
type Event struct {
	ID               string            `json:"id"`
	Type             string            `json:"type"`
	Title            string            `json:"title"`
	Date             string            `json:"date"`
	Time             string            `json:"time"`
	Status           string            `json:"status"`
	Priority         string            `json:"priority,omitempty"`
	Tasks            []Task            `json:"tasks"`
	AssignedUsers    []AssignedUser    `json:"assigned_users"`
	RescheduledCount int               `json:"rescheduled_count"`
	CompletedAt      *time.Time        `json:"completed_at,omitempty"`
	CompletionStamps []CompletionStamp `json:"completion_stamps"`
	Metadata         map[string]string `json:"metadata,omitempty"`
}

// NewEvent is the create payload.
type NewEvent struct {
	ID                string            `json:"id,omitempty"`
	Type              string            `json:"type"`
	Title             string            `json:"title"`
	Date              string            `json:"date"`
	Time              string            `json:"time,omitempty"`
	Priority          string            `json:"priority,omitempty"`
	EstimatedDuration int               `json:"estimated_duration,omitempty"`
	Tasks             []NewTask         `json:"tasks,omitempty"`
	AssignedUsers     []AssignedUser    `json:"assigned_users,omitempty"`
	Metadata          map[string]string `json:"metadata,omitempty"`
}

type NewTask struct {
	ID              string `json:"id"`
	Title           string `json:"title"`
	AssignedRole    string `json:"assigned_role"`
	IsRequired      bool   `json:"is_required,omitempty"`
	DependsOnTaskID string `json:"depends_on_task_id,omitempty"`
}

type WorkOrder struct {
	Title             string `json:"title"`
	Description       string `json:"description,omitempty"`
	Unit              string `json:"unit,omitempty"`
	Building          string `json:"building,omitempty"`
	WorkOrderID       string `json:"work_order_id,omitempty"`
	ResidentID        string `json:"resident_id,omitempty"`
	MaintenanceUserID string `json:"maintenance_user_id,omitempty"`
	EstimatedDuration int    `json:"estimated_duration,omitempty"`
	Date              string `json:"date"`
	RequestedTime     string `json:"requested_time,omitempty"`
}

type Booking struct {
	Success       bool   `json:"success"`
	ScheduledTime string `json:"scheduled_time,omitempty"`
	EventID       string `json:"event_id,omitempty"`
	Relocated     bool   `json:"relocated"`
	RequestedTime string `json:"requested_time,omitempty"`
}

type Availability struct {
	Available bool   `json:"available"`
	Date      string `json:"date"`
	Time      string `json:"time,omitempty"`
	End       string `json:"end,omitempty"`
	Duration  int    `json:"duration"`
}

// Activity is one journaled change.
type Activity struct {
	Seq     int64     `json:"seq"`
	Kind    string    `json:"kind"`
	EventID string    `json:"event_id"`
	TaskID  string    `json:"task_id,omitempty"`
	Role    string    `json:"role,omitempty"`
	At      time.Time `json:"at"`
}

type ActivityPage struct {
	Items     []Activity `json:"items"`
	NextAfter int64      `json:"next_after"`
}

// APIError wraps non-2xx responses. Code is the envelope error code when the
// body carried one.
type APIError struct {
	StatusCode int
	Code       string
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d code=%s body=%s", e.StatusCode, e.Code, e.Body)
}

// IsCode reports whether err is an APIError with the given envelope code.
func IsCode(err error, code string) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == code
}

func (c *Client) Events(ctx context.Context, role, date string) ([]Event, error) {
	q := url.Values{}
	if role != "" {
		q.Set("role", role)
	}
	if date != "" {
		q.Set("date", date)
	}
	endpoint := "events"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp struct {
		Items []Event `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Items, err
}

func (c *Client) Event(ctx context.Context, id string) (Event, error) {
	var resp Event
	err := c.do(ctx, http.MethodGet, "events/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

func (c *Client) CreateEvent(ctx context.Context, ev NewEvent) (Event, error) {
	var resp Event
	err := c.do(ctx, http.MethodPost, "events", ev, &resp)
	return resp, err
}

func (c *Client) RemoveEvent(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "events/"+url.PathEscape(id), nil, nil)
}

// Reschedule moves an event to date (YYYY-MM-DD) and time (HH:MM).
func (c *Client) Reschedule(ctx context.Context, id, date, timeOfDay string) (Event, error) {
	var resp Event
	body := map[string]string{"date": date, "time": timeOfDay}
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("events/%s/reschedule", url.PathEscape(id)), body, &resp)
	return resp, err
}

// CompleteTask completes a task acting as role.
func (c *Client) CompleteTask(ctx context.Context, eventID, taskID, role string) (Event, error) {
	var resp Event
	endpoint := fmt.Sprintf("events/%s/tasks/%s/complete", url.PathEscape(eventID), url.PathEscape(taskID))
	err := c.do(ctx, http.MethodPost, endpoint, map[string]string{"acting_role": role}, &resp)
	return resp, err
}

func (c *Client) UndoTask(ctx context.Context, eventID, taskID string) (Event, error) {
	var resp Event
	endpoint := fmt.Sprintf("events/%s/tasks/%s/undo", url.PathEscape(eventID), url.PathEscape(taskID))
	err := c.do(ctx, http.MethodPost, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) Availability(ctx context.Context, date string, durationMinutes int) (Availability, error) {
	q := url.Values{"date": {date}}
	if durationMinutes > 0 {
		q.Set("duration", fmt.Sprintf("%d", durationMinutes))
	}
	var resp Availability
	err := c.do(ctx, http.MethodGet, "availability?"+q.Encode(), nil, &resp)
	return resp, err
}

func (c *Client) ScheduleWorkOrder(ctx context.Context, wo WorkOrder) (Booking, error) {
	var resp Booking
	err := c.do(ctx, http.MethodPost, "work-orders", wo, &resp)
	return resp, err
}

// Activity returns journaled changes after the given cursor.
func (c *Client) Activity(ctx context.Context, after int64, limit int) (ActivityPage, error) {
	q := url.Values{"after": {fmt.Sprintf("%d", after)}}
	if limit > 0 {
		q.Set("limit", fmt.Sprintf("%d", limit))
	}
	var resp ActivityPage
	err := c.do(ctx, http.MethodGet, "activity?"+q.Encode(), nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	target := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, target, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var env struct {
			Error struct {
				Code string `json:"code"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &env) == nil {
			apiErr.Code = env.Error.Code
		}
		return apiErr
	}
	if out != nil && resp.StatusCode != http.StatusNoContent {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	base := strings.TrimRight(c.BaseURL, "/")
	if p := strings.Trim(c.BasePath, "/"); p != "" {
		base += "/" + p
	}
	return base
}
