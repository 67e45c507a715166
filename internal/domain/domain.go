package domain

import (
	"strconv"
	"time"
)

type Role string

const (
	RoleResident    Role = "resident"
	RoleOperator    Role = "operator"
	RoleMaintenance Role = "maintenance"
	RoleLeasing     Role = "leasing"
	RoleVendor      Role = "vendor"
	RoleProspect    Role = "prospect"
)

// Roles lists every known role in a stable order.
var Roles = []Role{RoleResident, RoleOperator, RoleMaintenance, RoleLeasing, RoleVendor, RoleProspect}

func (r Role) Valid() bool {
	for _, known := range Roles {
		if r == known {
			return true
		}
	}
	return false
}

type EventStatus string

const (
	EventScheduled  EventStatus = "scheduled"
	EventInProgress EventStatus = "in-progress"
	EventCompleted  EventStatus = "completed"
	EventOverdue    EventStatus = "overdue"
	EventCancelled  EventStatus = "cancelled"
)

type TaskStatus string

const (
	TaskLocked    TaskStatus = "locked"
	TaskAvailable TaskStatus = "available"
	TaskComplete  TaskStatus = "complete"
)

// EventCompletionTaskID marks the synthetic stamp appended when an event completes.
const EventCompletionTaskID = "event-completion"

// DefaultDurationMinutes applies when neither the event nor its metadata carry a duration.
const DefaultDurationMinutes = 60

// DateLayout and TimeLayout are the wire formats for Event.Date and Event.Time.
const (
	DateLayout = "2006-01-02"
	TimeLayout = "15:04"
)

type AssignedUser struct {
	Role   Role   `json:"role" yaml:"role"`
	UserID string `json:"user_id" yaml:"user_id"`
	Name   string `json:"name" yaml:"name"`
}

type Task struct {
	ID                string     `json:"id" yaml:"id"`
	Title             string     `json:"title" yaml:"title"`
	Description       string     `json:"description,omitempty" yaml:"description"`
	AssignedRole      Role       `json:"assigned_role" yaml:"assigned_role"`
	IsComplete        bool       `json:"is_complete" yaml:"is_complete"`
	IsRequired        bool       `json:"is_required" yaml:"is_required"`
	Status            TaskStatus `json:"status" yaml:"-"`
	EstimatedDuration int        `json:"estimated_duration,omitempty" yaml:"estimated_duration"`
	DependsOnTaskID   string     `json:"depends_on_task_id,omitempty" yaml:"depends_on"`
	CompletedAt       *time.Time `json:"completed_at,omitempty" yaml:"-"`
	CompletedBy       Role       `json:"completed_by,omitempty" yaml:"-"`
}

type CompletionStamp struct {
	ID              string    `json:"id"`
	TaskID          string    `json:"task_id"`
	TaskName        string    `json:"task_name"`
	EventID         string    `json:"event_id"`
	EventType       string    `json:"event_type"`
	CompletedAt     time.Time `json:"completed_at"`
	CompletedBy     Role      `json:"completed_by"`
	CompletedByName string    `json:"completed_by_name"`
	UserID          string    `json:"user_id,omitempty"`
	CanUndo         bool      `json:"can_undo"`
	DisplayTime     string    `json:"display_time"`
	Permanent       bool      `json:"permanent"`
}

type Event struct {
	ID                string            `json:"id" yaml:"id"`
	Type              string            `json:"type" yaml:"type"`
	Title             string            `json:"title" yaml:"title"`
	Description       string            `json:"description,omitempty" yaml:"description"`
	Date              time.Time         `json:"date" yaml:"-"`
	Time              string            `json:"time" yaml:"time"`
	Status            EventStatus       `json:"status" yaml:"status"`
	Priority          string            `json:"priority,omitempty" yaml:"priority"`
	Category          string            `json:"category,omitempty" yaml:"category"`
	EstimatedDuration int               `json:"estimated_duration,omitempty" yaml:"estimated_duration"`
	Tasks             []Task            `json:"tasks" yaml:"tasks"`
	AssignedUsers     []AssignedUser    `json:"assigned_users" yaml:"assigned_users"`
	CreatedBy         string            `json:"created_by,omitempty" yaml:"created_by"`
	CreatedAt         time.Time         `json:"created_at" yaml:"-"`
	UpdatedAt         time.Time         `json:"updated_at" yaml:"-"`
	RescheduledCount  int               `json:"rescheduled_count" yaml:"-"`
	CompletedAt       *time.Time        `json:"completed_at,omitempty" yaml:"-"`
	CompletionStamps  []CompletionStamp `json:"completion_stamps" yaml:"-"`
	Metadata          map[string]string `json:"metadata,omitempty" yaml:"metadata"`
}

// TaskByID returns the index of the task with id, or -1.
func (e *Event) TaskByID(id string) int {
	for i := range e.Tasks {
		if e.Tasks[i].ID == id {
			return i
		}
	}
	return -1
}

// HasRole reports whether any assigned user holds role.
func (e Event) HasRole(role Role) bool {
	for _, u := range e.AssignedUsers {
		if u.Role == role {
			return true
		}
	}
	return false
}

// UserFor returns the first assigned user holding role.
func (e Event) UserFor(role Role) (AssignedUser, bool) {
	for _, u := range e.AssignedUsers {
		if u.Role == role {
			return u, true
		}
	}
	return AssignedUser{}, false
}

// DurationMinutes resolves the event length used by conflict checks.
func (e Event) DurationMinutes() int {
	if e.EstimatedDuration > 0 {
		return e.EstimatedDuration
	}
	if raw, ok := e.Metadata["estimatedDuration"]; ok {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			return n
		}
	}
	return DefaultDurationMinutes
}

// Start combines Date and Time in the date's location. A malformed time
// falls back to the start of the day.
func (e Event) Start() time.Time {
	day := time.Date(e.Date.Year(), e.Date.Month(), e.Date.Day(), 0, 0, 0, 0, e.Date.Location())
	t, err := time.Parse(TimeLayout, e.Time)
	if err != nil {
		return day
	}
	return day.Add(time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute)
}

func (e Event) End() time.Time {
	return e.Start().Add(time.Duration(e.DurationMinutes()) * time.Minute)
}

// SameDay compares calendar days, ignoring time of day.
func SameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

// Clone returns a deep copy so callers never alias store-owned state.
func (e Event) Clone() Event {
	out := e
	if e.Tasks != nil {
		out.Tasks = make([]Task, len(e.Tasks))
		for i, t := range e.Tasks {
			t.CompletedAt = cloneTime(t.CompletedAt)
			out.Tasks[i] = t
		}
	}
	if e.AssignedUsers != nil {
		out.AssignedUsers = append([]AssignedUser(nil), e.AssignedUsers...)
	}
	if e.CompletionStamps != nil {
		out.CompletionStamps = append([]CompletionStamp(nil), e.CompletionStamps...)
	}
	if e.Metadata != nil {
		out.Metadata = make(map[string]string, len(e.Metadata))
		for k, v := range e.Metadata {
			out.Metadata[k] = v
		}
	}
	out.CompletedAt = cloneTime(e.CompletedAt)
	return out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
