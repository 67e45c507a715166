package server

import (
	"fmt"
	"time"

	"github.com/dylanstrategy/swipe-flow-cards-9e97da56-sub002/internal/domain"
	"github.com/dylanstrategy/swipe-flow-cards-9e97da56-sub002/internal/engine"
	"github.com/dylanstrategy/swipe-flow-cards-9e97da56-sub002/internal/journal"
	"github.com/dylanstrategy/swipe-flow-cards-9e97da56-sub002/internal/scheduler"
)

// Request payloads

type TaskRequest struct {
	ID                string `json:"id"`
	Title             string `json:"title"`
	Description       string `json:"description,omitempty"`
	AssignedRole      string `json:"assigned_role" enum:"resident,operator,maintenance,leasing,vendor,prospect"`
	IsRequired        bool   `json:"is_required,omitempty"`
	IsComplete        bool   `json:"is_complete,omitempty"`
	EstimatedDuration int    `json:"estimated_duration,omitempty"`
	DependsOnTaskID   string `json:"depends_on_task_id,omitempty"`
}

type AssignedUserRequest struct {
	Role   string `json:"role" enum:"resident,operator,maintenance,leasing,vendor,prospect"`
	UserID string `json:"user_id,omitempty"`
	Name   string `json:"name,omitempty"`
}

type CreateEventRequest struct {
	ID                string                `json:"id,omitempty"`
	Type              string                `json:"type"`
	Title             string                `json:"title"`
	Description       string                `json:"description,omitempty"`
	Date              string                `json:"date" example:"2025-03-10"`
	Time              string                `json:"time,omitempty" example:"10:00"`
	Status            string                `json:"status,omitempty" enum:"scheduled,in-progress,completed,overdue,cancelled"`
	Priority          string                `json:"priority,omitempty" enum:"low,medium,high,urgent"`
	Category          string                `json:"category,omitempty"`
	EstimatedDuration int                   `json:"estimated_duration,omitempty"`
	Tasks             []TaskRequest         `json:"tasks,omitempty"`
	AssignedUsers     []AssignedUserRequest `json:"assigned_users,omitempty"`
	CreatedBy         string                `json:"created_by,omitempty"`
	Metadata          map[string]string     `json:"metadata,omitempty"`
}

type UpdateEventRequest struct {
	Type              *string                `json:"type,omitempty"`
	Title             *string                `json:"title,omitempty"`
	Description       *string                `json:"description,omitempty"`
	Date              *string                `json:"date,omitempty"`
	Time              *string                `json:"time,omitempty"`
	Status            *string                `json:"status,omitempty" enum:"scheduled,in-progress,completed,overdue,cancelled"`
	Priority          *string                `json:"priority,omitempty" enum:"low,medium,high,urgent"`
	Category          *string                `json:"category,omitempty"`
	EstimatedDuration *int                   `json:"estimated_duration,omitempty"`
	Tasks             *[]TaskRequest         `json:"tasks,omitempty"`
	AssignedUsers     *[]AssignedUserRequest `json:"assigned_users,omitempty"`
	Metadata          map[string]string      `json:"metadata,omitempty"`
}

type RescheduleRequest struct {
	Date string `json:"date" example:"2025-03-11"`
	Time string `json:"time" example:"14:00"`
}

type CompleteTaskRequest struct {
	ActingRole string `json:"acting_role" enum:"resident,operator,maintenance,leasing,vendor,prospect"`
}

type WorkOrderRequest struct {
	scheduler.WorkOrderRequest
	Date          string `json:"date" example:"2025-03-10"`
	RequestedTime string `json:"requested_time,omitempty" example:"13:00"`
}

// Responses

type EventResponse struct {
	ID                string                   `json:"id"`
	Type              string                   `json:"type"`
	Title             string                   `json:"title"`
	Description       string                   `json:"description,omitempty"`
	Date              string                   `json:"date"`
	Time              string                   `json:"time"`
	Status            string                   `json:"status"`
	Priority          string                   `json:"priority,omitempty"`
	Category          string                   `json:"category,omitempty"`
	EstimatedDuration int                      `json:"estimated_duration"`
	Tasks             []domain.Task            `json:"tasks"`
	AssignedUsers     []domain.AssignedUser    `json:"assigned_users"`
	CreatedBy         string                   `json:"created_by,omitempty"`
	CreatedAt         time.Time                `json:"created_at"`
	UpdatedAt         time.Time                `json:"updated_at"`
	RescheduledCount  int                      `json:"rescheduled_count"`
	CompletedAt       *time.Time               `json:"completed_at,omitempty"`
	CompletionStamps  []domain.CompletionStamp `json:"completion_stamps"`
	Metadata          map[string]string        `json:"metadata,omitempty"`
}

type EventList struct {
	Items []EventResponse `json:"items"`
}

type AvailabilityResponse struct {
	Available bool   `json:"available"`
	Date      string `json:"date"`
	Time      string `json:"time,omitempty"`
	End       string `json:"end,omitempty"`
	Duration  int    `json:"duration"`
}

type ActivityResponse struct {
	Items []journal.Entry `json:"items"`
	// NextAfter is the cursor for the following page.
	NextAfter int64 `json:"next_after"`
}

func eventResponse(ev domain.Event) EventResponse {
	return EventResponse{
		ID:                ev.ID,
		Type:              ev.Type,
		Title:             ev.Title,
		Description:       ev.Description,
		Date:              ev.Date.Format(domain.DateLayout),
		Time:              ev.Time,
		Status:            string(ev.Status),
		Priority:          ev.Priority,
		Category:          ev.Category,
		EstimatedDuration: ev.DurationMinutes(),
		Tasks:             nonNilSlice(ev.Tasks),
		AssignedUsers:     nonNilSlice(ev.AssignedUsers),
		CreatedBy:         ev.CreatedBy,
		CreatedAt:         ev.CreatedAt,
		UpdatedAt:         ev.UpdatedAt,
		RescheduledCount:  ev.RescheduledCount,
		CompletedAt:       ev.CompletedAt,
		CompletionStamps:  nonNilSlice(ev.CompletionStamps),
		Metadata:          ev.Metadata,
	}
}

func eventList(events []domain.Event) EventList {
	out := EventList{Items: make([]EventResponse, 0, len(events))}
	for _, ev := range events {
		out.Items = append(out.Items, eventResponse(ev))
	}
	return out
}

func nonNilSlice[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}

func parseDate(raw string) (time.Time, error) {
	d, err := time.ParseInLocation(domain.DateLayout, raw, time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: date %q must be YYYY-MM-DD", engine.ErrInvalidEvent, raw)
	}
	return d, nil
}

func taskFromRequest(t TaskRequest) domain.Task {
	return domain.Task{
		ID:                t.ID,
		Title:             t.Title,
		Description:       t.Description,
		AssignedRole:      domain.Role(t.AssignedRole),
		IsRequired:        t.IsRequired,
		IsComplete:        t.IsComplete,
		EstimatedDuration: t.EstimatedDuration,
		DependsOnTaskID:   t.DependsOnTaskID,
	}
}

func tasksFromRequest(in []TaskRequest) []domain.Task {
	out := make([]domain.Task, 0, len(in))
	for _, t := range in {
		out = append(out, taskFromRequest(t))
	}
	return out
}

func usersFromRequest(in []AssignedUserRequest) []domain.AssignedUser {
	out := make([]domain.AssignedUser, 0, len(in))
	for _, u := range in {
		out = append(out, domain.AssignedUser{Role: domain.Role(u.Role), UserID: u.UserID, Name: u.Name})
	}
	return out
}

func eventFromRequest(req CreateEventRequest) (domain.Event, error) {
	date, err := parseDate(req.Date)
	if err != nil {
		return domain.Event{}, err
	}
	return domain.Event{
		ID:                req.ID,
		Type:              req.Type,
		Title:             req.Title,
		Description:       req.Description,
		Date:              date,
		Time:              req.Time,
		Status:            domain.EventStatus(req.Status),
		Priority:          req.Priority,
		Category:          req.Category,
		EstimatedDuration: req.EstimatedDuration,
		Tasks:             tasksFromRequest(req.Tasks),
		AssignedUsers:     usersFromRequest(req.AssignedUsers),
		CreatedBy:         req.CreatedBy,
		Metadata:          req.Metadata,
	}, nil
}

func patchFromRequest(req UpdateEventRequest) (engine.EventPatch, error) {
	p := engine.EventPatch{
		Type:              req.Type,
		Title:             req.Title,
		Description:       req.Description,
		Time:              req.Time,
		Priority:          req.Priority,
		Category:          req.Category,
		EstimatedDuration: req.EstimatedDuration,
		Metadata:          req.Metadata,
	}
	if req.Date != nil {
		d, err := parseDate(*req.Date)
		if err != nil {
			return p, err
		}
		p.Date = &d
	}
	if req.Status != nil {
		s := domain.EventStatus(*req.Status)
		p.Status = &s
	}
	if req.Tasks != nil {
		tasks := tasksFromRequest(*req.Tasks)
		p.Tasks = &tasks
	}
	if req.AssignedUsers != nil {
		users := usersFromRequest(*req.AssignedUsers)
		p.AssignedUsers = &users
	}
	return p, nil
}
