// Package scheduler books work orders into the first time slot free for two
// parties, by default the resident and maintenance.
package scheduler

import (
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/dylanstrategy/swipe-flow-cards-9e97da56-sub002/internal/domain"
	"github.com/dylanstrategy/swipe-flow-cards-9e97da56-sub002/internal/engine"
	"github.com/dylanstrategy/swipe-flow-cards-9e97da56-sub002/internal/metrics"
)

var (
	ErrNoAvailability = errors.New("no mutual availability")
	ErrInvalidRequest = errors.New("invalid work order request")
)

type Config struct {
	DayStart               string
	DayEnd                 string
	StepMinutes            int
	DefaultDurationMinutes int
	First                  domain.Role
	Second                 domain.Role
}

// DefaultConfig is the 09:00-17:00 hourly grid for resident and maintenance.
func DefaultConfig() Config {
	return Config{
		DayStart:               "09:00",
		DayEnd:                 "17:00",
		StepMinutes:            60,
		DefaultDurationMinutes: domain.DefaultDurationMinutes,
		First:                  domain.RoleResident,
		Second:                 domain.RoleMaintenance,
	}
}

// Slot is a candidate booking interval on one day.
type Slot struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Time renders the slot start as HH:MM.
func (s Slot) Time() string {
	return s.Start.Format(domain.TimeLayout)
}

// Party narrows a role to one user. An empty UserID means any holder.
type Party struct {
	Role   domain.Role
	UserID string
	Name   string
}

type WorkOrderRequest struct {
	Title             string `json:"title"`
	Description       string `json:"description,omitempty"`
	Priority          string `json:"priority,omitempty"`
	Unit              string `json:"unit,omitempty"`
	Building          string `json:"building,omitempty"`
	WorkOrderID       string `json:"work_order_id,omitempty"`
	ResidentID        string `json:"resident_id,omitempty"`
	ResidentName      string `json:"resident_name,omitempty"`
	MaintenanceUserID string `json:"maintenance_user_id,omitempty"`
	MaintenanceName   string `json:"maintenance_name,omitempty"`
	EstimatedDuration int    `json:"estimated_duration,omitempty"`
	CreatedBy         string `json:"created_by,omitempty"`
}

// Booking is the outcome of ScheduleWorkOrder. Relocated is set when the
// requested time conflicted and another slot was chosen.
type Booking struct {
	Success       bool   `json:"success"`
	ScheduledTime string `json:"scheduled_time,omitempty"`
	EventID       string `json:"event_id,omitempty"`
	Relocated     bool   `json:"relocated"`
	RequestedTime string `json:"requested_time,omitempty"`
}

type Scheduler struct {
	engine engine.Engine
	cfg    Config
	start  time.Duration
	end    time.Duration
	step   time.Duration
	log    zerolog.Logger

	// serializes find+add so two bookings cannot claim the same slot
	mu sync.Mutex
}

func New(eng engine.Engine, cfg Config, logger zerolog.Logger) (*Scheduler, error) {
	start, err := offset(cfg.DayStart)
	if err != nil {
		return nil, fmt.Errorf("day start: %w", err)
	}
	end, err := offset(cfg.DayEnd)
	if err != nil {
		return nil, fmt.Errorf("day end: %w", err)
	}
	if end <= start {
		return nil, fmt.Errorf("day end %s must be after day start %s", cfg.DayEnd, cfg.DayStart)
	}
	if cfg.StepMinutes <= 0 {
		return nil, fmt.Errorf("step minutes must be positive")
	}
	if cfg.DefaultDurationMinutes <= 0 {
		cfg.DefaultDurationMinutes = domain.DefaultDurationMinutes
	}
	if cfg.First == "" || cfg.Second == "" || cfg.First == cfg.Second {
		return nil, fmt.Errorf("scheduler needs two distinct parties")
	}
	return &Scheduler{
		engine: eng,
		cfg:    cfg,
		start:  start,
		end:    end,
		step:   time.Duration(cfg.StepMinutes) * time.Minute,
		log:    logger.With().Str("component", "scheduler").Logger(),
	}, nil
}

func offset(hhmm string) (time.Duration, error) {
	t, err := time.Parse(domain.TimeLayout, hhmm)
	if err != nil {
		return 0, fmt.Errorf("%q must be HH:MM", hhmm)
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}

// FindMutualAvailability returns the first grid slot on date free for both
// configured parties.
func (s *Scheduler) FindMutualAvailability(date time.Time, durationMinutes int) (Slot, bool) {
	return s.FindFor(date, durationMinutes, Party{Role: s.cfg.First}, Party{Role: s.cfg.Second})
}

// FindFor is FindMutualAvailability for explicit parties.
func (s *Scheduler) FindFor(date time.Time, durationMinutes int, first, second Party) (Slot, bool) {
	if durationMinutes <= 0 {
		durationMinutes = s.cfg.DefaultDurationMinutes
	}
	length := time.Duration(durationMinutes) * time.Minute
	busyA := s.busy(first, date)
	busyB := s.busy(second, date)
	for _, slot := range s.grid(date, length) {
		if free(slot, busyA) && free(slot, busyB) {
			return slot, true
		}
	}
	return Slot{}, false
}

// Grid lists every candidate slot on date that ends within the window.
func (s *Scheduler) grid(date time.Time, length time.Duration) []Slot {
	day := midnight(date)
	var slots []Slot
	for at := s.start; at+length <= s.end; at += s.step {
		start := day.Add(at)
		slots = append(slots, Slot{Start: start, End: start.Add(length)})
	}
	return slots
}

func midnight(date time.Time) time.Time {
	return time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, date.Location())
}

func (s *Scheduler) busy(p Party, date time.Time) []Slot {
	var out []Slot
	for _, ev := range s.engine.EventsForUserAndDate(p.Role, p.UserID, date) {
		if ev.Status == domain.EventCancelled {
			continue
		}
		out = append(out, Slot{Start: ev.Start(), End: ev.End()})
	}
	return out
}

// free applies the half-open overlap rule; touching intervals do not conflict.
func free(slot Slot, busy []Slot) bool {
	for _, b := range busy {
		if slot.Start.Before(b.End) && slot.End.After(b.Start) {
			return false
		}
	}
	return true
}

// ScheduleWorkOrder books a three-step work order on date. A requested time
// is tried first; if either party is busy then, the first mutual slot of the
// day is used and the booking is marked Relocated.
func (s *Scheduler) ScheduleWorkOrder(req WorkOrderRequest, date time.Time, requestedTime string) (Booking, error) {
	if req.Title == "" {
		return Booking{}, fmt.Errorf("%w: title required", ErrInvalidRequest)
	}
	if date.IsZero() {
		return Booking{}, fmt.Errorf("%w: date required", ErrInvalidRequest)
	}
	if req.EstimatedDuration < 0 {
		return Booking{}, fmt.Errorf("%w: estimated duration must not be negative", ErrInvalidRequest)
	}
	duration := req.EstimatedDuration
	if duration == 0 {
		duration = s.cfg.DefaultDurationMinutes
	}
	first := Party{Role: s.cfg.First, UserID: req.ResidentID, Name: req.ResidentName}
	second := Party{Role: s.cfg.Second, UserID: req.MaintenanceUserID, Name: req.MaintenanceName}

	s.mu.Lock()
	defer s.mu.Unlock()

	booking := Booking{RequestedTime: requestedTime}
	var slot Slot
	found := false
	if requestedTime != "" {
		at, err := offset(requestedTime)
		if err != nil {
			return Booking{}, fmt.Errorf("%w: requested time %v", ErrInvalidRequest, err)
		}
		start := midnight(date).Add(at)
		candidate := Slot{Start: start, End: start.Add(time.Duration(duration) * time.Minute)}
		if free(candidate, s.busy(first, date)) && free(candidate, s.busy(second, date)) {
			slot, found = candidate, true
		}
	}
	if !found {
		slot, found = s.FindFor(date, duration, first, second)
		booking.Relocated = found && requestedTime != ""
	}
	if !found {
		metrics.BookingsTotal.WithLabelValues("unavailable").Inc()
		s.log.Info().Str("date", date.Format(domain.DateLayout)).Str("requested", requestedTime).Msg("no mutual availability")
		return Booking{Success: false, RequestedTime: requestedTime}, ErrNoAvailability
	}

	ev, err := s.engine.AddEvent(s.workOrderEvent(req, slot, duration, first, second))
	if err != nil {
		return Booking{Success: false, RequestedTime: requestedTime}, err
	}
	booking.Success = true
	booking.EventID = ev.ID
	booking.ScheduledTime = slot.Time()

	outcome := "booked"
	if booking.Relocated {
		outcome = "relocated"
	}
	metrics.BookingsTotal.WithLabelValues(outcome).Inc()
	s.log.Info().Str("event_id", ev.ID).Str("time", booking.ScheduledTime).Bool("relocated", booking.Relocated).Msg("work order booked")
	return booking, nil
}

func (s *Scheduler) workOrderEvent(req WorkOrderRequest, slot Slot, duration int, first, second Party) domain.Event {
	priority := req.Priority
	if priority == "" {
		priority = "medium"
	}
	meta := map[string]string{"estimatedDuration": strconv.Itoa(duration)}
	for k, v := range map[string]string{
		"unit":              req.Unit,
		"building":          req.Building,
		"workOrderId":       req.WorkOrderID,
		"residentId":        req.ResidentID,
		"maintenanceUserId": req.MaintenanceUserID,
	} {
		if v != "" {
			meta[k] = v
		}
	}
	return domain.Event{
		Type:              "work-order",
		Title:             req.Title,
		Description:       req.Description,
		Date:              midnight(slot.Start),
		Time:              slot.Time(),
		Status:            domain.EventScheduled,
		Priority:          priority,
		Category:          "maintenance",
		EstimatedDuration: duration,
		CreatedBy:         req.CreatedBy,
		Metadata:          meta,
		AssignedUsers: []domain.AssignedUser{
			{Role: first.Role, UserID: first.UserID, Name: first.Name},
			{Role: second.Role, UserID: second.UserID, Name: second.Name},
		},
		Tasks: []domain.Task{
			{ID: "grant-access", Title: "Grant access", AssignedRole: first.Role, IsRequired: true},
			{ID: "perform-work", Title: "Perform work", AssignedRole: second.Role, IsRequired: true, DependsOnTaskID: "grant-access"},
			{ID: "update-status", Title: "Update status", AssignedRole: second.Role, IsRequired: true, DependsOnTaskID: "perform-work"},
		},
	}
}
