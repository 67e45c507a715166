package engine

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/dylanstrategy/swipe-flow-cards-9e97da56-sub002/internal/clock"
	"github.com/dylanstrategy/swipe-flow-cards-9e97da56-sub002/internal/domain"
	"github.com/dylanstrategy/swipe-flow-cards-9e97da56-sub002/internal/engine/auth"
	"github.com/dylanstrategy/swipe-flow-cards-9e97da56-sub002/internal/engine/graph"
	"github.com/dylanstrategy/swipe-flow-cards-9e97da56-sub002/internal/engine/stamp"
	"github.com/dylanstrategy/swipe-flow-cards-9e97da56-sub002/internal/metrics"
	"github.com/dylanstrategy/swipe-flow-cards-9e97da56-sub002/internal/store"
)

var (
	ErrEventNotFound   = store.ErrNotFound
	ErrDuplicateEvent  = store.ErrDuplicate
	ErrDependencyCycle = graph.ErrDependencyCycle
	ErrTaskNotFound    = errors.New("task not found")
	ErrUnauthorized    = errors.New("role not authorized for task")
	ErrTaskLocked      = errors.New("task locked by incomplete dependency")
	ErrNoStamp         = errors.New("no completion stamp for task")
	ErrPermanent       = errors.New("completion is permanent")
	ErrInvalidEvent    = errors.New("invalid event")
)

// Engine is the only writer of event state. Every mutation runs inside
// store.Mutate, which serializes read-modify-write sequences.
type Engine struct {
	store  *store.Store
	Auth   auth.Matrix
	Stamps stamp.Stamper
	log    zerolog.Logger
}

type Options struct {
	Clock            clock.Clock
	PermanenceCutoff string
	// Overrides replaces auth.DefaultOverrides when non-nil.
	Overrides map[domain.Role][]domain.Role
	Logger    zerolog.Logger
}

func New(s *store.Store, opts Options) (Engine, error) {
	if s == nil {
		return Engine{}, errors.New("store required")
	}
	st, err := stamp.New(opts.Clock, opts.PermanenceCutoff)
	if err != nil {
		return Engine{}, err
	}
	matrix := auth.Default()
	if opts.Overrides != nil {
		matrix = auth.NewMatrix(opts.Overrides)
	}
	return Engine{
		store:  s,
		Auth:   matrix,
		Stamps: st,
		log:    opts.Logger.With().Str("component", "engine").Logger(),
	}, nil
}

func (e Engine) now() time.Time {
	return e.Stamps.Now()
}

// Ready reports whether the engine was built by New.
func (e Engine) Ready() bool {
	return e.store != nil
}

// AddEvent validates and stores a new event. An empty id is generated.
func (e Engine) AddEvent(ev domain.Event) (domain.Event, error) {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if err := validateEvent(ev); err != nil {
		return domain.Event{}, e.reject("add", err)
	}
	for _, t := range ev.Tasks {
		if t.IsComplete {
			return domain.Event{}, e.reject("add", fmt.Errorf("%w: task %s must be completed through CompleteTask", ErrInvalidEvent, t.ID))
		}
	}
	now := e.now()
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = now
	}
	ev.UpdatedAt = now
	if ev.Status == "" {
		ev.Status = domain.EventScheduled
	}
	if ev.CompletionStamps == nil {
		ev.CompletionStamps = []domain.CompletionStamp{}
	}
	graph.Refresh(ev.Tasks)
	e.reconcile(&ev, now)
	if err := e.store.Add(ev, store.Change{Kind: store.ChangeAdded, EventID: ev.ID, At: now}); err != nil {
		return domain.Event{}, e.reject("add", err)
	}
	e.log.Debug().Str("event_id", ev.ID).Str("type", ev.Type).Msg("event added")
	return e.present(ev), nil
}

// EventPatch is a partial update; nil fields are left untouched. Metadata
// entries are merged, and an empty value deletes the key.
type EventPatch struct {
	Type              *string
	Title             *string
	Description       *string
	Date              *time.Time
	Time              *string
	Status            *domain.EventStatus
	Priority          *string
	Category          *string
	EstimatedDuration *int
	Tasks             *[]domain.Task
	AssignedUsers     *[]domain.AssignedUser
	Metadata          map[string]string
}

func (e Engine) UpdateEvent(id string, patch EventPatch) (domain.Event, error) {
	out, err := e.store.Mutate(id, func(ev *domain.Event) (store.Change, error) {
		now := e.now()
		before := append([]domain.Task(nil), ev.Tasks...)
		applyPatch(ev, patch)
		if err := validateEvent(*ev); err != nil {
			return store.Change{}, err
		}
		if patch.Tasks != nil {
			if err := keepCompletions(ev.Tasks, before); err != nil {
				return store.Change{}, err
			}
			pruneStamps(ev)
		}
		graph.Refresh(ev.Tasks)
		if patch.Status != nil {
			if *patch.Status == "" {
				return store.Change{}, fmt.Errorf("%w: empty status", ErrInvalidEvent)
			}
			done := graph.AllRequiredComplete(ev.Tasks)
			if done != (*patch.Status == domain.EventCompleted) {
				return store.Change{}, fmt.Errorf("%w: status %s conflicts with task completion", ErrInvalidEvent, *patch.Status)
			}
		}
		e.reconcile(ev, now)
		ev.UpdatedAt = now
		return store.Change{Kind: store.ChangeUpdated, EventID: ev.ID, At: now}, nil
	})
	if err != nil {
		return out, e.reject("update", err)
	}
	return e.present(out), nil
}

// RescheduleEvent moves an event without conflict validation; callers that
// need a free slot go through the scheduler.
func (e Engine) RescheduleEvent(id string, date time.Time, timeOfDay string) (domain.Event, error) {
	if _, err := time.Parse(domain.TimeLayout, timeOfDay); err != nil {
		return domain.Event{}, e.reject("reschedule", fmt.Errorf("%w: time %q must be HH:MM", ErrInvalidEvent, timeOfDay))
	}
	if date.IsZero() {
		return domain.Event{}, e.reject("reschedule", fmt.Errorf("%w: date required", ErrInvalidEvent))
	}
	out, err := e.store.Mutate(id, func(ev *domain.Event) (store.Change, error) {
		now := e.now()
		ev.Date = date
		ev.Time = timeOfDay
		ev.RescheduledCount++
		if ev.Status == domain.EventOverdue {
			ev.Status = domain.EventScheduled
			if graph.AnyComplete(ev.Tasks) {
				ev.Status = domain.EventInProgress
			}
		}
		ev.UpdatedAt = now
		return store.Change{Kind: store.ChangeRescheduled, EventID: ev.ID, At: now}, nil
	})
	if err != nil {
		return out, e.reject("reschedule", err)
	}
	return e.present(out), nil
}

func (e Engine) RemoveEvent(id string) error {
	if err := e.store.Remove(id, store.Change{Kind: store.ChangeRemoved, EventID: id, At: e.now()}); err != nil {
		return e.reject("remove", err)
	}
	return nil
}

// CompleteTask marks a task complete on behalf of acting. Preconditions are
// checked in order (event, task, authorization, dependency) and any failure
// leaves the event untouched.
func (e Engine) CompleteTask(eventID, taskID string, acting domain.Role) (domain.Event, error) {
	out, err := e.store.Mutate(eventID, func(ev *domain.Event) (store.Change, error) {
		idx := ev.TaskByID(taskID)
		if idx < 0 {
			return store.Change{}, fmt.Errorf("%w: %s in event %s", ErrTaskNotFound, taskID, eventID)
		}
		task := ev.Tasks[idx]
		if err := e.Auth.Authorize(acting, task.AssignedRole); err != nil {
			return store.Change{}, fmt.Errorf("%w: %w", ErrUnauthorized, err)
		}
		if !graph.IsUnlocked(task, ev.Tasks) {
			return store.Change{}, fmt.Errorf("%w: %s waits on %v", ErrTaskLocked, taskID, graph.Blockers(task, ev.Tasks))
		}

		now := e.now()
		task.IsComplete = true
		task.CompletedAt = &now
		task.CompletedBy = acting
		ev.Tasks[idx] = task
		ev.CompletionStamps = append(stamp.Without(ev.CompletionStamps, taskID), e.Stamps.ForTask(*ev, task, acting, now))
		graph.Refresh(ev.Tasks)

		change := store.Change{Kind: store.ChangeTaskCompleted, EventID: ev.ID, TaskID: taskID, Role: acting, At: now}
		switch {
		case graph.AllRequiredComplete(ev.Tasks) && ev.Status != domain.EventCompleted:
			ev.Status = domain.EventCompleted
			ev.CompletedAt = &now
			ev.CompletionStamps = append(stamp.Without(ev.CompletionStamps, domain.EventCompletionTaskID), e.Stamps.ForEvent(*ev, acting, now))
			change.Kind = store.ChangeEventCompleted
			metrics.EventCompletionsTotal.WithLabelValues(ev.Type).Inc()
		case ev.Status == domain.EventScheduled || ev.Status == domain.EventOverdue:
			ev.Status = domain.EventInProgress
		}
		ev.UpdatedAt = now
		return change, nil
	})
	if err != nil {
		return out, e.reject("complete", err)
	}
	metrics.TaskCompletionsTotal.WithLabelValues(string(acting)).Inc()
	e.log.Info().Str("event_id", eventID).Str("task_id", taskID).Str("role", string(acting)).
		Str("status", string(out.Status)).Msg("task completed")
	return e.present(out), nil
}

// UndoTaskCompletion reverts a completion while its stamp is still undoable.
// Dependent tasks re-lock through status derivation; their own completion is
// not undone. The event leaves completed only if a required task reopened.
func (e Engine) UndoTaskCompletion(eventID, taskID string) (domain.Event, error) {
	out, err := e.store.Mutate(eventID, func(ev *domain.Event) (store.Change, error) {
		idx := ev.TaskByID(taskID)
		if idx < 0 {
			return store.Change{}, fmt.Errorf("%w: %s in event %s", ErrTaskNotFound, taskID, eventID)
		}
		si := stamp.Find(ev.CompletionStamps, taskID)
		if si < 0 {
			return store.Change{}, fmt.Errorf("%w: %s", ErrNoStamp, taskID)
		}
		now := e.now()
		if !e.Stamps.CanUndo(ev.CompletionStamps[si], now) {
			return store.Change{}, fmt.Errorf("%w: %s", ErrPermanent, taskID)
		}

		task := ev.Tasks[idx]
		task.IsComplete = false
		task.CompletedAt = nil
		task.CompletedBy = ""
		ev.Tasks[idx] = task
		ev.CompletionStamps = stamp.Without(ev.CompletionStamps, taskID)
		graph.Refresh(ev.Tasks)
		e.reconcile(ev, now)
		ev.UpdatedAt = now
		return store.Change{Kind: store.ChangeTaskUndone, EventID: ev.ID, TaskID: taskID, At: now}, nil
	})
	if err != nil {
		return out, e.reject("undo", err)
	}
	metrics.TaskUndosTotal.Inc()
	e.log.Info().Str("event_id", eventID).Str("task_id", taskID).Msg("task completion undone")
	return e.present(out), nil
}

// MarkOverdue flags scheduled or in-progress events that ended before now.
func (e Engine) MarkOverdue() (int, error) {
	marked := 0
	for _, candidate := range e.store.All() {
		if !overdueCandidate(candidate, e.now()) {
			continue
		}
		_, err := e.store.Mutate(candidate.ID, func(ev *domain.Event) (store.Change, error) {
			now := e.now()
			if !overdueCandidate(*ev, now) {
				return store.Change{}, store.ErrUnchanged
			}
			ev.Status = domain.EventOverdue
			ev.UpdatedAt = now
			return store.Change{Kind: store.ChangeOverdue, EventID: ev.ID, At: now}, nil
		})
		switch {
		case err == nil:
			marked++
		case errors.Is(err, store.ErrUnchanged), errors.Is(err, store.ErrNotFound):
		default:
			return marked, err
		}
	}
	if marked > 0 {
		e.log.Info().Int("count", marked).Msg("events marked overdue")
	}
	return marked, nil
}

func overdueCandidate(ev domain.Event, now time.Time) bool {
	if ev.Status != domain.EventScheduled && ev.Status != domain.EventInProgress {
		return false
	}
	return ev.End().Before(now)
}

func (e Engine) GetEventByID(id string) (domain.Event, error) {
	ev, err := e.store.Get(id)
	if err != nil {
		return ev, err
	}
	return e.present(ev), nil
}

func (e Engine) AllEvents() []domain.Event {
	return e.presentAll(e.store.All())
}

func (e Engine) EventsForRole(role domain.Role) []domain.Event {
	return e.presentAll(e.store.ForRole(role))
}

func (e Engine) EventsForRoleAndDate(role domain.Role, date time.Time) []domain.Event {
	return e.presentAll(e.store.ForRoleAndDate(role, date))
}

// EventsForUserAndDate narrows EventsForRoleAndDate to one user; an empty
// userID matches every holder of the role.
func (e Engine) EventsForUserAndDate(role domain.Role, userID string, date time.Time) []domain.Event {
	return e.presentAll(e.store.ForUserAndDate(role, userID, date))
}

func (e Engine) Subscribe(fn store.Subscriber) store.SubscriptionID {
	return e.store.Subscribe(fn)
}

func (e Engine) Unsubscribe(id store.SubscriptionID) bool {
	return e.store.Unsubscribe(id)
}

// present refreshes the CanUndo flag of copies handed to readers so it
// reflects the current clock.
func (e Engine) present(ev domain.Event) domain.Event {
	now := e.now()
	for i := range ev.CompletionStamps {
		ev.CompletionStamps[i].CanUndo = e.Stamps.CanUndo(ev.CompletionStamps[i], now)
	}
	return ev
}

func (e Engine) presentAll(events []domain.Event) []domain.Event {
	for i := range events {
		events[i] = e.present(events[i])
	}
	return events
}

func (e Engine) reject(op string, err error) error {
	metrics.RejectionsTotal.WithLabelValues(op, reason(err)).Inc()
	e.log.Debug().Err(err).Str("op", op).Msg("write rejected")
	return err
}

func reason(err error) string {
	switch {
	case errors.Is(err, ErrEventNotFound):
		return "not_found"
	case errors.Is(err, ErrTaskNotFound):
		return "task_not_found"
	case errors.Is(err, ErrDuplicateEvent):
		return "duplicate"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrTaskLocked):
		return "locked"
	case errors.Is(err, ErrNoStamp):
		return "no_stamp"
	case errors.Is(err, ErrPermanent):
		return "permanent"
	case errors.Is(err, ErrDependencyCycle):
		return "cycle"
	default:
		return "invalid"
	}
}

func validateEvent(ev domain.Event) error {
	if ev.Date.IsZero() {
		return fmt.Errorf("%w: date required", ErrInvalidEvent)
	}
	if ev.Time != "" {
		if _, err := time.Parse(domain.TimeLayout, ev.Time); err != nil {
			return fmt.Errorf("%w: time %q must be HH:MM", ErrInvalidEvent, ev.Time)
		}
	}
	if ev.Status != "" && !validStatus(ev.Status) {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidEvent, ev.Status)
	}
	if ev.EstimatedDuration < 0 {
		return fmt.Errorf("%w: estimated duration must not be negative", ErrInvalidEvent)
	}
	if err := graph.Validate(ev.Tasks); err != nil {
		if errors.Is(err, graph.ErrDependencyCycle) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	return nil
}

func validStatus(s domain.EventStatus) bool {
	switch s {
	case domain.EventScheduled, domain.EventInProgress, domain.EventCompleted, domain.EventOverdue, domain.EventCancelled:
		return true
	}
	return false
}

// keepCompletions rejects task lists that mark a task complete unless it was
// already complete, and carries the completion record over.
func keepCompletions(tasks, before []domain.Task) error {
	for i, t := range tasks {
		if !t.IsComplete {
			continue
		}
		prev := -1
		for j := range before {
			if before[j].ID == t.ID {
				prev = j
				break
			}
		}
		if prev < 0 || !before[prev].IsComplete {
			return fmt.Errorf("%w: task %s must be completed through CompleteTask", ErrInvalidEvent, t.ID)
		}
		tasks[i].CompletedAt = before[prev].CompletedAt
		tasks[i].CompletedBy = before[prev].CompletedBy
	}
	return nil
}

// reconcile restores the invariant: completed iff every required task is.
// An event that becomes completed outside CompleteTask, for example when a
// patch drops its last open required task, gets its event-completion stamp
// here, attributed to the most recent task completion.
func (e Engine) reconcile(ev *domain.Event, now time.Time) {
	done := graph.AllRequiredComplete(ev.Tasks)
	switch {
	case done && ev.Status != domain.EventCompleted:
		ev.Status = domain.EventCompleted
		if ev.CompletedAt == nil {
			ev.CompletedAt = &now
		}
		if stamp.Find(ev.CompletionStamps, domain.EventCompletionTaskID) < 0 {
			ev.CompletionStamps = append(ev.CompletionStamps, e.Stamps.ForEvent(*ev, lastCompleter(ev.Tasks), now))
		}
	case !done && ev.Status == domain.EventCompleted:
		ev.Status = domain.EventInProgress
		ev.CompletedAt = nil
		ev.CompletionStamps = stamp.Without(ev.CompletionStamps, domain.EventCompletionTaskID)
	}
}

func lastCompleter(tasks []domain.Task) domain.Role {
	var (
		role domain.Role
		at   time.Time
	)
	for _, t := range tasks {
		if t.IsComplete && t.CompletedAt != nil && !t.CompletedAt.Before(at) {
			role, at = t.CompletedBy, *t.CompletedAt
		}
	}
	if role == "" && len(tasks) > 0 {
		role = tasks[0].AssignedRole
	}
	return role
}

// pruneStamps drops stamps whose task vanished or is no longer complete.
func pruneStamps(ev *domain.Event) {
	keep := ev.CompletionStamps[:0:0]
	for _, st := range ev.CompletionStamps {
		if st.TaskID == domain.EventCompletionTaskID {
			keep = append(keep, st)
			continue
		}
		if idx := ev.TaskByID(st.TaskID); idx >= 0 && ev.Tasks[idx].IsComplete {
			keep = append(keep, st)
		}
	}
	ev.CompletionStamps = keep
}

func applyPatch(ev *domain.Event, p EventPatch) {
	if p.Type != nil {
		ev.Type = *p.Type
	}
	if p.Title != nil {
		ev.Title = *p.Title
	}
	if p.Description != nil {
		ev.Description = *p.Description
	}
	if p.Date != nil {
		ev.Date = *p.Date
	}
	if p.Time != nil {
		ev.Time = *p.Time
	}
	if p.Status != nil {
		ev.Status = *p.Status
	}
	if p.Priority != nil {
		ev.Priority = *p.Priority
	}
	if p.Category != nil {
		ev.Category = *p.Category
	}
	if p.EstimatedDuration != nil {
		ev.EstimatedDuration = *p.EstimatedDuration
	}
	if p.Tasks != nil {
		ev.Tasks = append([]domain.Task(nil), (*p.Tasks)...)
	}
	if p.AssignedUsers != nil {
		ev.AssignedUsers = append([]domain.AssignedUser(nil), (*p.AssignedUsers)...)
	}
	if len(p.Metadata) > 0 {
		if ev.Metadata == nil {
			ev.Metadata = make(map[string]string, len(p.Metadata))
		}
		for k, v := range p.Metadata {
			if v == "" {
				delete(ev.Metadata, k)
				continue
			}
			ev.Metadata[k] = v
		}
	}
}
