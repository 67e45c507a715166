// Package store holds every Event in memory and notifies subscribers after
// each successful mutation.
package store

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/dylanstrategy/swipe-flow-cards-9e97da56-sub002/internal/domain"
	"github.com/dylanstrategy/swipe-flow-cards-9e97da56-sub002/internal/metrics"
)

var (
	ErrNotFound  = errors.New("event not found")
	ErrDuplicate = errors.New("event id already exists")
	// ErrUnchanged tells Mutate the callback decided there was nothing to write.
	ErrUnchanged = errors.New("event unchanged")
)

type ChangeKind string

const (
	ChangeAdded          ChangeKind = "event.added"
	ChangeUpdated        ChangeKind = "event.updated"
	ChangeRescheduled    ChangeKind = "event.rescheduled"
	ChangeRemoved        ChangeKind = "event.removed"
	ChangeOverdue        ChangeKind = "event.overdue"
	ChangeTaskCompleted  ChangeKind = "task.completed"
	ChangeTaskUndone     ChangeKind = "task.undone"
	ChangeEventCompleted ChangeKind = "event.completed"
)

// Change describes one successful mutation.
type Change struct {
	Kind    ChangeKind  `json:"kind"`
	EventID string      `json:"event_id"`
	TaskID  string      `json:"task_id,omitempty"`
	Role    domain.Role `json:"role,omitempty"`
	At      time.Time   `json:"at"`
}

type Subscriber func(Change)

type SubscriptionID uint64

type Store struct {
	mu     sync.RWMutex
	events map[string]*domain.Event
	order  []string

	subMu   sync.Mutex
	subs    map[SubscriptionID]Subscriber
	nextSub SubscriptionID

	log zerolog.Logger
}

func New(logger zerolog.Logger) *Store {
	return &Store{
		events: make(map[string]*domain.Event),
		subs:   make(map[SubscriptionID]Subscriber),
		log:    logger.With().Str("component", "store").Logger(),
	}
}

// Add stores a copy of ev. Duplicate ids are rejected.
func (s *Store) Add(ev domain.Event, change Change) error {
	s.mu.Lock()
	if _, exists := s.events[ev.ID]; exists {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrDuplicate, ev.ID)
	}
	stored := ev.Clone()
	s.events[ev.ID] = &stored
	s.order = append(s.order, ev.ID)
	metrics.EventsStored.Set(float64(len(s.events)))
	s.mu.Unlock()

	s.notify(change)
	return nil
}

// Mutate runs fn against a working copy of the event while holding the write
// lock. The copy replaces the stored event only when fn succeeds, so a failed
// fn leaves no partial mutation. Subscribers are notified once, after the
// lock is released.
func (s *Store) Mutate(id string, fn func(*domain.Event) (Change, error)) (domain.Event, error) {
	s.mu.Lock()
	cur, ok := s.events[id]
	if !ok {
		s.mu.Unlock()
		return domain.Event{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	work := cur.Clone()
	change, err := fn(&work)
	if err != nil {
		s.mu.Unlock()
		return cur.Clone(), err
	}
	s.events[id] = &work
	out := work.Clone()
	s.mu.Unlock()

	s.notify(change)
	return out, nil
}

func (s *Store) Remove(id string, change Change) error {
	s.mu.Lock()
	if _, ok := s.events[id]; !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	delete(s.events, id)
	for i, oid := range s.order {
		if oid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	metrics.EventsStored.Set(float64(len(s.events)))
	s.mu.Unlock()

	s.notify(change)
	return nil
}

func (s *Store) Get(id string) (domain.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ev, ok := s.events[id]
	if !ok {
		return domain.Event{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return ev.Clone(), nil
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events)
}

// All returns copies of every event ordered by start time.
func (s *Store) All() []domain.Event {
	return s.filter(func(domain.Event) bool { return true })
}

// ForRole returns events with an assigned user holding role.
func (s *Store) ForRole(role domain.Role) []domain.Event {
	return s.filter(func(ev domain.Event) bool { return ev.HasRole(role) })
}

// ForRoleAndDate narrows ForRole to the calendar day of date.
func (s *Store) ForRoleAndDate(role domain.Role, date time.Time) []domain.Event {
	return s.filter(func(ev domain.Event) bool {
		return ev.HasRole(role) && domain.SameDay(ev.Date, date)
	})
}

// ForUserAndDate is ForRoleAndDate restricted to one user id. An empty
// userID matches any holder of the role.
func (s *Store) ForUserAndDate(role domain.Role, userID string, date time.Time) []domain.Event {
	if userID == "" {
		return s.ForRoleAndDate(role, date)
	}
	return s.filter(func(ev domain.Event) bool {
		if !domain.SameDay(ev.Date, date) {
			return false
		}
		for _, u := range ev.AssignedUsers {
			if u.Role == role && u.UserID == userID {
				return true
			}
		}
		return false
	})
}

func (s *Store) filter(keep func(domain.Event) bool) []domain.Event {
	s.mu.RLock()
	out := make([]domain.Event, 0, len(s.order))
	for _, id := range s.order {
		ev := s.events[id]
		if keep(*ev) {
			out = append(out, ev.Clone())
		}
	}
	s.mu.RUnlock()
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Start().Before(out[j].Start())
	})
	return out
}

func (s *Store) Subscribe(fn Subscriber) SubscriptionID {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	s.nextSub++
	s.subs[s.nextSub] = fn
	return s.nextSub
}

// Unsubscribe reports whether id was subscribed.
func (s *Store) Unsubscribe(id SubscriptionID) bool {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	if _, ok := s.subs[id]; !ok {
		return false
	}
	delete(s.subs, id)
	return true
}

func (s *Store) notify(change Change) {
	s.subMu.Lock()
	subs := make([]Subscriber, 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	s.subMu.Unlock()

	for _, fn := range subs {
		s.deliver(fn, change)
	}
}

func (s *Store) deliver(fn Subscriber, change Change) {
	defer func() {
		if r := recover(); r != nil {
			metrics.SubscriberPanicsTotal.Inc()
			s.log.Error().
				Interface("panic", r).
				Str("kind", string(change.Kind)).
				Str("event_id", change.EventID).
				Msg("subscriber panicked")
		}
	}()
	fn(change)
	metrics.NotificationsTotal.WithLabelValues(string(change.Kind)).Inc()
}
