// Package stamp mints completion stamps and decides whether they may still be
// undone.
package stamp

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dylanstrategy/swipe-flow-cards-9e97da56-sub002/internal/clock"
	"github.com/dylanstrategy/swipe-flow-cards-9e97da56-sub002/internal/domain"
)

// DefaultCutoff is the local time of day from which completions are permanent.
const DefaultCutoff = "23:59"

const displayLayout = "3:04 PM"

type Stamper struct {
	Clock        clock.Clock
	cutoffHour   int
	cutoffMinute int
}

// New builds a stamper. cutoff is "HH:MM"; empty means DefaultCutoff.
func New(c clock.Clock, cutoff string) (Stamper, error) {
	if c == nil {
		c = clock.System{}
	}
	if cutoff == "" {
		cutoff = DefaultCutoff
	}
	t, err := time.Parse(domain.TimeLayout, cutoff)
	if err != nil {
		return Stamper{}, fmt.Errorf("invalid permanence cutoff %q: %w", cutoff, err)
	}
	return Stamper{Clock: c, cutoffHour: t.Hour(), cutoffMinute: t.Minute()}, nil
}

// Now reads the injected clock. It is never cached.
func (s Stamper) Now() time.Time {
	if s.Clock == nil {
		return time.Now()
	}
	return s.Clock.Now()
}

// PastMidnight reports whether t is at or after the cutoff in its own
// location. With the default cutoff this is only the final minute of the day.
func (s Stamper) PastMidnight(t time.Time) bool {
	h, m := t.Hour(), t.Minute()
	if h != s.cutoffHour {
		return h > s.cutoffHour
	}
	return m >= s.cutoffMinute
}

// ForTask mints the stamp for a task completion at now.
func (s Stamper) ForTask(ev domain.Event, task domain.Task, actor domain.Role, now time.Time) domain.CompletionStamp {
	user, ok := ev.UserFor(actor)
	name := user.Name
	if !ok || name == "" {
		name = string(actor)
	}
	permanent := s.PastMidnight(now)
	return domain.CompletionStamp{
		ID:              uuid.NewString(),
		TaskID:          task.ID,
		TaskName:        task.Title,
		EventID:         ev.ID,
		EventType:       ev.Type,
		CompletedAt:     now,
		CompletedBy:     actor,
		CompletedByName: name,
		UserID:          user.UserID,
		CanUndo:         !permanent,
		DisplayTime:     now.Format(displayLayout),
		Permanent:       permanent,
	}
}

// ForEvent mints the synthetic, never undoable event-completion stamp.
func (s Stamper) ForEvent(ev domain.Event, actor domain.Role, now time.Time) domain.CompletionStamp {
	user, ok := ev.UserFor(actor)
	name := user.Name
	if !ok || name == "" {
		name = string(actor)
	}
	return domain.CompletionStamp{
		ID:              uuid.NewString(),
		TaskID:          domain.EventCompletionTaskID,
		TaskName:        ev.Title + " completed",
		EventID:         ev.ID,
		EventType:       ev.Type,
		CompletedAt:     now,
		CompletedBy:     actor,
		CompletedByName: name,
		UserID:          user.UserID,
		CanUndo:         false,
		DisplayTime:     now.Format(displayLayout),
		Permanent:       true,
	}
}

// CanUndo evaluates undo eligibility at now.
func (s Stamper) CanUndo(st domain.CompletionStamp, now time.Time) bool {
	if st.Permanent || st.TaskID == domain.EventCompletionTaskID {
		return false
	}
	return !s.PastMidnight(now)
}

// Find returns the index of the stamp for taskID, or -1.
func Find(stamps []domain.CompletionStamp, taskID string) int {
	for i, st := range stamps {
		if st.TaskID == taskID {
			return i
		}
	}
	return -1
}

// Without drops every stamp for the given task ids.
func Without(stamps []domain.CompletionStamp, taskIDs ...string) []domain.CompletionStamp {
	drop := make(map[string]bool, len(taskIDs))
	for _, id := range taskIDs {
		drop[id] = true
	}
	out := stamps[:0:0]
	for _, st := range stamps {
		if !drop[st.TaskID] {
			out = append(out, st)
		}
	}
	return out
}
