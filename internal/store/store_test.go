package store_test

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dylanstrategy/swipe-flow-cards-9e97da56-sub002/internal/domain"
	"github.com/dylanstrategy/swipe-flow-cards-9e97da56-sub002/internal/log"
	"github.com/dylanstrategy/swipe-flow-cards-9e97da56-sub002/internal/store"
)

func event(id, hhmm string, roles ...domain.Role) domain.Event {
	ev := domain.Event{
		ID:    id,
		Title: id,
		Date:  time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC),
		Time:  hhmm,
		Tasks: []domain.Task{{ID: "t1", Title: "one", IsRequired: true}},
	}
	for i, r := range roles {
		ev.AssignedUsers = append(ev.AssignedUsers, domain.AssignedUser{Role: r, UserID: string(r) + "-" + string(rune('1'+i))})
	}
	return ev
}

func TestAddGetAndCopies(t *testing.T) {
	s := store.New(log.Nop())
	ev := event("e1", "10:00", domain.RoleResident)
	require.NoError(t, s.Add(ev, store.Change{Kind: store.ChangeAdded, EventID: "e1"}))
	assert.ErrorIs(t, s.Add(ev, store.Change{}), store.ErrDuplicate)

	got, err := s.Get("e1")
	require.NoError(t, err)
	if diff := cmp.Diff(ev, got); diff != "" {
		t.Fatalf("stored event differs (-want +got):\n%s", diff)
	}

	got.Tasks[0].Title = "mutated"
	again, _ := s.Get("e1")
	assert.Equal(t, "one", again.Tasks[0].Title, "Get must return a copy")

	_, err = s.Get("nope")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestMutateIsAllOrNothing(t *testing.T) {
	s := store.New(log.Nop())
	require.NoError(t, s.Add(event("e1", "10:00"), store.Change{}))

	var seen []store.Change
	s.Subscribe(func(c store.Change) { seen = append(seen, c) })

	boom := errors.New("boom")
	_, err := s.Mutate("e1", func(ev *domain.Event) (store.Change, error) {
		ev.Title = "half-written"
		return store.Change{}, boom
	})
	assert.ErrorIs(t, err, boom)
	cur, _ := s.Get("e1")
	assert.Equal(t, "e1", cur.Title)
	assert.Empty(t, seen, "failed mutation must not notify")

	out, err := s.Mutate("e1", func(ev *domain.Event) (store.Change, error) {
		ev.Title = "renamed"
		return store.Change{Kind: store.ChangeUpdated, EventID: ev.ID}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, "renamed", out.Title)
	require.Len(t, seen, 1)
	assert.Equal(t, store.ChangeUpdated, seen[0].Kind)

	_, err = s.Mutate("missing", func(*domain.Event) (store.Change, error) { return store.Change{}, nil })
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestQueriesOrderedByStart(t *testing.T) {
	s := store.New(log.Nop())
	require.NoError(t, s.Add(event("late", "15:00", domain.RoleMaintenance), store.Change{}))
	require.NoError(t, s.Add(event("early", "08:00", domain.RoleResident, domain.RoleMaintenance), store.Change{}))
	other := event("tomorrow", "09:00", domain.RoleMaintenance)
	other.Date = other.Date.AddDate(0, 0, 1)
	require.NoError(t, s.Add(other, store.Change{}))

	ids := func(evs []domain.Event) []string {
		out := make([]string, 0, len(evs))
		for _, ev := range evs {
			out = append(out, ev.ID)
		}
		return out
	}
	assert.Equal(t, []string{"early", "late", "tomorrow"}, ids(s.All()))
	assert.Equal(t, []string{"early"}, ids(s.ForRole(domain.RoleResident)))
	day := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, []string{"early", "late"}, ids(s.ForRoleAndDate(domain.RoleMaintenance, day)))
	assert.Equal(t, []string{"early"}, ids(s.ForUserAndDate(domain.RoleResident, "resident-1", day)))
	assert.Empty(t, s.ForUserAndDate(domain.RoleResident, "someone-else", day))

	require.NoError(t, s.Remove("late", store.Change{Kind: store.ChangeRemoved}))
	assert.ErrorIs(t, s.Remove("late", store.Change{}), store.ErrNotFound)
	assert.Equal(t, 2, s.Len())
}

func TestSubscriberPanicIsIsolated(t *testing.T) {
	s := store.New(log.Nop())
	var got []store.ChangeKind
	s.Subscribe(func(store.Change) { panic("bad subscriber") })
	s.Subscribe(func(c store.Change) { got = append(got, c.Kind) })

	require.NoError(t, s.Add(event("e1", "10:00"), store.Change{Kind: store.ChangeAdded}))
	assert.Equal(t, []store.ChangeKind{store.ChangeAdded}, got)
	_, err := s.Get("e1")
	assert.NoError(t, err, "mutation must stand despite the panic")
}

func TestConcurrentMutationsSerialize(t *testing.T) {
	s := store.New(log.Nop())
	require.NoError(t, s.Add(event("e1", "10:00"), store.Change{}))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = s.Mutate("e1", func(ev *domain.Event) (store.Change, error) {
				ev.RescheduledCount++
				return store.Change{Kind: store.ChangeRescheduled}, nil
			})
		}()
	}
	wg.Wait()
	ev, _ := s.Get("e1")
	assert.Equal(t, 50, ev.RescheduledCount)
}
