package engine_test

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dylanstrategy/swipe-flow-cards-9e97da56-sub002/internal/clock"
	"github.com/dylanstrategy/swipe-flow-cards-9e97da56-sub002/internal/domain"
	"github.com/dylanstrategy/swipe-flow-cards-9e97da56-sub002/internal/engine"
	"github.com/dylanstrategy/swipe-flow-cards-9e97da56-sub002/internal/log"
	"github.com/dylanstrategy/swipe-flow-cards-9e97da56-sub002/internal/store"
)

type testEnv struct {
	Engine  engine.Engine
	Clock   *clock.Fixed
	mu      sync.Mutex
	changes []store.Change
}

func (env *testEnv) Changes() []store.Change {
	env.mu.Lock()
	defer env.mu.Unlock()
	return append([]store.Change(nil), env.changes...)
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{Clock: clock.NewFixed(time.Date(2025, 3, 10, 14, 0, 0, 0, time.UTC))}
	eng, err := engine.New(store.New(log.Nop()), engine.Options{Clock: env.Clock, Logger: log.Nop()})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	env.Engine = eng
	eng.Subscribe(func(c store.Change) {
		env.mu.Lock()
		env.changes = append(env.changes, c)
		env.mu.Unlock()
	})
	return env
}

func day() time.Time {
	return time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
}

func workOrder(id string) domain.Event {
	return domain.Event{
		ID:    id,
		Type:  "work-order",
		Title: "Leaking faucet",
		Date:  day(),
		Time:  "10:00",
		AssignedUsers: []domain.AssignedUser{
			{Role: domain.RoleResident, UserID: "r-1", Name: "Rita Resident"},
			{Role: domain.RoleMaintenance, UserID: "m-1", Name: "Max Fixit"},
		},
		Tasks: []domain.Task{
			{ID: "access", Title: "Grant access", AssignedRole: domain.RoleResident, IsRequired: true},
			{ID: "work", Title: "Perform work", AssignedRole: domain.RoleMaintenance, IsRequired: true, DependsOnTaskID: "access"},
			{ID: "status", Title: "Update status", AssignedRole: domain.RoleMaintenance, IsRequired: true, DependsOnTaskID: "work"},
		},
	}
}

func mustAdd(t *testing.T, env *testEnv, ev domain.Event) domain.Event {
	t.Helper()
	out, err := env.Engine.AddEvent(ev)
	if err != nil {
		t.Fatalf("add event: %v", err)
	}
	return out
}

func taskStatus(ev domain.Event, id string) domain.TaskStatus {
	return ev.Tasks[ev.TaskByID(id)].Status
}

func hasEventStamp(ev domain.Event) bool {
	for _, st := range ev.CompletionStamps {
		if st.TaskID == domain.EventCompletionTaskID {
			return true
		}
	}
	return false
}

func TestAddEventDerivesTaskStatus(t *testing.T) {
	env := newTestEnv(t)
	ev := mustAdd(t, env, workOrder("wo-1"))
	if ev.Status != domain.EventScheduled {
		t.Fatalf("expected scheduled, got %s", ev.Status)
	}
	if taskStatus(ev, "access") != domain.TaskAvailable {
		t.Fatalf("access should be available")
	}
	if taskStatus(ev, "work") != domain.TaskLocked || taskStatus(ev, "status") != domain.TaskLocked {
		t.Fatalf("dependents should be locked")
	}
	if !ev.CreatedAt.Equal(env.Clock.Now()) {
		t.Fatalf("createdAt not stamped from clock")
	}
	if _, err := env.Engine.AddEvent(workOrder("wo-1")); !errors.Is(err, engine.ErrDuplicateEvent) {
		t.Fatalf("expected duplicate error, got %v", err)
	}
}

func TestAddEventGeneratesID(t *testing.T) {
	env := newTestEnv(t)
	ev := workOrder("")
	out := mustAdd(t, env, ev)
	if out.ID == "" {
		t.Fatalf("expected generated id")
	}
}

func TestAddEventRejectsCycle(t *testing.T) {
	env := newTestEnv(t)
	ev := workOrder("wo-cycle")
	ev.Tasks[0].DependsOnTaskID = "status"
	if _, err := env.Engine.AddEvent(ev); !errors.Is(err, engine.ErrDependencyCycle) {
		t.Fatalf("expected cycle error, got %v", err)
	}
	if len(env.Engine.AllEvents()) != 0 {
		t.Fatalf("cyclic event must not be stored")
	}
}

func TestAddEventAllowsUnresolvedDependency(t *testing.T) {
	env := newTestEnv(t)
	ev := workOrder("wo-dangling")
	ev.Tasks[0].DependsOnTaskID = "ghost"
	out := mustAdd(t, env, ev)
	if taskStatus(out, "access") != domain.TaskLocked {
		t.Fatalf("unresolved dependency should lock task")
	}
	if _, err := env.Engine.CompleteTask("wo-dangling", "access", domain.RoleResident); !errors.Is(err, engine.ErrTaskLocked) {
		t.Fatalf("expected locked, got %v", err)
	}
}

func TestCompleteTaskPreconditionOrder(t *testing.T) {
	env := newTestEnv(t)
	mustAdd(t, env, workOrder("wo-1"))

	cases := []struct {
		name    string
		eventID string
		taskID  string
		role    domain.Role
		want    error
	}{
		{"missing event", "nope", "access", domain.RoleResident, engine.ErrEventNotFound},
		{"missing task", "wo-1", "nope", domain.RoleResident, engine.ErrTaskNotFound},
		// unauthorized wins over locked
		{"unauthorized before locked", "wo-1", "work", domain.RoleResident, engine.ErrUnauthorized},
		{"locked", "wo-1", "work", domain.RoleMaintenance, engine.ErrTaskLocked},
		{"vendor has no override", "wo-1", "access", domain.RoleVendor, engine.ErrUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := env.Engine.CompleteTask(tc.eventID, tc.taskID, tc.role)
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
	ev, _ := env.Engine.GetEventByID("wo-1")
	if len(ev.CompletionStamps) != 0 || ev.Status != domain.EventScheduled {
		t.Fatalf("failed completions must not mutate the event")
	}
	if n := len(env.Changes()); n != 1 {
		t.Fatalf("expected only the add notification, got %d", n)
	}
}

func TestCompleteTaskUnlocksAndCascades(t *testing.T) {
	env := newTestEnv(t)
	mustAdd(t, env, workOrder("wo-1"))

	ev, err := env.Engine.CompleteTask("wo-1", "access", domain.RoleResident)
	if err != nil {
		t.Fatalf("complete access: %v", err)
	}
	if ev.Status != domain.EventInProgress {
		t.Fatalf("expected in-progress, got %s", ev.Status)
	}
	if taskStatus(ev, "work") != domain.TaskAvailable {
		t.Fatalf("work should unlock")
	}
	if len(ev.CompletionStamps) != 1 || ev.CompletionStamps[0].CompletedByName != "Rita Resident" {
		t.Fatalf("unexpected stamps: %+v", ev.CompletionStamps)
	}
	if !ev.CompletionStamps[0].CanUndo || ev.CompletionStamps[0].DisplayTime != "2:00 PM" {
		t.Fatalf("unexpected stamp fields: %+v", ev.CompletionStamps[0])
	}

	// operator override on maintenance tasks
	if _, err := env.Engine.CompleteTask("wo-1", "work", domain.RoleOperator); err != nil {
		t.Fatalf("operator override: %v", err)
	}
	env.Clock.Advance(5 * time.Minute)
	ev, err = env.Engine.CompleteTask("wo-1", "status", domain.RoleMaintenance)
	if err != nil {
		t.Fatalf("complete status: %v", err)
	}
	if ev.Status != domain.EventCompleted || ev.CompletedAt == nil {
		t.Fatalf("expected cascade to completed, got %s", ev.Status)
	}
	if !ev.CompletedAt.Equal(env.Clock.Now()) {
		t.Fatalf("completedAt should match the final completion time")
	}
	last := ev.CompletionStamps[len(ev.CompletionStamps)-1]
	if last.TaskID != domain.EventCompletionTaskID || last.CanUndo || !last.Permanent {
		t.Fatalf("unexpected event completion stamp: %+v", last)
	}
	if len(ev.CompletionStamps) != 4 {
		t.Fatalf("expected 3 task stamps plus event stamp, got %d", len(ev.CompletionStamps))
	}

	changes := env.Changes()
	if changes[len(changes)-1].Kind != store.ChangeEventCompleted {
		t.Fatalf("expected final change event.completed, got %s", changes[len(changes)-1].Kind)
	}
	// add + three completions, one notification each
	if len(changes) != 4 {
		t.Fatalf("expected 4 notifications, got %d", len(changes))
	}
}

func TestRecompletionReplacesStamp(t *testing.T) {
	env := newTestEnv(t)
	mustAdd(t, env, workOrder("wo-1"))
	if _, err := env.Engine.CompleteTask("wo-1", "access", domain.RoleResident); err != nil {
		t.Fatal(err)
	}
	env.Clock.Advance(time.Minute)
	ev, err := env.Engine.CompleteTask("wo-1", "access", domain.RoleResident)
	if err != nil {
		t.Fatal(err)
	}
	if len(ev.CompletionStamps) != 1 {
		t.Fatalf("expected one stamp per task, got %d", len(ev.CompletionStamps))
	}
	if !ev.CompletionStamps[0].CompletedAt.Equal(env.Clock.Now()) {
		t.Fatalf("stamp not replaced")
	}
}

func TestOptionalTasksDoNotBlockCompletion(t *testing.T) {
	env := newTestEnv(t)
	ev := workOrder("wo-opt")
	ev.Tasks = append(ev.Tasks, domain.Task{ID: "survey", Title: "Survey", AssignedRole: domain.RoleResident})
	mustAdd(t, env, ev)
	for _, step := range []struct {
		id   string
		role domain.Role
	}{{"access", domain.RoleResident}, {"work", domain.RoleMaintenance}, {"status", domain.RoleMaintenance}} {
		if _, err := env.Engine.CompleteTask("wo-opt", step.id, step.role); err != nil {
			t.Fatalf("complete %s: %v", step.id, err)
		}
	}
	got, _ := env.Engine.GetEventByID("wo-opt")
	if got.Status != domain.EventCompleted {
		t.Fatalf("optional task should not block, got %s", got.Status)
	}
}

func TestEventWithoutTasksNeverCompletes(t *testing.T) {
	env := newTestEnv(t)
	ev := workOrder("empty")
	ev.Tasks = nil
	out := mustAdd(t, env, ev)
	if out.Status != domain.EventScheduled {
		t.Fatalf("empty event should stay scheduled, got %s", out.Status)
	}
}

func TestUndoTaskCompletion(t *testing.T) {
	env := newTestEnv(t)
	mustAdd(t, env, workOrder("wo-1"))
	if _, err := env.Engine.UndoTaskCompletion("wo-1", "access"); !errors.Is(err, engine.ErrNoStamp) {
		t.Fatalf("expected no stamp, got %v", err)
	}
	if _, err := env.Engine.CompleteTask("wo-1", "access", domain.RoleResident); err != nil {
		t.Fatal(err)
	}
	ev, err := env.Engine.UndoTaskCompletion("wo-1", "access")
	if err != nil {
		t.Fatalf("undo: %v", err)
	}
	if ev.Tasks[0].IsComplete || len(ev.CompletionStamps) != 0 {
		t.Fatalf("undo should clear completion and stamp")
	}
	if taskStatus(ev, "access") != domain.TaskAvailable || taskStatus(ev, "work") != domain.TaskLocked {
		t.Fatalf("dependents should re-lock after undo")
	}
}

func TestUndoRevertsEventCompletion(t *testing.T) {
	env := newTestEnv(t)
	mustAdd(t, env, workOrder("wo-1"))
	_, _ = env.Engine.CompleteTask("wo-1", "access", domain.RoleResident)
	_, _ = env.Engine.CompleteTask("wo-1", "work", domain.RoleMaintenance)
	if _, err := env.Engine.CompleteTask("wo-1", "status", domain.RoleMaintenance); err != nil {
		t.Fatal(err)
	}
	ev, err := env.Engine.UndoTaskCompletion("wo-1", "status")
	if err != nil {
		t.Fatalf("undo: %v", err)
	}
	if ev.Status == domain.EventCompleted || ev.CompletedAt != nil {
		t.Fatalf("event must leave completed after undo")
	}
	for _, st := range ev.CompletionStamps {
		if st.TaskID == domain.EventCompletionTaskID {
			t.Fatalf("event completion stamp should be dropped")
		}
	}
}

func TestUndoOptionalTaskKeepsEventCompleted(t *testing.T) {
	env := newTestEnv(t)
	ev := workOrder("wo-1")
	ev.Tasks = append(ev.Tasks, domain.Task{ID: "photo", Title: "Attach photo", AssignedRole: domain.RoleMaintenance})
	mustAdd(t, env, ev)
	for _, step := range []struct {
		id   string
		role domain.Role
	}{{"photo", domain.RoleMaintenance}, {"access", domain.RoleResident}, {"work", domain.RoleMaintenance}, {"status", domain.RoleMaintenance}} {
		if _, err := env.Engine.CompleteTask("wo-1", step.id, step.role); err != nil {
			t.Fatalf("complete %s: %v", step.id, err)
		}
	}
	got, err := env.Engine.UndoTaskCompletion("wo-1", "photo")
	if err != nil {
		t.Fatalf("undo: %v", err)
	}
	if got.Status != domain.EventCompleted || got.CompletedAt == nil {
		t.Fatalf("required tasks are still complete, got %s", got.Status)
	}
	if !hasEventStamp(got) {
		t.Fatalf("event completion stamp should survive an optional undo")
	}
	if len(got.CompletionStamps) != 4 {
		t.Fatalf("expected 3 task stamps plus the event stamp, got %d", len(got.CompletionStamps))
	}
}

func TestConcurrentCompletionCascadesOnce(t *testing.T) {
	env := newTestEnv(t)
	mustAdd(t, env, domain.Event{
		ID: "lease", Type: "lease-signing", Title: "Lease signing", Date: day(), Time: "11:00",
		Tasks: []domain.Task{
			{ID: "sign", Title: "Sign lease", AssignedRole: domain.RoleResident, IsRequired: true},
			{ID: "inspect", Title: "Inspect unit", AssignedRole: domain.RoleMaintenance, IsRequired: true},
		},
	})

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	for _, step := range []struct {
		id   string
		role domain.Role
	}{{"sign", domain.RoleResident}, {"inspect", domain.RoleMaintenance}} {
		wg.Add(1)
		go func(id string, role domain.Role) {
			defer wg.Done()
			_, err := env.Engine.CompleteTask("lease", id, role)
			errs <- err
		}(step.id, step.role)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("complete: %v", err)
		}
	}

	ev, _ := env.Engine.GetEventByID("lease")
	if ev.Status != domain.EventCompleted {
		t.Fatalf("expected completed, got %s", ev.Status)
	}
	perTask := map[string]int{}
	for _, st := range ev.CompletionStamps {
		perTask[st.TaskID]++
	}
	if perTask["sign"] != 1 || perTask["inspect"] != 1 || perTask[domain.EventCompletionTaskID] != 1 || len(ev.CompletionStamps) != 3 {
		t.Fatalf("unexpected stamps: %v", perTask)
	}
	var completions int
	for _, c := range env.Changes() {
		if c.Kind == store.ChangeEventCompleted {
			completions++
		}
	}
	if completions != 1 {
		t.Fatalf("expected one event completion change, got %d", completions)
	}
}

func TestCompletionAfterCutoffIsPermanent(t *testing.T) {
	env := newTestEnv(t)
	mustAdd(t, env, workOrder("wo-1"))
	env.Clock.Set(time.Date(2025, 3, 10, 23, 59, 30, 0, time.UTC))
	ev, err := env.Engine.CompleteTask("wo-1", "access", domain.RoleResident)
	if err != nil {
		t.Fatal(err)
	}
	if ev.CompletionStamps[0].CanUndo || !ev.CompletionStamps[0].Permanent {
		t.Fatalf("completion at 23:59 must be permanent")
	}
	if _, err := env.Engine.UndoTaskCompletion("wo-1", "access"); !errors.Is(err, engine.ErrPermanent) {
		t.Fatalf("expected permanent, got %v", err)
	}
}

func TestUndoEvaluatedAtCallTime(t *testing.T) {
	env := newTestEnv(t)
	mustAdd(t, env, workOrder("wo-1"))
	if _, err := env.Engine.CompleteTask("wo-1", "access", domain.RoleResident); err != nil {
		t.Fatal(err)
	}
	env.Clock.Set(time.Date(2025, 3, 10, 23, 59, 0, 0, time.UTC))
	ev, _ := env.Engine.GetEventByID("wo-1")
	if ev.CompletionStamps[0].CanUndo {
		t.Fatalf("read copies should reflect the current clock")
	}
	if _, err := env.Engine.UndoTaskCompletion("wo-1", "access"); !errors.Is(err, engine.ErrPermanent) {
		t.Fatalf("expected permanent at cutoff, got %v", err)
	}
	env.Clock.Set(time.Date(2025, 3, 11, 8, 0, 0, 0, time.UTC))
	if _, err := env.Engine.UndoTaskCompletion("wo-1", "access"); err != nil {
		t.Fatalf("undo after cutoff window: %v", err)
	}
}

func TestCustomCutoff(t *testing.T) {
	c := clock.NewFixed(time.Date(2025, 3, 10, 22, 30, 0, 0, time.UTC))
	eng, err := engine.New(store.New(log.Nop()), engine.Options{Clock: c, PermanenceCutoff: "22:00"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := eng.AddEvent(workOrder("wo-1")); err != nil {
		t.Fatal(err)
	}
	ev, err := eng.CompleteTask("wo-1", "access", domain.RoleResident)
	if err != nil {
		t.Fatal(err)
	}
	if !ev.CompletionStamps[0].Permanent {
		t.Fatalf("expected permanent after 22:00 cutoff")
	}
	if _, err := engine.New(store.New(log.Nop()), engine.Options{PermanenceCutoff: "late"}); err == nil {
		t.Fatalf("expected invalid cutoff error")
	}
}

func TestRescheduleEvent(t *testing.T) {
	env := newTestEnv(t)
	mustAdd(t, env, workOrder("wo-1"))
	if _, err := env.Engine.RescheduleEvent("wo-1", day(), "9am"); err == nil {
		t.Fatalf("expected invalid time error")
	}
	next := day().AddDate(0, 0, 1)
	ev, err := env.Engine.RescheduleEvent("wo-1", next, "15:00")
	if err != nil {
		t.Fatalf("reschedule: %v", err)
	}
	if ev.Time != "15:00" || !domain.SameDay(ev.Date, next) || ev.RescheduledCount != 1 {
		t.Fatalf("unexpected reschedule result: %+v", ev)
	}
	if _, err := env.Engine.RescheduleEvent("missing", next, "15:00"); !errors.Is(err, engine.ErrEventNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestMarkOverdueAndReschedule(t *testing.T) {
	env := newTestEnv(t)
	mustAdd(t, env, workOrder("past"))
	future := workOrder("future")
	future.Date = day().AddDate(0, 0, 2)
	mustAdd(t, env, future)

	n, err := env.Engine.MarkOverdue()
	if err != nil {
		t.Fatalf("mark overdue: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 overdue, got %d", n)
	}
	ev, _ := env.Engine.GetEventByID("past")
	if ev.Status != domain.EventOverdue {
		t.Fatalf("expected overdue, got %s", ev.Status)
	}
	if n, _ := env.Engine.MarkOverdue(); n != 0 {
		t.Fatalf("second sweep should be a no-op, got %d", n)
	}
	ev, err = env.Engine.RescheduleEvent("past", day().AddDate(0, 0, 3), "09:00")
	if err != nil {
		t.Fatal(err)
	}
	if ev.Status != domain.EventScheduled {
		t.Fatalf("reschedule should clear overdue, got %s", ev.Status)
	}
}

func TestUpdateEvent(t *testing.T) {
	env := newTestEnv(t)
	mustAdd(t, env, workOrder("wo-1"))
	title := "Dripping faucet"
	ev, err := env.Engine.UpdateEvent("wo-1", engine.EventPatch{
		Title:    &title,
		Metadata: map[string]string{"unit": "4B"},
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if ev.Title != title || ev.Metadata["unit"] != "4B" {
		t.Fatalf("patch not applied: %+v", ev)
	}

	completed := domain.EventCompleted
	if _, err := env.Engine.UpdateEvent("wo-1", engine.EventPatch{Status: &completed}); !errors.Is(err, engine.ErrInvalidEvent) {
		t.Fatalf("expected invalid status, got %v", err)
	}

	cyclic := workOrder("x").Tasks
	cyclic[0].DependsOnTaskID = "work"
	if _, err := env.Engine.UpdateEvent("wo-1", engine.EventPatch{Tasks: &cyclic}); !errors.Is(err, engine.ErrDependencyCycle) {
		t.Fatalf("expected cycle, got %v", err)
	}
	got, _ := env.Engine.GetEventByID("wo-1")
	if got.Tasks[0].DependsOnTaskID != "" {
		t.Fatalf("rejected patch leaked into store")
	}
}

func TestUpdateEventTasksPrunesStamps(t *testing.T) {
	env := newTestEnv(t)
	mustAdd(t, env, workOrder("wo-1"))
	if _, err := env.Engine.CompleteTask("wo-1", "access", domain.RoleResident); err != nil {
		t.Fatal(err)
	}
	tasks := []domain.Task{{ID: "inspect", Title: "Inspect", AssignedRole: domain.RoleMaintenance, IsRequired: true}}
	ev, err := env.Engine.UpdateEvent("wo-1", engine.EventPatch{Tasks: &tasks})
	if err != nil {
		t.Fatal(err)
	}
	if len(ev.CompletionStamps) != 0 {
		t.Fatalf("stamps for removed tasks should be pruned")
	}
	if taskStatus(ev, "inspect") != domain.TaskAvailable {
		t.Fatalf("expected derived status on new task")
	}
}

func TestTaskCompletionOnlyThroughCompleteTask(t *testing.T) {
	env := newTestEnv(t)
	ev := workOrder("wo-pre")
	ev.Tasks[0].IsComplete = true
	if _, err := env.Engine.AddEvent(ev); !errors.Is(err, engine.ErrInvalidEvent) {
		t.Fatalf("expected invalid event, got %v", err)
	}

	mustAdd(t, env, workOrder("wo-1"))
	tasks := workOrder("wo-1").Tasks
	for i := range tasks {
		tasks[i].IsComplete = true
	}
	if _, err := env.Engine.UpdateEvent("wo-1", engine.EventPatch{Tasks: &tasks}); !errors.Is(err, engine.ErrInvalidEvent) {
		t.Fatalf("expected invalid event, got %v", err)
	}
	got, _ := env.Engine.GetEventByID("wo-1")
	if got.Status != domain.EventScheduled || len(got.CompletionStamps) != 0 || got.Tasks[0].IsComplete {
		t.Fatalf("rejected patch leaked into store: %+v", got)
	}
}

func TestUpdateEventDroppingLastOpenTaskCompletesEvent(t *testing.T) {
	env := newTestEnv(t)
	mustAdd(t, env, workOrder("wo-1"))
	done, err := env.Engine.CompleteTask("wo-1", "access", domain.RoleResident)
	if err != nil {
		t.Fatal(err)
	}
	tasks := []domain.Task{done.Tasks[0]}
	ev, err := env.Engine.UpdateEvent("wo-1", engine.EventPatch{Tasks: &tasks})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if ev.Status != domain.EventCompleted || ev.CompletedAt == nil {
		t.Fatalf("expected completed, got %s", ev.Status)
	}
	if !hasEventStamp(ev) || len(ev.CompletionStamps) != 2 {
		t.Fatalf("expected task and event stamps, got %+v", ev.CompletionStamps)
	}
	if ev.Tasks[0].CompletedBy != domain.RoleResident {
		t.Fatalf("completion record should carry over, got %q", ev.Tasks[0].CompletedBy)
	}
}

func TestAddEventRejectsUnknownStatus(t *testing.T) {
	env := newTestEnv(t)
	ev := workOrder("wo-bogus")
	ev.Status = "bogus"
	if _, err := env.Engine.AddEvent(ev); !errors.Is(err, engine.ErrInvalidEvent) {
		t.Fatalf("expected invalid event, got %v", err)
	}
	bogus := domain.EventStatus("bogus")
	mustAdd(t, env, workOrder("wo-1"))
	if _, err := env.Engine.UpdateEvent("wo-1", engine.EventPatch{Status: &bogus}); !errors.Is(err, engine.ErrInvalidEvent) {
		t.Fatalf("expected invalid status on update, got %v", err)
	}
}

func TestRemoveEvent(t *testing.T) {
	env := newTestEnv(t)
	mustAdd(t, env, workOrder("wo-1"))
	if err := env.Engine.RemoveEvent("wo-1"); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.GetEventByID("wo-1"); !errors.Is(err, engine.ErrEventNotFound) {
		t.Fatalf("expected not found after remove, got %v", err)
	}
	if err := env.Engine.RemoveEvent("wo-1"); !errors.Is(err, engine.ErrEventNotFound) {
		t.Fatalf("expected not found on second remove, got %v", err)
	}
}

func TestEventsForRoleAndDate(t *testing.T) {
	env := newTestEnv(t)
	mustAdd(t, env, workOrder("wo-1"))
	tour := domain.Event{
		ID: "tour", Type: "tour", Title: "Tour", Date: day(), Time: "09:00",
		AssignedUsers: []domain.AssignedUser{{Role: domain.RoleLeasing, UserID: "l-1"}},
	}
	mustAdd(t, env, tour)
	if got := env.Engine.EventsForRole(domain.RoleMaintenance); len(got) != 1 || got[0].ID != "wo-1" {
		t.Fatalf("unexpected maintenance events: %+v", got)
	}
	if got := env.Engine.EventsForRoleAndDate(domain.RoleLeasing, day().AddDate(0, 0, 1)); len(got) != 0 {
		t.Fatalf("expected no leasing events tomorrow")
	}
	all := env.Engine.AllEvents()
	if len(all) != 2 || all[0].ID != "tour" {
		t.Fatalf("all events should be ordered by start: %+v", all)
	}
}

func TestUnsubscribeStopsNotifications(t *testing.T) {
	env := newTestEnv(t)
	var calls int
	id := env.Engine.Subscribe(func(store.Change) { calls++ })
	mustAdd(t, env, workOrder("wo-1"))
	if !env.Engine.Unsubscribe(id) {
		t.Fatalf("expected subscription to exist")
	}
	mustAdd(t, env, workOrder("wo-2"))
	if calls != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}
	if env.Engine.Unsubscribe(id) {
		t.Fatalf("second unsubscribe should report false")
	}
}
