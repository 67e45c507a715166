package swipeflowsdk_test

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dylanstrategy/swipe-flow-cards-9e97da56-sub002/internal/clock"
	"github.com/dylanstrategy/swipe-flow-cards-9e97da56-sub002/internal/engine"
	"github.com/dylanstrategy/swipe-flow-cards-9e97da56-sub002/internal/log"
	"github.com/dylanstrategy/swipe-flow-cards-9e97da56-sub002/internal/scheduler"
	"github.com/dylanstrategy/swipe-flow-cards-9e97da56-sub002/internal/server"
	"github.com/dylanstrategy/swipe-flow-cards-9e97da56-sub002/internal/store"
	swipeflowsdk "github.com/dylanstrategy/swipe-flow-cards-9e97da56-sub002/sdk/go"
)

func newClient(t *testing.T) *swipeflowsdk.Client {
	t.Helper()
	e, err := engine.New(store.New(log.Nop()), engine.Options{
		Clock:  clock.NewFixed(time.Date(2025, 3, 10, 8, 0, 0, 0, time.Local)),
		Logger: log.Nop(),
	})
	require.NoError(t, err)
	sched, err := scheduler.New(e, scheduler.DefaultConfig(), log.Nop())
	require.NoError(t, err)
	handler, err := server.New(server.Config{Engine: e, Scheduler: sched, Logger: log.Nop()})
	require.NoError(t, err)
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return swipeflowsdk.New(srv.URL)
}

func TestClientWorkOrderFlow(t *testing.T) {
	c := newClient(t)
	ctx := context.Background()

	booking, err := c.ScheduleWorkOrder(ctx, swipeflowsdk.WorkOrder{Title: "Fix sink", Date: "2025-03-10", RequestedTime: "11:00"})
	require.NoError(t, err)
	assert.True(t, booking.Success)
	assert.Equal(t, "11:00", booking.ScheduledTime)

	_, err = c.CompleteTask(ctx, booking.EventID, "perform-work", "maintenance")
	assert.True(t, swipeflowsdk.IsCode(err, "task_locked"), "got %v", err)

	ev, err := c.CompleteTask(ctx, booking.EventID, "grant-access", "resident")
	require.NoError(t, err)
	assert.Equal(t, "in-progress", ev.Status)
	require.Len(t, ev.CompletionStamps, 1)
	assert.True(t, ev.CompletionStamps[0].CanUndo)

	ev, err = c.UndoTask(ctx, booking.EventID, "grant-access")
	require.NoError(t, err)
	assert.Empty(t, ev.CompletionStamps)

	events, err := c.Events(ctx, "resident", "2025-03-10")
	require.NoError(t, err)
	require.Len(t, events, 1)

	avail, err := c.Availability(ctx, "2025-03-10", 60)
	require.NoError(t, err)
	assert.Equal(t, "09:00", avail.Time)

	moved, err := c.Reschedule(ctx, booking.EventID, "2025-03-11", "09:00")
	require.NoError(t, err)
	assert.Equal(t, 1, moved.RescheduledCount)

	page, err := c.Activity(ctx, 0, 10)
	require.NoError(t, err)
	assert.Empty(t, page.Items, "no journal configured")

	require.NoError(t, c.RemoveEvent(ctx, booking.EventID))
	_, err = c.Event(ctx, booking.EventID)
	assert.True(t, swipeflowsdk.IsCode(err, "not_found"))
}
