// Package metrics provides Prometheus metrics for the orchestration engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TaskCompletionsTotal counts successful task completions by acting role.
	TaskCompletionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "swipeflow_task_completions_total",
		Help: "Total number of task completions, by acting role.",
	}, []string{"role"})

	// TaskUndosTotal counts successful completion undos.
	TaskUndosTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "swipeflow_task_undos_total",
		Help: "Total number of undone task completions.",
	})

	// RejectionsTotal counts refused writes by operation and reason.
	// Reasons are a closed set (not_found, unauthorized, locked, permanent, ...).
	RejectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "swipeflow_rejections_total",
		Help: "Total number of rejected engine writes, by operation and reason.",
	}, []string{"op", "reason"})

	// EventCompletionsTotal counts events that cascaded to completed.
	EventCompletionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "swipeflow_event_completions_total",
		Help: "Total number of events completed by their last required task, by event type.",
	}, []string{"type"})

	// BookingsTotal counts work order booking attempts by outcome (booked, relocated, unavailable).
	BookingsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "swipeflow_bookings_total",
		Help: "Total number of work order booking attempts, by outcome.",
	}, []string{"outcome"})

	// NotificationsTotal counts subscriber deliveries by change kind.
	NotificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "swipeflow_notifications_total",
		Help: "Total number of subscriber notifications delivered, by change kind.",
	}, []string{"kind"})

	// SubscriberPanicsTotal counts recovered subscriber panics.
	SubscriberPanicsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "swipeflow_subscriber_panics_total",
		Help: "Total number of recovered subscriber panics.",
	})

	// JournalDroppedTotal counts journal entries dropped because the buffer was full.
	JournalDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "swipeflow_journal_dropped_total",
		Help: "Total number of activity journal entries dropped on a full buffer.",
	})

	// EventsStored tracks the number of events held by the store.
	EventsStored = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "swipeflow_events_stored",
		Help: "Current number of events held in the event store.",
	})
)
