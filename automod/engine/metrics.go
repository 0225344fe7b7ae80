package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var eventDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name: "governor_event_duration_sec",
	Help: "Total duration of moderation event processing",
}, []string{"type"})

var eventsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "governor_events_processed",
	Help: "Number of events processed",
}, []string{"type"})

var eventErrors = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "governor_event_errors",
	Help: "Number of events which failed processing",
}, []string{"type"})

var actionsTaken = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "governor_actions_taken",
	Help: "Number of enforcement actions decided, by action",
}, []string{"action"})

var failSafeEvents = promauto.NewCounter(prometheus.CounterOpts{
	Name: "governor_failsafe_events",
	Help: "Number of assessments degraded to the fail-safe path",
})

var raidTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "governor_raid_transitions",
	Help: "Number of raid state elevations, by resulting state",
}, []string{"state"})

var callbackRejections = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "governor_callback_rejections",
	Help: "Number of rejected callback tokens, by cause",
}, []string{"cause"})
