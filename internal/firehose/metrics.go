package firehose

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var eventsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "feedgen_firehose_events_total",
	Help: "The total number of Jetstream events by result",
}, []string{"result"})

var cursorSaves = promauto.NewCounter(prometheus.CounterOpts{
	Name: "feedgen_firehose_cursor_saves_total",
	Help: "The total number of persisted stream positions",
})

var reconnects = promauto.NewCounter(prometheus.CounterOpts{
	Name: "feedgen_firehose_reconnects_total",
	Help: "The total number of firehose reconnects",
})
