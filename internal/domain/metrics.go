package domain

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var postsClassified = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "feedgen_posts_classified_total",
	Help: "The total number of post/profile classifications by decision",
}, []string{"decision"})

var postsSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "feedgen_posts_skipped_total",
	Help: "The total number of incoming posts skipped before classification",
}, []string{"reason"})

var postsAccepted = promauto.NewCounter(prometheus.CounterOpts{
	Name: "feedgen_posts_accepted_total",
	Help: "The total number of posts written to the post store",
})

var postsReaped = promauto.NewCounter(prometheus.CounterOpts{
	Name: "feedgen_posts_reaped_total",
	Help: "The total number of expired posts deleted by the reaper",
})

var feedRequests = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "feedgen_feed_requests_total",
	Help: "The total number of feed skeleton requests by outcome",
}, []string{"outcome"})
