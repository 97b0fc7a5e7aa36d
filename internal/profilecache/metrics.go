package profilecache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var cacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "feedgen_profile_cache_lookups_total",
	Help: "The total number of profile cache lookups by cache and result",
}, []string{"cache", "result"})
