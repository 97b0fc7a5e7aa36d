package embedding

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var cacheHits = promauto.NewCounter(prometheus.CounterOpts{
	Name: "feedgen_embedding_cache_hits_total",
	Help: "The total number of embeddings served from cache",
})

var cacheMisses = promauto.NewCounter(prometheus.CounterOpts{
	Name: "feedgen_embedding_cache_misses_total",
	Help: "The total number of embeddings computed by the encoder",
})

var encodeErrors = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "feedgen_embedding_errors_total",
	Help: "The total number of failed embedding requests by backend",
}, []string{"backend"})
