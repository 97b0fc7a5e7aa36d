package textnorm

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var pageFetches = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "feedgen_page_fetches_total",
	Help: "The total number of link card page fetches by result",
}, []string{"result"})
