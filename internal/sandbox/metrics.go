package sandbox

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsNamespace = "dropclaim_sandbox"

type metrics struct {
	registry    *prometheus.Registry
	requests    *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	claims      *prometheus.CounterVec
	withdrawals *prometheus.CounterVec
}

func newMetrics() *metrics {
	registry := prometheus.NewRegistry()
	collected := &metrics{
		registry: registry,
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		}, []string{"method", "route", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
		}, []string{"method", "route"}),
		claims: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "claims_total",
			Help:      "Claim attempts by result.",
		}, []string{"result"}),
		withdrawals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "withdrawals_total",
			Help:      "Withdrawal requests by result.",
		}, []string{"result"}),
	}
	registry.MustRegister(
		collected.requests,
		collected.duration,
		collected.claims,
		collected.withdrawals,
		collectors.NewGoCollector(),
	)
	return collected
}

func (collected *metrics) handler() http.Handler {
	return promhttp.HandlerFor(collected.registry, promhttp.HandlerOpts{})
}

func (collected *metrics) middleware() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		start := time.Now()
		ctx.Next()
		route := ctx.FullPath()
		if route == "" {
			route = "unmatched"
		}
		collected.requests.WithLabelValues(ctx.Request.Method, route, strconv.Itoa(ctx.Writer.Status())).Inc()
		collected.duration.WithLabelValues(ctx.Request.Method, route).Observe(time.Since(start).Seconds())
	}
}
