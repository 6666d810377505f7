// Package metrics holds Prometheus instruments that are used across the
// console.  All collectors are registered with the global registry, so
// mounting promhttp.Handler() in main.go is enough to expose them on
// /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	RegistryLookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wachat_registry_lookups_total",
			Help: "Registry lookups by operation and result.",
		}, []string{"op", "result"})

	TenantConnectSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "wachat_tenant_connect_seconds",
			Help:    "Time to open and ping a tenant database connection.",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		})

	TenantConnectErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "wachat_tenant_connect_errors_total",
			Help: "Cumulative number of failed tenant database connections.",
		})

	ProviderSendsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wachat_provider_sends_total",
			Help: "Provider submissions by send type and result.",
		}, []string{"type", "result"})

	AuditWriteErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "wachat_audit_write_errors_total",
			Help: "Outbound-log writes that failed after a provider call.",
		})

	ChatCacheTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wachat_chat_cache_total",
			Help: "Chat-list cache lookups by outcome (hit or miss).",
		}, []string{"outcome"})

	HTTPRequestSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "wachat_http_request_seconds",
			Help:    "HTTP request latency by route pattern, method, and status.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "method", "code"})

	WindowClosedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "wachat_window_closed_total",
			Help: "Free-form sends refused because the session window was closed.",
		})
)

func init() {
	prometheus.MustRegister(
		RegistryLookupsTotal,
		TenantConnectSeconds,
		TenantConnectErrorsTotal,
		ProviderSendsTotal,
		AuditWriteErrorsTotal,
		ChatCacheTotal,
		WindowClosedTotal,
		HTTPRequestSeconds,
	)
}
