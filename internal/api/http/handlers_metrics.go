package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/GriffinCanCode/AgentOS/bridge/internal/infrastructure/monitoring"
)

// MetricsAggregator combines the running totals with live bridge state
type MetricsAggregator struct {
	metrics *monitoring.Metrics
	hosts   HostSource
}

// NewMetricsAggregator creates a metrics aggregator
func NewMetricsAggregator(metrics *monitoring.Metrics, hosts HostSource) *MetricsAggregator {
	return &MetricsAggregator{metrics: metrics, hosts: hosts}
}

// MetricsSnapshot represents a snapshot of the bridge
type MetricsSnapshot struct {
	Timestamp time.Time           `json:"timestamp"`
	Totals    monitoring.Snapshot `json:"totals"`
	Guest     GuestStatus         `json:"guest"`
	Host      *HostState          `json:"host,omitempty"`
}

// HostState is the live state of the attached host
type HostState struct {
	RetainedResponses  int               `json:"retained_responses"`
	ActiveSockets      int               `json:"active_sockets"`
	ConsoleSubscribers int               `json:"console_subscribers"`
	TrippedUpstreams   map[string]string `json:"tripped_upstreams"`
}

// GetAggregatedMetrics returns the bridge snapshot as JSON
func (ma *MetricsAggregator) GetAggregatedMetrics(c *gin.Context) {
	snapshot := MetricsSnapshot{
		Timestamp: time.Now(),
		Totals:    ma.metrics.Snapshot(),
	}

	if h := ma.hosts(); h != nil {
		snapshot.Guest = guestStatus(h)
		snapshot.Host = &HostState{
			RetainedResponses:  h.Fetches().Retained(),
			ActiveSockets:      h.Sockets().Active(),
			ConsoleSubscribers: h.Console().Subscribers(),
			TrippedUpstreams:   h.Fetches().Tripped(),
		}
	}

	c.JSON(http.StatusOK, snapshot)
}

// Prometheus serves the metrics gathered by g in the text exposition format
func Prometheus(g prometheus.Gatherer) gin.HandlerFunc {
	return gin.WrapH(promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
}
