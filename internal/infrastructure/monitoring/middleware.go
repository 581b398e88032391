package monitoring

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

// Middleware creates a Gin middleware for metrics collection
func Middleware(metrics *Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		// Route template keeps label cardinality bounded
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		metrics.RecordHTTPRequest(c.Request.Method, path, strconv.Itoa(c.Writer.Status()), time.Since(start))
	}
}

// Timer measures a fetch round trip
type Timer struct {
	start   time.Time
	metrics *Metrics
	method  string
}

// NewFetchTimer starts timing a fetch
func NewFetchTimer(metrics *Metrics, method string) *Timer {
	return &Timer{
		start:   time.Now(),
		metrics: metrics,
		method:  method,
	}
}

// Stop records the fetch with its status label
func (t *Timer) Stop(status string) {
	t.metrics.RecordFetch(t.method, status, time.Since(t.start))
}
