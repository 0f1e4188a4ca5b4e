package metrics

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Collector provides a minimal Prometheus-compatible metrics exporter.
type Collector struct {
	startedAt time.Time

	threatsTotal atomic.Uint64
	byType       sync.Map // string -> *atomic.Uint64

	responsesTotal      atomic.Uint64
	responsesSuccessful atomic.Uint64
	detectionErrors     atomic.Uint64
	notificationErrors  atomic.Uint64
}

func New() *Collector {
	return &Collector{startedAt: time.Now().UTC()}
}

func (c *Collector) IncThreat(threatType string) {
	if c == nil {
		return
	}
	c.threatsTotal.Add(1)
	if threatType == "" {
		threatType = "unknown"
	}
	ptr, _ := c.byType.LoadOrStore(threatType, &atomic.Uint64{})
	ptr.(*atomic.Uint64).Add(1)
}

func (c *Collector) IncResponse(success bool) {
	if c == nil {
		return
	}
	c.responsesTotal.Add(1)
	if success {
		c.responsesSuccessful.Add(1)
	}
}

func (c *Collector) IncDetectionError() {
	if c == nil {
		return
	}
	c.detectionErrors.Add(1)
}

func (c *Collector) IncNotificationError() {
	if c == nil {
		return
	}
	c.notificationErrors.Add(1)
}

type HandlerOptions struct {
	ActiveThreats func() int
}

func (c *Collector) Handler(opts HandlerOptions) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		fmt.Fprint(w, "# HELP lesh_up Whether the lesh agent is running.\n")
		fmt.Fprint(w, "# TYPE lesh_up gauge\n")
		fmt.Fprint(w, "lesh_up 1\n")

		fmt.Fprint(w, "# HELP lesh_uptime_seconds Seconds since the agent started.\n")
		fmt.Fprint(w, "# TYPE lesh_uptime_seconds gauge\n")
		fmt.Fprintf(w, "lesh_uptime_seconds %d\n", int64(time.Since(c.startedAt).Seconds()))

		fmt.Fprint(w, "# HELP lesh_threats_total Total threats detected.\n")
		fmt.Fprint(w, "# TYPE lesh_threats_total counter\n")
		fmt.Fprintf(w, "lesh_threats_total %d\n", c.threatsTotal.Load())

		fmt.Fprint(w, "# HELP lesh_responses_total Total response actions dispatched.\n")
		fmt.Fprint(w, "# TYPE lesh_responses_total counter\n")
		fmt.Fprintf(w, "lesh_responses_total %d\n", c.responsesTotal.Load())

		fmt.Fprint(w, "# HELP lesh_responses_successful_total Response actions that succeeded.\n")
		fmt.Fprint(w, "# TYPE lesh_responses_successful_total counter\n")
		fmt.Fprintf(w, "lesh_responses_successful_total %d\n", c.responsesSuccessful.Load())

		fmt.Fprint(w, "# HELP lesh_detection_errors_total Detection passes that failed.\n")
		fmt.Fprint(w, "# TYPE lesh_detection_errors_total counter\n")
		fmt.Fprintf(w, "lesh_detection_errors_total %d\n", c.detectionErrors.Load())

		fmt.Fprint(w, "# HELP lesh_notification_errors_total Notification channel failures.\n")
		fmt.Fprint(w, "# TYPE lesh_notification_errors_total counter\n")
		fmt.Fprintf(w, "lesh_notification_errors_total %d\n", c.notificationErrors.Load())

		types := snapshotKeys(&c.byType)
		if len(types) > 0 {
			fmt.Fprint(w, "# HELP lesh_threats_by_type_total Total threats detected by type.\n")
			fmt.Fprint(w, "# TYPE lesh_threats_by_type_total counter\n")
			for _, t := range types {
				ptr, _ := c.byType.Load(t)
				n := uint64(0)
				if ptr != nil {
					n = ptr.(*atomic.Uint64).Load()
				}
				fmt.Fprintf(w, "lesh_threats_by_type_total{type=%q} %d\n", escapeLabelValue(t), n)
			}
		}

		if opts.ActiveThreats != nil {
			fmt.Fprint(w, "# HELP lesh_threats_active Currently unresolved threats.\n")
			fmt.Fprint(w, "# TYPE lesh_threats_active gauge\n")
			fmt.Fprintf(w, "lesh_threats_active %d\n", opts.ActiveThreats())
		}
	})
}

func snapshotKeys(m *sync.Map) []string {
	var out []string
	m.Range(func(k, _ any) bool {
		if s, ok := k.(string); ok {
			out = append(out, s)
		}
		return true
	})
	sort.Strings(out)
	return out
}

func escapeLabelValue(v string) string {
	// Prometheus text format label escaping for " and \ and newlines.
	v = strings.ReplaceAll(v, "\\", "\\\\")
	v = strings.ReplaceAll(v, "\n", "\\n")
	v = strings.ReplaceAll(v, "\"", "\\\"")
	return v
}
