// Package metrics collects passive request counters and a latency
// distribution. Updates are atomic increments so the collector never
// becomes a concurrency bottleneck; rendering is a point-in-time read
// in the plain-text exposition format.
package metrics

import (
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
)

// trackedCodes are the status codes this server produces. Anything else
// lands in the "other" counter.
var trackedCodes = []int{200, 201, 204, 304, 400, 404, 405, 408, 413, 429, 500}

// latencyBounds are the histogram upper bounds in seconds.
var latencyBounds = []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10}

// Collector is shared by all connection tasks and updated once per
// completed request.
type Collector struct {
	requests    *xsync.Counter
	rateLimited *xsync.Counter

	status map[int]*xsync.Counter // fixed at construction, read-only map
	other  *xsync.Counter

	latency    [10]atomic.Uint64 // one per bound, plus +Inf
	latencySum atomic.Uint64     // nanoseconds
}

// New creates a collector.
func New() *Collector {
	c := &Collector{
		requests:    xsync.NewCounter(),
		rateLimited: xsync.NewCounter(),
		status:      make(map[int]*xsync.Counter, len(trackedCodes)),
		other:       xsync.NewCounter(),
	}
	for _, code := range trackedCodes {
		c.status[code] = xsync.NewCounter()
	}
	return c
}

// RecordRequest records one completed request with its response status
// and wall-clock duration.
func (c *Collector) RecordRequest(status int, d time.Duration) {
	c.requests.Inc()

	if counter, ok := c.status[status]; ok {
		counter.Inc()
	} else {
		c.other.Inc()
	}

	c.latency[bucketIndex(d)].Add(1)
	c.latencySum.Add(uint64(d.Nanoseconds()))
}

// RecordRateLimited records an admission rejection.
func (c *Collector) RecordRateLimited() {
	c.rateLimited.Inc()
}

// Requests returns the total completed request count.
func (c *Collector) Requests() int64 { return c.requests.Value() }

// RateLimited returns the rejected-by-rate-limit count.
func (c *Collector) RateLimited() int64 { return c.rateLimited.Value() }

// StatusCount returns the count for one status code.
func (c *Collector) StatusCount(status int) int64 {
	if counter, ok := c.status[status]; ok {
		return counter.Value()
	}
	return c.other.Value()
}

func bucketIndex(d time.Duration) int {
	s := d.Seconds()
	for i, bound := range latencyBounds {
		if s <= bound {
			return i
		}
	}
	return len(latencyBounds)
}

// WritePrometheus renders the counters in the plain-text exposition
// format.
func (c *Collector) WritePrometheus(w io.Writer) error {
	if _, err := fmt.Fprintf(w,
		"# HELP surge_requests_total Total requests completed.\n"+
			"# TYPE surge_requests_total counter\n"+
			"surge_requests_total %d\n", c.requests.Value()); err != nil {
		return err
	}

	if _, err := io.WriteString(w,
		"# HELP surge_responses_total Responses by status code.\n"+
			"# TYPE surge_responses_total counter\n"); err != nil {
		return err
	}
	for _, code := range trackedCodes {
		if _, err := fmt.Fprintf(w, "surge_responses_total{code=\"%d\"} %d\n",
			code, c.status[code].Value()); err != nil {
			return err
		}
	}
	if v := c.other.Value(); v > 0 {
		if _, err := fmt.Fprintf(w, "surge_responses_total{code=\"other\"} %d\n", v); err != nil {
			return err
		}
	}

	if _, err := fmt.Fprintf(w,
		"# HELP surge_rate_limited_total Requests rejected by the rate limiter.\n"+
			"# TYPE surge_rate_limited_total counter\n"+
			"surge_rate_limited_total %d\n", c.rateLimited.Value()); err != nil {
		return err
	}

	if _, err := io.WriteString(w,
		"# HELP surge_request_duration_seconds Request latency distribution.\n"+
			"# TYPE surge_request_duration_seconds histogram\n"); err != nil {
		return err
	}
	var cumulative uint64
	for i, bound := range latencyBounds {
		cumulative += c.latency[i].Load()
		if _, err := fmt.Fprintf(w, "surge_request_duration_seconds_bucket{le=\"%g\"} %d\n",
			bound, cumulative); err != nil {
			return err
		}
	}
	cumulative += c.latency[len(latencyBounds)].Load()
	if _, err := fmt.Fprintf(w, "surge_request_duration_seconds_bucket{le=\"+Inf\"} %d\n", cumulative); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "surge_request_duration_seconds_sum %g\n",
		float64(c.latencySum.Load())/1e9); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "surge_request_duration_seconds_count %d\n", cumulative)
	return err
}
