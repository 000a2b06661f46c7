// Package metrics exposes Prometheus counters for the ticket lifecycle and
// the HTTP API.
package metrics

import (
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/iliyamo/parkqr/internal/model"
)

// Collector implements service.Observer on top of Prometheus.
type Collector struct {
	ticketsCreated   *prometheus.CounterVec
	ticketsCompleted *prometheus.CounterVec
	feesCollected    *prometheus.CounterVec
	parkingMinutes   *prometheus.HistogramVec
	entriesRejected  *prometheus.CounterVec
	httpRequests     *prometheus.CounterVec
	httpDuration     *prometheus.HistogramVec
}

// New registers the collectors with reg.  Pass prometheus.DefaultRegisterer
// to serve them from promhttp.Handler().
func New(reg prometheus.Registerer) *Collector {
	f := promauto.With(reg)
	return &Collector{
		ticketsCreated: f.NewCounterVec(prometheus.CounterOpts{
			Name: "parking_tickets_created_total",
			Help: "Tickets issued at entry",
		}, []string{"vehicle_class"}),
		ticketsCompleted: f.NewCounterVec(prometheus.CounterOpts{
			Name: "parking_tickets_completed_total",
			Help: "Tickets settled at exit",
		}, []string{"vehicle_class"}),
		feesCollected: f.NewCounterVec(prometheus.CounterOpts{
			Name: "parking_fees_cents_total",
			Help: "Fees charged at exit, in cents",
		}, []string{"vehicle_class"}),
		parkingMinutes: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "parking_stay_minutes",
			Help:    "Billed stay length in minutes",
			Buckets: []float64{15, 30, 60, 120, 240, 480, 720, 1440},
		}, []string{"vehicle_class"}),
		entriesRejected: f.NewCounterVec(prometheus.CounterOpts{
			Name: "parking_entries_rejected_total",
			Help: "Entry attempts rejected with a conflict",
		}, []string{"reason"}),
		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "parking_http_requests_total",
			Help: "HTTP requests by route and status",
		}, []string{"method", "route", "status"}),
		httpDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "parking_http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
}

func (c *Collector) TicketCreated(class model.VehicleClass) {
	c.ticketsCreated.WithLabelValues(string(class)).Inc()
}

func (c *Collector) TicketCompleted(class model.VehicleClass, minutes, feeCents int64) {
	c.ticketsCompleted.WithLabelValues(string(class)).Inc()
	c.feesCollected.WithLabelValues(string(class)).Add(float64(feeCents))
	c.parkingMinutes.WithLabelValues(string(class)).Observe(float64(minutes))
}

func (c *Collector) EntryRejected(reason string) {
	c.entriesRejected.WithLabelValues(reason).Inc()
}

// Middleware counts requests per route template, so /ticket/:token is one
// series regardless of the token.
func (c *Collector) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ec echo.Context) error {
			start := time.Now()
			err := next(ec)
			if err != nil {
				ec.Error(err)
			}
			route := ec.Path()
			if route == "" {
				route = "unmatched"
			}
			method := ec.Request().Method
			status := strconv.Itoa(ec.Response().Status)
			c.httpRequests.WithLabelValues(method, route, status).Inc()
			c.httpDuration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
			return nil
		}
	}
}
