package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	StreamSubscribers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chat_stream_subscribers",
		Help: "Current number of open message streams",
	})
	PresenceOnline = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "chat_presence_online",
		Help: "Users currently present per room",
	}, []string{"room"})
	MessagesSentTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chat_messages_sent_total",
		Help: "Total number of chat messages persisted",
	})
	EventsPublishedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_events_published_total",
		Help: "Events published on the in-process bus",
	}, []string{"kind"})
	EventsDroppedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_events_dropped_total",
		Help: "Events dropped because a subscriber queue was full",
	}, []string{"kind"})
	HttpRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
	HttpRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})
)

func init() {
	prometheus.MustRegister(
		StreamSubscribers,
		PresenceOnline,
		MessagesSentTotal,
		EventsPublishedTotal,
		EventsDroppedTotal,
		HttpRequestsTotal,
		HttpRequestDuration,
	)
}

// RegisterActiveRooms exports the number of occupied rooms, read from count
// at scrape time.
func RegisterActiveRooms(count func() int) {
	prometheus.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "chat_presence_rooms",
		Help: "Rooms with at least one user present",
	}, func() float64 { return float64(count()) }))
}

// SetOnline records a room's presence count.
func SetOnline(roomID uint, count int) {
	room := strconv.FormatUint(uint64(roomID), 10)
	if count == 0 {
		PresenceOnline.DeleteLabelValues(room)
		return
	}
	PresenceOnline.WithLabelValues(room).Set(float64(count))
}

// GinMiddleware records request counts and latencies.
func GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		status := strconv.Itoa(c.Writer.Status())
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		labels := prometheus.Labels{"method": c.Request.Method, "path": path, "status": status}
		HttpRequestsTotal.With(labels).Inc()
		HttpRequestDuration.With(labels).Observe(time.Since(start).Seconds())
	}
}
