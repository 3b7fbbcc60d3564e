package observability

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wave_http_requests_total",
			Help: "Total number of HTTP requests processed by the wave service.",
		},
		[]string{"method", "route", "status"},
	)
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "wave_http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
	grpcServerHandledTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "grpc_server_handled_total",
			Help: "Total number of gRPC requests handled by the server.",
		},
		[]string{"grpc_service", "grpc_method", "grpc_code"},
	)
	wsActiveConnections = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "wave_ws_active_connections",
			Help: "Number of active websocket connections.",
		},
		[]string{"kind"},
	)
	wsEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wave_ws_events_total",
			Help: "Total number of websocket events.",
		},
		[]string{"kind", "event"},
	)
	amqpPublishErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "wave_amqp_publish_errors_total",
			Help: "Total number of AMQP publish errors.",
		},
	)
	wavesCreatedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wave_waves_created_total",
			Help: "Waves created, by activity type.",
		},
		[]string{"activity_type"},
	)
	waveJoinsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "wave_joins_total",
			Help: "Participant rows inserted by joins.",
		},
	)
	waveUnlocksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "wave_unlocks_total",
			Help: "Waves unlocked into crews.",
		},
	)
	unlockConflictsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "wave_unlock_conflicts_total",
			Help: "Unlock attempts retried after a concurrent write conflict.",
		},
	)
	crewMessagesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "wave_crew_messages_total",
			Help: "Messages appended to crew chats.",
		},
	)
	wavesPurgedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "wave_waves_purged_total",
			Help: "Expired waves deleted by the purge job.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDuration,
		grpcServerHandledTotal,
		wsActiveConnections,
		wsEventsTotal,
		amqpPublishErrorsTotal,
		wavesCreatedTotal,
		waveJoinsTotal,
		waveUnlocksTotal,
		unlockConflictsTotal,
		crewMessagesTotal,
		wavesPurgedTotal,
	)
}

func HTTPMetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()

		httpRequestsTotal.WithLabelValues(c.Request.Method, route, strconv.Itoa(status)).Inc()
		httpRequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	}
}

func GRPCServerMetricsUnaryInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		resp, err := handler(ctx, req)
		statusInfo := status.Convert(err)
		service, method := splitFullMethod(info.FullMethod)
		grpcServerHandledTotal.WithLabelValues(service, method, statusInfo.Code().String()).Inc()
		return resp, err
	}
}

func splitFullMethod(fullMethod string) (string, string) {
	parts := strings.Split(fullMethod, "/")
	if len(parts) < 3 {
		return "unknown", "unknown"
	}
	return parts[1], parts[2]
}

func IncWSActive(kind string) {
	wsActiveConnections.WithLabelValues(kind).Inc()
}

func DecWSActive(kind string) {
	wsActiveConnections.WithLabelValues(kind).Dec()
}

func IncWSEvent(kind, event string) {
	wsEventsTotal.WithLabelValues(kind, event).Inc()
}

func IncAMQPPublishError() {
	amqpPublishErrorsTotal.Inc()
}

func IncWaveCreated(activityType string) {
	wavesCreatedTotal.WithLabelValues(activityType).Inc()
}

func IncWaveJoin() {
	waveJoinsTotal.Inc()
}

func IncWaveUnlock() {
	waveUnlocksTotal.Inc()
}

func IncUnlockConflict() {
	unlockConflictsTotal.Inc()
}

func IncCrewMessage() {
	crewMessagesTotal.Inc()
}

func AddWavesPurged(n int64) {
	wavesPurgedTotal.Add(float64(n))
}
