package server

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/Mutter0815/SegmentMailer/pkg/logx"
	"github.com/Mutter0815/SegmentMailer/pkg/metrics"
)

const requestIDHeader = "X-Request-ID"

// Observability tags each request with an id, records the HTTP metrics and
// writes one access log line. Server errors log at error level, client
// errors at warn.
func Observability() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		rid := c.Request.Header.Get(requestIDHeader)
		if rid == "" || len(rid) > 128 {
			rid = uuid.NewString()
		}
		c.Writer.Header().Set(requestIDHeader, rid)
		c.Set("request_id", rid)

		c.Next()

		lat := time.Since(start).Seconds()
		status := c.Writer.Status()
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}

		metrics.APIRequestsTotal.WithLabelValues(c.Request.Method, path, strconv.Itoa(status)).Inc()
		metrics.APIRequestDuration.WithLabelValues(c.Request.Method, path).Observe(lat)

		if path == "/metrics" || path == "/healthz" {
			return
		}
		fields := []any{
			"rid", rid,
			"method", c.Request.Method,
			"path", path,
			"status", status,
			"duration", lat,
			"client_ip", c.ClientIP(),
		}
		log := logx.Named("http")
		switch {
		case status >= 500:
			log.Errorw("http_access", fields...)
		case status >= 400:
			log.Warnw("http_access", fields...)
		default:
			log.Infow("http_access", fields...)
		}
	}
}
