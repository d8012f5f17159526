package gateway

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/forgehq/forge/internal/domain"
	"github.com/forgehq/forge/internal/metrics"
	"github.com/forgehq/forge/internal/requestid"
	"github.com/forgehq/forge/internal/shutdown"
)

// SpanCollector is satisfied by *observability.Collector; kept as a
// narrow interface here so this package does not import observability
// just to accept it.
type SpanCollector interface {
	CaptureSpan(traceID, spanName string, duration time.Duration, attrs map[string]any)
}

const authContextKey = "forge.auth"

// RequestID mirrors the teacher's middleware.RequestID exactly:
// preserve an incoming X-Request-ID or mint one, attach to context.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = requestid.New()
		}
		ctx := requestid.WithRequestID(c.Request.Context(), id)
		c.Request = c.Request.WithContext(ctx)
		c.Header("X-Request-ID", id)
		c.Next()
	}
}

// Security sets the same hardening headers the teacher's
// internal/http/middleware.Security does.
func Security() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Header("Permissions-Policy", "camera=(), microphone=(), geolocation=()")
		c.Header("Strict-Transport-Security", "max-age=63072000; includeSubDomains")
		c.Next()
	}
}

// Metrics records per-route duration and count, same label set as the
// teacher's middleware.Metrics.
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := strconv.Itoa(c.Writer.Status())
		path := c.FullPath()
		if path == "" {
			path = "unknown"
		}
		duration := time.Since(start).Seconds()
		metrics.HTTPRequestDuration.WithLabelValues(c.Request.Method, path, status).Observe(duration)
		metrics.HTTPRequestsTotal.WithLabelValues(c.Request.Method, path, status).Inc()
	}
}

// Drain refuses new RPC admission once the node's shutdown barrier has
// begun draining (§4.3: RPC is one of the three admission points the
// drain flag guards, alongside job claims and cron triggering). Admitted
// requests hold their in-flight token for the request's entire lifetime
// so Drain's wait-for-zero never races a handler still running.
func Drain(barrier *shutdown.Barrier) gin.HandlerFunc {
	return func(c *gin.Context) {
		release, err := barrier.Admit()
		if err != nil {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": gin.H{"code": "INTERNAL_ERROR", "message": "node is draining"}})
			return
		}
		defer release()
		c.Next()
	}
}

// Tracing captures one span per request into collector, gated on
// whether tracing is enabled so a disabled config costs nothing beyond
// the no-op middleware call.
func Tracing(collector SpanCollector, enabled bool) gin.HandlerFunc {
	if !enabled || collector == nil {
		return func(c *gin.Context) { c.Next() }
	}
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		traceID := requestid.FromContext(c.Request.Context())
		path := c.FullPath()
		if path == "" {
			path = "unknown"
		}
		collector.CaptureSpan(traceID, "rpc:"+path, time.Since(start), map[string]any{
			"method": c.Request.Method,
			"status": c.Writer.Status(),
		})
	}
}

// Auth builds a domain.AuthContext from the bearer token, if any, and
// attaches it to the gin context. Unlike the teacher's Auth middleware,
// a missing or invalid token never aborts the request here — callers
// without a valid token simply get Authenticated=false, and it is
// router.Dispatch's is_public/requires_auth gate (§4.7) that decides
// whether the call may proceed anonymously.
func Auth(verifier Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		auth := domain.AuthContext{ClientIP: clientIP(c)}

		if raw := bearerToken(c.GetHeader("Authorization")); raw != "" && verifier != nil {
			if claims, err := verifier.Verify(c.Request.Context(), raw); err == nil {
				auth.Authenticated = true
				auth.Claims = claims
				if tid, ok := claims.Custom["tenant_id"].(string); ok {
					auth.TenantID = tid
				}
			}
		}

		c.Set(authContextKey, auth)
		c.Next()
	}
}

func authFromGin(c *gin.Context) domain.AuthContext {
	v, ok := c.Get(authContextKey)
	if !ok {
		return domain.AuthContext{ClientIP: clientIP(c)}
	}
	auth, _ := v.(domain.AuthContext)
	return auth
}

func clientIP(c *gin.Context) string {
	if c.Request == nil {
		return ""
	}
	return c.ClientIP()
}
