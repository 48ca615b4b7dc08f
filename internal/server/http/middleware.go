package http

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"

	authdomain "agentex/internal/auth/domain"
	"agentex/internal/auth/ports"
	apierrors "agentex/internal/errors"
	"agentex/internal/logging"
	"agentex/internal/observability"
)

const principalContextKey = "agentex.principal"

// principalMiddleware authenticates the request through the configured
// identity provider and stores the resolved principal context. Routes
// behind it never see an unauthenticated request.
func principalMiddleware(verifier ports.Verifier, metrics *observability.MetricsCollector) gin.HandlerFunc {
	return func(c *gin.Context) {
		principal, err := verifier.Verify(c.Request.Context(), c.Request.Header)
		if err != nil {
			if metrics != nil {
				metrics.RecordAuthn(c.Request.Context(), string(apierrors.CodeOf(err)))
			}
			respondError(c, err)
			return
		}
		if metrics != nil {
			metrics.RecordAuthn(c.Request.Context(), "ok")
		}
		c.Set(principalContextKey, principal)
		c.Next()
	}
}

// principalFrom returns the principal context set by the middleware.
func principalFrom(c *gin.Context) (authdomain.PrincipalContext, bool) {
	value, ok := c.Get(principalContextKey)
	if !ok {
		return authdomain.PrincipalContext{}, false
	}
	principal, ok := value.(authdomain.PrincipalContext)
	return principal, ok
}

// observabilityMiddleware opens a span per request and logs latency.
func observabilityMiddleware(tracer *observability.TracerProvider, logger logging.Logger) gin.HandlerFunc {
	logger = logging.OrNop(logger)
	return func(c *gin.Context) {
		start := time.Now()

		if tracer != nil {
			spanCtx, span := tracer.StartSpan(c.Request.Context(), observability.SpanHTTPServer,
				attribute.String("http.method", c.Request.Method),
				attribute.String("http.route", c.FullPath()),
			)
			defer span.End()
			c.Request = c.Request.WithContext(spanCtx)
		}

		c.Next()

		logger.Debug("%s %s -> %d (%s)", c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start))
	}
}

// corsMiddleware configures CORS from the allowed-origin list. An empty
// list means same-origin only; "*" opens all origins.
func corsMiddleware(origins []string) gin.HandlerFunc {
	config := cors.DefaultConfig()
	if len(origins) == 1 && origins[0] == "*" {
		config.AllowAllOrigins = true
	} else {
		config.AllowOrigins = origins
	}
	config.AllowMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	config.AllowHeaders = []string{"Origin", "Content-Type", "X-Api-Key", "X-Agentex-Account", "Cookie"}
	config.AllowCredentials = true
	return cors.New(config)
}
