package tracing

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

// untracedPaths are polled by probes and scrapers and would only add noise.
var untracedPaths = map[string]struct{}{
	"/healthz": {},
	"/health":  {},
	"/metrics": {},
}

func GinMiddleware(serviceName string) gin.HandlerFunc {
	return otelgin.Middleware(serviceName, otelgin.WithFilter(traced))
}

func traced(r *http.Request) bool {
	_, skip := untracedPaths[r.URL.Path]
	return !skip
}
