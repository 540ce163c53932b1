package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_CountsByRouteAndFallback(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Metrics())
	r.GET("/conversations/:id", func(c *gin.Context) { c.String(http.StatusOK, "hello") })
	r.GET("/empty", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	baseRoute := testutil.ToFloat64(httpReqs.WithLabelValues("GET", "/conversations/:id", "200"))
	baseMissing := testutil.ToFloat64(httpReqs.WithLabelValues("GET", "/nope", "404"))

	for _, path := range []string{"/conversations/a", "/conversations/b", "/nope", "/empty"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	if got := testutil.ToFloat64(httpReqs.WithLabelValues("GET", "/conversations/:id", "200")); got != baseRoute+2 {
		t.Fatalf("route counter = %v, want %v", got, baseRoute+2)
	}
	if got := testutil.ToFloat64(httpReqs.WithLabelValues("GET", "/nope", "404")); got != baseMissing+1 {
		t.Fatalf("fallback counter = %v, want %v", got, baseMissing+1)
	}
	if got := testutil.ToFloat64(httpInflight); got != 0 {
		t.Fatalf("inflight = %v", got)
	}
}
