package monitoring

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMiddlewareUsesRouteTemplate(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := NewMetricsWith(prometheus.NewRegistry())

	router := gin.New()
	router.Use(Middleware(m))
	router.GET("/api/instances/:id", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})

	for _, id := range []string{"a", "b"} {
		w := httptest.NewRecorder()
		req, _ := http.NewRequest(http.MethodGet, "/api/instances/"+id, nil)
		router.ServeHTTP(w, req)
		require.Equal(t, http.StatusOK, w.Code)
	}

	assert.Equal(t, 2.0, testutil.ToFloat64(m.RequestsTotal.WithLabelValues("GET", "/api/instances/:id", "200")))
}

func TestTimerStopErr(t *testing.T) {
	m := NewMetricsWith(prometheus.NewRegistry())

	NewTimer(m, "gateway", "stop_application").StopErr(nil)
	NewTimer(m, "gateway", "stop_application").StopErr(errors.New("boom"))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.ServiceCalls.WithLabelValues("gateway", "stop_application", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ServiceCalls.WithLabelValues("gateway", "stop_application", "error")))

	// nil metrics is tolerated
	NewTimer(nil, "gateway", "noop").Stop("success")
}

func TestSeparateRegistries(t *testing.T) {
	a := NewMetricsWith(prometheus.NewRegistry())
	b := NewMetricsWith(prometheus.NewRegistry())

	a.SetInstancesActive(3)
	b.SetInstancesActive(1)

	assert.Equal(t, 3.0, testutil.ToFloat64(a.InstancesActive))
	assert.Equal(t, 1.0, testutil.ToFloat64(b.InstancesActive))
}
