package observability

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/require"
)

func TestInstallLoggerLevel(t *testing.T) {
	prev := log.Logger
	t.Cleanup(func() { log.Logger = prev })

	var buf bytes.Buffer
	logger := installLogger(&buf, "sessiond", "warn")
	logger.Info().Msg("hidden")
	logger.Warn().Msg("shown")

	require.NotContains(t, buf.String(), "hidden")
	require.Contains(t, buf.String(), `"app":"sessiond"`)
	require.Equal(t, zerolog.WarnLevel, log.Logger.GetLevel())

	fallback := installLogger(&buf, "sessiond", "loud")
	require.Equal(t, zerolog.InfoLevel, fallback.GetLevel())
}

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &entry))
		out = append(out, entry)
	}
	return out
}

func TestRequestLogger(t *testing.T) {
	gin.SetMode(gin.TestMode)

	newRouter := func(buf *bytes.Buffer, development bool) *gin.Engine {
		r := gin.New()
		r.Use(RequestLogger(zerolog.New(buf).Level(zerolog.DebugLevel), development))
		r.GET("/ok", func(c *gin.Context) {
			zerolog.Ctx(c.Request.Context()).Info().Msg("inside handler")
			c.Status(http.StatusOK)
		})
		r.GET("/bad", func(c *gin.Context) { c.Status(http.StatusBadRequest) })
		r.GET("/fail", func(c *gin.Context) { c.Status(http.StatusBadGateway) })
		return r
	}

	var buf bytes.Buffer
	r := newRouter(&buf, false)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ok", nil))
	id := w.Header().Get(RequestIDHeader)
	require.Len(t, id, 10)

	entries := decodeLines(t, &buf)
	require.Len(t, entries, 2)
	require.Equal(t, id, entries[0][RequestIDKey], "handler logs carry the request id")
	require.Equal(t, "debug", entries[1]["level"])
	require.Equal(t, "/ok", entries[1]["path"])

	for path, level := range map[string]string{"/bad": "warn", "/fail": "error"} {
		buf.Reset()
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
		entries := decodeLines(t, &buf)
		require.Len(t, entries, 1)
		require.Equal(t, level, entries[0]["level"], path)
	}

	var devBuf bytes.Buffer
	newRouter(&devBuf, true).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/ok", nil))
	devEntries := decodeLines(t, &devBuf)
	require.Equal(t, "info", devEntries[len(devEntries)-1]["level"])
}

func TestRequestIDsAreDistinct(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 1000; i++ {
		id := NewRequestID()
		require.Len(t, id, 10)
		seen[id] = struct{}{}
	}
	require.Len(t, seen, 1000)
}

func TestRequestMetricsMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)

	reg := prometheus.NewRegistry()
	metrics := NewHTTPMetrics(reg)

	r := gin.New()
	r.Use(RequestMetricsMiddleware(metrics))
	r.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/nope", nil))

	require.Equal(t, 2.0, testutil.ToFloat64(metrics.requests.WithLabelValues("GET", "/health", "200")))
	require.Equal(t, 1.0, testutil.ToFloat64(metrics.requests.WithLabelValues("GET", "unmatched", "404")))

	var nilMetrics *HTTPMetrics
	nilMetrics.RecordHTTPRequest("GET", "/", 200, time.Millisecond)
}
