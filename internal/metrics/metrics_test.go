package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestInitIdempotent(t *testing.T) {
	Init()
	Init()

	require.NotNil(t, fetchAttemptsTotal)
	require.NotNil(t, fetchLatencySeconds)
	require.NotNil(t, captchaDetectedTotal)
}

func TestObserveFetch(t *testing.T) {
	Init()

	before := testutil.ToFloat64(fetchAttemptsTotal.WithLabelValues("http", "success"))
	ObserveFetch("http", "success", 120*time.Millisecond, 4096)
	after := testutil.ToFloat64(fetchAttemptsTotal.WithLabelValues("http", "success"))
	require.Equal(t, before+1, after)
}

func TestHandlerServesRegistry(t *testing.T) {
	Init()
	ObserveFetch("browser", "timeout", time.Second, 0)

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "hybridfetch_attempts_total")
}
