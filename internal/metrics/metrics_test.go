package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_HandlerExposesRecordedCollectors(t *testing.T) {
	r := New()
	r.RecordStep("pull", true)
	r.RecordStep("push", false)
	r.RecordCycle(250 * time.Millisecond)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	r.Handler().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, "omnimem_daemon_cycles_total 1")
	assert.Contains(t, body, `omnimem_daemon_step_runs_total{step="pull"} 1`)
	assert.Contains(t, body, `omnimem_daemon_step_runs_total{step="push"} 1`)
	assert.Contains(t, body, `omnimem_daemon_step_failures_total{step="push"} 1`)
	assert.True(t, strings.Contains(body, "omnimem_daemon_cycle_duration_seconds"))
}
