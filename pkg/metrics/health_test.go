package metrics

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resetHealthChecker(version string) {
	healthChecker = &HealthChecker{
		components: make(map[string]ComponentHealth),
		startTime:  time.Now(),
		version:    version,
		critical:   DefaultCriticalComponents,
	}
}

func TestRegisterComponent(t *testing.T) {
	resetHealthChecker("")

	RegisterComponent("storage", true, "replayed")

	require.Len(t, healthChecker.components, 1)
	comp := healthChecker.components["storage"]
	assert.True(t, comp.Healthy)
	assert.Equal(t, "replayed", comp.Message)
}

func TestGetHealth(t *testing.T) {
	tests := []struct {
		name       string
		components map[string]bool
		wantStatus string
	}{
		{
			name:       "all healthy",
			components: map[string]bool{"registry": true, "hub": true},
			wantStatus: "healthy",
		},
		{
			name:       "one unhealthy",
			components: map[string]bool{"registry": true, "storage": false},
			wantStatus: "unhealthy",
		},
		{
			name:       "nothing registered",
			components: map[string]bool{},
			wantStatus: "healthy",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resetHealthChecker("1.0.0")
			for name, healthy := range tt.components {
				RegisterComponent(name, healthy, "disk full")
			}

			health := GetHealth()
			assert.Equal(t, tt.wantStatus, health.Status)
			assert.Len(t, health.Components, len(tt.components))
			assert.Equal(t, "1.0.0", health.Version)
		})
	}
}

func TestGetHealth_UnhealthyMessage(t *testing.T) {
	resetHealthChecker("")
	RegisterComponent("storage", false, "disk full")

	health := GetHealth()
	assert.Equal(t, "unhealthy: disk full", health.Components["storage"])
}

func TestGetReadiness(t *testing.T) {
	tests := []struct {
		name       string
		components map[string]bool
		wantStatus string
	}{
		{
			name:       "all critical ready",
			components: map[string]bool{"registry": true, "hub": true, "api": true},
			wantStatus: "ready",
		},
		{
			name:       "critical component missing",
			components: map[string]bool{"api": true},
			wantStatus: "not_ready",
		},
		{
			name:       "critical component unhealthy",
			components: map[string]bool{"registry": false, "hub": true, "api": true},
			wantStatus: "not_ready",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resetHealthChecker("")
			for name, healthy := range tt.components {
				RegisterComponent(name, healthy, "")
			}

			readiness := GetReadiness()
			assert.Equal(t, tt.wantStatus, readiness.Status)
			if tt.wantStatus != "ready" {
				assert.NotEmpty(t, readiness.Message)
			}
		})
	}
}

func TestSetCriticalComponents(t *testing.T) {
	resetHealthChecker("")
	SetCriticalComponents("storage")
	RegisterComponent("storage", true, "")

	assert.Equal(t, "ready", GetReadiness().Status)
}

func TestReadyHandler_NotReady(t *testing.T) {
	resetHealthChecker("")
	RegisterComponent("hub", false, "listener closed")

	w := httptest.NewRecorder()
	ReadyHandler()(w, httptest.NewRequest(http.MethodGet, "/ready", nil))

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var readiness HealthStatus
	require.NoError(t, json.NewDecoder(w.Body).Decode(&readiness))
	assert.Equal(t, StatusNotReady, readiness.Status)
	assert.Equal(t, "not ready: listener closed", readiness.Components["hub"])
	assert.Equal(t, "not registered", readiness.Components["registry"])
}

func TestReadyHandler(t *testing.T) {
	resetHealthChecker("")
	RegisterComponent("registry", true, "")
	RegisterComponent("hub", true, "")
	RegisterComponent("api", true, "")

	w := httptest.NewRecorder()
	ReadyHandler()(w, httptest.NewRequest(http.MethodGet, "/ready", nil))

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestLivenessHandler(t *testing.T) {
	resetHealthChecker("")

	w := httptest.NewRecorder()
	LivenessHandler()(w, httptest.NewRequest(http.MethodGet, "/live", nil))

	assert.Equal(t, http.StatusOK, w.Code)

	var response map[string]string
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	assert.Equal(t, "alive", response["status"])
	assert.NotEmpty(t, response["uptime"])
}
