package metrics

import (
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"
)

// Overall states reported by GetHealth and GetReadiness
const (
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
	StatusReady     = "ready"
	StatusNotReady  = "not_ready"
)

// HealthStatus is the body of the health and readiness probes
type HealthStatus struct {
	Status     string            `json:"status"`
	Timestamp  time.Time         `json:"timestamp"`
	Components map[string]string `json:"components,omitempty"`
	Message    string            `json:"message,omitempty"`
	Version    string            `json:"version,omitempty"`
	Uptime     string            `json:"uptime,omitempty"`
}

// DefaultCriticalComponents must all be registered and healthy for readiness
var DefaultCriticalComponents = []string{"registry", "hub", "api"}

// ComponentHealth is the last reported state of one component
type ComponentHealth struct {
	Healthy bool
	Message string
	Updated time.Time
}

// HealthChecker holds component states for the probe endpoints
type HealthChecker struct {
	mu         sync.RWMutex
	components map[string]ComponentHealth
	startTime  time.Time
	version    string
	critical   []string
}

var healthChecker = newHealthChecker()

func newHealthChecker() *HealthChecker {
	return &HealthChecker{
		components: make(map[string]ComponentHealth),
		startTime:  time.Now(),
		critical:   DefaultCriticalComponents,
	}
}

// SetVersion sets the version string for health responses
func SetVersion(version string) {
	healthChecker.mu.Lock()
	healthChecker.version = version
	healthChecker.mu.Unlock()
}

// SetCriticalComponents replaces the components checked by GetReadiness
func SetCriticalComponents(names ...string) {
	healthChecker.mu.Lock()
	healthChecker.critical = append([]string(nil), names...)
	healthChecker.mu.Unlock()
}

// RegisterComponent records the state of a component, replacing any earlier
// report under the same name
func RegisterComponent(name string, healthy bool, message string) {
	healthChecker.mu.Lock()
	defer healthChecker.mu.Unlock()

	healthChecker.components[name] = ComponentHealth{
		Healthy: healthy,
		Message: message,
		Updated: time.Now(),
	}
}

// UpdateComponent is RegisterComponent for a component already running
func UpdateComponent(name string, healthy bool, message string) {
	RegisterComponent(name, healthy, message)
}

// GetHealth reports every registered component. Any unhealthy component
// makes the whole process unhealthy.
func GetHealth() HealthStatus {
	healthChecker.mu.RLock()
	defer healthChecker.mu.RUnlock()

	hs := healthChecker.status(StatusHealthy)
	for name, comp := range healthChecker.components {
		if comp.Healthy {
			hs.Components[name] = StatusHealthy
			continue
		}
		hs.Status = StatusUnhealthy
		hs.Components[name] = StatusUnhealthy + ": " + comp.Message
	}
	return hs
}

// GetReadiness reports only the critical components. A critical component
// that never registered counts as not ready.
func GetReadiness() HealthStatus {
	healthChecker.mu.RLock()
	defer healthChecker.mu.RUnlock()

	hs := healthChecker.status(StatusReady)
	critical := append([]string(nil), healthChecker.critical...)
	sort.Strings(critical)

	for _, name := range critical {
		comp, ok := healthChecker.components[name]
		switch {
		case !ok:
			hs.Components[name] = "not registered"
			hs.Status = StatusNotReady
			if hs.Message == "" {
				hs.Message = "waiting for " + name + " to start"
			}
		case !comp.Healthy:
			hs.Components[name] = "not ready: " + comp.Message
			hs.Status = StatusNotReady
			if hs.Message == "" {
				hs.Message = "waiting for " + name
			}
		default:
			hs.Components[name] = StatusReady
		}
	}
	return hs
}

// status must be called with mu held
func (hc *HealthChecker) status(initial string) HealthStatus {
	return HealthStatus{
		Status:     initial,
		Timestamp:  time.Now(),
		Components: make(map[string]string, len(hc.components)),
		Version:    hc.version,
		Uptime:     time.Since(hc.startTime).Round(time.Second).String(),
	}
}

// ReadyHandler serves GetReadiness, answering 503 until every critical
// component is healthy
func ReadyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rs := GetReadiness()
		writeProbe(w, rs.Status == StatusReady, rs)
	}
}

// LivenessHandler answers 200 for as long as the process can serve HTTP
func LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		healthChecker.mu.RLock()
		uptime := time.Since(healthChecker.startTime).Round(time.Second).String()
		healthChecker.mu.RUnlock()

		writeProbe(w, true, map[string]string{"status": "alive", "uptime": uptime})
	}
}

func writeProbe(w http.ResponseWriter, ok bool, body any) {
	w.Header().Set("Content-Type", "application/json")
	if ok {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(body)
}
