package metrics

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// Components reported by gridnode
const (
	ComponentTransport = "transport"
	ComponentTracker   = "tracker"
	ComponentStorage   = "storage"
)

// HealthStatus is the JSON body of /health and /ready.
// Status is one of healthy, unhealthy, ready or not_ready.
type HealthStatus struct {
	Status     string            `json:"status"`
	Timestamp  time.Time         `json:"timestamp"`
	Components map[string]string `json:"components,omitempty"`
	Message    string            `json:"message,omitempty"`
	Version    string            `json:"version,omitempty"`
	Uptime     string            `json:"uptime,omitempty"`
}

type componentState struct {
	healthy bool
	message string
	updated time.Time
}

type healthRegistry struct {
	mu         sync.RWMutex
	components map[string]componentState
	// components readiness waits for
	critical []string
	started  time.Time
	version  string
}

var healthChecker = newHealthChecker()

func newHealthChecker() *healthRegistry {
	return &healthRegistry{
		components: make(map[string]componentState),
		critical:   []string{ComponentTransport, ComponentTracker},
		started:    time.Now(),
	}
}

func (h *healthRegistry) status(status, message string, components map[string]string) HealthStatus {
	return HealthStatus{
		Status:     status,
		Timestamp:  time.Now(),
		Components: components,
		Message:    message,
		Version:    h.version,
		Uptime:     time.Since(h.started).String(),
	}
}

// SetVersion sets the version reported by health responses
func SetVersion(version string) {
	healthChecker.mu.Lock()
	healthChecker.version = version
	healthChecker.mu.Unlock()
}

// SetCriticalComponents replaces the components readiness waits for
func SetCriticalComponents(names ...string) {
	healthChecker.mu.Lock()
	healthChecker.critical = append([]string(nil), names...)
	healthChecker.mu.Unlock()
}

// UpdateComponent records the latest health of a component
func UpdateComponent(name string, healthy bool, message string) {
	healthChecker.mu.Lock()
	defer healthChecker.mu.Unlock()
	healthChecker.components[name] = componentState{
		healthy: healthy,
		message: message,
		updated: time.Now(),
	}
}

// GetHealth is unhealthy as soon as any reported component is
func GetHealth() HealthStatus {
	healthChecker.mu.RLock()
	defer healthChecker.mu.RUnlock()

	status := "healthy"
	components := make(map[string]string, len(healthChecker.components))
	for name, c := range healthChecker.components {
		if c.healthy {
			components[name] = "healthy"
			continue
		}
		status = "unhealthy"
		components[name] = "unhealthy: " + c.message
	}
	return healthChecker.status(status, "", components)
}

// GetReadiness is ready once every critical component reported healthy
func GetReadiness() HealthStatus {
	healthChecker.mu.RLock()
	defer healthChecker.mu.RUnlock()

	status, message := "ready", ""
	components := make(map[string]string, len(healthChecker.critical))
	for _, name := range healthChecker.critical {
		c, ok := healthChecker.components[name]
		switch {
		case !ok:
			status, message = "not_ready", "waiting for "+name+" initialization"
			components[name] = "not registered"
		case !c.healthy:
			status, message = "not_ready", "waiting for "+name
			components[name] = "not ready: " + c.message
		default:
			components[name] = "ready"
		}
	}
	return healthChecker.status(status, message, components)
}

func statusHandler(get func() HealthStatus, ok string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s := get()
		code := http.StatusOK
		if s.Status != ok {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, s)
	}
}

// HealthHandler serves GetHealth
func HealthHandler() http.HandlerFunc {
	return statusHandler(GetHealth, "healthy")
}

// ReadyHandler serves GetReadiness
func ReadyHandler() http.HandlerFunc {
	return statusHandler(GetReadiness, "ready")
}

// Mux returns a mux serving /metrics, /health and /ready
func Mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	mux.Handle("/health", HealthHandler())
	mux.Handle("/ready", ReadyHandler())
	return mux
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
