package monitoring

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

var startTime = time.Now()

// HealthChecker exposes liveness for the scan pipeline and the stop-loss
// monitor. A stalled monitor loop is an incident: positions would drift
// unprotected, so it degrades the health status immediately.
type HealthChecker struct {
	mu              sync.RWMutex
	lastScan        time.Time
	lastMonitorTick time.Time
	brokerConnected bool
	openPositions   int
	closeFailed     int
}

type HealthStatus struct {
	Status          string    `json:"status"`
	Timestamp       time.Time `json:"timestamp"`
	LastScan        time.Time `json:"last_scan"`
	LastMonitorTick time.Time `json:"last_monitor_tick"`
	BrokerConnected bool      `json:"broker_connected"`
	OpenPositions   int       `json:"open_positions"`
	CloseFailed     int       `json:"close_failed"`
	Uptime          string    `json:"uptime"`
}

func NewHealthChecker() *HealthChecker {
	return &HealthChecker{}
}

// RecordScan marks a completed scan cycle.
func (h *HealthChecker) RecordScan() {
	h.mu.Lock()
	h.lastScan = time.Now()
	h.mu.Unlock()
}

// RecordMonitorTick marks a completed stop-loss monitoring cycle.
func (h *HealthChecker) RecordMonitorTick(openPositions int) {
	h.mu.Lock()
	h.lastMonitorTick = time.Now()
	h.openPositions = openPositions
	h.mu.Unlock()
}

// SetBrokerConnected records broker reachability.
func (h *HealthChecker) SetBrokerConnected(connected bool) {
	h.mu.Lock()
	h.brokerConnected = connected
	h.mu.Unlock()
}

// RecordCloseFailed counts a position stuck in CloseFailed.
func (h *HealthChecker) RecordCloseFailed() {
	h.mu.Lock()
	h.closeFailed++
	h.mu.Unlock()
}

func (h *HealthChecker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	status := "healthy"
	code := http.StatusOK

	// A monitor loop silent for over a minute means open positions are
	// unprotected.
	if h.openPositions > 0 && time.Since(h.lastMonitorTick) > time.Minute {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}
	if !h.brokerConnected {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}
	if h.closeFailed > 0 {
		status = "unhealthy"
		code = http.StatusInternalServerError
	}

	health := HealthStatus{
		Status:          status,
		Timestamp:       time.Now(),
		LastScan:        h.lastScan,
		LastMonitorTick: h.lastMonitorTick,
		BrokerConnected: h.brokerConnected,
		OpenPositions:   h.openPositions,
		CloseFailed:     h.closeFailed,
		Uptime:          time.Since(startTime).String(),
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(health)
}
