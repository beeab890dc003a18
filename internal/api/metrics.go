package api

import (
	"net/http"
	"runtime"
	"time"

	"github.com/nerrad567/warden/internal/dispatch"
)

// SystemMetrics represents the complete system metrics response.
type SystemMetrics struct {
	Timestamp     string           `json:"timestamp"`
	Version       string           `json:"version"`
	UptimeSeconds int64            `json:"uptime_seconds"`
	Runtime       RuntimeMetrics   `json:"runtime"`
	WebSocket     WSMetrics        `json:"websocket"`
	Integrations  Integrations     `json:"integrations"`
	Automation    AutomationStats  `json:"automation"`
	Dispatch      dispatch.Stats   `json:"dispatch"`
	Notify        *NotifyMetrics   `json:"notify,omitempty"`
	Database      *DatabaseMetrics `json:"database,omitempty"`
}

// RuntimeMetrics contains Go runtime statistics.
type RuntimeMetrics struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	MemoryTotalMB float64 `json:"memory_total_mb"`
	NumGC         uint32  `json:"num_gc"`
}

// WSMetrics contains WebSocket hub statistics.
type WSMetrics struct {
	ConnectedClients int `json:"connected_clients"`
}

// Integrations reports connectivity of optional integrations. Nil means
// the integration is not configured.
type Integrations struct {
	MQTT     *bool `json:"mqtt,omitempty"`
	InfluxDB *bool `json:"influxdb,omitempty"`

	// InfluxDBWriteErrors counts metric batches the server rejected.
	InfluxDBWriteErrors *uint64 `json:"influxdb_write_errors,omitempty"`
}

// writeErrorCounter is implemented by *influxdb.Client.
type writeErrorCounter interface {
	WriteErrors() uint64
}

// AutomationStats summarises rule engine state.
type AutomationStats struct {
	Enabled         bool `json:"enabled"`
	Rules           int  `json:"rules"`
	ActiveCooldowns int  `json:"active_cooldowns"`
	LedgerEntries   int  `json:"ledger_entries"`
}

// NotifyMetrics contains notification bus counters.
type NotifyMetrics struct {
	Delivered uint64 `json:"delivered"`
	Dropped   uint64 `json:"dropped"`
}

// DatabaseMetrics contains database connection pool statistics.
type DatabaseMetrics struct {
	OpenConnections int   `json:"open_connections"`
	InUse           int   `json:"in_use"`
	Idle            int   `json:"idle"`
	WaitCount       int64 `json:"wait_count"`
}

// handleMetrics returns runtime and component metrics.
func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	metrics := SystemMetrics{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Runtime: RuntimeMetrics{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: float64(memStats.Alloc) / 1024 / 1024,
			MemoryTotalMB: float64(memStats.TotalAlloc) / 1024 / 1024,
			NumGC:         memStats.NumGC,
		},
		Automation: AutomationStats{
			Enabled:         s.safety.Enabled(),
			Rules:           s.registry.RuleCount(),
			ActiveCooldowns: len(s.safety.Snapshot()),
			LedgerEntries:   len(s.ledger.Query("", 0)),
		},
		Dispatch: s.queue.Stats(),
	}

	if s.hub != nil {
		metrics.WebSocket.ConnectedClients = s.hub.ClientCount()
	}
	if s.mqtt != nil {
		connected := s.mqtt.IsConnected()
		metrics.Integrations.MQTT = &connected
	}
	if s.influx != nil {
		connected := s.influx.IsConnected()
		metrics.Integrations.InfluxDB = &connected
		if wc, ok := s.influx.(writeErrorCounter); ok {
			n := wc.WriteErrors()
			metrics.Integrations.InfluxDBWriteErrors = &n
		}
	}
	if s.notify != nil {
		delivered, dropped := s.notify.Stats()
		metrics.Notify = &NotifyMetrics{Delivered: delivered, Dropped: dropped}
	}
	if s.db != nil {
		dbStats := s.db.Stats()
		metrics.Database = &DatabaseMetrics{
			OpenConnections: dbStats.OpenConnections,
			InUse:           dbStats.InUse,
			Idle:            dbStats.Idle,
			WaitCount:       dbStats.WaitCount,
		}
	}

	writeJSON(w, http.StatusOK, metrics)
}
