package models

import "time"

// SystemMetrics is a lightweight JSON view over the Prometheus collectors.
type SystemMetrics struct {
	RequestsTotal            uint64    `json:"requests_total"`
	AverageRequestDurationMs float64   `json:"average_request_duration_ms"`
	Recalculations           uint64    `json:"recalculations"`
	ExportsTotal             uint64    `json:"exports_total"`
	ExportFailures           uint64    `json:"export_failures"`
	PersistenceWrites        uint64    `json:"persistence_writes"`
	PersistenceFailures      uint64    `json:"persistence_failures"`
	Goroutines               int       `json:"goroutines"`
	GeneratedAt              time.Time `json:"generated_at"`
}
