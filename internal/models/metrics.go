package models

import "time"

// SystemMetrics is a lightweight aggregate snapshot for the admin metrics
// endpoint, complementing the raw Prometheus exposition.
type SystemMetrics struct {
	CacheHitRatio            float64   `json:"cache_hit_ratio"`
	CacheHits                uint64    `json:"cache_hits"`
	CacheMisses              uint64    `json:"cache_misses"`
	RequestsTotal            uint64    `json:"requests_total"`
	AverageRequestDurationMs float64   `json:"average_request_duration_ms"`
	AttendanceMarks          uint64    `json:"attendance_marks"`
	AttendanceDenials        uint64    `json:"attendance_denials"`
	AttendanceOverrides      uint64    `json:"attendance_overrides"`
	Goroutines               int       `json:"goroutines"`
	GeneratedAt              time.Time `json:"generated_at"`
}
