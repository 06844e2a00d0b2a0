package models

import "time"

// PredictionRecord is one served prediction kept in the audit log.
type PredictionRecord struct {
	ID         string    `json:"id"`
	CreatedAt  time.Time `json:"created_at"`
	Source     string    `json:"source"`
	Label      string    `json:"label"`
	Confidence float64   `json:"confidence"`
	LatencyMs  int64     `json:"latency_ms"`
}
