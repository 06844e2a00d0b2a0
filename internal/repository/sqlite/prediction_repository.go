package sqlite

import (
	"fmt"

	"github.com/Brownie44l1/classify-api/internal/models"
)

// PredictionRepository implements repository.PredictionRepository for SQLite.
type PredictionRepository struct {
	db *DB
}

// NewPredictionRepository creates a new SQLite prediction repository.
func NewPredictionRepository(db *DB) *PredictionRepository {
	return &PredictionRepository{db: db}
}

// Insert adds a prediction record.
func (r *PredictionRepository) Insert(rec *models.PredictionRecord) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	_, err := r.db.Conn().Exec(`
		INSERT INTO predictions (id, created_at, source, label, confidence, latency_ms)
		VALUES (?, ?, ?, ?, ?, ?)
	`, rec.ID, rec.CreatedAt, rec.Source, rec.Label, rec.Confidence, rec.LatencyMs)
	if err != nil {
		return fmt.Errorf("failed to insert prediction: %w", err)
	}
	return nil
}

// Recent returns up to limit records, newest first.
func (r *PredictionRepository) Recent(limit int) ([]models.PredictionRecord, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()

	if limit <= 0 {
		limit = 50
	}

	rows, err := r.db.Conn().Query(`
		SELECT id, created_at, source, label, confidence, latency_ms
		FROM predictions ORDER BY created_at DESC, rowid DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query predictions: %w", err)
	}
	defer rows.Close()

	records := []models.PredictionRecord{}
	for rows.Next() {
		var rec models.PredictionRecord
		if err := rows.Scan(&rec.ID, &rec.CreatedAt, &rec.Source, &rec.Label, &rec.Confidence, &rec.LatencyMs); err != nil {
			return nil, fmt.Errorf("failed to scan prediction: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Count returns the number of stored records.
func (r *PredictionRepository) Count() (int, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()

	var n int
	if err := r.db.Conn().QueryRow(`SELECT COUNT(*) FROM predictions`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count predictions: %w", err)
	}
	return n, nil
}
