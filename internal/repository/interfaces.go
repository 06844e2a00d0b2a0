package repository

import "github.com/Brownie44l1/classify-api/internal/models"

// PredictionRepository defines the interface for the prediction audit log.
type PredictionRepository interface {
	// Create operations
	Insert(rec *models.PredictionRecord) error

	// Read operations
	Recent(limit int) ([]models.PredictionRecord, error)
	Count() (int, error)
}
