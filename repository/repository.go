package repository

import (
	"context"
	"errors"

	"yoloDetect/models"
)

var (
	ErrNotFound    = errors.New("task not found")
	ErrDuplicateID = errors.New("task already exists")
)

// Store keeps finished detection records. Both backends behave identically:
// Create rejects duplicate IDs, Get and Delete report unknown IDs, and List
// returns records newest first.
type Store interface {
	Create(ctx context.Context, record *models.DetectionRecord) error
	Get(ctx context.Context, id string) (*models.DetectionRecord, error)
	List(ctx context.Context) ([]*models.DetectionRecord, error)
	Delete(ctx context.Context, id string) error
}
