package repository

import (
	"context"
	"sort"
	"sync"

	"yoloDetect/models"
)

// MemoryStore is the volatile Store variant: an RWMutex-guarded map. Records
// are copied on the way in and out so callers can never observe a torn or
// later-mutated record.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*models.DetectionRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]*models.DetectionRecord),
	}
}

func (s *MemoryStore) Create(ctx context.Context, record *models.DetectionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[record.ID]; exists {
		return ErrDuplicateID
	}

	s.records[record.ID] = copyRecord(record)
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*models.DetectionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, exists := s.records[id]
	if !exists {
		return nil, ErrNotFound
	}

	return copyRecord(record), nil
}

func (s *MemoryStore) List(ctx context.Context) ([]*models.DetectionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records := make([]*models.DetectionRecord, 0, len(s.records))
	for _, record := range s.records {
		records = append(records, copyRecord(record))
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].UploadTime.After(records[j].UploadTime)
	})

	return records, nil
}

func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[id]; !exists {
		return ErrNotFound
	}

	delete(s.records, id)
	return nil
}

func copyRecord(record *models.DetectionRecord) *models.DetectionRecord {
	clone := *record
	clone.Detections = append([]models.Detection(nil), record.Detections...)
	return &clone
}
