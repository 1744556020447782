package cache

import (
	"context"
	"encoding/json"
	"time"

	"yoloDetect/database"
	"yoloDetect/models"
)

const (
	recordKeyPrefix = "task:record:"
	recordTTL       = 10 * time.Minute
)

// RecordCache fronts the Task/History Store for result lookups. Records are
// immutable once written, so a cached copy is never stale; deletes invalidate.
type RecordCache struct {
	cache *database.Cache
}

func NewRecordCache(cache *database.Cache) *RecordCache {
	return &RecordCache{cache: cache}
}

func (rc *RecordCache) Get(ctx context.Context, taskID string) (*models.DetectionRecord, error) {
	data, err := rc.cache.Get(ctx, recordKeyPrefix+taskID)
	if err != nil {
		return nil, err
	}

	var record models.DetectionRecord
	if err := json.Unmarshal([]byte(data), &record); err != nil {
		return nil, err
	}

	return &record, nil
}

func (rc *RecordCache) Set(ctx context.Context, record *models.DetectionRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return err
	}

	return rc.cache.Set(ctx, recordKeyPrefix+record.ID, data, recordTTL)
}

func (rc *RecordCache) Delete(ctx context.Context, taskID string) error {
	return rc.cache.Del(ctx, recordKeyPrefix+taskID)
}
