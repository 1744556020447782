package repository

import (
	"encoding/json"
	"fmt"

	"yoloDetect/models"
)

// marshalDetections serializes the detection sequence for the durable
// backend's blob column. The round-trip is lossless: label, confidence and
// bbox come back exactly as stored.
func marshalDetections(detections []models.Detection) ([]byte, error) {
	if detections == nil {
		detections = []models.Detection{}
	}
	data, err := json.Marshal(detections)
	if err != nil {
		return nil, fmt.Errorf("marshal detections: %w", err)
	}
	return data, nil
}

func unmarshalDetections(data []byte) ([]models.Detection, error) {
	var detections []models.Detection
	if len(data) == 0 {
		return detections, nil
	}
	if err := json.Unmarshal(data, &detections); err != nil {
		return nil, fmt.Errorf("unmarshal detections: %w", err)
	}
	return detections, nil
}
