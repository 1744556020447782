package models

import (
	"time"
)

type RecordStatus string

const (
	StatusCompleted RecordStatus = "completed"
	StatusFailed    RecordStatus = "failed"
)

// Detection is one recognized object. BBox holds x1,y1,x2,y2 in pixel
// coordinates with x1<=x2 and y1<=y2.
type Detection struct {
	Class      string     `json:"class"`
	Confidence float64    `json:"confidence"`
	BBox       [4]float64 `json:"bbox"`
}

// DetectionRecord is one finished detection run. It is written exactly once
// and never mutated afterwards; it goes away only through an explicit delete,
// which also removes the annotated image it points at.
type DetectionRecord struct {
	ID         string
	FileName   string
	UploadTime time.Time
	Width      int
	Height     int
	FileType   string
	URL        string
	Detections []Detection
	Status     RecordStatus
	Error      string
}
