package detector

import (
	"context"
	"fmt"
)

// RawDetection is one box straight out of the inference engine: class index,
// confidence, and x1,y1,x2,y2 in pixel coordinates.
type RawDetection struct {
	ClassIndex int
	Confidence float64
	Box        [4]float64
}

// Engine maps an image plus a confidence threshold to raw detections. The
// engine applies the threshold itself and writes exactly one annotated copy
// of the image into outDir.
type Engine interface {
	Predict(ctx context.Context, imagePath string, confidence float64, outDir string) ([]RawDetection, error)
}

// ModelHandle is one loaded engine instance plus its class-name table. It is
// never mutated after load and is shared by every request using the same
// model identifier.
type ModelHandle struct {
	Name    string
	Classes []string
	Engine  Engine
}

func (h *ModelHandle) ClassName(idx int) string {
	if idx >= 0 && idx < len(h.Classes) {
		return h.Classes[idx]
	}
	return fmt.Sprintf("class_%d", idx)
}
