package detector

import (
	"bufio"
	"context"
	"fmt"
	"image"
	"image/color"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"
	"gocv.io/x/gocv"
)

const (
	dnnInputSize  = 300
	dnnScale      = 1.0 / 127.5
	dnnMeanOffset = 127.5
)

// DNNEngine runs detection through an OpenCV DNN network. One instance is
// loaded per weights file and shared by all requests; the forward pass is
// serialized because gocv.Net is not safe for concurrent use.
type DNNEngine struct {
	mu      sync.Mutex
	net     gocv.Net
	classes []string
	logger  *zap.Logger
}

// LoadDNN reads the weights file and its class-name table and wraps both in
// a ModelHandle. The class table lives in a .names file next to the weights,
// one label per line.
func LoadDNN(logger *zap.Logger) Loader {
	return func(modelPath string) (*ModelHandle, error) {
		net := gocv.ReadNet(modelPath, "")
		if net.Empty() {
			return nil, fmt.Errorf("failed to load network from %s", modelPath)
		}

		if err := net.SetPreferableBackend(gocv.NetBackendDefault); err != nil {
			net.Close()
			return nil, fmt.Errorf("set backend: %w", err)
		}
		if err := net.SetPreferableTarget(gocv.NetTargetCPU); err != nil {
			net.Close()
			return nil, fmt.Errorf("set target: %w", err)
		}

		classes, err := loadClassNames(modelPath)
		if err != nil {
			logger.Warn("No class-name table for model",
				zap.String("model", filepath.Base(modelPath)),
				zap.Error(err),
			)
		}

		engine := &DNNEngine{
			net:     net,
			classes: classes,
			logger:  logger,
		}

		return &ModelHandle{
			Name:    filepath.Base(modelPath),
			Classes: classes,
			Engine:  engine,
		}, nil
	}
}

func loadClassNames(modelPath string) ([]string, error) {
	namesPath := strings.TrimSuffix(modelPath, filepath.Ext(modelPath)) + ".names"

	f, err := os.Open(namesPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var classes []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" {
			classes = append(classes, line)
		}
	}
	return classes, scanner.Err()
}

// Predict runs one forward pass, keeps boxes at or above the threshold, draws
// them on a copy of the image, and writes that copy into outDir under the
// input's own file name.
func (e *DNNEngine) Predict(ctx context.Context, imagePath string, confidence float64, outDir string) ([]RawDetection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	mat := gocv.IMRead(imagePath, gocv.IMReadColor)
	if mat.Empty() {
		return nil, fmt.Errorf("failed to decode image %s", imagePath)
	}
	defer mat.Close()

	blob := gocv.BlobFromImage(mat, dnnScale, image.Pt(dnnInputSize, dnnInputSize),
		gocv.NewScalar(dnnMeanOffset, dnnMeanOffset, dnnMeanOffset, 0), true, false)
	defer blob.Close()

	e.mu.Lock()
	e.net.SetInput(blob, "")
	output := e.net.Forward("")
	e.mu.Unlock()
	defer output.Close()

	imgWidth := float64(mat.Cols())
	imgHeight := float64(mat.Rows())

	var detections []RawDetection
	reshaped := output.Reshape(1, output.Total()/7)
	defer reshaped.Close()

	for i := 0; i < reshaped.Rows(); i++ {
		conf := float64(reshaped.GetFloatAt(i, 2))
		if conf < confidence {
			continue
		}

		classID := int(reshaped.GetFloatAt(i, 1))
		x1 := clamp(float64(reshaped.GetFloatAt(i, 3))*imgWidth, 0, imgWidth)
		y1 := clamp(float64(reshaped.GetFloatAt(i, 4))*imgHeight, 0, imgHeight)
		x2 := clamp(float64(reshaped.GetFloatAt(i, 5))*imgWidth, 0, imgWidth)
		y2 := clamp(float64(reshaped.GetFloatAt(i, 6))*imgHeight, 0, imgHeight)

		detections = append(detections, RawDetection{
			ClassIndex: classID,
			Confidence: conf,
			Box:        [4]float64{math.Min(x1, x2), math.Min(y1, y2), math.Max(x1, x2), math.Max(y1, y2)},
		})
	}

	if err := e.annotate(mat, detections, imagePath, outDir); err != nil {
		return nil, err
	}

	return detections, nil
}

func (e *DNNEngine) annotate(mat gocv.Mat, detections []RawDetection, imagePath, outDir string) error {
	red := color.RGBA{R: 255}

	for _, det := range detections {
		rect := image.Rect(int(det.Box[0]), int(det.Box[1]), int(det.Box[2]), int(det.Box[3]))
		if err := gocv.Rectangle(&mat, rect, red, 2); err != nil {
			return fmt.Errorf("draw rectangle: %w", err)
		}

		label := fmt.Sprintf("%s (%.2f)", e.className(det.ClassIndex), det.Confidence)
		pt := image.Pt(int(det.Box[0]), int(det.Box[1])-5)
		if err := gocv.PutText(&mat, label, pt, gocv.FontHersheySimplex, 0.5, red, 1); err != nil {
			return fmt.Errorf("draw label: %w", err)
		}
	}

	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	outPath := filepath.Join(outDir, filepath.Base(imagePath))
	if ok := gocv.IMWrite(outPath, mat); !ok {
		return fmt.Errorf("failed to write annotated image %s", outPath)
	}

	return nil
}

func (e *DNNEngine) className(idx int) string {
	if idx >= 0 && idx < len(e.classes) {
		return e.classes[idx]
	}
	return fmt.Sprintf("class_%d", idx)
}

// Close releases the underlying network.
func (e *DNNEngine) Close() error {
	return e.net.Close()
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
