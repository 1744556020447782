package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"yoloDetect/artifact"
	"yoloDetect/detector"
	"yoloDetect/dto"
	"yoloDetect/kafka"
	"yoloDetect/models"
	"yoloDetect/repository"
)

const eventTopic = "detection_events"

// RecordCache is the read-through cache for finished records. Records enter
// it once, right after they are persisted; reads never write it back, so a
// deleted task cannot be resurrected by a concurrent lookup.
type RecordCache interface {
	Get(ctx context.Context, taskID string) (*models.DetectionRecord, error)
	Set(ctx context.Context, record *models.DetectionRecord) error
	Delete(ctx context.Context, taskID string) error
}

// DetectionService runs the whole pipeline for one upload: persist the image,
// acquire the model, run inference, relocate the annotated output, and write
// the record. Everything happens synchronously; the returned record is final
// by the time the caller sees it.
type DetectionService struct {
	store     repository.Store
	models    *detector.Cache
	artifacts *artifact.Manager
	records   RecordCache
	producer  kafka.Producer
	uploadDir string
	resultDir string
	logger    *zap.Logger
}

// Option wires the optional collaborators.
type Option func(*DetectionService)

func WithRecordCache(records RecordCache) Option {
	return func(s *DetectionService) { s.records = records }
}

func WithProducer(producer kafka.Producer) Option {
	return func(s *DetectionService) { s.producer = producer }
}

func NewDetectionService(
	store repository.Store,
	modelCache *detector.Cache,
	artifacts *artifact.Manager,
	uploadDir, resultDir string,
	logger *zap.Logger,
	opts ...Option,
) *DetectionService {
	s := &DetectionService{
		store:     store,
		models:    modelCache,
		artifacts: artifacts,
		uploadDir: uploadDir,
		resultDir: resultDir,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Detect runs the pipeline. Failures past the upload step still produce a
// stored record with status=failed; the error comes back alongside it so the
// handler can render the envelope.
func (s *DetectionService) Detect(ctx context.Context, traceID string, image io.Reader, req *dto.DetectRequest) (*models.DetectionRecord, error) {
	taskID := uuid.New().String()
	storedName := taskID + "_" + filepath.Base(req.FileName)

	uploadPath, err := s.saveUpload(storedName, image)
	if err != nil {
		return nil, fmt.Errorf("save upload: %w", err)
	}

	record := &models.DetectionRecord{
		ID:         taskID,
		FileName:   storedName,
		UploadTime: time.Now().UTC(),
	}

	runErr := s.run(ctx, record, uploadPath, req)
	if runErr != nil {
		record.Status = models.StatusFailed
		record.Error = runErr.Error()
		s.logger.Error("Detection failed",
			zap.String("trace_id", traceID),
			zap.String("task_id", taskID),
			zap.String("model", req.ModelName),
			zap.Error(runErr),
		)
	} else {
		record.Status = models.StatusCompleted
	}

	if err := s.store.Create(ctx, record); err != nil {
		// The relocated artifact is orphaned at this point; all we can do
		// is say so.
		s.logger.Error("Record persistence failed, artifact may be orphaned",
			zap.String("trace_id", traceID),
			zap.String("task_id", taskID),
			zap.Error(err),
		)
		return nil, fmt.Errorf("persist record: %w", err)
	}

	s.cacheRecord(ctx, record)
	s.publish(ctx, traceID, record, req.ModelName)

	if runErr != nil {
		return record, runErr
	}

	s.logger.Info("Detection completed",
		zap.String("trace_id", traceID),
		zap.String("task_id", taskID),
		zap.String("model", req.ModelName),
		zap.Int("detections", len(record.Detections)),
	)
	return record, nil
}

// run covers the fallible middle of the pipeline: model acquisition through
// artifact probing. The record is filled in as steps succeed.
func (s *DetectionService) run(ctx context.Context, record *models.DetectionRecord, uploadPath string, req *dto.DetectRequest) error {
	handle, err := s.models.Acquire(req.ModelName)
	if err != nil {
		return err
	}

	// Each task gets its own working directory so concurrent runs can never
	// see each other's output.
	workDir := filepath.Join(s.resultDir, record.ID)

	raw, err := handle.Engine.Predict(ctx, uploadPath, req.Confidence, workDir)
	if err != nil {
		return fmt.Errorf("inference failed: %w", err)
	}

	record.Detections = normalize(raw, handle)

	finalPath, err := s.artifacts.Relocate(workDir, s.resultDir)
	if err != nil {
		return err
	}

	width, height, fileType, err := s.artifacts.Probe(finalPath)
	if err != nil {
		return err
	}

	record.Width = width
	record.Height = height
	record.FileType = fileType
	record.URL = "/yolo/files/" + filepath.Base(finalPath)

	clampBoxes(record.Detections, float64(width), float64(height))

	return nil
}

// Result returns the record for a task, through the record cache when one is
// configured. Cache misses fall through to the store without re-populating
// the cache; only Detect writes it.
func (s *DetectionService) Result(ctx context.Context, taskID string) (*models.DetectionRecord, error) {
	if s.records != nil {
		if record, err := s.records.Get(ctx, taskID); err == nil {
			return record, nil
		}
	}

	return s.store.Get(ctx, taskID)
}

// History lists every record, newest first.
func (s *DetectionService) History(ctx context.Context) ([]*models.DetectionRecord, error) {
	return s.store.List(ctx)
}

// Delete removes the record and its artifact. Both removals are attempted
// even if one fails; the first error wins.
func (s *DetectionService) Delete(ctx context.Context, taskID string) error {
	record, err := s.store.Get(ctx, taskID)
	if err != nil {
		return err
	}

	// Invalidate before touching the store so a stale entry cannot outlive
	// the record, and again afterwards in case a concurrent Detect raced the
	// first invalidation.
	s.invalidateRecord(ctx, taskID)

	storeErr := s.store.Delete(ctx, taskID)
	if storeErr != nil && !errors.Is(storeErr, repository.ErrNotFound) {
		s.logger.Error("Record removal failed",
			zap.String("task_id", taskID),
			zap.Error(storeErr),
		)
	}

	var fileErr error
	if record.URL != "" {
		fileErr = s.artifacts.Remove(filepath.Join(s.resultDir, filepath.Base(record.URL)))
		if fileErr != nil {
			s.logger.Error("Artifact removal failed",
				zap.String("task_id", taskID),
				zap.Error(fileErr),
			)
		}
	}

	s.invalidateRecord(ctx, taskID)

	if storeErr != nil {
		return storeErr
	}
	return fileErr
}

func (s *DetectionService) cacheRecord(ctx context.Context, record *models.DetectionRecord) {
	if s.records == nil {
		return
	}
	if err := s.records.Set(ctx, record); err != nil {
		s.logger.Warn("Record cache write failed",
			zap.String("task_id", record.ID),
			zap.Error(err),
		)
	}
}

func (s *DetectionService) invalidateRecord(ctx context.Context, taskID string) {
	if s.records == nil {
		return
	}
	if err := s.records.Delete(ctx, taskID); err != nil {
		s.logger.Warn("Record cache invalidation failed",
			zap.String("task_id", taskID),
			zap.Error(err),
		)
	}
}

func (s *DetectionService) saveUpload(name string, image io.Reader) (string, error) {
	if err := os.MkdirAll(s.uploadDir, 0o755); err != nil {
		return "", err
	}

	path := filepath.Join(s.uploadDir, name)
	dst, err := os.Create(path)
	if err != nil {
		return "", err
	}

	if _, err := io.Copy(dst, image); err != nil {
		dst.Close()
		return "", err
	}

	return path, dst.Close()
}

func (s *DetectionService) publish(ctx context.Context, traceID string, record *models.DetectionRecord, model string) {
	if s.producer == nil {
		return
	}

	event := &kafka.DetectionEvent{
		TaskID:     record.ID,
		TraceID:    traceID,
		Model:      model,
		Status:     string(record.Status),
		Detections: len(record.Detections),
	}
	if err := s.producer.SendDetectionEvent(ctx, eventTopic, event); err != nil {
		s.logger.Warn("Detection event publish failed",
			zap.String("task_id", record.ID),
			zap.Error(err),
		)
	}
}

// normalize resolves class labels, orders each box as x1<=x2, y1<=y2, and
// rounds confidence to 3 and coordinates to 2 decimal places. The engine
// already applied the threshold; nothing is re-filtered here.
func normalize(raw []detector.RawDetection, handle *detector.ModelHandle) []models.Detection {
	detections := make([]models.Detection, 0, len(raw))
	for _, r := range raw {
		x1 := math.Min(r.Box[0], r.Box[2])
		y1 := math.Min(r.Box[1], r.Box[3])
		x2 := math.Max(r.Box[0], r.Box[2])
		y2 := math.Max(r.Box[1], r.Box[3])

		detections = append(detections, models.Detection{
			Class:      handle.ClassName(r.ClassIndex),
			Confidence: round(r.Confidence, 3),
			BBox: [4]float64{
				round(x1, 2),
				round(y1, 2),
				round(x2, 2),
				round(y2, 2),
			},
		})
	}
	return detections
}

// clampBoxes bounds every coordinate to the final image frame, whatever the
// engine produced.
func clampBoxes(detections []models.Detection, width, height float64) {
	for i := range detections {
		b := &detections[i].BBox
		b[0] = clamp(b[0], 0, width)
		b[1] = clamp(b[1], 0, height)
		b[2] = clamp(b[2], 0, width)
		b[3] = clamp(b[3], 0, height)
	}
}

func clamp(v, lo, hi float64) float64 {
	return math.Min(math.Max(v, lo), hi)
}

func round(v float64, places int) float64 {
	factor := math.Pow(10, float64(places))
	return math.Round(v*factor) / factor
}
