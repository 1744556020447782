package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"yoloDetect/dto"
	"yoloDetect/middleware"
	"yoloDetect/models"
	"yoloDetect/pool"
	"yoloDetect/repository"
	"yoloDetect/validation"
)

// DetectionService is what the handlers need from the pipeline.
type DetectionService interface {
	Detect(ctx context.Context, traceID string, image io.Reader, req *dto.DetectRequest) (*models.DetectionRecord, error)
	Result(ctx context.Context, taskID string) (*models.DetectionRecord, error)
	History(ctx context.Context) ([]*models.DetectionRecord, error)
	Delete(ctx context.Context, taskID string) error
}

type YoloHandler struct {
	service           DetectionService
	limiter           *pool.Limiter
	maxFileSize       int64
	defaultModel      string
	defaultConfidence float64
	logger            *zap.Logger
}

func NewYoloHandler(service DetectionService, limiter *pool.Limiter, maxFileSize int64, defaultModel string, defaultConfidence float64, logger *zap.Logger) *YoloHandler {
	return &YoloHandler{
		service:           service,
		limiter:           limiter,
		maxFileSize:       maxFileSize,
		defaultModel:      defaultModel,
		defaultConfidence: defaultConfidence,
		logger:            logger,
	}
}

// Upload handles POST /yolo/upload. Detection runs synchronously: the taskId
// in the response is already resolved when the client reads it.
func (h *YoloHandler) Upload(w http.ResponseWriter, r *http.Request) {
	traceID := middleware.GetTraceID(r.Context())

	if !h.limiter.TryAcquire() {
		h.respond(w, http.StatusServiceUnavailable, dto.Envelope{
			Code: http.StatusServiceUnavailable,
			Msg:  "Too many detections in flight",
		})
		return
	}
	defer h.limiter.Release()

	if err := r.ParseMultipartForm(h.maxFileSize); err != nil {
		h.handleError(w, "Failed to parse form", err, traceID, http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("image")
	if err != nil {
		h.handleError(w, "No image uploaded", err, traceID, http.StatusBadRequest)
		return
	}
	defer file.Close()

	if err := validation.ValidateUpload(header, file, h.maxFileSize); err != nil {
		h.handleError(w, "Invalid image", err, traceID, http.StatusBadRequest)
		return
	}

	confidence := h.defaultConfidence
	if raw := r.FormValue("conf"); raw != "" {
		parsed, err := strconv.ParseFloat(raw, 64)
		if err != nil || parsed < 0 || parsed > 1 {
			h.handleError(w, "Invalid confidence threshold", err, traceID, http.StatusBadRequest)
			return
		}
		confidence = parsed
	}

	modelName := r.FormValue("model_name")
	if modelName == "" {
		modelName = h.defaultModel
	}

	req := &dto.DetectRequest{
		FileName:   header.Filename,
		ModelName:  modelName,
		Confidence: confidence,
	}

	record, err := h.service.Detect(r.Context(), traceID, file, req)
	if err != nil {
		msg := "Detection failed"
		if record != nil {
			// Pipeline failures carry a user-facing message; the failed
			// record is already stored for history.
			msg = record.Error
		}
		h.handleError(w, msg, err, traceID, http.StatusInternalServerError)
		return
	}

	h.logger.Info("Upload processed",
		zap.String("trace_id", traceID),
		zap.String("task_id", record.ID),
		zap.String("filename", header.Filename),
	)

	h.respond(w, http.StatusOK, dto.Envelope{
		Code: http.StatusOK,
		Msg:  "Upload & detection successful",
		Data: dto.UploadData{
			TaskID:     record.ID,
			Model:      modelName,
			Confidence: confidence,
		},
	})
}

// Results handles GET /yolo/results/{id}.
func (h *YoloHandler) Results(w http.ResponseWriter, r *http.Request) {
	taskID := mux.Vars(r)["id"]

	record, err := h.service.Result(r.Context(), taskID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			h.respond(w, http.StatusNotFound, dto.Envelope{
				Code: http.StatusNotFound,
				Msg:  "Task not found",
			})
			return
		}
		h.handleError(w, "Failed to read task", err, middleware.GetTraceID(r.Context()), http.StatusInternalServerError)
		return
	}

	if record.Status != models.StatusCompleted {
		h.respond(w, http.StatusAccepted, dto.Envelope{
			Code: http.StatusAccepted,
			Msg:  "Detection failed or incomplete",
		})
		return
	}

	h.respond(w, http.StatusOK, dto.Envelope{
		Code: http.StatusOK,
		Msg:  "Success",
		Data: dto.ResultData{
			TaskID:      record.ID,
			Results:     record.Detections,
			ResultImage: absoluteURL(r, record.URL),
		},
	})
}

// History handles GET /yolo/history.
func (h *YoloHandler) History(w http.ResponseWriter, r *http.Request) {
	records, err := h.service.History(r.Context())
	if err != nil {
		h.handleError(w, "Failed to list tasks", err, middleware.GetTraceID(r.Context()), http.StatusInternalServerError)
		return
	}

	responses := make([]dto.RecordResponse, 0, len(records))
	for _, record := range records {
		responses = append(responses, toRecordResponse(record))
	}

	h.respond(w, http.StatusOK, dto.Envelope{
		Code: http.StatusOK,
		Msg:  "Success",
		Data: responses,
	})
}

// DeleteTask handles DELETE /yolo/history/{id}.
func (h *YoloHandler) DeleteTask(w http.ResponseWriter, r *http.Request) {
	taskID := mux.Vars(r)["id"]
	traceID := middleware.GetTraceID(r.Context())

	if err := h.service.Delete(r.Context(), taskID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			h.respond(w, http.StatusNotFound, dto.Envelope{
				Code: http.StatusNotFound,
				Msg:  "Task not found",
			})
			return
		}
		h.handleError(w, "Failed to delete task", err, traceID, http.StatusInternalServerError)
		return
	}

	h.logger.Info("Task deleted",
		zap.String("trace_id", traceID),
		zap.String("task_id", taskID),
	)

	h.respond(w, http.StatusOK, dto.Envelope{
		Code: http.StatusOK,
		Msg:  "Success",
	})
}

func toRecordResponse(record *models.DetectionRecord) dto.RecordResponse {
	return dto.RecordResponse{
		TaskID:     record.ID,
		FileName:   record.FileName,
		UploadTime: record.UploadTime.UTC().Format(time.RFC3339),
		Width:      record.Width,
		Height:     record.Height,
		FileType:   record.FileType,
		URL:        record.URL,
		Detections: record.Detections,
		Status:     string(record.Status),
		Error:      record.Error,
	}
}

func absoluteURL(r *http.Request, path string) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + r.Host + path
}

func (h *YoloHandler) handleError(w http.ResponseWriter, message string, err error, traceID string, status int) {
	h.logger.Error(message,
		zap.String("trace_id", traceID),
		zap.Error(err),
	)

	h.respond(w, status, dto.Envelope{
		Code: status,
		Msg:  message,
	})
}

func (h *YoloHandler) respond(w http.ResponseWriter, status int, env dto.Envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(env)
}
