package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.uber.org/zap/zaptest"

	"yoloDetect/dto"
	"yoloDetect/models"
	"yoloDetect/pool"
	"yoloDetect/repository"
)

type mockDetectionService struct {
	detectFunc  func(ctx context.Context, traceID string, image io.Reader, req *dto.DetectRequest) (*models.DetectionRecord, error)
	resultFunc  func(ctx context.Context, taskID string) (*models.DetectionRecord, error)
	historyFunc func(ctx context.Context) ([]*models.DetectionRecord, error)
	deleteFunc  func(ctx context.Context, taskID string) error
}

func (m *mockDetectionService) Detect(ctx context.Context, traceID string, image io.Reader, req *dto.DetectRequest) (*models.DetectionRecord, error) {
	if m.detectFunc != nil {
		return m.detectFunc(ctx, traceID, image, req)
	}
	return completedRecord(uuid.New().String()), nil
}

func (m *mockDetectionService) Result(ctx context.Context, taskID string) (*models.DetectionRecord, error) {
	if m.resultFunc != nil {
		return m.resultFunc(ctx, taskID)
	}
	return completedRecord(taskID), nil
}

func (m *mockDetectionService) History(ctx context.Context) ([]*models.DetectionRecord, error) {
	if m.historyFunc != nil {
		return m.historyFunc(ctx)
	}
	return nil, nil
}

func (m *mockDetectionService) Delete(ctx context.Context, taskID string) error {
	if m.deleteFunc != nil {
		return m.deleteFunc(ctx, taskID)
	}
	return nil
}

func completedRecord(id string) *models.DetectionRecord {
	return &models.DetectionRecord{
		ID:         id,
		FileName:   id + "_dog.jpg",
		UploadTime: time.Now(),
		Width:      640,
		Height:     480,
		FileType:   "jpg",
		URL:        "/yolo/files/" + id + "_dog.jpg",
		Detections: []models.Detection{
			{Class: "dog", Confidence: 0.9, BBox: [4]float64{10.5, 20.25, 100, 200}},
		},
		Status: models.StatusCompleted,
	}
}

func newTestHandler(t *testing.T, service DetectionService, limiter *pool.Limiter) *YoloHandler {
	t.Helper()
	if limiter == nil {
		limiter = pool.NewLimiter(4)
	}
	return NewYoloHandler(service, limiter, 32<<20, "yolo11n.pt", 0.25, zaptest.NewLogger(t))
}

func newRouter(handler *YoloHandler) *mux.Router {
	router := mux.NewRouter()
	router.HandleFunc("/yolo/upload", handler.Upload).Methods(http.MethodPost)
	router.HandleFunc("/yolo/results/{id}", handler.Results).Methods(http.MethodGet)
	router.HandleFunc("/yolo/history", handler.History).Methods(http.MethodGet)
	router.HandleFunc("/yolo/history/{id}", handler.DeleteTask).Methods(http.MethodDelete)
	return router
}

func multipartUpload(t *testing.T, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	part, err := writer.CreateFormFile("image", "dog.jpg")
	if err != nil {
		t.Fatalf("Failed to create form file: %v", err)
	}
	content := make([]byte, 256)
	copy(content, []byte{0xFF, 0xD8, 0xFF, 0xE0})
	if _, err := part.Write(content); err != nil {
		t.Fatalf("Failed to write form file: %v", err)
	}

	for key, value := range fields {
		if err := writer.WriteField(key, value); err != nil {
			t.Fatalf("Failed to write field %s: %v", key, err)
		}
	}
	writer.Close()

	return body, writer.FormDataContentType()
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) dto.Envelope {
	t.Helper()
	var env dto.Envelope
	if err := json.NewDecoder(rec.Body).Decode(&env); err != nil {
		t.Fatalf("Failed to decode envelope: %v", err)
	}
	return env
}

func TestUpload_Success(t *testing.T) {
	var captured *dto.DetectRequest
	service := &mockDetectionService{
		detectFunc: func(ctx context.Context, traceID string, image io.Reader, req *dto.DetectRequest) (*models.DetectionRecord, error) {
			captured = req
			return completedRecord("abc123"), nil
		},
	}
	handler := newTestHandler(t, service, nil)

	body, contentType := multipartUpload(t, map[string]string{
		"conf":       "0.5",
		"model_name": "yolo11n.pt",
	})
	req := httptest.NewRequest(http.MethodPost, "/yolo/upload", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()

	newRouter(handler).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}

	env := decodeEnvelope(t, rec)
	if env.Code != 200 || env.Msg != "Upload & detection successful" {
		t.Errorf("Unexpected envelope: %+v", env)
	}

	data, ok := env.Data.(map[string]interface{})
	if !ok {
		t.Fatalf("Expected data object, got %T", env.Data)
	}
	if data["taskId"] != "abc123" {
		t.Errorf("Expected taskId abc123, got %v", data["taskId"])
	}
	if data["confidence"] != 0.5 {
		t.Errorf("Expected confidence 0.5, got %v", data["confidence"])
	}

	if captured == nil || captured.Confidence != 0.5 || captured.ModelName != "yolo11n.pt" {
		t.Errorf("Unexpected pipeline request: %+v", captured)
	}
}

func TestUpload_DefaultsApplied(t *testing.T) {
	var captured *dto.DetectRequest
	service := &mockDetectionService{
		detectFunc: func(ctx context.Context, traceID string, image io.Reader, req *dto.DetectRequest) (*models.DetectionRecord, error) {
			captured = req
			return completedRecord("abc123"), nil
		},
	}
	handler := newTestHandler(t, service, nil)

	body, contentType := multipartUpload(t, nil)
	req := httptest.NewRequest(http.MethodPost, "/yolo/upload", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()

	newRouter(handler).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rec.Code)
	}
	if captured.ModelName != "yolo11n.pt" {
		t.Errorf("Expected default model, got %s", captured.ModelName)
	}
	if captured.Confidence != 0.25 {
		t.Errorf("Expected default confidence 0.25, got %v", captured.Confidence)
	}
}

func TestUpload_NoImage(t *testing.T) {
	handler := newTestHandler(t, &mockDetectionService{}, nil)

	req := httptest.NewRequest(http.MethodPost, "/yolo/upload", strings.NewReader(""))
	req.Header.Set("Content-Type", "multipart/form-data")
	rec := httptest.NewRecorder()

	newRouter(handler).ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", rec.Code)
	}
}

func TestUpload_ModelNotFound(t *testing.T) {
	service := &mockDetectionService{
		detectFunc: func(ctx context.Context, traceID string, image io.Reader, req *dto.DetectRequest) (*models.DetectionRecord, error) {
			record := completedRecord("abc123")
			record.Status = models.StatusFailed
			record.Error = "Model file 'missing.pt' not found"
			return record, errors.New("Model file 'missing.pt' not found")
		},
	}
	handler := newTestHandler(t, service, nil)

	body, contentType := multipartUpload(t, map[string]string{"model_name": "missing.pt"})
	req := httptest.NewRequest(http.MethodPost, "/yolo/upload", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()

	newRouter(handler).ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("Expected status 500, got %d", rec.Code)
	}

	env := decodeEnvelope(t, rec)
	if env.Code != 500 || env.Msg != "Model file 'missing.pt' not found" {
		t.Errorf("Unexpected envelope: %+v", env)
	}
}

func TestUpload_RejectedWhenBusy(t *testing.T) {
	limiter := pool.NewLimiter(1)
	if !limiter.TryAcquire() {
		t.Fatal("Failed to fill the limiter")
	}

	handler := newTestHandler(t, &mockDetectionService{}, limiter)

	body, contentType := multipartUpload(t, nil)
	req := httptest.NewRequest(http.MethodPost, "/yolo/upload", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()

	newRouter(handler).ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected status 503, got %d", rec.Code)
	}
}

func TestResults_Success(t *testing.T) {
	handler := newTestHandler(t, &mockDetectionService{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/yolo/results/abc123", nil)
	req.Host = "localhost:5000"
	rec := httptest.NewRecorder()

	newRouter(handler).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rec.Code)
	}

	env := decodeEnvelope(t, rec)
	data, ok := env.Data.(map[string]interface{})
	if !ok {
		t.Fatalf("Expected data object, got %T", env.Data)
	}
	if data["taskId"] != "abc123" {
		t.Errorf("Expected taskId abc123, got %v", data["taskId"])
	}
	want := "http://localhost:5000/yolo/files/abc123_dog.jpg"
	if data["resultImage"] != want {
		t.Errorf("Expected resultImage %s, got %v", want, data["resultImage"])
	}
}

func TestResults_NotFound(t *testing.T) {
	service := &mockDetectionService{
		resultFunc: func(ctx context.Context, taskID string) (*models.DetectionRecord, error) {
			return nil, repository.ErrNotFound
		},
	}
	handler := newTestHandler(t, service, nil)

	req := httptest.NewRequest(http.MethodGet, "/yolo/results/unknown-id", nil)
	rec := httptest.NewRecorder()

	newRouter(handler).ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("Expected status 404, got %d", rec.Code)
	}

	env := decodeEnvelope(t, rec)
	if env.Code != 404 || env.Msg != "Task not found" {
		t.Errorf("Unexpected envelope: %+v", env)
	}
}

func TestResults_FailedRecord(t *testing.T) {
	service := &mockDetectionService{
		resultFunc: func(ctx context.Context, taskID string) (*models.DetectionRecord, error) {
			record := completedRecord(taskID)
			record.Status = models.StatusFailed
			record.Error = "inference failed"
			return record, nil
		},
	}
	handler := newTestHandler(t, service, nil)

	req := httptest.NewRequest(http.MethodGet, "/yolo/results/abc123", nil)
	rec := httptest.NewRecorder()

	newRouter(handler).ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("Expected status 202, got %d", rec.Code)
	}

	env := decodeEnvelope(t, rec)
	if env.Code != 202 || env.Msg != "Detection failed or incomplete" {
		t.Errorf("Unexpected envelope: %+v", env)
	}
}

func TestHistory_UploadTimeIsRFC3339UTC(t *testing.T) {
	service := &mockDetectionService{
		historyFunc: func(ctx context.Context) ([]*models.DetectionRecord, error) {
			record := completedRecord("abc123")
			loc := time.FixedZone("UTC+8", 8*3600)
			record.UploadTime = time.Date(2026, 3, 15, 18, 30, 45, 0, loc)
			return []*models.DetectionRecord{record}, nil
		},
	}
	handler := newTestHandler(t, service, nil)

	req := httptest.NewRequest(http.MethodGet, "/yolo/history", nil)
	rec := httptest.NewRecorder()

	newRouter(handler).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rec.Code)
	}

	env := decodeEnvelope(t, rec)
	items, ok := env.Data.([]interface{})
	if !ok || len(items) != 1 {
		t.Fatalf("Expected 1 record, got %v", env.Data)
	}

	record, ok := items[0].(map[string]interface{})
	if !ok {
		t.Fatalf("Expected record object, got %T", items[0])
	}
	if record["uploadTime"] != "2026-03-15T10:30:45Z" {
		t.Errorf("Expected upload time converted to UTC, got %v", record["uploadTime"])
	}
}

func TestHistory_ReturnsRecords(t *testing.T) {
	service := &mockDetectionService{
		historyFunc: func(ctx context.Context) ([]*models.DetectionRecord, error) {
			return []*models.DetectionRecord{
				completedRecord("newer"),
				completedRecord("older"),
			}, nil
		},
	}
	handler := newTestHandler(t, service, nil)

	req := httptest.NewRequest(http.MethodGet, "/yolo/history", nil)
	rec := httptest.NewRecorder()

	newRouter(handler).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rec.Code)
	}

	env := decodeEnvelope(t, rec)
	items, ok := env.Data.([]interface{})
	if !ok {
		t.Fatalf("Expected data array, got %T", env.Data)
	}
	if len(items) != 2 {
		t.Fatalf("Expected 2 records, got %d", len(items))
	}

	first, ok := items[0].(map[string]interface{})
	if !ok || first["taskId"] != "newer" {
		t.Errorf("Expected newest record first, got %v", items[0])
	}
}

func TestDeleteTask_Success(t *testing.T) {
	var deleted string
	service := &mockDetectionService{
		deleteFunc: func(ctx context.Context, taskID string) error {
			deleted = taskID
			return nil
		},
	}
	handler := newTestHandler(t, service, nil)

	req := httptest.NewRequest(http.MethodDelete, "/yolo/history/abc123", nil)
	rec := httptest.NewRecorder()

	newRouter(handler).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rec.Code)
	}
	if deleted != "abc123" {
		t.Errorf("Expected delete of abc123, got %q", deleted)
	}
}

func TestDeleteTask_NotFound(t *testing.T) {
	service := &mockDetectionService{
		deleteFunc: func(ctx context.Context, taskID string) error {
			return repository.ErrNotFound
		},
	}
	handler := newTestHandler(t, service, nil)

	req := httptest.NewRequest(http.MethodDelete, "/yolo/history/unknown-id", nil)
	rec := httptest.NewRecorder()

	newRouter(handler).ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("Expected status 404, got %d", rec.Code)
	}

	env := decodeEnvelope(t, rec)
	if env.Msg != "Task not found" {
		t.Errorf("Unexpected envelope: %+v", env)
	}
}
