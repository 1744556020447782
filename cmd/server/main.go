package main

import (
	"context"
	"net/http"
	"os"
	"strings"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"yoloDetect/artifact"
	"yoloDetect/cache"
	"yoloDetect/config"
	"yoloDetect/database"
	"yoloDetect/detector"
	"yoloDetect/handlers"
	"yoloDetect/kafka"
	"yoloDetect/middleware"
	"yoloDetect/pool"
	"yoloDetect/repository"
	"yoloDetect/service"
)

func main() {
	cfg := config.Load()

	var logger *zap.Logger
	if cfg.Env == "production" {
		logger, _ = zap.NewProduction()
	} else {
		logger, _ = zap.NewDevelopment()
	}
	defer logger.Sync()

	logger.Info("Detection service starting", zap.String("port", cfg.Port))

	for _, dir := range []string{cfg.UploadDir, cfg.ResultDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			logger.Fatal("Failed to create directory", zap.String("dir", dir), zap.Error(err))
		}
	}

	ctx := context.Background()

	store, cleanup, err := buildStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize store", zap.Error(err))
	}
	defer cleanup()

	modelCache := detector.NewCache(cfg.ModelDir, detector.LoadDNN(logger), logger)
	artifacts := artifact.NewManager(logger)

	var opts []service.Option

	if cfg.RedisAddr != "" {
		redisCache, err := database.ConnectCache(cfg.RedisAddr, cfg.RedisPoolSize, cfg.RedisMinIdleConns)
		if err != nil {
			logger.Fatal("Failed to connect to redis", zap.Error(err))
		}
		defer redisCache.Close()
		opts = append(opts, service.WithRecordCache(cache.NewRecordCache(redisCache)))
	}

	if cfg.KafkaBrokers != "" {
		producer, err := kafka.NewProducer(strings.Split(cfg.KafkaBrokers, ","))
		if err != nil {
			logger.Fatal("Failed to connect to kafka", zap.Error(err))
		}
		defer producer.Close()
		opts = append(opts, service.WithProducer(producer))
	}

	detectionService := service.NewDetectionService(
		store, modelCache, artifacts,
		cfg.UploadDir, cfg.ResultDir,
		logger, opts...,
	)

	limiter := pool.NewLimiter(cfg.MaxInFlight)
	handler := handlers.NewYoloHandler(
		detectionService, limiter,
		cfg.MaxFileSize, cfg.DefaultModel, cfg.DefaultConfidence,
		logger,
	)

	router := mux.NewRouter()
	router.HandleFunc("/yolo/upload", handler.Upload).Methods(http.MethodPost)
	router.HandleFunc("/yolo/results/{id}", handler.Results).Methods(http.MethodGet)
	router.HandleFunc("/yolo/history", handler.History).Methods(http.MethodGet)
	router.HandleFunc("/yolo/history/{id}", handler.DeleteTask).Methods(http.MethodDelete)
	router.PathPrefix("/yolo/files/").Handler(
		http.StripPrefix("/yolo/files/", http.FileServer(http.Dir(cfg.ResultDir))),
	).Methods(http.MethodGet)
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}).Methods(http.MethodGet)

	chain := middleware.TraceID(
		middleware.CORS(
			middleware.Logging(logger)(
				middleware.Recovery(logger)(router),
			),
		),
	)

	addr := ":" + cfg.Port
	logger.Info("Server started", zap.String("address", addr))
	if err := http.ListenAndServe(addr, chain); err != nil {
		logger.Fatal("Server stopped", zap.Error(err))
	}
}

func buildStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (repository.Store, func(), error) {
	if cfg.StoreBackend != "postgres" {
		logger.Info("Using in-memory task store")
		return repository.NewMemoryStore(), func() {}, nil
	}

	db, err := database.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}

	store := repository.NewPostgresStore(db)
	if err := store.Migrate(ctx); err != nil {
		db.Close()
		return nil, nil, err
	}

	logger.Info("Using postgres task store")
	return store, db.Close, nil
}
