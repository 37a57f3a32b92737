package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"

	"github.com/scripta-ai/platform/pkg/common/config"
	"github.com/scripta-ai/platform/pkg/common/database"
	"github.com/scripta-ai/platform/pkg/common/kafka"
	"github.com/scripta-ai/platform/pkg/common/logger"
	"github.com/scripta-ai/platform/pkg/common/middleware"
	"github.com/scripta-ai/platform/pkg/prescriptions"
)

func main() {
	logger.Init()
	cfg := config.Load()

	db, err := database.GetPostgres()
	if err != nil {
		logger.Log.WithError(err).Fatal("failed to connect to postgres")
	}

	repo := prescriptions.NewRepository(db)
	if err := repo.AutoMigrate(); err != nil {
		logger.Log.WithError(err).Fatal("failed to migrate prescription tables")
	}

	service := prescriptions.NewService(repo)
	handler := prescriptions.NewHandler(service)

	// The audit consumer mirrors extraction lifecycle events into the
	// prescription audit table.
	consumer := kafka.NewConsumer("prescription-audit", "prescription-service")
	consumerCtx, stopConsumer := context.WithCancel(context.Background())
	go func() {
		if err := consumer.Consume(consumerCtx, service.RecordEvent); err != nil && consumerCtx.Err() == nil {
			logger.Log.WithError(err).Error("audit consumer stopped")
		}
	}()

	router := mux.NewRouter()
	router.Use(middleware.Recovery)
	router.Use(middleware.Logging)
	router.Use(middleware.BodyLimit(cfg.MaxRequestBody))

	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	}).Methods(http.MethodGet)

	api := router.PathPrefix("/api/v1").Subrouter()
	handler.Register(api)

	address := fmt.Sprintf("%s:%s", cfg.ServerHost, cfg.PrescriptionServicePort)
	server := &http.Server{
		Addr:         address,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	go func() {
		logger.Log.WithField("addr", address).Info("Prescription service listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.WithError(err).Fatal("failed to start prescription service")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Log.Info("Shutting down prescription service...")
	stopConsumer()
	if err := consumer.Close(); err != nil {
		logger.Log.WithError(err).Error("failed to close audit consumer")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Log.WithError(err).Error("Prescription service forced to shutdown")
	}
	if err := database.ClosePostgres(); err != nil {
		logger.Log.WithError(err).Error("failed to close postgres")
	}
	logger.Log.Info("Prescription service stopped")
}
