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

	"github.com/scripta-ai/platform/pkg/catalog"
	"github.com/scripta-ai/platform/pkg/common/config"
	"github.com/scripta-ai/platform/pkg/common/database"
	"github.com/scripta-ai/platform/pkg/common/httpclient"
	"github.com/scripta-ai/platform/pkg/common/kafka"
	"github.com/scripta-ai/platform/pkg/common/logger"
	"github.com/scripta-ai/platform/pkg/common/middleware"
	"github.com/scripta-ai/platform/pkg/common/models"
	"github.com/scripta-ai/platform/pkg/embedding"
	"github.com/scripta-ai/platform/pkg/extraction"
	"github.com/scripta-ai/platform/pkg/imaging"
	"github.com/scripta-ai/platform/pkg/matching"
	"github.com/scripta-ai/platform/pkg/observability/metrics"
	"github.com/scripta-ai/platform/pkg/persistence"
	"github.com/scripta-ai/platform/pkg/pipeline"
)

func main() {
	logger.Init()
	cfg := config.Load()

	// Catalogs are startup-fatal: the service must not accept work it
	// cannot map.
	testCatalog, err := catalog.Load(cfg.TestCatalogPath, catalog.TestCatalogColumns)
	if err != nil {
		logger.Log.WithError(err).Fatal("failed to load test catalog")
	}
	referrerCatalog, err := catalog.Load(cfg.ReferrerCatalogPath, catalog.ReferrerCatalogColumns)
	if err != nil {
		logger.Log.WithError(err).Fatal("failed to load referrer catalog")
	}
	logger.Log.WithFields(map[string]interface{}{
		"tests":     testCatalog.Len(),
		"referrers": referrerCatalog.Len(),
		"dimension": testCatalog.Dimension(),
	}).Info("Catalogs loaded")

	prompt, err := extraction.LoadPrompt(cfg.PromptTemplatePath)
	if err != nil {
		logger.Log.WithError(err).Fatal("failed to load prompt template")
	}

	embedder := embedding.NewClient(cfg.EmbeddingAPIKey, cfg.EmbeddingBaseURL, cfg.EmbeddingModel, cfg.EmbeddingTimeout)
	probeCtx, probeCancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := httpclient.Retry(probeCtx, 3, 500*time.Millisecond, func() error {
		return embedder.Ping(probeCtx)
	}); err != nil {
		logger.Log.WithError(err).Warn("embedding provider unreachable at startup")
	}
	probeCancel()

	provider := extraction.NewClient(cfg.ExtractionAPIKey, cfg.ExtractionBaseURL, cfg.ExtractionModel, prompt, cfg.ExtractionTimeout)
	persister := persistence.NewClient(cfg.PrescriptionBaseURL, cfg.PrescriptionTimeout, persistence.Credentials{
		ClientID:     cfg.PrescriptionClientID,
		ClientSecret: cfg.PrescriptionClientSecret,
		TokenURL:     cfg.PrescriptionTokenURL,
	})

	runs := pipeline.New(pipeline.Options{
		Resolver:        imaging.NewResolver(httpclient.New(cfg.ImageFetchTimeout)),
		Provider:        provider,
		Matcher:         matching.NewMatcher(embedder, cfg.SimilarityThreshold),
		TestCatalog:     testCatalog,
		ReferrerCatalog: referrerCatalog,
		Persister:       persister,
		MaxImageBytes:   int(cfg.MaxImageSizeMB * 1024 * 1024),
		ArtifactDir:     cfg.ArtifactDir,
		CreatedBy:       models.CreatedBy{UserID: cfg.ActorUserID, CRNID: cfg.ActorCRNID},
		MaxConcurrent:   cfg.MaxConcurrentExtract,
	})

	statusStore := pipeline.NewStatusStore(database.GetRedis(), cfg.StatusTTL)
	producer := kafka.NewProducer("prescription-audit")
	defer producer.Close()

	handler := pipeline.NewHandler(runs, statusStore, producer)

	router := mux.NewRouter()
	router.Use(middleware.Recovery)
	router.Use(middleware.Logging)
	router.Use(middleware.CORS)
	router.Use(middleware.RateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst))
	router.Use(middleware.BodyLimit(cfg.MaxRequestBody))

	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	}).Methods(http.MethodGet)
	router.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
		metrics.WritePrometheus(w)
	}).Methods(http.MethodGet)

	api := router.PathPrefix("/api/v1").Subrouter()
	handler.Register(api)

	address := fmt.Sprintf("%s:%s", cfg.ServerHost, cfg.ServerPort)
	server := &http.Server{
		Addr:         address,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	go func() {
		logger.Log.WithField("addr", address).Info("Extraction service listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.WithError(err).Fatal("failed to start extraction service")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Log.Info("Shutting down extraction service...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Log.WithError(err).Error("Extraction service forced to shutdown")
	}
	logger.Log.Info("Extraction service stopped")
}
