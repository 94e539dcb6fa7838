package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"image-editor/internal/api"
	"image-editor/internal/backend"
	"image-editor/internal/config"
	"image-editor/internal/events"
	"image-editor/internal/health"
	"image-editor/internal/uploaddb"

	"cloud.google.com/go/pubsub"
	"github.com/getkin/kin-openapi/openapi3"
	"github.com/go-chi/chi/v5"
	_ "github.com/go-sql-driver/mysql"
	middleware "github.com/oapi-codegen/chi-middleware"
)

func main() {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, nil)))

	cfg, err := config.Load(os.Getenv("EDITOR_CONFIG"))
	if err != nil {
		fatal("failed to load editor config", "err", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := backend.New(ctx, cfg, os.Getenv("UPLOAD_TOKEN"), slog.Default())
	if err != nil {
		fatal("failed to create upload backend", "err", err)
	}
	defer store.Close()

	checks := map[string]health.Checker{"storage": store.Ready}

	var db *sql.DB
	if dbDSN := os.Getenv("UPLOAD_DB_DSN"); dbDSN != "" {
		db, err = uploaddb.Open(dbDSN)
		if err != nil {
			fatal("failed to open upload db", "err", err)
		}
		defer db.Close()
		if err := uploaddb.Init(ctx, db); err != nil {
			fatal("failed to init upload db", "err", err)
		}
		checks["db"] = db.PingContext
	}

	var publisher events.Publisher = events.Discard{}
	if projectID, topicName := os.Getenv("GCP_PROJECT_ID"), os.Getenv("PUBSUB_TOPIC"); projectID != "" && topicName != "" {
		pubsubMode := os.Getenv("PUBSUB_MODE")
		if pubsubMode == "" {
			pubsubMode = "cloud"
		}
		pubsubClient, err := pubsub.NewClient(ctx, projectID)
		if err != nil {
			fatal("failed to create pubsub client", "err", err)
		}
		defer pubsubClient.Close()

		if pubsubMode == "emulator" {
			if err := events.EnsureTopicWithRetry(ctx, pubsubClient, topicName, 10, 500*time.Millisecond); err != nil {
				fatal("failed to ensure pubsub topic", "err", err)
			}
		}
		topic := pubsubClient.Topic(topicName)
		defer topic.Stop()
		publisher = events.NewPubSubPublisher(topic)
		checks["pubsub"] = func(ctx context.Context) error {
			_, err := topic.Exists(ctx)
			return err
		}
	}

	specPath := os.Getenv("OPENAPI_SPEC_PATH")
	if specPath == "" {
		specPath = "openapi.yaml"
	}
	swagger, err := loadOpenAPISpec(specPath)
	if err != nil {
		fatal("failed to load openapi spec", "err", err)
	}
	if err := swagger.Validate(ctx); err != nil {
		fatal("invalid openapi spec", "err", err)
	}

	server := api.NewServer(api.Options{
		Config:    cfg,
		Uploader:  store.Uploader,
		DB:        db,
		Publisher: publisher,
		Logger:    slog.Default(),
	})
	defer server.Close()
	if cfg.SessionTTL > 0 {
		go server.RunSweeper(ctx, cfg.SessionTTL, cfg.SessionTTL/2)
	}

	router := chi.NewRouter()
	health.Register(router, checks)

	apiRouter := chi.NewRouter()
	apiRouter.Use(middleware.OapiRequestValidator(swagger))
	api.HandlerFromMux(server, apiRouter)
	router.Mount("/", apiRouter)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	addr := ":" + port
	httpServer := &http.Server{Addr: addr, Handler: router, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	slog.Info("api listening", "addr", addr, "label", cfg.Label, "backend", cfg.Storage.Backend)
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		fatal("api server failed", "err", err)
	}
	slog.Info("api stopped")
}

func loadOpenAPISpec(path string) (*openapi3.T, error) {
	loader := openapi3.NewLoader()
	return loader.LoadFromFile(path)
}

func fatal(msg string, attrs ...any) {
	slog.Error(msg, attrs...)
	os.Exit(1)
}
