// Package backend builds the configured upload collaborator.
package backend

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"cloud.google.com/go/storage"

	"image-editor/internal/config"
	"image-editor/internal/gcs"
	"image-editor/internal/gqlupload"
	"image-editor/internal/localstore"
	"image-editor/internal/uploader"
)

// Backend is a ready uploader plus the cleanup and readiness hooks it needs.
type Backend struct {
	Uploader uploader.Uploader
	Close    func() error
	Ready    func(ctx context.Context) error
}

// New builds the uploader for cfg.Storage wrapped in cfg.Retry. token is
// sent as the Authorization header by the graphql backend.
func New(ctx context.Context, cfg *config.Config, token string, logger *slog.Logger) (*Backend, error) {
	if logger == nil {
		logger = slog.Default()
	}
	b := &Backend{
		Close: func() error { return nil },
		Ready: func(context.Context) error { return nil },
	}

	var base uploader.Uploader
	switch cfg.Storage.Backend {
	case config.BackendGraphQL:
		base = gqlupload.NewClient(
			&http.Client{Timeout: cfg.Retry.Timeout + 5*time.Second},
			cfg.Storage.Endpoint,
			cfg.Storage.CDNOrigin,
			gqlupload.StaticToken(token),
		)
	case config.BackendGCS:
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to create storage client: %w", err)
		}
		bucket := client.Bucket(cfg.Storage.Bucket)
		base = gcs.NewUploader(client, cfg.Storage.Bucket, cfg.Storage.Prefix, cfg.Storage.MakePublic, cfg.Storage.AllowACLFailure)
		b.Close = client.Close
		b.Ready = func(ctx context.Context) error {
			_, err := bucket.Attrs(ctx)
			return err
		}
	case config.BackendLocal:
		base = localstore.NewUploader(cfg.Storage.Dir, cfg.Storage.BaseURL, cfg.Storage.Prefix)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}

	logger.Info("upload backend ready", "backend", cfg.Storage.Backend, "attempts", cfg.Retry.Attempts, "timeout", cfg.Retry.Timeout)
	b.Uploader = uploader.WithRetry(base, cfg.RetryPolicy(), logger)
	return b, nil
}
