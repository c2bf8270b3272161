// Package main implements the vendor export publisher: it streams
// exported event files from object storage and posts them to the
// vendor analytics endpoint.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/eventtide/pipeline/internal/config"
	"github.com/eventtide/pipeline/internal/export"
	"github.com/eventtide/pipeline/internal/storage"
)

func main() {
	args := os.Args[1:]
	if len(args) != 3 {
		log.Fatalf("usage: pipeline-vendor-export api_key from_day to_day")
	}
	apiKey, fromDay, toDay := args[0], args[1], args[2]

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := storage.NewS3Storage(ctx, cfg.Storage.Bucket, storage.S3Config{
		Region:          cfg.AWS.Region,
		Endpoint:        cfg.Storage.Endpoint,
		UsePathStyle:    cfg.Storage.UsePathStyle,
		AccessKeyID:     cfg.AWS.AccessKeyID,
		SecretAccessKey: cfg.AWS.SecretAccessKey,
	})
	if err != nil {
		log.Fatalf("opening object storage: %v", err)
	}

	if err := export.Run(ctx, store, cfg.Export, apiKey, fromDay, toDay); err != nil {
		log.Fatalf("exporting events: %v", err)
	}
}
