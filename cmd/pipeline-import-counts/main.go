// Package main implements the daily account-counts import job.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/eventtide/pipeline/internal/catalog"
	"github.com/eventtide/pipeline/internal/config"
	"github.com/eventtide/pipeline/internal/ingest"
	"github.com/eventtide/pipeline/internal/storage"
	"github.com/eventtide/pipeline/internal/warehouse"
)

func main() {
	args := os.Args[1:]
	force := false
	switch {
	case len(args) == 0:
	case len(args) == 1 && args[0] == "force":
		force = true
	default:
		log.Fatalf("usage: pipeline-import-counts [force]")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := warehouse.Open(ctx, cfg.Warehouse, cfg.AWS)
	if err != nil {
		log.Fatalf("opening warehouse: %v", err)
	}
	defer db.Close()

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

	importer := ingest.NewCountsImporter(db, catalog.New(store))
	if err := importer.Run(ctx, cfg.Import.CountsPrefix, force); err != nil {
		log.Fatalf("importing counts: %v", err)
	}
}
