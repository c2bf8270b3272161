// Package main implements the flow event import job, including the
// per-tier flow metadata and experiments tables.
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
	if len(args) > 2 {
		log.Fatalf("usage: pipeline-import-flow [from_day [to_day]]")
	}
	var fromDay, toDay string
	if len(args) >= 1 {
		fromDay = args[0]
	}
	if len(args) == 2 {
		toDay = args[1]
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

	tiers := ingest.DefaultTiers()
	job := ingest.FlowJob(cfg.Import.FlowPrefix, cfg.Import.LegacyContextCutoff, tiers)
	engine := ingest.NewEngine(db, catalog.New(store), tiers)
	report, err := engine.Run(ctx, job, fromDay, toDay)
	if err != nil {
		log.Fatalf("importing flow events: %v", err)
	}
	log.Printf("imported %d days of flow events", len(report.Days))
}
