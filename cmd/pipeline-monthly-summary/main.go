// Package main implements the monthly activity summary job.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/eventtide/pipeline/internal/config"
	"github.com/eventtide/pipeline/internal/rollup"
	"github.com/eventtide/pipeline/internal/warehouse"
)

func main() {
	args := os.Args[1:]
	if len(args) > 2 {
		log.Fatalf("usage: pipeline-monthly-summary [from_day [to_day]]")
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

	if err := rollup.NewMonthlySummarizer(db).Run(ctx, fromDay, toDay); err != nil {
		log.Fatalf("summarizing monthly activity: %v", err)
	}
}
