package export

import (
	"bufio"
	"context"
	"log"
	"strings"

	"github.com/eventtide/pipeline/internal/config"
	"github.com/eventtide/pipeline/internal/storage"
)

// Run streams every exported partition file in the inclusive
// [fromDay, toDay] range through the publisher. The fetcher stays at
// most two files ahead; publishing stops at the first fatal error.
func Run(ctx context.Context, store storage.ObjectStorage, cfg config.ExportConfig, apiKey, fromDay, toDay string) error {
	fetcher := NewFetcher(store, cfg.Prefix, cfg.SpoolDir)
	files, err := fetcher.Start(ctx, fromDay, toDay)
	if err != nil {
		return err
	}
	publisher := NewPublisher(ctx, cfg, apiKey)

	for sf := range files {
		if err := pushFile(ctx, publisher, sf); err != nil {
			publisher.Abort()
			drainFiles(files)
			return err
		}
	}
	if err := fetcher.Err(); err != nil {
		publisher.Abort()
		return err
	}
	log.Printf("finalizing uploads")
	return publisher.Close(ctx)
}

func pushFile(ctx context.Context, publisher *Publisher, sf *SpoolFile) error {
	defer sf.Remove()
	log.Printf("pushing events from %s", sf.Name)

	rc, err := sf.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	pushed := 0
	scanner := bufio.NewScanner(rc)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		ev, err := ParseLine(line)
		if err != nil {
			log.Printf("malformed line in %s: %v", sf.Name, err)
			continue
		}
		if err := publisher.Push(ctx, ev); err != nil {
			return err
		}
		pushed++
		if pushed%10000 == 0 {
			log.Printf("pushed %d events from %s", pushed, sf.Name)
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	log.Printf("pushed %d events from %s", pushed, sf.Name)
	return nil
}

// drainFiles discards remaining spool files so the fetcher goroutine
// can finish.
func drainFiles(files <-chan *SpoolFile) {
	for sf := range files {
		sf.Remove()
	}
}
