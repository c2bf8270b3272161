package ingest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/eventtide/pipeline/internal/catalog"
	"github.com/eventtide/pipeline/internal/storage"
	"github.com/eventtide/pipeline/internal/warehouse"
)

// Identifiers whose leading 8 hex characters pin their sample bucket.
const (
	uidBucket5  = "00000005aaaaaaaa" // all three tiers
	uidBucket40 = "00000028bbbbbbbb" // 50% and full tiers
	uidBucket99 = "00000063cccccccc" // full tier only
)

func activityLine(ts int64, uid string) string {
	return fmt.Sprintf("%d,Firefox,100,Windows,%s,login,sync,device-1\n", ts, uid)
}

func seedActivityStore(t *testing.T, files map[string]string) *catalog.Catalog {
	t.Helper()
	dir := t.TempDir()
	store, err := storage.NewLocalStorage(dir)
	if err != nil {
		t.Fatalf("NewLocalStorage: %v", err)
	}
	for name, content := range files {
		path := filepath.Join(dir, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return catalog.New(store)
}

func tableHasRows(t *testing.T, gw warehouse.Gateway, table string, want int) {
	t.Helper()
	ok, err := gw.Exists(context.Background(),
		fmt.Sprintf("SELECT 1 FROM (SELECT COUNT(*) AS c FROM %s) WHERE c = ?", table), want)
	if err != nil {
		t.Fatalf("counting %s: %v", table, err)
	}
	if !ok {
		t.Errorf("%s does not hold %d rows", table, want)
	}
}

// Loads two days of raw partitions through the full engine path into an
// in-memory warehouse and checks the resulting rows: per-tier sampling,
// smaller samples contained in larger ones, and identical contents
// after a day is reprocessed.
func TestRunLoadsAndSamplesPartitionData(t *testing.T) {
	ctx := context.Background()
	gw, err := warehouse.OpenMemory(ctx)
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	defer gw.Close()

	// 2024-03-01 carries all three buckets; 2024-03-02 carries none that
	// reach the 10% tier, so a resumed run reprocesses it.
	cat := seedActivityStore(t, map[string]string{
		"data/events-2024-03-01.csv": activityLine(1709254800, uidBucket5) +
			activityLine(1709258400, uidBucket40) +
			activityLine(1709262000, uidBucket99),
		"data/events-2024-03-02.csv": activityLine(1709341200, uidBucket40) +
			activityLine(1709344800, uidBucket99),
	})

	engine := NewEngine(gw, cat, DefaultTiers())
	job := ActivityJob("data/events")

	report, err := engine.Run(ctx, job, "", "")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(report.Days) != 2 {
		t.Fatalf("imported days = %v, want both partitions", report.Days)
	}

	tableHasRows(t, gw, "activity_events", 5)
	tableHasRows(t, gw, "activity_events_sampled_50", 3)
	tableHasRows(t, gw, "activity_events_sampled_10", 1)

	// Every row admitted to a smaller sample must appear in each larger
	// one.
	contained := [][2]string{
		{"activity_events_sampled_10", "activity_events_sampled_50"},
		{"activity_events_sampled_50", "activity_events"},
	}
	for _, pair := range contained {
		leaked, err := gw.Exists(ctx, fmt.Sprintf(
			"SELECT timestamp, uid FROM %s EXCEPT SELECT timestamp, uid FROM %s", pair[0], pair[1]))
		if err != nil {
			t.Fatalf("containment query %v: %v", pair, err)
		}
		if leaked {
			t.Errorf("%s holds rows missing from %s", pair[0], pair[1])
		}
	}

	// A resumed run sees 2024-03-02 as unpopulated (its smallest tier is
	// empty) and reloads it. Row counts must not change.
	report, err = engine.Run(ctx, job, "", "")
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if len(report.Days) != 1 || report.Days[0] != "2024-03-02" {
		t.Fatalf("second run imported %v, want just 2024-03-02", report.Days)
	}

	tableHasRows(t, gw, "activity_events", 5)
	tableHasRows(t, gw, "activity_events_sampled_50", 3)
	tableHasRows(t, gw, "activity_events_sampled_10", 1)

	has, err := gw.Exists(ctx,
		"SELECT 1 FROM activity_events WHERE uid = ? AND timestamp = epoch_ms(? * 1000)",
		uidBucket99, int64(1709344800))
	if err != nil {
		t.Fatalf("Exists: %v", err)
	}
	if !has {
		t.Error("reloaded day lost a row")
	}
}
