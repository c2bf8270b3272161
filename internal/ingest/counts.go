package ingest

import (
	"context"
	"log"
	"sort"

	"github.com/eventtide/pipeline/internal/catalog"
	"github.com/eventtide/pipeline/internal/warehouse"
)

// The counts import is deliberately simpler than the event imports:
// each snapshot file holds one complete day, so days load independently
// with no surrounding transaction and no retention tiers. A crash
// mid-run leaves fully-loaded days behind and the next run picks up the
// rest. Days are processed newest first so the most recent numbers are
// available as early as possible.

// countsFloor is the first day with trustworthy snapshot files; older
// objects are ignored.
const countsFloor = "2017-05-30"

const (
	qDropCountsStaging = "DROP TABLE IF EXISTS temporary_raw_counts"

	qCreateCountsTable = `CREATE TABLE IF NOT EXISTS counts (
    day DATE NOT NULL UNIQUE,
    accounts BIGINT NOT NULL,
    verified_accounts BIGINT NOT NULL
)`

	qCreateCountsStaging = `CREATE TABLE IF NOT EXISTS temporary_raw_counts (
    day VARCHAR NOT NULL,
    accounts BIGINT NOT NULL,
    verified_accounts BIGINT NOT NULL
)`

	qCheckCountsDay = "SELECT day FROM counts WHERE day = CAST(? AS DATE) LIMIT 1"
	qClearCountsDay = "DELETE FROM counts WHERE day = CAST(? AS DATE)"

	qInsertCounts = `INSERT INTO counts (day, accounts, verified_accounts)
SELECT day::DATE, accounts, verified_accounts
FROM temporary_raw_counts`
)

var countsColumns = []string{"day", "accounts", "verified_accounts"}

// CountsImporter loads daily account-count snapshots into the counts
// table.
type CountsImporter struct {
	gw  warehouse.Gateway
	cat *catalog.Catalog
}

// NewCountsImporter creates a counts importer over the given gateway
// and source catalog.
func NewCountsImporter(gw warehouse.Gateway, cat *catalog.Catalog) *CountsImporter {
	return &CountsImporter{gw: gw, cat: cat}
}

// Run imports every missing day under prefix. With force set, every day
// is reloaded whether present or not.
func (c *CountsImporter) Run(ctx context.Context, prefix string, force bool) error {
	if err := c.gw.Execute(ctx, qDropCountsStaging); err != nil {
		return err
	}
	if err := c.gw.Execute(ctx, qCreateCountsTable); err != nil {
		return err
	}

	partitions, err := c.cat.ListPartitions(ctx, prefix)
	if err != nil {
		return err
	}

	var days []string
	for day := range partitions {
		if day < countsFloor {
			continue
		}
		if !force {
			loaded, err := c.gw.Exists(ctx, qCheckCountsDay, day)
			if err != nil {
				return err
			}
			if loaded {
				continue
			}
		}
		days = append(days, day)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(days)))
	log.Printf("found %d days of counts", len(days))

	for _, day := range days {
		log.Printf("importing counts for %s", day)
		if err := c.gw.Execute(ctx, qCreateCountsStaging); err != nil {
			return err
		}
		for _, uri := range partitions[day] {
			if err := c.gw.BulkLoadCSV(ctx, "temporary_raw_counts", countsColumns, uri); err != nil {
				return err
			}
		}
		if err := c.gw.Execute(ctx, qClearCountsDay, day); err != nil {
			return err
		}
		if err := c.gw.Execute(ctx, qInsertCounts); err != nil {
			return err
		}
		if err := c.gw.Execute(ctx, qDropCountsStaging); err != nil {
			return err
		}
	}

	if err := c.gw.Compact(ctx, "counts"); err != nil {
		log.Printf("compaction failed for counts: %v", err)
	}
	return nil
}
