// Package ingest implements the incremental, idempotent day-partitioned
// import of raw event data into the warehouse's retention tiers.
//
// Each run discovers which days are not yet loaded, stages their raw
// rows, fans each day out into every tier's permanent table, applies the
// job's enrichment hooks, and finally expires rows older than each
// tier's retention window. The whole run executes inside one warehouse
// transaction: a failure at any point rolls back every write, so a
// re-invocation starts from clean state. Reprocessing a day is always
// safe because its permanent rows are cleared before reload.
package ingest

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/google/uuid"

	"github.com/eventtide/pipeline/internal/catalog"
	"github.com/eventtide/pipeline/internal/daykey"
	"github.com/eventtide/pipeline/internal/errors"
	"github.com/eventtide/pipeline/internal/warehouse"
)

const (
	qDropStaging   = "DROP TABLE IF EXISTS %s"
	qCreateStaging = "CREATE TABLE IF NOT EXISTS %s (timestamp BIGINT NOT NULL, %s)"
	qCreateEvents  = "CREATE TABLE IF NOT EXISTS %s (timestamp TIMESTAMP NOT NULL, %s)"
	qMaxDay        = "SELECT MAX(timestamp)::DATE FROM %s"
	qCheckDay      = "SELECT timestamp FROM %s WHERE timestamp::DATE = CAST(? AS DATE) LIMIT 1"
	qClearDay      = "DELETE FROM %s WHERE timestamp::DATE = CAST(? AS DATE)"

	// The sampling expression interprets the first 8 hex characters of
	// the identifier column as an integer, bucketed mod 100. It must
	// stay equivalent to daykey.BucketOf: downstream consumers re-derive
	// the same buckets in Go when re-sampling exported rows.
	qInsertEvents = `INSERT INTO %[1]s (timestamp, %[2]s)
SELECT ts, %[2]s
FROM (
    SELECT *,
        epoch_ms(timestamp * 1000) AS ts,
        COALESCE(TRY_CAST('0x' || substr(%[3]s, 1, 8) AS BIGINT) %% 100, 0) AS sample_bucket
    FROM %[4]s
)
WHERE sample_bucket <= ?
AND ts::DATE >= CAST(? AS DATE) - ? * INTERVAL 1 MONTH`

	qStagingBound = "SELECT epoch_ms(%s(timestamp) * 1000) FROM %s"

	// Strictly-less comparison keeps rows exactly at the retention
	// boundary.
	qExpireEvents = "DELETE FROM %s WHERE timestamp::DATE < CAST(? AS DATE) - ? * INTERVAL 1 MONTH"
)

// Engine orchestrates partition ingestion for one job at a time.
type Engine struct {
	gw    warehouse.Gateway
	cat   *catalog.Catalog
	tiers TierSet
}

// NewEngine creates an ingestion engine over the given gateway, source
// catalog, and tier set.
func NewEngine(gw warehouse.Gateway, cat *catalog.Catalog, tiers TierSet) *Engine {
	return &Engine{gw: gw, cat: cat, tiers: tiers}
}

// Report summarizes one completed run.
type Report struct {
	RunID string

	// Days lists the partitions ingested, ascending.
	Days []string

	// ReferenceDay is the watermark every tier's expiry was computed
	// against. Empty when the run was a no-op.
	ReferenceDay string
}

// Run ingests every unpopulated partition of the job's source inside
// [fromDay, toDay]. Empty bounds mean "resume from the latest populated
// day" and "through the newest available partition" respectively.
func (e *Engine) Run(ctx context.Context, job Job, fromDay, toDay string) (*Report, error) {
	for _, day := range []string{fromDay, toDay} {
		if day != "" {
			if _, err := daykey.Parse(day); err != nil {
				return nil, err
			}
		}
	}
	explicitRange := fromDay != "" || toDay != ""

	report := &Report{RunID: uuid.NewString()}
	staging := StagingTable(job.EventType)
	log.Printf("run %s: importing %s events from %s", report.RunID, job.EventType, job.SourcePrefix)

	// Table preparation must precede any writes.
	if err := e.gw.Execute(ctx, fmt.Sprintf(qDropStaging, staging)); err != nil {
		return nil, err
	}
	for _, tier := range e.tiers {
		table := EventTable(job.EventType, tier.TableSuffix)
		if err := e.gw.Execute(ctx, fmt.Sprintf(qCreateEvents, table, job.PermSchema)); err != nil {
			return nil, err
		}
	}
	if job.Hooks.BeforeImport != nil {
		if err := job.Hooks.BeforeImport(ctx, e.gw, e.tiers); err != nil {
			return nil, err
		}
	}

	// Resume from the latest already-populated day when no explicit
	// lower bound was given. The populated-day check below keeps the
	// boundary day itself from being re-touched.
	fullTable := EventTable(job.EventType, e.tiers.Full().TableSuffix)
	maxExtant, hasExtant, err := e.gw.ScalarDay(ctx, fmt.Sprintf(qMaxDay, fullTable))
	if err != nil {
		return nil, err
	}
	if fromDay == "" && hasExtant {
		fromDay = maxExtant
	}

	checkQuery := fmt.Sprintf(qCheckDay, EventTable(job.EventType, e.tiers.Smallest().TableSuffix))
	populated := func(ctx context.Context, day string) (bool, error) {
		return e.gw.Exists(ctx, checkQuery, day)
	}

	partitions, err := e.cat.ListPartitions(ctx, job.SourcePrefix)
	if err != nil {
		return nil, err
	}
	days, err := catalog.FilterUnpopulated(ctx, partitions, populated, fromDay, toDay)
	if err != nil {
		return nil, err
	}

	if len(days) == 0 {
		if explicitRange && !anyPartitionInRange(partitions, fromDay, toDay) {
			return nil, errors.NewIntegrityError(errors.CodeNoSourceData,
				fmt.Sprintf("no %s partitions available in requested range", job.EventType))
		}
		log.Printf("run %s: no unpopulated days, nothing to import", report.RunID)
		return report, nil
	}

	// The expiry watermark is fixed once per run so a multi-day
	// backfill expires every tier against the same day.
	referenceDay := days[len(days)-1]
	if hasExtant && maxExtant > referenceDay {
		referenceDay = maxExtant
	}
	report.ReferenceDay = referenceDay

	log.Printf("run %s: importing %d days of data, reference day %s", report.RunID, len(days), referenceDay)

	err = e.gw.InTransaction(ctx, func(tx warehouse.Gateway) error {
		for _, day := range days {
			if err := e.importDay(ctx, tx, job, staging, day, partitions[day], referenceDay); err != nil {
				return err
			}
		}
		for _, tier := range e.tiers {
			table := EventTable(job.EventType, tier.TableSuffix)
			log.Printf("run %s: expiring %s older than %s - %d months", report.RunID, table, referenceDay, tier.RetentionMonths)
			if err := tx.Execute(ctx, fmt.Sprintf(qExpireEvents, table), referenceDay, tier.RetentionMonths); err != nil {
				return err
			}
		}
		if job.Hooks.AfterImport != nil {
			if err := job.Hooks.AfterImport(ctx, tx, e.tiers, referenceDay); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	report.Days = days

	// Compaction is an optimization over already-committed data; the
	// warehouse does not permit it inside the transaction, and a
	// failure on one table must not abort the others.
	var compactTables []string
	for _, tier := range e.tiers {
		compactTables = append(compactTables, EventTable(job.EventType, tier.TableSuffix))
	}
	compactTables = append(compactTables, job.Hooks.CompactTables...)
	for _, table := range compactTables {
		if err := e.gw.Compact(ctx, table); err != nil {
			log.Printf("run %s: compaction failed for %s: %v", report.RunID, table, err)
		} else {
			log.Printf("run %s: compacted %s", report.RunID, table)
		}
	}

	return report, nil
}

// importDay stages one day's raw rows, clears and repopulates every
// tier for that day, and runs the job's per-day enrichment hook while
// the staging rows are still available.
func (e *Engine) importDay(ctx context.Context, tx warehouse.Gateway, job Job, staging, day string, uris []string, referenceDay string) error {
	log.Printf("importing %s", day)

	if err := tx.Execute(ctx, fmt.Sprintf(qCreateStaging, staging, job.StagingSchema)); err != nil {
		return err
	}

	// Clearing before reload is what makes reprocessing idempotent: a
	// day's old rows must never coexist with its new rows.
	for _, tier := range e.tiers {
		table := EventTable(job.EventType, tier.TableSuffix)
		if err := tx.Execute(ctx, fmt.Sprintf(qClearDay, table), day); err != nil {
			return err
		}
	}

	columns := append([]string{"timestamp"}, job.StagingColumns...)
	for _, uri := range uris {
		if err := tx.BulkLoadCSV(ctx, staging, columns, uri); err != nil {
			return err
		}
	}

	for _, tier := range e.tiers {
		table := EventTable(job.EventType, tier.TableSuffix)
		stmt := fmt.Sprintf(qInsertEvents, table, strings.Join(job.PermColumns, ", "), job.IDColumn, staging)
		if err := tx.Execute(ctx, stmt, tier.SamplePercent, referenceDay, tier.RetentionMonths); err != nil {
			return err
		}
	}

	for _, which := range []string{"MIN", "MAX"} {
		bound, ok, err := tx.ScalarTime(ctx, fmt.Sprintf(qStagingBound, which, staging))
		if err != nil {
			return err
		}
		if ok {
			log.Printf("  %s timestamp %s", which, bound.UTC().Format("2006-01-02 15:04:05"))
		}
	}

	if job.Hooks.AfterDay != nil {
		if err := job.Hooks.AfterDay(ctx, tx, day, staging, e.tiers); err != nil {
			return err
		}
	}

	return tx.Execute(ctx, fmt.Sprintf(qDropStaging, staging))
}

func anyPartitionInRange(partitions map[string][]string, from, to string) bool {
	for day := range partitions {
		if from != "" && day < from {
			continue
		}
		if to != "" && day > to {
			continue
		}
		return true
	}
	return false
}
