package ingest

import (
	"context"

	"github.com/eventtide/pipeline/internal/warehouse"
)

// Job describes one event family's import: where its raw partitions
// live, how the staging and permanent schemas look, and the optional
// hooks that derive aggregate tables alongside the event rows.
type Job struct {
	// SourcePrefix is the object-storage prefix holding the raw
	// partition files, named <prefix>-<YYYY>-<MM>-<DD>.csv.
	SourcePrefix string

	// EventType names the event family and its tables, e.g. "activity"
	// produces activity_events, activity_events_sampled_50, ...
	EventType string

	// StagingSchema is the staging column DDL following the leading
	// "timestamp BIGINT NOT NULL" column.
	StagingSchema string

	// StagingColumns are the staging column names in raw CSV order,
	// excluding the leading timestamp.
	StagingColumns []string

	// PermSchema is the permanent column DDL following the leading
	// "timestamp TIMESTAMP NOT NULL" column.
	PermSchema string

	// PermColumns are the permanent columns populated from staging,
	// excluding the leading timestamp.
	PermColumns []string

	// IDColumn is the identifier column whose hash bucket drives tier
	// sampling. Must match whatever any downstream consumer re-samples
	// on, or sample sets diverge across systems.
	IDColumn string

	// Hooks customize the run for event families with derived tables.
	Hooks Hooks
}

// Hooks are the extension points the flow import uses to maintain its
// metadata and experiments tables. All hooks run inside the run's
// transaction; a hook error aborts the whole run.
type Hooks struct {
	// BeforeImport runs before discovery, outside the transaction, to
	// create auxiliary tables.
	BeforeImport func(ctx context.Context, gw warehouse.Gateway, tiers TierSet) error

	// AfterDay runs after a day's rows have been inserted into every
	// tier, while the staging table still holds that day's raw rows.
	AfterDay func(ctx context.Context, tx warehouse.Gateway, day, stagingTable string, tiers TierSet) error

	// AfterImport runs after all days are ingested, before commit, with
	// the run's reference day. Used to expire auxiliary tables.
	AfterImport func(ctx context.Context, tx warehouse.Gateway, tiers TierSet, referenceDay string) error

	// CompactTables lists auxiliary tables to compact after commit.
	CompactTables []string
}
