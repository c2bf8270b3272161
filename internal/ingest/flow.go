package ingest

import (
	"context"
	"fmt"

	"github.com/eventtide/pipeline/internal/warehouse"
)

// Flow events trace a user journey through login and registration. On
// top of the plain event rows, each day's import maintains two derived
// tables per tier: flow_metadata, one row per flow keyed by its begin
// event, and flow_experiments, one row per experiment enrolment. The
// lifecycle marker events (begin, continuation, experiment) are folded
// into the derived tables and then deleted from the event rows.

// Raw flow CSVs carry the full metrics context; the permanent event
// rows keep only the per-event columns, the rest lives on the flow's
// metadata row.
const flowStagingSchema = `type VARCHAR NOT NULL,
    flow_id VARCHAR NOT NULL,
    flow_time BIGINT NOT NULL,
    ua_browser VARCHAR,
    ua_version VARCHAR,
    ua_os VARCHAR,
    context VARCHAR,
    entrypoint VARCHAR,
    migration VARCHAR,
    service VARCHAR,
    utm_campaign VARCHAR,
    utm_content VARCHAR,
    utm_medium VARCHAR,
    utm_source VARCHAR,
    utm_term VARCHAR,
    locale VARCHAR,
    uid VARCHAR,
    country VARCHAR,
    region VARCHAR`

var flowStagingColumns = []string{
	"type", "flow_id", "flow_time",
	"ua_browser", "ua_version", "ua_os",
	"context", "entrypoint", "migration", "service",
	"utm_campaign", "utm_content", "utm_medium", "utm_source", "utm_term",
	"locale", "uid", "country", "region",
}

const flowEventSchema = `type VARCHAR NOT NULL,
    flow_id VARCHAR NOT NULL,
    flow_time BIGINT NOT NULL,
    locale VARCHAR,
    uid VARCHAR,
    country VARCHAR,
    region VARCHAR`

var flowEventColumns = []string{
	"type", "flow_id", "flow_time", "locale", "uid", "country", "region",
}

const (
	qCreateFlowMetadata = `CREATE TABLE IF NOT EXISTS flow_metadata%s (
    flow_id VARCHAR NOT NULL UNIQUE,
    begin_time TIMESTAMP NOT NULL,
    duration BIGINT NOT NULL DEFAULT 0,
    completed BOOLEAN NOT NULL DEFAULT FALSE,
    new_account BOOLEAN NOT NULL DEFAULT FALSE,
    ua_browser VARCHAR,
    ua_version VARCHAR,
    ua_os VARCHAR,
    context VARCHAR,
    entrypoint VARCHAR,
    migration VARCHAR,
    service VARCHAR,
    utm_campaign VARCHAR,
    utm_content VARCHAR,
    utm_medium VARCHAR,
    utm_source VARCHAR,
    utm_term VARCHAR,
    export_date DATE NOT NULL,
    locale VARCHAR,
    uid VARCHAR,
    continued_from VARCHAR
)`

	qCreateFlowExperiments = `CREATE TABLE IF NOT EXISTS flow_experiments%s (
    experiment VARCHAR NOT NULL,
    cohort VARCHAR NOT NULL,
    timestamp TIMESTAMP NOT NULL,
    flow_id VARCHAR NOT NULL,
    uid VARCHAR,
    export_date DATE NOT NULL
)`

	qClearFlowDay = "DELETE FROM %s WHERE export_date = CAST(? AS DATE)"

	qInsertFlowMetadata = `INSERT INTO flow_metadata%[1]s (
    flow_id, begin_time,
    ua_browser, ua_version, ua_os,
    context, entrypoint, migration, service,
    utm_campaign, utm_content, utm_medium, utm_source, utm_term,
    export_date
)
SELECT
    flow_id, epoch_ms(timestamp * 1000),
    ua_browser, ua_version, ua_os,
    context, entrypoint, migration, service,
    utm_campaign, utm_content, utm_medium, utm_source, utm_term,
    CAST(? AS DATE)
FROM (
    SELECT *,
        COALESCE(TRY_CAST('0x' || substr(flow_id, 1, 8) AS BIGINT) %% 100, 0) AS sample_bucket
    FROM %[2]s
)
WHERE sample_bucket <= ?
AND type = 'flow.begin'`

	qDeleteFlowBegin = `DELETE FROM %s
WHERE timestamp::DATE <= CAST(? AS DATE)
AND type = 'flow.begin'`

	// Duration and identity come from whichever event in the flow saw
	// them last; the day-plus-one window catches flows spanning
	// midnight.
	qUpdateFlowMetadata = `UPDATE flow_metadata%[1]s
SET
    duration = events.flow_time,
    locale = events.locale,
    uid = events.uid
FROM (
    SELECT
        flow_id,
        MAX(flow_time) AS flow_time,
        MAX(locale) AS locale,
        MAX(uid) AS uid
    FROM %[2]s
    WHERE timestamp::DATE = CAST(? AS DATE)
       OR timestamp::DATE = CAST(? AS DATE) + INTERVAL 1 DAY
    GROUP BY flow_id
) AS events
WHERE flow_metadata%[1]s.flow_id = events.flow_id`

	qUpdateFlowCompleted = `UPDATE flow_metadata%[1]s
SET completed = TRUE
FROM (
    SELECT flow_id
    FROM %[2]s
    WHERE type = 'flow.complete'
      AND (timestamp::DATE = CAST(? AS DATE)
        OR timestamp::DATE = CAST(? AS DATE) + INTERVAL 1 DAY)
) AS complete
WHERE flow_metadata%[1]s.flow_id = complete.flow_id`

	qUpdateFlowNewAccount = `UPDATE flow_metadata%[1]s
SET new_account = TRUE
FROM (
    SELECT flow_id
    FROM %[2]s
    WHERE type = 'account.created'
      AND (timestamp::DATE = CAST(? AS DATE)
        OR timestamp::DATE = CAST(? AS DATE) + INTERVAL 1 DAY)
) AS created
WHERE flow_metadata%[1]s.flow_id = created.flow_id`

	// Old data did not reliably carry the metrics context on the begin
	// event, so later events in the same flow fill the gaps.
	qBackfillFlowContext = `UPDATE flow_metadata%[1]s
SET
    context = (CASE WHEN flow_metadata%[1]s.context = '' THEN metrics_context.context ELSE flow_metadata%[1]s.context END),
    entrypoint = (CASE WHEN flow_metadata%[1]s.entrypoint = '' THEN metrics_context.entrypoint ELSE flow_metadata%[1]s.entrypoint END),
    migration = (CASE WHEN flow_metadata%[1]s.migration = '' THEN metrics_context.migration ELSE flow_metadata%[1]s.migration END),
    service = (CASE WHEN flow_metadata%[1]s.service = '' THEN metrics_context.service ELSE flow_metadata%[1]s.service END),
    utm_campaign = (CASE WHEN flow_metadata%[1]s.utm_campaign = '' THEN metrics_context.utm_campaign ELSE flow_metadata%[1]s.utm_campaign END),
    utm_content = (CASE WHEN flow_metadata%[1]s.utm_content = '' THEN metrics_context.utm_content ELSE flow_metadata%[1]s.utm_content END),
    utm_medium = (CASE WHEN flow_metadata%[1]s.utm_medium = '' THEN metrics_context.utm_medium ELSE flow_metadata%[1]s.utm_medium END),
    utm_source = (CASE WHEN flow_metadata%[1]s.utm_source = '' THEN metrics_context.utm_source ELSE flow_metadata%[1]s.utm_source END),
    utm_term = (CASE WHEN flow_metadata%[1]s.utm_term = '' THEN metrics_context.utm_term ELSE flow_metadata%[1]s.utm_term END)
FROM (
    SELECT
        flow_id,
        MAX(context) AS context,
        MAX(entrypoint) AS entrypoint,
        MAX(migration) AS migration,
        MAX(service) AS service,
        MAX(utm_campaign) AS utm_campaign,
        MAX(utm_content) AS utm_content,
        MAX(utm_medium) AS utm_medium,
        MAX(utm_source) AS utm_source,
        MAX(utm_term) AS utm_term
    FROM (
        SELECT *,
            COALESCE(TRY_CAST('0x' || substr(flow_id, 1, 8) AS BIGINT) %% 100, 0) AS sample_bucket
        FROM %[2]s
    )
    WHERE sample_bucket <= ?
    GROUP BY flow_id
) AS metrics_context
WHERE flow_metadata%[1]s.flow_id = metrics_context.flow_id`

	// A continuation event's type embeds the predecessor flow id after
	// the 'flow.continued.' prefix.
	qUpdateContinuedFrom = `UPDATE flow_metadata%[1]s
SET continued_from = substr(continued.type, 16, 64)
FROM (
    SELECT flow_id, type
    FROM %[2]s
    WHERE type LIKE 'flow.continued.%%'
      AND (timestamp::DATE = CAST(? AS DATE)
        OR timestamp::DATE = CAST(? AS DATE) + INTERVAL 1 DAY)
) AS continued
WHERE flow_metadata%[1]s.flow_id = continued.flow_id`

	qDeleteContinuedEvents = `DELETE FROM %s
WHERE timestamp::DATE <= CAST(? AS DATE)
AND type LIKE 'flow.continued.%%'`

	qInsertFlowExperiments = `INSERT INTO flow_experiments%[1]s (
    experiment, cohort, timestamp, flow_id, uid, export_date
)
SELECT
    split_part(type, '.', 3) AS experiment,
    split_part(type, '.', 4) AS cohort,
    epoch_ms(timestamp * 1000),
    flow_id,
    uid,
    CAST(? AS DATE)
FROM (
    SELECT *,
        COALESCE(TRY_CAST('0x' || substr(flow_id, 1, 8) AS BIGINT) %% 100, 0) AS sample_bucket
    FROM %[2]s
)
WHERE sample_bucket <= ?
AND type LIKE 'flow.experiment.%%'`

	qUpdateExperimentsUID = `UPDATE flow_experiments%[1]s
SET uid = events.uid
FROM (
    SELECT flow_id, MAX(uid) AS uid
    FROM %[2]s
    WHERE timestamp::DATE = CAST(? AS DATE)
       OR timestamp::DATE = CAST(? AS DATE) + INTERVAL 1 DAY
    GROUP BY flow_id
) AS events
WHERE flow_experiments%[1]s.flow_id = events.flow_id`

	qDeleteExperimentEvents = `DELETE FROM %s
WHERE timestamp::DATE <= CAST(? AS DATE)
AND type LIKE 'flow.experiment.%%'`

	qExpireFlowAux = `DELETE FROM %s
WHERE export_date < CAST(? AS DATE) - ? * INTERVAL 1 MONTH`
)

// FlowJob builds the flow event import. legacyCutoff is the day before
// which the metrics-context backfill pass still runs; the tier set must
// match the one the engine runs with so the derived tables line up with
// the event tables.
func FlowJob(sourcePrefix, legacyCutoff string, tiers TierSet) Job {
	var compact []string
	for _, tier := range tiers {
		compact = append(compact,
			"flow_metadata"+tier.TableSuffix,
			"flow_experiments"+tier.TableSuffix)
	}

	return Job{
		SourcePrefix:   sourcePrefix,
		EventType:      "flow",
		StagingSchema:  flowStagingSchema,
		StagingColumns: flowStagingColumns,
		PermSchema:     flowEventSchema,
		PermColumns:    flowEventColumns,
		IDColumn:       "flow_id",
		Hooks: Hooks{
			BeforeImport:  createFlowTables,
			AfterDay:      flowAfterDay(legacyCutoff),
			AfterImport:   expireFlowTables,
			CompactTables: compact,
		},
	}
}

func createFlowTables(ctx context.Context, gw warehouse.Gateway, tiers TierSet) error {
	for _, tier := range tiers {
		if err := gw.Execute(ctx, fmt.Sprintf(qCreateFlowMetadata, tier.TableSuffix)); err != nil {
			return err
		}
		if err := gw.Execute(ctx, fmt.Sprintf(qCreateFlowExperiments, tier.TableSuffix)); err != nil {
			return err
		}
	}
	return nil
}

// flowAfterDay derives each tier's metadata and experiments rows for
// one imported day. Pass order matters: the begin events seed metadata
// and are deleted before the update passes, which read the remaining
// event rows; the lifecycle marker deletions come last so every pass
// that needs them has run.
func flowAfterDay(legacyCutoff string) func(context.Context, warehouse.Gateway, string, string, TierSet) error {
	return func(ctx context.Context, tx warehouse.Gateway, day, stagingTable string, tiers TierSet) error {
		for _, tier := range tiers {
			suffix := tier.TableSuffix
			events := EventTable("flow", suffix)

			if err := tx.Execute(ctx, fmt.Sprintf(qClearFlowDay, "flow_metadata"+suffix), day); err != nil {
				return err
			}
			if err := tx.Execute(ctx, fmt.Sprintf(qInsertFlowMetadata, suffix, stagingTable), day, tier.SamplePercent); err != nil {
				return err
			}
			if err := tx.Execute(ctx, fmt.Sprintf(qDeleteFlowBegin, events), day); err != nil {
				return err
			}
			if err := tx.Execute(ctx, fmt.Sprintf(qUpdateFlowMetadata, suffix, events), day, day); err != nil {
				return err
			}
			if err := tx.Execute(ctx, fmt.Sprintf(qUpdateFlowCompleted, suffix, events), day, day); err != nil {
				return err
			}
			if err := tx.Execute(ctx, fmt.Sprintf(qUpdateFlowNewAccount, suffix, events), day, day); err != nil {
				return err
			}
			if legacyCutoff != "" && day < legacyCutoff {
				if err := tx.Execute(ctx, fmt.Sprintf(qBackfillFlowContext, suffix, stagingTable), tier.SamplePercent); err != nil {
					return err
				}
			}
			if err := tx.Execute(ctx, fmt.Sprintf(qUpdateContinuedFrom, suffix, events), day, day); err != nil {
				return err
			}
			if err := tx.Execute(ctx, fmt.Sprintf(qDeleteContinuedEvents, events), day); err != nil {
				return err
			}

			if err := tx.Execute(ctx, fmt.Sprintf(qClearFlowDay, "flow_experiments"+suffix), day); err != nil {
				return err
			}
			if err := tx.Execute(ctx, fmt.Sprintf(qInsertFlowExperiments, suffix, stagingTable), day, tier.SamplePercent); err != nil {
				return err
			}
			if err := tx.Execute(ctx, fmt.Sprintf(qUpdateExperimentsUID, suffix, events), day, day); err != nil {
				return err
			}
			if err := tx.Execute(ctx, fmt.Sprintf(qDeleteExperimentEvents, events), day); err != nil {
				return err
			}
		}
		return nil
	}
}

func expireFlowTables(ctx context.Context, tx warehouse.Gateway, tiers TierSet, referenceDay string) error {
	for _, tier := range tiers {
		for _, table := range []string{"flow_metadata" + tier.TableSuffix, "flow_experiments" + tier.TableSuffix} {
			if err := tx.Execute(ctx, fmt.Sprintf(qExpireFlowAux, table), referenceDay, tier.RetentionMonths); err != nil {
				return err
			}
		}
	}
	return nil
}
