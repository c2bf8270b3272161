package ingest

import (
	"context"
	"strings"
	"testing"

	"github.com/eventtide/pipeline/internal/warehouse"
)

func runFlowDay(t *testing.T, day, cutoff string) *warehouse.RecordingGateway {
	t.Helper()
	gw := warehouse.NewRecordingGateway()
	job := FlowJob("data/flow", cutoff, DefaultTiers())
	err := job.Hooks.AfterDay(context.Background(), gw, day, "temporary_raw_flow_data", DefaultTiers())
	if err != nil {
		t.Fatalf("AfterDay: %v", err)
	}
	return gw
}

func indexOf(stmts []warehouse.Statement, substr string) int {
	for i, s := range stmts {
		if strings.Contains(s.SQL, substr) {
			return i
		}
	}
	return -1
}

func TestFlowAfterDayPassOrder(t *testing.T) {
	gw := runFlowDay(t, "2024-03-02", "2016-10-25")
	stmts := gw.Journal()

	// Within the first tier: metadata is cleared and seeded from begin
	// events, the begin events are deleted, then the update passes run
	// against the remaining event rows, then the continuation linkage,
	// then experiments.
	order := []string{
		"DELETE FROM flow_metadata_sampled_10 WHERE export_date",
		"INSERT INTO flow_metadata_sampled_10",
		"AND type = 'flow.begin'",
		"SET\n    duration = events.flow_time",
		"SET completed = TRUE",
		"SET new_account = TRUE",
		"SET continued_from = substr(continued.type, 16, 64)",
		"AND type LIKE 'flow.continued.%'",
		"DELETE FROM flow_experiments_sampled_10 WHERE export_date",
		"INSERT INTO flow_experiments_sampled_10",
		"AND type LIKE 'flow.experiment.%'",
	}
	prev := -1
	for _, substr := range order {
		i := indexOf(stmts, substr)
		if i < 0 {
			t.Fatalf("no statement matching %q", substr)
		}
		if i <= prev {
			t.Errorf("statement %q at %d out of order (previous at %d)", substr, i, prev)
		}
		prev = i
	}
}

func TestFlowAfterDayRunsEveryTier(t *testing.T) {
	gw := runFlowDay(t, "2024-03-02", "2016-10-25")

	for _, tier := range DefaultTiers() {
		inserts := 0
		for _, s := range gw.Journal() {
			if strings.Contains(s.SQL, "INSERT INTO flow_metadata"+tier.TableSuffix+" ") {
				if len(s.Args) == 2 && s.Args[1] == tier.SamplePercent {
					inserts++
				}
			}
		}
		if inserts != 1 {
			t.Errorf("tier %q: %d metadata inserts with percent %d, want 1",
				tier.TableSuffix, inserts, tier.SamplePercent)
		}
	}
}

func TestFlowContextBackfillOnlyBeforeCutoff(t *testing.T) {
	modern := runFlowDay(t, "2024-03-02", "2016-10-25")
	if i := indexOf(modern.Journal(), "metrics_context"); i >= 0 {
		t.Errorf("context backfill ran for a day past the cutoff")
	}

	legacy := runFlowDay(t, "2016-05-01", "2016-10-25")
	if i := indexOf(legacy.Journal(), "metrics_context"); i < 0 {
		t.Errorf("context backfill missing for a pre-cutoff day")
	}
}

func TestFlowExpiresDerivedTablesPerTier(t *testing.T) {
	gw := warehouse.NewRecordingGateway()
	job := FlowJob("data/flow", "2016-10-25", DefaultTiers())
	if err := job.Hooks.AfterImport(context.Background(), gw, DefaultTiers(), "2024-03-31"); err != nil {
		t.Fatalf("AfterImport: %v", err)
	}

	expiries := gw.Journal()
	if want := 2 * len(DefaultTiers()); len(expiries) != want {
		t.Fatalf("got %d expiry statements, want %d", len(expiries), want)
	}
	for _, s := range expiries {
		if !strings.Contains(s.SQL, "export_date < CAST(? AS DATE)") {
			t.Errorf("unexpected expiry statement: %s", s.SQL)
		}
		if len(s.Args) != 2 || s.Args[0] != "2024-03-31" {
			t.Errorf("expiry args = %v, want [2024-03-31, months]", s.Args)
		}
	}
}

func TestFlowCompactsDerivedTables(t *testing.T) {
	job := FlowJob("data/flow", "2016-10-25", DefaultTiers())
	want := map[string]bool{
		"flow_metadata_sampled_10":    true,
		"flow_metadata_sampled_50":    true,
		"flow_metadata":               true,
		"flow_experiments_sampled_10": true,
		"flow_experiments_sampled_50": true,
		"flow_experiments":            true,
	}
	for _, table := range job.Hooks.CompactTables {
		if !want[table] {
			t.Errorf("unexpected compact table %q", table)
		}
		delete(want, table)
	}
	for table := range want {
		t.Errorf("missing compact table %q", table)
	}
}
