package rollup

import (
	"context"
	"testing"

	"github.com/eventtide/pipeline/internal/warehouse"
)

func seedActivityEvents(t *testing.T, gw warehouse.Gateway, rows [][3]any) {
	t.Helper()
	ctx := context.Background()
	err := gw.Execute(ctx, `CREATE TABLE activity_events (
    timestamp TIMESTAMP NOT NULL,
    uid VARCHAR NOT NULL,
    type VARCHAR NOT NULL,
    device_id VARCHAR,
    service VARCHAR,
    ua_browser VARCHAR,
    ua_version VARCHAR,
    ua_os VARCHAR
)`)
	if err != nil {
		t.Fatalf("creating activity_events: %v", err)
	}
	for _, row := range rows {
		err := gw.Execute(ctx,
			"INSERT INTO activity_events VALUES (epoch_ms(? * 1000), ?, 'login', ?, 'sync', 'Firefox', '100', 'Windows')",
			row[0], row[1], row[2])
		if err != nil {
			t.Fatalf("inserting activity row: %v", err)
		}
	}
}

func dayHasPairs(t *testing.T, gw warehouse.Gateway, day string) bool {
	t.Helper()
	has, err := gw.Exists(context.Background(),
		"SELECT 1 FROM daily_multi_device_users WHERE day = CAST(? AS DATE)", day)
	if err != nil {
		t.Fatalf("querying pairs for %s: %v", day, err)
	}
	return has
}

// Runs the daily summarizer against real rows: one user on device A,
// then device B five days later, then device B again on day nine. The
// second sighting pairs with A inside the week window; the third does
// not, A's last activity being eight days back by then.
func TestDailyMultiDeviceWindowOnWarehouseRows(t *testing.T) {
	ctx := context.Background()
	gw, err := warehouse.OpenMemory(ctx)
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	defer gw.Close()

	seedActivityEvents(t, gw, [][3]any{
		{int64(1704103200), "u1", "device-a"}, // 2024-01-01
		{int64(1704535200), "u1", "device-b"}, // 2024-01-06
		{int64(1704794400), "u1", "device-b"}, // 2024-01-09
	})

	s := NewDailySummarizer(gw)
	if err := s.Run(ctx, "2024-01-01", "2024-01-09"); err != nil {
		t.Fatalf("Run: %v", err)
	}

	paired, err := gw.Exists(ctx, `SELECT 1 FROM daily_multi_device_users
WHERE day = CAST(? AS DATE) AND uid = ? AND device_now = ? AND device_prev = ?`,
		"2024-01-06", "u1", "device-b", "device-a")
	if err != nil {
		t.Fatalf("Exists: %v", err)
	}
	if !paired {
		t.Error("device switch within the week window was not summarized")
	}
	if dayHasPairs(t, gw, "2024-01-01") {
		t.Error("first sighting has no prior device to pair with")
	}
	if dayHasPairs(t, gw, "2024-01-09") {
		t.Error("pairing crossed the week window")
	}

	count, err := gw.Exists(ctx,
		"SELECT 1 FROM (SELECT COUNT(*) AS c FROM daily_multi_device_users) WHERE c = 1")
	if err != nil {
		t.Fatalf("counting pairs: %v", err)
	}
	if !count {
		t.Error("expected exactly one multi-device pair")
	}

	// Reprocessing the same range clears and rebuilds both summaries
	// without duplicating rows.
	if err := s.Run(ctx, "2024-01-01", "2024-01-09"); err != nil {
		t.Fatalf("second Run: %v", err)
	}
	count, err = gw.Exists(ctx,
		"SELECT 1 FROM (SELECT COUNT(*) AS c FROM daily_multi_device_users) WHERE c = 1")
	if err != nil {
		t.Fatalf("counting pairs: %v", err)
	}
	if !count {
		t.Error("reprocessing duplicated multi-device pairs")
	}
	devices, err := gw.Exists(ctx,
		"SELECT 1 FROM (SELECT COUNT(*) AS c FROM daily_activity_per_device) WHERE c = 3")
	if err != nil {
		t.Fatalf("counting device rows: %v", err)
	}
	if !devices {
		t.Error("reprocessing changed the per-device summary")
	}
}
