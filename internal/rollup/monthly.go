package rollup

import (
	"context"
	"log"

	"github.com/eventtide/pipeline/internal/daykey"
	"github.com/eventtide/pipeline/internal/warehouse"
)

const (
	qCreateMonthlyActivity = `CREATE TABLE IF NOT EXISTS unique_activity_in_previous_month (
    day DATE NOT NULL,
    uid VARCHAR NOT NULL,
    device_id VARCHAR NOT NULL,
    service VARCHAR,
    ua_browser VARCHAR,
    ua_version VARCHAR,
    ua_os VARCHAR
)`

	qClearMonthlyActivity = `DELETE FROM unique_activity_in_previous_month
WHERE day >= CAST(? AS DATE) AND day <= CAST(? AS DATE)`

	// Each summarized day collects the distinct activity of the 28 days
	// ending on it. The extra lower bound on past.day is redundant with
	// the join condition but prunes the scan.
	qSummarizeMonthlyActivity = `INSERT INTO unique_activity_in_previous_month
    (day, uid, device_id, service, ua_browser, ua_version, ua_os)
SELECT DISTINCT
    days.day, past.uid, past.device_id, past.service,
    past.ua_browser, past.ua_version, past.ua_os
FROM (
    SELECT DISTINCT day FROM daily_activity_per_device
    WHERE day >= CAST(? AS DATE) AND day <= CAST(? AS DATE)
) AS days
INNER JOIN daily_activity_per_device AS past
    ON past.day <= days.day
    AND past.day > days.day - INTERVAL 28 DAY
    AND past.day > CAST(? AS DATE) - INTERVAL 28 DAY
    AND past.day <= CAST(? AS DATE)
ORDER BY 1`

	qCreateMonthlyMultiDevice = `CREATE TABLE IF NOT EXISTS multi_device_users_in_previous_month (
    day DATE NOT NULL,
    uid VARCHAR NOT NULL,
    device_now VARCHAR NOT NULL,
    device_prev VARCHAR NOT NULL
)`

	qClearMonthlyMultiDevice = `DELETE FROM multi_device_users_in_previous_month
WHERE day >= CAST(? AS DATE) AND day <= CAST(? AS DATE)`

	qSummarizeMonthlyMultiDevice = `INSERT INTO multi_device_users_in_previous_month
    (day, uid, device_now, device_prev)
SELECT DISTINCT
    days.day, past.uid, past.device_now, past.device_prev
FROM (
    SELECT DISTINCT day FROM daily_multi_device_users
    WHERE day >= CAST(? AS DATE) AND day <= CAST(? AS DATE)
) AS days
INNER JOIN daily_multi_device_users AS past
    ON past.day <= days.day
    AND past.day > days.day - INTERVAL 28 DAY
    AND past.day > CAST(? AS DATE) - INTERVAL 28 DAY
    AND past.day <= CAST(? AS DATE)
ORDER BY 1`

	qFirstUnprocessedMonthlyDay = `SELECT (MAX(day) + INTERVAL 1 DAY)::DATE
FROM unique_activity_in_previous_month`

	qFirstDailyDay = "SELECT MIN(day) FROM daily_activity_per_device"
	qLastDailyDay  = "SELECT MAX(day) FROM daily_activity_per_device"
)

// chunkStep bounds how many summarized days share one transaction. The
// 28-day self-joins use a lot of temporary space, so the range is
// processed a few days at a time with a commit after each chunk.
const chunkStep = 5

// MonthlySummarizer maintains unique_activity_in_previous_month and
// multi_device_users_in_previous_month from the daily summaries.
type MonthlySummarizer struct {
	gw warehouse.Gateway
}

// NewMonthlySummarizer creates a monthly summarizer over the gateway.
func NewMonthlySummarizer(gw warehouse.Gateway) *MonthlySummarizer {
	return &MonthlySummarizer{gw: gw}
}

// Run summarizes the inclusive [fromDay, toDay] range in 5-day chunks,
// each in its own transaction. Resumption semantics match
// DailySummarizer.Run, against the monthly tables' checkpoint. A
// mid-range failure leaves earlier chunks committed; re-running with
// the same range is safe because each chunk clears before inserting.
func (s *MonthlySummarizer) Run(ctx context.Context, fromDay, toDay string) error {
	for _, day := range []string{fromDay, toDay} {
		if day != "" {
			if _, err := daykey.Parse(day); err != nil {
				return err
			}
		}
	}

	if err := s.gw.Execute(ctx, qCreateMonthlyActivity); err != nil {
		return err
	}
	if err := s.gw.Execute(ctx, qCreateMonthlyMultiDevice); err != nil {
		return err
	}

	fromDay, toDay, err := resolveRange(ctx, s.gw, fromDay, toDay, qFirstUnprocessedMonthlyDay, qFirstDailyDay, qLastDailyDay)
	if err != nil {
		return err
	}
	if fromDay == "" {
		log.Printf("monthly summaries are up to date")
		return nil
	}
	log.Printf("summarizing monthly activity from %s until %s", fromDay, toDay)

	chunks, err := daykey.Chunks(fromDay, toDay, chunkStep)
	if err != nil {
		return err
	}
	for _, chunk := range chunks {
		log.Printf("chunk %s...%s", chunk.From, chunk.To)
		err := s.gw.InTransaction(ctx, func(tx warehouse.Gateway) error {
			if err := tx.Execute(ctx, qClearMonthlyActivity, chunk.From, chunk.To); err != nil {
				return err
			}
			if err := tx.Execute(ctx, qSummarizeMonthlyActivity, chunk.From, chunk.To, chunk.From, chunk.To); err != nil {
				return err
			}
			if err := tx.Execute(ctx, qClearMonthlyMultiDevice, chunk.From, chunk.To); err != nil {
				return err
			}
			return tx.Execute(ctx, qSummarizeMonthlyMultiDevice, chunk.From, chunk.To, chunk.From, chunk.To)
		})
		if err != nil {
			return err
		}
	}

	for _, table := range []string{"unique_activity_in_previous_month", "multi_device_users_in_previous_month"} {
		if err := s.gw.Compact(ctx, table); err != nil {
			log.Printf("compaction failed for %s: %v", table, err)
		}
	}
	return nil
}
