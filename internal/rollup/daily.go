// Package rollup maintains the summary tables derived from imported
// activity events: per-device daily activity, multi-device users over a
// trailing window, and their 28-day monthly counterparts.
package rollup

import (
	"context"
	"fmt"
	"log"

	"github.com/eventtide/pipeline/internal/daykey"
	"github.com/eventtide/pipeline/internal/errors"
	"github.com/eventtide/pipeline/internal/warehouse"
)

const (
	qCreateDailyDevices = `CREATE TABLE IF NOT EXISTS daily_activity_per_device (
    day DATE NOT NULL,
    uid VARCHAR NOT NULL,
    device_id VARCHAR NOT NULL,
    service VARCHAR,
    ua_browser VARCHAR,
    ua_version VARCHAR,
    ua_os VARCHAR
)`

	qClearDailyDevices = `DELETE FROM daily_activity_per_device
WHERE day >= CAST(? AS DATE) AND day <= CAST(? AS DATE)`

	qSummarizeDailyDevices = `INSERT INTO daily_activity_per_device
    (day, uid, device_id, service, ua_browser, ua_version, ua_os)
SELECT DISTINCT
    timestamp::DATE AS day,
    uid, device_id, service, ua_browser, ua_version, ua_os
FROM activity_events
WHERE device_id != ''
AND timestamp::DATE >= CAST(? AS DATE)
AND timestamp::DATE <= CAST(? AS DATE)
ORDER BY 1`

	qCreateMultiDevice = `CREATE TABLE IF NOT EXISTS daily_multi_device_users (
    day DATE NOT NULL,
    uid VARCHAR NOT NULL,
    device_now VARCHAR NOT NULL,
    device_prev VARCHAR NOT NULL
)`

	qClearMultiDevice = `DELETE FROM daily_multi_device_users
WHERE day >= CAST(? AS DATE) AND day <= CAST(? AS DATE)`

	// A user counts as multi-device on a day when a different device of
	// theirs was active within the preceding week.
	qSummarizeMultiDevice = `INSERT INTO daily_multi_device_users (day, uid, device_now, device_prev)
SELECT DISTINCT present.day, present.uid, present.device_id, past.device_id
FROM daily_activity_per_device AS present
INNER JOIN daily_activity_per_device AS past
ON
    present.uid = past.uid
    AND present.device_id != past.device_id
    AND past.day <= present.day
    AND past.day >= present.day - INTERVAL 7 DAY
WHERE present.day >= CAST(? AS DATE)
AND present.day <= CAST(? AS DATE)
ORDER BY 1`

	qFirstUnprocessedDay = `SELECT (MAX(day) + INTERVAL 1 DAY)::DATE
FROM daily_multi_device_users`

	qFirstRawDay = "SELECT MIN(timestamp)::DATE FROM activity_events"
	qLastRawDay  = "SELECT MAX(timestamp)::DATE FROM activity_events"
)

// DailySummarizer maintains daily_activity_per_device and
// daily_multi_device_users.
type DailySummarizer struct {
	gw warehouse.Gateway
}

// NewDailySummarizer creates a daily summarizer over the gateway.
func NewDailySummarizer(gw warehouse.Gateway) *DailySummarizer {
	return &DailySummarizer{gw: gw}
}

// Run summarizes the inclusive [fromDay, toDay] range in one
// transaction. An empty fromDay resumes after the last summarized day,
// or from the earliest raw event when no summaries exist yet; an empty
// toDay extends through the newest raw event.
func (s *DailySummarizer) Run(ctx context.Context, fromDay, toDay string) error {
	for _, day := range []string{fromDay, toDay} {
		if day != "" {
			if _, err := daykey.Parse(day); err != nil {
				return err
			}
		}
	}

	if err := s.gw.Execute(ctx, qCreateDailyDevices); err != nil {
		return err
	}
	if err := s.gw.Execute(ctx, qCreateMultiDevice); err != nil {
		return err
	}

	fromDay, toDay, err := resolveRange(ctx, s.gw, fromDay, toDay, qFirstUnprocessedDay, qFirstRawDay, qLastRawDay)
	if err != nil {
		return err
	}
	if fromDay == "" {
		log.Printf("daily summaries are up to date")
		return nil
	}
	log.Printf("summarizing daily activity from %s until %s", fromDay, toDay)

	err = s.gw.InTransaction(ctx, func(tx warehouse.Gateway) error {
		log.Printf("updating daily active devices summary")
		if err := tx.Execute(ctx, qClearDailyDevices, fromDay, toDay); err != nil {
			return err
		}
		if err := tx.Execute(ctx, qSummarizeDailyDevices, fromDay, toDay); err != nil {
			return err
		}
		log.Printf("updating multi-device users summary")
		if err := tx.Execute(ctx, qClearMultiDevice, fromDay, toDay); err != nil {
			return err
		}
		return tx.Execute(ctx, qSummarizeMultiDevice, fromDay, toDay)
	})
	if err != nil {
		return err
	}

	for _, table := range []string{"daily_activity_per_device", "daily_multi_device_users"} {
		if err := s.gw.Compact(ctx, table); err != nil {
			log.Printf("compaction failed for %s: %v", table, err)
		}
	}
	return nil
}

// resolveRange fills empty range bounds from the summary checkpoint and
// the raw data extent. Empty return strings with a nil error mean the
// checkpoint has already passed the newest source day.
func resolveRange(ctx context.Context, gw warehouse.Gateway, fromDay, toDay, unprocessedQuery, firstQuery, lastQuery string) (string, string, error) {
	explicit := fromDay != ""
	if fromDay == "" {
		day, ok, err := gw.ScalarDay(ctx, unprocessedQuery)
		if err != nil {
			return "", "", err
		}
		if !ok {
			day, ok, err = gw.ScalarDay(ctx, firstQuery)
			if err != nil {
				return "", "", err
			}
			if !ok {
				return "", "", errors.NewIntegrityError(errors.CodeNoReferenceDay,
					"no source rows to summarize")
			}
		}
		fromDay = day
	}
	if toDay == "" {
		day, ok, err := gw.ScalarDay(ctx, lastQuery)
		if err != nil {
			return "", "", err
		}
		if !ok {
			return "", "", errors.NewIntegrityError(errors.CodeNoReferenceDay,
				"no source rows to summarize")
		}
		toDay = day
	}
	if fromDay > toDay {
		if !explicit {
			return "", "", nil
		}
		return "", "", errors.NewIntegrityError(errors.CodeNoReferenceDay,
			fmt.Sprintf("summary range %s..%s is empty", fromDay, toDay))
	}
	return fromDay, toDay, nil
}
