// Package export merges exported event rows into the vendor's analytics
// stream: a background fetcher spools partition files from object
// storage while a pool of rate-limited workers posts batched JSON
// events to the vendor HTTP endpoint.
package export

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
)

// Event is one vendor-facing analytics event. Field names follow the
// vendor's HTTP API.
type Event struct {
	Time            int64             `json:"time"`
	EventType       string            `json:"event_type"`
	UserID          string            `json:"user_id,omitempty"`
	DeviceID        string            `json:"device_id,omitempty"`
	SessionID       int64             `json:"session_id,omitempty"`
	EventID         int64             `json:"event_id,omitempty"`
	Platform        string            `json:"platform,omitempty"`
	OSName          string            `json:"os_name,omitempty"`
	EventProperties map[string]string `json:"event_properties"`
	UserProperties  map[string]string `json:"user_properties"`

	// InsertID lets the receiver deduplicate resent events. It is a
	// content hash of the source row, so reprocessing a file produces
	// identical ids.
	InsertID string `json:"insert_id"`
}

// ParseLine maps one CSV row of an exported partition file onto an
// Event. Empty columns are omitted from the payload.
func ParseLine(line string) (Event, error) {
	columns := strings.Split(line, ",")
	if len(columns) < 15 {
		return Event{}, fmt.Errorf("expected at least 15 columns, got %d", len(columns))
	}

	ev := Event{
		EventProperties: make(map[string]string),
		UserProperties:  make(map[string]string),
	}

	ts, err := strconv.ParseInt(columns[0], 10, 64)
	if err != nil {
		return Event{}, fmt.Errorf("bad timestamp %q: %w", columns[0], err)
	}
	ev.Time = ts * 1000
	ev.EventType = columns[1]

	if columns[2] != "" {
		ev.UserID = columns[2]
		ev.UserProperties["fxa_uid"] = columns[2]
	}
	if columns[3] != "" {
		ev.DeviceID = columns[3]
	}
	if columns[4] != "" {
		session, err := strconv.ParseInt(columns[4], 10, 64)
		if err != nil {
			return Event{}, fmt.Errorf("bad session id %q: %w", columns[4], err)
		}
		ev.SessionID = session * 1000
	}
	if columns[5] != "" {
		id, err := strconv.ParseInt(columns[5], 10, 64)
		if err != nil {
			return Event{}, fmt.Errorf("bad event id %q: %w", columns[5], err)
		}
		ev.EventID = id
	}
	if columns[6] != "" {
		ev.EventProperties["service"] = columns[6]
	}
	if columns[7] != "" {
		ev.Platform = columns[7]
		ev.EventProperties["ua_browser"] = columns[7]
		ev.UserProperties["ua_browser"] = columns[7]
	}
	if columns[8] != "" {
		ev.EventProperties["ua_version"] = columns[8]
		ev.UserProperties["ua_version"] = columns[8]
	}
	if columns[9] != "" {
		ev.OSName = columns[9]
		ev.EventProperties["ua_os"] = columns[9]
		ev.UserProperties["ua_os"] = columns[9]
	}
	if columns[10] != "" {
		ev.EventProperties["entrypoint"] = columns[10]
	}
	for i, name := range []string{"utm_campaign", "utm_content", "utm_medium", "utm_source", "utm_term"} {
		col := 11 + i
		if col < len(columns) && columns[col] != "" {
			ev.EventProperties[name] = columns[col]
			ev.UserProperties[name] = columns[col]
		}
	}

	sum := sha1.Sum([]byte(line))
	ev.InsertID = hex.EncodeToString(sum[:])
	return ev, nil
}
