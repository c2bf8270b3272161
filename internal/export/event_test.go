package export

import (
	"strings"
	"testing"
)

const sampleLine = "1709337600,fxa_login - complete,ab12cd,dev99,1709337000,7,sync,Firefox,124.0,Windows,homepage,spring,banner,email,newsletter,search"

func TestParseLineMapsColumns(t *testing.T) {
	ev, err := ParseLine(sampleLine)
	if err != nil {
		t.Fatalf("ParseLine: %v", err)
	}

	if ev.Time != 1709337600*1000 {
		t.Errorf("time = %d, want milliseconds", ev.Time)
	}
	if ev.EventType != "fxa_login - complete" {
		t.Errorf("event_type = %q", ev.EventType)
	}
	if ev.UserID != "ab12cd" || ev.UserProperties["fxa_uid"] != "ab12cd" {
		t.Errorf("user id not mapped: %q / %v", ev.UserID, ev.UserProperties)
	}
	if ev.DeviceID != "dev99" {
		t.Errorf("device_id = %q", ev.DeviceID)
	}
	if ev.SessionID != 1709337000*1000 {
		t.Errorf("session_id = %d", ev.SessionID)
	}
	if ev.EventID != 7 {
		t.Errorf("event_id = %d", ev.EventID)
	}
	if ev.Platform != "Firefox" || ev.OSName != "Windows" {
		t.Errorf("platform/os = %q/%q", ev.Platform, ev.OSName)
	}
	if ev.EventProperties["service"] != "sync" {
		t.Errorf("service = %q", ev.EventProperties["service"])
	}

	// The UA and UTM dimensions are mirrored into both property maps.
	for _, key := range []string{"ua_browser", "ua_version", "ua_os", "utm_campaign", "utm_content", "utm_medium", "utm_source", "utm_term"} {
		if ev.EventProperties[key] == "" {
			t.Errorf("event_properties[%s] missing", key)
		}
		if ev.EventProperties[key] != ev.UserProperties[key] {
			t.Errorf("%s differs between maps: %q vs %q", key, ev.EventProperties[key], ev.UserProperties[key])
		}
	}
	if ev.EventProperties["entrypoint"] != "homepage" {
		t.Errorf("entrypoint = %q", ev.EventProperties["entrypoint"])
	}
	if ev.EventProperties["utm_term"] != "search" {
		t.Errorf("utm_term = %q", ev.EventProperties["utm_term"])
	}
}

func TestParseLineOmitsEmptyColumns(t *testing.T) {
	ev, err := ParseLine("1709337600,login,,,,,,,,,,,,,,")
	if err != nil {
		t.Fatalf("ParseLine: %v", err)
	}
	if ev.UserID != "" || ev.DeviceID != "" || ev.SessionID != 0 || ev.EventID != 0 {
		t.Errorf("empty columns leaked into event: %+v", ev)
	}
	if len(ev.EventProperties) != 0 || len(ev.UserProperties) != 0 {
		t.Errorf("empty columns leaked into properties: %+v", ev)
	}
}

func TestParseLineInsertIDIsContentHash(t *testing.T) {
	a, err := ParseLine(sampleLine)
	if err != nil {
		t.Fatal(err)
	}
	b, err := ParseLine(sampleLine)
	if err != nil {
		t.Fatal(err)
	}
	if a.InsertID == "" || a.InsertID != b.InsertID {
		t.Errorf("insert_id not deterministic: %q vs %q", a.InsertID, b.InsertID)
	}

	c, err := ParseLine(strings.Replace(sampleLine, "dev99", "dev98", 1))
	if err != nil {
		t.Fatal(err)
	}
	if c.InsertID == a.InsertID {
		t.Error("different rows share an insert_id")
	}
}

func TestParseLineRejectsMalformedRows(t *testing.T) {
	cases := []string{
		"",
		"1709337600,login",
		"not-a-timestamp,login,,,,,,,,,,,,,,",
		"1709337600,login,,,bad-session,,,,,,,,,,,",
	}
	for _, line := range cases {
		if _, err := ParseLine(line); err == nil {
			t.Errorf("ParseLine(%q) succeeded, want error", line)
		}
	}
}
