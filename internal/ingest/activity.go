package ingest

// Activity events are the core behavioral stream: one row per
// authenticated action, keyed by account id.

const activitySchema = `uid VARCHAR NOT NULL,
    type VARCHAR NOT NULL,
    device_id VARCHAR,
    service VARCHAR,
    ua_browser VARCHAR,
    ua_version VARCHAR,
    ua_os VARCHAR`

// Raw activity CSVs carry the agent columns first.
var activityColumns = []string{
	"ua_browser", "ua_version", "ua_os", "uid", "type", "service", "device_id",
}

// ActivityJob builds the activity event import reading partitions under
// sourcePrefix. Tier sampling buckets on the account id.
func ActivityJob(sourcePrefix string) Job {
	return Job{
		SourcePrefix:   sourcePrefix,
		EventType:      "activity",
		StagingSchema:  activitySchema,
		StagingColumns: activityColumns,
		PermSchema:     activitySchema,
		PermColumns:    activityColumns,
		IDColumn:       "uid",
	}
}
