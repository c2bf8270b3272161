package ingest

// Email events record delivery outcomes per message. They carry no
// account id, so tier sampling buckets on the originating flow id; rows
// without one all land in bucket zero and survive every tier.

const emailSchema = `flow_id VARCHAR,
    domain VARCHAR,
    template VARCHAR,
    type VARCHAR NOT NULL,
    bounced VARCHAR,
    complaint VARCHAR,
    locale VARCHAR`

var emailColumns = []string{
	"flow_id", "domain", "template", "type", "bounced", "complaint", "locale",
}

// EmailJob builds the email event import reading partitions under
// sourcePrefix.
func EmailJob(sourcePrefix string) Job {
	return Job{
		SourcePrefix:   sourcePrefix,
		EventType:      "email",
		StagingSchema:  emailSchema,
		StagingColumns: emailColumns,
		PermSchema:     emailSchema,
		PermColumns:    emailColumns,
		IDColumn:       "flow_id",
	}
}
