package ingest

import "fmt"

// RetentionTier describes one destination tier: what fraction of rows it
// keeps (by deterministic bucket of the identifier column) and how far
// back its table retains them. Tiers are process-wide configuration and
// never mutated at runtime.
type RetentionTier struct {
	// SamplePercent keeps rows whose bucket is <= this value (0-100).
	SamplePercent int

	// RetentionMonths is how many months of history the tier retains,
	// measured back from the run's reference day.
	RetentionMonths int

	// TableSuffix distinguishes the tier's tables, e.g. "_sampled_10".
	TableSuffix string
}

// TierSet is the ordered set of destination tiers for one run.
type TierSet []RetentionTier

// DefaultTiers mirrors the production layout: the full data set expires
// at three months, while sampled tiers cover a longer history.
func DefaultTiers() TierSet {
	return TierSet{
		{SamplePercent: 10, RetentionMonths: 24, TableSuffix: "_sampled_10"},
		{SamplePercent: 50, RetentionMonths: 6, TableSuffix: "_sampled_50"},
		{SamplePercent: 100, RetentionMonths: 3, TableSuffix: ""},
	}
}

// Smallest returns the tier with the lowest sample percentage. A day
// present in the smallest tier is present in every tier, so it is the
// authoritative populated-day check.
func (ts TierSet) Smallest() RetentionTier {
	smallest := ts[0]
	for _, t := range ts[1:] {
		if t.SamplePercent < smallest.SamplePercent {
			smallest = t
		}
	}
	return smallest
}

// Full returns the tier with the highest sample percentage, used for
// resume-checkpoint queries.
func (ts TierSet) Full() RetentionTier {
	full := ts[0]
	for _, t := range ts[1:] {
		if t.SamplePercent > full.SamplePercent {
			full = t
		}
	}
	return full
}

// EventTable returns the permanent events table name for an event type
// and tier suffix. Table names are assembled only from the engine's
// closed naming scheme, never from external input.
func EventTable(eventType, suffix string) string {
	return fmt.Sprintf("%s_events%s", eventType, suffix)
}

// StagingTable returns the transient staging table name for an event type.
func StagingTable(eventType string) string {
	return fmt.Sprintf("temporary_raw_%s_data", eventType)
}
