// Package catalog discovers raw event partitions in object storage and
// decides which days are candidates for loading.
package catalog

import (
	"context"
	"sort"

	"github.com/eventtide/pipeline/internal/daykey"
	"github.com/eventtide/pipeline/internal/errors"
	"github.com/eventtide/pipeline/internal/storage"
)

// PopulatedFunc reports whether a day's rows are already present in the
// warehouse. It is supplied by the ingestion engine so the catalog stays
// ignorant of table naming.
type PopulatedFunc func(ctx context.Context, day string) (bool, error)

// Catalog lists available raw data partitions grouped by day.
type Catalog struct {
	store storage.ObjectStorage
}

// New creates a catalog over the given object storage.
func New(store storage.ObjectStorage) *Catalog {
	return &Catalog{store: store}
}

// ListPartitions lists all objects under prefix and groups their URIs by
// the day embedded in each object's filename. Objects without a
// recognizable day component are skipped. Listing failures are not
// retried here; the caller decides whether to re-invoke.
func (c *Catalog) ListPartitions(ctx context.Context, prefix string) (map[string][]string, error) {
	keys, err := c.store.ListObjects(ctx, prefix)
	if err != nil {
		return nil, errors.NewStorageUnavailable(errors.CodeListFailed,
			"listing partitions under "+prefix, err)
	}

	partitions := make(map[string][]string)
	for _, key := range keys {
		day, ok := daykey.FromFilename(key)
		if !ok {
			continue
		}
		partitions[day] = append(partitions[day], c.store.URI(key))
	}
	return partitions, nil
}

// UnpopulatedDays returns the ascending list of days under prefix that
// fall inside the optional [from, to] bounds and are not yet populated
// according to the predicate. The final element is the most recent day,
// which callers use as the reference day for expiry computations.
func (c *Catalog) UnpopulatedDays(ctx context.Context, prefix string, populated PopulatedFunc, from, to string) ([]string, error) {
	partitions, err := c.ListPartitions(ctx, prefix)
	if err != nil {
		return nil, err
	}
	return FilterUnpopulated(ctx, partitions, populated, from, to)
}

// FilterUnpopulated applies the day bounds and populated predicate to an
// already-listed partition map. Callers that need both the URIs and the
// candidate days use this to avoid listing object storage twice.
func FilterUnpopulated(ctx context.Context, partitions map[string][]string, populated PopulatedFunc, from, to string) ([]string, error) {
	var days []string
	for day := range partitions {
		if from != "" && day < from {
			continue
		}
		if to != "" && day > to {
			continue
		}
		loaded, err := populated(ctx, day)
		if err != nil {
			return nil, err
		}
		if !loaded {
			days = append(days, day)
		}
	}

	// Day keys sort lexicographically in date order.
	sort.Strings(days)
	return days, nil
}
