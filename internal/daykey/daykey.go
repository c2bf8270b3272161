// Package daykey converts between calendar-day identifiers and the
// partition key format used for filtering and sorting, and derives the
// deterministic sample bucket used for tier selection and vendor-export
// sampling.
package daykey

import (
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/eventtide/pipeline/internal/errors"
)

// Layout is the canonical day-key format. Keys in this format sort
// lexicographically in date order.
const Layout = "2006-01-02"

// Parse validates a day key and returns its calendar day.
func Parse(key string) (time.Time, error) {
	t, err := time.Parse(Layout, key)
	if err != nil {
		return time.Time{}, errors.NewValidationError(errors.CodeInvalidDay,
			"invalid day key "+strconv.Quote(key))
	}
	return t, nil
}

// Format returns the day key for a point in time.
func Format(t time.Time) string {
	return t.UTC().Format(Layout)
}

// AddDays returns the day key n days after key.
func AddDays(key string, n int) (string, error) {
	t, err := Parse(key)
	if err != nil {
		return "", err
	}
	return Format(t.AddDate(0, 0, n)), nil
}

// BucketOf derives a deterministic pseudo-random bucket in [0, modulus)
// from an identifier. The first 8 characters (the whole identifier when
// shorter) are interpreted as one hex integer and reduced modulo
// modulus; if any character of that prefix is not a hex digit the
// identifier lands in bucket 0, the same all-or-nothing rule as the
// warehouse-side TRY_CAST over the full substring. This must match the
// warehouse sampling expression exactly, or tier membership and
// vendor-export sample sets diverge.
func BucketOf(id string, modulus int) int {
	if modulus <= 0 {
		return 0
	}
	prefix := id
	if len(prefix) > 8 {
		prefix = prefix[:8]
	}
	v, err := strconv.ParseUint(prefix, 16, 64)
	if err != nil {
		return 0
	}
	return int(v % uint64(modulus))
}

// Range returns the inclusive, ascending sequence of day keys between
// from and to. An empty slice is returned when from sorts after to.
func Range(from, to string) ([]string, error) {
	start, err := Parse(from)
	if err != nil {
		return nil, err
	}
	end, err := Parse(to)
	if err != nil {
		return nil, err
	}
	var days []string
	for !start.After(end) {
		days = append(days, Format(start))
		start = start.AddDate(0, 0, 1)
	}
	return days, nil
}

// Chunk is one bounded slice of a day range.
type Chunk struct {
	From string
	To   string
}

// Chunks splits an inclusive day range into consecutive chunks spanning
// at most step+1 days each. The union of all chunks equals the original
// range and no day appears in two chunks.
func Chunks(from, to string, step int) ([]Chunk, error) {
	start, err := Parse(from)
	if err != nil {
		return nil, err
	}
	end, err := Parse(to)
	if err != nil {
		return nil, err
	}
	var chunks []Chunk
	for !start.After(end) {
		next := start.AddDate(0, 0, step)
		if next.After(end) {
			next = end
		}
		chunks = append(chunks, Chunk{From: Format(start), To: Format(next)})
		start = next.AddDate(0, 0, 1)
	}
	return chunks, nil
}

// FromFilename extracts the day key embedded in an object filename.
// By convention objects are named <logical-name>-<YYYY>-<MM>-<DD>.<ext>,
// so the day is the last three hyphen-separated components with the
// extension stripped. Returns false if no valid day is present.
func FromFilename(name string) (string, bool) {
	base := path.Base(name)
	if ext := path.Ext(base); ext != "" {
		base = strings.TrimSuffix(base, ext)
	}
	parts := strings.Split(base, "-")
	if len(parts) < 3 {
		return "", false
	}
	day := strings.Join(parts[len(parts)-3:], "-")
	if _, err := Parse(day); err != nil {
		return "", false
	}
	return day, true
}
