package filters

import (
	"fmt"
	"time"

	"resourcewatch/internal/types"
)

// PublishedAtFilter drops resources published outside [after, before]. The
// publication time comes from the "published" attribute and falls back to
// the listing's modified time. Either bound may be zero.
func PublishedAtFilter(name string, after, before time.Time) *FilterProcessor {
	return NewFilterProcessor(name, func(res *types.Resource) string {
		published := res.Metadata.Modified
		if raw := res.Attribute("published"); raw != "" {
			if t, err := time.Parse(time.RFC3339, raw); err == nil {
				published = t
			}
		}
		if published.IsZero() {
			return ""
		}

		if !after.IsZero() && published.Before(after) {
			return fmt.Sprintf("published %s before cutoff %s", published.Format(time.RFC3339), after.Format(time.RFC3339))
		}
		if !before.IsZero() && published.After(before) {
			return fmt.Sprintf("published %s after cutoff %s", published.Format(time.RFC3339), before.Format(time.RFC3339))
		}
		return ""
	})
}

// ParseCutoff parses an RFC 3339 bound; empty means unbounded.
func ParseCutoff(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid cutoff %q: %w", s, err)
	}
	return t, nil
}
