package coverages

import (
	"fmt"
	"strings"
	"time"
)

// ISOFormat is used for all timestamps written to responses.
const ISOFormat = "2006-01-02T15:04:05Z"

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04Z07:00",
	"2006-01-02T15:04",
	"2006-01-02",
}

// ParseTime reads ISO-8601 timestamps. Values without a zone are UTC.
func ParseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("cannot parse '%s' as an ISO-8601 date/time", s)
}

func FormatTime(t time.Time) string {
	return t.UTC().Format(ISOFormat)
}
