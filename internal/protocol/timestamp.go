package protocol

import (
	"fmt"
	"time"
)

// timestampLayouts are tried in order when decoding a wire timestamp. The
// wire format is ISO-8601 with fractional seconds and/or a zone suffix both
// optional, so we accept the combinations a real client or driver might send.
var timestampLayouts = []string{
	"2006-01-02T15:04:05.999999999Z07:00",
	"2006-01-02T15:04:05Z07:00",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
}

// FormatTimestamp renders t as the canonical wire form: fractional seconds
// and a UTC "Z" suffix.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000000000Z")
}

// ParseTimestamp accepts ISO-8601 with or without a fractional component and
// with or without a zone suffix. Values lacking a zone are treated as UTC.
func ParseTimestamp(s string) (time.Time, error) {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("protocol: invalid timestamp %q", s)
}
