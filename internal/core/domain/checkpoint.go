package domain

import (
	"fmt"
	"time"
)

// TimestampLayout is the layout of checkpoint values written by the coordinator.
const TimestampLayout = "2006-01-02 15:04:05.000000-0700"

// EpochSentinel is the checkpoint used when a stream has never run.
// It predates every record in the source (28 December 1895).
const EpochSentinel = "1895-12-28 00:00:00"

var parseLayouts = []string{
	TimestampLayout,
	"2006-01-02 15:04:05.999999-07:00",
	"2006-01-02 15:04:05.999999",
	"2006-01-02 15:04:05",
	time.RFC3339Nano,
}

// Checkpoint is the persisted "last processed" timestamp of one stream
type Checkpoint struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Time parses the checkpoint value.
func (c Checkpoint) Time() (time.Time, error) {
	return ParseTimestamp(c.Value)
}

// FormatTimestamp renders t with microsecond precision.
func FormatTimestamp(t time.Time) string {
	return t.Format(TimestampLayout)
}

// ParseTimestamp accepts the layouts checkpoints have been written with.
// Values without a zone are read as UTC.
func ParseTimestamp(value string) (time.Time, error) {
	for _, layout := range parseLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: unparseable checkpoint timestamp %q", ErrInvalidInput, value)
}
