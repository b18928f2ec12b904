package connector

import (
	"time"

	json "github.com/goccy/go-json"

	"github.com/drivepoint/source-quickbooks/pkg/config"
	"github.com/drivepoint/source-quickbooks/pkg/errors"
)

// CursorField is the record field that orders report slices
const CursorField = "EndPeriod"

// StreamCursor is the per-stream state: the end date of the last fully
// emitted slice
type StreamCursor struct {
	EndPeriod string `json:"EndPeriod"`
}

// ParseCursor decodes stream state. Empty state yields a zero time.
func ParseCursor(raw json.RawMessage) (time.Time, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return time.Time{}, nil
	}
	var c StreamCursor
	if err := json.Unmarshal(raw, &c); err != nil {
		return time.Time{}, errors.Wrap(err, errors.ErrorTypeConfig, "invalid stream state")
	}
	if c.EndPeriod == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(config.DateLayout, c.EndPeriod)
	if err != nil {
		return time.Time{}, errors.Wrap(err, errors.ErrorTypeConfig, "invalid EndPeriod in stream state").
			WithDetail("EndPeriod", c.EndPeriod)
	}
	return t, nil
}

// NewCursor returns the state recording end as completed
func NewCursor(end time.Time) StreamCursor {
	return StreamCursor{EndPeriod: end.Format(config.DateLayout)}
}
