package connector

import (
	"time"

	"github.com/drivepoint/source-quickbooks/pkg/config"
	"github.com/drivepoint/source-quickbooks/pkg/errors"
)

// Slice is a reporting period requested in one API call. A zero Start
// lets QuickBooks pick the report's default start.
type Slice struct {
	Start time.Time
	End   time.Time
}

// StartDate formats Start, or returns "" when unset
func (s Slice) StartDate() string {
	if s.Start.IsZero() {
		return ""
	}
	return s.Start.Format(config.DateLayout)
}

// EndDate formats End
func (s Slice) EndDate() string {
	return s.End.Format(config.DateLayout)
}

// BuildSlices splits [start, end] into calendar periods. Periods are
// clipped to the range, so the first and last slices may be partial.
func BuildSlices(start, end time.Time, period string) ([]Slice, error) {
	if period == config.SliceNone || period == "" {
		return []Slice{{Start: start, End: end}}, nil
	}
	if start.IsZero() {
		return nil, errors.New(errors.ErrorTypeConfig, "start_date is required to slice reports")
	}
	if start.After(end) {
		return nil, nil
	}

	var next func(time.Time) time.Time
	switch period {
	case config.SliceMonth:
		next = func(t time.Time) time.Time {
			return time.Date(t.Year(), t.Month()+1, 1, 0, 0, 0, 0, time.UTC)
		}
	case config.SliceQuarter:
		next = func(t time.Time) time.Time {
			q := (int(t.Month()) - 1) / 3
			return time.Date(t.Year(), time.Month(q*3+4), 1, 0, 0, 0, 0, time.UTC)
		}
	case config.SliceYear:
		next = func(t time.Time) time.Time {
			return time.Date(t.Year()+1, time.January, 1, 0, 0, 0, 0, time.UTC)
		}
	default:
		return nil, errors.New(errors.ErrorTypeConfig, "unsupported slice_period "+period)
	}

	var slices []Slice
	for cur := start; !cur.After(end); {
		boundary := next(cur)
		last := boundary.AddDate(0, 0, -1)
		if last.After(end) {
			last = end
		}
		slices = append(slices, Slice{Start: cur, End: last})
		cur = boundary
	}
	return slices, nil
}

// PendingSlices drops the slices already covered by cursor
func PendingSlices(slices []Slice, cursor time.Time) []Slice {
	if cursor.IsZero() {
		return slices
	}
	pending := make([]Slice, 0, len(slices))
	for _, s := range slices {
		if s.End.After(cursor) {
			pending = append(pending, s)
		}
	}
	return pending
}
