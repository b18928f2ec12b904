package connector

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drivepoint/source-quickbooks/pkg/config"
	"github.com/drivepoint/source-quickbooks/pkg/errors"
)

func date(s string) time.Time {
	t, err := time.Parse(config.DateLayout, s)
	if err != nil {
		panic(err)
	}
	return t
}

func sliceDates(slices []Slice) [][2]string {
	out := make([][2]string, len(slices))
	for i, s := range slices {
		out[i] = [2]string{s.StartDate(), s.EndDate()}
	}
	return out
}

func TestBuildSlices(t *testing.T) {
	tests := []struct {
		name   string
		start  string
		end    string
		period string
		want   [][2]string
	}{
		{
			name:   "none covers the whole range",
			start:  "2024-01-15",
			end:    "2024-03-10",
			period: config.SliceNone,
			want:   [][2]string{{"2024-01-15", "2024-03-10"}},
		},
		{
			name:   "months clipped at both ends",
			start:  "2024-01-15",
			end:    "2024-03-10",
			period: config.SliceMonth,
			want: [][2]string{
				{"2024-01-15", "2024-01-31"},
				{"2024-02-01", "2024-02-29"},
				{"2024-03-01", "2024-03-10"},
			},
		},
		{
			name:   "quarters",
			start:  "2023-11-01",
			end:    "2024-06-30",
			period: config.SliceQuarter,
			want: [][2]string{
				{"2023-11-01", "2023-12-31"},
				{"2024-01-01", "2024-03-31"},
				{"2024-04-01", "2024-06-30"},
			},
		},
		{
			name:   "years",
			start:  "2022-07-01",
			end:    "2024-02-01",
			period: config.SliceYear,
			want: [][2]string{
				{"2022-07-01", "2022-12-31"},
				{"2023-01-01", "2023-12-31"},
				{"2024-01-01", "2024-02-01"},
			},
		},
		{
			name:   "single day",
			start:  "2024-05-31",
			end:    "2024-05-31",
			period: config.SliceMonth,
			want:   [][2]string{{"2024-05-31", "2024-05-31"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			slices, err := BuildSlices(date(tt.start), date(tt.end), tt.period)
			require.NoError(t, err)
			assert.Equal(t, tt.want, sliceDates(slices))
		})
	}
}

func TestBuildSlicesWithoutStart(t *testing.T) {
	slices, err := BuildSlices(time.Time{}, date("2024-03-31"), config.SliceNone)
	require.NoError(t, err)
	require.Len(t, slices, 1)
	assert.Equal(t, "", slices[0].StartDate())
	assert.Equal(t, "2024-03-31", slices[0].EndDate())

	_, err = BuildSlices(time.Time{}, date("2024-03-31"), config.SliceMonth)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))

	_, err = BuildSlices(date("2024-01-01"), date("2024-03-31"), "week")
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}

func TestBuildSlicesStartAfterEnd(t *testing.T) {
	slices, err := BuildSlices(date("2025-01-01"), date("2024-12-31"), config.SliceMonth)
	require.NoError(t, err)
	assert.Empty(t, slices)
}

func TestPendingSlices(t *testing.T) {
	slices, err := BuildSlices(date("2024-01-01"), date("2024-04-15"), config.SliceMonth)
	require.NoError(t, err)

	assert.Len(t, PendingSlices(slices, time.Time{}), 4)

	pending := PendingSlices(slices, date("2024-02-29"))
	assert.Equal(t, [][2]string{
		{"2024-03-01", "2024-03-31"},
		{"2024-04-01", "2024-04-15"},
	}, sliceDates(pending))

	// a cursor inside a slice refetches that slice whole
	pending = PendingSlices(slices, date("2024-04-10"))
	assert.Equal(t, [][2]string{{"2024-04-01", "2024-04-15"}}, sliceDates(pending))

	assert.Empty(t, PendingSlices(slices, date("2024-04-15")))
}
