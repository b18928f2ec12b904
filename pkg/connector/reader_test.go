package connector

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/drivepoint/source-quickbooks/pkg/config"
	"github.com/drivepoint/source-quickbooks/pkg/quickbooks"
)

func monthSlices(t *testing.T, n int) []Slice {
	t.Helper()
	start := date("2024-01-01")
	slices, err := BuildSlices(start, start.AddDate(0, n, -1), config.SliceMonth)
	require.NoError(t, err)
	require.Len(t, slices, n)
	return slices
}

func TestFetchInOrderPreservesSliceOrder(t *testing.T) {
	defer goleak.VerifyNone(t)

	slices := monthSlices(t, 12)
	var inFlight, peak int32
	fetch := func(ctx context.Context, sl Slice) (sliceResult, error) {
		n := atomic.AddInt32(&inFlight, 1)
		defer atomic.AddInt32(&inFlight, -1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		// later months finish first
		time.Sleep(time.Duration(13-int(sl.Start.Month())) * time.Millisecond)
		return sliceResult{
			slice:   sl,
			records: []quickbooks.AccountRecord{{EndPeriod: sl.EndDate()}},
		}, nil
	}

	var emitted []string
	total, err := fetchInOrder(context.Background(), 3, slices, fetch, func(res sliceResult) error {
		emitted = append(emitted, res.slice.EndDate())
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 12, total)
	for i, s := range slices {
		assert.Equal(t, s.EndDate(), emitted[i])
	}
	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(3))
}

func TestFetchInOrderStopsOnFetchError(t *testing.T) {
	defer goleak.VerifyNone(t)

	slices := monthSlices(t, 12)
	boom := fmt.Errorf("march failed")
	var mu sync.Mutex
	var fetched []int
	fetch := func(ctx context.Context, sl Slice) (sliceResult, error) {
		mu.Lock()
		fetched = append(fetched, int(sl.Start.Month()))
		mu.Unlock()
		if sl.Start.Month() == time.March {
			return sliceResult{}, boom
		}
		select {
		case <-ctx.Done():
			return sliceResult{}, ctx.Err()
		case <-time.After(5 * time.Millisecond):
		}
		return sliceResult{slice: sl}, nil
	}

	var emitted []string
	_, err := fetchInOrder(context.Background(), 2, slices, fetch, func(res sliceResult) error {
		emitted = append(emitted, res.slice.EndDate())
		return nil
	})
	require.ErrorIs(t, err, boom)
	assert.NotContains(t, emitted, "2024-03-31")
	assert.LessOrEqual(t, len(emitted), 2)

	mu.Lock()
	defer mu.Unlock()
	assert.Less(t, len(fetched), 12)
}

func TestFetchInOrderStopsOnEmitError(t *testing.T) {
	defer goleak.VerifyNone(t)

	slices := monthSlices(t, 6)
	boom := fmt.Errorf("stdout closed")
	fetch := func(ctx context.Context, sl Slice) (sliceResult, error) {
		return sliceResult{slice: sl}, nil
	}
	calls := 0
	_, err := fetchInOrder(context.Background(), 2, slices, fetch, func(res sliceResult) error {
		calls++
		return boom
	})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)
}

func TestFetchInOrderCancelled(t *testing.T) {
	defer goleak.VerifyNone(t)

	ctx, cancel := context.WithCancel(context.Background())
	slices := monthSlices(t, 6)
	fetch := func(ctx context.Context, sl Slice) (sliceResult, error) {
		<-ctx.Done()
		return sliceResult{}, ctx.Err()
	}
	time.AfterFunc(10*time.Millisecond, cancel)

	_, err := fetchInOrder(ctx, 2, slices, fetch, func(res sliceResult) error {
		t.Fatal("nothing should be emitted")
		return nil
	})
	require.ErrorIs(t, err, context.Canceled)
}
