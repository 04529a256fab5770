package poller_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"quotewatch/internal/poller"
	"quotewatch/internal/quote"
)

// lingeringFetcher serves a minimal chart after delay and takes lag to honour cancellation,
// like a transport that is slow to tear down a request.
type lingeringFetcher struct {
	delay time.Duration
	lag   time.Duration

	mu    sync.Mutex
	calls map[string]int
}

func (f *lingeringFetcher) Name() string { return "lingering" }

func (f *lingeringFetcher) Fetch(ctx context.Context, symbol string) ([]byte, error) {
	f.mu.Lock()
	if f.calls == nil {
		f.calls = map[string]int{}
	}
	f.calls[symbol]++
	f.mu.Unlock()

	select {
	case <-time.After(f.delay):
		return []byte(fmt.Sprintf(`{"chart":{"result":[{"meta":{"symbol":%q,"marketState":"REGULAR","regularMarketPrice":10,"previousClose":8},"indicators":{"quote":[{"open":[],"high":[],"low":[]}]}}]}}`, symbol)), nil
	case <-ctx.Done():
		time.Sleep(f.lag)
		return nil, ctx.Err()
	}
}

func (f *lingeringFetcher) Calls(symbol string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[symbol]
}

func TestSetSymbol_ReturningToSymbolDoesNotInheritCancelledFetch(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		via  []string
	}{
		{name: "A to B to A", via: []string{"MSFT", "AAPL"}},
		{name: "same symbol again", via: []string{"AAPL"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			// Arrange
			f := &lingeringFetcher{delay: 150 * time.Millisecond, lag: 80 * time.Millisecond}
			rec, clock := newRecorder(), newManualClock()
			c := newController(quote.NewSource(f), rec, clock)
			defer c.Stop()

			require.NoError(t, c.SetSymbol("AAPL"))
			require.Eventually(t, func() bool { return f.Calls("AAPL") == 1 }, time.Second, time.Millisecond)

			// Act
			for _, sym := range tt.via {
				require.NoError(t, c.SetSymbol(sym))
			}
			rec.waitCycle(t)

			// Assert
			require.Empty(t, rec.Errors())
			quotes := rec.Quotes()
			require.Len(t, quotes, 1)
			require.Equal(t, "AAPL", quotes[0].Symbol)

			snap := c.Snapshot()
			require.Equal(t, "AAPL", snap.Symbol)
			require.Equal(t, poller.StateSucceeded, snap.State)
			require.NoError(t, snap.Err)
		})
	}
}
