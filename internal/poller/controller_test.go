package poller_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"quotewatch/internal/logger"
	"quotewatch/internal/poller"
	"quotewatch/internal/quote"
)

// manualClock fires timers only when advanced.
type manualClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*manualTimer
}

type manualTimer struct {
	clock   *manualClock
	at      time.Time
	f       func()
	stopped bool
	fired   bool
}

func newManualClock() *manualClock {
	return &manualClock{now: time.Date(2025, 1, 2, 14, 30, 0, 0, time.UTC)}
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) AfterFunc(d time.Duration, f func()) poller.Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &manualTimer{clock: c, at: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

func (t *manualTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	active := !t.stopped && !t.fired
	t.stopped = true
	return active
}

// Advance moves time forward by d, running due callbacks in order.
func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	c.mu.Unlock()
	for {
		c.mu.Lock()
		var next *manualTimer
		for _, t := range c.timers {
			if t.stopped || t.fired || t.at.After(target) {
				continue
			}
			if next == nil || t.at.Before(next.at) {
				next = t
			}
		}
		if next == nil {
			c.now = target
			c.mu.Unlock()
			return
		}
		next.fired = true
		c.now = next.at
		c.mu.Unlock()
		next.f()
	}
}

// fakeSource counts calls per symbol. Symbols with a gate block until the gate closes
// or the cycle is cancelled.
type fakeSource struct {
	mu      sync.Mutex
	calls   map[string]int
	gates   map[string]chan struct{}
	failing map[string]error
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		calls:   map[string]int{},
		gates:   map[string]chan struct{}{},
		failing: map[string]error{},
	}
}

func (s *fakeSource) Quote(ctx context.Context, symbol string) (quote.Quote, error) {
	s.mu.Lock()
	s.calls[symbol]++
	n := s.calls[symbol]
	gate := s.gates[symbol]
	err := s.failing[symbol]
	s.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return quote.Quote{}, ctx.Err()
		}
	}
	if err != nil {
		return quote.Quote{}, err
	}
	return quote.Quote{Symbol: symbol, Price: float64(100 + n)}, nil
}

func (s *fakeSource) Calls(symbol string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[symbol]
}

func (s *fakeSource) setGate(symbol string, gate chan struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gates[symbol] = gate
}

func (s *fakeSource) setError(symbol string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failing[symbol] = err
}

type recorder struct {
	mu      sync.Mutex
	quotes  []quote.Quote
	errs    []quote.ErrorKind
	loading []bool
	done    chan struct{}
}

func newRecorder() *recorder { return &recorder{done: make(chan struct{}, 64)} }

func (r *recorder) OnQuoteUpdated(q quote.Quote) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.quotes = append(r.quotes, q)
}

func (r *recorder) OnError(kind quote.ErrorKind, _ string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, kind)
}

func (r *recorder) OnLoadingChanged(loading bool) {
	r.mu.Lock()
	r.loading = append(r.loading, loading)
	r.mu.Unlock()
	if !loading {
		r.done <- struct{}{}
	}
}

func (r *recorder) Quotes() []quote.Quote {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]quote.Quote(nil), r.quotes...)
}

func (r *recorder) Errors() []quote.ErrorKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]quote.ErrorKind(nil), r.errs...)
}

func (r *recorder) waitCycle(t *testing.T) {
	t.Helper()
	select {
	case <-r.done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for cycle to finish")
	}
}

func (r *recorder) requireNoCycle(t *testing.T) {
	t.Helper()
	select {
	case <-r.done:
		t.Fatal("unexpected cycle completion")
	case <-time.After(30 * time.Millisecond):
	}
}

func newController(src poller.Source, rec *recorder, clock *manualClock) *poller.Controller {
	return poller.New(src, rec,
		poller.WithClock(clock),
		poller.WithInterval(time.Minute),
		poller.WithLogger(logger.Discard()),
	)
}

func TestSetSymbol_FetchesImmediately(t *testing.T) {
	t.Parallel()

	src, rec, clock := newFakeSource(), newRecorder(), newManualClock()
	c := newController(src, rec, clock)
	defer c.Stop()

	require.NoError(t, c.SetSymbol(" aapl "))
	rec.waitCycle(t)

	quotes := rec.Quotes()
	require.Len(t, quotes, 1)
	require.Equal(t, "AAPL", quotes[0].Symbol)

	snap := c.Snapshot()
	require.Equal(t, "AAPL", snap.Symbol)
	require.Equal(t, poller.StateSucceeded, snap.State)
	require.False(t, snap.Loading)
	require.NotNil(t, snap.Quote)
	require.NoError(t, snap.Err)

	rec.mu.Lock()
	require.Equal(t, []bool{true, false}, rec.loading)
	rec.mu.Unlock()
}

func TestSetSymbol_RejectsBlankWithoutFetching(t *testing.T) {
	t.Parallel()

	src, rec, clock := newFakeSource(), newRecorder(), newManualClock()
	c := newController(src, rec, clock)
	defer c.Stop()

	err := c.SetSymbol("   ")

	require.ErrorIs(t, err, quote.ErrValidation)
	require.Equal(t, poller.StateIdle, c.Snapshot().State)
	require.False(t, c.Refresh())
	rec.requireNoCycle(t)
}

func TestTimer_RefreshesEveryInterval(t *testing.T) {
	t.Parallel()

	src, rec, clock := newFakeSource(), newRecorder(), newManualClock()
	c := newController(src, rec, clock)
	defer c.Stop()

	require.NoError(t, c.SetSymbol("AAPL"))
	rec.waitCycle(t)

	clock.Advance(59 * time.Second)
	rec.requireNoCycle(t)
	require.Equal(t, 1, src.Calls("AAPL"))

	clock.Advance(time.Second)
	rec.waitCycle(t)
	clock.Advance(time.Minute)
	rec.waitCycle(t)

	require.Equal(t, 3, src.Calls("AAPL"))
	require.Equal(t, 103.0, c.Snapshot().Quote.Price)
}

func TestSymbolChange_StopsPreviousTimer(t *testing.T) {
	t.Parallel()

	src, rec, clock := newFakeSource(), newRecorder(), newManualClock()
	c := newController(src, rec, clock)
	defer c.Stop()

	require.NoError(t, c.SetSymbol("AAPL"))
	rec.waitCycle(t)
	clock.Advance(30 * time.Second)

	require.NoError(t, c.SetSymbol("MSFT"))
	rec.waitCycle(t)

	// Two full intervals after the change: only MSFT's timer may fire.
	clock.Advance(time.Minute)
	rec.waitCycle(t)
	clock.Advance(time.Minute)
	rec.waitCycle(t)
	clock.Advance(30 * time.Second)
	rec.requireNoCycle(t)

	require.Equal(t, 1, src.Calls("AAPL"))
	require.Equal(t, 3, src.Calls("MSFT"))
	for _, q := range rec.Quotes()[1:] {
		require.Equal(t, "MSFT", q.Symbol)
	}
}

func TestSymbolChange_DropsInFlightResultOfPreviousSymbol(t *testing.T) {
	t.Parallel()

	src, rec, clock := newFakeSource(), newRecorder(), newManualClock()
	src.setGate("AAPL", make(chan struct{}))
	c := newController(src, rec, clock)
	defer c.Stop()

	require.NoError(t, c.SetSymbol("AAPL"))
	require.Eventually(t, func() bool { return src.Calls("AAPL") == 1 }, time.Second, time.Millisecond)

	require.NoError(t, c.SetSymbol("MSFT"))
	rec.waitCycle(t)
	rec.requireNoCycle(t)

	quotes := rec.Quotes()
	require.Len(t, quotes, 1)
	require.Equal(t, "MSFT", quotes[0].Symbol)
	require.Empty(t, rec.Errors())
}

func TestRefresh_SingleFlight(t *testing.T) {
	t.Parallel()

	gate := make(chan struct{})
	src, rec, clock := newFakeSource(), newRecorder(), newManualClock()
	src.setGate("AAPL", gate)
	c := newController(src, rec, clock)
	defer c.Stop()

	require.NoError(t, c.SetSymbol("AAPL"))
	require.Eventually(t, func() bool { return src.Calls("AAPL") == 1 }, time.Second, time.Millisecond)
	require.True(t, c.Snapshot().Loading)

	// Manual refresh and a timer tick while FETCHING are both no-ops.
	require.False(t, c.Refresh())
	clock.Advance(time.Minute)
	require.Equal(t, 1, src.Calls("AAPL"))

	close(gate)
	rec.waitCycle(t)

	require.True(t, c.Refresh())
	rec.waitCycle(t)
	require.Equal(t, 2, src.Calls("AAPL"))
}

func TestRefresh_DoesNotResetTimer(t *testing.T) {
	t.Parallel()

	src, rec, clock := newFakeSource(), newRecorder(), newManualClock()
	c := newController(src, rec, clock)
	defer c.Stop()

	require.NoError(t, c.SetSymbol("AAPL"))
	rec.waitCycle(t)

	clock.Advance(40 * time.Second)
	require.True(t, c.Refresh())
	rec.waitCycle(t)

	// The tick still lands 60s after SetSymbol, not 60s after the refresh.
	clock.Advance(20 * time.Second)
	rec.waitCycle(t)
	require.Equal(t, 3, src.Calls("AAPL"))
}

func TestFailure_KeepsLastQuote(t *testing.T) {
	t.Parallel()

	src, rec, clock := newFakeSource(), newRecorder(), newManualClock()
	c := newController(src, rec, clock)
	defer c.Stop()

	require.NoError(t, c.SetSymbol("AAPL"))
	rec.waitCycle(t)
	first := c.Snapshot().Quote
	require.NotNil(t, first)

	src.setError("AAPL", &quote.Error{Kind: quote.KindSymbolNotFound, Symbol: "AAPL", Msg: "symbol not found"})
	require.True(t, c.Refresh())
	rec.waitCycle(t)

	snap := c.Snapshot()
	require.Equal(t, poller.StateFailed, snap.State)
	require.ErrorIs(t, snap.Err, quote.ErrSymbolNotFound)
	require.Equal(t, first, snap.Quote)
	require.Equal(t, []quote.ErrorKind{quote.KindSymbolNotFound}, rec.Errors())
	require.Len(t, rec.Quotes(), 1)

	src.setError("AAPL", nil)
	clock.Advance(time.Minute)
	rec.waitCycle(t)

	snap = c.Snapshot()
	require.Equal(t, poller.StateSucceeded, snap.State)
	require.NoError(t, snap.Err)
	require.Len(t, rec.Quotes(), 2)
}

func TestStop_NoCallbacksAfterTeardown(t *testing.T) {
	t.Parallel()

	gate := make(chan struct{})
	src, rec, clock := newFakeSource(), newRecorder(), newManualClock()
	c := newController(src, rec, clock)

	require.NoError(t, c.SetSymbol("AAPL"))
	rec.waitCycle(t)

	src.setGate("AAPL", gate)
	clock.Advance(time.Minute)
	require.Eventually(t, func() bool { return src.Calls("AAPL") == 2 }, time.Second, time.Millisecond)

	c.Stop()
	close(gate)
	clock.Advance(5 * time.Minute)
	rec.requireNoCycle(t)

	require.Equal(t, 2, src.Calls("AAPL"))
	require.Len(t, rec.Quotes(), 1)
	require.ErrorIs(t, c.SetSymbol("MSFT"), poller.ErrStopped)
	require.False(t, c.Refresh())
}
