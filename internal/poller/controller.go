// Package poller keeps one tracked symbol's quote fresh and reports every change to a Listener.
package poller

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"quotewatch/internal/logger"
	"quotewatch/internal/quote"
)

const DefaultInterval = 60 * time.Second

// ErrStopped is returned by SetSymbol after Stop.
var ErrStopped = errors.New("poller stopped")

// Source produces one normalized quote per call.
type Source interface {
	Quote(ctx context.Context, symbol string) (quote.Quote, error)
}

// Listener receives the controller's outbound signals.
//
// Methods are called with the controller's lock held, in the order the events happen.
// They must return quickly and must not call back into the Controller.
type Listener interface {
	OnQuoteUpdated(q quote.Quote)
	OnError(kind quote.ErrorKind, message string)
	OnLoadingChanged(loading bool)
}

// State is the controller's position in the fetch cycle.
type State int

const (
	StateIdle State = iota
	StateFetching
	StateSucceeded
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateFetching:
		return "FETCHING"
	case StateSucceeded:
		return "SUCCEEDED"
	case StateFailed:
		return "FAILED"
	default:
		return "IDLE"
	}
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Snapshot is a consistent copy of the controller's state.
type Snapshot struct {
	Symbol  string
	State   State
	Loading bool
	// Quote is the last successfully published quote for Symbol, if any.
	Quote *quote.Quote
	// Err is the error of the last cycle when State is StateFailed.
	Err error
}

// Controller owns the refresh cadence for a single tracked symbol.
//
// At most one cycle is in flight at a time. Every timer callback and cycle result carries
// the generation it was started under; SetSymbol and Stop bump the generation, so nothing
// armed for a previous symbol can publish after they return.
type Controller struct {
	src      Source
	listener Listener
	clock    Clock
	interval time.Duration
	timeout  time.Duration
	log      *logger.Entry

	mu       sync.Mutex
	gen      uint64
	symbol   string
	state    State
	inFlight bool
	last     *quote.Quote
	lastErr  error
	timer    Timer
	cancel   context.CancelFunc
	stopped  bool
}

// Option configures a Controller.
type Option func(*Controller)

// WithInterval sets the refresh interval. Non-positive values keep the default.
func WithInterval(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.interval = d
		}
	}
}

// WithTimeout bounds each cycle. Zero means no deadline beyond cancellation.
func WithTimeout(d time.Duration) Option {
	return func(c *Controller) {
		c.timeout = d
	}
}

// WithClock replaces the wall clock.
func WithClock(clock Clock) Option {
	return func(c *Controller) {
		c.clock = clock
	}
}

// WithLogger sets the log entry used for cycle diagnostics.
func WithLogger(l *logger.Log) Option {
	return func(c *Controller) {
		c.log = l.WithComponent("poller")
	}
}

func New(src Source, listener Listener, opts ...Option) *Controller {
	c := &Controller{
		src:      src,
		listener: listener,
		clock:    realClock{},
		interval: DefaultInterval,
		log:      logger.GetLogger().WithComponent("poller"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetSymbol starts tracking symbol. Any timer and in-flight cycle for the previous symbol
// are cancelled before it returns, prior quote and error are cleared, and a cycle for the
// new symbol starts immediately.
func (c *Controller) SetSymbol(symbol string) error {
	sym, err := quote.NormalizeSymbol(symbol)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return ErrStopped
	}

	c.disarmLocked()
	c.gen++
	prev := c.symbol
	c.symbol = sym
	c.state = StateIdle
	c.last = nil
	c.lastErr = nil
	c.log.WithFields(logger.Fields{"symbol": sym, "previous": prev}).Info("tracking symbol")

	c.armLocked(c.gen)
	c.startCycleLocked(c.gen, "symbol")
	return nil
}

// Refresh runs one out-of-band cycle. It is a no-op, returning false, while a cycle is
// already in flight or before a symbol is set. The timer schedule is not touched.
func (c *Controller) Refresh() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped || c.symbol == "" {
		return false
	}
	return c.startCycleLocked(c.gen, "manual")
}

// Stop de-schedules the timer and cancels any in-flight cycle. No listener call happens
// after Stop returns.
func (c *Controller) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return
	}
	c.stopped = true
	c.disarmLocked()
	c.gen++
	c.log.WithField("symbol", c.symbol).Info("poller stopped")
}

func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := Snapshot{
		Symbol:  c.symbol,
		State:   c.state,
		Loading: c.inFlight,
		Err:     c.lastErr,
	}
	if c.last != nil {
		q := *c.last
		s.Quote = &q
	}
	return s
}

func (c *Controller) disarmLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.inFlight = false
}

func (c *Controller) armLocked(gen uint64) {
	c.timer = c.clock.AfterFunc(c.interval, func() { c.tick(gen) })
}

func (c *Controller) tick(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	// The timer may have fired while SetSymbol or Stop held the lock.
	if c.stopped || gen != c.gen {
		return
	}
	c.armLocked(gen)
	c.startCycleLocked(gen, "timer")
}

func (c *Controller) startCycleLocked(gen uint64, trigger string) bool {
	if c.inFlight {
		c.log.WithFields(logger.Fields{"symbol": c.symbol, "trigger": trigger}).Debug("cycle already in flight")
		return false
	}
	c.inFlight = true
	c.state = StateFetching

	var ctx context.Context
	var cancel context.CancelFunc
	if c.timeout > 0 {
		ctx, cancel = context.WithTimeout(context.Background(), c.timeout)
	} else {
		ctx, cancel = context.WithCancel(context.Background())
	}
	c.cancel = cancel
	c.listener.OnLoadingChanged(true)

	entry := c.log.WithFields(logger.Fields{
		"symbol":   c.symbol,
		"trigger":  trigger,
		"cycle_id": uuid.NewString(),
	})
	go c.runCycle(ctx, cancel, gen, c.symbol, entry)
	return true
}

func (c *Controller) runCycle(ctx context.Context, cancel context.CancelFunc, gen uint64, symbol string, entry *logger.Entry) {
	start := c.clock.Now()
	q, err := c.src.Quote(ctx, symbol)
	cancel()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped || gen != c.gen {
		entry.Debug("discarding result for superseded cycle")
		return
	}
	c.inFlight = false
	c.cancel = nil

	if err != nil {
		c.state = StateFailed
		c.lastErr = err
		kind := quote.KindOf(err)
		entry.WithError(err).WithField("kind", kind.String()).Warn("quote cycle failed")
		c.listener.OnError(kind, err.Error())
	} else {
		c.state = StateSucceeded
		c.last = &q
		c.lastErr = nil
		logger.LogPerformanceEntry(entry, "quote_cycle", c.clock.Now().Sub(start), logger.Fields{
			"price": q.Price,
			"phase": q.Phase.String(),
		})
		c.listener.OnQuoteUpdated(q)
	}
	c.listener.OnLoadingChanged(false)
}
