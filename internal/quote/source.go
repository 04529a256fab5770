package quote

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/singleflight"

	"quotewatch/internal/provider"
)

// Source runs one fetch, parse and resolve cycle per call.
// Concurrent calls for the same symbol share a single upstream request.
type Source struct {
	fetcher provider.Fetcher
	now     func() time.Time

	sf singleflight.Group
}

// SourceOption configures a Source.
type SourceOption func(*Source)

// WithNow overrides the capture clock used for RefreshedAt.
func WithNow(now func() time.Time) SourceOption {
	return func(s *Source) {
		s.now = now
	}
}

func NewSource(f provider.Fetcher, opts ...SourceOption) *Source {
	s := &Source{fetcher: f, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Source) Name() string { return s.fetcher.Name() }

// Quote fetches and normalizes the quote for symbol.
//
// A caller that gives up abandons the shared flight, so later callers start their own.
// A caller whose context is still live when the shared flight dies of another caller's
// cancellation retries once on a fresh flight.
func (s *Source) Quote(ctx context.Context, symbol string) (Quote, error) {
	sym, err := NormalizeSymbol(symbol)
	if err != nil {
		return Quote{}, err
	}

	for attempt := 0; ; attempt++ {
		ch := s.sf.DoChan(sym, func() (any, error) {
			return s.cycle(ctx, sym)
		})

		select {
		case <-ctx.Done():
			s.sf.Forget(sym)
			return Quote{}, &Error{Kind: KindNetwork, Symbol: sym, Msg: "waiting for quote", Err: ctx.Err()}
		case res := <-ch:
			if res.Err == nil {
				return res.Val.(Quote), nil
			}
			if res.Shared && attempt == 0 && ctx.Err() == nil && isCancellation(res.Err) {
				s.sf.Forget(sym)
				continue
			}
			return Quote{}, res.Err
		}
	}
}

func (s *Source) cycle(ctx context.Context, sym string) (Quote, error) {
	raw, err := s.fetcher.Fetch(ctx, sym)
	if err != nil {
		var qe *Error
		if errors.As(err, &qe) {
			return Quote{}, err
		}
		return Quote{}, &Error{Kind: KindNetwork, Symbol: sym, Msg: "fetching chart", Err: err}
	}
	p, err := Parse(raw, sym)
	if err != nil {
		return Quote{}, err
	}
	return Resolve(p, sym, s.now()), nil
}

func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
