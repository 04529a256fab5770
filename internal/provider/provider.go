package provider

import (
	"context"
)

// Fetcher returns the raw chart payload for a single symbol.
// Implementations do not retry; the poller owns the refresh policy.
//
//go:generate mockgen -package=cache -destination=cache/mock_fetcher_test.go -source=provider.go Fetcher
type Fetcher interface {
	Name() string
	Fetch(ctx context.Context, symbol string) ([]byte, error)
}
