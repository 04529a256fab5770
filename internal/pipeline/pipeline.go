// Package pipeline assembles the fetcher chain from config: relay client, rate limit, cache.
package pipeline

import (
	"net/http"
	"time"

	"quotewatch/internal/config"
	"quotewatch/internal/httpx"
	"quotewatch/internal/provider"
	"quotewatch/internal/provider/cache"
	"quotewatch/internal/provider/ratelimit"
	"quotewatch/internal/provider/relay"
)

// HTTPClient builds the shared outbound client for cfg.
func HTTPClient(cfg config.Config) *httpx.Client {
	hc := httpx.New(time.Duration(cfg.Server.RequestTimeoutSec) * time.Second)
	if cfg.Relay.UserAgent != "" {
		hc.UserAgent = cfg.Relay.UserAgent
	}
	return hc
}

// Relay builds the bare relay client.
func Relay(cfg config.Config, hc relay.HTTPClient) *relay.Client {
	return relay.New(
		relay.WithHTTPClient(hc),
		relay.WithRelayURL(cfg.Relay.RelayURL),
		relay.WithProviderURL(cfg.Relay.ProviderURL),
		relay.WithInterval(cfg.Relay.Interval),
		relay.WithRange(cfg.Relay.Range),
		relay.WithHeader(http.Header{"Cache-Control": []string{"no-cache"}}),
	)
}

// Fetcher wraps f with the configured limits. A token bucket is preferred when a per-minute
// rate is set, otherwise a minimum interval. The cache sits outermost so hits skip the limiter.
func Fetcher(f provider.Fetcher, l config.Limits) provider.Fetcher {
	if l.MaxRequestsPerMinute > 0 {
		f = ratelimit.NewTokenBucket(f, l.MaxRequestsPerMinute, l.Burst)
	} else if l.MinRequestIntervalSec > 0 {
		f = &ratelimit.MinInterval{F: f, Interval: time.Duration(l.MinRequestIntervalSec) * time.Second}
	}
	if l.CacheTTLSeconds > 0 {
		f = &cache.Fetcher{F: f, TTL: time.Duration(l.CacheTTLSeconds) * time.Second, MaxItems: l.CacheMaxItems}
	}
	return f
}
