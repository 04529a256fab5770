package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"quotewatch/internal/quote"
)

const (
	defaultRelayURL    = "https://api.allorigins.win/get"
	defaultProviderURL = "https://query1.finance.yahoo.com"
	defaultInterval    = "1d"
	defaultRange       = "1d"
)

// HTTPClient describes an HTTP client.
//
//go:generate mockgen -package=relay_test -destination=mock_http_client_test.go -source=client.go HTTPClient
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client fetches chart payloads through a CORS relay.
type Client struct {
	// relayURL is the relay endpoint; the provider URL is passed as its url parameter.
	relayURL string
	// providerURL is the chart provider's base URL.
	providerURL string
	interval    string
	rng         string
	httpClient  HTTPClient
	// header contains additional headers to be sent with each request.
	header http.Header
}

// Option is a configuration option for the relay client.
type Option func(*Client)

// WithRelayURL sets the relay endpoint.
func WithRelayURL(relayURL string) Option {
	return func(c *Client) {
		if relayURL != "" {
			c.relayURL = relayURL
		}
	}
}

// WithProviderURL sets the chart provider's base URL.
func WithProviderURL(providerURL string) Option {
	return func(c *Client) {
		if providerURL != "" {
			c.providerURL = providerURL
		}
	}
}

// WithHTTPClient sets the HTTP client.
func WithHTTPClient(httpClient HTTPClient) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithHeader sets additional headers to be sent with each request.
func WithHeader(header http.Header) Option {
	return func(c *Client) {
		for key, values := range header {
			for _, value := range values {
				c.header.Add(key, value)
			}
		}
	}
}

// WithInterval sets the chart sample interval.
func WithInterval(interval string) Option {
	return func(c *Client) {
		if interval != "" {
			c.interval = interval
		}
	}
}

// WithRange sets the chart range.
func WithRange(rng string) Option {
	return func(c *Client) {
		if rng != "" {
			c.rng = rng
		}
	}
}

func New(options ...Option) *Client {
	c := &Client{
		relayURL:    defaultRelayURL,
		providerURL: defaultProviderURL,
		interval:    defaultInterval,
		rng:         defaultRange,
		httpClient:  http.DefaultClient,
		header:      http.Header{},
	}
	for _, option := range options {
		option(c)
	}
	return c
}

func (c *Client) Name() string { return "relay" }

// ChartURL is the provider URL the relay is asked to fetch.
func (c *Client) ChartURL(symbol string) string {
	query := url.Values{}
	query.Set("interval", c.interval)
	query.Set("range", c.rng)
	return fmt.Sprintf("%s/v8/finance/chart/%s?%s", c.providerURL, url.PathEscape(symbol), query.Encode())
}

// RequestURL is the relay URL actually requested for symbol.
func (c *Client) RequestURL(symbol string) string {
	return c.relayURL + "?url=" + url.QueryEscape(c.ChartURL(symbol))
}

// envelope is the relay response. contents holds the provider body as a JSON string.
type envelope struct {
	Contents *string `json:"contents"`
}

// Fetch returns the provider payload for symbol. It makes exactly one request.
func (c *Client) Fetch(ctx context.Context, symbol string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.RequestURL(symbol), http.NoBody)
	if err != nil {
		return nil, &quote.Error{Kind: quote.KindNetwork, Symbol: symbol, Msg: "creating request", Err: err}
	}
	req.Header = c.header.Clone()
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/json")
	}

	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &quote.Error{Kind: quote.KindNetwork, Symbol: symbol, Msg: "performing request", Err: err}
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(res.Body, 2<<10))
		return nil, &quote.Error{
			Kind:   quote.KindNetwork,
			Symbol: symbol,
			Msg:    fmt.Sprintf("unexpected status code: %d", res.StatusCode),
			Err:    bodyError(b),
		}
	}

	var env envelope
	if err := json.NewDecoder(res.Body).Decode(&env); err != nil {
		return nil, &quote.Error{Kind: quote.KindRelay, Symbol: symbol, Msg: "decoding relay envelope", Err: err}
	}
	if env.Contents == nil {
		return nil, &quote.Error{Kind: quote.KindRelay, Symbol: symbol, Msg: "relay envelope has no contents"}
	}
	return []byte(*env.Contents), nil
}

func bodyError(b []byte) error {
	if len(b) == 0 {
		return nil
	}
	return fmt.Errorf("%s", b)
}
