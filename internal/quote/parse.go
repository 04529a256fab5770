package quote

import (
	"encoding/json"
	"strings"
)

// Meta is the provider's per-result metadata block. Optional numbers are pointers so an
// absent field can be told apart from a zero.
type Meta struct {
	Symbol              string   `json:"symbol"`
	MarketState         string   `json:"marketState"`
	RegularMarketPrice  *float64 `json:"regularMarketPrice"`
	RegularMarketTime   *int64   `json:"regularMarketTime"`
	RegularMarketVolume *float64 `json:"regularMarketVolume"`
	PreviousClose       *float64 `json:"previousClose"`
	PreMarketPrice      *float64 `json:"preMarketPrice"`
	PreMarketTime       *int64   `json:"preMarketTime"`
	PostMarketPrice     *float64 `json:"postMarketPrice"`
	PostMarketTime      *int64   `json:"postMarketTime"`
	Currency            string   `json:"currency"`
}

// Samples holds the per-interval sample arrays. Entries may be null.
type Samples struct {
	Open []*float64 `json:"open"`
	High []*float64 `json:"high"`
	Low  []*float64 `json:"low"`
}

// Payload is the validated subset of a chart response needed by Resolve.
type Payload struct {
	Meta    Meta    `json:"meta"`
	Samples Samples `json:"samples"`
}

type chartResponse struct {
	Chart struct {
		Result []chartResult `json:"result"`
		Error  *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

type chartResult struct {
	Meta       *Meta `json:"meta"`
	Indicators *struct {
		Quote []*Samples `json:"quote"`
	} `json:"indicators"`
}

// Parse decodes the inner provider payload returned by the relay.
// requested is only used to label a SymbolNotFound error.
func Parse(raw []byte, requested string) (Payload, error) {
	var resp chartResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return Payload{}, &Error{Kind: KindMalformedResponse, Symbol: requested, Msg: "decoding chart response", Err: err}
	}

	if len(resp.Chart.Result) == 0 {
		msg := "symbol not found"
		if e := resp.Chart.Error; e != nil && strings.TrimSpace(e.Description) != "" {
			msg = "symbol not found (" + strings.TrimSpace(e.Description) + ")"
		}
		return Payload{}, &Error{Kind: KindSymbolNotFound, Symbol: requested, Msg: msg}
	}

	first := resp.Chart.Result[0]
	if first.Meta == nil {
		return Payload{}, &Error{Kind: KindIncompleteData, Symbol: requested, Msg: "chart result has no meta block"}
	}
	if first.Indicators == nil || len(first.Indicators.Quote) == 0 || first.Indicators.Quote[0] == nil {
		return Payload{}, &Error{Kind: KindIncompleteData, Symbol: requested, Msg: "chart result has no quote samples"}
	}

	return Payload{Meta: *first.Meta, Samples: *first.Indicators.Quote[0]}, nil
}
