// Package quote turns a raw chart payload into a normalized single-instrument quote.
package quote

import (
	"encoding/json"
	"strings"
	"time"
)

// SessionPhase is the trading-day state that decides which price feed is authoritative.
type SessionPhase int

const (
	PhaseRegular SessionPhase = iota
	PhasePre
	PhasePreExtended
	PhasePost
	PhasePostExtended
	PhaseClosed
)

var phaseNames = map[SessionPhase]string{
	PhaseRegular:      "REGULAR",
	PhasePre:          "PRE",
	PhasePreExtended:  "PRE_EXTENDED",
	PhasePost:         "POST",
	PhasePostExtended: "POST_EXTENDED",
	PhaseClosed:       "CLOSED",
}

func (p SessionPhase) String() string {
	if s, ok := phaseNames[p]; ok {
		return s
	}
	return "REGULAR"
}

// IsPre reports whether p is a pre-market phase.
func (p SessionPhase) IsPre() bool { return p == PhasePre || p == PhasePreExtended }

// IsPost reports whether p is a post-market phase.
func (p SessionPhase) IsPost() bool { return p == PhasePost || p == PhasePostExtended }

func (p SessionPhase) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.String())
}

func (p *SessionPhase) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	*p = PhaseRegular
	for k, v := range phaseNames {
		if v == s {
			*p = k
			break
		}
	}
	return nil
}

// Quote is the normalized record handed to the display layer.
// It is built in one pass by Resolve and never mutated afterwards.
type Quote struct {
	Symbol         string       `json:"symbol"`
	Currency       string       `json:"currency,omitempty"`
	Price          float64      `json:"price"`
	ReferencePrice float64      `json:"reference_price"`
	Change         float64      `json:"change"`
	ChangePercent  float64      `json:"change_percent"`
	Open           float64      `json:"open"`
	High           float64      `json:"high"`
	Low            float64      `json:"low"`
	Volume         int64        `json:"volume"`
	Phase          SessionPhase `json:"session_phase"`
	// QuoteTime is the provider's market time for Price.
	QuoteTime time.Time `json:"quote_time"`
	// RefreshedAt is the local capture time of the normalization.
	RefreshedAt time.Time `json:"refreshed_at"`
}

// NormalizeSymbol trims and upper-cases s. Blank input is a validation error.
func NormalizeSymbol(s string) (string, error) {
	sym := strings.ToUpper(strings.TrimSpace(s))
	if sym == "" {
		return "", &Error{Kind: KindValidation, Msg: "symbol must not be empty"}
	}
	return sym, nil
}
