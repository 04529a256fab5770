package quote

import (
	"math"
	"strings"
	"time"
)

// ClassifySession maps the provider's marketState onto a SessionPhase.
// Absent or unrecognized states are REGULAR.
func ClassifySession(marketState string) SessionPhase {
	switch strings.ToUpper(strings.TrimSpace(marketState)) {
	case "PRE", "PREPRE":
		return PhasePre
	case "POST", "POSTPOST":
		return PhasePost
	case "CLOSED":
		return PhaseClosed
	default:
		return PhaseRegular
	}
}

// Resolve builds the normalized Quote for one payload.
//
// A price of 0 counts as "no data" in every price fallback, so a genuinely zero-priced
// instrument cannot be represented. Volume is different: 0 is a real value.
// now is the capture time; it becomes RefreshedAt and, if the payload carries no market
// time at all, QuoteTime. Resolve is pure for a fixed now.
func Resolve(p Payload, requested string, now time.Time) Quote {
	m := p.Meta
	phase := ClassifySession(m.MarketState)

	price := firstPrice(m.PostMarketPrice, m.RegularMarketPrice, m.PreMarketPrice, m.PreviousClose)

	ref := price
	if v, ok := priceOf(m.PreviousClose); ok {
		ref = v
	}

	var basis float64
	if v, ok := priceOf(m.PostMarketPrice); ok && phase.IsPost() {
		basis = v
	} else if v, ok := priceOf(m.PreMarketPrice); ok && phase.IsPre() {
		basis = v
	} else if v, ok := priceOf(m.RegularMarketPrice); ok {
		basis = v
	} else {
		basis = price
	}
	change := basis - ref
	var changePct float64
	if ref != 0 {
		changePct = change / ref * 100
	}

	sessionPrice := price
	if v, ok := priceOf(m.RegularMarketPrice); ok {
		sessionPrice = v
	}
	open, ok := firstSample(p.Samples.Open)
	if !ok {
		open = sessionPrice
	}
	high, ok := reduceSamples(p.Samples.High, math.Max)
	if !ok {
		high = price
	}
	low, ok := reduceSamples(p.Samples.Low, math.Min)
	if !ok {
		low = price
	}

	volume := volumeOf(m.RegularMarketVolume)

	symbol := strings.TrimSpace(m.Symbol)
	if symbol == "" {
		symbol = requested
	}

	return Quote{
		Symbol:         symbol,
		Currency:       m.Currency,
		Price:          price,
		ReferencePrice: ref,
		Change:         change,
		ChangePercent:  changePct,
		Open:           open,
		High:           high,
		Low:            low,
		Volume:         volume,
		Phase:          phase,
		QuoteTime:      quoteTime(m, now),
		RefreshedAt:    now,
	}
}

// priceOf reports the value of a price field, treating absent, zero, negative and
// non-finite values as unset.
func priceOf(v *float64) (float64, bool) {
	if v == nil || *v <= 0 || math.IsInf(*v, 0) || math.IsNaN(*v) {
		return 0, false
	}
	return *v, true
}

func firstPrice(candidates ...*float64) float64 {
	for _, c := range candidates {
		if v, ok := priceOf(c); ok {
			return v
		}
	}
	return 0
}

// firstSample returns the first usable sample. The provider pads the start of the session
// with nulls, so those are skipped rather than treated as a missing open.
func firstSample(samples []*float64) (float64, bool) {
	for _, s := range samples {
		if v, ok := priceOf(s); ok {
			return v, true
		}
	}
	return 0, false
}

// volumeOf converts the provider's float volume, clamping to the int64 range. Absent,
// negative and NaN volumes are 0.
func volumeOf(v *float64) int64 {
	if v == nil || !(*v > 0) {
		return 0
	}
	if *v >= math.MaxInt64 {
		return math.MaxInt64
	}
	return int64(*v)
}

// reduceSamples folds the usable samples with fn. It reports false when there is nothing
// to fold, so callers never see ±Inf from an empty input.
func reduceSamples(samples []*float64, fn func(a, b float64) float64) (float64, bool) {
	var acc float64
	found := false
	for _, s := range samples {
		v, ok := priceOf(s)
		if !ok {
			continue
		}
		if !found {
			acc, found = v, true
			continue
		}
		acc = fn(acc, v)
	}
	return acc, found
}

func quoteTime(m Meta, now time.Time) time.Time {
	for _, ts := range []*int64{m.PostMarketTime, m.RegularMarketTime, m.PreMarketTime} {
		if ts != nil && *ts > 0 {
			return time.Unix(*ts, 0).UTC()
		}
	}
	return time.Unix(now.Unix(), 0).UTC()
}
