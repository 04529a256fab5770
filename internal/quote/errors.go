package quote

import (
	"context"
	"errors"
	"fmt"
)

// ErrorKind classifies why a fetch cycle failed.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindValidation
	KindNetwork
	KindRelay
	KindMalformedResponse
	KindSymbolNotFound
	KindIncompleteData
)

func (k ErrorKind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNetwork:
		return "network"
	case KindRelay:
		return "relay"
	case KindMalformedResponse:
		return "malformed_response"
	case KindSymbolNotFound:
		return "symbol_not_found"
	case KindIncompleteData:
		return "incomplete_data"
	default:
		return "unknown"
	}
}

func (k ErrorKind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

func (k *ErrorKind) UnmarshalText(b []byte) error {
	for c := KindUnknown; c <= KindIncompleteData; c++ {
		if c.String() == string(b) {
			*k = c
			return nil
		}
	}
	return fmt.Errorf("unknown error kind %q", b)
}

// Error is the typed failure returned by the fetcher, parser and source.
type Error struct {
	Kind ErrorKind
	// Symbol is the requested symbol, when known.
	Symbol string
	Msg    string
	Err    error
}

// Sentinels for errors.Is. They match any *Error of the same kind.
var (
	ErrValidation        = &Error{Kind: KindValidation}
	ErrNetwork           = &Error{Kind: KindNetwork}
	ErrRelay             = &Error{Kind: KindRelay}
	ErrMalformedResponse = &Error{Kind: KindMalformedResponse}
	ErrSymbolNotFound    = &Error{Kind: KindSymbolNotFound}
	ErrIncompleteData    = &Error{Kind: KindIncompleteData}
)

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = e.Kind.String()
	}
	if e.Kind == KindSymbolNotFound && e.Symbol != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Symbol)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches sentinel errors by kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Symbol == "" && t.Msg == "" && t.Err == nil
}

// KindOf returns the ErrorKind of err. Context cancellation and deadlines count as network
// failures since they only happen while waiting on the transport.
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindUnknown
	}
	var qe *Error
	if errors.As(err, &qe) {
		return qe.Kind
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return KindNetwork
	}
	return KindUnknown
}
