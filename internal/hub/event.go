package hub

import (
	"time"

	"quotewatch/internal/poller"
	"quotewatch/internal/quote"
)

const (
	EventQuote    = "quote"
	EventError    = "error"
	EventLoading  = "loading"
	EventSnapshot = "snapshot"
	EventAck      = "ack"
)

// ErrorBody describes a failed cycle or a rejected command.
type ErrorBody struct {
	Kind    quote.ErrorKind `json:"kind"`
	Message string          `json:"message"`
}

// Event is the JSON message pushed to websocket clients.
type Event struct {
	Type    string       `json:"type"`
	Symbol  string       `json:"symbol,omitempty"`
	State   string       `json:"state,omitempty"`
	Quote   *quote.Quote `json:"quote,omitempty"`
	Error   *ErrorBody   `json:"error,omitempty"`
	Loading *bool        `json:"loading,omitempty"`
	At      time.Time    `json:"at"`
}

// SnapshotEvent renders the controller state as a single event.
func SnapshotEvent(s poller.Snapshot) Event {
	loading := s.Loading
	ev := Event{
		Type:    EventSnapshot,
		Symbol:  s.Symbol,
		State:   s.State.String(),
		Quote:   s.Quote,
		Loading: &loading,
		At:      time.Now().UTC(),
	}
	if s.Err != nil {
		ev.Error = &ErrorBody{Kind: quote.KindOf(s.Err), Message: s.Err.Error()}
	}
	return ev
}
