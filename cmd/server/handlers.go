package main

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"quotewatch/internal/hub"
	"quotewatch/internal/logger"
	"quotewatch/internal/middleware"
	"quotewatch/internal/poller"
	"quotewatch/internal/quote"
)

type symbolBody struct {
	Symbol string `json:"symbol"`
}

type refreshResponse struct {
	Started bool `json:"started"`
}

type errorResponse struct {
	Error hub.ErrorBody `json:"error"`
}

const maxBody = 1 << 10

func newHandler(tracker hub.Tracker, ws http.Handler, log *logger.Entry) http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}).Methods(http.MethodGet)
	r.HandleFunc("/api/quote", func(w http.ResponseWriter, _ *http.Request) {
		handleGetQuote(w, tracker)
	}).Methods(http.MethodGet)
	r.HandleFunc("/api/symbol", func(w http.ResponseWriter, req *http.Request) {
		handleSetSymbol(w, req, tracker)
	}).Methods(http.MethodPut, http.MethodPost)
	r.HandleFunc("/api/refresh", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusAccepted, refreshResponse{Started: tracker.Refresh()})
	}).Methods(http.MethodPost)
	if ws != nil {
		r.Handle("/ws", ws).Methods(http.MethodGet)
	}

	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
	})
	return middleware.Chain(r,
		c.Handler,
		middleware.RequestLog(log),
		middleware.JSON,
		middleware.Gzip,
		middleware.Recover(log),
		middleware.LimitBody(maxBody),
	)
}

func handleGetQuote(w http.ResponseWriter, tracker hub.Tracker) {
	snap := tracker.Snapshot()
	if snap.Symbol == "" {
		writeError(w, http.StatusNotFound, quote.KindValidation, "no symbol tracked")
		return
	}
	writeJSON(w, http.StatusOK, hub.SnapshotEvent(snap))
}

func handleSetSymbol(w http.ResponseWriter, r *http.Request, tracker hub.Tracker) {
	var b symbolBody
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&b); err != nil {
		writeError(w, http.StatusBadRequest, quote.KindValidation, "invalid JSON body")
		return
	}
	if err := tracker.SetSymbol(b.Symbol); err != nil {
		switch {
		case errors.Is(err, quote.ErrValidation):
			writeError(w, http.StatusBadRequest, quote.KindValidation, err.Error())
		case errors.Is(err, poller.ErrStopped):
			writeError(w, http.StatusServiceUnavailable, quote.KindUnknown, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, quote.KindOf(err), err.Error())
		}
		return
	}
	writeJSON(w, http.StatusAccepted, hub.SnapshotEvent(tracker.Snapshot()))
}

func writeError(w http.ResponseWriter, code int, kind quote.ErrorKind, msg string) {
	writeJSON(w, code, errorResponse{Error: hub.ErrorBody{Kind: kind, Message: msg}})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.WriteHeader(code)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}
