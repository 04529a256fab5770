package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"quotewatch/internal/config"
	"quotewatch/internal/logger"
	"quotewatch/internal/pipeline"
	"quotewatch/internal/provider"
	"quotewatch/internal/quote"
)

func main() {
	log := logger.GetLogger()
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.WithError(err).Warn("reading .env")
	}

	var (
		symbolsCSV string
		configPath string
		timeout    int
		raw        bool
	)
	flag.StringVar(&symbolsCSV, "symbols", getenv("SYMBOLS", "AAPL"), "comma-separated symbols")
	flag.StringVar(&configPath, "config", getenv("CONFIG_FILE", ""), "path to config.json or config.yaml (optional)")
	flag.IntVar(&timeout, "timeout", 0, "request timeout seconds (overrides config)")
	flag.BoolVar(&raw, "raw", false, "print the parsed provider payload instead of the resolved quote")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		log.WithError(err).Fatal("config")
	}
	if timeout > 0 {
		cfg.Server.RequestTimeoutSec = timeout
	}
	if err := log.Configure(cfg.Log.Level, "text", "stderr", 0); err != nil {
		log.WithError(err).Fatal("logger")
	}

	symbols := splitCSV(symbolsCSV)
	if len(symbols) == 0 {
		log.Fatal("no symbols provided")
	}

	hc := pipeline.HTTPClient(cfg)
	fetcher := pipeline.Fetcher(pipeline.Relay(cfg, hc), cfg.Limits)
	src := quote.NewSource(fetcher)

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.RequestTimeoutSec*len(symbols))*time.Second)
	defer cancel()

	failed := 0
	for _, sym := range symbols {
		start := time.Now()
		var v any
		if raw {
			v, err = fetchPayload(ctx, fetcher, sym)
		} else {
			v, err = src.Quote(ctx, sym)
		}
		entry := log.WithFields(logger.Fields{"symbol": sym})
		if err != nil {
			failed++
			entry.WithError(err).WithField("kind", quote.KindOf(err).String()).Error("fetch failed")
			continue
		}
		logger.LogPerformanceEntry(entry, "fetch", time.Since(start), nil)
		b, _ := json.MarshalIndent(v, "", "  ")
		fmt.Println(string(b))
	}
	if failed == len(symbols) {
		os.Exit(1)
	}
}

func fetchPayload(ctx context.Context, f provider.Fetcher, symbol string) (quote.Payload, error) {
	sym, err := quote.NormalizeSymbol(symbol)
	if err != nil {
		return quote.Payload{}, err
	}
	b, err := f.Fetch(ctx, sym)
	if err != nil {
		return quote.Payload{}, err
	}
	return quote.Parse(b, sym)
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
