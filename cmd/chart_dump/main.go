package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"os"
	"sort"
	"strings"
	"sync"
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
		symbolsFile string
		outPath     string
		cfgPath     string
		concurrency int
		timeoutSec  int
		maxRetries  int
		rpm         int
	)
	flag.StringVar(&symbolsFile, "symbols-file", "symbols.txt", "symbols, one per line, or a JSON object keyed by symbol")
	flag.StringVar(&outPath, "out", "charts.json", "output JSON file path")
	flag.StringVar(&cfgPath, "config", "", "path to config.json or config.yaml (optional)")
	flag.IntVar(&concurrency, "concurrency", 2, "number of parallel requests")
	flag.IntVar(&timeoutSec, "timeout", 20, "per-symbol timeout seconds")
	flag.IntVar(&maxRetries, "retries", 3, "max retries on network and relay errors")
	flag.IntVar(&rpm, "rpm", 30, "max requests per minute (0 = unlimited)")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.WithError(err).Fatal("config")
	}
	if err := log.Configure(cfg.Log.Level, cfg.Log.Format, "stderr", 0); err != nil {
		log.WithError(err).Fatal("logger")
	}
	entry := log.WithComponent("chart_dump")

	names, err := readSymbols(symbolsFile)
	if err != nil {
		entry.WithError(err).Fatal("read symbols")
	}
	if len(names) == 0 {
		entry.Fatal("no symbols found in symbols-file")
	}
	entry.WithField("count", len(names)).Info("symbols loaded")

	// Rate limiting here is the ticker below; the config limits are for the poller.
	var fetcher provider.Fetcher = pipeline.Relay(cfg, pipeline.HTTPClient(cfg))

	outFile, err := os.Create(outPath)
	if err != nil {
		entry.WithError(err).Fatal("create out")
	}
	defer outFile.Close()
	bw := bufio.NewWriterSize(outFile, 1<<20)
	defer bw.Flush()

	_, _ = bw.WriteString("{")
	first := true
	var writeMu sync.Mutex

	var tokenCh <-chan time.Time
	if rpm > 0 {
		t := time.NewTicker(time.Minute / time.Duration(rpm))
		defer t.Stop()
		tokenCh = t.C
	}

	fetch := func(ctx context.Context, symbol string) ([]byte, error) {
		return fetchWithRetry(ctx, fetcher, symbol, tokenCh, maxRetries, func(attempt int, back time.Duration, err error) {
			entry.WithError(err).WithFields(logger.Fields{"symbol": symbol, "attempt": attempt, "backoff": back.String()}).Warn("retrying")
		})
	}

	jobs := make(chan string, concurrency*2)
	wg := sync.WaitGroup{}
	var okCount, failCount int

	worker := func() {
		defer wg.Done()
		for sym := range jobs {
			ctx, cancel := context.WithTimeout(context.Background(), time.Duration(timeoutSec)*time.Second)
			raw, err := fetch(ctx, sym)
			cancel()
			if err == nil {
				// The relay hands back provider text; only keep it if it parses.
				_, err = quote.Parse(raw, sym)
			}
			if err != nil {
				entry.WithError(err).WithField("symbol", sym).Error("symbol failed")
				writeMu.Lock()
				failCount++
				writeMu.Unlock()
				continue
			}
			key, _ := json.Marshal(sym)

			writeMu.Lock()
			if !first {
				_, _ = bw.WriteString(",")
			} else {
				first = false
			}
			_, _ = bw.Write(key)
			_, _ = bw.WriteString(":")
			_, _ = bw.Write(raw)
			okCount++
			writeMu.Unlock()
		}
	}

	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go worker()
	}
	for _, n := range names {
		jobs <- n
	}
	close(jobs)
	wg.Wait()

	_, _ = bw.WriteString("}")
	if err := bw.Flush(); err != nil {
		entry.WithError(err).Fatal("flush")
	}
	entry.WithFields(logger.Fields{"out": outPath, "ok": okCount, "failed": failCount}).Info("done")
}

// fetchWithRetry fetches symbol, waiting on tokens (when non-nil) before every attempt and
// backing off exponentially after network and relay errors. Both waits end early with ctx.
func fetchWithRetry(ctx context.Context, f provider.Fetcher, symbol string, tokens <-chan time.Time, maxRetries int, onRetry func(attempt int, back time.Duration, err error)) ([]byte, error) {
	for attempt := 0; ; attempt++ {
		if tokens != nil {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-tokens:
			}
		}
		raw, err := f.Fetch(ctx, symbol)
		if err == nil {
			return raw, nil
		}
		kind := quote.KindOf(err)
		if (kind != quote.KindNetwork && kind != quote.KindRelay) || attempt >= maxRetries || ctx.Err() != nil {
			return nil, err
		}

		back := time.Duration(250*(1<<attempt)) * time.Millisecond
		if onRetry != nil {
			onRetry(attempt+1, back, err)
		}
		t := time.NewTimer(back)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		case <-t.C:
		}
	}
}

// readSymbols accepts either a JSON object whose keys are symbols or a plain list with one
// symbol per line. Blank lines and lines starting with # are skipped.
func readSymbols(path string) ([]string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var m map[string]any
	if err := json.Unmarshal(b, &m); err == nil {
		return normalize(keys(m)), nil
	}

	var lines []string
	sc := bufio.NewScanner(strings.NewReader(string(b)))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		lines = append(lines, line)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return normalize(lines), nil
}

func keys(m map[string]any) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

// normalize upper-cases, drops invalid entries and de-duplicates, returning a sorted list.
func normalize(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		sym, err := quote.NormalizeSymbol(s)
		if err != nil {
			continue
		}
		if _, ok := seen[sym]; ok {
			continue
		}
		seen[sym] = struct{}{}
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}
