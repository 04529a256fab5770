package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"quotewatch/internal/config"
	"quotewatch/internal/hub"
	"quotewatch/internal/logger"
	"quotewatch/internal/pipeline"
	"quotewatch/internal/poller"
	"quotewatch/internal/quote"
)

func main() {
	log := logger.GetLogger()

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.WithError(err).Warn("reading .env")
	}

	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		log.WithError(err).Fatal("config")
	}
	if err := log.Configure(cfg.Log.Level, cfg.Log.Format, cfg.Log.Output, cfg.Log.MaxAge); err != nil {
		log.WithError(err).Fatal("logger")
	}

	hc := pipeline.HTTPClient(cfg)
	fetcher := pipeline.Fetcher(pipeline.Relay(cfg, hc), cfg.Limits)
	src := quote.NewSource(fetcher)

	h := hub.New(log)
	ctrl := poller.New(src, h,
		poller.WithInterval(time.Duration(cfg.Poller.IntervalSec)*time.Second),
		poller.WithTimeout(time.Duration(cfg.Poller.CycleTimeoutSec)*time.Second),
		poller.WithLogger(log),
	)
	h.Attach(ctrl)

	if cfg.Poller.Symbol != "" {
		if err := ctrl.SetSymbol(cfg.Poller.Symbol); err != nil {
			log.WithError(err).Fatal("initial symbol")
		}
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           newHandler(ctrl, h, log.WithComponent("http")),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      20 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.WithFields(logger.Fields{"port": cfg.Server.Port, "symbol": cfg.Poller.Symbol}).Info("server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("server")
		}
	}()

	// graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	ctrl.Stop()
	h.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("shutdown")
	}
	log.Info("server stopped")
}
