package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/stockpulse/streamcore/internal/simulator"
)

// Base prices for the simulated universe; anything else is unknown to the
// provider and silently ignored on subscribe.
var basePrices = map[string]float64{
	"AAPL": 185.0,
	"MSFT": 410.0,
	"GOOG": 140.0,
	"TSLA": 250.0,
	"AMZN": 175.0,
	"NVDA": 880.0,
}

func main() {
	logger, err := zap.NewDevelopment()
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sim := simulator.NewServer(logger, basePrices, 100*time.Millisecond)

	mux := http.NewServeMux()
	mux.HandleFunc("/feed", sim.Handler(ctx))

	addr := os.Getenv("FEEDSIM_ADDR")
	if addr == "" {
		addr = ":9100"
	}
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		logger.Info("Feed simulator started", zap.String("addr", addr), zap.Int("tickers", len(basePrices)))
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			logger.Fatal("HTTP error", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	cancel()
	srv.Shutdown(context.Background())
	logger.Info("Shutdown complete")
}
