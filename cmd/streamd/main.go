package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gobwas/ws"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/stockpulse/streamcore/cmd/streamd/internal/core"
	"github.com/stockpulse/streamcore/cmd/streamd/internal/dispatch"
	"github.com/stockpulse/streamcore/cmd/streamd/internal/feed"
	"github.com/stockpulse/streamcore/cmd/streamd/internal/gateway"
	"github.com/stockpulse/streamcore/cmd/streamd/internal/hub"
	"github.com/stockpulse/streamcore/pkg/config"
	"github.com/stockpulse/streamcore/pkg/models"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	logger, err := zap.NewProduction()
	if cfg.App.Env == "local" {
		logger, err = zap.NewDevelopment()
	}
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer logger.Sync()

	sinks := buildSinks(cfg, logger)
	svc := core.NewService(logger, sinks)

	dialer := &feed.WSDialer{HandshakeTimeout: cfg.Feed.HandshakeTimeout}
	manager := feed.NewManager(cfg.Feed, dialer, logger,
		svc.ActiveSet,
		svc.HandleFeedPayload,
		svc.HandleFeedState,
	)
	svc.AttachFeed(manager)

	ctx, cancel := context.WithCancel(context.Background())
	go svc.Run(ctx)
	go manager.Run(ctx)

	wsHub := hub.NewHub(svc, logger)

	validTickers := make(map[string]bool)
	for _, t := range cfg.Gateway.ValidTickers {
		validTickers[models.NormalizeTicker(t)] = true
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, _, _, err := ws.UpgradeHTTP(r, w)
		if err != nil {
			return
		}
		client := gateway.NewClient(conn, wsHub, logger, validTickers)
		client.Start()
	})

	// Portfolio CRUD lives elsewhere; it pushes the current position list
	// here and the engine takes over the live valuation.
	mux.HandleFunc("/positions", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut && r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var positions []models.Position
		if err := json.NewDecoder(r.Body).Decode(&positions); err != nil {
			http.Error(w, "invalid positions payload", http.StatusBadRequest)
			return
		}
		svc.SetPositions(positions)
		w.WriteHeader(http.StatusAccepted)
	})

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{
			"connectivity": svc.Connectivity().String(),
		})
	})

	srv := &http.Server{Addr: cfg.Gateway.Port, Handler: mux}

	go func() {
		logger.Info("Gateway started", zap.String("port", cfg.Gateway.Port), zap.String("feed", cfg.Feed.URL))
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			logger.Fatal("HTTP error", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	logger.Info("Shutdown signal received")
	manager.Shutdown()
	wsHub.Detach()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	srv.Shutdown(shutdownCtx)

	cancel()
	for _, sink := range sinks {
		if err := sink.Close(); err != nil {
			logger.Warn("Sink close error", zap.Error(err))
		}
	}
	logger.Info("Shutdown complete")
}

// buildSinks wires the optional out-of-process observers: a Redis mirror
// when an address is configured, a Kafka journal when brokers are.
func buildSinks(cfg *config.Config, logger *zap.Logger) []dispatch.Sink {
	var sinks []dispatch.Sink

	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rdb.Ping(context.Background()).Err(); err != nil {
			logger.Fatal("Failed to connect to Redis", zap.Error(err))
		}
		sinks = append(sinks, dispatch.NewRedisMirror(rdb, cfg.Redis.KeyTTL))
		logger.Info("Redis mirror enabled", zap.String("addr", cfg.Redis.Addr))
	}

	if len(cfg.Kafka.Brokers) > 0 {
		writer := &kafka.Writer{
			Addr:         kafka.TCP(cfg.Kafka.Brokers...),
			Topic:        cfg.Kafka.Topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
			Async:        true,
		}
		sinks = append(sinks, dispatch.NewKafkaJournal(writer))
		logger.Info("Kafka journal enabled", zap.Strings("brokers", cfg.Kafka.Brokers), zap.String("topic", cfg.Kafka.Topic))
	}

	return sinks
}
