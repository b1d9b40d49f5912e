// Command marketspine runs the full market-data spine: feed ->
// normalizer -> distributor -> {publisher, recorder, auxiliary
// sinks}, plus the replay engine and the control-plane HTTP server.
//
// Grounded on _examples/Aidin1998-finalex/cmd/pincex/main.go's
// entrypoint shape (godotenv.Load, build logger, load config, wire
// services, ordered Start, signal.Notify, ordered Stop) and on
// _examples/original_source/src/main_core.cpp for the component
// startup/shutdown ordering (normalizer -> publisher -> recorder ->
// control server -> feed on start; reverse on stop).
package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/marketspine/marketspine/internal/config"
	"github.com/marketspine/marketspine/internal/ctrlglue"
	"github.com/marketspine/marketspine/internal/event"
	"github.com/marketspine/marketspine/internal/logging"
	"github.com/marketspine/marketspine/internal/metrics"
	"github.com/marketspine/marketspine/internal/normalizer"
	"github.com/marketspine/marketspine/internal/pipeline"
	"github.com/marketspine/marketspine/internal/publisher"
	"github.com/marketspine/marketspine/internal/recorder"
	"github.com/marketspine/marketspine/internal/replay"
	"github.com/marketspine/marketspine/internal/symbol"
	"github.com/marketspine/marketspine/internal/wire"
)

const (
	rawEventQueueCap = 100_000
	frameQueueCap    = 100_000
	recorderQueueCap = 100_000
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file found, using process environment")
	}

	configPath := os.Getenv("MARKETSPINE_CONFIG")
	cfg := config.MustLoad[config.Config](configPath)
	zapLogger := logging.NewZap(os.Getenv("MARKETSPINE_ENV") == "production", zapcore.InfoLevel)
	logger := logging.FromZap(zapLogger)

	run(cfg, configPath, logger, zapLogger)
}

// run builds and wires every component, then blocks until an
// interrupt signal, per spec.md §5's component list.
func run(cfg config.Config, configPath string, logger *slog.Logger, zapLogger *zap.Logger) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reg := symbol.New()
	col := metrics.New(prometheus.DefaultRegisterer)

	rawEvents := make(chan event.RawEvent, rawEventQueueCap)
	normalized := make(chan wire.Frame, frameQueueCap)
	recorderIn := make(chan wire.Frame, recorderQueueCap)

	norm := normalizer.New(rawEvents, normalized, reg, col, logger, cfg.Pipeline.NormalizerThreads)
	pub := publisher.New(cfg.Security.Token, cfg.Pipeline.PublisherLanes*1000, reg, col, logger)
	rec := recorder.New(recorderIn, cfg.Storage.Dir, cfg.Storage.RollBytes, cfg.Storage.IndexInterval, cfg.Pipeline.RecorderFsyncMs, col, logger)
	dist := pipeline.New(normalized, reg, pub, recorderIn, col, logger)

	if cfg.Metrics.RedisAuxEnabled {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Metrics.RedisAddr})
		dist.AddSink(pipeline.NewRedisSink(rdb, cfg.Metrics.RedisChannel, col, logger))
	}
	if cfg.Metrics.KafkaAuxEnabled {
		dist.AddSink(pipeline.NewKafkaSink(cfg.Metrics.KafkaAuxBrokers, cfg.Metrics.KafkaAuxTopic, col, logger))
	}

	rep := replay.New(cfg.Storage.Dir, cfg.Storage.Dir+"/.replay-cache", reg, pub, col, logger)
	defer rep.Close()

	feeds := newFeedManager(cfg, configPath, rawEvents, logger)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(ginzap.Ginzap(zapLogger, time.RFC3339, true))
	router.Use(ginzap.RecoveryWithZap(zapLogger, true))
	ctrl := &ctrlglue.Server{Feeds: feeds, Replay: rep, Symbols: reg, Config: feeds, Topics: pub, Recorder: rec}
	ctrl.RegisterRoutes(router)

	// Startup order: normalizer, distributor, publisher, recorder,
	// control server, feeds -- matching
	// original_source/src/main_core.cpp's component ordering.
	norm.Start(ctx)
	dist.Start(ctx)

	if err := pub.Start(ctx, fmt.Sprintf(":%d", cfg.Network.PubSubPort)); err != nil {
		logger.Error("publisher failed to start", "error", err)
		os.Exit(1)
	}
	if err := rec.Start(ctx); err != nil {
		logger.Error("recorder failed to start", "error", err)
		os.Exit(1)
	}

	ctrlAddr := fmt.Sprintf(":%d", cfg.Network.CtrlHTTPPort)
	go func() {
		logger.Info("control server listening", "addr", ctrlAddr)
		if err := router.Run(ctrlAddr); err != nil {
			logger.Error("control server exited", "error", err)
		}
	}()

	wsMux := http.NewServeMux()
	wsMux.HandleFunc("/ws", pub.ServeWS)
	wsAddr := fmt.Sprintf(":%d", cfg.Network.WSMetricsPort)
	wsServer := &http.Server{Addr: wsAddr, Handler: wsMux}
	go func() {
		logger.Info("websocket bridge listening", "addr", wsAddr)
		if err := wsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("websocket bridge exited", "error", err)
		}
	}()

	if cfg.Feeds.MockEnabled {
		if err := feeds.StartFeed("mock"); err != nil {
			logger.Error("mock feed failed to start", "error", err)
		}
	}
	if cfg.Feeds.KafkaEnabled {
		if err := feeds.StartFeed("kafka"); err != nil {
			logger.Error("kafka feed failed to start", "error", err)
		}
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down")

	// Shutdown order is the reverse of startup.
	feeds.StopAll()
	_ = wsServer.Shutdown(context.Background())
	cancel()
	rec.Stop()
	pub.Stop()
	dist.Stop()
	norm.Stop()

	logger.Info("marketspine exited cleanly")
}
