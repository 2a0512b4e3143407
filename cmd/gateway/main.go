// cmd/gateway/main.go
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"fleet-gateway/internal/alerting"
	"fleet-gateway/internal/api"
	"fleet-gateway/internal/auth"
	"fleet-gateway/internal/config"
	"fleet-gateway/internal/dispatch"
	"fleet-gateway/internal/gauge"
	"fleet-gateway/internal/ingest"
	"fleet-gateway/internal/lifecycle"
	"fleet-gateway/internal/logging"
	"fleet-gateway/internal/maintenance"
	"fleet-gateway/internal/mqttsrc"
	"fleet-gateway/internal/scoring"
	"fleet-gateway/internal/storage"
	"fleet-gateway/internal/websocket"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configPath := flag.String("config", ".", "Path to the configuration file directory")
	webDir := flag.String("webdir", "", "Path to the web assets directory (overrides server.web_dir)")
	hashPassword := flag.String("hash-password", "", "Print a bcrypt hash for the users section and exit")
	flag.Parse()

	if *hashPassword != "" {
		hash, err := auth.HashPassword(*hashPassword)
		if err != nil {
			log.Fatalf("hash password: %v", err)
		}
		fmt.Println(hash)
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if *webDir != "" {
		cfg.Server.WebDir = *webDir
	}

	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Format, "fleet-gateway")
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("gateway stopped with error", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	records, err := storage.OpenRecordStore(cfg.Storage.SQLitePath)
	if err != nil {
		return err
	}
	defer records.Close()

	store := storage.NewFleetStore(cfg.Storage.HistorySize)
	hub := websocket.NewHub(logger)

	var publishers []alerting.Publisher
	if cfg.Redis.Enabled {
		rdb := alerting.NewRedisClient(cfg.Redis)
		defer rdb.Close()
		pub := alerting.NewRedisPublisher(rdb, cfg.Redis.Channel)
		if err := pub.Ping(ctx); err != nil {
			logger.Warn("redis unreachable, alerts will retry per publish", zap.String("addr", cfg.Redis.Addr), zap.Error(err))
		}
		publishers = append(publishers, pub)
	}

	scorer := scoring.NewScorer(cfg.Scoring, time.Now)
	engine := maintenance.NewEngine(cfg.Maintenance)
	planner := dispatch.NewPlanner(scorer, engine, cfg.Scoring.FuelThreshold, cfg.Dispatch.IdleDays, time.Now)
	detector := dispatch.NewDetector(cfg.Dispatch.Rules, logger)
	alerter := alerting.NewAlerter(hub, cfg.Alerting.DedupeWindow, logger, publishers...)

	pipeline := ingest.NewPipeline(ingest.Deps{
		Store:    store,
		Detector: detector,
		Planner:  planner,
		Scorer:   scorer,
		Alerter:  alerter,
		Hub:      hub,
		Auditor:  records,
		Logger:   logger,
	})

	handler := api.NewHandler(api.Deps{
		Store:       store,
		Records:     records,
		Pipeline:    pipeline,
		Scorer:      scorer,
		Planner:     planner,
		Maintenance: engine,
		Lifecycle:   lifecycle.NewEngine(cfg.Lifecycle, time.Now),
		Hub:         hub,
		Auth:        auth.NewManager(cfg.Auth),
		Logger:      logger,
		WebDir:      cfg.Server.WebDir,
	})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		hub.Run(ctx)
	}()

	if cfg.Gauge.Enabled {
		poller := gauge.NewPoller(gauge.NewClient(cfg.Gauge, logger), pipeline.GaugeSink(), cfg.Gauge.PollInterval, logger)
		wg.Add(1)
		go func() {
			defer wg.Done()
			poller.Run(ctx)
		}()
	}

	if cfg.MQTT.Enabled {
		sub := mqttsrc.NewSubscriber(cfg.MQTT, logger)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := sub.Run(ctx, pipeline.MQTTHandler()); err != nil {
				logger.Error("mqtt subscriber stopped", zap.Error(err))
			}
		}()
	}

	servers := []*http.Server{
		{Addr: fmt.Sprintf(":%d", cfg.Server.DataPort), Handler: api.SetupDataRouter(handler), ReadHeaderTimeout: 10 * time.Second},
		{Addr: fmt.Sprintf(":%d", cfg.Server.UIPort), Handler: api.SetupUIRouter(handler), ReadHeaderTimeout: 10 * time.Second},
	}

	errCh := make(chan error, len(servers))
	for _, srv := range servers {
		go func(srv *http.Server) {
			logger.Info("starting http server", zap.String("addr", srv.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("listen %s: %w", srv.Addr, err)
			}
		}(srv)
	}

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case runErr = <-errCh:
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	for _, srv := range servers {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("http server shutdown", zap.String("addr", srv.Addr), zap.Error(err))
		}
	}
	wg.Wait()

	logger.Info("gateway stopped")
	return runErr
}
