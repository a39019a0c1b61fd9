package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand/v2"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"telemetry-service/internal/alerting"
	"telemetry-service/internal/api"
	"telemetry-service/internal/catalog"
	"telemetry-service/internal/clock"
	"telemetry-service/internal/config"
	"telemetry-service/internal/db"
	"telemetry-service/internal/health"
	"telemetry-service/internal/influx"
	"telemetry-service/internal/kafka"
	"telemetry-service/internal/latch"
	"telemetry-service/internal/logging"
	"telemetry-service/internal/machine"
	"telemetry-service/internal/metrics"
	"telemetry-service/internal/providers"
	"telemetry-service/internal/simulation"
	"telemetry-service/internal/utils"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the telemetry service",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("config load failed: %w", err)
		}
		logger, err := logging.New(cfg.Logging.Dir, cfg.Logging.Level)
		if err != nil {
			log.Fatal("Logger init failed:", err)
		}
		defer logger.Close()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return run(ctx, cfg, logger)
	},
}

func loadCatalog(path string, logger *logging.Logger) (*catalog.Catalog, error) {
	var (
		cat *catalog.Catalog
		err error
	)
	if path == "" {
		cat, err = catalog.Default()
	} else {
		cat, err = catalog.Load(path)
	}
	if err != nil {
		return nil, err
	}
	for _, rej := range cat.Rejected() {
		logger.Errorf("Sensor catalog: %v", rej)
	}
	return cat, nil
}

func dispatcherConfig(cfg config.Config) alerting.Config {
	return alerting.Config{
		MaintenanceScore:     cfg.Detection.MaintenanceScore,
		SabotageScore:        cfg.Detection.SabotageScore,
		SabotageMinSensors:   cfg.Detection.SabotageMinSensor,
		ForensicWindow:       cfg.Detection.ForensicWindow,
		HistoryWindow:        cfg.Detection.HistoryWindow,
		MaintenanceCallDelay: cfg.Escalation.MaintenanceCallDelay,
		EmergencyCallDelay:   cfg.Escalation.EmergencyCallDelay,
		SMSFallbackDelay:     cfg.Escalation.SMSFallbackDelay,
		ManualSMSDelay:       cfg.Escalation.ManualSMSDelay,
		ChannelTimeout:       cfg.Escalation.ChannelTimeout,
		EmergencyPhones:      cfg.Contacts.EmergencyPhones,
		MaintenanceTeam:      cfg.Contacts.MaintenanceTeam,
		PlantManagers:        cfg.Contacts.PlantManagers,
		EmergencyTeam:        cfg.Contacts.EmergencyTeam,
		HealthTeam:           cfg.Contacts.HealthTeam,
		Voice:                alerting.Voice{Name: cfg.Twilio.Voice, Language: cfg.Twilio.Language},
	}
}

func openStore(ctx context.Context, cfg config.Config, logger *logging.Logger) (db.Store, error) {
	var store db.Store
	err := utils.Retry(ctx, logger, 5, 2*time.Second, func() error {
		s, err := db.Open(ctx, cfg.DB.Driver, cfg.DB.DSN)
		if err != nil {
			return err
		}
		if err := s.Ping(ctx); err != nil {
			_ = s.Close()
			return err
		}
		store = s
		return nil
	})
	return store, err
}

func run(ctx context.Context, cfg config.Config, logger *logging.Logger) error {
	cat, err := loadCatalog(cfg.Catalog.Path, logger)
	if err != nil {
		return fmt.Errorf("sensor catalog: %w", err)
	}

	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("DB connect failed: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Errorf("DB close failed: %v", err)
		} else {
			logger.Infof("DB connection closed")
		}
	}()

	clk := clock.Real{}
	if n, err := db.SeedMachines(ctx, store, cat.Types(), clk.Now()); err != nil {
		return fmt.Errorf("seed machines failed: %w", err)
	} else if n > 0 {
		logger.Infof("Seeded %d machines", n)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	var publisher alerting.Publisher
	if len(cfg.Kafka.Brokers) > 0 && cfg.Kafka.AlertTopic != "" {
		p := kafka.NewPublisher(cfg.Kafka.Brokers, cfg.Kafka.AlertTopic)
		defer p.Close()
		publisher = p
		logger.Infof("Publishing alerts to kafka topic %s", cfg.Kafka.AlertTopic)
	}

	channels, err := providers.Build(cfg, logger)
	if err != nil {
		return err
	}

	var wg sync.WaitGroup
	pool := alerting.NewPool(cfg.Notification.QueueSize, cfg.Notification.MaxWorkers, logger, m)
	pool.Start(&wg)

	l := latch.New()
	tracker := health.New(store, clk, rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())))
	rec := alerting.NewRecorder(store, clk, publisher, m, logger)
	disp := alerting.NewDispatcher(dispatcherConfig(cfg), l, rec, store, channels, pool, clk, m, logger)
	ctrl := machine.NewController(store, cat, tracker, l, rec, disp, clk, m, logger)

	hub := api.NewHub(logger)
	opts := simulation.Options{
		Interval:    cfg.Simulation.TickInterval,
		Parallelism: cfg.Simulation.Parallelism,
		Broadcaster: hub,
	}
	if cfg.Influx.URL != "" {
		exp := influx.New(cfg.Influx.URL, cfg.Influx.Token, cfg.Influx.Org, cfg.Influx.Bucket)
		defer exp.Close()
		opts.Exporter = exp
		logger.Infof("Exporting readings to influxdb bucket %s", cfg.Influx.Bucket)
	}
	loop := simulation.NewLoop(store, cat, simulation.NewGenerator(), ctrl.Guard(disp), clk, m, logger, opts)

	if len(cfg.Kafka.Brokers) > 0 && cfg.Kafka.CommandTopic != "" {
		consumer := kafka.NewCommandConsumer(cfg.Kafka.Brokers, cfg.Kafka.CommandTopic, cfg.Kafka.GroupID, ctrl, logger)
		defer consumer.Close()
		consumer.Start(ctx, &wg)
	}

	h := api.NewHandler(api.Deps{
		Store:   store,
		Modes:   ctrl,
		Health:  tracker,
		Sensors: cat,
		Calls:   disp,
		Hub:     hub,
		Now:     clk.Now,
	}, logger)
	srv := &http.Server{
		Addr:              cfg.API.Port,
		Handler:           api.NewRouter(h, logger, cfg.API.BasePath, reg),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Infof("API started on %s", cfg.API.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf("API run failed: %v", err)
		}
	}()

	_ = loop.Run(ctx)

	logger.Infof("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("API shutdown failed: %v", err)
	}
	pool.Stop()
	wg.Wait()
	logger.Infof("Service stopped")
	return nil
}
