package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"sleepywoodpecker/arff-collector/configs"
	"sleepywoodpecker/arff-collector/internal/api"
	"sleepywoodpecker/arff-collector/internal/collector"
	"sleepywoodpecker/arff-collector/internal/dataset"
	"sleepywoodpecker/arff-collector/internal/logger"
	"sleepywoodpecker/arff-collector/internal/mqttsource"
	"sleepywoodpecker/arff-collector/internal/persistence"
	"sleepywoodpecker/arff-collector/internal/rserial"
)

const HTTP_SHUTDOWN_TIMEOUT = 5 * time.Second

func main() {
	cfg := configs.LoadConfig()

	// first initialize the main logger
	log, err := logger.NewLogger(cfg.App.LogFilePath, cfg.App.LogLevel)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	if err := run(cfg, log); err != nil {
		log.Error("[main] exited with error", zap.Error(err))
		os.Exit(1)
	}
}

func run(cfg *configs.Config, log *zap.Logger) (err error) {
	// context handler for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigCh:
			log.Info("[main] received signal, shutting down", zap.Stringer("signal", sig))
			cancel()
		case <-ctx.Done():
		}
	}()

	sensors := dataset.ParseSensorSet(cfg.Dataset.Sensors)
	if len(sensors) == 0 {
		sensors = dataset.AllSensors
	}
	datasetName := dataset.WithSuffix(cfg.Dataset.Name)

	registry := dataset.NewRegistry(func() dataset.Dataset {
		return dataset.New(datasetName, dataset.Header(sensors), sensors)
	})

	worker, err := persistence.NewWorker(cfg.Dataset.DataDir, registry, persistence.VolumeProbe{}, log)
	if err != nil {
		return err
	}
	defer worker.Destroy()

	coll := collector.New(collector.Config{
		DatasetName:        datasetName,
		Sensors:            sensors,
		NormalizeGyroscope: cfg.Dataset.NormalizeGyroscope,
		DefaultLabel:       dataset.Label(cfg.Dataset.DefaultLabel),
		StartRecording:     cfg.Dataset.StartRecording,
		QueueSize:          cfg.Queue.Size,
		DrainTimeout:       cfg.Queue.DrainTimeout,
		SizeReportInterval: cfg.Queue.SizeReportInterval,
	}, registry, worker, log)

	if err := coll.Open(); err != nil {
		return err
	}
	defer func() {
		err = multierr.Append(err, coll.Close())
	}()

	g, ctx := errgroup.WithContext(ctx)

	// sources stop first so the collector drains everything they produced
	sourcesCtx, stopSources := context.WithCancel(ctx)
	defer stopSources()
	collectorCtx, stopCollector := context.WithCancel(context.Background())
	defer stopCollector()

	g.Go(func() error {
		<-ctx.Done()
		stopSources()
		return nil
	})

	sources, sourcesCtx := errgroup.WithContext(sourcesCtx)

	if cfg.Serial.Port != "" {
		serialSource, err := rserial.Open(cfg.Serial.Port, cfg.Serial.BaudRate, coll, log)
		if err != nil {
			return err
		}
		sources.Go(func() error { return serialSource.Run(sourcesCtx) })
	}

	if cfg.MQTT.Broker != "" {
		mqttSource := mqttsource.New(coll, cfg.MQTT.Topic, cfg.MQTT.QoS, log)
		if err := mqttSource.Connect(cfg.MQTT.Broker, cfg.MQTT.ClientID); err != nil {
			return err
		}
		sources.Go(func() error { return mqttSource.Run(sourcesCtx) })
	}

	server := &http.Server{
		Addr:    cfg.App.HTTPAddr,
		Handler: api.NewServer(coll, cfg.Dataset.ExportRoot, log).SetupRoutes(),
	}
	sources.Go(func() error {
		log.Info("[main] http server listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	sources.Go(func() error {
		<-sourcesCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), HTTP_SHUTDOWN_TIMEOUT)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		err := sources.Wait()
		stopCollector()
		return err
	})
	g.Go(func() error {
		return coll.Run(collectorCtx)
	})

	return g.Wait()
}
