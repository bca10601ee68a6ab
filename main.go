package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/estatepulse/property-crawler-service/common/config"
	"github.com/estatepulse/property-crawler-service/common/db"
	"github.com/estatepulse/property-crawler-service/common/messaging"
	"github.com/estatepulse/property-crawler-service/common/storage"
	"github.com/estatepulse/property-crawler-service/crawler"
	"github.com/estatepulse/property-crawler-service/crawler/bayut"
	"github.com/estatepulse/property-crawler-service/ingest"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("Error loading .env file, using environment variables")
	}

	cfg := config.DefaultConfig()
	cfg.LoadFromEnv()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	// INITIATE DATABASES
	dbConn, err := db.SetupDatabase(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to setup database")
	}
	defer dbConn.Close()

	// INITIATE NATS CLIENT
	natsClient, err := messaging.SetupNatsBroker(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to setup NATS client")
	}
	defer natsClient.Close()

	// Page snapshot archive; optional, degraded extractions are simply not
	// archived without a bucket.
	var snapshots storage.SnapshotStore
	if cfg.GCS.Bucket != "" {
		gcs, err := storage.NewGCSSnapshotStore(ctx, cfg.GCS)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to setup GCS snapshot store")
		}
		defer gcs.Close()
		snapshots = gcs
	} else {
		log.Warn().Msg("No GCS bucket configured, page snapshots disabled")
	}

	// INITIATE INGESTION PIPELINE
	store := ingest.NewStore(dbConn)
	deadLetters := ingest.NewDeadLetterStore(dbConn)
	dispatcher := ingest.NewDispatcher(natsClient, store, deadLetters, ingest.DispatcherConfig{
		Workers:       cfg.Crawler.IngestWorkers,
		MaxDeliveries: cfg.Crawler.RetryAttempts,
		RetryBackoff:  cfg.Crawler.RetryDelay,
	})
	if err := dispatcher.Run(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to start ingestion dispatcher")
	}
	defer dispatcher.Stop()

	// INITIATE CRAWLERS
	fetcher, err := crawler.NewRodFetcher(cfg.Crawler.RequestTimeout)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to browser")
	}
	defer fetcher.Close()

	bayutCrawler := bayut.NewCrawler(fetcher, dbConn.Redis, dispatcher, snapshots, bayut.Config{
		StartURL:       cfg.Crawler.StartURL,
		MaxConcurrency: cfg.Crawler.MaxConcurrency,
		MinDelayMs:     cfg.Crawler.MinDelayMs,
		MaxDelayMs:     cfg.Crawler.MaxDelayMs,
		RetryAttempts:  cfg.Crawler.RetryAttempts,
		RetryDelay:     cfg.Crawler.RetryDelay,
		RequestTimeout: cfg.Crawler.RequestTimeout,
	})

	crawlService := crawler.NewService(natsClient)
	crawlService.Register(bayut.Source, crawler.RunnerFunc(func(ctx context.Context, startURL string) error {
		_, err := bayutCrawler.CrawlAll(ctx, startURL)
		return err
	}))

	sub, err := crawlService.Listen(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to subscribe to crawl requests")
	}
	defer sub.Unsubscribe()
	log.Info().Msg("Crawlers registered successfully")

	// INITIATE SERVER
	server, err := NewAppHttpServer(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create the server")
	}

	server.SetDB(dbConn)
	server.SetCrawlService(crawlService)
	server.setupRoute()

	go func() {
		if err := server.start(); err != nil {
			log.Error().Err(err).Msg("Server error")
			cancel()
		}
	}()

	log.Info().Str("address", cfg.Listen.Addr()).Msg("Server started successfully")

	select {
	case <-shutdown:
		log.Info().Msg("Shutdown signal received")
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server shutdown failed")
	}

	log.Info().Msg("Server gracefully stopped")
}
