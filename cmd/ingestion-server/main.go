package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/keypad-relay/keypad-relay-server/internal/api"
	"github.com/keypad-relay/keypad-relay-server/internal/cache"
	"github.com/keypad-relay/keypad-relay-server/internal/config"
	"github.com/keypad-relay/keypad-relay-server/internal/ingest"
	"github.com/keypad-relay/keypad-relay-server/internal/integration"
	"github.com/keypad-relay/keypad-relay-server/internal/storage"
	"github.com/keypad-relay/keypad-relay-server/internal/validation"
)

func main() {
	var configFile string
	var migrateOnly bool
	flag.StringVar(&configFile, "config", "config/ingestion-server.yml", "Configuration file path")
	flag.BoolVar(&migrateOnly, "migrate", false, "Apply database migrations and exit")
	flag.Parse()

	// Setup logging
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load(configFile)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	level, err := zerolog.ParseLevel(cfg.Log.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	cfg.PrintConfigSummary()

	store, err := openStore(cfg, migrateOnly)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open event store")
	}
	defer store.Close()
	if migrateOnly {
		return
	}

	validator, err := validation.NewValidator()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to compile event schemas")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup

	// Optional: device status cache
	var deviceCache ingest.DeviceCache
	if cfg.Redis.Addr != "" {
		c := cache.NewDeviceCache(cfg.Redis)
		if err := c.Ping(ctx); err != nil {
			log.Warn().Err(err).Str("addr", cfg.Redis.Addr).Msg("Redis unavailable, device cache disabled")
			c.Close()
		} else {
			defer c.Close()
			deviceCache = c
			log.Info().Str("addr", cfg.Redis.Addr).Msg("Device cache enabled")
		}
	}

	// Optional: MQTT republisher
	var notifier ingest.Notifier
	if cfg.MQTT.BrokerURL != "" {
		fwd := integration.NewForwarder(cfg.MQTT)
		notifier = fwd

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fwd.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error().Err(err).Msg("MQTT forwarder stopped")
			}
		}()
	}

	svc := ingest.NewService(store, validator, deviceCache, notifier)
	apiServer := api.NewRESTServer(cfg, api.Deps{Ingest: svc})

	wg.Add(1)
	go func() {
		defer wg.Done()
		addr := fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port)
		if err := apiServer.ListenAndServe(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("REST API server failed")
		}
	}()

	// Optional: Start NATS subscriber
	if cfg.NATS.URL != "" {
		nc, err := integration.ConnectNATS(cfg.NATS, "keypad-ingestion-server")
		if err != nil {
			log.Warn().Err(err).Msg("Failed to connect to NATS, continuing without NATS support")
		} else {
			defer nc.Close()
			subscriber := integration.NewEventSubscriber(nc, svc, cfg.NATS.SubjectPrefix)

			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := subscriber.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
					log.Error().Err(err).Msg("NATS subscriber stopped")
				}
			}()
		}
	} else {
		log.Info().Msg("NATS not configured, running in standalone mode")
	}

	// Wait for signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	log.Info().Str("signal", sig.String()).Msg("Received signal, shutting down")

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Failed to shutdown API server gracefully")
	}

	wg.Wait()

	log.Info().Msg("Ingestion server stopped")
}

func openStore(cfg *config.Config, migrate bool) (storage.IngestStore, error) {
	if cfg.Database.DSN == "" {
		if migrate {
			return nil, errors.New("database.dsn is required for -migrate")
		}
		log.Warn().Msg("No database configured, events are kept in memory only")
		return storage.NewMemoryStore(), nil
	}

	store, err := storage.NewPostgresStore(cfg.Database.DSN, storage.Options{
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	})
	if err != nil {
		return nil, err
	}
	log.Info().Msg("Connected to database")

	if migrate || cfg.Database.AutoMigrate {
		n, err := store.Migrate()
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
		log.Info().Int("applied", n).Msg("Database migrations applied")
	}
	return store, nil
}
