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
	"github.com/keypad-relay/keypad-relay-server/internal/config"
	"github.com/keypad-relay/keypad-relay-server/internal/integration"
	"github.com/keypad-relay/keypad-relay-server/internal/server"
	"github.com/keypad-relay/keypad-relay-server/internal/storage"
)

func main() {
	// 命令行参数
	var configPath = flag.String("config", "config/relay-server.yml", "配置文件路径")
	var validateOnly = flag.Bool("validate", false, "仅验证配置文件")
	var showConfig = flag.Bool("show-config", false, "显示配置并退出")
	var migrateOnly = flag.Bool("migrate", false, "执行数据库迁移后退出")
	flag.Parse()

	// 设置日志
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Str("config_path", *configPath).Msg("Failed to load configuration")
	}

	level, err := zerolog.ParseLevel(cfg.Log.Level)
	if err != nil {
		log.Warn().Str("level", cfg.Log.Level).Msg("Invalid log level, using info")
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if *showConfig || *validateOnly {
		cfg.PrintConfigSummary()
		if *validateOnly {
			fmt.Println("configuration OK")
		}
		return
	}

	store, err := openStore(cfg, *migrateOnly)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open key event store")
	}
	if *migrateOnly {
		store.Close()
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 可选: 事件总线
	var publisher server.Publisher
	if cfg.NATS.URL != "" {
		nc, err := integration.ConnectNATS(cfg.NATS, "keypad-relay-server")
		if err != nil {
			log.Warn().Err(err).Msg("Failed to connect to NATS, continuing without event bus")
		} else {
			defer nc.Close()
			publisher = integration.NewNATSPublisher(nc, cfg.NATS.SubjectPrefix)
			log.Info().Str("prefix", cfg.NATS.SubjectPrefix).Msg("Publishing relayed events to NATS")
		}
	} else {
		log.Info().Msg("NATS not configured, running in standalone mode")
	}

	relay := server.NewServer(server.OptionsFromConfig(cfg.Relay), store, nil, publisher)
	if err := relay.Listen(); err != nil {
		log.Fatal().Err(err).Msg("Failed to bind relay listener")
	}

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := relay.Start(ctx); err != nil {
			log.Error().Err(err).Msg("Relay server stopped")
		}
	}()

	apiServer := api.NewRESTServer(cfg, api.Deps{Relay: relay, RelayEvents: store})

	wg.Add(1)
	go func() {
		defer wg.Done()
		addr := fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port)
		if err := apiServer.ListenAndServe(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("Admin API server failed")
		}
	}()

	// 等待信号
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	log.Info().Str("signal", sig.String()).Msg("Received signal, shutting down")

	cancel()
	relay.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Failed to shutdown admin API gracefully")
	}

	wg.Wait()

	log.Info().Msg("Relay server stopped")
}

// openStore connects to Postgres, or falls back to memory when no DSN is set
func openStore(cfg *config.Config, migrate bool) (storage.KeyEventStore, error) {
	if cfg.Database.DSN == "" {
		if migrate {
			return nil, errors.New("database.dsn is required for -migrate")
		}
		log.Warn().Msg("No database configured, key events are kept in memory only")
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
