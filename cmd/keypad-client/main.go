package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/keypad-relay/keypad-relay-server/internal/config"
	"github.com/keypad-relay/keypad-relay-server/internal/relay"
	"github.com/keypad-relay/keypad-relay-server/internal/sdk"
)

func main() {
	// 命令行参数
	var configPath = flag.String("config", "config/keypad-client.yml", "配置文件路径")
	var showConfig = flag.Bool("show-config", false, "显示配置并退出")
	flag.Parse()

	// 设置日志
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.DateTime})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Str("config_path", *configPath).Msg("Failed to load configuration")
	}

	level, err := zerolog.ParseLevel(cfg.Log.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if *showConfig {
		cfg.PrintConfigSummary()
		return
	}

	cl := cfg.Client

	lib, err := sdk.Open(cl.SDK.LibraryPaths)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load vendor SDK")
	}

	adapter := sdk.NewAdapter(lib, sdk.Options{
		QueueSize:          cl.QueueSize,
		LicenseKind:        cl.SDK.LicenseKind,
		SkipInitialConnect: true,
		AutoStart: sdk.AutoStart{
			Enabled:     !cl.AutoStart.Disabled,
			TriggerInfo: cl.AutoStart.TriggerInfo,
			BaseID:      cl.AutoStart.BaseID,
			VoteType:    cl.AutoStart.VoteType,
			Config:      cl.AutoStart.Config,
		},
	})
	defer adapter.Close()

	if err := adapter.Initialize(cl.SDK.LicenseKey, cl.SDK.LogLevel); err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize vendor SDK")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := relay.NewClient(adapter, relay.OptionsFromConfig(cl))
	if cl.Mode != string(relay.ModeHTTP) {
		if err := client.Dial(ctx); err != nil {
			log.Warn().Err(err).Str("addr", cl.ServerAddr).Msg("Relay server not reachable yet, will redial on first event")
		}
	}

	go func() {
		ok := client.ConnectWithRetry(ctx, cl.Connect.Type, cl.Connect.String, cl.Connect.MaxAttempts, cl.Connect.Backoff)
		if !ok && ctx.Err() == nil && cl.Connect.FallbackType != cl.Connect.Type {
			log.Warn().Int("conn_type", cl.Connect.FallbackType).Msg("Falling back to alternate connection type")
			client.ConnectWithRetry(ctx, cl.Connect.FallbackType, cl.Connect.String, cl.Connect.MaxAttempts, cl.Connect.Backoff)
		}
	}()

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := client.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("Relay client stopped")
		}
	}()

	// 等待信号
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	log.Info().Str("signal", sig.String()).Msg("Received signal, shutting down")

	cancel()
	<-done

	st := client.Stats()
	log.Info().
		Int64("forwarded", st.Forwarded).
		Int64("socket_sent", st.SocketSent).
		Int64("posted", st.Posted).
		Int64("post_failed", st.PostFailed).
		Uint64("dropped", adapter.Dropped()).
		Uint64("auto_starts", adapter.AutoStarts()).
		Msg("Keypad client stopped")
}
