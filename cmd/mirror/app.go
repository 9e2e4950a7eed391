package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"ex-mirror/internal/bootstrap"
	"ex-mirror/internal/config"
	"ex-mirror/internal/gateway"
	"ex-mirror/internal/inspect"
	"ex-mirror/internal/logging"
	"ex-mirror/internal/rest"
	"ex-mirror/internal/router"
	"ex-mirror/internal/store"
	"ex-mirror/pkg/mirror"
)

type appRuntime struct {
	cache  *store.Store
	router *router.Router
	driver *gateway.Driver
}

type runFunc func(ctx context.Context, cfg config.Config) error

func newRootCommand(runMirror runFunc) *cobra.Command {
	configViper := config.NewViper()
	var configFile string

	rootCmd := &cobra.Command{
		Use:           "mirror",
		Short:         "Mirror chat gateway state into an in-memory cache",
		SilenceUsage:  true,
		SilenceErrors: true,
		PreRunE: func(*cobra.Command, []string) error {
			return config.ReadFile(configViper, configFile)
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configViper)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			return runMirror(cmd.Context(), cfg)
		},
	}

	defaults := config.NewViper()
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configFile, "config", "", "Path to configuration file")
	flags.String("log-level", defaults.GetString("log_level"), "Log level (debug, info, warn, error)")
	flags.String("gateway-url", defaults.GetString("gateway.url"), "Gateway websocket URL")
	flags.String("token", "", "Bot token (overrides file and env)")
	flags.String("rest-url", defaults.GetString("rest.base_url"), "REST API base URL")
	flags.Int("system-lanes", defaults.GetInt("router.system_lanes"), "Parallel cache maintenance lanes")
	flags.Int("bootstrap-concurrency", defaults.GetInt("bootstrap.concurrency"), "Concurrent server hydrations during bootstrap")
	flags.String("inspect-address", "", "Listen address of the read-only inspection API (empty disables)")

	bindFlag(configViper, rootCmd, "log_level", "log-level")
	bindFlag(configViper, rootCmd, "gateway.url", "gateway-url")
	bindFlag(configViper, rootCmd, "gateway.token", "token")
	bindFlag(configViper, rootCmd, "rest.base_url", "rest-url")
	bindFlag(configViper, rootCmd, "router.system_lanes", "system-lanes")
	bindFlag(configViper, rootCmd, "bootstrap.concurrency", "bootstrap-concurrency")
	bindFlag(configViper, rootCmd, "inspect.address", "inspect-address")

	return rootCmd
}

func bindFlag(configViper *viper.Viper, cmd *cobra.Command, key, flag string) {
	if err := configViper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func run(parent context.Context, cfg config.Config) error {
	if parent == nil {
		parent = context.Background()
	}

	zapLogger, err := logging.NewZap(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer zapLogger.Sync() //nolint:errcheck
	logger := logging.NewSlog(zapLogger, "mirror")

	source := gateway.WebsocketSource{
		URL:               cfg.Gateway.URL,
		Token:             cfg.Gateway.Token,
		HeartbeatInterval: cfg.Gateway.HeartbeatInterval,
		WriteTimeout:      cfg.Gateway.WriteTimeout,
		Logger:            logger.With("component", "gateway"),
	}
	runtime, err := buildRuntime(cfg, logger, source)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := registerSubscriptions(ctx, runtime, logger); err != nil {
		return err
	}

	inspectServer := startInspectServer(cfg, runtime, logger)

	zapLogger.Info("mirror starting",
		zap.String("gateway", cfg.Gateway.URL),
		zap.Int("system_lanes", cfg.Router.SystemLanes),
		zap.String("inspect", cfg.Inspect.Address),
	)
	runErr := runtime.driver.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if inspectServer != nil {
		if err := inspectServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("inspect server shutdown failed", "error", err)
		}
	}
	closeErr := runtime.router.Close(shutdownCtx)

	stats := runtime.cache.Stats()
	logger.Info("mirror stopped",
		"state", runtime.router.State().String(),
		"servers", stats.Servers,
		"users", stats.Users,
		"messages", stats.Messages,
	)

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return errors.Join(fmt.Errorf("run gateway: %w", runErr), closeErr)
	}
	if closeErr != nil {
		return fmt.Errorf("close router: %w", closeErr)
	}

	return nil
}

func buildStore(cfg config.Config) *store.Store {
	return store.New(
		store.WithPolicy(mirror.EntityKindMessage, store.Policy{
			MaxSize: cfg.Store.MessageMaxSize,
			TTL:     cfg.Store.MessageTTL,
		}),
		store.WithTombstonePolicy(store.Policy{
			MaxSize: cfg.Store.TombstoneSize,
			TTL:     cfg.Store.TombstoneTTL,
		}),
	)
}

func buildRuntime(cfg config.Config, logger *slog.Logger, source gateway.Source) (*appRuntime, error) {
	fetcher, err := rest.New(cfg.REST.BaseURL, cfg.Gateway.Token,
		rest.WithHTTPClient(&http.Client{Timeout: cfg.REST.RequestTimeout}),
		rest.WithMaxRetries(cfg.REST.MaxRetries),
		rest.WithLogger(logger.With("component", "rest")),
	)
	if err != nil {
		return nil, fmt.Errorf("build rest client: %w", err)
	}

	cache := buildStore(cfg)
	bootstrapper := bootstrap.New(cache, fetcher,
		bootstrap.WithConcurrency(cfg.Bootstrap.Concurrency),
		bootstrap.WithLogger(logger.With("component", "bootstrap")),
	)
	eventRouter := router.New(cache,
		router.WithLogger(logger.With("component", "router")),
		router.WithFetcher(fetcher),
		router.WithFetchTimeout(cfg.Router.FetchTimeout),
		router.WithBootstrapper(bootstrapper),
		router.WithSystemLanes(cfg.Router.SystemLanes),
		router.WithLaneBuffer(cfg.Router.LaneBuffer),
		router.WithDefaultSubscriptionBuffer(cfg.Router.SubscriptionBuffer),
		router.WithDefaultSubscriptionWorkers(cfg.Router.SubscriptionWorkers),
		router.WithDefaultHandlerTimeout(cfg.Router.HandlerTimeout),
	)

	driver, err := gateway.NewDriver(source, eventRouter, gateway.WithDriverLogger(logger.With("component", "driver")))
	if err != nil {
		_ = eventRouter.Close(context.Background())
		return nil, fmt.Errorf("build gateway driver: %w", err)
	}

	return &appRuntime{
		cache:  cache,
		router: eventRouter,
		driver: driver,
	}, nil
}

// startInspectServer serves the inspection API when an address is configured.
func startInspectServer(cfg config.Config, runtime *appRuntime, logger *slog.Logger) *http.Server {
	if cfg.Inspect.Address == "" {
		return nil
	}

	server := &http.Server{
		Addr:              cfg.Inspect.Address,
		Handler:           inspect.NewHandler(runtime.router, runtime.cache, inspect.WithLogger(logger.With("component", "inspect"))),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("inspect server starting", "address", cfg.Inspect.Address)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("inspect server failed", "error", err)
		}
	}()

	return server
}

// registerSubscriptions attaches the process activity log.
func registerSubscriptions(ctx context.Context, runtime *appRuntime, logger *slog.Logger) error {
	if runtime == nil || runtime.router == nil {
		return fmt.Errorf("register subscriptions: nil runtime")
	}

	cache := runtime.router.Cache()
	handlers := []mirror.Handler{
		mirror.HandlerFor(func(ctx context.Context, event mirror.ClientReadyEvent) error {
			logger.InfoContext(ctx, "cache ready",
				"self", event.Report.Self.Username,
				"servers", event.Report.Servers,
				"members", event.Report.Members,
				"partial", event.Report.Partial(),
			)
			return nil
		}),
		mirror.HandlerFor(func(ctx context.Context, event mirror.MessageCreateEvent) error {
			author := event.Message.AuthorID
			if user, found := cache.User(event.Message.AuthorID); found {
				author = user.Username
			}
			logger.DebugContext(ctx, "message",
				"channel", event.Message.ChannelID,
				"author", author,
				"length", len(event.Message.Content),
			)
			return nil
		}),
	}

	_, err := runtime.router.Subscribe(ctx, mirror.SubscriptionSpec{
		Name:         "activity-log",
		Kinds:        []mirror.EventKind{mirror.EventKindClientReady, mirror.EventKindMessageCreate},
		Backpressure: mirror.BackpressureDropOldest,
	}, func(ctx context.Context, event mirror.Event) error {
		for _, handler := range handlers {
			if err := handler(ctx, event); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("register activity subscription: %w", err)
	}

	return nil
}
