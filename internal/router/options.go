package router

import (
	"context"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"

	"ex-mirror/pkg/mirror"
)

const (
	defaultSubscriptionBuffer = 256
	defaultSubscriptionWorker = 1
	defaultHandlerTimeout     = 3 * time.Second
	defaultSystemLanes        = 1
	defaultLaneBuffer         = 1024
	defaultFetchTimeout       = 10 * time.Second
)

// config stores resolved router settings after option application.
type config struct {
	subscriptionBuffer int
	subscriptionWorker int
	handlerTimeout     time.Duration
	systemLanes        int
	laneBuffer         int
	fetchTimeout       time.Duration
	fetcher            mirror.Fetcher
	bootstrapper       Bootstrapper
	validate           *validator.Validate
	clock              func() time.Time
	logger             *slog.Logger
	reportError        errorReporter
}

// Option mutates router construction configuration.
type Option func(*config)

func defaultConfig() config {
	logger := slog.Default()

	return config{
		subscriptionBuffer: defaultSubscriptionBuffer,
		subscriptionWorker: defaultSubscriptionWorker,
		handlerTimeout:     defaultHandlerTimeout,
		systemLanes:        defaultSystemLanes,
		laneBuffer:         defaultLaneBuffer,
		fetchTimeout:       defaultFetchTimeout,
		validate:           validator.New(validator.WithRequiredStructEnabled()),
		clock:              time.Now,
		logger:             logger,
		reportError: func(ctx context.Context, scope string, err error) {
			logger.ErrorContext(ctx, "mirror async error", "scope", scope, "error", err)
		},
	}
}

// WithDefaultSubscriptionBuffer configures default subscriber queue depth.
func WithDefaultSubscriptionBuffer(size int) Option {
	return func(cfg *config) {
		if size > 0 {
			cfg.subscriptionBuffer = size
		}
	}
}

// WithDefaultSubscriptionWorkers configures default subscriber worker count.
func WithDefaultSubscriptionWorkers(workers int) Option {
	return func(cfg *config) {
		if workers > 0 {
			cfg.subscriptionWorker = workers
		}
	}
}

// WithDefaultHandlerTimeout configures default per-event handler timeout.
func WithDefaultHandlerTimeout(timeout time.Duration) Option {
	return func(cfg *config) {
		if timeout > 0 {
			cfg.handlerTimeout = timeout
		}
	}
}

// WithSystemLanes configures how many ordered lanes apply cache updates.
// One lane applies every event in arrival order. More lanes only order
// events that share a partition key; global events still drain all lanes.
func WithSystemLanes(count int) Option {
	return func(cfg *config) {
		if count > 0 {
			cfg.systemLanes = count
		}
	}
}

// WithLaneBuffer configures how many system tasks a lane queues before the
// reader blocks.
func WithLaneBuffer(size int) Option {
	return func(cfg *config) {
		if size > 0 {
			cfg.laneBuffer = size
		}
	}
}

// WithFetcher configures the REST client used to resolve member joins.
func WithFetcher(fetcher mirror.Fetcher) Option {
	return func(cfg *config) {
		cfg.fetcher = fetcher
	}
}

// WithFetchTimeout bounds each REST lookup made from the system stage.
func WithFetchTimeout(timeout time.Duration) Option {
	return func(cfg *config) {
		if timeout > 0 {
			cfg.fetchTimeout = timeout
		}
	}
}

// WithBootstrapper configures the Ready snapshot ingestion.
func WithBootstrapper(bootstrapper Bootstrapper) Option {
	return func(cfg *config) {
		cfg.bootstrapper = bootstrapper
	}
}

// WithValidator shares a validator instance with other components.
func WithValidator(validate *validator.Validate) Option {
	return func(cfg *config) {
		if validate != nil {
			cfg.validate = validate
		}
	}
}

// WithClock injects the time source used to stamp unresolved member joins.
func WithClock(clock func() time.Time) Option {
	return func(cfg *config) {
		if clock != nil {
			cfg.clock = clock
		}
	}
}

// WithLogger configures logger used by the router and default async error sink.
func WithLogger(logger *slog.Logger) Option {
	return func(cfg *config) {
		if logger == nil {
			return
		}

		cfg.logger = logger
		cfg.reportError = func(ctx context.Context, scope string, err error) {
			logger.ErrorContext(ctx, "mirror async error", "scope", scope, "error", err)
		}
	}
}

// WithAsyncErrorHandler configures reporting of system stage and handler failures.
func WithAsyncErrorHandler(handler func(context.Context, string, error)) Option {
	return func(cfg *config) {
		if handler != nil {
			cfg.reportError = handler
		}
	}
}
