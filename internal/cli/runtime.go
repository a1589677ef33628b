package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	es "github.com/terraskye/eventsourced"
	badgerstore "github.com/terraskye/eventsourced/eventstore/badger"
	"github.com/terraskye/eventsourced/eventstore/file"
	"github.com/terraskye/eventsourced/eventstore/memory"
	"github.com/terraskye/eventsourced/eventstore/postgres"
	redisstore "github.com/terraskye/eventsourced/eventstore/redis"
	"github.com/terraskye/eventsourced/eventstore/sqlite"
	"github.com/terraskye/eventsourced/internal/config"
	"github.com/terraskye/eventsourced/internal/task"
	"github.com/terraskye/eventsourced/logging"
	esotel "github.com/terraskye/eventsourced/otel"
)

// runtime is everything a command needs, opened from the configuration.
type runtime struct {
	cfg     *config.Config
	logger  *slog.Logger
	store   es.EventStore
	tasks   *es.Repository[*task.Task]
	factory *es.AggregateFactory

	shutdown func(context.Context) error
}

func (a *App) open(ctx context.Context) (*runtime, error) {
	cfg, err := config.NewLoader().LoadFile(a.configPath)
	if err != nil {
		return nil, err
	}

	logger := newLogger(cfg.Log, a.stderr)
	entry := newLogrusEntry(cfg.Log, a.stderr)

	store, err := openStore(ctx, cfg.Store, entry)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.Store.Driver, err)
	}

	if cfg.Log.Format == config.FormatLogrus {
		store = logging.WithLogrusStoreLogging(entry, store)
	} else {
		store = logging.WithStoreLogging(logger, store)
	}

	shutdown := func(context.Context) error { return nil }
	if cfg.Telemetry.Enabled {
		exporter, err := stdouttrace.New(stdouttrace.WithWriter(a.stderr), stdouttrace.WithPrettyPrint())
		if err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("create trace exporter: %w", err)
		}
		tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
		store = esotel.WithEventStoreTelemetry(store,
			esotel.WithTracerProvider(tp),
			esotel.WithPropagator(propagation.TraceContext{}),
		)
		shutdown = tp.Shutdown
	}

	factory := es.NewAggregateFactory()
	task.Register(factory)

	return &runtime{
		cfg:     cfg,
		logger:  logger,
		store:   store,
		factory: factory,
		tasks: es.NewRepository(store, task.AggregateType, task.New,
			es.WithRetryStrategy(retryStrategy(cfg.Retry)),
			es.WithRepositoryLogger(logger),
		),
		shutdown: shutdown,
	}, nil
}

func (r *runtime) Close(ctx context.Context) error {
	return errors.Join(r.store.Close(), r.shutdown(ctx))
}

// withRuntime opens the runtime, runs fn and closes the runtime again.
func (a *App) withRuntime(ctx context.Context, fn func(*runtime) error) (err error) {
	rt, err := a.open(ctx)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, rt.Close(ctx))
	}()
	return fn(rt)
}

func openStore(ctx context.Context, cfg config.StoreConfig, entry *logrus.Entry) (es.EventStore, error) {
	switch cfg.Driver {
	case config.DriverMemory:
		return memory.NewMemoryStore(), nil
	case config.DriverFile:
		return file.NewFileStore(cfg.Dir)
	case config.DriverSQLite:
		return sqlite.NewEventStore(sqlite.DefaultConfig(), sqlite.WithDSN(cfg.DSN))
	case config.DriverBadger:
		return badgerstore.NewEventStore(badgerstore.DefaultConfig(),
			badgerstore.WithDir(cfg.Dir),
			badgerstore.WithKeyPrefix(cfg.KeyPrefix),
			badgerstore.WithLogger(entry.WithField("component", "badger")),
		)
	case config.DriverPostgres:
		return postgres.Open(ctx, cfg.DSN, cfg.Schema)
	case config.DriverRedis:
		opts := []redisstore.ConfigOption{redisstore.WithAddress(cfg.DSN)}
		if cfg.KeyPrefix != "" {
			opts = append(opts, redisstore.WithKeyPrefix(cfg.KeyPrefix))
		}
		return redisstore.NewEventStore(redisstore.DefaultConfig(), opts...)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

func newLogger(cfg config.LogConfig, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.SlogLevel()}
	if cfg.Format == config.FormatJSON {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// newLogrusEntry builds the logrus logger used for the store log in logrus
// format and for badger diagnostics, which are limited to warnings otherwise.
func newLogrusEntry(cfg config.LogConfig, w io.Writer) *logrus.Entry {
	logger := logrus.New()
	logger.SetOutput(w)
	logger.SetLevel(logrus.WarnLevel)
	if cfg.Format == config.FormatLogrus {
		if level, err := logrus.ParseLevel(cfg.Level); err == nil {
			logger.SetLevel(level)
		}
	}
	return logrus.NewEntry(logger).WithField("app", "taskctl")
}

func retryStrategy(cfg config.RetryConfig) func() backoff.BackOff {
	return func() backoff.BackOff {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = cfg.InitialInterval
		return backoff.WithMaxRetries(b, uint64(cfg.MaxAttempts-1))
	}
}
