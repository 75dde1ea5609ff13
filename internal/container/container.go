package container

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	_ "github.com/danielgtaylor/huma/v2/formats/cbor" // CBOR format support for huma
	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/samber/do"
	"github.com/serroba/resume-tracker/internal/analytics"
	analyticsstore "github.com/serroba/resume-tracker/internal/analytics/store"
	"github.com/serroba/resume-tracker/internal/artifact"
	"github.com/serroba/resume-tracker/internal/handlers"
	"github.com/serroba/resume-tracker/internal/health"
	"github.com/serroba/resume-tracker/internal/ledger"
	"github.com/serroba/resume-tracker/internal/messaging"
	"github.com/serroba/resume-tracker/internal/metrics"
	"github.com/serroba/resume-tracker/internal/middleware"
	"github.com/serroba/resume-tracker/internal/ratelimit"
	"github.com/serroba/resume-tracker/internal/store"
	"go.uber.org/zap"
)

const (
	consumerGroup  = "analytics"
	connectTimeout = 10 * time.Second
	sweepInterval  = time.Minute
)

// Closers collects cleanup functions of connections and background loops.
// Callers run Close after the injector has shut down every service using them.
type Closers struct {
	mu  sync.Mutex
	fns []func() error
}

// Add registers fn to run on shutdown.
func (c *Closers) Add(fn func() error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.fns = append(c.fns, fn)
}

// Close runs every registered function in reverse order and joins their errors.
func (c *Closers) Close() error {
	c.mu.Lock()
	fns := slices.Clone(c.fns)
	c.fns = nil
	c.mu.Unlock()

	var errs []error

	for _, fn := range slices.Backward(fns) {
		if err := fn(); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// LoggerPackage provides the application logger and the shared Closers.
func LoggerPackage(injector *do.Injector) {
	do.ProvideValue(injector, &Closers{})

	do.Provide(injector, func(i *do.Injector) (*zap.Logger, error) {
		opts := do.MustInvoke[*Options](i)

		cfg := zap.NewDevelopmentConfig()
		if opts.LogFormat == "json" {
			cfg = zap.NewProductionConfig()
		}

		level, err := zap.ParseAtomicLevel(opts.LogLevel)
		if err != nil {
			return nil, fmt.Errorf("log level: %w", err)
		}

		cfg.Level = level

		return cfg.Build()
	})
}

// RedisPackage provides the Redis client. It is only connected when first invoked.
func RedisPackage(injector *do.Injector) {
	do.Provide(injector, func(i *do.Injector) (*redis.Client, error) {
		opts := do.MustInvoke[*Options](i)

		client := redis.NewClient(&redis.Options{
			Addr: opts.RedisAddr,
		})

		do.MustInvoke[*Closers](i).Add(client.Close)

		return client, nil
	})
}

// PostgresPackage provides the Postgres connection pool.
func PostgresPackage(injector *do.Injector) {
	do.Provide(injector, func(i *do.Injector) (*pgxpool.Pool, error) {
		opts := do.MustInvoke[*Options](i)

		ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
		defer cancel()

		pool, err := pgxpool.New(ctx, opts.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("postgres: %w", err)
		}

		do.MustInvoke[*Closers](i).Add(func() error {
			pool.Close()

			return nil
		})

		return pool, nil
	})
}

// LedgerPackage provides the ledger store selected by Options.LedgerBackend and the ledger itself.
func LedgerPackage(injector *do.Injector) {
	do.Provide(injector, func(i *do.Injector) (ledger.Store, error) {
		opts := do.MustInvoke[*Options](i)

		switch opts.LedgerBackend {
		case BackendMemory:
			return store.NewMemoryStore(), nil
		case BackendFile:
			return store.NewFileStore(opts.LedgerFile), nil
		case BackendSQLite:
			if err := os.MkdirAll(filepath.Dir(opts.SQLitePath), 0o750); err != nil {
				return nil, fmt.Errorf("sqlite: %w", err)
			}

			return store.OpenSQLite(opts.SQLitePath)
		case BackendPostgres:
			pg := store.NewPostgresStore(do.MustInvoke[*pgxpool.Pool](i))

			ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
			defer cancel()

			if err := pg.EnsureSchema(ctx); err != nil {
				return nil, fmt.Errorf("postgres schema: %w", err)
			}

			return pg, nil
		case BackendRedis:
			return store.NewRedisStore(do.MustInvoke[*redis.Client](i)), nil
		default:
			return nil, fmt.Errorf("unknown ledger backend %q", opts.LedgerBackend)
		}
	})

	do.Provide(injector, func(i *do.Injector) (*ledger.Ledger, error) {
		opts := do.MustInvoke[*Options](i)
		logger := do.MustInvoke[*zap.Logger](i)

		strategy, err := ledger.NewStrategy(ledger.Strategy(opts.IDStrategy), opts.IDLength)
		if err != nil {
			return nil, err
		}

		ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
		defer cancel()

		return ledger.New(ctx, do.MustInvoke[ledger.Store](i),
			ledger.WithLogger(logger.Named("ledger")),
			ledger.WithIDStrategy(strategy),
			ledger.WithWipeConfirmTTL(opts.WipeConfirmWindow()),
		)
	})
}

// ArtifactPackage provides the artifact store, wrapped in a Redis cache when ArtifactCacheTTL is set.
func ArtifactPackage(injector *do.Injector) {
	do.Provide(injector, func(i *do.Injector) (artifact.Store, error) {
		opts := do.MustInvoke[*Options](i)
		logger := do.MustInvoke[*zap.Logger](i)

		var backend artifact.Store

		switch opts.ArtifactBackend {
		case BackendLocal:
			local, err := artifact.NewLocalStore(opts.ArtifactDir)
			if err != nil {
				return nil, err
			}

			backend = local
		case BackendS3:
			ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
			defer cancel()

			client, err := artifact.NewS3Client(ctx, artifact.S3Config{
				Region:          opts.S3Region,
				Bucket:          opts.S3Bucket,
				Prefix:          opts.S3Prefix,
				AccessKeyID:     opts.S3AccessKeyID,
				SecretAccessKey: opts.S3SecretAccessKey,
				Endpoint:        opts.S3Endpoint,
			})
			if err != nil {
				return nil, err
			}

			backend = artifact.NewS3Store(client, opts.S3Bucket, opts.S3Prefix)
		case BackendWebDAV:
			client := artifact.NewWebDAVClient(opts.WebDAVURL, opts.WebDAVUser, opts.WebDAVPassword)
			backend = artifact.NewWebDAVStore(client, "/")
		default:
			return nil, fmt.Errorf("unknown artifact backend %q", opts.ArtifactBackend)
		}

		if opts.ArtifactCacheTTL <= 0 {
			return backend, nil
		}

		return artifact.NewRedisCache(
			backend,
			do.MustInvoke[*redis.Client](i),
			time.Duration(opts.ArtifactCacheTTL)*time.Second,
			logger.Named("artifact_cache"),
		), nil
	})
}

// RateLimitPackage provides the limiter and the scope resolver.
func RateLimitPackage(injector *do.Injector) {
	do.Provide(injector, func(i *do.Injector) (*ratelimit.Limiter, error) {
		opts := do.MustInvoke[*Options](i)

		if opts.RateLimitBackend == BackendRedis {
			counters := store.NewRateLimitRedisStore(do.MustInvoke[*redis.Client](i))

			return ratelimit.NewLimiter(counters, ratelimit.DefaultPolicy()), nil
		}

		counters := store.NewRateLimitMemoryStore()
		limiter := ratelimit.NewLimiter(counters, ratelimit.DefaultPolicy())

		// Route limits may use windows the policy does not, so keep at least an hour.
		stop := sweepPeriodically(counters, max(limiter.Policy().MaxWindow(), time.Hour), do.MustInvoke[*zap.Logger](i))
		do.MustInvoke[*Closers](i).Add(stop)

		return limiter, nil
	})

	do.Provide(injector, func(_ *do.Injector) (ratelimit.ScopeResolver, error) {
		return ratelimit.NewResolver(), nil
	})
}

// sweepPeriodically evicts idle rate limit keys until the returned stop function is called.
func sweepPeriodically(counters *store.RateLimitMemoryStore, maxWindow time.Duration, logger *zap.Logger) func() error {
	done := make(chan struct{})
	stopped := make(chan struct{})

	go func() {
		defer close(stopped)

		ticker := time.NewTicker(sweepInterval)
		defer ticker.Stop()

		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if dropped := counters.Sweep(maxWindow); dropped > 0 {
					logger.Debug("rate limit keys swept", zap.Int("dropped", dropped), zap.Int("remaining", counters.Len()))
				}
			}
		}
	}()

	return func() error {
		close(done)
		<-stopped

		return nil
	}
}

// MetricsPackage provides the Prometheus collector.
func MetricsPackage(injector *do.Injector) {
	do.Provide(injector, func(_ *do.Injector) (*metrics.Collector, error) {
		return metrics.New(), nil
	})
}

// pubSub is the in-process bus shared by publisher and subscriber when EventBus is memory.
type pubSub struct {
	*gochannel.GoChannel
}

func (p *pubSub) Shutdown() error {
	return p.Close()
}

// EventBusPackage provides the in-process bus used when EventBus is memory.
func EventBusPackage(injector *do.Injector) {
	do.Provide(injector, func(i *do.Injector) (*pubSub, error) {
		logger := messaging.NewZapLogger(do.MustInvoke[*zap.Logger](i))

		return &pubSub{GoChannel: gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 256}, logger)}, nil
	})
}

// PublisherGroupPackage provides the event publisher and the typed analytics publishers.
func PublisherGroupPackage(injector *do.Injector) {
	do.Provide(injector, func(i *do.Injector) (*messaging.PublisherGroup, error) {
		opts := do.MustInvoke[*Options](i)

		if opts.EventBus != BackendRedis {
			return messaging.NewPublisherGroup(do.MustInvoke[*pubSub](i)), nil
		}

		publisher, err := redisstream.NewPublisher(redisstream.PublisherConfig{
			Client:     do.MustInvoke[*redis.Client](i),
			Marshaller: redisstream.DefaultMarshallerUnmarshaller{},
		}, messaging.NewZapLogger(do.MustInvoke[*zap.Logger](i)))
		if err != nil {
			return nil, fmt.Errorf("redis stream publisher: %w", err)
		}

		return messaging.NewPublisherGroup(publisher), nil
	})

	do.Provide(injector, func(i *do.Injector) (analytics.Publishers, error) {
		return analytics.NewPublishers(do.MustInvoke[*messaging.PublisherGroup](i).Publisher()), nil
	})
}

// ConsumerGroupPackage provides the analytics consumers. With the memory bus they
// share the server's in-process channel; with Redis they join the stream consumer group.
func ConsumerGroupPackage(injector *do.Injector) {
	do.Provide(injector, func(i *do.Injector) (*messaging.ConsumerGroup, error) {
		opts := do.MustInvoke[*Options](i)
		logger := do.MustInvoke[*zap.Logger](i)

		var subscriber message.Subscriber

		if opts.EventBus == BackendRedis {
			sub, err := redisstream.NewSubscriber(redisstream.SubscriberConfig{
				Client:        do.MustInvoke[*redis.Client](i),
				Unmarshaller:  redisstream.DefaultMarshallerUnmarshaller{},
				ConsumerGroup: consumerGroup,
			}, messaging.NewZapLogger(logger))
			if err != nil {
				return nil, fmt.Errorf("redis stream subscriber: %w", err)
			}

			subscriber = sub
		} else {
			subscriber = nopCloseSubscriber{do.MustInvoke[*pubSub](i)}
		}

		sink := analyticsstore.NewCounting(
			analyticsstore.NewLogSink(logger.Named("analytics")),
			do.MustInvoke[*metrics.Collector](i).EventsConsumed,
		)

		group := messaging.NewConsumerGroup(subscriber, logger)
		for _, consumer := range analytics.NewConsumers(subscriber, sink, logger) {
			group.Add(consumer)
		}

		return group, nil
	})
}

// nopCloseSubscriber leaves closing the shared in-process bus to its own Shutdown.
type nopCloseSubscriber struct {
	message.Subscriber
}

func (nopCloseSubscriber) Close() error { return nil }

// HealthPackage provides the health handler probing every configured dependency.
func HealthPackage(injector *do.Injector) {
	do.Provide(injector, func(i *do.Injector) (*health.Handler, error) {
		opts := do.MustInvoke[*Options](i)

		checks := map[string]health.Checker{}

		if pinger, ok := do.MustInvoke[ledger.Store](i).(health.Checker); ok {
			checks["ledger"] = pinger
		}

		if pinger, ok := do.MustInvoke[artifact.Store](i).(artifact.Pinger); ok {
			checks["artifacts"] = pinger
		}

		if opts.UsesRedis() {
			checks["redis"] = health.NewRedisChecker(do.MustInvoke[*redis.Client](i))
		}

		return health.NewHandler(checks), nil
	})
}

// HTTPPackage provides the router and the huma API with every route registered.
func HTTPPackage(injector *do.Injector) {
	do.Provide(injector, func(_ *do.Injector) (*chi.Mux, error) {
		return chi.NewMux(), nil
	})

	do.Provide(injector, func(i *do.Injector) (huma.API, error) {
		opts := do.MustInvoke[*Options](i)
		router := do.MustInvoke[*chi.Mux](i)
		logger := do.MustInvoke[*zap.Logger](i)
		collector := do.MustInvoke[*metrics.Collector](i)
		l := do.MustInvoke[*ledger.Ledger](i)

		collector.TrackLinks(l.Len)
		router.Handle("/metrics", collector.Handler())

		api := humachi.New(router, huma.DefaultConfig("Resume Link Tracker", "1.0.0"))
		api.UseMiddleware(middleware.RequestMeta(api))
		api.UseMiddleware(middleware.RateLimit(
			api,
			do.MustInvoke[*ratelimit.Limiter](i),
			do.MustInvoke[ratelimit.ScopeResolver](i),
			logger.Named("ratelimit"),
		))

		linkHandler := handlers.NewLinkHandler(
			l,
			do.MustInvoke[artifact.Store](i),
			opts.PublicURL(),
			opts.MaxUploadBytes(),
			do.MustInvoke[analytics.Publishers](i),
			collector,
			logger.Named("handlers"),
		)

		handlers.RegisterRoutes(api, linkHandler)
		health.RegisterRoutes(api, do.MustInvoke[*health.Handler](i))

		return api, nil
	})
}
