package di

import (
	"context"
	"fmt"
	"time"

	"GoldCast/internal/domain/repository"
	domsvc "GoldCast/internal/domain/service"
	"GoldCast/internal/handler/api"
	internalrepo "GoldCast/internal/repository"
	"GoldCast/internal/service/finnhub"
	"GoldCast/internal/services/features"
	"GoldCast/internal/services/forecasting"
	"GoldCast/internal/services/quality"
	"GoldCast/internal/services/spot"
	"GoldCast/internal/usecase"
	"GoldCast/pkg/cache"
	pkgch "GoldCast/pkg/clickhouse"
	"GoldCast/pkg/circuitbreaker"
	"GoldCast/pkg/config"
	xhttp "GoldCast/pkg/http"
	pkgkafka "GoldCast/pkg/kafka"
	"GoldCast/pkg/logger"
	"GoldCast/pkg/metrics"
	pkgpg "GoldCast/pkg/postgres"
	"GoldCast/pkg/server"
)

const (
	schemaTimeout = 10 * time.Second
	userAgent     = "goldcast"
)

// ProvideKafkaProducer creates the shared Kafka producer, or nil when Kafka is disabled.
func ProvideKafkaProducer(cfg *config.Config) (*pkgkafka.Producer, func(), error) {
	if !cfg.Kafka.Enabled {
		return nil, func() {}, nil
	}
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
		pkgkafka.WithBatching(cfg.Kafka.Producer.BatchSize, cfg.Kafka.Producer.BatchBytes, cfg.Kafka.Producer.Linger),
		pkgkafka.WithTimeouts(cfg.Kafka.Producer.WriteTimeout, cfg.Kafka.Producer.ReadTimeout),
		pkgkafka.WithMaxAttempts(cfg.Kafka.Producer.MaxAttempts),
		pkgkafka.WithAsync(cfg.Kafka.Producer.Async),
		pkgkafka.WithHashByKey(true),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("kafka producer: %w", err)
	}
	return producer, func() { _ = producer.Close() }, nil
}

// ProvideLogger builds the application logger. With a producer and
// log.digest.enabled, repeated errors are batched onto the log topic.
func ProvideLogger(cfg *config.Config, producer *pkgkafka.Producer) (*logger.Logger, func(), error) {
	log, err := logger.New(&logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("logger: %w", err)
	}
	if !cfg.Log.Digest.Enabled || producer == nil || cfg.Kafka.LogTopic == "" {
		return log, func() {}, nil
	}

	digest := logger.NewErrorDigest(logger.DigestConfig{
		Interval:  cfg.Log.Digest.Interval,
		Threshold: cfg.Log.Digest.Threshold,
		Topic:     cfg.Kafka.LogTopic,
		Publisher: producer,
	})
	log.AttachDigest(digest)
	return log, func() {
		log.DetachDigest()
		digest.Close()
	}, nil
}

// ProvideMetrics creates the Prometheus recorder on the default registry.
func ProvideMetrics() *metrics.Recorder {
	return metrics.New()
}

// ProvidePostgresClient connects to Postgres and applies the schema when configured.
func ProvidePostgresClient(cfg *config.Config) (*pkgpg.Client, func(), error) {
	pg := cfg.Postgres
	client, err := pkgpg.NewClient(
		pkgpg.WithDSN(pg.DSN),
		pkgpg.WithAddress(pg.Host, pg.Port),
		pkgpg.WithDatabase(pg.Database),
		pkgpg.WithCredentials(pg.User, pg.Password),
		pkgpg.WithSSLMode(pg.SSLMode),
		pkgpg.WithPool(pg.MaxOpenConns, pg.MaxIdleConns, pg.ConnMaxLifetime),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("postgres client: %w", err)
	}

	if pg.InitSchema {
		ctx, cancel := context.WithTimeout(context.Background(), schemaTimeout)
		defer cancel()
		if err := client.InitSchema(ctx, internalrepo.PostgresSchema); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("postgres schema: %w", err)
		}
	}
	return client, func() { _ = client.Close() }, nil
}

// ProvideClickHouseClient connects to ClickHouse when it is the price source, else returns nil.
func ProvideClickHouseClient(cfg *config.Config) (*pkgch.Client, func(), error) {
	if cfg.Storage.PriceSource != "clickhouse" {
		return nil, func() {}, nil
	}
	ch := cfg.ClickHouse
	client, err := pkgch.NewClient(
		pkgch.WithAddress(ch.Host, ch.Port),
		pkgch.WithDatabase(ch.Database),
		pkgch.WithCredentials(ch.User, ch.Password),
		pkgch.WithHTTP(ch.UseHTTP),
		pkgch.WithAsyncInsert(ch.AsyncInsert, ch.WaitForAsync),
		pkgch.WithTimeouts(ch.DialTimeout, ch.ReadTimeout),
		pkgch.WithMaxExecutionTime(ch.MaxExecutionTime),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("clickhouse client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), schemaTimeout)
	defer cancel()
	if err := client.InitSchema(ctx, internalrepo.ClickHouseSchema); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("clickhouse schema: %w", err)
	}
	return client, func() { _ = client.Close() }, nil
}

func ProvidePostgresStore(client *pkgpg.Client) *internalrepo.PostgresStore {
	return internalrepo.NewPostgresStore(client)
}

// ProvidePriceStore reads prices from ClickHouse when connected, else from Postgres.
func ProvidePriceStore(pg *internalrepo.PostgresStore, ch *pkgch.Client, log *logger.Logger) repository.PriceStore {
	if ch != nil {
		return internalrepo.NewClickHousePriceStore(ch, log)
	}
	return pg
}

func ProvideForecastStore(pg *internalrepo.PostgresStore) repository.ForecastStore {
	return pg
}

// ProvideEventPublisher announces forecast runs on Kafka, or drops them when Kafka is disabled.
func ProvideEventPublisher(cfg *config.Config, producer *pkgkafka.Producer) repository.EventPublisher {
	if producer == nil {
		return internalrepo.NoopPublisher{}
	}
	return internalrepo.NewKafkaPublisher(producer, cfg.Kafka.EventsTopic)
}

// ProvideCache builds the in-memory cache, or a memory-over-Redis layered cache.
func ProvideCache(cfg *config.Config) (cache.Service, func(), error) {
	memOpts := []cache.MemoryOption{
		cache.WithMemoryMaxSize(cfg.Cache.MemoryMaxSize),
		cache.WithMemoryCleanup(cfg.Cache.CleanupInterval),
	}
	if !cfg.Cache.Redis.Enabled {
		mc := cache.NewMemoryCache(append(memOpts, cache.WithMemoryDefaultTTL(cfg.Cache.TTL))...)
		return mc, func() { _ = mc.Close() }, nil
	}

	rc, err := cache.NewRedisCache(
		cache.WithRedisAddr(cfg.Cache.Redis.Addr),
		cache.WithRedisAuth(cfg.Cache.Redis.Password, cfg.Cache.Redis.DB),
		cache.WithRedisPool(cfg.Cache.Redis.PoolSize, cfg.Cache.Redis.MinIdleConns, 0),
		cache.WithRedisPrefix(cfg.Cache.Redis.Prefix),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("redis cache: %w", err)
	}
	lc := cache.NewLayeredCache(rc,
		cache.WithLayeredL1TTL(cfg.Cache.Redis.L1TTL),
		cache.WithLayeredMemory(memOpts...),
	)
	return lc, func() { _ = lc.Close() }, nil
}

// ProvideBreakerManager creates the breaker registry; transitions are
// exported as metrics and logged.
func ProvideBreakerManager(rec *metrics.Recorder, log *logger.Logger) *circuitbreaker.Manager {
	blog := log.With(logger.String("component", "circuit_breaker"))
	return circuitbreaker.NewManager(
		circuitbreaker.WithObserver(rec),
		circuitbreaker.WithStateChangeListener(func(service string, from, to circuitbreaker.State) {
			blog.Warn("circuit breaker state changed",
				logger.String("service", service),
				logger.String("from", string(from)),
				logger.String("to", string(to)))
		}),
	)
}

func breakerConfig(cfg *config.Config, timeout time.Duration) circuitbreaker.Config {
	return circuitbreaker.Config{
		FailureThreshold: cfg.Breaker.FailureThreshold,
		ResetTimeout:     cfg.Breaker.ResetTimeout,
		Timeout:          timeout,
	}
}

func ProvideProphetClient(cfg *config.Config, rec *metrics.Recorder) *forecasting.ProphetClient {
	return forecasting.NewProphetClient(cfg.Forecast.ServiceURL, cfg.Forecast.BasicTimeout,
		forecasting.WithObserver(rec), forecasting.WithClientOptions(xhttp.WithHeader("User-Agent", userAgent)))
}

func ProvideEnhancedClient(cfg *config.Config, rec *metrics.Recorder) *forecasting.EnhancedClient {
	return forecasting.NewEnhancedClient(cfg.Forecast.ServiceURL, cfg.Forecast.EnhancedTimeout,
		forecasting.WithObserver(rec), forecasting.WithClientOptions(xhttp.WithHeader("User-Agent", userAgent)))
}

// ProvideStreamProvider creates the Finnhub-backed spot provider, or nil
// when spot.provider is not stream.
func ProvideStreamProvider(cfg *config.Config, log *logger.Logger) *spot.StreamProvider {
	if cfg.Spot.Provider != "stream" {
		return nil
	}
	client := finnhub.New(cfg.Finnhub.APIKey, cfg.Finnhub.WebSocketURL, []string{cfg.Finnhub.Symbol},
		finnhub.WithPingInterval(cfg.Finnhub.PingInterval),
		finnhub.WithLogger(log),
	)
	return spot.NewStreamProvider(client, cfg.Finnhub.Symbol, cfg.Spot.MaxAge, log,
		spot.WithReconnectDelay(cfg.Finnhub.ReconnectDelay),
	)
}

// ProvideSpotProvider selects the spot source. The HTTP source is guarded by its own breaker.
func ProvideSpotProvider(cfg *config.Config, stream *spot.StreamProvider, mgr *circuitbreaker.Manager) domsvc.SpotProvider {
	if stream != nil {
		return stream
	}
	breaker := mgr.GetOrCreate("spot", breakerConfig(cfg, cfg.Spot.Timeout))
	return spot.NewHTTPProvider(cfg.Spot.URL, cfg.Spot.Timeout, breaker, xhttp.WithHeader("User-Agent", userAgent))
}

func ProvidePriceService(cfg *config.Config, store repository.PriceStore, rec *metrics.Recorder) *usecase.PriceService {
	return usecase.NewPriceService(store, rec, cfg.Forecast.Asset, cfg.Forecast.Currency)
}

func ProvideForecastService(
	cfg *config.Config,
	prices repository.PriceStore,
	forecasts repository.ForecastStore,
	spotProvider domsvc.SpotProvider,
	prophet *forecasting.ProphetClient,
	enhanced *forecasting.EnhancedClient,
	c cache.Service,
	mgr *circuitbreaker.Manager,
	rec *metrics.Recorder,
	events repository.EventPublisher,
	log *logger.Logger,
) (*usecase.ForecastService, error) {
	f := cfg.Forecast
	return usecase.NewForecastService(usecase.ForecastDeps{
		Prices:    prices,
		Forecasts: forecasts,
		Spot:      spotProvider,
		Basic:     prophet,
		Enhanced:  enhanced,
		Features:  features.NewCollector(),
		Quality:   quality.NewChecker(),
		Cache:     c,
		Breaker:   mgr.GetOrCreate("prophet", breakerConfig(cfg, f.BasicTimeout)),
		Metrics:   rec,
		Events:    events,
		Log:       log,
	}, usecase.WithForecastOptions(usecase.ForecastOptions{
		EnhancedWindow:    f.EnhancedWindow,
		BasicWindow:       f.BasicWindow,
		RecentDays:        f.RecentDays,
		QualityThreshold:  f.QualityThreshold,
		MinEnhancedPoints: f.MinEnhancedPoints,
		CacheTTL:          cfg.Cache.TTL,
		BasicTimeout:      f.BasicTimeout,
		EnhancedTimeout:   f.EnhancedTimeout,
		Asset:             f.Asset,
		Currency:          f.Currency,
		SpotVariation:     f.SpotVariationFactor,
	}))
}

// ProvideIngestConsumer consumes the prices topic into the price store, or
// returns nil when Kafka is disabled.
func ProvideIngestConsumer(cfg *config.Config, prices *usecase.PriceService, log *logger.Logger) (*pkgkafka.Consumer, func(), error) {
	if !cfg.Kafka.Enabled {
		return nil, func() {}, nil
	}
	k := cfg.Kafka
	h := usecase.NewPriceIngestHandler(prices, log)
	consumer, err := pkgkafka.NewConsumer(h.Handle, log,
		pkgkafka.WithConsumerBrokers(k.Brokers),
		pkgkafka.WithConsumerTopic(k.PricesTopic),
		pkgkafka.WithConsumerGroupID(k.Consumer.GroupID),
		pkgkafka.WithConsumerWorkers(k.Consumer.Workers),
		pkgkafka.WithConsumerBufferSize(k.Consumer.BufferSize),
		pkgkafka.WithConsumerRetry(k.Consumer.RetryMax, k.Consumer.BackoffMin, k.Consumer.BackoffMax),
		pkgkafka.WithConsumerDLQ(k.Consumer.DLQTopic),
		pkgkafka.WithConsumerFetch(k.Consumer.MinBytes, k.Consumer.MaxBytes),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("kafka consumer: %w", err)
	}
	return consumer, func() { _ = consumer.Close() }, nil
}

// ProvideSpotRecorder periodically records the spot price, or returns nil
// when spot.record_backend is off.
func ProvideSpotRecorder(
	cfg *config.Config,
	spotProvider domsvc.SpotProvider,
	prices *usecase.PriceService,
	producer *pkgkafka.Producer,
	log *logger.Logger,
) *usecase.SpotRecorder {
	backend := cfg.Spot.RecordBackend
	if backend == "" || backend == "off" {
		return nil
	}
	var pub usecase.PricePublisher
	if producer != nil {
		pub = producer
	}
	return usecase.NewSpotRecorder(spotProvider, prices, pub, cfg.Kafka.PricesTopic, backend, cfg.Spot.RecordInterval, log)
}

func ProvideForecastHandler(
	log *logger.Logger,
	forecasts *usecase.ForecastService,
	prices *usecase.PriceService,
	mgr *circuitbreaker.Manager,
) *api.ForecastEchoHandler {
	return api.NewForecastEchoHandler(log.With(logger.String("component", "api")), forecasts, prices, mgr)
}

func ProvideHTTPServer(cfg *config.Config, log *logger.Logger, h *api.ForecastEchoHandler) *xhttp.Server {
	metricsPath := ""
	if cfg.Metrics.Enabled {
		metricsPath = cfg.Metrics.Path
	}
	s := cfg.Server
	return xhttp.NewServer(log, []xhttp.Handler{h},
		xhttp.WithHost(s.Host),
		xhttp.WithPort(s.Port),
		xhttp.WithTimeouts(s.ReadTimeout, s.WriteTimeout, s.ShutdownTimeout),
		xhttp.WithSlowThreshold(s.SlowThreshold),
		xhttp.WithCORSOrigins(s.CORSOrigins),
		xhttp.WithMetrics(metricsPath, nil, nil),
	)
}

// ProvideApp assembles the lifecycle. Optional components are registered
// only when configured.
func ProvideApp(
	cfg *config.Config,
	log *logger.Logger,
	srv *xhttp.Server,
	consumer *pkgkafka.Consumer,
	stream *spot.StreamProvider,
	recorder *usecase.SpotRecorder,
) *server.App {
	opts := []server.AppOption{server.WithShutdownTimeout(cfg.Server.ShutdownTimeout)}
	if consumer != nil {
		opts = append(opts, server.WithRunner("price_ingest", consumer))
	}
	if stream != nil {
		opts = append(opts, server.WithRunner("spot_stream", stream))
	}
	if recorder != nil {
		opts = append(opts, server.WithRunner("spot_recorder", recorder))
	}
	return server.New(srv, log, opts...)
}
