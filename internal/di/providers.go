package di

import (
	"context"
	"fmt"
	"time"

	"KlineHub/internal/domain/models"
	"KlineHub/internal/domain/repository"
	"KlineHub/internal/handler/api"
	mid "KlineHub/internal/middleware"
	internalrepo "KlineHub/internal/repository"
	"KlineHub/internal/service/finnhub"
	"KlineHub/internal/service/generator"
	"KlineHub/internal/service/ratelimit"
	"KlineHub/internal/stream"
	"KlineHub/internal/usecase"
	"KlineHub/pkg/cache"
	pkgch "KlineHub/pkg/clickhouse"
	"KlineHub/pkg/config"
	xhttp "KlineHub/pkg/http"
	pkgkafka "KlineHub/pkg/kafka"
	"KlineHub/pkg/logger"
	"KlineHub/pkg/metrics"
	"KlineHub/pkg/server"
)

func noop() {}

// ProvideLogger builds the application logger from config.
func ProvideLogger(cfg *config.Config) (*logger.Logger, func(), error) {
	l, err := logger.New(&logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		Compress:   cfg.Log.Compress,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("logger: %w", err)
	}
	return l, func() { _ = l.Close() }, nil
}

// ProvideMetrics creates a Prometheus metrics recorder.
func ProvideMetrics() repository.Metrics {
	return metrics.New()
}

// ProvideClickHouseClient connects to ClickHouse when it is the archive
// backend. It returns nil otherwise.
func ProvideClickHouseClient(cfg *config.Config) (*pkgch.Client, func(), error) {
	if cfg.Archive.Backend != "clickhouse" {
		return nil, noop, nil
	}
	client, err := pkgch.NewClient(
		pkgch.WithHost(cfg.ClickHouse.Host),
		pkgch.WithPort(cfg.ClickHouse.Port),
		pkgch.WithDatabase(cfg.ClickHouse.Database),
		pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
		pkgch.WithMaxConnections(10, 5),
		pkgch.WithHTTP(cfg.ClickHouse.UseHTTP),
		pkgch.WithAsyncInsert(cfg.ClickHouse.AsyncInsert, cfg.ClickHouse.WaitForAsync),
		pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout),
		pkgch.WithMaxExecutionTime(cfg.ClickHouse.MaxExecutionTime),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("clickhouse client: %w", err)
	}
	return client, func() { _ = client.Close() }, nil
}

// ProvideKafkaProducer creates a Kafka producer when any component publishes
// to Kafka. It returns nil otherwise.
func ProvideKafkaProducer(cfg *config.Config) (*pkgkafka.Producer, func(), error) {
	if cfg.Archive.Backend != "kafka" && !cfg.LogCollector.Enabled {
		return nil, noop, nil
	}
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
		pkgkafka.WithBatchSize(cfg.Kafka.Producer.BatchSize),
		pkgkafka.WithBatchBytes(cfg.Kafka.Producer.BatchBytes),
		pkgkafka.WithBatchTimeout(cfg.Kafka.Producer.Linger),
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

// ProvideRedisCache connects to Redis when the last-bar mirror is enabled.
func ProvideRedisCache(cfg *config.Config) (*cache.RedisCache, func(), error) {
	if !cfg.Redis.Enabled {
		return nil, noop, nil
	}
	rc, err := cache.NewRedisCache(
		cache.WithRedisAddr(cfg.Redis.Addr),
		cache.WithRedisPassword(cfg.Redis.Password),
		cache.WithRedisDB(cfg.Redis.DB),
		cache.WithRedisPrefix(cfg.Redis.KeyPrefix),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("redis: %w", err)
	}
	return rc, func() { _ = rc.Close() }, nil
}

// ProvideBarStorage creates the ClickHouse bar archive and makes sure its
// schema exists.
func ProvideBarStorage(client *pkgch.Client, l *logger.Logger) (repository.BarStorage, error) {
	if client == nil {
		return nil, nil
	}
	st := internalrepo.NewCHBarStorage(client.DB(), client.Database(), l)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := st.Init(ctx); err != nil {
		return nil, fmt.Errorf("clickhouse schema: %w", err)
	}
	return st, nil
}

// ProvideBarPublisher creates the Kafka bar publisher.
func ProvideBarPublisher(cfg *config.Config, producer *pkgkafka.Producer) repository.BarPublisher {
	if cfg.Archive.Backend != "kafka" || producer == nil {
		return nil
	}
	return internalrepo.NewKafkaBarPublisher(producer, cfg.Kafka.BarsTopic)
}

// ProvideBarMirror creates the Redis last-bar mirror.
func ProvideBarMirror(cfg *config.Config, rc *cache.RedisCache) repository.BarMirror {
	if rc == nil {
		return nil
	}
	return internalrepo.NewRedisBarMirror(rc, cfg.Redis.TTL)
}

// ProvideBarArchiver creates the sealed-bar archiver over whichever sinks are
// configured.
func ProvideBarArchiver(
	cfg *config.Config,
	m repository.Metrics,
	storage repository.BarStorage,
	publisher repository.BarPublisher,
	mirror repository.BarMirror,
	l *logger.Logger,
) *usecase.BarArchiver {
	opts := []usecase.ArchiverOption{
		usecase.WithArchiveBatch(cfg.Archive.BatchSize, cfg.Archive.BatchTimeout),
		usecase.WithArchiveQueueSize(cfg.Archive.QueueSize),
		usecase.WithArchiverLogger(l),
	}
	if storage != nil {
		opts = append(opts, usecase.WithBarStorage(storage))
	}
	if publisher != nil {
		opts = append(opts, usecase.WithBarPublisher(publisher))
	}
	if mirror != nil {
		opts = append(opts, usecase.WithBarMirror(mirror))
	}
	return usecase.NewBarArchiver(m, opts...)
}

// ProvideTradeBus creates the per-symbol trade fan-out.
func ProvideTradeBus(cfg *config.Config, m repository.Metrics) *stream.Bus[models.Trade] {
	return stream.NewBus[models.Trade](
		stream.WithBufferSize(cfg.Stream.BufferSize),
		stream.WithDropHandler(func(string) { m.RecordDropped("ws_trades") }),
	)
}

// ProvideBarBus creates the per-series bar fan-out.
func ProvideBarBus(cfg *config.Config, m repository.Metrics) *stream.Bus[models.Bar] {
	return stream.NewBus[models.Bar](
		stream.WithBufferSize(cfg.Stream.BufferSize),
		stream.WithDropHandler(func(string) { m.RecordDropped("ws_bars") }),
	)
}

// ProvideKlineStore creates the in-memory kline store. Every bar change goes
// to the bar bus and sealed bars go to the archiver.
func ProvideKlineStore(
	cfg *config.Config,
	m repository.Metrics,
	bars *stream.Bus[models.Bar],
	archiver *usecase.BarArchiver,
) *usecase.KlineStore {
	opts := []usecase.KlineStoreOption{
		usecase.WithHistoryCapacity(cfg.Kline.HistoryCapacity),
		usecase.WithStoreMetrics(m),
		usecase.WithOnBarUpdate(func(b models.Bar) { bars.Publish(b.Key(), b) }),
	}
	if archiver.Enabled() {
		opts = append(opts, usecase.WithOnBarSealed(archiver.Enqueue))
	}
	return usecase.NewKlineStore(opts...)
}

// ProvideTradeProcessor creates trade processor use case.
func ProvideTradeProcessor(store *usecase.KlineStore, trades *stream.Bus[models.Trade], m repository.Metrics) *usecase.TradeProcessor {
	return usecase.NewTradeProcessor(store, trades, m)
}

// ProvidePipeline builds the validation and throttling stage in front of the
// processor.
func ProvidePipeline(cfg *config.Config, proc *usecase.TradeProcessor, m repository.Metrics) *mid.RealtimePipeline {
	opts := []mid.PipelineOption{
		mid.WithRateLimit(ratelimit.New(), cfg.Pipeline.MaxRPS, cfg.Pipeline.Burst),
	}
	// external feeds do not share the generator's symbol casing
	if cfg.Source.Type != "generator" {
		opts = append(opts, mid.WithTransform(mid.NormalizeSymbol))
	}
	return mid.NewRealtimePipeline(proc, m, opts...)
}

// ProvideMarketStream selects the push source. The Kafka source is a
// consumer, not a stream, so it yields nil here.
func ProvideMarketStream(cfg *config.Config, l *logger.Logger) repository.MarketStream {
	switch cfg.Source.Type {
	case "finnhub":
		return finnhub.New(cfg.Finnhub.APIKey, cfg.Finnhub.WebSocketURL, cfg.Finnhub.Symbols, cfg.Finnhub.PingInterval, l)
	case "generator":
		return generator.New(
			generator.WithTickInterval(cfg.Generator.TickInterval),
			generator.WithBasePrices(generatorPrices(cfg.Generator)),
			generator.WithMaxMovePct(cfg.Generator.MaxMovePct),
			generator.WithQuantityRange(cfg.Generator.MinQuantity, cfg.Generator.MaxQuantity),
			generator.WithLogger(l),
		)
	default:
		return nil
	}
}

// generatorPrices narrows the configured base prices to the configured
// symbols. Config validation guarantees every symbol has a price.
func generatorPrices(gc config.GeneratorConfig) map[string]float64 {
	out := make(map[string]float64, len(gc.Symbols))
	for _, s := range gc.Symbols {
		out[s] = gc.BasePrices[s]
	}
	return out
}

// ProvideTradeCollector creates the collector that drives a push source.
func ProvideTradeCollector(
	cfg *config.Config,
	ms repository.MarketStream,
	pipe *mid.RealtimePipeline,
	m repository.Metrics,
	l *logger.Logger,
) *usecase.TradeCollector {
	if ms == nil {
		return nil
	}
	return usecase.NewTradeCollector(ms, pipe, m, l, cfg.Source.ReconnectDelay)
}

// ProvideKafkaTradesHandler creates the handler for the trades topic.
func ProvideKafkaTradesHandler(cfg *config.Config, pipe *mid.RealtimePipeline, m repository.Metrics) *usecase.KafkaTradesHandler {
	if cfg.Source.Type != "kafka" {
		return nil
	}
	return usecase.NewKafkaTradesHandler(cfg.Kafka.TradesTopic, pipe, m)
}

// ProvideKafkaConsumer creates a Kafka consumer for the trades topic when
// Kafka is the trade source.
func ProvideKafkaConsumer(cfg *config.Config, h *usecase.KafkaTradesHandler, l *logger.Logger) (*pkgkafka.Consumer, error) {
	if h == nil {
		return nil, nil
	}
	consumer, err := pkgkafka.NewConsumer(
		pkgkafka.WithConsumerBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithConsumerGroupID(cfg.Kafka.Consumer.GroupID),
		pkgkafka.WithConsumerWorkers(cfg.Kafka.Consumer.Workers),
		pkgkafka.WithConsumerBufferSize(cfg.Kafka.Consumer.BufferSize),
		pkgkafka.WithConsumerRetry(cfg.Kafka.Consumer.RetryMax, cfg.Kafka.Consumer.BackoffMin, cfg.Kafka.Consumer.BackoffMax),
		pkgkafka.WithConsumerDLQ(cfg.Kafka.Consumer.DLQTopic),
		pkgkafka.WithConsumerFetch(cfg.Kafka.Consumer.MinBytes, cfg.Kafka.Consumer.MaxBytes),
		pkgkafka.WithConsumerLogger(l),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}
	consumer.WithConsumerHook(h.Hook())
	consumer.RegisterHandler(h)
	return consumer, nil
}

// ProvideKlineService creates the read side used by the HTTP API.
func ProvideKlineService(store *usecase.KlineStore, storage repository.BarStorage, mirror repository.BarMirror) *usecase.KlineService {
	return usecase.NewKlineService(store, storage, mirror)
}

// ProvideHTTPHandler assembles the REST and websocket routes.
func ProvideHTTPHandler(
	cfg *config.Config,
	l *logger.Logger,
	svc *usecase.KlineService,
	trades *stream.Bus[models.Trade],
	bars *stream.Bus[models.Bar],
) xhttp.Handler {
	return api.NewRouter(
		api.NewKlinesEchoHandler(l, svc),
		api.NewStreamHandler(l, trades, bars,
			api.WithPing(cfg.Server.WSPingInterval, cfg.Server.WSWriteTimeout),
			api.WithAllowedOrigins(cfg.Server.AllowOrigins),
		),
	)
}

// ProvideHTTPServer creates the Echo server.
func ProvideHTTPServer(cfg *config.Config, h xhttp.Handler, l *logger.Logger) *xhttp.Server {
	return xhttp.NewServer(h,
		xhttp.WithPort(cfg.Server.Port),
		xhttp.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.ShutdownTimeout),
		xhttp.WithCORS(true, cfg.Server.AllowOrigins...),
		xhttp.WithMetrics(cfg.Metrics.Enabled, cfg.Metrics.Path),
		xhttp.WithLogger(l),
	)
}

// ProvideApp builds the application. When log collection is on, aggregated
// logs are shipped through the Kafka producer.
func ProvideApp(
	cfg *config.Config,
	l *logger.Logger,
	producer *pkgkafka.Producer,
	collector *usecase.TradeCollector,
	consumer *pkgkafka.Consumer,
	archiver *usecase.BarArchiver,
	srv *xhttp.Server,
) *server.App {
	if cfg.LogCollector.Enabled && producer != nil {
		l.AddCollector(&logger.CollectionConfig{
			TimeInterval: cfg.LogCollector.FlushInterval,
			Topic:        cfg.LogCollector.Topic,
			Publisher:    producer,
		})
	}
	return server.New(cfg, l, collector, consumer, archiver, srv)
}
