// cryptobars is the entrypoint for the trade-ingestion and bar-construction
// pipeline: a `produce` command that runs the exchange adapters and writes
// the `trades` topic, and a `build` command that runs the bar builder
// runtime against `trades` and writes `bars`. Grounded on the teacher's
// cmd/cryptorun boot sequence (zerolog bootstrap, cobra root command).
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/sawpanic/cryptorun-bars/internal/barbuilder"
	"github.com/sawpanic/cryptorun-bars/internal/barrunner"
	"github.com/sawpanic/cryptorun-bars/internal/collaborator"
	"github.com/sawpanic/cryptorun-bars/internal/config"
	"github.com/sawpanic/cryptorun-bars/internal/domain"
	"github.com/sawpanic/cryptorun-bars/internal/exchange"
	"github.com/sawpanic/cryptorun-bars/internal/exchange/coinbase"
	"github.com/sawpanic/cryptorun-bars/internal/exchange/kraken"
	"github.com/sawpanic/cryptorun-bars/internal/httpcache"
	"github.com/sawpanic/cryptorun-bars/internal/logging"
	"github.com/sawpanic/cryptorun-bars/internal/metrics"
	"github.com/sawpanic/cryptorun-bars/internal/netutil/ratelimit"
	"github.com/sawpanic/cryptorun-bars/internal/producer"
	"github.com/sawpanic/cryptorun-bars/internal/snowflake"
	"github.com/sawpanic/cryptorun-bars/internal/stream"
	"github.com/sawpanic/cryptorun-bars/internal/symbol"
)

const version = "v0.1.0"

// highVolume is the dedicated-connection set from spec.md §4.2's fan-out
// policy: a product whose symbol (separators stripped) lands in this set
// gets its own adapter instance instead of sharing one with its venue.
var highVolume = map[string]bool{
	"BTCUSD": true,
	"ETHUSD": true,
}

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	rootCmd := &cobra.Command{
		Use:     "cryptobars",
		Short:   "Trade ingestion and bar-construction pipeline",
		Version: version,
	}

	rootCmd.AddCommand(newProduceCmd(), newBuildCmd(), newRunCmd(), newVersionCmd())

	if err := rootCmd.Execute(); err != nil {
		log.Fatal().Err(err).Msg("cryptobars exited with error")
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the cryptobars version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version)
		},
	}
}

func loadConfig() (*config.Config, error) {
	path := os.Getenv("CRYPTOBARS_CONFIG")
	if path == "" {
		path = "config.yaml"
	}
	return config.Load(path)
}

// serveMetrics starts the sidecar HTTP server exposing /metrics and
// /healthz, routed with gorilla/mux the way the teacher's read-only API
// server routes its own /health and /candidates endpoints.
func serveMetrics(ctx context.Context, port int, registry *prometheus.Registry, log zerolog.Logger) {
	router := mux.NewRouter()
	router.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	router.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}).Methods(http.MethodGet)

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: router}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	go func() {
		log.Info().Int("port", port).Msg("serving /metrics and /healthz")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("metrics server stopped")
		}
	}()
}

func rootContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func newProduceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "produce",
		Short: "Run exchange adapters and publish normalized trades",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProduce()
		},
	}
}

func runProduce() error {
	log := logging.New("producer")

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := rootContext()
	defer cancel()

	registry := prometheus.NewRegistry()
	sidecar := metrics.New(registry)
	serveMetrics(ctx, cfg.MetricsPort, registry, log)

	bus := stream.NewMemoryBus()
	if err := bus.Start(ctx); err != nil {
		return err
	}

	sources, err := buildSources(cfg, log)
	if err != nil {
		return err
	}

	p := producer.New(sources, bus, cfg.Kafka.InputTopic, sidecar, log)
	log.Info().Int("sources", len(sources)).Msg("starting trade producer")
	return p.Run(ctx)
}

// buildSources instantiates the exchange.Adapters for every configured
// exchange. In live mode it applies the HIGH_VOLUME fan-out policy
// (spec.md §4.2): products in highVolume get a dedicated adapter,
// everything else on that exchange shares one. In historical mode every
// product gets its own REST adapter.
func buildSources(cfg *config.Config, log zerolog.Logger) ([]producer.Source, error) {
	var sources []producer.Source

	for _, ex := range cfg.Exchanges {
		name := strings.ToLower(ex.Name)

		var dedicated []string
		var shared []string
		for _, p := range cfg.Products {
			productID := canonicalProductID(p.Coin)
			stripped := strings.ReplaceAll(productID, "-", "")
			if highVolume[stripped] {
				dedicated = append(dedicated, productID)
			} else {
				shared = append(shared, productID)
			}
		}

		switch {
		case cfg.LiveOrHistorical == config.ModeLive:
			for _, productID := range dedicated {
				sources = append(sources, newLiveSource(name, []string{productID}, log))
			}
			if len(shared) > 0 {
				sources = append(sources, newLiveSource(name, shared, log))
			}
		case cfg.LiveOrHistorical == config.ModeHistorical:
			historicalSources, err := newHistoricalSources(name, append(append([]string{}, dedicated...), shared...), cfg, log)
			if err != nil {
				return nil, err
			}
			sources = append(sources, historicalSources...)
		}
	}

	return sources, nil
}

func canonicalProductID(coin string) string {
	return strings.ToUpper(coin) + "-USD"
}

func newLiveSource(exchangeName string, productIDs []string, log zerolog.Logger) producer.Source {
	var adapter exchange.Adapter
	switch exchangeName {
	case "kraken":
		adapter = kraken.NewWebSocketAdapter("", productIDs, log)
	case "coinbase":
		adapter = coinbase.NewWebSocketAdapter(productIDs, log)
	}
	return producer.Source{Exchange: exchangeName, Adapter: adapter}
}

func newHistoricalSources(exchangeName string, productIDs []string, cfg *config.Config, log zerolog.Logger) ([]producer.Source, error) {
	if exchangeName != "kraken" {
		// Only Kraken exposes the public REST Trades backfill this pipeline
		// targets; a historical-mode config naming another exchange is a
		// configuration error caught here rather than silently producing
		// nothing.
		return nil, fmt.Errorf("historical backfill is not supported for exchange %q", exchangeName)
	}

	cache, err := httpcache.New(cfg.CacheDirHistorical)
	if err != nil {
		return nil, err
	}
	limiter := ratelimit.NewLimiter()
	limiter.Configure("kraken", 1, 1)

	toMs := time.Now().UTC().UnixMilli()
	fromMs := time.Now().UTC().Add(-time.Duration(cfg.LastNDays) * 24 * time.Hour).UnixMilli()

	var sources []producer.Source
	for _, productID := range productIDs {
		krakenPair, ok := symbol.KrakenRESTPair(productID)
		if !ok {
			log.Warn().Str("product_id", productID).Msg("no Kraken REST pair mapping, skipping historical source")
			continue
		}
		adapter := kraken.NewRESTAdapter(productID, krakenPair, fromMs, toMs, cache, limiter, log)
		sources = append(sources, producer.Source{Exchange: exchangeName, Adapter: adapter})
	}
	return sources, nil
}

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the producer and the bar builder runtime in one process",
		Long: "Runs both halves of the pipeline sharing a single in-memory event bus. " +
			"Use this for single-instance deployments; produce/build are separate " +
			"commands so a real broker deployment can run each as its own process.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAll()
		},
	}
}

func runAll() error {
	log := logging.New("cryptobars")

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := rootContext()
	defer cancel()

	registry := prometheus.NewRegistry()
	sidecar := metrics.New(registry)
	serveMetrics(ctx, cfg.MetricsPort, registry, log)

	bus := stream.NewMemoryBus()
	if err := bus.Start(ctx); err != nil {
		return err
	}

	thresholds, err := buildThresholds(cfg)
	if err != nil {
		return err
	}
	builder := barbuilder.New(thresholds, snowflake.New(machineID()))

	group := cfg.Kafka.ConsumerGroup
	if cfg.Kafka.CreateNewConsumerGroup {
		group = group + "-" + uuid.NewString()
	}
	runner := barrunner.New(bus, builder, cfg.Kafka.InputTopic, cfg.Kafka.OutputTopic, group, sidecar, log)
	wireDurableCheckpoint(runner, cfg, log)
	if err := runner.Start(ctx); err != nil {
		return err
	}

	writer, err := newFeatureStoreWriter(cfg, log)
	if err != nil {
		return err
	}
	if err := subscribeFeatureStore(ctx, bus, cfg.Kafka.OutputTopic, writer, time.Duration(cfg.SaveEveryNSec)*time.Second, log); err != nil {
		return err
	}

	sources, err := buildSources(cfg, log)
	if err != nil {
		return err
	}
	p := producer.New(sources, bus, cfg.Kafka.InputTopic, sidecar, log)

	log.Info().Int("sources", len(sources)).Str("group", group).Msg("cryptobars running")
	return p.Run(ctx)
}

func newBuildCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "build",
		Short: "Run the bar builder runtime against the trades topic",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBuild()
		},
	}
}

func runBuild() error {
	log := logging.New("barrunner")

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := rootContext()
	defer cancel()

	registry := prometheus.NewRegistry()
	sidecar := metrics.New(registry)
	serveMetrics(ctx, cfg.MetricsPort+1, registry, log)

	bus := stream.NewMemoryBus()
	if err := bus.Start(ctx); err != nil {
		return err
	}

	thresholds, err := buildThresholds(cfg)
	if err != nil {
		return err
	}
	builder := barbuilder.New(thresholds, snowflake.New(machineID()))

	group := cfg.Kafka.ConsumerGroup
	if cfg.Kafka.CreateNewConsumerGroup {
		group = group + "-" + uuid.NewString()
	}

	runner := barrunner.New(bus, builder, cfg.Kafka.InputTopic, cfg.Kafka.OutputTopic, group, sidecar, log)
	wireDurableCheckpoint(runner, cfg, log)
	if err := runner.Start(ctx); err != nil {
		return err
	}

	writer, err := newFeatureStoreWriter(cfg, log)
	if err != nil {
		return err
	}
	if err := subscribeFeatureStore(ctx, bus, cfg.Kafka.OutputTopic, writer, time.Duration(cfg.SaveEveryNSec)*time.Second, log); err != nil {
		return err
	}

	log.Info().Str("group", group).Int("products", len(thresholds)).Msg("bar builder runtime started")
	<-ctx.Done()
	return bus.Stop(context.Background())
}

// wireDurableCheckpoint attaches a Redis-backed checkpoint store to runner
// when cfg.Persistence.RedisCheckpointAddr is set, layering durability on
// top of MemoryBus's own in-process checkpoint map.
func wireDurableCheckpoint(runner *barrunner.Runner, cfg *config.Config, log zerolog.Logger) {
	if cfg.Persistence.RedisCheckpointAddr == "" {
		return
	}
	log.Info().Str("addr", cfg.Persistence.RedisCheckpointAddr).Msg("using Redis-backed durable checkpoint store")
	runner.DurableCheckpoint = stream.NewRedisCheckpointStore(cfg.Persistence.RedisCheckpointAddr)
}

// newFeatureStoreWriter picks the feature-store backend for bars: a
// Postgres-backed writer when cfg.Persistence.PostgresDSN is set, otherwise
// the in-memory reference implementation.
func newFeatureStoreWriter(cfg *config.Config, log zerolog.Logger) (collaborator.FeatureStoreWriter, error) {
	if cfg.Persistence.PostgresDSN == "" {
		return collaborator.NewMemoryWriter(cfg.BufferSize), nil
	}
	log.Info().Msg("using Postgres-backed feature store writer")
	db, err := sqlx.Connect("postgres", cfg.Persistence.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("connect feature store db: %w", err)
	}
	return collaborator.NewPostgresWriter(db, cfg.BufferSize, 5*time.Second), nil
}

// subscribeFeatureStore drains the bars topic into writer, flushing
// whatever it buffers every save_every_n_sec as a fallback to the
// buffer-size-triggered flush inside Write.
func subscribeFeatureStore(ctx context.Context, bus stream.EventBus, topic string, writer collaborator.FeatureStoreWriter, saveEvery time.Duration, log zerolog.Logger) error {
	err := bus.Subscribe(ctx, topic, "feature-store", func(ctx context.Context, msg *stream.Message) error {
		var bar domain.Bar
		if err := json.Unmarshal(msg.Payload, &bar); err != nil {
			return err
		}
		writer.Write(bar)
		return nil
	})
	if err != nil {
		return err
	}

	go func() {
		ticker := time.NewTicker(saveEvery)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				writer.Flush()
				return
			case <-ticker.C:
				writer.Flush()
			}
		}
	}()
	return nil
}

func buildThresholds(cfg *config.Config) (map[string]barbuilder.Threshold, error) {
	thresholds := make(map[string]barbuilder.Threshold, len(cfg.Products))
	for _, p := range cfg.Products {
		policy, err := aggregationPolicy(p.Aggregation.Type)
		if err != nil {
			return nil, err
		}
		productID := canonicalProductID(p.Coin)
		thresholds[productID] = barbuilder.Threshold{
			Policy:   policy,
			Interval: p.Aggregation.Interval,
		}
	}
	return thresholds, nil
}

func aggregationPolicy(t config.AggregationType) (barbuilder.Policy, error) {
	switch t {
	case config.AggregationVolume:
		return barbuilder.PolicyVolume, nil
	case config.AggregationTickImbalance:
		return barbuilder.PolicyTickImbalance, nil
	case config.AggregationTime:
		return barbuilder.PolicyTime, nil
	default:
		return "", fmt.Errorf("unsupported aggregation type %q", t)
	}
}

// machineID derives the snowflake generator's machine id from the process's
// own identity so two cryptobars build instances in the same deployment
// don't mint colliding ids; a single-instance deployment can safely ignore
// the low bits this folds in.
func machineID() int64 {
	return int64(os.Getpid() & 0x3FF)
}
