package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ManushiChamika/dynamic-pricing-ai-IRWA-PROJECT-sub000/internal/api"
	"github.com/ManushiChamika/dynamic-pricing-ai-IRWA-PROJECT-sub000/internal/bridge"
	"github.com/ManushiChamika/dynamic-pricing-ai-IRWA-PROJECT-sub000/internal/bus"
	"github.com/ManushiChamika/dynamic-pricing-ai-IRWA-PROJECT-sub000/internal/config"
	"github.com/ManushiChamika/dynamic-pricing-ai-IRWA-PROJECT-sub000/internal/engine"
	"github.com/ManushiChamika/dynamic-pricing-ai-IRWA-PROJECT-sub000/internal/events"
	"github.com/ManushiChamika/dynamic-pricing-ai-IRWA-PROJECT-sub000/internal/governance"
	"github.com/ManushiChamika/dynamic-pricing-ai-IRWA-PROJECT-sub000/internal/incident"
	"github.com/ManushiChamika/dynamic-pricing-ai-IRWA-PROJECT-sub000/internal/metrics"
	"github.com/ManushiChamika/dynamic-pricing-ai-IRWA-PROJECT-sub000/internal/rules"
	"github.com/ManushiChamika/dynamic-pricing-ai-IRWA-PROJECT-sub000/internal/sink"
	"github.com/ManushiChamika/dynamic-pricing-ai-IRWA-PROJECT-sub000/internal/sink/email"
	"github.com/ManushiChamika/dynamic-pricing-ai-IRWA-PROJECT-sub000/internal/store"
	"github.com/ManushiChamika/dynamic-pricing-ai-IRWA-PROJECT-sub000/internal/store/postgres"
)

func main() {
	cfg := &config.Config{}
	flag.StringVar(&cfg.HTTPPort, "http-port", config.GetEnvOrDefault("HTTP_PORT", "8080"), "HTTP listen port for the operator API")
	flag.StringVar(&cfg.PostgresDSN, "postgres-dsn", os.Getenv("POSTGRES_DSN"), "PostgreSQL DSN (empty selects the in-memory store)")
	flag.StringVar(&cfg.KafkaBrokers, "kafka-brokers", os.Getenv("KAFKA_BROKERS"), "Kafka broker addresses, comma-separated (empty disables the bridge)")
	flag.StringVar(&cfg.IngestTopics, "ingest-topics", config.GetEnvOrDefault("INGEST_TOPICS", "market.tick,price.proposal"), "Kafka topics to pull onto the bus")
	flag.StringVar(&cfg.MirrorTopics, "mirror-topics", config.GetEnvOrDefault("MIRROR_TOPICS", "price.update,incident.notice"), "Bus topics to push out to Kafka")
	flag.StringVar(&cfg.ConsumerGroupID, "consumer-group-id", config.GetEnvOrDefault("CONSUMER_GROUP_ID", "pricegov-group"), "Kafka consumer group ID")
	flag.StringVar(&cfg.RedisAddr, "redis-addr", os.Getenv("REDIS_ADDR"), "Redis address for metrics reporting (empty disables it)")
	flag.StringVar(&cfg.RulesFile, "rules-file", os.Getenv("RULES_FILE"), "JSON file of rule specs to seed into the rule store")
	flag.DurationVar(&cfg.RulePollInterval, "rule-poll-interval", 30*time.Second, "Interval for polling the rule store version (0 disables)")
	flag.DurationVar(&cfg.HandlerTimeout, "handler-timeout", 10*time.Second, "Per-handler invocation timeout on the bus")
	flag.DurationVar(&cfg.SinkAttemptTimeout, "sink-attempt-timeout", 15*time.Second, "Per-attempt delivery timeout")
	flag.Float64Var(&cfg.MinMargin, "min-margin", 0.10, "Minimum acceptable margin (proposed-cost)/proposed")
	flag.Float64Var(&cfg.MaxDelta, "max-delta", 0.10, "Maximum acceptable price delta |proposed-prev|/prev")
	flag.BoolVar(&cfg.AutoApply, "auto-apply", true, "Automatically apply proposals that pass guardrails")
	flag.StringVar(&cfg.CostsFile, "costs-file", os.Getenv("COSTS_FILE"), "JSON file mapping SKU to unit cost")
	flag.StringVar(&cfg.EmailFrom, "email-from", config.GetEnvOrDefault("EMAIL_FROM", "pricing-alerts@localhost"), "From address for email notifications")
	flag.StringVar(&cfg.EmailRecipients, "email-recipients", os.Getenv("EMAIL_RECIPIENTS"), "Email recipients, comma-separated")
	flag.StringVar(&cfg.SlackWebhookURL, "slack-webhook-url", os.Getenv("SLACK_WEBHOOK_URL"), "Slack incoming webhook URL")
	flag.StringVar(&cfg.WebhookURL, "webhook-url", os.Getenv("WEBHOOK_URL"), "Generic webhook URL")
	flag.Parse()

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))

	slog.Info("Starting pricing governance engine",
		"http_port", cfg.HTTPPort,
		"kafka_brokers", cfg.KafkaBrokers,
		"redis_addr", cfg.RedisAddr,
		"auto_apply", cfg.AutoApply,
		"min_margin", cfg.MinMargin,
		"max_delta", cfg.MaxDelta,
	)

	if err := cfg.Validate(); err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		slog.Info("Received shutdown signal, shutting down gracefully...")
		cancel()
	}()

	// Storage.
	var st store.Store
	if cfg.PostgresDSN != "" {
		db, err := postgres.NewDB(cfg.PostgresDSN)
		if err != nil {
			slog.Error("Failed to connect to PostgreSQL", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		if err := db.Migrate(ctx); err != nil {
			slog.Error("Failed to migrate database schema", "error", err)
			os.Exit(1)
		}
		st = db
	} else {
		slog.Warn("No PostgreSQL DSN configured, using in-memory store")
		st = store.NewMemory()
	}

	if cfg.RulesFile != "" {
		if err := seedRules(ctx, st, cfg.RulesFile); err != nil {
			slog.Error("Failed to seed rules", "file", cfg.RulesFile, "error", err)
			os.Exit(1)
		}
	}

	// Metrics.
	var collector *metrics.Collector
	if cfg.RedisAddr != "" {
		redisClient, err := metrics.ConnectRedis(ctx, cfg.RedisAddr)
		if err != nil {
			slog.Error("Failed to connect to Redis", "error", err)
			os.Exit(1)
		}
		defer redisClient.Close()
		collector = metrics.NewCollector("pricegov", redisClient)
	} else {
		collector = metrics.NewCollector("pricegov", nil)
	}
	collector.Start(ctx)
	defer collector.Stop()

	// Rule snapshot. Refusing to start without rules beats running blind.
	holder, err := rules.NewHolder(ctx, st)
	if err != nil {
		slog.Error("Failed to load initial rule snapshot", "error", err)
		os.Exit(1)
	}
	if cfg.RulePollInterval > 0 {
		rules.NewReloader(holder, cfg.RulePollInterval).Start(ctx)
	}

	// Event bus.
	b := bus.New(st,
		bus.WithRecorder(metrics.BusRecorder{C: collector}),
		bus.WithHandlerTimeout(cfg.HandlerTimeout),
	)
	defer b.Close()

	// Delivery sinks.
	registry := sink.NewRegistry()
	registry.Register(sink.NewInApp(b))
	if cfg.SlackWebhookURL != "" {
		registry.Register(sink.NewSlack(cfg.SlackWebhookURL, nil))
	}
	if cfg.WebhookURL != "" {
		registry.Register(sink.NewWebhook(cfg.WebhookURL, nil))
	}
	if recipients := config.SplitList(cfg.EmailRecipients); len(recipients) > 0 {
		registry.Register(email.New(email.Config{
			From:       cfg.EmailFrom,
			Recipients: recipients,
		}))
	}
	slog.Info("Delivery channels registered", "channels", registry.List())

	fanout := sink.NewFanout(registry, st,
		sink.WithAttemptTimeout(cfg.SinkAttemptTimeout),
		sink.WithRecorder(metrics.SinkRecorder{C: collector}),
	)

	// Incident correlator and alert engine.
	correlator := incident.NewCorrelator(st, fanout,
		incident.WithRecorder(metrics.IncidentRecorder{C: collector}),
	)
	eng := engine.New(holder, correlator,
		engine.WithRecorder(metrics.EngineRecorder{C: collector}),
	)
	eng.Bind(b)

	// Governance.
	var catalog governance.CatalogLookup
	if cfg.CostsFile != "" {
		catalog, err = loadCatalog(cfg.CostsFile)
		if err != nil {
			slog.Error("Failed to load cost catalog", "file", cfg.CostsFile, "error", err)
			os.Exit(1)
		}
	}
	govCfg := governance.Config{
		MinMargin: decimal.NewFromFloat(cfg.MinMargin),
		MaxDelta:  decimal.NewFromFloat(cfg.MaxDelta),
		AutoApply: cfg.AutoApply,
	}
	governor := governance.New(govCfg, st, st, catalog, b,
		governance.WithRecorder(metrics.GovernanceRecorder{C: collector}),
	)
	b.Subscribe(events.TopicPriceProposal, governor.HandleProposal)

	// Kafka bridge.
	if cfg.KafkaBrokers != "" {
		for _, topic := range config.SplitList(cfg.IngestTopics) {
			ing, err := bridge.NewIngester(cfg.KafkaBrokers, topic, cfg.ConsumerGroupID, b)
			if err != nil {
				slog.Error("Failed to create Kafka ingester", "topic", topic, "error", err)
				os.Exit(1)
			}
			defer ing.Close()
			go func() {
				if err := ing.Run(ctx); err != nil {
					slog.Error("Kafka ingester stopped", "error", err)
				}
			}()
		}
		if mirrorTopics := config.SplitList(cfg.MirrorTopics); len(mirrorTopics) > 0 {
			mirror, err := bridge.NewMirror(cfg.KafkaBrokers, mirrorTopics)
			if err != nil {
				slog.Error("Failed to create Kafka mirror", "error", err)
				os.Exit(1)
			}
			defer mirror.Close()
			mirror.Bind(b)
		}
	}

	// Operator API. Reloading swaps the snapshot and re-binds the engine
	// so rules on not-yet-subscribed topics start receiving events.
	reload := &snapshotReloader{holder: holder, engine: eng, bus: b}
	handlers := api.NewHandlers(correlator, st, st, st, reload)
	server := api.NewServer(cfg.HTTPPort, handlers)
	go func() {
		slog.Info("HTTP server listening", "port", cfg.HTTPPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server failed", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown failed", "error", err)
	}
	slog.Info("Shutdown complete")
}

// snapshotReloader reloads the rule snapshot and re-binds the engine to
// any newly referenced topics.
type snapshotReloader struct {
	holder *rules.Holder
	engine *engine.Engine
	bus    *bus.Bus
}

func (r *snapshotReloader) Reload(ctx context.Context) error {
	if err := r.holder.Reload(ctx); err != nil {
		return err
	}
	r.engine.Bind(r.bus)
	return nil
}

// seedRules loads rule specs from a JSON file into the rule store.
func seedRules(ctx context.Context, st store.RuleStore, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var specs []rules.Spec
	if err := json.Unmarshal(data, &specs); err != nil {
		return err
	}
	for i := range specs {
		if err := specs[i].Validate(); err != nil {
			return err
		}
		if err := st.SaveRule(ctx, &specs[i]); err != nil {
			return err
		}
	}
	slog.Info("Seeded rules from file", "file", path, "count", len(specs))
	return nil
}

// loadCatalog reads a JSON object mapping SKU to unit cost.
func loadCatalog(path string) (governance.StaticCatalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var raw map[string]float64
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	catalog := make(governance.StaticCatalog, len(raw))
	for sku, cost := range raw {
		catalog[sku] = decimal.NewFromFloat(cost)
	}
	return catalog, nil
}
