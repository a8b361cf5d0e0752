package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"notifier/internal/backplane"
	"notifier/internal/classifier"
	"notifier/internal/config"
	"notifier/internal/consumer"
	"notifier/internal/debounce"
	"notifier/internal/dispatch"
	"notifier/internal/enrichment"
	"notifier/internal/eventqueue"
	"notifier/internal/hub"
	"notifier/internal/ingest"
	"notifier/internal/metrics"
	"notifier/internal/state"
)

func main() {
	cfg := &config.Config{}
	flag.StringVar(&cfg.KafkaBrokers, "kafka-brokers", config.GetEnvOrDefault("KAFKA_BROKERS", "localhost:9092"), "Kafka broker addresses (comma-separated)")
	flag.StringVar(&cfg.TelemetryTopic, "telemetry-topic", config.GetEnvOrDefault("TELEMETRY_TOPIC", "fleet.telemetry"), "Kafka topic carrying telemetry records")
	flag.StringVar(&cfg.ConsumerGroupID, "consumer-group-id", config.GetEnvOrDefault("CONSUMER_GROUP_ID", "notifier-group"), "Kafka consumer group shared by all gateway instances")
	flag.StringVar(&cfg.MQTTBrokerURL, "mqtt-broker-url", config.GetEnvOrDefault("MQTT_BROKER_URL", "tcp://localhost:1883"), "Business-event broker URL (MQTT)")
	flag.StringVar(&cfg.MQTTUser, "mqtt-user", config.GetEnvOrDefault("MQTT_USER", ""), "Business-event broker username")
	flag.StringVar(&cfg.MQTTPassword, "mqtt-password", config.GetEnvOrDefault("MQTT_PASSWORD", ""), "Business-event broker password")
	flag.StringVar(&cfg.EventsTopicFilter, "events-topic-filter", config.GetEnvOrDefault("EVENTS_TOPIC_FILTER", "events/#"), "Wildcard topic filter for business events")
	flag.StringVar(&cfg.RedisAddr, "redis-addr", config.GetEnvOrDefault("REDIS_ADDR", "localhost:6379"), "Redis server address (broadcast backplane)")
	flag.StringVar(&cfg.BackplaneChannel, "backplane-channel", config.GetEnvOrDefault("BACKPLANE_CHANNEL", backplane.DefaultChannel), "Redis pub/sub channel for broadcast packets")
	flag.StringVar(&cfg.ListenAddr, "listen-addr", config.GetEnvOrDefault("LISTEN_ADDR", ":8080"), "HTTP listen address (/ws, /healthz, /metrics)")
	flag.StringVar(&cfg.RiskScorerURL, "risk-scorer-url", config.GetEnvOrDefault("RISK_SCORER_URL", "http://localhost:8081/function/risk-calculator"), "Risk-scoring function URL")
	flag.StringVar(&cfg.DispatchURL, "dispatch-url", config.GetEnvOrDefault("DISPATCH_URL", ""), "Message-dispatch function URL (empty disables dispatch)")
	flag.StringVar(&cfg.DispatchRecipient, "dispatch-recipient", config.GetEnvOrDefault("DISPATCH_RECIPIENT", "manager@pharmaguard.com"), "Recipient for dispatched alert notifications")
	flag.DurationVar(&cfg.DebounceWindow, "debounce-window", debounce.DefaultWindow, "Minimum interval between alerts of the same truck+severity")
	flag.DurationVar(&cfg.EnrichmentTimeout, "enrichment-timeout", enrichment.DefaultTimeout, "Timeout for the risk-scoring call")
	flag.DurationVar(&cfg.ReconnectBackoff, "reconnect-backoff", 5*time.Second, "Fixed backoff for stream/queue/backplane reconnects")
	flag.Parse()

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))

	slog.Info("Starting notification gateway",
		"kafka_brokers", cfg.KafkaBrokers,
		"telemetry_topic", cfg.TelemetryTopic,
		"consumer_group_id", cfg.ConsumerGroupID,
		"mqtt_broker_url", cfg.MQTTBrokerURL,
		"events_topic_filter", cfg.EventsTopicFilter,
		"redis_addr", cfg.RedisAddr,
		"backplane_channel", cfg.BackplaneChannel,
		"listen_addr", cfg.ListenAddr,
		"debounce_window", cfg.DebounceWindow,
		"enrichment_timeout", cfg.EnrichmentTimeout,
		"reconnect_backoff", cfg.ReconnectBackoff,
	)

	if err := cfg.Validate(); err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	metrics.Init()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		slog.Info("Received shutdown signal, shutting down gracefully...")
		cancel()
	}()

	// Backplane.
	slog.Info("Connecting to Redis", "addr", cfg.RedisAddr)
	redisClient, err := backplane.Connect(ctx, cfg.RedisAddr)
	if err != nil {
		slog.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	defer redisClient.Close()

	bp, err := backplane.New(redisClient, cfg.BackplaneChannel, cfg.ReconnectBackoff)
	if err != nil {
		slog.Error("Failed to create backplane", "error", err)
		os.Exit(1)
	}

	// Local stores and session registry.
	store := state.NewStore()
	ledger := debounce.NewLedger(cfg.DebounceWindow)
	sessions := hub.New(store)

	go bp.Run(ctx, sessions.Deliver)

	// Outbound function clients.
	scorer, err := enrichment.NewClient(cfg.RiskScorerURL, cfg.EnrichmentTimeout)
	if err != nil {
		slog.Error("Failed to create enrichment client", "error", err)
		os.Exit(1)
	}
	notifier := dispatch.NewNotifier(cfg.DispatchURL, cfg.DispatchRecipient)

	// Telemetry ingestion.
	slog.Info("Connecting to telemetry stream", "topic", cfg.TelemetryTopic)
	telemetry, err := consumer.NewConsumer(cfg.KafkaBrokers, cfg.TelemetryTopic, cfg.ConsumerGroupID)
	if err != nil {
		slog.Error("Failed to create telemetry consumer", "error", err)
		os.Exit(1)
	}
	defer telemetry.Close()

	pipeline := ingest.NewPipeline(
		telemetry,
		store,
		ledger,
		classifier.New(classifier.DefaultThresholds()),
		scorer,
		notifier,
		bp,
		cfg.ReconnectBackoff,
	)
	go pipeline.Run(ctx)

	// Business-event ingestion. The adapter owns its broker connection and
	// retries it indefinitely; a down broker at startup is not fatal.
	queue, err := eventqueue.NewAdapter(
		cfg.MQTTBrokerURL,
		cfg.MQTTUser,
		cfg.MQTTPassword,
		cfg.EventsTopicFilter,
		cfg.ReconnectBackoff,
		bp,
	)
	if err != nil {
		slog.Error("Failed to create event queue adapter", "error", err)
		os.Exit(1)
	}
	slog.Info("Connecting to event broker", "url", cfg.MQTTBrokerURL)
	go func() {
		if err := queue.Run(ctx); err != nil {
			slog.Error("Event queue adapter failed", "error", err)
		}
	}()

	// Client-facing HTTP server.
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", sessions.ServeWS)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{Addr: cfg.ListenAddr, Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		server.Shutdown(shutdownCtx)
	}()

	slog.Info("Listening for viewer connections", "addr", cfg.ListenAddr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("HTTP server failed", "error", err)
		os.Exit(1)
	}

	slog.Info("Notification gateway stopped")
}
