package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"energy-insight/internal/analytics/aggregate"
	"energy-insight/internal/analytics/anomaly"
	anomalypostgres "energy-insight/internal/analytics/anomaly/postgres"
	"energy-insight/internal/analytics/cost"
	"energy-insight/internal/analytics/efficiency"
	"energy-insight/internal/analytics/trend"
	apihttp "energy-insight/internal/api/http"
	"energy-insight/internal/audit"
	"energy-insight/internal/auth"
	"energy-insight/internal/notify"
	"energy-insight/internal/observability/metrics"
	telemetrypostgres "energy-insight/internal/telemetry/infrastructure/postgres"
	thingsboard "energy-insight/internal/telemetry/interfaces/thingsboard"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	cfg := loadConfig()
	logger := log.New(os.Stdout, "", log.LstdFlags)

	db, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		logger.Fatalf("db open error: %v", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		logger.Fatalf("db ping error: %v", err)
	}

	metrics.Init(db, logger)
	auditRepo := audit.NewRepository(db)

	readingRepo := telemetrypostgres.NewReadingRepository(db)
	readingQuery := telemetrypostgres.NewReadingQuery(db)

	aggregator, err := aggregate.NewAggregator(readingQuery, cfg.CostPerKWh, aggregate.WithLogger(logger))
	if err != nil {
		logger.Fatalf("aggregator error: %v", err)
	}
	scorer, err := efficiency.NewScorer(aggregator)
	if err != nil {
		logger.Fatalf("efficiency scorer error: %v", err)
	}
	detector, err := trend.NewDetector(aggregator)
	if err != nil {
		logger.Fatalf("trend detector error: %v", err)
	}
	analyzer, err := cost.NewAnalyzer(aggregator)
	if err != nil {
		logger.Fatalf("cost analyzer error: %v", err)
	}

	anomalyCfg, err := anomaly.LoadConfig()
	if err != nil {
		logger.Fatalf("anomaly config error: %v", err)
	}
	anomalyRepo := anomalypostgres.NewAnomalyRepository(db)

	engineOpts := []anomaly.Option{
		anomaly.WithLogger(logger),
		anomaly.WithRepository(anomalyRepo),
	}
	if cfg.WebhookURL != "" {
		channel, err := notify.NewWebhookChannel(cfg.WebhookURL)
		if err != nil {
			logger.Fatalf("webhook channel error: %v", err)
		}
		notifierOpts := []notify.Option{
			notify.WithLogger(logger),
			notify.WithCooldown(cfg.NotifyCooldown),
		}
		if cfg.NotifyMinSeverity != "" {
			severity := anomaly.Severity(strings.ToLower(cfg.NotifyMinSeverity))
			if !severity.Valid() {
				logger.Fatalf("invalid NOTIFY_MIN_SEVERITY: %q", cfg.NotifyMinSeverity)
			}
			notifierOpts = append(notifierOpts, notify.WithMinSeverity(severity))
		}
		notifier, err := notify.NewAnomalyNotifier(channel, notifierOpts...)
		if err != nil {
			logger.Fatalf("anomaly notifier error: %v", err)
		}
		engineOpts = append(engineOpts, anomaly.WithNotifier(notifier))
	}
	engine, err := anomaly.NewEngine(readingQuery, anomalyCfg, engineOpts...)
	if err != nil {
		logger.Fatalf("anomaly engine error: %v", err)
	}

	ingestHandler, err := thingsboard.NewIngestHandler(readingRepo, logger, aggregator)
	if err != nil {
		logger.Fatalf("ingest handler error: %v", err)
	}

	go func() {
		ticker := time.NewTicker(cfg.ScanInterval)
		defer ticker.Stop()
		for range ticker.C {
			anomalies, err := engine.Detect(context.Background(), cfg.ScanHours)
			if err != nil {
				logger.Printf("anomaly scan error: %v", err)
				continue
			}
			if len(anomalies) > 0 {
				logger.Printf("anomaly scan found %d anomalies", len(anomalies))
			}
		}
	}()

	policy := auth.NewDefaultPolicy([]string{"/healthz", "/metrics"}, []string{"/ingest/"})
	authMiddleware := auth.NewMiddleware([]byte(cfg.JWTSecret), policy)
	ingestAuth := auth.NewIngestAuthMiddleware([]byte(cfg.IngestSecret), time.Duration(cfg.IngestSkewSeconds)*time.Second)

	anomaliesHandler := apihttp.NewAnomaliesHandler(engine, anomalyRepo)
	patternsHandler := apihttp.NewPatternsHandler(aggregator)
	exportHandler := apihttp.NewExportHandler(aggregator, scorer, analyzer, anomalyRepo, auditRepo)

	mux := http.NewServeMux()
	mux.Handle("/ingest/thingsboard/telemetry", ingestAuth.Wrap(ingestHandler))
	mux.Handle("/api/v1/statistics", apihttp.NewStatisticsHandler(aggregator))
	mux.Handle("/api/v1/current", apihttp.NewCurrentHandler(aggregator))
	mux.Handle("/api/v1/breakdown", apihttp.NewBreakdownHandler(aggregator))
	mux.Handle("/api/v1/patterns/hourly", patternsHandler)
	mux.Handle("/api/v1/patterns/weekly", patternsHandler)
	mux.Handle("/api/v1/efficiency", apihttp.NewEfficiencyHandler(scorer))
	mux.Handle("/api/v1/trends", apihttp.NewTrendsHandler(detector))
	mux.Handle("/api/v1/cost", apihttp.NewCostHandler(analyzer))
	mux.Handle("/api/v1/anomalies", anomaliesHandler)
	mux.Handle("/api/v1/anomalies/detect", anomaliesHandler)
	mux.Handle("/api/v1/anomalies/summary", anomaliesHandler)
	mux.Handle("/api/v1/readings", apihttp.NewReadingsHandler(readingRepo, auditRepo, aggregator))
	mux.Handle("/api/v1/exports/report.xlsx", exportHandler)
	mux.Handle("/api/v1/exports/report.pdf", exportHandler)
	mux.Handle("/api/v1/exports/anomalies.csv", exportHandler)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	server := &http.Server{Addr: cfg.HTTPAddr, Handler: loggingMiddleware(authMiddleware.Wrap(mux), logger)}
	logger.Printf("http listening on %s", cfg.HTTPAddr)
	logger.Fatal(server.ListenAndServe())
}

type config struct {
	DatabaseURL       string
	HTTPAddr          string
	CostPerKWh        float64
	JWTSecret         string
	IngestSecret      string
	IngestSkewSeconds int
	WebhookURL        string
	NotifyMinSeverity string
	NotifyCooldown    time.Duration
	ScanInterval      time.Duration
	ScanHours         int
}

func loadConfig() config {
	cfg := config{
		DatabaseURL:       getenvDefault("DATABASE_URL", getenvDefault("PG_DSN", "")),
		HTTPAddr:          getenvDefault("HTTP_ADDR", ":8080"),
		CostPerKWh:        getenvFloatDefault("COST_PER_KWH", 0.12),
		JWTSecret:         getenvDefault("AUTH_JWT_SECRET", getenvDefault("JWT_SECRET", "")),
		IngestSecret:      getenvDefault("INGEST_HMAC_SECRET", ""),
		IngestSkewSeconds: getenvIntDefault("INGEST_MAX_SKEW_SECONDS", 300),
		WebhookURL:        getenvDefault("NOTIFY_WEBHOOK_URL", ""),
		NotifyMinSeverity: getenvDefault("NOTIFY_MIN_SEVERITY", ""),
		NotifyCooldown:    getenvDuration("NOTIFY_COOLDOWN", 30*time.Minute),
		ScanInterval:      getenvDuration("ANOMALY_SCAN_INTERVAL", 15*time.Minute),
		ScanHours:         getenvIntDefault("ANOMALY_SCAN_HOURS", 24),
	}
	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL or PG_DSN is required")
	}
	if cfg.JWTSecret == "" {
		log.Fatal("AUTH_JWT_SECRET is required")
	}
	return cfg
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvFloatDefault(key string, fallback float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvIntDefault(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func loggingMiddleware(next http.Handler, logger *log.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		resp := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(resp, r)
		logger.Printf("http %s %s %d %s", r.Method, r.URL.Path, resp.status, time.Since(start))
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}
