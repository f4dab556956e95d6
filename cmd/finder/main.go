package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"book_finder/internal/aggregator"
	"book_finder/internal/api"
	"book_finder/internal/config"
	"book_finder/internal/domain"
	"book_finder/internal/metrics"
	"book_finder/internal/publisher"
	"book_finder/internal/quota"
	"book_finder/internal/scheduler"
	"book_finder/internal/service"
	"book_finder/internal/source/auction"
	"book_finder/internal/source/classifieds"
	"book_finder/internal/source/forum"
	"book_finder/internal/source/paidsearch"
	"book_finder/internal/storage/postgres"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	title := flag.String("title", "", "run a single search for this book title and print JSON")
	author := flag.String("author", "", "author for a single search")
	topic := flag.String("topic", "", "topic for a single search")
	serve := flag.Bool("serve", false, "serve the HTTP search API instead of running the batch scheduler")
	flag.Parse()

	// One-shot searches print results on stdout, so logs go to stderr.
	logOut := os.Stdout
	if *title != "" || *author != "" || *topic != "" {
		logOut = os.Stderr
	}

	logger := setupLogger(logOut, "info")

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger = setupLogger(logOut, cfg.LogLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	if err := run(ctx, cfg, logger, *title, *author, *topic, *serve); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("book finder stopped", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger, title, author, topic string, serve bool) error {
	m := metrics.New()
	if cfg.Metrics.Addr != "" {
		go serveMetrics(cfg.Metrics.Addr, m, logger)
	}

	var db *sqlx.DB
	if cfg.Database.Enabled() {
		var err error
		db, err = sqlx.Connect("postgres", cfg.Database.DSN())
		if err != nil {
			return fmt.Errorf("connect to database: %w", err)
		}
		defer db.Close()
		logger.Info("connected to database")
	}

	var quotaStore quota.Store = quota.NewMemoryStore()
	if db != nil {
		quotaStore = postgres.NewQuotaStore(db)
	}
	tracker, err := quota.NewTracker(quotaStore, cfg.Quota.DailyLimit, cfg.Quota.TimeZone, quota.WithMetrics(m))
	if err != nil {
		return err
	}

	sources, err := buildSources(cfg, tracker, logger)
	if err != nil {
		return err
	}

	dispatcher := aggregator.NewDispatcher(sources, aggregator.Config{
		AdapterTimeout: cfg.Search.AdapterTimeout,
		CacheSize:      cfg.Search.CacheSize,
		CacheTTL:       cfg.Search.CacheTTL,
	}, logger, m)

	switch {
	case title != "" || author != "" || topic != "":
		return searchOnce(ctx, dispatcher, domain.Query{BookTitle: title, Author: author, Topic: topic}, cfg.Search.RequestTimeout)

	case serve:
		var reporter api.QuotaReporter
		if sources.PaidSearch != nil {
			reporter = tracker
		}
		handler := api.NewHandler(dispatcher, reporter, logger)
		logger.Info("serving search api", "addr", cfg.HTTP.Addr)
		return api.Serve(ctx, cfg.HTTP.Addr, handler.Routes())
	}

	if db == nil {
		return errors.New("batch mode requires a database")
	}
	return runScheduler(ctx, cfg, db, dispatcher, tracker, logger)
}

func buildSources(cfg *config.Config, tracker *quota.Tracker, logger *slog.Logger) (aggregator.Sources, error) {
	var sources aggregator.Sources
	sc := cfg.Sources

	if sc.Classifieds.Enabled {
		s, err := classifieds.New(classifieds.Config{
			BaseURL:   sc.Classifieds.BaseURL,
			UserAgent: sc.UserAgent,
			Timeout:   sc.Classifieds.Timeout,
		}, logger)
		if err != nil {
			return sources, fmt.Errorf("classifieds source: %w", err)
		}
		sources.Classifieds = s
	}

	if sc.Forum.Enabled {
		sources.Forum = forum.New(forum.Config{
			AuthURL:      sc.Forum.AuthURL,
			APIURL:       sc.Forum.APIURL,
			LinkBaseURL:  sc.Forum.LinkBaseURL,
			ClientID:     sc.Forum.ClientID,
			ClientSecret: sc.Forum.ClientSecret,
			Username:     sc.Forum.Username,
			Password:     sc.Forum.Password,
			UserAgent:    sc.UserAgent,
			Timeout:      sc.Forum.Timeout,
			QueryDelay:   sc.Forum.QueryDelay,
		}, logger)
	}

	if sc.Auction.Enabled {
		s, err := auction.New(auction.Config{
			BaseURL:   sc.Auction.BaseURL,
			UserAgent: sc.UserAgent,
			Timeout:   sc.Auction.Timeout,
		}, logger)
		if err != nil {
			return sources, fmt.Errorf("auction source: %w", err)
		}
		sources.Auction = s
	}

	if sc.PaidSearch.Enabled {
		sources.PaidSearch = paidsearch.New(paidsearch.Config{
			BaseURL:        sc.PaidSearch.BaseURL,
			APIKey:         sc.PaidSearch.APIKey,
			SearchEngineID: sc.PaidSearch.SearchEngineID,
			UserAgent:      sc.UserAgent,
			Timeout:        sc.PaidSearch.Timeout,
			StrategyDelay:  sc.PaidSearch.StrategyDelay,
		}, tracker, logger)
	}

	logger.Info("sources configured",
		"classifieds", sources.Classifieds != nil,
		"forum", sources.Forum != nil,
		"auction", sources.Auction != nil,
		"paid_search", sources.PaidSearch != nil,
	)
	return sources, nil
}

func searchOnce(ctx context.Context, dispatcher *aggregator.Dispatcher, q domain.Query, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	results, err := dispatcher.SearchAllPlatforms(ctx, q)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(api.NewSearchResponse(results, time.Now()))
}

func runScheduler(
	ctx context.Context,
	cfg *config.Config,
	db *sqlx.DB,
	dispatcher *aggregator.Dispatcher,
	tracker *quota.Tracker,
	logger *slog.Logger,
) error {
	var pub service.Publisher
	if cfg.RabbitMQ.URL != "" {
		rabbitMQ, err := publisher.NewRabbitMQ(publisher.Config{
			URL:        cfg.RabbitMQ.URL,
			Exchange:   cfg.RabbitMQ.Exchange,
			RoutingKey: cfg.RabbitMQ.RoutingKey,
			QueueName:  cfg.RabbitMQ.QueueName,
		}, logger)
		if err != nil {
			return err
		}
		defer rabbitMQ.Close()
		pub = rabbitMQ
	}

	batch := service.NewBatchService(
		dispatcher,
		postgres.NewUserStore(db),
		postgres.NewBookStore(db),
		postgres.NewNotificationStore(db),
		tracker,
		postgres.NewTransactionManager(db),
		pub,
		logger,
		cfg.Batch,
	)

	sched := scheduler.NewScheduler(batch, cfg.Batch.Interval, cfg.Batch.RunTimeout, logger)

	logger.Info("starting book finder",
		"interval", cfg.Batch.Interval,
		"min_search_interval", cfg.Batch.MinSearchInterval,
		"quota_limit", cfg.Quota.DailyLimit,
	)
	return sched.Start(ctx)
}

func serveMetrics(addr string, m *metrics.Metrics, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{}))

	logger.Info("serving metrics", "addr", addr)
	if err := http.ListenAndServe(addr, mux); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("metrics server stopped", "error", err)
	}
}

func setupLogger(w io.Writer, level string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: logLevel}
	handler := slog.NewJSONHandler(w, opts)
	return slog.New(handler)
}
