package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/jasoncpatton/iembot/internal/api"
	"github.com/jasoncpatton/iembot/internal/chatlog"
	"github.com/jasoncpatton/iembot/internal/config"
	"github.com/jasoncpatton/iembot/internal/dispatcher"
	"github.com/jasoncpatton/iembot/internal/fault"
	"github.com/jasoncpatton/iembot/internal/ingester"
	"github.com/jasoncpatton/iembot/internal/metrics"
	"github.com/jasoncpatton/iembot/internal/roster"
	"github.com/jasoncpatton/iembot/internal/router"
	"github.com/jasoncpatton/iembot/internal/routing"
	slackalert "github.com/jasoncpatton/iembot/internal/slack"
	"github.com/jasoncpatton/iembot/internal/sms"
	"github.com/jasoncpatton/iembot/internal/store"

	"github.com/spf13/pflag"
)

func main() {
	cfg := config.Load()

	pflag.StringVar(&cfg.RoutesFile, "routes", cfg.RoutesFile, "routing rules file (YAML); built-in rules when empty")
	pflag.IntVar(&cfg.Port, "port", cfg.Port, "HTTP API port")
	pflag.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level: debug, info, warn or error")
	pflag.Parse()

	setupLogging(cfg.LogLevel)

	slog.Info("iembot starting",
		"port", cfg.Port,
		"nats_url", cfg.NatsURL,
		"chatserver", cfg.ChatServer,
		"routes_file", cfg.RoutesFile,
		"queue_max", cfg.QueueMax,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Step 1: Load the routing table.
	rules, err := routing.LoadFile(cfg.RoutesFile)
	if err != nil {
		slog.Error("failed to load routing rules", "error", err)
		os.Exit(1)
	}
	routes := routing.New(rules, cfg.RoutesFile)

	// Step 2: Connect to the phone book. SMS is disabled without it.
	var book store.PhoneBook
	if cfg.DatabaseURL != "" {
		db, err := store.New(ctx, cfg.DatabaseURL)
		if err != nil {
			slog.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		book = db
		slog.Info("database connected")
	} else {
		slog.Warn("DATABASE_URL not set, SMS and phone registration disabled")
	}

	// Step 3: Connect to NATS.
	ing, err := ingester.New(cfg.NatsURL, cfg.MUCDomain())
	if err != nil {
		slog.Error("failed to connect to NATS", "error", err)
		os.Exit(1)
	}
	defer ing.Close()

	// Step 4: Fault reporting.
	var poster fault.Poster
	if cfg.SlackBotToken != "" && cfg.SlackAlertChannel != "" {
		poster = slackalert.NewAlerter(cfg.SlackBotToken, cfg.SlackAlertChannel)
		slog.Info("Slack fault alerter enabled", "channel", cfg.SlackAlertChannel)
	}
	reporter := fault.NewReporter(poster)
	reporter.SetNATSPublisher(ing.Publish)

	// Step 5: Core state and the router.
	counters := metrics.NewProcessor()
	chatLog := chatlog.New(cfg.SeqnumOrigin)
	rosters := roster.New()

	var (
		notifier router.Notifier
		gateway  *sms.Gateway
	)
	if book != nil {
		relay := sms.NewHTTPRelay(cfg.SMSRelayURL, cfg.SMSRelayUser, cfg.SMSRelayPass, cfg.SMSTimeout)
		gateway = sms.NewGateway(book, relay, ing, cfg.SMSTimeout)
		gateway.SetRecorder(counters)
		notifier = gateway
	}

	rt := router.New(chatLog, rosters, routes, ing, notifier, book, router.Options{
		BotNick:        cfg.BotNick,
		MUCDomain:      cfg.MUCDomain(),
		IngestIdentity: cfg.IngestIdentity(),
		StoreTimeout:   cfg.SMSTimeout,
	})
	rt.SetRecorder(counters)

	// Step 6: Start the worker and begin consuming.
	disp := dispatcher.New(rt, counters, reporter, dispatcher.Config{BufferMax: cfg.QueueMax})
	disp.Start(ctx)

	if err := ing.Start(disp); err != nil {
		slog.Error("failed to start ingester", "error", err)
		os.Exit(1)
	}
	slog.Info("NATS ingester started")

	// Step 7: Join the room directory.
	join := func(ctx context.Context, snap *routing.Snapshot) error {
		rooms := snap.JoinRooms()
		for _, room := range rooms {
			rosters.EnsureRoom(room)
		}
		return ing.Join(ctx, rooms, cfg.BotNick)
	}
	if err := join(ctx, routes.Current()); err != nil {
		slog.Warn("failed to request room joins", "error", err)
	}

	// Step 8: Start the HTTP API.
	srv := api.NewServer(chatLog, rosters, routes, disp, counters, cfg.Port)
	srv.SetReloadHook(join)
	go func() {
		if err := srv.Start(); err != nil {
			slog.Error("HTTP server error", "error", err)
		}
	}()

	slog.Info("iembot ready", "port", cfg.Port)

	// Wait for shutdown signal.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh

	slog.Info("shutting down", "signal", sig)
	ing.Stop()
	cancel()
	disp.Wait()
	rt.Wait()
	if gateway != nil {
		gateway.Wait()
	}
	reporter.Wait()
	slog.Info("iembot stopped")
}

func setupLogging(level string) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	slog.SetDefault(slog.New(handler))
}
