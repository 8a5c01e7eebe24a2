// Package main contains the entrypoint for the tax registry bot.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	tgbot "github.com/go-telegram/bot"

	"github.com/edgard/taxbot/internal/bot"
	"github.com/edgard/taxbot/internal/bot/handlers"
	"github.com/edgard/taxbot/internal/bot/tasks"
	"github.com/edgard/taxbot/internal/config"
	"github.com/edgard/taxbot/internal/database"
	"github.com/edgard/taxbot/internal/logger"
	"github.com/edgard/taxbot/internal/mail"
	"github.com/edgard/taxbot/internal/notify"
	"github.com/edgard/taxbot/internal/processing"
	"github.com/edgard/taxbot/internal/registry"
	"github.com/edgard/taxbot/internal/report"
	"github.com/edgard/taxbot/internal/telegram"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	exitCode := run(ctx)
	stop()
	os.Exit(exitCode)
}

// run initializes and starts all application components (config, logger, db,
// mailbox processing, bot, scheduler), handles graceful shutdown, and returns
// an exit code (0 for success, 1 for failure).
func run(ctx context.Context) int {
	configPath := flag.String("config", "./config.yaml", "Path to optional configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load configuration", "path", *configPath, "error", err)
		return 1
	}

	log := logger.NewLogger(cfg.Log.Level, cfg.Log.Format == "json")
	log.Info("Logger initialized", "level", cfg.Log.Level, "format", cfg.Log.Format)

	if err := os.MkdirAll(cfg.Storage.DataDir, 0o755); err != nil {
		log.Error("Failed to create data directory", "path", cfg.Storage.DataDir, "error", err)
		return 1
	}

	db, err := database.NewDB(cfg.DatabasePath())
	if err != nil {
		log.Error("Failed to connect to database", "path", cfg.DatabasePath(), "error", err)
		return 1
	}
	defer database.CloseDB(db)
	store := database.NewStore(db, log)

	writer := report.NewWriter(cfg.ReportsDir(), cfg.Report.TaxDescription, log)
	processor := processing.NewProcessor(
		mail.NewIMAPFetcher(cfg.IMAP, log),
		store,
		registry.NewParser(log),
		writer,
		log,
	)
	reporter := notify.NewReporter(cfg.Report.TaxDescription, cfg.Messages.TaxFileCaption, cfg.Messages.PaymentsCaption)

	hDeps := handlers.HandlerDeps{
		Logger:   log,
		Config:   cfg,
		Store:    store,
		Checker:  processor,
		Reporter: reporter,
	}

	botOpts := []tgbot.Option{
		tgbot.WithMiddlewares(logger.Middleware(log)),
		tgbot.WithErrorsHandler(func(err error) {
			log.Error("Telegram API error", "error", err)
		}),
	}
	tg, err := telegram.NewTelegramBot(cfg.Telegram.Token, log, botOpts...)
	if err != nil {
		log.Error("Failed to create Telegram bot", "error", err)
		return 1
	}

	cmdHandlers := handlers.RegisterAllCommands(hDeps)
	if err := telegram.RegisterHandlers(tg, log, cmdHandlers); err != nil {
		log.Error("Failed to register Telegram handlers", "error", err)
		return 1
	}
	if err := telegram.SetCommands(ctx, tg, handlers.BotCommands(cmdHandlers)); err != nil {
		log.Warn("Failed to publish command menu", "error", err)
	}

	tDeps := tasks.TaskDeps{
		Logger:   log,
		Config:   cfg,
		Store:    store,
		Checker:  processor,
		Reporter: reporter,
		Sender:   tg,
		Pruner:   writer,
	}
	sched, err := bot.NewScheduler(log, &cfg.Scheduler, tasks.RegisterAllTasks(tDeps))
	if err != nil {
		log.Error("Failed to create scheduler", "error", err)
		return 1
	}
	app := bot.NewBot(log, tg, sched)

	log.Info("Starting bot...", "data_dir", cfg.Storage.DataDir, "admins", len(cfg.Telegram.AdminIDs))
	runErr := app.Run(ctx)

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		log.Error("Bot stopped due to error", "error", runErr)
		// Allow logs to flush before exiting on error
		time.Sleep(time.Second)
		return 1
	}

	log.Info("Bot stopped gracefully.")
	return 0
}
