package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	config "moim/app/configs"
	"moim/app/core/assistant"
	"moim/app/core/bot"
	"moim/app/core/commands"
	"moim/app/core/confirm"
	"moim/app/core/interaction/telegram"
	"moim/app/core/llm"
	"moim/app/core/meeting"
	"moim/app/core/prompts"
	"moim/app/core/queue"
	"moim/app/core/scheduler"
	"moim/app/core/store"
	"moim/app/core/webhook"
	"moim/app/pkg/logger"

	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()

	if err := logger.Init("output/logs"); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	logger.Info("Moim starting...")

	cfgManager, err := config.NewManager(config.DefaultPath())
	if err != nil {
		logger.Error("Failed to load config: %v", err)
		os.Exit(1)
	}
	cfg := cfgManager.Get()

	st, err := store.Open("output/db")
	if err != nil {
		logger.Error("Failed to open store: %v", err)
		os.Exit(1)
	}
	defer st.Close()
	logger.Info("Store initialized")

	lib, err := prompts.Load(cfg.PromptsPath)
	if err != nil {
		logger.Error("Failed to load prompts: %v", err)
		os.Exit(1)
	}

	gen := llm.New(cfg, llm.Keys{
		Gemini: os.Getenv("GEMINI_API_KEY"),
		Groq:   os.Getenv("GROQ_API_KEY"),
	})

	surface := telegram.New(telegram.Config{
		BotToken:      os.Getenv("TELEGRAM_BOT_TOKEN"),
		PollInterval:  time.Duration(cfg.Telegram.PollIntervalSec) * time.Second,
		TimeoutSec:    cfg.Telegram.TimeoutSec,
		DefaultChatID: cfg.Telegram.DefaultChatID,
	})

	registry := meeting.NewRegistry()
	pipeline := meeting.NewPipeline(st, gen, lib, surface)
	confirmMgr := confirm.NewManager(st, surface, confirm.Options{
		Timeout:         time.Duration(cfg.ConfirmTimeoutSec) * time.Second,
		ActionTimeout:   time.Duration(cfg.ActionTimeoutSec) * time.Second,
		FallbackProject: cfg.FallbackProject,
	})
	asst := assistant.New(st, gen, lib, surface, confirmMgr, registry, cfgManager)
	cmds := commands.New(st, registry, surface)
	dispatcher := bot.New(surface, queue.New(256), registry, pipeline, confirmMgr, asst, cmds, st)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := dispatcher.Start(ctx); err != nil {
		logger.Error("Failed to start dispatcher: %v", err)
		os.Exit(1)
	}
	defer func() {
		if err := dispatcher.Stop(3 * time.Second); err != nil {
			logger.Error("Dispatcher shutdown timeout: %v", err)
		}
	}()

	jobs := scheduler.New()
	_ = jobs.Register(scheduler.JobSpec{
		Name:     "confirm-expiry",
		Interval: 30 * time.Second,
		Run: func(ctx context.Context) error {
			if n := confirmMgr.ExpireSessions(ctx); n > 0 {
				logger.Info("[Scheduler] expired %d confirmation sessions", n)
			}
			return nil
		},
	})
	_ = jobs.Register(scheduler.JobSpec{
		Name:     "stale-meetings",
		Interval: 10 * time.Minute,
		Run: func(ctx context.Context) error {
			return dispatcher.SweepStaleMeetings(ctx, 2*time.Hour)
		},
	})
	if err := jobs.Start(ctx); err != nil {
		logger.Error("Failed to start scheduler: %v", err)
		os.Exit(1)
	}
	defer func() {
		if err := jobs.Stop(3 * time.Second); err != nil {
			logger.Error("Scheduler shutdown timeout: %v", err)
		}
	}()

	hooks := webhook.NewServer(st, gen, lib, surface, cfg.WebhookPort)
	hooks.Start()
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer shutdownCancel()
		if err := hooks.Stop(shutdownCtx); err != nil {
			logger.Error("Webhook shutdown: %v", err)
		}
	}()

	go func() {
		if err := surface.Start(ctx); err != nil {
			logger.Error("Telegram surface crashed: %v", err)
			os.Exit(1)
		}
	}()

	logger.Info("Moim is ready to serve.")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	logger.Info("Received signal: %v. Shutting down...", sig)
	cancel()
}
