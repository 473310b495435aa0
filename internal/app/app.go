// Package app wires the concierge components from configuration. The server
// and the ops CLI share it.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"guest-concierge/internal/assistant"
	"guest-concierge/internal/audit"
	"guest-concierge/internal/completion"
	"guest-concierge/internal/config"
	"guest-concierge/internal/conversation"
	"guest-concierge/internal/database"
	"guest-concierge/internal/escalation"
	"guest-concierge/internal/keylock"
	"guest-concierge/internal/keyqueue"
	"guest-concierge/internal/knowledge"
	"guest-concierge/internal/schedule"
	"guest-concierge/internal/tasks"
	"guest-concierge/internal/whatsapp"
	"guest-concierge/internal/ws"

	"gorm.io/gorm"
)

type App struct {
	Config *config.Config
	Logger *slog.Logger
	DB     *gorm.DB

	Hub         *ws.Hub
	Audit       *audit.Recorder
	WhatsApp    *whatsapp.Client
	Store       *conversation.Store
	Dispatcher  *conversation.Dispatcher
	Tasks       *tasks.Orchestrator
	Escalations *escalation.Manager
	Queue       *keyqueue.Queue
	Pipeline    *assistant.Pipeline
	Engine      *schedule.Engine

	closers []func() error
}

// New opens the database and builds every component. Jobs submitted to the
// ingest queue run with ctx.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	db, err := database.Open(cfg)
	if err != nil {
		return nil, err
	}
	a := &App{Config: cfg, Logger: logger, DB: db}
	a.closers = append(a.closers, func() error {
		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		return sqlDB.Close()
	})

	if cfg.KnowledgeSeedFile != "" {
		res, err := knowledge.LoadSeedFile(ctx, db, cfg.KnowledgeSeedFile)
		if err != nil {
			a.Close()
			return nil, err
		}
		logger.Info("knowledge seeded", "file", cfg.KnowledgeSeedFile,
			"properties", res.Properties, "faqs", res.FAQs, "staff", res.Staff)
	}

	a.Hub = ws.NewHub(logger)
	a.Audit = audit.NewRecorder(db, a.Hub, logger)
	a.WhatsApp = whatsapp.NewClient(cfg)
	a.Store = conversation.NewStore(db, a.Hub, logger)
	a.Dispatcher = conversation.NewDispatcher(a.Store, a.WhatsApp, a.Audit, logger)
	a.Tasks = tasks.NewOrchestrator(db, a.WhatsApp, a.Audit, a.Hub, logger)
	a.Escalations = escalation.NewManager(db, a.WhatsApp, a.Audit, a.Hub, cfg.HostAlertPhone, logger)
	a.Tasks.SetEscalator(a.Escalations)

	var locker keylock.Locker = keylock.NewLocal()
	if cfg.RedisURL != "" {
		r, err := keylock.NewRedisFromURL(ctx, cfg.RedisURL, cfg.ConversationLockTTL, logger)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.closers = append(a.closers, r.Close)
		locker = r
		logger.Info("using redis conversation locks")
	}
	a.Dispatcher.SetLocker(locker)

	svc := completion.NewService(newModel(cfg, logger), cfg.CompletionTimeout)
	a.Queue = keyqueue.New(ctx, cfg.IngestWorkers, logger)
	a.Pipeline = assistant.NewPipeline(assistant.Deps{
		Store:       a.Store,
		Dispatcher:  a.Dispatcher,
		Knowledge:   knowledge.NewDBProvider(db),
		Summarizer:  assistant.NewSummarizer(svc, a.Audit, logger),
		Enricher:    assistant.NewEnricher(svc, cfg.EnrichMinConfidence, a.Audit, logger),
		Tasks:       a.Tasks,
		Escalations: a.Escalations,
		Queue:       a.Queue,
		Locker:      locker,
		Audit:       a.Audit,
		Logger:      logger,
	})

	a.Engine = schedule.NewEngine(db, a.Store, a.Dispatcher, a.Tasks, a.Hub, schedule.Options{
		DefaultLocation: cfg.Location(),
		PastDuePolicy:   cfg.SchedulePastDuePolicy,
		BatchSize:       cfg.SweepBatchSize,
		Concurrency:     cfg.SweepConcurrency,
		ClaimTTL:        cfg.SweepClaimTTL,
		Lookahead:       cfg.RecurrenceLookahead,
	}, logger)
	return a, nil
}

// newModel returns the configured language model. Without one every
// completion fails, so guests get the safe default reply and the host sees
// completion_failed alerts.
func newModel(cfg *config.Config, logger *slog.Logger) completion.Model {
	m, err := completion.NewModel(cfg)
	if err != nil {
		logger.Warn("language model unavailable, AI replies degraded", "provider", cfg.LLMProvider, "error", err)
		return completion.ModelFunc(func(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
			return "", fmt.Errorf("language model not configured: %w", err)
		})
	}
	logger.Info("language model ready", "model", m.Name())
	return m
}

// Close drains the ingest queue and releases connections.
func (a *App) Close() error {
	if a.Queue != nil {
		a.Queue.Close()
	}
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
