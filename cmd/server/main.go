package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"guest-concierge/internal/api"
	"guest-concierge/internal/app"
	"guest-concierge/internal/config"
	"guest-concierge/internal/schedule"
	"guest-concierge/internal/webhook"

	"github.com/gin-gonic/gin"
)

func main() {
	cfg := config.LoadConfig()
	logger, closeLog := config.SetupLogger(cfg.LogFile, cfg.LogLevel)
	defer closeLog()
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Ingest jobs outlive a single request; they stop when the process does.
	jobCtx, cancelJobs := context.WithCancel(context.Background())
	defer cancelJobs()

	a, err := app.New(jobCtx, cfg, logger)
	if err != nil {
		logger.Error("startup failed", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	go a.Hub.Run(jobCtx)

	if n, err := a.Pipeline.Recover(ctx); err != nil {
		logger.Error("recover queued messages", "error", err)
	} else if n > 0 {
		logger.Info("resumed queued inbound messages", "count", n)
	}

	runner, err := schedule.NewRunner(a.Engine, cfg.SweepSchedule, 5*time.Minute, logger)
	if err != nil {
		logger.Error("startup failed", "error", err)
		os.Exit(1)
	}
	runner.Start()

	if cfg.LogLevel > slog.LevelDebug {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery(), api.RequestLogger(logger), api.CORS())

	webhookHandler := webhook.NewHandler(cfg.VerifyToken, a.Pipeline, logger)
	r.GET("/webhook", webhookHandler.VerifyWebhook)
	r.POST("/webhook", webhookHandler.HandleMessage)

	api.Register(r, api.Handlers{
		Conversations: api.NewConversationHandler(a.Store, a.Dispatcher, logger),
		Bookings:      api.NewBookingHandler(a.Engine, logger),
		Tasks:         api.NewTaskHandler(a.Tasks, logger),
		Escalations:   api.NewEscalationHandler(a.Escalations, logger),
		Schedule:      api.NewScheduleHandler(a.Engine, a.WhatsApp, logger),
		Alerts:        api.NewAlertHandler(a.Audit, a.Hub, logger),
	})

	srv := &http.Server{Addr: ":" + cfg.Port, Handler: r}
	go func() {
		logger.Info("server starting", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown", "error", err)
	}
	runner.Stop(shutdownCtx)
}
