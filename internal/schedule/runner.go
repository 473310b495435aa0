package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Runner invokes the sweep on a cron schedule. A tick that fires while the
// previous sweep is still running is skipped.
type Runner struct {
	engine  *Engine
	cron    *cron.Cron
	timeout time.Duration
	log     *slog.Logger
}

// NewRunner parses spec (standard cron or a descriptor such as "@every 1m").
// timeout bounds a single sweep.
func NewRunner(engine *Engine, spec string, timeout time.Duration, logger *slog.Logger) (*Runner, error) {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Runner{engine: engine, timeout: timeout, log: logger}
	r.cron = cron.New(
		cron.WithParser(cron.NewParser(
			cron.Minute|cron.Hour|cron.Dom|cron.Month|cron.Dow|cron.Descriptor,
		)),
		cron.WithChain(cron.SkipIfStillRunning(cronLogger{logger})),
	)
	if _, err := r.cron.AddFunc(spec, r.tick); err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", spec, err)
	}
	return r, nil
}

func (r *Runner) tick() {
	ctx := context.Background()
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}
	res, err := r.engine.Sweep(ctx)
	if err != nil {
		r.log.Error("scheduled sweep failed", "error", err)
		return
	}
	if res.Skipped {
		r.log.Debug("sweep already running, tick skipped")
	}
}

func (r *Runner) Start() {
	r.cron.Start()
	r.log.Info("sweep runner started", "entries", len(r.cron.Entries()))
}

// Stop stops scheduling and waits for a running sweep, up to ctx.
func (r *Runner) Stop(ctx context.Context) {
	done := r.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		r.log.Warn("sweep runner stop timed out")
	}
	r.log.Info("sweep runner stopped")
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	log *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
