package cmd

import (
	"context"
	"os"
	"sync"

	"github.com/spf13/viper"

	"github.com/psantana5/runtrail/internal/catalog"
	"github.com/psantana5/runtrail/internal/config"
	"github.com/psantana5/runtrail/internal/report"
	"github.com/psantana5/runtrail/pkg/command"
	"github.com/psantana5/runtrail/pkg/logging"
	"github.com/psantana5/runtrail/pkg/logqueue"
	"github.com/psantana5/runtrail/pkg/tracing"
)

// app is everything a subcommand needs to run catalog commands.
type app struct {
	cfg      *config.Config
	logger   *logging.Logger
	tracer   *tracing.Provider
	metrics  *report.Metrics
	failures *report.FailureLog
	queue    *logqueue.Queue
	catalog  *catalog.Catalog

	mu   sync.Mutex
	last *report.Result
}

func newApp() (*app, error) {
	cfg, err := loadConfig(viper.GetViper())
	if err != nil {
		return nil, err
	}

	level := logging.ParseLevel(cfg.Log.Level)
	logger := logging.NewLoggerTo(os.Stderr, level, cfg.Log.JSON)
	if cfg.Log.File != "" {
		logger, err = logging.NewFileLogger(cfg.Log.File, "runtrail", level, cfg.Log.JSON)
		if err != nil {
			return nil, err
		}
	}

	tp, err := tracing.InitTracer(tracing.Config{
		ServiceName:    cfg.Tracing.ServiceName,
		ServiceVersion: Version,
		Environment:    cfg.Stage,
		OTLPEndpoint:   cfg.Tracing.Endpoint,
		Enabled:        cfg.Tracing.Enabled,
	})
	if err != nil {
		logger.Close()
		return nil, err
	}

	a := &app{
		cfg:      cfg,
		logger:   logger,
		tracer:   tp,
		metrics:  report.Global(),
		failures: report.GlobalFailures(),
		queue:    logqueue.Default(),
	}
	a.catalog = catalog.New(a.commandConfig)
	return a, nil
}

func (a *app) commandConfig(name, purpose string) command.Config {
	return command.Config{
		Name:         name,
		Purpose:      purpose,
		Stage:        a.cfg.StageFor(name),
		Log:          a.logger.WithField("command", name),
		Dir:          a.cfg.BaseDir,
		Digest:       a.cfg.DigestAlgorithm(),
		UniqueSuffix: a.cfg.UniqueSuffix,
		Queue:        a.queue,
		Tracer:       a.tracer.Tracer(),
		Metrics:      a.metrics,
		Failures:     a.failures,
		OnResult:     a.keepResult,
	}
}

func (a *app) keepResult(r *report.Result) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.last = r
}

// lastResult is the most recently finished run, or nil before the first.
func (a *app) lastResult() *report.Result {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.last
}

func (a *app) close(ctx context.Context) {
	if err := a.tracer.Shutdown(ctx); err != nil {
		a.logger.Warn("tracer shutdown failed", map[string]interface{}{"error": err.Error()})
	}
	a.logger.Close()
}
