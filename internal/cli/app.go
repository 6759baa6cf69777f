package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/charmbracelet/x/term"
	"github.com/harun/ragent/internal/config"
	"github.com/harun/ragent/internal/logger"
	"github.com/harun/ragent/internal/metrics"
	"github.com/harun/ragent/internal/render"
	"github.com/harun/ragent/internal/tracing"
	"github.com/harun/ragent/pkg/backend"
	"github.com/harun/ragent/pkg/session"
	"github.com/harun/ragent/pkg/tools"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// app holds what every command needs: settings, logging, telemetry.
type app struct {
	cfg     *config.Config
	log     *logger.Logger
	logger  zerolog.Logger
	metrics *metrics.Metrics
}

func loadApp(cmd *cobra.Command) (*app, error) {
	cfg, err := config.Load("")
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	lc := logger.Config{
		Level:      cfg.Logging.Level,
		File:       cfg.Logging.File,
		Console:    verbose || cfg.Logging.Console,
		Redaction:  cfg.Logging.Redaction,
		MaxSize:    cfg.Logging.MaxSize,
		MaxAge:     cfg.Logging.MaxAge,
		Compress:   cfg.Logging.Compress,
		ConsoleOut: cmd.ErrOrStderr(),
	}
	if logLevel != "" {
		if err := config.NewValidator().ValidateLogLevel(logLevel); err != nil {
			return nil, fmt.Errorf("%w: %w", config.ErrInvalid, err)
		}
		lc.Level = logLevel
	}
	log, err := logger.New(lc)
	if err != nil {
		return nil, err
	}

	if err := tracing.Init(cmd.Context(), tracing.Options{
		ServiceName:    "ragent",
		ServiceVersion: version,
		TraceFile:      cfg.Telemetry.TraceFile,
	}); err != nil {
		_ = log.Close()
		return nil, err
	}

	l := log.Zerolog()
	l.Debug().Str("command", cmd.CommandPath()).Str("home", cfg.Home).Msg("Settings loaded")

	return &app{
		cfg:     cfg,
		log:     log,
		logger:  l,
		metrics: metrics.Default(),
	}, nil
}

// Close flushes traces, writes the metrics textfile and closes the log.
func (a *app) Close(ctx context.Context) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	if err := tracing.Shutdown(ctx); err != nil {
		a.logger.Warn().Err(err).Msg("Failed to flush traces")
	}
	if path := a.cfg.Telemetry.MetricsFile; path != "" {
		if err := a.metrics.WriteTextfile(path); err != nil {
			a.logger.Warn().Err(err).Str("path", path).Msg("Failed to write metrics")
		}
	}
	_ = a.log.Close()
}

func (a *app) openStore(ctx context.Context) (session.Store, error) {
	return session.Open(ctx, session.Options{
		Driver:     a.cfg.Store.Driver,
		Dir:        a.cfg.SessionsDir,
		SQLitePath: a.cfg.Store.SQLitePath,
		Redis: session.RedisOptions{
			Addr:     a.cfg.Store.Redis.Addr,
			Password: a.cfg.Store.Redis.Password,
			DB:       a.cfg.Store.Redis.DB,
			Prefix:   a.cfg.Store.Redis.Prefix,
		},
		Logger: a.logger,
	})
}

func (a *app) renderer(cmd *cobra.Command) *render.Renderer {
	return render.New(cmd.Context(), render.Options{
		Out:           cmd.OutOrStdout(),
		Err:           cmd.ErrOrStderr(),
		OutTTY:        isTerminal(cmd.OutOrStdout()),
		TypewriterCPS: a.cfg.Dispatch.TypewriterCPS,
		WrapWidth:     a.cfg.Dispatch.WrapWidth,
	})
}

// toolbox builds the read-only tools rooted at the working directory. Each
// call is noted on stderr.
func (a *app) toolbox(out *render.Renderer) (*tools.Executor, error) {
	executor := tools.New(tools.Options{
		Policy: &tools.Policy{
			Allow: a.cfg.Tools.Allow,
			Deny:  a.cfg.Tools.Deny,
		},
		Timeout:        a.cfg.Tools.Timeout,
		MaxOutputBytes: a.cfg.Tools.MaxOutputBytes,
		Logger:         a.logger,
		Metrics:        a.metrics,
		OnCall: func(call backend.ToolCall, res tools.Result) {
			out.ToolCall(call.Name, call.Arguments, res.Success)
		},
	})
	if err := tools.RegisterBuiltins(executor, tools.BuiltinOptions{}); err != nil {
		return nil, err
	}
	return executor, nil
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(f.Fd())
}
