package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/legamerdc/cosched/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the echo server until interrupted",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	def := server.DefaultConfig()
	f := serveCmd.Flags()
	f.String("config", "", "config file (.toml, .yaml or .yml)")
	f.String("host", def.Host, "listen IP address")
	f.Int("port", def.Port, "listen port (0 picks a free one)")
	f.Int("backlog", def.Backlog, "listen backlog")
	f.Int("recv-size", def.RecvSize, "per-connection receive buffer size")
	f.Int("max-drain", def.MaxDrain, "max resumes per drain before polling (0 = unbounded)")
	f.Int("poll-retries", def.PollRetries, "poll failures tolerated before the loop stops")
	f.Bool("nodelay", def.NoDelay, "set TCP_NODELAY on accepted connections")
	f.String("log-level", "info", "log level (debug|info|warn|error)")
	f.String("log-format", "console", "log format (console|json)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := serveConfig(cmd)
	if err != nil {
		return err
	}

	f := cmd.Flags()
	logLevel, _ := f.GetString("log-level")
	logFormat, _ := f.GetString("log-format")
	log, err := newLogger(logLevel, logFormat)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	tracer, cleanup, err := setupTracing(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	srv, err := server.New(cfg,
		server.WithLogger(log),
		server.WithTracer(tracer))
	if err != nil {
		log.Error("start server", zap.String("addr", cfg.Address()), zap.Error(err))
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Fprintf(cmd.ErrOrStderr(), "%s echo server on %s (loop %s)\n",
		color.New(color.FgGreen, color.Bold).Sprint("cosched"),
		color.New(color.FgCyan).Sprint(srv.Addr()),
		srv.Scheduler().ID())

	runErr := srv.Run(ctx)
	if err := srv.Close(); err != nil {
		log.Warn("close server", zap.Error(err))
	}
	if errors.Is(runErr, context.Canceled) {
		log.Info("shutting down", zap.Any("stats", srv.Scheduler().Stats()))
		return nil
	}
	return runErr
}

// serveConfig 读取配置文件（如有），再用显式给出的参数覆盖
func serveConfig(cmd *cobra.Command) (server.Config, error) {
	f := cmd.Flags()
	cfg := server.DefaultConfig()
	if path, _ := f.GetString("config"); path != "" {
		var err error
		if cfg, err = server.LoadConfig(path); err != nil {
			return server.Config{}, err
		}
	}
	if f.Changed("host") {
		cfg.Host, _ = f.GetString("host")
	}
	if f.Changed("port") {
		cfg.Port, _ = f.GetInt("port")
	}
	if f.Changed("backlog") {
		cfg.Backlog, _ = f.GetInt("backlog")
	}
	if f.Changed("recv-size") {
		cfg.RecvSize, _ = f.GetInt("recv-size")
	}
	if f.Changed("max-drain") {
		cfg.MaxDrain, _ = f.GetInt("max-drain")
	}
	if f.Changed("poll-retries") {
		cfg.PollRetries, _ = f.GetInt("poll-retries")
	}
	if f.Changed("nodelay") {
		cfg.NoDelay, _ = f.GetBool("nodelay")
	}
	return cfg, cfg.Validate()
}
