package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/felixgeelhaar/drill/internal/app"
	"github.com/felixgeelhaar/drill/internal/config"
	"github.com/felixgeelhaar/drill/internal/daemon"
)

const (
	pidFileName     = "drilld.pid"
	shutdownTimeout = 30 * time.Second
)

func main() {
	if err := run(); err != nil {
		slog.Error("drilld exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	drillDir, err := config.EnsureDrillDir()
	if err != nil {
		return fmt.Errorf("ensure drill dir: %w", err)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logFile, err := setupLogging(drillDir, parseLogLevel(cfg.Daemon.LogLevel))
	if err != nil {
		return fmt.Errorf("setup logging: %w", err)
	}
	defer logFile.Close()

	pidPath := filepath.Join(drillDir, pidFileName)
	if err := os.WriteFile(pidPath, []byte(strconv.Itoa(os.Getpid())+"\n"), 0644); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, drillDir)
	if err != nil {
		return fmt.Errorf("wire application: %w", err)
	}
	defer a.Close()

	if err := a.Start(ctx); err != nil {
		return err
	}

	server, err := daemon.NewServer(daemon.ServerConfig{
		Config:    cfg,
		Generator: a.Generator,
		Issuer:    a.Issuer,
		Grading:   a.Grading,
		Instances: a.Instances,
		Sessions:  a.Sessions,
		Stats:     a.Stats,
		Tokens:    a.Tokens,
	})
	if err != nil {
		return fmt.Errorf("create server: %w", err)
	}

	return serve(ctx, server)
}

// loadConfig reads config.yaml and the environment, creating the token
// secret on first start
func loadConfig() (*config.LocalConfig, error) {
	cfg, err := config.LoadLocalConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := config.ApplyEnv(cfg); err != nil {
		return nil, err
	}
	if cfg.Tokens.Secret != "" {
		return cfg, nil
	}

	secret, err := newSecret()
	if err != nil {
		return nil, err
	}
	cfg.Tokens.Secret = secret
	if err := config.SaveSecrets(config.SecretsConfig{
		TokenSecret:   secret,
		RedisPassword: cfg.Redis.Password,
	}); err != nil {
		return nil, fmt.Errorf("save token secret: %w", err)
	}
	slog.Info("generated token secret")
	return cfg, nil
}

func newSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token secret: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

type httpServer interface {
	Start() error
	Shutdown(ctx context.Context) error
}

// serve runs srv until ctx is cancelled, then drains it
func serve(ctx context.Context, srv httpServer) error {
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}
	slog.Info("daemon stopped")
	return nil
}

func parseLogLevel(s string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return level
}

// setupLogging sends JSON records to logs/drilld.log and text to stderr
func setupLogging(drillDir string, level slog.Level) (io.Closer, error) {
	f, err := os.OpenFile(filepath.Join(drillDir, "logs", "drilld.log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	opts := &slog.HandlerOptions{Level: level}
	slog.SetDefault(slog.New(fanout{
		slog.NewJSONHandler(f, opts),
		slog.NewTextHandler(os.Stderr, opts),
	}))
	return f, nil
}

// fanout hands each record to every handler that accepts its level
type fanout []slog.Handler

func (f fanout) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range f {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (f fanout) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, h := range f {
		if h.Enabled(ctx, r.Level) {
			errs = append(errs, h.Handle(ctx, r.Clone()))
		}
	}
	return errors.Join(errs...)
}

func (f fanout) WithAttrs(attrs []slog.Attr) slog.Handler {
	return f.each(func(h slog.Handler) slog.Handler { return h.WithAttrs(attrs) })
}

func (f fanout) WithGroup(name string) slog.Handler {
	return f.each(func(h slog.Handler) slog.Handler { return h.WithGroup(name) })
}

func (f fanout) each(fn func(slog.Handler) slog.Handler) fanout {
	out := make(fanout, len(f))
	for i, h := range f {
		out[i] = fn(h)
	}
	return out
}
