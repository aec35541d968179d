package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/felixgeelhaar/drill/internal/app"
	"github.com/felixgeelhaar/drill/internal/config"
	"github.com/felixgeelhaar/drill/internal/domain"
	mcpserver "github.com/felixgeelhaar/drill/internal/mcp"
)

// cmdMCP starts the MCP server on stdio
func cmdMCP() error {
	drillDir, err := config.EnsureDrillDir()
	if err != nil {
		return fmt.Errorf("setup drill directory: %w", err)
	}

	cfg, err := config.LoadLocalConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := config.ApplyEnv(cfg); err != nil {
		return err
	}
	if cfg.Tokens.Secret == "" {
		// Tokens only live inside this process
		buf := make([]byte, 32)
		if _, err := rand.Read(buf); err != nil {
			return fmt.Errorf("generate token secret: %w", err)
		}
		cfg.Tokens.Secret = hex.EncodeToString(buf)
	}

	// Setup context with signal handling
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	a, err := app.New(ctx, cfg, drillDir)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.Start(ctx); err != nil {
		return err
	}

	user := os.Getenv("DRILL_MCP_USER")
	if user == "" {
		user = "local"
	}

	mcpSrv := mcpserver.NewServer(mcpserver.Config{
		Generator:  a.Generator,
		Issuer:     a.Issuer,
		Grading:    a.Grading,
		Tokens:     a.Tokens,
		Actor:      domain.Actor{UserRef: user},
		Difficulty: domain.Difficulty(cfg.Generation.DefaultDifficulty),
		Version:    Version,
	})

	return mcpSrv.ServeStdio(ctx)
}
