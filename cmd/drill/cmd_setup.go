package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/felixgeelhaar/drill/internal/config"
)

// cmdInit initializes Drill for first-time use
func cmdInit() error {
	fmt.Println("Drill - First-Time Setup")
	fmt.Println("========================")
	fmt.Println()

	fmt.Print("Creating ~/.drill directory structure... ")
	drillDir, err := config.EnsureDrillDir()
	if err != nil {
		return fmt.Errorf("create directories: %w", err)
	}
	fmt.Println("✓")

	configPath := filepath.Join(drillDir, "config.yaml")
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		fmt.Print("Creating default configuration... ")
		if err := config.SaveLocalConfig(config.DefaultLocalConfig()); err != nil {
			return fmt.Errorf("save config: %w", err)
		}
		fmt.Println("✓")
	} else {
		fmt.Println("Configuration already exists ✓")
	}

	fmt.Println()
	fmt.Println("Setup Complete!")
	fmt.Println("===============")
	fmt.Println()
	fmt.Println("Next steps:")
	fmt.Println("  1. drill start            # Start the daemon (creates the signing secret)")
	fmt.Println("  2. drill doctor           # Verify configuration")
	fmt.Println("  3. drill practice arith   # Answer a few exercises")
	fmt.Println()
	fmt.Printf("Topic overrides go in %s\n", filepath.Join(drillDir, "topics"))

	return nil
}

// cmdDoctor checks configuration and backends
func cmdDoctor() error {
	fmt.Println("Checking configuration...")

	allGood := true

	fmt.Print("Directory: ")
	drillDir, err := config.DrillDir()
	if err != nil {
		fmt.Printf("✗ %v\n", err)
		allGood = false
	} else if _, err := os.Stat(drillDir); os.IsNotExist(err) {
		fmt.Println("✗ not created (run 'drill init')")
		allGood = false
	} else {
		fmt.Printf("✓ %s\n", drillDir)
	}

	fmt.Print("Config:    ")
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("✗ %v\n", err)
		allGood = false
	} else {
		fmt.Println("✓ valid")

		fmt.Print("Secret:    ")
		if cfg.Tokens.Secret == "" {
			fmt.Println("✗ not generated yet (run 'drill start')")
			allGood = false
		} else {
			fmt.Println("✓ configured")
		}

		if cfg.Grading.Claims == "redis" {
			fmt.Printf("Redis:     %s\n", cfg.Redis.Addr)
		}
		if cfg.Queue.Enabled {
			fmt.Printf("Queue:     %s (%d workers)\n", cfg.Queue.URL, cfg.Queue.Workers)
		}
	}

	fmt.Print("\nDaemon:    ")
	if isRunning() {
		fmt.Println("✓ running")
	} else {
		fmt.Println("✗ not running (run 'drill start')")
	}

	fmt.Println()
	if allGood {
		fmt.Println("All checks passed! ✓")
	} else {
		fmt.Println("Some checks failed. Please fix the issues above.")
	}

	return nil
}

// cmdConfig shows current configuration
func cmdConfig() error {
	cfg, err := config.LoadLocalConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := config.ApplyEnv(cfg); err != nil {
		return err
	}

	fmt.Println("Drill Configuration")

	fmt.Println("Daemon:")
	fmt.Printf("  bind: %s:%d\n", cfg.Daemon.Bind, cfg.Daemon.Port)
	fmt.Printf("  log_level: %s\n", cfg.Daemon.LogLevel)

	fmt.Println("\nStorage:")
	fmt.Printf("  driver: %s\n", cfg.Storage.Driver)
	if cfg.Storage.Path != "" {
		fmt.Printf("  path: %s\n", cfg.Storage.Path)
	}

	fmt.Println("\nGeneration:")
	fmt.Printf("  filter_purpose: %t\n", cfg.Generation.FilterPurpose)
	fmt.Printf("  default_difficulty: %s\n", cfg.Generation.DefaultDifficulty)

	fmt.Println("\nGrading:")
	fmt.Printf("  claims: %s (ttl %ds)\n", cfg.Grading.Claims, cfg.Grading.ClaimTTLSeconds)
	if cfg.Grading.EntitlementURL != "" {
		fmt.Printf("  entitlements: %s\n", cfg.Grading.EntitlementURL)
	}

	fmt.Println("\nQueue:")
	fmt.Printf("  enabled: %t\n", cfg.Queue.Enabled)

	fmt.Println("\nRate limit:")
	fmt.Printf("  enabled: %t (%d/s, burst %d)\n", cfg.RateLimit.Enabled, cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)

	drillDir, _ := config.DrillDir()
	fmt.Printf("\nConfig path: %s/config.yaml\n", drillDir)

	return nil
}
