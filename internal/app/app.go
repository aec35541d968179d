// Package app wires storage, generation, grading and transport collaborators
// from a LocalConfig. The daemon and the MCP server share it.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/felixgeelhaar/drill/internal/auth"
	"github.com/felixgeelhaar/drill/internal/claim"
	"github.com/felixgeelhaar/drill/internal/config"
	"github.com/felixgeelhaar/drill/internal/domain"
	"github.com/felixgeelhaar/drill/internal/entitlement"
	"github.com/felixgeelhaar/drill/internal/exercise"
	"github.com/felixgeelhaar/drill/internal/exercise/topics"
	"github.com/felixgeelhaar/drill/internal/grading"
	"github.com/felixgeelhaar/drill/internal/issuance"
	"github.com/felixgeelhaar/drill/internal/queue"
	"github.com/felixgeelhaar/drill/internal/storage/postgres"
	"github.com/felixgeelhaar/drill/internal/storage/sqlite"
)

// InstanceStore is the instance and attempt storage every backend provides
type InstanceStore interface {
	issuance.InstanceWriter
	issuance.SessionHistory
	grading.InstanceStore
	grading.AttemptStore
}

// SessionStore is the session and assignment storage every backend provides
type SessionStore interface {
	grading.SessionStore
	grading.CompletionAggregator
	CreateAssignment(ctx context.Context, a *domain.Assignment) error
	CreateSession(ctx context.Context, sess *domain.Session) error
}

// StatsStore folds grading events and lists the aggregates
type StatsStore interface {
	Record(ctx context.Context, e grading.Event) error
	List(ctx context.Context) ([]domain.TopicStat, error)
}

// App holds all application dependencies
type App struct {
	Config    *config.LocalConfig
	Registry  *exercise.Registry
	Generator *exercise.Generator
	Issuer    *issuance.Service
	Grading   *grading.Controller
	Instances InstanceStore
	Sessions  SessionStore
	Stats     StatsStore
	Tokens    *auth.Service

	consumer *queue.Consumer
	closers  []func() error
}

// New creates a new application instance with all dependencies wired.
// drillDir resolves default database and topic paths.
func New(ctx context.Context, cfg *config.LocalConfig, drillDir string) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	a := &App{Config: cfg}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	storeClaims, err := a.openStorage(ctx, drillDir)
	if err != nil {
		return nil, err
	}

	// Topic registry is frozen here and never mutated afterwards
	topicsPath := cfg.Generation.TopicsPath
	if drillDir != "" {
		topicsPath = cfg.TopicsPath(drillDir)
	}
	defs, err := exercise.NewLoader(topicsPath).Apply(topics.Definitions())
	if err != nil {
		return nil, fmt.Errorf("load topics: %w", err)
	}
	a.Registry, err = exercise.BuildRegistry(defs)
	if err != nil {
		return nil, fmt.Errorf("build registry: %w", err)
	}
	a.Generator = exercise.NewGenerator(a.Registry, cfg.Generation.FilterPurpose)

	a.Tokens, err = auth.NewService(auth.Config{
		Secret:   []byte(cfg.Tokens.Secret),
		Issuer:   cfg.Tokens.Issuer,
		Audience: cfg.Tokens.Audience,
		TTL:      time.Duration(cfg.Tokens.TTLHours) * time.Hour,
	})
	if err != nil {
		return nil, fmt.Errorf("token service: %w", err)
	}

	claims, err := a.claimer(ctx, storeClaims)
	if err != nil {
		return nil, err
	}

	events, err := a.publisher()
	if err != nil {
		return nil, err
	}

	a.Grading = grading.NewController(grading.Deps{
		Instances:    a.Instances,
		Attempts:     a.Instances,
		Sessions:     a.Sessions,
		Completion:   a.Sessions,
		Actors:       a.Tokens,
		Entitlements: a.entitlements(),
		Claims:       claims,
		Events:       events,
	})
	a.Issuer = issuance.NewService(a.Generator, a.Instances, a.Sessions)

	stats := a.Registry.Stats()
	slog.Info("application wired",
		"storage", cfg.Storage.Driver,
		"claims", cfg.Grading.Claims,
		"queue", cfg.Queue.Enabled,
		"topics", stats.TopicCount,
		"handlers", stats.HandlerCount,
	)

	ok = true
	return a, nil
}

// openStorage opens the configured backend and returns its claim table
func (a *App) openStorage(ctx context.Context, drillDir string) (grading.Claimer, error) {
	cfg := a.Config
	switch cfg.Storage.Driver {
	case "postgres":
		pool, err := postgres.Open(ctx, cfg.Storage.DSN)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() error { pool.Close(); return nil })
		if err := postgres.Migrate(ctx, pool); err != nil {
			return nil, fmt.Errorf("migrate postgres: %w", err)
		}

		instances := postgres.NewInstanceRepository(pool, cfg.Grading.ClaimTTL())
		a.Instances = instances
		a.Sessions = postgres.NewSessionRepository(pool)
		a.Stats = postgres.NewStatsRepository(pool)
		return instances, nil

	default:
		if cfg.Storage.Path == "" && drillDir == "" {
			return nil, errors.New("sqlite path is required")
		}
		path := cfg.DatabasePath(drillDir)
		db, err := sqlite.Open(path)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, db.Close)
		if err := db.Migrate(); err != nil {
			return nil, fmt.Errorf("migrate sqlite: %w", err)
		}

		a.Instances = sqlite.NewInstanceStore(db)
		a.Sessions = sqlite.NewSessionStore(db)
		a.Stats = sqlite.NewStatsStore(db)
		return sqlite.NewClaimStore(db, cfg.Grading.ClaimTTL()), nil
	}
}

func (a *App) claimer(ctx context.Context, store grading.Claimer) (grading.Claimer, error) {
	ttl := a.Config.Grading.ClaimTTL()
	switch a.Config.Grading.Claims {
	case "local":
		return claim.NewLocal(ttl), nil
	case "redis":
		r := a.Config.Redis
		client, err := claim.Dial(ctx, r.Addr, r.Password, r.DB)
		if err != nil {
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		a.closers = append(a.closers, client.Close)
		return claim.NewRedis(client, "drill:claim:", ttl), nil
	default:
		return store, nil
	}
}

func (a *App) entitlements() grading.EntitlementChecker {
	g := a.Config.Grading
	if g.EntitlementURL == "" {
		return entitlement.AllowAll{}
	}
	return entitlement.NewClient(entitlement.Config{
		BaseURL: g.EntitlementURL,
		Timeout: g.EntitlementTimeout(),
	})
}

// publisher routes grading events to RabbitMQ when enabled, otherwise it
// folds them into stats inline
func (a *App) publisher() (grading.Publisher, error) {
	q := a.Config.Queue
	if !q.Enabled {
		return inlineStats{stats: a.Stats}, nil
	}

	conn, err := queue.NewConnection(q.URL)
	if err != nil {
		return nil, fmt.Errorf("connect queue: %w", err)
	}
	a.closers = append(a.closers, conn.Close)
	a.consumer = queue.NewConsumer(conn, a.Stats.Record, queue.ConsumerConfig{Workers: q.Workers})
	return queue.NewProducer(conn), nil
}

// Start runs background workers
func (a *App) Start(ctx context.Context) error {
	if a.consumer == nil {
		return nil
	}
	if err := a.consumer.Start(ctx); err != nil {
		return fmt.Errorf("start event consumer: %w", err)
	}
	return nil
}

// Close stops workers and releases connections in reverse order
func (a *App) Close() error {
	if a.consumer != nil {
		a.consumer.Stop()
		a.consumer = nil
	}

	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

type inlineStats struct {
	stats StatsStore
}

func (p inlineStats) Publish(ctx context.Context, e grading.Event) error {
	return p.stats.Record(ctx, e)
}
