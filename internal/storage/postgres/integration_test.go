//go:build integration

package postgres_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/felixgeelhaar/drill/internal/domain"
	"github.com/felixgeelhaar/drill/internal/grading"
	"github.com/felixgeelhaar/drill/internal/storage/postgres"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupPostgres starts a PostgreSQL container and returns a migrated pool
func setupPostgres(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "drill",
				"POSTGRES_PASSWORD": "drill",
				"POSTGRES_DB":       "drill",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("failed to start PostgreSQL container: %v", err)
	}
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(container); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("failed to get host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("failed to get port: %v", err)
	}

	dsn := fmt.Sprintf("postgres://drill:drill@%s:%s/drill?sslmode=disable", host, port.Port())
	pool, err := postgres.Open(ctx, dsn)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(pool.Close)

	if err := postgres.Migrate(ctx, pool); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	return pool
}

func newInstance(sessionID *string) *domain.Instance {
	value := 12.0
	ex := &domain.Exercise{
		Archetype:  "arith.mul",
		Kind:       domain.KindNumeric,
		Payload:    json.RawMessage(`{"prompt":"3 * 4"}`),
		Expected:   domain.Expected{Value: &value}.Encode(),
		Provenance: domain.Provenance{Key: "mul", Purpose: domain.PurposeQuiz},
	}
	return domain.NewInstance("", "arith", ex, "user:u1", sessionID, false)
}

func TestIntegration_GradingLifecycle(t *testing.T) {
	pool := setupPostgres(t)
	ctx := context.Background()

	sessions := postgres.NewSessionRepository(pool)
	instances := postgres.NewInstanceRepository(pool, time.Minute)
	stats := postgres.NewStatsRepository(pool)

	s := domain.NewSession("user:u1", nil)
	if err := sessions.CreateSession(ctx, s); err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}
	inst := newInstance(&s.ID)
	if err := instances.CreateInstance(ctx, inst); err != nil {
		t.Fatalf("CreateInstance() error = %v", err)
	}

	ctrl := grading.NewController(grading.Deps{
		Instances:  instances,
		Attempts:   instances,
		Sessions:   sessions,
		Completion: sessions,
		Actors:     staticActor{domain.Actor{UserRef: "u1"}},
		Claims:     instances,
	})

	dec, err := ctrl.Validate(ctx, grading.Request{
		InstanceID: inst.ID,
		Answer:     &domain.Answer{Kind: domain.KindNumeric, Value: ptr(12.0)},
	})
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if !dec.Finalized || !dec.SessionComplete {
		t.Errorf("decision = %+v; want finalized and session complete", dec)
	}

	got, err := instances.GetInstance(ctx, inst.ID)
	if err != nil {
		t.Fatalf("GetInstance() error = %v", err)
	}
	if got.FinalizedReason != domain.FinalizedCorrect {
		t.Errorf("FinalizedReason = %q", got.FinalizedReason)
	}

	reason := domain.FinalizedExhausted
	err = instances.RecordAttempt(ctx, domain.NewAttempt(inst.ID, "user:u1", false, nil, ptr(false)), &reason)
	if !errors.Is(err, domain.ErrAlreadyFinalized) {
		t.Errorf("second finalize error = %v; want ErrAlreadyFinalized", err)
	}
	n, _ := instances.CountNonReveal(ctx, inst.ID)
	if n != 1 {
		t.Errorf("CountNonReveal() = %d; want 1 (rolled back insert)", n)
	}

	if err := stats.Record(ctx, grading.Event{Type: grading.EventAttemptRecorded, TopicSlug: "arith", Key: "mul", OK: ptr(true)}); err != nil {
		t.Errorf("stats.Record() error = %v", err)
	}

	if _, err := instances.GetInstance(ctx, "missing"); !errors.Is(err, domain.ErrInstanceNotFound) {
		t.Errorf("GetInstance(missing) error = %v", err)
	}
}

func TestIntegration_Claims(t *testing.T) {
	pool := setupPostgres(t)
	ctx := context.Background()
	instances := postgres.NewInstanceRepository(pool, time.Minute)

	inst := newInstance(nil)
	if err := instances.CreateInstance(ctx, inst); err != nil {
		t.Fatalf("CreateInstance() error = %v", err)
	}

	token, err := instances.Acquire(ctx, inst.ID)
	if err != nil || token == "" {
		t.Fatalf("Acquire() = %q, %v", token, err)
	}
	if _, err := instances.Acquire(ctx, inst.ID); !errors.Is(err, domain.ErrClaimHeld) {
		t.Errorf("second Acquire() error = %v; want ErrClaimHeld", err)
	}
	if err := instances.Release(ctx, inst.ID, token); err != nil {
		t.Fatalf("Release() error = %v", err)
	}
	if _, err := instances.Acquire(ctx, inst.ID); err != nil {
		t.Errorf("Acquire() after release error = %v", err)
	}
}

type staticActor struct{ actor domain.Actor }

func (s staticActor) ResolveActor(context.Context, string) (domain.Actor, error) {
	return s.actor, nil
}

func ptr[T any](v T) *T { return &v }
