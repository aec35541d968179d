package claim

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/felixgeelhaar/drill/internal/domain"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestLocal_ExclusiveUntilReleased(t *testing.T) {
	l := NewLocal(time.Minute)
	ctx := context.Background()

	token, err := l.Acquire(ctx, "i1")
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if _, err := l.Acquire(ctx, "i1"); !errors.Is(err, domain.ErrClaimHeld) {
		t.Fatalf("second Acquire() error = %v, want ErrClaimHeld", err)
	}
	if _, err := l.Acquire(ctx, "i2"); err != nil {
		t.Fatalf("Acquire(other) error = %v", err)
	}

	// A stale token must not release someone else's claim.
	if err := l.Release(ctx, "i1", "stale"); err != nil {
		t.Fatalf("Release() error = %v", err)
	}
	if _, err := l.Acquire(ctx, "i1"); !errors.Is(err, domain.ErrClaimHeld) {
		t.Fatal("stale token released the claim")
	}

	if err := l.Release(ctx, "i1", token); err != nil {
		t.Fatalf("Release() error = %v", err)
	}
	if _, err := l.Acquire(ctx, "i1"); err != nil {
		t.Fatalf("Acquire() after release error = %v", err)
	}
}

func TestLocal_Expiry(t *testing.T) {
	l := NewLocal(time.Second)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	if _, err := l.Acquire(context.Background(), "i1"); err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	now = now.Add(2 * time.Second)
	if _, err := l.Acquire(context.Background(), "i1"); err != nil {
		t.Fatalf("Acquire() after expiry error = %v", err)
	}
}

func TestLocal_ConcurrentSingleWinner(t *testing.T) {
	l := NewLocal(time.Minute)

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := l.Acquire(context.Background(), "hot"); err == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	if got := wins.Load(); got != 1 {
		t.Errorf("winners = %d, want 1", got)
	}
	if l.Len() != 1 {
		t.Errorf("Len() = %d, want 1", l.Len())
	}
}

// fakeRedis emulates SET NX and the compare-and-delete script
type fakeRedis struct {
	mu   sync.Mutex
	data map[string]string
	ttls map[string]time.Duration
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{data: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (f *fakeRedis) SetNX(_ context.Context, key string, value interface{}, exp time.Duration) *goredis.BoolCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.data[key]; ok {
		return goredis.NewBoolResult(false, nil)
	}
	f.data[key] = value.(string)
	f.ttls[key] = exp
	return goredis.NewBoolResult(true, nil)
}

func (f *fakeRedis) Eval(_ context.Context, _ string, keys []string, args ...interface{}) *goredis.Cmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.data[keys[0]] == args[0].(string) {
		delete(f.data, keys[0])
		return goredis.NewCmdResult(int64(1), nil)
	}
	return goredis.NewCmdResult(int64(0), nil)
}

func TestRedis_AcquireRelease(t *testing.T) {
	fake := newFakeRedis()
	r := NewRedis(fake, "", 10*time.Second)
	ctx := context.Background()

	token, err := r.Acquire(ctx, "i1")
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if fake.ttls["drill:claim:i1"] != 10*time.Second {
		t.Errorf("ttl = %v, want 10s", fake.ttls["drill:claim:i1"])
	}
	if _, err := r.Acquire(ctx, "i1"); !errors.Is(err, domain.ErrClaimHeld) {
		t.Fatalf("second Acquire() error = %v, want ErrClaimHeld", err)
	}

	if err := r.Release(ctx, "i1", "stale"); err != nil {
		t.Fatalf("Release(stale) error = %v", err)
	}
	if _, ok := fake.data["drill:claim:i1"]; !ok {
		t.Fatal("stale token deleted the claim")
	}

	if err := r.Release(ctx, "i1", token); err != nil {
		t.Fatalf("Release() error = %v", err)
	}
	if _, err := r.Acquire(ctx, "i1"); err != nil {
		t.Fatalf("Acquire() after release error = %v", err)
	}
}

type failingRedis struct{ fakeRedis }

func (*failingRedis) SetNX(context.Context, string, interface{}, time.Duration) *goredis.BoolCmd {
	return goredis.NewBoolResult(false, errors.New("connection refused"))
}

func TestRedis_AcquireError(t *testing.T) {
	r := NewRedis(&failingRedis{}, "x:", 0)
	_, err := r.Acquire(context.Background(), "i1")
	if err == nil || errors.Is(err, domain.ErrClaimHeld) {
		t.Fatalf("Acquire() error = %v, want transport error", err)
	}
}
