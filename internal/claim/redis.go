package claim

import (
	"context"
	"fmt"
	"time"

	"github.com/felixgeelhaar/drill/internal/domain"
	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

// releaseScript deletes the key only if it still holds the caller's token
const releaseScript = `if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0`

// redisClient is the subset of the go-redis client used for claims
type redisClient interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *goredis.BoolCmd
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) *goredis.Cmd
}

// Redis shares claims across daemon replicas
type Redis struct {
	client redisClient
	prefix string
	ttl    time.Duration
}

// NewRedis creates a claim table stored in redis under prefix
func NewRedis(client redisClient, prefix string, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if prefix == "" {
		prefix = "drill:claim:"
	}
	return &Redis{client: client, prefix: prefix, ttl: ttl}
}

// Dial connects to redis at addr and verifies the connection
func Dial(ctx context.Context, addr, password string, db int) (*goredis.Client, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		Password:    password,
		DB:          db,
		DialTimeout: 5 * time.Second,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// Acquire claims instanceID with SET NX PX
func (r *Redis) Acquire(ctx context.Context, instanceID string) (string, error) {
	token := uuid.New().String()
	ok, err := r.client.SetNX(ctx, r.prefix+instanceID, token, r.ttl).Result()
	if err != nil {
		return "", fmt.Errorf("acquire claim: %w", err)
	}
	if !ok {
		return "", domain.ErrClaimHeld
	}
	return token, nil
}

// Release deletes the claim if token still owns it
func (r *Redis) Release(ctx context.Context, instanceID, token string) error {
	if err := r.client.Eval(ctx, releaseScript, []string{r.prefix + instanceID}, token).Err(); err != nil {
		return fmt.Errorf("release claim: %w", err)
	}
	return nil
}
