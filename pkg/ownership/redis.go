package ownership

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "channel_owner:"

// Only the instance that set the key may delete it.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisRegistry shares claims between bridge instances subscribed to the
// same application. Claims expire after ttl in case an instance dies
// mid-call.
type RedisRegistry struct {
	client     *redis.Client
	ttl        time.Duration
	instanceID string
}

func NewRedisRegistry(client *redis.Client, ttl time.Duration) *RedisRegistry {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &RedisRegistry{
		client:     client,
		ttl:        ttl,
		instanceID: uuid.NewString(),
	}
}

func (r *RedisRegistry) Claim(ctx context.Context, channelID string) (bool, error) {
	ok, err := r.client.SetNX(ctx, keyPrefix+channelID, r.instanceID, r.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to claim channel %s: %w", channelID, err)
	}
	return ok, nil
}

func (r *RedisRegistry) Release(ctx context.Context, channelID string) error {
	if err := releaseScript.Run(ctx, r.client, []string{keyPrefix + channelID}, r.instanceID).Err(); err != nil && err != redis.Nil {
		return fmt.Errorf("failed to release channel %s: %w", channelID, err)
	}
	return nil
}
