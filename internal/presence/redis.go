package presence

import (
	"context"

	"github.com/redis/go-redis/v9"

	"github.com/example/ride-dispatch/internal/errs"
	"github.com/example/ride-dispatch/internal/models"
)

// Clears only the fields that still hold the connection being cleared, so a
// reconnect that raced ahead keeps its binding.
var clearScript = redis.NewScript(`
local members = redis.call('SMEMBERS', KEYS[1])
for _, m in ipairs(members) do
  local sep = string.find(m, ':', 1, true)
  local typ = string.sub(m, 1, sep - 1)
  local id = string.sub(m, sep + 1)
  local hkey = ARGV[2] .. typ
  if redis.call('HGET', hkey, id) == ARGV[1] then
    redis.call('HDEL', hkey, id)
  end
end
redis.call('DEL', KEYS[1])
return #members
`)

// Redis shares presence between server replicas. Bindings live in one hash
// per actor type with a reverse set per connection.
type Redis struct {
	client redis.UniversalClient
	prefix string
}

func NewRedis(client redis.UniversalClient, prefix string) *Redis {
	if prefix == "" {
		prefix = "presence"
	}
	return &Redis{client: client, prefix: prefix}
}

func (r *Redis) hashKey(t models.ActorType) string { return r.prefix + ":" + string(t) }
func (r *Redis) connKey(connID string) string     { return r.prefix + ":conn:" + connID }

func (r *Redis) Register(ctx context.Context, actorID string, actorType models.ActorType, connID string) error {
	member := string(actorType) + ":" + actorID
	old, err := r.client.HGet(ctx, r.hashKey(actorType), actorID).Result()
	if err != nil && err != redis.Nil {
		return errs.Wrap(errs.Storage, err, "read presence")
	}
	_, err = r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		if old != "" && old != connID {
			p.SRem(ctx, r.connKey(old), member)
		}
		p.HSet(ctx, r.hashKey(actorType), actorID, connID)
		p.SAdd(ctx, r.connKey(connID), member)
		return nil
	})
	return errs.Wrap(errs.Storage, err, "register presence")
}

func (r *Redis) Lookup(ctx context.Context, actorID string, actorType models.ActorType) (string, bool, error) {
	c, err := r.client.HGet(ctx, r.hashKey(actorType), actorID).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, errs.Wrap(errs.Storage, err, "lookup presence")
	}
	return c, true, nil
}

func (r *Redis) Clear(ctx context.Context, connID string) error {
	err := clearScript.Run(ctx, r.client, []string{r.connKey(connID)}, connID, r.prefix+":").Err()
	if err != nil && err != redis.Nil {
		return errs.Wrap(errs.Storage, err, "clear presence")
	}
	return nil
}
