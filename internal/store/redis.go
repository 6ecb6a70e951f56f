package store

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Tyrowin/gochat-realtime/internal/realtime"
)

// lastSeenHash maps user id to the unix millisecond of their last disconnect.
const lastSeenHash = "im:lastseen"

// presence key: im:presence:<user>, value <node>/<session>.
func presenceKey(user realtime.UserID) string { return "im:presence:" + string(user) }

func presenceValue(node string, session realtime.SessionID) string {
	return node + "/" + string(session)
}

// offlineScript removes the presence key only while it still names the
// session that went away, then records lastSeen.
var offlineScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	redis.call("DEL", KEYS[1])
end
redis.call("HSET", KEYS[2], ARGV[2], ARGV[3])
return 1
`)

// refreshScript renews each KEYS[i] whose value is still ARGV[i]. The last
// argument is the TTL in milliseconds. It returns how many keys were renewed.
var refreshScript = redis.NewScript(`
local ttl = ARGV[#ARGV]
local renewed = 0
for i, key in ipairs(KEYS) do
	if redis.call("GET", key) == ARGV[i] then
		redis.call("PEXPIRE", key, ttl)
		renewed = renewed + 1
	end
end
return renewed
`)

// NewRedisClient connects and pings.
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, errors.Wrapf(err, "ping redis at %s", addr)
	}
	return rdb, nil
}

// RedisPresence mirrors this node's presence transitions into Redis so other
// gateway nodes can find which node holds a user.
type RedisPresence struct {
	rdb    redis.Cmdable
	nodeID string
	ttl    time.Duration
}

var _ realtime.PresenceMirror = (*RedisPresence)(nil)

// NewRedisPresence returns a mirror writing keys that expire after ttl unless
// refreshed by KeepAlive.
func NewRedisPresence(rdb redis.Cmdable, nodeID string, ttl time.Duration) *RedisPresence {
	return &RedisPresence{rdb: rdb, nodeID: nodeID, ttl: ttl}
}

// Online implements realtime.PresenceMirror.
func (p *RedisPresence) Online(ctx context.Context, user realtime.UserID, session realtime.SessionID) error {
	err := p.rdb.Set(ctx, presenceKey(user), presenceValue(p.nodeID, session), p.ttl).Err()
	return errors.Wrapf(err, "presence online %s", user)
}

// Offline implements realtime.PresenceMirror. A key rewritten for a newer
// session, on this node or another, is left alone.
func (p *RedisPresence) Offline(
	ctx context.Context,
	user realtime.UserID,
	session realtime.SessionID,
	at time.Time,
) error {
	err := offlineScript.Run(ctx, p.rdb,
		[]string{presenceKey(user), lastSeenHash},
		presenceValue(p.nodeID, session), string(user), at.UnixMilli(),
	).Err()
	return errors.Wrapf(err, "presence offline %s", user)
}

// Lookup reports the node holding user, if any.
func (p *RedisPresence) Lookup(ctx context.Context, user realtime.UserID) (node string, online bool, err error) {
	val, err := p.rdb.Get(ctx, presenceKey(user)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.Wrapf(err, "presence lookup %s", user)
	}
	node, _, _ = strings.Cut(val, "/")
	return node, true, nil
}

// LastSeen returns the recorded last disconnect of user.
func (p *RedisPresence) LastSeen(ctx context.Context, user realtime.UserID) (time.Time, bool, error) {
	val, err := p.rdb.HGet(ctx, lastSeenHash, string(user)).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, errors.Wrapf(err, "last seen %s", user)
	}
	ms, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return time.Time{}, false, errors.Wrapf(err, "last seen %s: bad value %q", user, val)
	}
	return time.UnixMilli(ms), true, nil
}

// KeepAlive renews the TTL of every user bound on this node until ctx is done.
func (p *RedisPresence) KeepAlive(ctx context.Context, registry *realtime.Registry, every time.Duration, logger *zap.Logger) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			renewed, err := p.refresh(ctx, registry)
			if err != nil {
				logger.Warn("Presence refresh failed", zap.Error(err))
				continue
			}
			logger.Debug("Presence refreshed", zap.Int("renewed", renewed))
		}
	}
}

// refresh renews the keys of the users bound here. A key deleted or taken
// over since the registry was read is not brought back.
func (p *RedisPresence) refresh(ctx context.Context, registry *realtime.Registry) (int, error) {
	users := registry.SnapshotKeys()
	keys := make([]string, 0, len(users))
	args := make([]any, 0, len(users)+1)
	for _, user := range users {
		s, ok := registry.Get(user)
		if !ok {
			continue
		}
		keys = append(keys, presenceKey(user))
		args = append(args, presenceValue(p.nodeID, s.ID()))
	}
	if len(keys) == 0 {
		return 0, nil
	}
	args = append(args, p.ttl.Milliseconds())

	renewed, err := refreshScript.Run(ctx, p.rdb, keys, args...).Int()
	return renewed, errors.Wrap(err, "refresh presence")
}
