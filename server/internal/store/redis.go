package store

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"

	"github.com/nasalert/nasalert/server/internal/alerts"
)

// redisKey is the hash holding every alert, field = alert id.
const redisKey = "nasalert:alerts"

// Redis stores alerts in a single Redis hash.
type Redis struct {
	rdb *redis.Client
}

// OpenRedis connects to addr (host:port or a redis:// URL) and pings it.
func OpenRedis(ctx context.Context, addr string) (*Redis, error) {
	if addr == "" {
		return nil, errors.New("store: redis needs an address")
	}
	opts, err := redis.ParseURL(addr)
	if err != nil {
		opts = &redis.Options{Addr: addr}
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, errors.Wrapf(err, "store: ping redis %s", opts.Addr)
	}
	return &Redis{rdb: rdb}, nil
}

func (r *Redis) List(ctx context.Context) ([]*alerts.Alert, error) {
	vals, err := r.rdb.HGetAll(ctx, redisKey).Result()
	if err != nil {
		return nil, errors.Wrap(err, "store: hgetall alerts")
	}
	out := make([]*alerts.Alert, 0, len(vals))
	for _, v := range vals {
		a, err := decode([]byte(v))
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	sortByID(out)
	return out, nil
}

func (r *Redis) Put(ctx context.Context, a *alerts.Alert) error {
	data, err := encode(a)
	if err != nil {
		return err
	}
	return errors.Wrapf(r.rdb.HSet(ctx, redisKey, a.ID, data).Err(), "store: put alert %s", a.ID)
}

func (r *Redis) Delete(ctx context.Context, id string) error {
	return errors.Wrapf(r.rdb.HDel(ctx, redisKey, id).Err(), "store: delete alert %s", id)
}

func (r *Redis) Close() error { return r.rdb.Close() }
