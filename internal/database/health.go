package database

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

const probeTimeout = 2 * time.Second

// Pinger is anything that answers a liveness ping.
type Pinger interface {
	Ping(ctx context.Context) error
}

type redisPinger struct{ rdb *redis.Client }

func (p redisPinger) Ping(ctx context.Context) error { return p.rdb.Ping(ctx).Err() }

// Health probes the backing stores for the /health endpoint.
type Health struct {
	deps map[string]Pinger
}

// NewHealth probes PostgreSQL and Redis. Redis is the one that matters for
// live sessions, since every checkpoint is written there first.
func NewHealth(pool *pgxpool.Pool, rdb *redis.Client) *Health {
	return &Health{deps: map[string]Pinger{
		"postgres": pool,
		"redis":    redisPinger{rdb},
	}}
}

// Check pings every dependency and reports each as "ok" or the error text.
func (h *Health) Check(ctx context.Context) (map[string]string, bool) {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	status := make(map[string]string, len(h.deps))
	healthy := true
	for name, dep := range h.deps {
		if err := dep.Ping(ctx); err != nil {
			status[name] = err.Error()
			healthy = false
			continue
		}
		status[name] = "ok"
	}
	return status, healthy
}
