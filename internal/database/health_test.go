package database

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestHealthCheck(t *testing.T) {
	h := &Health{deps: map[string]Pinger{
		"postgres": pingFunc(func(ctx context.Context) error { return nil }),
		"redis":    pingFunc(func(ctx context.Context) error { return errors.New("connection refused") }),
	}}

	status, ok := h.Check(context.Background())
	assert.False(t, ok)
	assert.Equal(t, map[string]string{"postgres": "ok", "redis": "connection refused"}, status)
}

func TestHealthCheckDeadline(t *testing.T) {
	h := &Health{deps: map[string]Pinger{
		"redis": pingFunc(func(ctx context.Context) error {
			_, has := ctx.Deadline()
			assert.True(t, has, "probes run under a timeout")
			return nil
		}),
	}}

	status, ok := h.Check(context.Background())
	assert.True(t, ok)
	assert.Equal(t, "ok", status["redis"])
}
