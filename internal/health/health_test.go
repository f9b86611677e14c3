package health

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryEmpty(t *testing.T) {
	r := NewRegistry(0)
	healthy, statuses := r.CheckAll(context.Background())
	assert.True(t, healthy)
	assert.Empty(t, statuses)
}

func TestRegistryAllHealthy(t *testing.T) {
	r := NewRegistry(time.Second)
	r.Register("upstream", func(_ context.Context) Status { return Status{Healthy: true} })
	r.Register("database", Ping("database", func(context.Context) error { return nil }))

	healthy, statuses := r.CheckAll(context.Background())
	assert.True(t, healthy)
	require.Len(t, statuses, 2)
	assert.Equal(t, "upstream", statuses[0].Name)
	assert.Equal(t, "database", statuses[1].Name)
	assert.True(t, statuses[0].Critical)
}

func TestRegistryCriticalFailure(t *testing.T) {
	r := NewRegistry(time.Second)
	r.Register("upstream", Ping("upstream", func(context.Context) error { return errors.New("connection refused") }))

	healthy, statuses := r.CheckAll(context.Background())
	assert.False(t, healthy)
	assert.Equal(t, "connection refused", statuses[0].Detail)
}

func TestRegistryOptionalFailureIsReportedOnly(t *testing.T) {
	r := NewRegistry(time.Second)
	r.Register("upstream", Ping("upstream", func(context.Context) error { return nil }))
	r.RegisterOptional("scoring", Ping("scoring", func(context.Context) error { return errors.New("503") }))

	healthy, statuses := r.CheckAll(context.Background())
	assert.True(t, healthy)
	require.Len(t, statuses, 2)
	assert.False(t, statuses[1].Healthy)
	assert.False(t, statuses[1].Critical)
}

func TestRegistryTimeoutBoundsChecks(t *testing.T) {
	r := NewRegistry(20 * time.Millisecond)
	r.Register("slow", Ping("slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}))

	start := time.Now()
	healthy, _ := r.CheckAll(context.Background())
	assert.False(t, healthy)
	assert.Less(t, time.Since(start), time.Second)
}
