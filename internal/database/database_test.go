package database

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appconfig "github.com/pokjoy/qfeng5/internal/config"
)

func TestDSNEscapesCredentials(t *testing.T) {
	dsn := DSN(&appconfig.DatabaseConfig{
		Host: "db", Port: "5432", User: "qfeng5", Password: "p@ss/word", Name: "qfeng5", SSLMode: "disable",
	})
	assert.Equal(t, "postgres://qfeng5:p%40ss%2Fword@db:5432/qfeng5?sslmode=disable", dsn)
}

func TestBackoffIsCapped(t *testing.T) {
	assert.Equal(t, 500*time.Millisecond, backoff(1))
	assert.Equal(t, time.Second, backoff(2))
	assert.Equal(t, 4*time.Second, backoff(4))
	assert.Equal(t, maxDelay, backoff(5))
}

func TestConnectRejectsNilConfig(t *testing.T) {
	_, err := Connect(context.Background(), nil)
	require.Error(t, err)
}

func TestWaitBackoffHonoursCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, waitBackoff(ctx, 5), context.Canceled)
}
