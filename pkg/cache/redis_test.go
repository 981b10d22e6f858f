package cache

import (
	"strconv"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/scholarship-api/pkg/config"
)

func TestNewRedisPingsServer(t *testing.T) {
	srv := miniredis.RunT(t)
	port, err := strconv.Atoi(srv.Port())
	require.NoError(t, err)

	client, err := NewRedis(config.RedisConfig{Host: srv.Host(), Port: port})
	require.NoError(t, err)
	require.NotNil(t, client)
	require.NoError(t, client.Close())
}

func TestNewRedisDisabledWithoutHost(t *testing.T) {
	client, err := NewRedis(config.RedisConfig{})
	require.NoError(t, err)
	require.Nil(t, client)
}

func TestNewRedisReportsUnreachableServer(t *testing.T) {
	srv := miniredis.RunT(t)
	port, err := strconv.Atoi(srv.Port())
	require.NoError(t, err)
	srv.Close()

	client, err := NewRedis(config.RedisConfig{Host: "127.0.0.1", Port: port})
	require.Error(t, err)
	require.Nil(t, client)
	require.Contains(t, err.Error(), "ping redis 127.0.0.1:")
}
