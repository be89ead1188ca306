package main

import (
	"testing"

	"github.com/stretchr/testify/require"

	"ownersale/config"
)

func TestRateLimitsFromConfig(t *testing.T) {
	cfg := &config.Config{ReadRequestsPerMinute: 600, WriteRequestsPerMinute: 60}

	limits := rateLimitsFrom(cfg)

	read, ok := limits["read"]
	require.True(t, ok)
	require.Equal(t, float64(600), read.RequestsPerMinute)
	require.Equal(t, 600, read.Burst)

	mutate, ok := limits["mutate"]
	require.True(t, ok)
	require.Equal(t, float64(60), mutate.RequestsPerMinute)
	require.Equal(t, 60, mutate.Burst)
}
