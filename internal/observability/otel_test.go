package observability

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/order-fulfillment/internal/config"
)

func TestSetup_DisabledWithoutEndpoint(t *testing.T) {
	cfg := &config.Config{}

	shutdownLogs, err := SetupLoggingSDK(context.Background(), cfg)
	require.NoError(t, err)
	shutdownTraces, err := SetupTracingSDK(context.Background(), cfg)
	require.NoError(t, err)

	assert.NoError(t, shutdownLogs(context.Background()))
	assert.NoError(t, shutdownTraces(context.Background()))
}

func TestNewLogger(t *testing.T) {
	assert.NotNil(t, NewLogger(false))
	assert.NotNil(t, NewLogger(true))
}

func TestAuthHeaders(t *testing.T) {
	assert.Nil(t, authHeaders(&config.Config{}))
	assert.Equal(t, map[string]string{"Authorization": "Basic x"}, authHeaders(&config.Config{OtelAuthHeader: "Basic x"}))
}
