package telemetry_test

import (
	"context"
	"testing"

	"github.com/mysocial/bridge-relayers/config"
	"github.com/mysocial/bridge-relayers/pkg/telemetry"
	"github.com/stretchr/testify/require"
)

func TestInitWithoutEndpointIsNoop(t *testing.T) {
	shutdown, err := telemetry.Init(context.Background(), config.TelemetryConfig{})
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))
}

func TestInitWithEndpoint(t *testing.T) {
	shutdown, err := telemetry.Init(context.Background(), config.TelemetryConfig{
		Endpoint: "localhost:4318",
		Insecure: true,
	})
	require.NoError(t, err)
	require.NotNil(t, shutdown)
	// Nothing was exported, so shutdown has nothing to flush.
	require.NoError(t, shutdown(context.Background()))
}
