package audit_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/mysocial/bridge-relayers/config"
	"github.com/mysocial/bridge-relayers/pkg/audit"
	"github.com/mysocial/bridge-relayers/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func outcome(status types.RelayStatus, at time.Time) *types.RelayOutcome {
	return &types.RelayOutcome{
		Key:              types.EvmDepositTxKey(types.EthSepolia, common.HexToHash("0x0abc"), 3),
		DepositAddress:   common.HexToAddress("0x00000000000000000000000000000000000000d1").Bytes(),
		DestinationChain: types.MySoTestnet,
		Token:            "0x00000000000000000000000000000000000000c0",
		Amount:           "1000000",
		Status:           status,
		BridgeTxID:       "0xbeef",
		At:               at,
	}
}

func TestNewRelayHistory(t *testing.T) {
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.FixedZone("x", 3600))
	doc := audit.NewRelayHistory(outcome(types.RelayStatusRelayed, at))

	assert.Equal(t, "11:"+common.HexToHash("0x0abc").Hex()[2:]+":3", doc.DepositKey)
	assert.Equal(t, uint8(11), doc.SourceChain)
	assert.Equal(t, uint64(3), doc.Index)
	assert.Equal(t, "0x00000000000000000000000000000000000000d1", doc.DepositAddress)
	assert.Equal(t, uint8(1), doc.DestinationChain)
	assert.Equal(t, "relayed", doc.Status)
	assert.Equal(t, time.UTC, doc.At.Location())
	assert.True(t, doc.At.Equal(at))
}

func TestMongoRecorder(t *testing.T) {
	if testing.Short() {
		t.Skip("mongo container tests are skipped in short mode")
	}
	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "mongo:7",
			ExposedPorts: []string{"27017/tcp"},
			WaitingFor:   wait.ForListeningPort("27017/tcp"),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "27017")
	require.NoError(t, err)

	recorder, err := audit.NewMongoRecorder(ctx, config.MongoConfig{
		URI:      fmt.Sprintf("mongodb://%s:%d", host, port.Int()),
		Database: "bridge_test",
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = recorder.Close(ctx) })

	first := time.Now().Add(-time.Minute).Truncate(time.Millisecond)
	failed := outcome(types.RelayStatusFailed, first)
	failed.BridgeTxID = ""
	failed.Reason = "rpc unavailable"
	require.NoError(t, recorder.Record(ctx, failed))
	require.NoError(t, recorder.Record(ctx, outcome(types.RelayStatusRelayed, first.Add(time.Second))))

	history, err := recorder.History(ctx, failed.Key)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "failed", history[0].Status)
	assert.Equal(t, "rpc unavailable", history[0].Reason)
	assert.Equal(t, "relayed", history[1].Status)
	assert.Equal(t, "0xbeef", history[1].BridgeTxID)
	assert.True(t, history[0].At.Equal(first))

	other, err := recorder.History(ctx, types.EvmDepositTxKey(types.EthSepolia, common.HexToHash("0x0abc"), 4))
	require.NoError(t, err)
	assert.Empty(t, other)
}
