package native_test

import (
	"context"
	"testing"
	"time"

	"github.com/mysocial/bridge-relayers/config"
	nativeclient "github.com/mysocial/bridge-relayers/pkg/clients/native"
	"github.com/mysocial/bridge-relayers/pkg/db"
	"github.com/mysocial/bridge-relayers/pkg/events"
	"github.com/mysocial/bridge-relayers/pkg/services/native"
	"github.com/mysocial/bridge-relayers/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const usdc = "0xabc::usdc::USDC"

type fakeChain struct {
	latest      uint64
	checkpoints map[uint64]*nativeclient.Checkpoint
	txs         map[types.TxDigest]nativeclient.TransactionBlockResponse
	fetched     []uint64
}

func (f *fakeChain) ChainID() types.BridgeChainId { return types.MySoTestnet }

func (f *fakeChain) LatestCheckpoint(context.Context) (uint64, error) { return f.latest, nil }

func (f *fakeChain) GetCheckpoint(_ context.Context, seq uint64) (*nativeclient.Checkpoint, error) {
	f.fetched = append(f.fetched, seq)
	if checkpoint, ok := f.checkpoints[seq]; ok {
		return checkpoint, nil
	}
	return &nativeclient.Checkpoint{SequenceNumber: nativeclient.Uint64String(seq)}, nil
}

func (f *fakeChain) GetTransactions(_ context.Context, digests []types.TxDigest) ([]nativeclient.TransactionBlockResponse, error) {
	out := make([]nativeclient.TransactionBlockResponse, 0, len(digests))
	for _, digest := range digests {
		out = append(out, f.txs[digest])
	}
	return out, nil
}

func address(b byte) types.NativeAddress {
	var a types.NativeAddress
	a[31] = b
	return a
}

func owned(a types.NativeAddress) nativeclient.Owner {
	return nativeclient.Owner{AddressOwner: &a}
}

func transaction(digest byte, sender types.NativeAddress, status string, changes ...nativeclient.BalanceChange) nativeclient.TransactionBlockResponse {
	tx := nativeclient.TransactionBlockResponse{
		Digest:         types.TxDigest{digest},
		Transaction:    &nativeclient.TransactionInput{},
		Effects:        &nativeclient.TransactionEffects{Status: nativeclient.ExecutionStatus{Status: status}},
		BalanceChanges: changes,
	}
	tx.Transaction.Data.Sender = sender
	return tx
}

func register(t *testing.T, store db.Store, depositAddress types.NativeAddress) {
	t.Helper()
	destination := make([]byte, types.EvmAddressLength)
	destination[0] = 7
	reg, err := types.NewDepositRegistration(depositAddress.Bytes(), types.MySoTestnet, depositAddress.Bytes(),
		types.EthSepolia, destination, 0, types.RegistrationApiMySoSig)
	require.NoError(t, err)
	require.NoError(t, store.InsertRegistrations(context.Background(), reg))
}

func TestPollPublishesPositiveChangesOnDepositAddresses(t *testing.T) {
	ctx := context.Background()
	store := db.NewMemoryStore()
	depositAddress := address(1)
	relayer := address(9)
	register(t, store, depositAddress)

	deposit := transaction(1, address(2), "success",
		nativeclient.BalanceChange{Owner: owned(address(2)), CoinType: usdc, Amount: "-500"},
		nativeclient.BalanceChange{Owner: owned(depositAddress), CoinType: usdc, Amount: "500"},
	)
	chain := &fakeChain{
		latest: 12,
		checkpoints: map[uint64]*nativeclient.Checkpoint{
			11: {SequenceNumber: 11, TimestampMs: 1700, Transactions: []types.TxDigest{{1}, {2}, {3}, {4}}},
		},
		txs: map[types.TxDigest]nativeclient.TransactionBlockResponse{
			{1}: deposit,
			{2}: transaction(2, address(2), "failure",
				nativeclient.BalanceChange{Owner: owned(depositAddress), CoinType: usdc, Amount: "10"}),
			{3}: transaction(3, relayer, "success",
				nativeclient.BalanceChange{Owner: owned(depositAddress), CoinType: "0x2::myso::MYSO", Amount: "20000000"}),
			{4}: transaction(4, depositAddress, "success",
				nativeclient.BalanceChange{Owner: owned(depositAddress), CoinType: usdc, Amount: "-500"}),
		},
	}
	bus := events.NewEventBus(8)
	deposits := bus.Subscribe(events.EVENT_NATIVE_DEPOSIT)
	start := uint64(10)
	listener := native.NewNativeListener(&config.NativeConfig{StartCheckpoint: &start, PollInterval: time.Second},
		chain, store, bus, relayer)

	published, err := listener.Poll(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, published)

	envelope := <-deposits
	event, ok := envelope.Data.(*types.NativeDepositEvent)
	require.True(t, ok)
	assert.Equal(t, types.TxDigest{1}, event.TxDigest)
	assert.Equal(t, address(2), event.Sender)
	assert.Equal(t, depositAddress, event.Recipient)
	assert.Equal(t, uint64(500), event.Amount)
	assert.Equal(t, uint16(1), event.BalanceChangeIndex)
	assert.Equal(t, uint64(1700), event.TimestampMs)
	assert.Equal(t, usdc, event.CoinType)

	assert.Equal(t, []uint64{10, 11, 12}, chain.fetched)
	// the cursor stays below the checkpoint of the unprocessed deposit
	assert.Equal(t, uint64(10), storedCursor(t, store))

	_, err = store.MarkDepositProcessed(ctx, &types.DepositRecord{Key: event.Key()})
	require.NoError(t, err)
	published, err = listener.Poll(ctx)
	require.NoError(t, err)
	assert.Zero(t, published)
	assert.Equal(t, uint64(12), storedCursor(t, store))

	// processed deposits are not published again after a replay
	require.NoError(t, store.UpdateLastEventCheckPoint(ctx, types.MySoTestnet.String(), native.CheckpointEventName, 10))
	replay := native.NewNativeListener(&config.NativeConfig{PollInterval: time.Second}, chain, store, bus, relayer)
	published, err = replay.Poll(ctx)
	require.NoError(t, err)
	assert.Zero(t, published)
}

func storedCursor(t *testing.T, store db.Store) uint64 {
	t.Helper()
	cursor, ok, err := store.GetLastEventCheckPoint(context.Background(), types.MySoTestnet.String(), native.CheckpointEventName)
	require.NoError(t, err)
	require.True(t, ok)
	return cursor
}

func TestRestartRepublishesUnprocessedDeposit(t *testing.T) {
	ctx := context.Background()
	store := db.NewMemoryStore()
	depositAddress := address(1)
	register(t, store, depositAddress)
	chain := &fakeChain{
		latest: 30,
		checkpoints: map[uint64]*nativeclient.Checkpoint{
			25: {SequenceNumber: 25, Transactions: []types.TxDigest{{1}}},
		},
		txs: map[types.TxDigest]nativeclient.TransactionBlockResponse{
			{1}: transaction(1, address(2), "success",
				nativeclient.BalanceChange{Owner: owned(depositAddress), CoinType: usdc, Amount: "500"}),
		},
	}
	bus := events.NewEventBus(8)
	deposits := bus.Subscribe(events.EVENT_NATIVE_DEPOSIT)
	start := uint64(20)
	nativeConfig := &config.NativeConfig{StartCheckpoint: &start, PollInterval: time.Second}

	published, err := native.NewNativeListener(nativeConfig, chain, store, bus).Poll(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, published)
	<-deposits
	assert.Equal(t, uint64(24), storedCursor(t, store))

	// the relay never confirmed it, so a restarted listener reads checkpoint 25 again
	chain.fetched = nil
	published, err = native.NewNativeListener(nativeConfig, chain, store, bus).Poll(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, published)
	event := (<-deposits).Data.(*types.NativeDepositEvent)
	assert.Equal(t, types.TxDigest{1}, event.TxDigest)
	assert.Equal(t, []uint64{25, 26, 27, 28, 29, 30}, chain.fetched)
}

func TestUnprocessedDepositIsPublishedAgain(t *testing.T) {
	ctx := context.Background()
	store := db.NewMemoryStore()
	depositAddress := address(1)
	register(t, store, depositAddress)
	chain := &fakeChain{
		latest: 5,
		checkpoints: map[uint64]*nativeclient.Checkpoint{
			5: {SequenceNumber: 5, Transactions: []types.TxDigest{{1}}},
		},
		txs: map[types.TxDigest]nativeclient.TransactionBlockResponse{
			{1}: transaction(1, address(2), "success",
				nativeclient.BalanceChange{Owner: owned(depositAddress), CoinType: usdc, Amount: "500"}),
		},
	}
	bus := events.NewEventBus(8)
	deposits := bus.Subscribe(events.EVENT_NATIVE_DEPOSIT)
	start := uint64(5)
	listener := native.NewNativeListener(&config.NativeConfig{StartCheckpoint: &start}, chain, store, bus).
		WithRedeliverAfter(0)

	published, err := listener.Poll(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, published)
	first := <-deposits

	published, err = listener.Poll(ctx)
	require.NoError(t, err)
	assert.Zero(t, published)
	require.Len(t, deposits, 1)
	assert.Same(t, first, <-deposits)
	assert.Equal(t, []uint64{5}, chain.fetched)
	assert.Equal(t, uint64(4), storedCursor(t, store))
}

func TestPollStartsAtLatestWithoutCursor(t *testing.T) {
	store := db.NewMemoryStore()
	register(t, store, address(1))
	chain := &fakeChain{latest: 500}
	listener := native.NewNativeListener(&config.NativeConfig{}, chain, store, events.NewEventBus(1))

	_, err := listener.Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []uint64{500}, chain.fetched)

	chain.latest = 800
	_, err = listener.Poll(context.Background())
	require.NoError(t, err)
	// one batch per poll
	assert.Len(t, chain.fetched, 101)
	assert.Equal(t, uint64(600), chain.fetched[100])
}
