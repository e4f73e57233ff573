package db_test

import (
	"bytes"
	"context"
	"math/big"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/mysocial/bridge-relayers/pkg/db"
	"github.com/mysocial/bridge-relayers/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

func setupPostgresStore(t *testing.T) *db.DatabaseAdapter {
	t.Helper()
	if testing.Short() {
		t.Skip("postgres container tests are skipped in short mode")
	}
	ctx := context.Background()
	postgresContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("test_db"),
		postgres.WithUsername("test_user"),
		postgres.WithPassword("test_password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = postgresContainer.Terminate(ctx)
	})

	dsn, err := postgresContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	adapter, err := db.NewDatabaseAdapter(dsn)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = adapter.Close()
	})
	return adapter
}

func TestMemoryStore(t *testing.T) {
	runStoreSuite(t, func(t *testing.T) db.Store { return db.NewMemoryStore() })
}

func TestPostgresStore(t *testing.T) {
	store := setupPostgresStore(t)
	runStoreSuite(t, func(t *testing.T) db.Store { return store })
}

func nativeToEvmRegistration(t *testing.T, seed byte, index uint64) *types.DepositRegistration {
	reg, err := types.NewDepositRegistration(
		bytes.Repeat([]byte{seed}, 32),
		types.MySoTestnet, bytes.Repeat([]byte{seed + 1}, 32),
		types.EthSepolia, bytes.Repeat([]byte{seed + 2}, 20),
		index, types.RegistrationApiMySoSig)
	require.NoError(t, err)
	return reg
}

func evmToNativeRegistration(t *testing.T, seed byte, index uint64) *types.DepositRegistration {
	reg, err := types.NewDepositRegistration(
		bytes.Repeat([]byte{seed}, 32),
		types.EthSepolia, bytes.Repeat([]byte{seed + 1}, 20),
		types.MySoTestnet, bytes.Repeat([]byte{seed}, 32),
		index, types.RegistrationApiEthSig)
	require.NoError(t, err)
	return reg
}

// Each subtest uses its own seeds and namespaces so a shared database is fine.
func runStoreSuite(t *testing.T, newStore func(t *testing.T) db.Store) {
	ctx := context.Background()

	t.Run("registrations", func(t *testing.T) {
		store := newStore(t)
		first := nativeToEvmRegistration(t, 0x10, 0)
		second := evmToNativeRegistration(t, 0x10, 0)
		require.NoError(t, store.InsertRegistrations(ctx, first, second))

		found, err := store.FindRegistrationByDepositAddress(ctx, first.DepositAddress)
		require.NoError(t, err)
		assert.Equal(t, first.DepositChain, found.DepositChain)
		assert.Equal(t, first.DestinationAddress, found.DestinationAddress)
		assert.Equal(t, first.RegistrationType, found.RegistrationType)

		bySource, err := store.FindRegistrationsBySource(ctx, first.SourceAddress)
		require.NoError(t, err)
		require.Len(t, bySource, 2)
		assert.Equal(t, types.MySoTestnet, bySource[0].DepositChain)
		assert.Equal(t, types.EthSepolia, bySource[1].DepositChain)

		evmAddresses, err := store.ListDepositAddresses(ctx, types.EthSepolia)
		require.NoError(t, err)
		assert.Contains(t, evmAddresses, second.DepositAddress)
		assert.NotContains(t, evmAddresses, first.DepositAddress)

		_, err = store.FindRegistrationByDepositAddress(ctx, bytes.Repeat([]byte{0xee}, 20))
		require.ErrorIs(t, err, db.ErrRegistrationNotFound)
	})

	t.Run("registrations are inserted atomically", func(t *testing.T) {
		store := newStore(t)
		existing := nativeToEvmRegistration(t, 0x20, 1)
		require.NoError(t, store.InsertRegistrations(ctx, existing))

		fresh := evmToNativeRegistration(t, 0x30, 2)
		err := store.InsertRegistrations(ctx, fresh, existing)
		require.ErrorIs(t, err, db.ErrRegistrationExists)

		_, err = store.FindRegistrationByDepositAddress(ctx, fresh.DepositAddress)
		require.ErrorIs(t, err, db.ErrRegistrationNotFound)
	})

	t.Run("invalid registrations are never stored", func(t *testing.T) {
		store := newStore(t)
		reg := nativeToEvmRegistration(t, 0x40, 3)
		reg.DepositAddress = reg.DepositAddress[:20]
		require.ErrorIs(t, store.InsertRegistrations(ctx, reg), types.ErrInvalidAddressLength)
	})

	t.Run("processed deposits", func(t *testing.T) {
		store := newStore(t)
		key := types.EvmDepositTxKey(types.EthSepolia, common.HexToHash("0xabc1"), 4)
		processed, err := store.IsDepositProcessed(ctx, key)
		require.NoError(t, err)
		require.False(t, processed)

		inserted, err := store.MarkDepositProcessed(ctx, &types.DepositRecord{Key: key, BridgeTxID: "0x01", Amount: big.NewInt(950)})
		require.NoError(t, err)
		require.True(t, inserted)
		inserted, err = store.MarkDepositProcessed(ctx, &types.DepositRecord{Key: key, BridgeTxID: "0x02", Amount: big.NewInt(1)})
		require.NoError(t, err)
		require.False(t, inserted)

		processed, err = store.IsDepositProcessed(ctx, key)
		require.NoError(t, err)
		require.True(t, processed)
		record, err := store.GetDepositRecord(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, key, record.Key)
		assert.Equal(t, "0x01", record.BridgeTxID)
		assert.Equal(t, int64(950), record.Amount.Int64())
	})

	t.Run("counters are independent and never repeat", func(t *testing.T) {
		store := newStore(t)
		namespace := "suite-counter"
		const workers = 16
		var (
			mu      sync.Mutex
			indexes []uint64
			wg      sync.WaitGroup
		)
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				index, err := store.IncrementCounter(ctx, namespace)
				assert.NoError(t, err)
				mu.Lock()
				indexes = append(indexes, index)
				mu.Unlock()
			}()
		}
		wg.Wait()
		sort.Slice(indexes, func(i, j int) bool { return indexes[i] < indexes[j] })
		for i, index := range indexes {
			require.Equal(t, uint64(i), index)
		}

		other, err := store.IncrementCounter(ctx, namespace+"-other")
		require.NoError(t, err)
		require.Equal(t, uint64(0), other)
	})

	t.Run("checkpoints", func(t *testing.T) {
		store := newStore(t)
		_, ok, err := store.GetLastEventCheckPoint(ctx, "EthSepolia", "suite")
		require.NoError(t, err)
		require.False(t, ok)

		require.NoError(t, store.UpdateLastEventCheckPoint(ctx, "EthSepolia", "suite", 100))
		require.NoError(t, store.UpdateLastEventCheckPoint(ctx, "EthSepolia", "suite", 140))
		block, ok, err := store.GetLastEventCheckPoint(ctx, "EthSepolia", "suite")
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, uint64(140), block)
	})
}
