package deposit_test

import (
	"bytes"
	"context"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/mysocial/bridge-relayers/pkg/clients/native"
	"github.com/mysocial/bridge-relayers/pkg/deposit"
	"github.com/mysocial/bridge-relayers/pkg/lock"
	"github.com/mysocial/bridge-relayers/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConcurrentEvmFundingSendsOnce(t *testing.T) {
	chain := newFakeEvm()
	chain.fundDelay = 20 * time.Millisecond
	gas := deposit.NewGasManager(chain, newFakeNative(), nil, lock.NewLocalLocker(), testDepositConfig())
	addr := common.HexToAddress("0x0000000000000000000000000000000000000123")

	var wg sync.WaitGroup
	errs := make(chan error, 5)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- gas.EnsureEvmDepositHasGas(context.Background(), addr, 50_000, 250_000, oneGwei)
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
	assert.Len(t, chain.fundings, 1)
}

func TestEvmFundingTopsUpShortfallOnly(t *testing.T) {
	chain := newFakeEvm()
	addr := common.HexToAddress("0x0000000000000000000000000000000000000124")
	chain.balances[addr] = big.NewInt(100_000_000_000_000)
	gas := deposit.NewGasManager(chain, newFakeNative(), nil, lock.NewLocalLocker(), testDepositConfig())

	require.NoError(t, gas.EnsureEvmDepositHasGas(context.Background(), addr, 0, 200_000, oneGwei))
	// shortfall 1e14 plus 20%
	require.Len(t, chain.fundings, 1)
	assert.Equal(t, big.NewInt(120_000_000_000_000), chain.fundings[0])
}

func TestEvmFundingChecksRelayerBalance(t *testing.T) {
	chain := newFakeEvm()
	chain.balances[relayerAddress] = big.NewInt(1)
	gas := deposit.NewGasManager(chain, newFakeNative(), nil, lock.NewLocalLocker(), testDepositConfig())

	err := gas.EnsureEvmDepositHasGas(context.Background(), common.HexToAddress("0x0125"), 50_000, 250_000, oneGwei)
	require.ErrorIs(t, err, deposit.ErrRelayerUnderfunded)
	assert.Empty(t, chain.fundings)
}

func nativeRelayer(t *testing.T) *native.Signer {
	t.Helper()
	signer, err := native.SignerFromBytes(bytes.Repeat([]byte{7}, 32))
	require.NoError(t, err)
	return signer
}

func TestNativeFundingReusesUsableCoin(t *testing.T) {
	chain := newFakeNative()
	addr := types.NativeAddress{0x01}
	chain.addGasCoin(addr, 0x0c, 1_000_000_000)
	// no relayer key is needed when a usable coin exists
	gas := deposit.NewGasManager(newFakeEvm(), chain, nil, lock.NewLocalLocker(), testDepositConfig())

	coin, err := gas.EnsureNativeDepositHasGas(context.Background(), addr, 500_000_000)
	require.NoError(t, err)
	assert.Equal(t, types.NativeAddress{0x0c}, coin.CoinObjectID)
	assert.Empty(t, chain.transfers)

	_, err = gas.EnsureNativeDepositHasGas(context.Background(), types.NativeAddress{0x02}, 500_000_000)
	require.ErrorIs(t, err, deposit.ErrNoNativeRelayer)
}

func TestNativeFundingCoversBudget(t *testing.T) {
	ctx := context.Background()
	chain := newFakeNative()
	gas := deposit.NewGasManager(newFakeEvm(), chain, nativeRelayer(t), lock.NewLocalLocker(), testDepositConfig())

	// dust left by earlier top-ups does not count
	dusty := types.NativeAddress{0x01}
	chain.addGasCoin(dusty, 0x0c, 20_000_000)
	coin, err := gas.EnsureNativeDepositHasGas(ctx, dusty, 500_000_000)
	require.NoError(t, err)
	assert.Equal(t, uint64(1_000_000_000), uint64(coin.Balance))
	assert.Equal(t, []uint64{1_000_000_000}, chain.transfers)

	again, err := gas.EnsureNativeDepositHasGas(ctx, dusty, 500_000_000)
	require.NoError(t, err)
	assert.Equal(t, coin.CoinObjectID, again.CoinObjectID)
	assert.Len(t, chain.transfers, 1)

	// a budget above the coin minimum is funded in full
	coin, err = gas.EnsureNativeDepositHasGas(ctx, types.NativeAddress{0x02}, 3_000_000_000)
	require.NoError(t, err)
	assert.Equal(t, uint64(3_000_000_000), uint64(coin.Balance))
}

func TestNativeFundingSkipsExcludedCoin(t *testing.T) {
	chain := newFakeNative()
	addr := types.NativeAddress{0x01}
	chain.addGasCoin(addr, 0x0c, 2_000_000_000)
	gas := deposit.NewGasManager(newFakeEvm(), chain, nativeRelayer(t), lock.NewLocalLocker(), testDepositConfig())

	coin, err := gas.EnsureNativeDepositHasGas(context.Background(), addr, 500_000_000, types.NativeAddress{0x0c})
	require.NoError(t, err)
	assert.NotEqual(t, types.NativeAddress{0x0c}, coin.CoinObjectID)
	assert.Len(t, chain.transfers, 1)
}

func TestNativeFundingDisabled(t *testing.T) {
	cfg := testDepositConfig()
	cfg.AutoFundGas = false
	chain := newFakeNative()
	gas := deposit.NewGasManager(newFakeEvm(), chain, nativeRelayer(t), lock.NewLocalLocker(), cfg)

	_, err := gas.EnsureNativeDepositHasGas(context.Background(), types.NativeAddress{0x01}, 500_000_000)
	require.ErrorIs(t, err, native.ErrNoCoin)
	assert.Empty(t, chain.transfers)
}

func TestCheckRelayerEvmBalance(t *testing.T) {
	chain := newFakeEvm()
	gas := deposit.NewGasManager(chain, newFakeNative(), nil, lock.NewLocalLocker(), testDepositConfig())

	balance, err := gas.CheckRelayerEvmBalance(context.Background())
	require.NoError(t, err)
	assert.Equal(t, chain.balance(relayerAddress), balance)
}
