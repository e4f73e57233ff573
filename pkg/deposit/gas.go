package deposit

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/mysocial/bridge-relayers/config"
	"github.com/mysocial/bridge-relayers/pkg/clients/native"
	"github.com/mysocial/bridge-relayers/pkg/lock"
	"github.com/mysocial/bridge-relayers/pkg/types"
	"github.com/mysocial/bridge-relayers/pkg/utils"
	"github.com/rs/zerolog/log"
)

const (
	fundingBufferPercent = 120
	gasLockTTL           = 5 * time.Minute
)

var (
	ErrRelayerUnderfunded = errors.New("relayer has insufficient balance")
	ErrNoNativeRelayer    = errors.New("native relayer key is not configured")

	relayerEvmWarnBalance  = big.NewInt(1_000_000_000_000_000_000)
	relayerEvmErrorBalance = big.NewInt(100_000_000_000_000_000)
)

// GasManager tops up deposit addresses from the relayer wallets so they can
// pay for their own bridge transactions.
type GasManager struct {
	evm           EvmChain
	native        NativeChain
	nativeRelayer *native.Signer
	locker        lock.Locker
	cfg           config.DepositConfig
}

func NewGasManager(evmChain EvmChain, nativeChain NativeChain, nativeRelayer *native.Signer, locker lock.Locker, cfg config.DepositConfig) *GasManager {
	return &GasManager{
		evm:           evmChain,
		native:        nativeChain,
		nativeRelayer: nativeRelayer,
		locker:        locker,
		cfg:           cfg,
	}
}

// EnsureEvmDepositHasGas funds addr when its balance is below
// (approvalGas + bridgeGas) * gasPrice. The top-up is the shortfall plus 20%.
func (g *GasManager) EnsureEvmDepositHasGas(ctx context.Context, addr common.Address, approvalGas, bridgeGas uint64, gasPrice *big.Int) error {
	release, err := g.locker.Acquire(ctx, "gas:evm:"+addr.Hex(), gasLockTTL)
	if err != nil {
		return fmt.Errorf("failed to lock %s for gas funding: %w", addr.Hex(), err)
	}
	defer release()

	balance, err := g.evm.BalanceAt(ctx, addr)
	if err != nil {
		return fmt.Errorf("failed to check balance for %s: %w", addr.Hex(), err)
	}
	totalGas := approvalGas + bridgeGas
	required := new(big.Int).Mul(gasPrice, new(big.Int).SetUint64(totalGas))
	log.Info().
		Str("depositAddress", addr.Hex()).
		Str("balanceEth", utils.FormatEther(balance)).
		Uint64("approvalGas", approvalGas).
		Uint64("bridgeGas", bridgeGas).
		Str("gasPriceGwei", utils.FormatUnits(gasPrice, 9)).
		Str("requiredEth", utils.FormatEther(required)).
		Msg("[GasManager] [EnsureEvmDepositHasGas] checking deposit address balance")
	if balance.Cmp(required) >= 0 {
		return nil
	}

	shortfall := new(big.Int).Sub(required, balance)
	amount := new(big.Int).Div(new(big.Int).Mul(shortfall, big.NewInt(fundingBufferPercent)), big.NewInt(100))
	if err := g.fundEvm(ctx, addr, amount); err != nil {
		return err
	}
	log.Info().Str("depositAddress", addr.Hex()).Str("fundedEth", utils.FormatEther(amount)).
		Msg("[GasManager] [EnsureEvmDepositHasGas] funded deposit address")
	return nil
}

func (g *GasManager) fundEvm(ctx context.Context, to common.Address, amount *big.Int) error {
	relayer, err := g.evm.RelayerAddress()
	if err != nil {
		return err
	}
	relayerBalance, err := g.evm.BalanceAt(ctx, relayer)
	if err != nil {
		return fmt.Errorf("failed to check relayer balance: %w", err)
	}
	if relayerBalance.Cmp(amount) < 0 {
		return fmt.Errorf("%w: has %s ETH, needs %s ETH", ErrRelayerUnderfunded,
			utils.FormatEther(relayerBalance), utils.FormatEther(amount))
	}
	receipt, err := g.evm.SendValue(ctx, to, amount)
	if err != nil {
		return fmt.Errorf("funding transaction to %s failed: %w", to.Hex(), err)
	}
	log.Info().Str("txHash", receipt.TxHash.Hex()).Str("to", to.Hex()).
		Msg("[GasManager] [fundEvm] funding transaction confirmed")
	return nil
}

// EnsureNativeDepositHasGas returns a gas coin of addr that can pay budget.
// When there is none, the relayer sends max(budget, native_gas_coin_min,
// native_gas_funding) as a single new coin. Coins in exclude are never picked.
func (g *GasManager) EnsureNativeDepositHasGas(ctx context.Context, addr types.NativeAddress, budget uint64, exclude ...types.NativeAddress) (*native.Coin, error) {
	release, err := g.locker.Acquire(ctx, "gas:myso:"+addr.Hex(), gasLockTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to lock %s for gas funding: %w", addr, err)
	}
	defer release()

	required := max(budget, g.cfg.NativeGasCoinMin)
	coin, err := g.native.SelectCoin(ctx, addr, "", required, gasCoinScanLimit, exclude...)
	if err == nil {
		log.Debug().Str("depositAddress", addr.Hex()).Str("gasCoin", coin.CoinObjectID.Hex()).
			Msg("[GasManager] [EnsureNativeDepositHasGas] deposit address has a usable gas coin")
		return coin, nil
	}
	if !errors.Is(err, native.ErrNoCoin) {
		return nil, err
	}
	if !g.cfg.AutoFundGas {
		return nil, fmt.Errorf("no gas coin of %d at %s: %w", required, addr, err)
	}
	if g.nativeRelayer == nil {
		return nil, ErrNoNativeRelayer
	}

	balance, err := g.native.Balance(ctx, addr, "")
	if err != nil {
		return nil, err
	}
	amount := max(required, g.cfg.NativeGasFunding)
	resp, err := g.native.TransferGas(ctx, g.nativeRelayer, addr, amount)
	if err != nil {
		return nil, fmt.Errorf("failed to fund %s: %w", addr, err)
	}
	log.Info().Str("depositAddress", addr.Hex()).Str("digest", resp.Digest.String()).
		Str("balance", utils.FormatNative(balance)).Str("funded", utils.FormatNative(amount)).
		Msg("[GasManager] [EnsureNativeDepositHasGas] funded deposit address")

	coin, err = g.native.SelectCoin(ctx, addr, "", required, gasCoinScanLimit, exclude...)
	if err != nil {
		return nil, fmt.Errorf("funded %s but found no gas coin: %w", addr, err)
	}
	return coin, nil
}

// CheckRelayerEvmBalance logs a warning under 1 ETH and an error under 0.1 ETH.
func (g *GasManager) CheckRelayerEvmBalance(ctx context.Context) (*big.Int, error) {
	relayer, err := g.evm.RelayerAddress()
	if err != nil {
		return nil, err
	}
	balance, err := g.evm.BalanceAt(ctx, relayer)
	if err != nil {
		return nil, fmt.Errorf("failed to check relayer balance: %w", err)
	}
	switch {
	case balance.Cmp(relayerEvmErrorBalance) < 0:
		log.Error().Str("relayer", relayer.Hex()).Str("balanceEth", utils.FormatEther(balance)).
			Msg("[GasManager] [CheckRelayerEvmBalance] relayer balance critically low")
	case balance.Cmp(relayerEvmWarnBalance) < 0:
		log.Warn().Str("relayer", relayer.Hex()).Str("balanceEth", utils.FormatEther(balance)).
			Msg("[GasManager] [CheckRelayerEvmBalance] relayer balance low")
	}
	return balance, nil
}
