package deposit

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/mysocial/bridge-relayers/config"
	"github.com/mysocial/bridge-relayers/pkg/clients/evm"
	"github.com/mysocial/bridge-relayers/pkg/clients/native"
	"github.com/mysocial/bridge-relayers/pkg/db"
	"github.com/mysocial/bridge-relayers/pkg/lock"
	"github.com/mysocial/bridge-relayers/pkg/types"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	MaxTokenIDLookup = 100

	coinScanLimit    = 1000
	gasCoinScanLimit = 100
)

// Recorder keeps the audit trail of relay outcomes.
type Recorder interface {
	Record(ctx context.Context, outcome *types.RelayOutcome) error
}

// Engine moves funds that arrived at custodial deposit addresses across the
// bridge, signing with the per-address HD keys.
type Engine struct {
	cfg       config.DepositConfig
	evm       EvmChain
	native    NativeChain
	addresses *AddressManager
	gas       *GasManager
	store     db.Store
	locker    lock.Locker
	recorder  Recorder

	tokenMu  sync.RWMutex
	tokenIDs map[common.Address]uint8
}

func NewEngine(cfg config.DepositConfig, evmChain EvmChain, nativeChain NativeChain, addresses *AddressManager,
	gas *GasManager, store db.Store, locker lock.Locker) *Engine {
	return &Engine{
		cfg:       cfg,
		evm:       evmChain,
		native:    nativeChain,
		addresses: addresses,
		gas:       gas,
		store:     store,
		locker:    locker,
		tokenIDs:  make(map[common.Address]uint8),
	}
}

// WithRecorder enables the audit trail.
func (e *Engine) WithRecorder(recorder Recorder) *Engine {
	e.recorder = recorder
	return e
}

// BridgeEvmDeposit relays an ERC-20 deposit to the native chain. It returns
// the bridgeERC20 transaction hash, or the zero hash when the deposit was
// already relayed.
func (e *Engine) BridgeEvmDeposit(ctx context.Context, event *types.EvmDepositEvent) (common.Hash, error) {
	key := event.Key()
	ctx, span := otel.Tracer("deposit").Start(ctx, "BridgeEvmDeposit")
	defer span.End()
	span.SetAttributes(attribute.String("deposit.key", key.String()))

	logger := log.With().Str("key", key.String()).Str("depositAddress", event.To.Hex()).Logger()

	processed, err := e.store.IsDepositProcessed(ctx, key)
	if err != nil {
		return common.Hash{}, err
	}
	if processed {
		logger.Info().Msg("[DepositHandler] [BridgeEvmDeposit] deposit already processed, skipping")
		return common.Hash{}, nil
	}
	release, err := e.acquire(ctx, key)
	if err != nil {
		return common.Hash{}, err
	}
	defer release()
	// a relay holding the marker may have finished in between
	if processed, err := e.store.IsDepositProcessed(ctx, key); err != nil || processed {
		return common.Hash{}, err
	}

	txHash, amount, reg, err := e.relayEvm(ctx, key, event)
	outcome := &types.RelayOutcome{
		Key:            key,
		DepositAddress: event.To.Bytes(),
		Token:          event.Token.Hex(),
	}
	if txHash != (common.Hash{}) {
		outcome.BridgeTxID = txHash.Hex()
	}
	if amount != nil {
		outcome.Amount = amount.String()
	}
	if reg != nil {
		outcome.DestinationChain = reg.DestinationChain
	}
	e.finish(ctx, outcome, err)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		logger.Error().Err(err).Msg("[DepositHandler] [BridgeEvmDeposit] relay failed")
		return common.Hash{}, err
	}
	logger.Info().Str("txHash", txHash.Hex()).Msg("[DepositHandler] [BridgeEvmDeposit] EVM deposit bridged")
	return txHash, nil
}

func (e *Engine) relayEvm(ctx context.Context, key types.DepositTxKey, event *types.EvmDepositEvent) (common.Hash, *big.Int, *types.DepositRegistration, error) {
	reg, err := e.addresses.Resolve(ctx, event.To.Bytes())
	if err != nil {
		if errors.Is(err, db.ErrRegistrationNotFound) {
			return common.Hash{}, nil, nil, reject(key, "no registration for deposit address", err)
		}
		return common.Hash{}, nil, nil, err
	}
	if err := types.CheckAddressLength(reg.DestinationChain, reg.DestinationAddress); err != nil || !reg.DestinationChain.IsNative() {
		return common.Hash{}, nil, reg, reject(key, "destination must be a 32 byte native address", err)
	}
	depositKey, err := e.addresses.DeriveEvmKey(reg.HDIndex)
	if err != nil {
		return common.Hash{}, nil, reg, err
	}
	owner := crypto.PubkeyToAddress(depositKey.PublicKey)
	if owner != event.To {
		return common.Hash{}, nil, reg, reject(key, fmt.Sprintf("hd index %d derives %s", reg.HDIndex, owner.Hex()), nil)
	}

	tokenID, err := e.TokenID(ctx, event.Token)
	if err != nil {
		if errors.Is(err, ErrUnknownToken) {
			return common.Hash{}, nil, reg, reject(key, "token not supported", err)
		}
		return common.Hash{}, nil, reg, err
	}

	// fee-on-transfer tokens credit less than the event says
	balance, err := e.evm.TokenBalanceAt(ctx, event.Token, owner, event.BlockNumber)
	if err != nil {
		return common.Hash{}, nil, reg, err
	}
	amount := new(big.Int).Set(event.Amount)
	if balance.Cmp(amount) < 0 {
		log.Warn().Str("key", key.String()).Str("eventAmount", event.Amount.String()).Str("balance", balance.String()).
			Msg("[DepositHandler] [BridgeEvmDeposit] balance is below event amount, bridging balance")
		amount.Set(balance)
	}
	if amount.Sign() == 0 {
		return common.Hash{}, amount, reg, reject(key, "nothing to bridge", nil)
	}

	// deposits to one address share its gas balance and nonce
	unlock, err := e.lockSender(ctx, "evm:"+owner.Hex())
	if err != nil {
		return common.Hash{}, amount, reg, err
	}
	defer unlock()

	gasPrice, err := e.evm.GasPrice(ctx)
	if err != nil {
		return common.Hash{}, amount, reg, err
	}
	approvalGas, err := e.evm.EstimateApprove(ctx, owner, event.Token, amount)
	if err != nil {
		return common.Hash{}, amount, reg, err
	}
	if e.cfg.AutoFundGas {
		if err := e.gas.EnsureEvmDepositHasGas(ctx, owner, approvalGas, e.cfg.BridgeGasLimit, gasPrice); err != nil {
			return common.Hash{}, amount, reg, err
		}
	}
	if _, err := e.evm.Approve(ctx, depositKey, event.Token, amount, evm.GasParams{GasLimit: approvalGas, GasPrice: gasPrice}); err != nil {
		return common.Hash{}, amount, reg, fmt.Errorf("approve failed: %w", err)
	}

	req := evm.BridgeERC20Request{
		TokenID:          tokenID,
		Amount:           amount,
		Recipient:        reg.DestinationAddress,
		DestinationChain: reg.DestinationChain,
	}
	bridgeGas, err := e.evm.EstimateBridgeERC20(ctx, owner, req)
	if err != nil {
		return common.Hash{}, amount, reg, err
	}
	if e.cfg.AutoFundGas {
		if err := e.gas.EnsureEvmDepositHasGas(ctx, owner, 0, bridgeGas, gasPrice); err != nil {
			return common.Hash{}, amount, reg, err
		}
	}
	receipt, err := e.evm.BridgeERC20(ctx, depositKey, req, evm.GasParams{GasLimit: bridgeGas, GasPrice: gasPrice})
	if err != nil {
		return common.Hash{}, amount, reg, fmt.Errorf("bridgeERC20 failed: %w", err)
	}
	e.markProcessed(ctx, key, receipt.TxHash.Hex(), amount)
	return receipt.TxHash, amount, reg, nil
}

// BridgeNativeDeposit relays a native coin deposit to the EVM chain. It
// returns the send_token transaction digest, or the zero digest when the
// deposit was already relayed.
func (e *Engine) BridgeNativeDeposit(ctx context.Context, event *types.NativeDepositEvent) (types.TxDigest, error) {
	key := event.Key()
	ctx, span := otel.Tracer("deposit").Start(ctx, "BridgeNativeDeposit")
	defer span.End()
	span.SetAttributes(attribute.String("deposit.key", key.String()))

	logger := log.With().Str("key", key.String()).Str("depositAddress", event.Recipient.Hex()).Logger()

	processed, err := e.store.IsDepositProcessed(ctx, key)
	if err != nil {
		return types.TxDigest{}, err
	}
	if processed {
		logger.Info().Msg("[DepositHandler] [BridgeNativeDeposit] deposit already processed, skipping")
		return types.TxDigest{}, nil
	}
	release, err := e.acquire(ctx, key)
	if err != nil {
		return types.TxDigest{}, err
	}
	defer release()
	if processed, err := e.store.IsDepositProcessed(ctx, key); err != nil || processed {
		return types.TxDigest{}, err
	}

	digest, reg, err := e.relayNative(ctx, key, event)
	outcome := &types.RelayOutcome{
		Key:            key,
		DepositAddress: event.Recipient.Bytes(),
		Token:          event.CoinType,
		Amount:         fmt.Sprint(event.Amount),
	}
	if !digest.IsZero() {
		outcome.BridgeTxID = digest.String()
	}
	if reg != nil {
		outcome.DestinationChain = reg.DestinationChain
	}
	e.finish(ctx, outcome, err)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		logger.Error().Err(err).Msg("[DepositHandler] [BridgeNativeDeposit] relay failed")
		return types.TxDigest{}, err
	}
	logger.Info().Str("digest", digest.String()).Msg("[DepositHandler] [BridgeNativeDeposit] native deposit bridged")
	return digest, nil
}

func (e *Engine) relayNative(ctx context.Context, key types.DepositTxKey, event *types.NativeDepositEvent) (types.TxDigest, *types.DepositRegistration, error) {
	reg, err := e.addresses.Resolve(ctx, event.Recipient.Bytes())
	if err != nil {
		if errors.Is(err, db.ErrRegistrationNotFound) {
			return types.TxDigest{}, nil, reject(key, "no registration for deposit address", err)
		}
		return types.TxDigest{}, nil, err
	}
	if err := types.CheckAddressLength(reg.DestinationChain, reg.DestinationAddress); err != nil || !reg.DestinationChain.IsEvm() {
		return types.TxDigest{}, reg, reject(key, "destination must be a 20 byte EVM address", err)
	}
	signer, err := e.addresses.DeriveNativeSigner(reg.HDIndex)
	if err != nil {
		return types.TxDigest{}, reg, err
	}
	owner := signer.Address()
	if owner != event.Recipient {
		return types.TxDigest{}, reg, reject(key, fmt.Sprintf("hd index %d derives %s", reg.HDIndex, owner), nil)
	}
	if event.Amount == 0 {
		return types.TxDigest{}, reg, reject(key, "nothing to bridge", nil)
	}
	tokenType, _, err := native.SplitCoinType(event.CoinType)
	if err != nil {
		return types.TxDigest{}, reg, reject(key, "invalid coin type", err)
	}

	// deposits to one address share its coins
	unlock, err := e.lockSender(ctx, "myso:"+owner.Hex())
	if err != nil {
		return types.TxDigest{}, reg, err
	}
	defer unlock()

	coin, err := e.native.SelectCoin(ctx, owner, tokenType.String(), event.Amount, coinScanLimit)
	if err != nil {
		return types.TxDigest{}, reg, err
	}
	gasCoin, err := e.gas.EnsureNativeDepositHasGas(ctx, owner, e.cfg.NativeGasBudget, coin.CoinObjectID)
	if err != nil {
		return types.TxDigest{}, reg, err
	}
	price, err := e.native.ReferenceGasPrice(ctx)
	if err != nil {
		return types.TxDigest{}, reg, err
	}
	resp, err := e.native.SendToken(ctx, signer, native.SendTokenRequest{
		TokenType:     tokenType,
		TargetChain:   reg.DestinationChain,
		TargetAddress: reg.DestinationAddress,
		Coin:          coin.Ref(),
		Gas:           gasCoin.Ref(),
		GasBudget:     e.cfg.NativeGasBudget,
		GasPrice:      price,
	})
	if err != nil {
		return types.TxDigest{}, reg, fmt.Errorf("send_token failed: %w", err)
	}
	e.markProcessed(ctx, key, resp.Digest.String(), new(big.Int).SetUint64(event.Amount))
	return resp.Digest, reg, nil
}

// TokenID finds the bridge token id of an ERC-20 by probing tokenAddressOf.
// Hits are cached for the life of the engine.
func (e *Engine) TokenID(ctx context.Context, token common.Address) (uint8, error) {
	e.tokenMu.RLock()
	id, ok := e.tokenIDs[token]
	e.tokenMu.RUnlock()
	if ok {
		return id, nil
	}
	for candidate := 0; candidate <= MaxTokenIDLookup; candidate++ {
		addr, err := e.evm.TokenAddressOf(ctx, uint8(candidate))
		if err != nil {
			if ctx.Err() != nil {
				return 0, ctx.Err()
			}
			log.Warn().Err(err).Int("tokenId", candidate).Msg("[DepositHandler] [TokenID] error querying token address")
			continue
		}
		if addr == token {
			e.tokenMu.Lock()
			e.tokenIDs[token] = uint8(candidate)
			e.tokenMu.Unlock()
			return uint8(candidate), nil
		}
	}
	return 0, fmt.Errorf("%w: %s", ErrUnknownToken, token.Hex())
}

func (e *Engine) acquire(ctx context.Context, key types.DepositTxKey) (lock.Release, error) {
	release, err := e.locker.TryAcquire(ctx, "deposit:"+key.String(), e.cfg.InFlightTTL)
	if errors.Is(err, lock.ErrHeld) {
		return nil, fmt.Errorf("%w: %s", ErrInFlight, key)
	}
	return release, err
}

// lockSender serialises the transactions sent from one deposit address.
func (e *Engine) lockSender(ctx context.Context, sender string) (lock.Release, error) {
	release, err := e.locker.Acquire(ctx, "sender:"+sender, e.cfg.InFlightTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to lock sender %s: %w", sender, err)
	}
	return release, nil
}

func (e *Engine) markProcessed(ctx context.Context, key types.DepositTxKey, txID string, amount *big.Int) {
	inserted, err := e.store.MarkDepositProcessed(ctx, &types.DepositRecord{
		Key:         key,
		BridgeTxID:  txID,
		Amount:      amount,
		ProcessedAt: time.Now().UTC(),
	})
	if err != nil {
		log.Error().Err(err).Str("key", key.String()).Str("bridgeTx", txID).
			Msg("[DepositHandler] failed to mark deposit processed")
		return
	}
	if !inserted {
		log.Warn().Str("key", key.String()).Msg("[DepositHandler] deposit was already marked processed")
	}
}

func (e *Engine) finish(ctx context.Context, outcome *types.RelayOutcome, err error) {
	if e.recorder == nil {
		return
	}
	outcome.At = time.Now().UTC()
	var rejected *RejectedError
	switch {
	case err == nil:
		outcome.Status = types.RelayStatusRelayed
	case errors.As(err, &rejected):
		outcome.Status = types.RelayStatusRejected
		outcome.Reason = rejected.Reason
	default:
		outcome.Status = types.RelayStatusFailed
		outcome.Reason = err.Error()
	}
	if err := e.recorder.Record(ctx, outcome); err != nil {
		log.Warn().Err(err).Str("key", outcome.Key.String()).Msg("[DepositHandler] failed to record relay outcome")
	}
}
