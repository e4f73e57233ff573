package native

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/rpc"
	"github.com/mysocial/bridge-relayers/config"
	"github.com/mysocial/bridge-relayers/pkg/types"
	"github.com/mysocial/bridge-relayers/pkg/utils"
	"github.com/rs/zerolog/log"
)

const (
	BridgeModule   = "bridge"
	SendTokenFunc  = "send_token"
	multiGetLimit  = 50
	coinsPageLimit = 50
)

var (
	ErrNoCoin          = errors.New("no coin with enough balance")
	ErrExecutionFailed = errors.New("transaction execution failed")
)

// NativeClient talks JSON-RPC to a MySo full node and builds bridge
// transactions locally.
type NativeClient struct {
	NativeConfig  *config.NativeConfig
	RelayConfig   config.RelayConfig
	rpc           *rpc.Client
	chainID       types.BridgeChainId
	bridgePackage types.NativeAddress
	bridgeObject  types.NativeAddress

	mu            sync.Mutex
	bridgeVersion uint64
}

func NewNativeClient(ctx context.Context, nativeConfig *config.NativeConfig, relayConfig config.RelayConfig) (*NativeClient, error) {
	log.Info().Uint8("chainId", nativeConfig.ChainID).Str("rpcUrl", nativeConfig.RPCUrl).
		Msg("[NativeClient] [NewNativeClient] connecting to native network")
	client, err := rpc.DialContext(ctx, nativeConfig.RPCUrl)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to native network: %w", err)
	}
	return NewNativeClientWithRPC(client, nativeConfig, relayConfig)
}

func NewNativeClientWithRPC(client *rpc.Client, nativeConfig *config.NativeConfig, relayConfig config.RelayConfig) (*NativeClient, error) {
	chainID, err := types.ParseChainId(nativeConfig.ChainID)
	if err != nil || !chainID.IsNative() {
		return nil, fmt.Errorf("chain id %d is not a native chain", nativeConfig.ChainID)
	}
	pkg, err := types.ParseShortNativeAddress(nativeConfig.BridgePackageID)
	if err != nil {
		return nil, fmt.Errorf("invalid bridge package id: %w", err)
	}
	obj, err := types.ParseShortNativeAddress(nativeConfig.BridgeObjectID)
	if err != nil {
		return nil, fmt.Errorf("invalid bridge object id: %w", err)
	}
	return &NativeClient{
		NativeConfig:  nativeConfig,
		RelayConfig:   relayConfig,
		rpc:           client,
		chainID:       chainID,
		bridgePackage: pkg,
		bridgeObject:  obj,
	}, nil
}

func (c *NativeClient) Close() {
	c.rpc.Close()
}

func (c *NativeClient) ChainID() types.BridgeChainId {
	return c.chainID
}

func (c *NativeClient) LatestCheckpoint(ctx context.Context) (uint64, error) {
	var seq Uint64String
	if err := c.rpc.CallContext(ctx, &seq, "myso_getLatestCheckpointSequenceNumber"); err != nil {
		return 0, fmt.Errorf("failed to get latest checkpoint: %w", err)
	}
	return uint64(seq), nil
}

func (c *NativeClient) GetCheckpoint(ctx context.Context, seq uint64) (*Checkpoint, error) {
	var checkpoint Checkpoint
	if err := c.rpc.CallContext(ctx, &checkpoint, "myso_getCheckpoint", Uint64String(seq)); err != nil {
		return nil, fmt.Errorf("failed to get checkpoint %d: %w", seq, err)
	}
	return &checkpoint, nil
}

// GetTransactions fetches transactions with their input, effects and balance
// changes, in batches the node accepts.
func (c *NativeClient) GetTransactions(ctx context.Context, digests []types.TxDigest) ([]TransactionBlockResponse, error) {
	options := TransactionBlockResponseOptions{ShowInput: true, ShowEffects: true, ShowBalanceChanges: true}
	out := make([]TransactionBlockResponse, 0, len(digests))
	for start := 0; start < len(digests); start += multiGetLimit {
		end := min(start+multiGetLimit, len(digests))
		var batch []TransactionBlockResponse
		if err := c.rpc.CallContext(ctx, &batch, "myso_multiGetTransactionBlocks", digests[start:end], options); err != nil {
			return nil, fmt.Errorf("failed to get transactions: %w", err)
		}
		out = append(out, batch...)
	}
	return out, nil
}

// Balance returns the total balance of coinType, or of the gas coin when coinType is empty.
func (c *NativeClient) Balance(ctx context.Context, owner types.NativeAddress, coinType string) (uint64, error) {
	var balance Balance
	if err := c.rpc.CallContext(ctx, &balance, "mysox_getBalance", owner, optional(coinType)); err != nil {
		return 0, fmt.Errorf("failed to get balance of %s: %w", owner, err)
	}
	return uint64(balance.TotalBalance), nil
}

func (c *NativeClient) GetCoins(ctx context.Context, owner types.NativeAddress, coinType string, cursor *string) (*CoinPage, error) {
	var page CoinPage
	if err := c.rpc.CallContext(ctx, &page, "mysox_getCoins", owner, optional(coinType), cursor, coinsPageLimit); err != nil {
		return nil, fmt.Errorf("failed to get coins of %s: %w", owner, err)
	}
	return &page, nil
}

// SelectCoin scans at most maxScan coins of owner and returns the first with
// at least minBalance that is not excluded.
func (c *NativeClient) SelectCoin(ctx context.Context, owner types.NativeAddress, coinType string, minBalance uint64, maxScan int, exclude ...types.NativeAddress) (*Coin, error) {
	skip := make(map[types.NativeAddress]bool, len(exclude))
	for _, id := range exclude {
		skip[id] = true
	}
	var cursor *string
	scanned := 0
	for scanned < maxScan {
		page, err := c.GetCoins(ctx, owner, coinType, cursor)
		if err != nil {
			return nil, err
		}
		for i := range page.Data {
			if scanned >= maxScan {
				break
			}
			scanned++
			coin := page.Data[i]
			if !skip[coin.CoinObjectID] && uint64(coin.Balance) >= minBalance {
				return &coin, nil
			}
		}
		if !page.HasNextPage || page.NextCursor == nil {
			break
		}
		cursor = page.NextCursor
	}
	return nil, fmt.Errorf("%w: need %d on %s (checked %d coins)", ErrNoCoin, minBalance, owner, scanned)
}

func (c *NativeClient) ReferenceGasPrice(ctx context.Context) (uint64, error) {
	var price Uint64String
	if err := c.rpc.CallContext(ctx, &price, "mysox_getReferenceGasPrice"); err != nil {
		return 0, fmt.Errorf("failed to get reference gas price: %w", err)
	}
	return uint64(price), nil
}

// BridgeInitialSharedVersion is read once; the shared bridge object never moves.
func (c *NativeClient) BridgeInitialSharedVersion(ctx context.Context) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.bridgeVersion != 0 {
		return c.bridgeVersion, nil
	}
	var version Uint64String
	if err := c.rpc.CallContext(ctx, &version, "mysox_getBridgeObjectInitialSharedVersion"); err != nil {
		return 0, fmt.Errorf("failed to get bridge object version: %w", err)
	}
	c.bridgeVersion = uint64(version)
	return c.bridgeVersion, nil
}

// Execute signs and submits tx and waits for local execution. A transaction
// that executed but failed returns its response with ErrExecutionFailed.
func (c *NativeClient) Execute(ctx context.Context, signer *Signer, tx *TransactionData) (*TransactionBlockResponse, error) {
	txBytes, err := tx.Bytes()
	if err != nil {
		return nil, fmt.Errorf("failed to encode transaction: %w", err)
	}
	digest := TransactionDigest(txBytes)
	signature := signer.SignTransaction(txBytes)
	options := TransactionBlockResponseOptions{ShowEffects: true, ShowBalanceChanges: true}
	var resp TransactionBlockResponse
	err = utils.Retry(ctx, c.RelayConfig.MaxRetries, c.RelayConfig.RetryDelay, func(ctx context.Context) error {
		return c.rpc.CallContext(ctx, &resp, "myso_executeTransactionBlock",
			base64.StdEncoding.EncodeToString(txBytes), []string{signature}, options, "WaitForLocalExecution")
	})
	if err != nil {
		return nil, fmt.Errorf("failed to execute transaction %s: %w", digest, err)
	}
	if resp.Digest != digest {
		log.Warn().Str("expected", digest.String()).Str("got", resp.Digest.String()).
			Msg("[NativeClient] [Execute] node returned a different digest")
	}
	if !resp.Succeeded() {
		reason := "no effects"
		if resp.Effects != nil {
			reason = resp.Effects.Status.Error
		}
		return &resp, fmt.Errorf("%w: %s: %s", ErrExecutionFailed, resp.Digest, reason)
	}
	return &resp, nil
}

type SendTokenRequest struct {
	TokenType     types.TypeTag
	TargetChain   types.BridgeChainId
	TargetAddress []byte
	Coin          ObjectRef
	Gas           ObjectRef
	GasBudget     uint64
	GasPrice      uint64
}

// BuildSendToken builds bridge::send_token<T>(bridge, target_chain, target_address, coin).
func (c *NativeClient) BuildSendToken(ctx context.Context, sender types.NativeAddress, req SendTokenRequest) (*TransactionData, error) {
	version, err := c.BridgeInitialSharedVersion(ctx)
	if err != nil {
		return nil, err
	}
	b := NewTransactionBuilder()
	bridgeArg := b.SharedObject(c.bridgeObject, version, true)
	targetChain := b.PureU8(uint8(req.TargetChain))
	targetAddress := b.PureBytes(req.TargetAddress)
	coin := b.Object(req.Coin)
	b.MoveCall(c.bridgePackage, BridgeModule, SendTokenFunc, []types.TypeTag{req.TokenType},
		bridgeArg, targetChain, targetAddress, coin)
	return b.Finish(sender, []ObjectRef{req.Gas}, req.GasBudget, req.GasPrice), nil
}

func (c *NativeClient) SendToken(ctx context.Context, signer *Signer, req SendTokenRequest) (*TransactionBlockResponse, error) {
	tx, err := c.BuildSendToken(ctx, signer.Address(), req)
	if err != nil {
		return nil, err
	}
	return c.Execute(ctx, signer, tx)
}

// TransferGas splits amount off the signer's gas coin and sends it to recipient.
func (c *NativeClient) TransferGas(ctx context.Context, signer *Signer, recipient types.NativeAddress, amount uint64) (*TransactionBlockResponse, error) {
	budget := c.RelayConfig.NativeGasBudget
	gas, err := c.SelectCoin(ctx, signer.Address(), "", amount+budget, 100)
	if err != nil {
		return nil, err
	}
	price, err := c.ReferenceGasPrice(ctx)
	if err != nil {
		return nil, err
	}
	b := NewTransactionBuilder()
	split := b.SplitCoins(GasCoin, b.PureU64(amount))
	b.TransferObjects([]Argument{split.Nested(0)}, b.PureAddress(recipient))
	tx := b.Finish(signer.Address(), []ObjectRef{gas.Ref()}, budget, price)
	return c.Execute(ctx, signer, tx)
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
