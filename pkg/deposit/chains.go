package deposit

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/mysocial/bridge-relayers/pkg/clients/evm"
	"github.com/mysocial/bridge-relayers/pkg/clients/native"
	"github.com/mysocial/bridge-relayers/pkg/types"
)

// EvmChain is what the relay needs from the EVM client.
type EvmChain interface {
	BlockNumber(ctx context.Context) (uint64, error)
	BalanceAt(ctx context.Context, addr common.Address) (*big.Int, error)
	RelayerAddress() (common.Address, error)
	SendValue(ctx context.Context, to common.Address, amount *big.Int) (*ethtypes.Receipt, error)
	GasPrice(ctx context.Context) (*big.Int, error)
	FilterTransferLogs(ctx context.Context, tokens []common.Address, from, to uint64) ([]ethtypes.Log, error)
	TokenAddressOf(ctx context.Context, tokenID uint8) (common.Address, error)
	TokenBalanceAt(ctx context.Context, token, owner common.Address, blockNumber uint64) (*big.Int, error)
	EstimateApprove(ctx context.Context, owner, token common.Address, amount *big.Int) (uint64, error)
	EstimateBridgeERC20(ctx context.Context, owner common.Address, req evm.BridgeERC20Request) (uint64, error)
	Approve(ctx context.Context, key *ecdsa.PrivateKey, token common.Address, amount *big.Int, gas evm.GasParams) (*ethtypes.Receipt, error)
	BridgeERC20(ctx context.Context, key *ecdsa.PrivateKey, req evm.BridgeERC20Request, gas evm.GasParams) (*ethtypes.Receipt, error)
}

// NativeChain is what the relay needs from the native client.
type NativeChain interface {
	ChainID() types.BridgeChainId
	LatestCheckpoint(ctx context.Context) (uint64, error)
	GetCheckpoint(ctx context.Context, seq uint64) (*native.Checkpoint, error)
	GetTransactions(ctx context.Context, digests []types.TxDigest) ([]native.TransactionBlockResponse, error)
	Balance(ctx context.Context, owner types.NativeAddress, coinType string) (uint64, error)
	SelectCoin(ctx context.Context, owner types.NativeAddress, coinType string, minBalance uint64, maxScan int, exclude ...types.NativeAddress) (*native.Coin, error)
	ReferenceGasPrice(ctx context.Context) (uint64, error)
	SendToken(ctx context.Context, signer *native.Signer, req native.SendTokenRequest) (*native.TransactionBlockResponse, error)
	TransferGas(ctx context.Context, signer *native.Signer, recipient types.NativeAddress, amount uint64) (*native.TransactionBlockResponse, error)
}

var (
	_ EvmChain    = (*evm.EvmClient)(nil)
	_ NativeChain = (*native.NativeClient)(nil)
)

var (
	ErrInFlight     = errors.New("deposit is already being relayed")
	ErrUnknownToken = errors.New("token is not registered on the bridge")
)

// RejectedError is a terminal outcome for one deposit. Retrying it will not help.
type RejectedError struct {
	Key    types.DepositTxKey
	Reason string
	Err    error
}

func (e *RejectedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("deposit %s rejected: %s: %v", e.Key, e.Reason, e.Err)
	}
	return fmt.Sprintf("deposit %s rejected: %s", e.Key, e.Reason)
}

func (e *RejectedError) Unwrap() error {
	return e.Err
}

func reject(key types.DepositTxKey, reason string, err error) error {
	return &RejectedError{Key: key, Reason: reason, Err: err}
}

func IsRejected(err error) bool {
	var rejected *RejectedError
	return errors.As(err, &rejected)
}
