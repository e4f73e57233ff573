package evm

import (
	"context"
	"crypto/ecdsa"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/mysocial/bridge-relayers/config"
	"github.com/mysocial/bridge-relayers/pkg/bridge"
	contracts "github.com/mysocial/bridge-relayers/pkg/clients/evm/abi"
	"github.com/mysocial/bridge-relayers/pkg/utils"
	"github.com/rs/zerolog/log"
)

var (
	ErrTxReverted     = errors.New("transaction reverted")
	ErrNoRelayerKey   = errors.New("relayer evm key is not configured")
	ErrMaxRetryExceed = errors.New("max retry exceeded")
)

type EvmClient struct {
	EvmConfig     *config.EvmNetworkConfig
	RelayConfig   config.RelayConfig
	Client        *ethclient.Client
	Contracts     bridge.EvmContracts
	chainID       *big.Int
	relayer       *ecdsa.PrivateKey
	retryInterval time.Duration
}

// NewEvmClient dials the node. relayerKey may be nil for read-only use.
func NewEvmClient(ctx context.Context, evmConfig *config.EvmNetworkConfig, relayConfig config.RelayConfig, relayerKey *ecdsa.PrivateKey) (*EvmClient, error) {
	log.Info().Str("name", evmConfig.Name).Uint64("evmChainId", evmConfig.EvmChainID).
		Msg("[EvmClient] [NewEvmClient] connecting to EVM network")
	rpcClient, err := rpc.DialContext(ctx, evmConfig.RPCUrl)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to EVM network %s: %w", evmConfig.Name, err)
	}
	client := ethclient.NewClient(rpcClient)
	chainID, err := client.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read chain id of %s: %w", evmConfig.Name, err)
	}
	if chainID.Uint64() != evmConfig.EvmChainID {
		return nil, fmt.Errorf("network %s reports chain id %s, configured %d", evmConfig.Name, chainID, evmConfig.EvmChainID)
	}
	return NewEvmClientWithBackend(client, evmConfig, relayConfig, relayerKey), nil
}

func NewEvmClientWithBackend(client *ethclient.Client, evmConfig *config.EvmNetworkConfig, relayConfig config.RelayConfig, relayerKey *ecdsa.PrivateKey) *EvmClient {
	retryInterval := evmConfig.RetryDelay
	if retryInterval == 0 {
		retryInterval = 5 * time.Second
	}
	return &EvmClient{
		EvmConfig:     evmConfig,
		RelayConfig:   relayConfig,
		Client:        client,
		Contracts:     evmConfig.Contracts.BridgeContracts(),
		chainID:       new(big.Int).SetUint64(evmConfig.EvmChainID),
		relayer:       relayerKey,
		retryInterval: retryInterval,
	}
}

func (ec *EvmClient) Close() {
	ec.Client.Close()
}

func (ec *EvmClient) RelayerAddress() (common.Address, error) {
	if ec.relayer == nil {
		return common.Address{}, ErrNoRelayerKey
	}
	return crypto.PubkeyToAddress(ec.relayer.PublicKey), nil
}

func (ec *EvmClient) BlockNumber(ctx context.Context) (uint64, error) {
	return ec.Client.BlockNumber(ctx)
}

func (ec *EvmClient) BalanceAt(ctx context.Context, addr common.Address) (*big.Int, error) {
	return ec.Client.BalanceAt(ctx, addr, nil)
}

// GasPrice is the node's suggestion capped at relay.evm_max_gas_price_gwei.
func (ec *EvmClient) GasPrice(ctx context.Context) (*big.Int, error) {
	price, err := ec.Client.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get gas price: %w", err)
	}
	if ec.RelayConfig.EvmMaxGasPriceGwei > 0 {
		ceiling := new(big.Int).Mul(new(big.Int).SetUint64(ec.RelayConfig.EvmMaxGasPriceGwei), big.NewInt(1_000_000_000))
		if price.Cmp(ceiling) > 0 {
			log.Warn().Str("suggested", price.String()).Str("ceiling", ceiling.String()).
				Msg("[EvmClient] [GasPrice] suggested gas price above ceiling, capping")
			return ceiling, nil
		}
	}
	return price, nil
}

// FilterTransferLogs returns Transfer logs of the given tokens in [from, to].
func (ec *EvmClient) FilterTransferLogs(ctx context.Context, tokens []common.Address, from, to uint64) ([]ethtypes.Log, error) {
	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: tokens,
		Topics:    [][]common.Hash{{contracts.TransferEventID}},
	}
	logs, err := ec.Client.FilterLogs(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch logs: %w", err)
	}
	log.Debug().Int("logsCount", len(logs)).Uint64("from", from).Uint64("to", to).
		Msg("[EvmClient] [FilterTransferLogs] fetched logs")
	return logs, nil
}

func (ec *EvmClient) TokenAddressOf(ctx context.Context, tokenID uint8) (common.Address, error) {
	out, err := ec.call(ctx, contracts.ConfigABI, ec.Contracts.Config, nil, "tokenAddressOf", tokenID)
	if err != nil {
		return common.Address{}, err
	}
	return *abi.ConvertType(out[0], new(common.Address)).(*common.Address), nil
}

// TokenBalanceAt reads balanceOf at a historical block.
func (ec *EvmClient) TokenBalanceAt(ctx context.Context, token, owner common.Address, blockNumber uint64) (*big.Int, error) {
	out, err := ec.call(ctx, contracts.ERC20ABI, token, new(big.Int).SetUint64(blockNumber), "balanceOf", owner)
	if err != nil {
		return nil, err
	}
	return *abi.ConvertType(out[0], new(*big.Int)).(**big.Int), nil
}

func (ec *EvmClient) EstimateApprove(ctx context.Context, owner, token common.Address, amount *big.Int) (uint64, error) {
	data, err := contracts.ERC20ABI.Pack("approve", ec.Contracts.BridgeProxy, amount)
	if err != nil {
		return 0, err
	}
	return ec.estimate(ctx, owner, token, data)
}

func (ec *EvmClient) EstimateBridgeERC20(ctx context.Context, owner common.Address, req BridgeERC20Request) (uint64, error) {
	data, err := req.pack()
	if err != nil {
		return 0, err
	}
	return ec.estimate(ctx, owner, ec.Contracts.BridgeProxy, data)
}

// Approve lets the bridge proxy pull amount of token from the key's address.
func (ec *EvmClient) Approve(ctx context.Context, key *ecdsa.PrivateKey, token common.Address, amount *big.Int, gas GasParams) (*ethtypes.Receipt, error) {
	data, err := contracts.ERC20ABI.Pack("approve", ec.Contracts.BridgeProxy, amount)
	if err != nil {
		return nil, err
	}
	return ec.sendAndWait(ctx, key, token, nil, data, gas)
}

func (ec *EvmClient) BridgeERC20(ctx context.Context, key *ecdsa.PrivateKey, req BridgeERC20Request, gas GasParams) (*ethtypes.Receipt, error) {
	data, err := req.pack()
	if err != nil {
		return nil, err
	}
	return ec.sendAndWait(ctx, key, ec.Contracts.BridgeProxy, nil, data, gas)
}

// SendValue transfers native currency from the relayer wallet.
func (ec *EvmClient) SendValue(ctx context.Context, to common.Address, amount *big.Int) (*ethtypes.Receipt, error) {
	if ec.relayer == nil {
		return nil, ErrNoRelayerKey
	}
	price, err := ec.GasPrice(ctx)
	if err != nil {
		return nil, err
	}
	return ec.sendAndWait(ctx, ec.relayer, to, amount, nil, GasParams{GasLimit: 21_000, GasPrice: price})
}

// ExecuteGovernance submits a signed governance message to the contract it
// is routed to, from the relayer wallet.
func (ec *EvmClient) ExecuteGovernance(ctx context.Context, action bridge.Action, signatures [][]byte) (*ethtypes.Receipt, error) {
	if ec.relayer == nil {
		return nil, ErrNoRelayerKey
	}
	target, err := bridge.SelectTargetContract(action, ec.Contracts)
	if err != nil {
		return nil, err
	}
	method, err := bridge.EvmGovernanceMethod(action)
	if err != nil {
		return nil, err
	}
	data, err := PackWithSignatures(method, action, signatures)
	if err != nil {
		return nil, err
	}
	from := crypto.PubkeyToAddress(ec.relayer.PublicKey)
	gasLimit, err := ec.estimate(ctx, from, target, data)
	if err != nil {
		return nil, err
	}
	price, err := ec.GasPrice(ctx)
	if err != nil {
		return nil, err
	}
	log.Info().Str("method", method).Str("target", target.Hex()).Uint64("nonce", action.Header().Nonce).
		Msg("[EvmClient] [ExecuteGovernance] submitting governance action")
	return ec.sendAndWait(ctx, ec.relayer, target, nil, data, GasParams{GasLimit: gasLimit, GasPrice: price})
}

// PackWithSignatures encodes a call to one of the *WithSignatures methods.
func PackWithSignatures(method string, action bridge.Action, signatures [][]byte) ([]byte, error) {
	contractAbi, ok := contracts.GovernanceABI(method)
	if !ok {
		return nil, fmt.Errorf("unknown governance method %s", method)
	}
	msg, err := bridge.ToMessage(action)
	if err != nil {
		return nil, err
	}
	return contractAbi.Pack(method, signatures, msg.ToEvm())
}

func (ec *EvmClient) call(ctx context.Context, contractAbi abi.ABI, to common.Address, block *big.Int, method string, args ...interface{}) ([]interface{}, error) {
	data, err := contractAbi.Pack(method, args...)
	if err != nil {
		return nil, err
	}
	out, err := ec.Client.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, block)
	if err != nil {
		return nil, fmt.Errorf("call %s on %s: %w", method, to.Hex(), err)
	}
	values, err := contractAbi.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("%s returned no values", method)
	}
	return values, nil
}

// estimate returns the node estimate plus relay.evm_gas_buffer_percent.
func (ec *EvmClient) estimate(ctx context.Context, from, to common.Address, data []byte) (uint64, error) {
	gas, err := ec.Client.EstimateGas(ctx, ethereum.CallMsg{From: from, To: &to, Data: data})
	if err != nil {
		return 0, fmt.Errorf("failed to estimate gas: %w", err)
	}
	return WithGasBuffer(gas, ec.RelayConfig.EvmGasBufferPercent), nil
}

func WithGasBuffer(gas, percent uint64) uint64 {
	return gas * (100 + percent) / 100
}

func (ec *EvmClient) sendAndWait(ctx context.Context, key *ecdsa.PrivateKey, to common.Address, value *big.Int, data []byte, gas GasParams) (*ethtypes.Receipt, error) {
	from := crypto.PubkeyToAddress(key.PublicKey)
	nonce, err := ec.Client.PendingNonceAt(ctx, from)
	if err != nil {
		return nil, fmt.Errorf("failed to get nonce of %s: %w", from.Hex(), err)
	}
	if value == nil {
		value = new(big.Int)
	}
	tx := ethtypes.NewTx(&ethtypes.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Value:    value,
		Gas:      gas.GasLimit,
		GasPrice: gas.GasPrice,
		Data:     data,
	})
	signedTx, err := ethtypes.SignTx(tx, ethtypes.LatestSignerForChainID(ec.chainID), key)
	if err != nil {
		return nil, fmt.Errorf("failed to sign transaction: %w", err)
	}
	receipt, err := ec.SubmitTx(ctx, signedTx)
	if err != nil {
		return nil, err
	}
	if receipt.Status != ethtypes.ReceiptStatusSuccessful {
		return receipt, fmt.Errorf("%w: %s", ErrTxReverted, signedTx.Hash().Hex())
	}
	return receipt, nil
}

// SubmitTx sends the transaction, retrying send failures up to evm.max_retry
// times, and waits for its receipt plus relay.evm_confirmations blocks.
func (ec *EvmClient) SubmitTx(ctx context.Context, signedTx *ethtypes.Transaction) (*ethtypes.Receipt, error) {
	timeout := ec.EvmConfig.TxTimeout
	if timeout == 0 {
		timeout = 2 * time.Minute
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	log.Debug().Str("hash", signedTx.Hash().Hex()).Msg("[EvmClient] [SubmitTx] submitting transaction")

	err := utils.Retry(ctx, ec.EvmConfig.MaxRetry, ec.retryInterval, func(ctx context.Context) error {
		err := ec.Client.SendTransaction(ctx, signedTx)
		if err != nil && ec.alreadySent(ctx, signedTx, err) {
			log.Debug().Err(err).Str("hash", signedTx.Hash().Hex()).
				Msg("[EvmClient] [SubmitTx] transaction already sent, waiting for receipt")
			return nil
		}
		if err != nil {
			to := ""
			if signedTx.To() != nil {
				to = signedTx.To().Hex()
			}
			log.Error().Err(err).
				Str("rpcUrl", ec.EvmConfig.RPCUrl).
				Str("to", to).
				Str("data", hex.EncodeToString(signedTx.Data())).
				Msg("[EvmClient] [SubmitTx] failed to submit transaction")
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMaxRetryExceed, err)
	}

	receipt, err := bind.WaitMined(ctx, ec.Client, signedTx)
	if err != nil {
		return nil, fmt.Errorf("failed to wait for transaction receipt: %w", err)
	}
	if err := ec.waitConfirmations(ctx, receipt.BlockNumber.Uint64()); err != nil {
		return nil, err
	}
	log.Debug().Str("hash", receipt.TxHash.Hex()).Uint64("status", receipt.Status).
		Msg("[EvmClient] [SubmitTx] transaction receipt received")
	return receipt, nil
}

// alreadySent reports whether a send error means an earlier attempt of the
// same transaction reached the node: it is pending, or it was mined and its
// nonce is now used.
func (ec *EvmClient) alreadySent(ctx context.Context, signedTx *ethtypes.Transaction, err error) bool {
	if IsAlreadyKnown(err) {
		return true
	}
	if !IsNonceTooLow(err) {
		return false
	}
	_, receiptErr := ec.Client.TransactionReceipt(ctx, signedTx.Hash())
	return receiptErr == nil
}

func (ec *EvmClient) waitConfirmations(ctx context.Context, minedAt uint64) error {
	if ec.RelayConfig.EvmConfirmations == 0 {
		return nil
	}
	target := minedAt + ec.RelayConfig.EvmConfirmations
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for {
		head, err := ec.Client.BlockNumber(ctx)
		if err == nil && head >= target {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for %d confirmations: %w", ec.RelayConfig.EvmConfirmations, ctx.Err())
		case <-ticker.C:
		}
	}
}
