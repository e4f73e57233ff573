package deposit_test

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"math/big"
	"slices"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/mysocial/bridge-relayers/pkg/clients/evm"
	"github.com/mysocial/bridge-relayers/pkg/clients/native"
	"github.com/mysocial/bridge-relayers/pkg/types"
)

// Hardhat's well known development mnemonic.
const testMnemonic = "test test test test test test test test test test test junk"

var (
	relayerAddress = common.HexToAddress("0x00000000000000000000000000000000000000e1")
	usdcToken      = common.HexToAddress("0x00000000000000000000000000000000000000c0")
	oneGwei        = big.NewInt(1_000_000_000)
)

type fakeEvm struct {
	mu            sync.Mutex
	balances      map[common.Address]*big.Int
	tokenBalances map[common.Address]*big.Int
	tokens        map[uint8]common.Address
	tokenLookups  int
	fundings      []*big.Int
	approvals     []*big.Int
	bridged       []evm.BridgeERC20Request
	bridgeErr     error
	fundDelay     time.Duration
}

func newFakeEvm() *fakeEvm {
	return &fakeEvm{
		balances:      map[common.Address]*big.Int{relayerAddress: new(big.Int).Mul(big.NewInt(5), big.NewInt(1e18))},
		tokenBalances: make(map[common.Address]*big.Int),
		tokens:        map[uint8]common.Address{1: common.HexToAddress("0xb1"), 3: usdcToken},
	}
}

func (f *fakeEvm) balance(addr common.Address) *big.Int {
	f.mu.Lock()
	defer f.mu.Unlock()
	if b, ok := f.balances[addr]; ok {
		return new(big.Int).Set(b)
	}
	return new(big.Int)
}

func (f *fakeEvm) BlockNumber(context.Context) (uint64, error) { return 100, nil }

func (f *fakeEvm) BalanceAt(_ context.Context, addr common.Address) (*big.Int, error) {
	return f.balance(addr), nil
}

func (f *fakeEvm) RelayerAddress() (common.Address, error) { return relayerAddress, nil }

func (f *fakeEvm) SendValue(_ context.Context, to common.Address, amount *big.Int) (*ethtypes.Receipt, error) {
	if f.fundDelay > 0 {
		time.Sleep(f.fundDelay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	current, ok := f.balances[to]
	if !ok {
		current = new(big.Int)
	}
	f.balances[to] = new(big.Int).Add(current, amount)
	f.balances[relayerAddress] = new(big.Int).Sub(f.balances[relayerAddress], amount)
	f.fundings = append(f.fundings, new(big.Int).Set(amount))
	return &ethtypes.Receipt{TxHash: common.HexToHash("0xf0"), Status: ethtypes.ReceiptStatusSuccessful}, nil
}

func (f *fakeEvm) GasPrice(context.Context) (*big.Int, error) { return new(big.Int).Set(oneGwei), nil }

func (f *fakeEvm) FilterTransferLogs(context.Context, []common.Address, uint64, uint64) ([]ethtypes.Log, error) {
	return nil, nil
}

func (f *fakeEvm) TokenAddressOf(_ context.Context, tokenID uint8) (common.Address, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tokenLookups++
	if tokenID == 2 {
		return common.Address{}, errors.New("execution reverted")
	}
	return f.tokens[tokenID], nil
}

func (f *fakeEvm) TokenBalanceAt(_ context.Context, _, owner common.Address, _ uint64) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if b, ok := f.tokenBalances[owner]; ok {
		return new(big.Int).Set(b), nil
	}
	return new(big.Int), nil
}

func (f *fakeEvm) EstimateApprove(context.Context, common.Address, common.Address, *big.Int) (uint64, error) {
	return 50_000, nil
}

func (f *fakeEvm) EstimateBridgeERC20(context.Context, common.Address, evm.BridgeERC20Request) (uint64, error) {
	return 200_000, nil
}

// spend charges the full gas limit to the sender, as a mined transaction
// that used all of it would.
func (f *fakeEvm) spend(key *ecdsa.PrivateKey, gas evm.GasParams) error {
	sender := crypto.PubkeyToAddress(key.PublicKey)
	fee := new(big.Int).Mul(new(big.Int).SetUint64(gas.GasLimit), gas.GasPrice)
	current, ok := f.balances[sender]
	if !ok || current.Cmp(fee) < 0 {
		return errors.New("insufficient funds for gas * price + value")
	}
	f.balances[sender] = new(big.Int).Sub(current, fee)
	return nil
}

func (f *fakeEvm) Approve(_ context.Context, key *ecdsa.PrivateKey, _ common.Address, amount *big.Int, gas evm.GasParams) (*ethtypes.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.spend(key, gas); err != nil {
		return nil, err
	}
	f.approvals = append(f.approvals, new(big.Int).Set(amount))
	return &ethtypes.Receipt{TxHash: common.HexToHash("0xa1"), Status: ethtypes.ReceiptStatusSuccessful}, nil
}

func (f *fakeEvm) BridgeERC20(_ context.Context, key *ecdsa.PrivateKey, req evm.BridgeERC20Request, gas evm.GasParams) (*ethtypes.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.bridgeErr != nil {
		return nil, f.bridgeErr
	}
	if err := f.spend(key, gas); err != nil {
		return nil, err
	}
	f.bridged = append(f.bridged, req)
	return &ethtypes.Receipt{TxHash: common.HexToHash("0xb2"), Status: ethtypes.ReceiptStatusSuccessful}, nil
}

type coinQuery struct {
	coinType   string
	minBalance uint64
	exclude    []types.NativeAddress
}

// fakeNative holds one token coin per owner-independent type. Gas coins only
// exist once TransferGas has created them.
type fakeNative struct {
	mu         sync.Mutex
	tokenCoins map[string]*native.Coin
	gasCoins   map[types.NativeAddress][]native.Coin
	queries    []coinQuery
	transfers  []uint64
	sent       []native.SendTokenRequest
	senders    []types.NativeAddress
}

func newFakeNative() *fakeNative {
	return &fakeNative{
		tokenCoins: map[string]*native.Coin{
			"usdc": {CoinObjectID: types.NativeAddress{0x0b}, Version: 4, Balance: 700},
		},
		gasCoins: make(map[types.NativeAddress][]native.Coin),
	}
}

// addGasCoin gives owner a gas coin without going through the relayer.
func (f *fakeNative) addGasCoin(owner types.NativeAddress, id byte, balance uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gasCoins[owner] = append(f.gasCoins[owner], native.Coin{
		CoinObjectID: types.NativeAddress{id},
		Version:      1,
		Balance:      native.Uint64String(balance),
	})
}

func (f *fakeNative) ChainID() types.BridgeChainId { return types.MySoTestnet }

func (f *fakeNative) LatestCheckpoint(context.Context) (uint64, error) { return 0, nil }

func (f *fakeNative) GetCheckpoint(context.Context, uint64) (*native.Checkpoint, error) {
	return &native.Checkpoint{}, nil
}

func (f *fakeNative) GetTransactions(context.Context, []types.TxDigest) ([]native.TransactionBlockResponse, error) {
	return nil, nil
}

func (f *fakeNative) Balance(_ context.Context, owner types.NativeAddress, _ string) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var total uint64
	for _, c := range f.gasCoins[owner] {
		total += uint64(c.Balance)
	}
	return total, nil
}

func (f *fakeNative) SelectCoin(_ context.Context, owner types.NativeAddress, coinType string, minBalance uint64, _ int, exclude ...types.NativeAddress) (*native.Coin, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, coinQuery{coinType: coinType, minBalance: minBalance, exclude: exclude})
	if coinType != "" {
		coin := f.tokenCoins["usdc"]
		if coin == nil || uint64(coin.Balance) < minBalance {
			return nil, native.ErrNoCoin
		}
		out := *coin
		return &out, nil
	}
	for _, c := range f.gasCoins[owner] {
		if uint64(c.Balance) < minBalance || slices.Contains(exclude, c.CoinObjectID) {
			continue
		}
		out := c
		return &out, nil
	}
	return nil, native.ErrNoCoin
}

func (f *fakeNative) ReferenceGasPrice(context.Context) (uint64, error) { return 1000, nil }

func (f *fakeNative) SendToken(_ context.Context, signer *native.Signer, req native.SendTokenRequest) (*native.TransactionBlockResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, req)
	f.senders = append(f.senders, signer.Address())
	return &native.TransactionBlockResponse{Digest: types.TxDigest{0xd1}}, nil
}

func (f *fakeNative) TransferGas(_ context.Context, _ *native.Signer, recipient types.NativeAddress, amount uint64) (*native.TransactionBlockResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transfers = append(f.transfers, amount)
	f.gasCoins[recipient] = append(f.gasCoins[recipient], native.Coin{
		CoinObjectID: types.NativeAddress{0x0a, byte(len(f.transfers))},
		Version:      1,
		Balance:      native.Uint64String(amount),
	})
	return &native.TransactionBlockResponse{Digest: types.TxDigest{0xd2}}, nil
}

type memoryRecorder struct {
	mu       sync.Mutex
	outcomes []types.RelayOutcome
}

func (r *memoryRecorder) Record(_ context.Context, outcome *types.RelayOutcome) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, *outcome)
	return nil
}
