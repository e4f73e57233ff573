package types

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

type RegistrationType string

const (
	RegistrationApiMySoSig RegistrationType = "api_myso_sig"
	RegistrationApiEthSig  RegistrationType = "api_eth_sig"
	RegistrationLinked     RegistrationType = "linked"
)

// DepositRegistration binds an issued custodial address to the account that
// receives whatever is deposited into it.
type DepositRegistration struct {
	SourceAddress      []byte
	DepositChain       BridgeChainId
	DepositAddress     []byte
	DestinationChain   BridgeChainId
	DestinationAddress []byte
	HDIndex            uint64
	RegistrationType   RegistrationType
	CreatedAt          time.Time
	LastUsed           *time.Time
}

func NewDepositRegistration(source []byte, depositChain BridgeChainId, depositAddress []byte,
	destinationChain BridgeChainId, destinationAddress []byte, hdIndex uint64, regType RegistrationType) (*DepositRegistration, error) {
	reg := &DepositRegistration{
		SourceAddress:      source,
		DepositChain:       depositChain,
		DepositAddress:     depositAddress,
		DestinationChain:   destinationChain,
		DestinationAddress: destinationAddress,
		HDIndex:            hdIndex,
		RegistrationType:   regType,
		CreatedAt:          time.Now().UTC(),
	}
	if err := reg.Validate(); err != nil {
		return nil, err
	}
	return reg, nil
}

func (r *DepositRegistration) Validate() error {
	if !IsValidRoute(r.DepositChain, r.DestinationChain) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidRoute, r.DepositChain, r.DestinationChain)
	}
	if err := CheckAddressLength(r.DepositChain, r.DepositAddress); err != nil {
		return fmt.Errorf("deposit address: %w", err)
	}
	if err := CheckAddressLength(r.DestinationChain, r.DestinationAddress); err != nil {
		return fmt.Errorf("destination address: %w", err)
	}
	if len(r.SourceAddress) != NativeAddressLength && len(r.SourceAddress) != EvmAddressLength {
		return fmt.Errorf("%w: source address has %d bytes", ErrInvalidAddressLength, len(r.SourceAddress))
	}
	switch r.RegistrationType {
	case RegistrationApiMySoSig, RegistrationApiEthSig, RegistrationLinked:
	default:
		return fmt.Errorf("unknown registration type %q", r.RegistrationType)
	}
	return nil
}

// DepositTxKey identifies one deposit within a source chain transaction:
// (tx hash, log index) on EVM, (digest, balance change index) on the native chain.
type DepositTxKey struct {
	SourceChain BridgeChainId
	TxID        [32]byte
	Index       uint64
}

func EvmDepositTxKey(chain BridgeChainId, txHash common.Hash, logIndex uint64) DepositTxKey {
	return DepositTxKey{SourceChain: chain, TxID: txHash, Index: logIndex}
}

func NativeDepositTxKey(chain BridgeChainId, digest TxDigest, balanceChangeIndex uint16) DepositTxKey {
	return DepositTxKey{SourceChain: chain, TxID: digest, Index: uint64(balanceChangeIndex)}
}

func (k DepositTxKey) String() string {
	return fmt.Sprintf("%d:%s:%d", uint8(k.SourceChain), hex.EncodeToString(k.TxID[:]), k.Index)
}

// DepositRecord is stored once a release transaction has succeeded.
type DepositRecord struct {
	Key         DepositTxKey
	BridgeTxID  string
	Amount      *big.Int
	ProcessedAt time.Time
}

type RelayStatus string

const (
	RelayStatusRelayed  RelayStatus = "relayed"
	RelayStatusRejected RelayStatus = "rejected"
	RelayStatusFailed   RelayStatus = "failed"
)

// RelayOutcome is one terminal attempt at relaying a deposit, kept for audit.
type RelayOutcome struct {
	Key              DepositTxKey
	DepositAddress   []byte
	DestinationChain BridgeChainId
	Token            string
	Amount           string
	Status           RelayStatus
	BridgeTxID       string
	Reason           string
	At               time.Time
}
