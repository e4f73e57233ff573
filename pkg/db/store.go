package db

import (
	"context"
	"errors"

	"github.com/mysocial/bridge-relayers/pkg/types"
)

const (
	EvmHDCounter    = "evm"
	NativeHDCounter = "myso"
)

var (
	ErrRegistrationNotFound = errors.New("deposit registration not found")
	ErrRegistrationExists   = errors.New("deposit address already registered")
)

// Store is the relay's durable state. Registrations and processed deposits
// are only ever inserted; the HD counters only ever move forward.
type Store interface {
	// InsertRegistrations stores all registrations or none of them.
	InsertRegistrations(ctx context.Context, regs ...*types.DepositRegistration) error
	FindRegistrationsBySource(ctx context.Context, source []byte) ([]*types.DepositRegistration, error)
	FindRegistrationByDepositAddress(ctx context.Context, depositAddress []byte) (*types.DepositRegistration, error)
	ListDepositAddresses(ctx context.Context, chain types.BridgeChainId) ([][]byte, error)

	IsDepositProcessed(ctx context.Context, key types.DepositTxKey) (bool, error)
	// MarkDepositProcessed reports false when the key was already marked.
	MarkDepositProcessed(ctx context.Context, record *types.DepositRecord) (bool, error)
	GetDepositRecord(ctx context.Context, key types.DepositTxKey) (*types.DepositRecord, error)

	// IncrementCounter returns the counter value before the increment.
	IncrementCounter(ctx context.Context, namespace string) (uint64, error)

	GetLastEventCheckPoint(ctx context.Context, chainName, eventName string) (uint64, bool, error)
	UpdateLastEventCheckPoint(ctx context.Context, chainName, eventName string, blockNumber uint64) error
}
