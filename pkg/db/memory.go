package db

import (
	"bytes"
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/mysocial/bridge-relayers/pkg/db/models"
	"github.com/mysocial/bridge-relayers/pkg/types"
)

var _ Store = (*MemoryStore)(nil)

// MemoryStore keeps everything in process. It backs tests and single
// instance dry runs.
type MemoryStore struct {
	mu            sync.Mutex
	registrations []*types.DepositRegistration
	byDeposit     map[string]*types.DepositRegistration
	processed     map[types.DepositTxKey]*types.DepositRecord
	counters      map[string]uint64
	checkpoints   map[string]uint64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byDeposit:   make(map[string]*types.DepositRegistration),
		processed:   make(map[types.DepositTxKey]*types.DepositRecord),
		counters:    make(map[string]uint64),
		checkpoints: make(map[string]uint64),
	}
}

func (s *MemoryStore) InsertRegistrations(_ context.Context, regs ...*types.DepositRegistration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := make(map[string]bool, len(regs))
	for _, reg := range regs {
		if err := reg.Validate(); err != nil {
			return err
		}
		key := models.EncodeAddress(reg.DepositAddress)
		if _, ok := s.byDeposit[key]; ok || seen[key] {
			return fmt.Errorf("%w: %s", ErrRegistrationExists, key)
		}
		seen[key] = true
	}
	for _, reg := range regs {
		stored := copyRegistration(reg)
		s.registrations = append(s.registrations, stored)
		s.byDeposit[models.EncodeAddress(reg.DepositAddress)] = stored
	}
	return nil
}

func (s *MemoryStore) FindRegistrationsBySource(_ context.Context, source []byte) ([]*types.DepositRegistration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*types.DepositRegistration
	for _, reg := range s.registrations {
		if bytes.Equal(reg.SourceAddress, source) {
			out = append(out, copyRegistration(reg))
		}
	}
	return out, nil
}

func (s *MemoryStore) FindRegistrationByDepositAddress(_ context.Context, depositAddress []byte) (*types.DepositRegistration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := models.EncodeAddress(depositAddress)
	reg, ok := s.byDeposit[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRegistrationNotFound, key)
	}
	return copyRegistration(reg), nil
}

func (s *MemoryStore) ListDepositAddresses(_ context.Context, chain types.BridgeChainId) ([][]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out [][]byte
	for _, reg := range s.registrations {
		if reg.DepositChain == chain {
			out = append(out, append([]byte(nil), reg.DepositAddress...))
		}
	}
	return out, nil
}

func (s *MemoryStore) IsDepositProcessed(_ context.Context, key types.DepositTxKey) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.processed[key]
	return ok, nil
}

func (s *MemoryStore) MarkDepositProcessed(_ context.Context, record *types.DepositRecord) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.processed[record.Key]; ok {
		return false, nil
	}
	stored := *record
	if stored.ProcessedAt.IsZero() {
		stored.ProcessedAt = time.Now().UTC()
	}
	if stored.Amount != nil {
		stored.Amount = new(big.Int).Set(stored.Amount)
	}
	s.processed[record.Key] = &stored
	return true, nil
}

func (s *MemoryStore) GetDepositRecord(_ context.Context, key types.DepositTxKey) (*types.DepositRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.processed[key]
	if !ok {
		return nil, fmt.Errorf("deposit %s not processed", key)
	}
	out := *record
	return &out, nil
}

func (s *MemoryStore) IncrementCounter(_ context.Context, namespace string) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	previous := s.counters[namespace]
	s.counters[namespace] = previous + 1
	return previous, nil
}

func (s *MemoryStore) GetLastEventCheckPoint(_ context.Context, chainName, eventName string) (uint64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	block, ok := s.checkpoints[chainName+"/"+eventName]
	return block, ok, nil
}

func (s *MemoryStore) UpdateLastEventCheckPoint(_ context.Context, chainName, eventName string, blockNumber uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkpoints[chainName+"/"+eventName] = blockNumber
	return nil
}

func copyRegistration(reg *types.DepositRegistration) *types.DepositRegistration {
	out := *reg
	out.SourceAddress = append([]byte(nil), reg.SourceAddress...)
	out.DepositAddress = append([]byte(nil), reg.DepositAddress...)
	out.DestinationAddress = append([]byte(nil), reg.DestinationAddress...)
	return &out
}
