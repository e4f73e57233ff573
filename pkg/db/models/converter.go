package models

import (
	"encoding/hex"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/mysocial/bridge-relayers/pkg/types"
)

func RegistrationFromDomain(reg *types.DepositRegistration) DepositRegistration {
	return DepositRegistration{
		SourceAddress:      EncodeAddress(reg.SourceAddress),
		DepositChain:       uint8(reg.DepositChain),
		DepositAddress:     EncodeAddress(reg.DepositAddress),
		DestinationChain:   uint8(reg.DestinationChain),
		DestinationAddress: EncodeAddress(reg.DestinationAddress),
		HDIndex:            reg.HDIndex,
		RegistrationType:   string(reg.RegistrationType),
		CreatedAt:          reg.CreatedAt,
		LastUsed:           reg.LastUsed,
	}
}

func (m *DepositRegistration) ToDomain() (*types.DepositRegistration, error) {
	source, err := hexutil.Decode(m.SourceAddress)
	if err != nil {
		return nil, fmt.Errorf("source address %q: %w", m.SourceAddress, err)
	}
	deposit, err := hexutil.Decode(m.DepositAddress)
	if err != nil {
		return nil, fmt.Errorf("deposit address %q: %w", m.DepositAddress, err)
	}
	destination, err := hexutil.Decode(m.DestinationAddress)
	if err != nil {
		return nil, fmt.Errorf("destination address %q: %w", m.DestinationAddress, err)
	}
	return &types.DepositRegistration{
		SourceAddress:      source,
		DepositChain:       types.BridgeChainId(m.DepositChain),
		DepositAddress:     deposit,
		DestinationChain:   types.BridgeChainId(m.DestinationChain),
		DestinationAddress: destination,
		HDIndex:            m.HDIndex,
		RegistrationType:   types.RegistrationType(m.RegistrationType),
		CreatedAt:          m.CreatedAt,
		LastUsed:           m.LastUsed,
	}, nil
}

func ProcessedDepositFromDomain(record *types.DepositRecord) ProcessedDeposit {
	amount := "0"
	if record.Amount != nil {
		amount = record.Amount.String()
	}
	return ProcessedDeposit{
		ID:          record.Key.String(),
		SourceChain: uint8(record.Key.SourceChain),
		TxID:        EncodeAddress(record.Key.TxID[:]),
		EventIndex:  record.Key.Index,
		BridgeTxID:  record.BridgeTxID,
		Amount:      amount,
		ProcessedAt: record.ProcessedAt,
	}
}

func (m *ProcessedDeposit) ToDomain() (*types.DepositRecord, error) {
	raw, err := hexutil.Decode(m.TxID)
	if err != nil || len(raw) != 32 {
		return nil, fmt.Errorf("processed deposit %s: invalid tx id %q", m.ID, m.TxID)
	}
	amount, ok := new(big.Int).SetString(m.Amount, 10)
	if !ok {
		return nil, fmt.Errorf("processed deposit %s: invalid amount %q", m.ID, m.Amount)
	}
	record := &types.DepositRecord{
		Key:         types.DepositTxKey{SourceChain: types.BridgeChainId(m.SourceChain), Index: m.EventIndex},
		BridgeTxID:  m.BridgeTxID,
		Amount:      amount,
		ProcessedAt: m.ProcessedAt,
	}
	copy(record.Key.TxID[:], raw)
	return record, nil
}

func EncodeAddress(b []byte) string {
	return "0x" + hex.EncodeToString(b)
}
