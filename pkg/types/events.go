package types

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// EvmDepositEvent is an ERC-20 transfer into an issued EVM deposit address.
type EvmDepositEvent struct {
	SourceChain BridgeChainId  `json:"sourceChain"`
	TxHash      common.Hash    `json:"txHash"`
	LogIndex    uint64         `json:"logIndex"`
	BlockNumber uint64         `json:"blockNumber"`
	Token       common.Address `json:"token"`
	From        common.Address `json:"from"`
	To          common.Address `json:"to"`
	Amount      *big.Int       `json:"amount"`
}

func (e *EvmDepositEvent) Key() DepositTxKey {
	return EvmDepositTxKey(e.SourceChain, e.TxHash, e.LogIndex)
}

// NativeDepositEvent is a positive balance change on an issued native deposit address.
type NativeDepositEvent struct {
	SourceChain        BridgeChainId `json:"sourceChain"`
	TxDigest           TxDigest      `json:"txDigest"`
	Sender             NativeAddress `json:"sender"`
	Recipient          NativeAddress `json:"recipient"`
	CoinType           string        `json:"coinType"`
	Amount             uint64        `json:"amount"`
	TimestampMs        uint64        `json:"timestampMs"`
	BalanceChangeIndex uint16        `json:"balanceChangeIndex"`
}

func (e *NativeDepositEvent) Key() DepositTxKey {
	return NativeDepositTxKey(e.SourceChain, e.TxDigest, e.BalanceChangeIndex)
}
