package bridge

import (
	"fmt"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/mysocial/bridge-relayers/pkg/types"
)

// TokensDeposited(uint8 indexed sourceChainID, uint64 indexed nonce,
// uint8 indexed destinationChainID, uint8 tokenID, uint64 mysoAdjustedAmount,
// address senderAddress, bytes recipientAddress)
var tokensDepositedEvent = abi.NewEvent("TokensDeposited", "TokensDeposited", false, abi.Arguments{
	{Name: "sourceChainID", Type: mustType("uint8"), Indexed: true},
	{Name: "nonce", Type: mustType("uint64"), Indexed: true},
	{Name: "destinationChainID", Type: mustType("uint8"), Indexed: true},
	{Name: "tokenID", Type: mustType("uint8")},
	{Name: "mysoAdjustedAmount", Type: mustType("uint64")},
	{Name: "senderAddress", Type: mustType("address")},
	{Name: "recipientAddress", Type: mustType("bytes")},
})

var TokensDepositedTopic = tokensDepositedEvent.ID

// TokenTransferFromDepositLog turns a TokensDeposited log of the EVM bridge
// into the transfer action the committee signs. A zero amount means the
// contract and this parser disagree on the schema and is rejected.
func TokenTransferFromDepositLog(log *ethtypes.Log) (*TokenTransferAction, error) {
	if len(log.Topics) != 4 || log.Topics[0] != TokensDepositedTopic {
		return nil, fmt.Errorf("%w: not a TokensDeposited log", ErrInvalidAction)
	}
	values, err := tokensDepositedEvent.Inputs.NonIndexed().Unpack(log.Data)
	if err != nil {
		return nil, fmt.Errorf("%w: unpack TokensDeposited: %v", ErrInvalidAction, err)
	}
	source, err := types.ParseChainId(topicUint8(log.Topics[1]))
	if err != nil {
		return nil, err
	}
	destination, err := types.ParseChainId(topicUint8(log.Topics[3]))
	if err != nil {
		return nil, err
	}
	sender := values[2].(common.Address)
	action := &TokenTransferAction{
		ActionHeader:  ActionHeader{Nonce: log.Topics[2].Big().Uint64(), ChainID: source},
		SenderAddress: sender.Bytes(),
		TargetChain:   destination,
		TargetAddress: values[3].([]byte),
		TokenID:       values[0].(uint8),
		Amount:        values[1].(uint64),
	}
	if action.Amount == 0 {
		return nil, fmt.Errorf("%w: tx %s log %d", ErrZeroValueTransfer, log.TxHash.Hex(), log.Index)
	}
	if err := action.Validate(); err != nil {
		return nil, err
	}
	return action, nil
}

func topicUint8(h common.Hash) uint8 {
	return h[common.HashLength-1]
}

func mustType(name string) abi.Type {
	t, err := abi.NewType(name, "", nil)
	if err != nil {
		panic(err)
	}
	return t
}
