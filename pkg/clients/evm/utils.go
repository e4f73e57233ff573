package evm

import (
	"fmt"
	"math/big"
	"strings"

	ethabi "github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	contracts "github.com/mysocial/bridge-relayers/pkg/clients/evm/abi"
	"github.com/mysocial/bridge-relayers/pkg/types"
)

// Pool errors travel over JSON-RPC as plain messages, and clients word them
// differently.
var (
	alreadyKnownMessages = []string{"already known", "known transaction", "already imported", "alreadyknown"}
	nonceTooLowMessages  = []string{"nonce too low", "nonce is too low"}
)

// IsAlreadyKnown reports whether a send error means the node already holds the
// transaction.
func IsAlreadyKnown(err error) bool {
	return errorMentions(err, alreadyKnownMessages)
}

func IsNonceTooLow(err error) bool {
	return errorMentions(err, nonceTooLowMessages)
}

func errorMentions(err error, messages []string) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, m := range messages {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}

func AbiUnpack(data []byte, typeNames ...string) ([]interface{}, error) {
	var arguments ethabi.Arguments
	for _, t := range typeNames {
		typ, err := ethabi.NewType(t, t, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create type: %w", err)
		}
		arguments = append(arguments, ethabi.Argument{Type: typ})
	}
	args, err := arguments.Unpack(data)
	if err != nil {
		return nil, fmt.Errorf("failed to get arguments: %w", err)
	}
	return args, nil
}

// ParseTransferLog turns an ERC-20 Transfer log into a deposit event.
func ParseTransferLog(chain types.BridgeChainId, l *ethtypes.Log) (*types.EvmDepositEvent, error) {
	if len(l.Topics) < 3 || l.Topics[0] != contracts.TransferEventID {
		return nil, fmt.Errorf("log %s:%d is not a Transfer event", l.TxHash.Hex(), l.Index)
	}
	values, err := AbiUnpack(l.Data, "uint256")
	if err != nil {
		return nil, err
	}
	return &types.EvmDepositEvent{
		SourceChain: chain,
		TxHash:      l.TxHash,
		LogIndex:    uint64(l.Index),
		BlockNumber: l.BlockNumber,
		Token:       l.Address,
		From:        common.BytesToAddress(l.Topics[1].Bytes()),
		To:          common.BytesToAddress(l.Topics[2].Bytes()),
		Amount:      values[0].(*big.Int),
	}, nil
}
