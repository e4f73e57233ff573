package evm

import (
	"math/big"

	contracts "github.com/mysocial/bridge-relayers/pkg/clients/evm/abi"
	"github.com/mysocial/bridge-relayers/pkg/types"
)

type GasParams struct {
	GasLimit uint64
	GasPrice *big.Int
}

// BridgeERC20Request locks tokens in the bridge for a native recipient.
type BridgeERC20Request struct {
	TokenID          uint8
	Amount           *big.Int
	Recipient        []byte
	DestinationChain types.BridgeChainId
}

func (r BridgeERC20Request) pack() ([]byte, error) {
	return contracts.BridgeABI.Pack("bridgeERC20", r.TokenID, r.Amount, r.Recipient, uint8(r.DestinationChain))
}
