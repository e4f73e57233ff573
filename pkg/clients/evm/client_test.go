package evm_test

import (
	"bytes"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/mysocial/bridge-relayers/pkg/bridge"
	"github.com/mysocial/bridge-relayers/pkg/clients/evm"
	contracts "github.com/mysocial/bridge-relayers/pkg/clients/evm/abi"
	"github.com/mysocial/bridge-relayers/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGovernanceMethodsAreDeclared(t *testing.T) {
	actions := []bridge.Action{
		&bridge.EmergencyAction{ActionHeader: bridge.ActionHeader{ChainID: types.EthSepolia}},
		&bridge.BlocklistCommitteeAction{ActionHeader: bridge.ActionHeader{ChainID: types.EthSepolia}},
		&bridge.LimitUpdateAction{ActionHeader: bridge.ActionHeader{ChainID: types.EthSepolia}, SendingChainID: types.MySoTestnet},
		&bridge.AssetPriceUpdateAction{ActionHeader: bridge.ActionHeader{ChainID: types.EthSepolia}},
		&bridge.AddTokensOnEvmAction{ActionHeader: bridge.ActionHeader{ChainID: types.EthSepolia}},
		&bridge.EvmContractUpgradeAction{ActionHeader: bridge.ActionHeader{ChainID: types.EthSepolia}},
	}
	for _, action := range actions {
		method, err := bridge.EvmGovernanceMethod(action)
		require.NoError(t, err)
		_, ok := contracts.GovernanceABI(method)
		assert.True(t, ok, method)
	}
}

func TestPackWithSignatures(t *testing.T) {
	action := &bridge.EmergencyAction{
		ActionHeader: bridge.ActionHeader{Nonce: 4, ChainID: types.EthSepolia},
		ActionType:   bridge.EmergencyUnpause,
	}
	sigs := [][]byte{bytes.Repeat([]byte{1}, 65), bytes.Repeat([]byte{2}, 65)}

	data, err := evm.PackWithSignatures("executeEmergencyOpWithSignatures", action, sigs)
	require.NoError(t, err)

	method := contracts.BridgeABI.Methods["executeEmergencyOpWithSignatures"]
	assert.Equal(t, method.ID, data[:4])

	values, err := method.Inputs.Unpack(data[4:])
	require.NoError(t, err)
	require.Len(t, values, 2)
	assert.Equal(t, sigs, values[0].([][]byte))

	decoded := *abi.ConvertType(values[1], new(bridge.EvmMessage)).(*bridge.EvmMessage)
	assert.Equal(t, uint8(bridge.EmergencyButtonMessage), decoded.MessageType)
	assert.Equal(t, uint64(4), decoded.Nonce)
	assert.Equal(t, uint8(types.EthSepolia), decoded.ChainID)
	assert.Equal(t, []byte{byte(bridge.EmergencyUnpause)}, decoded.Payload)

	_, err = evm.PackWithSignatures("noSuchMethod", action, sigs)
	assert.Error(t, err)
}

func TestParseTransferLog(t *testing.T) {
	from := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	to := common.HexToAddress("0x00000000000000000000000000000000000000bb")
	token := common.HexToAddress("0x00000000000000000000000000000000000000cc")
	data, err := abi.Arguments{{Type: mustType(t, "uint256")}}.Pack(big.NewInt(1000))
	require.NoError(t, err)

	l := &ethtypes.Log{
		Address:     token,
		Topics:      []common.Hash{contracts.TransferEventID, common.BytesToHash(from.Bytes()), common.BytesToHash(to.Bytes())},
		Data:        data,
		BlockNumber: 77,
		TxHash:      common.HexToHash("0x01"),
		Index:       3,
	}
	event, err := evm.ParseTransferLog(types.EthSepolia, l)
	require.NoError(t, err)
	assert.Equal(t, from, event.From)
	assert.Equal(t, to, event.To)
	assert.Equal(t, token, event.Token)
	assert.Equal(t, uint64(3), event.LogIndex)
	assert.Equal(t, uint64(77), event.BlockNumber)
	assert.Zero(t, big.NewInt(1000).Cmp(event.Amount))
	assert.Equal(t, types.EvmDepositTxKey(types.EthSepolia, l.TxHash, 3), event.Key())

	l.Topics = l.Topics[:2]
	_, err = evm.ParseTransferLog(types.EthSepolia, l)
	assert.Error(t, err)
}

func TestWithGasBuffer(t *testing.T) {
	assert.Equal(t, uint64(120_000), evm.WithGasBuffer(100_000, 20))
	assert.Equal(t, uint64(100_000), evm.WithGasBuffer(100_000, 0))
}

func mustType(t *testing.T, name string) abi.Type {
	typ, err := abi.NewType(name, "", nil)
	require.NoError(t, err)
	return typ
}
