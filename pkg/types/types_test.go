package types_test

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/mysocial/bridge-relayers/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsValidRoute(t *testing.T) {
	tests := []struct {
		a, b  types.BridgeChainId
		valid bool
	}{
		{types.MySoMainnet, types.EthMainnet, true},
		{types.EthMainnet, types.MySoMainnet, true},
		{types.MySoMainnet, types.EthSepolia, false},
		{types.MySoTestnet, types.EthMainnet, false},
		{types.MySoTestnet, types.EthSepolia, true},
		{types.MySoTestnet, types.EthCustom, true},
		{types.MySoCustom, types.EthSepolia, true},
		{types.EthCustom, types.MySoCustom, true},
		{types.MySoTestnet, types.MySoCustom, false},
		{types.EthSepolia, types.EthCustom, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.valid, types.IsValidRoute(tt.a, tt.b), "%s -> %s", tt.a, tt.b)
	}
}

func TestParseChainId(t *testing.T) {
	chain, err := types.ParseChainId(11)
	require.NoError(t, err)
	require.Equal(t, types.EthSepolia, chain)
	require.True(t, chain.IsEvm())

	_, err = types.ParseChainId(3)
	require.ErrorIs(t, err, types.ErrUnknownChain)

	chain, err = types.ParseChainName("mysotestnet")
	require.NoError(t, err)
	require.Equal(t, types.MySoTestnet, chain)
}

func TestRegistrationRejectsWrongAddressLength(t *testing.T) {
	source := bytes.Repeat([]byte{1}, 32)
	evm := bytes.Repeat([]byte{2}, 20)
	native := bytes.Repeat([]byte{3}, 32)

	reg, err := types.NewDepositRegistration(source, types.MySoTestnet, native, types.EthSepolia, evm, 4, types.RegistrationApiMySoSig)
	require.NoError(t, err)
	require.Equal(t, uint64(4), reg.HDIndex)

	_, err = types.NewDepositRegistration(source, types.MySoTestnet, evm, types.EthSepolia, evm, 4, types.RegistrationApiMySoSig)
	require.ErrorIs(t, err, types.ErrInvalidAddressLength)

	_, err = types.NewDepositRegistration(source, types.EthSepolia, native, types.MySoTestnet, native, 4, types.RegistrationApiEthSig)
	require.ErrorIs(t, err, types.ErrInvalidAddressLength)

	_, err = types.NewDepositRegistration(source, types.MySoMainnet, native, types.EthSepolia, evm, 4, types.RegistrationLinked)
	require.ErrorIs(t, err, types.ErrInvalidRoute)
}

func TestNativeDepositEventJSON(t *testing.T) {
	addr, err := types.ParseNativeAddress("0x" + common.Bytes2Hex(bytes.Repeat([]byte{0xab}, 32)))
	require.NoError(t, err)
	digest := types.TxDigest{1, 2, 3}
	event := types.NativeDepositEvent{
		SourceChain:        types.MySoTestnet,
		TxDigest:           digest,
		Recipient:          addr,
		CoinType:           "0x2::myso::MYSO",
		Amount:             42,
		BalanceChangeIndex: 3,
	}
	raw, err := json.Marshal(event)
	require.NoError(t, err)
	require.Contains(t, string(raw), digest.String())

	var decoded types.NativeDepositEvent
	require.NoError(t, json.Unmarshal(raw, &decoded))
	require.Equal(t, event, decoded)
	require.Equal(t, event.Key(), decoded.Key())
}

func TestDepositTxKeyString(t *testing.T) {
	key := types.EvmDepositTxKey(types.EthSepolia, common.HexToHash("0x01"), 7)
	require.Equal(t, "11:0000000000000000000000000000000000000000000000000000000000000001:7", key.String())
}

func TestParseTypeTag(t *testing.T) {
	tag, err := types.ParseTypeTag("0x2::coin::Coin<0x2::myso::MYSO, vector<u8>>")
	require.NoError(t, err)
	require.True(t, tag.IsStruct())
	require.Equal(t, "coin", tag.Module)
	require.Len(t, tag.TypeParams, 2)
	require.Equal(t, "vector", tag.TypeParams[1].Primitive)

	two := strings.Repeat("0", 63) + "2"
	require.Equal(t, two+"::coin::Coin<"+two+"::myso::MYSO, vector<u8>>", tag.Canonical(false))
	require.Equal(t, "0x"+two+"::myso::MYSO", tag.TypeParams[0].String())

	for _, bad := range []string{"", "0x2::coin", "0x2::coin::Coin<", "0xzz::a::B", "u8 u8"} {
		_, err := types.ParseTypeTag(bad)
		require.Error(t, err, bad)
	}
}
