package bridge

import (
	"fmt"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/mysocial/bridge-relayers/pkg/types"
)

// EvmMessage mirrors the BridgeUtils.Message struct of the EVM contracts.
type EvmMessage struct {
	MessageType uint8
	Version     uint8
	Nonce       uint64
	ChainID     uint8
	Payload     []byte
}

var EvmMessageType = mustTupleType([]abi.ArgumentMarshaling{
	{Name: "messageType", Type: "uint8"},
	{Name: "version", Type: "uint8"},
	{Name: "nonce", Type: "uint64"},
	{Name: "chainID", Type: "uint8"},
	{Name: "payload", Type: "bytes"},
})

var evmMessageArgs = abi.Arguments{{Name: "message", Type: EvmMessageType}}

func (m *Message) ToEvm() EvmMessage {
	return EvmMessage{
		MessageType: uint8(m.Type),
		Version:     m.Version,
		Nonce:       m.Nonce,
		ChainID:     uint8(m.ChainID),
		Payload:     m.Payload,
	}
}

func FromEvm(em EvmMessage) (*Message, error) {
	chain, err := types.ParseChainId(em.ChainID)
	if err != nil {
		return nil, err
	}
	return &Message{
		Type:    MessageType(em.MessageType),
		Version: em.Version,
		Nonce:   em.Nonce,
		ChainID: chain,
		Payload: em.Payload,
	}, nil
}

// EncodeEvmMessage ABI-encodes the message as a single tuple argument.
func EncodeEvmMessage(m *Message) ([]byte, error) {
	return evmMessageArgs.Pack(m.ToEvm())
}

func DecodeEvmMessage(data []byte) (*Message, error) {
	values, err := evmMessageArgs.Unpack(data)
	if err != nil {
		return nil, fmt.Errorf("unpack evm message: %w", err)
	}
	em, ok := abi.ConvertType(values[0], new(EvmMessage)).(*EvmMessage)
	if !ok {
		return nil, fmt.Errorf("unexpected evm message value %T", values[0])
	}
	return FromEvm(*em)
}

// PackedEvmMessage is abi.encodePacked(messageType, version, nonce, chainID,
// payload), the preimage the EVM contracts hash and recover signers from.
func PackedEvmMessage(em EvmMessage) []byte {
	out := []byte{em.MessageType, em.Version}
	out = appendU64(out, em.Nonce)
	out = append(out, em.ChainID)
	return append(out, em.Payload...)
}

func mustTupleType(components []abi.ArgumentMarshaling) abi.Type {
	t, err := abi.NewType("tuple", "", components)
	if err != nil {
		panic(err)
	}
	return t
}
