package bridge

import (
	"fmt"

	"github.com/mysocial/bridge-relayers/pkg/bcs"
	"github.com/mysocial/bridge-relayers/pkg/types"
)

// SerializeNativeMessage follows the Move bridge's message serialization:
// each header field is BCS encoded, the nonce is converted to big-endian by
// reversing its BCS bytes, and the payload is appended as is.
func SerializeNativeMessage(m *Message) []byte {
	w := bcs.NewEncoder().U8(uint8(m.Type)).U8(m.Version)
	nonce := bcs.NewEncoder().U64(m.Nonce).Bytes()
	for i := len(nonce) - 1; i >= 0; i-- {
		w.U8(nonce[i])
	}
	return w.U8(uint8(m.ChainID)).Fixed(m.Payload).Bytes()
}

// EncodeNativeMessageBCS is the BCS encoding of the Move BridgeMessage struct.
func EncodeNativeMessageBCS(m *Message) []byte {
	return bcs.NewEncoder().
		U8(uint8(m.Type)).
		U8(m.Version).
		U64(m.Nonce).
		U8(uint8(m.ChainID)).
		ByteVector(m.Payload).
		Bytes()
}

func DecodeNativeMessageBCS(b []byte) (*Message, error) {
	r := bcs.NewDecoder(b)
	msgType, err := r.U8()
	if err != nil {
		return nil, err
	}
	version, err := r.U8()
	if err != nil {
		return nil, err
	}
	nonce, err := r.U64()
	if err != nil {
		return nil, err
	}
	rawChain, err := r.U8()
	if err != nil {
		return nil, err
	}
	payload, err := r.ByteVector()
	if err != nil {
		return nil, err
	}
	if r.Remaining() != 0 {
		return nil, fmt.Errorf("bcs: %d trailing bytes", r.Remaining())
	}
	chain, err := types.ParseChainId(rawChain)
	if err != nil {
		return nil, err
	}
	return &Message{Type: MessageType(msgType), Version: version, Nonce: nonce, ChainID: chain, Payload: payload}, nil
}
