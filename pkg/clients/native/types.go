package native

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strconv"

	"github.com/mysocial/bridge-relayers/pkg/types"
)

// Uint64String is a u64 the node renders as a decimal string.
type Uint64String uint64

func (u Uint64String) MarshalJSON() ([]byte, error) {
	return json.Marshal(strconv.FormatUint(uint64(u), 10))
}

func (u *Uint64String) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		var n uint64
		if err := json.Unmarshal(data, &n); err != nil {
			return fmt.Errorf("expected u64 string or number: %s", data)
		}
		*u = Uint64String(n)
		return nil
	}
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return err
	}
	*u = Uint64String(n)
	return nil
}

type Checkpoint struct {
	SequenceNumber Uint64String     `json:"sequenceNumber"`
	TimestampMs    Uint64String     `json:"timestampMs"`
	Transactions   []types.TxDigest `json:"transactions"`
}

type Coin struct {
	CoinType     string              `json:"coinType"`
	CoinObjectID types.NativeAddress `json:"coinObjectId"`
	Version      Uint64String        `json:"version"`
	Digest       types.TxDigest      `json:"digest"`
	Balance      Uint64String        `json:"balance"`
}

func (c *Coin) Ref() ObjectRef {
	return ObjectRef{ObjectID: c.CoinObjectID, Version: uint64(c.Version), Digest: c.Digest}
}

type CoinPage struct {
	Data        []Coin  `json:"data"`
	NextCursor  *string `json:"nextCursor"`
	HasNextPage bool    `json:"hasNextPage"`
}

type Balance struct {
	CoinType        string       `json:"coinType"`
	CoinObjectCount int          `json:"coinObjectCount"`
	TotalBalance    Uint64String `json:"totalBalance"`
}

// Owner is only resolved for address owned objects.
type Owner struct {
	AddressOwner *types.NativeAddress `json:"AddressOwner,omitempty"`
}

func (o *Owner) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		// "Immutable" and other unit variants
		return nil
	}
	addr, ok := raw["AddressOwner"]
	if !ok {
		return nil
	}
	var a types.NativeAddress
	if err := json.Unmarshal(addr, &a); err != nil {
		return err
	}
	o.AddressOwner = &a
	return nil
}

type BalanceChange struct {
	Owner    Owner  `json:"owner"`
	CoinType string `json:"coinType"`
	Amount   string `json:"amount"`
}

// PositiveAmount returns the amount when the change credits the owner and fits a u64.
func (b *BalanceChange) PositiveAmount() (uint64, bool) {
	amount, ok := new(big.Int).SetString(b.Amount, 10)
	if !ok || amount.Sign() <= 0 || !amount.IsUint64() {
		return 0, false
	}
	return amount.Uint64(), true
}

type ExecutionStatus struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

type TransactionEffects struct {
	Status ExecutionStatus `json:"status"`
}

type TransactionInput struct {
	Data struct {
		Sender types.NativeAddress `json:"sender"`
	} `json:"data"`
}

type TransactionBlockResponse struct {
	Digest         types.TxDigest      `json:"digest"`
	Transaction    *TransactionInput   `json:"transaction,omitempty"`
	Effects        *TransactionEffects `json:"effects,omitempty"`
	BalanceChanges []BalanceChange     `json:"balanceChanges,omitempty"`
	TimestampMs    Uint64String        `json:"timestampMs,omitempty"`
	Checkpoint     Uint64String        `json:"checkpoint,omitempty"`
}

func (r *TransactionBlockResponse) Succeeded() bool {
	return r.Effects != nil && r.Effects.Status.Status == "success"
}

func (r *TransactionBlockResponse) Sender() types.NativeAddress {
	if r.Transaction == nil {
		return types.NativeAddress{}
	}
	return r.Transaction.Data.Sender
}

type TransactionBlockResponseOptions struct {
	ShowInput          bool `json:"showInput,omitempty"`
	ShowEffects        bool `json:"showEffects,omitempty"`
	ShowBalanceChanges bool `json:"showBalanceChanges,omitempty"`
}
