package bridge

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/crypto"
)

// EncodeCallData builds the initializer call data for a contract upgrade from
// a signature such as "initializeV2Params(uint256,bool,string)" and its
// arguments in text form. Only uint256, bool and string are supported.
func EncodeCallData(signature string, params []string) ([]byte, error) {
	left := strings.Index(signature, "(")
	right := strings.LastIndex(signature, ")")
	if left <= 0 || right < left {
		return nil, fmt.Errorf("invalid function signature %q", signature)
	}
	var typeNames []string
	if inner := strings.TrimSpace(signature[left+1 : right]); inner != "" {
		for _, t := range strings.Split(inner, ",") {
			typeNames = append(typeNames, strings.ToLower(strings.TrimSpace(t)))
		}
	}
	if len(typeNames) != len(params) {
		return nil, fmt.Errorf("signature %q takes %d params, got %d", signature, len(typeNames), len(params))
	}

	args := make(abi.Arguments, 0, len(params))
	values := make([]interface{}, 0, len(params))
	for i, typeName := range typeNames {
		var value interface{}
		switch typeName {
		case "uint256":
			n, ok := new(big.Int).SetString(params[i], 10)
			if !ok || n.Sign() < 0 {
				return nil, fmt.Errorf("invalid uint256 %q", params[i])
			}
			value = n
		case "bool":
			switch params[i] {
			case "true":
				value = true
			case "false":
				value = false
			default:
				return nil, fmt.Errorf("invalid bool %q", params[i])
			}
		case "string":
			value = params[i]
		default:
			return nil, fmt.Errorf("unsupported param type %q", typeName)
		}
		t, err := abi.NewType(typeName, "", nil)
		if err != nil {
			return nil, err
		}
		args = append(args, abi.Argument{Type: t})
		values = append(values, value)
	}

	callData := crypto.Keccak256([]byte(signature))[:4]
	if len(values) == 0 {
		return callData, nil
	}
	encoded, err := args.Pack(values...)
	if err != nil {
		return nil, fmt.Errorf("pack call data: %w", err)
	}
	return append(callData, encoded...), nil
}
