package utils

import (
	"math/big"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

const (
	EtherDecimals  = 18
	NativeDecimals = 9
)

// FormatUnits renders a base unit amount for logs, e.g. wei as ether.
func FormatUnits(amount *big.Int, decimals int32) string {
	if amount == nil {
		return "0"
	}
	return decimal.NewFromBigInt(amount, -decimals).String()
}

func FormatEther(wei *big.Int) string {
	return FormatUnits(wei, EtherDecimals)
}

func FormatNative(mist uint64) string {
	return FormatUnits(new(big.Int).SetUint64(mist), NativeDecimals)
}

// LogIfError is for cleanup paths that have nowhere to return an error.
func LogIfError(err error, msg string) {
	if err != nil {
		log.Error().Err(err).Msg(msg)
	}
}
