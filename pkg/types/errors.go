package types

import "errors"

var (
	ErrUnknownChain         = errors.New("unknown bridge chain id")
	ErrInvalidAddressLength = errors.New("invalid address length")
	ErrInvalidRoute         = errors.New("invalid bridge route")
)
