package api

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/labstack/echo/v4"
	"github.com/mysocial/bridge-relayers/pkg/types"
	"github.com/rs/zerolog/log"
)

const (
	AuthTypeMySocial = "mysocial"
	AuthTypeEthereum = "ethereum"
)

type MessagePayload struct {
	Action             string `json:"action"`
	DestinationChain   string `json:"destinationChain" validate:"required"`
	DestinationAddress string `json:"destinationAddress" validate:"required"`
	Timestamp          uint64 `json:"timestamp"`
}

type GenerateDepositRequest struct {
	AuthType      string         `json:"authType" validate:"required,oneof=mysocial ethereum"`
	SourceAddress *string        `json:"sourceAddress"`
	Signature     *string        `json:"signature"`
	Message       MessagePayload `json:"message"`
}

type GenerateDepositResponse struct {
	DepositChain       string `json:"depositChain"`
	DepositAddress     string `json:"depositAddress"`
	DestinationChain   string `json:"destinationChain"`
	DestinationAddress string `json:"destinationAddress"`
	Instructions       string `json:"instructions"`
}

type LinkAddressesRequest struct {
	MySoAddress   string `json:"mysoAddress" validate:"required"`
	MySoSignature string `json:"mysoSignature" validate:"required"`
	EthAddress    string `json:"ethAddress" validate:"required"`
	EthSignature  string `json:"ethSignature" validate:"required"`
	Timestamp     uint64 `json:"timestamp" validate:"required"`
}

type LinkAddressesResponse struct {
	MySoDepositAddress string `json:"mysoDepositAddress"`
	EvmDepositAddress  string `json:"evmDepositAddress"`
	LinkedMySoAddress  string `json:"linkedMysoAddress"`
	LinkedEthAddress   string `json:"linkedEthAddress"`
	Status             string `json:"status"`
}

type RegistrationInfo struct {
	DepositChain       string `json:"depositChain"`
	DepositAddress     string `json:"depositAddress"`
	DestinationChain   string `json:"destinationChain"`
	DestinationAddress string `json:"destinationAddress"`
	RegistrationType   string `json:"registrationType"`
	CreatedAt          int64  `json:"createdAt"`
}

type QueryDepositResponse struct {
	SourceAddress string             `json:"sourceAddress"`
	Registrations []RegistrationInfo `json:"registrations"`
}

func (s *Server) handleGenerate(c echo.Context) error {
	var req GenerateDepositRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	if err := c.Validate(&req); err != nil {
		return err
	}
	log.Info().Str("authType", req.AuthType).Str("destinationChain", req.Message.DestinationChain).
		Msg("[DepositApi] [Generate] received deposit address request")

	if req.Signature != nil {
		if err := CheckTimestamp(s.now(), req.Message.Timestamp, s.opts.MaxMessageAge, s.opts.MaxClockSkew); err != nil {
			return badRequest("%v", err)
		}
	}
	message := GenerateMessage(req.Message.DestinationChain, req.Message.DestinationAddress, req.Message.Timestamp)

	var (
		resp *GenerateDepositResponse
		err  error
	)
	if req.AuthType == AuthTypeMySocial {
		resp, err = s.generateForNativeUser(c.Request().Context(), &req, message)
	} else {
		resp, err = s.generateForEvmUser(c.Request().Context(), &req, message)
	}
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, resp)
}

// generateForNativeUser issues a native deposit address that forwards to an EVM account.
func (s *Server) generateForNativeUser(ctx context.Context, req *GenerateDepositRequest, message string) (*GenerateDepositResponse, error) {
	if req.SourceAddress == nil {
		return nil, badRequest("sourceAddress is required for mysocial auth type")
	}
	source, err := types.ParseNativeAddress(*req.SourceAddress)
	if err != nil {
		return nil, badRequest("Invalid MySocial address: %v", err)
	}
	if req.Signature != nil {
		if err := VerifyNativeSignature(message, *req.Signature, source); err != nil {
			return nil, badRequest("%v", err)
		}
	}
	destination, err := types.ParseEvmAddress(req.Message.DestinationAddress)
	if err != nil {
		return nil, badRequest("Invalid destination address: %v", err)
	}
	destinationChain, err := s.parseChainName(req.Message.DestinationChain)
	if err != nil {
		return nil, err
	}

	reg, err := s.findOrRegister(ctx, source.Bytes(), s.nativeChain, destinationChain, destination.Bytes(), types.RegistrationApiMySoSig)
	if err != nil {
		return nil, err
	}
	depositAddress := formatAddress(reg.DepositAddress)
	forwardTo := formatAddress(reg.DestinationAddress)
	return &GenerateDepositResponse{
		DepositChain:       s.chainName(s.nativeChain),
		DepositAddress:     depositAddress,
		DestinationChain:   req.Message.DestinationChain,
		DestinationAddress: forwardTo,
		Instructions: fmt.Sprintf("Send tokens to %s on MySocial chain, they will bridge to %s on %s",
			depositAddress, forwardTo, req.Message.DestinationChain),
	}, nil
}

// generateForEvmUser issues an EVM deposit address that forwards to a native
// account. The registration is keyed by that native account.
func (s *Server) generateForEvmUser(ctx context.Context, req *GenerateDepositRequest, message string) (*GenerateDepositResponse, error) {
	destination, err := types.ParseNativeAddress(req.Message.DestinationAddress)
	if err != nil {
		return nil, badRequest("Invalid MySocial destination address: %v", err)
	}
	if req.SourceAddress != nil && req.Signature != nil {
		if err := s.verifyAnySignature(message, *req.SourceAddress, *req.Signature); err != nil {
			return nil, err
		}
	}
	destinationChain, err := s.parseChainName(req.Message.DestinationChain)
	if err != nil {
		return nil, err
	}

	reg, err := s.findOrRegister(ctx, destination.Bytes(), s.evmChain, destinationChain, destination.Bytes(), types.RegistrationApiEthSig)
	if err != nil {
		return nil, err
	}
	depositAddress := formatAddress(reg.DepositAddress)
	return &GenerateDepositResponse{
		DepositChain:       s.chainName(s.evmChain),
		DepositAddress:     depositAddress,
		DestinationChain:   req.Message.DestinationChain,
		DestinationAddress: req.Message.DestinationAddress,
		Instructions: fmt.Sprintf("Send tokens to %s on %s chain, they will bridge to %s on MySocial",
			depositAddress, s.chainName(s.evmChain), destination.Hex()),
	}, nil
}

func (s *Server) verifyAnySignature(message, sourceAddress, signature string) error {
	if evmSource, err := types.ParseEvmAddress(sourceAddress); err == nil {
		if err := VerifyEthSignature(message, signature, evmSource); err != nil {
			return badRequest("%v", err)
		}
		return nil
	}
	if nativeSource, err := types.ParseNativeAddress(sourceAddress); err == nil {
		if err := VerifyNativeSignature(message, signature, nativeSource); err != nil {
			return badRequest("%v", err)
		}
		return nil
	}
	return badRequest("Invalid source address format")
}

// findOrRegister returns the registration of source for the route and
// destination, issuing a new deposit address when there is none.
func (s *Server) findOrRegister(ctx context.Context, source []byte, depositChain, destinationChain types.BridgeChainId,
	destination []byte, regType types.RegistrationType) (*types.DepositRegistration, error) {
	existing, err := s.store.FindRegistrationsBySource(ctx, source)
	if err != nil {
		return nil, err
	}
	for _, reg := range existing {
		if reg.DepositChain != depositChain || reg.DestinationChain != destinationChain ||
			!bytes.Equal(reg.DestinationAddress, destination) {
			continue
		}
		if err := types.CheckAddressLength(depositChain, reg.DepositAddress); err != nil {
			return nil, echo.NewHTTPError(http.StatusInternalServerError, fmt.Sprintf("Invalid deposit address length: %v", err))
		}
		log.Info().Str("depositAddress", formatAddress(reg.DepositAddress)).
			Msg("[DepositApi] returning existing deposit address")
		return reg, nil
	}
	if !types.IsValidRoute(depositChain, destinationChain) {
		return nil, badRequest("%v: %s -> %s", types.ErrInvalidRoute, depositChain, destinationChain)
	}

	index, err := s.addresses.AllocateNextIndex(ctx, depositChain)
	if err != nil {
		return nil, err
	}
	depositAddress, err := s.addresses.DeriveAddress(depositChain, index)
	if err != nil {
		return nil, err
	}
	reg, err := types.NewDepositRegistration(source, depositChain, depositAddress, destinationChain, destination, index, regType)
	if err != nil {
		return nil, badRequest("%v", err)
	}
	if err := s.store.InsertRegistrations(ctx, reg); err != nil {
		return nil, err
	}
	log.Info().Str("depositAddress", formatAddress(depositAddress)).Uint64("hdIndex", index).
		Str("depositChain", depositChain.String()).Msg("[DepositApi] generated deposit address")
	return reg, nil
}

func (s *Server) handleLinkAddresses(c echo.Context) error {
	var req LinkAddressesRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	if err := c.Validate(&req); err != nil {
		return err
	}
	if err := CheckTimestamp(s.now(), req.Timestamp, s.opts.MaxMessageAge, s.opts.MaxClockSkew); err != nil {
		return badRequest("%v", err)
	}
	nativeAddress, err := types.ParseNativeAddress(req.MySoAddress)
	if err != nil {
		return badRequest("Invalid MySocial address: %v", err)
	}
	ethAddress, err := types.ParseEvmAddress(req.EthAddress)
	if err != nil {
		return badRequest("Invalid Ethereum address: %v", err)
	}
	if err := VerifyNativeSignature(LinkMessageForNative(req.EthAddress, req.Timestamp), req.MySoSignature, nativeAddress); err != nil {
		return badRequest("%v", err)
	}
	if err := VerifyEthSignature(LinkMessageForEvm(req.MySoAddress, req.Timestamp), req.EthSignature, ethAddress); err != nil {
		return badRequest("%v", err)
	}

	ctx := c.Request().Context()
	nativeDeposit, err := s.issue(ctx, s.nativeChain)
	if err != nil {
		return err
	}
	evmDeposit, err := s.issue(ctx, s.evmChain)
	if err != nil {
		return err
	}
	nativeReg, err := types.NewDepositRegistration(nativeAddress.Bytes(), s.nativeChain, nativeDeposit.address,
		s.evmChain, ethAddress.Bytes(), nativeDeposit.index, types.RegistrationLinked)
	if err != nil {
		return err
	}
	evmReg, err := types.NewDepositRegistration(ethAddress.Bytes(), s.evmChain, evmDeposit.address,
		s.nativeChain, nativeAddress.Bytes(), evmDeposit.index, types.RegistrationLinked)
	if err != nil {
		return err
	}
	if err := s.store.InsertRegistrations(ctx, nativeReg, evmReg); err != nil {
		return err
	}
	log.Info().Str("mysoAddress", nativeAddress.Hex()).Str("ethAddress", ethAddress.Hex()).
		Str("mysoDepositAddress", formatAddress(nativeDeposit.address)).
		Str("evmDepositAddress", formatAddress(evmDeposit.address)).
		Msg("[DepositApi] [LinkAddresses] linked addresses")

	return c.JSON(http.StatusOK, LinkAddressesResponse{
		MySoDepositAddress: formatAddress(nativeDeposit.address),
		EvmDepositAddress:  formatAddress(evmDeposit.address),
		LinkedMySoAddress:  req.MySoAddress,
		LinkedEthAddress:   req.EthAddress,
		Status:             "linked",
	})
}

type issuedAddress struct {
	index   uint64
	address []byte
}

func (s *Server) issue(ctx context.Context, chain types.BridgeChainId) (issuedAddress, error) {
	index, err := s.addresses.AllocateNextIndex(ctx, chain)
	if err != nil {
		return issuedAddress{}, err
	}
	addr, err := s.addresses.DeriveAddress(chain, index)
	if err != nil {
		return issuedAddress{}, err
	}
	return issuedAddress{index: index, address: addr}, nil
}

func (s *Server) handleQuery(c echo.Context) error {
	address := c.Param("address")
	var source []byte
	if nativeAddress, err := types.ParseNativeAddress(address); err == nil {
		source = nativeAddress.Bytes()
	} else if evmAddress, err := types.ParseEvmAddress(address); err == nil {
		source = evmAddress.Bytes()
	} else {
		return badRequest("Invalid address format")
	}

	regs, err := s.store.FindRegistrationsBySource(c.Request().Context(), source)
	if err != nil {
		return err
	}
	resp := QueryDepositResponse{SourceAddress: address, Registrations: make([]RegistrationInfo, 0, len(regs))}
	for _, reg := range regs {
		resp.Registrations = append(resp.Registrations, RegistrationInfo{
			DepositChain:       s.chainName(reg.DepositChain),
			DepositAddress:     formatAddress(reg.DepositAddress),
			DestinationChain:   s.chainName(reg.DestinationChain),
			DestinationAddress: formatAddress(reg.DestinationAddress),
			RegistrationType:   string(reg.RegistrationType),
			CreatedAt:          reg.CreatedAt.UnixMilli(),
		})
	}
	return c.JSON(http.StatusOK, resp)
}

// parseChainName maps the user facing chain names to the configured chains.
func (s *Server) parseChainName(name string) (types.BridgeChainId, error) {
	switch strings.ToLower(name) {
	case "mysocial", "myso":
		return s.nativeChain, nil
	case "base", "base-sepolia", "ethereum", "eth":
		return s.evmChain, nil
	}
	return 0, badRequest("Unsupported chain: %s", name)
}

func (s *Server) chainName(chain types.BridgeChainId) string {
	switch chain {
	case s.nativeChain:
		return "mysocial"
	case s.evmChain:
		return s.evmName
	}
	return fmt.Sprintf("chain_%d", uint8(chain))
}

func formatAddress(raw []byte) string {
	switch len(raw) {
	case types.NativeAddressLength:
		var addr types.NativeAddress
		copy(addr[:], raw)
		return addr.Hex()
	case types.EvmAddressLength:
		return common.BytesToAddress(raw).Hex()
	}
	return "0x" + common.Bytes2Hex(raw)
}
