package server

import (
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/mysocial/bridge-relayers/pkg/bridge"
	"github.com/mysocial/bridge-relayers/pkg/committee"
	"github.com/mysocial/bridge-relayers/pkg/types"
	"github.com/rs/zerolog/log"
)

const maxBodySize = 1 << 20

func (s *SigningServer) handlePing(w http.ResponseWriter, _ *http.Request) {
	JSON(w, http.StatusOK, map[string]string{"status": "ok", "authority": s.signer.Address().Hex()})
}

func (s *SigningServer) handleSign(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		ERROR(w, http.StatusBadRequest, committee.ErrorCodeInvalidAction, err)
		return
	}
	action, err := bridge.UnmarshalAction(body)
	if err != nil {
		ERROR(w, http.StatusBadRequest, committee.ErrorCodeInvalidAction, err)
		return
	}

	logger := log.With().Str("request_id", middleware.GetReqID(r.Context())).
		Str("action", action.Type().String()).Uint64("nonce", action.Header().Nonce).Logger()

	sig, err := s.signer.Sign(action)
	switch {
	case err == nil:
	case errors.Is(err, committee.ErrGovernanceNotApproved):
		logger.Warn().Err(err).Msg("[SigningServer] refused governance action")
		ERROR(w, http.StatusForbidden, committee.ErrorCodeGovernanceNotApproved, err)
		return
	case errors.Is(err, bridge.ErrInvalidAction), errors.Is(err, bridge.ErrZeroValueTransfer),
		errors.Is(err, types.ErrInvalidRoute), errors.Is(err, types.ErrInvalidAddressLength):
		ERROR(w, http.StatusBadRequest, committee.ErrorCodeInvalidAction, err)
		return
	default:
		logger.Error().Err(err).Msg("[SigningServer] failed to sign action")
		ERROR(w, http.StatusInternalServerError, committee.ErrorCodeInternal, err)
		return
	}

	logger.Info().Msg("[SigningServer] signed action")
	JSON(w, http.StatusOK, committee.SignResponse{Authority: s.signer.Address(), Signature: sig})
}
