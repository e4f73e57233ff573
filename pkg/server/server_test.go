package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/mysocial/bridge-relayers/pkg/bridge"
	"github.com/mysocial/bridge-relayers/pkg/committee"
	"github.com/mysocial/bridge-relayers/pkg/server"
	"github.com/mysocial/bridge-relayers/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var approvedPause = &bridge.EmergencyAction{
	ActionHeader: bridge.ActionHeader{Nonce: 2, ChainID: types.EthSepolia},
	ActionType:   bridge.EmergencyPause,
}

func transfer() *bridge.TokenTransferAction {
	return &bridge.TokenTransferAction{
		ActionHeader:  bridge.ActionHeader{Nonce: 9, ChainID: types.EthSepolia},
		SenderAddress: bytes.Repeat([]byte{0x14}, 20),
		TargetChain:   types.MySoTestnet,
		TargetAddress: bytes.Repeat([]byte{0x3b}, 32),
		TokenID:       2,
		Amount:        100,
	}
}

func startAuthority(t *testing.T, power uint64) (*committee.Authority, *httptest.Server) {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	verifier, err := committee.NewGovernanceVerifier([]bridge.Action{approvedPause})
	require.NoError(t, err)
	ts := httptest.NewServer(server.NewSigningServer(committee.NewAuthoritySigner(key, verifier), server.Options{}))
	t.Cleanup(ts.Close)

	authority, err := committee.NewAuthority("", crypto.CompressPubkey(&key.PublicKey), power, ts.URL)
	require.NoError(t, err)
	return authority, ts
}

func TestPing(t *testing.T) {
	authority, ts := startAuthority(t, 10_000)

	resp, err := http.Get(ts.URL + committee.PingPath)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	client := committee.NewHttpAuthorityClient(time.Second)
	require.NoError(t, client.Ping(context.Background(), authority))
}

func TestSignOverHttp(t *testing.T) {
	authority, _ := startAuthority(t, 10_000)
	client := committee.NewHttpAuthorityClient(5 * time.Second)

	sig, err := client.RequestSignature(context.Background(), authority, transfer())
	require.NoError(t, err)
	signer, err := committee.RecoverSigner(transfer(), sig)
	require.NoError(t, err)
	assert.Equal(t, authority.Address, signer)

	sig, err = client.RequestSignature(context.Background(), authority, approvedPause)
	require.NoError(t, err)
	assert.Len(t, sig, 65)
}

func TestSignRefusesUnapprovedGovernance(t *testing.T) {
	authority, ts := startAuthority(t, 10_000)
	client := committee.NewHttpAuthorityClient(5 * time.Second)

	unapproved := &bridge.EmergencyAction{
		ActionHeader: bridge.ActionHeader{Nonce: 3, ChainID: types.EthSepolia},
		ActionType:   bridge.EmergencyPause,
	}
	_, err := client.RequestSignature(context.Background(), authority, unapproved)
	require.ErrorIs(t, err, committee.ErrGovernanceNotApproved)

	body, err := bridge.MarshalAction(unapproved)
	require.NoError(t, err)
	resp, err := http.Post(ts.URL+committee.SignPath, "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	var errResp committee.ErrorResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&errResp))
	assert.Equal(t, committee.ErrorCodeGovernanceNotApproved, errResp.Code)
}

func TestSignRejectsMalformedAction(t *testing.T) {
	_, ts := startAuthority(t, 10_000)

	for _, body := range []string{
		`not json`,
		`{"type":"unknown","action":{}}`,
		`{"type":"token_transfer","action":{"nonce":1,"chainId":11,"senderAddress":"0x01","targetChain":1,"targetAddress":"0x02","tokenId":1,"amount":5}}`,
	} {
		resp, err := http.Post(ts.URL+committee.SignPath, "application/json", bytes.NewBufferString(body))
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, body)
	}
}

func TestAggregateOverHttp(t *testing.T) {
	a, _ := startAuthority(t, 2_000)
	b, _ := startAuthority(t, 2_000)
	c, _ := startAuthority(t, 6_000)
	members, err := committee.NewCommittee([]*committee.Authority{a, b, c})
	require.NoError(t, err)

	aggregator := committee.NewAggregator(members, committee.NewHttpAuthorityClient(2*time.Second), 10*time.Second)
	agg, err := aggregator.CollectSignatures(context.Background(), approvedPause)
	require.NoError(t, err)
	assert.True(t, agg.HasQuorum())
	assert.NotEmpty(t, agg.Signatures())
}
