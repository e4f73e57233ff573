package committee_test

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/mysocial/bridge-relayers/pkg/bridge"
	"github.com/mysocial/bridge-relayers/pkg/committee"
	"github.com/mysocial/bridge-relayers/pkg/types"
	"github.com/mysocial/bridge-relayers/pkg/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testMember struct {
	authority *committee.Authority
	signer    *committee.AuthoritySigner
}

func newTestCommittee(t *testing.T, powers []uint64, approved []bridge.Action) (*committee.Committee, []*testMember) {
	t.Helper()
	verifier, err := committee.NewGovernanceVerifier(approved)
	require.NoError(t, err)
	var (
		authorities []*committee.Authority
		members     []*testMember
	)
	for i, power := range powers {
		key, err := crypto.GenerateKey()
		require.NoError(t, err)
		authority, err := committee.NewAuthority("", crypto.CompressPubkey(&key.PublicKey), power, "")
		require.NoError(t, err)
		authority.Name = string(rune('a' + i))
		authorities = append(authorities, authority)
		members = append(members, &testMember{authority: authority, signer: committee.NewAuthoritySigner(key, verifier)})
	}
	c, err := committee.NewCommittee(authorities)
	require.NoError(t, err)
	return c, members
}

func transferAction(nonce uint64) *bridge.TokenTransferAction {
	return &bridge.TokenTransferAction{
		ActionHeader:  bridge.ActionHeader{Nonce: nonce, ChainID: types.EthSepolia},
		SenderAddress: bytes.Repeat([]byte{0x14}, 20),
		TargetChain:   types.MySoTestnet,
		TargetAddress: bytes.Repeat([]byte{0x3b}, 32),
		TokenID:       2,
		Amount:        4200000000,
	}
}

func pauseAction(nonce uint64) *bridge.EmergencyAction {
	return &bridge.EmergencyAction{
		ActionHeader: bridge.ActionHeader{Nonce: nonce, ChainID: types.EthSepolia},
		ActionType:   bridge.EmergencyPause,
	}
}

// fakeClient signs locally through each member's AuthoritySigner.
type fakeClient struct {
	members map[common.Address]*testMember
	calls   sync.Map
	fail    func(authority *committee.Authority, attempt int) error
	forge   map[common.Address]*ecdsa.PrivateKey
}

func newFakeClient(members []*testMember) *fakeClient {
	c := &fakeClient{members: make(map[common.Address]*testMember), forge: make(map[common.Address]*ecdsa.PrivateKey)}
	for _, m := range members {
		c.members[m.authority.Address] = m
	}
	return c
}

func (c *fakeClient) attempts(addr common.Address) int {
	v, ok := c.calls.Load(addr)
	if !ok {
		return 0
	}
	return int(v.(*atomic.Int32).Load())
}

func (c *fakeClient) RequestSignature(_ context.Context, authority *committee.Authority, action bridge.Action) ([]byte, error) {
	v, _ := c.calls.LoadOrStore(authority.Address, new(atomic.Int32))
	attempt := int(v.(*atomic.Int32).Add(1))
	if c.fail != nil {
		if err := c.fail(authority, attempt); err != nil {
			return nil, err
		}
	}
	if key, ok := c.forge[authority.Address]; ok {
		return committee.SignAction(key, action)
	}
	return c.members[authority.Address].signer.Sign(action)
}

func TestThreshold(t *testing.T) {
	limit := &bridge.LimitUpdateAction{ActionHeader: bridge.ActionHeader{ChainID: types.EthSepolia}, SendingChainID: types.MySoTestnet}
	unpause := pauseAction(0)
	unpause.ActionType = bridge.EmergencyUnpause

	assert.Equal(t, committee.TransferQuorum, committee.Threshold(transferAction(0)))
	assert.Equal(t, committee.TransferQuorum, committee.Threshold(&bridge.TokenTransferV2Action{TokenTransferAction: *transferAction(0)}))
	assert.Equal(t, committee.EmergencyPauseQuorum, committee.Threshold(pauseAction(0)))
	assert.Equal(t, committee.EmergencyUnpauseQuorum, committee.Threshold(unpause))
	assert.Equal(t, committee.GovernanceQuorum, committee.Threshold(limit))
}

func TestSignAndRecover(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	action := transferAction(7)

	sig, err := committee.SignAction(key, action)
	require.NoError(t, err)
	require.Len(t, sig, 65)

	signer, err := committee.RecoverSigner(action, sig)
	require.NoError(t, err)
	assert.Equal(t, crypto.PubkeyToAddress(key.PublicKey), signer)

	legacy := append([]byte(nil), sig...)
	legacy[64] += 27
	signer, err = committee.RecoverSigner(action, legacy)
	require.NoError(t, err)
	assert.Equal(t, crypto.PubkeyToAddress(key.PublicKey), signer)

	other, err := committee.RecoverSigner(transferAction(8), sig)
	require.NoError(t, err)
	assert.NotEqual(t, signer, other)

	_, err = committee.RecoverSigner(action, sig[:64])
	assert.ErrorIs(t, err, committee.ErrInvalidSignature)
}

func TestGovernanceVerifier(t *testing.T) {
	approvedLimit := &bridge.LimitUpdateAction{
		ActionHeader:   bridge.ActionHeader{Nonce: 1, ChainID: types.EthSepolia},
		SendingChainID: types.MySoTestnet,
		NewUsdLimit:    1_000_000,
	}
	verifier, err := committee.NewGovernanceVerifier([]bridge.Action{pauseAction(2), approvedLimit})
	require.NoError(t, err)

	require.NoError(t, verifier.Verify(pauseAction(2)))
	require.NoError(t, verifier.Verify(approvedLimit))

	assert.ErrorIs(t, verifier.Verify(pauseAction(3)), committee.ErrGovernanceNotApproved)

	changed := *approvedLimit
	changed.NewUsdLimit = 2_000_000
	assert.ErrorIs(t, verifier.Verify(&changed), committee.ErrGovernanceNotApproved)

	assert.ErrorIs(t, verifier.Verify(transferAction(1)), bridge.ErrNotGovernanceAction)

	_, err = committee.NewGovernanceVerifier([]bridge.Action{transferAction(1)})
	assert.ErrorIs(t, err, bridge.ErrNotGovernanceAction)
}

func TestAuthoritySignerNeverSignsUnapprovedGovernance(t *testing.T) {
	_, members := newTestCommittee(t, []uint64{10_000}, []bridge.Action{pauseAction(2)})
	signer := members[0].signer

	for i := 0; i < 5; i++ {
		sig, err := signer.Sign(pauseAction(9))
		assert.ErrorIs(t, err, committee.ErrGovernanceNotApproved)
		assert.Nil(t, sig)
	}

	sig, err := signer.Sign(pauseAction(2))
	require.NoError(t, err)
	recovered, err := committee.RecoverSigner(pauseAction(2), sig)
	require.NoError(t, err)
	assert.Equal(t, signer.Address(), recovered)

	_, err = signer.Sign(transferAction(3))
	require.NoError(t, err)
}

func TestNewCommitteeRejectsExcessPower(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	a, err := committee.NewAuthority("a", crypto.CompressPubkey(&key.PublicKey), 6_000, "")
	require.NoError(t, err)
	b, err := committee.NewAuthority("b", crypto.CompressPubkey(&key.PublicKey), 1_000, "")
	require.NoError(t, err)
	_, err = committee.NewCommittee([]*committee.Authority{a, b})
	require.Error(t, err, "duplicate member")

	key2, err := crypto.GenerateKey()
	require.NoError(t, err)
	c, err := committee.NewAuthority("c", crypto.CompressPubkey(&key2.PublicKey), 5_000, "")
	require.NoError(t, err)
	_, err = committee.NewCommittee([]*committee.Authority{a, c})
	require.Error(t, err)

	_, err = committee.NewAuthority("bad", []byte{1, 2, 3}, 1, "")
	require.Error(t, err)
}

func fastAggregator(c *committee.Committee, client committee.AuthorityClient, timeout time.Duration) *committee.Aggregator {
	return committee.NewAggregator(c, client, timeout).
		WithBackoff(utils.Backoff{MaxRetries: -1, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond})
}

func TestCollectSignaturesReachesQuorum(t *testing.T) {
	c, members := newTestCommittee(t, []uint64{2_500, 2_500, 2_500, 2_500}, nil)
	client := newFakeClient(members)
	action := transferAction(11)

	agg, err := fastAggregator(c, client, 5*time.Second).CollectSignatures(context.Background(), action)
	require.NoError(t, err)
	assert.True(t, agg.HasQuorum())
	assert.GreaterOrEqual(t, agg.Stake(), committee.TransferQuorum)

	sigs := agg.Signatures()
	signers := agg.Signers()
	require.Len(t, sigs, len(signers))
	for i, sig := range sigs {
		recovered, err := committee.RecoverSigner(action, sig)
		require.NoError(t, err)
		assert.Equal(t, signers[i], recovered)
	}
}

func TestCollectSignaturesRetriesTransientFailures(t *testing.T) {
	c, members := newTestCommittee(t, []uint64{5_000, 5_000}, nil)
	client := newFakeClient(members)
	client.fail = func(_ *committee.Authority, attempt int) error {
		if attempt < 3 {
			return errors.New("connection refused")
		}
		return nil
	}

	agg, err := fastAggregator(c, client, 5*time.Second).CollectSignatures(context.Background(), transferAction(1))
	require.NoError(t, err)
	assert.True(t, agg.HasQuorum())
	signer := agg.Signers()[0]
	assert.Equal(t, 3, client.attempts(signer))
}

func TestCollectSignaturesGovernanceRefusalIsTerminal(t *testing.T) {
	c, members := newTestCommittee(t, []uint64{3_000, 3_000, 4_000}, []bridge.Action{pauseAction(2)})
	client := newFakeClient(members)

	agg, err := fastAggregator(c, client, 2*time.Second).CollectSignatures(context.Background(), pauseAction(5))
	require.ErrorIs(t, err, committee.ErrQuorumNotReached)
	require.ErrorIs(t, err, committee.ErrGovernanceNotApproved)
	assert.Zero(t, agg.Stake())
	for _, m := range members {
		assert.Equal(t, 1, client.attempts(m.authority.Address), m.authority.Name)
	}

	agg, err = fastAggregator(c, client, 2*time.Second).CollectSignatures(context.Background(), pauseAction(2))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, agg.Stake(), committee.EmergencyPauseQuorum)
}

func TestCollectSignaturesSkipsBlocklistedAndForgedSignatures(t *testing.T) {
	c, members := newTestCommittee(t, []uint64{4_000, 3_000, 3_000}, nil)
	members[0].authority.Blocklisted = true
	client := newFakeClient(members)
	outsider, err := crypto.GenerateKey()
	require.NoError(t, err)
	client.forge[members[1].authority.Address] = outsider

	agg, err := fastAggregator(c, client, 2*time.Second).CollectSignatures(context.Background(), transferAction(4))
	require.ErrorIs(t, err, committee.ErrQuorumNotReached)
	require.ErrorIs(t, err, committee.ErrUnknownAuthority)
	assert.Equal(t, uint64(3_000), agg.Stake())
	assert.Equal(t, []common.Address{members[2].authority.Address}, agg.Signers())
	assert.Zero(t, client.attempts(members[0].authority.Address))
}

func TestCollectSignaturesTimesOutWithPartialSet(t *testing.T) {
	c, members := newTestCommittee(t, []uint64{3_000, 7_000}, nil)
	client := newFakeClient(members)
	client.fail = func(authority *committee.Authority, _ int) error {
		if authority.VotingPower == 7_000 {
			return errors.New("unavailable")
		}
		return nil
	}

	start := time.Now()
	agg, err := fastAggregator(c, client, 200*time.Millisecond).CollectSignatures(context.Background(), transferAction(1))
	require.ErrorIs(t, err, committee.ErrQuorumNotReached)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, uint64(3_000), agg.Stake())
	assert.Len(t, agg.Signatures(), 1)
}

func TestAggregatedSignaturesCountsEachSignerOnce(t *testing.T) {
	c, members := newTestCommittee(t, []uint64{2_000, 2_000}, nil)
	action := transferAction(3)
	agg, err := committee.NewAggregatedSignatures(c, action)
	require.NoError(t, err)

	sig, err := members[0].signer.Sign(action)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err = agg.Add(sig)
		require.NoError(t, err)
	}
	assert.Equal(t, uint64(2_000), agg.Stake())
	assert.False(t, agg.HasQuorum())
}
