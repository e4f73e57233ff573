package committee

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/mysocial/bridge-relayers/pkg/bridge"
)

// Voting power is expressed in basis points of the whole committee.
const TotalVotingPower uint64 = 10_000

const (
	TransferQuorum         uint64 = 3_334
	EmergencyPauseQuorum   uint64 = 450
	EmergencyUnpauseQuorum uint64 = 5_001
	GovernanceQuorum       uint64 = 5_001
)

var (
	ErrGovernanceNotApproved = errors.New("governance action is not in the approved list")
	ErrQuorumNotReached      = errors.New("committee quorum not reached")
	ErrUnknownAuthority      = errors.New("unknown authority")
	ErrInvalidSignature      = errors.New("invalid authority signature")
)

type Authority struct {
	Name        string
	PubKey      []byte
	Address     common.Address
	VotingPower uint64
	URL         string
	Blocklisted bool
}

// NewAuthority takes the compressed secp256k1 key of the authority.
func NewAuthority(name string, pubKey []byte, votingPower uint64, url string) (*Authority, error) {
	pub, err := crypto.DecompressPubkey(pubKey)
	if err != nil {
		return nil, fmt.Errorf("authority %s: invalid public key: %w", name, err)
	}
	return &Authority{
		Name:        name,
		PubKey:      append([]byte(nil), pubKey...),
		Address:     crypto.PubkeyToAddress(*pub),
		VotingPower: votingPower,
		URL:         url,
	}, nil
}

func (a *Authority) String() string {
	if a.Name != "" {
		return a.Name
	}
	return a.Address.Hex()
}

type Committee struct {
	Members   []*Authority
	byAddress map[common.Address]*Authority
}

func NewCommittee(members []*Authority) (*Committee, error) {
	c := &Committee{Members: members, byAddress: make(map[common.Address]*Authority, len(members))}
	var total uint64
	for _, m := range members {
		if _, ok := c.byAddress[m.Address]; ok {
			return nil, fmt.Errorf("duplicate authority %s", m.Address.Hex())
		}
		c.byAddress[m.Address] = m
		total += m.VotingPower
	}
	if total > TotalVotingPower {
		return nil, fmt.Errorf("committee voting power %d exceeds %d", total, TotalVotingPower)
	}
	return c, nil
}

func (c *Committee) Member(addr common.Address) (*Authority, bool) {
	m, ok := c.byAddress[addr]
	return m, ok
}

// Active returns the members that are not blocklisted.
func (c *Committee) Active() []*Authority {
	active := make([]*Authority, 0, len(c.Members))
	for _, m := range c.Members {
		if !m.Blocklisted {
			active = append(active, m)
		}
	}
	return active
}

// Threshold is the stake an action needs before it can be submitted.
func Threshold(a bridge.Action) uint64 {
	switch action := a.(type) {
	case *bridge.TokenTransferAction, *bridge.TokenTransferV2Action:
		return TransferQuorum
	case *bridge.EmergencyAction:
		if action.ActionType == bridge.EmergencyPause {
			return EmergencyPauseQuorum
		}
		return EmergencyUnpauseQuorum
	case *bridge.BlocklistCommitteeAction, *bridge.LimitUpdateAction, *bridge.AssetPriceUpdateAction,
		*bridge.EvmContractUpgradeAction, *bridge.AddTokensOnMySoAction, *bridge.AddTokensOnEvmAction:
		return GovernanceQuorum
	}
	return TotalVotingPower
}
