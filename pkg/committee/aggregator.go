package committee

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/mysocial/bridge-relayers/pkg/bridge"
	"github.com/mysocial/bridge-relayers/pkg/utils"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// AuthorityClient asks one authority to sign an action.
type AuthorityClient interface {
	RequestSignature(ctx context.Context, authority *Authority, action bridge.Action) ([]byte, error)
}

// AggregatedSignatures is the set of verified signatures collected for one
// action. It is safe for concurrent use.
type AggregatedSignatures struct {
	Action    bridge.Action
	Digest    common.Hash
	committee *Committee
	threshold uint64

	mu         sync.Mutex
	signatures map[common.Address][]byte
	stake      uint64
}

func NewAggregatedSignatures(committee *Committee, action bridge.Action) (*AggregatedSignatures, error) {
	digest, err := bridge.SigningDigest(action)
	if err != nil {
		return nil, err
	}
	return &AggregatedSignatures{
		Action:     action,
		Digest:     digest,
		committee:  committee,
		threshold:  Threshold(action),
		signatures: make(map[common.Address][]byte),
	}, nil
}

// Add verifies the signature by recovery and counts the signer's stake once.
func (a *AggregatedSignatures) Add(signature []byte) (*Authority, error) {
	signer, err := RecoverSigner(a.Action, signature)
	if err != nil {
		return nil, err
	}
	member, ok := a.committee.Member(signer)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAuthority, signer.Hex())
	}
	if member.Blocklisted {
		return nil, fmt.Errorf("%w: %s is blocklisted", ErrInvalidSignature, member)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.signatures[signer]; !ok {
		a.signatures[signer] = append([]byte(nil), signature...)
		a.stake += member.VotingPower
	}
	return member, nil
}

func (a *AggregatedSignatures) Stake() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stake
}

func (a *AggregatedSignatures) Threshold() uint64 {
	return a.threshold
}

func (a *AggregatedSignatures) HasQuorum() bool {
	return a.Stake() >= a.threshold
}

// Signatures returns the collected signatures in committee order.
func (a *AggregatedSignatures) Signatures() [][]byte {
	a.mu.Lock()
	defer a.mu.Unlock()
	sigs := make([][]byte, 0, len(a.signatures))
	for _, m := range a.committee.Members {
		if sig, ok := a.signatures[m.Address]; ok {
			sigs = append(sigs, sig)
		}
	}
	return sigs
}

func (a *AggregatedSignatures) Signers() []common.Address {
	a.mu.Lock()
	defer a.mu.Unlock()
	signers := make([]common.Address, 0, len(a.signatures))
	for _, m := range a.committee.Members {
		if _, ok := a.signatures[m.Address]; ok {
			signers = append(signers, m.Address)
		}
	}
	return signers
}

type Aggregator struct {
	committee *Committee
	client    AuthorityClient
	timeout   time.Duration
	backoff   utils.Backoff
}

func NewAggregator(committee *Committee, client AuthorityClient, timeout time.Duration) *Aggregator {
	return &Aggregator{
		committee: committee,
		client:    client,
		timeout:   timeout,
		backoff:   utils.Backoff{MaxRetries: -1, BaseDelay: 200 * time.Millisecond, MaxDelay: 5 * time.Second},
	}
}

func (ag *Aggregator) WithBackoff(b utils.Backoff) *Aggregator {
	ag.backoff = b
	return ag
}

type signatureResult struct {
	authority *Authority
	err       error
}

// CollectSignatures fans out to every active authority and returns as soon as
// the verified stake reaches the action's threshold. Transient failures are
// retried until the aggregation timeout. On failure the partial set is
// returned together with ErrQuorumNotReached.
func (ag *Aggregator) CollectSignatures(ctx context.Context, action bridge.Action) (*AggregatedSignatures, error) {
	ctx, span := otel.Tracer("committee").Start(ctx, "CollectSignatures")
	defer span.End()
	span.SetAttributes(
		attribute.String("action.type", action.Type().String()),
		attribute.Int64("action.nonce", int64(action.Header().Nonce)),
	)

	agg, err := NewAggregatedSignatures(ag.committee, action)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	if ag.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, ag.timeout)
		defer cancel()
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	members := ag.committee.Active()
	results := make(chan signatureResult, len(members))
	for _, member := range members {
		go func(member *Authority) {
			err := ag.backoff.Retry(ctx, func(ctx context.Context) error {
				return ag.requestOne(ctx, agg, member)
			})
			results <- signatureResult{authority: member, err: err}
		}(member)
	}

	var failures []error
	for range members {
		select {
		case res := <-results:
			if res.err != nil {
				failures = append(failures, fmt.Errorf("%s: %w", res.authority, res.err))
			}
			if agg.HasQuorum() {
				span.SetAttributes(attribute.Int64("stake", int64(agg.Stake())))
				log.Debug().Str("action", action.Type().String()).Uint64("nonce", action.Header().Nonce).
					Uint64("stake", agg.Stake()).Msg("[Committee] [CollectSignatures] quorum reached")
				return agg, nil
			}
		case <-ctx.Done():
			failures = append(failures, ctx.Err())
			return agg, ag.quorumError(span, agg, failures)
		}
	}
	return agg, ag.quorumError(span, agg, failures)
}

func (ag *Aggregator) requestOne(ctx context.Context, agg *AggregatedSignatures, member *Authority) error {
	sig, err := ag.client.RequestSignature(ctx, member, agg.Action)
	if err != nil {
		if errors.Is(err, ErrGovernanceNotApproved) {
			log.Warn().Str("authority", member.String()).Msg("[Committee] authority refused governance action")
			return utils.Permanent(err)
		}
		log.Debug().Err(err).Str("authority", member.String()).Msg("[Committee] signature request failed, retrying")
		return err
	}
	signer, err := agg.Add(sig)
	if err != nil {
		log.Warn().Err(err).Str("authority", member.String()).Msg("[Committee] rejected signature")
		return utils.Permanent(err)
	}
	if signer.Address != member.Address {
		log.Warn().Str("authority", member.String()).Str("signer", signer.String()).
			Msg("[Committee] authority returned another member's signature")
	}
	return nil
}

func (ag *Aggregator) quorumError(span trace.Span, agg *AggregatedSignatures, failures []error) error {
	err := fmt.Errorf("%w: stake %d of %d required: %w", ErrQuorumNotReached, agg.Stake(), agg.threshold, errors.Join(failures...))
	span.SetStatus(codes.Error, err.Error())
	return err
}
