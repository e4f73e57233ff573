package handler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/mysocial/bridge-relayers/pkg/deposit"
	"github.com/mysocial/bridge-relayers/pkg/events"
	"github.com/mysocial/bridge-relayers/pkg/types"
	"github.com/mysocial/bridge-relayers/pkg/utils"
	"github.com/rs/zerolog/log"
)

var ErrUnexpectedPayload = errors.New("unexpected event payload")

// HandleError logs errors with a given tag
func HandleError(tag string, err error) {
	if err != nil {
		log.Error().
			Str("tag", tag).
			Err(err).
			Msg("Error occurred")
	}
}

// Relayer is implemented by *deposit.Engine.
type Relayer interface {
	BridgeEvmDeposit(ctx context.Context, event *types.EvmDepositEvent) (common.Hash, error)
	BridgeNativeDeposit(ctx context.Context, event *types.NativeDepositEvent) (types.TxDigest, error)
}

var _ Relayer = (*deposit.Engine)(nil)

// DepositProcessor consumes deposit events from the bus with a fixed number
// of workers and relays each one, retrying transient failures.
type DepositProcessor struct {
	relayer Relayer
	backoff utils.Backoff
	workers int
}

func NewDepositProcessor(relayer Relayer, workers, maxRetries int, retryDelay time.Duration) *DepositProcessor {
	if workers <= 0 {
		workers = 1
	}
	return &DepositProcessor{
		relayer: relayer,
		backoff: utils.Backoff{MaxRetries: maxRetries, BaseDelay: retryDelay, MaxDelay: 10 * retryDelay},
		workers: workers,
	}
}

// Run subscribes to both deposit event types and blocks until ctx is done
// or the bus is closed.
func (p *DepositProcessor) Run(ctx context.Context, bus *events.EventBus) error {
	return p.Consume(ctx, bus.Subscribe(events.EVENT_EVM_DEPOSIT), bus.Subscribe(events.EVENT_NATIVE_DEPOSIT))
}

// Consume drains subscriptions taken before the listeners start.
func (p *DepositProcessor) Consume(ctx context.Context, evmDeposits, nativeDeposits <-chan *events.EventEnvelope) error {
	queue := make(chan *events.EventEnvelope)

	var wg sync.WaitGroup
	for i := 0; i < p.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for envelope := range queue {
				HandleError("DepositProcessor", p.Handle(ctx, envelope))
			}
		}()
	}
	defer func() {
		close(queue)
		wg.Wait()
	}()

	for evmDeposits != nil || nativeDeposits != nil {
		var envelope *events.EventEnvelope
		var ok bool
		select {
		case <-ctx.Done():
			return ctx.Err()
		case envelope, ok = <-evmDeposits:
			if !ok {
				evmDeposits = nil
				continue
			}
		case envelope, ok = <-nativeDeposits:
			if !ok {
				nativeDeposits = nil
				continue
			}
		}
		select {
		case queue <- envelope:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Handle relays one envelope. Rejected and in-flight deposits are not retried.
func (p *DepositProcessor) Handle(ctx context.Context, envelope *events.EventEnvelope) error {
	switch envelope.EventType {
	case events.EVENT_EVM_DEPOSIT:
		event, ok := envelope.Data.(*types.EvmDepositEvent)
		if !ok {
			return fmt.Errorf("%w: %T for %s", ErrUnexpectedPayload, envelope.Data, envelope.EventType)
		}
		return p.retry(ctx, event.Key(), func(ctx context.Context) error {
			hash, err := p.relayer.BridgeEvmDeposit(ctx, event)
			if err == nil && hash != (common.Hash{}) {
				log.Info().Str("key", event.Key().String()).Str("bridgeTx", hash.Hex()).
					Msg("[DepositProcessor] evm deposit relayed")
			}
			return err
		})
	case events.EVENT_NATIVE_DEPOSIT:
		event, ok := envelope.Data.(*types.NativeDepositEvent)
		if !ok {
			return fmt.Errorf("%w: %T for %s", ErrUnexpectedPayload, envelope.Data, envelope.EventType)
		}
		return p.retry(ctx, event.Key(), func(ctx context.Context) error {
			digest, err := p.relayer.BridgeNativeDeposit(ctx, event)
			if err == nil && !digest.IsZero() {
				log.Info().Str("key", event.Key().String()).Str("bridgeTx", digest.String()).
					Msg("[DepositProcessor] native deposit relayed")
			}
			return err
		})
	default:
		return fmt.Errorf("%w: event type %s", ErrUnexpectedPayload, envelope.EventType)
	}
}

func (p *DepositProcessor) retry(ctx context.Context, key types.DepositTxKey, relay func(context.Context) error) error {
	attempt := 0
	err := p.backoff.Retry(ctx, func(ctx context.Context) error {
		attempt++
		err := relay(ctx)
		switch {
		case err == nil:
			return nil
		case deposit.IsRejected(err), errors.Is(err, deposit.ErrInFlight):
			return utils.Permanent(err)
		}
		log.Warn().Err(err).Str("key", key.String()).Int("attempt", attempt).
			Msg("[DepositProcessor] relay attempt failed")
		return err
	})
	if errors.Is(err, deposit.ErrInFlight) {
		log.Debug().Str("key", key.String()).Msg("[DepositProcessor] deposit already in flight")
		return nil
	}
	return err
}
