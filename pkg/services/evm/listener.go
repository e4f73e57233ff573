package evm

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/mysocial/bridge-relayers/config"
	evmclient "github.com/mysocial/bridge-relayers/pkg/clients/evm"
	"github.com/mysocial/bridge-relayers/pkg/db"
	"github.com/mysocial/bridge-relayers/pkg/events"
	"github.com/mysocial/bridge-relayers/pkg/types"
	"github.com/rs/zerolog/log"
)

const (
	TransferEventName = "Transfer"

	// Blocks scanned on the first run when no start block is configured.
	defaultLookback = 1000
	maxBlockRange   = 1000

	defaultRedeliverAfter = 15 * time.Minute
)

// Chain is the read side of the EVM client the listener polls.
type Chain interface {
	BlockNumber(ctx context.Context) (uint64, error)
	FilterTransferLogs(ctx context.Context, tokens []common.Address, from, to uint64) ([]ethtypes.Log, error)
}

// EvmListener polls ERC-20 Transfer logs into issued deposit addresses and
// publishes them as deposit events.
type EvmListener struct {
	chain         types.BridgeChainId
	client        Chain
	store         db.Store
	bus           *events.EventBus
	tokens        []common.Address
	confirmations uint64
	pollInterval  time.Duration
	startBlock    uint64
	override      *uint64

	// next is the first block not yet scanned by this process. The stored
	// cursor may lag behind it while deposits await the relay.
	next        *uint64
	unconfirmed *events.Unconfirmed
}

func NewEvmListener(evmConfig *config.EvmNetworkConfig, depositConfig config.DepositConfig, client Chain, store db.Store, bus *events.EventBus) *EvmListener {
	pollInterval := depositConfig.PollInterval
	if pollInterval <= 0 {
		pollInterval = 45 * time.Second
	}
	redeliverAfter := depositConfig.RedeliverAfter
	if redeliverAfter <= 0 {
		redeliverAfter = defaultRedeliverAfter
	}
	return &EvmListener{
		chain:         types.BridgeChainId(evmConfig.ChainID),
		client:        client,
		store:         store,
		bus:           bus,
		tokens:        evmConfig.TokenAddresses(),
		confirmations: depositConfig.EvmConfirmations,
		pollInterval:  pollInterval,
		startBlock:    evmConfig.StartBlock,
		override:      evmConfig.StartBlockOverride,
		unconfirmed:   events.NewUnconfirmed(redeliverAfter),
	}
}

// WithRedeliverAfter sets how long a published deposit may stay unprocessed
// before it is published again.
func (l *EvmListener) WithRedeliverAfter(d time.Duration) *EvmListener {
	l.unconfirmed = events.NewUnconfirmed(d)
	return l
}

func (l *EvmListener) Run(ctx context.Context) error {
	log.Info().Str("chain", l.chain.String()).Int("tokens", len(l.tokens)).Dur("pollInterval", l.pollInterval).
		Msg("[EVMListener] starting deposit listener")
	ticker := time.NewTicker(l.pollInterval)
	defer ticker.Stop()
	for {
		if published, err := l.Poll(ctx); err != nil {
			log.Error().Err(err).Str("chain", l.chain.String()).Msg("[EVMListener] poll failed")
		} else if published > 0 {
			log.Info().Int("deposits", published).Str("chain", l.chain.String()).Msg("[EVMListener] published deposits")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Poll scans from where the last scan stopped up to the confirmed head and returns
// the number of deposits published.
func (l *EvmListener) Poll(ctx context.Context) (int, error) {
	if len(l.tokens) == 0 {
		return 0, nil
	}
	if err := l.redeliver(ctx); err != nil {
		return 0, err
	}
	head, err := l.client.BlockNumber(ctx)
	if err != nil {
		return 0, err
	}
	if head < l.confirmations {
		return 0, nil
	}
	safe := head - l.confirmations
	from, err := l.nextBlock(ctx, safe)
	if err != nil {
		return 0, err
	}
	if from > safe {
		if from == 0 {
			return 0, nil
		}
		// releases the cursor once held deposits are processed
		return 0, l.saveCursor(ctx, from-1)
	}

	rawAddresses, err := l.store.ListDepositAddresses(ctx, l.chain)
	if err != nil {
		return 0, err
	}
	if len(rawAddresses) == 0 {
		return 0, l.saveCursor(ctx, safe)
	}
	watched := make(map[common.Address]bool, len(rawAddresses))
	for _, raw := range rawAddresses {
		watched[common.BytesToAddress(raw)] = true
	}

	published := 0
	for start := from; start <= safe; start += maxBlockRange {
		end := min(start+maxBlockRange-1, safe)
		logs, err := l.client.FilterTransferLogs(ctx, l.tokens, start, end)
		if err != nil {
			return published, err
		}
		for i := range logs {
			event, err := evmclient.ParseTransferLog(l.chain, &logs[i])
			if err != nil {
				log.Warn().Err(err).Str("txHash", logs[i].TxHash.Hex()).Msg("[EVMListener] skipping malformed Transfer log")
				continue
			}
			if !watched[event.To] || event.Amount.Sign() <= 0 {
				continue
			}
			processed, err := l.store.IsDepositProcessed(ctx, event.Key())
			if err != nil {
				return published, err
			}
			if processed {
				continue
			}
			log.Debug().Str("txHash", event.TxHash.Hex()).Uint64("logIndex", event.LogIndex).
				Str("to", event.To.Hex()).Str("amount", event.Amount.String()).
				Msg("[EVMListener] deposit detected")
			envelope := &events.EventEnvelope{EventType: events.EVENT_EVM_DEPOSIT, SourceChain: l.chain.String(), Data: event}
			if err := l.bus.BroadcastEvent(ctx, envelope); err != nil {
				return published, err
			}
			l.unconfirmed.Add(event.Key(), event.BlockNumber, envelope)
			published++
		}
		if err := l.saveCursor(ctx, end); err != nil {
			return published, err
		}
	}
	return published, nil
}

// redeliver publishes again the deposits the relay has not processed in time.
func (l *EvmListener) redeliver(ctx context.Context) error {
	due, err := l.unconfirmed.Refresh(ctx, l.store)
	if err != nil {
		return fmt.Errorf("failed to check unconfirmed deposits: %w", err)
	}
	for _, envelope := range due {
		if event, ok := envelope.Data.(*types.EvmDepositEvent); ok {
			log.Warn().Str("txHash", event.TxHash.Hex()).Uint64("logIndex", event.LogIndex).
				Msg("[EVMListener] deposit still unprocessed, publishing again")
		}
		if err := l.bus.BroadcastEvent(ctx, envelope); err != nil {
			return err
		}
	}
	return nil
}

func (l *EvmListener) nextBlock(ctx context.Context, safe uint64) (uint64, error) {
	if l.override != nil {
		from := *l.override
		l.override = nil
		return from, nil
	}
	if l.next != nil {
		return *l.next, nil
	}
	cursor, ok, err := l.store.GetLastEventCheckPoint(ctx, l.chain.String(), TransferEventName)
	if err != nil {
		return 0, fmt.Errorf("failed to read cursor: %w", err)
	}
	if ok {
		return cursor + 1, nil
	}
	if l.startBlock > 0 {
		return l.startBlock, nil
	}
	if safe > defaultLookback {
		return safe - defaultLookback, nil
	}
	return 0, nil
}

// saveCursor records that every block up to scanned was read. The stored
// cursor stops below the oldest unprocessed deposit.
func (l *EvmListener) saveCursor(ctx context.Context, scanned uint64) error {
	next := scanned + 1
	l.next = &next
	block, ok := l.unconfirmed.Checkpoint(scanned)
	if !ok {
		return nil
	}
	if err := l.store.UpdateLastEventCheckPoint(ctx, l.chain.String(), TransferEventName, block); err != nil {
		return fmt.Errorf("failed to save cursor: %w", err)
	}
	return nil
}
