package native

import (
	"context"
	"fmt"
	"time"

	"github.com/mysocial/bridge-relayers/config"
	nativeclient "github.com/mysocial/bridge-relayers/pkg/clients/native"
	"github.com/mysocial/bridge-relayers/pkg/db"
	"github.com/mysocial/bridge-relayers/pkg/events"
	"github.com/mysocial/bridge-relayers/pkg/types"
	"github.com/rs/zerolog/log"
)

const (
	CheckpointEventName = "Checkpoint"

	defaultCheckpointBatch = 100
	defaultRedeliverAfter  = 15 * time.Minute
)

// Chain is the read side of the native client the listener polls.
type Chain interface {
	ChainID() types.BridgeChainId
	LatestCheckpoint(ctx context.Context) (uint64, error)
	GetCheckpoint(ctx context.Context, seq uint64) (*nativeclient.Checkpoint, error)
	GetTransactions(ctx context.Context, digests []types.TxDigest) ([]nativeclient.TransactionBlockResponse, error)
}

// NativeListener walks checkpoints and publishes positive balance changes on
// issued deposit addresses.
type NativeListener struct {
	client         Chain
	store          db.Store
	bus            *events.EventBus
	pollInterval   time.Duration
	batch          uint64
	start          *uint64
	ignoredSenders map[types.NativeAddress]bool

	// next is the first checkpoint not yet read by this process.
	next        *uint64
	unconfirmed *events.Unconfirmed
}

// NewNativeListener builds a listener. Balance changes made by ignoredSenders
// (the relayer's own gas top-ups) are not reported as deposits.
func NewNativeListener(nativeConfig *config.NativeConfig, client Chain, store db.Store, bus *events.EventBus, ignoredSenders ...types.NativeAddress) *NativeListener {
	pollInterval := nativeConfig.PollInterval
	if pollInterval <= 0 {
		pollInterval = 5 * time.Second
	}
	ignored := make(map[types.NativeAddress]bool, len(ignoredSenders))
	for _, sender := range ignoredSenders {
		ignored[sender] = true
	}
	return &NativeListener{
		client:         client,
		store:          store,
		bus:            bus,
		pollInterval:   pollInterval,
		batch:          defaultCheckpointBatch,
		start:          nativeConfig.StartCheckpoint,
		ignoredSenders: ignored,
		unconfirmed:    events.NewUnconfirmed(defaultRedeliverAfter),
	}
}

// WithRedeliverAfter sets how long a published deposit may stay unprocessed
// before it is published again.
func (l *NativeListener) WithRedeliverAfter(d time.Duration) *NativeListener {
	l.unconfirmed = events.NewUnconfirmed(d)
	return l
}

func (l *NativeListener) Run(ctx context.Context) error {
	chain := l.client.ChainID().String()
	log.Info().Str("chain", chain).Dur("pollInterval", l.pollInterval).Msg("[NativeListener] starting deposit listener")
	ticker := time.NewTicker(l.pollInterval)
	defer ticker.Stop()
	for {
		if published, err := l.Poll(ctx); err != nil {
			log.Error().Err(err).Str("chain", chain).Msg("[NativeListener] poll failed")
		} else if published > 0 {
			log.Info().Int("deposits", published).Str("chain", chain).Msg("[NativeListener] published deposits")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Poll processes at most one batch of checkpoints after the cursor.
func (l *NativeListener) Poll(ctx context.Context) (int, error) {
	chain := l.client.ChainID()
	if err := l.redeliver(ctx); err != nil {
		return 0, err
	}
	latest, err := l.client.LatestCheckpoint(ctx)
	if err != nil {
		return 0, err
	}
	from, err := l.nextCheckpoint(ctx, chain, latest)
	if err != nil {
		return 0, err
	}
	if from > latest {
		return 0, l.saveCursor(ctx, chain, from-1)
	}
	to := min(from+l.batch-1, latest)

	rawAddresses, err := l.store.ListDepositAddresses(ctx, chain)
	if err != nil {
		return 0, err
	}
	if len(rawAddresses) == 0 {
		return 0, l.saveCursor(ctx, chain, to)
	}
	watched := make(map[types.NativeAddress]bool, len(rawAddresses))
	for _, raw := range rawAddresses {
		addr, err := types.NativeAddressFromBytes(raw)
		if err != nil {
			continue
		}
		watched[addr] = true
	}

	published := 0
	for seq := from; seq <= to; seq++ {
		checkpoint, err := l.client.GetCheckpoint(ctx, seq)
		if err != nil {
			return published, err
		}
		if len(checkpoint.Transactions) > 0 {
			txs, err := l.client.GetTransactions(ctx, checkpoint.Transactions)
			if err != nil {
				return published, err
			}
			for i := range txs {
				n, err := l.publishDeposits(ctx, chain, &txs[i], checkpoint, watched)
				published += n
				if err != nil {
					return published, err
				}
			}
		}
		if err := l.saveCursor(ctx, chain, seq); err != nil {
			return published, err
		}
	}
	return published, nil
}

func (l *NativeListener) publishDeposits(ctx context.Context, chain types.BridgeChainId, tx *nativeclient.TransactionBlockResponse,
	checkpoint *nativeclient.Checkpoint, watched map[types.NativeAddress]bool) (int, error) {
	if !tx.Succeeded() || l.ignoredSenders[tx.Sender()] {
		return 0, nil
	}
	timestamp := uint64(tx.TimestampMs)
	if timestamp == 0 {
		timestamp = uint64(checkpoint.TimestampMs)
	}
	published := 0
	for index := range tx.BalanceChanges {
		change := &tx.BalanceChanges[index]
		if change.Owner.AddressOwner == nil || !watched[*change.Owner.AddressOwner] {
			continue
		}
		amount, ok := change.PositiveAmount()
		if !ok || index > int(^uint16(0)) {
			continue
		}
		event := &types.NativeDepositEvent{
			SourceChain:        chain,
			TxDigest:           tx.Digest,
			Sender:             tx.Sender(),
			Recipient:          *change.Owner.AddressOwner,
			CoinType:           change.CoinType,
			Amount:             amount,
			TimestampMs:        timestamp,
			BalanceChangeIndex: uint16(index),
		}
		processed, err := l.store.IsDepositProcessed(ctx, event.Key())
		if err != nil {
			return published, err
		}
		if processed {
			continue
		}
		log.Info().Str("txDigest", event.TxDigest.String()).Str("recipient", event.Recipient.Hex()).
			Uint64("amount", event.Amount).Str("coinType", event.CoinType).
			Uint16("balanceChangeIndex", event.BalanceChangeIndex).
			Msg("[NativeListener] deposit detected")
		envelope := &events.EventEnvelope{EventType: events.EVENT_NATIVE_DEPOSIT, SourceChain: chain.String(), Data: event}
		if err := l.bus.BroadcastEvent(ctx, envelope); err != nil {
			return published, err
		}
		l.unconfirmed.Add(event.Key(), uint64(checkpoint.SequenceNumber), envelope)
		published++
	}
	return published, nil
}

func (l *NativeListener) redeliver(ctx context.Context) error {
	due, err := l.unconfirmed.Refresh(ctx, l.store)
	if err != nil {
		return fmt.Errorf("failed to check unconfirmed deposits: %w", err)
	}
	for _, envelope := range due {
		if event, ok := envelope.Data.(*types.NativeDepositEvent); ok {
			log.Warn().Str("txDigest", event.TxDigest.String()).Uint16("balanceChangeIndex", event.BalanceChangeIndex).
				Msg("[NativeListener] deposit still unprocessed, publishing again")
		}
		if err := l.bus.BroadcastEvent(ctx, envelope); err != nil {
			return err
		}
	}
	return nil
}

func (l *NativeListener) nextCheckpoint(ctx context.Context, chain types.BridgeChainId, latest uint64) (uint64, error) {
	if l.next != nil {
		return *l.next, nil
	}
	cursor, ok, err := l.store.GetLastEventCheckPoint(ctx, chain.String(), CheckpointEventName)
	if err != nil {
		return 0, fmt.Errorf("failed to read cursor: %w", err)
	}
	if ok {
		return cursor + 1, nil
	}
	if l.start != nil {
		return *l.start, nil
	}
	return latest, nil
}

// saveCursor records that seq was read. The stored cursor stops below the
// checkpoint of the oldest unprocessed deposit.
func (l *NativeListener) saveCursor(ctx context.Context, chain types.BridgeChainId, scanned uint64) error {
	next := scanned + 1
	l.next = &next
	seq, ok := l.unconfirmed.Checkpoint(scanned)
	if !ok {
		return nil
	}
	if err := l.store.UpdateLastEventCheckPoint(ctx, chain.String(), CheckpointEventName, seq); err != nil {
		return fmt.Errorf("failed to save cursor: %w", err)
	}
	return nil
}
