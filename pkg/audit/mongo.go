package audit

import (
	"context"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/mysocial/bridge-relayers/config"
	"github.com/mysocial/bridge-relayers/pkg/types"
	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	DefaultCollection = "relay_history"
	defaultTimeout    = 10 * time.Second
)

// RelayHistory is one document of the relay_history collection.
type RelayHistory struct {
	DepositKey       string    `bson:"deposit_key"`
	SourceChain      uint8     `bson:"source_chain"`
	TxID             string    `bson:"tx_id"`
	Index            uint64    `bson:"index"`
	DepositAddress   string    `bson:"deposit_address"`
	DestinationChain uint8     `bson:"destination_chain"`
	Token            string    `bson:"token"`
	Amount           string    `bson:"amount"`
	Status           string    `bson:"status"`
	BridgeTxID       string    `bson:"bridge_tx_id,omitempty"`
	Reason           string    `bson:"reason,omitempty"`
	At               time.Time `bson:"at"`
}

// MongoRecorder appends relay outcomes to Mongo.
type MongoRecorder struct {
	client     *mongo.Client
	collection *mongo.Collection
}

func NewMongoRecorder(ctx context.Context, cfg config.MongoConfig) (*MongoRecorder, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	clientOpts := options.Client().
		ApplyURI(cfg.URI).
		SetMaxPoolSize(20).
		SetServerSelectionTimeout(5 * time.Second).
		SetRetryWrites(true)

	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping mongo: %w", err)
	}

	name := cfg.Collection
	if name == "" {
		name = DefaultCollection
	}
	r := &MongoRecorder{
		client:     client,
		collection: client.Database(cfg.Database).Collection(name),
	}
	if err := r.createIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return r, nil
}

func (r *MongoRecorder) createIndexes(ctx context.Context) error {
	_, err := r.collection.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "deposit_key", Value: 1}, {Key: "at", Value: 1}}},
		{Keys: bson.D{{Key: "deposit_address", Value: 1}}},
		{Keys: bson.D{{Key: "status", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("failed to create relay_history indexes: %w", err)
	}
	return nil
}

func (r *MongoRecorder) Record(ctx context.Context, outcome *types.RelayOutcome) error {
	doc := NewRelayHistory(outcome)
	if _, err := r.collection.InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("failed to insert relay history: %w", err)
	}
	log.Debug().Str("key", doc.DepositKey).Str("status", doc.Status).Msg("[Audit] recorded relay outcome")
	return nil
}

// History returns the outcomes recorded for a deposit, oldest first.
func (r *MongoRecorder) History(ctx context.Context, key types.DepositTxKey) ([]RelayHistory, error) {
	opts := options.Find().SetSort(bson.D{{Key: "at", Value: 1}})
	cursor, err := r.collection.Find(ctx, bson.D{{Key: "deposit_key", Value: key.String()}}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query relay history: %w", err)
	}
	defer cursor.Close(ctx)

	var history []RelayHistory
	if err := cursor.All(ctx, &history); err != nil {
		return nil, fmt.Errorf("failed to decode relay history: %w", err)
	}
	return history, nil
}

func (r *MongoRecorder) Close(ctx context.Context) error {
	return r.client.Disconnect(ctx)
}

func NewRelayHistory(outcome *types.RelayOutcome) RelayHistory {
	at := outcome.At
	if at.IsZero() {
		at = time.Now()
	}
	return RelayHistory{
		DepositKey:       outcome.Key.String(),
		SourceChain:      uint8(outcome.Key.SourceChain),
		TxID:             hex.EncodeToString(outcome.Key.TxID[:]),
		Index:            outcome.Key.Index,
		DepositAddress:   "0x" + hex.EncodeToString(outcome.DepositAddress),
		DestinationChain: uint8(outcome.DestinationChain),
		Token:            outcome.Token,
		Amount:           outcome.Amount,
		Status:           string(outcome.Status),
		BridgeTxID:       outcome.BridgeTxID,
		Reason:           outcome.Reason,
		At:               at.UTC(),
	}
}
