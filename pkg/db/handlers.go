package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/mysocial/bridge-relayers/pkg/db/models"
	"github.com/mysocial/bridge-relayers/pkg/types"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

func (db *DatabaseAdapter) InsertRegistrations(ctx context.Context, regs ...*types.DepositRegistration) error {
	rows := make([]models.DepositRegistration, 0, len(regs))
	for _, reg := range regs {
		if err := reg.Validate(); err != nil {
			return err
		}
		rows = append(rows, models.RegistrationFromDomain(reg))
	}
	return db.PostgresClient.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i := range rows {
			result := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "deposit_address"}},
				DoNothing: true,
			}).Create(&rows[i])
			if result.Error != nil {
				return fmt.Errorf("failed to insert deposit registration: %w", result.Error)
			}
			if result.RowsAffected == 0 {
				return fmt.Errorf("%w: %s", ErrRegistrationExists, rows[i].DepositAddress)
			}
		}
		return nil
	})
}

func (db *DatabaseAdapter) FindRegistrationsBySource(ctx context.Context, source []byte) ([]*types.DepositRegistration, error) {
	var rows []models.DepositRegistration
	result := db.PostgresClient.WithContext(ctx).
		Where("source_address = ?", models.EncodeAddress(source)).
		Order("id").
		Find(&rows)
	if result.Error != nil {
		return nil, result.Error
	}
	regs := make([]*types.DepositRegistration, 0, len(rows))
	for i := range rows {
		reg, err := rows[i].ToDomain()
		if err != nil {
			return nil, err
		}
		regs = append(regs, reg)
	}
	return regs, nil
}

func (db *DatabaseAdapter) FindRegistrationByDepositAddress(ctx context.Context, depositAddress []byte) (*types.DepositRegistration, error) {
	var row models.DepositRegistration
	result := db.PostgresClient.WithContext(ctx).
		Where("deposit_address = ?", models.EncodeAddress(depositAddress)).
		First(&row)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrRegistrationNotFound, models.EncodeAddress(depositAddress))
	}
	if result.Error != nil {
		return nil, result.Error
	}
	return row.ToDomain()
}

func (db *DatabaseAdapter) ListDepositAddresses(ctx context.Context, chain types.BridgeChainId) ([][]byte, error) {
	var rows []models.DepositRegistration
	result := db.PostgresClient.WithContext(ctx).
		Select("deposit_address").
		Where("deposit_chain = ?", uint8(chain)).
		Find(&rows)
	if result.Error != nil {
		return nil, result.Error
	}
	addresses := make([][]byte, 0, len(rows))
	for _, row := range rows {
		address, err := hexutil.Decode(row.DepositAddress)
		if err != nil {
			return nil, fmt.Errorf("deposit address %q: %w", row.DepositAddress, err)
		}
		addresses = append(addresses, address)
	}
	return addresses, nil
}

func (db *DatabaseAdapter) IsDepositProcessed(ctx context.Context, key types.DepositTxKey) (bool, error) {
	var count int64
	result := db.PostgresClient.WithContext(ctx).
		Model(&models.ProcessedDeposit{}).
		Where("id = ?", key.String()).
		Count(&count)
	if result.Error != nil {
		return false, result.Error
	}
	return count > 0, nil
}

func (db *DatabaseAdapter) MarkDepositProcessed(ctx context.Context, record *types.DepositRecord) (bool, error) {
	if record.ProcessedAt.IsZero() {
		record.ProcessedAt = time.Now().UTC()
	}
	row := models.ProcessedDepositFromDomain(record)
	result := db.PostgresClient.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&row)
	if result.Error != nil {
		return false, fmt.Errorf("failed to mark deposit %s processed: %w", row.ID, result.Error)
	}
	if result.RowsAffected == 0 {
		log.Warn().Str("key", row.ID).Msg("[DatabaseAdapter] [MarkDepositProcessed] deposit already marked processed")
		return false, nil
	}
	return true, nil
}

func (db *DatabaseAdapter) GetDepositRecord(ctx context.Context, key types.DepositTxKey) (*types.DepositRecord, error) {
	var row models.ProcessedDeposit
	result := db.PostgresClient.WithContext(ctx).Where("id = ?", key.String()).First(&row)
	if result.Error != nil {
		return nil, result.Error
	}
	return row.ToDomain()
}

func (db *DatabaseAdapter) IncrementCounter(ctx context.Context, namespace string) (uint64, error) {
	var previous uint64
	err := db.PostgresClient.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.OnConflict{DoNothing: true}).
			Create(&models.HDCounter{Namespace: namespace}).Error
		if err != nil {
			return err
		}
		var counter models.HDCounter
		err = tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("namespace = ?", namespace).
			First(&counter).Error
		if err != nil {
			return err
		}
		previous = counter.NextIndex
		return tx.Model(&models.HDCounter{}).
			Where("namespace = ?", namespace).
			Update("next_index", previous+1).Error
	})
	if err != nil {
		return 0, fmt.Errorf("failed to increment %s counter: %w", namespace, err)
	}
	return previous, nil
}

func (db *DatabaseAdapter) GetLastEventCheckPoint(ctx context.Context, chainName, eventName string) (uint64, bool, error) {
	var checkpoint models.EventCheckPoint
	result := db.PostgresClient.WithContext(ctx).
		Where("chain_name = ? AND event_name = ?", chainName, eventName).
		First(&checkpoint)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return 0, false, nil
	}
	if result.Error != nil {
		return 0, false, result.Error
	}
	return checkpoint.BlockNumber, true, nil
}

func (db *DatabaseAdapter) UpdateLastEventCheckPoint(ctx context.Context, chainName, eventName string, blockNumber uint64) error {
	value := &models.EventCheckPoint{ChainName: chainName, EventName: eventName, BlockNumber: blockNumber}
	result := db.PostgresClient.WithContext(ctx).Clauses(
		clause.OnConflict{
			Columns: []clause.Column{{Name: "chain_name"}, {Name: "event_name"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"block_number": blockNumber,
				"updated_at":   time.Now(),
			}),
		},
	).Create(value)
	if result.Error != nil {
		return fmt.Errorf("failed to update last event check point: %w", result.Error)
	}
	return nil
}
