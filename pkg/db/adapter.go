package db

import (
	"fmt"

	"github.com/mysocial/bridge-relayers/pkg/db/models"
	"github.com/rs/zerolog/log"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var _ Store = (*DatabaseAdapter)(nil)

type DatabaseAdapter struct {
	PostgresClient *gorm.DB
}

func NewDatabaseAdapter(dsn string) (*DatabaseAdapter, error) {
	client, err := NewPostgresClient(dsn)
	if err != nil {
		return nil, err
	}
	return &DatabaseAdapter{PostgresClient: client}, nil
}

func NewPostgresClient(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	if err := RunMigrations(db); err != nil {
		return nil, err
	}
	log.Info().Msg("[DatabaseAdapter] Connected to Postgres")
	return db, nil
}

func RunMigrations(db *gorm.DB) error {
	err := db.AutoMigrate(
		&models.EventCheckPoint{},
		&models.DepositRegistration{},
		&models.ProcessedDeposit{},
		&models.HDCounter{},
	)
	if err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}
	return nil
}

func (db *DatabaseAdapter) Close() error {
	sqlDB, err := db.PostgresClient.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
