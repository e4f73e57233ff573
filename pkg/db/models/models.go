package models

import (
	"time"

	"gorm.io/gorm"
)

// Store last scanned block or checkpoint of a chain watcher
type EventCheckPoint struct {
	gorm.Model
	ChainName   string `gorm:"uniqueIndex:idx_chain_event;type:varchar(255)"`
	EventName   string `gorm:"uniqueIndex:idx_chain_event;type:varchar(255)"`
	BlockNumber uint64 `gorm:"type:bigint"`
}

// Addresses are stored as 0x prefixed lower case hex
type DepositRegistration struct {
	ID                 uint      `gorm:"primaryKey;autoIncrement"`
	SourceAddress      string    `gorm:"index;type:varchar(66)"`
	DepositChain       uint8     `gorm:"not null"`
	DepositAddress     string    `gorm:"uniqueIndex;type:varchar(66)"`
	DestinationChain   uint8     `gorm:"not null"`
	DestinationAddress string    `gorm:"type:varchar(66)"`
	HDIndex            uint64    `gorm:"type:bigint"`
	RegistrationType   string    `gorm:"type:varchar(32)"`
	CreatedAt          time.Time `gorm:"type:timestamp(6);default:current_timestamp(6)"`
	LastUsed           *time.Time
}

// ProcessedDeposit is keyed by the DepositTxKey string
type ProcessedDeposit struct {
	ID          string `gorm:"primaryKey;type:varchar(255)"`
	SourceChain uint8
	TxID        string `gorm:"type:varchar(66)"`
	EventIndex  uint64 `gorm:"type:bigint"`
	BridgeTxID  string `gorm:"type:varchar(255)"`
	Amount      string `gorm:"type:varchar(78)"`
	ProcessedAt time.Time
}

type HDCounter struct {
	Namespace string `gorm:"primaryKey;type:varchar(64)"`
	NextIndex uint64 `gorm:"type:bigint"`
}
