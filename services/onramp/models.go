package onramp

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Purpose selects what a settled payment is used for once minted.
type Purpose string

const (
	PurposeSupply Purpose = "supply"
	PurposeRepay  Purpose = "repay"
)

// Status tracks a payment through settlement.
type Status string

const (
	StatusPending Status = "pending"
	StatusSettled Status = "settled"
	StatusFailed  Status = "failed"
)

// Payment is one provider notification. Reference is unique per provider so
// a redelivered webhook never mints twice.
type Payment struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Provider   string    `gorm:"size:64;not null;uniqueIndex:idx_onramp_reference" json:"provider"`
	Reference  string    `gorm:"size:128;not null;uniqueIndex:idx_onramp_reference" json:"reference"`
	Account    string    `gorm:"size:64;index;not null" json:"account"`
	OnBehalfOf string    `gorm:"size:64" json:"onBehalfOf,omitempty"`
	Currency   string    `gorm:"size:8;not null" json:"currency"`
	Purpose    Purpose   `gorm:"size:16;not null" json:"purpose"`
	// Amount is in fiat minor units, kept as a decimal string.
	Amount    string     `gorm:"size:80;not null" json:"amount"`
	ReceiptID string     `gorm:"size:64;uniqueIndex" json:"receiptId"`
	Status    Status     `gorm:"size:16;index;not null" json:"status"`
	Error     string     `gorm:"type:text" json:"error,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
	SettledAt *time.Time `gorm:"index" json:"settledAt,omitempty"`
}

// QuotaUsage holds an account's on-ramp counters for the current epoch.
type QuotaUsage struct {
	Account  string `gorm:"size:64;primaryKey"`
	EpochID  uint64
	ReqCount uint32
	Minted   uint64
}

func (QuotaUsage) TableName() string { return "onramp_quota_usage" }

func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&Payment{}, &QuotaUsage{})
}
