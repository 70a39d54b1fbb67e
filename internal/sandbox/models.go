package sandbox

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// User represents the users table.
type User struct {
	UserID        string  `gorm:"primaryKey;size:36"`
	OpenID        string  `gorm:"size:64;not null;uniqueIndex"`
	Nickname      string  `gorm:"size:64"`
	AvatarURL     string  `gorm:"size:255"`
	Phone         string  `gorm:"size:20"`
	RealName      string  `gorm:"size:64"`
	IDCardSuffix  string  `gorm:"size:8"`
	IsVerified    bool    `gorm:"not null;default:false"`
	Points        int64   `gorm:"not null;default:0"`
	TotalWeightKg float64 `gorm:"not null;default:0"`
	TotalCarbonKg float64 `gorm:"not null;default:0"`
	TotalCount    int64   `gorm:"not null;default:0"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (User) TableName() string { return "users" }

func (user *User) BeforeCreate(tx *gorm.DB) error {
	if user.UserID == "" {
		user.UserID = uuid.NewString()
	}
	return nil
}

// Device represents the devices table.
type Device struct {
	DeviceID        string  `gorm:"primaryKey;size:64"`
	Name            string  `gorm:"size:128;not null"`
	Address         string  `gorm:"size:255"`
	Latitude        float64 `gorm:"not null"`
	Longitude       float64 `gorm:"not null"`
	Status          int     `gorm:"not null;default:1"`
	UnitPriceCents  int64   `gorm:"not null"`
	CapacityPercent float64 `gorm:"not null;default:0"`
	SecretKey       string  `gorm:"size:128;not null"`
	CreatedAt       time.Time
}

func (Device) TableName() string { return "devices" }

// Order represents the orders table.
type Order struct {
	OrderID        string  `gorm:"primaryKey;size:32"`
	VoucherID      string  `gorm:"size:64;not null;uniqueIndex"`
	DeviceID       string  `gorm:"size:64;not null;index"`
	UserID         *string `gorm:"size:36;index:idx_orders_user_created,priority:1"`
	WeightKg       float64 `gorm:"not null"`
	UnitPriceCents int64   `gorm:"not null"`
	AmountCents    int64   `gorm:"not null"`
	CarbonKg       float64 `gorm:"not null"`
	Points         int64   `gorm:"not null"`
	Status         int     `gorm:"not null;default:0"`
	IssuedAt       time.Time
	ExpiresAt      time.Time
	ClaimedAt      *time.Time
	CreatedAt      time.Time `gorm:"index:idx_orders_user_created,priority:2"`
}

func (Order) TableName() string { return "orders" }

// LedgerEntry mirrors the ledger_entries table backing wallet records.
// Income entries make up the balance; withdraw entries record holds whose
// amount is frozen while the matching withdrawal is pending.
type LedgerEntry struct {
	EntryID        string         `gorm:"primaryKey;size:36"`
	UserID         string         `gorm:"size:36;not null;index:idx_ledger_user_created,priority:1"`
	Type           string         `gorm:"size:16;not null"`
	AmountCents    int64          `gorm:"not null"`
	WithdrawalID   *string        `gorm:"size:36;index"`
	IdempotencyKey string         `gorm:"size:128;not null;uniqueIndex"`
	Remark         string         `gorm:"size:255"`
	Metadata       datatypes.JSON `gorm:"not null"`
	CreatedAt      time.Time      `gorm:"not null;index:idx_ledger_user_created,priority:2"`
}

func (LedgerEntry) TableName() string { return "ledger_entries" }

func (entry *LedgerEntry) BeforeCreate(tx *gorm.DB) error {
	if entry.EntryID == "" {
		entry.EntryID = "REC" + shortHex(12)
	}
	return nil
}

// Withdrawal represents the withdrawals table.
type Withdrawal struct {
	WithdrawalID string    `gorm:"primaryKey;size:36"`
	UserID       string    `gorm:"size:36;not null;index:idx_withdrawals_user_created,priority:1"`
	AmountCents  int64     `gorm:"not null"`
	Channel      string    `gorm:"size:16;not null"`
	Status       string    `gorm:"size:16;not null"`
	CreatedAt    time.Time `gorm:"not null;index:idx_withdrawals_user_created,priority:2"`
}

func (Withdrawal) TableName() string { return "withdrawals" }

func (withdrawal *Withdrawal) BeforeCreate(tx *gorm.DB) error {
	if withdrawal.WithdrawalID == "" {
		withdrawal.WithdrawalID = uuid.NewString()
	}
	return nil
}

// Models lists every table owned by the sandbox.
func Models() []any {
	return []any{&User{}, &Device{}, &Order{}, &LedgerEntry{}, &Withdrawal{}}
}
