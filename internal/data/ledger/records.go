package ledger

import "time"

// Deposit journal kinds.
const (
	KindLock   = "lock"
	KindRefund = "refund"
)

// SlotRecord is one allocated slot. Data holds the encoded list bytes.
type SlotRecord struct {
	Address   string `gorm:"primaryKey;size:44"`
	Owner     string `gorm:"size:44;index:idx_slots_owner;not null"`
	Bump      uint8  `gorm:"not null"`
	Capacity  int    `gorm:"not null"`
	Deposit   uint64 `gorm:"not null"`
	Data      []byte `gorm:"type:blob"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// TableName defines the table name for slots.
func (SlotRecord) TableName() string {
	return "slots"
}

// DepositEntry journals deposits locked on allocation and refunded on close.
type DepositEntry struct {
	ID        uint   `gorm:"primaryKey"`
	Address   string `gorm:"size:44;index:idx_deposit_entries_address;not null"`
	Owner     string `gorm:"size:44;index:idx_deposit_entries_owner;not null"`
	Kind      string `gorm:"size:16;not null"`
	Amount    uint64 `gorm:"not null"`
	CreatedAt time.Time
}

// TableName defines the table name for the deposit journal.
func (DepositEntry) TableName() string {
	return "deposit_entries"
}
