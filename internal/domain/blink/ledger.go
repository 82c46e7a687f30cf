package blink

import (
	"context"

	"funblink/app/internal/domain/account"
)

// Ledger is the addressed storage provider. Update runs fn as one atomic unit: either every
// change made through the SlotTx persists, or none does. Updates against the same address
// are serialized.
type Ledger interface {
	Update(ctx context.Context, address account.Pubkey, fn func(tx SlotTx) error) error
	// Load returns the slot at address, or nil when none is allocated.
	Load(ctx context.Context, address account.Pubkey) (*Slot, error)
}

// SlotTx is the view of a single slot inside a ledger transaction.
type SlotTx interface {
	// Load returns the slot, or nil when none is allocated.
	Load() (*Slot, error)
	// Allocate creates an empty slot paid for by owner.
	Allocate(owner account.Pubkey, bump uint8, capacity int, deposit uint64) (*Slot, error)
	// Store replaces the slot data. Data larger than the slot capacity is rejected.
	Store(data []byte) error
	// Reclaim deletes the slot and returns the deposit refunded to refundTo.
	Reclaim(refundTo account.Pubkey) (uint64, error)
}
