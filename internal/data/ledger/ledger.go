package ledger

import (
	"context"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/rotisserie/eris"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"funblink/app/internal/domain/account"
	"funblink/app/internal/domain/blink"
)

const lockStripes = 64

// Options wires the gorm-backed ledger.
type Options struct {
	DB     *gorm.DB
	Logger *logrus.Logger
}

// Ledger stores slots in SQLite. Updates on one address are serialized in-process by a
// striped mutex and atomically committed by a database transaction.
type Ledger struct {
	db     *gorm.DB
	logger *logrus.Logger
	locks  [lockStripes]sync.Mutex
}

var _ blink.Ledger = (*Ledger)(nil)

// NewLedger constructs a ledger over an already migrated database.
func NewLedger(opts Options) (*Ledger, error) {
	if opts.DB == nil {
		return nil, eris.New("gorm DB is required")
	}

	return &Ledger{db: opts.DB, logger: opts.Logger}, nil
}

// Update runs fn in a transaction scoped to address. Writes are discarded when fn fails.
func (l *Ledger) Update(ctx context.Context, address account.Pubkey, fn func(tx blink.SlotTx) error) error {
	if fn == nil {
		return eris.New("update function is required")
	}

	mu := l.stripe(address)
	mu.Lock()
	defer mu.Unlock()

	return l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&slotTx{db: tx, address: address})
	})
}

// Load returns the slot at address, or nil when none is allocated.
func (l *Ledger) Load(ctx context.Context, address account.Pubkey) (*blink.Slot, error) {
	record, err := findSlot(l.db.WithContext(ctx), address)
	if err != nil {
		l.logError(logrus.Fields{"address": address.String()}, err, "loading slot")
		return nil, err
	}
	if record == nil {
		return nil, nil
	}

	return toDomainSlot(record)
}

// Deposits returns the journal entries of owner, oldest first.
func (l *Ledger) Deposits(ctx context.Context, owner account.Pubkey) ([]DepositEntry, error) {
	var entries []DepositEntry
	if err := l.db.WithContext(ctx).Where("owner = ?", owner.String()).Order("id ASC").Find(&entries).Error; err != nil {
		l.logError(logrus.Fields{"owner": owner.String()}, err, "listing deposits")
		return nil, eris.Wrapf(err, "listing deposits for %s", owner)
	}

	return entries, nil
}

func (l *Ledger) stripe(address account.Pubkey) *sync.Mutex {
	return &l.locks[xxhash.Sum64(address[:])%lockStripes]
}

func (l *Ledger) logError(fields logrus.Fields, err error, message string) {
	if l.logger == nil || err == nil {
		return
	}

	entry := l.logger.WithField("error", err.Error())
	if len(fields) > 0 {
		entry = entry.WithFields(fields)
	}
	entry.Error(message)
}

type slotTx struct {
	db      *gorm.DB
	address account.Pubkey
}

var _ blink.SlotTx = (*slotTx)(nil)

func (t *slotTx) Load() (*blink.Slot, error) {
	record, err := findSlot(t.db, t.address)
	if err != nil || record == nil {
		return nil, err
	}

	return toDomainSlot(record)
}

func (t *slotTx) Allocate(owner account.Pubkey, bump uint8, capacity int, deposit uint64) (*blink.Slot, error) {
	record := &SlotRecord{
		Address:  t.address.String(),
		Owner:    owner.String(),
		Bump:     bump,
		Capacity: capacity,
		Deposit:  deposit,
	}

	if err := t.db.Create(record).Error; err != nil {
		return nil, eris.Wrapf(err, "allocating slot %s", t.address)
	}

	if err := t.journal(owner, KindLock, deposit); err != nil {
		return nil, err
	}

	return toDomainSlot(record)
}

func (t *slotTx) Store(data []byte) error {
	record, err := findSlot(t.db, t.address)
	if err != nil {
		return err
	}
	if record == nil {
		return eris.Errorf("slot %s is not allocated", t.address)
	}
	if len(data) > record.Capacity {
		return eris.Wrapf(blink.ErrCapacityExceeded, "storing %d bytes in slot %s of %d", len(data), t.address, record.Capacity)
	}

	result := t.db.Model(&SlotRecord{}).Where("address = ?", record.Address).Update("data", data)
	if result.Error != nil {
		return eris.Wrapf(result.Error, "storing slot %s", t.address)
	}

	return nil
}

func (t *slotTx) Reclaim(refundTo account.Pubkey) (uint64, error) {
	record, err := findSlot(t.db, t.address)
	if err != nil {
		return 0, err
	}
	if record == nil {
		return 0, eris.Errorf("slot %s is not allocated", t.address)
	}

	if err := t.db.Delete(&SlotRecord{}, "address = ?", record.Address).Error; err != nil {
		return 0, eris.Wrapf(err, "reclaiming slot %s", t.address)
	}

	if err := t.journal(refundTo, KindRefund, record.Deposit); err != nil {
		return 0, err
	}

	return record.Deposit, nil
}

func (t *slotTx) journal(owner account.Pubkey, kind string, amount uint64) error {
	entry := &DepositEntry{
		Address: t.address.String(),
		Owner:   owner.String(),
		Kind:    kind,
		Amount:  amount,
	}

	if err := t.db.Create(entry).Error; err != nil {
		return eris.Wrapf(err, "journaling %s deposit for %s", kind, t.address)
	}

	return nil
}

func findSlot(db *gorm.DB, address account.Pubkey) (*SlotRecord, error) {
	var record SlotRecord
	err := db.First(&record, "address = ?", address.String()).Error
	if err != nil {
		if eris.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "fetching slot %s", address)
	}

	return &record, nil
}

func toDomainSlot(record *SlotRecord) (*blink.Slot, error) {
	address, err := account.ParsePubkey(record.Address)
	if err != nil {
		return nil, eris.Wrapf(blink.ErrCorruptSlot, "slot address %q", record.Address)
	}
	owner, err := account.ParsePubkey(record.Owner)
	if err != nil {
		return nil, eris.Wrapf(blink.ErrCorruptSlot, "slot owner %q", record.Owner)
	}

	return &blink.Slot{
		Address:  address,
		Owner:    owner,
		Bump:     record.Bump,
		Capacity: record.Capacity,
		Deposit:  record.Deposit,
		Data:     append([]byte(nil), record.Data...),
	}, nil
}
