package blink

import (
	"context"

	"github.com/getsentry/sentry-go"
	"github.com/rotisserie/eris"
	"github.com/sirupsen/logrus"

	"funblink/app/internal/domain/account"
	"funblink/app/internal/domain/address"
)

// Service defines the operations on per-owner blink lists.
type Service interface {
	CreateBlink(ctx context.Context, call Call, b Blink) (*Snapshot, error)
	DeleteBlink(ctx context.Context, call Call, id string) (*Snapshot, error)
	CloseBlink(ctx context.Context, call Call) (*Closed, error)
	GetList(ctx context.Context, owner account.Pubkey) (*Snapshot, error)
	FindBlink(ctx context.Context, listAddress account.Pubkey, id string) (*Blink, error)
	Derive(owner account.Pubkey) (address.Derived, error)
}

// ServiceOptions wires the blink service.
type ServiceOptions struct {
	Ledger    Ledger
	Deriver   *address.Deriver
	Capacity  int
	Rent      Rent
	Logger    *logrus.Logger
	SentryHub *sentry.Hub
}

type service struct {
	ledger    Ledger
	deriver   *address.Deriver
	capacity  int
	rent      Rent
	logger    *logrus.Logger
	sentryHub *sentry.Hub
}

var _ Service = (*service)(nil)

// NewService validates the options and returns the blink service.
func NewService(opts ServiceOptions) (Service, error) {
	if opts.Ledger == nil {
		return nil, eris.New("ledger is required")
	}
	if opts.Deriver == nil {
		return nil, eris.New("address deriver is required")
	}

	capacity := opts.Capacity
	if capacity == 0 {
		capacity = DefaultCapacity
	}
	if floor := EncodedSize(&List{}); capacity < floor {
		return nil, eris.Errorf("slot capacity %d is below the %d bytes an empty list needs", capacity, floor)
	}

	rent := opts.Rent
	if rent == (Rent{}) {
		rent = DefaultRent
	}

	return &service{
		ledger:    opts.Ledger,
		deriver:   opts.Deriver,
		capacity:  capacity,
		rent:      rent,
		logger:    opts.Logger,
		sentryHub: opts.SentryHub,
	}, nil
}

func (s *service) CreateBlink(ctx context.Context, call Call, b Blink) (*Snapshot, error) {
	fields := logrus.Fields{"owner": call.Owner.String(), "blink_id": b.ID}

	derived, err := s.resolve(call)
	if err != nil {
		s.recordError(fields, err, "resolving blink list for create")
		return nil, eris.Wrap(err, "resolving blink list")
	}
	fields["list"] = derived.Address.String()

	var snapshot *Snapshot
	err = s.ledger.Update(ctx, derived.Address, func(tx SlotTx) error {
		slot, err := tx.Load()
		if err != nil {
			return err
		}

		if slot == nil {
			slot, err = tx.Allocate(call.Owner, derived.Bump, s.capacity, s.rent.MinimumBalance(s.capacity))
			if err != nil {
				return err
			}
		} else if err := s.authorize(slot, call.Owner); err != nil {
			return err
		}

		list, err := Decode(slot.Data)
		if err != nil {
			return err
		}
		if list == nil {
			list = &List{}
		}

		if list.Contains(b.ID) {
			return eris.Wrapf(ErrBlinkExists, "blink id %q", b.ID)
		}
		list.Append(b)

		data, err := Encode(list, slot.Capacity)
		if err != nil {
			return err
		}
		if err := tx.Store(data); err != nil {
			return err
		}

		snapshot = newSnapshot(slot, list, len(data))
		return nil
	})
	if err != nil {
		s.recordError(fields, err, "creating blink")
		return nil, eris.Wrapf(err, "creating blink %q", b.ID)
	}

	s.logInfo(fields, "blink created")
	return snapshot, nil
}

func (s *service) DeleteBlink(ctx context.Context, call Call, id string) (*Snapshot, error) {
	fields := logrus.Fields{"owner": call.Owner.String(), "blink_id": id}

	derived, err := s.resolve(call)
	if err != nil {
		s.recordError(fields, err, "resolving blink list for delete")
		return nil, eris.Wrap(err, "resolving blink list")
	}
	fields["list"] = derived.Address.String()

	var snapshot *Snapshot
	err = s.ledger.Update(ctx, derived.Address, func(tx SlotTx) error {
		slot, list, err := s.loadInitialized(tx, call.Owner)
		if err != nil {
			return err
		}

		removed := list.Remove(id)
		fields["removed"] = removed

		data, err := Encode(list, slot.Capacity)
		if err != nil {
			return err
		}
		if removed > 0 {
			if err := tx.Store(data); err != nil {
				return err
			}
		}

		snapshot = newSnapshot(slot, list, len(data))
		return nil
	})
	if err != nil {
		s.recordError(fields, err, "deleting blink")
		return nil, eris.Wrapf(err, "deleting blink %q", id)
	}

	s.logInfo(fields, "blink deleted")
	return snapshot, nil
}

// CloseBlink fails with ErrListNotInitialized when the list was already absent before the
// call; otherwise the slot is reclaimed and its deposit refunded to the owner.
func (s *service) CloseBlink(ctx context.Context, call Call) (*Closed, error) {
	fields := logrus.Fields{"owner": call.Owner.String()}

	derived, err := s.resolve(call)
	if err != nil {
		s.recordError(fields, err, "resolving blink list for close")
		return nil, eris.Wrap(err, "resolving blink list")
	}
	fields["list"] = derived.Address.String()

	var closed *Closed
	err = s.ledger.Update(ctx, derived.Address, func(tx SlotTx) error {
		if _, _, err := s.loadInitialized(tx, call.Owner); err != nil {
			return err
		}

		refunded, err := tx.Reclaim(call.Owner)
		if err != nil {
			return err
		}

		closed = &Closed{Address: derived.Address, Refunded: refunded}
		return nil
	})
	if err != nil {
		s.recordError(fields, err, "closing blink list")
		return nil, eris.Wrap(err, "closing blink list")
	}

	fields["refunded"] = closed.Refunded
	s.logInfo(fields, "blink list closed")
	return closed, nil
}

func (s *service) GetList(ctx context.Context, owner account.Pubkey) (*Snapshot, error) {
	derived, err := s.deriver.Derive(owner)
	if err != nil {
		return nil, eris.Wrap(err, "deriving blink list address")
	}

	slot, list, err := s.loadList(ctx, derived.Address)
	if err != nil {
		s.recordError(logrus.Fields{"owner": owner.String()}, err, "loading blink list")
		return nil, eris.Wrapf(err, "loading blink list for %s", owner)
	}

	return newSnapshot(slot, list, EncodedSize(list)), nil
}

func (s *service) FindBlink(ctx context.Context, listAddress account.Pubkey, id string) (*Blink, error) {
	_, list, err := s.loadList(ctx, listAddress)
	if err != nil {
		s.recordError(logrus.Fields{"list": listAddress.String(), "blink_id": id}, err, "loading blink list")
		return nil, eris.Wrapf(err, "loading blink list %s", listAddress)
	}

	found := list.Find(id)
	if found == nil {
		return nil, eris.Wrapf(ErrBlinkNotFound, "blink id %q in list %s", id, listAddress)
	}

	return found, nil
}

func (s *service) Derive(owner account.Pubkey) (address.Derived, error) {
	return s.deriver.Derive(owner)
}

func (s *service) resolve(call Call) (address.Derived, error) {
	derived, err := s.deriver.Derive(call.Owner)
	if err != nil {
		return address.Derived{}, err
	}

	if call.ListAddress != nil && !call.ListAddress.Equal(derived.Address) {
		return address.Derived{}, eris.Wrapf(ErrAuthorizationFailed, "list %s is not derived from owner %s", call.ListAddress, call.Owner)
	}

	return derived, nil
}

func (s *service) loadList(ctx context.Context, listAddress account.Pubkey) (*Slot, *List, error) {
	slot, err := s.ledger.Load(ctx, listAddress)
	if err != nil {
		return nil, nil, err
	}
	if slot == nil {
		return nil, nil, eris.Wrap(ErrListNotInitialized, "no slot allocated")
	}

	list, err := Decode(slot.Data)
	if err != nil {
		return nil, nil, err
	}
	if list == nil {
		return nil, nil, eris.Wrap(ErrListNotInitialized, "slot is not initialized")
	}

	return slot, list, nil
}

func (s *service) loadInitialized(tx SlotTx, owner account.Pubkey) (*Slot, *List, error) {
	slot, err := tx.Load()
	if err != nil {
		return nil, nil, err
	}
	if slot == nil {
		return nil, nil, eris.Wrap(ErrListNotInitialized, "no slot allocated")
	}
	if err := s.authorize(slot, owner); err != nil {
		return nil, nil, err
	}

	list, err := Decode(slot.Data)
	if err != nil {
		return nil, nil, err
	}
	if list == nil {
		return nil, nil, eris.Wrap(ErrListNotInitialized, "slot is not initialized")
	}

	return slot, list, nil
}

// authorize requires the caller to own the slot and the stored bump to re-derive its address.
func (s *service) authorize(slot *Slot, owner account.Pubkey) error {
	if !slot.Owner.Equal(owner) {
		return eris.Wrapf(ErrAuthorizationFailed, "slot %s belongs to %s", slot.Address, slot.Owner)
	}
	if err := s.deriver.Verify(owner, slot.Address, slot.Bump); err != nil {
		return eris.Wrapf(ErrAuthorizationFailed, "slot %s: %v", slot.Address, err)
	}
	return nil
}

func newSnapshot(slot *Slot, list *List, size int) *Snapshot {
	return &Snapshot{
		Address:  slot.Address,
		Owner:    slot.Owner,
		Bump:     slot.Bump,
		Capacity: slot.Capacity,
		Size:     size,
		Deposit:  slot.Deposit,
		Blinks:   append([]Blink{}, list.Blinks...),
	}
}

func (s *service) logInfo(fields logrus.Fields, message string) {
	if s.logger == nil {
		return
	}
	s.logger.WithFields(fields).Info(message)
}

// recordError logs domain failures as warnings and reports everything else to Sentry.
func (s *service) recordError(fields logrus.Fields, err error, message string) {
	if err == nil {
		return
	}

	if code, ok := CodeOf(err); ok {
		if s.logger != nil {
			s.logger.WithFields(fields).WithField("code", code.Name).Warn(message)
		}
		return
	}

	if s.logger != nil {
		entry := s.logger.WithField("error", err.Error())
		if len(fields) > 0 {
			entry = entry.WithFields(fields)
		}
		entry.Error(message)
	}

	if s.sentryHub != nil {
		s.sentryHub.CaptureException(err)
	}
}
