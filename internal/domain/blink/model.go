package blink

import "funblink/app/internal/domain/account"

// Blink is a single shareable action link owned by one identity.
type Blink struct {
	ID          string
	Title       string
	Icon        string
	Description string
	Label       string
	ToPubkey    string
	Link        string
}

// List is the ordered set of blinks held in one owner's slot. A nil *List stands for a slot
// whose state is absent.
type List struct {
	Blinks []Blink
}

// Len returns the number of blinks in the list.
func (l *List) Len() int {
	if l == nil {
		return 0
	}
	return len(l.Blinks)
}

// Contains reports whether a blink with the id is present.
func (l *List) Contains(id string) bool {
	return l.Find(id) != nil
}

// Find returns a copy of the first blink with the id, or nil.
func (l *List) Find(id string) *Blink {
	if l == nil {
		return nil
	}
	for _, b := range l.Blinks {
		if b.ID == id {
			found := b
			return &found
		}
	}
	return nil
}

// Append adds b after every existing blink.
func (l *List) Append(b Blink) {
	l.Blinks = append(l.Blinks, b)
}

// Remove drops every blink whose id matches, keeping the survivors in order. It returns
// the number of blinks removed.
func (l *List) Remove(id string) int {
	if l == nil {
		return 0
	}

	kept := l.Blinks[:0]
	for _, b := range l.Blinks {
		if b.ID != id {
			kept = append(kept, b)
		}
	}

	removed := len(l.Blinks) - len(kept)
	for i := len(kept); i < len(l.Blinks); i++ {
		l.Blinks[i] = Blink{}
	}
	l.Blinks = kept
	return removed
}

// Slot is one addressed, fixed-capacity storage unit as held by the ledger.
type Slot struct {
	Address  account.Pubkey
	Owner    account.Pubkey
	Bump     uint8
	Capacity int
	Deposit  uint64
	Data     []byte
}

// Snapshot describes an owner's list after an operation.
type Snapshot struct {
	Address  account.Pubkey
	Owner    account.Pubkey
	Bump     uint8
	Capacity int
	Size     int
	Deposit  uint64
	Blinks   []Blink
}

// Closed reports the outcome of closing a list.
type Closed struct {
	Address  account.Pubkey
	Refunded uint64
}

// Call identifies who is invoking an operation. ListAddress, when set, is the slot the
// caller claims to control and must equal the derived address.
type Call struct {
	Owner       account.Pubkey
	ListAddress *account.Pubkey
}
