package address

import (
	"strings"

	"github.com/patrickmn/go-cache"
	"github.com/rotisserie/eris"

	"funblink/app/internal/domain/account"
)

// ErrAddressMismatch is returned by Verify when an address and bump do not belong to the owner.
var ErrAddressMismatch = eris.New("address does not match owner derivation")

// Derived is the slot address of one owner plus the bump that re-derives it.
type Derived struct {
	Address account.Pubkey
	Bump    uint8
}

// Deriver maps owners to their slot address under a fixed namespace and program id.
type Deriver struct {
	program   account.Pubkey
	namespace []byte
	memo      *cache.Cache
}

// NewDeriver builds a Deriver for the given program id and namespace tag.
func NewDeriver(program account.Pubkey, namespace string) (*Deriver, error) {
	if program.IsZero() {
		return nil, eris.New("program id is required")
	}

	trimmed := strings.TrimSpace(namespace)
	if trimmed == "" {
		return nil, eris.New("namespace is required")
	}
	if len(trimmed) > MaxSeedLength {
		return nil, eris.Wrapf(ErrInvalidSeeds, "namespace %q is longer than %d bytes", trimmed, MaxSeedLength)
	}

	return &Deriver{
		program:   program,
		namespace: []byte(trimmed),
		memo:      cache.New(cache.NoExpiration, 0),
	}, nil
}

// Program returns the program id the Deriver hashes with.
func (d *Deriver) Program() account.Pubkey {
	return d.program
}

// Namespace returns the seed tag shared by every owner.
func (d *Deriver) Namespace() string {
	return string(d.namespace)
}

// Derive returns the owner's slot address. Results are memoized; the search only runs once
// per owner.
func (d *Deriver) Derive(owner account.Pubkey) (Derived, error) {
	if owner.IsZero() {
		return Derived{}, eris.New("owner is required")
	}

	key := owner.String()
	if cached, ok := d.memo.Get(key); ok {
		if derived, ok := cached.(Derived); ok {
			return derived, nil
		}
	}

	addr, bump, err := FindProgramAddress(d.seeds(owner), d.program)
	if err != nil {
		return Derived{}, eris.Wrapf(err, "deriving address for owner %s", key)
	}

	derived := Derived{Address: addr, Bump: bump}
	d.memo.Set(key, derived, cache.NoExpiration)
	return derived, nil
}

// Verify re-derives the address from the supplied bump and checks it matches.
func (d *Deriver) Verify(owner account.Pubkey, address account.Pubkey, bump uint8) error {
	seeds := append(d.seeds(owner), []byte{bump})

	derived, err := CreateProgramAddress(seeds, d.program)
	if err != nil {
		return eris.Wrap(ErrAddressMismatch, err.Error())
	}
	if !derived.Equal(address) {
		return eris.Wrapf(ErrAddressMismatch, "owner %s with bump %d derives %s, not %s", owner, bump, derived, address)
	}

	return nil
}

func (d *Deriver) seeds(owner account.Pubkey) [][]byte {
	return [][]byte{d.namespace, owner.Bytes()}
}
