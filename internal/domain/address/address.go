package address

import (
	"crypto/sha256"

	"filippo.io/edwards25519"
	"github.com/rotisserie/eris"

	"funblink/app/internal/domain/account"
)

const (
	// MaxSeeds bounds the number of seeds, bump included.
	MaxSeeds = 16
	// MaxSeedLength bounds the size of a single seed.
	MaxSeedLength = 32

	derivationMarker = "ProgramDerivedAddress"
)

var (
	// ErrInvalidSeeds is returned when seeds exceed the allowed count or length, or when
	// the resulting hash is a valid curve point.
	ErrInvalidSeeds = eris.New("invalid seeds, address must fall off the curve")
	// ErrNoViableBump is returned when no bump in 255..0 yields an off-curve address.
	ErrNoViableBump = eris.New("unable to find a viable program address bump seed")
)

// CreateProgramAddress hashes the seeds together with the program id. The result is only
// valid when it is not an ed25519 public key, so no private key can ever sign for it.
func CreateProgramAddress(seeds [][]byte, program account.Pubkey) (account.Pubkey, error) {
	if err := validateSeeds(seeds, MaxSeeds); err != nil {
		return account.Pubkey{}, err
	}

	hasher := sha256.New()
	for _, seed := range seeds {
		hasher.Write(seed)
	}
	hasher.Write(program[:])
	hasher.Write([]byte(derivationMarker))

	var derived account.Pubkey
	copy(derived[:], hasher.Sum(nil))

	if IsOnCurve(derived) {
		return account.Pubkey{}, eris.Wrap(ErrInvalidSeeds, "derived address is on the curve")
	}

	return derived, nil
}

// FindProgramAddress searches bumps from 255 downwards and returns the first off-curve
// address together with the bump that produced it.
func FindProgramAddress(seeds [][]byte, program account.Pubkey) (account.Pubkey, uint8, error) {
	if err := validateSeeds(seeds, MaxSeeds-1); err != nil {
		return account.Pubkey{}, 0, err
	}

	withBump := make([][]byte, len(seeds)+1)
	copy(withBump, seeds)

	for bump := 255; bump >= 0; bump-- {
		withBump[len(seeds)] = []byte{byte(bump)}

		derived, err := CreateProgramAddress(withBump, program)
		if err == nil {
			return derived, uint8(bump), nil
		}
		if !eris.Is(err, ErrInvalidSeeds) {
			return account.Pubkey{}, 0, err
		}
	}

	return account.Pubkey{}, 0, ErrNoViableBump
}

func validateSeeds(seeds [][]byte, limit int) error {
	if len(seeds) > limit {
		return eris.Wrapf(ErrInvalidSeeds, "%d seeds exceeds maximum of %d", len(seeds), limit)
	}
	for i, seed := range seeds {
		if len(seed) > MaxSeedLength {
			return eris.Wrapf(ErrInvalidSeeds, "seed %d is %d bytes", i, len(seed))
		}
	}
	return nil
}

// IsOnCurve reports whether key decodes to a point on the ed25519 curve.
func IsOnCurve(key account.Pubkey) bool {
	_, err := new(edwards25519.Point).SetBytes(key[:])
	return err == nil
}
