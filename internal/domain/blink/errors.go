package blink

import "github.com/rotisserie/eris"

var (
	// ErrAuthorizationFailed indicates the caller does not control the list address.
	ErrAuthorizationFailed = eris.New("A seeds constraint was violated")
	// ErrBlinkExists indicates a create with an id already present in the list.
	ErrBlinkExists = eris.New("Blink exists")
	// ErrListNotInitialized indicates the owner has no initialized list.
	ErrListNotInitialized = eris.New("Blink does not exist")
	// ErrCapacityExceeded indicates the encoded list would not fit in its slot.
	ErrCapacityExceeded = eris.New("Blink list exceeds the slot capacity")
	// ErrBlinkNotFound indicates a lookup for an id that is not in the list.
	ErrBlinkNotFound = eris.New("Blink not found")
	// ErrCorruptSlot indicates slot bytes that do not decode as a blink list.
	ErrCorruptSlot = eris.New("slot data is not a valid blink list")
)

// Code is the stable, client-facing identity of a domain failure.
type Code struct {
	Name    string
	Number  uint32
	Message string
}

var codes = []struct {
	err  error
	code Code
}{
	{ErrAuthorizationFailed, Code{Name: "AuthorizationFailed", Number: 2006, Message: "A seeds constraint was violated"}},
	{ErrBlinkExists, Code{Name: "BlinkExists", Number: 6000, Message: "Blink exists"}},
	{ErrListNotInitialized, Code{Name: "ListNotInitialized", Number: 6001, Message: "Blink does not exist"}},
	{ErrCapacityExceeded, Code{Name: "CapacityExceeded", Number: 6002, Message: "Blink list exceeds the slot capacity"}},
	{ErrBlinkNotFound, Code{Name: "BlinkNotFound", Number: 6003, Message: "Blink not found"}},
}

// CodeOf classifies err against the domain taxonomy.
func CodeOf(err error) (Code, bool) {
	if err == nil {
		return Code{}, false
	}
	for _, entry := range codes {
		if eris.Is(err, entry.err) {
			return entry.code, true
		}
	}
	return Code{}, false
}
