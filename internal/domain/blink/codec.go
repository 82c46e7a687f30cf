package blink

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"

	"github.com/rotisserie/eris"
)

// DefaultCapacity is the byte budget reserved for one owner's slot, discriminator included.
const DefaultCapacity = 2048

const (
	discriminatorLength = 8
	lengthPrefix        = 4
	fieldsPerBlink      = 7
	flagLength          = 1
)

// Discriminator tags slot data as a blink list.
var Discriminator = func() [discriminatorLength]byte {
	sum := sha256.Sum256([]byte("account:BlinkList"))
	var out [discriminatorLength]byte
	copy(out[:], sum[:discriminatorLength])
	return out
}()

// EncodedSize returns the number of bytes Encode produces for l.
func EncodedSize(l *List) int {
	size := discriminatorLength + lengthPrefix + flagLength
	if l == nil {
		return size
	}
	for _, b := range l.Blinks {
		for _, field := range b.fields() {
			size += lengthPrefix + len(field)
		}
	}
	return size
}

// Encode serializes the list: discriminator, u32 count, each blink as seven u32
// length-prefixed strings, then the initialized flag. A nil list encodes as an empty,
// uninitialized slot. Capacity is enforced when positive.
func Encode(l *List, capacity int) ([]byte, error) {
	size := EncodedSize(l)
	if capacity > 0 && size > capacity {
		return nil, eris.Wrapf(ErrCapacityExceeded, "encoded list is %d bytes, capacity is %d", size, capacity)
	}

	out := make([]byte, 0, size)
	out = append(out, Discriminator[:]...)
	out = binary.LittleEndian.AppendUint32(out, uint32(l.Len()))

	if l != nil {
		for _, b := range l.Blinks {
			for _, field := range b.fields() {
				out = appendString(out, field)
			}
		}
	}

	if l != nil {
		out = append(out, 1)
	} else {
		out = append(out, 0)
	}

	return out, nil
}

// Decode parses slot data. Empty data and a cleared initialized flag both decode to a nil
// list.
func Decode(data []byte) (*List, error) {
	if len(data) == 0 {
		return nil, nil
	}

	if len(data) < discriminatorLength || !bytes.Equal(data[:discriminatorLength], Discriminator[:]) {
		return nil, eris.Wrap(ErrCorruptSlot, "discriminator mismatch")
	}

	n := discriminatorLength
	count, n, err := readUint32(data, n)
	if err != nil {
		return nil, eris.Wrap(err, "reading blink count")
	}

	blinks := make([]Blink, 0, min(int(count), len(data)/(lengthPrefix*fieldsPerBlink)))
	for i := uint32(0); i < count; i++ {
		var fields [fieldsPerBlink]string
		for f := range fields {
			fields[f], n, err = readString(data, n)
			if err != nil {
				return nil, eris.Wrapf(err, "reading blink %d", i)
			}
		}
		blinks = append(blinks, blinkFromFields(fields))
	}

	if n >= len(data) {
		return nil, eris.Wrap(ErrCorruptSlot, "missing initialized flag")
	}
	flag := data[n]
	n++

	for _, padding := range data[n:] {
		if padding != 0 {
			return nil, eris.Wrap(ErrCorruptSlot, "trailing bytes after initialized flag")
		}
	}

	switch flag {
	case 0:
		return nil, nil
	case 1:
		return &List{Blinks: blinks}, nil
	default:
		return nil, eris.Wrapf(ErrCorruptSlot, "initialized flag is %d", flag)
	}
}

func (b Blink) fields() [fieldsPerBlink]string {
	return [fieldsPerBlink]string{b.ID, b.Title, b.Icon, b.Description, b.Label, b.ToPubkey, b.Link}
}

func blinkFromFields(f [fieldsPerBlink]string) Blink {
	return Blink{
		ID:          f[0],
		Title:       f[1],
		Icon:        f[2],
		Description: f[3],
		Label:       f[4],
		ToPubkey:    f[5],
		Link:        f[6],
	}
}

func appendString(out []byte, s string) []byte {
	out = binary.LittleEndian.AppendUint32(out, uint32(len(s)))
	return append(out, s...)
}

func readUint32(data []byte, n int) (uint32, int, error) {
	if len(data)-n < lengthPrefix {
		return 0, n, eris.Wrap(ErrCorruptSlot, "truncated length prefix")
	}
	return binary.LittleEndian.Uint32(data[n:]), n + lengthPrefix, nil
}

func readString(data []byte, n int) (string, int, error) {
	length, n, err := readUint32(data, n)
	if err != nil {
		return "", n, err
	}
	if uint64(len(data)-n) < uint64(length) {
		return "", n, eris.Wrap(ErrCorruptSlot, "truncated string")
	}
	end := n + int(length)
	return string(data[n:end]), end, nil
}
