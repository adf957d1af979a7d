// Package bytesutil defines helper methods for converting between the
// byte encodings the relayer exchanges with chains: fixed 32-byte words,
// 0x-prefixed hex, and left-padded universal address forms.
package bytesutil

import (
	"encoding/hex"
	"strings"

	"github.com/pkg/errors"
)

// ToBytes32 is a convenience method for converting a byte slice to a fix
// sized 32 byte array. This method will truncate the input if it is larger
// than 32 bytes.
func ToBytes32(x []byte) [32]byte {
	var y [32]byte
	copy(y[:], x)
	return y
}

// PadTo pads a byte slice to the given size. If the byte slice is larger
// than the given size, the original slice is returned.
func PadTo(b []byte, size int) []byte {
	if len(b) > size {
		return b
	}
	return append(b, make([]byte, size-len(b))...)
}

// LeftPadTo left-pads a byte slice with zeroes up to the given size, the
// form Wormhole uses for universal addresses and the L1 redeemer uses for
// wallet public key hashes.
func LeftPadTo(b []byte, size int) []byte {
	if len(b) >= size {
		return b
	}
	return append(make([]byte, size-len(b)), b...)
}

// SafeCopyBytes will copy and return a non-nil byte slice, otherwise it
// returns nil.
func SafeCopyBytes(cp []byte) []byte {
	if cp != nil {
		copied := make([]byte, len(cp))
		copy(copied, cp)
		return copied
	}
	return nil
}

// DecodeHexWithLength decodes a 0x-prefixed hex string and verifies the
// decoded payload is exactly length bytes.
func DecodeHexWithLength(s string, length int) ([]byte, error) {
	b, err := DecodeHex(s)
	if err != nil {
		return nil, err
	}
	if len(b) != length {
		return nil, errors.Errorf("length of %s is %d bytes, expected %d", s, len(b), length)
	}
	return b, nil
}

// DecodeHex decodes a hex string with or without the 0x prefix.
func DecodeHex(s string) ([]byte, error) {
	b, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return nil, errors.Wrapf(err, "could not decode %s as hex", s)
	}
	return b, nil
}

// EncodeHex encodes a byte slice as a 0x-prefixed hex string.
func EncodeHex(b []byte) string {
	return "0x" + hex.EncodeToString(b)
}

// IsHex checks whether the string is a 0x-prefixed hex payload.
func IsHex(s string) bool {
	if !strings.HasPrefix(s, "0x") {
		return false
	}
	_, err := hex.DecodeString(s[2:])
	return err == nil
}
