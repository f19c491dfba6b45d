// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package encode

import (
	"encoding/binary"
	"fmt"
	"math/big"
	"time"
)

var (
	// IntCoder is the integer byte-encoding order. It must be BigEndian so
	// that encoded sequence numbers sort correctly as keys.
	IntCoder = binary.BigEndian
	// A byte-slice representation of boolean false.
	ByteFalse = []byte{0}
	// A byte-slice representation of boolean true.
	ByteTrue = []byte{1}
	// MaxDataLen is the largest byte slice that can be stored with AddData.
	MaxDataLen = 0xffff
)

// Uint64Bytes converts the uint64 to a length-8, big-endian encoded byte slice.
func Uint64Bytes(i uint64) []byte {
	b := make([]byte, 8)
	IntCoder.PutUint64(b, i)
	return b
}

// Uint32Bytes converts the uint32 to a length-4, big-endian encoded byte slice.
func Uint32Bytes(i uint32) []byte {
	b := make([]byte, 4)
	IntCoder.PutUint32(b, i)
	return b
}

// ClearBytes zeroes the byte slice.
func ClearBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// BuildyBytes is a byte-slice with chainable methods for building versioned
// blobs: a single version byte followed by length-prefixed data pushes.
//
//	b := BuildyBytes{0}.AddData(addr[:]).AddBig(amt).AddTime(stamp)
//
// Decode with DecodeBlob.
type BuildyBytes []byte

// AddData adds a push. Pushes shorter than 255 bytes have a 1-byte length,
// longer ones 0xff followed by a 2-byte length. AddData panics for data longer
// than MaxDataLen.
func (b BuildyBytes) AddData(d []byte) BuildyBytes {
	l := len(d)
	if l > MaxDataLen {
		panic(fmt.Sprintf("push of %d bytes exceeds %d", l, MaxDataLen))
	}
	if l < 0xff {
		b = append(b, byte(l))
	} else {
		b = append(b, 0xff, byte(l>>8), byte(l))
	}
	return append(b, d...)
}

// AddBig adds the big-endian bytes of a non-negative integer. A nil integer is
// an empty push, which decodes as nil.
func (b BuildyBytes) AddBig(i *big.Int) BuildyBytes {
	if i == nil {
		return b.AddData(nil)
	}
	if i.Sign() == 0 {
		return b.AddData([]byte{0})
	}
	return b.AddData(i.Bytes())
}

// AddBool adds a 1-byte boolean.
func (b BuildyBytes) AddBool(v bool) BuildyBytes {
	if v {
		return b.AddData(ByteTrue)
	}
	return b.AddData(ByteFalse)
}

// AddTime adds the time as a uint64 millisecond Unix timestamp.
func (b BuildyBytes) AddTime(t time.Time) BuildyBytes {
	return b.AddData(Uint64Bytes(uint64(t.UnixMilli())))
}

// ExtractPushes parses the pushes of a blob payload. Empty pushes are nil.
func ExtractPushes(b []byte, preAlloc ...int) ([][]byte, error) {
	allocPushes := 2
	if len(preAlloc) > 0 {
		allocPushes = preAlloc[0]
	}
	pushes := make([][]byte, 0, allocPushes)
	for len(b) > 0 {
		l := int(b[0])
		b = b[1:]
		if l == 0xff {
			if len(b) < 2 {
				return nil, fmt.Errorf("2 bytes not available for data length")
			}
			l = int(IntCoder.Uint16(b[:2]))
			b = b[2:]
		}
		if len(b) < l {
			return nil, fmt.Errorf("data too short for pop of %d bytes", l)
		}
		if l == 0 {
			pushes = append(pushes, nil)
			continue
		}
		pushes = append(pushes, b[:l])
		b = b[l:]
	}
	return pushes, nil
}

// DecodeBlob decodes a versioned blob into its version and pushes.
func DecodeBlob(b []byte, preAlloc ...int) (byte, [][]byte, error) {
	if len(b) == 0 {
		return 0, nil, fmt.Errorf("zero length blob not allowed")
	}
	pushes, err := ExtractPushes(b[1:], preAlloc...)
	return b[0], pushes, err
}

// DecodeBig decodes a push made with AddBig.
func DecodeBig(b []byte) *big.Int {
	if b == nil {
		return nil
	}
	return new(big.Int).SetBytes(b)
}

// DecodeBool decodes a push made with AddBool.
func DecodeBool(b []byte) bool {
	return len(b) == 1 && b[0] == 1
}

// DecodeUTime interprets bytes as a uint64 millisecond Unix timestamp.
func DecodeUTime(b []byte) (time.Time, error) {
	if len(b) != 8 {
		return time.Time{}, fmt.Errorf("wrong time length %d", len(b))
	}
	return time.UnixMilli(int64(IntCoder.Uint64(b))).UTC(), nil
}
