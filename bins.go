// Copyright 2024 The Cockroach Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package denseset

import (
	"math/bits"
	"unsafe"

	"github.com/cockroachdb/errors"
)

const (
	// minimalPower2 is the smallest entry power a table is created with. A
	// table therefore always has room for at least 4 entries.
	minimalPower2 = 2

	// maxPower2 is the largest entry power supported on this platform.
	maxPower2 = bits.UintSize - 2

	// Tables with an entry power at or below this value have no bins and are
	// searched by a linear scan of the entries.
	maxPower2ForTablesWithoutBins = 4

	// Bin values. Anything >= entryBase is an entry index offset by
	// entryBase.
	emptyBin   = 0
	deletedBin = 1
	entryBase  = 2
)

// feature describes the layout of a table with 2^entryPower entries.
type feature struct {
	entryPower uint8
	binPower   uint8
	// sizeInd selects the width of a bin slot: 1<<sizeInd bytes.
	sizeInd uint8
}

// features is indexed by entry power. The bin array always has twice as many
// slots as there are entries, and the slot width is the smallest that can
// hold the largest entry index plus entryBase.
var features = func() [maxPower2 + 1]feature {
	var f [maxPower2 + 1]feature
	for p := range f {
		var sizeInd uint8
		switch {
		case p < 8:
			sizeInd = 0
		case p < 16:
			sizeInd = 1
		case p < 32:
			sizeInd = 2
		default:
			sizeInd = 3
		}
		f[p] = feature{
			entryPower: uint8(p),
			binPower:   uint8(p + 1),
			sizeInd:    sizeInd,
		}
	}
	return f
}()

// getPower2 returns the entry power for a table which must hold size
// entries: the smallest n >= minimalPower2 such that 2^n > size.
func getPower2(size int) (uint8, error) {
	if size < 0 {
		return 0, errors.Wrapf(ErrTableTooBig, "negative size %d", size)
	}
	n := bits.Len(uint(size))
	if n > maxPower2 {
		return 0, errors.Wrapf(ErrTableTooBig, "size %d exceeds 2^%d entries", size, maxPower2)
	}
	if n < minimalPower2 {
		n = minimalPower2
	}
	return uint8(n), nil
}

// binArray is a fixed-size array of bin slots whose width is 1, 2, 4 or 8
// bytes. The zero value has no bins, which is the case for packed tables.
type binArray struct {
	// buf is the backing memory as handed out by the Allocator.
	buf     []uint8
	ptr     unsafe.Pointer
	sizeInd uint8
	// mask is the number of bins minus one.
	mask uint64
}

func makeBinArray(buf []uint8, binPower, sizeInd uint8) binArray {
	return binArray{
		buf:     buf,
		ptr:     unsafe.Pointer(unsafe.SliceData(buf)),
		sizeInd: sizeInd,
		mask:    (uint64(1) << binPower) - 1,
	}
}

// binsSize returns the number of bytes needed for 2^binPower slots of width
// 1<<sizeInd.
func binsSize(binPower, sizeInd uint8) int {
	return 1 << (binPower + sizeInd)
}

func (b *binArray) exists() bool {
	return b.ptr != nil
}

func (b *binArray) len() uint64 {
	if b.ptr == nil {
		return 0
	}
	return b.mask + 1
}

func (b *binArray) get(i uint64) uint64 {
	switch b.sizeInd {
	case 0:
		return uint64(*(*uint8)(unsafe.Add(b.ptr, i)))
	case 1:
		return uint64(*(*uint16)(unsafe.Add(b.ptr, i<<1)))
	case 2:
		return uint64(*(*uint32)(unsafe.Add(b.ptr, i<<2)))
	default:
		return *(*uint64)(unsafe.Add(b.ptr, i<<3))
	}
}

func (b *binArray) set(i, v uint64) {
	switch b.sizeInd {
	case 0:
		*(*uint8)(unsafe.Add(b.ptr, i)) = uint8(v)
	case 1:
		*(*uint16)(unsafe.Add(b.ptr, i<<1)) = uint16(v)
	case 2:
		*(*uint32)(unsafe.Add(b.ptr, i<<2)) = uint32(v)
	default:
		*(*uint64)(unsafe.Add(b.ptr, i<<3)) = v
	}
}

// clear marks every bin empty.
func (b *binArray) clear() {
	clear(b.buf)
}

func (b *binArray) isEmpty(i uint64) bool {
	return b.get(i) == emptyBin
}

func (b *binArray) markDeleted(i uint64) {
	b.set(i, deletedBin)
}
