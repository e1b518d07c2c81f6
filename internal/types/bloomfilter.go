package types

import (
	"encoding/binary"
	"errors"
	"hash/fnv"
)

// ErrBadBloomfilterEncoding indicates a self-describing bloom filter byte
// string (spec.md §3, §6) failed to parse.
var ErrBadBloomfilterEncoding = errors.New("malformed bloomfilter encoding")

// bloomfilterWireKind tags the leading byte of the self-describing
// bloomfilter encoding.
type bloomfilterWireKind uint8

const (
	wireNonCounting bloomfilterWireKind = 1
	wireCounting    bloomfilterWireKind = 2
)

// defaultHashCount is the number of independent hash functions used by new
// bloom filters when none is specified.
const defaultHashCount = 4

// Bloomfilter summarizes a set of 20-byte data-object IDs. The counting
// variant is used by the local node (so deletions can decrement); the
// non-counting variant is used for compact transmission to peers
// (spec.md §3).
type Bloomfilter struct {
	counting  bool
	bits      uint32 // bit length, always a power of two
	hashCount uint8
	counters  []uint8 // len(bits) when counting, nil otherwise
	bitset    []uint64
}

// NewBloomfilter creates an empty bloom filter with the given bit length
// (rounded up to a power of two) and hash count.
func NewBloomfilter(bits uint32, hashCount uint8, counting bool) *Bloomfilter {
	bits = nextPowerOfTwo(bits)
	if hashCount == 0 {
		hashCount = defaultHashCount
	}
	bf := &Bloomfilter{
		counting:  counting,
		bits:      bits,
		hashCount: hashCount,
		bitset:    make([]uint64, (bits+63)/64),
	}
	if counting {
		bf.counters = make([]uint8, bits)
	}
	return bf
}

func nextPowerOfTwo(n uint32) uint32 {
	if n == 0 {
		return 1024
	}
	p := uint32(1)
	for p < n {
		p <<= 1
	}
	return p
}

// IsCounting reports whether this filter decrements on Remove.
func (bf *Bloomfilter) IsCounting() bool { return bf.counting }

// positions returns the hashCount bit positions for id, using the
// double-hashing scheme h_i(x) = h1(x) + i*h2(x) mod m (a standard
// Kirsch-Mitzenmacher construction over two FNV variants; see DESIGN.md).
func (bf *Bloomfilter) positions(id [20]byte) []uint32 {
	h1 := fnv.New64a()
	h1.Write(id[:])
	a := h1.Sum64()

	h2 := fnv.New64()
	h2.Write(id[:])
	b := h2.Sum64()
	if b%2 == 0 {
		b++ // keep the step odd so it is coprime with the power-of-two modulus.
	}

	out := make([]uint32, bf.hashCount)
	for i := range out {
		out[i] = uint32((a + uint64(i)*b) % uint64(bf.bits))
	}
	return out
}

// Add inserts id into the filter.
func (bf *Bloomfilter) Add(id [20]byte) {
	for _, pos := range bf.positions(id) {
		bf.setBit(pos)
		if bf.counting && bf.counters[pos] < 255 {
			bf.counters[pos]++
		}
	}
}

// Remove decrements id's positions. Only meaningful on a counting filter;
// a no-op otherwise.
func (bf *Bloomfilter) Remove(id [20]byte) {
	if !bf.counting {
		return
	}
	for _, pos := range bf.positions(id) {
		if bf.counters[pos] > 0 {
			bf.counters[pos]--
			if bf.counters[pos] == 0 {
				bf.clearBit(pos)
			}
		}
	}
}

// Contains reports whether id is (probably) present.
func (bf *Bloomfilter) Contains(id [20]byte) bool {
	for _, pos := range bf.positions(id) {
		if !bf.getBit(pos) {
			return false
		}
	}
	return true
}

// Or merges other into bf in place (bitwise OR). Used when a node
// description replace requests merge_bloomfilter (spec.md §4.3).
func (bf *Bloomfilter) Or(other *Bloomfilter) {
	if other == nil || len(other.bitset) != len(bf.bitset) {
		return
	}
	for i := range bf.bitset {
		bf.bitset[i] |= other.bitset[i]
	}
}

// ToNonCounting projects a counting filter to a non-counting one suitable
// for transmission (spec.md §3).
func (bf *Bloomfilter) ToNonCounting() *Bloomfilter {
	out := &Bloomfilter{
		counting:  false,
		bits:      bf.bits,
		hashCount: bf.hashCount,
		bitset:    append([]uint64(nil), bf.bitset...),
	}
	return out
}

func (bf *Bloomfilter) setBit(pos uint32)   { bf.bitset[pos/64] |= 1 << (pos % 64) }
func (bf *Bloomfilter) clearBit(pos uint32) { bf.bitset[pos/64] &^= 1 << (pos % 64) }
func (bf *Bloomfilter) getBit(pos uint32) bool {
	return bf.bitset[pos/64]&(1<<(pos%64)) != 0
}

// Marshal produces the self-describing byte string: {kind byte, bits
// uint32 BE, hashCount byte, raw bitset bytes} (spec.md §3: "type, bit
// length, hash count, data").
func (bf *Bloomfilter) Marshal() []byte {
	kind := wireNonCounting
	if bf.counting {
		kind = wireCounting
	}
	out := make([]byte, 0, 6+len(bf.bitset)*8)
	out = append(out, byte(kind))
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], bf.bits)
	out = append(out, lenBuf[:]...)
	out = append(out, bf.hashCount)
	for _, w := range bf.bitset {
		var wb [8]byte
		binary.BigEndian.PutUint64(wb[:], w)
		out = append(out, wb[:]...)
	}
	return out
}

// UnmarshalBloomfilter parses the self-describing byte string produced by
// Marshal, allowing a peer to decode another node's bloom filter
// (spec.md §3).
func UnmarshalBloomfilter(data []byte) (*Bloomfilter, error) {
	if len(data) < 6 {
		return nil, ErrBadBloomfilterEncoding
	}
	kind := bloomfilterWireKind(data[0])
	bits := binary.BigEndian.Uint32(data[1:5])
	hashCount := data[5]
	rest := data[6:]
	words := (bits + 63) / 64
	if uint32(len(rest)) < words*8 {
		return nil, ErrBadBloomfilterEncoding
	}
	bf := &Bloomfilter{
		counting:  kind == wireCounting,
		bits:      bits,
		hashCount: hashCount,
		bitset:    make([]uint64, words),
	}
	for i := range bf.bitset {
		bf.bitset[i] = binary.BigEndian.Uint64(rest[i*8 : i*8+8])
	}
	if bf.counting {
		// Counters are not transmitted on the wire (only the local node
		// needs decrement support); a filter unmarshaled as counting
		// starts with all-zero counters and relies on Add to repopulate
		// them going forward.
		bf.counters = make([]uint8, bits)
	}
	return bf, nil
}
