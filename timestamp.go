package zreplog

import "encoding/binary"

// Timestamp is a hybrid logical clock value: a 64 bit time component paired
// with a 128 bit node identifier used to break ties between nodes whose
// clocks momentarily agree. Timestamps are minted externally (by whatever
// issues publications); this package only ever compares and classifies
// them.
type Timestamp struct {
	Time   uint64
	NodeID [16]byte
}

// Compare orders Timestamps by (Time, NodeID), matching spec's
// lexicographically-maximal tie-break: a larger Time always wins; equal
// Time falls back to a byte-wise comparison of NodeID.
func (t Timestamp) Compare(other Timestamp) int {
	if t.Time != other.Time {
		if t.Time < other.Time {
			return -1
		}
		return 1
	}
	for i := range t.NodeID {
		if t.NodeID[i] != other.NodeID[i] {
			if t.NodeID[i] < other.NodeID[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}

// Before reports whether t is strictly ordered before other.
func (t Timestamp) Before(other Timestamp) bool {
	return t.Compare(other) < 0
}

// Equal reports whether t and other compare equal.
func (t Timestamp) Equal(other Timestamp) bool {
	return t.Compare(other) == 0
}

// timeLE and nodeIDLE return the little-endian byte encodings used for
// Event fingerprint hashing; node id
// endianness must match exactly across implementations or fingerprint
// equality (and therefore digest alignment) silently breaks.
func (t Timestamp) timeLE() []byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], t.Time)
	return b[:]
}

func (t Timestamp) nodeIDLE() []byte {
	// NodeID is already stored as a flat byte array; per spec it must be
	// serialized little-endian as 16 bytes, which for an opaque 128 bit
	// identifier means byte order as received from the minting node.
	return t.NodeID[:]
}
