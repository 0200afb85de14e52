package codec

import (
	"encoding/binary"

	"github.com/cespare/xxhash/v2"
)

// XXHash64 is the default (non-stub) checksum verifier: an 8-byte xxh64
// digest of the buffer prefix, matching the "checksum.length" contract
// from §4.A. Grounded on the xxhash checksum usage in the object-storage
// example repo retrieved alongside this spec.
type XXHash64 struct{}

func (XXHash64) Version() string { return "xxhash64" }
func (XXHash64) Length() int     { return 8 }

func (XXHash64) Write(view []byte) {
	n := len(view) - 8
	if n < 0 {
		return
	}
	sum := xxhash.Sum64(view[:n])
	binary.BigEndian.PutUint64(view[n:], sum)
}

func (XXHash64) Verify(view []byte) bool {
	n := len(view) - 8
	if n < 0 {
		return false
	}
	want := binary.BigEndian.Uint64(view[n:])
	got := xxhash.Sum64(view[:n])
	return want == got
}

var _ Checksum = XXHash64{}
