// Package codec converts between Json-like values and byte buffers, and
// defines the pluggable checksum verifier used by the MFP framer (§4.A).
package codec

import (
	"github.com/AlexLonberg/js-api-router/internal/apierrors"
	"github.com/vmihailenco/msgpack/v5"
)

// Encode converts a Json-like value (map/slice/scalar or a struct with
// msgpack tags) into a byte buffer.
func Encode(v interface{}) ([]byte, error) {
	b, err := msgpack.Marshal(v)
	if err != nil {
		return nil, apierrors.Wrap(apierrors.Pack, "encoding payload", err)
	}
	return b, nil
}

// Decode converts a byte buffer back into a Json-like value, or unmarshals
// into the struct pointed to by out.
func Decode(buf []byte, out interface{}) error {
	if err := msgpack.Unmarshal(buf, out); err != nil {
		return apierrors.Wrap(apierrors.Unpack, "decoding payload", err)
	}
	return nil
}

// Checksum is the verifier interface external to this module's control
// (spec §4.A / §6): implementations compute a fixed-length digest over a
// buffer prefix and append it, or verify an appended digest.
type Checksum interface {
	// Version identifies the checksum algorithm, for diagnostics.
	Version() string
	// Length is the number of trailing bytes the checksum occupies.
	Length() int
	// Write computes the checksum over view[:len(view)-Length()] and writes
	// it into the trailing Length() bytes of view. view must already be
	// sized to include the trailing checksum region.
	Write(view []byte)
	// Verify recomputes the checksum over the non-trailing region of view
	// and compares it against the trailing Length() bytes.
	Verify(view []byte) bool
}

// None is the no-op checksum stub used for the zero-verification mode.
type None struct{}

func (None) Version() string    { return "none" }
func (None) Length() int        { return 0 }
func (None) Write([]byte)       {}
func (None) Verify([]byte) bool { return true }

var _ Checksum = None{}
