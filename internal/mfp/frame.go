// Package mfp implements the Multiplex Frame Protocol framer from spec
// §4.F: a 1-byte bit-packed header (protocol type, checksum flag,
// type-specific flags), a 4-byte big-endian id, a type-specific body, and
// an optional trailing checksum.
package mfp

import (
	"encoding/binary"

	"github.com/AlexLonberg/js-api-router/internal/apierrors"
	"github.com/AlexLonberg/js-api-router/internal/codec"
)

// ProtocolType is the frame's kind, carried in header bits 7..5.
type ProtocolType uint8

const (
	ProtocolService  ProtocolType = 1
	ProtocolMessage  ProtocolType = 2
	ProtocolRequest  ProtocolType = 3
	ProtocolBinary   ProtocolType = 4
	ProtocolResponse ProtocolType = 5
)

func (p ProtocolType) valid() bool {
	return p >= ProtocolService && p <= ProtocolResponse
}

// String names the protocol type, used as a telemetry label and in error
// messages.
func (p ProtocolType) String() string {
	switch p {
	case ProtocolService:
		return "service"
	case ProtocolMessage:
		return "message"
	case ProtocolRequest:
		return "request"
	case ProtocolBinary:
		return "binary"
	case ProtocolResponse:
		return "response"
	default:
		return "unknown"
	}
}

// ServiceCode is a service frame's type-specific code (header bits 2..0).
type ServiceCode uint8

const (
	ServiceAck     ServiceCode = 1
	ServiceAbort   ServiceCode = 2
	ServiceTimeout ServiceCode = 3
	ServicePing    ServiceCode = 4
	// ServiceReserved is the fifth allowed service code from spec §4.F's
	// code set {1,2,3,4,7}; the distilled spec names no frame that uses it.
	// Kept so the decoder's "service code in the allowed set" invariant has
	// a slot to validate against and round-trip through.
	ServiceReserved ServiceCode = 7
)

func validServiceCode(c ServiceCode) bool {
	switch c {
	case ServiceAck, ServiceAbort, ServiceTimeout, ServicePing, ServiceReserved:
		return true
	default:
		return false
	}
}

// Disposition selects a message/request/response payload frame's shape
// (header bits 2..0).
type Disposition uint8

const (
	DispositionStreamingOnly Disposition = 0 // 000
	DispositionDataOnly      Disposition = 1 // 001
	DispositionDataExpected  Disposition = 2 // 010
	DispositionDataStreaming Disposition = 4 // 100
	DispositionDataBinaries  Disposition = 6 // 110
)

// BinaryEntry is one (key, size) slot in a data+binaries payload frame's map.
type BinaryEntry struct {
	Key  uint32
	Size uint32
}

// Frame is the decoded form of any of the five MFP frame kinds. Which
// fields are meaningful depends on Protocol (spec §4.F).
type Frame struct {
	Protocol    ProtocolType
	HasChecksum bool
	ID          uint32

	// service frames
	ServiceCode ServiceCode
	OwnRefID    bool

	// message/request/response payload frames
	NeedAck     bool
	Disposition Disposition
	RefID       uint32
	HasRefID    bool
	Data        []byte
	BinaryMap   []BinaryEntry
	Binaries    [][]byte
	Expected    []uint32

	// binary frames
	NeedAckBin   bool
	HasData      bool
	HasExpected  bool
	HasStreaming bool
	Final        bool
	KeyPresent   bool
	Key          uint32
	Bin          []byte
}

func packHeader(protocol ProtocolType, hasChecksum bool, flags uint8) byte {
	b := byte(protocol) << 5
	if hasChecksum {
		b |= 1 << 4
	}
	b |= flags & 0x0F
	return b
}

func unpackHeader(b byte) (protocol ProtocolType, hasChecksum bool, flags uint8) {
	protocol = ProtocolType(b >> 5)
	hasChecksum = b&(1<<4) != 0
	flags = b & 0x0F
	return
}

// EncodeOptions configures frame encoding; a nil Checksum means the frame
// is encoded without a trailing checksum.
type EncodeOptions struct {
	Checksum codec.Checksum
}

// Encode serializes f into its wire bytes.
func Encode(f *Frame, opts EncodeOptions) ([]byte, error) {
	if !f.Protocol.valid() {
		return nil, apierrors.Wrap(apierrors.FrameEncode, "invalid protocol type", nil)
	}
	if f.ID == 0 {
		return nil, apierrors.Wrap(apierrors.FrameEncode, "frame id must be non-zero", nil)
	}

	var body []byte
	var flags uint8
	var err error

	switch f.Protocol {
	case ProtocolService:
		flags, body, err = encodeService(f)
	case ProtocolMessage, ProtocolRequest, ProtocolResponse:
		flags, body, err = encodePayload(f)
	case ProtocolBinary:
		flags, body = encodeBinaryFlags(f), encodeBinaryBody(f)
	}
	if err != nil {
		return nil, err
	}

	hasChecksum := opts.Checksum != nil
	ckLen := 0
	if hasChecksum {
		ckLen = opts.Checksum.Length()
	}

	buf := make([]byte, 5+len(body)+ckLen)
	buf[0] = packHeader(f.Protocol, hasChecksum, flags)
	binary.BigEndian.PutUint32(buf[1:5], f.ID)
	copy(buf[5:], body)
	if hasChecksum {
		opts.Checksum.Write(buf)
	}
	return buf, nil
}

func encodeService(f *Frame) (uint8, []byte, error) {
	if !validServiceCode(f.ServiceCode) {
		return 0, nil, apierrors.Wrap(apierrors.FrameEncode, "invalid service code", nil)
	}
	if f.ServiceCode == ServicePing && (!f.OwnRefID || f.RefID != f.ID) {
		return 0, nil, apierrors.Wrap(apierrors.FrameEncode, "ping requires id == refId and ownRefId", nil)
	}
	flags := uint8(f.ServiceCode) & 0x07
	if f.OwnRefID {
		flags |= 0x08
	}
	body := make([]byte, 4)
	binary.BigEndian.PutUint32(body, f.RefID)
	return flags, body, nil
}

// hasRefID reports whether a payload frame of this protocol carries a refId
// section. Response frames always do (spec §4.F); message and request
// frames never do under this implementation (see DESIGN.md "MFP refId
// presence").
func hasRefID(p ProtocolType) bool { return p == ProtocolResponse }

func encodePayload(f *Frame) (uint8, []byte, error) {
	if f.Protocol == ProtocolRequest && forbiddenForRequest(f.Disposition) {
		return 0, nil, apierrors.Wrap(apierrors.FrameEncode, "request frames forbid expected/streaming dispositions", nil)
	}

	flags := uint8(f.Disposition) & 0x07
	if f.NeedAck {
		flags |= 0x08
	}

	var buf []byte
	if hasRefID(f.Protocol) {
		b := make([]byte, 4)
		binary.BigEndian.PutUint32(b, f.RefID)
		buf = append(buf, b...)
	}

	switch f.Disposition {
	case DispositionStreamingOnly:
		// no data section

	case DispositionDataOnly, DispositionDataStreaming:
		buf = append(buf, encodeSizedData(f.Data)...)

	case DispositionDataExpected:
		buf = append(buf, encodeSizedData(f.Data)...)
		if len(f.Expected) == 0 {
			return 0, nil, apierrors.Wrap(apierrors.FrameEncode, "data+expected frame requires at least one key", nil)
		}
		setBuf := make([]byte, 4+4*len(f.Expected))
		binary.BigEndian.PutUint32(setBuf[:4], uint32(4*len(f.Expected)))
		for i, k := range f.Expected {
			binary.BigEndian.PutUint32(setBuf[4+4*i:8+4*i], k)
		}
		buf = append(buf, setBuf...)

	case DispositionDataBinaries:
		buf = append(buf, encodeSizedData(f.Data)...)
		if len(f.BinaryMap) != len(f.Binaries) {
			return 0, nil, apierrors.Wrap(apierrors.FrameEncode, "binary map and binaries length mismatch", nil)
		}
		mapHeader := make([]byte, 4)
		binary.BigEndian.PutUint32(mapHeader, uint32(8*len(f.BinaryMap)))
		buf = append(buf, mapHeader...)
		for _, e := range f.BinaryMap {
			eb := make([]byte, 8)
			binary.BigEndian.PutUint32(eb[:4], e.Key)
			binary.BigEndian.PutUint32(eb[4:], e.Size)
			buf = append(buf, eb...)
		}
		for _, b := range f.Binaries {
			buf = append(buf, b...)
		}

	default:
		return 0, nil, apierrors.Wrap(apierrors.FrameEncode, "invalid disposition", nil)
	}

	return flags, buf, nil
}

func forbiddenForRequest(d Disposition) bool {
	return d == DispositionDataExpected || d == DispositionDataStreaming || d == DispositionStreamingOnly
}

func encodeSizedData(data []byte) []byte {
	b := make([]byte, 4+len(data))
	binary.BigEndian.PutUint32(b[:4], uint32(len(data)))
	copy(b[4:], data)
	return b
}

func encodeBinaryFlags(f *Frame) uint8 {
	var mode uint8
	switch {
	case f.HasData:
		mode = 0b110
	case f.HasExpected:
		mode = 0b010
	case f.HasStreaming:
		mode = 0b100
	default:
		mode = 0
	}
	var flags uint8
	if f.NeedAckBin {
		flags |= 0x08
	}
	flags |= mode
	if !f.Final {
		flags |= 0x01
	}
	return flags
}

func encodeBinaryBody(f *Frame) []byte {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, f.RefID)

	keyPresent := (f.HasExpected || f.HasStreaming) && !f.HasData
	if keyPresent {
		kb := make([]byte, 4)
		binary.BigEndian.PutUint32(kb, f.Key)
		buf = append(buf, kb...)
	}
	buf = append(buf, f.Bin...)
	return buf
}

// DecodeOptions configures frame decoding, including checksum verification
// mode (0 ignore, 1 verify-if-flag, 2 always-verify — spec §4.F) and the
// maximum accepted incoming file count for data+binaries frames.
type DecodeOptions struct {
	ChecksumMode int
	Checksum     codec.Checksum
	MaxFiles     int
}

// Decode parses buf into a Frame, enforcing the invariants from spec §4.F.
func Decode(buf []byte, opts DecodeOptions) (*Frame, error) {
	if len(buf) < 5 {
		return nil, apierrors.Wrap(apierrors.FrameDecode, "frame shorter than the fixed header", nil)
	}
	protocol, hasChecksumFlag, flags := unpackHeader(buf[0])
	if !protocol.valid() {
		return nil, apierrors.Wrap(apierrors.FrameDecode, "invalid protocol type", nil)
	}

	ckLen, err := resolveChecksum(opts, hasChecksumFlag, buf)
	if err != nil {
		return nil, err
	}
	if len(buf) < 5+ckLen {
		return nil, apierrors.Wrap(apierrors.FrameDecode, "frame shorter than header plus checksum", nil)
	}

	id := binary.BigEndian.Uint32(buf[1:5])
	if id == 0 {
		return nil, apierrors.Wrap(apierrors.FrameDecode, "frame id must be non-zero", nil)
	}
	body := buf[5 : len(buf)-ckLen]

	f := &Frame{Protocol: protocol, HasChecksum: hasChecksumFlag, ID: id}

	switch protocol {
	case ProtocolService:
		err = decodeServiceBody(f, flags, body)
	case ProtocolMessage, ProtocolRequest, ProtocolResponse:
		err = decodePayloadBody(f, flags, body, opts.MaxFiles)
	case ProtocolBinary:
		err = decodeBinaryBody(f, flags, body)
	}
	if err != nil {
		return nil, err
	}
	return f, nil
}

func resolveChecksum(opts DecodeOptions, hasFlag bool, buf []byte) (int, error) {
	switch opts.ChecksumMode {
	case 2:
		if !hasFlag {
			return 0, apierrors.Wrap(apierrors.FrameDecode, "checksum required but absent", nil)
		}
		if opts.Checksum == nil {
			return 0, apierrors.Wrap(apierrors.FrameDecode, "checksum verifier not configured", nil)
		}
		if !opts.Checksum.Verify(buf) {
			return 0, apierrors.Wrap(apierrors.FrameDecode, "checksum verification failed", nil)
		}
		return opts.Checksum.Length(), nil
	case 1:
		if !hasFlag {
			return 0, nil
		}
		if opts.Checksum == nil {
			return 0, apierrors.Wrap(apierrors.FrameDecode, "checksum verifier not configured", nil)
		}
		if !opts.Checksum.Verify(buf) {
			return 0, apierrors.Wrap(apierrors.FrameDecode, "checksum verification failed", nil)
		}
		return opts.Checksum.Length(), nil
	default: // 0: ignore
		if hasFlag && opts.Checksum != nil {
			return opts.Checksum.Length(), nil
		}
		return 0, nil
	}
}

func decodeServiceBody(f *Frame, flags uint8, body []byte) error {
	code := ServiceCode(flags & 0x07)
	ownRefID := flags&0x08 != 0
	if !validServiceCode(code) {
		return apierrors.Wrap(apierrors.FrameDecode, "invalid service code", nil)
	}
	if len(body) != 4 {
		return apierrors.Wrap(apierrors.FrameDecode, "malformed service frame body", nil)
	}
	refID := binary.BigEndian.Uint32(body)
	if code == ServicePing && (!ownRefID || refID != f.ID) {
		return apierrors.Wrap(apierrors.FrameDecode, "ping requires id == refId and ownRefId", nil)
	}
	f.ServiceCode = code
	f.OwnRefID = ownRefID
	f.RefID = refID
	return nil
}

func decodePayloadBody(f *Frame, flags uint8, body []byte, maxFiles int) error {
	f.NeedAck = flags&0x08 != 0
	f.Disposition = Disposition(flags & 0x07)

	if f.Protocol == ProtocolRequest && forbiddenForRequest(f.Disposition) {
		return apierrors.Wrap(apierrors.FrameDecode, "request frames forbid expected/streaming dispositions", nil)
	}

	offset := 0
	if hasRefID(f.Protocol) {
		if len(body) < 4 {
			return apierrors.Wrap(apierrors.FrameDecode, "response frame missing refId", nil)
		}
		f.RefID = binary.BigEndian.Uint32(body[:4])
		f.HasRefID = true
		offset = 4
	}

	var err error
	switch f.Disposition {
	case DispositionStreamingOnly:
		// nothing further

	case DispositionDataOnly, DispositionDataStreaming:
		f.Data, offset, err = readSizedData(body, offset)

	case DispositionDataExpected:
		if f.Data, offset, err = readSizedData(body, offset); err != nil {
			break
		}
		offset, err = decodeExpectedSet(f, body, offset)

	case DispositionDataBinaries:
		if f.Data, offset, err = readSizedData(body, offset); err != nil {
			break
		}
		offset, err = decodeBinaryMap(f, body, offset, maxFiles)

	default:
		err = apierrors.Wrap(apierrors.FrameDecode, "invalid disposition", nil)
	}
	if err != nil {
		return err
	}

	if offset != len(body) {
		return apierrors.Wrap(apierrors.FrameDecode, "declared sizes do not match buffer length", nil)
	}
	return nil
}

func decodeExpectedSet(f *Frame, body []byte, offset int) (int, error) {
	if offset+4 > len(body) {
		return offset, apierrors.Wrap(apierrors.FrameDecode, "truncated expected set", nil)
	}
	setSize := binary.BigEndian.Uint32(body[offset : offset+4])
	offset += 4
	if setSize == 0 || setSize%4 != 0 {
		return offset, apierrors.Wrap(apierrors.FrameDecode, "set size must be a positive multiple of 4", nil)
	}
	if offset+int(setSize) > len(body) {
		return offset, apierrors.Wrap(apierrors.FrameDecode, "truncated expected set", nil)
	}
	n := int(setSize) / 4
	seen := make(map[uint32]struct{}, n)
	keys := make([]uint32, n)
	for i := 0; i < n; i++ {
		k := binary.BigEndian.Uint32(body[offset : offset+4])
		offset += 4
		if _, dup := seen[k]; dup {
			return offset, apierrors.Wrap(apierrors.FrameDecode, "duplicate key in expected set", nil)
		}
		seen[k] = struct{}{}
		keys[i] = k
	}
	f.Expected = keys
	return offset, nil
}

func decodeBinaryMap(f *Frame, body []byte, offset int, maxFiles int) (int, error) {
	if offset+4 > len(body) {
		return offset, apierrors.Wrap(apierrors.FrameDecode, "truncated binary map", nil)
	}
	mapSize := binary.BigEndian.Uint32(body[offset : offset+4])
	offset += 4
	if mapSize%8 != 0 {
		return offset, apierrors.Wrap(apierrors.FrameDecode, "map size must be a multiple of 8", nil)
	}
	if offset+int(mapSize) > len(body) {
		return offset, apierrors.Wrap(apierrors.FrameDecode, "truncated binary map", nil)
	}
	n := int(mapSize) / 8
	if maxFiles > 0 && n > maxFiles {
		return offset, apierrors.Wrap(apierrors.FrameDecode, "incoming file count exceeds configured maximum", nil)
	}
	seen := make(map[uint32]struct{}, n)
	entries := make([]BinaryEntry, n)
	for i := 0; i < n; i++ {
		k := binary.BigEndian.Uint32(body[offset : offset+4])
		sz := binary.BigEndian.Uint32(body[offset+4 : offset+8])
		offset += 8
		if _, dup := seen[k]; dup {
			return offset, apierrors.Wrap(apierrors.FrameDecode, "duplicate key in binary map", nil)
		}
		seen[k] = struct{}{}
		entries[i] = BinaryEntry{Key: k, Size: sz}
	}
	bins := make([][]byte, n)
	for i, e := range entries {
		if offset+int(e.Size) > len(body) {
			return offset, apierrors.Wrap(apierrors.FrameDecode, "truncated binary payload", nil)
		}
		bins[i] = body[offset : offset+int(e.Size)]
		offset += int(e.Size)
	}
	f.BinaryMap = entries
	f.Binaries = bins
	return offset, nil
}

func readSizedData(body []byte, offset int) ([]byte, int, error) {
	if offset+4 > len(body) {
		return nil, offset, apierrors.Wrap(apierrors.FrameDecode, "truncated data size", nil)
	}
	size := binary.BigEndian.Uint32(body[offset : offset+4])
	offset += 4
	if offset+int(size) > len(body) {
		return nil, offset, apierrors.Wrap(apierrors.FrameDecode, "truncated data", nil)
	}
	data := body[offset : offset+int(size)]
	offset += int(size)
	return data, offset, nil
}

func decodeBinaryBody(f *Frame, flags uint8, body []byte) error {
	f.NeedAckBin = flags&0x08 != 0
	f.Final = flags&0x01 == 0
	mode := flags & 0b110
	switch mode {
	case 0b110:
		f.HasData = true
	case 0b010:
		f.HasExpected = true
	case 0b100:
		f.HasStreaming = true
	}

	if len(body) < 4 {
		return apierrors.Wrap(apierrors.FrameDecode, "binary frame missing refId", nil)
	}
	f.RefID = binary.BigEndian.Uint32(body[:4])
	offset := 4

	keyPresent := (f.HasExpected || f.HasStreaming) && !f.HasData
	if keyPresent {
		if offset+4 > len(body) {
			return apierrors.Wrap(apierrors.FrameDecode, "truncated binary key", nil)
		}
		f.Key = binary.BigEndian.Uint32(body[offset : offset+4])
		f.KeyPresent = true
		offset += 4
	}

	f.Bin = body[offset:]
	return nil
}
