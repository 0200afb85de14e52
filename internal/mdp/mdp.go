// Package mdp implements the endpoint-record framer from spec §4.G: it
// wraps MFP payload frames, encoding and decoding the Json-like
// {endpoint, data?, error?, filemap?} record carried in a message,
// request, or response frame's data section.
package mdp

import (
	"sync"

	"github.com/AlexLonberg/js-api-router/internal/apierrors"
	"github.com/AlexLonberg/js-api-router/internal/codec"
	"github.com/AlexLonberg/js-api-router/internal/mfp"
)

// File is one binary attachment, matched to the record by filemap key.
type File struct {
	Name string
	Mime string
	Bin  []byte
}

// Record is the decoded form of an MDP message: an endpoint name plus an
// optional data payload, error, and set of attached files.
type Record struct {
	Endpoint string
	Data     interface{}
	Err      *RecordError
	Files    map[uint32]File
}

// RecordError is the wire shape of the record's optional "error" field.
type RecordError struct {
	Message string `msgpack:"message"`
	Code    int    `msgpack:"code,omitempty"`
}

// wireRecord is the msgpack shape of the record written into an MFP frame's
// data section; filemap entries are [key, name, mime] triples.
type wireRecord struct {
	Endpoint string           `msgpack:"endpoint"`
	Data     interface{}      `msgpack:"data,omitempty"`
	Error    *RecordError     `msgpack:"error,omitempty"`
	Filemap  [][3]interface{} `msgpack:"filemap,omitempty"`
}

// idCounter generates MDP frame ids, wrapping 1..2^32-1 (spec §4.G,
// §8 property 2): zero is never a valid frame id, so the counter skips it
// on wraparound.
type idCounter struct {
	mu   sync.Mutex
	next uint32
}

func newIDCounter() *idCounter {
	return &idCounter{next: 1}
}

func (c *idCounter) next_() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.next
	if c.next == 1<<32-1 {
		c.next = 1
	} else {
		c.next++
	}
	return id
}

// Framer encodes and decodes MDP records over MFP frames for one
// connection. Its id counter is shared by every encode* call without an
// explicit id.
type Framer struct {
	ids *idCounter
}

// New builds a Framer with a fresh id counter.
func New() *Framer {
	return &Framer{ids: newIDCounter()}
}

// NextID allocates the next outgoing frame id.
func (f *Framer) NextID() uint32 { return f.ids.next_() }

// EncodeOptions configures how a record is packed into an MFP frame.
type EncodeOptions struct {
	NeedAck     bool
	Disposition mfp.Disposition
	// Expected carries the announced binary keys for a DispositionDataExpected
	// frame; ignored for any other disposition.
	Expected []uint32
	Checksum codec.Checksum
}

func buildFilemap(files map[uint32]File) ([][3]interface{}, []mfp.BinaryEntry, [][]byte, error) {
	if len(files) == 0 {
		return nil, nil, nil, nil
	}
	filemap := make([][3]interface{}, 0, len(files))
	entries := make([]mfp.BinaryEntry, 0, len(files))
	binaries := make([][]byte, 0, len(files))
	for key, file := range files {
		filemap = append(filemap, [3]interface{}{key, file.Name, file.Mime})
		entries = append(entries, mfp.BinaryEntry{Key: key, Size: uint32(len(file.Bin))})
		binaries = append(binaries, file.Bin)
	}
	return filemap, entries, binaries, nil
}

// EncodeMessage packs a Record into a message frame with a fresh id.
func (f *Framer) EncodeMessage(rec Record, opts EncodeOptions) ([]byte, uint32, error) {
	return f.encode(mfp.ProtocolMessage, f.NextID(), 0, rec, opts)
}

// EncodeMessageWithID packs a Record into a message frame with a caller-supplied id.
func (f *Framer) EncodeMessageWithID(id uint32, rec Record, opts EncodeOptions) ([]byte, error) {
	buf, _, err := f.encode(mfp.ProtocolMessage, id, 0, rec, opts)
	return buf, err
}

// EncodeRequest packs a Record into a request frame with a fresh id.
func (f *Framer) EncodeRequest(rec Record, opts EncodeOptions) ([]byte, uint32, error) {
	return f.encode(mfp.ProtocolRequest, f.NextID(), 0, rec, opts)
}

// EncodeRequestWithID packs a Record into a request frame with a caller-supplied id.
func (f *Framer) EncodeRequestWithID(id uint32, rec Record, opts EncodeOptions) ([]byte, error) {
	buf, _, err := f.encode(mfp.ProtocolRequest, id, 0, rec, opts)
	return buf, err
}

// EncodeResponse packs a Record into a response frame addressed to refID,
// with a fresh id.
func (f *Framer) EncodeResponse(refID uint32, rec Record, opts EncodeOptions) ([]byte, uint32, error) {
	return f.encode(mfp.ProtocolResponse, f.NextID(), refID, rec, opts)
}

// EncodeResponseWithID packs a Record into a response frame with a
// caller-supplied id.
func (f *Framer) EncodeResponseWithID(id, refID uint32, rec Record, opts EncodeOptions) ([]byte, error) {
	buf, _, err := f.encode(mfp.ProtocolResponse, id, refID, rec, opts)
	return buf, err
}

func (f *Framer) encode(protocol mfp.ProtocolType, id, refID uint32, rec Record, opts EncodeOptions) ([]byte, uint32, error) {
	if protocol == mfp.ProtocolRequest && rec.Err != nil {
		return nil, 0, apierrors.Wrap(apierrors.Pack, "error field is not accepted on request frames", nil)
	}
	if rec.Endpoint == "" {
		return nil, 0, apierrors.Wrap(apierrors.Pack, "record endpoint must be non-empty", nil)
	}

	filemap, entries, binaries, err := buildFilemap(rec.Files)
	if err != nil {
		return nil, 0, err
	}

	wire := wireRecord{Endpoint: rec.Endpoint, Data: rec.Data, Error: rec.Err, Filemap: filemap}
	data, err := codec.Encode(wire)
	if err != nil {
		return nil, 0, apierrors.Wrap(apierrors.Pack, "encoding MDP record", err)
	}

	frame := &mfp.Frame{
		Protocol: protocol,
		ID:       id,
		NeedAck:  opts.NeedAck,
		Data:     data,
	}
	if protocol == mfp.ProtocolResponse {
		frame.RefID = refID
	}
	if len(entries) > 0 {
		frame.Disposition = mfp.DispositionDataBinaries
		frame.BinaryMap = entries
		frame.Binaries = binaries
	} else if opts.Disposition != 0 {
		frame.Disposition = opts.Disposition
		if opts.Disposition == mfp.DispositionDataExpected {
			frame.Expected = opts.Expected
		}
	} else {
		frame.Disposition = mfp.DispositionDataOnly
	}

	buf, err := mfp.Encode(frame, mfp.EncodeOptions{Checksum: opts.Checksum})
	if err != nil {
		return nil, 0, err
	}
	return buf, id, nil
}

// Decode unpacks an already MFP-decoded payload frame's data section into a
// Record, validating the filemap/binaries correspondence and the
// error-field placement rule.
func Decode(frame *mfp.Frame) (*Record, error) {
	var wire wireRecord
	if err := codec.Decode(frame.Data, &wire); err != nil {
		return nil, apierrors.Wrap(apierrors.Unpack, "decoding MDP record", err)
	}
	if wire.Endpoint == "" {
		return nil, apierrors.Wrap(apierrors.Unpack, "record endpoint must be non-empty", nil)
	}
	if frame.Protocol == mfp.ProtocolRequest && wire.Error != nil {
		return nil, apierrors.Wrap(apierrors.Unpack, "error field is not accepted on request frames", nil)
	}

	files, err := matchFiles(wire.Filemap, frame.Binaries, frame.BinaryMap)
	if err != nil {
		return nil, err
	}

	return &Record{
		Endpoint: wire.Endpoint,
		Data:     wire.Data,
		Err:      wire.Error,
		Files:    files,
	}, nil
}

func matchFiles(filemap [][3]interface{}, binaries [][]byte, binaryMap []mfp.BinaryEntry) (map[uint32]File, error) {
	if len(filemap) == 0 && len(binaries) == 0 {
		return nil, nil
	}
	if len(filemap) != len(binaries) {
		return nil, apierrors.Wrap(apierrors.Unpack, "filemap length does not match attached binaries", nil)
	}

	type meta struct {
		name, mime string
	}
	byKey := make(map[uint32]meta, len(filemap))
	for _, triple := range filemap {
		key, ok := toUint32(triple[0])
		if !ok {
			return nil, apierrors.Wrap(apierrors.Unpack, "filemap key must be an integer", nil)
		}
		name, _ := triple[1].(string)
		mime, _ := triple[2].(string)
		if _, dup := byKey[key]; dup {
			return nil, apierrors.Wrap(apierrors.Unpack, "duplicate filemap key", nil)
		}
		byKey[key] = meta{name: name, mime: mime}
	}

	files := make(map[uint32]File, len(binaryMap))
	for i, entry := range binaryMap {
		m, ok := byKey[entry.Key]
		if !ok {
			return nil, apierrors.Wrap(apierrors.Unpack, "binary key has no matching filemap entry", nil)
		}
		files[entry.Key] = File{Name: m.name, Mime: m.mime, Bin: binaries[i]}
	}
	return files, nil
}

func toUint32(v interface{}) (uint32, bool) {
	switch n := v.(type) {
	case uint32:
		return n, true
	case int:
		return uint32(n), true
	case int64:
		return uint32(n), true
	case uint64:
		return uint32(n), true
	case int8:
		return uint32(n), true
	case uint8:
		return uint32(n), true
	case int16:
		return uint32(n), true
	case uint16:
		return uint32(n), true
	default:
		return 0, false
	}
}
