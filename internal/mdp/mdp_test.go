package mdp

import (
	"testing"

	"github.com/AlexLonberg/js-api-router/internal/codec"
	"github.com/AlexLonberg/js-api-router/internal/mfp"
)

func decodeFrame(t *testing.T, buf []byte) *mfp.Frame {
	t.Helper()
	f, err := mfp.Decode(buf, mfp.DecodeOptions{})
	if err != nil {
		t.Fatalf("mfp decode: %v", err)
	}
	return f
}

func TestEncodeDecodeMessageRoundTrip(t *testing.T) {
	fr := New()
	buf, id, err := fr.EncodeMessage(Record{Endpoint: "greet", Data: "hello"}, EncodeOptions{})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if id != 1 {
		t.Fatalf("expected first id to be 1, got %d", id)
	}
	frame := decodeFrame(t, buf)
	rec, err := Decode(frame)
	if err != nil {
		t.Fatalf("mdp decode: %v", err)
	}
	if rec.Endpoint != "greet" || rec.Data != "hello" {
		t.Fatalf("mismatch: %+v", rec)
	}
}

func TestEncodeRejectsEmptyEndpoint(t *testing.T) {
	fr := New()
	if _, _, err := fr.EncodeMessage(Record{Endpoint: ""}, EncodeOptions{}); err == nil {
		t.Fatalf("expected error for empty endpoint")
	}
}

func TestEncodeRejectsErrorOnRequest(t *testing.T) {
	fr := New()
	rec := Record{Endpoint: "x", Err: &RecordError{Message: "bad"}}
	if _, _, err := fr.EncodeRequest(rec, EncodeOptions{}); err == nil {
		t.Fatalf("expected error for error field on a request frame")
	}
}

func TestEncodeResponseCarriesError(t *testing.T) {
	fr := New()
	rec := Record{Endpoint: "x", Err: &RecordError{Message: "bad", Code: 7}}
	buf, _, err := fr.EncodeResponse(42, rec, EncodeOptions{})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	frame := decodeFrame(t, buf)
	if frame.RefID != 42 {
		t.Fatalf("expected refId 42, got %d", frame.RefID)
	}
	got, err := Decode(frame)
	if err != nil {
		t.Fatalf("mdp decode: %v", err)
	}
	if got.Err == nil || got.Err.Message != "bad" || got.Err.Code != 7 {
		t.Fatalf("error field mismatch: %+v", got.Err)
	}
}

func TestIDCounterWrapsSkippingZero(t *testing.T) {
	c := newIDCounter()
	c.next = 1<<32 - 1
	first := c.next_()
	second := c.next_()
	if first != 1<<32-1 {
		t.Fatalf("expected max id, got %d", first)
	}
	if second != 1 {
		t.Fatalf("expected wraparound to 1, got %d", second)
	}
}

func TestFilesRoundTripWithFilemap(t *testing.T) {
	fr := New()
	rec := Record{
		Endpoint: "upload",
		Data:     map[string]interface{}{"note": "two files"},
		Files: map[uint32]File{
			1: {Name: "a.txt", Mime: "text/plain", Bin: []byte("aaa")},
			2: {Name: "b.bin", Mime: "application/octet-stream", Bin: []byte("bbbbb")},
		},
	}
	buf, _, err := fr.EncodeMessage(rec, EncodeOptions{})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	frame := decodeFrame(t, buf)
	got, err := Decode(frame)
	if err != nil {
		t.Fatalf("mdp decode: %v", err)
	}
	if len(got.Files) != 2 {
		t.Fatalf("expected 2 files, got %d", len(got.Files))
	}
	if got.Files[1].Name != "a.txt" || string(got.Files[1].Bin) != "aaa" {
		t.Fatalf("file 1 mismatch: %+v", got.Files[1])
	}
	if got.Files[2].Mime != "application/octet-stream" || string(got.Files[2].Bin) != "bbbbb" {
		t.Fatalf("file 2 mismatch: %+v", got.Files[2])
	}
}

func TestDecodeRejectsMismatchedFilemapLength(t *testing.T) {
	frame := &mfp.Frame{
		Protocol:  mfp.ProtocolMessage,
		ID:        1,
		BinaryMap: []mfp.BinaryEntry{{Key: 1, Size: 1}},
		Binaries:  [][]byte{{0x01}},
	}
	data, err := codec.Encode(wireRecord{Endpoint: "x"})
	if err != nil {
		t.Fatalf("encode raw: %v", err)
	}
	frame.Data = data
	if _, err := Decode(frame); err == nil {
		t.Fatalf("expected error for filemap/binaries length mismatch")
	}
}
