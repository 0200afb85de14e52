package mfp

import "testing"

func BenchmarkEncodeDataOnly(b *testing.B) {
	f := &Frame{
		Protocol:    ProtocolMessage,
		ID:          1,
		Disposition: DispositionDataOnly,
		Data:        []byte(`{"name":"test","value":42}`),
	}

	b.ResetTimer()
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		if _, err := Encode(f, EncodeOptions{}); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkDecodeDataOnly(b *testing.B) {
	f := &Frame{
		Protocol:    ProtocolMessage,
		ID:          1,
		Disposition: DispositionDataOnly,
		Data:        []byte(`{"name":"test","value":42}`),
	}
	buf, err := Encode(f, EncodeOptions{})
	if err != nil {
		b.Fatal(err)
	}

	b.ResetTimer()
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		if _, err := Decode(buf, DecodeOptions{}); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkEncodeDecodeRoundtrip(b *testing.B) {
	f := &Frame{
		Protocol:    ProtocolMessage,
		ID:          1,
		NeedAck:     true,
		Disposition: DispositionDataBinaries,
		Data:        []byte("meta"),
		BinaryMap:   []BinaryEntry{{Key: 0, Size: 4096}},
		Binaries:    [][]byte{make([]byte, 4096)},
	}

	b.ResetTimer()
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		buf, err := Encode(f, EncodeOptions{})
		if err != nil {
			b.Fatal(err)
		}
		if _, err := Decode(buf, DecodeOptions{}); err != nil {
			b.Fatal(err)
		}
	}
}
