package compression

import (
	"bytes"
	"testing"
)

func roundtrip(t *testing.T, typ Type) {
	t.Helper()
	data := bytes.Repeat([]byte("concordkv-sstable-block-payload-"), 200)

	compressed, err := Compress(typ, data)
	if err != nil {
		t.Fatalf("Compress(%s): %v", typ, err)
	}

	got, err := Decompress(typ, compressed, len(data))
	if err != nil {
		t.Fatalf("Decompress(%s): %v", typ, err)
	}
	if !bytes.Equal(got, data) {
		t.Fatalf("Decompress(%s) did not round-trip", typ)
	}
}

func TestRoundtrip_AllTypes(t *testing.T) {
	for _, typ := range []Type{None, Snappy, LZ4, Zstd} {
		roundtrip(t, typ)
	}
}

func TestCompress_UnsupportedType(t *testing.T) {
	if _, err := Compress(Type(0xFF), []byte("x")); err == nil {
		t.Fatal("expected error for unsupported compression type")
	}
}

func TestIsSupported(t *testing.T) {
	for _, typ := range []Type{None, Snappy, LZ4, Zstd} {
		if !typ.IsSupported() {
			t.Errorf("%s should be supported", typ)
		}
	}
	if Type(0xFF).IsSupported() {
		t.Error("unknown type should not be supported")
	}
}
