package sstable

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/concordkv/concordkv/internal/bloom"
	"github.com/concordkv/concordkv/internal/checksum"
	"github.com/concordkv/concordkv/internal/dbformat"
	"github.com/concordkv/concordkv/internal/errs"
)

func buildTestTable(t *testing.T, n int, opts WriterOptions) (string, [][2]string) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "000001.sst")

	w, err := NewWriter(path, opts)
	if err != nil {
		t.Fatal(err)
	}
	var pairs [][2]string
	for i := 0; i < n; i++ {
		key := fmt.Sprintf("key-%05d", i)
		val := fmt.Sprintf("value-%05d", i)
		if err := w.Put([]byte(key), []byte(val), dbformat.SequenceNumber(i+1), dbformat.KindPut); err != nil {
			t.Fatal(err)
		}
		pairs = append(pairs, [2]string{key, val})
	}
	if err := w.Finalize(); err != nil {
		t.Fatal(err)
	}
	return path, pairs
}

func TestWriteReadRoundTrip(t *testing.T) {
	path, pairs := buildTestTable(t, 500, DefaultWriterOptions())

	r, err := Open(path, ReaderOptions{BlockCacheEntries: 16})
	if err != nil {
		t.Fatal(err)
	}
	defer r.Release()

	for _, kv := range pairs {
		v, kind, _, err := r.Get([]byte(kv[0]), dbformat.MaxSequenceNumber)
		if err != nil {
			t.Fatalf("get %s: %v", kv[0], err)
		}
		if kind != dbformat.KindPut || string(v) != kv[1] {
			t.Fatalf("key %s: got %q kind %v, want %q", kv[0], v, kind, kv[1])
		}
	}

	if _, _, _, err := r.Get([]byte("nonexistent-key-zzz"), dbformat.MaxSequenceNumber); errs.KindOf(err) != errs.NotFound {
		t.Fatalf("want NotFound, got %v", err)
	}
}

func TestIteratorOrderingAndOneEntryPerKey(t *testing.T) {
	path, pairs := buildTestTable(t, 300, DefaultWriterOptions())
	r, err := Open(path, ReaderOptions{})
	if err != nil {
		t.Fatal(err)
	}
	defer r.Release()

	it := r.NewIterator()
	i := 0
	seen := map[string]bool{}
	var prevKey []byte
	for it.Next() {
		e := it.Entry()
		if prevKey != nil && dbformat.BytewiseCompare(prevKey, e.Key) >= 0 {
			t.Fatalf("keys not strictly ascending at index %d", i)
		}
		if seen[string(e.Key)] {
			t.Fatalf("duplicate key %s", e.Key)
		}
		seen[string(e.Key)] = true
		prevKey = e.Key
		i++
	}
	if it.Err() != nil {
		t.Fatal(it.Err())
	}
	if i != len(pairs) {
		t.Fatalf("want %d entries, got %d", len(pairs), i)
	}
}

func TestPutRejectsOutOfOrderKeys(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWriter(filepath.Join(dir, "x.sst"), DefaultWriterOptions())
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Put([]byte("b"), []byte("1"), 1, dbformat.KindPut); err != nil {
		t.Fatal(err)
	}
	err = w.Put([]byte("a"), []byte("2"), 2, dbformat.KindPut)
	if errs.KindOf(err) != errs.InvalidParam {
		t.Fatalf("want InvalidParam for out-of-order key, got %v", err)
	}
}

func TestBloomNoFalseNegatives(t *testing.T) {
	opts := DefaultWriterOptions()
	path, pairs := buildTestTable(t, 2000, opts)
	r, err := Open(path, ReaderOptions{})
	if err != nil {
		t.Fatal(err)
	}
	defer r.Release()

	for _, kv := range pairs {
		if !r.MayContain([]byte(kv[0])) {
			t.Fatalf("bloom false negative for key %s", kv[0])
		}
	}
}

func TestCorruptDataBlockFailsRead(t *testing.T) {
	path, pairs := buildTestTable(t, 50, DefaultWriterOptions())

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	// Flip a bit well inside the first data block's payload.
	data[headerSize+20] ^= 0xFF
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}

	r, err := Open(path, ReaderOptions{})
	if err != nil {
		t.Fatal(err)
	}
	defer r.Release()

	_, _, _, err = r.Get([]byte(pairs[0][0]), dbformat.MaxSequenceNumber)
	if errs.KindOf(err) != errs.Corruption {
		t.Fatalf("want Corruption, got %v", err)
	}
}

func TestUnsupportedFormatVersionRejected(t *testing.T) {
	path, _ := buildTestTable(t, 10, DefaultWriterOptions())

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	footerStart := len(data) - FooterSize
	data[footerStart] = 0xFF // corrupt format_version field
	// Recompute CRC so this fails on version check, not checksum check.
	binary.LittleEndian.PutUint32(data[footerStart+76:footerStart+80], checksum.Value(data[footerStart:footerStart+76]))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}

	_, err = Open(path, ReaderOptions{})
	if errs.KindOf(err) != errs.UnsupportedFormat {
		t.Fatalf("want UnsupportedFormat for an unknown footer version, got %v", err)
	}
}

func TestOpenRejectsTruncatedFile(t *testing.T) {
	path, _ := buildTestTable(t, 10, DefaultWriterOptions())
	if err := os.Truncate(path, 10); err != nil {
		t.Fatal(err)
	}
	_, err := Open(path, ReaderOptions{})
	if errs.KindOf(err) != errs.Corruption {
		t.Fatalf("want Corruption for truncated file, got %v", err)
	}
}

func TestAllBloomVariants(t *testing.T) {
	for _, variant := range []bloom.Variant{bloom.VariantStandard, bloom.VariantBlocked, bloom.VariantRegisterBlocked, bloom.VariantCounting} {
		t.Run(variant.String(), func(t *testing.T) {
			opts := DefaultWriterOptions()
			opts.BloomVariant = variant
			path, pairs := buildTestTable(t, 200, opts)
			r, err := Open(path, ReaderOptions{})
			if err != nil {
				t.Fatal(err)
			}
			defer r.Release()
			for _, kv := range pairs {
				if !r.MayContain([]byte(kv[0])) {
					t.Fatalf("variant %s: false negative for %s", variant, kv[0])
				}
			}
		})
	}
}

func TestDeleteTombstoneRoundTrips(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "d.sst")
	w, err := NewWriter(path, DefaultWriterOptions())
	if err != nil {
		t.Fatal(err)
	}
	w.Put([]byte("apple"), []byte("red"), 1, dbformat.KindPut)
	w.Put([]byte("banana"), nil, 2, dbformat.KindDelete)
	if err := w.Finalize(); err != nil {
		t.Fatal(err)
	}

	r, err := Open(path, ReaderOptions{})
	if err != nil {
		t.Fatal(err)
	}
	defer r.Release()

	_, kind, _, err := r.Get([]byte("banana"), dbformat.MaxSequenceNumber)
	if err != nil {
		t.Fatal(err)
	}
	if kind != dbformat.KindDelete {
		t.Fatalf("want tombstone, got kind=%v", kind)
	}
}

func TestMinMaxKeyAndSeq(t *testing.T) {
	path, _ := buildTestTable(t, 100, DefaultWriterOptions())
	r, err := Open(path, ReaderOptions{})
	if err != nil {
		t.Fatal(err)
	}
	defer r.Release()

	min, err := r.MinKey()
	if err != nil {
		t.Fatal(err)
	}
	max, err := r.MaxKey()
	if err != nil {
		t.Fatal(err)
	}
	if string(min) != "key-00000" || string(max) != "key-00099" {
		t.Fatalf("got min=%s max=%s", min, max)
	}
	f := r.Footer()
	if f.MinSeq != 1 || f.MaxSeq != 100 || f.TotalEntries != 100 {
		t.Fatalf("unexpected footer: %+v", f)
	}
}
