package compaction

import (
	"testing"

	"github.com/concordkv/concordkv/internal/dbformat"
	"github.com/concordkv/concordkv/internal/sstable"
)

type fakeSource struct {
	entries []sstable.DecodedEntry
	idx     int
}

func (f *fakeSource) Next() bool {
	if f.idx >= len(f.entries) {
		return false
	}
	f.idx++
	return true
}
func (f *fakeSource) Entry() sstable.DecodedEntry { return f.entries[f.idx-1] }
func (f *fakeSource) Err() error                  { return nil }

func e(key string, seq uint64) sstable.DecodedEntry {
	return sstable.DecodedEntry{Key: []byte(key), Value: []byte("v"), Sequence: dbformat.SequenceNumber(seq), Kind: dbformat.KindPut}
}

func TestMergeIteratorOrdersAcrossSources(t *testing.T) {
	a := &fakeSource{entries: []sstable.DecodedEntry{e("a", 1), e("c", 1)}}
	b := &fakeSource{entries: []sstable.DecodedEntry{e("b", 1), e("d", 1)}}

	mi := NewMergeIterator([]sourceIter{a, b})
	var got []string
	for mi.Next() {
		got = append(got, string(mi.Entry().Key))
	}
	want := []string{"a", "b", "c", "d"}
	if len(got) != len(want) {
		t.Fatalf("got %v want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v want %v", got, want)
		}
	}
}

func TestMergeIteratorNewestSequenceFirstOnTie(t *testing.T) {
	a := &fakeSource{entries: []sstable.DecodedEntry{e("k", 1)}}
	b := &fakeSource{entries: []sstable.DecodedEntry{e("k", 5)}}

	mi := NewMergeIterator([]sourceIter{a, b})
	if !mi.Next() {
		t.Fatal("expected an entry")
	}
	if mi.Entry().Sequence != 5 {
		t.Fatalf("want sequence 5 first, got %d", mi.Entry().Sequence)
	}
	if !mi.Next() {
		t.Fatal("expected a second entry")
	}
	if mi.Entry().Sequence != 1 {
		t.Fatalf("want sequence 1 second, got %d", mi.Entry().Sequence)
	}
}

func TestMergeIteratorEmptySources(t *testing.T) {
	mi := NewMergeIterator(nil)
	if mi.Next() {
		t.Fatal("expected no entries")
	}
	if mi.Err() != nil {
		t.Fatal(mi.Err())
	}
}
