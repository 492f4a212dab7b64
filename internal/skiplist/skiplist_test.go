package skiplist

import (
	"fmt"
	"math/rand"
	"sync"
	"testing"
)

func TestListEmpty(t *testing.T) {
	l := New(BytewiseComparator)

	if l.Count() != 0 {
		t.Errorf("Count = %d, want 0", l.Count())
	}
	if l.Contains([]byte("key")) {
		t.Error("empty list should not contain any key")
	}

	iter := l.NewIterator()
	iter.SeekToFirst()
	if iter.Valid() {
		t.Error("iterator should be invalid on empty list")
	}
	iter.SeekToLast()
	if iter.Valid() {
		t.Error("iterator should be invalid on empty list (SeekToLast)")
	}
}

func TestListSingleInsert(t *testing.T) {
	l := New(BytewiseComparator)
	l.Insert([]byte("key1"))

	if l.Count() != 1 {
		t.Errorf("Count = %d, want 1", l.Count())
	}
	if !l.Contains([]byte("key1")) {
		t.Error("should contain key1")
	}
	if l.Contains([]byte("key2")) {
		t.Error("should not contain key2")
	}
}

func TestListMultipleInserts(t *testing.T) {
	l := New(BytewiseComparator)

	keys := []string{"d", "b", "f", "a", "e", "c"}
	for _, k := range keys {
		l.Insert([]byte(k))
	}

	if l.Count() != int64(len(keys)) {
		t.Errorf("Count = %d, want %d", l.Count(), len(keys))
	}
	for _, k := range keys {
		if !l.Contains([]byte(k)) {
			t.Errorf("should contain %q", k)
		}
	}

	iter := l.NewIterator()
	iter.SeekToFirst()
	expected := []string{"a", "b", "c", "d", "e", "f"}
	i := 0
	for iter.Valid() {
		if string(iter.Key()) != expected[i] {
			t.Errorf("Key[%d] = %q, want %q", i, iter.Key(), expected[i])
		}
		i++
		iter.Next()
	}
	if i != len(expected) {
		t.Errorf("iterated %d entries, want %d", i, len(expected))
	}
}

func TestListSeek(t *testing.T) {
	l := New(BytewiseComparator)
	for _, k := range []string{"b", "d", "f"} {
		l.Insert([]byte(k))
	}

	iter := l.NewIterator()
	iter.Seek([]byte("c"))
	if !iter.Valid() || string(iter.Key()) != "d" {
		t.Errorf("Seek(c) landed on %q, want d", iter.Key())
	}

	iter.SeekForPrev([]byte("c"))
	if !iter.Valid() || string(iter.Key()) != "b" {
		t.Errorf("SeekForPrev(c) landed on %q, want b", iter.Key())
	}

	iter.SeekForPrev([]byte("z"))
	if !iter.Valid() || string(iter.Key()) != "f" {
		t.Errorf("SeekForPrev(z) landed on %q, want f", iter.Key())
	}

	iter.Seek([]byte("a"))
	if !iter.Valid() || string(iter.Key()) != "b" {
		t.Errorf("Seek(a) landed on %q, want b", iter.Key())
	}

	iter.Seek([]byte("z"))
	if iter.Valid() {
		t.Error("Seek(z) should be invalid: z is past every key")
	}
}

func TestListPrev(t *testing.T) {
	l := New(BytewiseComparator)
	for _, k := range []string{"a", "b", "c"} {
		l.Insert([]byte(k))
	}

	iter := l.NewIterator()
	iter.SeekToLast()
	var got []string
	for iter.Valid() {
		got = append(got, string(iter.Key()))
		iter.Prev()
	}

	want := []string{"c", "b", "a"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("got[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestListConcurrentReadsDuringInsert(t *testing.T) {
	l := New(BytewiseComparator)
	for i := 0; i < 100; i++ {
		l.Insert([]byte(fmt.Sprintf("k%04d", i)))
	}

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r := rand.New(rand.NewSource(1))
			for {
				select {
				case <-stop:
					return
				default:
					iter := l.NewIterator()
					iter.Seek([]byte(fmt.Sprintf("k%04d", r.Intn(100))))
					_ = iter.Valid()
				}
			}
		}()
	}

	for i := 100; i < 200; i++ {
		l.Insert([]byte(fmt.Sprintf("k%04d", i)))
	}
	close(stop)
	wg.Wait()

	if l.Count() != 200 {
		t.Errorf("Count = %d, want 200", l.Count())
	}
}

func TestListRandomHeightBounded(t *testing.T) {
	l := NewWithParams(BytewiseComparator, 4, 4)
	for i := 0; i < 1000; i++ {
		h := l.randomHeight()
		if h < 1 || h > 4 {
			t.Fatalf("randomHeight() = %d, out of [1,4]", h)
		}
	}
}
