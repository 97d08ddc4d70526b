package frontier

import (
	"errors"
	"os"
	"testing"

	"github.com/freeeve/tablebase/internal/game"
)

func newSet(t *testing.T, block int) *Set {
	t.Helper()
	s, err := NewSet(t.TempDir(), block)
	if err != nil {
		t.Fatalf("NewSet: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func a(i int) game.StateAddress {
	return game.StateAddress{Layer: uint32(i % 3), State: uint32(i)}
}

func TestFIFOAcrossSpills(t *testing.T) {
	s := newSet(t, 4)
	const n = 103
	for i := 0; i < n; i++ {
		if err := s.Push(2, a(i)); err != nil {
			t.Fatalf("Push: %v", err)
		}
	}
	if s.Len(2) != n || s.Total() != n {
		t.Fatalf("Len = %d, Total = %d, want %d", s.Len(2), s.Total(), n)
	}
	if used, _ := s.SlotsInUse(); used == 0 {
		t.Fatal("no blocks spilled with block size 4")
	}
	for i := 0; i < n; i++ {
		got, ok, err := s.Pop(2)
		if err != nil || !ok {
			t.Fatalf("Pop %d: ok=%v err=%v", i, ok, err)
		}
		if got != a(i) {
			t.Fatalf("Pop %d = %v, want %v", i, got, a(i))
		}
	}
	if _, ok, _ := s.Pop(2); ok {
		t.Error("Pop on empty queue returned an entry")
	}
	if used, _ := s.SlotsInUse(); used != 0 {
		t.Errorf("slots in use after draining = %d, want 0", used)
	}
}

func TestInterleavedPushPop(t *testing.T) {
	s := newSet(t, 3)
	next, want := 0, 0
	for round := 0; round < 50; round++ {
		for i := 0; i < 7; i++ {
			if err := s.Push(0, a(next)); err != nil {
				t.Fatal(err)
			}
			next++
		}
		for i := 0; i < 5; i++ {
			got, ok, err := s.Pop(0)
			if err != nil || !ok {
				t.Fatalf("Pop: ok=%v err=%v", ok, err)
			}
			if got != a(want) {
				t.Fatalf("Pop = %v, want %v", got, a(want))
			}
			want++
		}
	}
	if s.Len(0) != next-want {
		t.Errorf("Len = %d, want %d", s.Len(0), next-want)
	}
}

func TestSlotsAreReused(t *testing.T) {
	s := newSet(t, 2)
	for round := 0; round < 20; round++ {
		for i := 0; i < 10; i++ {
			if err := s.Push(1, a(i)); err != nil {
				t.Fatal(err)
			}
		}
		for i := 0; i < 10; i++ {
			if _, _, err := s.Pop(1); err != nil {
				t.Fatal(err)
			}
		}
	}
	if _, allocated := s.SlotsInUse(); allocated > 5 {
		t.Errorf("file grew to %d slots, want at most 5", allocated)
	}
}

func TestPliesAreIndependent(t *testing.T) {
	s := newSet(t, 4)
	for p := 0; p < 5; p++ {
		for i := 0; i < p*3; i++ {
			if err := s.Push(p, a(100*p+i)); err != nil {
				t.Fatal(err)
			}
		}
	}
	if got := s.MaxPly(); got != 4 {
		t.Errorf("MaxPly = %d, want 4", got)
	}
	if got := s.NextPly(-1); got != 1 {
		t.Errorf("NextPly(-1) = %d, want 1", got)
	}
	if got := s.NextPly(2); got != 3 {
		t.Errorf("NextPly(2) = %d, want 3", got)
	}
	for p := 4; p >= 0; p-- {
		if s.Len(p) != p*3 {
			t.Errorf("Len(%d) = %d, want %d", p, s.Len(p), p*3)
		}
		for i := 0; i < p*3; i++ {
			got, _, _ := s.Pop(p)
			if got != a(100*p+i) {
				t.Fatalf("ply %d pop %d = %v, want %v", p, i, got, a(100*p+i))
			}
		}
	}
	if s.MaxPly() != -1 || s.Total() != 0 {
		t.Errorf("MaxPly = %d, Total = %d after draining", s.MaxPly(), s.Total())
	}
	if _, ok, _ := s.Pop(42); ok {
		t.Error("Pop on unknown ply returned an entry")
	}
}

func TestCloseRemovesFile(t *testing.T) {
	s, err := NewSet(t.TempDir(), 0)
	if err != nil {
		t.Fatal(err)
	}
	name := s.f.Name()
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := os.Stat(name); !os.IsNotExist(err) {
		t.Errorf("scratch file still present: %v", err)
	}
	if err := s.Push(0, a(1)); !errors.Is(err, ErrClosed) {
		t.Errorf("Push after Close = %v, want ErrClosed", err)
	}
}
