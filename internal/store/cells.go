package store

import (
	"encoding/binary"
	"fmt"
	"sync/atomic"

	"github.com/freeeve/tablebase/internal/game"
)

const (
	valuesPerWord = 16
	valuesPerByte = 4
	valueMask     = 0x3
)

// ValueCells is a packed array of 2-bit value codes safe for concurrent use.
type ValueCells struct {
	words []atomic.Uint32
	n     uint32
}

// NewValueCells returns n cells set to fill.
func NewValueCells(n uint32, fill game.Value) *ValueCells {
	c := &ValueCells{
		words: make([]atomic.Uint32, (uint64(n)+valuesPerWord-1)/valuesPerWord),
		n:     n,
	}
	var w uint32
	for i := 0; i < valuesPerWord; i++ {
		w |= uint32(fill&valueMask) << (2 * i)
	}
	for i := range c.words {
		c.words[i].Store(w)
	}
	return c
}

func (c *ValueCells) Len() uint32 { return c.n }

// Bytes is the in-memory footprint.
func (c *ValueCells) Bytes() int64 { return int64(len(c.words)) * 4 }

func (c *ValueCells) Load(i uint32) game.Value {
	w := c.words[i/valuesPerWord].Load()
	return game.Value(w>>(2*(i%valuesPerWord))) & valueMask
}

// Store sets cell i, retrying until no other writer touched the word.
func (c *ValueCells) Store(i uint32, v game.Value) {
	word := &c.words[i/valuesPerWord]
	shift := 2 * (i % valuesPerWord)
	for {
		old := word.Load()
		next := old&^(valueMask<<shift) | uint32(v&valueMask)<<shift
		if old == next || word.CompareAndSwap(old, next) {
			return
		}
	}
}

// CompareAndSwap sets cell i to next if it currently holds old.
func (c *ValueCells) CompareAndSwap(i uint32, old, next game.Value) bool {
	word := &c.words[i/valuesPerWord]
	shift := 2 * (i % valuesPerWord)
	for {
		w := word.Load()
		if game.Value(w>>shift)&valueMask != old {
			return false
		}
		nw := w&^(valueMask<<shift) | uint32(next&valueMask)<<shift
		if word.CompareAndSwap(w, nw) {
			return true
		}
	}
}

// Pack encodes the cells four per byte.
func (c *ValueCells) Pack() []byte {
	out := make([]byte, packedValueSize(c.n))
	for s := uint32(0); s < c.n; s++ {
		out[s/valuesPerByte] |= byte(c.Load(s)) << (2 * (s % valuesPerByte))
	}
	return out
}

// Unpack replaces the cells with a buffer produced by Pack.
func (c *ValueCells) Unpack(b []byte) error {
	if len(b) != packedValueSize(c.n) {
		return fmt.Errorf("packed values: got %d bytes, want %d", len(b), packedValueSize(c.n))
	}
	for wi := range c.words {
		var w uint32
		for j := 0; j < valuesPerWord/valuesPerByte; j++ {
			bi := wi*valuesPerWord/valuesPerByte + j
			if bi < len(b) {
				w |= uint32(b[bi]) << (8 * j)
			}
		}
		c.words[wi].Store(w)
	}
	return nil
}

func packedValueSize(n uint32) int {
	return int((uint64(n) + valuesPerByte - 1) / valuesPerByte)
}

func unpackValue(b byte, state uint32) game.Value {
	return game.Value(b>>(2*(state%valuesPerByte))) & valueMask
}

// PlyCells holds one ply info per state.
type PlyCells struct {
	slots []atomic.Uint32
}

func NewPlyCells(n uint32, fill game.PlyInfo) *PlyCells {
	c := &PlyCells{slots: make([]atomic.Uint32, n)}
	for i := range c.slots {
		c.slots[i].Store(uint32(fill))
	}
	return c
}

func (c *PlyCells) Len() uint32 { return uint32(len(c.slots)) }

func (c *PlyCells) Bytes() int64 { return int64(len(c.slots)) * 4 }

func (c *PlyCells) Load(i uint32) game.PlyInfo {
	return game.PlyInfo(c.slots[i].Load())
}

func (c *PlyCells) Store(i uint32, p game.PlyInfo) {
	c.slots[i].Store(uint32(p))
}

// Pack encodes the plies as little-endian uint16.
func (c *PlyCells) Pack() []byte {
	out := make([]byte, 2*len(c.slots))
	for i := range c.slots {
		binary.LittleEndian.PutUint16(out[2*i:], uint16(c.slots[i].Load()))
	}
	return out
}

func (c *PlyCells) Unpack(b []byte) error {
	if len(b) != 2*len(c.slots) {
		return fmt.Errorf("packed plies: got %d bytes, want %d", len(b), 2*len(c.slots))
	}
	for i := range c.slots {
		c.slots[i].Store(uint32(binary.LittleEndian.Uint16(b[2*i:])))
	}
	return nil
}

func packedPlySize(n uint32) int { return 2 * int(n) }
