// Package frontier holds the per-worker ply queues of the retrograde solver.
//
// A Set owns one scratch file and a FIFO Queue per ply distance. Each queue
// keeps a write block and a read block in memory; full blocks in between are
// spilled to fixed-size slots of the scratch file. Released slots are reused
// oldest-first. A Set is owned by one worker and is not safe for concurrent
// use.
package frontier

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"

	"github.com/freeeve/tablebase/internal/game"
)

const entrySize = 8

// DefaultBlockEntries is the block size used when none is configured.
const DefaultBlockEntries = 4096

// ErrClosed is returned after Close.
var ErrClosed = errors.New("frontier closed")

// Set is a collection of queues indexed by ply.
type Set struct {
	f        *os.File
	block    int // entries per block
	queues   []*Queue
	free     []int64
	nextSlot int64
	buf      []byte
	total    int
}

// Queue is a FIFO of state addresses for one ply.
type Queue struct {
	set     *Set
	write   []game.StateAddress
	read    []game.StateAddress
	readPos int
	slots   []int64
	n       int
}

// NewSet creates a set with its scratch file in dir. blockEntries <= 0 uses
// DefaultBlockEntries.
func NewSet(dir string, blockEntries int) (*Set, error) {
	if blockEntries <= 0 {
		blockEntries = DefaultBlockEntries
	}
	f, err := os.CreateTemp(dir, "frontier-*.tmp")
	if err != nil {
		return nil, fmt.Errorf("create frontier file: %w", err)
	}
	return &Set{
		f:     f,
		block: blockEntries,
		buf:   make([]byte, blockEntries*entrySize),
	}, nil
}

func (s *Set) queue(ply int) *Queue {
	for len(s.queues) <= ply {
		s.queues = append(s.queues, &Queue{set: s})
	}
	return s.queues[ply]
}

// Push appends addr to the queue of ply.
func (s *Set) Push(ply int, addr game.StateAddress) error {
	if s.f == nil {
		return ErrClosed
	}
	if ply < 0 {
		return fmt.Errorf("frontier: negative ply %d", ply)
	}
	if err := s.queue(ply).push(addr); err != nil {
		return err
	}
	s.total++
	return nil
}

// Pop removes the oldest entry of ply. ok is false when the queue is empty.
func (s *Set) Pop(ply int) (addr game.StateAddress, ok bool, err error) {
	if s.f == nil {
		return addr, false, ErrClosed
	}
	if ply < 0 || ply >= len(s.queues) {
		return addr, false, nil
	}
	addr, ok, err = s.queues[ply].pop()
	if ok {
		s.total--
	}
	return addr, ok, err
}

// Len returns the number of entries queued at ply.
func (s *Set) Len(ply int) int {
	if ply < 0 || ply >= len(s.queues) {
		return 0
	}
	return s.queues[ply].n
}

// Total returns the number of entries over all plies.
func (s *Set) Total() int { return s.total }

// MaxPly is the highest ply with queued entries, or -1.
func (s *Set) MaxPly() int {
	for p := len(s.queues) - 1; p >= 0; p-- {
		if s.queues[p].n > 0 {
			return p
		}
	}
	return -1
}

// NextPly is the lowest ply above after with queued entries, or -1.
func (s *Set) NextPly(after int) int {
	for p := max(after+1, 0); p < len(s.queues); p++ {
		if s.queues[p].n > 0 {
			return p
		}
	}
	return -1
}

// SlotsInUse reports the number of file slots holding spilled blocks, and
// the number of slots the file has ever grown to.
func (s *Set) SlotsInUse() (used, allocated int64) {
	return s.nextSlot - int64(len(s.free)), s.nextSlot
}

// Close deletes the scratch file.
func (s *Set) Close() error {
	if s.f == nil {
		return nil
	}
	name := s.f.Name()
	err := s.f.Close()
	s.f = nil
	s.queues = nil
	return errors.Join(err, os.Remove(name))
}

func (s *Set) allocSlot() int64 {
	if len(s.free) > 0 {
		slot := s.free[0]
		s.free = s.free[1:]
		return slot
	}
	slot := s.nextSlot
	s.nextSlot++
	return slot
}

func (s *Set) slotOffset(slot int64) int64 {
	return slot * int64(s.block*entrySize)
}

func (s *Set) writeBlock(slot int64, entries []game.StateAddress) error {
	for i, a := range entries {
		binary.LittleEndian.PutUint32(s.buf[i*entrySize:], a.Layer)
		binary.LittleEndian.PutUint32(s.buf[i*entrySize+4:], a.State)
	}
	if _, err := s.f.WriteAt(s.buf[:len(entries)*entrySize], s.slotOffset(slot)); err != nil {
		return fmt.Errorf("spill frontier block: %w", err)
	}
	return nil
}

func (s *Set) readBlock(slot int64, dst []game.StateAddress) error {
	if _, err := s.f.ReadAt(s.buf[:len(dst)*entrySize], s.slotOffset(slot)); err != nil {
		return fmt.Errorf("load frontier block: %w", err)
	}
	for i := range dst {
		dst[i] = game.StateAddress{
			Layer: binary.LittleEndian.Uint32(s.buf[i*entrySize:]),
			State: binary.LittleEndian.Uint32(s.buf[i*entrySize+4:]),
		}
	}
	return nil
}

func (q *Queue) push(addr game.StateAddress) error {
	q.write = append(q.write, addr)
	q.n++
	if len(q.write) < q.set.block {
		return nil
	}
	// a full write block goes straight to the read side when nothing is
	// queued between them
	if len(q.slots) == 0 && q.readPos == len(q.read) {
		q.read, q.write = q.write, q.read[:0]
		q.readPos = 0
		return nil
	}
	slot := q.set.allocSlot()
	if err := q.set.writeBlock(slot, q.write); err != nil {
		return err
	}
	q.slots = append(q.slots, slot)
	q.write = q.write[:0]
	return nil
}

func (q *Queue) pop() (game.StateAddress, bool, error) {
	if q.readPos == len(q.read) {
		switch {
		case len(q.slots) > 0:
			slot := q.slots[0]
			if cap(q.read) < q.set.block {
				q.read = make([]game.StateAddress, q.set.block)
			}
			q.read = q.read[:q.set.block]
			if err := q.set.readBlock(slot, q.read); err != nil {
				return game.StateAddress{}, false, err
			}
			q.slots = q.slots[1:]
			q.set.free = append(q.set.free, slot)
		case len(q.write) > 0:
			q.read, q.write = q.write, q.read[:0]
		default:
			return game.StateAddress{}, false, nil
		}
		q.readPos = 0
	}
	a := q.read[q.readPos]
	q.readPos++
	q.n--
	return a, true, nil
}
