package store

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"

	"github.com/freeeve/tablebase/internal/game"
)

// Header format
//
//	Magic (4): "TBHD"
//	Version (2): 1
//	Flags (2): bit 0 = database complete
//	LayerCount (4)
//	per layer:
//	  NumKnots (4)
//	  Flags (1): bit 0 complete, bit 1 persisted, bit 2 stats valid
//	  SuccCount (2), SuccLayers (4 each)
//	  PartnerCount (2), PartnerLayers (4 each)
//	  ValueOffset (8), PlyOffset (8), FrameSize (8)
//	  Won, Lost, Drawn, Invalid (4 each)
//	  MaxPlyWon, MaxPlyLost (2 each)
//	Checksum (4): CRC32 of everything above
//
// Every field after creation is fixed width, so a header never changes size
// once its layer layout is set.
const (
	headerMagic   = "TBHD"
	headerVersion = 1
)

const (
	layerFlagComplete  = 1 << 0
	layerFlagPersisted = 1 << 1
	layerFlagStats     = 1 << 2
)

// ErrCorruptHeader is returned when a header fails to decode or verify.
var ErrCorruptHeader = errors.New("corrupt tablebase header")

// LayerStats are the cached counts of one layer.
type LayerStats struct {
	Won     uint32 `json:"won"`
	Lost    uint32 `json:"lost"`
	Drawn   uint32 `json:"drawn"`
	Invalid uint32 `json:"invalid"`
	// MaxPlyWon and MaxPlyLost are the longest finite distances.
	MaxPlyWon  game.PlyInfo `json:"max_ply_won"`
	MaxPlyLost game.PlyInfo `json:"max_ply_lost"`
}

// LayerHeader is the persisted metadata of one layer.
type LayerHeader struct {
	NumKnots      uint32
	Complete      bool
	Persisted     bool
	StatsValid    bool
	SuccLayers    []uint32
	PartnerLayers []uint32
	// ValueOffset and PlyOffset locate the payloads. The zstd encoding keeps
	// the frame start in ValueOffset and its length in FrameSize.
	ValueOffset uint64
	PlyOffset   uint64
	FrameSize   uint64
	Stats       LayerStats
}

// ValueBytes is the packed size of the layer's values.
func (l *LayerHeader) ValueBytes() int { return packedValueSize(l.NumKnots) }

// PlyBytes is the packed size of the layer's ply infos.
func (l *LayerHeader) PlyBytes() int { return packedPlySize(l.NumKnots) }

// Header is the database metadata.
type Header struct {
	Complete bool
	Layers   []LayerHeader
}

// NewHeader lays out a fresh header for a game's layers.
func NewHeader(layout game.Layout) *Header {
	h := &Header{Layers: make([]LayerHeader, layout.NumberOfLayers())}
	for i := range h.Layers {
		l := uint32(i)
		h.Layers[i] = LayerHeader{
			NumKnots:      layout.NumberOfKnotsInLayer(l),
			SuccLayers:    append([]uint32(nil), layout.SuccLayers(l)...),
			PartnerLayers: append([]uint32(nil), layout.PartnerLayers(l)...),
		}
	}
	return h
}

// Clone returns a deep copy.
func (h *Header) Clone() *Header {
	c := &Header{Complete: h.Complete, Layers: make([]LayerHeader, len(h.Layers))}
	for i, l := range h.Layers {
		l.SuccLayers = append([]uint32(nil), l.SuccLayers...)
		l.PartnerLayers = append([]uint32(nil), l.PartnerLayers...)
		c.Layers[i] = l
	}
	return c
}

// encodeHeader serializes h with a trailing checksum.
func encodeHeader(h *Header) []byte {
	buf := make([]byte, 0, 12+len(h.Layers)*64)
	buf = append(buf, headerMagic...)
	buf = binary.LittleEndian.AppendUint16(buf, headerVersion)
	var flags uint16
	if h.Complete {
		flags |= 1
	}
	buf = binary.LittleEndian.AppendUint16(buf, flags)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(h.Layers)))
	for i := range h.Layers {
		l := &h.Layers[i]
		buf = binary.LittleEndian.AppendUint32(buf, l.NumKnots)
		var lf byte
		if l.Complete {
			lf |= layerFlagComplete
		}
		if l.Persisted {
			lf |= layerFlagPersisted
		}
		if l.StatsValid {
			lf |= layerFlagStats
		}
		buf = append(buf, lf)
		buf = binary.LittleEndian.AppendUint16(buf, uint16(len(l.SuccLayers)))
		for _, s := range l.SuccLayers {
			buf = binary.LittleEndian.AppendUint32(buf, s)
		}
		buf = binary.LittleEndian.AppendUint16(buf, uint16(len(l.PartnerLayers)))
		for _, p := range l.PartnerLayers {
			buf = binary.LittleEndian.AppendUint32(buf, p)
		}
		buf = binary.LittleEndian.AppendUint64(buf, l.ValueOffset)
		buf = binary.LittleEndian.AppendUint64(buf, l.PlyOffset)
		buf = binary.LittleEndian.AppendUint64(buf, l.FrameSize)
		buf = binary.LittleEndian.AppendUint32(buf, l.Stats.Won)
		buf = binary.LittleEndian.AppendUint32(buf, l.Stats.Lost)
		buf = binary.LittleEndian.AppendUint32(buf, l.Stats.Drawn)
		buf = binary.LittleEndian.AppendUint32(buf, l.Stats.Invalid)
		buf = binary.LittleEndian.AppendUint16(buf, uint16(l.Stats.MaxPlyWon))
		buf = binary.LittleEndian.AppendUint16(buf, uint16(l.Stats.MaxPlyLost))
	}
	return binary.LittleEndian.AppendUint32(buf, crc32.ChecksumIEEE(buf))
}

// headerReader decodes fixed-width fields and remembers the first error.
type headerReader struct {
	buf []byte
	off int
	err error
}

func (r *headerReader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if r.off+n > len(r.buf) {
		r.err = fmt.Errorf("%w: truncated at byte %d", ErrCorruptHeader, r.off)
		return nil
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b
}

func (r *headerReader) u8() byte {
	if b := r.take(1); b != nil {
		return b[0]
	}
	return 0
}

func (r *headerReader) u16() uint16 {
	if b := r.take(2); b != nil {
		return binary.LittleEndian.Uint16(b)
	}
	return 0
}

func (r *headerReader) u32() uint32 {
	if b := r.take(4); b != nil {
		return binary.LittleEndian.Uint32(b)
	}
	return 0
}

func (r *headerReader) u64() uint64 {
	if b := r.take(8); b != nil {
		return binary.LittleEndian.Uint64(b)
	}
	return 0
}

// decodeHeader parses a buffer produced by encodeHeader and returns the header
// together with the number of bytes it occupied.
func decodeHeader(buf []byte) (*Header, int, error) {
	r := &headerReader{buf: buf}
	if magic := r.take(4); magic == nil || string(magic) != headerMagic {
		return nil, 0, fmt.Errorf("%w: invalid magic", ErrCorruptHeader)
	}
	if v := r.u16(); v != headerVersion {
		return nil, 0, fmt.Errorf("%w: unsupported version %d", ErrCorruptHeader, v)
	}
	h := &Header{Complete: r.u16()&1 != 0}
	n := r.u32()
	if r.err == nil && uint64(n)*40 > uint64(len(buf)) {
		return nil, 0, fmt.Errorf("%w: layer count %d", ErrCorruptHeader, n)
	}
	h.Layers = make([]LayerHeader, n)
	for i := range h.Layers {
		l := &h.Layers[i]
		l.NumKnots = r.u32()
		lf := r.u8()
		l.Complete = lf&layerFlagComplete != 0
		l.Persisted = lf&layerFlagPersisted != 0
		l.StatsValid = lf&layerFlagStats != 0
		l.SuccLayers = make([]uint32, r.u16())
		for j := range l.SuccLayers {
			l.SuccLayers[j] = r.u32()
		}
		l.PartnerLayers = make([]uint32, r.u16())
		for j := range l.PartnerLayers {
			l.PartnerLayers[j] = r.u32()
		}
		l.ValueOffset = r.u64()
		l.PlyOffset = r.u64()
		l.FrameSize = r.u64()
		l.Stats.Won = r.u32()
		l.Stats.Lost = r.u32()
		l.Stats.Drawn = r.u32()
		l.Stats.Invalid = r.u32()
		l.Stats.MaxPlyWon = game.PlyInfo(r.u16())
		l.Stats.MaxPlyLost = game.PlyInfo(r.u16())
	}
	body := r.off
	sum := r.u32()
	if r.err != nil {
		return nil, 0, r.err
	}
	if crc32.ChecksumIEEE(buf[:body]) != sum {
		return nil, 0, fmt.Errorf("%w: checksum mismatch", ErrCorruptHeader)
	}
	for i := range h.Layers {
		for _, s := range append(h.Layers[i].SuccLayers, h.Layers[i].PartnerLayers...) {
			if s >= n {
				return nil, 0, fmt.Errorf("%w: layer %d references layer %d", ErrCorruptHeader, i, s)
			}
		}
	}
	return h, r.off, nil
}
