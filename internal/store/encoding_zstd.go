package store

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"

	"github.com/freeeve/tablebase/internal/game"
)

// Compressed encoding: one file.
//
//	Magic (4) "TBZ1", Reserved (4), HeaderOffset (8)
//	zstd frames, one per layer save (values then plies)
//	Headers, the live one at HeaderOffset
//
// Nothing live is ever overwritten. A layer save appends its frame at the
// end of the file and a header save appends the header, syncs, and only then
// points HeaderOffset at it. Frames of earlier saves of the same layer and
// earlier headers become garbage.
const (
	zstdMagic    = "TBZ1"
	zstdPreamble = 16
)

type zstdEncoding struct {
	path      string
	f         *os.File
	headerOff int64
	// end of the file, where the next frame or header goes
	end       int64
	encoder   *zstd.Encoder
	decoder   *zstd.Decoder

	// last decompressed frame, for single-unit reads
	cachedOff    uint64
	cachedValues []byte
	cachedPlies  []byte
}

func newZstdCodecs() (*zstd.Encoder, *zstd.Decoder, error) {
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
	if err != nil {
		return nil, nil, err
	}
	decoder, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(0))
	if err != nil {
		encoder.Close()
		return nil, nil, err
	}
	return encoder, decoder, nil
}

func createZstdEncoding(dir string, h *Header) (*zstdEncoding, error) {
	path := filepath.Join(dir, zstdFile)
	tmpPath := path + ".tmp"

	buf := make([]byte, zstdPreamble)
	copy(buf, zstdMagic)
	binary.LittleEndian.PutUint64(buf[8:], zstdPreamble)
	buf = append(buf, encodeHeader(h)...)
	if err := os.WriteFile(tmpPath, buf, 0644); err != nil {
		return nil, err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return nil, err
	}
	return openZstdEncoding(dir)
}

func openZstdEncoding(dir string) (*zstdEncoding, error) {
	path := filepath.Join(dir, zstdFile)
	f, err := os.OpenFile(path, os.O_RDWR, 0644)
	if err != nil {
		return nil, err
	}
	pre := make([]byte, zstdPreamble)
	if _, err := f.ReadAt(pre, 0); err != nil || string(pre[:4]) != zstdMagic {
		f.Close()
		return nil, fmt.Errorf("%w: %s preamble", ErrCorruptHeader, zstdFile)
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	encoder, decoder, err := newZstdCodecs()
	if err != nil {
		f.Close()
		return nil, err
	}
	return &zstdEncoding{
		path:      path,
		f:         f,
		headerOff: int64(binary.LittleEndian.Uint64(pre[8:])),
		end:       fi.Size(),
		encoder:   encoder,
		decoder:   decoder,
	}, nil
}

func (e *zstdEncoding) Name() string { return "zstd" }

func (e *zstdEncoding) LoadHeader() (*Header, error) {
	fi, err := e.f.Stat()
	if err != nil {
		return nil, err
	}
	if e.headerOff < zstdPreamble || e.headerOff > fi.Size() {
		return nil, fmt.Errorf("%w: header offset %d beyond file size %d", ErrCorruptHeader, e.headerOff, fi.Size())
	}
	// frames written after the last header save may follow it
	buf := make([]byte, fi.Size()-e.headerOff)
	if _, err := io.ReadFull(io.NewSectionReader(e.f, e.headerOff, int64(len(buf))), buf); err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	h, _, err := decodeHeader(buf)
	return h, err
}

func (e *zstdEncoding) SaveHeader(h *Header) error {
	buf := encodeHeader(h)
	at := e.end
	if _, err := e.f.WriteAt(buf, at); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	e.end += int64(len(buf))
	if err := e.f.Sync(); err != nil {
		return err
	}
	var off [8]byte
	binary.LittleEndian.PutUint64(off[:], uint64(at))
	if _, err := e.f.WriteAt(off[:], 8); err != nil {
		return fmt.Errorf("write preamble: %w", err)
	}
	if err := e.f.Sync(); err != nil {
		return err
	}
	e.headerOff = at
	return nil
}

// frame returns the decompressed payloads of l, reusing the last one read.
func (e *zstdEncoding) frame(l *LayerHeader) ([]byte, []byte, error) {
	if !l.Persisted {
		return nil, nil, errNotPersisted
	}
	if e.cachedValues != nil && e.cachedOff == l.ValueOffset {
		return e.cachedValues, e.cachedPlies, nil
	}
	compressed := make([]byte, l.FrameSize)
	if _, err := io.ReadFull(io.NewSectionReader(e.f, int64(l.ValueOffset), int64(l.FrameSize)), compressed); err != nil {
		return nil, nil, fmt.Errorf("read frame: %w", err)
	}
	raw, err := e.decoder.DecodeAll(compressed, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("decompress frame: %w", err)
	}
	vb, pb := l.ValueBytes(), l.PlyBytes()
	if len(raw) != vb+pb {
		return nil, nil, fmt.Errorf("frame size %d, want %d", len(raw), vb+pb)
	}
	e.cachedOff = l.ValueOffset
	e.cachedValues, e.cachedPlies = raw[:vb], raw[vb:]
	return e.cachedValues, e.cachedPlies, nil
}

func (e *zstdEncoding) ReadValue(l *LayerHeader, state uint32) (game.Value, error) {
	values, _, err := e.frame(l)
	if err != nil {
		return game.ValueInvalid, err
	}
	return unpackValue(values[state/valuesPerByte], state), nil
}

func (e *zstdEncoding) ReadPly(l *LayerHeader, state uint32) (game.PlyInfo, error) {
	_, plies, err := e.frame(l)
	if err != nil {
		return game.PlyUncalculated, err
	}
	return game.PlyInfo(binary.LittleEndian.Uint16(plies[2*state:])), nil
}

func (e *zstdEncoding) ReadLayer(l *LayerHeader, values *ValueCells, plies *PlyCells) error {
	vb, pb, err := e.frame(l)
	if err != nil {
		return err
	}
	if err := values.Unpack(vb); err != nil {
		return err
	}
	return plies.Unpack(pb)
}

func (e *zstdEncoding) WriteLayer(l *LayerHeader, values *ValueCells, plies *PlyCells) error {
	raw := append(values.Pack(), plies.Pack()...)
	frame := e.encoder.EncodeAll(raw, make([]byte, 0, len(raw)/4))
	if _, err := e.f.WriteAt(frame, e.end); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	l.ValueOffset = uint64(e.end)
	l.PlyOffset = 0
	l.FrameSize = uint64(len(frame))
	l.Persisted = true
	e.end += int64(len(frame))
	return nil
}

func (e *zstdEncoding) Close() error {
	if e.f == nil {
		return nil
	}
	e.encoder.Close()
	e.decoder.Close()
	err := e.f.Close()
	e.f = nil
	e.cachedValues, e.cachedPlies = nil, nil
	return err
}

func (e *zstdEncoding) Remove() error {
	return errors.Join(e.Close(), os.Remove(e.path))
}
