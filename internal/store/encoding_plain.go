package store

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"github.com/freeeve/tablebase/internal/game"
)

// Plain encoding: two files with fixed per-layer offsets.
//
//	values.dat:  Magic (4) "TBVD", HeaderLen (4), Header, packed values
//	plyinfo.dat: Magic (4) "TBPD", Reserved (4), plies
const (
	plainValuesMagic = "TBVD"
	plainPlyMagic    = "TBPD"
	plainPreamble    = 8
)

var errNotPersisted = errors.New("layer not persisted")

type plainEncoding struct {
	dir       string
	values    *os.File
	plies     *os.File
	headerLen int
}

func createPlainEncoding(dir string, h *Header) (*plainEncoding, error) {
	headerLen := len(encodeHeader(h))
	valueOff := uint64(plainPreamble + headerLen)
	plyOff := uint64(plainPreamble)
	for i := range h.Layers {
		l := &h.Layers[i]
		l.ValueOffset = valueOff
		l.PlyOffset = plyOff
		valueOff += uint64(l.ValueBytes())
		plyOff += uint64(l.PlyBytes())
	}

	e := &plainEncoding{dir: dir, headerLen: headerLen}
	var err error
	if e.values, err = os.OpenFile(filepath.Join(dir, plainValuesFile), os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644); err != nil {
		return nil, err
	}
	if e.plies, err = os.OpenFile(filepath.Join(dir, plainPlyFile), os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644); err != nil {
		e.values.Close()
		return nil, err
	}

	pre := make([]byte, plainPreamble)
	copy(pre, plainValuesMagic)
	binary.LittleEndian.PutUint32(pre[4:], uint32(headerLen))
	if _, err := e.values.WriteAt(pre, 0); err != nil {
		e.Close()
		return nil, err
	}
	pre = make([]byte, plainPreamble)
	copy(pre, plainPlyMagic)
	if _, err := e.plies.WriteAt(pre, 0); err != nil {
		e.Close()
		return nil, err
	}
	if err := e.values.Truncate(int64(valueOff)); err != nil {
		e.Close()
		return nil, err
	}
	if err := e.plies.Truncate(int64(plyOff)); err != nil {
		e.Close()
		return nil, err
	}
	if err := e.SaveHeader(h); err != nil {
		e.Close()
		return nil, err
	}
	return e, nil
}

func openPlainEncoding(dir string) (*plainEncoding, error) {
	e := &plainEncoding{dir: dir}
	var err error
	if e.values, err = os.OpenFile(filepath.Join(dir, plainValuesFile), os.O_RDWR, 0644); err != nil {
		return nil, err
	}
	if e.plies, err = os.OpenFile(filepath.Join(dir, plainPlyFile), os.O_RDWR, 0644); err != nil {
		e.values.Close()
		return nil, err
	}
	pre := make([]byte, plainPreamble)
	if _, err := e.values.ReadAt(pre, 0); err != nil || string(pre[:4]) != plainValuesMagic {
		e.Close()
		return nil, fmt.Errorf("%w: %s preamble", ErrCorruptHeader, plainValuesFile)
	}
	e.headerLen = int(binary.LittleEndian.Uint32(pre[4:]))
	if _, err := e.plies.ReadAt(pre, 0); err != nil || string(pre[:4]) != plainPlyMagic {
		e.Close()
		return nil, fmt.Errorf("%w: %s preamble", ErrCorruptHeader, plainPlyFile)
	}
	return e, nil
}

func (e *plainEncoding) Name() string { return "plain" }

func (e *plainEncoding) LoadHeader() (*Header, error) {
	buf := make([]byte, e.headerLen)
	if _, err := e.values.ReadAt(buf, plainPreamble); err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	h, _, err := decodeHeader(buf)
	return h, err
}

func (e *plainEncoding) SaveHeader(h *Header) error {
	buf := encodeHeader(h)
	if len(buf) != e.headerLen {
		return fmt.Errorf("%w: header size changed from %d to %d", ErrCorruptHeader, e.headerLen, len(buf))
	}
	if _, err := e.values.WriteAt(buf, plainPreamble); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	if err := e.plies.Sync(); err != nil {
		return err
	}
	return e.values.Sync()
}

func (e *plainEncoding) ReadValue(l *LayerHeader, state uint32) (game.Value, error) {
	if !l.Persisted {
		return game.ValueInvalid, errNotPersisted
	}
	var b [1]byte
	if _, err := e.values.ReadAt(b[:], int64(l.ValueOffset)+int64(state/valuesPerByte)); err != nil {
		return game.ValueInvalid, err
	}
	return unpackValue(b[0], state), nil
}

func (e *plainEncoding) ReadPly(l *LayerHeader, state uint32) (game.PlyInfo, error) {
	if !l.Persisted {
		return game.PlyUncalculated, errNotPersisted
	}
	var b [2]byte
	if _, err := e.plies.ReadAt(b[:], int64(l.PlyOffset)+2*int64(state)); err != nil {
		return game.PlyUncalculated, err
	}
	return game.PlyInfo(binary.LittleEndian.Uint16(b[:])), nil
}

func (e *plainEncoding) ReadLayer(l *LayerHeader, values *ValueCells, plies *PlyCells) error {
	if !l.Persisted {
		return errNotPersisted
	}
	var g errgroup.Group
	g.Go(func() error {
		buf := make([]byte, l.ValueBytes())
		if _, err := io.ReadFull(io.NewSectionReader(e.values, int64(l.ValueOffset), int64(len(buf))), buf); err != nil {
			return fmt.Errorf("read values: %w", err)
		}
		return values.Unpack(buf)
	})
	g.Go(func() error {
		buf := make([]byte, l.PlyBytes())
		if _, err := io.ReadFull(io.NewSectionReader(e.plies, int64(l.PlyOffset), int64(len(buf))), buf); err != nil {
			return fmt.Errorf("read plies: %w", err)
		}
		return plies.Unpack(buf)
	})
	return g.Wait()
}

func (e *plainEncoding) WriteLayer(l *LayerHeader, values *ValueCells, plies *PlyCells) error {
	var g errgroup.Group
	g.Go(func() error {
		_, err := e.values.WriteAt(values.Pack(), int64(l.ValueOffset))
		return err
	})
	g.Go(func() error {
		_, err := e.plies.WriteAt(plies.Pack(), int64(l.PlyOffset))
		return err
	})
	if err := g.Wait(); err != nil {
		return fmt.Errorf("write layer payload: %w", err)
	}
	l.Persisted = true
	return nil
}

func (e *plainEncoding) Close() error {
	var errs []error
	if e.values != nil {
		errs = append(errs, e.values.Close())
		e.values = nil
	}
	if e.plies != nil {
		errs = append(errs, e.plies.Close())
		e.plies = nil
	}
	return errors.Join(errs...)
}

func (e *plainEncoding) Remove() error {
	e.Close()
	return errors.Join(
		os.Remove(filepath.Join(e.dir, plainValuesFile)),
		os.Remove(filepath.Join(e.dir, plainPlyFile)),
	)
}
