package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/freeeve/tablebase/internal/game"
)

// ErrNoDatabase is returned when opening a directory without tablebase files
// and no layout to create them from.
var ErrNoDatabase = errors.New("no tablebase files")

// FileEncoding persists layers and the header. Implementations are not safe
// for concurrent use; the Store serializes calls under its file mutex.
type FileEncoding interface {
	Name() string
	// LoadHeader returns the header written by the last SaveHeader.
	LoadHeader() (*Header, error)
	// SaveHeader persists h. Offsets assigned by WriteLayer must be in h.
	SaveHeader(h *Header) error
	ReadValue(l *LayerHeader, state uint32) (game.Value, error)
	ReadPly(l *LayerHeader, state uint32) (game.PlyInfo, error)
	// ReadLayer fills the cells from a persisted layer.
	ReadLayer(l *LayerHeader, values *ValueCells, plies *PlyCells) error
	// WriteLayer persists the cells and updates l's offsets and Persisted flag.
	WriteLayer(l *LayerHeader, values *ValueCells, plies *PlyCells) error
	Close() error
	// Remove closes and deletes the encoding's files.
	Remove() error
}

const (
	plainValuesFile = "values.dat"
	plainPlyFile    = "plyinfo.dat"
	zstdFile        = "tablebase.tbz"
)

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// detectEncodings reports which encodings have files in dir.
func detectEncodings(dir string) (plain, compressed bool) {
	plain = exists(filepath.Join(dir, plainValuesFile)) && exists(filepath.Join(dir, plainPlyFile))
	compressed = exists(filepath.Join(dir, zstdFile))
	return plain, compressed
}

// openEncoding selects the encoding by presence: a single present encoding is
// used as is, preferCompressed breaks ties, and with none present the
// preferred encoding is created from layout.
func openEncoding(dir string, preferCompressed bool, layout game.Layout) (FileEncoding, *Header, error) {
	plain, compressed := detectEncodings(dir)
	useZstd := preferCompressed
	switch {
	case plain && !compressed:
		useZstd = false
	case compressed && !plain:
		useZstd = true
	case !plain && !compressed:
		if layout == nil {
			return nil, nil, fmt.Errorf("%w in %s", ErrNoDatabase, dir)
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, nil, err
		}
		h := NewHeader(layout)
		var (
			enc FileEncoding
			err error
		)
		if useZstd {
			enc, err = createZstdEncoding(dir, h)
		} else {
			enc, err = createPlainEncoding(dir, h)
		}
		if err != nil {
			return nil, nil, err
		}
		return enc, h, nil
	}

	var (
		enc FileEncoding
		err error
	)
	if useZstd {
		enc, err = openZstdEncoding(dir)
	} else {
		enc, err = openPlainEncoding(dir)
	}
	if err != nil {
		return nil, nil, err
	}
	h, err := enc.LoadHeader()
	if err != nil {
		enc.Close()
		return nil, nil, fmt.Errorf("load header (%s): %w", enc.Name(), err)
	}
	return enc, h, nil
}
