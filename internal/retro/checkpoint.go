package retro

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"slices"

	"github.com/cespare/xxhash/v2"
	"github.com/dgraph-io/badger/v4"
	"github.com/rs/zerolog"

	"github.com/freeeve/tablebase/internal/game"
)

// CheckpointConfig configures the badger database holding resumable
// intermediate results.
type CheckpointConfig struct {
	// Dir holds the badger files. Ignored when InMemory is set.
	Dir        string
	InMemory   bool
	SyncWrites bool
	// Logger receives badger's own messages. Nil silences them.
	Logger *zerolog.Logger
}

// Checkpoints stores seeded chunks and successor counts of an interrupted
// retrograde analysis.
type Checkpoints struct {
	db *badger.DB
}

var (
	prefixSeed   = []byte("seed/")
	prefixCounts = []byte("counts/")
)

type badgerLogger struct {
	log *zerolog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.log.Error().Msgf(format, args...)
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.log.Warn().Msgf(format, args...)
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.log.Debug().Msgf(format, args...)
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.log.Trace().Msgf(format, args...)
}

// OpenCheckpoints opens or creates the checkpoint database.
func OpenCheckpoints(cfg CheckpointConfig) (*Checkpoints, error) {
	if !cfg.InMemory && cfg.Dir == "" {
		return nil, errors.New("checkpoint directory is required")
	}
	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Dir, 0o750); err != nil {
			return nil, fmt.Errorf("create checkpoint directory %s: %w", cfg.Dir, err)
		}
		opts = badger.DefaultOptions(cfg.Dir)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{log: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open checkpoint database: %w", err)
	}
	return &Checkpoints{db: db}, nil
}

// Close closes the database.
func (c *Checkpoints) Close() error {
	return c.db.Close()
}

func seedKey(layer, first uint32) []byte {
	k := slices.Clone(prefixSeed)
	k = binary.BigEndian.AppendUint32(k, layer)
	return binary.BigEndian.AppendUint32(k, first)
}

// SaveSeed records the seeded knots of the chunk starting at first.
func (c *Checkpoints) SaveSeed(layer, first uint32, knots []game.Knot) error {
	buf := make([]byte, 0, 3*len(knots))
	for _, k := range knots {
		buf = append(buf, byte(k.Value))
		buf = binary.LittleEndian.AppendUint16(buf, uint16(k.Ply))
	}
	return c.db.Update(func(txn *badger.Txn) error {
		return txn.Set(seedKey(layer, first), buf)
	})
}

// LoadSeed returns the knots saved for a chunk.
func (c *Checkpoints) LoadSeed(layer, first uint32) ([]game.Knot, bool, error) {
	var knots []game.Knot
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(seedKey(layer, first))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			if len(val)%3 != 0 {
				return fmt.Errorf("seed %d/%d: %d bytes", layer, first, len(val))
			}
			knots = make([]game.Knot, len(val)/3)
			for i := range knots {
				knots[i] = game.Knot{
					Value: game.Value(val[3*i]),
					Ply:   game.PlyInfo(binary.LittleEndian.Uint16(val[3*i+1:])),
				}
			}
			return nil
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return knots, true, nil
}

// Signature identifies a set of layers and their sizes.
func Signature(layers []uint32, knots func(uint32) uint32) uint64 {
	d := xxhash.New()
	var b [8]byte
	for _, l := range layers {
		binary.LittleEndian.PutUint32(b[:4], l)
		binary.LittleEndian.PutUint32(b[4:], knots(l))
		_, _ = d.Write(b[:])
	}
	return d.Sum64()
}

func countsKey(sig uint64) []byte {
	return binary.BigEndian.AppendUint64(slices.Clone(prefixCounts), sig)
}

// SaveCounts stores the successor counts of layers in the given order.
func (c *Checkpoints) SaveCounts(sig uint64, counts [][]uint32) error {
	var buf []byte
	for _, cs := range counts {
		buf = binary.AppendUvarint(buf, uint64(len(cs)))
		for _, n := range cs {
			buf = binary.AppendUvarint(buf, uint64(n))
		}
	}
	return c.db.Update(func(txn *badger.Txn) error {
		return txn.Set(countsKey(sig), buf)
	})
}

// LoadCounts returns counts saved under sig. sizes must match the saved
// layer sizes exactly.
func (c *Checkpoints) LoadCounts(sig uint64, sizes []uint32) ([][]uint32, bool, error) {
	var counts [][]uint32
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(countsKey(sig))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			counts = make([][]uint32, len(sizes))
			for i, size := range sizes {
				n, k := binary.Uvarint(val)
				if k <= 0 || n != uint64(size) {
					return errSignatureMismatch
				}
				val = val[k:]
				counts[i] = make([]uint32, size)
				for j := range counts[i] {
					v, k := binary.Uvarint(val)
					if k <= 0 {
						return errSignatureMismatch
					}
					counts[i][j] = uint32(v)
					val = val[k:]
				}
			}
			if len(val) != 0 {
				return errSignatureMismatch
			}
			return nil
		})
	})
	switch {
	case errors.Is(err, badger.ErrKeyNotFound), errors.Is(err, errSignatureMismatch):
		return nil, false, nil
	case err != nil:
		return nil, false, err
	}
	return counts, true, nil
}

var errSignatureMismatch = errors.New("checkpoint does not match")

// Forget drops the seeds of layers and every saved count.
func (c *Checkpoints) Forget(layers []uint32) error {
	prefixes := [][]byte{prefixCounts}
	for _, l := range layers {
		prefixes = append(prefixes, binary.BigEndian.AppendUint32(slices.Clone(prefixSeed), l))
	}
	return c.db.DropPrefix(prefixes...)
}
