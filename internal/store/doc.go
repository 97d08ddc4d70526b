// Package store is the layered tablebase database.
//
// Every layer holds one knot (value, ply info) per state. Layers are
// materialized lazily into memory, written through one of two file encodings
// and frozen once complete.
//
// In-memory layout:
//   - values: sixteen 2-bit codes per uint32 word, mutated with CAS
//   - plies: one atomic 32-bit slot per state holding a uint16
//
// File encodings:
//   - plain: values.dat (preamble, header, packed values) and plyinfo.dat
//     (preamble, little-endian uint16 plies), fixed offsets per layer
//   - zstd: tablebase.tbz, one zstd frame per layer save, header appended
//     after the last frame and located through the preamble
//
// On disk values are packed four per byte: state s lives at byte s/4, bit
// offset 2*(s%4).
package store
