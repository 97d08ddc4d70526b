package game

import (
	"errors"
	"fmt"
)

// ErrInvalidValue is returned for a value code outside the 2-bit range or a
// knot whose ply info contradicts its value.
var ErrInvalidValue = errors.New("invalid knot value")

// StateAddress identifies one state: the layer and the dense state number the
// game assigned inside that layer.
type StateAddress struct {
	Layer uint32
	State uint32
}

func (a StateAddress) String() string {
	return fmt.Sprintf("%d/%d", a.Layer, a.State)
}

// Value is the game-theoretic outcome of a state from the perspective of the
// player to move. Stored as a 2-bit code.
type Value uint8

// Ordering matters: the alpha-beta combination takes the maximum.
const (
	ValueInvalid Value = 0
	ValueLost    Value = 1
	ValueDrawn   Value = 2
	ValueWon     Value = 3
)

// NumValues is the number of distinct value codes.
const NumValues = 4

func (v Value) String() string {
	switch v {
	case ValueInvalid:
		return "invalid"
	case ValueLost:
		return "lost"
	case ValueDrawn:
		return "drawn"
	case ValueWon:
		return "won"
	default:
		return fmt.Sprintf("value(%d)", uint8(v))
	}
}

// Valid reports whether v fits in the 2-bit code.
func (v Value) Valid() bool {
	return v <= ValueWon
}

// Flip returns the value seen from the other player.
func (v Value) Flip() Value {
	switch v {
	case ValueWon:
		return ValueLost
	case ValueLost:
		return ValueWon
	default:
		return v
	}
}

// ParseValue is the inverse of Value.String.
func ParseValue(s string) (Value, error) {
	switch s {
	case "invalid":
		return ValueInvalid, nil
	case "lost":
		return ValueLost, nil
	case "drawn":
		return ValueDrawn, nil
	case "won":
		return ValueWon, nil
	}
	return ValueInvalid, fmt.Errorf("%w: %q", ErrInvalidValue, s)
}

// PlyInfo is the number of moves to a terminal result, or one of the sentinels.
type PlyInfo uint16

const (
	PlyUncalculated PlyInfo = 0xFFFF
	PlyInvalid      PlyInfo = 0xFFFE
	PlyDrawn        PlyInfo = 0xFFFD
	// PlyMax is the largest finite count.
	PlyMax PlyInfo = 0xFFFC
)

// Finite reports whether p is an actual move count.
func (p PlyInfo) Finite() bool {
	return p <= PlyMax
}

func (p PlyInfo) String() string {
	switch p {
	case PlyUncalculated:
		return "uncalculated"
	case PlyInvalid:
		return "invalid"
	case PlyDrawn:
		return "drawn"
	default:
		return fmt.Sprintf("%d", uint16(p))
	}
}

// Knot is the stored record of one state.
type Knot struct {
	Value Value
	Ply   PlyInfo
}

func (k Knot) String() string {
	return k.Value.String() + "/" + k.Ply.String()
}

// Calculated reports whether the knot holds a resolved result.
func (k Knot) Calculated() bool {
	return k.Ply != PlyUncalculated
}

// CheckKnot validates the sentinel rule tying a resolved value to its ply info.
func CheckKnot(k Knot) error {
	if !k.Value.Valid() {
		return fmt.Errorf("%w: code %d", ErrInvalidValue, k.Value)
	}
	switch k.Value {
	case ValueWon, ValueLost:
		if !k.Ply.Finite() {
			return fmt.Errorf("%w: %s with ply %s", ErrInvalidValue, k.Value, k.Ply)
		}
	case ValueDrawn:
		if k.Ply != PlyDrawn {
			return fmt.Errorf("%w: drawn with ply %s", ErrInvalidValue, k.Ply)
		}
	case ValueInvalid:
		if k.Ply != PlyInvalid {
			return fmt.Errorf("%w: invalid with ply %s", ErrInvalidValue, k.Ply)
		}
	}
	return nil
}

// MoveID identifies one possibility returned by Game.Possibilities.
type MoveID uint32

// UndoToken is returned by Game.Move and handed back to Game.Undo. Its
// contents belong to the game.
type UndoToken any

// SymOp identifies a symmetry operation of the game. Zero is the identity.
type SymOp uint32

// PredecessorEdge is one way to reach the current situation.
type PredecessorEdge struct {
	Addr          StateAddress
	SymOp         SymOp
	PlayerChanged bool
}
