package alphabeta

import (
	"lukechampine.com/frand"

	"github.com/freeeve/tablebase/internal/game"
)

// bigValue is the float of a known win at ply 0.
const bigValue float32 = 1 << 20

// knotFloat scores a stored knot so that quicker wins and slower losses
// rank higher.
func knotFloat(v game.Value, p game.PlyInfo) float32 {
	switch v {
	case game.ValueWon:
		return bigValue - float32(p)
	case game.ValueLost:
		return -bigValue + float32(p)
	}
	return 0
}

func nextPly(p game.PlyInfo) game.PlyInfo {
	if p >= game.PlyMax {
		return game.PlyMax
	}
	return p + 1
}

// Child is one possibility of a searched state.
type Child struct {
	Move          game.MoveID
	PlayerChanged bool
	// Knot and Float are seen from the player to move in the child.
	Knot  game.Knot
	Float float32
}

// view is the child seen from the parent's player.
func (c Child) view() (float32, game.Value) {
	if c.PlayerChanged {
		return -c.Float, c.Knot.Value.Flip()
	}
	return c.Float, c.Knot.Value
}

// node is one searched state.
type node struct {
	float float32
	knot  game.Knot
	// children are only kept where a caller asked for them.
	children  []Child
	histogram [game.NumValues]int
}

// combine accumulates children. Won takes the quickest win, Lost the slowest
// loss.
type combine struct {
	float     float32
	value     game.Value
	wonPly    game.PlyInfo
	lostPly   game.PlyInfo
	unknown   bool
	any       bool
	histogram [game.NumValues]int
}

func (c *combine) add(ch Child) {
	f, v := ch.view()
	if !c.any || f > c.float {
		c.float = f
	}
	if !c.any || v > c.value {
		c.value = v
	}
	c.any = true
	switch v {
	case game.ValueWon:
		if c.histogram[v] == 0 || ch.Knot.Ply < c.wonPly {
			c.wonPly = ch.Knot.Ply
		}
	case game.ValueLost:
		if c.histogram[v] == 0 || ch.Knot.Ply > c.lostPly {
			c.lostPly = ch.Knot.Ply
		}
	case game.ValueDrawn:
		if ch.Knot.Ply == game.PlyUncalculated {
			c.unknown = true
		}
	}
	c.histogram[v]++
}

func (c *combine) result() game.Knot {
	switch c.value {
	case game.ValueWon:
		return game.Knot{Value: game.ValueWon, Ply: nextPly(c.wonPly)}
	case game.ValueLost:
		return game.Knot{Value: game.ValueLost, Ply: nextPly(c.lostPly)}
	case game.ValueDrawn:
		if c.unknown {
			return game.Knot{Value: game.ValueDrawn, Ply: game.PlyUncalculated}
		}
		return game.Knot{Value: game.ValueDrawn, Ply: game.PlyDrawn}
	}
	return game.Knot{Value: game.ValueInvalid, Ply: game.PlyInvalid}
}

// better reports whether a is a strictly better choice than b for the
// parent's player. Ties return false both ways.
func better(a, b Child) bool {
	af, av := a.view()
	bf, bv := b.view()
	if av != bv {
		return av > bv
	}
	ap, bp := a.Knot.Ply, b.Knot.Ply
	switch av {
	case game.ValueWon:
		if ap != bp {
			return ap < bp
		}
	case game.ValueLost:
		if ap != bp {
			return ap > bp
		}
	}
	return af > bf
}

// pickBest returns the index of a best child, choosing uniformly among
// equally good ones.
func pickBest(children []Child) int {
	if len(children) == 0 {
		return -1
	}
	best := []int{0}
	for i := 1; i < len(children); i++ {
		switch {
		case better(children[i], children[best[0]]):
			best = append(best[:0], i)
		case !better(children[best[0]], children[i]):
			best = append(best, i)
		}
	}
	if len(best) == 1 {
		return best[0]
	}
	return best[frand.Intn(len(best))]
}
