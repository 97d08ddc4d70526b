// Package game defines the data model shared by the store and both solvers,
// and the contract a concrete game has to satisfy to be solved.
//
// Every situation-dependent method takes the worker index as its first
// argument. A game keeps one independent current situation per worker, so
// calls with different worker indexes may run concurrently.
package game

// Game is the collaborator consumed by the store and the solvers.
type Game interface {
	// Possibilities lists the moves available in the worker's situation.
	Possibilities(thread int) []MoveID
	// Move plays a move. playerChanged tells whether the opponent moves next.
	Move(thread int, move MoveID) (playerChanged bool, undo UndoToken)
	// Undo reverts a Move using the token it returned.
	Undo(thread int, move MoveID, playerChanged bool, undo UndoToken)
	// ValueOfSituation is the static evaluation from the mover's perspective.
	ValueOfSituation(thread int) (float32, Value)
	// SetSituation positions the worker on a state. False means the state
	// number does not describe a valid situation.
	SetSituation(thread int, layer, state uint32) bool
	// LayerAndStateNumber addresses the current situation.
	LayerAndStateNumber(thread int) (layer, state uint32, sym SymOp)
	// Predecessors lists every state with a move into the current situation.
	Predecessors(thread int) []PredecessorEdge
	// SymStateNumWithDuplicates lists the addresses that must carry the same
	// knot as the current situation, including the situation itself.
	SymStateNumWithDuplicates(thread int) []StateAddress
	ApplySymOp(thread int, op SymOp, inverse, playerChanged bool)
	IsStateIntegrityOk(thread int) bool

	// LostIfUnableToMove reports whether having no move loses the game.
	LostIfUnableToMove() bool
	SuccLayers(layer uint32) []uint32
	PartnerLayers(layer uint32) []uint32
	MaxNumPlies() int
	MaxNumPossibilities() int
	NumberOfLayers() uint32
	NumberOfKnotsInLayer(layer uint32) uint32
	// ShallRetroAnalysisBeUsed selects the solver for a layer.
	ShallRetroAnalysisBeUsed(layer uint32) bool
}

// Layout is the part of Game the store needs to create a database.
type Layout interface {
	NumberOfLayers() uint32
	NumberOfKnotsInLayer(layer uint32) uint32
	SuccLayers(layer uint32) []uint32
	PartnerLayers(layer uint32) []uint32
}
