package wire

// MoveResult is a single move in both notations.
type MoveResult struct {
	UCI string `json:"uci"`
	SAN string `json:"san"`
}

// Game states reported on a completed turn. Computed once by the pipeline
// from the rules engine, never re-derived from move text.
const (
	StateOngoing   = "ongoing"
	StateCheckmate = "checkmate"
	StateStalemate = "stalemate"
	StateDraw      = "draw"
)

// TurnResult is the terminal output of one successful turn.
//
// EngineMove keeps the legacy text markers in SAN ("#" suffix on a mating
// move, " (Stalemate)" on a stalemating one, and the literal "Checkmate!" /
// "Stalemate" placeholders when the player ends the game) so that callers
// matching on text keep working; State is the authoritative field.
type TurnResult struct {
	Transcript string       `json:"transcript"`
	UserMove   MoveResult   `json:"user_move"`
	EngineMove MoveResult   `json:"engine_move"`
	FEN        string       `json:"fen"`
	State      string       `json:"state"`
	Moves      []MoveRecord `json:"moves"`
}
