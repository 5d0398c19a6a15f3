package wire

import "time"

// Move record actors. Ply 1 is always a player move; actors alternate from there.
const (
	ActorPlayer = "player"
	ActorEngine = "engine"
)

// MoveRecord is one committed half-move in a session's move log.
// Transcript is only present for player moves.
type MoveRecord struct {
	Ply        int       `json:"ply"`
	Actor      string    `json:"actor"`
	UCI        string    `json:"uci"`
	SAN        string    `json:"san"`
	Transcript string    `json:"transcript,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Session is the authoritative game state held by the session store.
// FEN is always the result of replaying Moves from the initial position.
type Session struct {
	SessionID  string       `json:"session_id"`
	FEN        string       `json:"fen"`
	SkillLevel int          `json:"skill_level"`
	Moves      []MoveRecord `json:"moves"`
}
