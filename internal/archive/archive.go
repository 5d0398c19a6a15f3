package archive

import (
	"context"
	"errors"
	"time"
)

var ErrDuplicateGame = errors.New("game already archived")

// Game is one finished voice chess game, stored for history queries once a
// terminal state is reached.
type Game struct {
	ID            int64
	SessionUUID   string
	SkillLevel    int
	Result        string
	ResultMethod  string
	MovesUCI      []string
	MovesSAN      []string
	PGN           string
	FinalFEN      string
	StartedAt     time.Time
	EndedAt       time.Time
	Duration      time.Duration
	EngineLatency time.Duration
}

type Repository interface {
	InsertGame(ctx context.Context, game *Game) (int64, error)
	GetRecentGames(ctx context.Context, limit int) ([]*Game, error)
	GetGame(ctx context.Context, id int64) (*Game, error)
	GetGameBySession(ctx context.Context, sessionUUID string) (*Game, error)
}
