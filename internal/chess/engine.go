package chess

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/park285/voicechess/internal/chess/uci"
)

var (
	ErrEngineUnavailable = errors.New("engine unavailable")
	ErrEngineTimeout     = errors.New("engine timed out")
)

type Config struct {
	BinaryPath      string
	Threads         int
	HashMB          int
	ThinkTimeMillis int
}

// Engine wraps a single long-lived UCI subprocess. The session serializes
// searches internally, so one Engine is safe for concurrent turns.
type Engine struct {
	session *uci.Session
	think   int
	logger  *zap.Logger
}

func NewEngine(ctx context.Context, cfg Config, logger *zap.Logger) (*Engine, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if strings.TrimSpace(cfg.BinaryPath) == "" {
		return nil, errors.New("engine binary path is empty")
	}
	hash := cfg.HashMB
	if hash <= 0 {
		hash = 128
	}
	think := cfg.ThinkTimeMillis
	if think <= 0 {
		think = 100
	}

	session, err := uci.NewSession(ctx, cfg.BinaryPath, uci.Options{
		Threads: cfg.Threads,
		HashMB:  hash,
	})
	if err != nil {
		return nil, fmt.Errorf("start uci session: %w", err)
	}

	logger.Info("engine started",
		zap.String("binary", cfg.BinaryPath),
		zap.Int("threads", cfg.Threads),
		zap.Int("hash_mb", hash),
		zap.Int("think_ms", think),
	)
	return &Engine{session: session, think: think, logger: logger}, nil
}

// BestMove asks the engine for its reply from the position reached by playing
// moves (UCI coordinates) from the starting position. An empty return with a
// nil error means the engine had no legal move.
func (e *Engine) BestMove(ctx context.Context, moves []string, skillLevel int) (string, error) {
	if skillLevel < 0 {
		skillLevel = 0
	}
	if skillLevel > 20 {
		skillLevel = 20
	}

	start := time.Now()
	best, err := e.session.BestMove(ctx, uci.MoveRequest{
		FEN:            "startpos",
		Moves:          moves,
		SkillLevel:     skillLevel,
		MoveTimeMillis: e.think,
	})
	if err != nil {
		e.logger.Warn("engine search failed",
			zap.Int("ply", len(moves)),
			zap.Error(err),
		)
		return "", mapEngineError(err)
	}

	e.logger.Debug("engine move",
		zap.String("move", best),
		zap.Int("skill", skillLevel),
		zap.Duration("took", time.Since(start)),
	)
	return best, nil
}

func (e *Engine) Close() error {
	return e.session.Close()
}

func mapEngineError(err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return fmt.Errorf("%w: %v", ErrEngineTimeout, err)
	case strings.Contains(err.Error(), "timeout"):
		return fmt.Errorf("%w: %v", ErrEngineTimeout, err)
	default:
		return fmt.Errorf("%w: %v", ErrEngineUnavailable, err)
	}
}
