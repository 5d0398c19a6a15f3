package turn

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	nchess "github.com/corentings/chess/v2"
	"go.uber.org/zap"

	"github.com/park285/voicechess/internal/archive"
	"github.com/park285/voicechess/internal/chess"
	"github.com/park285/voicechess/internal/interpret"
	"github.com/park285/voicechess/internal/session"
	"github.com/park285/voicechess/internal/transcribe"
	"github.com/park285/voicechess/pkg/wire"
)

// Transcriber converts recorded audio into text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, contentType string) (string, error)
}

// MoveInterpreter turns a transcript into move text for the current position.
type MoveInterpreter interface {
	Interpret(ctx context.Context, transcript string, game *nchess.Game) (string, error)
}

// EngineMover picks a reply for the position reached by the move list.
type EngineMover interface {
	BestMove(ctx context.Context, moves []string, skillLevel int) (string, error)
}

// EmitFunc receives progress updates while a turn runs. Implementations must
// not block for long; the pipeline calls it inline.
type EmitFunc func(wire.StreamUpdate)

type Config struct {
	TurnTimeout time.Duration
	// CommitPlayerMoveBeforeEngineReply persists the player's half-move as
	// soon as it is validated, so an engine failure does not lose it. When
	// false the session is only written after the full turn.
	CommitPlayerMoveBeforeEngineReply bool
}

// Pipeline runs one voice turn end to end: audio to transcript, transcript
// to move, move onto the board, engine reply, terminal-state detection.
type Pipeline struct {
	store       *session.Store
	transcriber Transcriber
	interpreter MoveInterpreter
	engine      EngineMover
	repo        archive.Repository
	cfg         Config
	logger      *zap.Logger
}

func NewPipeline(
	store *session.Store,
	transcriber Transcriber,
	interpreter MoveInterpreter,
	engine EngineMover,
	repo archive.Repository,
	cfg Config,
	logger *zap.Logger,
) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		store:       store,
		transcriber: transcriber,
		interpreter: interpreter,
		engine:      engine,
		repo:        repo,
		cfg:         cfg,
		logger:      logger,
	}
}

// Run executes a full turn for the session. Progress updates go to emit as
// each stage starts or lands; the terminal result is both emitted as a
// complete update and returned. Errors come back as wire.DomainError.
func (p *Pipeline) Run(ctx context.Context, sessionID string, audio []byte, contentType string, emit EmitFunc) (*wire.TurnResult, error) {
	if emit == nil {
		emit = func(wire.StreamUpdate) {}
	}
	start := time.Now()

	unlock := p.store.Lock(sessionID)
	defer unlock()

	sess, err := p.store.Get(ctx, sessionID)
	if err != nil {
		return nil, p.fail(err, "")
	}
	game, err := session.Replay(sess.Moves)
	if err != nil {
		return nil, p.fail(err, "")
	}

	// Stage 1: transcription.
	emit(wire.StreamUpdate{Status: wire.StatusTranscribing})
	transcript, err := p.transcriber.Transcribe(ctx, audio, contentType)
	if err != nil {
		return nil, p.fail(err, "")
	}
	emit(wire.StreamUpdate{Status: wire.StatusTranscribed, Transcript: transcript})

	// Stage 2: interpretation and board update.
	emit(wire.StreamUpdate{Status: wire.StatusInterpreting})
	moveText, err := p.interpreter.Interpret(ctx, transcript, game)
	if err != nil {
		return nil, p.fail(err, transcript)
	}

	mv, err := interpret.ResolveMove(game, moveText)
	if err != nil {
		return nil, p.fail(err, transcript)
	}

	san := nchess.AlgebraicNotation{}
	posBeforePlayer := game.Position()
	playerSAN := san.Encode(posBeforePlayer, mv)
	playerUCI := strings.ToLower(mv.String())

	if err := game.Move(mv, nil); err != nil {
		p.logger.Warn("illegal move rejected",
			zap.String("session_id", sessionID),
			zap.String("move", playerUCI),
			zap.String("fen", sess.FEN),
			zap.String("transcript", transcript),
		)
		return nil, wire.DomainError{
			Code:    wire.CodeIllegalMove,
			Message: fmt.Sprintf("Illegal move: Heard %q but %s is not a legal move in this position.", transcript, playerUCI),
		}
	}

	ply := len(sess.Moves) + 1
	sess.Moves = append(sess.Moves, wire.MoveRecord{
		Ply:        ply,
		Actor:      wire.ActorPlayer,
		UCI:        playerUCI,
		SAN:        playerSAN,
		Transcript: transcript,
		Timestamp:  time.Now().UTC(),
	})
	sess.FEN = game.FEN()

	if p.cfg.CommitPlayerMoveBeforeEngineReply {
		if err := p.store.Save(ctx, sess); err != nil {
			return nil, p.fail(err, transcript)
		}
	}

	emit(wire.StreamUpdate{
		Status: wire.StatusPlayerMoved,
		Move:   &wire.MoveResult{UCI: playerUCI, SAN: playerSAN},
	})

	// Player may have ended the game; the engine never moves from a
	// terminal position.
	if state := terminalState(game); state != wire.StateOngoing {
		userMove := wire.MoveResult{UCI: playerUCI, SAN: playerSAN}
		engineMove := wire.MoveResult{UCI: ""}
		switch state {
		case wire.StateCheckmate:
			if !strings.HasSuffix(userMove.SAN, "#") {
				userMove.SAN += "#"
			}
			engineMove.SAN = "Checkmate!"
		case wire.StateStalemate:
			engineMove.SAN = "Stalemate"
		default:
			engineMove.SAN = "Draw"
		}

		if !p.cfg.CommitPlayerMoveBeforeEngineReply {
			if err := p.store.Save(ctx, sess); err != nil {
				return nil, p.fail(err, transcript)
			}
		}
		p.archiveGame(ctx, sess, game, start, 0)

		result := &wire.TurnResult{
			Transcript: transcript,
			UserMove:   userMove,
			EngineMove: engineMove,
			FEN:        game.FEN(),
			State:      state,
			Moves:      sess.Moves,
		}
		p.emitComplete(emit, result)
		p.logger.Info("turn ended by player move",
			zap.String("session_id", sessionID),
			zap.String("state", state),
			zap.Duration("took", time.Since(start)),
		)
		return result, nil
	}

	// Stage 3: engine reply.
	emit(wire.StreamUpdate{Status: wire.StatusEngineThinking})
	engineStart := time.Now()
	engineUCI, err := p.engine.BestMove(ctx, moveLog(sess.Moves), sess.SkillLevel)
	if err != nil {
		return nil, p.fail(err, transcript)
	}
	engineLatency := time.Since(engineStart)
	if engineUCI == "" {
		return nil, wire.DomainError{
			Code:      wire.CodeEngineUnavailable,
			Message:   "The engine returned no move for this position.",
			Retryable: true,
		}
	}

	posBeforeEngine := game.Position()
	engineMv, err := nchess.UCINotation{}.Decode(posBeforeEngine, engineUCI)
	if err != nil {
		return nil, p.fail(fmt.Errorf("%w: decode engine move %q: %v", chess.ErrEngineUnavailable, engineUCI, err), transcript)
	}
	engineSAN := san.Encode(posBeforeEngine, engineMv)
	if err := game.Move(engineMv, nil); err != nil {
		return nil, p.fail(fmt.Errorf("%w: apply engine move %q: %v", chess.ErrEngineUnavailable, engineUCI, err), transcript)
	}

	state := terminalState(game)
	switch state {
	case wire.StateCheckmate:
		if !strings.HasSuffix(engineSAN, "#") {
			engineSAN += "#"
		}
	case wire.StateStalemate:
		engineSAN += " (Stalemate)"
	}

	sess.Moves = append(sess.Moves, wire.MoveRecord{
		Ply:       ply + 1,
		Actor:     wire.ActorEngine,
		UCI:       engineUCI,
		SAN:       engineSAN,
		Timestamp: time.Now().UTC(),
	})
	sess.FEN = game.FEN()
	if err := p.store.Save(ctx, sess); err != nil {
		return nil, p.fail(err, transcript)
	}

	if state != wire.StateOngoing {
		p.archiveGame(ctx, sess, game, start, engineLatency)
	}

	result := &wire.TurnResult{
		Transcript: transcript,
		UserMove:   wire.MoveResult{UCI: playerUCI, SAN: playerSAN},
		EngineMove: wire.MoveResult{UCI: engineUCI, SAN: engineSAN},
		FEN:        game.FEN(),
		State:      state,
		Moves:      sess.Moves,
	}
	p.emitComplete(emit, result)
	p.logger.Info("turn completed",
		zap.String("session_id", sessionID),
		zap.String("player_move", playerUCI),
		zap.String("engine_move", engineUCI),
		zap.String("state", state),
		zap.Duration("took", time.Since(start)),
	)
	return result, nil
}

func (p *Pipeline) emitComplete(emit EmitFunc, result *wire.TurnResult) {
	emit(wire.StreamUpdate{
		Status:     wire.StatusComplete,
		Transcript: result.Transcript,
		UserMove:   &result.UserMove,
		EngineMove: &result.EngineMove,
		FEN:        result.FEN,
		State:      result.State,
	})
}

// fail wraps a stage error in a DomainError with a stable code.
func (p *Pipeline) fail(err error, transcript string) error {
	var derr wire.DomainError
	if errors.As(err, &derr) {
		return derr
	}

	switch {
	case errors.Is(err, session.ErrSessionNotFound):
		return wire.DomainError{Code: wire.CodeSessionNotFound, Message: "Session not found"}
	case errors.Is(err, transcribe.ErrEmptyTranscript), errors.Is(err, transcribe.ErrEmptyAudio):
		return wire.DomainError{
			Code:      wire.CodeEmptyTranscript,
			Message:   "No speech detected. Please try again.",
			Retryable: true,
		}
	case errors.Is(err, interpret.ErrUninterpretable), errors.Is(err, interpret.ErrUnparsableMove):
		return wire.DomainError{
			Code:    wire.CodeIllegalMove,
			Message: fmt.Sprintf("Could not understand move: Heard %q but couldn't interpret it as a valid chess move. Please try again.", transcript),
		}
	case errors.Is(err, chess.ErrEngineTimeout):
		return wire.DomainError{Code: wire.CodeTimeout, Message: "The engine took too long to reply.", Retryable: true}
	case errors.Is(err, chess.ErrEngineUnavailable):
		return wire.DomainError{Code: wire.CodeEngineUnavailable, Message: "The chess engine is unavailable.", Retryable: true}
	case errors.Is(err, context.DeadlineExceeded):
		return wire.DomainError{Code: wire.CodeTimeout, Message: "The turn timed out.", Retryable: true}
	default:
		p.logger.Error("turn failed", zap.Error(err))
		return wire.DomainError{Code: wire.CodeTransport, Message: err.Error(), Retryable: true}
	}
}

// terminalState reads the game outcome once from the rules engine.
func terminalState(game *nchess.Game) string {
	if game.Outcome() == nchess.NoOutcome {
		return wire.StateOngoing
	}
	switch game.Method() {
	case nchess.Checkmate:
		return wire.StateCheckmate
	case nchess.Stalemate:
		return wire.StateStalemate
	default:
		return wire.StateDraw
	}
}

func moveLog(records []wire.MoveRecord) []string {
	out := make([]string, 0, len(records))
	for _, rec := range records {
		if uci := strings.TrimSpace(rec.UCI); uci != "" {
			out = append(out, uci)
		}
	}
	return out
}

func (p *Pipeline) archiveGame(ctx context.Context, sess *wire.Session, game *nchess.Game, turnStart time.Time, engineLatency time.Duration) {
	if p.repo == nil {
		return
	}

	movesUCI := make([]string, 0, len(sess.Moves))
	movesSAN := make([]string, 0, len(sess.Moves))
	for _, rec := range sess.Moves {
		if rec.UCI == "" {
			continue
		}
		movesUCI = append(movesUCI, rec.UCI)
		movesSAN = append(movesSAN, rec.SAN)
	}

	startedAt := turnStart
	if len(sess.Moves) > 0 && !sess.Moves[0].Timestamp.IsZero() {
		startedAt = sess.Moves[0].Timestamp
	}
	endedAt := time.Now().UTC()

	archived := &archive.Game{
		SessionUUID:   sess.SessionID,
		SkillLevel:    sess.SkillLevel,
		Result:        string(game.Outcome()),
		ResultMethod:  strings.ToLower(game.Method().String()),
		MovesUCI:      movesUCI,
		MovesSAN:      movesSAN,
		PGN:           game.String(),
		FinalFEN:      game.FEN(),
		StartedAt:     startedAt,
		EndedAt:       endedAt,
		Duration:      endedAt.Sub(startedAt),
		EngineLatency: engineLatency,
	}
	if _, err := p.repo.InsertGame(ctx, archived); err != nil && !errors.Is(err, archive.ErrDuplicateGame) {
		p.logger.Warn("failed to archive finished game",
			zap.String("session_id", sess.SessionID),
			zap.Error(err),
		)
	}
}
