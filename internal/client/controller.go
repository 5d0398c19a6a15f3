package client

import (
	"context"
	"errors"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/park285/voicechess/internal/msgcat"
	"github.com/park285/voicechess/pkg/wire"
)

var (
	ErrNoSession    = errors.New("no active session")
	ErrGameFinished = errors.New("game is already over")
	ErrTurnInFlight = errors.New("a turn is already in progress")
)

// StatusFunc receives a human-readable line for each stage of a running turn.
type StatusFunc func(status wire.Status, message string)

// Controller drives a game from the client side: it owns the local view of
// the session, refuses turns once the game is over, and reconciles its view
// with the server after every turn.
type Controller struct {
	client  *Client
	catalog *msgcat.Catalog
	logger  *zap.Logger

	mu       sync.Mutex
	session  *wire.Session
	gameOver bool
	busy     bool
}

func NewController(c *Client, catalog *msgcat.Catalog, logger *zap.Logger) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{client: c, catalog: catalog, logger: logger}
}

// NewSession creates a server-side session and makes it the active game.
func (ctl *Controller) NewSession(ctx context.Context, skillLevel int) (*wire.Session, error) {
	sess, err := ctl.client.CreateSession(ctx, skillLevel)
	if err != nil {
		return nil, err
	}
	ctl.mu.Lock()
	ctl.session = sess
	ctl.gameOver = false
	ctl.mu.Unlock()
	return sess, nil
}

// Attach resumes an existing session by id.
func (ctl *Controller) Attach(ctx context.Context, sessionID string) (*wire.Session, error) {
	sess, err := ctl.client.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	ctl.mu.Lock()
	ctl.session = sess
	ctl.gameOver = sessionFinished(sess)
	ctl.mu.Unlock()
	return sess, nil
}

// Session returns a copy of the current local view, or nil.
func (ctl *Controller) Session() *wire.Session {
	ctl.mu.Lock()
	defer ctl.mu.Unlock()
	if ctl.session == nil {
		return nil
	}
	copied := *ctl.session
	copied.Moves = append([]wire.MoveRecord(nil), ctl.session.Moves...)
	return &copied
}

// GameOver reports whether the active game reached a terminal state.
func (ctl *Controller) GameOver() bool {
	ctl.mu.Lock()
	defer ctl.mu.Unlock()
	return ctl.gameOver
}

// SetSkillLevel updates engine strength and the local view.
func (ctl *Controller) SetSkillLevel(ctx context.Context, skillLevel int) (*wire.Session, error) {
	ctl.mu.Lock()
	if ctl.session == nil {
		ctl.mu.Unlock()
		return nil, ErrNoSession
	}
	id := ctl.session.SessionID
	ctl.mu.Unlock()

	sess, err := ctl.client.UpdateSkillLevel(ctx, id, skillLevel)
	if err != nil {
		return nil, err
	}
	ctl.mu.Lock()
	ctl.session = sess
	ctl.mu.Unlock()
	return sess, nil
}

// SubmitTurn runs one voice turn. Status updates are translated through the
// message catalog and forwarded to onStatus. On success the local view is
// replaced by a fresh fetch from the server, and the returned result carries
// the authoritative move log.
func (ctl *Controller) SubmitTurn(ctx context.Context, audio []byte, contentType string, onStatus StatusFunc) (*wire.TurnResult, error) {
	ctl.mu.Lock()
	if ctl.session == nil {
		ctl.mu.Unlock()
		return nil, ErrNoSession
	}
	if ctl.gameOver {
		ctl.mu.Unlock()
		return nil, ErrGameFinished
	}
	if ctl.busy {
		ctl.mu.Unlock()
		return nil, ErrTurnInFlight
	}
	ctl.busy = true
	sessionID := ctl.session.SessionID
	ctl.mu.Unlock()

	defer func() {
		ctl.mu.Lock()
		ctl.busy = false
		ctl.mu.Unlock()
	}()

	result, err := ctl.client.SubmitTurn(ctx, sessionID, audio, contentType, func(u wire.StreamUpdate) {
		if onStatus == nil {
			return
		}
		msg := ctl.statusMessage(u)
		onStatus(u.Status, msg)
	})
	if err != nil {
		return nil, err
	}

	// The stream's complete frame has no move log; the session fetch is the
	// authoritative record.
	fresh, ferr := ctl.client.GetSession(ctx, sessionID)
	if ferr != nil {
		ctl.logger.Warn("failed to refresh session after turn",
			zap.String("session_id", sessionID),
			zap.Error(ferr),
		)
	} else {
		result.Moves = append([]wire.MoveRecord(nil), fresh.Moves...)
		ctl.mu.Lock()
		ctl.session = fresh
		ctl.mu.Unlock()
	}

	if resultFinished(result) {
		ctl.mu.Lock()
		ctl.gameOver = true
		ctl.mu.Unlock()
	}
	return result, nil
}

func (ctl *Controller) statusMessage(u wire.StreamUpdate) string {
	if ctl.catalog == nil {
		return string(u.Status)
	}
	if u.Status == wire.StatusError {
		if u.Code != "" {
			return ctl.catalog.ErrorMessage(u.Code)
		}
		return u.Error
	}
	if u.Status == wire.StatusTranscribed {
		return ctl.catalog.StatusMessageWith(string(u.Status), u.Transcript)
	}
	return ctl.catalog.StatusMessage(string(u.Status))
}

// resultFinished detects a terminal turn. The state field is authoritative;
// the text patterns cover servers that predate it.
func resultFinished(result *wire.TurnResult) bool {
	if result == nil {
		return false
	}
	switch result.State {
	case wire.StateCheckmate, wire.StateStalemate, wire.StateDraw:
		return true
	case wire.StateOngoing:
		return false
	}
	if result.EngineMove.SAN == "Checkmate!" || result.EngineMove.SAN == "Stalemate" {
		return true
	}
	if strings.HasSuffix(result.EngineMove.SAN, "#") || strings.HasSuffix(result.UserMove.SAN, "#") {
		return true
	}
	return strings.Contains(result.EngineMove.SAN, "Stalemate")
}

func sessionFinished(sess *wire.Session) bool {
	if sess == nil || len(sess.Moves) == 0 {
		return false
	}
	last := sess.Moves[len(sess.Moves)-1]
	return strings.HasSuffix(last.SAN, "#") || strings.Contains(last.SAN, "Stalemate")
}
