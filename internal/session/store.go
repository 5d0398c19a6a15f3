package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	nchess "github.com/corentings/chess/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/park285/voicechess/pkg/wire"
)

const keyPrefix = "voicechess:sessions:"

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrCorruptSession  = errors.New("session state failed replay")
)

// Store keeps session state in redis as one JSON document per session.
// Writes refresh the TTL so active games never expire mid-play.
type Store struct {
	rdb    redis.UniversalClient
	ttl    time.Duration
	logger *zap.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewStore(rdb redis.UniversalClient, ttl time.Duration, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Store{
		rdb:    rdb,
		ttl:    ttl,
		logger: logger,
		locks:  make(map[string]*sync.Mutex),
	}
}

// Lock serializes turns for one session within this process. The returned
// func releases the lock.
func (s *Store) Lock(sessionID string) func() {
	s.mu.Lock()
	m, ok := s.locks[sessionID]
	if !ok {
		m = &sync.Mutex{}
		s.locks[sessionID] = m
	}
	s.mu.Unlock()
	m.Lock()
	return m.Unlock
}

// Create starts a fresh game at the given engine strength and persists it.
// Skill levels outside 0-20 are clamped.
func (s *Store) Create(ctx context.Context, skillLevel int) (*wire.Session, error) {
	if skillLevel < 0 {
		skillLevel = 0
	}
	if skillLevel > 20 {
		skillLevel = 20
	}

	sess := &wire.Session{
		SessionID:  uuid.NewString(),
		FEN:        nchess.NewGame().FEN(),
		SkillLevel: skillLevel,
		Moves:      []wire.MoveRecord{},
	}
	if err := s.Save(ctx, sess); err != nil {
		return nil, err
	}
	s.logger.Info("session created",
		zap.String("session_id", sess.SessionID),
		zap.Int("skill_level", skillLevel),
	)
	return sess, nil
}

// Get loads a session and verifies its FEN against a replay of the move log.
func (s *Store) Get(ctx context.Context, sessionID string) (*wire.Session, error) {
	raw, err := s.rdb.Get(ctx, sessionKey(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}

	var sess wire.Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}

	game, err := Replay(sess.Moves)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptSession, err)
	}
	if fen := game.FEN(); fen != sess.FEN {
		s.logger.Warn("stored FEN out of sync with move log, using replayed position",
			zap.String("session_id", sess.SessionID),
			zap.String("stored", sess.FEN),
			zap.String("replayed", fen),
		)
		sess.FEN = fen
	}
	return &sess, nil
}

// Save writes the session document and refreshes its TTL.
func (s *Store) Save(ctx context.Context, sess *wire.Session) error {
	if sess == nil || strings.TrimSpace(sess.SessionID) == "" {
		return errors.New("cannot save session without an id")
	}
	raw, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	if err := s.rdb.Set(ctx, sessionKey(sess.SessionID), raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// UpdateSkillLevel changes the engine strength for subsequent turns.
func (s *Store) UpdateSkillLevel(ctx context.Context, sessionID string, skillLevel int) (*wire.Session, error) {
	if skillLevel < 0 {
		skillLevel = 0
	}
	if skillLevel > 20 {
		skillLevel = 20
	}

	unlock := s.Lock(sessionID)
	defer unlock()

	sess, err := s.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	sess.SkillLevel = skillLevel
	if err := s.Save(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// Delete removes the session document.
func (s *Store) Delete(ctx context.Context, sessionID string) error {
	return s.rdb.Del(ctx, sessionKey(sessionID)).Err()
}

func sessionKey(sessionID string) string {
	return keyPrefix + strings.TrimSpace(sessionID)
}

// Replay reconstructs a game by applying the move log, in UCI coordinates,
// from the starting position.
func Replay(moves []wire.MoveRecord) (*nchess.Game, error) {
	game := nchess.NewGame()
	notation := nchess.UCINotation{}
	for _, rec := range moves {
		uci := strings.ToLower(strings.TrimSpace(rec.UCI))
		if uci == "" {
			continue
		}
		mv, err := notation.Decode(game.Position(), uci)
		if err != nil {
			return nil, fmt.Errorf("decode move %d (%s): %w", rec.Ply, rec.UCI, err)
		}
		if err := game.Move(mv, nil); err != nil {
			return nil, fmt.Errorf("apply move %d (%s): %w", rec.Ply, rec.UCI, err)
		}
	}
	return game, nil
}
