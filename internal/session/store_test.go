package session

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/park285/voicechess/pkg/wire"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(func() { mr.Close() })
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return NewStore(rdb, time.Hour, nil)
}

func TestCreateAndGet(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	sess, err := store.Create(ctx, 7)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if sess.SessionID == "" {
		t.Fatal("empty session id")
	}
	if sess.SkillLevel != 7 {
		t.Errorf("skill = %d, want 7", sess.SkillLevel)
	}
	if len(sess.Moves) != 0 {
		t.Errorf("new session has %d moves", len(sess.Moves))
	}

	got, err := store.Get(ctx, sess.SessionID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.FEN != sess.FEN {
		t.Errorf("FEN = %q, want %q", got.FEN, sess.FEN)
	}
}

func TestCreateClampsSkillLevel(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	low, err := store.Create(ctx, -5)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if low.SkillLevel != 0 {
		t.Errorf("skill = %d, want 0", low.SkillLevel)
	}

	high, err := store.Create(ctx, 42)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if high.SkillLevel != 20 {
		t.Errorf("skill = %d, want 20", high.SkillLevel)
	}
}

func TestGetUnknownSession(t *testing.T) {
	store := newTestStore(t)
	if _, err := store.Get(context.Background(), "missing"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("err = %v, want ErrSessionNotFound", err)
	}
}

func TestSaveRoundTripWithMoves(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	sess, err := store.Create(ctx, 5)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	now := time.Now().UTC()
	sess.Moves = []wire.MoveRecord{
		{Ply: 1, Actor: wire.ActorPlayer, UCI: "e2e4", SAN: "e4", Transcript: "pawn e4", Timestamp: now},
		{Ply: 2, Actor: wire.ActorEngine, UCI: "e7e5", SAN: "e5", Timestamp: now},
	}
	game, err := Replay(sess.Moves)
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	sess.FEN = game.FEN()
	if err := store.Save(ctx, sess); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := store.Get(ctx, sess.SessionID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(got.Moves) != 2 {
		t.Fatalf("moves = %d, want 2", len(got.Moves))
	}
	if got.Moves[0].Transcript != "pawn e4" {
		t.Errorf("transcript = %q", got.Moves[0].Transcript)
	}
	if got.FEN != sess.FEN {
		t.Errorf("FEN = %q, want %q", got.FEN, sess.FEN)
	}
}

func TestGetRepeatedIsIdentical(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	sess, err := store.Create(ctx, 5)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	now := time.Now().UTC().Truncate(time.Second)
	sess.Moves = []wire.MoveRecord{
		{Ply: 1, Actor: wire.ActorPlayer, UCI: "e2e4", SAN: "e4", Transcript: "pawn e4", Timestamp: now},
		{Ply: 2, Actor: wire.ActorEngine, UCI: "e7e5", SAN: "e5", Timestamp: now},
	}
	game, err := Replay(sess.Moves)
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	sess.FEN = game.FEN()
	if err := store.Save(ctx, sess); err != nil {
		t.Fatalf("Save: %v", err)
	}

	first, err := store.Get(ctx, sess.SessionID)
	if err != nil {
		t.Fatalf("first Get: %v", err)
	}
	second, err := store.Get(ctx, sess.SessionID)
	if err != nil {
		t.Fatalf("second Get: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Errorf("consecutive reads differ:\n%+v\n%+v", first, second)
	}
}

func TestGetRepairsStaleFEN(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	sess, err := store.Create(ctx, 5)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	sess.Moves = []wire.MoveRecord{
		{Ply: 1, Actor: wire.ActorPlayer, UCI: "e2e4", SAN: "e4", Timestamp: time.Now()},
	}
	// FEN left at the starting position on purpose.
	if err := store.Save(ctx, sess); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := store.Get(ctx, sess.SessionID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	game, err := Replay(got.Moves)
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if got.FEN != game.FEN() {
		t.Errorf("FEN = %q, want replayed %q", got.FEN, game.FEN())
	}
}

func TestUpdateSkillLevel(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	sess, err := store.Create(ctx, 5)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	got, err := store.UpdateSkillLevel(ctx, sess.SessionID, 15)
	if err != nil {
		t.Fatalf("UpdateSkillLevel: %v", err)
	}
	if got.SkillLevel != 15 {
		t.Errorf("skill = %d, want 15", got.SkillLevel)
	}

	reloaded, err := store.Get(ctx, sess.SessionID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if reloaded.SkillLevel != 15 {
		t.Errorf("persisted skill = %d, want 15", reloaded.SkillLevel)
	}
}

func TestReplaySkipsPlaceholderMoves(t *testing.T) {
	// Entries without coordinates are tolerated and skipped.
	moves := []wire.MoveRecord{
		{Ply: 1, Actor: wire.ActorPlayer, UCI: "e2e4", SAN: "e4"},
		{Ply: 2, Actor: wire.ActorEngine, UCI: "", SAN: "Checkmate!"},
	}
	game, err := Replay(moves)
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if len(game.Moves()) != 1 {
		t.Errorf("applied moves = %d, want 1", len(game.Moves()))
	}
}

func TestReplayRejectsIllegalLog(t *testing.T) {
	moves := []wire.MoveRecord{
		{Ply: 1, Actor: wire.ActorPlayer, UCI: "e2e5", SAN: "??"},
	}
	if _, err := Replay(moves); err == nil {
		t.Fatal("expected error for illegal move log")
	}
}
