package archive

import (
	"context"
	"sort"
	"sync"
)

// MemoryRepository keeps finished games in memory. Used when no database is
// configured and by tests.
type MemoryRepository struct {
	mu     sync.Mutex
	nextID int64
	games  []*Game
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{nextID: 1}
}

func (r *MemoryRepository) InsertGame(_ context.Context, game *Game) (int64, error) {
	if game == nil {
		return 0, ErrDuplicateGame
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, g := range r.games {
		if g.SessionUUID == game.SessionUUID {
			return 0, ErrDuplicateGame
		}
	}

	stored := *game
	stored.ID = r.nextID
	r.nextID++
	r.games = append(r.games, &stored)
	return stored.ID, nil
}

func (r *MemoryRepository) GetRecentGames(_ context.Context, limit int) ([]*Game, error) {
	if limit <= 0 {
		limit = 10
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*Game, len(r.games))
	for i, g := range r.games {
		copied := *g
		out[i] = &copied
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EndedAt.After(out[j].EndedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemoryRepository) GetGame(_ context.Context, id int64) (*Game, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, g := range r.games {
		if g.ID == id {
			copied := *g
			return &copied, nil
		}
	}
	return nil, nil
}

func (r *MemoryRepository) GetGameBySession(_ context.Context, sessionUUID string) (*Game, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.games) - 1; i >= 0; i-- {
		if r.games[i].SessionUUID == sessionUUID {
			copied := *r.games[i]
			return &copied, nil
		}
	}
	return nil, nil
}
