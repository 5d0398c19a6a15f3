// Package builder wires configuration into a running dependency graph:
// engine process, redis-backed session store, optional postgres archive,
// speech services, and the HTTP server on top of them.
package builder

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/park285/voicechess/internal/archive"
	"github.com/park285/voicechess/internal/chess"
	"github.com/park285/voicechess/internal/config"
	"github.com/park285/voicechess/internal/interpret"
	"github.com/park285/voicechess/internal/server"
	"github.com/park285/voicechess/internal/session"
	"github.com/park285/voicechess/internal/speech"
	"github.com/park285/voicechess/internal/transcribe"
	"github.com/park285/voicechess/internal/turn"
)

type Deps struct {
	Server   *server.Server
	Pipeline *turn.Pipeline
	Store    *session.Store
	Engine   *chess.Engine
	Repo     archive.Repository

	rdb *redis.Client
	db  *sql.DB
}

func New(ctx context.Context, cfg *config.AppConfig, logger *zap.Logger) (*Deps, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	engine, err := chess.NewEngine(ctx, chess.Config{
		BinaryPath:      cfg.StockfishPath,
		Threads:         cfg.EngineThreads,
		HashMB:          cfg.EngineHashMB,
		ThinkTimeMillis: cfg.EngineThinkMillis,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("init engine: %w", err)
	}

	ropts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		engine.Close()
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(ropts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		engine.Close()
		rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	store := session.NewStore(rdb, time.Duration(cfg.SessionTTLSec)*time.Second, logger)

	// Finished games go to postgres when DATABASE_URL is set, otherwise they
	// stay in process memory.
	var (
		repo archive.Repository
		db   *sql.DB
	)
	if cfg.DatabaseURL != "" {
		db, err = sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			engine.Close()
			rdb.Close()
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		db.SetMaxOpenConns(16)
		db.SetMaxIdleConns(8)
		db.SetConnMaxLifetime(30 * time.Minute)
		if err := db.PingContext(pingCtx); err != nil {
			engine.Close()
			rdb.Close()
			db.Close()
			return nil, fmt.Errorf("ping postgres: %w", err)
		}
		repo = archive.NewPostgresRepository(db)
	} else {
		logger.Warn("DATABASE_URL not set, archiving games in memory only")
		repo = archive.NewMemoryRepository()
	}

	var tops []transcribe.Option
	if cfg.SpeechBaseURL != "" {
		tops = append(tops, transcribe.WithBaseURL(cfg.SpeechBaseURL))
	}
	tops = append(tops, transcribe.WithLogger(logger))
	transcriber := transcribe.New(cfg.SpeechAPIKey, cfg.TranscribeModel, tops...)

	var iops []interpret.Option
	if cfg.SpeechBaseURL != "" {
		iops = append(iops, interpret.WithBaseURL(cfg.SpeechBaseURL))
	}
	iops = append(iops, interpret.WithLogger(logger))
	interpreter := interpret.New(cfg.SpeechAPIKey, cfg.InterpretModel, iops...)

	// TTS runs against a separate account when one is configured; without a
	// key of its own the route stays disabled rather than reusing the speech
	// key against a provider that may not serve synthesis.
	var synth server.Synthesizer
	if cfg.TTSAPIKey != "" {
		var sops []speech.Option
		if cfg.TTSBaseURL != "" {
			sops = append(sops, speech.WithBaseURL(cfg.TTSBaseURL))
		}
		sops = append(sops, speech.WithLogger(logger))
		synth = speech.NewSynthesizer(cfg.TTSAPIKey, cfg.TTSModel, cfg.TTSVoice, sops...)
	}

	pipeline := turn.NewPipeline(store, transcriber, interpreter, engine, repo, turn.Config{
		TurnTimeout:                       time.Duration(cfg.TurnTimeoutSec) * time.Second,
		CommitPlayerMoveBeforeEngineReply: cfg.CommitPlayerMoveBeforeEngineReply,
	}, logger)

	srv := server.New(pipeline, store, repo, synth, server.Config{
		TurnTimeout:       time.Duration(cfg.TurnTimeoutSec) * time.Second,
		DefaultSkillLevel: cfg.DefaultSkillLevel,
	}, logger)

	return &Deps{
		Server:   srv,
		Pipeline: pipeline,
		Store:    store,
		Engine:   engine,
		Repo:     repo,
		rdb:      rdb,
		db:       db,
	}, nil
}

// Close releases the engine process and the store/archive connections.
func (d *Deps) Close() {
	if d.Engine != nil {
		d.Engine.Close()
	}
	if d.rdb != nil {
		d.rdb.Close()
	}
	if d.db != nil {
		d.db.Close()
	}
}
