package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/park285/voicechess/internal/archive"
	"github.com/park285/voicechess/internal/session"
	"github.com/park285/voicechess/internal/turn"
	"github.com/park285/voicechess/pkg/wire"
)

// Synthesizer renders a move announcement as audio. Optional; requests to
// the tts route fail cleanly when absent.
type Synthesizer interface {
	SpeakMove(ctx context.Context, san string) ([]byte, error)
}

type Config struct {
	TurnTimeout       time.Duration
	DefaultSkillLevel int
}

// Server exposes the voice turn pipeline over HTTP. Turn progress streams
// as newline-delimited "data:" frames, one JSON update per frame.
type Server struct {
	pipeline *turn.Pipeline
	store    *session.Store
	repo     archive.Repository
	synth    Synthesizer
	cfg      Config
	logger   *zap.Logger
}

func New(pipeline *turn.Pipeline, store *session.Store, repo archive.Repository, synth Synthesizer, cfg Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.TurnTimeout <= 0 {
		cfg.TurnTimeout = 30 * time.Second
	}
	return &Server{
		pipeline: pipeline,
		store:    store,
		repo:     repo,
		synth:    synth,
		cfg:      cfg,
		logger:   logger,
	}
}

// Handler routes requests. Paths:
//
//	GET  /                                health
//	POST /sessions                        create session (?skill_level=N)
//	GET  /sessions/{id}                   fetch session state
//	PUT  /sessions/{id}/skill-level       change engine strength
//	GET  /sessions/{id}/tts/{san}         spoken audio for a move
//	POST /sessions/{id}/turn-stream       run one voice turn, streaming
//	GET  /games                           recent finished games (?limit=N)
func (s *Server) Handler() fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		path := string(ctx.Path())
		method := string(ctx.Method())

		switch {
		case path == "/" && method == fasthttp.MethodGet:
			s.handleHealth(ctx)
		case path == "/sessions" && method == fasthttp.MethodPost:
			s.handleCreateSession(ctx)
		case path == "/games" && method == fasthttp.MethodGet:
			s.handleRecentGames(ctx)
		case strings.HasPrefix(path, "/sessions/"):
			s.routeSession(ctx, method, strings.TrimPrefix(path, "/sessions/"))
		default:
			s.writeError(ctx, fasthttp.StatusNotFound, wire.DomainError{Code: "not_found", Message: "unknown route"})
		}
	}
}

func (s *Server) routeSession(ctx *fasthttp.RequestCtx, method, rest string) {
	parts := strings.Split(rest, "/")
	sessionID := parts[0]
	if sessionID == "" {
		s.writeError(ctx, fasthttp.StatusNotFound, wire.DomainError{Code: "not_found", Message: "missing session id"})
		return
	}

	switch {
	case len(parts) == 1 && method == fasthttp.MethodGet:
		s.handleGetSession(ctx, sessionID)
	case len(parts) == 2 && parts[1] == "skill-level" && method == fasthttp.MethodPut:
		s.handleUpdateSkillLevel(ctx, sessionID)
	case len(parts) == 2 && parts[1] == "turn-stream" && method == fasthttp.MethodPost:
		s.handleTurnStream(ctx, sessionID)
	case len(parts) == 3 && parts[1] == "tts" && method == fasthttp.MethodGet:
		s.handleMoveSpeech(ctx, sessionID, parts[2])
	default:
		s.writeError(ctx, fasthttp.StatusNotFound, wire.DomainError{Code: "not_found", Message: "unknown route"})
	}
}

func (s *Server) handleHealth(ctx *fasthttp.RequestCtx) {
	s.writeJSON(ctx, fasthttp.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleCreateSession(ctx *fasthttp.RequestCtx) {
	skill := s.cfg.DefaultSkillLevel
	if raw := string(ctx.QueryArgs().Peek("skill_level")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			s.writeError(ctx, fasthttp.StatusBadRequest, wire.DomainError{Code: "bad_request", Message: "skill_level must be an integer"})
			return
		}
		skill = n
	}

	sess, err := s.store.Create(ctx, skill)
	if err != nil {
		s.writeError(ctx, fasthttp.StatusInternalServerError, wire.DomainError{Code: wire.CodeTransport, Message: err.Error()})
		return
	}
	s.writeJSON(ctx, fasthttp.StatusCreated, sess)
}

func (s *Server) handleGetSession(ctx *fasthttp.RequestCtx, sessionID string) {
	sess, err := s.store.Get(ctx, sessionID)
	if err != nil {
		s.writeStoreError(ctx, err)
		return
	}
	s.writeJSON(ctx, fasthttp.StatusOK, sess)
}

func (s *Server) handleUpdateSkillLevel(ctx *fasthttp.RequestCtx, sessionID string) {
	var body struct {
		SkillLevel *int `json:"skill_level"`
	}
	if err := json.Unmarshal(ctx.PostBody(), &body); err != nil || body.SkillLevel == nil {
		s.writeError(ctx, fasthttp.StatusBadRequest, wire.DomainError{Code: "bad_request", Message: "body must be {\"skill_level\": N}"})
		return
	}

	sess, err := s.store.UpdateSkillLevel(ctx, sessionID, *body.SkillLevel)
	if err != nil {
		s.writeStoreError(ctx, err)
		return
	}
	s.writeJSON(ctx, fasthttp.StatusOK, sess)
}

func (s *Server) handleMoveSpeech(ctx *fasthttp.RequestCtx, sessionID, rawSAN string) {
	if s.synth == nil {
		s.writeError(ctx, fasthttp.StatusNotImplemented, wire.DomainError{Code: "tts_disabled", Message: "speech synthesis is not configured"})
		return
	}
	if _, err := s.store.Get(ctx, sessionID); err != nil {
		s.writeStoreError(ctx, err)
		return
	}

	san, err := url.PathUnescape(rawSAN)
	if err != nil || strings.TrimSpace(san) == "" {
		s.writeError(ctx, fasthttp.StatusBadRequest, wire.DomainError{Code: "bad_request", Message: "invalid move text"})
		return
	}

	audio, err := s.synth.SpeakMove(ctx, san)
	if err != nil {
		s.writeError(ctx, fasthttp.StatusBadGateway, wire.DomainError{Code: wire.CodeTransport, Message: err.Error()})
		return
	}
	ctx.SetStatusCode(fasthttp.StatusOK)
	ctx.SetContentType("audio/mpeg")
	ctx.SetBody(audio)
}

func (s *Server) handleRecentGames(ctx *fasthttp.RequestCtx) {
	limit := 10
	if raw := string(ctx.QueryArgs().Peek("limit")); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	games, err := s.repo.GetRecentGames(ctx, limit)
	if err != nil {
		s.writeError(ctx, fasthttp.StatusInternalServerError, wire.DomainError{Code: wire.CodeTransport, Message: err.Error()})
		return
	}
	s.writeJSON(ctx, fasthttp.StatusOK, games)
}

func (s *Server) handleTurnStream(ctx *fasthttp.RequestCtx, sessionID string) {
	// Everything from the request must be copied out before the stream
	// writer runs; the request context is recycled once the handler returns.
	form, err := ctx.MultipartForm()
	if err != nil {
		s.writeError(ctx, fasthttp.StatusBadRequest, wire.DomainError{Code: "bad_request", Message: "multipart form required"})
		return
	}
	files := form.File["audio"]
	if len(files) == 0 {
		s.writeError(ctx, fasthttp.StatusBadRequest, wire.DomainError{Code: "bad_request", Message: "missing audio file"})
		return
	}
	header := files[0]
	f, err := header.Open()
	if err != nil {
		s.writeError(ctx, fasthttp.StatusBadRequest, wire.DomainError{Code: "bad_request", Message: "unreadable audio file"})
		return
	}
	audio, err := io.ReadAll(f)
	f.Close()
	if err != nil {
		s.writeError(ctx, fasthttp.StatusBadRequest, wire.DomainError{Code: "bad_request", Message: "unreadable audio file"})
		return
	}
	contentType := header.Header.Get("Content-Type")

	pipeline := s.pipeline
	timeout := s.cfg.TurnTimeout
	logger := s.logger

	ctx.SetStatusCode(fasthttp.StatusOK)
	ctx.SetContentType("text/event-stream")
	ctx.Response.Header.Set("Cache-Control", "no-cache")
	ctx.SetBodyStreamWriter(func(w *bufio.Writer) {
		runCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		emit := func(u wire.StreamUpdate) {
			writeEvent(w, u)
		}
		_, err := pipeline.Run(runCtx, sessionID, audio, contentType, emit)
		if err != nil {
			var derr wire.DomainError
			if !errors.As(err, &derr) {
				derr = wire.DomainError{Code: wire.CodeTransport, Message: err.Error()}
			}
			logger.Warn("streamed turn failed",
				zap.String("session_id", sessionID),
				zap.String("code", derr.Code),
				zap.String("message", derr.Message),
			)
			writeEvent(w, wire.StreamUpdate{
				Status: wire.StatusError,
				Code:   derr.Code,
				Error:  derr.Message,
			})
		}
	})
}

func writeEvent(w *bufio.Writer, u wire.StreamUpdate) {
	payload, err := json.Marshal(u)
	if err != nil {
		return
	}
	w.WriteString("data: ")
	w.Write(payload)
	w.WriteString("\n\n")
	w.Flush()
}

func (s *Server) writeStoreError(ctx *fasthttp.RequestCtx, err error) {
	if errors.Is(err, session.ErrSessionNotFound) {
		s.writeError(ctx, fasthttp.StatusNotFound, wire.DomainError{Code: wire.CodeSessionNotFound, Message: "Session not found"})
		return
	}
	s.writeError(ctx, fasthttp.StatusInternalServerError, wire.DomainError{Code: wire.CodeTransport, Message: err.Error()})
}

func (s *Server) writeJSON(ctx *fasthttp.RequestCtx, status int, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		ctx.SetStatusCode(fasthttp.StatusInternalServerError)
		return
	}
	ctx.SetStatusCode(status)
	ctx.SetContentType("application/json")
	ctx.SetBody(payload)
}

func (s *Server) writeError(ctx *fasthttp.RequestCtx, status int, derr wire.DomainError) {
	s.writeJSON(ctx, status, map[string]wire.DomainError{"error": derr})
}
