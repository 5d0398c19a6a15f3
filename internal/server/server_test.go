package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/textproto"
	"strings"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	nchess "github.com/corentings/chess/v2"
	"github.com/redis/go-redis/v9"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttputil"

	"github.com/park285/voicechess/internal/archive"
	"github.com/park285/voicechess/internal/session"
	"github.com/park285/voicechess/internal/turn"
	"github.com/park285/voicechess/pkg/wire"
)

type stubTranscriber struct{ text string }

func (s *stubTranscriber) Transcribe(context.Context, []byte, string) (string, error) {
	return s.text, nil
}

type stubInterpreter struct{ text string }

func (s *stubInterpreter) Interpret(context.Context, string, *nchess.Game) (string, error) {
	return s.text, nil
}

type stubEngine struct{ move string }

func (s *stubEngine) BestMove(context.Context, []string, int) (string, error) {
	return s.move, nil
}

type testServer struct {
	store *session.Store
	http  *http.Client
}

func newTestServer(t *testing.T, transcript, moveText, engineMove string) *testServer {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(func() { mr.Close() })
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	store := session.NewStore(rdb, time.Hour, nil)
	repo := archive.NewMemoryRepository()
	pipeline := turn.NewPipeline(
		store,
		&stubTranscriber{text: transcript},
		&stubInterpreter{text: moveText},
		&stubEngine{move: engineMove},
		repo,
		turn.Config{TurnTimeout: 10 * time.Second, CommitPlayerMoveBeforeEngineReply: true},
		nil,
	)
	srv := New(pipeline, store, repo, nil, Config{TurnTimeout: 10 * time.Second, DefaultSkillLevel: 5}, nil)

	ln := fasthttputil.NewInmemoryListener()
	go fasthttp.Serve(ln, srv.Handler()) //nolint:errcheck
	t.Cleanup(func() { ln.Close() })

	httpClient := &http.Client{
		Transport: &http.Transport{
			DialContext: func(context.Context, string, string) (net.Conn, error) {
				return ln.Dial()
			},
		},
	}
	return &testServer{store: store, http: httpClient}
}

func (ts *testServer) createSession(t *testing.T) wire.Session {
	t.Helper()
	resp, err := ts.http.Post("http://test/sessions?skill_level=5", "", nil)
	if err != nil {
		t.Fatalf("POST /sessions: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want 201", resp.StatusCode)
	}
	var sess wire.Session
	if err := json.NewDecoder(resp.Body).Decode(&sess); err != nil {
		t.Fatalf("decode session: %v", err)
	}
	return sess
}

func audioForm(t *testing.T) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="audio"; filename="audio.webm"`)
	header.Set("Content-Type", "audio/webm")
	part, err := mw.CreatePart(header)
	if err != nil {
		t.Fatalf("create part: %v", err)
	}
	part.Write([]byte("fake audio")) //nolint:errcheck
	mw.Close()
	return &buf, mw.FormDataContentType()
}

func readFrames(t *testing.T, body io.Reader) []wire.StreamUpdate {
	t.Helper()
	var updates []wire.StreamUpdate
	scanner := bufio.NewScanner(body)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		payload, ok := strings.CutPrefix(line, "data: ")
		if !ok {
			t.Fatalf("unexpected line %q", line)
		}
		var u wire.StreamUpdate
		if err := json.Unmarshal([]byte(payload), &u); err != nil {
			t.Fatalf("bad frame %q: %v", payload, err)
		}
		updates = append(updates, u)
	}
	return updates
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, "", "", "")
	resp, err := ts.http.Get("http://test/")
	if err != nil {
		t.Fatalf("GET /: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestTurnStreamFullTurn(t *testing.T) {
	ts := newTestServer(t, "pawn e4", "e2e4", "e7e5")
	sess := ts.createSession(t)

	body, contentType := audioForm(t)
	resp, err := ts.http.Post("http://test/sessions/"+sess.SessionID+"/turn-stream", contentType, body)
	if err != nil {
		t.Fatalf("POST turn-stream: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if got := resp.Header.Get("Content-Type"); !strings.HasPrefix(got, "text/event-stream") {
		t.Errorf("content type = %q", got)
	}

	updates := readFrames(t, resp.Body)
	if len(updates) == 0 {
		t.Fatal("no frames")
	}
	last := updates[len(updates)-1]
	if last.Status != wire.StatusComplete {
		t.Fatalf("last status = %s", last.Status)
	}
	if last.UserMove == nil || last.UserMove.UCI != "e2e4" {
		t.Errorf("user move = %+v", last.UserMove)
	}
	if last.EngineMove == nil || last.EngineMove.UCI != "e7e5" {
		t.Errorf("engine move = %+v", last.EngineMove)
	}

	// Statuses arrive in stage order.
	order := map[wire.Status]int{
		wire.StatusTranscribing:   0,
		wire.StatusTranscribed:    1,
		wire.StatusInterpreting:   2,
		wire.StatusPlayerMoved:    3,
		wire.StatusEngineThinking: 4,
		wire.StatusComplete:       5,
	}
	prev := -1
	for _, u := range updates {
		rank, ok := order[u.Status]
		if !ok {
			t.Fatalf("unexpected status %s", u.Status)
		}
		if rank < prev {
			t.Fatalf("status %s out of order", u.Status)
		}
		prev = rank
	}

	// The session picked up both half-moves.
	stored, err := ts.store.Get(context.Background(), sess.SessionID)
	if err != nil {
		t.Fatalf("store.Get: %v", err)
	}
	if len(stored.Moves) != 2 {
		t.Errorf("stored moves = %d, want 2", len(stored.Moves))
	}
}

func TestTurnStreamErrorFrame(t *testing.T) {
	// a1a3 is unreachable for the rook at the start; the stream must end
	// with a coded error frame instead of a result.
	ts := newTestServer(t, "rook a3", "a1a3", "e7e5")
	sess := ts.createSession(t)

	body, contentType := audioForm(t)
	resp, err := ts.http.Post("http://test/sessions/"+sess.SessionID+"/turn-stream", contentType, body)
	if err != nil {
		t.Fatalf("POST turn-stream: %v", err)
	}
	defer resp.Body.Close()

	updates := readFrames(t, resp.Body)
	if len(updates) == 0 {
		t.Fatal("no frames")
	}
	last := updates[len(updates)-1]
	if last.Status != wire.StatusError {
		t.Fatalf("last status = %s, want error", last.Status)
	}
	if last.Code != wire.CodeIllegalMove {
		t.Errorf("code = %q, want illegal_move", last.Code)
	}
	if last.Error == "" {
		t.Error("empty error message")
	}
}

func TestTurnStreamUnknownSession(t *testing.T) {
	ts := newTestServer(t, "pawn e4", "e2e4", "e7e5")

	body, contentType := audioForm(t)
	resp, err := ts.http.Post("http://test/sessions/nope/turn-stream", contentType, body)
	if err != nil {
		t.Fatalf("POST turn-stream: %v", err)
	}
	defer resp.Body.Close()

	updates := readFrames(t, resp.Body)
	if len(updates) != 1 || updates[0].Status != wire.StatusError {
		t.Fatalf("updates = %+v", updates)
	}
	if updates[0].Code != wire.CodeSessionNotFound {
		t.Errorf("code = %q", updates[0].Code)
	}
}

func TestUpdateSkillLevelEndpoint(t *testing.T) {
	ts := newTestServer(t, "", "", "")
	sess := ts.createSession(t)

	req, err := http.NewRequest(http.MethodPut,
		"http://test/sessions/"+sess.SessionID+"/skill-level",
		strings.NewReader(`{"skill_level": 12}`))
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	resp, err := ts.http.Do(req)
	if err != nil {
		t.Fatalf("PUT skill-level: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var updated wire.Session
	if err := json.NewDecoder(resp.Body).Decode(&updated); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if updated.SkillLevel != 12 {
		t.Errorf("skill = %d, want 12", updated.SkillLevel)
	}
}

func TestGetSessionNotFound(t *testing.T) {
	ts := newTestServer(t, "", "", "")
	resp, err := ts.http.Get("http://test/sessions/missing")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
	var envelope struct {
		Error wire.DomainError `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if envelope.Error.Code != wire.CodeSessionNotFound {
		t.Errorf("code = %q", envelope.Error.Code)
	}
}

func TestMoveSpeechDisabled(t *testing.T) {
	ts := newTestServer(t, "", "", "")
	sess := ts.createSession(t)

	resp, err := ts.http.Get("http://test/sessions/" + sess.SessionID + "/tts/Nf3")
	if err != nil {
		t.Fatalf("GET tts: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotImplemented {
		t.Fatalf("status = %d, want 501", resp.StatusCode)
	}
}
