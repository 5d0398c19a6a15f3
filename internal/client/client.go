package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/park285/voicechess/pkg/wire"
)

const defaultTurnTimeout = 60 * time.Second

// Client talks to a voice chess server. Plain JSON endpoints share one
// fasthttp client; turn streams use a second client configured to hand the
// response body back as a stream.
type Client struct {
	baseURL     string
	api         *fasthttp.Client
	stream      *fasthttp.Client
	turnTimeout time.Duration
	logger      *zap.Logger
}

type Option func(*Client)

// WithTurnTimeout bounds how long SubmitTurn waits for the final frame.
func WithTurnTimeout(d time.Duration) Option {
	return func(c *Client) { c.turnTimeout = d }
}

func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithDial overrides the transport dial on both clients. Tests use this to
// connect through an in-memory listener.
func WithDial(dial fasthttp.DialFunc) Option {
	return func(c *Client) {
		c.api.Dial = dial
		c.stream.Dial = dial
	}
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		api: &fasthttp.Client{
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    10 * time.Second,
			MaxConnsPerHost: 16,
		},
		stream: &fasthttp.Client{
			WriteTimeout:       10 * time.Second,
			MaxConnsPerHost:    16,
			StreamResponseBody: true,
		},
		turnTimeout: defaultTurnTimeout,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CreateSession starts a new game on the server.
func (c *Client) CreateSession(ctx context.Context, skillLevel int) (*wire.Session, error) {
	var sess wire.Session
	path := fmt.Sprintf("/sessions?skill_level=%d", skillLevel)
	if err := c.doJSON(ctx, fasthttp.MethodPost, path, nil, &sess); err != nil {
		return nil, err
	}
	return &sess, nil
}

// GetSession fetches the authoritative session state.
func (c *Client) GetSession(ctx context.Context, sessionID string) (*wire.Session, error) {
	var sess wire.Session
	if err := c.doJSON(ctx, fasthttp.MethodGet, "/sessions/"+url.PathEscape(sessionID), nil, &sess); err != nil {
		return nil, err
	}
	return &sess, nil
}

// UpdateSkillLevel changes the engine strength for the session.
func (c *Client) UpdateSkillLevel(ctx context.Context, sessionID string, skillLevel int) (*wire.Session, error) {
	var sess wire.Session
	body := map[string]int{"skill_level": skillLevel}
	path := "/sessions/" + url.PathEscape(sessionID) + "/skill-level"
	if err := c.doJSON(ctx, fasthttp.MethodPut, path, body, &sess); err != nil {
		return nil, err
	}
	return &sess, nil
}

// FetchMoveSpeech downloads spoken audio for a move in algebraic notation.
func (c *Client) FetchMoveSpeech(ctx context.Context, sessionID, san string) ([]byte, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer func() {
		fasthttp.ReleaseRequest(req)
		fasthttp.ReleaseResponse(resp)
	}()

	req.Header.SetMethod(fasthttp.MethodGet)
	req.SetRequestURI(c.baseURL + "/sessions/" + url.PathEscape(sessionID) + "/tts/" + url.PathEscape(san))

	if err := c.api.DoDeadline(req, resp, c.computeDeadline(ctx, 10*time.Second)); err != nil {
		return nil, wire.DomainError{Code: wire.CodeTransport, Message: err.Error(), Retryable: true}
	}
	if resp.StatusCode() != fasthttp.StatusOK {
		return nil, decodeErrorEnvelope(resp.StatusCode(), resp.Body())
	}
	return append([]byte(nil), resp.Body()...), nil
}

// SubmitTurn uploads audio for one turn and consumes the update stream.
// Each update is passed to onUpdate as it arrives; the complete frame is
// also converted into the returned TurnResult. Moves on the result is left
// empty since the stream does not carry the move log.
func (c *Client) SubmitTurn(ctx context.Context, sessionID string, audio []byte, contentType string, onUpdate func(wire.StreamUpdate)) (*wire.TurnResult, error) {
	if onUpdate == nil {
		onUpdate = func(wire.StreamUpdate) {}
	}

	body, formContentType, err := buildAudioForm(audio, contentType)
	if err != nil {
		return nil, wire.DomainError{Code: wire.CodeTransport, Message: err.Error()}
	}

	req := fasthttp.AcquireRequest()
	req.Header.SetMethod(fasthttp.MethodPost)
	req.SetRequestURI(c.baseURL + "/sessions/" + url.PathEscape(sessionID) + "/turn-stream")
	req.Header.SetContentType(formContentType)
	req.SetBody(body)

	resp := fasthttp.AcquireResponse()
	err = c.stream.Do(req, resp)
	fasthttp.ReleaseRequest(req)
	if err != nil {
		fasthttp.ReleaseResponse(resp)
		return nil, wire.DomainError{Code: wire.CodeTransport, Message: err.Error(), Retryable: true}
	}

	if resp.StatusCode() != fasthttp.StatusOK {
		raw, _ := io.ReadAll(resp.BodyStream())
		resp.CloseBodyStream()
		fasthttp.ReleaseResponse(resp)
		return nil, decodeErrorEnvelope(resp.StatusCode(), raw)
	}

	updates := make(chan wire.StreamUpdate)
	done := make(chan struct{})
	go c.readFrames(resp.BodyStream(), updates, done)

	timer := time.NewTimer(c.turnTimeout)
	defer timer.Stop()

	finish := func() {
		close(done)
		resp.CloseBodyStream()
		fasthttp.ReleaseResponse(resp)
	}

	for {
		select {
		case u, ok := <-updates:
			if !ok {
				finish()
				return nil, wire.DomainError{
					Code:      wire.CodeMissingResult,
					Message:   "stream ended without a result",
					Retryable: true,
				}
			}
			onUpdate(u)
			switch u.Status {
			case wire.StatusError:
				finish()
				code := u.Code
				if code == "" {
					code = wire.CodeTransport
				}
				return nil, wire.DomainError{Code: code, Message: u.Error}
			case wire.StatusComplete:
				finish()
				// A terminal frame without a final position is unusable;
				// treat it the same as a stream that never completed.
				if u.FEN == "" {
					return nil, wire.DomainError{
						Code:      wire.CodeMissingResult,
						Message:   "completed turn carried no final position",
						Retryable: true,
					}
				}
				return resultFromUpdate(u), nil
			}
		case <-timer.C:
			finish()
			return nil, wire.DomainError{
				Code:      wire.CodeTimeout,
				Message:   "turn timed out waiting for the server",
				Retryable: true,
			}
		case <-ctx.Done():
			finish()
			return nil, wire.DomainError{Code: wire.CodeTimeout, Message: ctx.Err().Error(), Retryable: true}
		}
	}
}

// readFrames parses "data: {json}" frames off the stream. Malformed frames
// are logged and skipped so one bad write cannot kill the whole turn. The
// done channel covers the case where the consumer stopped after an earlier
// frame: closing the body stream unblocks a pending read but not a pending
// send, so every send must also select on done.
func (c *Client) readFrames(r io.Reader, out chan<- wire.StreamUpdate, done <-chan struct{}) {
	defer close(out)
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		payload, ok := strings.CutPrefix(line, "data: ")
		if !ok {
			c.logger.Warn("unexpected stream line", zap.String("line", truncate(line, 200)))
			continue
		}
		var u wire.StreamUpdate
		if err := json.Unmarshal([]byte(payload), &u); err != nil {
			c.logger.Warn("skipping malformed stream frame", zap.Error(err))
			continue
		}
		select {
		case out <- u:
		case <-done:
			return
		}
	}
}

func resultFromUpdate(u wire.StreamUpdate) *wire.TurnResult {
	result := &wire.TurnResult{
		Transcript: u.Transcript,
		FEN:        u.FEN,
		State:      u.State,
	}
	if u.UserMove != nil {
		result.UserMove = *u.UserMove
	}
	if u.EngineMove != nil {
		result.EngineMove = *u.EngineMove
	}
	return result
}

func buildAudioForm(audio []byte, contentType string) ([]byte, string, error) {
	if contentType == "" {
		contentType = "audio/webm"
	}
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="audio"; filename="audio.webm"`)
	header.Set("Content-Type", contentType)
	part, err := mw.CreatePart(header)
	if err != nil {
		return nil, "", fmt.Errorf("create form part: %w", err)
	}
	if _, err := part.Write(audio); err != nil {
		return nil, "", fmt.Errorf("write audio: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, "", fmt.Errorf("close form: %w", err)
	}
	return buf.Bytes(), mw.FormDataContentType(), nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, in, out any) error {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer func() {
		fasthttp.ReleaseRequest(req)
		fasthttp.ReleaseResponse(resp)
	}()

	req.Header.SetMethod(method)
	req.SetRequestURI(c.baseURL + path)
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		req.Header.SetContentType("application/json")
		req.SetBody(payload)
	}

	if err := c.api.DoDeadline(req, resp, c.computeDeadline(ctx, 10*time.Second)); err != nil {
		return wire.DomainError{Code: wire.CodeTransport, Message: err.Error(), Retryable: true}
	}

	status := resp.StatusCode()
	if status < 200 || status >= 300 {
		return decodeErrorEnvelope(status, resp.Body())
	}
	if out != nil {
		if err := json.Unmarshal(resp.Body(), out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

func (c *Client) computeDeadline(ctx context.Context, fallback time.Duration) time.Time {
	deadline := time.Now().Add(fallback)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		return dl
	}
	return deadline
}

func decodeErrorEnvelope(status int, body []byte) error {
	var envelope struct {
		Error wire.DomainError `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error.Code != "" {
		return envelope.Error
	}
	return wire.DomainError{
		Code:    wire.CodeTransport,
		Message: fmt.Sprintf("server returned status %d: %s", status, truncate(string(body), 256)),
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
