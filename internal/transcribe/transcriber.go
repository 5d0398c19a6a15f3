package transcribe

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"go.uber.org/zap"
)

// Vocabulary hint handed to the speech model so chess terms survive
// transcription intact.
const chessPrompt = "Chess move notation: pawn, knight, bishop, rook, queen, king, " +
	"castle, castles, check, checkmate, capture, captures, takes, " +
	"files a through h, ranks 1 through 8, " +
	"e4, d4, Nf3, Nc3, Bc4, O-O, queenside, kingside"

var (
	ErrEmptyAudio       = errors.New("empty audio payload")
	ErrEmptyTranscript  = errors.New("transcription returned no text")
	ErrTranscribeFailed = errors.New("transcription request failed")
)

type Option func(*Transcriber)

// WithBaseURL points the client at an OpenAI-compatible endpoint.
func WithBaseURL(u string) Option {
	return func(t *Transcriber) { t.baseURL = u }
}

func WithLogger(l *zap.Logger) Option {
	return func(t *Transcriber) { t.logger = l }
}

// Transcriber turns recorded speech into text through an OpenAI-compatible
// audio transcription API.
type Transcriber struct {
	client  openai.Client
	model   string
	baseURL string
	logger  *zap.Logger
}

func New(apiKey, model string, opts ...Option) *Transcriber {
	t := &Transcriber{model: model, logger: zap.NewNop()}
	for _, o := range opts {
		o(t)
	}
	clientOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if strings.TrimSpace(t.baseURL) != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(t.baseURL))
	}
	t.client = openai.NewClient(clientOpts...)
	return t
}

// Transcribe sends the audio payload and returns the trimmed transcript.
func (t *Transcriber) Transcribe(ctx context.Context, audio []byte, contentType string) (string, error) {
	if len(audio) == 0 {
		return "", ErrEmptyAudio
	}
	if contentType == "" {
		contentType = "audio/webm"
	}
	filename := "audio." + fileExt(contentType)

	t.logger.Debug("transcribing audio",
		zap.Int("bytes", len(audio)),
		zap.String("content_type", contentType),
		zap.String("model", t.model),
	)

	resp, err := t.client.Audio.Transcriptions.New(ctx, openai.AudioTranscriptionNewParams{
		Model:       openai.AudioModel(t.model),
		File:        openai.File(bytes.NewReader(audio), filename, contentType),
		Language:    openai.String("en"),
		Prompt:      openai.String(chessPrompt),
		Temperature: openai.Float(0),
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrTranscribeFailed, err)
	}

	transcript := strings.TrimSpace(resp.Text)
	if transcript == "" {
		return "", ErrEmptyTranscript
	}
	t.logger.Info("transcribed speech",
		zap.String("transcript", transcript),
		zap.Int("chars", len(transcript)),
	)
	return transcript, nil
}

func fileExt(contentType string) string {
	switch {
	case strings.Contains(contentType, "mp3"):
		return "mp3"
	case strings.Contains(contentType, "mp4"), strings.Contains(contentType, "m4a"):
		return "m4a"
	case strings.Contains(contentType, "wav"):
		return "wav"
	case strings.Contains(contentType, "ogg"):
		return "ogg"
	default:
		return "webm"
	}
}
