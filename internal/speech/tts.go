package speech

import (
	"context"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"go.uber.org/zap"
)

var ErrSynthesisFailed = errors.New("speech synthesis failed")

var squareRe = regexp.MustCompile(`([a-h])(\d)`)

var pieceNames = []struct {
	letter string
	name   string
}{
	{"K", "King "},
	{"Q", "Queen "},
	{"R", "Rook "},
	{"B", "Bishop "},
	{"N", "Knight "},
}

// FormatMoveForSpeech rewrites algebraic notation into words a voice can
// pronounce naturally.
//
//	Nf3  -> Knight f 3
//	Bxc5 -> Bishop takes c 5
//	O-O  -> Castle kingside
//	Qh5+ -> Queen h 5 check
//	Nf3# -> Knight f 3 checkmate
func FormatMoveForSpeech(san string) string {
	switch san {
	case "O-O", "0-0":
		return "Castle kingside"
	case "O-O-O", "0-0-0":
		return "Castle queenside"
	}

	text := san
	if strings.HasSuffix(text, "#") {
		text = strings.TrimSuffix(text, "#") + " checkmate"
	} else if strings.HasSuffix(text, "+") {
		text = strings.TrimSuffix(text, "+") + " check"
	}

	for _, p := range pieceNames {
		if strings.HasPrefix(text, p.letter) {
			text = p.name + text[1:]
			break
		}
	}

	text = strings.ReplaceAll(text, "x", " takes ")
	text = squareRe.ReplaceAllString(text, "$1 $2")

	return strings.Join(strings.Fields(text), " ")
}

type Option func(*Synthesizer)

func WithBaseURL(u string) Option {
	return func(s *Synthesizer) { s.baseURL = u }
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Synthesizer) { s.logger = l }
}

// Synthesizer produces spoken audio for move announcements.
type Synthesizer struct {
	client  openai.Client
	model   string
	voice   string
	baseURL string
	logger  *zap.Logger
}

func NewSynthesizer(apiKey, model, voice string, opts ...Option) *Synthesizer {
	s := &Synthesizer{model: model, voice: voice, logger: zap.NewNop()}
	for _, o := range opts {
		o(s)
	}
	clientOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if strings.TrimSpace(s.baseURL) != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(s.baseURL))
	}
	s.client = openai.NewClient(clientOpts...)
	return s
}

// SpeakMove renders the move text as MP3 audio. The input is algebraic
// notation; it is reworded for pronunciation before synthesis.
func (s *Synthesizer) SpeakMove(ctx context.Context, san string) ([]byte, error) {
	text := FormatMoveForSpeech(san)
	s.logger.Debug("synthesizing move speech",
		zap.String("san", san),
		zap.String("spoken", text),
	)

	resp, err := s.client.Audio.Speech.New(ctx, openai.AudioSpeechNewParams{
		Model:          openai.SpeechModel(s.model),
		Voice:          openai.AudioSpeechNewParamsVoice(s.voice),
		Input:          text,
		ResponseFormat: openai.AudioSpeechNewParamsResponseFormatMP3,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSynthesisFailed, err)
	}
	defer resp.Body.Close()

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", ErrSynthesisFailed, err)
	}
	return audio, nil
}
