package interpret

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	nchess "github.com/corentings/chess/v2"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
	"go.uber.org/zap"
)

// The model sees every legal move as "uci (san)" and must echo back the UCI
// half of whichever entry matches the spoken command.
const systemPrompt = "You convert spoken chess commands into machine-readable moves. " +
	"You will receive a list of legal moves in the format: 'UCI (SAN)' where:\n" +
	"- UCI is the format you MUST return (e.g., 'e2e4', 'g1f3', 'a1e1')\n" +
	"- SAN is shown in parentheses to help you identify the move (e.g., 'e4', 'Nf3', 'Re1')\n" +
	"\n" +
	"IMPORTANT: You must return the UCI part ONLY, not the SAN part.\n" +
	"For example, if you see 'a1e1 (Re1)' and the user says 'rook e1', return 'a1e1' NOT 're1'.\n" +
	"\n" +
	"SAN notation guide (for matching spoken commands):\n" +
	"- K = King, Q = Queen, R = Rook, B = Bishop, N = Knight, no prefix = Pawn\n" +
	"- 'x' indicates a capture (e.g., 'Bxg8' = bishop captures on g8)\n" +
	"\n" +
	"Common speech patterns (match against SAN, return UCI):\n" +
	"- 'bishop e4' -> find move with '(Be4)' or '(Bce4)' or '(Bfe4)', return its UCI\n" +
	"- 'rook e1' -> find move with '(Re1)' or '(Rae1)' or '(Rfe1)', return its UCI\n" +
	"- 'knight f3' -> find move with '(Nf3)' or '(Ngf3)' or '(Nef3)', return its UCI\n" +
	"- 'e4' -> find move with '(e4)' or '(e3e4)', return its UCI\n" +
	"- 'bishop takes' -> find any move with '(Bx...)', return its UCI\n" +
	"- 'rook takes d5' -> find move with '(Rxd5)', return its UCI\n" +
	"\n" +
	"CRITICAL: Only return a move if the spoken command clearly matches a legal move. " +
	"If the spoken command refers to a move that doesn't exist in the legal moves list " +
	"(e.g., 'f3 takes g6' when no piece on f3 can capture g6), call the function with an empty string. " +
	"Do NOT guess or return a different move than what was spoken."

const (
	invokeAttempts = 3
	invokeBaseWait = time.Second
)

var (
	ErrUninterpretable = errors.New("unable to interpret move from transcript")
	ErrInterpretFailed = errors.New("move interpretation request failed")
)

var uciFallbackRe = regexp.MustCompile(`([a-h][1-8][a-h][1-8][nbrq]?)`)

type Option func(*Interpreter)

func WithBaseURL(u string) Option {
	return func(i *Interpreter) { i.baseURL = u }
}

func WithLogger(l *zap.Logger) Option {
	return func(i *Interpreter) { i.logger = l }
}

// Interpreter asks a chat model to match a transcript against the legal
// moves of the current position.
type Interpreter struct {
	client  openai.Client
	model   string
	baseURL string
	logger  *zap.Logger
}

func New(apiKey, model string, opts ...Option) *Interpreter {
	i := &Interpreter{model: model, logger: zap.NewNop()}
	for _, o := range opts {
		o(i)
	}
	clientOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if strings.TrimSpace(i.baseURL) != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(i.baseURL))
	}
	i.client = openai.NewClient(clientOpts...)
	return i
}

// Interpret returns the model's move text for the transcript. The text is
// usually UCI but may be SAN or carry a piece prefix; ResolveMove handles
// all of those. Returns ErrUninterpretable when the model produced nothing
// usable.
func (i *Interpreter) Interpret(ctx context.Context, transcript string, game *nchess.Game) (string, error) {
	pos := game.Position()
	legal := legalMoveList(pos)

	i.logger.Debug("interpreting transcript",
		zap.String("transcript", transcript),
		zap.String("fen", game.FEN()),
		zap.Int("legal_moves", len(legal)),
	)

	userContent := fmt.Sprintf("Current FEN: %s\nLegal moves: %s\nTranscript: %s",
		game.FEN(), strings.Join(legal, ", "), transcript)

	var (
		resp *openai.ChatCompletion
		err  error
	)
	for attempt := 1; attempt <= invokeAttempts; attempt++ {
		resp, err = i.invoke(ctx, userContent)
		if err == nil {
			break
		}
		if attempt == invokeAttempts {
			return "", fmt.Errorf("%w: %v", ErrInterpretFailed, err)
		}
		i.logger.Warn("interpretation attempt failed",
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(invokeBaseWait << (attempt - 1)):
		}
	}

	moveText := parseResponse(resp)
	if moveText == "" {
		i.logger.Warn("no interpretable move in model response", zap.String("transcript", transcript))
		return "", ErrUninterpretable
	}
	i.logger.Info("interpreted move", zap.String("move", moveText), zap.String("transcript", transcript))
	return moveText, nil
}

func (i *Interpreter) invoke(ctx context.Context, userContent string) (*openai.ChatCompletion, error) {
	return i.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: shared.ChatModel(i.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(userContent),
		},
		Tools: []openai.ChatCompletionToolParam{
			{
				Function: shared.FunctionDefinitionParam{
					Name:        "submit_move",
					Description: openai.String("Normalize a spoken chess move into UCI format."),
					Parameters: shared.FunctionParameters{
						"type": "object",
						"properties": map[string]any{
							"uci": map[string]any{"type": "string", "description": "Move in UCI notation"},
							"san": map[string]any{"type": "string", "description": "Move in SAN notation"},
						},
						"required":             []string{"uci"},
						"additionalProperties": false,
					},
				},
			},
		},
		Temperature: openai.Float(0),
	})
}

func parseResponse(resp *openai.ChatCompletion) string {
	if resp == nil || len(resp.Choices) == 0 {
		return ""
	}
	msg := resp.Choices[0].Message

	for _, call := range msg.ToolCalls {
		if call.Function.Name != "submit_move" {
			continue
		}
		var args struct {
			UCI string `json:"uci"`
			SAN string `json:"san"`
		}
		if err := json.Unmarshal([]byte(call.Function.Arguments), &args); err != nil {
			continue
		}
		if uci := strings.TrimSpace(args.UCI); uci != "" {
			return uci
		}
	}

	// No usable tool call; scan the plain content for a coordinate move.
	if m := uciFallbackRe.FindString(msg.Content); m != "" {
		return m
	}
	return ""
}

func legalMoveList(pos *nchess.Position) []string {
	san := nchess.AlgebraicNotation{}
	moves := pos.ValidMoves()
	out := make([]string, 0, len(moves))
	for _, mv := range moves {
		mv := mv
		out = append(out, fmt.Sprintf("%s (%s)", mv.String(), san.Encode(pos, &mv)))
	}
	return out
}
