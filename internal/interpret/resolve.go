package interpret

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	nchess "github.com/corentings/chess/v2"
)

var ErrUnparsableMove = errors.New("move text matched no notation")

// ResolveMove turns interpreter output into a move for the game's current
// position. Models sometimes answer in SAN, mixed case, or with a leading
// piece letter glued onto coordinates ("ng1f3"), so the attempts run in
// order of decreasing trust:
//
//  1. lowercased text as UCI
//  2. text with a single piece-letter prefix stripped, as UCI
//  3. raw text as SAN
//  4. text with the first letter capitalized, as SAN
func ResolveMove(game *nchess.Game, text string) (*nchess.Move, error) {
	pos := game.Position()
	uciNotation := nchess.UCINotation{}
	sanNotation := nchess.AlgebraicNotation{}

	raw := strings.TrimSpace(text)
	if raw == "" {
		return nil, ErrUnparsableMove
	}
	lower := strings.ToLower(raw)

	if mv, err := uciNotation.Decode(pos, lower); err == nil {
		return mv, nil
	}

	if len(lower) >= 5 && strings.ContainsRune("nbrqkp", rune(lower[0])) {
		if mv, err := uciNotation.Decode(pos, lower[1:]); err == nil {
			return mv, nil
		}
	}

	if mv, err := sanNotation.Decode(pos, raw); err == nil {
		return mv, nil
	}

	if capitalized := capitalizeFirst(raw); capitalized != raw {
		if mv, err := sanNotation.Decode(pos, capitalized); err == nil {
			return mv, nil
		}
	}

	return nil, fmt.Errorf("%w: %q", ErrUnparsableMove, raw)
}

func capitalizeFirst(s string) string {
	r := []rune(s)
	if len(r) == 0 || !unicode.IsLetter(r[0]) {
		return s
	}
	r[0] = unicode.ToUpper(r[0])
	return string(r)
}
