package interpret

import (
	"errors"
	"testing"

	nchess "github.com/corentings/chess/v2"
)

func TestResolveMoveLowercaseUCI(t *testing.T) {
	game := nchess.NewGame()
	mv, err := ResolveMove(game, "E2E4")
	if err != nil {
		t.Fatalf("ResolveMove: %v", err)
	}
	if got := mv.String(); got != "e2e4" {
		t.Errorf("move = %q, want e2e4", got)
	}
}

func TestResolveMovePiecePrefixStripped(t *testing.T) {
	game := nchess.NewGame()
	mv, err := ResolveMove(game, "ng1f3")
	if err != nil {
		t.Fatalf("ResolveMove: %v", err)
	}
	if got := mv.String(); got != "g1f3" {
		t.Errorf("move = %q, want g1f3", got)
	}
}

func TestResolveMoveSAN(t *testing.T) {
	game := nchess.NewGame()
	mv, err := ResolveMove(game, "Nf3")
	if err != nil {
		t.Fatalf("ResolveMove: %v", err)
	}
	if got := mv.String(); got != "g1f3" {
		t.Errorf("move = %q, want g1f3", got)
	}
}

func TestResolveMoveLowercaseSANCapitalized(t *testing.T) {
	// "nf3" is 3 chars so the prefix-strip step does not apply; only the
	// capitalized SAN attempt can resolve it.
	game := nchess.NewGame()
	mv, err := ResolveMove(game, "nf3")
	if err != nil {
		t.Fatalf("ResolveMove: %v", err)
	}
	if got := mv.String(); got != "g1f3" {
		t.Errorf("move = %q, want g1f3", got)
	}
}

func TestResolveMovePawnSAN(t *testing.T) {
	game := nchess.NewGame()
	mv, err := ResolveMove(game, "e4")
	if err != nil {
		t.Fatalf("ResolveMove: %v", err)
	}
	if got := mv.String(); got != "e2e4" {
		t.Errorf("move = %q, want e2e4", got)
	}
}

func TestResolveMoveGarbage(t *testing.T) {
	game := nchess.NewGame()
	for _, text := range []string{"", "   ", "hello there", "z9z9"} {
		if _, err := ResolveMove(game, text); !errors.Is(err, ErrUnparsableMove) {
			t.Errorf("ResolveMove(%q) err = %v, want ErrUnparsableMove", text, err)
		}
	}
}
