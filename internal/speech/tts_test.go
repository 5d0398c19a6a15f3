package speech

import "testing"

func TestFormatMoveForSpeech(t *testing.T) {
	cases := []struct {
		san  string
		want string
	}{
		{"Nf3", "Knight f 3"},
		{"Bxc5", "Bishop takes c 5"},
		{"O-O", "Castle kingside"},
		{"0-0", "Castle kingside"},
		{"O-O-O", "Castle queenside"},
		{"0-0-0", "Castle queenside"},
		{"e4", "e 4"},
		{"Qh5+", "Queen h 5 check"},
		{"Nf3#", "Knight f 3 checkmate"},
		{"exd5", "e takes d 5"},
		{"Rae1", "Rook ae 1"},
		{"Kd2", "King d 2"},
	}
	for _, c := range cases {
		if got := FormatMoveForSpeech(c.san); got != c.want {
			t.Errorf("FormatMoveForSpeech(%q) = %q, want %q", c.san, got, c.want)
		}
	}
}
