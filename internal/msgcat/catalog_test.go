package msgcat

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/park285/voicechess/pkg/wire"
)

func TestEmbeddedStatusMessagesNonEmpty(t *testing.T) {
	c, err := New("")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	for _, st := range wire.Statuses() {
		msg := c.StatusMessage(string(st))
		if strings.TrimSpace(msg) == "" {
			t.Errorf("status %q: empty message", st)
		}
	}
}

func TestEmbeddedErrorMessagesNonEmpty(t *testing.T) {
	c, err := New("")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	codes := []string{
		wire.CodeTransport,
		wire.CodeTimeout,
		wire.CodeEmptyTranscript,
		wire.CodeIllegalMove,
		wire.CodeEngineUnavailable,
		wire.CodeMissingResult,
		wire.CodeSessionNotFound,
	}
	for _, code := range codes {
		msg := c.ErrorMessage(code)
		if strings.TrimSpace(msg) == "" || msg == code {
			t.Errorf("code %q: no catalog message", code)
		}
	}
}

func TestTranscribedStatusEchoesTranscript(t *testing.T) {
	c, err := New("")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	got := c.StatusMessageWith("transcribed", "knight f3")
	if !strings.Contains(got, "knight f3") {
		t.Errorf("message = %q, want transcript echoed", got)
	}
	// Without a transcript the line still reads as a sentence.
	fallback := c.StatusMessageWith("transcribed", "")
	if strings.TrimSpace(fallback) == "" || strings.Contains(fallback, "knight f3") {
		t.Errorf("fallback message = %q", fallback)
	}
}

func TestUnknownStatusFallsBackToTag(t *testing.T) {
	c, err := New("")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if got := c.StatusMessage("nonsense"); got != "nonsense" {
		t.Errorf("fallback = %q, want raw tag", got)
	}
}

func TestOverrideDir(t *testing.T) {
	dir := t.TempDir()
	override := "turn:\n  status:\n    engine_thinking: \"Thinking hard\"\n"
	if err := os.WriteFile(filepath.Join(dir, "local.yaml"), []byte(override), 0o644); err != nil {
		t.Fatalf("write override: %v", err)
	}
	c, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if got := c.StatusMessage("engine_thinking"); got != "Thinking hard" {
		t.Errorf("override = %q, want %q", got, "Thinking hard")
	}
	// Keys not overridden keep the embedded defaults.
	if got := c.StatusMessage("transcribing"); strings.TrimSpace(got) == "" || got == "transcribing" {
		t.Errorf("embedded default lost: %q", got)
	}
}

func TestDuplicateOverrideKeysRejected(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"a.yaml", "b.yaml"} {
		body := "turn:\n  status:\n    complete: \"Done\"\n"
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	if _, err := New(dir); err == nil {
		t.Fatal("expected duplicate key error")
	}
}
