// Command voicechess-turn plays one voice turn against a running server:
// it uploads a recorded audio file, prints the streamed progress lines,
// and shows the resulting board state.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/park285/voicechess/internal/client"
	"github.com/park285/voicechess/internal/msgcat"
	"github.com/park285/voicechess/internal/obslog"
	"github.com/park285/voicechess/pkg/wire"
)

func main() {
	var (
		serverURL   = flag.String("server", "http://127.0.0.1:8080", "server base URL")
		sessionID   = flag.String("session", "", "existing session id (empty starts a new game)")
		skillLevel  = flag.Int("skill", 5, "engine skill level for a new game (0-20)")
		audioPath   = flag.String("audio", "", "path to the recorded move audio (required)")
		contentType = flag.String("content-type", "audio/webm", "MIME type of the audio file")
		timeout     = flag.Duration("timeout", 60*time.Second, "how long to wait for the turn")
		speak       = flag.Bool("speak", false, "download spoken audio for the engine reply to <audio>.reply.mp3")
	)
	flag.Parse()

	if *audioPath == "" {
		flag.Usage()
		os.Exit(2)
	}
	audio, err := os.ReadFile(*audioPath)
	if err != nil {
		log.Fatalf("read audio: %v", err)
	}

	obslog.InitFromEnv()
	catalog, err := msgcat.New(os.Getenv("MESSAGE_OVERRIDE_DIR"))
	if err != nil {
		log.Fatalf("message catalog: %v", err)
	}

	c := client.New(*serverURL, client.WithTurnTimeout(*timeout), client.WithLogger(obslog.L()))
	ctl := client.NewController(c, catalog, obslog.L())

	ctx, cancel := context.WithTimeout(context.Background(), *timeout+10*time.Second)
	defer cancel()

	var sess *wire.Session
	if *sessionID != "" {
		sess, err = ctl.Attach(ctx, *sessionID)
	} else {
		sess, err = ctl.NewSession(ctx, *skillLevel)
	}
	if err != nil {
		log.Fatalf("session: %v", err)
	}
	fmt.Printf("session %s (skill %d)\n", sess.SessionID, sess.SkillLevel)

	result, err := ctl.SubmitTurn(ctx, audio, *contentType, func(_ wire.Status, msg string) {
		fmt.Println(msg)
	})
	if err != nil {
		log.Fatalf("turn failed: %v", err)
	}

	fmt.Printf("\nheard: %q\n", result.Transcript)
	fmt.Printf("you:    %s (%s)\n", result.UserMove.SAN, result.UserMove.UCI)
	if result.EngineMove.UCI != "" {
		fmt.Printf("engine: %s (%s)\n", result.EngineMove.SAN, result.EngineMove.UCI)
	} else if result.EngineMove.SAN != "" {
		fmt.Printf("engine: %s\n", result.EngineMove.SAN)
	}
	fmt.Printf("fen:    %s\n", result.FEN)
	if len(result.Moves) > 0 {
		fmt.Printf("moves:  ")
		for i, rec := range result.Moves {
			if i > 0 {
				fmt.Print(" ")
			}
			fmt.Print(rec.SAN)
		}
		fmt.Println()
	}
	if ctl.GameOver() {
		fmt.Printf("game over: %s\n", result.State)
	}

	if *speak && result.EngineMove.UCI != "" {
		reply, err := c.FetchMoveSpeech(ctx, sess.SessionID, result.EngineMove.SAN)
		if err != nil {
			log.Printf("fetch reply audio: %v", err)
			return
		}
		out := *audioPath + ".reply.mp3"
		if err := os.WriteFile(out, reply, 0o644); err != nil {
			log.Fatalf("write reply audio: %v", err)
		}
		fmt.Printf("engine reply audio saved to %s\n", out)
	}
}
