package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
)

type AppConfig struct {
	ListenAddr string

	RedisURL    string
	DatabaseURL string

	StockfishPath     string
	EngineThreads     int
	EngineHashMB      int
	EngineThinkMillis int

	SpeechAPIKey    string
	SpeechBaseURL   string
	TranscribeModel string
	InterpretModel  string
	TTSAPIKey       string
	TTSBaseURL      string
	TTSModel        string
	TTSVoice        string

	DefaultSkillLevel int
	SessionTTLSec     int
	TurnTimeoutSec    int

	CommitPlayerMoveBeforeEngineReply bool
}

func Load() (*AppConfig, error) {
	cfg := &AppConfig{
		ListenAddr:                        ":8080",
		EngineThreads:                     2,
		EngineHashMB:                      128,
		EngineThinkMillis:                 100,
		TranscribeModel:                   "whisper-large-v3",
		InterpretModel:                    "llama-3.1-70b-versatile",
		TTSModel:                          "gpt-4o-mini-tts",
		TTSVoice:                          "coral",
		DefaultSkillLevel:                 5,
		SessionTTLSec:                     3600,
		TurnTimeoutSec:                    30,
		CommitPlayerMoveBeforeEngineReply: true,
	}

	if v := strings.TrimSpace(os.Getenv("LISTEN_ADDR")); v != "" {
		cfg.ListenAddr = v
	}

	cfg.RedisURL = strings.TrimSpace(os.Getenv("REDIS_URL"))
	cfg.DatabaseURL = strings.TrimSpace(os.Getenv("DATABASE_URL"))

	cfg.StockfishPath = strings.TrimSpace(os.Getenv("STOCKFISH_PATH"))
	if v := strings.TrimSpace(os.Getenv("ENGINE_THREADS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.EngineThreads = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("ENGINE_HASH_MB")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.EngineHashMB = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("ENGINE_THINK_MS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.EngineThinkMillis = n
		}
	}

	cfg.SpeechAPIKey = strings.TrimSpace(os.Getenv("SPEECH_API_KEY"))
	cfg.SpeechBaseURL = strings.TrimSpace(os.Getenv("SPEECH_BASE_URL"))
	if v := strings.TrimSpace(os.Getenv("TRANSCRIBE_MODEL")); v != "" {
		cfg.TranscribeModel = v
	}
	if v := strings.TrimSpace(os.Getenv("INTERPRET_MODEL")); v != "" {
		cfg.InterpretModel = v
	}

	cfg.TTSAPIKey = strings.TrimSpace(os.Getenv("TTS_API_KEY"))
	cfg.TTSBaseURL = strings.TrimSpace(os.Getenv("TTS_BASE_URL"))
	if v := strings.TrimSpace(os.Getenv("TTS_MODEL")); v != "" {
		cfg.TTSModel = v
	}
	if v := strings.TrimSpace(os.Getenv("TTS_VOICE")); v != "" {
		cfg.TTSVoice = v
	}

	if v := strings.TrimSpace(os.Getenv("DEFAULT_SKILL_LEVEL")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 && n <= 20 {
			cfg.DefaultSkillLevel = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("SESSION_TTL")); v != "" { // seconds
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.SessionTTLSec = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("TURN_TIMEOUT")); v != "" { // seconds
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.TurnTimeoutSec = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("COMMIT_PLAYER_MOVE_BEFORE_ENGINE_REPLY")); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.CommitPlayerMoveBeforeEngineReply = b
		}
	}

	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}
	if cfg.StockfishPath == "" {
		return nil, errors.New("STOCKFISH_PATH is required")
	}
	if cfg.SpeechAPIKey == "" {
		return nil, errors.New("SPEECH_API_KEY is required")
	}

	return cfg, nil
}
