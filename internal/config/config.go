package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
)

// Rules are the fixed table parameters of a match.
type Rules struct {
	MinPlayers     int
	MaxPlayers     int
	CardsPerPlayer int
	MinRounds      int
	MaxRounds      int
}

func DefaultRules() Rules {
	return Rules{
		MinPlayers:     2,
		MaxPlayers:     6,
		CardsPerPlayer: 10,
		MinRounds:      1,
		MaxRounds:      20,
	}
}

type AppConfig struct {
	RedisURL       string
	DatabaseURL    string
	CatalogBaseURL string
	DeckFile       string
	Language       string

	Rules Rules
}

func Load() (*AppConfig, error) {
	cfg := &AppConfig{
		Language: "en",
		Rules:    DefaultRules(),
	}

	cfg.RedisURL = strings.TrimSpace(os.Getenv("REDIS_URL"))
	cfg.DatabaseURL = strings.TrimSpace(os.Getenv("DATABASE_URL"))
	cfg.CatalogBaseURL = strings.TrimSpace(os.Getenv("CATALOG_BASE_URL"))
	cfg.DeckFile = strings.TrimSpace(os.Getenv("DECK_FILE"))

	if v := strings.TrimSpace(os.Getenv("LANGUAGE")); v != "" {
		cfg.Language = v
	}
	if v := strings.TrimSpace(os.Getenv("MIN_PLAYERS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 2 {
			cfg.Rules.MinPlayers = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("MAX_PLAYERS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= cfg.Rules.MinPlayers {
			cfg.Rules.MaxPlayers = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("CARDS_PER_PLAYER")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Rules.CardsPerPlayer = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("MIN_ROUNDS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Rules.MinRounds = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("MAX_ROUNDS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= cfg.Rules.MinRounds {
			cfg.Rules.MaxRounds = n
		}
	}

	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}

	return cfg, nil
}
