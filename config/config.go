// Package config loads and validates process configuration from the
// environment, following the teacher's .env-first convention.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultBettingDuration = 60 * time.Second
	DefaultFightDuration   = 60 * time.Second
	DefaultMaxReconnects   = 10
	DefaultBackoff         = 5 * time.Second
)

// Config holds every environment-derived setting named in the spec's
// External Interfaces section.
type Config struct {
	Port    string
	CoinAddress string // chat room id

	TriggerKeywords []string
	HealKeywords    []string

	InitialHP uint32
	ExportDir string

	ChainRPCURL          string
	AuthorityPrivateKey  string
	ChainID              int64
	TreasuryWallet       string
	ProgramID            string
	FeePercentage        uint64

	AdminSecret string
	AdminWallet string

	DatabaseURL string
	RedisURL    string

	BettingDuration time.Duration
	FightDuration   time.Duration
}

// Load reads environment variables (after godotenv has populated the
// process environment) and validates required fields. A missing
// required field is a configuration-fatal error: the process must
// refuse to start rather than run with undefined ledger behavior.
func Load() (*Config, error) {
	cfg := &Config{
		Port:                 getenvDefault("PORT", "8080"),
		CoinAddress:          os.Getenv("COIN_ADDRESS"),
		TriggerKeywords:      splitCSV(getenvDefault("TRIGGER_KEYWORDS", "hit,attack,damage")),
		HealKeywords:         splitCSV(getenvDefault("HEAL_KEYWORDS", "heal,potion")),
		ExportDir:            getenvDefault("EXPORT_DIR", "./exports"),
		ChainRPCURL:          getenvDefault("CHAIN_RPC_URL", MantleSepoliaRPC),
		AuthorityPrivateKey:  os.Getenv("AUTHORITY_PRIVATE_KEY"),
		ChainID:              MantleChainID,
		TreasuryWallet:       os.Getenv("TREASURY_WALLET"),
		ProgramID:            os.Getenv("PROGRAM_ID"),
		AdminSecret:          os.Getenv("ADMIN_SECRET"),
		AdminWallet:          os.Getenv("ADMIN_WALLET"),
		DatabaseURL:          os.Getenv("DATABASE_URL"),
		RedisURL:             getenvDefault("REDIS_URL", "localhost:6379"),
		BettingDuration:      DefaultBettingDuration,
		FightDuration:        DefaultFightDuration,
	}

	if id := os.Getenv("CHAIN_ID"); id != "" {
		parsed, err := strconv.ParseInt(id, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid CHAIN_ID: %w", err)
		}
		cfg.ChainID = parsed
	}

	initialHP, err := strconv.ParseUint(getenvDefault("INITIAL_HP", "100"), 10, 32)
	if err != nil {
		return nil, fmt.Errorf("invalid INITIAL_HP: %w", err)
	}
	cfg.InitialHP = uint32(initialHP)

	feePct, err := strconv.ParseUint(getenvDefault("FEE_PERCENTAGE", "5"), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid FEE_PERCENTAGE: %w", err)
	}
	cfg.FeePercentage = feePct

	if d := os.Getenv("BETTING_DURATION_MS"); d != "" {
		ms, err := strconv.ParseInt(d, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid BETTING_DURATION_MS: %w", err)
		}
		cfg.BettingDuration = time.Duration(ms) * time.Millisecond
	}
	if d := os.Getenv("FIGHT_DURATION_MS"); d != "" {
		ms, err := strconv.ParseInt(d, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid FIGHT_DURATION_MS: %w", err)
		}
		cfg.FightDuration = time.Duration(ms) * time.Millisecond
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	var missing []string
	if c.CoinAddress == "" {
		missing = append(missing, "COIN_ADDRESS")
	}
	if c.TreasuryWallet == "" {
		missing = append(missing, "TREASURY_WALLET")
	}
	if c.ProgramID == "" {
		missing = append(missing, "PROGRAM_ID")
	}
	if c.AuthorityPrivateKey == "" {
		missing = append(missing, "AUTHORITY_PRIVATE_KEY")
	}
	if c.AdminSecret == "" {
		missing = append(missing, "ADMIN_SECRET")
	}
	if c.AdminWallet == "" {
		missing = append(missing, "ADMIN_WALLET")
	}
	if c.InitialHP == 0 {
		missing = append(missing, "INITIAL_HP (must be > 0)")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}
	return nil
}

func getenvDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
