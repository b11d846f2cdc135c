// Package db persists round history to Postgres and tracks presence
// and admin rate-limiting state in Redis. It is grounded on the
// teacher's db/postgres.go and db/redis.go connection-pool setup and
// schema-on-boot pattern, repointed from crash-game/candleflip records
// to boss-fight round summaries and wallet payout totals.
package db

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/soltomm/boss-fight-pump-fun/export"
)

// Postgres wraps a connection pool for round-history persistence.
type Postgres struct {
	pool *pgxpool.Pool
}

// RoundSummaryRecord is one persisted round's headline numbers, a
// lighter row than the full export.Results blob stored alongside it.
type RoundSummaryRecord struct {
	RoundID           uint64    `json:"roundId"`
	Coin              string    `json:"coin"`
	BossDefeated      bool      `json:"bossDefeated"`
	MaxHP             uint32    `json:"maxHp"`
	FinalHP           uint32    `json:"finalHp"`
	TotalHits         uint32    `json:"totalHits"`
	LastHitter        string    `json:"lastHitter"`
	TotalDeathBets    uint64    `json:"totalDeathBets"`
	TotalSurvivalBets uint64    `json:"totalSurvivalBets"`
	CreatedAt         time.Time `json:"createdAt"`
}

// WalletPnLRecord is a wallet's cumulative total payout (stake returned
// plus prize share) across rounds,
// used for the supplemented leaderboard endpoint.
type WalletPnLRecord struct {
	Wallet string  `json:"wallet"`
	Amount float64 `json:"amount"`
	Rank   int     `json:"rank,omitempty"`
}

// NewPostgres dials databaseURL, verifies connectivity, and ensures
// the round_history/wallet_pnl schema exists, following the teacher's
// InitPostgres construction sequence.
func NewPostgres(ctx context.Context, databaseURL string) (*Postgres, error) {
	log.Println("🔌 Connecting to PostgreSQL...")

	poolConfig, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("db: failed to parse DATABASE_URL: %w", err)
	}
	poolConfig.MaxConns = 25
	poolConfig.MinConns = 5
	poolConfig.MaxConnLifetime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("db: failed to create connection pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("db: failed to ping database: %w", err)
	}

	pg := &Postgres{pool: pool}
	if err := pg.initSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	log.Println("✅ PostgreSQL connected successfully")
	return pg, nil
}

// Close releases the connection pool.
func (p *Postgres) Close() {
	if p.pool != nil {
		p.pool.Close()
	}
}

func (p *Postgres) initSchema(ctx context.Context) error {
	log.Println("📋 Initializing database schema...")

	roundHistorySchema := `
	CREATE TABLE IF NOT EXISTS round_history (
		round_id BIGINT PRIMARY KEY,
		coin TEXT NOT NULL,
		boss_defeated BOOLEAN NOT NULL,
		max_hp INTEGER NOT NULL,
		final_hp INTEGER NOT NULL,
		total_hits INTEGER NOT NULL,
		last_hitter TEXT NOT NULL DEFAULT '',
		total_death_bets BIGINT NOT NULL DEFAULT 0,
		total_survival_bets BIGINT NOT NULL DEFAULT 0,
		results JSONB NOT NULL,
		created_at TIMESTAMP NOT NULL DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_round_history_created_at ON round_history(created_at DESC);
	CREATE INDEX IF NOT EXISTS idx_round_history_coin ON round_history(coin);
	`
	if _, err := p.pool.Exec(ctx, roundHistorySchema); err != nil {
		return fmt.Errorf("db: failed to create round_history table: %w", err)
	}

	walletPnLSchema := `
	CREATE TABLE IF NOT EXISTS wallet_pnl (
		wallet_address TEXT PRIMARY KEY,
		amount DOUBLE PRECISION NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_wallet_pnl_amount ON wallet_pnl(amount DESC);
	`
	if _, err := p.pool.Exec(ctx, walletPnLSchema); err != nil {
		return fmt.Errorf("db: failed to create wallet_pnl table: %w", err)
	}

	log.Println("✅ Database schema initialized")
	return nil
}

// StoreRoundSummary appends a completed round to round_history and
// folds its payouts into each wallet's running PnL. Satisfies
// orchestrator.RoundStore. Called only after a round has fully
// transitioned to Ended; a failure here never affects in-flight game
// state.
func (p *Postgres) StoreRoundSummary(ctx context.Context, r export.Results) error {
	resultsJSON, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("db: failed to marshal round results: %w", err)
	}

	query := `
		INSERT INTO round_history
		(round_id, coin, boss_defeated, max_hp, final_hp, total_hits, last_hitter, total_death_bets, total_survival_bets, results)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (round_id) DO NOTHING
	`
	tag, err := p.pool.Exec(ctx, query,
		r.RoundID, r.Coin, r.BossDefeated, r.MaxHP, r.FinalHP, r.TotalHits, r.LastHitter,
		r.TotalDeathBets, r.TotalSurvivalBets, resultsJSON,
	)
	if err != nil {
		return fmt.Errorf("db: failed to store round history: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Replay of an already-stored round: its payouts were folded in
		// the first time.
		log.Printf("ℹ️  db: round %d already stored, skipping", r.RoundID)
		return nil
	}

	for _, payout := range r.Payouts {
		if err := p.addWalletPnL(ctx, payout.Wallet, float64(payout.TotalPayout)); err != nil {
			log.Printf("⚠️  db: failed to update wallet PnL for %s: %v", payout.Wallet, err)
		}
	}

	log.Printf("✅ db: stored round %d history (%s, defeated=%v)", r.RoundID, r.Coin, r.BossDefeated)
	return nil
}

func (p *Postgres) addWalletPnL(ctx context.Context, wallet string, amount float64) error {
	query := `
		INSERT INTO wallet_pnl (wallet_address, amount)
		VALUES ($1, $2)
		ON CONFLICT (wallet_address) DO UPDATE
		SET amount = wallet_pnl.amount + $2
	`
	_, err := p.pool.Exec(ctx, query, wallet, amount)
	return err
}

// RecentRounds returns the most recent limit round summaries, newest
// first, for the round-history inspection path.
func (p *Postgres) RecentRounds(ctx context.Context, limit int) ([]RoundSummaryRecord, error) {
	query := `
		SELECT round_id, coin, boss_defeated, max_hp, final_hp, total_hits, last_hitter,
		       total_death_bets, total_survival_bets, created_at
		FROM round_history
		ORDER BY created_at DESC
		LIMIT $1
	`
	rows, err := p.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("db: failed to query round history: %w", err)
	}
	defer rows.Close()

	var records []RoundSummaryRecord
	for rows.Next() {
		var r RoundSummaryRecord
		if err := rows.Scan(&r.RoundID, &r.Coin, &r.BossDefeated, &r.MaxHP, &r.FinalHP, &r.TotalHits,
			&r.LastHitter, &r.TotalDeathBets, &r.TotalSurvivalBets, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("db: failed to scan round history row: %w", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db: error iterating round history rows: %w", err)
	}
	return records, nil
}

// Leaderboard returns the top limit wallets by cumulative payout.
func (p *Postgres) Leaderboard(ctx context.Context, limit int) ([]WalletPnLRecord, error) {
	query := `
		SELECT wallet_address, amount,
		       ROW_NUMBER() OVER (ORDER BY amount DESC) as rank
		FROM wallet_pnl
		ORDER BY amount DESC
		LIMIT $1
	`
	rows, err := p.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("db: failed to query leaderboard: %w", err)
	}
	defer rows.Close()

	var records []WalletPnLRecord
	for rows.Next() {
		var r WalletPnLRecord
		if err := rows.Scan(&r.Wallet, &r.Amount, &r.Rank); err != nil {
			return nil, fmt.Errorf("db: failed to scan leaderboard row: %w", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db: error iterating leaderboard rows: %w", err)
	}
	return records, nil
}

// HealthCheck performs a Postgres connectivity check for /api/health.
func (p *Postgres) HealthCheck(ctx context.Context) error {
	if p.pool == nil {
		return fmt.Errorf("db: postgres pool not initialized")
	}
	return p.pool.Ping(ctx)
}
