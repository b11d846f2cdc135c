// Package settlement computes and issues per-bettor payouts after a
// fight ends, following the proportional floor-division rule in spec
// §4.F. It is grounded on the teacher's handleCrashCashout payout math
// (ws/unified.go) generalized from a single-player cashout to a
// round-wide settlement over many bettors.
package settlement

import (
	"context"
	"fmt"
	"log"

	"github.com/ethereum/go-ethereum/common"

	"github.com/soltomm/boss-fight-pump-fun/export"
	"github.com/soltomm/boss-fight-pump-fun/ledger"
)

// Ledger is the subset of ledger.Client the settlement engine needs,
// declared locally so the engine can be tested against a fake.
type Ledger interface {
	ScanBets(ctx context.Context, roundID uint64) ([]ledger.BetSummary, error)
	ClaimPayout(ctx context.Context, roundPDA, betPDA, escrowPDA, bettor common.Address) (string, error)
	ClaimFees(ctx context.Context, roundPDA, escrowPDA, treasury common.Address) (string, error)
	BetPDA(roundID uint64, bettor common.Address) common.Address
}

// Engine runs settlement once per round.
type Engine struct {
	ledger Ledger
}

// New builds a settlement Engine over the given ledger facade.
func New(l Ledger) *Engine {
	return &Engine{ledger: l}
}

// Params bundles a round's authoritative settlement inputs.
type Params struct {
	RoundID           uint64
	RoundPDA          common.Address
	EscrowPDA         common.Address
	Treasury          common.Address
	BossDefeated      bool
	TotalDeathBets    uint64
	TotalSurvivalBets uint64
	FeePercentage     uint64
	// UsernameByWallet supplements the on-chain bet records (which
	// carry no username) with the display names the orchestrator
	// learned from bet notifications.
	UsernameByWallet map[common.Address]string
}

// Result summarizes a completed settlement run for the
// payouts_processed broadcast and the round-history record.
type Result struct {
	WinningSide   ledger.Prediction
	TotalWinner   uint64
	TotalLoser    uint64
	FeesSignature string
	Payouts       []export.PayoutRecord
	Failures      int
}

// Run executes the settlement algorithm from spec §4.F. Per-bettor
// claimPayout failures are logged and skipped. The run ends with
// exactly one claimFees call, except when ScanBets fails, in which case
// it returns that error without calling claimFees.
func (e *Engine) Run(ctx context.Context, p Params) (Result, error) {
	winningSide := ledger.PredictionSurvival
	if p.BossDefeated {
		winningSide = ledger.PredictionDeath
	}

	var totalWinner, totalLoser uint64
	if winningSide == ledger.PredictionDeath {
		totalWinner, totalLoser = p.TotalDeathBets, p.TotalSurvivalBets
	} else {
		totalWinner, totalLoser = p.TotalSurvivalBets, p.TotalDeathBets
	}

	result := Result{WinningSide: winningSide, TotalWinner: totalWinner, TotalLoser: totalLoser}

	if totalWinner == 0 {
		sig, err := e.ledger.ClaimFees(ctx, p.RoundPDA, p.EscrowPDA, p.Treasury)
		if err != nil {
			return result, fmt.Errorf("settlement: claimFees (no winners): %w", err)
		}
		result.FeesSignature = sig
		return result, nil
	}

	bets, err := e.ledger.ScanBets(ctx, p.RoundID)
	if err != nil {
		return result, fmt.Errorf("settlement: scanBets: %w", err)
	}

	fee := (totalLoser * p.FeePercentage) / 100
	prizePool := totalLoser - fee

	for _, bet := range bets {
		if bet.Prediction != winningSide {
			continue
		}

		share := (prizePool * bet.AmountLamports) / totalWinner
		totalPayout := bet.AmountLamports + share

		betPDA := e.ledger.BetPDA(p.RoundID, bet.Wallet)
		sig, err := e.ledger.ClaimPayout(ctx, p.RoundPDA, betPDA, p.EscrowPDA, bet.Wallet)
		if err != nil {
			// Per-bet settlement failure: log, skip, continue remaining
			// payouts. Never abort the whole round over one bettor.
			log.Printf("⚠️  settlement: claimPayout failed for %s: %v", bet.Wallet.Hex(), err)
			result.Failures++
			continue
		}

		username := p.UsernameByWallet[bet.Wallet]
		result.Payouts = append(result.Payouts, export.PayoutRecord{
			Username:    username,
			Wallet:      bet.Wallet.Hex(),
			BetAmount:   bet.AmountLamports,
			PrizeShare:  share,
			TotalPayout: totalPayout,
			Signature:   sig,
		})
	}

	sig, err := e.ledger.ClaimFees(ctx, p.RoundPDA, p.EscrowPDA, p.Treasury)
	if err != nil {
		return result, fmt.Errorf("settlement: claimFees: %w", err)
	}
	result.FeesSignature = sig

	return result, nil
}
