package settlement

import (
	"context"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/soltomm/boss-fight-pump-fun/ledger"
)

type fakeLedger struct {
	bets         []ledger.BetSummary
	payoutErrFor map[common.Address]error
	claimedFees  bool
	claimed      []common.Address
}

func (f *fakeLedger) ScanBets(ctx context.Context, roundID uint64) ([]ledger.BetSummary, error) {
	return f.bets, nil
}

func (f *fakeLedger) ClaimPayout(ctx context.Context, roundPDA, betPDA, escrowPDA, bettor common.Address) (string, error) {
	if f.payoutErrFor != nil {
		if err, ok := f.payoutErrFor[bettor]; ok {
			return "", err
		}
	}
	f.claimed = append(f.claimed, bettor)
	return "0xsig-" + bettor.Hex(), nil
}

func (f *fakeLedger) ClaimFees(ctx context.Context, roundPDA, escrowPDA, treasury common.Address) (string, error) {
	f.claimedFees = true
	return "0xfees", nil
}

func (f *fakeLedger) BetPDA(roundID uint64, bettor common.Address) common.Address {
	return bettor
}

func addr(s string) common.Address { return common.HexToAddress(s) }

func TestRunNoWinnersOnlyClaimsFees(t *testing.T) {
	f := &fakeLedger{}
	e := New(f)

	res, err := e.Run(context.Background(), Params{
		RoundID:           1,
		BossDefeated:      true,
		TotalDeathBets:    0,
		TotalSurvivalBets: 500,
		FeePercentage:     5,
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !f.claimedFees {
		t.Error("expected claimFees to be called")
	}
	if len(res.Payouts) != 0 {
		t.Error("expected no payouts when there are no winners")
	}
}

func TestRunComputesFlooredProportionalShares(t *testing.T) {
	winnerA := addr("0x1111111111111111111111111111111111aaaa")
	winnerB := addr("0x2222222222222222222222222222222222bbbb")

	f := &fakeLedger{
		bets: []ledger.BetSummary{
			{Wallet: winnerA, AmountLamports: 100, Prediction: ledger.PredictionDeath},
			{Wallet: winnerB, AmountLamports: 300, Prediction: ledger.PredictionDeath},
			{Wallet: addr("0x3333333333333333333333333333333333cccc"), AmountLamports: 999, Prediction: ledger.PredictionSurvival},
		},
	}
	e := New(f)

	res, err := e.Run(context.Background(), Params{
		RoundID:           1,
		BossDefeated:      true, // winning side = Death
		TotalDeathBets:    400,  // W
		TotalSurvivalBets: 1000, // L
		FeePercentage:     10,
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	// fee = floor(1000*10/100) = 100; prizePool = 900
	// winnerA share = floor(900*100/400) = 225; total = 325
	// winnerB share = floor(900*300/400) = 675; total = 975
	if len(res.Payouts) != 2 {
		t.Fatalf("expected 2 payouts, got %d", len(res.Payouts))
	}

	byWallet := map[string]uint64{}
	for _, p := range res.Payouts {
		byWallet[p.Wallet] = p.TotalPayout
	}

	if byWallet[winnerA.Hex()] != 325 {
		t.Errorf("winnerA total payout = %d, want 325", byWallet[winnerA.Hex()])
	}
	if byWallet[winnerB.Hex()] != 975 {
		t.Errorf("winnerB total payout = %d, want 975", byWallet[winnerB.Hex()])
	}
	if !f.claimedFees {
		t.Error("expected claimFees to be called exactly once at the end")
	}
}

func TestRunSkipsFailedPayoutsAndContinues(t *testing.T) {
	winnerA := addr("0x1111111111111111111111111111111111aaaa")
	winnerB := addr("0x2222222222222222222222222222222222bbbb")

	f := &fakeLedger{
		bets: []ledger.BetSummary{
			{Wallet: winnerA, AmountLamports: 100, Prediction: ledger.PredictionDeath},
			{Wallet: winnerB, AmountLamports: 100, Prediction: ledger.PredictionDeath},
		},
		payoutErrFor: map[common.Address]error{
			winnerA: errors.New("already claimed"),
		},
	}
	e := New(f)

	res, err := e.Run(context.Background(), Params{
		RoundID:           1,
		BossDefeated:      true,
		TotalDeathBets:    200,
		TotalSurvivalBets: 0,
		FeePercentage:     0,
	})
	if err != nil {
		t.Fatalf("Run should not fail the whole round on one bettor: %v", err)
	}
	if res.Failures != 1 {
		t.Errorf("expected 1 recorded failure, got %d", res.Failures)
	}
	if len(res.Payouts) != 1 {
		t.Errorf("expected 1 successful payout, got %d", len(res.Payouts))
	}
	if !f.claimedFees {
		t.Error("expected claimFees regardless of per-bettor failures")
	}
}

func TestReplayedClaimPayoutProducesNoNetNewPayout(t *testing.T) {
	winner := addr("0x1111111111111111111111111111111111aaaa")
	f := &fakeLedger{
		bets: []ledger.BetSummary{
			{Wallet: winner, AmountLamports: 100, Prediction: ledger.PredictionDeath},
		},
	}
	e := New(f)
	params := Params{RoundID: 1, BossDefeated: true, TotalDeathBets: 100, TotalSurvivalBets: 50, FeePercentage: 0}

	first, err := e.Run(context.Background(), params)
	if err != nil {
		t.Fatal(err)
	}

	// Second settlement attempt for the same round: the ledger flags the
	// bet as claimed, which this fake models as a failure on replay.
	f.payoutErrFor = map[common.Address]error{winner: errors.New("bet already claimed")}
	second, err := e.Run(context.Background(), params)
	if err != nil {
		t.Fatal(err)
	}

	if len(first.Payouts) != 1 {
		t.Fatalf("expected first run to pay out once")
	}
	if len(second.Payouts) != 0 || second.Failures != 1 {
		t.Fatalf("expected replay to produce no net new payout, got payouts=%d failures=%d", len(second.Payouts), second.Failures)
	}
}
