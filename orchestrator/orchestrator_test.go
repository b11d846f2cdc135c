package orchestrator

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/soltomm/boss-fight-pump-fun/export"
	"github.com/soltomm/boss-fight-pump-fun/hub"
	"github.com/soltomm/boss-fight-pump-fun/ingest"
	"github.com/soltomm/boss-fight-pump-fun/interpret"
	"github.com/soltomm/boss-fight-pump-fun/ledger"
	"github.com/soltomm/boss-fight-pump-fun/settlement"
)

// fakeLedger satisfies both the orchestrator's Ledger interface and
// settlement's Ledger interface, so one fake drives an entire round.
type fakeLedger struct {
	mu            sync.Mutex
	bets          []ledger.BetSummary
	startFightErr error
}

func (f *fakeLedger) DerivePDAs(roundID uint64) ledger.PDAs {
	n := int64(roundID % 1_000_000)
	return ledger.PDAs{
		BettingRoundPDA: common.BigToAddress(big.NewInt(n*2 + 1)),
		EscrowPDA:       common.BigToAddress(big.NewInt(n*2 + 2)),
	}
}

func (f *fakeLedger) InitRound(ctx context.Context, roundID uint64, bettingDur, fightDur time.Duration, initialHP uint32, feePct uint64) error {
	return nil
}

func (f *fakeLedger) StartFightWithRetry(ctx context.Context, roundPDA common.Address) error {
	return f.startFightErr
}

func (f *fakeLedger) EndFight(ctx context.Context, roundPDA common.Address, bossDefeated bool) error {
	return nil
}

func (f *fakeLedger) ScanBets(ctx context.Context, roundID uint64) ([]ledger.BetSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.bets, nil
}

func (f *fakeLedger) ClaimPayout(ctx context.Context, roundPDA, betPDA, escrowPDA, bettor common.Address) (string, error) {
	return "0xsig", nil
}

func (f *fakeLedger) ClaimFees(ctx context.Context, roundPDA, escrowPDA, treasury common.Address) (string, error) {
	return "0xfees", nil
}

func (f *fakeLedger) BetPDA(roundID uint64, bettor common.Address) common.Address {
	return bettor
}

func newTestOrchestrator(t *testing.T, maxHP uint32, bettingDur, fightDur time.Duration) (*Orchestrator, *fakeLedger) {
	t.Helper()
	fl := &fakeLedger{}
	h := hub.New(func() hub.Event { return hub.Event{Kind: hub.KindState} })
	t.Cleanup(h.Close)

	engine := settlement.New(fl)
	exporter := export.New(t.TempDir())

	cfg := Config{
		Coin:            "testcoin",
		InitialHP:       maxHP,
		BettingDuration: bettingDur,
		FightDuration:   fightDur,
		FeePercentage:   5,
		Treasury:        common.HexToAddress("0x9999999999999999999999999999999999aaaa"),
		AdminSecret:     "secret",
		AdminWallet:     "0xadmin",
		Triggers:        interpret.NewKeywordSet([]string{"hit", "attack"}),
		Heals:           interpret.NewKeywordSet([]string{"heal"}),
	}

	o := New(cfg, fl, h, engine, exporter, nil)
	t.Cleanup(o.Stop)
	return o, fl
}

func waitForPhase(t *testing.T, o *Orchestrator, phase Phase, timeout time.Duration) GameState {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		gs := o.Snapshot()
		if gs.Phase == phase {
			return gs
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for phase %s, last phase was %s", phase, o.Snapshot().Phase)
	return GameState{}
}

func startBetting(t *testing.T, o *Orchestrator) {
	t.Helper()
	o.HandleAdminCommand(AdminCommand{Type: "startBetting", AdminKey: "secret", WalletAddress: "0xadmin"})
}

func TestHappyPathDefeat(t *testing.T) {
	o, _ := newTestOrchestrator(t, 1, 20*time.Millisecond, 5*time.Second)
	startBetting(t, o)
	waitForPhase(t, o, PhaseFighting, time.Second)

	o.HandleChatEvent(ingest.ChatEvent{Username: "alice", Message: "hit", TsMs: time.Now().UnixMilli()})

	gs := waitForPhase(t, o, PhaseEnded, time.Second)
	if gs.BossHP != 0 {
		t.Errorf("expected boss defeated (hp 0), got %d", gs.BossHP)
	}
	if gs.LastHitter != "alice" {
		t.Errorf("expected alice as last hitter, got %q", gs.LastHitter)
	}
}

func TestTimeoutSurvival(t *testing.T) {
	o, _ := newTestOrchestrator(t, 100, 20*time.Millisecond, 30*time.Millisecond)
	startBetting(t, o)
	waitForPhase(t, o, PhaseFighting, time.Second)

	gs := waitForPhase(t, o, PhaseEnded, time.Second)
	if gs.BossHP == 0 {
		t.Error("expected boss to survive the fight timeout")
	}
}

func TestHealCappedAtMaxHP(t *testing.T) {
	o, _ := newTestOrchestrator(t, 3, 20*time.Millisecond, 5*time.Second)
	startBetting(t, o)
	waitForPhase(t, o, PhaseFighting, time.Second)

	o.HandleChatEvent(ingest.ChatEvent{Username: "bob", Message: "hit", TsMs: time.Now().UnixMilli()})
	o.HandleChatEvent(ingest.ChatEvent{Username: "carol", Message: "heal", TsMs: time.Now().UnixMilli()})
	o.HandleChatEvent(ingest.ChatEvent{Username: "carol", Message: "heal", TsMs: time.Now().UnixMilli()})

	time.Sleep(20 * time.Millisecond)
	gs := o.Snapshot()
	if gs.BossHP != 3 {
		t.Errorf("expected heal to cap at maxHP=3, got %d", gs.BossHP)
	}
}

func TestAmbiguousMessageIgnored(t *testing.T) {
	o, _ := newTestOrchestrator(t, 5, 20*time.Millisecond, 5*time.Second)
	startBetting(t, o)
	waitForPhase(t, o, PhaseFighting, time.Second)

	o.HandleChatEvent(ingest.ChatEvent{Username: "dave", Message: "hit and heal", TsMs: time.Now().UnixMilli()})

	time.Sleep(20 * time.Millisecond)
	gs := o.Snapshot()
	if gs.BossHP != 5 || gs.TotalHits != 0 || len(gs.Chronological) != 0 {
		t.Errorf("expected ambiguous message to be ignored, got hp=%d totalHits=%d chrono=%d", gs.BossHP, gs.TotalHits, len(gs.Chronological))
	}
}

func TestChatIgnoredOutsideFighting(t *testing.T) {
	o, _ := newTestOrchestrator(t, 5, 200*time.Millisecond, 5*time.Second)
	startBetting(t, o)
	waitForPhase(t, o, PhaseBetting, time.Second)

	o.HandleChatEvent(ingest.ChatEvent{Username: "eve", Message: "hit", TsMs: time.Now().UnixMilli()})
	time.Sleep(10 * time.Millisecond)

	gs := o.Snapshot()
	if gs.Phase != PhaseBetting {
		t.Fatalf("expected still in betting, got %s", gs.Phase)
	}
	if gs.BossHP != 5 {
		t.Errorf("expected chat during betting to be ignored, got hp=%d", gs.BossHP)
	}
}

func TestAdminResetDuringFighting(t *testing.T) {
	o, _ := newTestOrchestrator(t, 5, 20*time.Millisecond, 5*time.Second)
	startBetting(t, o)
	waitForPhase(t, o, PhaseFighting, time.Second)

	o.HandleChatEvent(ingest.ChatEvent{Username: "frank", Message: "hit", TsMs: time.Now().UnixMilli()})
	time.Sleep(10 * time.Millisecond)

	o.HandleAdminCommand(AdminCommand{Type: "reset", AdminKey: "secret", WalletAddress: "0xadmin"})
	gs := waitForPhase(t, o, PhaseIdle, time.Second)
	if gs.BossHP != gs.MaxHP {
		t.Errorf("expected reset to restore full hp, got %d/%d", gs.BossHP, gs.MaxHP)
	}
	if len(gs.Chronological) != 0 {
		t.Errorf("expected reset to clear chronological history")
	}
}

func TestAdminCommandRejectsBadCredentials(t *testing.T) {
	o, _ := newTestOrchestrator(t, 5, 50*time.Millisecond, time.Second)
	o.HandleAdminCommand(AdminCommand{Type: "startBetting", AdminKey: "wrong", WalletAddress: "0xadmin"})

	time.Sleep(10 * time.Millisecond)
	if gs := o.Snapshot(); gs.Phase != PhaseIdle {
		t.Errorf("expected invalid admin credentials to be rejected, phase = %s", gs.Phase)
	}
}

func TestStartFightFailureRevertsToIdle(t *testing.T) {
	o, fl := newTestOrchestrator(t, 5, 20*time.Millisecond, 5*time.Second)
	fl.mu.Lock()
	fl.startFightErr = errors.New("rpc: transaction reverted")
	fl.mu.Unlock()

	sub := o.hub.Join()
	<-sub.Recv() // drain snapshot

	startBetting(t, o)
	gs := waitForPhase(t, o, PhaseIdle, time.Second)

	if gs.RoundID != 0 {
		t.Errorf("expected round state cleared on revert, got roundId=%d", gs.RoundID)
	}
	if gs.BettingRoundPDA != "" || gs.EscrowPDA != "" {
		t.Errorf("expected PDAs cleared on revert, got betting=%q escrow=%q", gs.BettingRoundPDA, gs.EscrowPDA)
	}

	// The explanation travels on the published phase_change back to idle.
	status := ""
	timeout := time.After(time.Second)
wait:
	for {
		select {
		case evt := <-sub.Recv():
			if ps, ok := evt.Data.(GameState); ok && evt.Kind == hub.KindPhaseChange && ps.Phase == PhaseIdle {
				status = ps.StatusMessage
				break wait
			}
		case <-timeout:
			break wait
		}
	}
	if status == "" {
		t.Error("expected a non-empty status message explaining the revert")
	}
}

func TestSettlementRunsOnFightEnd(t *testing.T) {
	winner := common.HexToAddress("0x1111111111111111111111111111111111aaaa")
	o, fl := newTestOrchestrator(t, 1, 20*time.Millisecond, 5*time.Second)
	fl.mu.Lock()
	fl.bets = []ledger.BetSummary{{Wallet: winner, AmountLamports: 100, Prediction: ledger.PredictionDeath}}
	fl.mu.Unlock()

	sub := o.hub.Join()
	<-sub.Recv() // drain snapshot

	startBetting(t, o)
	waitForPhase(t, o, PhaseFighting, time.Second)

	gs := o.Snapshot()
	if gs.TotalDeathBets != 100 {
		t.Errorf("expected scanned bets to populate totalDeathBets, got %d", gs.TotalDeathBets)
	}

	o.HandleChatEvent(ingest.ChatEvent{Username: "gina", Message: "hit", TsMs: time.Now().UnixMilli()})
	gs = waitForPhase(t, o, PhaseEnded, time.Second)
	if gs.BossHP != 0 {
		t.Fatalf("expected boss defeated")
	}

	// W=100, L=0: the single death bettor gets their stake back, share 0.
	var payouts []export.PayoutRecord
	timeout := time.After(time.Second)
wait:
	for {
		select {
		case evt := <-sub.Recv():
			if evt.Kind == hub.KindPayoutsProcessed {
				payouts, _ = evt.Data.([]export.PayoutRecord)
				break wait
			}
		case <-timeout:
			t.Fatal("timed out waiting for payouts_processed")
		}
	}
	if len(payouts) != 1 || payouts[0].Wallet != winner.Hex() || payouts[0].TotalPayout != 100 {
		t.Errorf("expected one payout of 100 to the winner, got %+v", payouts)
	}
}
