// Package orchestrator implements the single-writer game-phase state
// machine described in spec §3/§4.D: Idle → Betting → Fighting →
// Ended, with chat-driven damage/heal application during Fighting and
// ledger-settled payouts at fight end. It is grounded on the
// teacher's mutex-guarded global-state pattern (state/types.go,
// ws/crash_unified.go) but replaces ad hoc locking with a single
// goroutine draining an input queue, so that "only one mutation in
// flight at a time" (spec invariant 1) is structural rather than
// lock-discipline.
package orchestrator

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/soltomm/boss-fight-pump-fun/export"
	"github.com/soltomm/boss-fight-pump-fun/hub"
	"github.com/soltomm/boss-fight-pump-fun/ingest"
	"github.com/soltomm/boss-fight-pump-fun/interpret"
	"github.com/soltomm/boss-fight-pump-fun/ledger"
	"github.com/soltomm/boss-fight-pump-fun/settlement"
)

// RoundStore persists a completed round's summary. Implemented by the
// db package; declared locally so the orchestrator can be tested
// without Postgres.
type RoundStore interface {
	StoreRoundSummary(ctx context.Context, r export.Results) error
}

// Ledger is the subset of ledger.Client the orchestrator drives
// directly (settlement.Engine owns the payout-specific subset).
type Ledger interface {
	DerivePDAs(roundID uint64) ledger.PDAs
	InitRound(ctx context.Context, roundID uint64, bettingDur, fightDur time.Duration, initialHP uint32, feePct uint64) error
	StartFightWithRetry(ctx context.Context, roundPDA common.Address) error
	EndFight(ctx context.Context, roundPDA common.Address, bossDefeated bool) error
	ScanBets(ctx context.Context, roundID uint64) ([]ledger.BetSummary, error)
}

// Config bundles the orchestrator's tunables, sourced from
// config.Config.
type Config struct {
	Coin            string
	InitialHP       uint32
	BettingDuration time.Duration
	FightDuration   time.Duration
	FeePercentage   uint64
	Treasury        common.Address
	AdminSecret     string
	AdminWallet     string
	Triggers        interpret.KeywordSet
	Heals           interpret.KeywordSet
}

// Orchestrator is the single writer of game state. All public methods
// enqueue work onto an internal channel processed by one goroutine;
// callers never touch internalState directly.
type Orchestrator struct {
	cfg        Config
	ledger     Ledger
	hub        *hub.Hub
	settlement *settlement.Engine
	exporter   *export.Exporter
	store      RoundStore

	state *internalState

	usernameByWallet map[common.Address]string

	inbox chan func(context.Context)
	done  chan struct{}

	bettingTimer *time.Timer
	fightTimer   *time.Timer
	tickTicker   *time.Ticker
}

// New constructs an Orchestrator in PhaseIdle and starts its run loop.
// store may be nil, in which case round summaries are not persisted
// (export to disk still happens via exporter).
func New(cfg Config, ledgerClient Ledger, h *hub.Hub, settlementEngine *settlement.Engine, exporter *export.Exporter, store RoundStore) *Orchestrator {
	o := &Orchestrator{
		cfg:              cfg,
		ledger:           ledgerClient,
		hub:              h,
		settlement:       settlementEngine,
		exporter:         exporter,
		store:            store,
		state:            newInternalState(),
		usernameByWallet: make(map[common.Address]string),
		inbox:            make(chan func(context.Context), 256),
		done:             make(chan struct{}),
	}
	o.state.maxHP = cfg.InitialHP
	o.state.bossHP = cfg.InitialHP
	go o.run()
	return o
}

// Stop terminates the run loop. It does not settle an in-flight round.
func (o *Orchestrator) Stop() {
	close(o.done)
}

func (o *Orchestrator) run() {
	ctx := context.Background()
	for {
		select {
		case <-o.done:
			o.stopTimers()
			return
		case fn := <-o.inbox:
			fn(ctx)
		case <-o.timerC(o.bettingTimer):
			o.transitionToFighting(ctx)
		case <-o.timerC(o.fightTimer):
			o.endFight(ctx, false)
		case <-o.tickerC():
			o.publishTimerUpdate()
		}
	}
}

// timerC returns t.C, or a nil channel (which blocks forever in a
// select) when t is nil — avoids a nil-pointer dereference while no
// timer is armed.
func (o *Orchestrator) timerC(t *time.Timer) <-chan time.Time {
	if t == nil {
		return nil
	}
	return t.C
}

func (o *Orchestrator) tickerC() <-chan time.Time {
	if o.tickTicker == nil {
		return nil
	}
	return o.tickTicker.C
}

func (o *Orchestrator) stopTimers() {
	if o.bettingTimer != nil {
		o.bettingTimer.Stop()
	}
	if o.fightTimer != nil {
		o.fightTimer.Stop()
	}
	if o.tickTicker != nil {
		o.tickTicker.Stop()
	}
}

// enqueue submits fn to run on the orchestrator goroutine. It never
// blocks the caller waiting for fn to complete.
func (o *Orchestrator) enqueue(fn func(context.Context)) {
	select {
	case o.inbox <- fn:
	case <-o.done:
	}
}

// Snapshot returns a copy of the current GameState. Safe to call from
// any goroutine: it round-trips through the input queue, so it never
// observes a state half-way through a mutation, and it blocks until the
// run loop reaches it (or the orchestrator is stopped). main.go also
// wires the hub's snapshot function to this method.
func (o *Orchestrator) Snapshot() GameState {
	result := make(chan GameState, 1)
	o.enqueue(func(ctx context.Context) {
		result <- o.state.snapshot()
	})
	select {
	case gs := <-result:
		return gs
	case <-o.done:
		return o.state.snapshot()
	}
}

// HandleChatEvent classifies and applies a live chat message. Events
// outside of Fighting, or from an unrecognized phase, are ignored —
// queued delivery naturally discards events that arrive during an
// endFight/settlement window because by the time they're processed
// the phase has already moved to Ended.
func (o *Orchestrator) HandleChatEvent(evt ingest.ChatEvent) {
	o.enqueue(func(ctx context.Context) {
		o.applyChatEvent(evt)
	})
}

// HandleConnStatus records chat-ingestor connectivity for display.
func (o *Orchestrator) HandleConnStatus(status ingest.ConnStatus) {
	o.enqueue(func(ctx context.Context) {
		o.state.chatConnected = status.Connected
		o.publish(hub.KindConnectionStatus, map[string]bool{
			"connected": status.Connected,
			"terminal":  status.Terminal,
		})
	})
}

// InjectTestMessage lets the /test endpoint drive the interpreter
// exactly as a real chat event would, for manual verification without
// a live chat connection.
func (o *Orchestrator) InjectTestMessage(username, message string) {
	o.enqueue(func(ctx context.Context) {
		o.applyChatEvent(ingest.ChatEvent{Username: username, Message: message, TsMs: nowMs()})
	})
}

func (o *Orchestrator) applyChatEvent(evt ingest.ChatEvent) {
	if o.state.phase != PhaseFighting {
		return
	}

	effect := interpret.Classify(evt.Message, o.cfg.Triggers, o.cfg.Heals)
	if effect == interpret.Ignore {
		return
	}

	ts := evt.TsMs
	if last := o.state.lastChronologicalTs(); last >= 0 && ts < last {
		ts = last
	}

	delta := -1
	if effect == interpret.Heal {
		delta = 1
	}

	switch effect {
	case interpret.Damage:
		if delta < 0 && uint32(-delta) > o.state.bossHP {
			o.state.bossHP = 0
		} else {
			o.state.bossHP -= uint32(-delta)
		}
		o.state.userHits[evt.Username]++
		o.state.totalHits++
		o.state.lastHitter = evt.Username
	case interpret.Heal:
		healed := o.state.bossHP + uint32(delta)
		if healed > o.state.maxHP {
			healed = o.state.maxHP
		}
		o.state.bossHP = healed
	}

	o.state.chronological = append(o.state.chronological, HitEntry{
		Username: evt.Username,
		Message:  evt.Message,
		TsMs:     ts,
		Delta:    delta,
	})

	o.publish(hub.KindUpdate, o.state.snapshot())

	if o.state.bossHP == 0 {
		o.endFight(context.Background(), true)
	}
}

// AdminCommand is one administrator-issued control message arriving
// over the overlay connection.
type AdminCommand struct {
	Type           string // "startBetting" or "reset"
	AdminKey       string
	WalletAddress  string
	SubscriberID   string
}

// HandleAdminCommand validates credentials and dispatches a
// start-betting or reset request. On validation failure an
// admin:error event is sent to the originating subscriber only.
func (o *Orchestrator) HandleAdminCommand(cmd AdminCommand) {
	o.enqueue(func(ctx context.Context) {
		if cmd.AdminKey != o.cfg.AdminSecret || cmd.WalletAddress != o.cfg.AdminWallet {
			o.hub.SendTo(cmd.SubscriberID, hub.Event{Kind: hub.KindAdminError, Data: map[string]string{
				"message": "invalid admin credentials",
			}})
			return
		}

		switch cmd.Type {
		case "startBetting":
			if o.state.phase != PhaseIdle && o.state.phase != PhaseEnded {
				o.hub.SendTo(cmd.SubscriberID, hub.Event{Kind: hub.KindAdminError, Data: map[string]string{
					"message": "cannot start betting from current phase",
				}})
				return
			}
			o.transitionToBetting(ctx)
		case "reset":
			o.resetToIdle(ctx)
		default:
			o.hub.SendTo(cmd.SubscriberID, hub.Event{Kind: hub.KindAdminError, Data: map[string]string{
				"message": "unknown admin command",
			}})
		}
	})
}

var monotonicRoundSeq uint64

// newRoundID derives a round id from wall-clock time, nudged forward
// if it would collide with the previous round's id.
func newRoundID() uint64 {
	id := uint64(nowMs())
	if id <= monotonicRoundSeq {
		id = monotonicRoundSeq + 1
	}
	monotonicRoundSeq = id
	return id
}

func nowMs() int64 {
	return time.Now().UnixMilli()
}

// resetState drops all timers and round state back to a fresh Idle
// internalState, without publishing anything — callers decide what, if
// anything, to tell subscribers about the reset.
func (o *Orchestrator) resetState() {
	o.stopTimers()
	o.bettingTimer = nil
	o.fightTimer = nil
	o.tickTicker = nil

	o.state = newInternalState()
	o.state.maxHP = o.cfg.InitialHP
	o.state.bossHP = o.cfg.InitialHP
	o.usernameByWallet = make(map[common.Address]string)
}

func (o *Orchestrator) transitionToBetting(ctx context.Context) {
	o.stopTimers()

	roundID := newRoundID()
	o.state = newInternalState()
	o.state.maxHP = o.cfg.InitialHP
	o.state.bossHP = o.cfg.InitialHP
	o.state.roundID = roundID
	o.state.phase = PhaseBetting
	o.usernameByWallet = make(map[common.Address]string)

	if err := o.ledger.InitRound(ctx, roundID, o.cfg.BettingDuration, o.cfg.FightDuration, o.cfg.InitialHP, o.cfg.FeePercentage); err != nil {
		log.Printf("⚠️  orchestrator: initRound failed for round %d: %v, reverting to idle", roundID, err)
		o.resetState()
		return
	}

	pdas := o.ledger.DerivePDAs(roundID)
	o.state.bettingRoundPDA = pdas.BettingRoundPDA
	o.state.escrowPDA = pdas.EscrowPDA
	o.state.hasPDAs = true

	o.state.bettingEndTimeMs = nowMs() + o.cfg.BettingDuration.Milliseconds()
	o.bettingTimer = time.NewTimer(o.cfg.BettingDuration)
	o.tickTicker = time.NewTicker(100 * time.Millisecond)

	o.publish(hub.KindPhaseChange, o.state.snapshot())
}

func (o *Orchestrator) transitionToFighting(ctx context.Context) {
	if o.state.phase != PhaseBetting {
		return
	}
	o.bettingTimer = nil

	if err := o.ledger.StartFightWithRetry(ctx, o.state.bettingRoundPDA); err != nil {
		log.Printf("⚠️  orchestrator: startFight failed for round %d: %v, reverting to idle", o.state.roundID, err)
		o.resetState()
		gs := o.state.snapshot()
		gs.StatusMessage = fmt.Sprintf("startFight failed after retries, round reverted to idle: %v", err)
		o.publish(hub.KindPhaseChange, gs)
		return
	}

	bets, err := o.ledger.ScanBets(ctx, o.state.roundID)
	if err != nil {
		log.Printf("⚠️  orchestrator: scanBets failed for round %d: %v", o.state.roundID, err)
	}
	for _, b := range bets {
		display := BetDisplay{
			Wallet:         b.Wallet.Hex(),
			Username:       o.usernameByWallet[b.Wallet],
			AmountLamports: b.AmountLamports,
			Prediction:     b.Prediction.String(),
			TsMs:           b.TsMs,
		}
		o.state.onChainBets[b.Wallet] = display

		if b.Prediction == ledger.PredictionDeath {
			o.state.totalDeathBets += b.AmountLamports
		} else {
			o.state.totalSurvivalBets += b.AmountLamports
		}
	}

	o.state.phase = PhaseFighting
	o.state.fightEndTimeMs = nowMs() + o.cfg.FightDuration.Milliseconds()
	o.fightTimer = time.NewTimer(o.cfg.FightDuration)

	o.publish(hub.KindPhaseChange, o.state.snapshot())
	o.publish(hub.KindBettingUpdate, o.state.snapshot())
}

// RecordBetNotification lets the /api/bet-notification handler teach
// the orchestrator a wallet→username mapping ahead of the on-chain
// scan, purely for display purposes.
func (o *Orchestrator) RecordBetNotification(wallet common.Address, username string) {
	o.enqueue(func(ctx context.Context) {
		o.usernameByWallet[wallet] = username
		if bet, ok := o.state.onChainBets[wallet]; ok {
			bet.Username = username
			o.state.onChainBets[wallet] = bet
		}
	})
}

func (o *Orchestrator) endFight(ctx context.Context, bossDefeated bool) {
	if o.state.phase != PhaseFighting {
		return
	}
	o.fightTimer = nil
	if o.tickTicker != nil {
		o.tickTicker.Stop()
		o.tickTicker = nil
	}

	o.state.phase = PhaseEnded

	if err := o.ledger.EndFight(ctx, o.state.bettingRoundPDA, bossDefeated); err != nil {
		log.Printf("⚠️  orchestrator: endFight failed for round %d: %v", o.state.roundID, err)
	}

	result, err := o.settlement.Run(ctx, settlement.Params{
		RoundID:           o.state.roundID,
		RoundPDA:          o.state.bettingRoundPDA,
		EscrowPDA:         o.state.escrowPDA,
		Treasury:          o.cfg.Treasury,
		BossDefeated:      bossDefeated,
		TotalDeathBets:    o.state.totalDeathBets,
		TotalSurvivalBets: o.state.totalSurvivalBets,
		FeePercentage:     o.cfg.FeePercentage,
		UsernameByWallet:  o.usernameByWallet,
	})
	if err != nil {
		log.Printf("⚠️  orchestrator: settlement failed for round %d: %v", o.state.roundID, err)
	}

	chrono := make([]export.HitEntry, len(o.state.chronological))
	for i, h := range o.state.chronological {
		chrono[i] = export.HitEntry{Username: h.Username, Message: h.Message, TsMs: h.TsMs, Delta: h.Delta}
	}

	results := export.Results{
		Coin:              o.cfg.Coin,
		RoundID:           o.state.roundID,
		BossDefeated:      bossDefeated,
		MaxHP:             o.state.maxHP,
		FinalHP:           o.state.bossHP,
		TotalHits:         o.state.totalHits,
		UserHits:          o.state.userHits,
		LastHitter:        o.state.lastHitter,
		Chronological:     chrono,
		TotalDeathBets:    o.state.totalDeathBets,
		TotalSurvivalBets: o.state.totalSurvivalBets,
		Payouts:           result.Payouts,
		WallClockMs:       nowMs(),
	}

	if _, _, err := o.exporter.Write(results); err != nil {
		log.Printf("⚠️  orchestrator: export failed for round %d: %v", o.state.roundID, err)
	}
	if o.store != nil {
		if err := o.store.StoreRoundSummary(ctx, results); err != nil {
			log.Printf("⚠️  orchestrator: round history persistence failed for round %d: %v", o.state.roundID, err)
		}
	}

	o.publish(hub.KindPhaseChange, o.state.snapshot())
	o.publish(hub.KindFightEnded, map[string]interface{}{
		"results": results,
		"failures": result.Failures,
	})
	o.publish(hub.KindPayoutsProcessed, result.Payouts)
}

// AwaitFightEnd blocks until the orchestrator's current phase is no
// longer Fighting, for tests that need to observe the post-settlement
// state deterministically instead of sleeping.
func (o *Orchestrator) AwaitFightEnd() GameState {
	for {
		gs := o.Snapshot()
		if gs.Phase != PhaseFighting {
			return gs
		}
		time.Sleep(time.Millisecond)
	}
}

func (o *Orchestrator) resetToIdle(ctx context.Context) {
	o.resetState()
	o.publish(hub.KindGameReset, o.state.snapshot())
}

func (o *Orchestrator) publishTimerUpdate() {
	remaining := int64(0)
	switch o.state.phase {
	case PhaseBetting:
		remaining = o.state.bettingEndTimeMs - nowMs()
	case PhaseFighting:
		remaining = o.state.fightEndTimeMs - nowMs()
	default:
		return
	}
	if remaining < 0 {
		remaining = 0
	}
	o.publish(hub.KindTimerUpdate, map[string]interface{}{
		"phase":       o.state.phase,
		"remainingMs": remaining,
	})
}

func (o *Orchestrator) publish(kind hub.Kind, data interface{}) {
	if o.hub == nil {
		return
	}
	o.hub.Publish(hub.Event{Kind: kind, Data: data})
}
