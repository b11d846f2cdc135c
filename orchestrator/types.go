package orchestrator

import "github.com/ethereum/go-ethereum/common"

// Phase is one of the four states in the acyclic game-phase graph
// from spec §3: Idle → Betting → Fighting → Ended → Idle (the last
// edge only via explicit admin action).
type Phase string

const (
	PhaseIdle     Phase = "idle"
	PhaseBetting  Phase = "betting"
	PhaseFighting Phase = "fighting"
	PhaseEnded    Phase = "ended"
)

// HitEntry is one chronological damage/heal event, append-only during
// Fighting.
type HitEntry struct {
	Username string `json:"username"`
	Message  string `json:"message"`
	TsMs     int64  `json:"ts"`
	Delta    int    `json:"delta"` // -1 damage, +1 heal
}

// BetDisplay mirrors an on-chain bet for read-only display/auditing.
// Authoritative values remain on-chain; this is a convenience copy.
type BetDisplay struct {
	Wallet         string `json:"wallet"`
	Username       string `json:"username"`
	AmountLamports uint64 `json:"amountLamports"`
	Prediction     string `json:"prediction"`
	TsMs           int64  `json:"ts"`
}

// Contributor is one entry of the top-3 damagers used in broadcasts.
type Contributor struct {
	Username string `json:"username"`
	Hits     uint32 `json:"hits"`
}

// GameState is the published, read-only snapshot of the orchestrator's
// internal state. It is never mutated after publication — every
// mutation produces a fresh copy, matching the "readers get immutable
// snapshots" design note.
type GameState struct {
	Phase   Phase  `json:"phase"`
	RoundID uint64 `json:"roundId"`

	BossHP uint32 `json:"bossHp"`
	MaxHP  uint32 `json:"maxHp"`

	UserHits      map[string]uint32 `json:"userHits"`
	Chronological []HitEntry        `json:"chronological"`
	TotalHits     uint32            `json:"totalHits"`
	LastHitter    string            `json:"lastHitter"`

	BettingEndTimeMs int64 `json:"bettingEndTimeMs,omitempty"`
	FightEndTimeMs   int64 `json:"fightEndTimeMs,omitempty"`

	BettingRoundPDA string `json:"bettingRoundPda,omitempty"`
	EscrowPDA       string `json:"escrowPda,omitempty"`

	OnChainBets       map[string]BetDisplay `json:"onChainBets"`
	TotalDeathBets    uint64                `json:"totalDeathBets"`
	TotalSurvivalBets uint64                `json:"totalSurvivalBets"`

	ChatConnected bool `json:"chatConnected"`

	Top3 []Contributor `json:"top3"`

	// StatusMessage carries an explanatory note for a phase change that
	// wasn't a normal forward transition (e.g. a reverted startFight).
	StatusMessage string `json:"statusMessage,omitempty"`
}

// internalState is the orchestrator's private, mutable copy of
// GameState plus bookkeeping that never needs to reach subscribers
// directly (e.g. the hasPDAs flag and the raw PDA addresses used for
// ledger calls).
type internalState struct {
	phase   Phase
	roundID uint64

	bossHP uint32
	maxHP  uint32

	userHits      map[string]uint32
	chronological []HitEntry
	totalHits     uint32
	lastHitter    string

	bettingEndTimeMs int64
	fightEndTimeMs   int64

	bettingRoundPDA common.Address
	escrowPDA       common.Address
	hasPDAs         bool

	onChainBets       map[common.Address]BetDisplay
	totalDeathBets    uint64
	totalSurvivalBets uint64

	chatConnected bool
}

func newInternalState() *internalState {
	return &internalState{
		phase:       PhaseIdle,
		userHits:    make(map[string]uint32),
		onChainBets: make(map[common.Address]BetDisplay),
	}
}

// snapshot builds the immutable GameState copy published to readers.
func (s *internalState) snapshot() GameState {
	userHits := make(map[string]uint32, len(s.userHits))
	for k, v := range s.userHits {
		userHits[k] = v
	}

	chrono := make([]HitEntry, len(s.chronological))
	copy(chrono, s.chronological)

	onChain := make(map[string]BetDisplay, len(s.onChainBets))
	for addr, bet := range s.onChainBets {
		onChain[addr.Hex()] = bet
	}

	gs := GameState{
		Phase:             s.phase,
		RoundID:           s.roundID,
		BossHP:            s.bossHP,
		MaxHP:             s.maxHP,
		UserHits:          userHits,
		Chronological:     chrono,
		TotalHits:         s.totalHits,
		LastHitter:        s.lastHitter,
		BettingEndTimeMs:  s.bettingEndTimeMs,
		FightEndTimeMs:    s.fightEndTimeMs,
		OnChainBets:       onChain,
		TotalDeathBets:    s.totalDeathBets,
		TotalSurvivalBets: s.totalSurvivalBets,
		ChatConnected:     s.chatConnected,
		Top3:              s.top3(),
	}
	if s.hasPDAs {
		gs.BettingRoundPDA = s.bettingRoundPDA.Hex()
		gs.EscrowPDA = s.escrowPDA.Hex()
	}
	return gs
}

func (s *internalState) top3() []Contributor {
	contributors := make([]Contributor, 0, len(s.userHits))
	for u, h := range s.userHits {
		contributors = append(contributors, Contributor{Username: u, Hits: h})
	}
	// simple insertion sort descending by hits; round sizes are small
	for i := 1; i < len(contributors); i++ {
		for j := i; j > 0 && contributors[j].Hits > contributors[j-1].Hits; j-- {
			contributors[j], contributors[j-1] = contributors[j-1], contributors[j]
		}
	}
	if len(contributors) > 3 {
		contributors = contributors[:3]
	}
	return contributors
}

// lastChronologicalTs returns the ts of the last entry in the current
// round, or -1 if there are none yet.
func (s *internalState) lastChronologicalTs() int64 {
	if len(s.chronological) == 0 {
		return -1
	}
	return s.chronological[len(s.chronological)-1].TsMs
}
