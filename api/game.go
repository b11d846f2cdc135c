package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/soltomm/boss-fight-pump-fun/ledger"
)

// HandleGameStatus handles GET /api/game-status.
func (a *API) HandleGameStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		sendError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	sendJSON(w, http.StatusOK, a.Orchestrator.Snapshot())
}

// HandleCurrentRound handles GET /api/current-round.
func (a *API) HandleCurrentRound(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		sendError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	gs := a.Orchestrator.Snapshot()
	sendJSON(w, http.StatusOK, map[string]interface{}{
		"roundId":           gs.RoundID,
		"phase":             gs.Phase,
		"bettingRoundPda":   gs.BettingRoundPDA,
		"escrowPda":         gs.EscrowPDA,
		"totalDeathBets":    gs.TotalDeathBets,
		"totalSurvivalBets": gs.TotalSurvivalBets,
		"bettingEndTimeMs":  gs.BettingEndTimeMs,
		"fightEndTimeMs":    gs.FightEndTimeMs,
	})
}

// HandleBettingRound handles GET /api/betting-round/:roundId. It serves
// the current round's phase and bet totals from the orchestrator's
// state and does not read the ledger; any round id other than the
// current one gets a 404.
func (a *API) HandleBettingRound(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		sendError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	roundID, ok := pathUint(r.URL.Path, "/api/betting-round/")
	if !ok {
		sendError(w, http.StatusBadRequest, "invalid round id")
		return
	}

	gs := a.Orchestrator.Snapshot()
	if gs.RoundID != roundID {
		sendError(w, http.StatusNotFound, "round not found")
		return
	}
	sendJSON(w, http.StatusOK, map[string]interface{}{
		"roundId":           gs.RoundID,
		"phase":             gs.Phase,
		"totalDeathBets":    gs.TotalDeathBets,
		"totalSurvivalBets": gs.TotalSurvivalBets,
	})
}

// PlaceBetRequest is the body of POST /api/place-bet.
type PlaceBetRequest struct {
	WalletAddress string `json:"walletAddress"`
	Username      string `json:"username"`
	Amount        uint64 `json:"amount"`
	Prediction    string `json:"prediction"`
}

// HandlePlaceBet handles POST /api/place-bet: builds an unsigned
// transaction for the client to sign, refusing outside Betting or for
// a bettor who already has a bet on this round.
func (a *API) HandlePlaceBet(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		sendError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req PlaceBetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	bettor, ok := parseAddress(req.WalletAddress)
	if !ok {
		sendError(w, http.StatusBadRequest, "invalid walletAddress")
		return
	}
	if req.Amount == 0 {
		sendError(w, http.StatusBadRequest, "amount must be positive")
		return
	}

	var prediction ledger.Prediction
	switch strings.ToLower(req.Prediction) {
	case "death":
		prediction = ledger.PredictionDeath
	case "survival":
		prediction = ledger.PredictionSurvival
	default:
		sendError(w, http.StatusBadRequest, "prediction must be 'death' or 'survival'")
		return
	}

	gs := a.Orchestrator.Snapshot()
	if gs.Phase != "betting" {
		sendError(w, http.StatusConflict, "betting is not open")
		return
	}

	ctx := r.Context()
	existing, err := a.Ledger.ScanBets(ctx, gs.RoundID)
	if err != nil {
		sendError(w, http.StatusInternalServerError, "failed to check existing bets")
		return
	}
	for _, bet := range existing {
		if bet.Wallet == bettor {
			sendError(w, http.StatusConflict, "a bet already exists for this wallet and round")
			return
		}
	}

	pdas := a.Ledger.DerivePDAs(gs.RoundID)
	betPDA := a.Ledger.BetPDA(gs.RoundID, bettor)

	tx, err := a.Ledger.PrepareBetTx(ctx, pdas.BettingRoundPDA, betPDA, pdas.EscrowPDA, bettor, req.Amount, prediction)
	if err != nil {
		sendError(w, http.StatusInternalServerError, "failed to prepare transaction")
		return
	}

	raw, err := tx.MarshalBinary()
	if err != nil {
		sendError(w, http.StatusInternalServerError, "failed to encode transaction")
		return
	}

	sendJSON(w, http.StatusOK, map[string]interface{}{
		"success":     true,
		"transaction": encodeTxBase64(raw),
		"roundId":     gs.RoundID,
	})
}

// BetNotificationRequest is the body of POST /api/bet-notification.
type BetNotificationRequest struct {
	WalletAddress string `json:"walletAddress"`
	Username      string `json:"username"`
}

// HandleBetNotification handles POST /api/bet-notification: a
// client-driven liveness mirror that never touches authoritative
// totals, only the display username.
func (a *API) HandleBetNotification(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		sendError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req BetNotificationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	wallet, ok := parseAddress(req.WalletAddress)
	if !ok {
		sendError(w, http.StatusBadRequest, "invalid walletAddress")
		return
	}

	a.Orchestrator.RecordBetNotification(wallet, req.Username)
	sendJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

// HandleBetStatus handles GET /api/bet-status/:wallet/:roundId.
func (a *API) HandleBetStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		sendError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/api/bet-status/")
	parts := strings.Split(rest, "/")
	if len(parts) != 2 {
		sendError(w, http.StatusBadRequest, "expected /api/bet-status/:wallet/:roundId")
		return
	}
	wallet, ok := parseAddress(parts[0])
	if !ok {
		sendError(w, http.StatusBadRequest, "invalid wallet")
		return
	}
	roundID, err := strconv.ParseUint(parts[1], 10, 64)
	if err != nil {
		sendError(w, http.StatusBadRequest, "invalid roundId")
		return
	}

	bets, err := a.Ledger.ScanBets(r.Context(), roundID)
	if err != nil {
		sendError(w, http.StatusInternalServerError, "failed to scan bets")
		return
	}
	for _, bet := range bets {
		if bet.Wallet == wallet {
			sendJSON(w, http.StatusOK, map[string]interface{}{
				"exists":     true,
				"amount":     bet.AmountLamports,
				"prediction": bet.Prediction.String(),
			})
			return
		}
	}
	sendJSON(w, http.StatusOK, map[string]interface{}{"exists": false})
}

// HandleTestInject handles GET /test?user=&msg=, a synthetic chat
// injection effective only during Fighting.
func (a *API) HandleTestInject(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		sendError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	user := r.URL.Query().Get("user")
	msg := r.URL.Query().Get("msg")
	if user == "" || msg == "" {
		sendError(w, http.StatusBadRequest, "user and msg query params are required")
		return
	}
	a.Orchestrator.InjectTestMessage(user, msg)
	sendJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

// HandleLegacyStatus handles GET /status, a minimal boss-HP snapshot
// kept for older overlay clients.
func (a *API) HandleLegacyStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		sendError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	gs := a.Orchestrator.Snapshot()
	sendJSON(w, http.StatusOK, map[string]interface{}{
		"phase":   gs.Phase,
		"bossHp":  gs.BossHP,
		"maxHp":   gs.MaxHP,
		"roundId": gs.RoundID,
	})
}

// HandleLeaderboard handles GET /api/leaderboard, a supplemented
// endpoint with no spec.md equivalent: cumulative payout ranking.
func (a *API) HandleLeaderboard(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		sendError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if a.Postgres == nil {
		sendError(w, http.StatusServiceUnavailable, "leaderboard storage is not configured")
		return
	}

	records, err := a.Postgres.Leaderboard(r.Context(), 20)
	if err != nil {
		sendError(w, http.StatusInternalServerError, "failed to load leaderboard")
		return
	}
	sendJSON(w, http.StatusOK, map[string]interface{}{"leaderboard": records})
}

func pathUint(path, prefix string) (uint64, bool) {
	rest := strings.TrimPrefix(path, prefix)
	if rest == path {
		return 0, false
	}
	n, err := strconv.ParseUint(rest, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}
