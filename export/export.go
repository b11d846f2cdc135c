// Package export writes JSON and CSV summaries of a completed round.
// Export failures are logged but must never alter game state — callers
// treat Write's error as informational only.
package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
)

// HitEntry mirrors one chronological damage/heal event for export.
type HitEntry struct {
	Username string `json:"username"`
	Message  string `json:"message"`
	TsMs     int64  `json:"ts"`
	Delta    int    `json:"delta"`
}

// PayoutRecord mirrors one settled payout for export.
type PayoutRecord struct {
	Username     string `json:"username"`
	Wallet       string `json:"wallet"`
	BetAmount    uint64 `json:"betAmount"`
	PrizeShare   uint64 `json:"prizeShare"`
	TotalPayout  uint64 `json:"totalPayout"`
	Signature    string `json:"signature"`
}

// Results is the full results structure from spec §3, handed to the
// exporter once per round.
type Results struct {
	Coin              string           `json:"coin"`
	RoundID           uint64           `json:"roundId"`
	BossDefeated      bool             `json:"bossDefeated"`
	MaxHP             uint32           `json:"maxHp"`
	FinalHP           uint32           `json:"finalHp"`
	TotalHits         uint32           `json:"totalHits"`
	UserHits          map[string]uint32 `json:"userHits"`
	LastHitter        string           `json:"lastHitter"`
	Chronological     []HitEntry       `json:"chronological"`
	TotalDeathBets    uint64           `json:"totalDeathBets"`
	TotalSurvivalBets uint64           `json:"totalSurvivalBets"`
	Payouts           []PayoutRecord   `json:"payouts"`
	WallClockMs       int64            `json:"wallClockMs"`
}

// Exporter writes results under a configured base directory.
type Exporter struct {
	dir string
}

// New returns an Exporter rooted at dir. dir is created on first write
// if it does not already exist.
func New(dir string) *Exporter {
	return &Exporter{dir: dir}
}

// Write renders results as base name
// bossfight_<coin>_<roundId>_<wallclockMs> and writes both a .json and
// a .csv file. Errors are returned for logging, never propagated into
// game state.
func (e *Exporter) Write(r Results) (jsonPath, csvPath string, err error) {
	if err := os.MkdirAll(e.dir, 0o755); err != nil {
		return "", "", fmt.Errorf("export: failed to create export dir: %w", err)
	}

	base := fmt.Sprintf("bossfight_%s_%d_%d", r.Coin, r.RoundID, r.WallClockMs)
	jsonPath = filepath.Join(e.dir, base+".json")
	csvPath = filepath.Join(e.dir, base+".csv")

	if err := writeJSON(jsonPath, r); err != nil {
		log.Printf("⚠️  export: failed to write JSON: %v", err)
		return jsonPath, csvPath, err
	}
	if err := writeCSV(csvPath, r.UserHits); err != nil {
		log.Printf("⚠️  export: failed to write CSV: %v", err)
		return jsonPath, csvPath, err
	}

	log.Printf("✅ export: wrote round %d summary to %s and %s", r.RoundID, jsonPath, csvPath)
	return jsonPath, csvPath, nil
}

func writeJSON(path string, r Results) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

func writeCSV(path string, userHits map[string]uint32) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	defer w.Flush()

	if err := w.Write([]string{"username", "hits"}); err != nil {
		return err
	}

	usernames := make([]string, 0, len(userHits))
	for u := range userHits {
		usernames = append(usernames, u)
	}
	sort.Strings(usernames)

	for _, u := range usernames {
		if err := w.Write([]string{u, fmt.Sprintf("%d", userHits[u])}); err != nil {
			return err
		}
	}
	return w.Error()
}
