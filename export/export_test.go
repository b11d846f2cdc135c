package export

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestWriteProducesJSONAndCSV(t *testing.T) {
	dir := t.TempDir()
	e := New(dir)

	results := Results{
		Coin:         "pump",
		RoundID:      1700000000000,
		BossDefeated: true,
		MaxHP:        3,
		FinalHP:      0,
		TotalHits:    3,
		UserHits:     map[string]uint32{"alice": 2, "bob": 1},
		LastHitter:   "alice",
		WallClockMs:  1700000005000,
	}

	jsonPath, csvPath, err := e.Write(results)
	if err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	wantBase := filepath.Join(dir, "bossfight_pump_1700000000000_1700000005000")
	if jsonPath != wantBase+".json" {
		t.Errorf("unexpected json path: %s", jsonPath)
	}
	if csvPath != wantBase+".csv" {
		t.Errorf("unexpected csv path: %s", csvPath)
	}

	data, err := os.ReadFile(jsonPath)
	if err != nil {
		t.Fatalf("failed to read json: %v", err)
	}
	var got Results
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("failed to unmarshal json: %v", err)
	}
	if got.RoundID != results.RoundID || got.LastHitter != "alice" {
		t.Errorf("round-trip mismatch: %+v", got)
	}

	csvData, err := os.ReadFile(csvPath)
	if err != nil {
		t.Fatalf("failed to read csv: %v", err)
	}
	wantHeader := "username,hits\n"
	if string(csvData[:len(wantHeader)]) != wantHeader {
		t.Errorf("csv missing header, got: %q", string(csvData))
	}
}

func TestWriteErrorsDoNotPanic(t *testing.T) {
	// Point the exporter at a path that cannot be created (a file, not
	// a directory, as a parent component).
	tmp := t.TempDir()
	blocker := filepath.Join(tmp, "blocker")
	if err := os.WriteFile(blocker, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	e := New(filepath.Join(blocker, "subdir"))
	_, _, err := e.Write(Results{Coin: "pump", RoundID: 1})
	if err == nil {
		t.Fatal("expected an error when export dir cannot be created")
	}
}
