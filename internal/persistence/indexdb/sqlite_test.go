package indexdb

import (
	"path/filepath"
	"testing"
	"time"

	"hexfront.gg/internal/game/random"
)

func TestIndexRecordsSavesAndDice(t *testing.T) {
	idx, err := OpenSQLite(filepath.Join(t.TempDir(), "index.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer idx.Close()

	idx.RecordSave("round/odd.sav", "/saves/round/odd.sav", "skirmish", 3, "redsBattle", "abc123")
	for i := 0; i < 600; i++ {
		idx.RecordDice(random.DiceRecord{Player: "Reds", Type: random.DiceCombat, Max: 6, Values: []int{1, 4}})
	}
	idx.RecordDice(random.DiceRecord{Player: "Blues", Type: random.DiceTech, Max: 6, Values: []int{5}})

	// The writer batches; wait for everything to land.
	deadline := time.Now().Add(5 * time.Second)
	for {
		counts, err := idx.DiceCounts()
		if err != nil {
			t.Fatalf("dice counts: %v", err)
		}
		if counts["Reds"]["combat"] == 1200 && counts["Blues"]["tech"] == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("dice never fully indexed: %v", counts)
		}
		time.Sleep(50 * time.Millisecond)
	}

	saves, err := idx.Saves()
	if err != nil {
		t.Fatalf("saves: %v", err)
	}
	if len(saves) != 1 {
		t.Fatalf("saves = %d rows, want 1", len(saves))
	}
	si := saves[0]
	if si.Slot != "round/odd.sav" || si.Round != 3 || si.Digest != "abc123" {
		t.Fatalf("save row = %+v", si)
	}
}

func TestIndexUpsertsSlot(t *testing.T) {
	idx, err := OpenSQLite(filepath.Join(t.TempDir(), "index.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer idx.Close()

	idx.RecordSave("round/even.sav", "/a", "s", 2, "step", "d1")
	idx.RecordSave("round/even.sav", "/a", "s", 4, "step", "d2")

	deadline := time.Now().Add(5 * time.Second)
	for {
		saves, err := idx.Saves()
		if err != nil {
			t.Fatalf("saves: %v", err)
		}
		if len(saves) == 1 && saves[0].Round == 4 && saves[0].Digest == "d2" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("slot not upserted: %+v", saves)
		}
		time.Sleep(50 * time.Millisecond)
	}
}

func TestRecordAfterCloseIsNoOp(t *testing.T) {
	idx, err := OpenSQLite(filepath.Join(t.TempDir(), "index.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := idx.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	// Must not panic on the closed channel.
	idx.RecordSave("slot", "path", "s", 1, "step", "d")
	idx.RecordDice(random.DiceRecord{Player: "Reds", Values: []int{1}})
}

func TestOpenRejectsEmptyPath(t *testing.T) {
	if _, err := OpenSQLite(""); err == nil {
		t.Fatalf("empty path should fail")
	}
}
