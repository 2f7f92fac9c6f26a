package log

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zstd"

	"hexfront.gg/internal/game/random"
)

func TestDiceLoggerWritesReadableEntries(t *testing.T) {
	dir := t.TempDir()
	l := NewDiceLogger(dir)

	recs := []random.DiceRecord{
		{Player: "Reds", Type: random.DiceCombat, Max: 6, Values: []int{0, 5}, Annotation: "attack"},
		{Player: "Blues", Type: random.DiceTech, Max: 6, Values: []int{3}},
	}
	for _, r := range recs {
		if err := l.WriteRoll(r); err != nil {
			t.Fatalf("write roll: %v", err)
		}
	}
	if err := l.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	matches, err := filepath.Glob(filepath.Join(dir, "dice", "dice-*.jsonl.zst"))
	if err != nil || len(matches) != 1 {
		t.Fatalf("dice files = %v (err %v), want one", matches, err)
	}

	f, err := os.Open(matches[0])
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()
	dec, err := zstd.NewReader(f)
	if err != nil {
		t.Fatalf("zstd: %v", err)
	}
	defer dec.Close()

	var got []random.DiceRecord
	sc := bufio.NewScanner(dec)
	for sc.Scan() {
		var r random.DiceRecord
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			t.Fatalf("bad line %q: %v", sc.Text(), err)
		}
		got = append(got, r)
	}
	if err := sc.Err(); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(got) != 2 || got[0].Player != "Reds" || got[1].Type != random.DiceTech {
		t.Fatalf("entries = %+v", got)
	}
}

func TestJSONLWriterCloseIdempotent(t *testing.T) {
	w := NewJSONLZstdWriter(t.TempDir(), "audit")
	if err := w.Write(map[string]int{"n": 1}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}
