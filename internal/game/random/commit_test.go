package random

import (
	"fmt"
	"reflect"
	"testing"
)

func TestCommitmentVerifies(t *testing.T) {
	salt, words, err := DrawWords(5)
	if err != nil {
		t.Fatalf("draw: %v", err)
	}
	v := NewVault()
	id, err := v.AddCommitment(Commitment(salt, words))
	if err != nil {
		t.Fatalf("add commitment: %v", err)
	}
	if err := v.Verify(id, salt, words); err != nil {
		t.Fatalf("verify: %v", err)
	}
	if v.Pending() != 0 {
		t.Fatalf("verify should release the commitment")
	}
}

func TestCommitmentRejectsTamperedReveal(t *testing.T) {
	salt, words, err := DrawWords(3)
	if err != nil {
		t.Fatalf("draw: %v", err)
	}
	v := NewVault()
	id, err := v.AddCommitment(Commitment(salt, words))
	if err != nil {
		t.Fatalf("add commitment: %v", err)
	}
	words[1]++
	if err := v.Verify(id, salt, words); err == nil {
		t.Fatalf("tampered reveal should fail verification")
	}
	// A burned commitment cannot be re-verified with the original words.
	words[1]--
	if err := v.Verify(id, salt, words); err == nil {
		t.Fatalf("commitment should be consumed by the failed verify")
	}
}

func TestCombineWordsRange(t *testing.T) {
	parts := [][]uint32{
		{0, 1, 2, 3},
		{7, 11, 13, 17},
		{1000, 2000, 3000, 4000},
	}
	dice, err := CombineWords(parts, 6, 4)
	if err != nil {
		t.Fatalf("combine: %v", err)
	}
	for i, d := range dice {
		if d < 0 || d >= 6 {
			t.Fatalf("die %d = %d out of [0,6)", i, d)
		}
	}

	if _, err := CombineWords([][]uint32{{1}}, 6, 2); err == nil {
		t.Fatalf("short contribution should fail")
	}
	if _, err := CombineWords(parts, 0, 4); err == nil {
		t.Fatalf("zero max should fail")
	}
}

func TestCommittedSourceWithLocalParticipants(t *testing.T) {
	vault := NewVault()
	a, b := &LocalCommitter{}, &LocalCommitter{}
	src := NewCommittedSource(vault, func() []Committer { return []Committer{a, b} })

	dice, err := src.Random(6, 10, "combat")
	if err != nil {
		t.Fatalf("random: %v", err)
	}
	if len(dice) != 10 {
		t.Fatalf("got %d dice, want 10", len(dice))
	}
	for _, d := range dice {
		if d < 0 || d >= 6 {
			t.Fatalf("die %d out of range", d)
		}
	}
	if vault.Pending() != 0 {
		t.Fatalf("commitments leaked: %d pending", vault.Pending())
	}
}

type badCommitter struct {
	failCommit bool
}

func (c *badCommitter) CommitRandom(max, count int, annotation string) ([]byte, error) {
	if c.failCommit {
		return nil, fmt.Errorf("connection lost")
	}
	return Commitment([]byte("salt"), []uint32{1}), nil
}

func (c *badCommitter) RevealRandom() ([]byte, []uint32, error) {
	return nil, nil, fmt.Errorf("connection lost")
}

func TestCommittedSourceReleasesOnFailure(t *testing.T) {
	vault := NewVault()
	honest := &LocalCommitter{}

	src := NewCommittedSource(vault, func() []Committer {
		return []Committer{honest, &badCommitter{failCommit: true}}
	})
	if _, err := src.Random(6, 2, ""); err == nil {
		t.Fatalf("failed commit should propagate")
	}
	if vault.Pending() != 0 {
		t.Fatalf("commitments leaked after commit failure: %d", vault.Pending())
	}

	src = NewCommittedSource(vault, func() []Committer {
		return []Committer{honest, &badCommitter{}}
	})
	if _, err := src.Random(6, 2, ""); err == nil {
		t.Fatalf("failed reveal should propagate")
	}
	if vault.Pending() != 0 {
		t.Fatalf("commitments leaked after reveal failure: %d", vault.Pending())
	}
}

func TestLocalCommitterSingleUse(t *testing.T) {
	l := &LocalCommitter{}
	if _, _, err := l.RevealRandom(); err == nil {
		t.Fatalf("reveal before commit should fail")
	}
	if _, err := l.CommitRandom(6, 3, ""); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if _, _, err := l.RevealRandom(); err != nil {
		t.Fatalf("reveal: %v", err)
	}
	if _, _, err := l.RevealRandom(); err == nil {
		t.Fatalf("second reveal should fail")
	}
}

func TestPlainSourceDeterministic(t *testing.T) {
	a := NewPlainSource(42)
	b := NewPlainSource(42)
	ra, err := a.Random(6, 20, "")
	if err != nil {
		t.Fatalf("random: %v", err)
	}
	rb, _ := b.Random(6, 20, "")
	if !reflect.DeepEqual(ra, rb) {
		t.Fatalf("same seed produced different rolls")
	}
	if _, err := a.Random(0, 1, ""); err == nil {
		t.Fatalf("zero max should fail")
	}
}

func TestStatsTalliesAndSinks(t *testing.T) {
	s := NewStats()
	var seen []DiceRecord
	s.AddSink(func(r DiceRecord) { seen = append(seen, r) })

	s.Add(DiceRecord{Player: "Reds", Type: DiceCombat, Max: 6, Values: []int{0, 5, 5}})
	s.Add(DiceRecord{Player: "Reds", Type: DiceCombat, Max: 6, Values: []int{2}})
	s.Add(DiceRecord{Player: "Blues", Type: DiceTech, Max: 6, Values: []int{1}})

	snap := s.Snapshot()
	reds := snap["Reds"][DiceCombat]
	if reds.Rolls != 4 || reds.Total != 12 || reds.Faces[5] != 2 {
		t.Fatalf("reds tally = %+v", reds)
	}
	if got := s.Players(); len(got) != 2 || got[0] != "Blues" {
		t.Fatalf("players = %v", got)
	}
	if len(seen) != 3 {
		t.Fatalf("sink saw %d records, want 3", len(seen))
	}

	s.ShutDown()
	s.Add(DiceRecord{Player: "Reds", Type: DiceCombat, Values: []int{3}})
	if s.Snapshot()["Reds"][DiceCombat].Rolls != 4 {
		t.Fatalf("closed stats accepted a record")
	}
}
