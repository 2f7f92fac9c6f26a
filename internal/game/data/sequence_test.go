package data

import "testing"

func threeStepSequence() *Sequence {
	q := &Sequence{round: 1}
	q.AddStep(&GameStep{Name: "tech", MaxRunCount: 1})
	q.AddStep(&GameStep{Name: "move"})
	q.AddStep(&GameStep{Name: "battle"})
	return q
}

func TestSequenceNextWrapsAndResetsRunCounts(t *testing.T) {
	q := threeStepSequence()
	q.Step().IncrementRunCount()
	if !q.Step().HasReachedMaxRunCount() {
		t.Fatalf("tech step should have reached its max run count")
	}

	if q.Next() || q.Next() {
		t.Fatalf("no wrap expected mid-round")
	}
	if !q.Next() {
		t.Fatalf("wrap expected at end of round")
	}
	if q.Round() != 2 || q.StepIndex() != 0 {
		t.Fatalf("round=%d cursor=%d, want 2/0", q.Round(), q.StepIndex())
	}
	if q.Step().HasReachedMaxRunCount() {
		t.Fatalf("run counts should reset on wrap")
	}
}

func TestSequenceUnlimitedStepNeverMaxed(t *testing.T) {
	q := threeStepSequence()
	q.Next()
	for i := 0; i < 100; i++ {
		q.Step().IncrementRunCount()
	}
	if q.Step().HasReachedMaxRunCount() {
		t.Fatalf("zero max run count means unlimited")
	}
}

func TestSequenceSetState(t *testing.T) {
	q := threeStepSequence()
	q.SetState(4, 2, []int{1, 3, 0})
	if q.Round() != 4 || q.StepIndex() != 2 {
		t.Fatalf("round=%d cursor=%d, want 4/2", q.Round(), q.StepIndex())
	}
	counts := q.RunCounts()
	if counts[0] != 1 || counts[1] != 3 || counts[2] != 0 {
		t.Fatalf("run counts = %v", counts)
	}

	// Out-of-range cursors are ignored, not applied.
	q.SetState(5, 9, nil)
	if q.StepIndex() != 2 {
		t.Fatalf("cursor moved on out-of-range restore")
	}
}
