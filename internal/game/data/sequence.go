package data

// GameStep is one (player, delegate) slot in a round's sequence. The
// delegate is referenced by name; rule code is reattached by the framework.
type GameStep struct {
	Name         string
	DisplayName  string
	DelegateName string
	PlayerName   string // empty: no player for this step
	MaxRunCount  int    // 0: unlimited
	runCount     int
}

func (s *GameStep) RunCount() int { return s.runCount }

func (s *GameStep) HasReachedMaxRunCount() bool {
	return s.MaxRunCount > 0 && s.runCount >= s.MaxRunCount
}

func (s *GameStep) IncrementRunCount() { s.runCount++ }

// Sequence is the ordered step list plus the round counter and cursor.
type Sequence struct {
	steps  []*GameStep
	cursor int
	round  int
}

func (q *Sequence) AddStep(s *GameStep) { q.steps = append(q.steps, s) }

func (q *Sequence) Steps() []*GameStep {
	out := make([]*GameStep, len(q.steps))
	copy(out, q.steps)
	return out
}

func (q *Sequence) Step() *GameStep {
	if len(q.steps) == 0 {
		return nil
	}
	return q.steps[q.cursor]
}

func (q *Sequence) Round() int     { return q.round }
func (q *Sequence) StepIndex() int { return q.cursor }
func (q *Sequence) StepCount() int { return len(q.steps) }

// Next advances the cursor. It reports whether the sequence wrapped into a
// new round; on wrap every step's run count resets.
func (q *Sequence) Next() bool {
	if len(q.steps) == 0 {
		return false
	}
	q.cursor++
	if q.cursor < len(q.steps) {
		return false
	}
	q.cursor = 0
	q.round++
	for _, s := range q.steps {
		s.runCount = 0
	}
	return true
}

// SetState repositions the sequence: replicas resync to the server's
// published position, and loads restore the saved one.
func (q *Sequence) SetState(round, cursor int, runCounts []int) {
	q.restore(round, cursor, runCounts)
}

// RunCounts returns the per-step run counts in step order.
func (q *Sequence) RunCounts() []int {
	out := make([]int, len(q.steps))
	for i, s := range q.steps {
		out[i] = s.runCount
	}
	return out
}

// restore repositions the sequence after a load.
func (q *Sequence) restore(round, cursor int, runCounts []int) {
	q.round = round
	if cursor >= 0 && cursor < len(q.steps) {
		q.cursor = cursor
	}
	for i, s := range q.steps {
		if i < len(runCounts) {
			s.runCount = runCounts[i]
		}
	}
}
