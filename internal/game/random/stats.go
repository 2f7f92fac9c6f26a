package random

import (
	"sort"
	"sync"
)

// Tally accumulates rolls for one (player, dice type) pair.
type Tally struct {
	Rolls int         `json:"rolls"`
	Total int         `json:"total"`
	Faces map[int]int `json:"faces"`
}

// Stats is the audit sink: every roll is recorded with its player and
// category, whether it came from live play or a history reimport. Sinks
// (audit log, index) are teed each record.
type Stats struct {
	mu      sync.Mutex
	tallies map[string]map[DiceType]*Tally
	sinks   []func(DiceRecord)
	closed  bool
}

func NewStats() *Stats {
	return &Stats{tallies: map[string]map[DiceType]*Tally{}}
}

// AddSink registers an extra consumer of every record.
func (s *Stats) AddSink(sink func(DiceRecord)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sinks = append(s.sinks, sink)
}

func (s *Stats) Add(rec DiceRecord) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	byType, ok := s.tallies[rec.Player]
	if !ok {
		byType = map[DiceType]*Tally{}
		s.tallies[rec.Player] = byType
	}
	t, ok := byType[rec.Type]
	if !ok {
		t = &Tally{Faces: map[int]int{}}
		byType[rec.Type] = t
	}
	for _, v := range rec.Values {
		t.Rolls++
		t.Total += v
		t.Faces[v]++
	}
	sinks := s.sinks
	s.mu.Unlock()

	for _, sink := range sinks {
		sink(rec)
	}
}

// Snapshot returns a deep copy keyed player -> type, for equality checks
// between live stats and stats rebuilt from a loaded history.
func (s *Stats) Snapshot() map[string]map[DiceType]Tally {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]map[DiceType]Tally, len(s.tallies))
	for player, byType := range s.tallies {
		m := make(map[DiceType]Tally, len(byType))
		for dt, t := range byType {
			faces := make(map[int]int, len(t.Faces))
			for f, n := range t.Faces {
				faces[f] = n
			}
			m[dt] = Tally{Rolls: t.Rolls, Total: t.Total, Faces: faces}
		}
		out[player] = m
	}
	return out
}

func (s *Stats) Players() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.tallies))
	for p := range s.tallies {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

func (s *Stats) ShutDown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.sinks = nil
}
