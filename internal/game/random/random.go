// Package random supplies the engine's dice. Two modes: a plain seedable
// PRNG for bots and solo play, and a commit-reveal source shared between
// hub and spokes so no single party can bias an outcome.
package random

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"sync"
)

// DiceType categorizes a roll for the audit stats.
type DiceType string

const (
	DiceCombat    DiceType = "combat"
	DiceBombing   DiceType = "bombing"
	DiceTech      DiceType = "tech"
	DiceNonCombat DiceType = "noncombat"
	DiceEngine    DiceType = "engine"
)

// DiceRecord is the rendering payload attached to history event children
// for every roll. Reloading a save walks these back into the stats sink.
type DiceRecord struct {
	Player     string   `json:"player,omitempty"`
	Type       DiceType `json:"type"`
	Max        int      `json:"max"`
	Values     []int    `json:"values"`
	Annotation string   `json:"annotation,omitempty"`
}

func (r DiceRecord) Marshal() json.RawMessage {
	b, _ := json.Marshal(r)
	return b
}

// Source produces count dice in [0, max).
type Source interface {
	Random(max, count int, annotation string) ([]int, error)
}

// PlainSource is a local PRNG with an injectable seed.
type PlainSource struct {
	mu  sync.Mutex
	rng *rand.Rand
}

func NewPlainSource(seed int64) *PlainSource {
	return &PlainSource{rng: rand.New(rand.NewSource(seed))}
}

func (s *PlainSource) Random(max, count int, annotation string) ([]int, error) {
	if max <= 0 || count <= 0 {
		return nil, fmt.Errorf("random: max=%d count=%d out of range", max, count)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]int, count)
	for i := range out {
		out[i] = s.rng.Intn(max)
	}
	return out, nil
}
