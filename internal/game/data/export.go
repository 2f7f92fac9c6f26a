package data

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
)

// SaveV1 is the canonical serialized form of the aggregate. Slices are
// emitted in stable order and encoding/json sorts map keys, so the same
// state always yields the same bytes; replica equality and state digests
// rely on that.
type SaveV1 struct {
	Scenario string `json:"scenario"`

	Players     []PlayerV1    `json:"players"`
	Territories []TerritoryV1 `json:"territories"`
	Units       []UnitV1      `json:"units"`
	NextUnitID  uint64        `json:"next_unit_id"`

	Steps     []StepV1 `json:"steps"`
	Round     int      `json:"round"`
	StepIndex int      `json:"step_index"`
	RunCounts []int    `json:"run_counts"`

	Properties map[string]any `json:"properties,omitempty"`
}

type PlayerV1 struct {
	Name      string         `json:"name"`
	WhoAmI    string         `json:"who_am_i"`
	Frontiers []FrontierV1   `json:"frontiers,omitempty"`
	Props     map[string]any `json:"props,omitempty"`
}

type FrontierV1 struct {
	Name     string   `json:"name"`
	Advances []string `json:"advances"`
}

type TerritoryV1 struct {
	Name        string         `json:"name"`
	Owner       string         `json:"owner,omitempty"`
	Neighbors   []string       `json:"neighbors,omitempty"`
	Units       []UnitID       `json:"units,omitempty"`
	Attachments map[string]any `json:"attachments,omitempty"`
}

type UnitV1 struct {
	ID    UnitID         `json:"id"`
	Type  string         `json:"type"`
	Owner string         `json:"owner"`
	Props map[string]any `json:"props,omitempty"`
}

type StepV1 struct {
	Name        string `json:"name"`
	DisplayName string `json:"display_name,omitempty"`
	Delegate    string `json:"delegate"`
	Player      string `json:"player,omitempty"`
	MaxRunCount int    `json:"max_run_count,omitempty"`
}

// Export captures the aggregate under the read lock.
func (g *GameData) Export() SaveV1 {
	g.mu.RLock()
	defer g.mu.RUnlock()

	save := SaveV1{
		Scenario:   g.scenarioName,
		NextUnitID: g.nextUnitID,
		Round:      g.sequence.round,
		StepIndex:  g.sequence.cursor,
	}

	for _, p := range g.players {
		pv := PlayerV1{Name: p.name, WhoAmI: p.whoAmI, Props: copyBag(p.props)}
		for _, fn := range p.FrontierNames() {
			f := p.frontiers[fn]
			adv := f.Advances()
			sort.Strings(adv)
			pv.Frontiers = append(pv.Frontiers, FrontierV1{Name: fn, Advances: adv})
		}
		save.Players = append(save.Players, pv)
	}

	names := make([]string, 0, len(g.territories))
	for n := range g.territories {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		t := g.territories[n]
		save.Territories = append(save.Territories, TerritoryV1{
			Name:        t.name,
			Owner:       t.owner,
			Neighbors:   t.Neighbors(),
			Units:       t.UnitIDs(),
			Attachments: copyBag(t.attachments),
		})
	}

	ids := make([]UnitID, 0, len(g.units))
	for id := range g.units {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		u := g.units[id]
		save.Units = append(save.Units, UnitV1{ID: u.id, Type: u.unitType, Owner: u.owner, Props: copyBag(u.props)})
	}

	for _, s := range g.sequence.steps {
		save.Steps = append(save.Steps, StepV1{
			Name:        s.Name,
			DisplayName: s.DisplayName,
			Delegate:    s.DelegateName,
			Player:      s.PlayerName,
			MaxRunCount: s.MaxRunCount,
		})
		save.RunCounts = append(save.RunCounts, s.runCount)
	}

	if len(g.properties.values) > 0 {
		save.Properties = copyBag(g.properties.values)
	}
	return save
}

// Digest is the canonical state fingerprint used by replica-equality
// checks.
func (g *GameData) Digest() string {
	b, err := json.Marshal(g.Export())
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// FromSave rehydrates a fresh aggregate from its canonical form. Delegates
// are rule code: the save names them and the framework reattaches
// instances.
func FromSave(save SaveV1) (*GameData, error) {
	g := New(save.Scenario)
	for _, pv := range save.Players {
		p := NewPlayer(pv.Name)
		p.whoAmI = pv.WhoAmI
		p.props = copyBag(pv.Props)
		if p.props == nil {
			p.props = map[string]any{}
		}
		for _, fv := range pv.Frontiers {
			f := p.Frontier(fv.Name)
			f.advances = append(f.advances, fv.Advances...)
		}
		if err := g.AddPlayer(p); err != nil {
			return nil, err
		}
	}
	for _, uv := range save.Units {
		u := &Unit{id: uv.ID, unitType: uv.Type, owner: uv.Owner, props: copyBag(uv.Props)}
		if u.props == nil {
			u.props = map[string]any{}
		}
		g.restoreUnit(u)
	}
	for _, tv := range save.Territories {
		t := NewTerritory(tv.Name)
		t.owner = tv.Owner
		for _, n := range tv.Neighbors {
			t.neighbors[n] = true
		}
		for _, id := range tv.Units {
			if _, ok := g.units[id]; !ok {
				return nil, fmt.Errorf("territory %s references unknown unit %d", tv.Name, id)
			}
			t.unitIDs[id]++
		}
		if len(tv.Attachments) > 0 {
			t.attachments = copyBag(tv.Attachments)
		}
		if err := g.AddTerritory(t); err != nil {
			return nil, err
		}
	}
	if save.NextUnitID > g.nextUnitID {
		g.nextUnitID = save.NextUnitID
	}
	for _, sv := range save.Steps {
		g.sequence.AddStep(&GameStep{
			Name:         sv.Name,
			DisplayName:  sv.DisplayName,
			DelegateName: sv.Delegate,
			PlayerName:   sv.Player,
			MaxRunCount:  sv.MaxRunCount,
		})
	}
	g.sequence.restore(save.Round, save.StepIndex, save.RunCounts)
	for k, v := range save.Properties {
		g.properties.values[k] = v
	}
	return g, nil
}

func copyBag(bag map[string]any) map[string]any {
	if bag == nil {
		return nil
	}
	out := make(map[string]any, len(bag))
	for k, v := range bag {
		out[k] = v
	}
	return out
}
