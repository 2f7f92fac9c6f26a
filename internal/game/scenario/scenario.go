// Package scenario loads the parsed game setup a fresh GameData is built
// from: players, the territory graph, starting units and the step
// sequence. Rule content (combat math, movement legality) is not here;
// steps name their delegates and the framework binds the code.
package scenario

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"hexfront.gg/internal/game/data"
)

type Scenario struct {
	Name        string          `yaml:"name"`
	Players     []PlayerSpec    `yaml:"players"`
	Territories []TerritorySpec `yaml:"territories"`
	Units       []UnitSpec      `yaml:"units,omitempty"`
	Steps       []StepSpec      `yaml:"steps"`
}

type PlayerSpec struct {
	Name string `yaml:"name"`
}

type TerritorySpec struct {
	Name      string   `yaml:"name"`
	Owner     string   `yaml:"owner,omitempty"`
	Neighbors []string `yaml:"neighbors,omitempty"`
}

type UnitSpec struct {
	Territory string `yaml:"territory"`
	Type      string `yaml:"type"`
	Owner     string `yaml:"owner"`
	Count     int    `yaml:"count"`
}

type StepSpec struct {
	Name        string `yaml:"name"`
	DisplayName string `yaml:"display_name,omitempty"`
	Delegate    string `yaml:"delegate"`
	Player      string `yaml:"player,omitempty"`
	MaxRunCount int    `yaml:"max_run_count,omitempty"`
}

func Load(path string) (Scenario, error) {
	var sc Scenario
	b, err := os.ReadFile(path)
	if err != nil {
		return sc, err
	}
	if err := yaml.Unmarshal(b, &sc); err != nil {
		return sc, fmt.Errorf("scenario: %w", err)
	}
	sc.Normalize()
	if err := sc.Validate(); err != nil {
		return sc, fmt.Errorf("scenario: %w", err)
	}
	return sc, nil
}

func (sc *Scenario) Normalize() {
	if sc == nil {
		return
	}
	// The neighbor relation is symmetric; declaring one side is enough.
	byName := map[string]int{}
	for i, t := range sc.Territories {
		byName[t.Name] = i
	}
	for i, t := range sc.Territories {
		for _, n := range t.Neighbors {
			j, ok := byName[n]
			if !ok {
				continue
			}
			if !contains(sc.Territories[j].Neighbors, t.Name) {
				sc.Territories[j].Neighbors = append(sc.Territories[j].Neighbors, sc.Territories[i].Name)
			}
		}
	}
	for i := range sc.Units {
		if sc.Units[i].Count <= 0 {
			sc.Units[i].Count = 1
		}
	}
}

func (sc Scenario) Validate() error {
	if strings.TrimSpace(sc.Name) == "" {
		return fmt.Errorf("name must not be empty")
	}
	if len(sc.Players) == 0 {
		return fmt.Errorf("players must not be empty")
	}
	players := map[string]bool{}
	for _, p := range sc.Players {
		if strings.TrimSpace(p.Name) == "" {
			return fmt.Errorf("player name must not be empty")
		}
		if players[p.Name] {
			return fmt.Errorf("duplicate player: %s", p.Name)
		}
		players[p.Name] = true
	}
	territories := map[string]bool{}
	for _, t := range sc.Territories {
		if strings.TrimSpace(t.Name) == "" {
			return fmt.Errorf("territory name must not be empty")
		}
		if territories[t.Name] {
			return fmt.Errorf("duplicate territory: %s", t.Name)
		}
		territories[t.Name] = true
		if t.Owner != "" && !players[t.Owner] {
			return fmt.Errorf("territory %s owner %q not found", t.Name, t.Owner)
		}
	}
	for _, t := range sc.Territories {
		for _, n := range t.Neighbors {
			if !territories[n] {
				return fmt.Errorf("territory %s neighbor %q not found", t.Name, n)
			}
		}
	}
	for i, u := range sc.Units {
		if !territories[u.Territory] {
			return fmt.Errorf("units[%d] territory %q not found", i, u.Territory)
		}
		if !players[u.Owner] {
			return fmt.Errorf("units[%d] owner %q not found", i, u.Owner)
		}
		if strings.TrimSpace(u.Type) == "" {
			return fmt.Errorf("units[%d] type must not be empty", i)
		}
	}
	if len(sc.Steps) == 0 {
		return fmt.Errorf("steps must not be empty")
	}
	stepNames := map[string]bool{}
	for i, s := range sc.Steps {
		if strings.TrimSpace(s.Name) == "" {
			return fmt.Errorf("steps[%d] name must not be empty", i)
		}
		if stepNames[s.Name] {
			return fmt.Errorf("duplicate step: %s", s.Name)
		}
		stepNames[s.Name] = true
		if strings.TrimSpace(s.Delegate) == "" {
			return fmt.Errorf("step %s delegate must not be empty", s.Name)
		}
		if s.Player != "" && !players[s.Player] {
			return fmt.Errorf("step %s player %q not found", s.Name, s.Player)
		}
		if s.MaxRunCount < 0 {
			return fmt.Errorf("step %s max_run_count must be >= 0", s.Name)
		}
	}
	return nil
}

// Build constructs the initial aggregate.
func (sc Scenario) Build() (*data.GameData, error) {
	g := data.New(sc.Name)
	for _, p := range sc.Players {
		if err := g.AddPlayer(data.NewPlayer(p.Name)); err != nil {
			return nil, err
		}
	}
	for _, ts := range sc.Territories {
		t := data.NewTerritory(ts.Name)
		for _, n := range ts.Neighbors {
			t.AddNeighbor(n)
		}
		if err := g.AddTerritory(t); err != nil {
			return nil, err
		}
		if ts.Owner != "" {
			if err := g.PerformChange(data.ChangeOwner(t, ts.Owner)); err != nil {
				return nil, err
			}
		}
	}
	for _, us := range sc.Units {
		for i := 0; i < us.Count; i++ {
			u := g.CreateUnit(us.Type, us.Owner)
			if err := g.PerformChange(data.AddUnits(us.Territory, u)); err != nil {
				return nil, err
			}
		}
	}
	for _, ss := range sc.Steps {
		g.Sequence().AddStep(&data.GameStep{
			Name:         ss.Name,
			DisplayName:  ss.DisplayName,
			DelegateName: ss.Delegate,
			PlayerName:   ss.Player,
			MaxRunCount:  ss.MaxRunCount,
		})
	}
	return g, nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
