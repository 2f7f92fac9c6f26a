package data

import (
	"fmt"
	"sort"
	"sync"

	"hexfront.gg/internal/game/history"
)

// GameData is the process-local authoritative aggregate: players,
// territories, units, the step sequence, named game properties and the
// history tree. Every mutation goes through PerformChange; direct field
// writes from outside this package are a programming error.
type GameData struct {
	mu sync.RWMutex

	scenarioName string

	players       []*Player
	playersByName map[string]*Player

	territories map[string]*Territory
	units       map[UnitID]*Unit
	nextUnitID  uint64

	sequence   *Sequence
	properties *Properties

	history *history.History
}

func New(scenarioName string) *GameData {
	return &GameData{
		scenarioName:  scenarioName,
		playersByName: map[string]*Player{},
		territories:   map[string]*Territory{},
		units:         map[UnitID]*Unit{},
		sequence:      &Sequence{round: 1},
		properties:    newProperties(),
		history:       history.New(),
	}
}

func (g *GameData) ScenarioName() string { return g.scenarioName }

// AcquireReadLock must be held across any multi-step inspection.
func (g *GameData) AcquireReadLock()  { g.mu.RLock() }
func (g *GameData) ReleaseReadLock()  { g.mu.RUnlock() }
func (g *GameData) AcquireWriteLock() { g.mu.Lock() }
func (g *GameData) ReleaseWriteLock() { g.mu.Unlock() }

// PerformChange applies a change under the write lock. The only legal
// caller is the game-modification channel subscriber.
func (g *GameData) PerformChange(c Change) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return c.Apply(g)
}

func (g *GameData) PlayerByName(name string) *Player {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.playersByName[name]
}

// Players returns the ordered player list.
func (g *GameData) Players() []*Player {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]*Player, len(g.players))
	copy(out, g.players)
	return out
}

func (g *GameData) TerritoryByName(name string) *Territory {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.territories[name]
}

func (g *GameData) TerritoryNames() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	names := make([]string, 0, len(g.territories))
	for n := range g.territories {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func (g *GameData) UnitByID(id UnitID) *Unit {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.units[id]
}

func (g *GameData) Sequence() *Sequence     { return g.sequence }
func (g *GameData) Properties() *Properties { return g.properties }
func (g *GameData) History() *history.History {
	return g.history
}

// ExportHistory serializes the history tree under the read lock.
func (g *GameData) ExportHistory() ([]byte, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.history.Export()
}

// ImportHistory replaces the history tree during save restore.
func (g *GameData) ImportHistory(b []byte) error {
	h, err := history.Import(b)
	if err != nil {
		return err
	}
	g.mu.Lock()
	g.history = h
	g.mu.Unlock()
	return nil
}

// AddPlayer registers a player during scenario construction.
func (g *GameData) AddPlayer(p *Player) error {
	if p == nil || p.name == "" {
		return fmt.Errorf("player must have a name")
	}
	if _, dup := g.playersByName[p.name]; dup {
		return fmt.Errorf("duplicate player: %s", p.name)
	}
	g.players = append(g.players, p)
	g.playersByName[p.name] = p
	return nil
}

// AddTerritory registers a territory during scenario construction.
func (g *GameData) AddTerritory(t *Territory) error {
	if t == nil || t.name == "" {
		return fmt.Errorf("territory must have a name")
	}
	if _, dup := g.territories[t.name]; dup {
		return fmt.Errorf("duplicate territory: %s", t.name)
	}
	g.territories[t.name] = t
	return nil
}

// CreateUnit allocates a unit in the arena and assigns its stable id.
func (g *GameData) CreateUnit(unitType, owner string) *Unit {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.createUnitLocked(unitType, owner)
}

func (g *GameData) createUnitLocked(unitType, owner string) *Unit {
	g.nextUnitID++
	u := &Unit{
		id:       UnitID(g.nextUnitID),
		unitType: unitType,
		owner:    owner,
		props:    map[string]any{},
	}
	g.units[u.id] = u
	return u
}

// restoreUnit re-registers a unit that was removed (change inversion) or
// loaded from a save. The arena counter never moves backwards.
func (g *GameData) restoreUnit(u *Unit) {
	g.units[u.id] = u
	if uint64(u.id) > g.nextUnitID {
		g.nextUnitID = uint64(u.id)
	}
}

func (g *GameData) removeUnit(id UnitID) {
	delete(g.units, id)
}

// unitPlaced reports whether any territory still holds the unit.
func (g *GameData) unitPlaced(id UnitID) bool {
	for _, t := range g.territories {
		if t.HasUnit(id) {
			return true
		}
	}
	return false
}
