package data

import "fmt"

// UnitRecord is the serialized form of a unit riding inside an
// add/remove change, so inversion can restore removed units exactly.
type UnitRecord struct {
	ID    UnitID         `json:"id"`
	Type  string         `json:"type"`
	Owner string         `json:"owner"`
	Props map[string]any `json:"props,omitempty"`
}

func RecordUnit(u *Unit) UnitRecord {
	props := make(map[string]any, len(u.props))
	for k, v := range u.props {
		props[k] = v
	}
	return UnitRecord{ID: u.id, Type: u.unitType, Owner: u.owner, Props: props}
}

func (r UnitRecord) materialize() *Unit {
	props := make(map[string]any, len(r.Props))
	for k, v := range r.Props {
		props[k] = v
	}
	return &Unit{id: r.ID, unitType: r.Type, owner: r.Owner, props: props}
}

// AddUnitsChange places the recorded units into a territory, registering
// them in the arena if absent.
type AddUnitsChange struct {
	Territory string       `json:"territory"`
	Units     []UnitRecord `json:"units"`
}

func (c *AddUnitsChange) Kind() ChangeKind { return KindAddUnits }

func (c *AddUnitsChange) Apply(g *GameData) error {
	t, ok := g.territories[c.Territory]
	if !ok {
		return fmt.Errorf("add units: no such territory: %s", c.Territory)
	}
	for _, r := range c.Units {
		if _, exists := g.units[r.ID]; !exists {
			g.restoreUnit(r.materialize())
		}
		t.addUnit(r.ID)
	}
	return nil
}

func (c *AddUnitsChange) Invert() Change {
	return &RemoveUnitsChange{Territory: c.Territory, Units: c.Units}
}

// RemoveUnitsChange removes the recorded units from a territory; a unit
// leaves the arena once no territory holds it.
type RemoveUnitsChange struct {
	Territory string       `json:"territory"`
	Units     []UnitRecord `json:"units"`
}

func (c *RemoveUnitsChange) Kind() ChangeKind { return KindRemoveUnits }

func (c *RemoveUnitsChange) Apply(g *GameData) error {
	t, ok := g.territories[c.Territory]
	if !ok {
		return fmt.Errorf("remove units: no such territory: %s", c.Territory)
	}
	for _, r := range c.Units {
		t.removeUnit(r.ID)
		if !g.unitPlaced(r.ID) {
			g.removeUnit(r.ID)
		}
	}
	return nil
}

func (c *RemoveUnitsChange) Invert() Change {
	return &AddUnitsChange{Territory: c.Territory, Units: c.Units}
}

// ChangeOwnerChange flips a territory's owner.
type ChangeOwnerChange struct {
	Territory string `json:"territory"`
	NewOwner  string `json:"new_owner"`
	OldOwner  string `json:"old_owner"`
}

func (c *ChangeOwnerChange) Kind() ChangeKind { return KindChangeOwner }

func (c *ChangeOwnerChange) Apply(g *GameData) error {
	t, ok := g.territories[c.Territory]
	if !ok {
		return fmt.Errorf("change owner: no such territory: %s", c.Territory)
	}
	t.owner = c.NewOwner
	return nil
}

func (c *ChangeOwnerChange) Invert() Change {
	return &ChangeOwnerChange{Territory: c.Territory, NewOwner: c.OldOwner, OldOwner: c.NewOwner}
}

// SetUnitPropertyChange writes a named unit property through the unit's
// property map.
type SetUnitPropertyChange struct {
	Unit     UnitID `json:"unit"`
	Property string `json:"property"`
	NewValue any    `json:"new_value"`
	OldValue any    `json:"old_value"`
}

func (c *SetUnitPropertyChange) Kind() ChangeKind { return KindSetUnitProperty }

func (c *SetUnitPropertyChange) Apply(g *GameData) error {
	u, ok := g.units[c.Unit]
	if !ok {
		return fmt.Errorf("set unit property: no such unit: %d", c.Unit)
	}
	p, err := findProperty(u.PropertyMap(), u.props, c.Property)
	if err != nil {
		return err
	}
	return p.Set(c.NewValue)
}

func (c *SetUnitPropertyChange) Invert() Change {
	return &SetUnitPropertyChange{Unit: c.Unit, Property: c.Property, NewValue: c.OldValue, OldValue: c.NewValue}
}

// SetTerritoryPropertyChange writes a named territory attachment.
type SetTerritoryPropertyChange struct {
	Territory string `json:"territory"`
	Property  string `json:"property"`
	NewValue  any    `json:"new_value"`
	OldValue  any    `json:"old_value"`
}

func (c *SetTerritoryPropertyChange) Kind() ChangeKind { return KindSetTerritoryProp }

func (c *SetTerritoryPropertyChange) Apply(g *GameData) error {
	t, ok := g.territories[c.Territory]
	if !ok {
		return fmt.Errorf("set territory property: no such territory: %s", c.Territory)
	}
	p, err := findProperty(t.PropertyMap(), t.attachments, c.Property)
	if err != nil {
		return err
	}
	return p.Set(c.NewValue)
}

func (c *SetTerritoryPropertyChange) Invert() Change {
	return &SetTerritoryPropertyChange{Territory: c.Territory, Property: c.Property, NewValue: c.OldValue, OldValue: c.NewValue}
}

// SetPlayerPropertyChange writes a named player property.
type SetPlayerPropertyChange struct {
	Player   string `json:"player"`
	Property string `json:"property"`
	NewValue any    `json:"new_value"`
	OldValue any    `json:"old_value"`
}

func (c *SetPlayerPropertyChange) Kind() ChangeKind { return KindSetPlayerProperty }

func (c *SetPlayerPropertyChange) Apply(g *GameData) error {
	pl, ok := g.playersByName[c.Player]
	if !ok {
		return fmt.Errorf("set player property: no such player: %s", c.Player)
	}
	p, err := findProperty(pl.PropertyMap(), pl.props, c.Property)
	if err != nil {
		return err
	}
	return p.Set(c.NewValue)
}

func (c *SetPlayerPropertyChange) Invert() Change {
	return &SetPlayerPropertyChange{Player: c.Player, Property: c.Property, NewValue: c.OldValue, OldValue: c.NewValue}
}

// SetGamePropertyChange writes a game-level property ("Game Has Been
// Saved" and friends).
type SetGamePropertyChange struct {
	Property string `json:"property"`
	NewValue any    `json:"new_value"`
	OldValue any    `json:"old_value"`
}

func (c *SetGamePropertyChange) Kind() ChangeKind { return KindSetGameProperty }

func (c *SetGamePropertyChange) Apply(g *GameData) error {
	g.properties.set(c.Property, c.NewValue)
	return nil
}

func (c *SetGamePropertyChange) Invert() Change {
	return &SetGamePropertyChange{Property: c.Property, NewValue: c.OldValue, OldValue: c.NewValue}
}

// AddAvailableTechChange adds a tech advance to a player's frontier.
type AddAvailableTechChange struct {
	Player   string `json:"player"`
	Frontier string `json:"frontier"`
	Tech     string `json:"tech"`
}

func (c *AddAvailableTechChange) Kind() ChangeKind { return KindAddAvailableTech }

func (c *AddAvailableTechChange) Apply(g *GameData) error {
	pl, ok := g.playersByName[c.Player]
	if !ok {
		return fmt.Errorf("add tech: no such player: %s", c.Player)
	}
	pl.Frontier(c.Frontier).addAdvance(c.Tech)
	return nil
}

func (c *AddAvailableTechChange) Invert() Change {
	return &RemoveAvailableTechChange{Player: c.Player, Frontier: c.Frontier, Tech: c.Tech}
}

// RemoveAvailableTechChange removes a tech advance from a player's
// frontier.
type RemoveAvailableTechChange struct {
	Player   string `json:"player"`
	Frontier string `json:"frontier"`
	Tech     string `json:"tech"`
}

func (c *RemoveAvailableTechChange) Kind() ChangeKind { return KindRemoveAvailableTech }

func (c *RemoveAvailableTechChange) Apply(g *GameData) error {
	pl, ok := g.playersByName[c.Player]
	if !ok {
		return fmt.Errorf("remove tech: no such player: %s", c.Player)
	}
	pl.Frontier(c.Frontier).removeAdvance(c.Tech)
	return nil
}

func (c *RemoveAvailableTechChange) Invert() Change {
	return &AddAvailableTechChange{Player: c.Player, Frontier: c.Frontier, Tech: c.Tech}
}

// PlayerWhoAmIChange updates the role label of a player seat.
type PlayerWhoAmIChange struct {
	Player    string `json:"player"`
	NewWhoAmI string `json:"new_who_am_i"`
	OldWhoAmI string `json:"old_who_am_i"`
}

func (c *PlayerWhoAmIChange) Kind() ChangeKind { return KindPlayerWhoAmI }

func (c *PlayerWhoAmIChange) Apply(g *GameData) error {
	pl, ok := g.playersByName[c.Player]
	if !ok {
		return fmt.Errorf("who am i: no such player: %s", c.Player)
	}
	pl.whoAmI = c.NewWhoAmI
	return nil
}

func (c *PlayerWhoAmIChange) Invert() Change {
	return &PlayerWhoAmIChange{Player: c.Player, NewWhoAmI: c.OldWhoAmI, OldWhoAmI: c.NewWhoAmI}
}
