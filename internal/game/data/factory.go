package data

// Change constructors that snapshot the current value so the produced
// change is symbolically invertible. Callers read state here, so they must
// hold the read lock or be inside delegate execution.

func ChangeOwner(t *Territory, newOwner string) Change {
	return &ChangeOwnerChange{Territory: t.name, NewOwner: newOwner, OldOwner: t.owner}
}

func AddUnits(territory string, units ...*Unit) Change {
	records := make([]UnitRecord, 0, len(units))
	for _, u := range units {
		records = append(records, RecordUnit(u))
	}
	return &AddUnitsChange{Territory: territory, Units: records}
}

func RemoveUnits(territory string, units ...*Unit) Change {
	records := make([]UnitRecord, 0, len(units))
	for _, u := range units {
		records = append(records, RecordUnit(u))
	}
	return &RemoveUnitsChange{Territory: territory, Units: records}
}

func SetUnitProperty(u *Unit, name string, value any) Change {
	old, _ := u.Prop(name)
	return &SetUnitPropertyChange{Unit: u.id, Property: name, NewValue: value, OldValue: old}
}

func SetTerritoryProperty(t *Territory, name string, value any) Change {
	var old any
	if name == "owner" {
		old = t.owner
	} else {
		old = t.attachments[name]
	}
	return &SetTerritoryPropertyChange{Territory: t.name, Property: name, NewValue: value, OldValue: old}
}

func SetPlayerProperty(p *Player, name string, value any) Change {
	var old any
	if name == "whoAmI" {
		old = p.whoAmI
	} else {
		old = p.props[name]
	}
	return &SetPlayerPropertyChange{Player: p.name, Property: name, NewValue: value, OldValue: old}
}

func SetGameProperty(g *GameData, name string, value any) Change {
	old, _ := g.properties.Get(name)
	return &SetGamePropertyChange{Property: name, NewValue: value, OldValue: old}
}

func AddAvailableTech(p *Player, frontier, tech string) Change {
	return &AddAvailableTechChange{Player: p.name, Frontier: frontier, Tech: tech}
}

func RemoveAvailableTech(p *Player, frontier, tech string) Change {
	return &RemoveAvailableTechChange{Player: p.name, Frontier: frontier, Tech: tech}
}

func ChangePlayerWhoAmI(p *Player, newWhoAmI string) Change {
	return &PlayerWhoAmIChange{Player: p.name, NewWhoAmI: newWhoAmI, OldWhoAmI: p.whoAmI}
}
