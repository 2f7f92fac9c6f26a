package data

import (
	"encoding/json"
	"fmt"
)

// ChangeKind tags the serialized form of a change so any node can
// reconstruct and apply it.
type ChangeKind string

const (
	KindAddUnits            ChangeKind = "add_units"
	KindRemoveUnits         ChangeKind = "remove_units"
	KindChangeOwner         ChangeKind = "change_owner"
	KindSetUnitProperty     ChangeKind = "set_unit_property"
	KindSetTerritoryProp    ChangeKind = "set_territory_property"
	KindSetPlayerProperty   ChangeKind = "set_player_property"
	KindSetGameProperty     ChangeKind = "set_game_property"
	KindAddAvailableTech    ChangeKind = "add_available_tech"
	KindRemoveAvailableTech ChangeKind = "remove_available_tech"
	KindPlayerWhoAmI        ChangeKind = "player_who_am_i"
	KindComposite           ChangeKind = "composite"
)

// Change is the reversible, serializable unit of mutation. Apply mutates
// the aggregate (called with the write lock held); Invert constructs the
// symbolic inverse without executing anything. Apply is pure with respect
// to the aggregate: no I/O, no randomness; it fails only on internal
// invariant violation.
type Change interface {
	Kind() ChangeKind
	Apply(g *GameData) error
	Invert() Change
}

type encodedChange struct {
	Kind    ChangeKind      `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

// EncodeChange produces the stable wire form. A change encoded on one node
// and decoded on another applies identically.
func EncodeChange(c Change) ([]byte, error) {
	payload, err := marshalPayload(c)
	if err != nil {
		return nil, err
	}
	return json.Marshal(encodedChange{Kind: c.Kind(), Payload: payload})
}

func marshalPayload(c Change) (json.RawMessage, error) {
	if comp, ok := c.(*CompositeChange); ok {
		parts := make([]json.RawMessage, 0, len(comp.changes))
		for _, sub := range comp.changes {
			b, err := EncodeChange(sub)
			if err != nil {
				return nil, err
			}
			parts = append(parts, b)
		}
		return json.Marshal(parts)
	}
	return json.Marshal(c)
}

func DecodeChange(b []byte) (Change, error) {
	var env encodedChange
	if err := json.Unmarshal(b, &env); err != nil {
		return nil, fmt.Errorf("change envelope: %w", err)
	}
	if env.Kind == KindComposite {
		var parts []json.RawMessage
		if err := json.Unmarshal(env.Payload, &parts); err != nil {
			return nil, fmt.Errorf("composite payload: %w", err)
		}
		comp := &CompositeChange{}
		for _, p := range parts {
			sub, err := DecodeChange(p)
			if err != nil {
				return nil, err
			}
			comp.Add(sub)
		}
		return comp, nil
	}
	blank, ok := changeProtos[env.Kind]
	if !ok {
		return nil, fmt.Errorf("unknown change kind: %s", env.Kind)
	}
	c := blank()
	if err := json.Unmarshal(env.Payload, c); err != nil {
		return nil, fmt.Errorf("change %s: %w", env.Kind, err)
	}
	return c, nil
}

var changeProtos = map[ChangeKind]func() Change{
	KindAddUnits:            func() Change { return &AddUnitsChange{} },
	KindRemoveUnits:         func() Change { return &RemoveUnitsChange{} },
	KindChangeOwner:         func() Change { return &ChangeOwnerChange{} },
	KindSetUnitProperty:     func() Change { return &SetUnitPropertyChange{} },
	KindSetTerritoryProp:    func() Change { return &SetTerritoryPropertyChange{} },
	KindSetPlayerProperty:   func() Change { return &SetPlayerPropertyChange{} },
	KindSetGameProperty:     func() Change { return &SetGamePropertyChange{} },
	KindAddAvailableTech:    func() Change { return &AddAvailableTechChange{} },
	KindRemoveAvailableTech: func() Change { return &RemoveAvailableTechChange{} },
	KindPlayerWhoAmI:        func() Change { return &PlayerWhoAmIChange{} },
}

// CompositeChange is an ordered bundle; inversion reverses the order.
type CompositeChange struct {
	changes []Change
}

func NewComposite(changes ...Change) *CompositeChange {
	c := &CompositeChange{}
	for _, sub := range changes {
		c.Add(sub)
	}
	return c
}

func (c *CompositeChange) Kind() ChangeKind { return KindComposite }

func (c *CompositeChange) Add(sub Change) {
	if sub == nil {
		return
	}
	// Flatten empty composites away so IsEmpty stays observable.
	if comp, ok := sub.(*CompositeChange); ok && comp.IsEmpty() {
		return
	}
	c.changes = append(c.changes, sub)
}

func (c *CompositeChange) IsEmpty() bool { return len(c.changes) == 0 }

func (c *CompositeChange) Changes() []Change {
	out := make([]Change, len(c.changes))
	copy(out, c.changes)
	return out
}

func (c *CompositeChange) Apply(g *GameData) error {
	for _, sub := range c.changes {
		if err := sub.Apply(g); err != nil {
			return err
		}
	}
	return nil
}

func (c *CompositeChange) Invert() Change {
	inv := &CompositeChange{changes: make([]Change, 0, len(c.changes))}
	for i := len(c.changes) - 1; i >= 0; i-- {
		inv.changes = append(inv.changes, c.changes[i].Invert())
	}
	return inv
}
