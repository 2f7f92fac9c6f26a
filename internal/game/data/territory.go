package data

import (
	"fmt"
	"sort"
)

// Territory is one map region: neighbor relations, an owner, a mutable
// unit collection and opaque named attachments.
type Territory struct {
	name      string
	owner     string
	neighbors map[string]bool
	// unitIDs counts occurrences: placing a resident unit again stacks
	// it, and one removal takes one occurrence back off, so add/remove
	// changes invert cleanly.
	unitIDs     map[UnitID]int
	attachments map[string]any
}

func NewTerritory(name string) *Territory {
	return &Territory{
		name:        name,
		neighbors:   map[string]bool{},
		unitIDs:     map[UnitID]int{},
		attachments: map[string]any{},
	}
}

func (t *Territory) Name() string  { return t.name }
func (t *Territory) Owner() string { return t.owner }

func (t *Territory) AddNeighbor(name string) { t.neighbors[name] = true }

func (t *Territory) IsNeighbor(name string) bool { return t.neighbors[name] }

func (t *Territory) Neighbors() []string {
	out := make([]string, 0, len(t.neighbors))
	for n := range t.neighbors {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

func (t *Territory) HasUnit(id UnitID) bool { return t.unitIDs[id] > 0 }

// UnitIDs returns the resident unit ids in stable (ascending) order; a
// stacked unit appears once per occurrence.
func (t *Territory) UnitIDs() []UnitID {
	out := make([]UnitID, 0, len(t.unitIDs))
	for id, n := range t.unitIDs {
		for i := 0; i < n; i++ {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (t *Territory) addUnit(id UnitID) { t.unitIDs[id]++ }

func (t *Territory) removeUnit(id UnitID) {
	if n := t.unitIDs[id]; n > 1 {
		t.unitIDs[id] = n - 1
	} else {
		delete(t.unitIDs, id)
	}
}

// PropertyMap exposes the territory's named accessors: the owner plus the
// opaque attachment bag.
func (t *Territory) PropertyMap() []Property {
	props := []Property{
		{
			Name: "owner",
			Get:  func() any { return t.owner },
			Set: func(v any) error {
				s, ok := v.(string)
				if !ok {
					return fmt.Errorf("owner: want string, got %T", v)
				}
				t.owner = s
				return nil
			},
		},
	}
	return append(props, bagProperties(t.attachments)...)
}
