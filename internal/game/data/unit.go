package data

// UnitID is the stable arena id assigned on creation. Cross-entity
// references (transportedBy and friends) use ids, never owning pointers.
type UnitID uint64

// Unit has a type, an owner and a dynamic property bag (movement used,
// damage, transported-by back-reference, combat flags, ...). The engine
// stores the bag opaquely; rule content defines the keys.
type Unit struct {
	id       UnitID
	unitType string
	owner    string
	props    map[string]any
}

func (u *Unit) ID() UnitID    { return u.id }
func (u *Unit) Type() string  { return u.unitType }
func (u *Unit) Owner() string { return u.owner }

// Prop reads a bag entry; the second result reports presence.
func (u *Unit) Prop(name string) (any, bool) {
	v, ok := u.props[name]
	return v, ok
}

// PropertyMap exposes the unit's named accessors over the property bag.
func (u *Unit) PropertyMap() []Property {
	props := []Property{
		{
			Name: "owner",
			Get:  func() any { return u.owner },
			Set: func(v any) error {
				s, ok := v.(string)
				if !ok {
					return typeError("owner", "string", v)
				}
				u.owner = s
				return nil
			},
		},
	}
	return append(props, bagProperties(u.props)...)
}
