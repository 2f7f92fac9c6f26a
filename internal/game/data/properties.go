package data

import (
	"fmt"
	"sort"
)

// Property is one named accessor pair in an entity's property map.
// Named-property dispatch replaces field access: a Change resolves the
// property by name and goes through Set, never through a raw field write.
type Property struct {
	Name string
	Get  func() any
	Set  func(any) error
}

func typeError(name, want string, got any) error {
	return fmt.Errorf("%s: want %s, got %T", name, want, got)
}

// bagProperties builds accessors over a dynamic bag. Entries are listed in
// sorted name order so serialization is stable. Setting a nil value deletes
// the entry.
func bagProperties(bag map[string]any) []Property {
	names := make([]string, 0, len(bag))
	for n := range bag {
		names = append(names, n)
	}
	sort.Strings(names)
	out := make([]Property, 0, len(names))
	for _, n := range names {
		name := n
		out = append(out, Property{
			Name: name,
			Get:  func() any { return bag[name] },
			Set: func(v any) error {
				if v == nil {
					delete(bag, name)
					return nil
				}
				bag[name] = v
				return nil
			},
		})
	}
	return out
}

// findProperty resolves a named accessor; bag entries that do not exist yet
// still get a setter so a Change can introduce them.
func findProperty(props []Property, bag map[string]any, name string) (Property, error) {
	for _, p := range props {
		if p.Name == name {
			return p, nil
		}
	}
	if bag != nil {
		return Property{
			Name: name,
			Get:  func() any { return bag[name] },
			Set: func(v any) error {
				if v == nil {
					delete(bag, name)
					return nil
				}
				bag[name] = v
				return nil
			},
		}, nil
	}
	return Property{}, fmt.Errorf("no such property: %s", name)
}

// Properties is the game-level string->value map (e.g. the game-saved
// marker). Reads are typed; writes go through a SetGameProperty change.
type Properties struct {
	values map[string]any
}

func newProperties() *Properties {
	return &Properties{values: map[string]any{}}
}

func (p *Properties) Get(name string) (any, bool) {
	v, ok := p.values[name]
	return v, ok
}

func (p *Properties) GetBool(name string, def bool) bool {
	if v, ok := p.values[name]; ok {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return def
}

func (p *Properties) GetString(name, def string) string {
	if v, ok := p.values[name]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return def
}

func (p *Properties) set(name string, value any) {
	if value == nil {
		delete(p.values, name)
		return
	}
	p.values[name] = value
}

func (p *Properties) Names() []string {
	names := make([]string, 0, len(p.values))
	for n := range p.values {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
