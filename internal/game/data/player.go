package data

import (
	"fmt"
	"sort"
)

// Player is one seat in the game: a stable name, a role label
// ("Human:Local", "AI:Hard", "Human:Client", ...) and the per-player
// technology frontiers.
type Player struct {
	name      string
	whoAmI    string
	frontiers map[string]*TechFrontier
	props     map[string]any
}

func NewPlayer(name string) *Player {
	return &Player{
		name:      name,
		whoAmI:    "null:no_one",
		frontiers: map[string]*TechFrontier{},
		props:     map[string]any{},
	}
}

func (p *Player) Name() string   { return p.name }
func (p *Player) WhoAmI() string { return p.whoAmI }

// Frontier returns the named technology frontier, creating it on first use.
func (p *Player) Frontier(name string) *TechFrontier {
	f, ok := p.frontiers[name]
	if !ok {
		f = &TechFrontier{name: name}
		p.frontiers[name] = f
	}
	return f
}

func (p *Player) FrontierNames() []string {
	names := make([]string, 0, len(p.frontiers))
	for n := range p.frontiers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// PropertyMap exposes the player's named accessors; entries are listed in
// declared order. Writes outside a Change are a programming error.
func (p *Player) PropertyMap() []Property {
	props := []Property{
		{
			Name: "whoAmI",
			Get:  func() any { return p.whoAmI },
			Set: func(v any) error {
				s, ok := v.(string)
				if !ok {
					return fmt.Errorf("whoAmI: want string, got %T", v)
				}
				p.whoAmI = s
				return nil
			},
		},
	}
	return append(props, bagProperties(p.props)...)
}

// TechFrontier is a list of named tech advances available to a player.
// It is a list rather than a set: adding an advance again stacks it, and
// one removal takes one occurrence back off, so tech changes invert
// cleanly.
type TechFrontier struct {
	name     string
	advances []string
}

func (f *TechFrontier) Name() string { return f.name }

func (f *TechFrontier) Contains(tech string) bool {
	for _, t := range f.advances {
		if t == tech {
			return true
		}
	}
	return false
}

func (f *TechFrontier) Advances() []string {
	out := make([]string, len(f.advances))
	copy(out, f.advances)
	return out
}

func (f *TechFrontier) addAdvance(tech string) {
	f.advances = append(f.advances, tech)
}

func (f *TechFrontier) removeAdvance(tech string) {
	for i := len(f.advances) - 1; i >= 0; i-- {
		if f.advances[i] == tech {
			f.advances = append(f.advances[:i], f.advances[i+1:]...)
			return
		}
	}
}
