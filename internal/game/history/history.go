// Package history holds the append-only game narrative: a tree of rounds,
// steps, events and event children. Event children may carry an opaque
// rendering payload (a dice-roll record, an applied change). Writers append
// only; readers walk the tree for saves and observer bootstrap.
//
// Writes must happen under the game data write lock; the tree itself does
// no locking.
package history

import "encoding/json"

type NodeKind string

const (
	KindRoot       NodeKind = "root"
	KindRound      NodeKind = "round"
	KindStep       NodeKind = "step"
	KindEvent      NodeKind = "event"
	KindEventChild NodeKind = "event_child"
)

// Payload kinds attached to nodes. The tree treats payloads as opaque
// bytes; the kind tag lets loaders pick out what they understand.
const (
	PayloadDice   = "dice"
	PayloadChange = "change"
)

type Node struct {
	Kind  NodeKind `json:"kind"`
	Title string   `json:"title,omitempty"`

	Round int `json:"round,omitempty"`

	StepName     string `json:"step_name,omitempty"`
	DelegateName string `json:"delegate_name,omitempty"`
	PlayerName   string `json:"player_name,omitempty"`
	DisplayName  string `json:"display_name,omitempty"`

	PayloadKind string          `json:"payload_kind,omitempty"`
	Payload     json.RawMessage `json:"payload,omitempty"`

	Children []*Node `json:"children,omitempty"`
}

type History struct {
	root *Node

	curRound *Node
	curStep  *Node
	curEvent *Node
}

func New() *History {
	return &History{root: &Node{Kind: KindRoot, Title: "Game History"}}
}

func (h *History) Root() *Node { return h.root }

// LastNode returns the deepest open node: the current event child target,
// falling back through event, step, round, root.
func (h *History) LastNode() *Node {
	switch {
	case h.curEvent != nil:
		if n := len(h.curEvent.Children); n > 0 {
			return h.curEvent.Children[n-1]
		}
		return h.curEvent
	case h.curStep != nil:
		return h.curStep
	case h.curRound != nil:
		return h.curRound
	default:
		return h.root
	}
}

func (h *History) StartNextRound(round int) {
	n := &Node{Kind: KindRound, Round: round}
	h.root.Children = append(h.root.Children, n)
	h.curRound = n
	h.curStep = nil
	h.curEvent = nil
}

func (h *History) StartNextStep(stepName, delegateName, playerName, displayName string) {
	if h.curRound == nil {
		h.StartNextRound(1)
	}
	n := &Node{
		Kind:         KindStep,
		Title:        displayName,
		StepName:     stepName,
		DelegateName: delegateName,
		PlayerName:   playerName,
		DisplayName:  displayName,
	}
	h.curRound.Children = append(h.curRound.Children, n)
	h.curStep = n
	h.curEvent = nil
}

func (h *History) StartEvent(text string) {
	if h.curStep == nil {
		h.StartNextStep("", "", "", "")
	}
	n := &Node{Kind: KindEvent, Title: text}
	h.curStep.Children = append(h.curStep.Children, n)
	h.curEvent = n
}

// SetRenderingData attaches a payload to the current event.
func (h *History) SetRenderingData(kind string, payload json.RawMessage) {
	if h.curEvent == nil {
		h.StartEvent("")
	}
	h.curEvent.PayloadKind = kind
	h.curEvent.Payload = payload
}

func (h *History) AddChildToEvent(text, kind string, payload json.RawMessage) {
	if h.curEvent == nil {
		h.StartEvent("")
	}
	h.curEvent.Children = append(h.curEvent.Children, &Node{
		Kind:        KindEventChild,
		Title:       text,
		PayloadKind: kind,
		Payload:     payload,
	})
}

// AddChange records an applied change under the current event as a child
// with a change payload.
func (h *History) AddChange(raw json.RawMessage) {
	h.AddChildToEvent("", PayloadChange, raw)
}

// Walk visits every node depth first, root included.
func (h *History) Walk(visit func(*Node)) {
	walk(h.root, visit)
}

func walk(n *Node, visit func(*Node)) {
	visit(n)
	for _, c := range n.Children {
		walk(c, visit)
	}
}

// Export serializes the tree. The writer cursors are rebuilt on Import by
// reopening the last round/step/event, so a loaded game appends in place.
func (h *History) Export() ([]byte, error) {
	return json.Marshal(h.root)
}

func Import(b []byte) (*History, error) {
	root := &Node{}
	if err := json.Unmarshal(b, root); err != nil {
		return nil, err
	}
	h := &History{root: root}
	if n := len(root.Children); n > 0 {
		h.curRound = root.Children[n-1]
		if n := len(h.curRound.Children); n > 0 {
			h.curStep = h.curRound.Children[n-1]
			if n := len(h.curStep.Children); n > 0 {
				h.curEvent = h.curStep.Children[n-1]
			}
		}
	}
	return h, nil
}
