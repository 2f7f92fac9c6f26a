// Package delegate defines the pluggable rule-module contract and the
// execution manager that arbitrates rule execution against saves, observer
// joins and shutdown. The engine guarantees only when a delegate runs and
// how its changes are applied and replicated; what the rules mean is the
// delegate's business.
package delegate

import (
	"encoding/json"

	"hexfront.gg/internal/game/data"
	"hexfront.gg/internal/game/random"
	"hexfront.gg/internal/net"
)

// AutoSaveHints are declared by a delegate to request snapshots around its
// step.
type AutoSaveHints struct {
	BeforeStepStart bool
	AfterStepStart  bool
	AfterStepEnd    bool
}

// Delegate is one rule module executed during a step. Start and End run
// inside delegate execution; between them the controlling player acts.
type Delegate interface {
	Name() string
	DisplayName() string

	SetBridge(b Bridge)
	Start()
	End()

	// RequiresUserInput reports whether the step blocks on the player.
	RequiresUserInput() bool

	AutoSave() AutoSaveHints

	// RemoteHandler exposes the delegate's remote interface, or nil if the
	// delegate has none.
	RemoteHandler() net.Handler
}

// PersistentDelegate marks a delegate that runs Start once at game start
// and never participates in the step sequence.
type PersistentDelegate interface {
	Delegate
	Persistent()
}

// HistoryWriter is the facade a delegate narrates through. On the server
// it publishes over the game-modification channel so every node's history
// stays identical.
type HistoryWriter interface {
	StartEvent(text string)
	SetRenderingData(kind string, payload json.RawMessage)
	AddChildToEvent(text, kind string, payload json.RawMessage)
}

// Bridge is handed to a delegate for the duration of one step.
type Bridge interface {
	// Player is the seat controlling the current step; nil for stepless
	// delegates.
	Player() *data.Player
	StepName() string

	Data() *data.GameData
	History() HistoryWriter

	// AddChange routes a mutation through the game-modification channel.
	AddChange(c data.Change) error

	// Random rolls through the committed source, records the roll in the
	// audit stats and attaches a dice record to the current history event.
	Random(max, count int, diceType random.DiceType, annotation string) ([]int, error)
}
