// Package framework hosts the replicated game loop: the authoritative
// server game, the client replica, and the bridge handed to delegates.
// Rule meaning lives in delegates; the framework guarantees when they run
// and how their changes replicate.
package framework

import "encoding/json"

// GamePlayer is one locally hosted seat: a human UI or an AI. Start blocks
// until the player finishes acting in the named step.
type GamePlayer interface {
	Name() string

	// PlayerType is the role label recorded into the who-am-i property
	// ("Human", "AI", ...).
	PlayerType() string

	Start(stepName string) error

	// Stop tells the player the game ended; any blocked Start should
	// return.
	Stop()
}

// Methods published on the game-modification channel. The server is the
// only legal publisher; every node's applier runs the same methods in the
// same order, which is what keeps replicas byte-identical.
const (
	MethodGameDataChanged   = "game_data_changed"
	MethodStepChanged       = "step_changed"
	MethodStartHistoryEvent = "start_history_event"
	MethodSetRenderingData  = "set_rendering_data"
	MethodAddChildToEvent   = "add_child_to_event"
	MethodShutDown          = "shut_down"
)

// StepChangedPayload announces a step start to every replica, carrying the
// authoritative sequence position so run counts never drift.
type StepChangedPayload struct {
	StepName     string `json:"step_name"`
	DelegateName string `json:"delegate_name"`
	PlayerName   string `json:"player_name,omitempty"`
	DisplayName  string `json:"display_name,omitempty"`

	Round     int   `json:"round"`
	StepIndex int   `json:"step_index"`
	RunCounts []int `json:"run_counts"`

	LoadedFromSave bool `json:"loaded_from_save,omitempty"`
}

// EventChildPayload is the add_child_to_event argument bundle.
type EventChildPayload struct {
	Text        string          `json:"text,omitempty"`
	PayloadKind string          `json:"payload_kind,omitempty"`
	Payload     json.RawMessage `json:"payload,omitempty"`
}

// StepAdvancerMethod is the single method on a spoke's step-advancer
// remote; the hub calls it to run a remote player's turn.
const StepAdvancerMethod = "start_player_step"

// PlayerTypeMethod is published on each locally hosted seat's player
// remote; the hub calls it to learn the seat's role label.
const PlayerTypeMethod = "get_player_type"

// Per-player random remote methods (commit-reveal participant).
const (
	RandomCommitMethod = "commit_random"
	RandomRevealMethod = "reveal_random"
)
