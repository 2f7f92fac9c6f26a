package framework

import (
	"encoding/json"
	"fmt"

	"hexfront.gg/internal/game/data"
	"hexfront.gg/internal/game/delegate"
	"hexfront.gg/internal/game/history"
	"hexfront.gg/internal/game/random"
	"hexfront.gg/internal/protocol"
)

// channelPublisher is the slice of the messenger the framework publishes
// through; both hub and spoke messengers satisfy it.
type channelPublisher interface {
	Publish(channel, method string, args ...any) error
}

// historyWriter publishes narration over the modification channel so every
// replica's history tree stays identical.
type historyWriter struct {
	pub channelPublisher
}

func (w *historyWriter) StartEvent(text string) {
	_ = w.pub.Publish(protocol.GameModificationChannel, MethodStartHistoryEvent, text)
}

func (w *historyWriter) SetRenderingData(kind string, payload json.RawMessage) {
	_ = w.pub.Publish(protocol.GameModificationChannel, MethodSetRenderingData, EventChildPayload{PayloadKind: kind, Payload: payload})
}

func (w *historyWriter) AddChildToEvent(text, kind string, payload json.RawMessage) {
	_ = w.pub.Publish(protocol.GameModificationChannel, MethodAddChildToEvent, EventChildPayload{Text: text, PayloadKind: kind, Payload: payload})
}

// stepBridge is the delegate.Bridge for one step on the server.
type stepBridge struct {
	game     *ServerGame
	player   *data.Player
	stepName string
	writer   delegate.HistoryWriter
	source   random.Source
}

func (b *stepBridge) Player() *data.Player            { return b.player }
func (b *stepBridge) StepName() string                { return b.stepName }
func (b *stepBridge) Data() *data.GameData            { return b.game.data }
func (b *stepBridge) History() delegate.HistoryWriter { return b.writer }

func (b *stepBridge) AddChange(c data.Change) error {
	return b.game.addChange(c)
}

// Random rolls through the step's source and attaches the dice record to
// the current history event. Stats pick the record up from the channel, so
// live play, replicas and reloads all count it exactly once.
func (b *stepBridge) Random(max, count int, diceType random.DiceType, annotation string) ([]int, error) {
	values, err := b.source.Random(max, count, annotation)
	if err != nil {
		return nil, fmt.Errorf("roll %s: %w", annotation, err)
	}
	playerName := ""
	if b.player != nil {
		playerName = b.player.Name()
	}
	rec := random.DiceRecord{
		Player:     playerName,
		Type:       diceType,
		Max:        max,
		Values:     values,
		Annotation: annotation,
	}
	b.writer.AddChildToEvent(annotation, history.PayloadDice, rec.Marshal())
	return values, nil
}
