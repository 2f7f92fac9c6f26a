package framework

import (
	"encoding/json"
	"fmt"
	"log"

	"hexfront.gg/internal/game/data"
	"hexfront.gg/internal/game/history"
	"hexfront.gg/internal/game/random"
	"hexfront.gg/internal/net"
	"hexfront.gg/internal/protocol"
)

// channelApplier is the game-modification channel subscriber every node
// runs. It applies changes to the local aggregate, narrates history and
// tees dice payloads into the stats sink. All invocations arrive on the
// messenger's ordered dispatcher, so every replica sees the same order.
type channelApplier struct {
	log   *log.Logger
	data  *data.GameData
	stats *random.Stats

	// serverNode is the only sender allowed to mutate state. A change from
	// anyone else is an invariant violation.
	serverNode protocol.Node

	lastRound int

	onShutDown func()
}

func newChannelApplier(logger *log.Logger, g *data.GameData, stats *random.Stats, serverNode protocol.Node, onShutDown func()) *channelApplier {
	return &channelApplier{
		log:        logger,
		data:       g,
		stats:      stats,
		serverNode: serverNode,
		lastRound:  g.Sequence().Round(),
		onShutDown: onShutDown,
	}
}

func (a *channelApplier) handler() net.Handler {
	return net.MethodTable{
		MethodGameDataChanged:   a.gameDataChanged,
		MethodStepChanged:       a.stepChanged,
		MethodStartHistoryEvent: a.startHistoryEvent,
		MethodSetRenderingData:  a.setRenderingData,
		MethodAddChildToEvent:   a.addChildToEvent,
		MethodShutDown:          a.shutDown,
	}
}

func (a *channelApplier) assertSender(ctx net.InvocationContext) error {
	if ctx.Sender.Name != a.serverNode.Name {
		return fmt.Errorf("state mutation from %q refused: only %q may publish", ctx.Sender.Name, a.serverNode.Name)
	}
	return nil
}

func (a *channelApplier) gameDataChanged(ctx net.InvocationContext, args []json.RawMessage) (any, error) {
	if err := a.assertSender(ctx); err != nil {
		return nil, err
	}
	raw, err := net.Arg[json.RawMessage](args, 0)
	if err != nil {
		return nil, err
	}
	c, err := data.DecodeChange(raw)
	if err != nil {
		return nil, err
	}
	if err := a.data.PerformChange(c); err != nil {
		return nil, err
	}
	a.data.AcquireWriteLock()
	a.data.History().AddChange(raw)
	a.data.ReleaseWriteLock()
	return nil, nil
}

func (a *channelApplier) stepChanged(ctx net.InvocationContext, args []json.RawMessage) (any, error) {
	if err := a.assertSender(ctx); err != nil {
		return nil, err
	}
	p, err := net.Arg[StepChangedPayload](args, 0)
	if err != nil {
		return nil, err
	}
	a.data.AcquireWriteLock()
	if !p.LoadedFromSave {
		if p.Round > a.lastRound {
			a.data.History().StartNextRound(p.Round)
		}
		a.data.History().StartNextStep(p.StepName, p.DelegateName, p.PlayerName, p.DisplayName)
	}
	a.lastRound = p.Round
	a.data.Sequence().SetState(p.Round, p.StepIndex, p.RunCounts)
	a.data.ReleaseWriteLock()
	return nil, nil
}

func (a *channelApplier) startHistoryEvent(ctx net.InvocationContext, args []json.RawMessage) (any, error) {
	if err := a.assertSender(ctx); err != nil {
		return nil, err
	}
	text, err := net.Arg[string](args, 0)
	if err != nil {
		return nil, err
	}
	a.data.AcquireWriteLock()
	a.data.History().StartEvent(text)
	a.data.ReleaseWriteLock()
	return nil, nil
}

func (a *channelApplier) setRenderingData(ctx net.InvocationContext, args []json.RawMessage) (any, error) {
	if err := a.assertSender(ctx); err != nil {
		return nil, err
	}
	p, err := net.Arg[EventChildPayload](args, 0)
	if err != nil {
		return nil, err
	}
	a.data.AcquireWriteLock()
	a.data.History().SetRenderingData(p.PayloadKind, p.Payload)
	a.data.ReleaseWriteLock()
	a.recordDice(p.PayloadKind, p.Payload)
	return nil, nil
}

func (a *channelApplier) addChildToEvent(ctx net.InvocationContext, args []json.RawMessage) (any, error) {
	if err := a.assertSender(ctx); err != nil {
		return nil, err
	}
	p, err := net.Arg[EventChildPayload](args, 0)
	if err != nil {
		return nil, err
	}
	a.data.AcquireWriteLock()
	a.data.History().AddChildToEvent(p.Text, p.PayloadKind, p.Payload)
	a.data.ReleaseWriteLock()
	a.recordDice(p.PayloadKind, p.Payload)
	return nil, nil
}

func (a *channelApplier) recordDice(kind string, payload json.RawMessage) {
	if kind != history.PayloadDice || a.stats == nil {
		return
	}
	var rec random.DiceRecord
	if err := json.Unmarshal(payload, &rec); err != nil {
		a.log.Printf("bad dice payload: %v", err)
		return
	}
	a.stats.Add(rec)
}

func (a *channelApplier) shutDown(ctx net.InvocationContext, args []json.RawMessage) (any, error) {
	if err := a.assertSender(ctx); err != nil {
		return nil, err
	}
	if a.onShutDown != nil {
		a.onShutDown()
	}
	return nil, nil
}
