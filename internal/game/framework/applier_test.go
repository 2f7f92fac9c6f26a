package framework

import (
	"encoding/json"
	"io"
	"log"
	"testing"

	"hexfront.gg/internal/game/data"
	"hexfront.gg/internal/game/history"
	"hexfront.gg/internal/game/random"
	"hexfront.gg/internal/net"
	"hexfront.gg/internal/protocol"
)

func discardLogger() *log.Logger { return log.New(io.Discard, "", 0) }

func applierGame(t *testing.T) *data.GameData {
	t.Helper()
	g := data.New("applier test")
	if err := g.AddPlayer(data.NewPlayer("Reds")); err != nil {
		t.Fatalf("add player: %v", err)
	}
	if err := g.AddTerritory(data.NewTerritory("Redland")); err != nil {
		t.Fatalf("add territory: %v", err)
	}
	g.Sequence().AddStep(&data.GameStep{Name: "redsTech", DelegateName: "tech", PlayerName: "Reds", MaxRunCount: 1})
	g.Sequence().AddStep(&data.GameStep{Name: "redsBattle", DelegateName: "battle", PlayerName: "Reds"})
	return g
}

func mustArgs(t *testing.T, args ...any) []json.RawMessage {
	t.Helper()
	raw, err := net.MarshalArgs(args...)
	if err != nil {
		t.Fatalf("marshal args: %v", err)
	}
	return raw
}

func serverCtx() net.InvocationContext {
	return net.InvocationContext{Sender: protocol.Node{Name: "hub"}}
}

func newTestApplier(t *testing.T, g *data.GameData) (*channelApplier, *random.Stats) {
	t.Helper()
	stats := random.NewStats()
	return newChannelApplier(discardLogger(), g, stats, protocol.Node{Name: "hub"}, nil), stats
}

func TestApplierAppliesChangesAndRecordsHistory(t *testing.T) {
	g := applierGame(t)
	a, _ := newTestApplier(t, g)
	h := a.handler()

	raw, err := data.EncodeChange(data.ChangeOwner(g.TerritoryByName("Redland"), "Reds"))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if _, err := h.Invoke(serverCtx(), MethodGameDataChanged, mustArgs(t, json.RawMessage(raw))); err != nil {
		t.Fatalf("game_data_changed: %v", err)
	}
	if got := g.TerritoryByName("Redland").Owner(); got != "Reds" {
		t.Fatalf("owner = %q", got)
	}

	var changes int
	g.History().Walk(func(n *history.Node) {
		if n.PayloadKind == history.PayloadChange {
			changes++
		}
	})
	if changes != 1 {
		t.Fatalf("history change nodes = %d, want 1", changes)
	}
}

func TestApplierRefusesNonServerSender(t *testing.T) {
	g := applierGame(t)
	a, _ := newTestApplier(t, g)
	h := a.handler()

	raw, _ := data.EncodeChange(data.ChangeOwner(g.TerritoryByName("Redland"), "Reds"))
	ctx := net.InvocationContext{Sender: protocol.Node{Name: "mallory"}}
	if _, err := h.Invoke(ctx, MethodGameDataChanged, mustArgs(t, json.RawMessage(raw))); err == nil {
		t.Fatalf("mutation from a spoke should be refused")
	}
	if g.TerritoryByName("Redland").Owner() != "" {
		t.Fatalf("refused change was applied")
	}
}

func TestApplierStepChangedSyncsSequence(t *testing.T) {
	g := applierGame(t)
	a, _ := newTestApplier(t, g)
	h := a.handler()

	payload := StepChangedPayload{
		StepName:     "redsBattle",
		DelegateName: "battle",
		PlayerName:   "Reds",
		Round:        3,
		StepIndex:    1,
		RunCounts:    []int{1, 0},
	}
	if _, err := h.Invoke(serverCtx(), MethodStepChanged, mustArgs(t, payload)); err != nil {
		t.Fatalf("step_changed: %v", err)
	}

	q := g.Sequence()
	if q.Round() != 3 || q.StepIndex() != 1 {
		t.Fatalf("sequence = round %d step %d, want 3/1", q.Round(), q.StepIndex())
	}
	if counts := q.RunCounts(); counts[0] != 1 {
		t.Fatalf("run counts = %v", counts)
	}

	var rounds, steps int
	g.History().Walk(func(n *history.Node) {
		switch n.Kind {
		case history.KindRound:
			rounds++
		case history.KindStep:
			steps++
		}
	})
	if rounds != 1 || steps != 1 {
		t.Fatalf("history rounds=%d steps=%d, want 1/1", rounds, steps)
	}
}

func TestApplierRestoredStepLeavesHistoryAlone(t *testing.T) {
	g := applierGame(t)
	a, _ := newTestApplier(t, g)
	h := a.handler()

	payload := StepChangedPayload{StepName: "redsTech", Round: 1, StepIndex: 0, RunCounts: []int{0, 0}, LoadedFromSave: true}
	if _, err := h.Invoke(serverCtx(), MethodStepChanged, mustArgs(t, payload)); err != nil {
		t.Fatalf("step_changed: %v", err)
	}
	if len(g.History().Root().Children) != 0 {
		t.Fatalf("restored step should not open history nodes")
	}
	if g.Sequence().Round() != 1 || g.Sequence().StepIndex() != 0 {
		t.Fatalf("sequence not positioned")
	}
}

func TestApplierTeesDiceIntoStats(t *testing.T) {
	g := applierGame(t)
	a, stats := newTestApplier(t, g)
	h := a.handler()

	if _, err := h.Invoke(serverCtx(), MethodStartHistoryEvent, mustArgs(t, "battle at Redland")); err != nil {
		t.Fatalf("start_history_event: %v", err)
	}
	rec := random.DiceRecord{Player: "Reds", Type: random.DiceCombat, Max: 6, Values: []int{1, 5, 5}}
	child := EventChildPayload{Text: "rolled", PayloadKind: history.PayloadDice, Payload: rec.Marshal()}
	if _, err := h.Invoke(serverCtx(), MethodAddChildToEvent, mustArgs(t, child)); err != nil {
		t.Fatalf("add_child_to_event: %v", err)
	}

	tally := stats.Snapshot()["Reds"][random.DiceCombat]
	if tally.Rolls != 3 || tally.Total != 11 {
		t.Fatalf("tally = %+v", tally)
	}

	// Non-dice children must not touch the stats.
	note := EventChildPayload{Text: "plain note"}
	if _, err := h.Invoke(serverCtx(), MethodAddChildToEvent, mustArgs(t, note)); err != nil {
		t.Fatalf("add_child_to_event: %v", err)
	}
	if stats.Snapshot()["Reds"][random.DiceCombat].Rolls != 3 {
		t.Fatalf("plain child changed the tally")
	}
}

func TestApplierShutDownCallback(t *testing.T) {
	g := applierGame(t)
	called := false
	a := newChannelApplier(discardLogger(), g, random.NewStats(), protocol.Node{Name: "hub"}, func() { called = true })
	if _, err := a.handler().Invoke(serverCtx(), MethodShutDown, nil); err != nil {
		t.Fatalf("shut_down: %v", err)
	}
	if !called {
		t.Fatalf("shutdown callback not invoked")
	}
}

func TestPlayerRandomHandlerRoundTrip(t *testing.T) {
	h := NewPlayerRandomHandler(&random.LocalCommitter{})

	res, err := h.Invoke(net.InvocationContext{}, RandomCommitMethod, mustArgs(t, 6, 4, "tech rolls"))
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	commitment := res.(commitReply).Commitment

	res, err = h.Invoke(net.InvocationContext{}, RandomRevealMethod, nil)
	if err != nil {
		t.Fatalf("reveal: %v", err)
	}
	reveal := res.(revealReply)
	if len(reveal.Words) != 4 {
		t.Fatalf("revealed %d words, want 4", len(reveal.Words))
	}

	v := random.NewVault()
	id, err := v.AddCommitment(commitment)
	if err != nil {
		t.Fatalf("add commitment: %v", err)
	}
	if err := v.Verify(id, reveal.Salt, reveal.Words); err != nil {
		t.Fatalf("reveal does not match commitment: %v", err)
	}
}
