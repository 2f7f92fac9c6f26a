package framework

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"hexfront.gg/internal/game/data"
	"hexfront.gg/internal/game/delegate"
	"hexfront.gg/internal/game/history"
	"hexfront.gg/internal/game/random"
	"hexfront.gg/internal/net"
	"hexfront.gg/internal/persistence/archive"
	"hexfront.gg/internal/persistence/indexdb"
	"hexfront.gg/internal/persistence/save"
	"hexfront.gg/internal/protocol"
)

// PropertyGameHasBeenSaved marks state that has been through a save at
// least once; after a load the first step runs in restored mode.
const PropertyGameHasBeenSaved = "Game Has Been Saved"

const (
	observerLockTimeout = 2 * time.Second
	saveLockTimeout     = 6 * time.Second
	shutdownLockTimeout = 16 * time.Second
)

// Options configures a server game.
type Options struct {
	SaveDir          string
	Headless         bool
	AutosaveEnabled  bool
	ObserverJoinWait time.Duration
	DiceSeed         int64

	// Index is optional; autosaves are recorded into it when set.
	Index *indexdb.SQLiteIndex

	// Mirror is optional; every save file written to disk is also
	// queued for offsite upload when set.
	Mirror SaveMirror
}

// SaveMirror receives the paths of save files as they land on disk.
type SaveMirror interface {
	Enqueue(localPath string)
}

// Observer receives the snapshot shipped to a joining spectator. JoinGame
// blocks until the observer finished bootstrapping its replica.
type Observer interface {
	NodeName() string
	JoinGame(saveBytes []byte, playerNodes map[string]string) error
	CannotJoin(reason string)
}

// ServerGame owns the authoritative aggregate and drives the step loop.
// Every mutation it makes goes out over the game-modification channel and
// is applied by the same subscriber code on every node, itself included.
type ServerGame struct {
	log       *log.Logger
	data      *data.GameData
	messenger *net.ServerMessenger
	em        *delegate.ExecutionManager

	delegates    map[string]delegate.Delegate
	localPlayers map[string]GamePlayer

	stats *random.Stats
	vault *random.Vault

	opts Options
	exit func(int)

	applier  *channelApplier
	subToken int

	mu          sync.Mutex
	playerNodes map[string]string
	seqStopped  bool
	stopLatch   chan struct{}
	seqRunning  bool
	stopped     bool

	needToInit bool
}

func NewServerGame(logger *log.Logger, g *data.GameData, messenger *net.ServerMessenger, delegates []delegate.Delegate, localPlayers map[string]GamePlayer, opts Options) (*ServerGame, error) {
	if opts.ObserverJoinWait <= 0 {
		opts.ObserverJoinWait = 180 * time.Second
	}
	sg := &ServerGame{
		log:          logger,
		data:         g,
		messenger:    messenger,
		em:           delegate.NewExecutionManager(),
		delegates:    map[string]delegate.Delegate{},
		localPlayers: localPlayers,
		stats:        random.NewStats(),
		vault:        random.NewVault(),
		opts:         opts,
		exit:         os.Exit,
		playerNodes:  map[string]string{},
		stopLatch:    make(chan struct{}),
		needToInit:   true,
	}
	close(sg.stopLatch) // open until StopGameSequence

	for _, d := range delegates {
		if _, dup := sg.delegates[d.Name()]; dup {
			return nil, fmt.Errorf("duplicate delegate: %s", d.Name())
		}
		sg.delegates[d.Name()] = d
	}

	sg.applier = newChannelApplier(logger, g, sg.stats, messenger.Node(), nil)
	sg.subToken = messenger.RegisterChannelSubscriber(protocol.GameModificationChannel, sg.applier.handler())

	if err := messenger.RegisterRemote(protocol.ServerRemote, sg.serverRemote()); err != nil {
		return nil, err
	}
	for name, d := range sg.delegates {
		if h := d.RemoteHandler(); h != nil {
			if err := messenger.RegisterRemote(protocol.DelegateRemoteName(name), sg.em.NewInboundHandler(h)); err != nil {
				return nil, err
			}
		}
	}

	messenger.OnNodeLost(func(node protocol.Node) {
		sg.dropNode(node.Name)
	})

	importDiceStats(g, sg.stats)
	return sg, nil
}

func (sg *ServerGame) Data() *data.GameData { return sg.data }
func (sg *ServerGame) Stats() *random.Stats { return sg.stats }
func (sg *ServerGame) Vault() *random.Vault { return sg.vault }

func (sg *ServerGame) ExecutionManager() *delegate.ExecutionManager { return sg.em }

// importDiceStats rebuilds the audit stats from the history tree, so a
// loaded game reports the same totals it had live.
func importDiceStats(g *data.GameData, stats *random.Stats) {
	g.AcquireReadLock()
	defer g.ReleaseReadLock()
	g.History().Walk(func(n *history.Node) {
		if n.PayloadKind != history.PayloadDice || len(n.Payload) == 0 {
			return
		}
		var rec random.DiceRecord
		if err := json.Unmarshal(n.Payload, &rec); err != nil {
			return
		}
		stats.Add(rec)
	})
}

// SetPlayerNode binds a remote player to the spoke hosting it.
func (sg *ServerGame) SetPlayerNode(playerName, nodeName string) {
	sg.mu.Lock()
	sg.playerNodes[playerName] = nodeName
	sg.mu.Unlock()
}

func (sg *ServerGame) playerNode(playerName string) string {
	sg.mu.Lock()
	defer sg.mu.Unlock()
	return sg.playerNodes[playerName]
}

func (sg *ServerGame) playerNodesCopy() map[string]string {
	sg.mu.Lock()
	defer sg.mu.Unlock()
	out := make(map[string]string, len(sg.playerNodes))
	for k, v := range sg.playerNodes {
		out[k] = v
	}
	return out
}

func (sg *ServerGame) dropNode(nodeName string) {
	sg.mu.Lock()
	for player, node := range sg.playerNodes {
		if node == nodeName {
			delete(sg.playerNodes, player)
			sg.log.Printf("remote player %s lost with node %s", player, nodeName)
		}
	}
	sg.mu.Unlock()
}

// serverRemote hosts SERVER_REMOTE: save retrieval and player
// registration.
func (sg *ServerGame) serverRemote() net.Handler {
	return net.MethodTable{
		"get_save_game": func(ctx net.InvocationContext, args []json.RawMessage) (any, error) {
			var buf bytes.Buffer
			if err := sg.SaveGame(&buf); err != nil {
				return nil, err
			}
			return buf.Bytes(), nil
		},
		"register_player": func(ctx net.InvocationContext, args []json.RawMessage) (any, error) {
			playerName, err := net.Arg[string](args, 0)
			if err != nil {
				return nil, err
			}
			if sg.data.PlayerByName(playerName) == nil {
				return nil, &net.RemoteError{Code: protocol.ErrBadRequest, Message: "no such player: " + playerName}
			}
			sg.SetPlayerNode(playerName, ctx.Sender.Name)
			sg.log.Printf("player %s registered to node %s", playerName, ctx.Sender.Name)
			return nil, nil
		},
	}
}

// addChange publishes a change on the modification channel. The hub's
// publish applies it locally before returning, so the caller observes the
// mutation immediately.
func (sg *ServerGame) addChange(c data.Change) error {
	if comp, ok := c.(*data.CompositeChange); ok && comp.IsEmpty() {
		return nil
	}
	raw, err := data.EncodeChange(c)
	if err != nil {
		return err
	}
	return sg.messenger.Publish(protocol.GameModificationChannel, MethodGameDataChanged, json.RawMessage(raw))
}

// StartGame runs the step loop until the game is over. It returns the
// error that stopped the loop, nil on a clean stop.
func (sg *ServerGame) StartGame() error {
	sg.mu.Lock()
	sg.seqRunning = true
	sg.mu.Unlock()
	defer func() {
		sg.mu.Lock()
		sg.seqRunning = false
		sg.mu.Unlock()
	}()

	if err := sg.startPersistentDelegates(); err != nil {
		return err
	}

	if sg.data.Properties().GetBool(PropertyGameHasBeenSaved, false) {
		// Loaded state: re-run the current step without emitting a fresh
		// history step change.
		if err := sg.runStep(true); err != nil {
			return err
		}
	} else {
		if err := sg.addChange(data.SetGameProperty(sg.data, PropertyGameHasBeenSaved, true)); err != nil {
			return err
		}
	}

	for !sg.em.IsGameOver() {
		if latch := sg.latchIfStopped(); latch != nil {
			<-latch
			continue
		}
		if err := sg.runStep(false); err != nil {
			return err
		}
	}
	sg.archiveFinishedGame()
	return nil
}

// archiveFinishedGame keeps the final state of a game that ran to its
// end. A game torn down by StopGame is not finished and is skipped.
func (sg *ServerGame) archiveFinishedGame() {
	if !sg.opts.AutosaveEnabled || sg.opts.SaveDir == "" {
		return
	}
	sg.mu.Lock()
	externalStop := sg.stopped
	sg.mu.Unlock()
	if externalStop {
		return
	}

	var buf bytes.Buffer
	if err := sg.SaveGame(&buf); err != nil {
		sg.log.Printf("archive final save: %v", err)
		return
	}
	dir, err := archive.WriteFinished(sg.opts.SaveDir, buf.Bytes(), archive.Meta{
		Scenario: sg.data.ScenarioName(),
		Round:    sg.data.Sequence().Round(),
		Digest:   sg.data.Digest(),
	})
	if err != nil {
		sg.log.Printf("archive final save: %v", err)
		return
	}
	sg.log.Printf("archived finished game to %s", dir)
	if sg.opts.Mirror != nil {
		sg.opts.Mirror.Enqueue(filepath.Join(dir, "final.sav"))
		sg.opts.Mirror.Enqueue(filepath.Join(dir, "meta.json"))
	}
}

func (sg *ServerGame) startPersistentDelegates() error {
	for _, d := range sg.delegates {
		pd, ok := d.(delegate.PersistentDelegate)
		if !ok {
			continue
		}
		d.SetBridge(&stepBridge{
			game:     sg,
			stepName: d.Name(),
			writer:   &historyWriter{pub: sg.messenger},
			source:   sg.sourceForPlayer(""),
		})
		sg.em.EnterDelegateExecution()
		pd.Start()
		sg.em.LeaveDelegateExecution()
	}
	return nil
}

func (sg *ServerGame) latchIfStopped() chan struct{} {
	sg.mu.Lock()
	defer sg.mu.Unlock()
	if !sg.seqStopped {
		return nil
	}
	return sg.stopLatch
}

// StopGameSequence pauses the loop before the next step without ending
// the game.
func (sg *ServerGame) StopGameSequence() {
	sg.mu.Lock()
	if !sg.seqStopped {
		sg.seqStopped = true
		sg.stopLatch = make(chan struct{})
	}
	sg.mu.Unlock()
}

func (sg *ServerGame) ResumeGameSequence() {
	sg.mu.Lock()
	if sg.seqStopped {
		sg.seqStopped = false
		close(sg.stopLatch)
	}
	sg.mu.Unlock()
}

func (sg *ServerGame) IsGameSequenceRunning() bool {
	sg.mu.Lock()
	defer sg.mu.Unlock()
	return sg.seqRunning && !sg.seqStopped && !sg.em.IsGameOver()
}

func (sg *ServerGame) runStep(restored bool) error {
	q := sg.data.Sequence()
	step := q.Step()
	if step == nil {
		sg.em.SetGameOver()
		return fmt.Errorf("empty step sequence")
	}
	if step.HasReachedMaxRunCount() {
		sg.advanceSequence()
		return nil
	}
	if sg.em.IsGameOver() {
		return nil
	}
	del, ok := sg.delegates[step.DelegateName]
	if !ok {
		return fmt.Errorf("step %s names unknown delegate %s", step.Name, step.DelegateName)
	}
	hints := del.AutoSave()

	// A restored step re-runs from its save; rewriting the start slots
	// would clobber the state that made the reload possible.
	if hints.BeforeStepStart && !restored {
		sg.autoSave(save.SlotBeforeStep(del.Name()))
	}

	if err := sg.startStep(step, del, restored); err != nil {
		return err
	}
	if hints.AfterStepStart && !restored {
		sg.autoSave(save.SlotAfterStep(step.Name, sg.opts.Headless))
	}
	if sg.em.IsGameOver() {
		return nil
	}

	if err := sg.waitForPlayer(step, del); err != nil {
		return err
	}
	if sg.em.IsGameOver() {
		return nil
	}

	isMoveStep := strings.HasSuffix(step.Name, "Move")
	if hints.AfterStepEnd && isMoveStep {
		sg.autoSave(save.SlotAfterStep(step.Name, sg.opts.Headless))
	}

	sg.endStep(step, del)
	if sg.em.IsGameOver() {
		return nil
	}

	if sg.advanceSequence() {
		sg.autoSave(save.SlotRound(q.Round()))
	}
	if hints.AfterStepEnd && !isMoveStep {
		sg.autoSave(save.SlotAfterStep(step.Name, sg.opts.Headless))
	}
	return nil
}

// advanceSequence moves the cursor under the data write lock so a
// concurrent save never captures a torn position.
func (sg *ServerGame) advanceSequence() bool {
	sg.data.AcquireWriteLock()
	defer sg.data.ReleaseWriteLock()
	return sg.data.Sequence().Next()
}

func (sg *ServerGame) startStep(step *data.GameStep, del delegate.Delegate, restored bool) error {
	q := sg.data.Sequence()
	payload := StepChangedPayload{
		StepName:       step.Name,
		DelegateName:   step.DelegateName,
		PlayerName:     step.PlayerName,
		DisplayName:    step.DisplayName,
		Round:          q.Round(),
		StepIndex:      q.StepIndex(),
		RunCounts:      q.RunCounts(),
		LoadedFromSave: restored,
	}
	if err := sg.messenger.Publish(protocol.GameModificationChannel, MethodStepChanged, payload); err != nil {
		return err
	}

	var player *data.Player
	if step.PlayerName != "" {
		player = sg.data.PlayerByName(step.PlayerName)
	}
	del.SetBridge(&stepBridge{
		game:     sg,
		player:   player,
		stepName: step.Name,
		writer:   &historyWriter{pub: sg.messenger},
		source:   sg.sourceForPlayer(step.PlayerName),
	})

	if sg.needToInit && step.PlayerName != "" {
		if err := sg.initPlayerTypes(); err != nil {
			return err
		}
		sg.needToInit = false
	}

	sg.em.EnterDelegateExecution()
	del.Start()
	sg.em.LeaveDelegateExecution()
	return nil
}

// initPlayerTypes records who controls each seat as a single composite
// change, so every replica learns the full assignment atomically.
func (sg *ServerGame) initPlayerTypes() error {
	w := &historyWriter{pub: sg.messenger}
	w.StartEvent("Game started")

	comp := data.NewComposite()
	for _, p := range sg.data.Players() {
		label := "Human:Client"
		if lp, ok := sg.localPlayers[p.Name()]; ok {
			label = lp.PlayerType()
		} else if remote := sg.remotePlayerType(p.Name()); remote != "" {
			label = remote
		}
		comp.Add(data.ChangePlayerWhoAmI(p, label))
		w.AddChildToEvent(fmt.Sprintf("%s %s now being played by: %s", p.Name(), playedByVerb(p.Name()), label), "", nil)
	}
	return sg.addChange(comp)
}

// remotePlayerType asks the spoke hosting a seat for its role label.
// An unregistered seat or a failed call yields "" and the caller keeps
// its default.
func (sg *ServerGame) remotePlayerType(playerName string) string {
	node := sg.playerNode(playerName)
	if node == "" {
		return ""
	}
	raw, err := sg.messenger.Invoke(node, protocol.PlayerRemoteName(playerName), PlayerTypeMethod, true)
	if err != nil {
		sg.log.Printf("player type lookup for %s on %s failed: %v", playerName, node, err)
		return ""
	}
	var label string
	if err := json.Unmarshal(raw, &label); err != nil {
		return ""
	}
	return label
}

// playedByVerb picks the verb for the "now being played by" narration;
// names shaped like plural nations read better with "are".
func playedByVerb(name string) string {
	for _, suffix := range []string{"ese", "ish", "s"} {
		if strings.HasSuffix(name, suffix) {
			return "are"
		}
	}
	return "is"
}

// sourceForPlayer picks the dice source for a step. A step owned by a
// remote player rolls commit-reveal against that player's node; everything
// else uses the plain seeded source.
func (sg *ServerGame) sourceForPlayer(playerName string) random.Source {
	node := ""
	if playerName != "" {
		node = sg.playerNode(playerName)
	}
	if node == "" {
		seed := sg.opts.DiceSeed
		if seed == 0 {
			seed = time.Now().UnixNano()
		}
		return sg.em.NewOutboundSource(random.NewPlainSource(seed))
	}
	committed := random.NewCommittedSource(sg.vault, func() []random.Committer {
		return []random.Committer{
			&random.LocalCommitter{},
			&remoteCommitter{messenger: sg.messenger, nodeName: node, playerName: playerName},
		}
	})
	return sg.em.NewOutboundSource(committed)
}

func (sg *ServerGame) waitForPlayer(step *data.GameStep, del delegate.Delegate) error {
	if step.PlayerName == "" || !del.RequiresUserInput() {
		return nil
	}
	if lp, ok := sg.localPlayers[step.PlayerName]; ok {
		return lp.Start(step.Name)
	}
	node := sg.playerNode(step.PlayerName)
	if node == "" {
		return fmt.Errorf("no node registered for player %s", step.PlayerName)
	}
	_, err := sg.messenger.Invoke(node, protocol.StepAdvancerRemoteName(node), StepAdvancerMethod, true, step.Name, step.PlayerName)
	if err != nil {
		// A dropped spoke ends the player's turn, not the game.
		sg.log.Printf("remote player %s step %s: %v", step.PlayerName, step.Name, err)
	}
	return nil
}

func (sg *ServerGame) endStep(step *data.GameStep, del delegate.Delegate) {
	sg.em.EnterDelegateExecution()
	del.End()
	sg.em.LeaveDelegateExecution()
	sg.data.AcquireWriteLock()
	step.IncrementRunCount()
	sg.data.ReleaseWriteLock()
}

// StopGame ends the game: idempotent, releases a paused loop, notifies
// local players and tears the registrations down once the delegate
// execution lock is held. If the lock cannot be taken in two attempts the
// process cannot reach a safe quiescent point and exits with failure.
func (sg *ServerGame) StopGame() {
	sg.mu.Lock()
	if sg.stopped {
		sg.mu.Unlock()
		return
	}
	sg.stopped = true
	sg.mu.Unlock()

	sg.em.SetGameOver()
	sg.ResumeGameSequence()

	for _, lp := range sg.localPlayers {
		lp.Stop()
	}

	if err := sg.messenger.Publish(protocol.GameModificationChannel, MethodShutDown); err != nil {
		sg.log.Printf("shut_down publish: %v", err)
	}

	if !sg.em.BlockDelegateExecution(shutdownLockTimeout) {
		if !sg.em.BlockDelegateExecution(shutdownLockTimeout) {
			sg.log.Printf("could not halt delegate execution; terminating")
			sg.exit(1)
			return
		}
	}
	defer sg.em.ResumeDelegateExecution()

	sg.messenger.UnregisterChannelSubscriber(protocol.GameModificationChannel, sg.subToken)
	sg.messenger.UnregisterRemote(protocol.ServerRemote)
	for name, d := range sg.delegates {
		if d.RemoteHandler() != nil {
			sg.messenger.UnregisterRemote(protocol.DelegateRemoteName(name))
		}
	}
	sg.vault.ShutDown()
	sg.stats.ShutDown()
}

// SaveGame writes the full state to w under the delegate execution lock,
// trying the lock twice before giving up.
func (sg *ServerGame) SaveGame(w io.Writer) error {
	if !sg.em.BlockDelegateExecution(saveLockTimeout) {
		if !sg.em.BlockDelegateExecution(saveLockTimeout) {
			return fmt.Errorf("save aborted: could not halt delegate execution")
		}
	}
	game, err := save.Capture(sg.data)
	sg.em.ResumeDelegateExecution()
	if err != nil {
		return err
	}
	return save.Write(w, game)
}

// autoSave writes one autosave slot. Failures are logged, never fatal to
// the step.
func (sg *ServerGame) autoSave(slot string) {
	if !sg.opts.AutosaveEnabled || sg.opts.SaveDir == "" {
		return
	}
	path := filepath.Join(sg.opts.SaveDir, slot)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		sg.log.Printf("autosave %s: %v", slot, err)
		return
	}
	f, err := os.CreateTemp(filepath.Dir(path), ".autosave-*")
	if err != nil {
		sg.log.Printf("autosave %s: %v", slot, err)
		return
	}
	tmp := f.Name()
	if err := sg.SaveGame(f); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		sg.log.Printf("autosave %s: %v", slot, err)
		return
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		sg.log.Printf("autosave %s: %v", slot, err)
		return
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		sg.log.Printf("autosave %s: %v", slot, err)
		return
	}
	sg.log.Printf("autosaved %s", slot)

	if sg.opts.Mirror != nil {
		sg.opts.Mirror.Enqueue(path)
	}
	if sg.opts.Index != nil {
		q := sg.data.Sequence()
		stepName := ""
		if s := q.Step(); s != nil {
			stepName = s.Name
		}
		sg.opts.Index.RecordSave(slot, path, sg.data.ScenarioName(), q.Round(), stepName, sg.data.Digest())
	}
}

// AddObserver ships a snapshot to a joining spectator under the delegate
// execution lock. The lock is held only briefly to capture; the shipping
// itself is bounded by the configured join wait.
func (sg *ServerGame) AddObserver(obs Observer) {
	if !sg.em.BlockDelegateExecution(observerLockTimeout) {
		obs.CannotJoin("could not lock delegate execution")
		return
	}
	game, err := save.Capture(sg.data)
	if err != nil {
		sg.em.ResumeDelegateExecution()
		obs.CannotJoin("could not capture game state")
		return
	}
	defer sg.em.ResumeDelegateExecution()

	var buf bytes.Buffer
	if err := save.Write(&buf, game); err != nil {
		obs.CannotJoin("could not serialize game state")
		return
	}

	done := make(chan error, 1)
	go func() {
		done <- obs.JoinGame(buf.Bytes(), sg.playerNodesCopy())
	}()
	select {
	case err := <-done:
		if err != nil {
			sg.log.Printf("observer %s failed to join: %v", obs.NodeName(), err)
		}
	case <-time.After(sg.opts.ObserverJoinWait):
		obs.CannotJoin("Taking too long to join.")
	}
}
