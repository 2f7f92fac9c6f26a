package framework

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"sync/atomic"

	"hexfront.gg/internal/game/data"
	"hexfront.gg/internal/game/random"
	"hexfront.gg/internal/net"
	"hexfront.gg/internal/persistence/save"
	"hexfront.gg/internal/protocol"
)

// ClientGame keeps a spoke's replica in lockstep with the hub. It applies
// channel traffic through the same subscriber code the server runs, hosts
// the step advancer the hub calls for its players' turns, and contributes
// to committed rolls via the per-player random remotes.
type ClientGame struct {
	log       *log.Logger
	data      *data.GameData
	messenger *net.ClientMessenger

	stats        *random.Stats
	localPlayers map[string]GamePlayer

	applier  *channelApplier
	subToken int

	gameOver atomic.Bool
}

func NewClientGame(logger *log.Logger, g *data.GameData, messenger *net.ClientMessenger, localPlayers map[string]GamePlayer) (*ClientGame, error) {
	cg := &ClientGame{
		log:          logger,
		data:         g,
		messenger:    messenger,
		stats:        random.NewStats(),
		localPlayers: localPlayers,
	}

	cg.applier = newChannelApplier(logger, g, cg.stats, messenger.HubNode(), func() {
		cg.gameOver.Store(true)
		for _, lp := range cg.localPlayers {
			lp.Stop()
		}
	})
	cg.subToken = messenger.RegisterChannelSubscriber(protocol.GameModificationChannel, cg.applier.handler())

	advancer := protocol.StepAdvancerRemoteName(messenger.Node().Name)
	if err := messenger.RegisterRemote(advancer, cg.stepAdvancer()); err != nil {
		return nil, err
	}

	for name, lp := range localPlayers {
		h := NewPlayerRandomHandler(&random.LocalCommitter{})
		if err := messenger.RegisterRemote(protocol.PlayerRandomRemoteName(name), h); err != nil {
			return nil, err
		}
		if err := messenger.RegisterRemote(protocol.PlayerRemoteName(name), cg.playerRemote(lp)); err != nil {
			return nil, err
		}
	}

	importDiceStats(g, cg.stats)
	return cg, nil
}

func (cg *ClientGame) Data() *data.GameData { return cg.data }
func (cg *ClientGame) Stats() *random.Stats { return cg.stats }
func (cg *ClientGame) IsGameOver() bool     { return cg.gameOver.Load() }

// RegisterPlayers tells the hub which seats this node controls. Call once
// after construction.
func (cg *ClientGame) RegisterPlayers() error {
	for name := range cg.localPlayers {
		if _, err := cg.messenger.InvokeHub(protocol.ServerRemote, "register_player", true, name); err != nil {
			return fmt.Errorf("register %s: %w", name, err)
		}
	}
	return nil
}

// stepAdvancer is the remote the hub calls to run this node's players.
// The call blocks until the player finishes the step, which is exactly the
// hub's suspension point.
func (cg *ClientGame) stepAdvancer() net.Handler {
	return net.MethodTable{
		StepAdvancerMethod: func(ctx net.InvocationContext, args []json.RawMessage) (any, error) {
			stepName, err := net.Arg[string](args, 0)
			if err != nil {
				return nil, err
			}
			playerName, err := net.Arg[string](args, 1)
			if err != nil {
				return nil, err
			}
			lp, ok := cg.localPlayers[playerName]
			if !ok {
				return nil, &net.RemoteError{Code: protocol.ErrBadRequest, Message: "player not hosted here: " + playerName}
			}
			if cg.gameOver.Load() {
				return nil, &net.RemoteError{Code: protocol.ErrGameOver, Message: "game over"}
			}
			return nil, lp.Start(stepName)
		},
	}
}

// playerRemote is the per-seat remote the hub queries about a hosted
// player, starting with its role label.
func (cg *ClientGame) playerRemote(lp GamePlayer) net.Handler {
	return net.MethodTable{
		PlayerTypeMethod: func(ctx net.InvocationContext, args []json.RawMessage) (any, error) {
			return lp.PlayerType(), nil
		},
	}
}

// RequestSave pulls a full save blob from the hub.
func (cg *ClientGame) RequestSave() ([]byte, error) {
	raw, err := cg.messenger.InvokeHub(protocol.ServerRemote, "get_save_game", true)
	if err != nil {
		return nil, err
	}
	var blob []byte
	if err := json.Unmarshal(raw, &blob); err != nil {
		return nil, err
	}
	return blob, nil
}

// Shutdown removes the replica's registrations; the connection itself
// belongs to the caller.
func (cg *ClientGame) Shutdown() {
	cg.messenger.UnregisterChannelSubscriber(protocol.GameModificationChannel, cg.subToken)
	cg.messenger.UnregisterRemote(protocol.StepAdvancerRemoteName(cg.messenger.Node().Name))
	for name := range cg.localPlayers {
		cg.messenger.UnregisterRemote(protocol.PlayerRandomRemoteName(name))
		cg.messenger.UnregisterRemote(protocol.PlayerRemoteName(name))
	}
	cg.stats.ShutDown()
}

// RestoreGame rehydrates an aggregate from save-blob bytes, as shipped to
// observers and save-from-client callers.
func RestoreGame(b []byte) (*data.GameData, error) {
	game, _, err := save.Read(bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	return save.Restore(game)
}
