package framework

import (
	"encoding/json"

	"hexfront.gg/internal/game/random"
	"hexfront.gg/internal/net"
	"hexfront.gg/internal/protocol"
)

// remoteCommitter is the hub-side proxy for one remote player's
// contribution to a committed roll. Both calls block on the spoke.
type remoteCommitter struct {
	messenger  *net.ServerMessenger
	nodeName   string
	playerName string
}

type commitReply struct {
	Commitment []byte `json:"commitment"`
}

type revealReply struct {
	Salt  []byte   `json:"salt"`
	Words []uint32 `json:"words"`
}

func (r *remoteCommitter) CommitRandom(max, count int, annotation string) ([]byte, error) {
	raw, err := r.messenger.Invoke(r.nodeName, protocol.PlayerRandomRemoteName(r.playerName), RandomCommitMethod, true, max, count, annotation)
	if err != nil {
		return nil, err
	}
	var reply commitReply
	if err := json.Unmarshal(raw, &reply); err != nil {
		return nil, err
	}
	return reply.Commitment, nil
}

func (r *remoteCommitter) RevealRandom() ([]byte, []uint32, error) {
	raw, err := r.messenger.Invoke(r.nodeName, protocol.PlayerRandomRemoteName(r.playerName), RandomRevealMethod, true)
	if err != nil {
		return nil, nil, err
	}
	var reply revealReply
	if err := json.Unmarshal(raw, &reply); err != nil {
		return nil, nil, err
	}
	return reply.Salt, reply.Words, nil
}

// NewPlayerRandomHandler exposes a local committer as the spoke side of
// the per-player random remote.
func NewPlayerRandomHandler(c random.Committer) net.Handler {
	return net.MethodTable{
		RandomCommitMethod: func(ctx net.InvocationContext, args []json.RawMessage) (any, error) {
			max, err := net.Arg[int](args, 0)
			if err != nil {
				return nil, err
			}
			count, err := net.Arg[int](args, 1)
			if err != nil {
				return nil, err
			}
			annotation, err := net.Arg[string](args, 2)
			if err != nil {
				return nil, err
			}
			hash, err := c.CommitRandom(max, count, annotation)
			if err != nil {
				return nil, err
			}
			return commitReply{Commitment: hash}, nil
		},
		RandomRevealMethod: func(ctx net.InvocationContext, args []json.RawMessage) (any, error) {
			salt, words, err := c.RevealRandom()
			if err != nil {
				return nil, err
			}
			return revealReply{Salt: salt, Words: words}, nil
		},
	}
}
