package net

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"hexfront.gg/internal/protocol"
)

// ErrConnectionLost surfaces on any outstanding RPC whose peer vanished.
var ErrConnectionLost = errors.New("connection lost")

// InvocationContext identifies who a remote call came from. Channel
// subscribers use it to assert sender identity.
type InvocationContext struct {
	Sender protocol.Node
}

// Handler is a remote target: dispatch is by method name over an explicit
// method table, no reflection.
type Handler interface {
	Invoke(ctx InvocationContext, method string, args []json.RawMessage) (any, error)
}

// MethodTable is the common Handler implementation: a map from method name
// to function.
type MethodTable map[string]func(ctx InvocationContext, args []json.RawMessage) (any, error)

func (t MethodTable) Invoke(ctx InvocationContext, method string, args []json.RawMessage) (any, error) {
	fn, ok := t[method]
	if !ok {
		return nil, &RemoteError{Code: protocol.ErrNoSuchMethod, Message: fmt.Sprintf("no such method: %s", method)}
	}
	return fn(ctx, args)
}

// RemoteError is a string error result crossing the wire; Code is one of
// the protocol error codes.
type RemoteError struct {
	Code    string
	Message string
}

func (e *RemoteError) Error() string {
	if e.Code == "" {
		return e.Message
	}
	return e.Code + ": " + e.Message
}

// Arg unmarshals the i-th argument of a remote call.
func Arg[T any](args []json.RawMessage, i int) (T, error) {
	var v T
	if i >= len(args) {
		return v, fmt.Errorf("missing argument %d", i)
	}
	if err := json.Unmarshal(args[i], &v); err != nil {
		return v, fmt.Errorf("argument %d: %w", i, err)
	}
	return v, nil
}

// MarshalArgs encodes call arguments for the wire.
func MarshalArgs(args ...any) ([]json.RawMessage, error) {
	out := make([]json.RawMessage, 0, len(args))
	for i, a := range args {
		b, err := json.Marshal(a)
		if err != nil {
			return nil, fmt.Errorf("argument %d: %w", i, err)
		}
		out = append(out, b)
	}
	return out, nil
}

// registry holds the remotes and channel subscribers of one node.
// Registrations are serialized by the mutex.
type registry struct {
	mu        sync.Mutex
	remotes   map[string]Handler
	channels  map[string][]chanSub
	nextSubID int
}

type chanSub struct {
	id int
	h  Handler
}

func newRegistry() *registry {
	return &registry{
		remotes:  map[string]Handler{},
		channels: map[string][]chanSub{},
	}
}

func (r *registry) RegisterRemote(name string, h Handler) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.remotes[name]; dup {
		return fmt.Errorf("remote already registered: %s", name)
	}
	r.remotes[name] = h
	return nil
}

func (r *registry) UnregisterRemote(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.remotes, name)
}

func (r *registry) Remote(name string) (Handler, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.remotes[name]
	return h, ok
}

// RegisterChannelSubscriber returns a token for UnregisterChannelSubscriber.
func (r *registry) RegisterChannelSubscriber(channel string, h Handler) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextSubID++
	r.channels[channel] = append(r.channels[channel], chanSub{id: r.nextSubID, h: h})
	return r.nextSubID
}

func (r *registry) UnregisterChannelSubscriber(channel string, token int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	subs := r.channels[channel]
	for i, s := range subs {
		if s.id == token {
			r.channels[channel] = append(subs[:i], subs[i+1:]...)
			return
		}
	}
}

func (r *registry) ChannelSubscribers(channel string) []Handler {
	r.mu.Lock()
	defer r.mu.Unlock()
	subs := r.channels[channel]
	out := make([]Handler, 0, len(subs))
	for _, s := range subs {
		out = append(out, s.h)
	}
	return out
}
