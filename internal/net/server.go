package net

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"hexfront.gg/internal/protocol"
)

// LoginValidator guards the quarantine handshake. A nil challenge means no
// challenge is made; VerifyConnection returns "" to accept.
type LoginValidator interface {
	ChallengeProperties(name string) map[string]string
	VerifyConnection(challenge, response map[string]string, name, mac, remoteAddr string) string
}

const (
	spokeQueueSize   = 256
	writeTimeout     = 5 * time.Second
	handshakeTimeout = 10 * time.Second
)

// ServerMessenger is the hub of the node graph: it terminates every spoke
// connection, owns the remote/channel registries and serializes channel
// traffic so all spokes observe one order.
type ServerMessenger struct {
	log  *log.Logger
	node protocol.Node

	validator LoginValidator
	upgrader  websocket.Upgrader

	reg        *registry
	pending    *pendingCalls
	nextCallID atomic.Uint64

	mu     sync.Mutex
	spokes map[string]*spokeConn

	loginListeners []func(node protocol.Node, mac string)
	lostListeners  []func(node protocol.Node)

	chanQ  chan func() // ordered channel dispatch
	rpcQ   chan func() // invoke worker pool
	closed atomic.Bool
	done   chan struct{}
}

type spokeConn struct {
	node protocol.Node
	mac  string
	conn *websocket.Conn
	out  chan []byte
	quit chan struct{}
	once sync.Once
}

func NewServerMessenger(name, addr string, validator LoginValidator, logger *log.Logger) *ServerMessenger {
	s := &ServerMessenger{
		log:       logger,
		node:      protocol.Node{Name: name, Addr: addr},
		validator: validator,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
		reg:     newRegistry(),
		pending: newPendingCalls(),
		spokes:  map[string]*spokeConn{},
		chanQ:   make(chan func(), 1024),
		rpcQ:    make(chan func(), 256),
		done:    make(chan struct{}),
	}
	// One ordered dispatcher keeps channel order; a small pool absorbs
	// blocking remote invocations.
	go s.drain(s.chanQ)
	for i := 0; i < 4; i++ {
		go s.drain(s.rpcQ)
	}
	return s
}

func (s *ServerMessenger) drain(q chan func()) {
	for {
		select {
		case <-s.done:
			return
		case fn := <-q:
			fn()
		}
	}
}

func (s *ServerMessenger) Node() protocol.Node { return s.node }

func (s *ServerMessenger) OnPlayerLogin(fn func(node protocol.Node, mac string)) {
	s.mu.Lock()
	s.loginListeners = append(s.loginListeners, fn)
	s.mu.Unlock()
}

func (s *ServerMessenger) OnNodeLost(fn func(node protocol.Node)) {
	s.mu.Lock()
	s.lostListeners = append(s.lostListeners, fn)
	s.mu.Unlock()
}

func (s *ServerMessenger) SpokeNodes() []protocol.Node {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]protocol.Node, 0, len(s.spokes))
	for _, sp := range s.spokes {
		out = append(out, sp.node)
	}
	return out
}

func (s *ServerMessenger) RegisterRemote(name string, h Handler) error {
	return s.reg.RegisterRemote(name, h)
}
func (s *ServerMessenger) UnregisterRemote(name string) { s.reg.UnregisterRemote(name) }

func (s *ServerMessenger) RegisterChannelSubscriber(channel string, h Handler) int {
	return s.reg.RegisterChannelSubscriber(channel, h)
}

func (s *ServerMessenger) UnregisterChannelSubscriber(channel string, token int) {
	s.reg.UnregisterChannelSubscriber(channel, token)
}

// Handler upgrades spoke connections and runs them through quarantine.
func (s *ServerMessenger) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		sp, err := s.quarantine(conn, r.RemoteAddr)
		if err != nil {
			s.log.Printf("quarantine rejected %s: %v", r.RemoteAddr, err)
			_ = conn.Close()
			return
		}
		go s.writeLoop(sp)
		s.readLoop(sp)
	}
}

// quarantine runs the server side of the handshake, strictly ordered:
// read name, read mac, send challenge, read response, verdict. On failure
// the error is sent and the spoke's ack awaited before closing. On success
// the spoke learns its unique name and the addresses, the connection is
// un-quarantined and the login is announced.
func (s *ServerMessenger) quarantine(conn *websocket.Conn, remoteAddr string) (*spokeConn, error) {
	var nameMsg protocol.QuarantineName
	if err := readQuarantine(conn, &nameMsg); err != nil {
		return nil, fmt.Errorf("read name: %w", err)
	}
	var macMsg protocol.QuarantineMAC
	if err := readQuarantine(conn, &macMsg); err != nil {
		return nil, fmt.Errorf("read mac: %w", err)
	}

	var challenge map[string]string
	if s.validator != nil {
		challenge = s.validator.ChallengeProperties(nameMsg.Name)
	}
	if err := writeQuarantine(conn, protocol.QuarantineChallenge{Properties: challenge}); err != nil {
		return nil, fmt.Errorf("send challenge: %w", err)
	}

	var response protocol.QuarantineResponse
	if err := readQuarantine(conn, &response); err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if s.validator != nil {
		if errMsg := s.validator.VerifyConnection(challenge, response.Properties, nameMsg.Name, macMsg.MAC, remoteAddr); errMsg != "" {
			// Make sure the spoke gets the message before the socket dies.
			_ = writeQuarantine(conn, protocol.QuarantineVerdict{Error: errMsg})
			var ack protocol.QuarantineErrorAck
			_ = readQuarantine(conn, &ack)
			return nil, fmt.Errorf("%s: %s", protocol.ErrQuarantineRejected, errMsg)
		}
	}
	if err := writeQuarantine(conn, protocol.QuarantineVerdict{}); err != nil {
		return nil, err
	}

	sp := &spokeConn{
		mac:  macMsg.MAC,
		conn: conn,
		out:  make(chan []byte, spokeQueueSize),
		quit: make(chan struct{}),
	}
	// The name is reserved in the same critical section that generates
	// it, so concurrent handshakes with one base name cannot collide.
	s.mu.Lock()
	uniqueName := s.uniqueNameLocked(nameMsg.Name)
	sp.node = protocol.Node{Name: uniqueName, Addr: remoteAddr}
	s.spokes[uniqueName] = sp
	s.mu.Unlock()

	if err := writeQuarantine(conn, protocol.QuarantineNames{UniqueName: uniqueName, ServerName: s.node.Name}); err != nil {
		s.unreserve(uniqueName)
		return nil, err
	}
	if err := writeQuarantine(conn, protocol.QuarantineAddrs{RemoteAddr: remoteAddr, ServerAddr: s.node.Addr}); err != nil {
		s.unreserve(uniqueName)
		return nil, err
	}

	s.mu.Lock()
	listeners := append([]func(protocol.Node, string){}, s.loginListeners...)
	s.mu.Unlock()

	s.log.Printf("spoke joined: %s (%s)", uniqueName, remoteAddr)
	for _, fn := range listeners {
		fn(sp.node, sp.mac)
	}
	return sp, nil
}

// uniqueNameLocked applies the collision suffix rule. The caller holds
// s.mu and must insert the returned name into s.spokes before releasing
// it.
func (s *ServerMessenger) uniqueNameLocked(base string) string {
	if base == "" || base == s.node.Name {
		base = "spoke"
	}
	name := base
	for i := 1; ; i++ {
		if _, taken := s.spokes[name]; !taken && name != s.node.Name {
			return name
		}
		name = fmt.Sprintf("%s (%d)", base, i)
	}
}

// unreserve frees a name whose handshake failed after reservation.
func (s *ServerMessenger) unreserve(name string) {
	s.mu.Lock()
	delete(s.spokes, name)
	s.mu.Unlock()
}

func (s *ServerMessenger) writeLoop(sp *spokeConn) {
	for {
		select {
		case <-sp.quit:
			return
		case b := <-sp.out:
			_ = sp.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := sp.conn.WriteMessage(websocket.TextMessage, b); err != nil {
				s.dropSpoke(sp, "write: "+err.Error())
				return
			}
		}
	}
}

func (s *ServerMessenger) readLoop(sp *spokeConn) {
	for {
		_, msg, err := sp.conn.ReadMessage()
		if err != nil {
			s.dropSpoke(sp, "read: "+err.Error())
			return
		}
		h, err := protocol.DecodeHeader(msg)
		if err != nil {
			continue
		}
		switch h.Type {
		case protocol.TypeHubInvoke:
			var inv protocol.HubInvoke
			if err := json.Unmarshal(h.Payload, &inv); err != nil {
				continue
			}
			sender := sp.node
			s.rpcQ <- func() { s.serveHubInvoke(sp, sender, inv) }
		case protocol.TypeSpokeResults:
			var res protocol.InvocationResults
			if err := json.Unmarshal(h.Payload, &res); err != nil {
				continue
			}
			s.pending.resolve(res)
		case protocol.TypeChannelPublish:
			var pub protocol.ChannelPublish
			if err := json.Unmarshal(h.Payload, &pub); err != nil {
				continue
			}
			sender := sp.node
			s.chanQ <- func() { s.fanoutChannel(sender, pub) }
		}
	}
}

func (s *ServerMessenger) serveHubInvoke(sp *spokeConn, sender protocol.Node, inv protocol.HubInvoke) {
	result, remoteErr := s.invokeLocal(sender, inv.Call)
	if !inv.NeedsReturnValue {
		return
	}
	res := protocol.InvocationResults{MethodCallID: inv.MethodCallID}
	if remoteErr != nil {
		res.Error = remoteErr.Message
		res.ErrorCode = remoteErr.Code
	} else {
		res.Result = result
	}
	s.send(sp, protocol.TypeHubResults, res)
}

func (s *ServerMessenger) invokeLocal(sender protocol.Node, call protocol.RemoteMethodCall) (json.RawMessage, *RemoteError) {
	h, ok := s.reg.Remote(call.RemoteName)
	if !ok {
		return nil, &RemoteError{Code: protocol.ErrNoSuchRemote, Message: "no such remote: " + call.RemoteName}
	}
	v, err := h.Invoke(InvocationContext{Sender: sender}, call.Method, call.Args)
	if err != nil {
		if re, ok := err.(*RemoteError); ok {
			return nil, re
		}
		return nil, &RemoteError{Code: protocol.ErrInternal, Message: err.Error()}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, &RemoteError{Code: protocol.ErrInternal, Message: err.Error()}
	}
	return b, nil
}

// fanoutChannel delivers a publish to the hub's local subscribers and
// forwards it to every spoke, preserving one global order.
func (s *ServerMessenger) fanoutChannel(sender protocol.Node, pub protocol.ChannelPublish) {
	for _, h := range s.reg.ChannelSubscribers(pub.Channel) {
		if _, err := h.Invoke(InvocationContext{Sender: sender}, pub.Method, pub.Args); err != nil {
			s.log.Printf("channel %s subscriber: %v", pub.Channel, err)
		}
	}
	s.mu.Lock()
	spokes := make([]*spokeConn, 0, len(s.spokes))
	for _, sp := range s.spokes {
		spokes = append(spokes, sp)
	}
	s.mu.Unlock()
	for _, sp := range spokes {
		s.sendFrom(sp, sender, protocol.TypeChannelPublish, pub)
	}
}

// Publish broadcasts on a channel from the hub. Local subscribers run
// synchronously on the caller, so the publisher observes its own effects
// before returning; spokes receive the same message in publish order.
func (s *ServerMessenger) Publish(channel, method string, args ...any) error {
	raw, err := MarshalArgs(args...)
	if err != nil {
		return err
	}
	s.chanQSync(func() {
		s.fanoutChannel(s.node, protocol.ChannelPublish{Channel: channel, Method: method, Args: raw})
	})
	return nil
}

// chanQSync runs fn on the ordered dispatcher and waits for it, keeping
// hub publishes ordered with spoke-originated traffic.
func (s *ServerMessenger) chanQSync(fn func()) {
	done := make(chan struct{})
	select {
	case s.chanQ <- func() { fn(); close(done) }:
	case <-s.done:
		return
	}
	select {
	case <-done:
	case <-s.done:
	}
}

// Invoke calls a remote hosted on the named spoke (or on the hub itself).
// With needsReturn false it is fire-and-forget.
func (s *ServerMessenger) Invoke(nodeName, remoteName, method string, needsReturn bool, args ...any) (json.RawMessage, error) {
	raw, err := MarshalArgs(args...)
	if err != nil {
		return nil, err
	}
	call := protocol.RemoteMethodCall{RemoteName: remoteName, Method: method, Args: raw}

	if nodeName == s.node.Name {
		result, remoteErr := s.invokeLocal(s.node, call)
		if remoteErr != nil {
			return nil, remoteErr
		}
		return result, nil
	}

	s.mu.Lock()
	sp, ok := s.spokes[nodeName]
	s.mu.Unlock()
	if !ok {
		return nil, &RemoteError{Code: protocol.ErrNoSuchNode, Message: "no such node: " + nodeName}
	}

	id := s.nextCallID.Add(1)
	inv := protocol.SpokeInvoke{MethodCallID: id, NeedsReturnValue: needsReturn, Call: call, Invoker: s.node}
	if !needsReturn {
		s.sendTo(sp, protocol.TypeSpokeInvoke, inv)
		return nil, nil
	}
	ch := s.pending.add(id, nodeName)
	s.sendTo(sp, protocol.TypeSpokeInvoke, inv)
	select {
	case res := <-ch:
		if res.ErrorCode == protocol.ErrConnectionLost {
			return nil, fmt.Errorf("%w: %s", ErrConnectionLost, nodeName)
		}
		if res.Error != "" {
			return nil, &RemoteError{Code: res.ErrorCode, Message: res.Error}
		}
		return res.Result, nil
	case <-s.done:
		s.pending.drop(id)
		return nil, fmt.Errorf("%w: messenger shut down", ErrConnectionLost)
	}
}

func (s *ServerMessenger) send(sp *spokeConn, payloadType string, payload any) {
	s.sendFrom(sp, s.node, payloadType, payload)
}

func (s *ServerMessenger) sendTo(sp *spokeConn, payloadType string, payload any) {
	s.sendFrom(sp, s.node, payloadType, payload)
}

func (s *ServerMessenger) sendFrom(sp *spokeConn, from protocol.Node, payloadType string, payload any) {
	h, err := protocol.NewHeader(from, sp.node, payloadType, payload)
	if err != nil {
		return
	}
	b, err := json.Marshal(h)
	if err != nil {
		return
	}
	select {
	case sp.out <- b:
	case <-sp.quit:
	case <-s.done:
	}
}

// dropSpoke removes a vanished spoke: outstanding RPCs against it fail
// with connection-lost, listeners fire and the rest of the graph learns.
func (s *ServerMessenger) dropSpoke(sp *spokeConn, reason string) {
	sp.once.Do(func() {
		close(sp.quit)
		_ = sp.conn.Close()

		s.mu.Lock()
		delete(s.spokes, sp.node.Name)
		listeners := append([]func(protocol.Node){}, s.lostListeners...)
		s.mu.Unlock()

		s.pending.failNode(sp.node.Name)
		if !s.closed.Load() {
			s.log.Printf("spoke lost: %s (%s)", sp.node.Name, reason)
			for _, fn := range listeners {
				fn(sp.node)
			}
			lost := protocol.NodeLost{Node: sp.node, Reason: reason}
			s.mu.Lock()
			others := make([]*spokeConn, 0, len(s.spokes))
			for _, other := range s.spokes {
				others = append(others, other)
			}
			s.mu.Unlock()
			for _, other := range others {
				s.send(other, protocol.TypeNodeLost, lost)
			}
		}
	})
}

func (s *ServerMessenger) Shutdown() {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}
	close(s.done)
	s.mu.Lock()
	spokes := make([]*spokeConn, 0, len(s.spokes))
	for _, sp := range s.spokes {
		spokes = append(spokes, sp)
	}
	s.mu.Unlock()
	for _, sp := range spokes {
		s.dropSpoke(sp, "server shutdown")
	}
}

func readQuarantine(conn *websocket.Conn, into any) error {
	_ = conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	defer conn.SetReadDeadline(time.Time{})
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return err
	}
	h, err := protocol.DecodeHeader(msg)
	if err != nil {
		return err
	}
	if h.Type != protocol.TypeQuarantine {
		return fmt.Errorf("expected quarantine frame, got %s", h.Type)
	}
	if !h.From.IsNull() || !h.To.IsNull() {
		return fmt.Errorf("quarantine frame must use the null sentinel")
	}
	return json.Unmarshal(h.Payload, into)
}

func writeQuarantine(conn *websocket.Conn, payload any) error {
	h, err := protocol.NewHeader(protocol.NullNode, protocol.NullNode, protocol.TypeQuarantine, payload)
	if err != nil {
		return err
	}
	b, err := json.Marshal(h)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteMessage(websocket.TextMessage, b)
}
