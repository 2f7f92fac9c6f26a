package net

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"hexfront.gg/internal/protocol"
)

// ChallengeResponder answers the server's login challenge. A nil challenge
// asks for no response.
type ChallengeResponder func(challenge map[string]string) map[string]string

// ClientMessenger is a spoke: one websocket to the hub, through which all
// remote invocations and channel traffic flow.
type ClientMessenger struct {
	log *log.Logger

	conn *websocket.Conn
	node protocol.Node // unique name assigned by the hub
	hub  protocol.Node

	reg        *registry
	pending    *pendingCalls
	nextCallID atomic.Uint64

	out    chan []byte
	done   chan struct{}
	closed atomic.Bool

	mu            sync.Mutex
	lostListeners []func(node protocol.Node)
	onDisconnect  []func(err error)

	chanQ chan func()
	rpcQ  chan func()
}

// Dial connects to a hub and runs the client side of quarantine: send name,
// send mac, answer the challenge, then read the verdict and the assigned
// names and addresses. A verdict error is acked before returning it.
func Dial(url, name, mac string, respond ChallengeResponder, logger *log.Logger) (*ClientMessenger, error) {
	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, _, err := dialer.Dial(url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}

	if err := writeQuarantine(conn, protocol.QuarantineName{Name: name}); err != nil {
		_ = conn.Close()
		return nil, err
	}
	if err := writeQuarantine(conn, protocol.QuarantineMAC{MAC: mac}); err != nil {
		_ = conn.Close()
		return nil, err
	}

	var challenge protocol.QuarantineChallenge
	if err := readQuarantine(conn, &challenge); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("read challenge: %w", err)
	}
	var answer map[string]string
	if respond != nil {
		answer = respond(challenge.Properties)
	}
	if err := writeQuarantine(conn, protocol.QuarantineResponse{Properties: answer}); err != nil {
		_ = conn.Close()
		return nil, err
	}

	var verdict protocol.QuarantineVerdict
	if err := readQuarantine(conn, &verdict); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("read verdict: %w", err)
	}
	if verdict.Error != "" {
		_ = writeQuarantine(conn, protocol.QuarantineErrorAck{})
		_ = conn.Close()
		return nil, fmt.Errorf("login refused: %s", verdict.Error)
	}

	var names protocol.QuarantineNames
	if err := readQuarantine(conn, &names); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("read names: %w", err)
	}
	var addrs protocol.QuarantineAddrs
	if err := readQuarantine(conn, &addrs); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("read addrs: %w", err)
	}

	c := &ClientMessenger{
		log:     logger,
		conn:    conn,
		node:    protocol.Node{Name: names.UniqueName, Addr: addrs.RemoteAddr},
		hub:     protocol.Node{Name: names.ServerName, Addr: addrs.ServerAddr},
		reg:     newRegistry(),
		pending: newPendingCalls(),
		out:     make(chan []byte, spokeQueueSize),
		done:    make(chan struct{}),
		chanQ:   make(chan func(), 1024),
		rpcQ:    make(chan func(), 256),
	}
	go c.drain(c.chanQ)
	for i := 0; i < 2; i++ {
		go c.drain(c.rpcQ)
	}
	go c.writeLoop()
	go c.readLoop()
	logger.Printf("joined as %q via hub %q", c.node.Name, c.hub.Name)
	return c, nil
}

func (c *ClientMessenger) drain(q chan func()) {
	for {
		select {
		case <-c.done:
			return
		case fn := <-q:
			fn()
		}
	}
}

func (c *ClientMessenger) Node() protocol.Node    { return c.node }
func (c *ClientMessenger) HubNode() protocol.Node { return c.hub }

func (c *ClientMessenger) RegisterRemote(name string, h Handler) error {
	return c.reg.RegisterRemote(name, h)
}
func (c *ClientMessenger) UnregisterRemote(name string) { c.reg.UnregisterRemote(name) }

func (c *ClientMessenger) RegisterChannelSubscriber(channel string, h Handler) int {
	return c.reg.RegisterChannelSubscriber(channel, h)
}

func (c *ClientMessenger) UnregisterChannelSubscriber(channel string, token int) {
	c.reg.UnregisterChannelSubscriber(channel, token)
}

func (c *ClientMessenger) OnNodeLost(fn func(node protocol.Node)) {
	c.mu.Lock()
	c.lostListeners = append(c.lostListeners, fn)
	c.mu.Unlock()
}

func (c *ClientMessenger) OnDisconnect(fn func(err error)) {
	c.mu.Lock()
	c.onDisconnect = append(c.onDisconnect, fn)
	c.mu.Unlock()
}

func (c *ClientMessenger) writeLoop() {
	for {
		select {
		case <-c.done:
			return
		case b := <-c.out:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, b); err != nil {
				c.fail(fmt.Errorf("write: %w", err))
				return
			}
		}
	}
}

func (c *ClientMessenger) readLoop() {
	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			c.fail(fmt.Errorf("read: %w", err))
			return
		}
		h, err := protocol.DecodeHeader(msg)
		if err != nil {
			continue
		}
		switch h.Type {
		case protocol.TypeSpokeInvoke:
			var inv protocol.SpokeInvoke
			if err := json.Unmarshal(h.Payload, &inv); err != nil {
				continue
			}
			c.rpcQ <- func() { c.serveSpokeInvoke(inv) }
		case protocol.TypeHubResults:
			var res protocol.InvocationResults
			if err := json.Unmarshal(h.Payload, &res); err != nil {
				continue
			}
			c.pending.resolve(res)
		case protocol.TypeChannelPublish:
			var pub protocol.ChannelPublish
			if err := json.Unmarshal(h.Payload, &pub); err != nil {
				continue
			}
			sender := h.From
			c.chanQ <- func() { c.deliverChannel(sender, pub) }
		case protocol.TypeNodeLost:
			var lost protocol.NodeLost
			if err := json.Unmarshal(h.Payload, &lost); err != nil {
				continue
			}
			c.mu.Lock()
			listeners := append([]func(protocol.Node){}, c.lostListeners...)
			c.mu.Unlock()
			for _, fn := range listeners {
				fn(lost.Node)
			}
		}
	}
}

func (c *ClientMessenger) serveSpokeInvoke(inv protocol.SpokeInvoke) {
	res := protocol.InvocationResults{MethodCallID: inv.MethodCallID}
	h, ok := c.reg.Remote(inv.Call.RemoteName)
	if !ok {
		res.Error = "no such remote: " + inv.Call.RemoteName
		res.ErrorCode = protocol.ErrNoSuchRemote
	} else {
		v, err := h.Invoke(InvocationContext{Sender: inv.Invoker}, inv.Call.Method, inv.Call.Args)
		if err != nil {
			if re, isRemote := err.(*RemoteError); isRemote {
				res.Error = re.Message
				res.ErrorCode = re.Code
			} else {
				res.Error = err.Error()
				res.ErrorCode = protocol.ErrInternal
			}
		} else if b, merr := json.Marshal(v); merr != nil {
			res.Error = merr.Error()
			res.ErrorCode = protocol.ErrInternal
		} else {
			res.Result = b
		}
	}
	if !inv.NeedsReturnValue {
		return
	}
	c.send(protocol.TypeSpokeResults, res)
}

func (c *ClientMessenger) deliverChannel(sender protocol.Node, pub protocol.ChannelPublish) {
	for _, h := range c.reg.ChannelSubscribers(pub.Channel) {
		if _, err := h.Invoke(InvocationContext{Sender: sender}, pub.Method, pub.Args); err != nil {
			c.log.Printf("channel %s subscriber: %v", pub.Channel, err)
		}
	}
}

// InvokeHub calls a remote hosted on the hub and waits for the result
// unless needsReturn is false.
func (c *ClientMessenger) InvokeHub(remoteName, method string, needsReturn bool, args ...any) (json.RawMessage, error) {
	raw, err := MarshalArgs(args...)
	if err != nil {
		return nil, err
	}
	inv := protocol.HubInvoke{
		MethodCallID:     c.nextCallID.Add(1),
		NeedsReturnValue: needsReturn,
		Call:             protocol.RemoteMethodCall{RemoteName: remoteName, Method: method, Args: raw},
	}
	if !needsReturn {
		return nil, c.sendErr(protocol.TypeHubInvoke, inv)
	}
	ch := c.pending.add(inv.MethodCallID, c.hub.Name)
	if err := c.sendErr(protocol.TypeHubInvoke, inv); err != nil {
		c.pending.drop(inv.MethodCallID)
		return nil, err
	}
	select {
	case res := <-ch:
		if res.ErrorCode == protocol.ErrConnectionLost {
			return nil, fmt.Errorf("%w: hub", ErrConnectionLost)
		}
		if res.Error != "" {
			return nil, &RemoteError{Code: res.ErrorCode, Message: res.Error}
		}
		return res.Result, nil
	case <-c.done:
		c.pending.drop(inv.MethodCallID)
		return nil, fmt.Errorf("%w: messenger shut down", ErrConnectionLost)
	}
}

// Publish sends a channel broadcast through the hub. Delivery to every
// subscriber, including this spoke's own, happens via the hub so all nodes
// observe the same order.
func (c *ClientMessenger) Publish(channel, method string, args ...any) error {
	raw, err := MarshalArgs(args...)
	if err != nil {
		return err
	}
	return c.sendErr(protocol.TypeChannelPublish, protocol.ChannelPublish{Channel: channel, Method: method, Args: raw})
}

func (c *ClientMessenger) send(payloadType string, payload any) {
	_ = c.sendErr(payloadType, payload)
}

func (c *ClientMessenger) sendErr(payloadType string, payload any) error {
	h, err := protocol.NewHeader(c.node, c.hub, payloadType, payload)
	if err != nil {
		return err
	}
	b, err := json.Marshal(h)
	if err != nil {
		return err
	}
	select {
	case c.out <- b:
		return nil
	case <-c.done:
		return fmt.Errorf("%w: messenger shut down", ErrConnectionLost)
	}
}

func (c *ClientMessenger) fail(err error) {
	if !c.closed.CompareAndSwap(false, true) {
		return
	}
	close(c.done)
	_ = c.conn.Close()
	c.pending.failNode(c.hub.Name)
	c.mu.Lock()
	listeners := append([]func(error){}, c.onDisconnect...)
	c.mu.Unlock()
	c.log.Printf("hub connection lost: %v", err)
	for _, fn := range listeners {
		fn(err)
	}
}

func (c *ClientMessenger) Close() {
	if !c.closed.CompareAndSwap(false, true) {
		return
	}
	close(c.done)
	_ = c.conn.Close()
	c.pending.failNode(c.hub.Name)
}
