package net

import (
	"sync"

	"hexfront.gg/internal/protocol"
)

// pendingCalls correlates invocation results with their outstanding calls
// by methodCallId and fails calls whose peer vanished.
type pendingCalls struct {
	mu     sync.Mutex
	calls  map[uint64]chan protocol.InvocationResults
	byNode map[string]map[uint64]bool
}

func newPendingCalls() *pendingCalls {
	return &pendingCalls{
		calls:  map[uint64]chan protocol.InvocationResults{},
		byNode: map[string]map[uint64]bool{},
	}
}

func (p *pendingCalls) add(id uint64, nodeName string) chan protocol.InvocationResults {
	ch := make(chan protocol.InvocationResults, 1)
	p.mu.Lock()
	p.calls[id] = ch
	if nodeName != "" {
		calls, ok := p.byNode[nodeName]
		if !ok {
			calls = map[uint64]bool{}
			p.byNode[nodeName] = calls
		}
		calls[id] = true
	}
	p.mu.Unlock()
	return ch
}

func (p *pendingCalls) resolve(res protocol.InvocationResults) {
	p.mu.Lock()
	ch, ok := p.calls[res.MethodCallID]
	delete(p.calls, res.MethodCallID)
	for _, calls := range p.byNode {
		delete(calls, res.MethodCallID)
	}
	p.mu.Unlock()
	if ok {
		ch <- res
	}
}

func (p *pendingCalls) drop(id uint64) {
	p.mu.Lock()
	delete(p.calls, id)
	for _, calls := range p.byNode {
		delete(calls, id)
	}
	p.mu.Unlock()
}

// failNode resolves every call outstanding against nodeName with a
// connection-lost result.
func (p *pendingCalls) failNode(nodeName string) {
	p.mu.Lock()
	ids := p.byNode[nodeName]
	delete(p.byNode, nodeName)
	var chans []chan protocol.InvocationResults
	var callIDs []uint64
	for id := range ids {
		if ch, ok := p.calls[id]; ok {
			chans = append(chans, ch)
			callIDs = append(callIDs, id)
			delete(p.calls, id)
		}
	}
	p.mu.Unlock()
	for i, ch := range chans {
		ch <- protocol.InvocationResults{
			MethodCallID: callIDs[i],
			Error:        "connection lost: " + nodeName,
			ErrorCode:    protocol.ErrConnectionLost,
		}
	}
}
