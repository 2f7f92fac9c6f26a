package delegate

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"hexfront.gg/internal/game/random"
	"hexfront.gg/internal/net"
	"hexfront.gg/internal/protocol"
)

// ErrGameOver rejects calls reaching a delegate after SetGameOver.
var ErrGameOver = errors.New("game over")

// ExecutionManager enforces mutual exclusion between rule execution and
// the snapshot paths (save, observer join, shutdown). Delegate execution
// sections may nest; BlockDelegateExecution waits for all of them to
// drain and then holds exclusivity until ResumeDelegateExecution.
type ExecutionManager struct {
	mu       sync.Mutex
	active   int
	blocked  bool
	gameOver bool
	waitCh   chan struct{}
}

func NewExecutionManager() *ExecutionManager {
	return &ExecutionManager{waitCh: make(chan struct{})}
}

func (m *ExecutionManager) notifyLocked() {
	close(m.waitCh)
	m.waitCh = make(chan struct{})
}

// EnterDelegateExecution brackets code that may produce changes through
// the bridge. It waits while a snapshot holds the lock; nested enters from
// an already-running delegate never wait (blocked cannot be set while
// active > 0).
func (m *ExecutionManager) EnterDelegateExecution() {
	for {
		m.mu.Lock()
		if !m.blocked {
			m.active++
			m.mu.Unlock()
			return
		}
		ch := m.waitCh
		m.mu.Unlock()
		<-ch
	}
}

func (m *ExecutionManager) LeaveDelegateExecution() {
	m.mu.Lock()
	if m.active > 0 {
		m.active--
	}
	m.notifyLocked()
	m.mu.Unlock()
}

// BlockDelegateExecution acquires the exclusive lock, waiting up to
// timeout for running delegates to drain. It returns false on timeout;
// retry policy is the caller's.
func (m *ExecutionManager) BlockDelegateExecution(timeout time.Duration) bool {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for {
		m.mu.Lock()
		if !m.blocked && m.active == 0 {
			m.blocked = true
			m.mu.Unlock()
			return true
		}
		ch := m.waitCh
		m.mu.Unlock()
		select {
		case <-ch:
		case <-deadline.C:
			return false
		}
	}
}

func (m *ExecutionManager) ResumeDelegateExecution() {
	m.mu.Lock()
	m.blocked = false
	m.notifyLocked()
	m.mu.Unlock()
}

func (m *ExecutionManager) SetGameOver() {
	m.mu.Lock()
	m.gameOver = true
	m.mu.Unlock()
}

func (m *ExecutionManager) IsGameOver() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gameOver
}

// NewInboundHandler wraps a delegate's remote handler so every inbound
// call runs inside delegate execution and calls after game over are
// rejected with a game-over error result.
func (m *ExecutionManager) NewInboundHandler(h net.Handler) net.Handler {
	return &inboundHandler{m: m, h: h}
}

type inboundHandler struct {
	m *ExecutionManager
	h net.Handler
}

func (w *inboundHandler) Invoke(ctx net.InvocationContext, method string, args []json.RawMessage) (any, error) {
	if w.m.IsGameOver() {
		return nil, &net.RemoteError{Code: protocol.ErrGameOver, Message: ErrGameOver.Error()}
	}
	w.m.EnterDelegateExecution()
	defer w.m.LeaveDelegateExecution()
	if w.m.IsGameOver() {
		return nil, &net.RemoteError{Code: protocol.ErrGameOver, Message: ErrGameOver.Error()}
	}
	return w.h.Invoke(ctx, method, args)
}

// NewOutboundSource wraps a collaborator used from inside a delegate (the
// random source) so invocations after game over fail instead of touching a
// dead game.
func (m *ExecutionManager) NewOutboundSource(src random.Source) random.Source {
	return &outboundSource{m: m, src: src}
}

type outboundSource struct {
	m   *ExecutionManager
	src random.Source
}

func (o *outboundSource) Random(max, count int, annotation string) ([]int, error) {
	if o.m.IsGameOver() {
		return nil, ErrGameOver
	}
	return o.src.Random(max, count, annotation)
}
