package delegate

import (
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"hexfront.gg/internal/net"
	"hexfront.gg/internal/protocol"
)

func TestBlockWaitsForRunningDelegate(t *testing.T) {
	m := NewExecutionManager()
	m.EnterDelegateExecution()

	done := make(chan bool, 1)
	go func() { done <- m.BlockDelegateExecution(2 * time.Second) }()

	select {
	case <-done:
		t.Fatalf("block acquired while a delegate was running")
	case <-time.After(50 * time.Millisecond):
	}

	m.LeaveDelegateExecution()
	if !<-done {
		t.Fatalf("block should succeed once the delegate leaves")
	}
	m.ResumeDelegateExecution()
}

func TestBlockTimesOut(t *testing.T) {
	m := NewExecutionManager()
	m.EnterDelegateExecution()
	defer m.LeaveDelegateExecution()

	if m.BlockDelegateExecution(30 * time.Millisecond) {
		t.Fatalf("block should time out while a delegate runs")
	}
}

func TestEnterWaitsWhileBlocked(t *testing.T) {
	m := NewExecutionManager()
	if !m.BlockDelegateExecution(time.Second) {
		t.Fatalf("block on idle manager failed")
	}

	entered := make(chan struct{})
	go func() {
		m.EnterDelegateExecution()
		close(entered)
	}()

	select {
	case <-entered:
		t.Fatalf("enter succeeded while blocked")
	case <-time.After(50 * time.Millisecond):
	}

	m.ResumeDelegateExecution()
	select {
	case <-entered:
	case <-time.After(time.Second):
		t.Fatalf("enter never resumed")
	}
	m.LeaveDelegateExecution()
}

// Hammers enter/leave against block/resume and checks the two never
// overlap.
func TestBlockAndExecutionExclusion(t *testing.T) {
	m := NewExecutionManager()
	var inDelegate, inSnapshot atomic.Int32
	var violations atomic.Int32

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				m.EnterDelegateExecution()
				inDelegate.Add(1)
				if inSnapshot.Load() > 0 {
					violations.Add(1)
				}
				inDelegate.Add(-1)
				m.LeaveDelegateExecution()
			}
		}()
	}
	for w := 0; w < 2; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				if !m.BlockDelegateExecution(5 * time.Second) {
					violations.Add(1)
					return
				}
				inSnapshot.Add(1)
				if inDelegate.Load() > 0 {
					violations.Add(1)
				}
				inSnapshot.Add(-1)
				m.ResumeDelegateExecution()
			}
		}()
	}
	wg.Wait()

	if n := violations.Load(); n != 0 {
		t.Fatalf("%d exclusion violations", n)
	}
}

type echoHandler struct{ calls atomic.Int32 }

func (h *echoHandler) Invoke(ctx net.InvocationContext, method string, args []json.RawMessage) (any, error) {
	h.calls.Add(1)
	return method, nil
}

func TestInboundHandlerRejectsAfterGameOver(t *testing.T) {
	m := NewExecutionManager()
	inner := &echoHandler{}
	h := m.NewInboundHandler(inner)

	if _, err := h.Invoke(net.InvocationContext{}, "ping", nil); err != nil {
		t.Fatalf("invoke before game over: %v", err)
	}

	m.SetGameOver()
	_, err := h.Invoke(net.InvocationContext{}, "ping", nil)
	if err == nil {
		t.Fatalf("invoke after game over should fail")
	}
	var re *net.RemoteError
	if !errors.As(err, &re) || re.Code != protocol.ErrGameOver {
		t.Fatalf("error = %v, want remote %s", err, protocol.ErrGameOver)
	}
	if inner.calls.Load() != 1 {
		t.Fatalf("inner handler reached after game over")
	}
}

type fixedSource struct{}

func (fixedSource) Random(max, count int, annotation string) ([]int, error) {
	return make([]int, count), nil
}

func TestOutboundSourceFailsAfterGameOver(t *testing.T) {
	m := NewExecutionManager()
	src := m.NewOutboundSource(fixedSource{})
	if _, err := src.Random(6, 1, ""); err != nil {
		t.Fatalf("random before game over: %v", err)
	}
	m.SetGameOver()
	if _, err := src.Random(6, 1, ""); !errors.Is(err, ErrGameOver) {
		t.Fatalf("error = %v, want game over", err)
	}
}
