package net

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"hexfront.gg/internal/protocol"
)

type passwordValidator struct {
	password string
}

func (v passwordValidator) ChallengeProperties(name string) map[string]string {
	return map[string]string{"authenticationType": "password"}
}

func (v passwordValidator) VerifyConnection(challenge, response map[string]string, name, mac, remoteAddr string) string {
	if name == "" || mac == "" {
		return "name and mac required"
	}
	if v.password != "" && response["password"] != v.password {
		return "bad password"
	}
	return ""
}

func respondWith(password string) ChallengeResponder {
	return func(challenge map[string]string) map[string]string {
		return map[string]string{"password": password}
	}
}

func quietLogger() *log.Logger { return log.New(io.Discard, "", 0) }

func startHub(t *testing.T, validator LoginValidator) (*ServerMessenger, string) {
	t.Helper()
	hub := NewServerMessenger("hub", "", validator, quietLogger())
	srv := httptest.NewServer(hub.Handler())
	t.Cleanup(func() {
		hub.Shutdown()
		srv.Close()
	})
	return hub, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dialOK(t *testing.T, url, name string) *ClientMessenger {
	t.Helper()
	c, err := Dial(url, name, "mac-"+name, respondWith("sesame"), quietLogger())
	if err != nil {
		t.Fatalf("dial %s: %v", name, err)
	}
	t.Cleanup(c.Close)
	return c
}

func TestQuarantineAssignsUniqueNames(t *testing.T) {
	hub, url := startHub(t, passwordValidator{password: "sesame"})

	var logins []string
	var mu sync.Mutex
	hub.OnPlayerLogin(func(node protocol.Node, mac string) {
		mu.Lock()
		logins = append(logins, node.Name+"/"+mac)
		mu.Unlock()
	})

	a := dialOK(t, url, "ann")
	b := dialOK(t, url, "ann")

	if a.Node().Name != "ann" {
		t.Fatalf("first client name = %q", a.Node().Name)
	}
	if b.Node().Name != "ann (1)" {
		t.Fatalf("second client name = %q, want collision suffix", b.Node().Name)
	}
	if a.HubNode().Name != "hub" {
		t.Fatalf("hub name = %q", a.HubNode().Name)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(logins) != 2 || logins[0] != "ann/mac-ann" {
		t.Fatalf("logins = %v", logins)
	}
}

func TestQuarantineRejectsBadCredentials(t *testing.T) {
	hub, url := startHub(t, passwordValidator{password: "sesame"})

	var logins atomic.Int32
	hub.OnPlayerLogin(func(protocol.Node, string) { logins.Add(1) })

	_, err := Dial(url, "eve", "mac-eve", respondWith("wrong"), quietLogger())
	if err == nil {
		t.Fatalf("bad password should be refused")
	}
	if !strings.Contains(err.Error(), "bad password") {
		t.Fatalf("refusal should carry the server's reason, got %v", err)
	}
	if logins.Load() != 0 {
		t.Fatalf("rejected spoke must not be announced")
	}
	if len(hub.SpokeNodes()) != 0 {
		t.Fatalf("rejected spoke left in the node graph")
	}
}

func TestHubInvokeRoundTrip(t *testing.T) {
	hub, url := startHub(t, passwordValidator{password: "sesame"})

	err := hub.RegisterRemote("echo", MethodTable{
		"shout": func(ctx InvocationContext, args []json.RawMessage) (any, error) {
			s, err := Arg[string](args, 0)
			if err != nil {
				return nil, err
			}
			return strings.ToUpper(s) + " from " + ctx.Sender.Name, nil
		},
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	c := dialOK(t, url, "ann")
	raw, err := c.InvokeHub("echo", "shout", true, "hello")
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	var got string
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got != "HELLO from ann" {
		t.Fatalf("result = %q", got)
	}

	_, err = c.InvokeHub("echo", "missing", true)
	var re *RemoteError
	if !errors.As(err, &re) || re.Code != protocol.ErrNoSuchMethod {
		t.Fatalf("error = %v, want %s", err, protocol.ErrNoSuchMethod)
	}

	_, err = c.InvokeHub("nowhere", "shout", true, "x")
	if !errors.As(err, &re) || re.Code != protocol.ErrNoSuchRemote {
		t.Fatalf("error = %v, want %s", err, protocol.ErrNoSuchRemote)
	}
}

func TestSpokeInvokeRoundTrip(t *testing.T) {
	hub, url := startHub(t, passwordValidator{password: "sesame"})
	c := dialOK(t, url, "ann")

	err := c.RegisterRemote("counter", MethodTable{
		"add": func(ctx InvocationContext, args []json.RawMessage) (any, error) {
			a, _ := Arg[int](args, 0)
			b, _ := Arg[int](args, 1)
			return a + b, nil
		},
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	raw, err := hub.Invoke("ann", "counter", "add", true, 2, 3)
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	var sum int
	if err := json.Unmarshal(raw, &sum); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if sum != 5 {
		t.Fatalf("sum = %d", sum)
	}

	if _, err := hub.Invoke("nobody", "counter", "add", true, 1, 1); err == nil {
		t.Fatalf("invoke on unknown node should fail")
	}
}

type recordingSub struct {
	mu      sync.Mutex
	methods []string
	senders []string
}

func (r *recordingSub) Invoke(ctx InvocationContext, method string, args []json.RawMessage) (any, error) {
	r.mu.Lock()
	r.methods = append(r.methods, method)
	r.senders = append(r.senders, ctx.Sender.Name)
	r.mu.Unlock()
	return nil, nil
}

func (r *recordingSub) snapshot() ([]string, []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string{}, r.methods...), append([]string{}, r.senders...)
}

func TestChannelPublishReachesEveryNodeInOrder(t *testing.T) {
	hub, url := startHub(t, passwordValidator{password: "sesame"})
	c := dialOK(t, url, "ann")

	hubSub := &recordingSub{}
	clientSub := &recordingSub{}
	hub.RegisterChannelSubscriber("game", hubSub)
	c.RegisterChannelSubscriber("game", clientSub)

	// Hub publishes run local subscribers before returning.
	for i := 0; i < 3; i++ {
		if err := hub.Publish("game", "tick"); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}
	methods, senders := hubSub.snapshot()
	if len(methods) != 3 {
		t.Fatalf("hub publish not synchronous: saw %d deliveries", len(methods))
	}
	if senders[0] != "hub" {
		t.Fatalf("sender = %q, want hub", senders[0])
	}

	// Spoke publishes route through the hub back to the spoke itself.
	if err := c.Publish("game", "tock"); err != nil {
		t.Fatalf("client publish: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		methods, _ := clientSub.snapshot()
		if len(methods) == 4 {
			if methods[3] != "tock" {
				t.Fatalf("client delivery order = %v", methods)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("client saw %v, want 4 deliveries ending in tock", methods)
		}
		time.Sleep(10 * time.Millisecond)
	}

	methods, senders = hubSub.snapshot()
	if len(methods) != 4 || senders[3] != "ann" {
		t.Fatalf("hub deliveries = %v from %v", methods, senders)
	}
}

func TestConnectionLostFailsPendingCalls(t *testing.T) {
	hub, url := startHub(t, passwordValidator{password: "sesame"})
	c := dialOK(t, url, "ann")
	witness := dialOK(t, url, "bob")

	block := make(chan struct{})
	c.RegisterRemote("slow", MethodTable{
		"wait": func(ctx InvocationContext, args []json.RawMessage) (any, error) {
			<-block
			return nil, nil
		},
	})

	var lostOnHub atomic.Int32
	hub.OnNodeLost(func(node protocol.Node) {
		if node.Name == "ann" {
			lostOnHub.Add(1)
		}
	})
	lostOnWitness := make(chan protocol.Node, 1)
	witness.OnNodeLost(func(node protocol.Node) { lostOnWitness <- node })

	errCh := make(chan error, 1)
	go func() {
		_, err := hub.Invoke("ann", "slow", "wait", true)
		errCh <- err
	}()
	time.Sleep(100 * time.Millisecond)
	c.Close()
	defer close(block)

	select {
	case err := <-errCh:
		if !errors.Is(err, ErrConnectionLost) {
			t.Fatalf("pending invoke error = %v, want connection lost", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("pending invoke never failed")
	}

	select {
	case node := <-lostOnWitness:
		if node.Name != "ann" {
			t.Fatalf("witness saw %q lost", node.Name)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("witness never told about the lost node")
	}
	if lostOnHub.Load() == 0 {
		t.Fatalf("hub lost listener never fired")
	}
}

func TestDuplicateRemoteRegistrationFails(t *testing.T) {
	hub, _ := startHub(t, passwordValidator{})
	if err := hub.RegisterRemote("r", MethodTable{}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := hub.RegisterRemote("r", MethodTable{}); err == nil {
		t.Fatalf("duplicate registration should fail")
	}
	hub.UnregisterRemote("r")
	if err := hub.RegisterRemote("r", MethodTable{}); err != nil {
		t.Fatalf("re-register after unregister: %v", err)
	}
}

func TestConcurrentHandshakesGetDistinctNames(t *testing.T) {
	_, url := startHub(t, passwordValidator{password: "sesame"})

	const n = 8
	names := make(chan string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c, err := Dial(url, "ann", "mac-ann", respondWith("sesame"), quietLogger())
			if err != nil {
				t.Errorf("dial: %v", err)
				return
			}
			t.Cleanup(c.Close)
			names <- c.Node().Name
		}()
	}
	wg.Wait()
	close(names)

	seen := map[string]bool{}
	for name := range names {
		if seen[name] {
			t.Fatalf("name %q assigned twice", name)
		}
		seen[name] = true
	}
	if len(seen) != n {
		t.Fatalf("got %d names, want %d", len(seen), n)
	}
}
