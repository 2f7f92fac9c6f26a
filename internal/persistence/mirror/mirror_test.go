package mirror

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

type putRecord struct {
	path        string
	body        []byte
	contentHash string
	auth        string
}

type putRecorder struct {
	mu   sync.Mutex
	puts []putRecord
}

func (r *putRecorder) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodPut {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		body, err := io.ReadAll(req.Body)
		if err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		r.mu.Lock()
		r.puts = append(r.puts, putRecord{
			path:        req.URL.Path,
			body:        body,
			contentHash: req.Header.Get("x-amz-content-sha256"),
			auth:        req.Header.Get("Authorization"),
		})
		r.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}
}

func (r *putRecorder) snapshot() []putRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]putRecord(nil), r.puts...)
}

func TestClientPutFileSignsAndUploads(t *testing.T) {
	rec := &putRecorder{}
	srv := httptest.NewServer(rec.handler())
	defer srv.Close()

	dir := t.TempDir()
	local := filepath.Join(dir, "round", "even.sav")
	if err := os.MkdirAll(filepath.Dir(local), 0o755); err != nil {
		t.Fatal(err)
	}
	payload := []byte("save blob payload")
	if err := os.WriteFile(local, payload, 0o644); err != nil {
		t.Fatal(err)
	}

	c, err := NewClient(srv.URL, "games", "AKID", "secret")
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	if err := c.PutFile(context.Background(), "round/even.sav", local); err != nil {
		t.Fatalf("PutFile: %v", err)
	}

	puts := rec.snapshot()
	if len(puts) != 1 {
		t.Fatalf("got %d puts, want 1", len(puts))
	}
	p := puts[0]
	if p.path != "/games/round/even.sav" {
		t.Fatalf("path = %q", p.path)
	}
	if string(p.body) != string(payload) {
		t.Fatalf("body = %q", p.body)
	}
	sum := sha256.Sum256(payload)
	if p.contentHash != hex.EncodeToString(sum[:]) {
		t.Fatalf("content hash = %q", p.contentHash)
	}
	if !strings.HasPrefix(p.auth, "AWS4-HMAC-SHA256 Credential=AKID/") {
		t.Fatalf("authorization = %q", p.auth)
	}
	if !strings.Contains(p.auth, "SignedHeaders=host;x-amz-content-sha256;x-amz-date") {
		t.Fatalf("authorization = %q", p.auth)
	}
}

func TestClientRejectsIncompleteConfig(t *testing.T) {
	if _, err := NewClient("", "b", "k", "s"); err == nil {
		t.Fatal("empty endpoint accepted")
	}
	if _, err := NewClient("example.com", "b", "", "s"); err == nil {
		t.Fatal("empty access key accepted")
	}
}

func TestCleanKey(t *testing.T) {
	cases := []struct{ in, want string }{
		{"round/even.sav", "round/even.sav"},
		{"/round/even.sav", "round/even.sav"},
		{"round\\even.sav", "round/even.sav"},
		{"round/../../etc/passwd", ""},
		{"..", ""},
		{"a/./b//c", "a/b/c"},
		{"  ", ""},
	}
	for _, c := range cases {
		if got := cleanKey(c.in); got != c.want {
			t.Fatalf("cleanKey(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestMirrorUploadsRelativeToSaveDir(t *testing.T) {
	rec := &putRecorder{}
	srv := httptest.NewServer(rec.handler())
	defer srv.Close()

	saveDir := t.TempDir()
	local := filepath.Join(saveDir, "before-step", "battle.sav")
	if err := os.MkdirAll(filepath.Dir(local), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(local, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	c, err := NewClient(srv.URL, "games", "AKID", "secret")
	if err != nil {
		t.Fatal(err)
	}
	m := New(c, saveDir, "prod/eu", 1, log.New(io.Discard, "", 0))
	m.Enqueue(local)
	m.Close()

	puts := rec.snapshot()
	if len(puts) != 1 {
		t.Fatalf("got %d puts, want 1", len(puts))
	}
	if puts[0].path != "/games/prod/eu/before-step/battle.sav" {
		t.Fatalf("path = %q", puts[0].path)
	}
	st := m.Stats()
	if st.Enqueued != 1 || st.Uploaded != 1 || st.Failed != 0 || st.Dropped != 0 {
		t.Fatalf("stats = %+v", st)
	}
}

func TestMirrorSkipsPathOutsideSaveDir(t *testing.T) {
	c, err := NewClient("https://example.invalid", "games", "AKID", "secret")
	if err != nil {
		t.Fatal(err)
	}
	m := New(c, t.TempDir(), "", 1, log.New(io.Discard, "", 0))

	outside := filepath.Join(t.TempDir(), "loose.sav")
	if err := os.WriteFile(outside, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	m.Enqueue(outside)
	m.Close()

	st := m.Stats()
	if st.Uploaded != 0 || st.Failed != 0 {
		t.Fatalf("stats = %+v", st)
	}
}

func TestNilMirrorIsInert(t *testing.T) {
	var m *Mirror
	m.Enqueue("anything")
	m.Close()
	if st := m.Stats(); st.Enqueued != 0 {
		t.Fatalf("stats = %+v", st)
	}
}

func TestMirrorRetriesThenFails(t *testing.T) {
	var mu sync.Mutex
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		mu.Lock()
		attempts++
		mu.Unlock()
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	saveDir := t.TempDir()
	local := filepath.Join(saveDir, "round", "odd.sav")
	if err := os.MkdirAll(filepath.Dir(local), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(local, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	c, err := NewClient(srv.URL, "games", "AKID", "secret")
	if err != nil {
		t.Fatal(err)
	}
	m := New(c, saveDir, "", 1, log.New(io.Discard, "", 0))
	m.Enqueue(local)

	deadline := time.Now().Add(10 * time.Second)
	for m.Stats().Failed == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	m.Close()

	mu.Lock()
	got := attempts
	mu.Unlock()
	if got != 3 {
		t.Fatalf("attempts = %d, want 3", got)
	}
	if st := m.Stats(); st.Failed != 1 {
		t.Fatalf("stats = %+v", st)
	}
}
