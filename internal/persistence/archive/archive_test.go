package archive

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestWriteFinishedStoresSaveAndMeta(t *testing.T) {
	saveDir := t.TempDir()
	blob := []byte("final save bytes")

	dir, err := WriteFinished(saveDir, blob, Meta{
		Scenario: "Pacific Theater",
		Round:    12,
		Digest:   "abc123",
	})
	if err != nil {
		t.Fatalf("WriteFinished: %v", err)
	}
	if !strings.HasPrefix(filepath.Base(dir), "pacific-theater_round_012_") {
		t.Fatalf("archive dir = %q", dir)
	}

	got, err := os.ReadFile(filepath.Join(dir, "final.sav"))
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != string(blob) {
		t.Fatalf("final.sav = %q", got)
	}

	mb, err := os.ReadFile(filepath.Join(dir, "meta.json"))
	if err != nil {
		t.Fatal(err)
	}
	var meta Meta
	if err := json.Unmarshal(mb, &meta); err != nil {
		t.Fatal(err)
	}
	if meta.Scenario != "Pacific Theater" || meta.Round != 12 || meta.Digest != "abc123" {
		t.Fatalf("meta = %+v", meta)
	}
	if meta.Save != "final.sav" || meta.CreatedAt == "" {
		t.Fatalf("meta = %+v", meta)
	}
}

func TestWriteFinishedRejectsEmptySaveDir(t *testing.T) {
	if _, err := WriteFinished("  ", []byte("x"), Meta{Scenario: "s"}); err == nil {
		t.Fatal("empty save dir accepted")
	}
}

func TestSlug(t *testing.T) {
	cases := []struct{ in, want string }{
		{"Pacific Theater", "pacific-theater"},
		{"  1941 ", "1941"},
		{"", "game"},
		{"//", "game"},
	}
	for _, c := range cases {
		if got := slug(c.in); got != c.want {
			t.Fatalf("slug(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}
