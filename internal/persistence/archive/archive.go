// Package archive stores the final save of a finished game under
// `saveDir/archives/`, outside the autosave slots that later games
// overwrite.
package archive

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Meta describes one archived game.
type Meta struct {
	Scenario  string `json:"scenario"`
	Round     int    `json:"round"`
	Digest    string `json:"digest"`
	Save      string `json:"save"`
	CreatedAt string `json:"created_at"`
}

// WriteFinished stores blob as `final.sav` in a fresh per-game directory
// and drops a meta.json beside it. Returns the archive directory.
func WriteFinished(saveDir string, blob []byte, meta Meta) (string, error) {
	if strings.TrimSpace(saveDir) == "" {
		return "", fmt.Errorf("archive: empty save dir")
	}
	now := time.Now().UTC()
	if meta.CreatedAt == "" {
		meta.CreatedAt = now.Format(time.RFC3339Nano)
	}

	name := fmt.Sprintf("%s_round_%03d_%s", slug(meta.Scenario), meta.Round, now.Format("20060102-150405"))
	dir := filepath.Join(saveDir, "archives", name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}

	dst := filepath.Join(dir, "final.sav")
	if err := os.WriteFile(dst, blob, 0o644); err != nil {
		return "", err
	}

	meta.Save = "final.sav"
	mb, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(filepath.Join(dir, "meta.json"), mb, 0o644); err != nil {
		return "", err
	}
	return dir, nil
}

// slug keeps archive directory names portable across filesystems.
func slug(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return "game"
	}
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteByte('-')
		}
	}
	out := strings.Trim(b.String(), "-")
	if out == "" {
		return "game"
	}
	return out
}
