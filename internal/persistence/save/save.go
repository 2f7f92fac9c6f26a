// Package save reads and writes game save blobs: a JSON header line
// followed by a zstd-compressed canonical JSON body. The body bytes are
// canonical, so two nodes holding equal state produce equal blobs.
package save

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"

	"hexfront.gg/internal/game/data"
)

const Version = 1

type Header struct {
	Version  int    `json:"version"`
	Scenario string `json:"scenario"`
	Round    int    `json:"round"`
	Step     string `json:"step"`
}

// GameV1 is the full save body: the data aggregate plus the serialized
// history tree.
type GameV1 struct {
	Data    data.SaveV1     `json:"data"`
	History json.RawMessage `json:"history,omitempty"`
}

// Capture serializes live state. The caller must hold the delegate
// execution lock so no change lands mid-capture.
func Capture(g *data.GameData) (GameV1, error) {
	hist, err := g.ExportHistory()
	if err != nil {
		return GameV1{}, fmt.Errorf("export history: %w", err)
	}
	return GameV1{Data: g.Export(), History: hist}, nil
}

func Write(w io.Writer, game GameV1) error {
	stepName := ""
	if game.Data.StepIndex >= 0 && game.Data.StepIndex < len(game.Data.Steps) {
		stepName = game.Data.Steps[game.Data.StepIndex].Name
	}
	hdr := Header{Version: Version, Scenario: game.Data.Scenario, Round: game.Data.Round, Step: stepName}
	hb, err := json.Marshal(hdr)
	if err != nil {
		return err
	}
	if _, err := w.Write(append(hb, '\n')); err != nil {
		return err
	}

	enc, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	bw := bufio.NewWriterSize(enc, 256*1024)
	body, err := json.Marshal(game)
	if err != nil {
		enc.Close()
		return fmt.Errorf("encode save: %w", err)
	}
	if _, err := bw.Write(body); err != nil {
		enc.Close()
		return err
	}
	if err := bw.Flush(); err != nil {
		enc.Close()
		return err
	}
	return enc.Close()
}

func Read(r io.Reader) (GameV1, Header, error) {
	var game GameV1
	var hdr Header

	br := bufio.NewReaderSize(r, 256*1024)
	line, err := br.ReadBytes('\n')
	if err != nil {
		return game, hdr, fmt.Errorf("read header: %w", err)
	}
	if err := json.Unmarshal(line, &hdr); err != nil {
		return game, hdr, fmt.Errorf("decode header: %w", err)
	}
	if hdr.Version != Version {
		return game, hdr, fmt.Errorf("unsupported save version %d", hdr.Version)
	}

	dec, err := zstd.NewReader(br)
	if err != nil {
		return game, hdr, err
	}
	defer dec.Close()
	body, err := io.ReadAll(dec)
	if err != nil {
		return game, hdr, err
	}
	if err := json.Unmarshal(body, &game); err != nil {
		return game, hdr, fmt.Errorf("decode save: %w", err)
	}
	return game, hdr, nil
}

func WriteFile(path string, game GameV1) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if err := Write(f, game); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func ReadFile(path string) (GameV1, Header, error) {
	f, err := os.Open(path)
	if err != nil {
		return GameV1{}, Header{}, err
	}
	defer f.Close()
	return Read(f)
}

// Restore rehydrates a GameData aggregate, history included, from a save
// body.
func Restore(game GameV1) (*data.GameData, error) {
	g, err := data.FromSave(game.Data)
	if err != nil {
		return nil, err
	}
	if len(game.History) > 0 {
		if err := g.ImportHistory(game.History); err != nil {
			return nil, fmt.Errorf("import history: %w", err)
		}
	}
	return g, nil
}

// Auto-save slot naming. Slots are relative paths under the save dir.

func SlotBeforeStep(delegateName string) string {
	return filepath.Join("before-step", delegateName+".sav")
}

// SlotAfterStep names the after-step slot. Headless nodes collapse
// nation-prefixed move phases to the generic CombatMove/NonCombatMove so
// the same small set of files is reused.
func SlotAfterStep(stepName string, headless bool) string {
	name := stepName
	if headless && strings.HasSuffix(name, "Move") {
		if strings.HasSuffix(name, "NonCombatMove") {
			name = "NonCombatMove"
		} else {
			name = "CombatMove"
		}
	}
	return filepath.Join("after-step", name+".sav")
}

// SlotRound alternates between two files so round autosaves churn a small
// fixed set.
func SlotRound(round int) string {
	if round%2 == 0 {
		return filepath.Join("round", "even.sav")
	}
	return filepath.Join("round", "odd.sav")
}
