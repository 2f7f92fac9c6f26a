// Package indexdb keeps a queryable sqlite index beside the save files:
// one row per autosave and one row per dice roll. The index is secondary;
// the save blobs and the audit log remain the source of truth, so writes
// are buffered and dropped rather than ever stalling the game loop.
package indexdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"hexfront.gg/internal/game/random"
)

type SQLiteIndex struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool
}

type reqKind int

const (
	reqSave reqKind = iota + 1
	reqDice
)

type req struct {
	kind reqKind
	save saveRow
	dice random.DiceRecord
}

type saveRow struct {
	Slot       string
	Path       string
	Scenario   string
	Round      int
	Step       string
	Digest     string
	RecordedAt string
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db: db,
		ch: make(chan req, 16384),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	// WAL is much faster for append-style workloads.
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS saves (
			slot TEXT PRIMARY KEY,
			path TEXT NOT NULL,
			scenario TEXT NOT NULL,
			round INTEGER NOT NULL,
			step TEXT NOT NULL,
			digest TEXT NOT NULL,
			recorded_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_saves_round ON saves(round);`,
		`CREATE TABLE IF NOT EXISTS dice (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			player TEXT NOT NULL,
			dice_type TEXT NOT NULL,
			max INTEGER NOT NULL,
			values_json TEXT NOT NULL,
			annotation TEXT,
			recorded_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_dice_player_type ON dice(player, dice_type);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	if _, err := db.Exec(`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1')`); err != nil {
		return err
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

// RecordSave indexes an autosave slot. Round/step/digest come from the
// written blob so the row always matches the file.
func (s *SQLiteIndex) RecordSave(slot, path, scenario string, round int, step, digest string) {
	if s == nil || s.closed.Load() {
		return
	}
	r := saveRow{
		Slot:       slot,
		Path:       path,
		Scenario:   scenario,
		Round:      round,
		Step:       step,
		Digest:     digest,
		RecordedAt: time.Now().UTC().Format(time.RFC3339Nano),
	}
	select {
	case s.ch <- req{kind: reqSave, save: r}:
	default:
		// Drop if the indexer falls behind; the blob on disk is authoritative.
	}
}

// RecordDice indexes one roll. Wired as a stats sink.
func (s *SQLiteIndex) RecordDice(rec random.DiceRecord) {
	if s == nil || s.closed.Load() {
		return
	}
	select {
	case s.ch <- req{kind: reqDice, dice: rec}:
	default:
	}
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	insertSave, _ := s.db.Prepare(`INSERT OR REPLACE INTO saves(slot,path,scenario,round,step,digest,recorded_at) VALUES(?,?,?,?,?,?,?)`)
	insertDice, _ := s.db.Prepare(`INSERT INTO dice(player,dice_type,max,values_json,annotation,recorded_at) VALUES(?,?,?,?,?,?)`)
	defer func() {
		if insertSave != nil {
			_ = insertSave.Close()
		}
		if insertDice != nil {
			_ = insertDice.Close()
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 500
		commitMaxWait = 2 * time.Second
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		_ = tx.Commit()
		tx = nil
	}

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case r, ok := <-s.ch:
			if !ok {
				commit()
				return
			}
			begin()
			if tx == nil {
				continue
			}
			switch r.kind {
			case reqSave:
				if insertSave != nil {
					_, _ = tx.Stmt(insertSave).Exec(r.save.Slot, r.save.Path, r.save.Scenario, r.save.Round, r.save.Step, r.save.Digest, r.save.RecordedAt)
				}
			case reqDice:
				if insertDice != nil {
					vals, _ := json.Marshal(r.dice.Values)
					now := time.Now().UTC().Format(time.RFC3339Nano)
					_, _ = tx.Stmt(insertDice).Exec(r.dice.Player, string(r.dice.Type), r.dice.Max, string(vals), r.dice.Annotation, now)
				}
			}
			opCount++
			if opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait {
				commit()
			}
		case <-ticker.C:
			if tx != nil && time.Since(lastCommit) >= commitMaxWait {
				commit()
			}
		}
	}
}

// Saves lists indexed autosaves, newest first.
func (s *SQLiteIndex) Saves() ([]SaveInfo, error) {
	rows, err := s.db.Query(`SELECT slot,path,scenario,round,step,digest,recorded_at FROM saves ORDER BY recorded_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []SaveInfo
	for rows.Next() {
		var si SaveInfo
		if err := rows.Scan(&si.Slot, &si.Path, &si.Scenario, &si.Round, &si.Step, &si.Digest, &si.RecordedAt); err != nil {
			return nil, err
		}
		out = append(out, si)
	}
	return out, rows.Err()
}

type SaveInfo struct {
	Slot       string
	Path       string
	Scenario   string
	Round      int
	Step       string
	Digest     string
	RecordedAt string
}

// DiceCounts sums indexed rolls per (player, dice type).
func (s *SQLiteIndex) DiceCounts() (map[string]map[string]int, error) {
	rows, err := s.db.Query(`SELECT player, dice_type, values_json FROM dice`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[string]map[string]int{}
	for rows.Next() {
		var player, diceType, valuesJSON string
		if err := rows.Scan(&player, &diceType, &valuesJSON); err != nil {
			return nil, err
		}
		var vals []int
		_ = json.Unmarshal([]byte(valuesJSON), &vals)
		if out[player] == nil {
			out[player] = map[string]int{}
		}
		out[player][diceType] += len(vals)
	}
	return out, rows.Err()
}
