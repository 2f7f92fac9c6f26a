// Package config loads the engine configuration from engine.yaml.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

type Config struct {
	ListenAddr string `yaml:"listen_addr"`
	ServerName string `yaml:"server_name"`

	SaveDir  string `yaml:"save_dir"`
	Headless bool   `yaml:"headless"`

	AutosaveEnabled bool `yaml:"autosave_enabled"`

	// ObserverJoinWaitSeconds bounds how long the hub waits for a joining
	// observer to finish bootstrapping before dropping it.
	ObserverJoinWaitSeconds int `yaml:"server_observer_join_wait_seconds"`

	// DiceSeed seeds the plain source when the committed source is not in
	// play (solo games, bots). 0 means derive from the clock.
	DiceSeed int64 `yaml:"dice_seed"`

	IndexDBPath string `yaml:"index_db_path"`
}

func Load(path string) (Config, error) {
	cfg := defaults()
	if strings.TrimSpace(path) == "" {
		cfg.Normalize()
		return cfg, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("engine.yaml: %w", err)
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("engine.yaml: %w", err)
	}
	return cfg, nil
}

func defaults() Config {
	return Config{
		ListenAddr:              ":8777",
		ServerName:              "server",
		SaveDir:                 "saves",
		AutosaveEnabled:         true,
		ObserverJoinWaitSeconds: 180,
	}
}

func (c *Config) Normalize() {
	if strings.TrimSpace(c.ListenAddr) == "" {
		c.ListenAddr = ":8777"
	}
	if strings.TrimSpace(c.ServerName) == "" {
		c.ServerName = "server"
	}
	if strings.TrimSpace(c.SaveDir) == "" {
		c.SaveDir = "saves"
	}
	if c.ObserverJoinWaitSeconds <= 0 {
		c.ObserverJoinWaitSeconds = 180
	}
	if strings.TrimSpace(c.IndexDBPath) == "" {
		c.IndexDBPath = c.SaveDir + "/index.db"
	}
}

func (c *Config) Validate() error {
	if c.ObserverJoinWaitSeconds > 3600 {
		return fmt.Errorf("server_observer_join_wait_seconds %d out of range (max 3600)", c.ObserverJoinWaitSeconds)
	}
	return nil
}
