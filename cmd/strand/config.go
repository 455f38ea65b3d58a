package main

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"

	"github.com/strand-lang/strand/sem"
	"github.com/strand-lang/strand/task"
)

// sessionConfig is the optional TOML session file. Every field has a usable
// default so running without one grants everything, like a trusted local run.
type sessionConfig struct {
	Engine  string   `toml:"engine"`  // "interp" or "vm"
	Workers int      `toml:"workers"` // task pool size
	Grants  []string `toml:"grants"`  // capability names; empty means all
}

func loadSession(path string) (*sessionConfig, error) {
	cfg := &sessionConfig{Engine: "vm"}
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading session config: %w", err)
	}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing session config %s: %w", path, err)
	}
	switch cfg.Engine {
	case "", "interp", "vm":
	default:
		return nil, fmt.Errorf("session config %s: unknown engine %q", path, cfg.Engine)
	}
	return cfg, nil
}

func (c *sessionConfig) caps() sem.Caps {
	if len(c.Grants) == 0 {
		return sem.AllCaps()
	}
	return sem.NewCaps(c.Grants...)
}

func (c *sessionConfig) pool() *task.Pool {
	return task.NewPool(c.Workers)
}
