package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Settings is the persisted, flat configuration document for the mining
// client: a path-bound struct guarded by an RWMutex, loaded once at startup
// and saved atomically.
type Settings struct {
	APIURL    string     `json:"apiUrl"`
	DataDir   string     `json:"dataDir"`
	AcceptTOS bool       `json:"acceptTos"`
	Threads   int        `json:"threads"`
	DonateTo  string     `json:"donateTo,omitempty"`
	Websocket bool       `json:"websocket"`
	WSPort    int        `json:"wsPort"`
	LogLevel  string     `json:"logLevel"`
	Mode      MiningMode `json:"mode"`

	path string
	mu   sync.RWMutex
}

func Defaults() *Settings {
	return &Settings{
		APIURL:    "",
		DataDir:   "./data",
		AcceptTOS: false,
		Threads:   4,
		Websocket: false,
		WSPort:    9090,
		LogLevel:  "info",
		Mode:      MiningMode{Mode: ModeEphemeral},
	}
}

func Load(path string) (*Settings, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create config dir: %w", err)
	}

	cfg := Defaults()
	cfg.path = path

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			if saveErr := cfg.Save(); saveErr != nil {
				return nil, fmt.Errorf("save default config: %w", saveErr)
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.path = path

	return cfg, nil
}

func (c *Settings) Save() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	tmpPath := c.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("write config tmp: %w", err)
	}

	if err := os.Rename(tmpPath, c.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename config: %w", err)
	}

	return nil
}

func (c *Settings) Update(newCfg *Settings) error {
	c.mu.Lock()
	c.APIURL = newCfg.APIURL
	c.DataDir = newCfg.DataDir
	c.AcceptTOS = newCfg.AcceptTOS
	c.Threads = newCfg.Threads
	c.DonateTo = newCfg.DonateTo
	c.Websocket = newCfg.Websocket
	c.WSPort = newCfg.WSPort
	c.LogLevel = newCfg.LogLevel
	c.Mode = newCfg.Mode
	c.mu.Unlock()
	return c.Save()
}

// Validate rejects the configuration-class errors named in §7: missing API
// URL without the push-server transport, an inconsistent key mode, and an
// unusable thread count. Called once before any actor starts (§4.4 "an
// unrecoverable configuration mistake at startup" is one of the two fatal
// error classes for the Manager).
func (c *Settings) Validate() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.APIURL == "" && !c.Websocket {
		return fmt.Errorf("missing api url: pass --api-url or enable --websocket")
	}
	if !c.AcceptTOS {
		return fmt.Errorf("terms of service must be accepted: pass --accept-tos")
	}
	if c.Threads < 1 {
		return fmt.Errorf("threads must be at least 1")
	}
	if c.Websocket && (c.WSPort < 1 || c.WSPort > 65535) {
		return fmt.Errorf("invalid websocket port: %d", c.WSPort)
	}
	if err := c.Mode.validate(); err != nil {
		return fmt.Errorf("key mode: %w", err)
	}
	return nil
}

func (c *Settings) GetPath() string {
	return c.path
}

func (c *Settings) LogDir() string {
	return filepath.Join(c.DataDir, "logs")
}

func (c *Settings) StorePath() string {
	return filepath.Join(c.DataDir, "store")
}
