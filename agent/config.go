package agent

import (
	"encoding/json"
	"os"

	"github.com/pkg/errors"
)

// Config collects agent startup parameters. Port fields must satisfy
// 1 <= p <= 65535; Token, ServerHost and LocalHost must be non-empty.
type Config struct {
	ServerHost string `json:"server_host"`
	ServerPort int    `json:"server_port"`
	Token      string `json:"token"`
	LocalHost  string `json:"local_host"`
	LocalPort  int    `json:"local_port"`
	Quiet      bool   `json:"quiet"`
	Compress   bool   `json:"compress"`
	Chunk      int    `json:"chunk"`
	Log        string `json:"log"`
}

// Validate checks the required-field and port-range invariants.
func (c *Config) Validate() error {
	if c.Token == "" {
		return errors.New("agent: token must be non-empty")
	}
	if c.ServerHost == "" {
		return errors.New("agent: server_host must be non-empty")
	}
	if c.LocalHost == "" {
		return errors.New("agent: local_host must be non-empty")
	}
	if c.ServerPort < 1 || c.ServerPort > 65535 {
		return errors.Errorf("agent: server_port %d out of range [1, 65535]", c.ServerPort)
	}
	if c.LocalPort < 1 || c.LocalPort > 65535 {
		return errors.Errorf("agent: local_port %d out of range [1, 65535]", c.LocalPort)
	}
	return nil
}

// ParseJSONConfig overrides fields of cfg from a JSON document on disk.
func ParseJSONConfig(cfg *Config, path string) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()
	return json.NewDecoder(file).Decode(cfg)
}
