package agent

import (
	"encoding/json"
	"os"
	"path/filepath"
)

// persistedFields is every connection field the agent is allowed to
// persist: everything except the token.
type persistedFields struct {
	ServerHost string `json:"server_host"`
	ServerPort int    `json:"server_port"`
	LocalHost  string `json:"local_host"`
	LocalPort  int    `json:"local_port"`
}

// persistPath returns the user-scoped location for the saved connection
// file.
func persistPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	dir = filepath.Join(dir, "revtun")
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", err
	}
	return filepath.Join(dir, "agent.json"), nil
}

// SaveConnection persists cfg's connection fields, excluding Token, to the
// user-scoped JSON file.
func SaveConnection(cfg Config) error {
	path, err := persistPath()
	if err != nil {
		return err
	}
	fields := persistedFields{
		ServerHost: cfg.ServerHost,
		ServerPort: cfg.ServerPort,
		LocalHost:  cfg.LocalHost,
		LocalPort:  cfg.LocalPort,
	}
	data, err := json.MarshalIndent(fields, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

// LoadConnection reads back a previously saved connection file, if any.
// The Token field is left empty; callers must supply it separately (flag
// or environment variable), since it is never persisted.
func LoadConnection() (Config, error) {
	path, err := persistPath()
	if err != nil {
		return Config{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	var fields persistedFields
	if err := json.Unmarshal(data, &fields); err != nil {
		return Config{}, err
	}
	return Config{
		ServerHost: fields.ServerHost,
		ServerPort: fields.ServerPort,
		LocalHost:  fields.LocalHost,
		LocalPort:  fields.LocalPort,
	}, nil
}
