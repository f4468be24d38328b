package broker

import (
	"encoding/json"
	"os"
)

// Config collects broker startup parameters: flags are primary, an
// optional JSON file can override them.
type Config struct {
	Bind       string `json:"bind"`
	Control    int    `json:"control"`
	PortMin    int    `json:"port-min"`
	PortMax    int    `json:"port-max"`
	Token      string `json:"token"`
	Quiet      bool   `json:"quiet"`
	Compress   bool   `json:"compress"`
	Chunk      int    `json:"chunk"`
	Log        string `json:"log"`
	StatLog    string `json:"statlog"`
	StatPeriod int    `json:"statperiod"`
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
