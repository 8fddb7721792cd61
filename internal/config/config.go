// Package config loads the simulator's optional JSONC configuration
// file. All settings have defaults; a missing file is not an error.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/tailscale/hujson"
)

// DefaultFileName is the config file looked up in the working directory.
const DefaultFileName = "jbd.hujson"

// DefaultSeed matches the workload generator's historical default.
const DefaultSeed = 7900

// ErrConfigInvalid reports an unparseable config file.
// Callers should use errors.Is(err, ErrConfigInvalid).
var ErrConfigInvalid = errors.New("config: invalid config file")

// Config names the backing files and run parameters.
type Config struct {
	DiskFile   string `json:"disk_file"`
	JrnlFile   string `json:"jrnl_file"`
	FreeFile   string `json:"free_file"`
	NodeFile   string `json:"node_file"`
	StatusFile string `json:"status_file"`
	OutputFile string `json:"output_file"`
	Seed       int64  `json:"seed"`
}

// Default returns the canonical file names and seed.
func Default() Config {
	return Config{
		DiskFile:   "disk_file.bin",
		JrnlFile:   "jrnl_file.bin",
		FreeFile:   "free_file.bin",
		NodeFile:   "node_file.bin",
		StatusFile: "status.txt",
		OutputFile: "output.txt",
		Seed:       DefaultSeed,
	}
}

// Load reads path and overlays it onto the defaults. A missing file
// yields the defaults unchanged.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}

		return Config{}, fmt.Errorf("read config: %w", err)
	}

	overlay, err := parse(data)
	if err != nil {
		return Config{}, fmt.Errorf("%w %s: %w", ErrConfigInvalid, path, err)
	}

	return merge(cfg, overlay), nil
}

func parse(data []byte) (Config, error) {
	// Standardize JSONC to JSON.
	standardized, err := hujson.Standardize(data)
	if err != nil {
		return Config{}, fmt.Errorf("invalid JSONC: %w", err)
	}

	var cfg Config

	err = json.Unmarshal(standardized, &cfg)
	if err != nil {
		return Config{}, fmt.Errorf("invalid JSON: %w", err)
	}

	return cfg, nil
}

func merge(base, overlay Config) Config {
	if overlay.DiskFile != "" {
		base.DiskFile = overlay.DiskFile
	}

	if overlay.JrnlFile != "" {
		base.JrnlFile = overlay.JrnlFile
	}

	if overlay.FreeFile != "" {
		base.FreeFile = overlay.FreeFile
	}

	if overlay.NodeFile != "" {
		base.NodeFile = overlay.NodeFile
	}

	if overlay.StatusFile != "" {
		base.StatusFile = overlay.StatusFile
	}

	if overlay.OutputFile != "" {
		base.OutputFile = overlay.OutputFile
	}

	if overlay.Seed != 0 {
		base.Seed = overlay.Seed
	}

	return base
}
