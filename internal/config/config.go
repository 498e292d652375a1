// Package config holds the tunables of an analysis run. Values come from
// Default and are optionally overlaid by a JSON file.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/invopop/jsonschema"

	"armrecover/internal/signature"
)

// Config is the top-level configuration.
type Config struct {
	VTable     VTableConfig      `json:"vtable" jsonschema:"title=VTable,description=Virtual table recovery limits"`
	Scan       ScanConfig        `json:"scan" jsonschema:"title=Scan,description=Window scanning parameters"`
	Encoder    EncoderConfig     `json:"encoder" jsonschema:"title=Encoder,description=Instruction encoder policy"`
	Log        LogConfig         `json:"log" jsonschema:"title=Log,description=Logging"`
	Signatures []SignatureConfig `json:"signatures,omitempty" jsonschema:"title=Signatures,description=Extra named byte patterns marking function starts"`
}

type VTableConfig struct {
	MinEntries int `json:"minEntries" jsonschema:"minimum=1,default=2,description=Shortest accepted table"`
	MaxEntries int `json:"maxEntries" jsonschema:"minimum=1,default=256,description=Entries read before giving up"`
}

type ScanConfig struct {
	Window        int `json:"window" jsonschema:"minimum=16,default=4096,description=Bytes per scan window"`
	Workers       int `json:"workers" jsonschema:"minimum=0,description=Parallel windows; 0 means GOMAXPROCS"`
	MaxCandidates int `json:"maxCandidates" jsonschema:"minimum=0,description=Stop after this many findings per detector; 0 means unbounded"`
	MaxBack       int `json:"maxBack" jsonschema:"minimum=1,default=256,description=Instructions walked back when searching a function start"`
}

type EncoderConfig struct {
	Truncate bool `json:"truncate" jsonschema:"description=Mask out-of-range immediates instead of rejecting them"`
}

type LogConfig struct {
	Level string `json:"level" jsonschema:"enum=debug,enum=info,enum=warn,enum=error,default=info"`
	File  bool   `json:"file,omitempty" jsonschema:"description=Write logs to armrecover-<time>.log in the working directory"`
}

// SignatureConfig names a pattern in the "FD 7B ?? A9" text form.
type SignatureConfig struct {
	Name    string `json:"name" jsonschema:"required"`
	Pattern string `json:"pattern" jsonschema:"required"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		VTable: VTableConfig{MinEntries: 2, MaxEntries: 256},
		Scan:   ScanConfig{Window: signature.DefaultWindow, MaxBack: 256},
		Log:    LogConfig{Level: "info"},
	}
}

// Load overlays the JSON file at path onto Default and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate reports every invalid field at once.
func (c Config) Validate() error {
	var errs []error
	if c.VTable.MinEntries < 1 {
		errs = append(errs, fmt.Errorf("vtable.minEntries must be >= 1, got %d", c.VTable.MinEntries))
	}
	if c.VTable.MaxEntries < c.VTable.MinEntries {
		errs = append(errs, fmt.Errorf("vtable.maxEntries %d below minEntries %d", c.VTable.MaxEntries, c.VTable.MinEntries))
	}
	if c.Scan.Window < 16 {
		errs = append(errs, fmt.Errorf("scan.window must be >= 16, got %d", c.Scan.Window))
	}
	if c.Scan.Workers < 0 || c.Scan.MaxCandidates < 0 {
		errs = append(errs, errors.New("scan.workers and scan.maxCandidates must not be negative"))
	}
	if c.Scan.MaxBack < 1 {
		errs = append(errs, fmt.Errorf("scan.maxBack must be >= 1, got %d", c.Scan.MaxBack))
	}
	switch c.Log.Level {
	case "", "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level %q unknown", c.Log.Level))
	}
	for i, s := range c.Signatures {
		if s.Name == "" {
			errs = append(errs, fmt.Errorf("signatures[%d]: missing name", i))
		}
		if _, err := signature.Parse(s.Pattern); err != nil {
			errs = append(errs, fmt.Errorf("signatures[%d] %q: %w", i, s.Name, err))
		}
	}
	return errors.Join(errs...)
}

// Patterns parses the configured signatures. Call after Validate.
func (c Config) Patterns() (*signature.Set, error) {
	set := signature.NewSet()
	for _, s := range c.Signatures {
		p, err := signature.Parse(s.Pattern)
		if err != nil {
			return nil, fmt.Errorf("signature %q: %w", s.Name, err)
		}
		set.Add(p.WithName(s.Name))
	}
	return set, nil
}

// Schema returns the JSON schema of Config.
func Schema() ([]byte, error) {
	reflector := new(jsonschema.Reflector)
	bts, err := json.MarshalIndent(reflector.Reflect(&Config{}), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal schema: %w", err)
	}
	return bts, nil
}
