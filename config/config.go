// Package config handles oklang.toml runtime configuration.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/BurntSushi/toml"

	"github.com/QaisAlsaid/oklang-sub000/vm"
)

// FileName is the configuration file looked up by FindAndLoad.
const FileName = "oklang.toml"

//go:embed schema.cue
var schemaSource string

// ErrInvalid is wrapped by every schema validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Config represents an oklang.toml file.
type Config struct {
	VM     VMConfig     `toml:"vm" json:"vm"`
	GC     GCConfig     `toml:"gc" json:"gc"`
	Log    LogConfig    `toml:"log" json:"log"`
	Server ServerConfig `toml:"server" json:"server"`
	Cache  CacheConfig  `toml:"cache" json:"cache"`

	// Dir is the directory containing the oklang.toml file (set at load
	// time). Empty for the defaults.
	Dir string `toml:"-" json:"-"`
}

// VMConfig configures the interpreter.
type VMConfig struct {
	MaxFrames int  `toml:"max_frames" json:"max_frames"`
	StackSize int  `toml:"stack_size" json:"stack_size"`
	Trace     bool `toml:"trace" json:"trace"`
}

// GCConfig configures the collector.
type GCConfig struct {
	InitialThreshold int     `toml:"initial_threshold" json:"initial_threshold"`
	GrowthFactor     float64 `toml:"growth_factor" json:"growth_factor"`
	Stress           bool    `toml:"stress" json:"stress"`
	Log              bool    `toml:"log" json:"log"`
}

// LogConfig configures commonlog.
type LogConfig struct {
	Verbosity int    `toml:"verbosity" json:"verbosity"`
	File      string `toml:"file" json:"file"`
}

// ServerConfig configures the evaluation services.
type ServerConfig struct {
	Addr     string `toml:"addr" json:"addr"`
	GRPCAddr string `toml:"grpc_addr" json:"grpc_addr"`
}

// CacheConfig configures the compile cache.
type CacheConfig struct {
	Path    string `toml:"path" json:"path"`
	Enabled bool   `toml:"enabled" json:"enabled"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		VM: VMConfig{
			MaxFrames: vm.DefaultMaxFrames,
			StackSize: vm.DefaultStackSize,
		},
		GC: GCConfig{
			InitialThreshold: vm.DefaultGCThreshold,
			GrowthFactor:     vm.DefaultGrowthFactor,
		},
		Server: ServerConfig{
			Addr:     ":4567",
			GRPCAddr: ":4568",
		},
		Cache: CacheConfig{
			Path: filepath.Join(".oklang", "cache.db"),
		},
	}
}

// Load parses the oklang.toml file in dir.
func Load(dir string) (*Config, error) {
	cfg, err := LoadFile(filepath.Join(dir, FileName))
	if err != nil {
		return nil, err
	}
	cfg.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}
	return cfg, nil
}

// LoadFile parses a configuration file at an explicit path. Keys the
// file omits keep their defaults.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	cfg.Dir = filepath.Dir(path)
	return cfg, nil
}

// Parse decodes TOML data over the defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	md, err := toml.Decode(string(data), cfg)
	if err != nil {
		return nil, fmt.Errorf("parse error: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("%w: unknown key %s", ErrInvalid, undecoded[0])
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FindAndLoad walks up from startDir to find an oklang.toml file,
// then loads and returns it. Returns nil if no file is found.
func FindAndLoad(startDir string) (*Config, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached root
			return nil, nil
		}
		dir = parent
	}
}

// Validate checks c against the embedded CUE schema.
func (c *Config) Validate() error {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("config schema: %w", err)
	}

	def := schema.LookupPath(cue.ParsePath("#Config"))
	value := def.Unify(ctx.Encode(c))
	if err := value.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return nil
}

// VMOptions converts the configuration into interpreter options.
func (c *Config) VMOptions(stdout io.Writer) vm.Options {
	return vm.Options{
		MaxFrames:          c.VM.MaxFrames,
		StackSize:          c.VM.StackSize,
		InitialGCThreshold: c.GC.InitialThreshold,
		GrowthFactor:       c.GC.GrowthFactor,
		StressGC:           c.GC.Stress,
		LogGC:              c.GC.Log,
		Trace:              c.VM.Trace,
		Stdout:             stdout,
	}
}

// CachePath returns the cache database path, resolved against Dir when
// relative.
func (c *Config) CachePath() string {
	if filepath.IsAbs(c.Cache.Path) || c.Dir == "" {
		return c.Cache.Path
	}
	return filepath.Join(c.Dir, c.Cache.Path)
}
