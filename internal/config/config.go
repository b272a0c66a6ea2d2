// Package config loads the crochet configuration file and its environment
// overlay.
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"crochet/internal/cache"
	"crochet/internal/daemon"
	"crochet/internal/logging"
)

const (
	EnvLogLevel      = "CROCHET_LOG_LEVEL"
	EnvCacheDir      = "CROCHET_CACHE_DIR"
	EnvAssetsAfter   = "CROCHET_REMOVE_ASSETS_AFTER"
	EnvOutputsAfter  = "CROCHET_REMOVE_OUTPUTS_AFTER"
	EnvLocksAfter    = "CROCHET_REMOVE_LOCKS_AFTER"
	EnvWorkerPropPfx = "CROCHET_WORKER_PROP_"

	// Worker system properties.
	PropLogLevel          = "org.slf4j.simpleLogger.defaultLogLevel"
	PropParallelismGroups = "dev.lukebemish.taskgraphrunner.parallelism.groups"
	PropHideStacktrace    = "dev.lukebemish.crochet.wrappers.hidestacktrace"
	heavyPropFormat       = "dev.lukebemish.taskgraphrunner.%s.heavy"

	DefaultMainClass        = "dev.lukebemish.taskgraphrunner.cli.Main"
	DefaultParallelismGroup = "jst+decompile+remapMods"
)

type Config struct {
	CacheDir  string          `yaml:"cache_dir" json:"cache_dir"`
	WorkDir   string          `yaml:"work_dir" json:"work_dir"`
	Log       LogConfig       `yaml:"log" json:"log"`
	Worker    WorkerConfig    `yaml:"worker" json:"worker"`
	Retention RetentionConfig `yaml:"retention" json:"retention"`
}

type LogConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
}

type WorkerConfig struct {
	Executable        string            `yaml:"executable" json:"executable"`
	Classpath         []string          `yaml:"classpath" json:"classpath"`
	MainClass         string            `yaml:"main_class" json:"main_class"`
	Args              []string          `yaml:"args" json:"args"`
	JVMOptions        []string          `yaml:"jvm_options" json:"jvm_options"`
	Properties        map[string]string `yaml:"properties" json:"properties"`
	ParallelismGroups []string          `yaml:"parallelism_groups" json:"parallelism_groups"`
	HeavyGroups       []string          `yaml:"heavy_groups" json:"heavy_groups"`
	HideStacktrace    bool              `yaml:"hide_stacktrace" json:"hide_stacktrace"`
	CloseGraceMS      int               `yaml:"close_grace_ms" json:"close_grace_ms"`
}

// RetentionConfig holds retention in days. Unset fields take the cache
// defaults; 0 disables removal.
type RetentionConfig struct {
	AssetsDays  *int `yaml:"assets_days" json:"assets_days"`
	OutputsDays *int `yaml:"outputs_days" json:"outputs_days"`
	LocksDays   *int `yaml:"locks_days" json:"locks_days"`
}

// Retention returns the effective retention.
func (r RetentionConfig) Retention() cache.Retention {
	out := cache.DefaultRetention()
	if r.AssetsDays != nil {
		out.AssetsDays = *r.AssetsDays
	}
	if r.OutputsDays != nil {
		out.OutputsDays = *r.OutputsDays
	}
	if r.LocksDays != nil {
		out.LocksDays = *r.LocksDays
	}
	return out
}

// Load reads the config file at path, overlays the environment and any .env
// file next to it, applies defaults and validates. Relative paths are taken
// relative to the config file.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		if err := decodeJSONStrict(b, &cfg); err != nil {
			return nil, fmt.Errorf("config %s: %w", path, err)
		}
	default:
		if err := decodeYAMLStrict(b, &cfg); err != nil {
			return nil, fmt.Errorf("config %s: %w", path, err)
		}
	}

	dir := filepath.Dir(path)
	// Missing .env files are fine; existing environment variables win.
	_ = godotenv.Load(filepath.Join(dir, ".env"))
	if err := cfg.applyEnv(os.Environ()); err != nil {
		return nil, err
	}
	cfg.applyDefaults(dir)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the configuration used without a config file, rooted at
// dir and overlaid with the environment.
func Default(dir string) (*Config, error) {
	var cfg Config
	if err := cfg.applyEnv(os.Environ()); err != nil {
		return nil, err
	}
	cfg.applyDefaults(dir)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func decodeJSONStrict(b []byte, cfg *Config) error {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return err
	}
	var trailing any
	if err := dec.Decode(&trailing); err != io.EOF {
		if err == nil {
			return fmt.Errorf("json: multiple top-level values are not allowed")
		}
		return err
	}
	return nil
}

func decodeYAMLStrict(b []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return err
	}
	var trailing any
	if err := dec.Decode(&trailing); err != io.EOF {
		if err == nil {
			return fmt.Errorf("yaml: multiple documents are not allowed")
		}
		return err
	}
	return nil
}

func (c *Config) applyEnv(environ []string) error {
	for _, kv := range environ {
		key, value, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		switch key {
		case EnvLogLevel:
			c.Log.Level = value
		case EnvCacheDir:
			c.CacheDir = value
		case EnvAssetsAfter, EnvOutputsAfter, EnvLocksAfter:
			days, err := strconv.Atoi(strings.TrimSpace(value))
			if err != nil {
				return fmt.Errorf("%s: invalid number of days %q", key, value)
			}
			switch key {
			case EnvAssetsAfter:
				c.Retention.AssetsDays = &days
			case EnvOutputsAfter:
				c.Retention.OutputsDays = &days
			default:
				c.Retention.LocksDays = &days
			}
		default:
			if prop, ok := strings.CutPrefix(key, EnvWorkerPropPfx); ok && prop != "" {
				if c.Worker.Properties == nil {
					c.Worker.Properties = map[string]string{}
				}
				c.Worker.Properties[prop] = value
			}
		}
	}
	return nil
}

func (c *Config) applyDefaults(dir string) {
	if c.CacheDir == "" {
		c.CacheDir = filepath.Join(".crochet", "cache")
	}
	if c.WorkDir == "" {
		c.WorkDir = filepath.Join(".crochet", "work")
	}
	c.CacheDir = absFrom(dir, c.CacheDir)
	c.WorkDir = absFrom(dir, c.WorkDir)
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = logging.FormatConsole
	}
	if c.Worker.Executable == "" {
		c.Worker.Executable = "java"
	}
	if c.Worker.MainClass == "" {
		c.Worker.MainClass = DefaultMainClass
	}
	for i, p := range c.Worker.Classpath {
		c.Worker.Classpath[i] = absFrom(dir, p)
	}
	if c.Worker.ParallelismGroups == nil {
		c.Worker.ParallelismGroups = []string{DefaultParallelismGroup}
	}
	if c.Worker.HeavyGroups == nil {
		c.Worker.HeavyGroups = []string{DefaultParallelismGroup}
	}
	if c.Worker.CloseGraceMS == 0 {
		c.Worker.CloseGraceMS = int(daemon.DefaultCloseGrace / time.Millisecond)
	}
}

func absFrom(dir, p string) string {
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	if abs, err := filepath.Abs(filepath.Join(dir, p)); err == nil {
		return abs
	}
	return filepath.Join(dir, p)
}

func (c *Config) Validate() error {
	var errs []error
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	switch c.Log.Format {
	case logging.FormatConsole, logging.FormatJSON:
	default:
		errs = append(errs, fmt.Errorf("log.format: must be %q or %q, got %q", logging.FormatConsole, logging.FormatJSON, c.Log.Format))
	}
	if err := c.Retention.Retention().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("retention: %w", err))
	}
	if c.Worker.CloseGraceMS < 0 {
		errs = append(errs, errors.New("worker.close_grace_ms must be >= 0"))
	}
	heavy := make(map[string]struct{}, len(c.Worker.ParallelismGroups))
	for _, g := range c.Worker.ParallelismGroups {
		if strings.TrimSpace(g) == "" || strings.Contains(g, ",") {
			errs = append(errs, fmt.Errorf("worker.parallelism_groups: invalid group %q", g))
		}
		heavy[g] = struct{}{}
	}
	for _, g := range c.Worker.HeavyGroups {
		if _, ok := heavy[g]; !ok {
			errs = append(errs, fmt.Errorf("worker.heavy_groups: %q is not a parallelism group", g))
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return errors.Join(errs...)
}

// workerLogLevel maps a zap level name to the worker's logger levels.
func workerLogLevel(level string) string {
	switch strings.ToLower(level) {
	case "debug":
		return "debug"
	case "warn":
		return "warn"
	case "error", "dpanic", "panic", "fatal":
		return "error"
	}
	return "info"
}

// LaunchSpec describes the worker process.
func (c *Config) LaunchSpec() daemon.LaunchSpec {
	props := map[string]string{
		"stdout.encoding": "UTF-8",
		"stderr.encoding": "UTF-8",
		PropLogLevel:      workerLogLevel(c.Log.Level),
	}
	if len(c.Worker.ParallelismGroups) > 0 {
		props[PropParallelismGroups] = strings.Join(c.Worker.ParallelismGroups, ",")
	}
	for _, g := range c.Worker.HeavyGroups {
		props[fmt.Sprintf(heavyPropFormat, g)] = "true"
	}
	if c.Worker.HideStacktrace {
		props[PropHideStacktrace] = "true"
	}
	for k, v := range c.Worker.Properties {
		props[k] = v
	}

	return daemon.LaunchSpec{
		Executable: c.Worker.Executable,
		Properties: props,
		JVMOptions: append([]string(nil), c.Worker.JVMOptions...),
		Classpath:  append([]string(nil), c.Worker.Classpath...),
		MainClass:  c.Worker.MainClass,
		Args:       append([]string(nil), c.Worker.Args...),
		CloseGrace: time.Duration(c.Worker.CloseGraceMS) * time.Millisecond,
	}
}
