package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment overrides applied by Parse.
const (
	// EnvProcess overrides the process index.
	EnvProcess = "CKPTDIR_PROCESS"

	// EnvBarrierSession overrides barrier.session. Launchers typically set
	// it to a job or run id.
	EnvBarrierSession = "CKPTDIR_BARRIER_SESSION"
)

// Defaults applied by Parse.
const (
	DefaultBarrierKind         = "noop"
	DefaultBarrierTimeout      = 300 * time.Second
	DefaultBarrierPollInterval = 100 * time.Millisecond
	DefaultTemporaryPath       = "auto"
	DefaultMetadataBackend     = "file"
)

// Settings is the parsed configuration of one participating process.
type Settings struct {
	// Storage is the root URI checkpoints live under (a local path or
	// gs://bucket/prefix).
	Storage string

	// Process is this process's index.
	Process int

	// PrimaryProcess is the index of the coordinator.
	PrimaryProcess int

	// AllPrimary makes every process its own coordinator, for
	// process-local storage.
	AllPrimary bool

	// Participants lists the processes taking part in barriers. Empty
	// means all processes.
	Participants []int

	Barrier BarrierSettings

	// BarrierKeyPrefix namespaces barrier keys of concurrent savers.
	BarrierKeyPrefix string

	// PathPermissionMode is the mode for created directories. Zero selects
	// the library default.
	PathPermissionMode fs.FileMode

	// TemporaryPath selects the strategy: auto, rename or sentinel.
	TemporaryPath string

	Metadata MetadataSettings
}

// BarrierSettings configures the rendezvous implementation.
type BarrierSettings struct {
	// Kind is noop or file.
	Kind string

	// Dir holds marker files for the file barrier.
	Dir string

	// Size is the total number of processes.
	Size int

	Timeout      time.Duration
	PollInterval time.Duration

	// Session must be identical across the processes of one run and must
	// differ between runs. Required by the file barrier.
	Session string
}

// MetadataSettings configures where step metadata is kept.
type MetadataSettings struct {
	// Backend is file, memory, sqlite, badger or none.
	Backend string

	// Path is the database location for sqlite and badger.
	Path string
}

// Load reads settings from a YAML or JSON file.
func Load(path string) (Settings, error) {
	cfg, err := FromFile(path)
	if err != nil {
		return Settings{}, err
	}
	return Parse(cfg)
}

// Parse extracts Settings from cfg, applies defaults and the environment
// override, and validates the result.
func Parse(cfg Config) (Settings, error) {
	barrier := cfg.Sub("barrier")
	meta := cfg.Sub("metadata")

	s := Settings{
		Storage:        cfg.String("storage", ""),
		Process:        cfg.Int("process", 0),
		PrimaryProcess: cfg.Int("primary_process", 0),
		AllPrimary:     cfg.Bool("all_primary", false),
		Participants:   cfg.IntSlice("participants", nil),
		Barrier: BarrierSettings{
			Kind:         barrier.String("kind", DefaultBarrierKind),
			Dir:          barrier.String("dir", ""),
			Size:         barrier.Int("size", 0),
			Timeout:      barrier.Duration("timeout", DefaultBarrierTimeout),
			PollInterval: barrier.Duration("poll_interval", DefaultBarrierPollInterval),
			Session:      barrier.String("session", ""),
		},
		BarrierKeyPrefix:   cfg.String("barrier_key_prefix", ""),
		PathPermissionMode: cfg.FileMode("path_permission_mode", 0),
		TemporaryPath:      cfg.String("temporary_path", DefaultTemporaryPath),
		Metadata: MetadataSettings{
			Backend: meta.String("backend", DefaultMetadataBackend),
			Path:    meta.String("path", ""),
		},
	}

	if v, ok := os.LookupEnv(EnvProcess); ok {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return Settings{}, fmt.Errorf("%s: %w", EnvProcess, err)
		}
		s.Process = n
	}
	if v, ok := os.LookupEnv(EnvBarrierSession); ok {
		s.Barrier.Session = strings.TrimSpace(v)
	}

	if s.Barrier.Size == 0 {
		s.Barrier.Size = 1
		for _, p := range s.Participants {
			if p+1 > s.Barrier.Size {
				s.Barrier.Size = p + 1
			}
		}
	}

	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// Validate reports every invalid field.
func (s Settings) Validate() error {
	var errs []error
	if s.Process < 0 {
		errs = append(errs, fmt.Errorf("process must be non-negative, got %d", s.Process))
	}
	if s.PrimaryProcess < 0 {
		errs = append(errs, fmt.Errorf("primary_process must be non-negative, got %d", s.PrimaryProcess))
	}
	if s.Barrier.Size > 0 && s.Process >= s.Barrier.Size {
		errs = append(errs, fmt.Errorf("process %d out of range for %d processes", s.Process, s.Barrier.Size))
	}
	for _, p := range s.Participants {
		if p < 0 || p >= s.Barrier.Size {
			errs = append(errs, fmt.Errorf("participant %d out of range for %d processes", p, s.Barrier.Size))
		}
	}

	switch s.Barrier.Kind {
	case "noop":
	case "file":
		if s.Barrier.Dir == "" {
			errs = append(errs, errors.New("barrier.dir is required for the file barrier"))
		}
		if s.Barrier.Session == "" {
			errs = append(errs, fmt.Errorf("barrier.session (or %s) is required for the file barrier", EnvBarrierSession))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown barrier.kind %q", s.Barrier.Kind))
	}
	if s.Barrier.Timeout < 0 {
		errs = append(errs, fmt.Errorf("barrier.timeout must be non-negative, got %s", s.Barrier.Timeout))
	}

	switch s.TemporaryPath {
	case "auto", "rename", "sentinel":
	default:
		errs = append(errs, fmt.Errorf("unknown temporary_path %q", s.TemporaryPath))
	}

	switch s.Metadata.Backend {
	case "file", "memory", "none":
	case "sqlite", "badger":
		if s.Metadata.Path == "" {
			errs = append(errs, fmt.Errorf("metadata.path is required for the %s backend", s.Metadata.Backend))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown metadata.backend %q", s.Metadata.Backend))
	}
	return errors.Join(errs...)
}

// IsCoordinator reports whether these settings describe the coordinating
// process.
func (s Settings) IsCoordinator() bool {
	return s.AllPrimary || s.Process == s.PrimaryProcess
}

// FromFile loads configuration from a file, choosing the format by
// extension: .yaml, .yml or .json.
func FromFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		return FromYAML(data)
	case ".json":
		return FromJSON(data)
	default:
		return Config{}, fmt.Errorf("unsupported config file extension: %s", ext)
	}
}

// FromYAML parses YAML data into a Config.
func FromYAML(data []byte) (Config, error) {
	var m map[string]any
	if err := yaml.Unmarshal(data, &m); err != nil {
		return Config{}, fmt.Errorf("parse yaml: %w", err)
	}
	return New(m), nil
}

// FromJSON parses JSON data into a Config.
func FromJSON(data []byte) (Config, error) {
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return Config{}, fmt.Errorf("parse json: %w", err)
	}
	return New(m), nil
}
