package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

const (
	DefaultTrials        = 3
	DefaultTimeout       = 600 * time.Second
	DefaultLaunchCommand = "mpirun -np {ranks}"
	DefaultResultsDir    = "results"
)

// Launcher kinds.
const (
	LauncherExec   = "exec"
	LauncherDirect = "direct"
	LauncherDocker = "docker"
)

type Config struct {
	Inputs        Inputs        `yaml:"inputs"`
	Algorithms    []Algorithm   `yaml:"algorithms" validate:"required,min=1,dive"`
	Ranks         []int         `yaml:"ranks" validate:"required,min=1,dive,gt=0"`
	Trials        int           `yaml:"trials" validate:"gte=0"`
	Timeout       time.Duration `yaml:"timeout"`
	Parallel      int           `yaml:"parallel" validate:"gte=0"`
	StrictMatches bool          `yaml:"strict_matches"`
	Launcher      Launcher      `yaml:"launcher"`
	Parser        Parser        `yaml:"parser"`
	Results       Results       `yaml:"results"`
}

// Inputs are passed through to every executable as positional arguments.
type Inputs struct {
	Pattern string `yaml:"pattern" validate:"required"`
	Corpus  string `yaml:"corpus" validate:"required"`
}

type Algorithm struct {
	Name       string        `yaml:"name" validate:"required"`
	Executable string        `yaml:"executable" validate:"required"`
	Trials     int           `yaml:"trials" validate:"gte=0"`
	Timeout    time.Duration `yaml:"timeout"`
}

type Launcher struct {
	Kind    string            `yaml:"kind" validate:"omitempty,oneof=exec direct docker"`
	Command string            `yaml:"command"`
	Env     map[string]string `yaml:"env"`
	EnvFile string            `yaml:"env_file"`
	Docker  Docker            `yaml:"docker"`
}

type Docker struct {
	Image       string   `yaml:"image"`
	Mounts      []string `yaml:"mounts"`
	CPUsPerRank float64  `yaml:"cpus_per_rank" validate:"gte=0"`
	MemoryLimit int64    `yaml:"memory_limit" validate:"gte=0"`

	// WorkDir and User are passed to the container as-is.
	WorkDir string `yaml:"workdir"`
	User    string `yaml:"user"`
}

// Parser overrides the regular expressions used to scrape program output.
// Empty values keep the defaults.
type Parser struct {
	MatchesPattern string `yaml:"matches_pattern"`
	TimePattern    string `yaml:"time_pattern"`
}

type Results struct {
	Dir string `yaml:"dir"`
}

var validate = validator.New()

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return &cfg, nil
}

// Validate checks cfg and fills in defaults for unset fields.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return err
	}

	seen := make(map[string]bool, len(cfg.Algorithms))
	for i, a := range cfg.Algorithms {
		if seen[a.Name] {
			return fmt.Errorf("algorithm %d: duplicate name %q", i, a.Name)
		}
		seen[a.Name] = true
		if a.Timeout < 0 {
			return fmt.Errorf("algorithm %q: timeout must not be negative", a.Name)
		}
	}

	if cfg.Trials == 0 {
		cfg.Trials = DefaultTrials
	}
	if cfg.Timeout < 0 {
		return fmt.Errorf("timeout must not be negative")
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Parallel == 0 {
		cfg.Parallel = 1
	}

	if cfg.Launcher.Kind == "" {
		cfg.Launcher.Kind = LauncherExec
	}
	if cfg.Launcher.Command == "" && cfg.Launcher.Kind != LauncherDirect {
		cfg.Launcher.Command = DefaultLaunchCommand
	}
	if cfg.Launcher.Kind == LauncherDocker && cfg.Launcher.Docker.Image == "" {
		return fmt.Errorf("launcher: docker.image is required for the docker launcher")
	}

	if cfg.Results.Dir == "" {
		cfg.Results.Dir = DefaultResultsDir
	}
	return nil
}

// TrialsFor returns the trial count for a, falling back to the global count.
func (c *Config) TrialsFor(a *Algorithm) int {
	if a.Trials > 0 {
		return a.Trials
	}
	return c.Trials
}

// TimeoutFor returns the per-trial timeout for a, falling back to the global timeout.
func (c *Config) TimeoutFor(a *Algorithm) time.Duration {
	if a.Timeout > 0 {
		return a.Timeout
	}
	return c.Timeout
}
