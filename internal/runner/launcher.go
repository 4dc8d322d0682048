package runner

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/shlex"
	"github.com/joho/godotenv"
	"github.com/signalnine/matchbench/internal/config"
	"github.com/signalnine/matchbench/internal/docker"
	"github.com/signalnine/matchbench/internal/process"
)

// RanksPlaceholder is replaced by the cell's rank count in launch commands
// and environment values.
const RanksPlaceholder = "{ranks}"

// Spec fully describes one cell of a sweep.
type Spec struct {
	Algorithm  string
	Executable string
	Ranks      int
	Pattern    string
	Corpus     string
	Trials     int
	Timeout    time.Duration
}

// Launcher starts one trial of a cell and returns what the program left
// behind. Implementations return process.ErrLaunch and process.ErrTimeout for
// the corresponding failures; a non-zero exit is reported in the result.
type Launcher interface {
	Launch(ctx context.Context, spec *Spec) (*process.Result, error)
}

// NewLauncher builds the launcher selected by cfg.Launcher.Kind.
func NewLauncher(cfg *config.Config, logger *slog.Logger) (Launcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	env, err := LauncherEnv(cfg.Launcher.EnvFile, cfg.Launcher.Env)
	if err != nil {
		return nil, err
	}
	switch cfg.Launcher.Kind {
	case config.LauncherExec, config.LauncherDirect, "":
		command := cfg.Launcher.Command
		if cfg.Launcher.Kind == config.LauncherDirect {
			command = ""
		}
		return NewExecLauncher(command, env, logger)
	case config.LauncherDocker:
		return NewDockerLauncher(cfg.Launcher.Command, env, &cfg.Launcher.Docker, logger)
	default:
		return nil, fmt.Errorf("unknown launcher kind %q", cfg.Launcher.Kind)
	}
}

// LauncherEnv merges the dotenv file at envFile (if any) with env; entries in
// env win.
func LauncherEnv(envFile string, env map[string]string) (map[string]string, error) {
	merged := map[string]string{}
	if envFile != "" {
		fileEnv, err := godotenv.Read(envFile)
		if err != nil {
			return nil, fmt.Errorf("reading launcher env file %s: %w", envFile, err)
		}
		for k, v := range fileEnv {
			merged[k] = v
		}
	}
	for k, v := range env {
		merged[k] = v
	}
	return merged, nil
}

// ExecLauncher runs the executable on the host, optionally behind a launch
// prefix such as "mpirun -np {ranks}".
type ExecLauncher struct {
	prefix []string
	env    map[string]string
	logger *slog.Logger
}

func NewExecLauncher(command string, env map[string]string, logger *slog.Logger) (*ExecLauncher, error) {
	prefix, err := shlex.Split(command)
	if err != nil {
		return nil, fmt.Errorf("parsing launch command %q: %w", command, err)
	}
	return &ExecLauncher{prefix: prefix, env: env, logger: logger}, nil
}

// Command returns the process invocation for spec without running it.
func (l *ExecLauncher) Command(spec *Spec) *process.Command {
	argv := commandLine(l.prefix, spec)
	return &process.Command{
		Path:    argv[0],
		Args:    argv[1:],
		Env:     envList(l.env, spec.Ranks),
		Timeout: spec.Timeout,
	}
}

func (l *ExecLauncher) Launch(ctx context.Context, spec *Spec) (*process.Result, error) {
	cmd := l.Command(spec)
	l.logger.Debug("launching",
		slog.String("path", cmd.Path),
		slog.String("args", strings.Join(cmd.Args, " ")),
		slog.Duration("timeout", cmd.Timeout),
	)
	return process.Run(ctx, cmd)
}

// DockerLauncher runs each trial in a fresh container. The launch prefix and
// executable paths are interpreted inside the container.
type DockerLauncher struct {
	prefix      []string
	env         map[string]string
	image       string
	mounts      []docker.Mount
	cpusPerRank float64
	memoryLimit int64
	workDir     string
	user        string
	logger      *slog.Logger

	run func(ctx context.Context, opts *docker.RunOpts) (*docker.RunResult, error)
}

func NewDockerLauncher(command string, env map[string]string, cfg *config.Docker, logger *slog.Logger) (*DockerLauncher, error) {
	prefix, err := shlex.Split(command)
	if err != nil {
		return nil, fmt.Errorf("parsing launch command %q: %w", command, err)
	}
	mounts := make([]docker.Mount, 0, len(cfg.Mounts))
	for _, spec := range cfg.Mounts {
		m, err := docker.ParseMount(spec)
		if err != nil {
			return nil, err
		}
		mounts = append(mounts, m)
	}
	return &DockerLauncher{
		prefix:      prefix,
		env:         env,
		image:       cfg.Image,
		mounts:      mounts,
		cpusPerRank: cfg.CPUsPerRank,
		memoryLimit: cfg.MemoryLimit,
		workDir:     cfg.WorkDir,
		user:        cfg.User,
		logger:      logger,
		run:         docker.RunContainer,
	}, nil
}

// RunOpts returns the container options for spec without starting it.
func (l *DockerLauncher) RunOpts(spec *Spec) *docker.RunOpts {
	env := make(map[string]string, len(l.env))
	for k, v := range l.env {
		env[k] = expandRanks(v, spec.Ranks)
	}
	return &docker.RunOpts{
		Image:       l.image,
		Command:     commandLine(l.prefix, spec),
		WorkDir:     l.workDir,
		Env:         env,
		Timeout:     spec.Timeout,
		Mounts:      l.mounts,
		CPULimit:    l.cpusPerRank * float64(spec.Ranks),
		MemoryLimit: l.memoryLimit,
		UserID:      l.user,
	}
}

func (l *DockerLauncher) Launch(ctx context.Context, spec *Spec) (*process.Result, error) {
	opts := l.RunOpts(spec)
	l.logger.Debug("launching container",
		slog.String("image", opts.Image),
		slog.String("cmd", strings.Join(opts.Command, " ")),
		slog.Float64("cpus", opts.CPULimit),
	)
	res, err := l.run(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", process.ErrLaunch, l.image, err)
	}
	if res.TimedOut {
		return nil, fmt.Errorf("%w: %s in %s after %s", process.ErrTimeout, spec.Executable, l.image, res.Duration.Round(time.Millisecond))
	}
	// The container TTY merges both streams, so the output doubles as stderr
	// for failure logging.
	return &process.Result{
		ExitCode: res.ExitCode,
		Stdout:   res.Output,
		Stderr:   res.Output,
		Duration: res.Duration,
	}, nil
}

func commandLine(prefix []string, spec *Spec) []string {
	argv := make([]string, 0, len(prefix)+3)
	for _, arg := range prefix {
		argv = append(argv, expandRanks(arg, spec.Ranks))
	}
	return append(argv, spec.Executable, spec.Pattern, spec.Corpus)
}

func envList(env map[string]string, ranks int) []string {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	list := make([]string, 0, len(keys))
	for _, k := range keys {
		list = append(list, k+"="+expandRanks(env[k], ranks))
	}
	return list
}

func expandRanks(s string, ranks int) string {
	return strings.ReplaceAll(s, RanksPlaceholder, strconv.Itoa(ranks))
}
