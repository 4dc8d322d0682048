package docker

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/moby/moby/api/types/container"
	"github.com/moby/moby/api/types/mount"
	"github.com/moby/moby/client"
)

// Label marks every container started by matchbench.
const Label = "matchbench"

type RunOpts struct {
	Image       string
	Command     []string
	WorkDir     string
	Env         map[string]string
	Timeout     time.Duration
	Mounts      []Mount
	CPULimit    float64
	MemoryLimit int64
	UserID      string
}

type Mount struct {
	Source   string
	Target   string
	ReadOnly bool
}

type RunResult struct {
	ExitCode int
	TimedOut bool
	Duration time.Duration
	// Output is the container's combined stdout and stderr. Containers run
	// with a TTY, so the stream is not multiplexed.
	Output string
}

// ParseMount parses "source:target[:ro]".
func ParseMount(spec string) (Mount, error) {
	parts := strings.Split(spec, ":")
	switch {
	case len(parts) == 2 && parts[0] != "" && parts[1] != "":
		return Mount{Source: parts[0], Target: parts[1]}, nil
	case len(parts) == 3 && parts[0] != "" && parts[1] != "" && (parts[2] == "ro" || parts[2] == "rw"):
		return Mount{Source: parts[0], Target: parts[1], ReadOnly: parts[2] == "ro"}, nil
	}
	return Mount{}, fmt.Errorf("invalid mount %q: want source:target[:ro]", spec)
}

func RunContainer(ctx context.Context, opts *RunOpts) (*RunResult, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("creating docker client: %w", err)
	}
	defer cli.Close()

	envSlice := make([]string, 0, len(opts.Env))
	for k, v := range opts.Env {
		envSlice = append(envSlice, k+"="+v)
	}

	mounts := make([]mount.Mount, 0, len(opts.Mounts))
	for _, m := range opts.Mounts {
		mounts = append(mounts, mount.Mount{
			Type:     mount.TypeBind,
			Source:   m.Source,
			Target:   m.Target,
			ReadOnly: m.ReadOnly,
		})
	}

	initTrue := true
	hostCfg := &container.HostConfig{
		Mounts: mounts,
		Init:   &initTrue,
	}
	// MPI ranks talk over shared memory.
	hostCfg.IpcMode = "host"
	if opts.CPULimit > 0 {
		hostCfg.NanoCPUs = int64(opts.CPULimit * 1e9)
	}
	if opts.MemoryLimit > 0 {
		hostCfg.Memory = opts.MemoryLimit
	}

	containerCfg := &container.Config{
		Image:      opts.Image,
		Cmd:        opts.Command,
		Env:        envSlice,
		WorkingDir: opts.WorkDir,
		Tty:        true,
		Labels:     map[string]string{Label: "true"},
	}
	if opts.UserID != "" {
		containerCfg.User = opts.UserID
	}

	createResp, err := cli.ContainerCreate(ctx, client.ContainerCreateOptions{
		Config:     containerCfg,
		HostConfig: hostCfg,
	})
	if err != nil {
		return nil, fmt.Errorf("creating container: %w", err)
	}
	containerID := createResp.ID
	defer func() {
		cli.ContainerRemove(context.Background(), containerID, client.ContainerRemoveOptions{Force: true})
	}()

	start := time.Now()
	if _, err := cli.ContainerStart(ctx, containerID, client.ContainerStartOptions{}); err != nil {
		return nil, fmt.Errorf("starting container: %w", err)
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	waitResult := cli.ContainerWait(timeoutCtx, containerID, client.ContainerWaitOptions{
		Condition: container.WaitConditionNotRunning,
	})
	errCh, resultCh := waitResult.Error, waitResult.Result
	for {
		select {
		case err := <-errCh:
			if err == nil {
				// A nil error only means this channel is done; keep waiting
				// for the status.
				errCh = nil
				continue
			}
			cli.ContainerKill(context.Background(), containerID, client.ContainerKillOptions{Signal: "SIGKILL"})
			if timeoutCtx.Err() == nil || ctx.Err() != nil {
				return nil, fmt.Errorf("waiting for container: %w", err)
			}
			return &RunResult{
				ExitCode: 124,
				TimedOut: true,
				Duration: time.Since(start),
				Output:   containerLogs(cli, containerID),
			}, nil
		case status := <-resultCh:
			return &RunResult{
				ExitCode: int(status.StatusCode),
				Duration: time.Since(start),
				Output:   containerLogs(cli, containerID),
			}, nil
		}
	}
}

func containerLogs(cli *client.Client, containerID string) string {
	logReader, _ := cli.ContainerLogs(context.Background(), containerID, client.ContainerLogsOptions{ShowStdout: true, ShowStderr: true})
	if logReader == nil {
		return ""
	}
	defer logReader.Close()
	logData, _ := io.ReadAll(logReader)
	return string(logData)
}
