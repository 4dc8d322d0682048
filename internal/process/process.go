// Package process launches one external program with a hard wall-clock
// timeout and captures its output.
package process

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"
)

var (
	// ErrLaunch is returned when the executable cannot be started.
	ErrLaunch = errors.New("process launch failed")
	// ErrTimeout is returned when the child outlives its timeout. The child's
	// process group has been killed by the time it is returned.
	ErrTimeout = errors.New("process timed out")
)

// waitDelay bounds how long Wait keeps draining pipes after the child is
// killed, in case an orphaned descendant still holds them open.
const waitDelay = 5 * time.Second

// Command describes one invocation.
type Command struct {
	Path string
	Args []string
	// Env is appended to the inherited environment.
	Env     []string
	Dir     string
	Timeout time.Duration
}

// Result is what a terminated child left behind. A non-zero ExitCode is not
// an error at this layer.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
}

// Run starts c, waits for it to exit and returns its captured output.
func Run(ctx context.Context, c *Command) (*Result, error) {
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, c.Path, c.Args...)
	cmd.Dir = c.Dir
	if len(c.Env) > 0 {
		cmd.Env = append(os.Environ(), c.Env...)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	setProcessGroup(cmd)
	cmd.WaitDelay = waitDelay

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrLaunch, c.Path, err)
	}
	err := cmd.Wait()
	elapsed := time.Since(start)

	// The program exited on its own but a descendant kept its output pipes
	// open past waitDelay. The run itself is complete.
	if errors.Is(err, exec.ErrWaitDelay) && cmd.ProcessState != nil && cmd.ProcessState.Exited() {
		err = nil
	}
	// Reap anything the program left running in its group.
	killGroup(cmd)

	if err != nil && ctx.Err() != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %s after %s", ErrTimeout, c.Path, elapsed.Round(time.Millisecond))
		}
		return nil, fmt.Errorf("%s: %w", c.Path, ctx.Err())
	}

	res := &Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: elapsed,
	}
	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		return nil, fmt.Errorf("waiting for %s: %w", c.Path, err)
	}
	res.ExitCode = cmd.ProcessState.ExitCode()
	return res, nil
}
