//go:build integration

package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/signalnine/matchbench/internal/config"
	"github.com/signalnine/matchbench/internal/metrics"
	"github.com/signalnine/matchbench/internal/result"
	"github.com/signalnine/matchbench/internal/runner"
	"github.com/signalnine/matchbench/internal/sweep"
)

// createFixture writes stand-in algorithm programs into a directory that is
// mounted at the same path inside the container.
func createFixture(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "pattern.txt"), []byte("abc"), 0o644)
	os.WriteFile(filepath.Join(dir, "text.txt"), []byte("xxabcxxabc"), 0o644)
	os.WriteFile(filepath.Join(dir, "bf.sh"), []byte("#!/bin/sh\necho \"Matches: 2\"\necho \"Time(s): 0.010000\"\n"), 0o755)
	os.WriteFile(filepath.Join(dir, "hang.sh"), []byte("#!/bin/sh\nsleep 60\n"), 0o755)
	return dir
}

func TestDockerSweepIntegration(t *testing.T) {
	if os.Getenv("MATCHBENCH_DOCKER_TESTS") == "" {
		t.Skip("set MATCHBENCH_DOCKER_TESTS=1 to run integration tests")
	}

	fixtureDir := createFixture(t)
	cfg := &config.Config{
		Inputs: config.Inputs{
			Pattern: filepath.Join(fixtureDir, "pattern.txt"),
			Corpus:  filepath.Join(fixtureDir, "text.txt"),
		},
		Algorithms: []config.Algorithm{
			{Name: "BF", Executable: filepath.Join(fixtureDir, "bf.sh")},
			{Name: "HANG", Executable: filepath.Join(fixtureDir, "hang.sh"), Timeout: 5 * time.Second},
		},
		Ranks:  []int{1, 2},
		Trials: 2,
		Launcher: config.Launcher{
			Kind:    config.LauncherDocker,
			Command: "sh",
			Env:     map[string]string{"RANKS": "{ranks}"},
			Docker: config.Docker{
				Image:  "alpine:latest",
				Mounts: []string{fixtureDir + ":" + fixtureDir + ":ro"},
			},
		},
		Results: config.Results{Dir: t.TempDir()},
	}
	if err := config.Validate(cfg); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	launcher, err := runner.NewLauncher(cfg, nil)
	if err != nil {
		t.Fatalf("NewLauncher: %v", err)
	}
	agg := runner.NewAggregator(&runner.AggregatorOpts{Launcher: launcher})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	sw, err := sweep.New(sweep.OptionsFromConfig(cfg), agg, nil).Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(sw.Cells) != 2 {
		t.Fatalf("cells: got %+v, want BF@1 and BF@2", sw.Cells)
	}
	for _, c := range sw.Cells {
		if c.Algorithm != "BF" || c.Matches != 2 || c.MeanTime != 0.01 {
			t.Errorf("unexpected cell %+v", c)
		}
	}
	sw.Derived = metrics.Compute(sw.Cells)

	runDir, err := result.CreateRunDir(cfg.Results.Dir)
	if err != nil {
		t.Fatalf("CreateRunDir: %v", err)
	}
	if err := result.Save(runDir, sw); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if _, err := os.Stat(filepath.Join(runDir, result.SweepFile)); os.IsNotExist(err) {
		t.Error("sweep.json not created")
	}
}
