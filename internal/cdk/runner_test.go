package cdk

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/awslabs/lisa-deployer/internal/workspace"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// writeTool installs a fake deploy tool script and returns its path.
func writeTool(t *testing.T, script string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cdk")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+script+"\n"), 0o755); err != nil {
		t.Fatalf("write tool script: %v", err)
	}
	return path
}

func testWorkspace(t *testing.T) *workspace.Workspace {
	t.Helper()
	project := t.TempDir()
	if err := os.WriteFile(filepath.Join(project, "cdk.json"), []byte("{}"), 0o644); err != nil {
		t.Fatalf("seed project: %v", err)
	}
	mgr, err := workspace.New(project, filepath.Join(t.TempDir(), "scratch"), "cdk.context.json")
	if err != nil {
		t.Fatalf("workspace manager: %v", err)
	}
	ws, err := mgr.Prepare()
	if err != nil {
		t.Fatalf("prepare workspace: %v", err)
	}
	return ws
}

func TestSynthSucceeds(t *testing.T) {
	tool := writeTool(t, `echo "synth ok"; exit 0`)
	runner := NewRunner(tool, testLogger())

	var mu sync.Mutex
	var lines []string
	sink := func(stream, line string) {
		mu.Lock()
		lines = append(lines, stream+": "+line)
		mu.Unlock()
	}
	if err := runner.Synth(testWorkspace(t), sink); err != nil {
		t.Fatalf("synth: %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(lines) == 0 || lines[0] != "stdout: synth ok" {
		t.Fatalf("expected streamed synth output, got %v", lines)
	}
}

func TestSynthFailureIsFatal(t *testing.T) {
	tool := writeTool(t, "exit 3")
	runner := NewRunner(tool, testLogger())
	err := runner.Synth(testWorkspace(t), nil)
	if !errors.Is(err, ErrSynthFailed) {
		t.Fatalf("expected ErrSynthFailed, got %v", err)
	}
}

func TestDeployResolvesOnCleanExit(t *testing.T) {
	tool := writeTool(t, "exit 0")
	runner := NewRunner(tool, testLogger())
	verified, err := runner.Deploy(testWorkspace(t), "lisa-prod-beta-vector-store-r1", time.Minute, nil)
	if err != nil {
		t.Fatalf("deploy: %v", err)
	}
	if !verified {
		t.Fatalf("clean exit must be reported verified")
	}
}

func TestDeployRejectsOnNonZeroExit(t *testing.T) {
	tool := writeTool(t, "exit 1")
	runner := NewRunner(tool, testLogger())
	_, err := runner.Deploy(testWorkspace(t), "stack", time.Minute, nil)
	if !errors.Is(err, ErrDeployFailed) {
		t.Fatalf("expected ErrDeployFailed, got %v", err)
	}
}

func TestDeployTimeoutIsOptimisticSuccess(t *testing.T) {
	tool := writeTool(t, "sleep 5; exit 0")
	runner := NewRunner(tool, testLogger())

	start := time.Now()
	verified, err := runner.Deploy(testWorkspace(t), "stack", 100*time.Millisecond, nil)
	elapsed := time.Since(start)

	if err != nil {
		t.Fatalf("timeout must resolve success, got %v", err)
	}
	if verified {
		t.Fatalf("timeout result must be unverified")
	}
	if elapsed >= 2*time.Second {
		t.Fatalf("deploy waited past the bound: %v", elapsed)
	}
}

func TestDeploySpawnErrorRejectsImmediately(t *testing.T) {
	runner := NewRunner(filepath.Join(t.TempDir(), "missing-binary"), testLogger())
	if _, err := runner.Deploy(testWorkspace(t), "stack", time.Minute, nil); err == nil {
		t.Fatalf("expected spawn error")
	}
}

func TestLineWriterSplitsChunks(t *testing.T) {
	var mu sync.Mutex
	var got []string
	w := newLineWriter("stdout", func(stream, line string) {
		mu.Lock()
		got = append(got, line)
		mu.Unlock()
	})

	_, _ = w.Write([]byte("first li"))
	_, _ = w.Write([]byte("ne\r\nsecond line\npartial"))

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 2 || got[0] != "first line" || got[1] != "second line" {
		t.Fatalf("unexpected lines %v", got)
	}
}
