// Package cdk drives the infrastructure synthesis and deploy tool as child
// processes of the deployer.
package cdk

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"time"

	"github.com/awslabs/lisa-deployer/internal/workspace"
)

// ErrDeployFailed wraps a non-zero exit of the deploy subprocess.
var ErrDeployFailed = errors.New("cdk: deploy failed")

// ErrSynthFailed wraps a non-zero exit of the synthesis subprocess.
var ErrSynthFailed = errors.New("cdk: synth failed")

// LineSink receives one line of tool output at a time. The stream label is
// "stdout" or "stderr".
type LineSink func(stream, line string)

// Runner invokes the deploy tool binary.
type Runner struct {
	binary string
	logger *slog.Logger
}

// NewRunner constructs a Runner for the given tool binary.
func NewRunner(binary string, logger *slog.Logger) *Runner {
	if binary == "" {
		binary = "cdk"
	}
	return &Runner{binary: binary, logger: logger}
}

// Synth compiles the declarative stack definition into a deployable artifact
// without touching the cloud. It blocks until the tool exits; a non-zero exit
// aborts the whole deployment attempt before anything mutating starts.
func (r *Runner) Synth(ws *workspace.Workspace, sink LineSink) error {
	cmd := exec.Command(r.binary, "synth", "-o", ws.OutDir)
	cmd.Dir = ws.Dir
	attachOutput(cmd, sink)
	r.logger.Info("running synth", "binary", r.binary, "dir", ws.Dir, "out", ws.OutDir)
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%w: %v", ErrSynthFailed, err)
	}
	return nil
}

// Deploy applies the synthesized artifact for stackName, racing the child
// process against the timeout bound. Whichever settles first wins:
//
//   - exit 0: verified success
//   - non-zero exit: ErrDeployFailed, even if the timer is about to fire
//   - spawn failure: immediate error
//   - timer first: optimistic success with verified=false; the child keeps
//     running and is neither killed nor awaited, because the underlying cloud
//     change continues asynchronously and completion is confirmed out of band
//
// There is deliberately no cancellation path once the process has started.
func (r *Runner) Deploy(ws *workspace.Workspace, stackName string, bound time.Duration, sink LineSink) (bool, error) {
	cmd := exec.Command(r.binary, "deploy", stackName, "-o", ws.OutDir, "--require-approval", "never")
	cmd.Dir = ws.Dir
	attachOutput(cmd, sink)

	if err := cmd.Start(); err != nil {
		return false, fmt.Errorf("start deploy: %w", err)
	}
	r.logger.Info("running deploy", "stack", stackName, "pid", cmd.Process.Pid, "bound", bound)

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	timer := time.NewTimer(bound)
	defer timer.Stop()

	select {
	case err := <-done:
		if err != nil {
			return false, fmt.Errorf("%w: stack %s: %v", ErrDeployFailed, stackName, err)
		}
		return true, nil
	case <-timer.C:
		// The wait goroutine stays behind to reap the process when it exits.
		r.logger.Warn("deploy still running at timeout, reporting optimistic success", "stack", stackName, "bound", bound)
		return false, nil
	}
}

// attachOutput streams the child's stdout/stderr to the host process streams
// for live observability and, when a sink is provided, line by line to it.
func attachOutput(cmd *exec.Cmd, sink LineSink) {
	if sink == nil {
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
		return
	}
	cmd.Stdout = io.MultiWriter(os.Stdout, newLineWriter("stdout", sink))
	cmd.Stderr = io.MultiWriter(os.Stderr, newLineWriter("stderr", sink))
}
