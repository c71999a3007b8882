// Package workspace prepares the writable scratch area the deploy tool runs
// in. The project directory ships read-only; the tool insists on writing a
// context cache next to its working directory, so every project entry is
// mirrored into a scratch directory via symlinks and the tool runs there.
package workspace

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

const outDirName = "cdk.out"

// Workspace is the prepared scratch area for one deploy tool invocation.
type Workspace struct {
	ProjectDir  string
	Dir         string
	OutDir      string
	ContextFile string
}

// Manager mirrors a project directory into scratch workspaces.
type Manager struct {
	projectDir  string
	scratchDir  string
	contextFile string
}

// New validates the project and scratch roots.
func New(projectDir, scratchDir, contextFile string) (*Manager, error) {
	if strings.TrimSpace(projectDir) == "" {
		return nil, errors.New("project directory cannot be empty")
	}
	if strings.TrimSpace(scratchDir) == "" {
		return nil, errors.New("scratch directory cannot be empty")
	}
	if strings.TrimSpace(contextFile) == "" {
		contextFile = "cdk.context.json"
	}
	abs, err := filepath.Abs(projectDir)
	if err != nil {
		return nil, fmt.Errorf("resolve project directory: %w", err)
	}
	return &Manager{projectDir: abs, scratchDir: scratchDir, contextFile: contextFile}, nil
}

// Prepare establishes the scratch mirror. It is safe to call repeatedly: links
// created by a previous call are tolerated, and the synth output directory is
// reset so every run starts from a clean slate. The context cache file is
// deliberately never linked, forcing the tool to re-resolve environment
// information rather than trust a stale cache.
func (m *Manager) Prepare() (*Workspace, error) {
	if err := os.MkdirAll(m.scratchDir, 0o755); err != nil {
		return nil, fmt.Errorf("create scratch directory: %w", err)
	}

	outDir := filepath.Join(m.scratchDir, outDirName)
	if err := os.RemoveAll(outDir); err != nil {
		return nil, fmt.Errorf("remove stale output directory: %w", err)
	}

	entries, err := os.ReadDir(m.projectDir)
	if err != nil {
		return nil, fmt.Errorf("read project directory: %w", err)
	}
	for _, entry := range entries {
		name := entry.Name()
		if name == m.contextFile || name == outDirName {
			continue
		}
		src := filepath.Join(m.projectDir, name)
		dst := filepath.Join(m.scratchDir, name)
		if err := os.Symlink(src, dst); err != nil {
			if errors.Is(err, fs.ErrExist) {
				continue
			}
			return nil, fmt.Errorf("link %s: %w", name, err)
		}
	}

	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}

	return &Workspace{
		ProjectDir:  m.projectDir,
		Dir:         m.scratchDir,
		OutDir:      outDir,
		ContextFile: m.contextFile,
	}, nil
}
