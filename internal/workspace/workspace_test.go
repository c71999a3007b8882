package workspace

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func TestPrepareLinksProjectEntries(t *testing.T) {
	project := t.TempDir()
	scratch := filepath.Join(t.TempDir(), "scratch")
	writeFile(t, project, "app.py", "print('stack')")
	writeFile(t, project, "cdk.json", `{"app":"python3 app.py"}`)
	writeFile(t, project, "cdk.context.json", `{"stale":"cache"}`)

	mgr, err := New(project, scratch, "cdk.context.json")
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	ws, err := mgr.Prepare()
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}

	for _, name := range []string{"app.py", "cdk.json"} {
		link := filepath.Join(ws.Dir, name)
		info, err := os.Lstat(link)
		if err != nil {
			t.Fatalf("lstat %s: %v", name, err)
		}
		if info.Mode()&os.ModeSymlink == 0 {
			t.Fatalf("expected %s to be a symlink", name)
		}
		target, err := os.Readlink(link)
		if err != nil {
			t.Fatalf("readlink %s: %v", name, err)
		}
		if target != filepath.Join(project, name) {
			t.Fatalf("link %s points at %s", name, target)
		}
	}

	if _, err := os.Lstat(filepath.Join(ws.Dir, "cdk.context.json")); !os.IsNotExist(err) {
		t.Fatalf("context cache file must not be linked, lstat err: %v", err)
	}

	info, err := os.Stat(ws.OutDir)
	if err != nil || !info.IsDir() {
		t.Fatalf("expected output directory, err %v", err)
	}
}

func TestPrepareIsIdempotent(t *testing.T) {
	project := t.TempDir()
	scratch := filepath.Join(t.TempDir(), "scratch")
	writeFile(t, project, "cdk.json", "{}")

	mgr, err := New(project, scratch, "cdk.context.json")
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	if _, err := mgr.Prepare(); err != nil {
		t.Fatalf("first prepare: %v", err)
	}
	if _, err := mgr.Prepare(); err != nil {
		t.Fatalf("second prepare must tolerate existing links: %v", err)
	}
}

func TestPrepareResetsOutputDirectory(t *testing.T) {
	project := t.TempDir()
	scratch := filepath.Join(t.TempDir(), "scratch")
	writeFile(t, project, "cdk.json", "{}")

	mgr, err := New(project, scratch, "cdk.context.json")
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	ws, err := mgr.Prepare()
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}
	stale := filepath.Join(ws.OutDir, "manifest.json")
	writeFile(t, ws.OutDir, "manifest.json", "{}")

	if _, err := mgr.Prepare(); err != nil {
		t.Fatalf("second prepare: %v", err)
	}
	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Fatalf("stale output must be removed, stat err: %v", err)
	}
}
