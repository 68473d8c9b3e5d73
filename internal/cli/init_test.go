package cli

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/valter-silva-au/questsync/internal/core"
)

func TestInitCmd(t *testing.T) {
	orig := WorkspaceInit
	defer func() { WorkspaceInit = orig }()
	WorkspaceInit = core.NewWorkspaceInitializer()

	dir := filepath.Join(t.TempDir(), "replica")
	out, _, err := runCmd(t, initCmd, dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "Created:") || !strings.Contains(out, ".qsyncconfig.yaml") {
		t.Errorf("output = %q", out)
	}
	if _, err := os.Stat(filepath.Join(dir, ".qsyncconfig.yaml")); err != nil {
		t.Errorf("config not written: %v", err)
	}

	out, _, err = runCmd(t, initCmd, dir)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if strings.Contains(out, "Created:") || !strings.Contains(out, "Skipped (already exist):") {
		t.Errorf("second run output = %q", out)
	}
}

func TestInitCmd_NotInitialized(t *testing.T) {
	orig := WorkspaceInit
	defer func() { WorkspaceInit = orig }()
	WorkspaceInit = nil

	_, _, err := runCmd(t, initCmd)
	if err == nil || !strings.Contains(err.Error(), "not initialized") {
		t.Fatalf("err = %v", err)
	}
}
