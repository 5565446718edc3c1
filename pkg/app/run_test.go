package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestResolveConfigPath_Explicit(t *testing.T) {
	t.Setenv("TIERLLM_CONFIG", "/from/env.yaml")

	got, err := ResolveConfigPath("/explicit.yaml")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "/explicit.yaml" {
		t.Errorf("got %q, want %q", got, "/explicit.yaml")
	}
}

func TestResolveConfigPath_Env(t *testing.T) {
	t.Setenv("TIERLLM_CONFIG", "/from/env.yaml")

	got, err := ResolveConfigPath("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "/from/env.yaml" {
		t.Errorf("got %q, want %q", got, "/from/env.yaml")
	}
}

func TestResolveConfigPath_XDGConfigHome(t *testing.T) {
	t.Setenv("TIERLLM_CONFIG", "")
	chdir(t, t.TempDir())

	dir := t.TempDir()
	cfgDir := filepath.Join(dir, "tierllm")
	if err := os.MkdirAll(cfgDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	cfgPath := filepath.Join(cfgDir, "tierllm.yaml")
	if err := os.WriteFile(cfgPath, []byte("version: \"1\""), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("XDG_CONFIG_HOME", dir)

	got, err := ResolveConfigPath("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != cfgPath {
		t.Errorf("got %q, want %q", got, cfgPath)
	}
}

func TestResolveConfigPath_WorkingDirFirst(t *testing.T) {
	t.Setenv("TIERLLM_CONFIG", "")
	wd := t.TempDir()
	chdir(t, wd)
	if err := os.WriteFile("tierllm.yaml", []byte("version: \"1\""), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	xdg := t.TempDir()
	_ = os.MkdirAll(filepath.Join(xdg, "tierllm"), 0o755)
	_ = os.WriteFile(filepath.Join(xdg, "tierllm", "tierllm.yaml"), []byte("version: \"1\""), 0o644)
	t.Setenv("XDG_CONFIG_HOME", xdg)

	got, err := ResolveConfigPath("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "tierllm.yaml" {
		t.Errorf("got %q, want ./tierllm.yaml", got)
	}
}

func TestResolveConfigPath_NotFound(t *testing.T) {
	t.Setenv("TIERLLM_CONFIG", "")
	t.Setenv("XDG_CONFIG_HOME", "/nonexistent/path")
	chdir(t, t.TempDir())

	if _, err := ResolveConfigPath(""); err == nil {
		t.Error("expected error when no config file found")
	}
}

func TestDefaultDataDir_XDGDataHome(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", "/custom/data")
	if got, want := DefaultDataDir(), "/custom/data/tierllm"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestDefaultDataDir_Fallback(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", "")

	home, _ := os.UserHomeDir()
	if got, want := DefaultDataDir(), filepath.Join(home, ".local", "share", "tierllm"); got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestRun_InvalidConfigPath(t *testing.T) {
	if err := Run(context.Background(), RunParams{ConfigPath: "/nonexistent/config.yaml"}); err == nil {
		t.Error("expected error for invalid config path")
	}
}

func TestRun_InvalidConfigContent(t *testing.T) {
	path := writeConfig(t, "not: valid: yaml: [")
	if err := Run(context.Background(), RunParams{ConfigPath: path}); err == nil {
		t.Error("expected error for invalid YAML")
	}
}

func TestRun_ValidationFailure(t *testing.T) {
	path := writeConfig(t, "modules:\n  engine.llamacpp: {}\n")
	if err := Run(context.Background(), RunParams{ConfigPath: path}); err == nil {
		t.Error("expected validation error")
	}
}

func TestBuild_ProvisionsModules(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, `version: "1"
modules:
  engine.llamacpp:
    base_url: http://127.0.0.1:1
  chatlog.sqlite:
    path: `+filepath.Join(dir, "chat.db")+`
  model.manager:
    model_path: /models/tiny.gguf
    profile: constrained
    dialect: zephyr
`)

	rt, err := Build(context.Background(), RunParams{ConfigPath: path, DataDir: dir})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer rt.Close()

	want := []string{"engine.llamacpp", "chatlog.sqlite", "model.manager"}
	if len(rt.ModuleIDs) != len(want) {
		t.Fatalf("ModuleIDs = %v, want %v", rt.ModuleIDs, want)
	}
	for i := range want {
		if rt.ModuleIDs[i] != want[i] {
			t.Errorf("ModuleIDs[%d] = %q, want %q", i, rt.ModuleIDs[i], want[i])
		}
	}

	m, err := rt.Manager()
	if err != nil {
		t.Fatalf("Manager: %v", err)
	}
	if m.IsInitialized() {
		t.Error("model loaded by Build, want lazy")
	}
	if _, ok := rt.Recorder(); !ok {
		t.Error("chat log recorder not registered")
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tierllm.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	return path
}

func chdir(t *testing.T, dir string) {
	t.Helper()
	orig, _ := os.Getwd()
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	t.Cleanup(func() { _ = os.Chdir(orig) })
}
