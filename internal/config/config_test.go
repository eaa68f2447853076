package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestNew_Defaults(t *testing.T) {
	t.Setenv(EnvConfigFile, "")
	t.Setenv(EnvDataDir, "")
	t.Setenv(EnvPort, "")

	cfg, err := New()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Port() != DefaultPort {
		t.Errorf("Port = %d, want %d", cfg.Port(), DefaultPort)
	}
	if cfg.SplitGuard() != DefaultSplitGuard || cfg.TextSpan() != DefaultTextSpan || cfg.ImageSpan() != DefaultImageSpan {
		t.Errorf("timeline defaults = %v/%v/%v", cfg.SplitGuard(), cfg.TextSpan(), cfg.ImageSpan())
	}
	if cfg.FireTolerance() != DefaultFireTolerance {
		t.Errorf("FireTolerance = %v", cfg.FireTolerance())
	}
	if cfg.CRF() != DefaultCRF || cfg.Preset() != DefaultPreset {
		t.Errorf("export defaults = %d/%s", cfg.CRF(), cfg.Preset())
	}
	if !cfg.CaptureEnabled() {
		t.Error("capture should be enabled by default")
	}
	if !strings.HasSuffix(cfg.DBPath(), DBFilename) {
		t.Errorf("DBPath = %q", cfg.DBPath())
	}
}

func TestNew_EnvOverrides(t *testing.T) {
	dir := t.TempDir()
	t.Setenv(EnvConfigFile, "")
	t.Setenv(EnvDataDir, dir)
	t.Setenv(EnvPort, "9000")
	t.Setenv(EnvSplitGuard, "0.25")
	t.Setenv(EnvCaptureEnabled, "false")
	t.Setenv(EnvAIEndpoint, "http://localhost:5000")

	cfg, err := New()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Port() != 9000 {
		t.Errorf("Port = %d, want 9000", cfg.Port())
	}
	if cfg.SplitGuard() != 0.25 {
		t.Errorf("SplitGuard = %v, want 0.25", cfg.SplitGuard())
	}
	if cfg.CaptureEnabled() {
		t.Error("capture should be disabled")
	}
	if cfg.AIEndpoint() != "http://localhost:5000" {
		t.Errorf("AIEndpoint = %q", cfg.AIEndpoint())
	}
	if cfg.ExportsDir() != filepath.Join(dir, "exports") {
		t.Errorf("ExportsDir = %q", cfg.ExportsDir())
	}
}

func TestNew_FileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "composer.yaml")
	yaml := `
port: 8100
data_dir: ` + dir + `
ffmpeg:
  path: /opt/ffmpeg/bin/ffmpeg
  render_timeout_minutes: 5
capture:
  enabled: false
ai:
  voice: Achernar
  timeout_seconds: 10
timeline:
  text_span: 4
export:
  crf: 18
  title: Demo Reel
`
	if err := os.WriteFile(path, []byte(yaml), 0644); err != nil {
		t.Fatal(err)
	}

	t.Setenv(EnvConfigFile, path)
	t.Setenv(EnvDataDir, "")
	t.Setenv(EnvPort, "8200")
	t.Setenv(EnvCRF, "")

	cfg, err := New()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Port() != 8200 {
		t.Errorf("env should win over file: Port = %d", cfg.Port())
	}
	if cfg.DataDir() != dir {
		t.Errorf("DataDir = %q, want %q", cfg.DataDir(), dir)
	}
	if cfg.FFmpegPath() != "/opt/ffmpeg/bin/ffmpeg" || cfg.RenderTimeout() != 5*time.Minute {
		t.Errorf("ffmpeg = %q/%v", cfg.FFmpegPath(), cfg.RenderTimeout())
	}
	if cfg.CaptureEnabled() {
		t.Error("file should disable capture")
	}
	if cfg.AIVoice() != "Achernar" || cfg.AITimeout() != 10*time.Second {
		t.Errorf("ai = %q/%v", cfg.AIVoice(), cfg.AITimeout())
	}
	if cfg.TextSpan() != 4 || cfg.ImageSpan() != DefaultImageSpan {
		t.Errorf("spans = %v/%v", cfg.TextSpan(), cfg.ImageSpan())
	}
	if cfg.CRF() != 18 || cfg.ProjectTitle() != "Demo Reel" {
		t.Errorf("export = %d/%q", cfg.CRF(), cfg.ProjectTitle())
	}
}

func TestNew_Invalid(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{"port not a number", EnvPort, "abc"},
		{"port out of range", EnvPort, "70000"},
		{"negative guard", EnvSplitGuard, "-1"},
		{"zero tolerance", EnvFireTolerance, "0"},
		{"crf too large", EnvCRF, "60"},
		{"bad bool", EnvCaptureEnabled, "maybe"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(EnvConfigFile, "")
			t.Setenv(tt.key, tt.val)
			if _, err := New(); err == nil {
				t.Errorf("New() with %s=%q: expected error", tt.key, tt.val)
			}
		})
	}
}

func TestNew_MissingFile(t *testing.T) {
	t.Setenv(EnvConfigFile, filepath.Join(t.TempDir(), "absent.yaml"))
	if _, err := New(); err == nil {
		t.Error("expected error for missing config file")
	}
}
