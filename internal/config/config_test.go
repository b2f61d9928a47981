package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/multierr"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	// Test renderer defaults
	if cfg.Renderer.Width != 1280 {
		t.Errorf("expected width 1280, got %d", cfg.Renderer.Width)
	}
	if cfg.Renderer.Height != 720 {
		t.Errorf("expected height 720, got %d", cfg.Renderer.Height)
	}
	if cfg.Renderer.Fullscreen {
		t.Error("expected fullscreen to be false by default")
	}
	if !cfg.Renderer.VSync {
		t.Error("expected vsync to be true by default")
	}
	if cfg.Renderer.Headless {
		t.Error("expected headless to be false by default")
	}

	// Test clear defaults
	if cfg.Clear.Depth != 1 {
		t.Errorf("expected clear depth 1, got %f", cfg.Clear.Depth)
	}
	if cfg.Clear.Color[3] != 1 {
		t.Errorf("expected opaque clear color, got alpha %f", cfg.Clear.Color[3])
	}

	// Test logging defaults
	if cfg.Logging.Level != "info" {
		t.Errorf("expected log level 'info', got %s", cfg.Logging.Level)
	}
	if cfg.Logging.LogFile != "" {
		t.Errorf("expected empty log file, got %s", cfg.Logging.LogFile)
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate, got %v", err)
	}
}

func TestLoadFromFile(t *testing.T) {
	// Create temporary config file
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	yamlContent := `
renderer:
  width: 1920
  height: 1080
  fullscreen: true
  vsync: false
  headless: true
  max_views: 32
  mirrored_uniforms: ["u_mvp"]

clear:
  color: [0, 0, 0, 1]
  depth: 0.5
  stencil: 3

capture:
  dir: "/tmp/shots"
  prefix: "shot"

logging:
  level: "debug"
  log_file: "render.log"
`

	if err := os.WriteFile(configPath, []byte(yamlContent), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	// Load config
	cfg := Default()
	if err := loadFromFile(cfg, configPath); err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	// Verify values were loaded
	if cfg.Renderer.Width != 1920 {
		t.Errorf("expected width 1920, got %d", cfg.Renderer.Width)
	}
	if cfg.Renderer.Height != 1080 {
		t.Errorf("expected height 1080, got %d", cfg.Renderer.Height)
	}
	if !cfg.Renderer.Fullscreen {
		t.Error("expected fullscreen to be true")
	}
	if cfg.Renderer.VSync {
		t.Error("expected vsync to be false")
	}
	if !cfg.Renderer.Headless {
		t.Error("expected headless to be true")
	}
	if cfg.Renderer.MaxViews != 32 {
		t.Errorf("expected max views 32, got %d", cfg.Renderer.MaxViews)
	}
	if len(cfg.Renderer.MirroredUniforms) != 1 || cfg.Renderer.MirroredUniforms[0] != "u_mvp" {
		t.Errorf("expected mirrored uniforms [u_mvp], got %v", cfg.Renderer.MirroredUniforms)
	}

	if cfg.Clear.Color != [4]float32{0, 0, 0, 1} {
		t.Errorf("expected black clear color, got %v", cfg.Clear.Color)
	}
	if cfg.Clear.Depth != 0.5 {
		t.Errorf("expected clear depth 0.5, got %f", cfg.Clear.Depth)
	}
	if cfg.Clear.Stencil != 3 {
		t.Errorf("expected clear stencil 3, got %d", cfg.Clear.Stencil)
	}

	if cfg.Capture.Dir != "/tmp/shots" || cfg.Capture.Prefix != "shot" {
		t.Errorf("unexpected capture config %+v", cfg.Capture)
	}

	if cfg.Logging.Level != "debug" {
		t.Errorf("expected log level 'debug', got %s", cfg.Logging.Level)
	}
	if cfg.Logging.LogFile != "render.log" {
		t.Errorf("expected log file 'render.log', got %s", cfg.Logging.LogFile)
	}
}

func TestLoadFromFileInvalid(t *testing.T) {
	// Create temporary config file with invalid YAML
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "invalid.yaml")

	invalidYAML := `
renderer:
  width: not a number
  invalid syntax here
`

	if err := os.WriteFile(configPath, []byte(invalidYAML), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	// Try to load - should error
	cfg := Default()
	err := loadFromFile(cfg, configPath)
	if err == nil {
		t.Error("expected error loading invalid YAML, got nil")
	}
}

func TestLoadFromFileMissing(t *testing.T) {
	cfg := Default()
	err := loadFromFile(cfg, "/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("expected error loading missing file, got nil")
	}
}

func TestValidateCollectsAllErrors(t *testing.T) {
	cfg := Default()
	cfg.Renderer.Width = 0
	cfg.Renderer.MaxViews = -1
	cfg.Clear.Color[0] = 2
	cfg.Clear.Depth = -1
	cfg.Logging.Level = "verbose"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	if n := len(multierr.Errors(err)); n != 5 {
		t.Errorf("expected 5 errors, got %d: %v", n, err)
	}
	if !strings.Contains(err.Error(), "logging.level") {
		t.Errorf("expected logging.level in error, got %v", err)
	}
}

func TestValidateLevelCaseInsensitive(t *testing.T) {
	cfg := Default()
	cfg.Logging.Level = "WARN"
	if err := cfg.Validate(); err != nil {
		t.Errorf("expected WARN to be accepted, got %v", err)
	}
}

func TestConfigDir(t *testing.T) {
	dir := ConfigDir()

	// Just verify it returns a non-empty path
	// Actual path depends on OS
	if dir == "" {
		t.Error("ConfigDir returned empty string")
	}

	// Verify path is absolute
	if !filepath.IsAbs(dir) {
		t.Errorf("ConfigDir should return absolute path, got %s", dir)
	}
}

func TestFindConfigFile(t *testing.T) {
	// Save current directory
	origDir, _ := os.Getwd()
	defer os.Chdir(origDir)

	// Create temp directory and change to it
	tmpDir := t.TempDir()
	os.Chdir(tmpDir)

	// Keep a real user config out of the way
	t.Setenv("XDG_CONFIG_HOME", tmpDir)
	t.Setenv("HOME", tmpDir)

	// No config file exists - should return empty
	path := findConfigFile()
	if path != "" {
		t.Errorf("expected empty path when no config exists, got %s", path)
	}

	// Create config.yaml in current directory
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte("renderer:\n  width: 800\n"), 0644); err != nil {
		t.Fatalf("failed to create test config: %v", err)
	}

	// Should find it now
	path = findConfigFile()
	if path == "" {
		t.Error("expected to find config.yaml in current directory")
	}
}

func TestApplyFlags(t *testing.T) {
	tests := []struct {
		name     string
		setup    func()
		verify   func(*Config)
		teardown func()
	}{
		{
			name: "debug flag",
			setup: func() {
				*flagDebug = true
			},
			verify: func(cfg *Config) {
				if cfg.Logging.Level != "debug" {
					t.Errorf("expected log level 'debug', got %s", cfg.Logging.Level)
				}
			},
			teardown: func() {
				*flagDebug = false
			},
		},
		{
			name: "headless flag",
			setup: func() {
				*flagHeadless = true
			},
			verify: func(cfg *Config) {
				if !cfg.Renderer.Headless {
					t.Error("expected headless with headless flag")
				}
			},
			teardown: func() {
				*flagHeadless = false
			},
		},
		{
			name: "windowed flag",
			setup: func() {
				*flagWindowed = true
			},
			verify: func(cfg *Config) {
				if cfg.Renderer.Fullscreen {
					t.Error("expected fullscreen to be false with windowed flag")
				}
			},
			teardown: func() {
				*flagWindowed = false
			},
		},
		{
			name: "fullscreen flag",
			setup: func() {
				*flagFullscreen = true
			},
			verify: func(cfg *Config) {
				if !cfg.Renderer.Fullscreen {
					t.Error("expected fullscreen to be true with fullscreen flag")
				}
			},
			teardown: func() {
				*flagFullscreen = false
			},
		},
		{
			name: "width and height flags",
			setup: func() {
				*flagWidth = 2560
				*flagHeight = 1440
			},
			verify: func(cfg *Config) {
				if cfg.Renderer.Width != 2560 {
					t.Errorf("expected width 2560, got %d", cfg.Renderer.Width)
				}
				if cfg.Renderer.Height != 1440 {
					t.Errorf("expected height 1440, got %d", cfg.Renderer.Height)
				}
			},
			teardown: func() {
				*flagWidth = 0
				*flagHeight = 0
			},
		},
		{
			name: "capture dir flag",
			setup: func() {
				*flagCaptureDir = "/var/tmp/frames"
			},
			verify: func(cfg *Config) {
				if cfg.Capture.Dir != "/var/tmp/frames" {
					t.Errorf("expected capture dir /var/tmp/frames, got %s", cfg.Capture.Dir)
				}
			},
			teardown: func() {
				*flagCaptureDir = ""
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Setup
			tt.setup()
			defer tt.teardown()

			// Apply flags to default config
			cfg := Default()
			applyFlags(cfg)

			// Verify
			tt.verify(cfg)
		})
	}
}

func TestLoadPriority(t *testing.T) {
	// Create temporary config file
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	yamlContent := `
renderer:
  width: 1600
  height: 900
`

	if err := os.WriteFile(configPath, []byte(yamlContent), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	// Set flag to override config file
	*flagConfig = configPath
	*flagWidth = 1920
	defer func() {
		*flagConfig = ""
		*flagWidth = 0
	}()

	// Load config
	cfg, err := Load()
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	// Width should be from flag (1920), not file (1600)
	if cfg.Renderer.Width != 1920 {
		t.Errorf("expected width 1920 from flag, got %d", cfg.Renderer.Width)
	}

	// Height should be from file (900) since no flag override
	if cfg.Renderer.Height != 900 {
		t.Errorf("expected height 900 from file, got %d", cfg.Renderer.Height)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte("clear:\n  depth: 4\n"), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	*flagConfig = configPath
	defer func() { *flagConfig = "" }()

	if _, err := Load(); err == nil {
		t.Error("expected invalid clear depth to fail Load")
	}
}

func TestSaveToRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg := Default()
	cfg.Renderer.MaxViews = 16
	if err := cfg.SaveTo(path); err != nil {
		t.Fatalf("SaveTo failed: %v", err)
	}

	loaded := Default()
	if err := loadFromFile(loaded, path); err != nil {
		t.Fatalf("failed to reload: %v", err)
	}
	if loaded.Renderer.MaxViews != 16 {
		t.Errorf("expected max views 16, got %d", loaded.Renderer.MaxViews)
	}
}

func TestSaveWritesDefaultPath(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", tmpDir)
	t.Setenv("HOME", tmpDir)
	t.Setenv("APPDATA", tmpDir)

	cfg := Default()
	cfg.Capture.Prefix = "shot"
	if err := cfg.Save(); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	data, err := os.ReadFile(DefaultPath())
	if err != nil {
		t.Fatalf("expected config at %s: %v", DefaultPath(), err)
	}
	if !strings.HasPrefix(string(data), fileHeader) {
		t.Errorf("expected header comment, got %q", string(data))
	}

	loaded := Default()
	if err := loadFromFile(loaded, DefaultPath()); err != nil {
		t.Fatalf("failed to reload: %v", err)
	}
	if loaded.Capture.Prefix != "shot" {
		t.Errorf("expected prefix shot, got %s", loaded.Capture.Prefix)
	}
}

func TestWriteTo(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", tmpDir)
	t.Setenv("HOME", tmpDir)
	t.Setenv("APPDATA", tmpDir)

	cfg := Default()
	path, err := cfg.WriteTo(DefaultPathTarget)
	if err != nil {
		t.Fatalf("WriteTo default failed: %v", err)
	}
	if path != DefaultPath() {
		t.Errorf("expected %s, got %s", DefaultPath(), path)
	}

	explicit := filepath.Join(tmpDir, "out", "nativegfx.yaml")
	path, err = cfg.WriteTo(explicit)
	if err != nil || path != explicit {
		t.Fatalf("WriteTo explicit: path=%s err=%v", path, err)
	}
	if _, err := os.Stat(explicit); err != nil {
		t.Errorf("expected file at %s: %v", explicit, err)
	}

	cfg.Renderer.Width = 0
	if _, err := cfg.WriteTo(filepath.Join(tmpDir, "bad.yaml")); err == nil {
		t.Error("expected invalid config to be refused")
	}
	if _, err := os.Stat(filepath.Join(tmpDir, "bad.yaml")); !os.IsNotExist(err) {
		t.Error("invalid config must not be written")
	}
}

func TestWriteConfigFlag(t *testing.T) {
	*flagWrite = "default"
	defer func() { *flagWrite = "" }()

	if got := WriteConfigTarget(); got != DefaultPathTarget {
		t.Errorf("expected %q, got %q", DefaultPathTarget, got)
	}
}
