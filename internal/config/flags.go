package config

import "flag"

var (
	flagConfig     = flag.String("config", "", "Path to config file")
	flagDebug      = flag.Bool("debug", false, "Enable debug logging")
	flagHeadless   = flag.Bool("headless", false, "Record commands without opening a window")
	flagWindowed   = flag.Bool("windowed", false, "Run in windowed mode")
	flagFullscreen = flag.Bool("fullscreen", false, "Run in fullscreen mode")
	flagWidth      = flag.Int("width", 0, "Window width")
	flagHeight     = flag.Int("height", 0, "Window height")
	flagCaptureDir = flag.String("capture-dir", "", "Directory for frame captures")
	flagWrite      = flag.String("write-config", "", `Write the effective config to this path ("default" for the user config dir) and exit`)
)

// ParseFlags parses command-line flags. Call this early in main().
func ParseFlags() {
	flag.Parse()
}

// ConfigPath returns the explicit config path if provided via --config flag.
func ConfigPath() string {
	return *flagConfig
}

// WriteConfigTarget returns the --write-config value, empty when unset.
func WriteConfigTarget() string {
	return *flagWrite
}

// applyFlags applies CLI flag overrides to the config.
func applyFlags(cfg *Config) {
	if *flagDebug {
		cfg.Logging.Level = "debug"
	}
	if *flagHeadless {
		cfg.Renderer.Headless = true
	}
	if *flagWindowed {
		cfg.Renderer.Fullscreen = false
	}
	if *flagFullscreen {
		cfg.Renderer.Fullscreen = true
	}
	if *flagWidth > 0 {
		cfg.Renderer.Width = *flagWidth
	}
	if *flagHeight > 0 {
		cfg.Renderer.Height = *flagHeight
	}
	if *flagCaptureDir != "" {
		cfg.Capture.Dir = *flagCaptureDir
	}
}
