// Package config provides the configuration schema and loader for the
// audioprobe capture server.
package config

// LogLevel controls log verbosity for the audioprobe server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure for audioprobe.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Capture CaptureConfig `yaml:"capture"`
	Output  OutputConfig  `yaml:"output"`
	Source  SourceConfig  `yaml:"source"`
}

// ServerConfig holds network and logging settings for the control surface.
type ServerConfig struct {
	// ListenAddr is the TCP address the HTTP control surface listens on
	// (e.g., ":8080"). Empty disables the HTTP server.
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`
}

// CaptureConfig parameterises the capture pipeline.
type CaptureConfig struct {
	// QueueCapacity is the minimum transfer queue depth in frames. Zero
	// selects the default (8192). The queue is sized once at startup and
	// never resized.
	QueueCapacity int `yaml:"queue_capacity"`

	// Enabled gates frame capture at startup. Defaults handled in Validate:
	// capture starts enabled unless explicitly disabled.
	Enabled *bool `yaml:"enabled"`
}

// OutputConfig controls where snapshot reports land.
type OutputConfig struct {
	// DataRoot overrides the output root for all snapshots. When empty the
	// root resolves per write: MA_DATA_ROOT env, else ~/music-advisor/data.
	DataRoot string `yaml:"data_root"`

	// Namespace is the directory under features_output that separates this
	// probe's reports from other producers. Defaults to "audioprobe".
	Namespace string `yaml:"namespace"`
}

// SourceConfig describes the audio host harness feeding the pipeline.
type SourceConfig struct {
	// WAVPath is a WAV file streamed through the frame producer, standing
	// in for a live audio host. Empty means no built-in source; frames then
	// only arrive through the library API.
	WAVPath string `yaml:"wav_path"`

	// BlockSize is the per-channel block length in samples handed to the
	// producer per iteration. Zero selects 1024.
	BlockSize int `yaml:"block_size"`

	// Realtime paces the stream at the file's sample rate instead of
	// pushing blocks as fast as they decode.
	Realtime bool `yaml:"realtime"`

	// Loop restarts the file from the beginning when it ends, keeping a
	// long-running probe fed.
	Loop bool `yaml:"loop"`
}

// CaptureEnabled reports the effective startup capture flag.
func (c CaptureConfig) CaptureEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}
