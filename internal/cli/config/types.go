// Package config loads cfnview's project-scope configuration from file,
// environment variables, and flags.
package config

// Config is the merged project configuration for a cfnview invocation.
type Config struct {
	Server     ServerConfig     `koanf:"server"`
	Preview    PreviewConfig    `koanf:"preview"`
	Validation ValidationConfig `koanf:"validation"`
	Verbose    bool             `koanf:"verbose"`

	// ProjectRoot is the directory the config file was found in (or the
	// working directory); sent to the server as the workspace root.
	ProjectRoot string `koanf:"-"`
}

// ServerConfig describes how to reach the external linter language server.
type ServerConfig struct {
	// Command is the server executable and arguments.
	Command []string `koanf:"command"`

	// DebugAddr, when set, dials a running server over TCP instead of
	// spawning one. Lets the server run under a debugger.
	DebugAddr string `koanf:"debug_addr"`
}

// PreviewConfig controls the preview panel host.
type PreviewConfig struct {
	// Port for the panel host; 0 picks an ephemeral port.
	Port int `koanf:"port"`

	// OpenBrowser launches the default browser when a panel opens.
	OpenBrowser bool `koanf:"open_browser"`

	// Watch re-requests the preview when the template file is saved.
	Watch bool `koanf:"watch"`
}

// ValidationConfig is the project-scope slice of the validation settings.
// Schema is tri-state: nil means unset at this scope, which matters for the
// one-time reconciliation against the generic YAML validator.
type ValidationConfig struct {
	Schema *bool `koanf:"schema"`
}
