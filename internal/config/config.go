// SPDX-License-Identifier: MPL-2.0

// Package config loads pexbuild configuration.
//
// Configuration comes from an optional config.cue in the platform config
// directory (or the working directory), validated against an embedded CUE
// schema and merged over built-in defaults via Viper. The file carries
// build defaults only; per-invocation flags always win.
package config

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/spf13/viper"

	"pexbuild-cli/internal/issue"
)

const (
	// AppName is the application name, used for the config directory.
	AppName = "pexbuild"
	// ConfigFileName is the config file name without extension.
	ConfigFileName = "config"
	// ConfigFileExt is the config file extension.
	ConfigFileExt = "cue"

	// DefaultPython is the interpreter used when neither flag nor config
	// names one. Resolved against PATH at introspection time.
	DefaultPython = "python3"
	// DefaultEntryPoint matches the archive builder's default.
	DefaultEntryPoint = "__main__"
	// DefaultManifestFormat is the wire format emitted by manifest producers.
	DefaultManifestFormat = "json"

	// thirdPartyDirName is the directory next to the pexbuild binary that
	// hosts the bundled packaging tree when third_party_root is not set.
	thirdPartyDirName = "third-party"
)

//go:embed config_schema.cue
var configSchema string

// Config holds the build defaults for one pexbuild invocation.
type Config struct {
	// Python is the default interpreter binary.
	Python string `mapstructure:"python"`
	// EntryPoint is the default entry point module.
	EntryPoint string `mapstructure:"entry_point"`
	// ThirdPartyRoot hosts the bundled setuptools override. Empty disables
	// capability injection.
	ThirdPartyRoot string `mapstructure:"third_party_root"`
	// ManifestFormat is the default manifest wire format.
	ManifestFormat string `mapstructure:"manifest_format"`
	// UI holds output preferences.
	UI UIConfig `mapstructure:"ui"`
}

// UIConfig holds output preferences.
type UIConfig struct {
	// Verbose enables debug-level build logging.
	Verbose bool `mapstructure:"verbose"`
}

var (
	// configDirOverride allows tests to override the config directory.
	configDirOverride string
	// configFilePathOverride pins loading to one explicit file (--config).
	configFilePathOverride string
)

// Reset clears test overrides. Call from test cleanup to restore defaults.
func Reset() {
	configDirOverride = ""
	configFilePathOverride = ""
}

// SetConfigDirOverride sets a custom config directory. Primarily for tests,
// which cannot rely on os.UserHomeDir() respecting HOME on all platforms.
func SetConfigDirOverride(dir string) {
	configDirOverride = dir
}

// SetConfigFilePathOverride pins config loading to an explicit file path.
func SetConfigFilePathOverride(path string) {
	configFilePathOverride = path
}

// DefaultConfig returns the built-in defaults used when no config file
// exists.
func DefaultConfig() *Config {
	return &Config{
		Python:         DefaultPython,
		EntryPoint:     DefaultEntryPoint,
		ThirdPartyRoot: defaultThirdPartyRoot(),
		ManifestFormat: DefaultManifestFormat,
	}
}

// defaultThirdPartyRoot looks for the bundled third-party tree next to the
// running binary. Empty when the binary location cannot be determined or no
// tree is installed there.
func defaultThirdPartyRoot() string {
	exe, err := os.Executable()
	if err != nil {
		return ""
	}
	root := filepath.Join(filepath.Dir(exe), thirdPartyDirName)
	info, err := os.Stat(root)
	if err != nil || !info.IsDir() {
		return ""
	}
	return root
}

// ConfigDir returns the pexbuild configuration directory using
// platform-specific conventions: %APPDATA% on Windows, ~/Library/Application
// Support on macOS, $XDG_CONFIG_HOME (default ~/.config) elsewhere.
//
//nolint:revive // ConfigDir is more descriptive than Dir for external callers
func ConfigDir() (string, error) {
	if configDirOverride != "" {
		return configDirOverride, nil
	}

	var configDir string
	switch runtime.GOOS {
	case "windows":
		configDir = os.Getenv("APPDATA")
		if configDir == "" {
			configDir = filepath.Join(os.Getenv("USERPROFILE"), "AppData", "Roaming")
		}
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		configDir = filepath.Join(home, "Library", "Application Support")
	default:
		configDir = os.Getenv("XDG_CONFIG_HOME")
		if configDir == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", fmt.Errorf("failed to get home directory: %w", err)
			}
			configDir = filepath.Join(home, ".config")
		}
	}
	return filepath.Join(configDir, AppName), nil
}

// Load reads configuration: defaults, then an optional config.cue from the
// config directory (or working directory), schema-validated and merged.
func Load() (*Config, error) {
	v := viper.New()

	defaults := DefaultConfig()
	v.SetDefault("python", defaults.Python)
	v.SetDefault("entry_point", defaults.EntryPoint)
	v.SetDefault("third_party_root", defaults.ThirdPartyRoot)
	v.SetDefault("manifest_format", defaults.ManifestFormat)
	v.SetDefault("ui.verbose", defaults.UI.Verbose)

	if configFilePathOverride != "" {
		if !fileExists(configFilePathOverride) {
			return nil, issue.NewErrorContext().
				WithOperation("load configuration").
				WithResource(configFilePathOverride).
				WithSuggestion("Verify the file path is correct").
				Wrap(fmt.Errorf("config file not found: %s", configFilePathOverride)).
				BuildError()
		}
		if err := loadCUEIntoViper(v, configFilePathOverride); err != nil {
			return nil, wrapConfigLoad(configFilePathOverride, err)
		}
	} else {
		cfgDir, err := ConfigDir()
		if err != nil {
			return nil, err
		}
		cuePath := filepath.Join(cfgDir, ConfigFileName+"."+ConfigFileExt)
		switch {
		case fileExists(cuePath):
			if err := loadCUEIntoViper(v, cuePath); err != nil {
				return nil, wrapConfigLoad(cuePath, err)
			}
		case fileExists(ConfigFileName + "." + ConfigFileExt):
			localPath := ConfigFileName + "." + ConfigFileExt
			if err := loadCUEIntoViper(v, localPath); err != nil {
				return nil, wrapConfigLoad(localPath, err)
			}
		}
		// No config file found: defaults apply, not an error.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}

func wrapConfigLoad(path string, err error) error {
	return issue.NewErrorContext().
		WithOperation("load configuration").
		WithResource(path).
		WithSuggestion("Check that the file contains valid CUE syntax").
		WithSuggestion("Verify the values match the expected schema").
		Wrap(err).
		BuildError()
}

// loadCUEIntoViper parses a CUE file, validates it against the embedded
// #Config schema, and merges its contents into Viper. Decoding goes through
// map[string]any rather than a struct so Viper's default layering applies.
func loadCUEIntoViper(v *viper.Viper, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	ctx := cuecontext.New()

	schemaValue := ctx.CompileString(configSchema)
	if schemaValue.Err() != nil {
		return fmt.Errorf("internal error: failed to compile config schema: %w", schemaValue.Err())
	}

	userValue := ctx.CompileBytes(data, cue.Filename(path))
	if userValue.Err() != nil {
		return fmt.Errorf("invalid CUE in %s: %w", path, userValue.Err())
	}

	schema := schemaValue.LookupPath(cue.ParsePath("#Config"))
	unified := schema.Unify(userValue)
	if err := unified.Validate(cue.Concrete(false)); err != nil {
		return fmt.Errorf("config does not match schema: %w", err)
	}

	var configMap map[string]any
	if err := unified.Decode(&configMap); err != nil {
		return fmt.Errorf("failed to decode config: %w", err)
	}

	if err := v.MergeConfigMap(configMap); err != nil {
		return fmt.Errorf("failed to merge config: %w", err)
	}
	return nil
}

// fileExists checks if a file exists and is not a directory.
func fileExists(path string) bool {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return false
	}
	return err == nil && !info.IsDir()
}
