// Package config loads mech's tool settings.
//
// Settings are layered, later sources winning: built-in defaults, the user
// file $XDG_CONFIG_HOME/mech/config.yaml, the project file
// <project>/.mech/config.yaml, the project .env file, then MECH_*
// environment variables. Command-line flags are applied by the caller.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/adrg/xdg"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Defaults.
const (
	DefaultCatalogURL = "https://app.vagrantup.com"
	DefaultProvider   = "vmware"
	DefaultOnCorrupt  = "reset"
	DefaultLogLevel   = "info"
	DefaultLogFormat  = "console"
)

// Environment variables, also honored in the project .env file.
const (
	EnvVMRunPath  = "MECH_VMRUN"
	EnvCatalogURL = "MECH_CATALOG_URL"
	EnvProvider   = "MECH_PROVIDER"
	EnvOnCorrupt  = "MECH_ON_CORRUPT"
	EnvLogLevel   = "MECH_LOG_LEVEL"
	EnvLogFormat  = "MECH_LOG_FORMAT"
	EnvSSHKeyPath = "MECH_SSH_KEY"
)

// Settings configures the tool.
type Settings struct {
	ProjectDir string `yaml:"-"`
	VMRunPath  string `yaml:"vmrun_path,omitempty"`
	CatalogURL string `yaml:"catalog_url,omitempty"`
	Provider   string `yaml:"provider,omitempty"`
	OnCorrupt  string `yaml:"on_corrupt,omitempty"`
	LogLevel   string `yaml:"log_level,omitempty"`
	LogFormat  string `yaml:"log_format,omitempty"`
	SSHKeyPath string `yaml:"ssh_key_path,omitempty"`
}

// Defaults returns the built-in settings for projectDir.
func Defaults(projectDir string) Settings {
	return Settings{
		ProjectDir: projectDir,
		CatalogURL: DefaultCatalogURL,
		Provider:   DefaultProvider,
		OnCorrupt:  DefaultOnCorrupt,
		LogLevel:   DefaultLogLevel,
		LogFormat:  DefaultLogFormat,
	}
}

// UserFile is the per-user settings file.
func UserFile() string {
	return filepath.Join(xdg.ConfigHome, "mech", "config.yaml")
}

// ProjectFile is the per-project settings file.
func ProjectFile(projectDir string) string {
	return filepath.Join(projectDir, ".mech", "config.yaml")
}

// Load layers every settings source for projectDir and validates the result.
func Load(projectDir string) (Settings, error) {
	return loadWithDeps(projectDir, UserFile(), os.LookupEnv, os.UserHomeDir)
}

func loadWithDeps(
	projectDir, userFile string,
	lookupEnv func(string) (string, bool),
	homeDir func() (string, error),
) (Settings, error) {
	s := Defaults(projectDir)

	for _, path := range []string{userFile, ProjectFile(projectDir)} {
		if err := s.mergeFile(path); err != nil {
			return Settings{}, err
		}
	}

	dotenv, err := readDotEnv(filepath.Join(projectDir, ".env"))
	if err != nil {
		return Settings{}, err
	}
	s.mergeEnv(func(key string) (string, bool) {
		v, ok := dotenv[key]
		return v, ok
	})
	s.mergeEnv(lookupEnv)

	if s.SSHKeyPath == "" {
		if home, err := homeDir(); err == nil {
			s.SSHKeyPath = filepath.Join(home, ".ssh", "id_rsa")
		}
	}

	s.Normalize()
	if err := s.Validate(); err != nil {
		return Settings{}, fmt.Errorf("invalid settings: %w", err)
	}
	return s, nil
}

// mergeFile overlays the non-empty values of a YAML file. A missing file is
// skipped.
func (s *Settings) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var file Settings
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	s.overlay(file)
	return nil
}

func readDotEnv(path string) (map[string]string, error) {
	values, err := godotenv.Read(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return values, nil
}

func (s *Settings) mergeEnv(lookup func(string) (string, bool)) {
	var env Settings
	for key, field := range map[string]*string{
		EnvVMRunPath:  &env.VMRunPath,
		EnvCatalogURL: &env.CatalogURL,
		EnvProvider:   &env.Provider,
		EnvOnCorrupt:  &env.OnCorrupt,
		EnvLogLevel:   &env.LogLevel,
		EnvLogFormat:  &env.LogFormat,
		EnvSSHKeyPath: &env.SSHKeyPath,
	} {
		if v, ok := lookup(key); ok {
			*field = v
		}
	}
	s.overlay(env)
}

// overlay copies the non-empty fields of o onto s.
func (s *Settings) overlay(o Settings) {
	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&s.VMRunPath, o.VMRunPath)
	set(&s.CatalogURL, o.CatalogURL)
	set(&s.Provider, o.Provider)
	set(&s.OnCorrupt, o.OnCorrupt)
	set(&s.LogLevel, o.LogLevel)
	set(&s.LogFormat, o.LogFormat)
	set(&s.SSHKeyPath, o.SSHKeyPath)
}

// Normalize lowercases enumerated values.
func (s *Settings) Normalize() {
	s.Provider = strings.ToLower(s.Provider)
	s.OnCorrupt = strings.ToLower(s.OnCorrupt)
	s.LogLevel = strings.ToLower(s.LogLevel)
	s.LogFormat = strings.ToLower(s.LogFormat)
}

// Validate checks enumerated values.
func (s *Settings) Validate() error {
	if s.ProjectDir == "" {
		return fmt.Errorf("project directory is required")
	}
	switch s.OnCorrupt {
	case "reset", "fail":
	default:
		return fmt.Errorf("on_corrupt must be reset or fail, got %q", s.OnCorrupt)
	}
	switch s.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be debug, info, warn or error, got %q", s.LogLevel)
	}
	switch s.LogFormat {
	case "console", "json":
	default:
		return fmt.Errorf("log_format must be console or json, got %q", s.LogFormat)
	}
	if s.CatalogURL == "" {
		return fmt.Errorf("catalog_url is required")
	}
	return nil
}
