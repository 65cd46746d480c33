package config

import (
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"
)

const configFileName = "txmigrate.toml"

// EnvironmentConfig describes a single named environment from txmigrate.toml.
type EnvironmentConfig struct {
	Driver      string `toml:"driver"`
	DatabaseURL string `toml:"database_url"`
}

// LoadSettings configures the transactional load run.
type LoadSettings struct {
	// FailedLog is the path of the failed-transaction JSON log.
	FailedLog string `toml:"failed_log"`
	// PKStart seeds the persistent-identifier key sequence, set above the
	// source system's highest pid.
	PKStart int64 `toml:"pk_start"`
}

type Config struct {
	DefaultEnvironment string                       `toml:"default_environment"`
	Environments       map[string]EnvironmentConfig `toml:"environments"`
	Load               LoadSettings                 `toml:"load"`
	ConfigFilePath     string                       `toml:"-"`
}

// ConfigDir returns the directory containing the loaded config file, or ""
// when none was found.
func (c *Config) ConfigDir() string {
	if c.ConfigFilePath == "" {
		return ""
	}
	return filepath.Dir(c.ConfigFilePath)
}

// LoadConfig looks for txmigrate.toml in the working directory and its
// parents, stopping at a project boundary. A missing file is not an error:
// an empty config is returned and connection settings come from dotenv.
func LoadConfig() (*Config, error) {
	startDir, err := os.Getwd()
	if err != nil {
		return nil, err
	}

	dir := startDir
	for {
		configPath := filepath.Join(dir, configFileName)
		if _, err := os.Stat(configPath); err == nil {
			data, err := os.ReadFile(configPath)
			if err != nil {
				return nil, err
			}

			var config Config
			if err := toml.Unmarshal(data, &config); err != nil {
				return nil, err
			}

			config.ConfigFilePath = configPath
			return &config, nil
		}

		if isProjectRoot(dir) {
			break
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached filesystem root
			break
		}
		dir = parent
	}

	return &Config{}, nil
}

// isProjectRoot checks if the directory is a project root based on common markers
func isProjectRoot(dir string) bool {
	if _, err := os.Stat(filepath.Join(dir, ".git")); err == nil {
		return true
	}
	if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
		return true
	}
	return false
}
