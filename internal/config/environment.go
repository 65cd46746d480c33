package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
)

const (
	defaultEnvironmentName = "local"
	defaultDriver          = "postgres"
)

// ResolvedEnvironment represents a fully-resolved environment with concrete
// connection values.
type ResolvedEnvironment struct {
	Name        string
	Driver      string
	DatabaseURL string
	DotenvPath  string
	FromConfig  bool
	FromDotenv  bool
}

// ResolveEnvironment resolves a named environment into a concrete connection
// descriptor: the toml environment first, then a `.env.<name>` dotenv overlay.
func ResolveEnvironment(config *Config, name string) (*ResolvedEnvironment, error) {
	envName := strings.TrimSpace(name)
	if envName == "" {
		if config != nil && config.DefaultEnvironment != "" {
			envName = config.DefaultEnvironment
		} else {
			envName = defaultEnvironmentName
		}
	}

	resolved := &ResolvedEnvironment{Name: envName}

	if config != nil && config.Environments != nil {
		if envConfig, ok := config.Environments[envName]; ok {
			resolved.Driver = envConfig.Driver
			resolved.DatabaseURL = envConfig.DatabaseURL
			resolved.FromConfig = true
		}
	}

	baseDir := ""
	if config != nil {
		baseDir = config.ConfigDir()
	}
	if baseDir == "" {
		if cwd, err := os.Getwd(); err == nil {
			baseDir = cwd
		}
	}
	resolved.DotenvPath = filepath.Join(baseDir, ".env."+envName)

	if info, err := os.Stat(resolved.DotenvPath); err == nil && !info.IsDir() {
		values, err := godotenv.Read(resolved.DotenvPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", resolved.DotenvPath, err)
		}
		resolved.FromDotenv = true

		// Generic DATABASE_URL first, then driver-specific variables.
		if value := values["DATABASE_URL"]; value != "" {
			resolved.DatabaseURL = value
		}
		if resolved.DatabaseURL == "" {
			if value := values["POSTGRES_URL"]; value != "" {
				resolved.DatabaseURL = value
				resolved.Driver = "postgres"
			}
		}
		if resolved.DatabaseURL == "" {
			if value := values["SQLITE_DB_PATH"]; value != "" {
				resolved.DatabaseURL = value
				resolved.Driver = "sqlite"
			}
		}
		if value := values["DATABASE_DRIVER"]; value != "" {
			resolved.Driver = value
		}
	}

	if resolved.Driver == "" {
		resolved.Driver = defaultDriver
	}
	if resolved.DatabaseURL == "" {
		return nil, fmt.Errorf("environment %q has no database_url in %s and no %s dotenv",
			envName, configFileName, resolved.DotenvPath)
	}

	return resolved, nil
}
