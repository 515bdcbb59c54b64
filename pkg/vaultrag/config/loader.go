package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Environment overrides applied after the file is parsed.
const (
	EnvDataDir         = "VAULTRAG_DATA_DIR"
	EnvEmbeddingAPIKey = "VAULTRAG_EMBEDDING_API_KEY"
	EnvPassword        = "VAULTRAG_PASSWORD"
	EnvNewPassword     = "VAULTRAG_NEW_PASSWORD"
)

// envVarPattern matches ${VAR}, ${VAR:-default} and ${VAR:?error}.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::(-|\?)([^}]*))?\}`)

// Load reads the YAML file at path on top of the defaults. An empty path
// or a missing file yields the defaults. .env files in the working
// directory are loaded first without overriding the environment.
func Load(path string) (*Config, error) {
	loadEnvFiles()

	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
			slog.Debug("config file not found, using defaults", "path", path)
		case err != nil:
			return nil, fmt.Errorf("reading config file: %w", err)
		default:
			expanded, err := expandEnvVars(string(data))
			if err != nil {
				return nil, fmt.Errorf("expanding environment variables: %w", err)
			}
			if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
				return nil, fmt.Errorf("parsing config YAML: %w", err)
			}
			resolveRelativePaths(cfg, filepath.Dir(path))
		}
	}

	applyEnv(cfg)
	cfg.DataDir = expandHome(cfg.DataDir)
	cfg.Inbox.Dir = expandHome(cfg.Inbox.Dir)
	cfg.Embedding.ModelPath = expandHome(cfg.Embedding.ModelPath)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Save writes cfg as YAML with owner-only permissions. The API key is
// replaced by an environment reference so it never lands on disk.
func Save(cfg *Config, path string) error {
	out := *cfg
	if out.Embedding.APIKey != "" {
		out.Embedding.APIKey = "${" + EnvEmbeddingAPIKey + "}"
	}
	data, err := yaml.Marshal(&out)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

// FindConfigFile returns the first existing config file in the standard
// locations, or "".
func FindConfigFile() string {
	candidates := []string{"vaultrag.yaml", "vaultrag.yml", "config.yaml"}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".vaultrag", "config.yaml"))
	}
	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

func loadEnvFiles() {
	for _, f := range []string{".env.local", ".env"} {
		_ = godotenv.Load(f)
	}
}

func applyEnv(cfg *Config) {
	if v := os.Getenv(EnvDataDir); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv(EnvEmbeddingAPIKey); v != "" {
		cfg.Embedding.APIKey = v
	}
}

// expandEnvVars substitutes environment references. Unset ${VAR} is left
// in place; unset ${VAR:?msg} is an error.
func expandEnvVars(input string) (string, error) {
	var missing []string
	out := envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		sub := envVarPattern.FindStringSubmatch(match)
		name, modifier, value := sub[1], sub[2], sub[3]
		if v, ok := os.LookupEnv(name); ok {
			return v
		}
		switch modifier {
		case "-":
			return value
		case "?":
			if value == "" {
				value = "required environment variable not set"
			}
			missing = append(missing, name+": "+value)
		}
		return match
	})
	if len(missing) > 0 {
		return "", fmt.Errorf("config error: %s", strings.Join(missing, "; "))
	}
	return out, nil
}

func resolveRelativePaths(cfg *Config, dir string) {
	cfg.DataDir = resolvePath(cfg.DataDir, dir)
	cfg.Inbox.Dir = resolvePath(cfg.Inbox.Dir, dir)
	cfg.Embedding.ModelPath = resolvePath(cfg.Embedding.ModelPath, dir)
}

func resolvePath(path, dir string) string {
	if path == "" || filepath.IsAbs(path) || strings.HasPrefix(path, "~") {
		return path
	}
	return filepath.Join(dir, path)
}

func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
