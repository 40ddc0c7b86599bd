package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/artforge-ai/artforge-api/internal/models"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config represents the complete application configuration
type Config struct {
	Server    models.ServerConfig    `yaml:"server"`
	Database  *models.DatabaseConfig `yaml:"database,omitempty"`
	Analytics *models.DatabaseConfig `yaml:"analytics,omitempty"`
	Auth      *models.AuthConfig     `yaml:"auth,omitempty"`
	Billing   *models.BillingConfig  `yaml:"billing,omitempty"`
	Compute   *models.ComputeConfig  `yaml:"compute,omitempty"`
	Storage   *models.StorageConfig  `yaml:"storage,omitempty"`
	Notify    *models.NotifyConfig   `yaml:"notify,omitempty"`
	Pricing   *models.PricingConfig  `yaml:"pricing,omitempty"`
}

// LoadFromFile loads configuration from a YAML file with environment variable substitution
func LoadFromFile(configPath string) (*Config, error) {
	// Validate and clean the file path to prevent directory traversal
	cleanPath := filepath.Clean(configPath)

	if strings.Contains(cleanPath, "..") {
		return nil, fmt.Errorf("invalid config path: path traversal not allowed")
	}

	ext := filepath.Ext(cleanPath)
	if ext != ".yaml" && ext != ".yml" {
		return nil, fmt.Errorf("invalid config file: only .yaml and .yml files are allowed")
	}

	data, err := os.ReadFile(cleanPath) // #nosec G304 - path is validated above
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", cleanPath, err)
	}

	// Substitute environment variables
	content := substituteEnvVars(string(data))

	var config Config
	if err := yaml.Unmarshal([]byte(content), &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}

	return &config, nil
}

// LoadEnvFiles loads environment variables from .env files in order of precedence
// Loads files in the order provided (first has highest priority)
func LoadEnvFiles(envFiles []string) {
	for _, envFile := range envFiles {
		if _, err := os.Stat(envFile); err == nil {
			if err := godotenv.Load(envFile); err == nil {
				fmt.Printf("Loaded environment variables from %s\n", envFile)
			}
		}
	}
}

// New creates a new Config instance by loading from the specified config file path
func New(configPath string) (*Config, error) {
	return LoadFromFile(configPath)
}

// substituteEnvVars replaces ${VAR_NAME} and ${VAR_NAME:-default} patterns with environment variables
func substituteEnvVars(content string) string {
	re := regexp.MustCompile(`\$\{([^}:]+)(?::(-[^}]*))?\}`)

	return re.ReplaceAllStringFunc(content, func(match string) string {
		submatches := re.FindStringSubmatch(match)
		if len(submatches) < 2 {
			return match
		}

		varName := submatches[1]
		defaultValue := ""

		if len(submatches) > 2 && submatches[2] != "" {
			defaultValue = strings.TrimPrefix(submatches[2], "-")
		}

		if value := os.Getenv(varName); value != "" {
			return value
		}

		return defaultValue
	})
}

// Validate checks that required configuration sections are present and coherent.
func (c *Config) Validate() error {
	if c.Database == nil {
		return fmt.Errorf("database configuration is required")
	}
	if c.Auth == nil || c.Auth.ClerkConfig == nil || c.Auth.ClerkConfig.SecretKey == "" {
		return fmt.Errorf("auth.clerk.secret_key is required")
	}
	if c.Compute != nil && c.Compute.BaseURL == "" {
		return fmt.Errorf("compute.base_url is required when compute is configured")
	}
	if c.Billing != nil && c.Billing.Gateway != nil {
		gw := c.Billing.Gateway
		if gw.BaseURL == "" || gw.APIKey == "" || gw.IPNSecret == "" {
			return fmt.Errorf("billing.gateway requires base_url, api_key and ipn_secret")
		}
	}
	if c.Storage != nil {
		st := c.Storage
		if st.Bucket == "" || st.Region == "" || st.PublicBaseURL == "" {
			return fmt.Errorf("storage requires bucket, region and public_base_url")
		}
	}
	return nil
}

// IsProduction reports whether the server runs in production mode.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Server.Environment, "production")
}

// GetNormalizedLogLevel returns the configured log level, lower-cased.
func (c *Config) GetNormalizedLogLevel() string {
	return strings.ToLower(strings.TrimSpace(c.Server.LogLevel))
}
