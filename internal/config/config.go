package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config models grantdesk.yml. It is constructed once at startup and passed
// into the engine and server; nothing reads the environment at call time.
type Config struct {
	Server struct {
		Addr     string `yaml:"addr"`
		BasePath string `yaml:"base_path"`
	} `yaml:"server"`
	Admin struct {
		Username string `yaml:"username"`
		Password string `yaml:"password"`
	} `yaml:"admin"`
	Auth struct {
		JWTSecret       string `yaml:"jwt_secret"`
		TokenTTLMinutes int    `yaml:"token_ttl_minutes"`
	} `yaml:"auth"`
	Reports struct {
		OutputDir string `yaml:"output_dir"`
	} `yaml:"reports"`
	Mail Mail `yaml:"mail"`
}

// Mail holds outbound SMTP settings. Disabled mail leaves completed runs at
// REPORT_READY for manual delivery.
type Mail struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
}

// Validate ensures the config can drive the admin surface.
func (c *Config) Validate() error {
	if c.Admin.Username == "" || c.Admin.Password == "" {
		return fmt.Errorf("config.admin.username and config.admin.password are required")
	}
	if c.Reports.OutputDir == "" {
		return fmt.Errorf("config.reports.output_dir is required")
	}
	if c.Auth.TokenTTLMinutes < 0 {
		return fmt.Errorf("config.auth.token_ttl_minutes must not be negative")
	}
	if c.Mail.Enabled {
		if c.Mail.Host == "" {
			return fmt.Errorf("config.mail.host is required when mail is enabled")
		}
		if c.Mail.From == "" {
			return fmt.Errorf("config.mail.from is required when mail is enabled")
		}
	}
	return nil
}

// TokenTTLMinutesOrDefault returns the configured token lifetime, defaulting
// to eight hours.
func (c *Config) TokenTTLMinutesOrDefault() int {
	if c.Auth.TokenTTLMinutes == 0 {
		return 480
	}
	return c.Auth.TokenTTLMinutes
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "grantdesk.yml")
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; generate one with gd config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

// Default returns a Config with sane local defaults rooted at workspace.
func Default(workspace string) *Config {
	var cfg Config
	_ = yaml.Unmarshal([]byte(GenerateDefault(workspace)), &cfg)
	return &cfg
}

// GenerateDefault returns default config YAML for a workspace.
func GenerateDefault(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	outputDir := filepath.Join(workspace, "reports")
	return fmt.Sprintf(defaultTemplate, outputDir)
}

const defaultTemplate = `server:
  addr: 127.0.0.1:8080
  base_path: /v0

admin:
  username: admin
  password: change-me

auth:
  jwt_secret: ""
  token_ttl_minutes: 480

reports:
  output_dir: %s

mail:
  enabled: false
  host: ""
  port: 587
  username: ""
  password: ""
  from: ""
`
