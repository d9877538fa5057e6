package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config models steward.yml: server settings plus the role catalog. The
// catalog maps each role to its action:entity:scope permission strings; the
// core consumes it as static input and never mutates it at runtime.
type Config struct {
	Server struct {
		Addr     string `yaml:"addr"`
		BasePath string `yaml:"base_path"`
	} `yaml:"server"`
	Auth struct {
		JWTSecret string `yaml:"jwt_secret"`
	} `yaml:"auth"`
	Roles map[string]Role `yaml:"roles"`
}

type Role struct {
	Description string   `yaml:"description"`
	Permissions []string `yaml:"permissions"`
}

// Load reads and validates config from the workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; generate with stw config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns the default config if no file exists in the workspace.
func LoadOptional(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the role catalog is well formed.
func (c *Config) Validate() error {
	if len(c.Roles) == 0 {
		return fmt.Errorf("config.roles is required")
	}
	if _, ok := c.Roles["owner"]; !ok {
		return fmt.Errorf("config.roles must include owner")
	}
	for roleID, role := range c.Roles {
		if roleID == "" {
			return fmt.Errorf("config.roles contains empty role id")
		}
		for _, perm := range role.Permissions {
			if strings.Count(perm, ":") != 2 {
				return fmt.Errorf("role %s permission %q is not action:entity:scope", roleID, perm)
			}
		}
	}
	return nil
}

// RolePermissions returns the permission set for a role, or nil when the role
// is unknown.
func (c *Config) RolePermissions(role string) []string {
	r, ok := c.Roles[role]
	if !ok {
		return nil
	}
	return r.Permissions
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "steward.yml")
}

// GenerateDefault returns the default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	_ = yaml.Unmarshal([]byte(defaultTemplate), &cfg)
	return &cfg
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

const defaultTemplate = `server:
  addr: ":8080"
  base_path: "/v0"

auth:
  jwt_secret: ""

roles:
  owner:
    description: "Full control of the organization"
    permissions:
      - read:organization:org
      - read:property:org
      - read:asset:org
      - read:vendor:org
      - read:lease:org
      - read:maintenance:org
      - read:document:org
      - read:finance:org
      - read:note:org
      - read:timeline:org
      - read:proposal:org
      - read:audit:org
      - create:proposal:org
      - review:proposal:org
      - create:property:org
      - create:asset:org
      - create:maintenance:org
      - update:maintenance:org
      - create:note:org
      - create:document:org
      - create:lease:org
      - create:finance:org

  manager:
    description: "Reviews proposals and manages portfolio data"
    permissions:
      - read:organization:org
      - read:property:org
      - read:asset:org
      - read:vendor:org
      - read:lease:org
      - read:maintenance:org
      - read:document:org
      - read:finance:org
      - read:note:org
      - read:timeline:org
      - read:proposal:org
      - read:audit:org
      - create:proposal:org
      - review:proposal:org
      - create:property:org
      - create:asset:org
      - create:maintenance:org
      - update:maintenance:org
      - create:note:org
      - create:document:org
      - create:lease:org
      - create:finance:org

  agent:
    description: "Proposes changes for human review; never applies them"
    permissions:
      - read:organization:org
      - read:property:org
      - read:asset:org
      - read:vendor:org
      - read:lease:org
      - read:maintenance:org
      - read:document:org
      - read:finance:org
      - read:note:org
      - read:timeline:org
      - read:proposal:org
      - create:proposal:org
      - create:property:org
      - create:asset:org
      - create:maintenance:org
      - update:maintenance:org
      - create:note:org
      - create:document:org
      - create:lease:org
      - create:finance:org

  viewer:
    description: "Read-only access"
    permissions:
      - read:organization:org
      - read:property:org
      - read:asset:org
      - read:vendor:org
      - read:lease:org
      - read:maintenance:org
      - read:document:org
      - read:finance:org
      - read:note:org
      - read:timeline:org
      - read:proposal:org
`
