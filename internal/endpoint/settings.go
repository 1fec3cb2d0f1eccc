package endpoint

import (
	"sort"
	"strconv"
	"strings"
)

// Settings holds the connection fields for one source.
type Settings struct {
	Kind     string            `yaml:"kind"`
	Host     string            `yaml:"host"`
	Port     int               `yaml:"port"`
	Database string            `yaml:"database"`
	User     string            `yaml:"user"`
	Password string            `yaml:"password"`
	Options  map[string]string `yaml:"options"`

	SSHHost       string `yaml:"ssh_host"`
	SSHPort       int    `yaml:"ssh_port"`
	SSHUser       string `yaml:"ssh_user"`
	SSHPrivateKey string `yaml:"ssh_private_key"`
	SSHPassword   string `yaml:"ssh_password"`
}

// DefaultRequiredFields are required by network-backed relational adapters.
var DefaultRequiredFields = []string{"host", "port", "database", "user", "password"}

// Field returns a settings value by its configuration key.
func (s Settings) Field(name string) string {
	switch name {
	case "kind":
		return s.Kind
	case "host":
		return s.Host
	case "port":
		if s.Port == 0 {
			return ""
		}
		return strconv.Itoa(s.Port)
	case "database":
		return s.Database
	case "user":
		return s.User
	case "password":
		return s.Password
	case "ssh_host":
		return s.SSHHost
	case "ssh_user":
		return s.SSHUser
	}
	return s.Options[name]
}

// UsesTunnel reports whether an SSH bastion is configured.
func (s Settings) UsesTunnel() bool {
	return strings.TrimSpace(s.SSHHost) != ""
}

// CheckRequired returns a ConfigurationError naming every empty required field.
func (s Settings) CheckRequired(required []string) error {
	var missing []string
	for _, f := range required {
		if strings.TrimSpace(s.Field(f)) == "" {
			missing = append(missing, f)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	return Errorf(KindConfiguration, CodeMissingSettings,
		"missing required connection settings: %s", strings.Join(missing, ", "))
}

// SortedOptions returns option keys in a stable order, for DSN building.
func (s Settings) SortedOptions() []string {
	keys := make([]string, 0, len(s.Options))
	for k := range s.Options {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
