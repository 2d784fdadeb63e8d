// Package pytconfig loads optional connection defaults from
// ~/.pytomcat.yaml; CLI flags always take precedence over whatever is
// found here.
package pytconfig

import (
	"os"
	"path/filepath"

	"gopkg.in/yaml.v2"
)

// Defaults holds the subset of connection settings a config file may
// supply. Any field left at its zero value is simply not applied by
// ApplyTo.
type Defaults struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
}

// Load reads ~/.pytomcat.yaml, returning a zero Defaults (not an error) if
// the file doesn't exist.
func Load() (Defaults, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return Defaults{}, err
	}
	return LoadFrom(filepath.Join(home, ".pytomcat.yaml"))
}

// LoadFrom reads defaults from an explicit path.
func LoadFrom(path string) (Defaults, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Defaults{}, nil
		}
		return Defaults{}, err
	}
	var d Defaults
	if err := yaml.Unmarshal(data, &d); err != nil {
		return Defaults{}, err
	}
	return d, nil
}

// ApplyTo fills in any zero-valued field of host/port/user/password from
// d, returning the possibly-updated values. Flags the caller already set
// explicitly are untouched.
func (d Defaults) ApplyTo(host string, port int, user, password string) (string, int, string, string) {
	if host == "" {
		host = d.Host
	}
	if port == 0 {
		port = d.Port
	}
	if user == "" {
		user = d.User
	}
	if password == "" {
		password = d.Password
	}
	return host, port, user, password
}
