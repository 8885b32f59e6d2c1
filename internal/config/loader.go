package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// envPattern matches ${VAR} and ${VAR:-default} references in the raw YAML.
var envPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-((?:[^}\\]|\\.)*))?\}`)

// Load reads path, resolves ${VAR} references against the environment, and
// returns the validated configuration. Secrets such as the gateway auth
// token are expected to arrive through such references, not YAML literals.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	resolved, missing := resolveEnv(raw)
	if len(missing) > 0 {
		return nil, fmt.Errorf("config: %s: unset variables without defaults: %s",
			path, strings.Join(missing, ", "))
	}

	var cfg Config
	if err := yaml.Unmarshal(resolved, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// resolveEnv substitutes every ${VAR} and ${VAR:-default} reference. A
// reference with neither an environment value nor a default is left in
// place and its name reported in missing.
func resolveEnv(raw []byte) (resolved []byte, missing []string) {
	resolved = envPattern.ReplaceAllFunc(raw, func(ref []byte) []byte {
		groups := envPattern.FindSubmatch(ref)
		name := string(groups[1])

		if value, ok := os.LookupEnv(name); ok {
			return []byte(value)
		}
		if groups[2] != nil {
			return groups[2]
		}

		missing = append(missing, name)
		return ref
	})
	return resolved, missing
}
