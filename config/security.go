package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
)

const (
	// inteld configs are a few kilobytes and a handful of sections deep.
	maxConfigSize  = 1 << 20
	maxConfigDepth = 16
	maxEnvVarLen   = 4096
	maxPathLen     = 4096
)

// validateConfigPath rejects paths that are not JSON or YAML files or that
// climb out of their directory through "..".
func validateConfigPath(path string) error {
	if path == "" {
		return errors.New("empty config path")
	}
	if len(path) > maxPathLen {
		return fmt.Errorf("path too long: %d > %d", len(path), maxPathLen)
	}
	if slices.Contains(strings.Split(filepath.ToSlash(path), "/"), "..") {
		return fmt.Errorf("path traversal not allowed: %s", path)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".yaml", ".yml":
	default:
		return fmt.Errorf("only JSON or YAML config files allowed: %s", path)
	}
	return nil
}

// safeReadFile reads a regular config file no larger than maxConfigSize.
func safeReadFile(path string) ([]byte, error) {
	if err := validateConfigPath(path); err != nil {
		return nil, fmt.Errorf("invalid config path: %w", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("cannot stat config file: %w", err)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("not a regular file: %s", path)
	}
	if info.Size() > maxConfigSize {
		return nil, fmt.Errorf("config file too large: %d bytes > %d", info.Size(), maxConfigSize)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file: %w", err)
	}
	return data, nil
}

// checkDepth walks a decoded layer, JSON or YAML alike, and fails once nesting
// passes maxConfigDepth.
func checkDepth(v any, depth int) error {
	if depth > maxConfigDepth {
		return fmt.Errorf("config nesting too deep: more than %d levels", maxConfigDepth)
	}
	switch val := v.(type) {
	case map[string]any:
		for _, child := range val {
			if err := checkDepth(child, depth+1); err != nil {
				return err
			}
		}
	case []any:
		for _, child := range val {
			if err := checkDepth(child, depth+1); err != nil {
				return err
			}
		}
	}
	return nil
}

var (
	// Names end up in NATS subjects, bucket names and log fields.
	tokenPattern  = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)
	subjectPrefix = regexp.MustCompile(`^[A-Za-z0-9_-]+(\.[A-Za-z0-9_-]+)*$`)

	natsSchemes = []string{"nats", "tls", "ws", "wss"}
)

// envRules check a string override against the field it replaces. Numeric,
// boolean and duration overrides are checked by parsing them.
var envRules = map[string]func(string) error{
	"SERVICE_NAME":       matchToken,
	"ENVIRONMENT":        matchToken,
	"GATHERER_KV_BUCKET": matchToken,
	"GATHERER_SOURCE": func(v string) error {
		if !slices.Contains(sources, v) {
			return fmt.Errorf("must be one of %v", sources)
		}
		return nil
	},
	"GATEWAY_PREFIX": func(v string) error {
		if !subjectPrefix.MatchString(v) {
			return errors.New("must be dot-separated subject tokens without wildcards")
		}
		return nil
	},
	"NATS_URL":      validateNATSURLs,
	"NATS_USERNAME": singleLine,
	"NATS_PASSWORD": singleLine,
	"NATS_TOKEN":    singleLine,
	"SQLITE_PATH": func(v string) error {
		if len(v) > maxPathLen {
			return fmt.Errorf("path too long: %d > %d", len(v), maxPathLen)
		}
		return nil
	},
}

func matchToken(v string) error {
	if !tokenPattern.MatchString(v) {
		return errors.New("only letters, digits, '_' and '-' are allowed")
	}
	return nil
}

func singleLine(v string) error {
	if strings.ContainsAny(v, "\r\n") {
		return errors.New("must be a single line")
	}
	return nil
}

// validateNATSURLs accepts the comma-separated server list nats.Connect takes.
func validateNATSURLs(v string) error {
	for _, raw := range strings.Split(v, ",") {
		u, err := url.Parse(strings.TrimSpace(raw))
		if err != nil {
			return err
		}
		if !slices.Contains(natsSchemes, u.Scheme) || u.Host == "" {
			return fmt.Errorf("%q is not a nats://, tls://, ws:// or wss:// server URL", raw)
		}
	}
	return nil
}

// validateEnvVar checks the raw value of INTEL_<key> before it is applied.
func validateEnvVar(prefix, key, value string) error {
	if value == "" {
		return nil
	}
	name := prefix + "_" + key
	if len(value) > maxEnvVarLen {
		return fmt.Errorf("environment variable %s too long: %d > %d", name, len(value), maxEnvVarLen)
	}
	if strings.Contains(value, "\x00") {
		return fmt.Errorf("null byte in environment variable %s", name)
	}
	if rule, ok := envRules[key]; ok {
		if err := rule(value); err != nil {
			return fmt.Errorf("environment variable %s: %w", name, err)
		}
	}
	return nil
}
