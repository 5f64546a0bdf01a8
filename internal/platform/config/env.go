package config

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// envSource resolves keys with explicit-map > system env > dotenv precedence.
type envSource struct {
	explicit map[string]string
	system   bool
	dotEnv   map[string]string
}

func newEnvSource(options loaderOptions) (*envSource, error) {
	dotEnv, err := parseDotEnvFile(options.envFile)
	if err != nil {
		return nil, err
	}
	return &envSource{
		explicit: options.envMap,
		system:   options.useSystemEnv,
		dotEnv:   dotEnv,
	}, nil
}

func (e *envSource) lookup(key string) (string, bool) {
	if value, ok := e.explicit[key]; ok {
		return value, true
	}
	if e.system {
		if value, ok := os.LookupEnv(key); ok {
			return value, true
		}
	}
	if value, ok := e.dotEnv[key]; ok {
		return value, true
	}
	return "", false
}

func (e *envSource) str(key, fallback string) string {
	if value, ok := e.lookup(key); ok && value != "" {
		return value
	}
	return fallback
}

func (e *envSource) duration(key string, fallback time.Duration) time.Duration {
	if value, ok := e.lookup(key); ok && value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}

func (e *envSource) integer(key string, fallback int) int {
	if value, ok := e.lookup(key); ok && value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

// values flattens the source into a single map applying lookup precedence
// in reverse merge order.
func (e *envSource) values() map[string]string {
	out := make(map[string]string)
	for key, value := range e.dotEnv {
		out[key] = value
	}
	if e.system {
		for _, entry := range os.Environ() {
			key, value, ok := strings.Cut(entry, "=")
			if !ok {
				continue
			}
			if key = strings.TrimSpace(key); key == "" {
				continue
			}
			out[key] = value
		}
	}
	for key, value := range e.explicit {
		out[key] = value
	}
	return out
}

// EnvironmentValues returns the effective key/value environment map after
// applying the same precedence rules as Load (dotenv < OS env < explicit
// map). Callers can use the result to initialise dependencies before
// invoking Load.
func EnvironmentValues(opts ...Option) (map[string]string, error) {
	options := defaultLoaderOptions()
	for _, opt := range opts {
		opt(&options)
	}
	env, err := newEnvSource(options)
	if err != nil {
		return nil, err
	}
	return env.values(), nil
}

func parseDotEnvFile(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		absPath = path
	}

	file, err := os.Open(absPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: unable to read %s: %w", absPath, err)
	}
	defer file.Close()

	values := make(map[string]string)
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		if key, value, ok := parseDotEnvLine(scanner.Text()); ok {
			values[key] = value
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("config: failed parsing %s: %w", absPath, err)
	}
	return values, nil
}

func parseDotEnvLine(line string) (key, value string, ok bool) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return "", "", false
	}
	line = strings.TrimSpace(strings.TrimPrefix(line, "export "))

	key, value, found := strings.Cut(line, "=")
	if !found {
		return "", "", false
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return "", "", false
	}
	value = strings.Trim(strings.TrimSpace(value), "\"'")
	return key, value, true
}
