package config

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	json "github.com/goccy/go-json"
	"gopkg.in/yaml.v3"
)

// LoadSource loads a SourceConfig from a YAML or JSON file after ${VAR}
// substitution and applies defaults
func LoadSource(filePath string) (*SourceConfig, error) {
	data, err := os.ReadFile(filePath) //nolint:gosec // G304: path comes from the command line
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return ParseSource([]byte(substituteEnvVars(string(data))))
}

// ParseSource parses a SourceConfig document and applies defaults
func ParseSource(content []byte) (*SourceConfig, error) {
	var raw map[string]interface{}
	if trimmed := bytes.TrimSpace(content); len(trimmed) > 0 && trimmed[0] == '{' {
		// JSON documents go through the JSON decoder so tab indentation
		// and escapes behave as platform-written files expect
		if err := json.Unmarshal(trimmed, &raw); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
		normalized, err := yaml.Marshal(raw)
		if err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
		content = normalized
	} else if err := yaml.Unmarshal(content, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	var cfg SourceConfig
	if err := yaml.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	cfg.raw = raw
	cfg.ApplyDefaults()
	return &cfg, nil
}

// substituteEnvVars replaces ${VAR_NAME} with environment variable values
func substituteEnvVars(content string) string {
	var b strings.Builder
	for {
		start := strings.Index(content, "${")
		if start == -1 {
			break
		}
		end := strings.Index(content[start:], "}")
		if end == -1 {
			break
		}
		end += start

		b.WriteString(content[:start])
		b.WriteString(os.Getenv(content[start+2 : end]))
		content = content[end+1:]
	}
	b.WriteString(content)
	return b.String()
}
