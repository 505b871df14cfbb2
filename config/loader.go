package config

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const (
	// EnvPrefix is the prefix of all configuration environment variables.
	EnvPrefix = "DRAFTMESH_"

	maxConfigFileSize = 1024 * 1024 // 1MB
)

// Load reads the YAML file at path (optional, skipped when empty) and the
// environment on top of the defaults, then validates the result.
//
// Vendor credentials also fall back to the conventional variables
// OPENAI_API_KEY, ANTHROPIC_API_KEY, GOOGLE_API_KEY and PERPLEXITY_API_KEY.
func Load(path string) (*Config, error) {
	var content []byte

	if path != "" {
		data, err := readConfigFile(path)
		if err != nil {
			return nil, err
		}

		content = data
	}

	return LoadBytes(content)
}

// LoadBytes is Load for YAML content that is already in memory.
func LoadBytes(content []byte) (*Config, error) {
	k := koanf.New(".")

	if len(content) > 0 {
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := Default()
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyVendorEnv(&cfg.Providers)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// envKey maps DRAFTMESH_SECTION_FIELD_NAME to section.field_name. Only the
// first underscore separates; the field keeps the rest.
func envKey(s string) string {
	lower := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))

	parts := strings.SplitN(lower, "_", 2)
	if len(parts) == 1 {
		return lower
	}

	return parts[0] + "." + parts[1]
}

func applyVendorEnv(p *ProvidersConfig) {
	fallback := func(dst *string, key string) {
		if *dst == "" {
			*dst = os.Getenv(key)
		}
	}

	fallback(&p.OpenAIAPIKey, "OPENAI_API_KEY")
	fallback(&p.AnthropicAPIKey, "ANTHROPIC_API_KEY")
	fallback(&p.GoogleAPIKey, "GOOGLE_API_KEY")
	fallback(&p.PerplexityAPIKey, "PERPLEXITY_API_KEY")
}

func readConfigFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}

	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("config file %s is not a regular file", path)
	}

	if info.Size() > maxConfigFileSize {
		return nil, fmt.Errorf("config file %s too large: %d bytes (max %d)", path, info.Size(), maxConfigFileSize)
	}

	content, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return content, nil
}
