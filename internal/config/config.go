package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// schemaJSON validates config files before they are decoded, so a typo'd key
// or a wrong type fails with a path into the document instead of a silent
// zero value.
const schemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "additionalProperties": false,
  "required": ["workspaceId", "apiUrl"],
  "properties": {
    "workspaceId": {"type": "string", "minLength": 1},
    "apiUrl": {"type": "string", "minLength": 1},
    "relayUrl": {"type": "string"},
    "spoolDir": {"type": "string"},
    "updateLogPath": {"type": "string"},
    "maxRetries": {"type": "integer", "minimum": 0, "maximum": 10},
    "bannerReappearDelay": {"type": "string", "pattern": "^[0-9]+(ms|s|m|h)$"},
    "labelHideDelay": {"type": "string", "pattern": "^[0-9]+(ms|s|m|h)$"},
    "discovery": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "enabled": {"type": "boolean"},
        "service": {"type": "string"},
        "timeout": {"type": "string", "pattern": "^[0-9]+(ms|s|m|h)$"}
      }
    }
  }
}`

type Discovery struct {
	Enabled bool   `json:"enabled"`
	Service string `json:"service"`
	Timeout string `json:"timeout"`
}

type Config struct {
	WorkspaceID         string    `json:"workspaceId"`
	APIURL              string    `json:"apiUrl"`
	RelayURL            string    `json:"relayUrl"`
	SpoolDir            string    `json:"spoolDir"`
	UpdateLogPath       string    `json:"updateLogPath"`
	MaxRetries          int       `json:"maxRetries"`
	BannerReappearDelay string    `json:"bannerReappearDelay"`
	LabelHideDelay      string    `json:"labelHideDelay"`
	Discovery           Discovery `json:"discovery"`
}

// BannerDelay parses the configured banner delay, falling back to zero (the
// consumer's default) when unset.
func (c Config) BannerDelay() time.Duration {
	return parseDelay(c.BannerReappearDelay)
}

func (c Config) LabelDelay() time.Duration {
	return parseDelay(c.LabelHideDelay)
}

func (c Config) DiscoveryTimeout() time.Duration {
	return parseDelay(c.Discovery.Timeout)
}

func parseDelay(raw string) time.Duration {
	if raw == "" {
		return 0
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0
	}
	return d
}

// Load reads, validates, and decodes a config file.
func Load(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	return Parse(raw)
}

// Parse validates raw config bytes against the schema and decodes them.
func Parse(raw []byte) (Config, error) {
	schema, err := compileSchema()
	if err != nil {
		return Config{}, err
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return Config{}, fmt.Errorf("config is not valid json: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return Config{}, fmt.Errorf("config rejected: %w", err)
	}
	var cfg Config
	if err := decodeStrict(raw, &cfg); err != nil {
		return Config{}, err
	}
	cfg.WorkspaceID = strings.TrimSpace(cfg.WorkspaceID)
	cfg.APIURL = strings.TrimRight(strings.TrimSpace(cfg.APIURL), "/")
	cfg.RelayURL = strings.TrimSpace(cfg.RelayURL)
	return cfg, nil
}

func decodeStrict(raw []byte, out any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	return dec.Decode(out)
}

func compileSchema() (*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(schemaJSON))
	if err != nil {
		return nil, err
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("syncd-config.schema.json", doc); err != nil {
		return nil, err
	}
	return compiler.Compile("syncd-config.schema.json")
}
