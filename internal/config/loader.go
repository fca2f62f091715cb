package config

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"
)

//go:embed schema.json
var schemaJSON []byte

// ErrInvalidConfig wraps every schema violation.
var ErrInvalidConfig = errors.New("invalid config")

// DefaultEnvMapping maps environment variables to dotted config paths.
var DefaultEnvMapping = map[string]string{
	"LOG_DASHBOARD_BACKEND_URL":  "backend.url",
	"LOG_DASHBOARD_API_PREFIX":   "backend.api_prefix",
	"LOG_DASHBOARD_LISTEN":       "server.listen",
	"LOG_DASHBOARD_EXPORT_DIR":   "export.dir",
	"LOG_DASHBOARD_METADATA_TTL": "metadata.ttl",
	"LOG_LEVEL":                  "application.log_level",
	"LOG_FORMAT":                 "monitoring.logging.format",
	"PROM_PORT":                  "monitoring.prometheus.port",
}

// LoadDotEnv loads variables from a .env file without overriding ones that
// are already set. A missing file is not an error.
func LoadDotEnv(path string) error {
	if path == "" {
		path = ".env"
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// LoadConfig reads the YAML file at cfgPath (an empty path means defaults
// only), applies environment overrides, validates the result against the
// embedded schema and decodes it over Default().
//
// envMapping is optional; when nil DefaultEnvMapping is used.
func LoadConfig(cfgPath string, envMapping map[string]string) (*Config, error) {
	doc := map[string]interface{}{}
	if cfgPath != "" {
		yb, err := os.ReadFile(cfgPath)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		var raw interface{}
		if err := yaml.Unmarshal(yb, &raw); err != nil {
			return nil, fmt.Errorf("unmarshal yaml: %w", err)
		}
		if raw != nil {
			conv, err := toJSONCompatible(raw)
			if err != nil {
				return nil, fmt.Errorf("convert yaml->json compatible: %w", err)
			}
			m, ok := conv.(map[string]interface{})
			if !ok {
				return nil, fmt.Errorf("%w: top level must be a mapping", ErrInvalidConfig)
			}
			doc = m
		}
	}

	if envMapping == nil {
		envMapping = DefaultEnvMapping
	}
	applyEnvOverrides(doc, envMapping)

	if err := validate(doc); err != nil {
		return nil, err
	}

	yb, err := yaml.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("marshal merged config: %w", err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(yb, cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}

func validate(doc map[string]interface{}) error {
	jb, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal to json: %w", err)
	}

	result, err := gojsonschema.Validate(gojsonschema.NewBytesLoader(schemaJSON), gojsonschema.NewBytesLoader(jb))
	if err != nil {
		return fmt.Errorf("schema validation error: %w", err)
	}
	if !result.Valid() {
		var sb strings.Builder
		for _, e := range result.Errors() {
			sb.WriteString("\n- ")
			sb.WriteString(e.String())
		}
		return fmt.Errorf("%w:%s", ErrInvalidConfig, sb.String())
	}
	return nil
}

// applyEnvOverrides reads environment variables per mapping and sets dotted-paths in cfg.
func applyEnvOverrides(cfg map[string]interface{}, mapping map[string]string) {
	for env, path := range mapping {
		if v, ok := os.LookupEnv(env); ok && v != "" {
			// only port fields are numeric; everything else stays a string
			if strings.HasSuffix(path, ".port") {
				if i, err := tryParseInt(v); err == nil {
					setNestedField(cfg, path, i)
					continue
				}
			}
			setNestedField(cfg, path, v)
		}
	}
}

// setNestedField sets value at dotted path (e.g. "monitoring.prometheus.port") creating maps as needed.
func setNestedField(m map[string]interface{}, dotted string, value interface{}) {
	parts := strings.Split(dotted, ".")
	last := len(parts) - 1
	cur := m
	for i, p := range parts {
		if i == last {
			cur[p] = value
			return
		}
		next, ok := cur[p].(map[string]interface{})
		if !ok {
			next = make(map[string]interface{})
			cur[p] = next
		}
		cur = next
	}
}

func tryParseInt(s string) (int64, error) {
	return strconv.ParseInt(strings.TrimSpace(s), 10, 64)
}

// toJSONCompatible converts yaml-parsed structures into map[string]interface{}
// recursively so they can be marshalled as JSON.
func toJSONCompatible(v interface{}) (interface{}, error) {
	switch val := v.(type) {
	case map[string]interface{}:
		m := make(map[string]interface{}, len(val))
		for k, vv := range val {
			conv, err := toJSONCompatible(vv)
			if err != nil {
				return nil, err
			}
			m[k] = conv
		}
		return m, nil
	case map[interface{}]interface{}:
		m := make(map[string]interface{}, len(val))
		for k, vv := range val {
			conv, err := toJSONCompatible(vv)
			if err != nil {
				return nil, err
			}
			m[fmt.Sprintf("%v", k)] = conv
		}
		return m, nil
	case []interface{}:
		arr := make([]interface{}, len(val))
		for i, vv := range val {
			conv, err := toJSONCompatible(vv)
			if err != nil {
				return nil, err
			}
			arr[i] = conv
		}
		return arr, nil
	default:
		return val, nil
	}
}
