package config

import (
	"fmt"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// PropertiesEnvPrefix marks environment variables that override task
// properties: ROUTEX_PROP__ROUTE__SOURCE__URL sets route.source.url.
const PropertiesEnvPrefix = "ROUTEX_PROP__"

// LoadProperties builds the flat string properties handed to a source task.
// Layers, lowest first: the YAML file at path (nested or dotted keys), the
// inline properties, then the environment.
func LoadProperties(path string, inline map[string]string) (map[string]string, error) {
	k := koanf.New(".")
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("properties %s: %w", path, err)
		}
	}
	for key, v := range inline {
		if err := k.Set(key, v); err != nil {
			return nil, fmt.Errorf("property %s: %w", key, err)
		}
	}
	_ = k.Load(env.Provider(PropertiesEnvPrefix, ".", envKey(PropertiesEnvPrefix)), nil)

	props := make(map[string]string, len(k.Keys()))
	for key, v := range k.All() {
		props[key] = propertyString(v)
	}
	return props, nil
}

// envKey maps PREFIX_FOO__BAR to foo.bar.
func envKey(prefix string) func(string) string {
	return func(s string) string {
		s = strings.ToLower(strings.TrimPrefix(s, prefix))
		return strings.ReplaceAll(s, "__", ".")
	}
}

func propertyString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case []any:
		parts := make([]string, len(x))
		for i, e := range x {
			parts[i] = propertyString(e)
		}
		return strings.Join(parts, ",")
	default:
		return fmt.Sprint(x)
	}
}
