package config

import (
	"io/fs"
	"strconv"
	"strings"
	"time"
)

// Config wraps a map[string]any for type-safe value extraction.
// All accessor methods return default values if the key is missing
// or the value cannot be converted to the requested type.
type Config struct {
	data map[string]any
}

// New creates a Config from the given map.
// If data is nil, an empty Config is returned.
func New(data map[string]any) Config {
	if data == nil {
		data = make(map[string]any)
	}
	return Config{data: data}
}

// String returns the string value for key, or defaultVal if missing or not a string.
func (c Config) String(key, defaultVal string) string {
	if s, ok := c.data[key].(string); ok {
		return s
	}
	return defaultVal
}

// Duration returns the duration value for key, or defaultVal if missing or invalid.
//
// Accepts:
//   - string: parsed with time.ParseDuration
//   - int, int64, float64: interpreted as seconds
//   - time.Duration: used directly
func (c Config) Duration(key string, defaultVal time.Duration) time.Duration {
	switch val := c.data[key].(type) {
	case string:
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	case float64:
		return time.Duration(val * float64(time.Second))
	case int:
		return time.Duration(val) * time.Second
	case int64:
		return time.Duration(val) * time.Second
	case time.Duration:
		return val
	}
	return defaultVal
}

// Bool returns the boolean value for key, or defaultVal if missing or not a bool.
func (c Config) Bool(key string, defaultVal bool) bool {
	if b, ok := c.data[key].(bool); ok {
		return b
	}
	return defaultVal
}

// Int returns the integer value for key, or defaultVal if missing or not convertible.
// A float64 is accepted only if it has no fractional part.
func (c Config) Int(key string, defaultVal int) int {
	if n, ok := toInt(c.data[key]); ok {
		return n
	}
	return defaultVal
}

func toInt(v any) (int, bool) {
	switch val := v.(type) {
	case int:
		return val, true
	case int64:
		return int(val), true
	case uint64:
		return int(val), true
	case float64:
		if val == float64(int(val)) {
			return int(val), true
		}
	}
	return 0, false
}

// IntSlice returns the integer slice for key, or defaultVal if missing or if
// any element is not an integer.
func (c Config) IntSlice(key string, defaultVal []int) []int {
	switch val := c.data[key].(type) {
	case []int:
		return val
	case []any:
		result := make([]int, 0, len(val))
		for _, item := range val {
			n, ok := toInt(item)
			if !ok {
				return defaultVal
			}
			result = append(result, n)
		}
		return result
	}
	return defaultVal
}

// FileMode returns a permission mode for key, or defaultVal if missing or
// invalid.
//
// Accepts:
//   - int: used directly (YAML 0o750 and 0750 literals decode to int)
//   - string: parsed as octal ("750", "0750", "0o750")
//   - fs.FileMode: used directly
func (c Config) FileMode(key string, defaultVal fs.FileMode) fs.FileMode {
	switch val := c.data[key].(type) {
	case string:
		s := strings.TrimPrefix(strings.TrimPrefix(val, "0o"), "0O")
		if n, err := strconv.ParseUint(s, 8, 32); err == nil && n <= 0o7777 {
			return fs.FileMode(n)
		}
	case fs.FileMode:
		return val
	default:
		if n, ok := toInt(val); ok && n >= 0 && n <= 0o7777 {
			return fs.FileMode(n)
		}
	}
	return defaultVal
}

// Sub returns the nested section under key. A missing or non-map value
// yields an empty Config.
func (c Config) Sub(key string) Config {
	if m, ok := c.data[key].(map[string]any); ok {
		return New(m)
	}
	return New(nil)
}

// Has returns true if the key exists in the config.
func (c Config) Has(key string) bool {
	_, ok := c.data[key]
	return ok
}

// Raw returns the underlying map.
// The returned map should not be modified.
func (c Config) Raw() map[string]any {
	return c.data
}
