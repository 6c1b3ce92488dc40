// Package config loads loadgate settings from defaults, an optional config
// file, LOADGATE_* environment variables and command-line flags, in that
// order of precedence.
package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// lookupSetting returns the first candidate key present in settings. Keys
// are also tried lowercased and with dashes in place of underscores.
func lookupSetting(settings map[string]any, candidates ...string) (any, bool) {
	for _, key := range candidates {
		lower := strings.ToLower(key)
		for _, k := range []string{key, lower, strings.ReplaceAll(lower, "_", "-")} {
			if val, ok := settings[k]; ok {
				return val, true
			}
		}
	}
	return nil, false
}

func asString(value any) (string, error) {
	switch v := value.(type) {
	case nil:
		return "", nil
	case string:
		return strings.TrimSpace(v), nil
	case fmt.Stringer:
		return v.String(), nil
	case []byte:
		return string(v), nil
	default:
		return fmt.Sprint(v), nil
	}
}

func asInt64(value any) (int64, error) {
	switch v := value.(type) {
	case nil:
		return 0, nil
	case int:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case int64:
		return v, nil
	case uint:
		return int64(v), nil
	case uint32:
		return int64(v), nil
	case uint64:
		return int64(v), nil
	case float32:
		return int64(v), nil
	case float64:
		if v != float64(int64(v)) {
			return 0, fmt.Errorf("%g is not a whole number", v)
		}
		return int64(v), nil
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return 0, nil
		}
		return strconv.ParseInt(s, 10, 64)
	default:
		return 0, fmt.Errorf("unsupported numeric type %T", value)
	}
}

func asInt(value any) (int, error) {
	v, err := asInt64(value)
	return int(v), err
}

func asFloat64(value any) (float64, error) {
	switch v := value.(type) {
	case nil:
		return 0, nil
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return 0, nil
		}
		return strconv.ParseFloat(s, 64)
	default:
		return 0, fmt.Errorf("unsupported float type %T", value)
	}
}

func asBool(value any) (bool, error) {
	switch v := value.(type) {
	case nil:
		return false, nil
	case bool:
		return v, nil
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return false, nil
		}
		return strconv.ParseBool(s)
	default:
		return false, fmt.Errorf("unsupported boolean type %T", value)
	}
}

// asDuration accepts Go duration strings; bare numbers are seconds.
func asDuration(value any) (time.Duration, error) {
	switch v := value.(type) {
	case nil:
		return 0, nil
	case time.Duration:
		return v, nil
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return 0, nil
		}
		if secs, err := strconv.ParseFloat(s, 64); err == nil {
			return time.Duration(secs * float64(time.Second)), nil
		}
		return time.ParseDuration(s)
	case float32, float64:
		f, _ := asFloat64(v)
		return time.Duration(f * float64(time.Second)), nil
	default:
		n, err := asInt64(v)
		if err != nil {
			return 0, fmt.Errorf("unsupported duration type %T", value)
		}
		return time.Duration(n) * time.Second, nil
	}
}

// asStringSlice accepts lists or a comma-separated string (the form
// environment variables take).
func asStringSlice(value any) ([]string, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case []string:
		return append([]string(nil), v...), nil
	case []any:
		out := make([]string, len(v))
		for i, item := range v {
			s, err := asString(item)
			if err != nil {
				return nil, fmt.Errorf("index %d: %w", i, err)
			}
			out[i] = s
		}
		return out, nil
	case string:
		return splitList(v), nil
	default:
		return nil, fmt.Errorf("unsupported string slice type %T", value)
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// asStringMap accepts maps or "k=v,k2=v2".
func asStringMap(value any) (map[string]string, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case map[string]string:
		out := make(map[string]string, len(v))
		for k, val := range v {
			out[k] = val
		}
		return out, nil
	case map[string]any:
		out := make(map[string]string, len(v))
		for k, val := range v {
			s, err := asString(val)
			if err != nil {
				return nil, err
			}
			out[k] = s
		}
		return out, nil
	case string:
		out := make(map[string]string)
		for _, pair := range splitList(v) {
			k, val, ok := strings.Cut(pair, "=")
			if !ok || strings.TrimSpace(k) == "" {
				return nil, fmt.Errorf("expected key=value, got %q", pair)
			}
			out[strings.TrimSpace(k)] = strings.TrimSpace(val)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported map type %T", value)
	}
}

// toStringKeyMap normalizes a nested section; keys are lowercased.
func toStringKeyMap(value any) (map[string]any, error) {
	result := map[string]any{}
	switch v := value.(type) {
	case map[string]any:
		for key, val := range v {
			result[strings.ToLower(strings.TrimSpace(key))] = val
		}
	case map[any]any:
		for key, val := range v {
			str, err := asString(key)
			if err != nil {
				return nil, err
			}
			result[strings.ToLower(str)] = val
		}
	default:
		return nil, fmt.Errorf("expected map, got %T", value)
	}
	return result, nil
}

// asTargets accepts "host[=expect]" strings, a comma-separated string of
// them, or maps with host/expect/url keys.
func asTargets(value any) ([]Target, error) {
	var items []any
	switch v := value.(type) {
	case nil:
		return nil, nil
	case string:
		for _, s := range splitList(v) {
			items = append(items, s)
		}
	case []string:
		for _, s := range v {
			items = append(items, s)
		}
	case []any:
		items = v
	default:
		return nil, fmt.Errorf("unsupported targets type %T", value)
	}

	targets := make([]Target, 0, len(items))
	for i, item := range items {
		if s, ok := item.(string); ok {
			host, expect, _ := strings.Cut(s, "=")
			targets = append(targets, Target{Host: strings.TrimSpace(host), Expect: strings.TrimSpace(expect)})
			continue
		}
		m, err := toStringKeyMap(item)
		if err != nil {
			return nil, fmt.Errorf("index %d: %w", i, err)
		}
		var t Target
		for key, dst := range map[string]*string{"host": &t.Host, "expect": &t.Expect, "url": &t.URL} {
			raw, _ := lookupSetting(m, key)
			if *dst, err = asString(raw); err != nil {
				return nil, fmt.Errorf("index %d: %s: %w", i, key, err)
			}
		}
		targets = append(targets, t)
	}
	return targets, nil
}
