package config

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides: LOADGATE_LOAD_REQUESTS sets
// load.requests.
const EnvPrefix = "LOADGATE"

// settingKeys lists every key accepted from files and the environment.
var settingKeys = []string{
	"state", "artifacts", "log_level", "log_format", "namespace", "kubeconfig",
	"readiness.timeout", "readiness.retries", "readiness.poll_interval",
	"readiness.deployments", "readiness.services",
	"load.targets", "load.requests", "load.timeout", "load.warmup_attempts", "load.warmup_delay",
	"load.concurrency", "load.rate", "load.seed", "load.progress", "load.headers", "load.thresholds",
	"monitor.prometheus_url", "monitor.duration", "monitor.interval", "monitor.port_forward",
	"monitor.service", "monitor.service_namespace",
	"tracing.endpoint", "tracing.protocol", "tracing.service_name", "tracing.sample_rate",
	"tracing.insecure", "tracing.propagate",
}

// Loader builds a Config from the layered sources.
type Loader struct {
	// Getenv replaces os.Getenv lookups for tests. Nil uses the process
	// environment.
	Getenv func(string) string
}

func NewLoader(getenv func(string) string) *Loader {
	return &Loader{Getenv: getenv}
}

// Load applies defaults, then the file named by the "config" flag, then
// LOADGATE_* variables, then the flags explicitly set on fs. The result is
// not validated.
func (l Loader) Load(fs *pflag.FlagSet) (*Config, error) {
	cfg := Defaults()

	var configPath string
	if fs != nil && fs.Lookup("config") != nil {
		configPath, _ = fs.GetString("config")
		configPath = strings.TrimSpace(configPath)
	}

	v := viper.New()
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", configPath, err)
		}
	}
	if err := applySettings(&cfg, v.AllSettings()); err != nil {
		return nil, fmt.Errorf("config %s: %w", configPath, err)
	}

	env, err := l.envSettings()
	if err != nil {
		return nil, err
	}
	if err := applySettings(&cfg, env); err != nil {
		return nil, fmt.Errorf("environment: %w", err)
	}

	if fs != nil {
		flags, err := flagSettings(fs)
		if err != nil {
			return nil, err
		}
		if err := applySettings(&cfg, flags); err != nil {
			return nil, fmt.Errorf("flags: %w", err)
		}
	}

	cfg.ConfigFile = configPath
	return &cfg, nil
}

// envSettings reads LOADGATE_* through viper so env values arrive in the
// same nested shape as file settings.
func (l Loader) envSettings() (map[string]any, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	for _, key := range settingKeys {
		envName := EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if l.Getenv != nil {
			if val := l.Getenv(envName); val != "" {
				v.Set(key, val)
			}
			continue
		}
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("bind %s: %w", envName, err)
		}
	}
	return v.AllSettings(), nil
}

// section is one level of nested settings; prefix names it in errors.
type section struct {
	prefix string
	values map[string]any
}

func (s section) key(k string) string {
	if s.prefix == "" {
		return k
	}
	return s.prefix + "." + k
}

func (s section) sub(name string) (section, bool, error) {
	raw, ok := lookupSetting(s.values, name)
	if !ok || raw == nil {
		return section{}, false, nil
	}
	m, err := toStringKeyMap(raw)
	if err != nil {
		return section{}, false, fmt.Errorf("%s: %w", s.key(name), err)
	}
	return section{prefix: s.key(name), values: m}, true, nil
}

func field[T any](s section, k string, conv func(any) (T, error), dst *T) error {
	raw, ok := lookupSetting(s.values, k)
	if !ok {
		return nil
	}
	v, err := conv(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", s.key(k), err)
	}
	*dst = v
	return nil
}

func applySettings(cfg *Config, settings map[string]any) error {
	if len(settings) == 0 {
		return nil
	}
	root := section{values: settings}

	errs := []error{
		field(root, "state", asString, &cfg.StatePath),
		field(root, "artifacts", asString, &cfg.ArtifactsDir),
		field(root, "log_level", asString, &cfg.LogLevel),
		field(root, "log_format", asString, &cfg.LogFormat),
		field(root, "namespace", asString, &cfg.Namespace),
		field(root, "kubeconfig", asString, &cfg.Kubeconfig),
	}

	if s, ok, err := root.sub("readiness"); err != nil {
		errs = append(errs, err)
	} else if ok {
		r := &cfg.Readiness
		errs = append(errs,
			field(s, "timeout", asDuration, &r.Timeout),
			field(s, "retries", asInt, &r.Retries),
			field(s, "poll_interval", asDuration, &r.PollInterval),
			field(s, "deployments", asStringSlice, &r.Deployments),
			field(s, "services", asStringSlice, &r.Services),
		)
	}

	if s, ok, err := root.sub("load"); err != nil {
		errs = append(errs, err)
	} else if ok {
		l := &cfg.Load
		errs = append(errs,
			field(s, "targets", asTargets, &l.Targets),
			field(s, "requests", asInt, &l.Requests),
			field(s, "timeout", asDuration, &l.Timeout),
			field(s, "warmup_attempts", asInt, &l.WarmupAttempts),
			field(s, "warmup_delay", asDuration, &l.WarmupDelay),
			field(s, "concurrency", asInt, &l.Concurrency),
			field(s, "rate", asInt, &l.Rate),
			field(s, "seed", asInt64, &l.Seed),
			field(s, "progress", asBool, &l.Progress),
			field(s, "thresholds", asStringSlice, &l.Thresholds),
		)
		var headers map[string]string
		errs = append(errs, field(s, "headers", asStringMap, &headers))
		for k, v := range headers {
			if l.Headers == nil {
				l.Headers = map[string]string{}
			}
			l.Headers[http.CanonicalHeaderKey(k)] = v
		}
	}

	if s, ok, err := root.sub("monitor"); err != nil {
		errs = append(errs, err)
	} else if ok {
		m := &cfg.Monitor
		errs = append(errs,
			field(s, "prometheus_url", asString, &m.PrometheusURL),
			field(s, "duration", asDuration, &m.Duration),
			field(s, "interval", asDuration, &m.Interval),
			field(s, "port_forward", asBool, &m.PortForward),
			field(s, "service", asString, &m.Service),
			field(s, "service_namespace", asString, &m.ServiceNamespace),
		)
	}

	if s, ok, err := root.sub("tracing"); err != nil {
		errs = append(errs, err)
	} else if ok {
		t := &cfg.Tracing
		errs = append(errs,
			field(s, "endpoint", asString, &t.Endpoint),
			field(s, "protocol", asString, &t.Protocol),
			field(s, "service_name", asString, &t.ServiceName),
			field(s, "sample_rate", asFloat64, &t.SampleRate),
			field(s, "insecure", asBool, &t.Insecure),
		)
		if _, set := lookupSetting(s.values, "propagate"); set {
			var propagate bool
			errs = append(errs, field(s, "propagate", asBool, &propagate))
			t.Propagate = &propagate
		}
	}

	return errors.Join(errs...)
}
