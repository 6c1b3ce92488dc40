package config

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"
)

// Group selects the flag groups a command registers.
type Group int

const (
	GroupReadiness Group = 1 << iota
	GroupLoad
	GroupMonitor

	GroupAll = GroupReadiness | GroupLoad | GroupMonitor
)

// keyAnnotation maps a flag to its settings key.
const keyAnnotation = "loadgate_key"

// AddGlobalFlags registers the flags every command accepts.
func AddGlobalFlags(fs *pflag.FlagSet) {
	d := Defaults()
	fs.String("config", "", "Path to configuration file (JSON or YAML)")
	bind(fs, "state", "state", func(n string) { fs.String(n, d.StatePath, "Pipeline state file") })
	bind(fs, "artifacts", "artifacts", func(n string) { fs.String(n, d.ArtifactsDir, "Directory for report files") })
	bind(fs, "log-level", "log_level", func(n string) { fs.String(n, d.LogLevel, "Log level: debug, info, warn or error") })
	bind(fs, "log-format", "log_format", func(n string) { fs.String(n, d.LogFormat, "Log format: console or json") })
	bind(fs, "namespace", "namespace", func(n string) { fs.StringP(n, "n", d.Namespace, "Application namespace") })
	bind(fs, "kubeconfig", "kubeconfig", func(n string) { fs.String(n, "", "Path to kubeconfig (defaults to state, then $KUBECONFIG)") })

	bind(fs, "tracing-endpoint", "tracing.endpoint", func(n string) { fs.String(n, "", "OTLP endpoint for trace export") })
	bind(fs, "tracing-protocol", "tracing.protocol", func(n string) { fs.String(n, d.Tracing.Protocol, "OTLP protocol: grpc or http") })
	bind(fs, "tracing-service-name", "tracing.service_name", func(n string) { fs.String(n, "", "Service name reported to the collector") })
	bind(fs, "tracing-sample-rate", "tracing.sample_rate", func(n string) { fs.Float64(n, d.Tracing.SampleRate, "Trace sampling ratio between 0 and 1") })
	bind(fs, "tracing-insecure", "tracing.insecure", func(n string) { fs.Bool(n, false, "Disable TLS to the OTLP endpoint") })
	bind(fs, "tracing-propagate", "tracing.propagate", func(n string) { fs.Bool(n, false, "Send W3C trace context to targets") })
}

// AddFlags registers the phase flags of groups. When both the readiness and
// load groups are present their timeouts are named check-timeout and
// request-timeout.
func AddFlags(fs *pflag.FlagSet, groups Group) {
	d := Defaults()
	both := groups&GroupReadiness != 0 && groups&GroupLoad != 0

	if groups&GroupReadiness != 0 {
		name := "timeout"
		if both {
			name = "check-timeout"
		}
		bind(fs, name, "readiness.timeout", func(n string) { fs.Duration(n, d.Readiness.Timeout, "Timeout of each readiness phase") })
		bind(fs, "retries", "readiness.retries", func(n string) { fs.Int(n, d.Readiness.Retries, "Attempts of the metrics backend query") })
		bind(fs, "poll-interval", "readiness.poll_interval", func(n string) { fs.Duration(n, d.Readiness.PollInterval, "Delay between readiness polls") })
		bind(fs, "deployment", "readiness.deployments", func(n string) {
			fs.StringArray(n, d.Readiness.Deployments, "Deployment that must be rolled out (repeatable)")
		})
		bind(fs, "service", "readiness.services", func(n string) {
			fs.StringArray(n, d.Readiness.Services, "Service that must have endpoints (repeatable)")
		})
	}

	if groups&GroupLoad != 0 {
		name := "timeout"
		if both {
			name = "request-timeout"
		}
		bind(fs, name, "load.timeout", func(n string) { fs.Duration(n, d.Load.Timeout, "Per-request timeout") })
		bind(fs, "requests", "load.requests", func(n string) { fs.Int(n, d.Load.Requests, "Steady-state request budget") })
		bind(fs, "warmup-attempts", "load.warmup_attempts", func(n string) { fs.Int(n, d.Load.WarmupAttempts, "Warmup attempts per target") })
		bind(fs, "warmup-delay", "load.warmup_delay", func(n string) { fs.Duration(n, d.Load.WarmupDelay, "Delay between warmup attempts") })
		bind(fs, "target", "load.targets", func(n string) {
			fs.StringArray(n, nil, "Target as host[=expect] (repeatable, default foo.localhost and bar.localhost)")
		})
		bind(fs, "concurrency", "load.concurrency", func(n string) { fs.IntP(n, "c", d.Load.Concurrency, "Concurrent workers") })
		bind(fs, "rate", "load.rate", func(n string) { fs.IntP(n, "r", 0, "Requests per second limit (0 means unlimited)") })
		bind(fs, "seed", "load.seed", func(n string) { fs.Int64(n, 0, "Seed for target selection (0 picks one from the clock)") })
		bind(fs, "progress", "load.progress", func(n string) { fs.Bool(n, false, "Print a live progress line") })
		bind(fs, "header", "load.headers", func(n string) { fs.StringArray(n, nil, "Request header as key=value (repeatable)") })
		bind(fs, "threshold", "load.thresholds", func(n string) {
			fs.StringArray(n, nil, "Pass/fail threshold such as 'latency:p95 < 500' (repeatable)")
		})
	}

	if groups&GroupMonitor != 0 {
		bind(fs, "prometheus-url", "monitor.prometheus_url", func(n string) { fs.String(n, d.Monitor.PrometheusURL, "Prometheus base URL") })
		bind(fs, "duration", "monitor.duration", func(n string) { fs.Duration(n, d.Monitor.Duration, "Monitoring window") })
		bind(fs, "interval", "monitor.interval", func(n string) { fs.Duration(n, d.Monitor.Interval, "Sampling interval") })
		bind(fs, "no-port-forward", "monitor.port_forward", func(n string) {
			fs.Bool(n, false, "Fail instead of opening a kubectl port-forward when Prometheus is unreachable")
		})
	}
}

func bind(fs *pflag.FlagSet, name, key string, register func(name string)) {
	register(name)
	_ = fs.SetAnnotation(name, keyAnnotation, []string{key})
}

// flagSettings collects the explicitly set flags into nested settings.
func flagSettings(fs *pflag.FlagSet) (map[string]any, error) {
	settings := map[string]any{}
	var firstErr error
	fs.Visit(func(f *pflag.Flag) {
		keys := f.Annotations[keyAnnotation]
		if len(keys) == 0 || firstErr != nil {
			return
		}
		value, err := flagValue(fs, f)
		if err != nil {
			firstErr = fmt.Errorf("--%s: %w", f.Name, err)
			return
		}
		setNested(settings, keys[0], value)
	})
	return settings, firstErr
}

func flagValue(fs *pflag.FlagSet, f *pflag.Flag) (any, error) {
	switch f.Name {
	case "no-port-forward":
		disabled, err := fs.GetBool(f.Name)
		return !disabled, err
	case "header":
		pairs, err := fs.GetStringArray(f.Name)
		if err != nil {
			return nil, err
		}
		headers := make(map[string]any, len(pairs))
		for _, pair := range pairs {
			k, v, ok := strings.Cut(pair, "=")
			if !ok {
				k, v, ok = strings.Cut(pair, ":")
			}
			if !ok || strings.TrimSpace(k) == "" {
				return nil, fmt.Errorf("expected key=value, got %q", pair)
			}
			headers[strings.TrimSpace(k)] = strings.TrimSpace(v)
		}
		return headers, nil
	}

	switch f.Value.Type() {
	case "stringArray":
		return fs.GetStringArray(f.Name)
	case "duration":
		return fs.GetDuration(f.Name)
	case "int":
		return fs.GetInt(f.Name)
	case "int64":
		return fs.GetInt64(f.Name)
	case "float64":
		return fs.GetFloat64(f.Name)
	case "bool":
		return fs.GetBool(f.Name)
	default:
		return f.Value.String(), nil
	}
}

func setNested(settings map[string]any, key string, value any) {
	parts := strings.Split(key, ".")
	m := settings
	for _, p := range parts[:len(parts)-1] {
		next, ok := m[p].(map[string]any)
		if !ok {
			next = map[string]any{}
			m[p] = next
		}
		m = next
	}
	m[parts[len(parts)-1]] = value
}
