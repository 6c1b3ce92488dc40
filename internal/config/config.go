package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config holds every setting of a pipeline run. Each subcommand reads the
// sections it needs.
type Config struct {
	ConfigFile   string          `mapstructure:"-"`
	StatePath    string          `mapstructure:"state" validate:"required"`
	ArtifactsDir string          `mapstructure:"artifacts" validate:"required"`
	LogLevel     string          `mapstructure:"log_level" validate:"oneof=debug info warn error"`
	LogFormat    string          `mapstructure:"log_format" validate:"oneof=console text json"`
	Namespace    string          `mapstructure:"namespace" validate:"required,hostname_rfc1123"`
	Kubeconfig   string          `mapstructure:"kubeconfig"`
	Readiness    ReadinessConfig `mapstructure:"readiness"`
	Load         LoadConfig      `mapstructure:"load"`
	Monitor      MonitorConfig   `mapstructure:"monitor"`
	Tracing      TracingConfig   `mapstructure:"tracing"`
}

type ReadinessConfig struct {
	Timeout      time.Duration `mapstructure:"timeout" validate:"gt=0"`
	Retries      int           `mapstructure:"retries" validate:"gte=1"`
	PollInterval time.Duration `mapstructure:"poll_interval" validate:"gt=0"`
	Deployments  []string      `mapstructure:"deployments" validate:"dive,required"`
	Services     []string      `mapstructure:"services" validate:"dive,required"`
}

// Target is a routed host in config form. An empty Expect means the first
// DNS label of Host.
type Target struct {
	Host   string `mapstructure:"host" validate:"required"`
	Expect string `mapstructure:"expect"`
	URL    string `mapstructure:"url" validate:"omitempty,url"`
}

type LoadConfig struct {
	Targets        []Target          `mapstructure:"targets" validate:"min=1,dive"`
	Requests       int               `mapstructure:"requests" validate:"gte=1"`
	Timeout        time.Duration     `mapstructure:"timeout" validate:"gt=0"`
	WarmupAttempts int               `mapstructure:"warmup_attempts" validate:"gte=1"`
	WarmupDelay    time.Duration     `mapstructure:"warmup_delay" validate:"gte=0"`
	Concurrency    int               `mapstructure:"concurrency" validate:"gte=1"`
	Rate           int               `mapstructure:"rate" validate:"gte=0"`
	Seed           int64             `mapstructure:"seed"`
	Progress       bool              `mapstructure:"progress"`
	Headers        map[string]string `mapstructure:"headers"`
	Thresholds     []string          `mapstructure:"thresholds"`
}

type MonitorConfig struct {
	PrometheusURL string        `mapstructure:"prometheus_url" validate:"required,url"`
	Duration      time.Duration `mapstructure:"duration" validate:"gt=0"`
	Interval      time.Duration `mapstructure:"interval" validate:"gt=0"`
	PortForward   bool          `mapstructure:"port_forward"`
	// Service and ServiceNamespace locate Prometheus for the port-forward.
	Service          string `mapstructure:"service" validate:"required"`
	ServiceNamespace string `mapstructure:"service_namespace" validate:"required"`
}

// TracingConfig enables OTLP export of pipeline spans.
type TracingConfig struct {
	Endpoint    string  `mapstructure:"endpoint"`
	Protocol    string  `mapstructure:"protocol" validate:"omitempty,oneof=grpc http"`
	ServiceName string  `mapstructure:"service_name"`
	SampleRate  float64 `mapstructure:"sample_rate" validate:"gte=0,lte=1"`
	Insecure    bool    `mapstructure:"insecure"`
	// Propagate overrides whether trace context is sent to targets. Nil
	// follows Enabled.
	Propagate *bool `mapstructure:"propagate"`
}

// Enabled reports whether an exporter endpoint is configured.
func (t TracingConfig) Enabled() bool {
	return strings.TrimSpace(t.Endpoint) != ""
}

func (t TracingConfig) ShouldPropagate() bool {
	if t.Propagate != nil {
		return *t.Propagate
	}
	return t.Enabled()
}

// Defaults returns the configuration used when nothing is set.
func Defaults() Config {
	return Config{
		StatePath:    "artifacts/state.json",
		ArtifactsDir: "artifacts",
		LogLevel:     "info",
		LogFormat:    "console",
		Namespace:    "echo",
		Readiness: ReadinessConfig{
			Timeout:      180 * time.Second,
			Retries:      3,
			PollInterval: 2 * time.Second,
			Deployments:  []string{"echo-foo", "echo-bar"},
			Services:     []string{"echo-foo", "echo-bar"},
		},
		Load: LoadConfig{
			Targets:        []Target{{Host: "foo.localhost"}, {Host: "bar.localhost"}},
			Requests:       200,
			Timeout:        10 * time.Second,
			WarmupAttempts: 20,
			WarmupDelay:    5 * time.Second,
			Concurrency:    1,
			Headers:        map[string]string{},
		},
		Monitor: MonitorConfig{
			PrometheusURL:    "http://localhost:9090",
			Duration:         60 * time.Second,
			Interval:         10 * time.Second,
			PortForward:      true,
			Service:          "prometheus",
			ServiceNamespace: "monitoring",
		},
		Tracing: TracingConfig{Protocol: "grpc", SampleRate: 1},
	}
}

type ValidationError struct {
	issues []string
}

func (e ValidationError) Error() string {
	if len(e.issues) == 0 {
		return "validation failed"
	}
	return fmt.Sprintf("validation failed: %s", strings.Join(e.issues, "; "))
}

func (e ValidationError) Issues() []string {
	return append([]string(nil), e.issues...)
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report fields by their config key rather than the Go name.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("mapstructure"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks struct rules and the cross-field rules tags cannot express.
func (c Config) Validate() error {
	var issues []string

	if err := validate.Struct(c); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return err
		}
		for _, fe := range fieldErrs {
			issues = append(issues, describe(fe))
		}
	}

	seen := make(map[string]bool, len(c.Load.Targets))
	for _, t := range c.Load.Targets {
		if strings.Contains(t.Host, "://") || strings.ContainsAny(t.Host, "/ \t") {
			issues = append(issues, fmt.Sprintf("load.targets: %q must be a bare hostname", t.Host))
		}
		if seen[t.Host] {
			issues = append(issues, fmt.Sprintf("load.targets: duplicate host %q", t.Host))
		}
		seen[t.Host] = true
	}
	if c.Monitor.Interval > c.Monitor.Duration && c.Monitor.Duration > 0 {
		issues = append(issues, "monitor.interval must not exceed monitor.duration")
	}

	if len(issues) > 0 {
		return ValidationError{issues: issues}
	}
	return nil
}

// describe renders a field error as "<key path> <rule>".
func describe(fe validator.FieldError) string {
	// Namespace is "Config.load.targets[0].host"; drop the root type name.
	path := fe.Namespace()
	if _, rest, ok := strings.Cut(path, "."); ok {
		path = rest
	}
	switch fe.Tag() {
	case "required":
		return path + " is required"
	case "gt":
		return fmt.Sprintf("%s must be > %s", path, fe.Param())
	case "gte":
		return fmt.Sprintf("%s must be >= %s", path, fe.Param())
	case "lte":
		return fmt.Sprintf("%s must be <= %s", path, fe.Param())
	case "min":
		return fmt.Sprintf("%s needs at least %s entries", path, fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s], got %q", path, fe.Param(), fmt.Sprint(fe.Value()))
	case "url":
		return fmt.Sprintf("%s must be a URL, got %q", path, fmt.Sprint(fe.Value()))
	default:
		return fmt.Sprintf("%s failed %s validation", path, fe.Tag())
	}
}
