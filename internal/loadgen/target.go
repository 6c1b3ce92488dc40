package loadgen

import (
	"fmt"
	"net"
	"strings"
)

// Target is a routed host exercised by the generator.
type Target struct {
	Host   string `json:"host" mapstructure:"host"`
	Expect string `json:"expect" mapstructure:"expect"`
	// URL overrides the dial address; requests still carry Host as the Host header.
	URL string `json:"url,omitempty" mapstructure:"url"`
}

// DefaultExpect returns the first DNS label of host, ignoring any port.
func DefaultExpect(host string) string {
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	label, _, _ := strings.Cut(host, ".")
	return label
}

// Address is the URL requests for this target are sent to.
func (t Target) Address() string {
	if t.URL != "" {
		return t.URL
	}
	return "http://" + t.Host + "/"
}

func (t Target) validate() error {
	if t.Host == "" {
		return fmt.Errorf("target host is required")
	}
	if strings.Contains(t.Host, "://") || strings.ContainsAny(t.Host, "/ \t") {
		return fmt.Errorf("target host %q must be a bare hostname", t.Host)
	}
	return nil
}

func (t Target) withDefaults() Target {
	if t.Expect == "" {
		t.Expect = DefaultExpect(t.Host)
	}
	return t
}

// NormalizeTargets validates targets, fills defaults and rejects duplicates.
func NormalizeTargets(targets []Target) ([]Target, error) {
	if len(targets) == 0 {
		return nil, fmt.Errorf("at least one target is required")
	}
	seen := make(map[string]bool, len(targets))
	out := make([]Target, 0, len(targets))
	for _, t := range targets {
		t.Host = strings.TrimSpace(t.Host)
		t.Expect = strings.TrimSpace(t.Expect)
		t.URL = strings.TrimSpace(t.URL)
		if err := t.validate(); err != nil {
			return nil, err
		}
		if seen[t.Host] {
			return nil, fmt.Errorf("duplicate target %q", t.Host)
		}
		seen[t.Host] = true
		out = append(out, t.withDefaults())
	}
	return out, nil
}
