package config

import (
	"testing"
	"time"
)

func TestAsDuration(t *testing.T) {
	tests := []struct {
		input any
		want  time.Duration
	}{
		{"30s", 30 * time.Second},
		{"1m30s", 90 * time.Second},
		{"15", 15 * time.Second},
		{"0.5", 500 * time.Millisecond},
		{10, 10 * time.Second},
		{2.5, 2500 * time.Millisecond},
		{5 * time.Second, 5 * time.Second},
		{nil, 0},
	}
	for _, tt := range tests {
		got, err := asDuration(tt.input)
		if err != nil {
			t.Errorf("asDuration(%v) error = %v", tt.input, err)
			continue
		}
		if got != tt.want {
			t.Errorf("asDuration(%v) = %s, want %s", tt.input, got, tt.want)
		}
	}
	if _, err := asDuration("soon"); err == nil {
		t.Error("expected error for invalid duration")
	}
}

func TestAsInt64(t *testing.T) {
	tests := []struct {
		input   any
		want    int64
		wantErr bool
	}{
		{123, 123, false},
		{" 456 ", 456, false},
		{int64(789), 789, false},
		{float64(10), 10, false},
		{1.5, 0, true},
		{"abc", 0, true},
		{nil, 0, false},
	}
	for _, tt := range tests {
		got, err := asInt64(tt.input)
		if (err != nil) != tt.wantErr {
			t.Errorf("asInt64(%v) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("asInt64(%v) = %d, want %d", tt.input, got, tt.want)
		}
	}
}

func TestAsStringSlice(t *testing.T) {
	got, err := asStringSlice("a, b,,c")
	if err != nil || len(got) != 3 || got[2] != "c" {
		t.Fatalf("asStringSlice = %v, %v", got, err)
	}
	got, err = asStringSlice([]any{"x", 1})
	if err != nil || len(got) != 2 || got[1] != "1" {
		t.Fatalf("asStringSlice = %v, %v", got, err)
	}
}

func TestAsStringMap(t *testing.T) {
	got, err := asStringMap("A=1, B = 2")
	if err != nil || got["A"] != "1" || got["B"] != "2" {
		t.Fatalf("asStringMap = %v, %v", got, err)
	}
	if _, err := asStringMap("novalue"); err == nil {
		t.Fatal("expected error for pair without '='")
	}
}

func TestAsTargets(t *testing.T) {
	got, err := asTargets([]any{
		"foo.localhost",
		"bar.localhost=bar-backend",
		map[string]any{"Host": "baz.localhost", "url": "http://127.0.0.1:1"},
	})
	if err != nil {
		t.Fatalf("asTargets: %v", err)
	}
	want := []Target{
		{Host: "foo.localhost"},
		{Host: "bar.localhost", Expect: "bar-backend"},
		{Host: "baz.localhost", URL: "http://127.0.0.1:1"},
	}
	if len(got) != len(want) {
		t.Fatalf("got %+v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("target %d = %+v, want %+v", i, got[i], want[i])
		}
	}
	if _, err := asTargets(42); err == nil {
		t.Fatal("expected error for numeric targets")
	}
}

func TestLookupSettingVariants(t *testing.T) {
	settings := map[string]any{"warmup-attempts": 3, "rate": 9}
	if v, ok := lookupSetting(settings, "warmup_attempts"); !ok || v != 3 {
		t.Errorf("dashed lookup = %v, %v", v, ok)
	}
	if v, ok := lookupSetting(settings, "Rate"); !ok || v != 9 {
		t.Errorf("case-insensitive lookup = %v, %v", v, ok)
	}
	if _, ok := lookupSetting(settings, "missing"); ok {
		t.Error("unexpected hit")
	}
}

func TestSetNested(t *testing.T) {
	m := map[string]any{}
	setNested(m, "load.requests", 5)
	setNested(m, "load.rate", 2)
	setNested(m, "state", "s.json")
	load, ok := m["load"].(map[string]any)
	if !ok || load["requests"] != 5 || load["rate"] != 2 || m["state"] != "s.json" {
		t.Fatalf("m = %v", m)
	}
}
