package state_test

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/torosent/loadgate/internal/state"
)

func statePath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "state.json")
}

func TestLoadMissingFileIsEmpty(t *testing.T) {
	s, err := state.Load(statePath(t))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(s.Keys()) != 0 {
		t.Fatalf("expected empty state, got keys %v", s.Keys())
	}
}

func TestUpdateMergesNonDestructively(t *testing.T) {
	path := statePath(t)
	if _, err := state.Update(path, map[string]any{"a": 1}); err != nil {
		t.Fatalf("first update: %v", err)
	}
	if _, err := state.Update(path, map[string]any{"b": 2}); err != nil {
		t.Fatalf("second update: %v", err)
	}

	s, err := state.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	var a, b int
	if ok, err := s.Get("a", &a); !ok || err != nil || a != 1 {
		t.Fatalf("a = %d (ok=%v err=%v), want 1", a, ok, err)
	}
	if ok, err := s.Get("b", &b); !ok || err != nil || b != 2 {
		t.Fatalf("b = %d (ok=%v err=%v), want 2", b, ok, err)
	}
}

func TestSaveStampsVersionAndStableRunID(t *testing.T) {
	path := statePath(t)
	first, err := state.Update(path, map[string]any{"a": 1})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	id := first.RunID()
	if len(id) != 26 {
		t.Fatalf("run id %q is not a ULID", id)
	}

	second, err := state.Update(path, map[string]any{"a": 2})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if second.RunID() != id {
		t.Fatalf("run id changed from %s to %s", id, second.RunID())
	}
	var version int
	if ok, _ := second.Get(state.KeySchemaVersion, &version); !ok || version != state.SchemaVersion {
		t.Fatalf("schema_version = %d, want %d", version, state.SchemaVersion)
	}
}

func TestSaveWritesSortedIndentedJSON(t *testing.T) {
	path := statePath(t)
	if _, err := state.Update(path, map[string]any{"zeta": true, "alpha": "x"}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	text := string(data)
	if !strings.HasPrefix(text, "{\n  \"alpha\"") {
		t.Fatalf("expected sorted, indented output, got:\n%s", text)
	}
	if strings.Index(text, `"run_id"`) > strings.Index(text, `"zeta"`) {
		t.Fatalf("keys are not sorted:\n%s", text)
	}
}

func TestUnknownKeysSurviveUpdate(t *testing.T) {
	path := statePath(t)
	if err := os.WriteFile(path, []byte(`{"future_key":{"nested":[1,2,3]},"kubeconfig":"/tmp/kc"}`), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := state.Update(path, map[string]any{"load_test": map[string]string{"json": "out.json"}}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	s, err := state.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := s.Lookup("future_key.nested.2").Int(); got != 3 {
		t.Fatalf("future_key lost, lookup = %d", got)
	}
	if got := s.GetString(state.KeyKubeconfig); got != "/tmp/kc" {
		t.Fatalf("kubeconfig = %q", got)
	}
	if got := s.Lookup("load_test.json").String(); got != "out.json" {
		t.Fatalf("load_test.json = %q", got)
	}
}

func TestSaveKeepsConcurrentlyWrittenKeys(t *testing.T) {
	path := statePath(t)
	s, err := state.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	// Another phase writes in between.
	if _, err := state.Update(path, map[string]any{"other": "phase"}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if err := s.Set("mine", 1); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := s.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if s.GetString("other") != "phase" {
		t.Fatalf("save dropped the other phase's key: %v", s.Keys())
	}
}

func TestLoadRejectsMalformedState(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"not json", "{not json"},
		{"array", "[1,2]"},
		{"null", "null"},
		{"bad version", `{"schema_version":"one"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := statePath(t)
			if err := os.WriteFile(path, []byte(tt.content), 0o644); err != nil {
				t.Fatalf("write: %v", err)
			}
			_, err := state.Load(path)
			if !errors.Is(err, state.ErrMalformed) {
				t.Fatalf("expected ErrMalformed, got %v", err)
			}
		})
	}
}

func TestLoadRejectsNewerSchema(t *testing.T) {
	path := statePath(t)
	if err := os.WriteFile(path, []byte(`{"schema_version":99}`), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := state.Load(path); err == nil {
		t.Fatal("expected error for newer schema")
	}
}

func TestGetReportsAbsenceAndTypeErrors(t *testing.T) {
	s := state.New(statePath(t))
	var v int
	if ok, err := s.Get("missing", &v); ok || err != nil {
		t.Fatalf("Get(missing) = %v, %v", ok, err)
	}
	if err := s.Set("text", "hello"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if ok, err := s.Get("text", &v); !ok || err == nil {
		t.Fatalf("expected type error, got ok=%v err=%v", ok, err)
	}
}

func TestSaveLeavesNoTempFiles(t *testing.T) {
	path := statePath(t)
	if _, err := state.Update(path, map[string]any{"a": json.RawMessage(`{"x":1}`)}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".tmp") {
			t.Fatalf("temp file left behind: %s", e.Name())
		}
	}
}
