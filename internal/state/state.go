// Package state persists the JSON object that threads results between
// independently invoked pipeline phases.
//
// Every writer reads the whole file, merges only the keys it changed and
// writes the whole file back. Keys a writer never touched survive, including
// keys this version of the tool does not know about.
package state

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/gofrs/flock"
	"github.com/oklog/ulid/v2"
	"github.com/tidwall/gjson"
)

// SchemaVersion is the newest state layout this build understands.
const SchemaVersion = 1

// Well-known keys.
const (
	KeySchemaVersion   = "schema_version"
	KeyRunID           = "run_id"
	KeyKubeconfig      = "kubeconfig"
	KeyReadiness       = "readiness"
	KeyLoadTest        = "load_test"
	KeyResourceMetrics = "resource_metrics"
)

// ErrMalformed is returned when the state file is not a JSON object.
var ErrMalformed = errors.New("malformed state file")

// State is an in-memory copy of the state file.
type State struct {
	path   string
	values map[string]json.RawMessage
	dirty  map[string]bool
}

// New returns an empty state bound to path.
func New(path string) *State {
	return &State{
		path:   path,
		values: make(map[string]json.RawMessage),
		dirty:  make(map[string]bool),
	}
}

// Load reads path. A missing file yields an empty state.
func Load(path string) (*State, error) {
	s := New(path)
	values, err := readFile(path)
	if err != nil {
		return nil, err
	}
	s.values = values
	return s, nil
}

func readFile(path string) (map[string]json.RawMessage, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return make(map[string]json.RawMessage), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read state %s: %w", path, err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return make(map[string]json.RawMessage), nil
	}

	var values map[string]json.RawMessage
	if err := json.Unmarshal(data, &values); err != nil || values == nil {
		return nil, fmt.Errorf("%w %s: not a JSON object", ErrMalformed, path)
	}
	if raw, ok := values[KeySchemaVersion]; ok {
		var version int
		if err := json.Unmarshal(raw, &version); err != nil {
			return nil, fmt.Errorf("%w %s: schema_version is not an integer", ErrMalformed, path)
		}
		if version > SchemaVersion {
			return nil, fmt.Errorf("state %s has schema_version %d, this build supports up to %d", path, version, SchemaVersion)
		}
	}
	return values, nil
}

// Path returns the file the state is bound to.
func (s *State) Path() string { return s.path }

// Get decodes key into v. It reports false when the key is absent.
func (s *State) Get(key string, v any) (bool, error) {
	raw, ok := s.values[key]
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return true, fmt.Errorf("state key %q: %w", key, err)
	}
	return true, nil
}

// GetString returns a string value, or "" when absent or not a string.
func (s *State) GetString(key string) string {
	var v string
	if ok, err := s.Get(key, &v); !ok || err != nil {
		return ""
	}
	return v
}

// Lookup resolves a dotted path such as "load_test.markdown".
func (s *State) Lookup(path string) gjson.Result {
	data, err := json.Marshal(s.values)
	if err != nil {
		return gjson.Result{}
	}
	return gjson.GetBytes(data, path)
}

// Set stores v under key and marks it for the next Save.
func (s *State) Set(key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("state key %q: %w", key, err)
	}
	s.values[key] = raw
	s.dirty[key] = true
	return nil
}

// Keys returns all keys in sorted order.
func (s *State) Keys() []string {
	keys := make([]string, 0, len(s.values))
	for k := range s.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// RunID returns the pipeline run id, or "" before the first Save.
func (s *State) RunID() string {
	return s.GetString(KeyRunID)
}

// Save merges the keys set on s into the file on disk under an advisory
// lock and writes the result atomically. Keys present on disk but not set
// on s are kept, and s is refreshed with them.
func (s *State) Save() error {
	if s.path == "" {
		return errors.New("state path is empty")
	}
	if dir := filepath.Dir(s.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create state dir: %w", err)
		}
	}

	lock := flock.New(s.path + ".lock")
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("lock state %s: %w", s.path, err)
	}
	defer func() { _ = lock.Unlock() }()

	merged, err := readFile(s.path)
	if err != nil {
		return err
	}
	for key := range s.dirty {
		merged[key] = s.values[key]
	}
	if _, ok := merged[KeyRunID]; !ok {
		if id, ok := s.values[KeyRunID]; ok {
			merged[KeyRunID] = id
		} else {
			merged[KeyRunID], _ = json.Marshal(ulid.Make().String())
		}
	}
	merged[KeySchemaVersion], _ = json.Marshal(SchemaVersion)

	data, err := json.MarshalIndent(merged, "", "  ")
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	if err := writeAtomic(s.path, append(data, '\n')); err != nil {
		return err
	}

	s.values = merged
	s.dirty = make(map[string]bool)
	return nil
}

// Update loads path, applies updates and saves it in one step.
func Update(path string, updates map[string]any) (*State, error) {
	s, err := Load(path)
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(updates))
	for k := range updates {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := s.Set(k, updates[k]); err != nil {
			return nil, err
		}
	}
	if err := s.Save(); err != nil {
		return nil, err
	}
	return s, nil
}

func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("write state: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write state: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("write state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write state: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("write state: %w", err)
	}
	return nil
}
