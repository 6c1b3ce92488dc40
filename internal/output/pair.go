package output

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// Report pair base names.
const (
	LoadTestBase        = "load-test-results"
	ResourceMetricsBase = "resource-metrics"
)

// Paths locates a written report pair.
type Paths struct {
	JSON     string `json:"json"`
	Markdown string `json:"markdown"`
}

// rename is swapped in tests.
var rename = os.Rename

// WritePair writes <base>.json and <base>.md into dir. Both documents are
// rendered before anything touches the disk, and a failure at any step
// leaves neither file behind, including the files of a previous pair once
// the new JSON has replaced its predecessor.
func WritePair(dir, base string, v any, markdown string) (Paths, error) {
	var buf bytes.Buffer
	if err := WriteJSON(&buf, v); err != nil {
		return Paths{}, fmt.Errorf("render %s.json: %w", base, err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Paths{}, fmt.Errorf("create artifacts dir: %w", err)
	}

	paths := Paths{
		JSON:     filepath.Join(dir, base+".json"),
		Markdown: filepath.Join(dir, base+".md"),
	}

	jsonTmp, err := writeTemp(dir, base+".json", buf.Bytes())
	if err != nil {
		return Paths{}, err
	}
	defer os.Remove(jsonTmp)

	mdTmp, err := writeTemp(dir, base+".md", []byte(markdown))
	if err != nil {
		return Paths{}, err
	}
	defer os.Remove(mdTmp)

	if err := rename(jsonTmp, paths.JSON); err != nil {
		return Paths{}, fmt.Errorf("write %s: %w", paths.JSON, err)
	}
	if err := rename(mdTmp, paths.Markdown); err != nil {
		return Paths{}, errors.Join(
			fmt.Errorf("write %s: %w", paths.Markdown, err),
			removeIfExists(paths.JSON),
			removeIfExists(paths.Markdown),
		)
	}
	return paths, nil
}

func removeIfExists(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func writeTemp(dir, name string, data []byte) (string, error) {
	f, err := os.CreateTemp(dir, "."+name+".*.tmp")
	if err != nil {
		return "", fmt.Errorf("write %s: %w", name, err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", fmt.Errorf("write %s: %w", name, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("write %s: %w", name, err)
	}
	return f.Name(), nil
}
