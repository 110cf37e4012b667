package transfer

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// ResultStore persists per-repository outcomes to a JSON file keyed by
// target name, so interrupted runs leave a usable record behind. The file
// is rewritten atomically after every update.
type ResultStore struct {
	path    string
	results map[string]Result
}

type storeFile struct {
	UpdatedAt time.Time `json:"updated_at"`
	Results   []Result  `json:"results"`
}

// OpenResultStore loads existing results from path, or starts empty when
// the file does not exist. An empty path disables persistence.
func OpenResultStore(path string) (*ResultStore, error) {
	store := &ResultStore{path: path, results: make(map[string]Result)}
	if path == "" {
		return store, nil
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return store, nil
	}
	if err != nil {
		return nil, fmt.Errorf("result store: read %s: %w", path, err)
	}
	var file storeFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("result store: parse %s: %w", path, err)
	}
	for _, result := range file.Results {
		store.results[result.TargetName] = result
	}
	return store, nil
}

// Record upserts one result and flushes the file.
func (s *ResultStore) Record(result Result) error {
	s.results[result.TargetName] = result
	return s.flush()
}

// Results returns all stored results in target-name order.
func (s *ResultStore) Results() []Result {
	out := make([]Result, 0, len(s.results))
	for _, result := range s.results {
		out = append(out, result)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TargetName < out[j].TargetName })
	return out
}

func (s *ResultStore) flush() error {
	if s.path == "" {
		return nil
	}
	file := storeFile{UpdatedAt: time.Now().UTC(), Results: s.Results()}
	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return fmt.Errorf("result store: encode: %w", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".results-*.json")
	if err != nil {
		return fmt.Errorf("result store: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("result store: write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("result store: close: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("result store: rename: %w", err)
	}
	return nil
}
