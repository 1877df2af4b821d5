package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/atmx/transit-fare/internal/fare"
	"github.com/atmx/transit-fare/internal/model"
)

// FileStore implements StationTable as a pretty-printed JSON object keyed by
// station name: {"Central": {"x": 0, "y": 64, "z": 0}, ...}.
//
// Writes go to a temp file in the same directory and are renamed over the
// target, so a crash mid-write leaves the previous table intact.
type FileStore struct {
	path string
}

type fileCoords struct {
	X int64 `json:"x"`
	Y int64 `json:"y"`
	Z int64 `json:"z"`
}

// NewFileStore creates a file-backed station table at path. The file and
// its directory are created on first save.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the backing file path.
func (s *FileStore) Path() string {
	return s.path
}

// LoadStations reads the table. A missing file is an empty table; a
// malformed file is an error.
func (s *FileStore) LoadStations(_ context.Context) ([]model.Station, error) {
	var table map[string]fileCoords
	if _, err := readJSONFile(s.path, &table); err != nil {
		return nil, err
	}

	stations := make([]model.Station, 0, len(table))
	for name, c := range table {
		stations = append(stations, model.Station{Name: name, X: c.X, Y: c.Y, Z: c.Z})
	}
	return stations, nil
}

// SaveStations rewrites the whole file.
func (s *FileStore) SaveStations(_ context.Context, stations []model.Station) error {
	table := make(map[string]fileCoords, len(stations))
	for _, st := range stations {
		table[st.Name] = fileCoords{X: st.X, Y: st.Y, Z: st.Z}
	}
	return writeJSONFile(s.path, table)
}

// FareFile implements FareTable as a JSON array of rules.
type FareFile struct {
	path string
}

// NewFareFile creates a file-backed fare table at path.
func NewFareFile(path string) *FareFile {
	return &FareFile{path: path}
}

// LoadFares reads the rules. A missing file is an empty table.
func (f *FareFile) LoadFares(_ context.Context) ([]model.FareRule, error) {
	var rules []model.FareRule
	if _, err := readJSONFile(f.path, &rules); err != nil {
		return nil, err
	}
	return rules, nil
}

// SaveFares rewrites the whole file.
func (f *FareFile) SaveFares(_ context.Context, rules []model.FareRule) error {
	if rules == nil {
		rules = []model.FareRule{}
	}
	return writeJSONFile(f.path, rules)
}

// DiscountFile implements DiscountStore as a single JSON object. No file
// means no discount.
type DiscountFile struct {
	path string
}

// NewDiscountFile creates a file-backed discount store at path.
func NewDiscountFile(path string) *DiscountFile {
	return &DiscountFile{path: path}
}

// LoadDiscount reads the saved discount, or nil if none was saved.
func (f *DiscountFile) LoadDiscount(_ context.Context) (*fare.Discount, error) {
	var d fare.Discount
	found, err := readJSONFile(f.path, &d)
	if err != nil || !found {
		return nil, err
	}
	return &d, nil
}

// SaveDiscount writes d, or deletes the file when d is nil.
func (f *DiscountFile) SaveDiscount(_ context.Context, d *fare.Discount) error {
	if d == nil {
		if err := os.Remove(f.path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove discount file: %w", err)
		}
		return nil
	}
	return writeJSONFile(f.path, d)
}

// readJSONFile decodes path into v. It reports false, with no error, when
// the file does not exist.
func readJSONFile(path string, v any) (bool, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("parse %s: %w", path, err)
	}
	return true, nil
}

// writeJSONFile replaces path with the indented encoding of v via a temp
// file and rename.
func writeJSONFile(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create dir %s: %w", dir, err)
	}

	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	tmp, err := os.CreateTemp(dir, "."+base+"-*"+filepath.Ext(path))
	if err != nil {
		return fmt.Errorf("create temp file for %s: %w", path, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("replace %s: %w", path, err)
	}
	return nil
}
