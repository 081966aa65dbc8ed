package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strconv"

	"github.com/TestaLab/Multi-sheet-RESOLFT-code/internal/fsutil"
	"github.com/TestaLab/Multi-sheet-RESOLFT-code/internal/params"
	"github.com/TestaLab/Multi-sheet-RESOLFT-code/internal/protocol"
)

// Assignment is one parameter value to upload to the instrument.
type Assignment struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// UnmarshalJSON accepts the value either as a JSON number or a string.
func (a *Assignment) UnmarshalJSON(data []byte) error {
	var raw struct {
		Name  string          `json:"name"`
		Value json.RawMessage `json:"value"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	a.Name = raw.Name

	v := bytes.TrimSpace(raw.Value)
	switch {
	case len(v) == 0:
		return fmt.Errorf("parameter %q has no value", raw.Name)
	case v[0] == '"':
		s, err := strconv.Unquote(string(v))
		if err != nil {
			return fmt.Errorf("parameter %q: %w", raw.Name, err)
		}
		a.Value = s
	default:
		var n json.Number
		if err := json.Unmarshal(v, &n); err != nil {
			return fmt.Errorf("parameter %q: value must be a number or string", raw.Name)
		}
		a.Value = n.String()
	}
	return nil
}

// ParameterSet is an ordered list of assignments. Order is kept so uploads
// reach the instrument in the sequence the file lists them.
type ParameterSet struct {
	Parameters []Assignment `json:"parameters"`
}

// LoadParameterSet reads a parameter set file and checks every name against
// the registry catalogue.
func LoadParameterSet(path string) (*ParameterSet, error) {
	data, err := readConfigFile(path)
	if err != nil {
		return nil, err
	}

	set := &ParameterSet{}
	if err := json.Unmarshal(data, set); err != nil {
		return nil, fmt.Errorf("failed to parse parameter set JSON: %w", err)
	}
	if err := set.Validate(); err != nil {
		return nil, err
	}
	return set, nil
}

// Validate rejects unknown names.
func (s *ParameterSet) Validate() error {
	for i, a := range s.Parameters {
		if !params.Known(a.Name) {
			return fmt.Errorf("parameter %d: %w: %q", i, params.ErrUnknownParameter, a.Name)
		}
		if err := protocol.CheckToken(a.Value); err != nil {
			return fmt.Errorf("parameter %d (%s): %w: %q", i, a.Name, err, a.Value)
		}
	}
	return nil
}

// ParameterSetFromValues orders values by the parameter catalogue. Names the
// catalogue does not know are dropped.
func ParameterSetFromValues(values map[string]string) *ParameterSet {
	set := &ParameterSet{Parameters: []Assignment{}}
	for _, f := range params.Fields() {
		if v, ok := values[f.Name]; ok {
			set.Parameters = append(set.Parameters, Assignment{Name: f.Name, Value: v})
		}
	}
	return set
}

// Save writes the set as indented JSON, creating the parent directory. The
// file can be read back with LoadParameterSet.
func (s *ParameterSet) Save(fsys fsutil.FileSystem, path string) error {
	if ext := filepath.Ext(path); ext != ".json" {
		return fmt.Errorf("parameter set file must have .json extension, got %q", ext)
	}
	if err := s.Validate(); err != nil {
		return err
	}

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode parameter set: %w", err)
	}
	if err := fsys.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", path, err)
	}
	if err := fsys.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("failed to write parameter set: %w", err)
	}
	return nil
}
