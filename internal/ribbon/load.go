package ribbon

import (
	"errors"
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// File is the on-disk layout of a rail reference model.
// JSON files decode through the same YAML decoder.
//
// A line with a single kilometer-marker system lists its anchors directly;
// a line crossing several lists them per reference instead:
//
//	references:
//	  - name: ADIF
//	    anchors: [...]
//	  - name: RFN
//	    from_s_km: 136.442302
//	    anchors: [...]
type File struct {
	Name       string      `yaml:"name"`
	Ribbon     []Point     `yaml:"ribbon" validate:"min=1,dive"`
	Anchors    []Anchor    `yaml:"anchors" validate:"dive"`
	References []Reference `yaml:"references" validate:"dive"`
}

// Load reads and validates a rail reference model from a YAML or JSON file.
func Load(path string) (*Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rail model: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a rail reference model.
func Parse(data []byte) (*Model, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode rail model: %w", err)
	}
	if err := validator.New().Struct(f); err != nil {
		return nil, fmt.Errorf("validate rail model: %w", err)
	}
	switch {
	case len(f.Anchors) > 0 && len(f.References) > 0:
		return nil, errors.New("validate rail model: anchors and references are mutually exclusive")
	case len(f.Anchors) == 0 && len(f.References) == 0:
		return nil, fmt.Errorf("validate rail model: %w", ErrNoAnchors)
	}
	if len(f.References) > 0 {
		return NewWithReferences(f.Name, f.Ribbon, f.References)
	}
	return New(f.Name, f.Ribbon, f.Anchors)
}
