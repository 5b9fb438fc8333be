package api

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/posgateway/posgateway/pkg/posmodel"
)

// Fixture is one named ingest scenario bundled for exercising the
// pipeline end-to-end without a real POS terminal, per SPEC_FULL.md §6.
type Fixture struct {
	Name       string            `yaml:"name" json:"name"`
	SourceText string            `yaml:"source_text" json:"source_text"`
	StoreID    string            `yaml:"store_id" json:"store_id"`
	Metadata   posmodel.Metadata `yaml:"metadata,omitempty" json:"metadata,omitempty"`
}

// LoadFixtures reads a {name, source_text, store_id} triple list from a
// YAML file such as testdata/fixtures.yaml. A missing file yields an
// empty, non-error fixture set so the server still starts without one.
func LoadFixtures(path string) ([]Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("api: read fixtures: %w", err)
	}
	var fixtures []Fixture
	if err := yaml.Unmarshal(data, &fixtures); err != nil {
		return nil, fmt.Errorf("api: parse fixtures: %w", err)
	}
	return fixtures, nil
}
