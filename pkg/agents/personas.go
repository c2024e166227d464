package agents

import (
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Persona is one expert identity the stylist agent consults. The key is the
// expert_type the analysis service understands.
type Persona struct {
	Key         string `yaml:"key"`
	Description string `yaml:"description"`
}

// DefaultPersonas is the built-in expert roster used when no personas file is
// configured.
func DefaultPersonas() []Persona {
	return []Persona{
		{Key: "color_expert", Description: "색상 조합 전문가"},
		{Key: "style_anal", Description: "스타일 분석 전문가"},
		{Key: "fitting_coordinater", Description: "핏 코디네이터"},
	}
}

type personasFile struct {
	Experts []Persona `yaml:"experts"`
}

// LoadPersonas reads the expert roster from a YAML file. A missing path falls
// back to the built-in roster.
func LoadPersonas(path string) ([]Persona, error) {
	if path == "" {
		return DefaultPersonas(), nil
	}
	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return DefaultPersonas(), nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "read personas file")
	}

	var f personasFile
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, errors.Wrap(err, "parse personas file")
	}
	if len(f.Experts) == 0 {
		return nil, errors.New("personas file defines no experts")
	}
	for _, p := range f.Experts {
		if p.Key == "" {
			return nil, errors.New("persona with empty key")
		}
	}
	return f.Experts, nil
}
