package extract

import (
	"os"
	"regexp"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// Profile overrides strategy chains per field without recompiling. The file
// has a top-level "fields" key; each entry fully replaces the built-in chain
// for that field.
//
//	fields:
//	  enrollment:
//	    strategies:
//	      - kind: structured
//	        key: enrollment
//	        confidence: 94
//	      - kind: selector
//	        query: ".enrollment .value"
//	        confidence: 85
//	      - kind: pattern
//	        regex: 'enrollment of ([\d,]+)'
//	        group: 1
//	        confidence: 75
type Profile struct {
	Fields map[string]FieldProfile `yaml:"fields"`
}

// FieldProfile is the per-field override.
type FieldProfile struct {
	Strategies []StrategyProfile `yaml:"strategies"`
}

// StrategyProfile is the YAML shape of one strategy variant.
type StrategyProfile struct {
	Kind       string  `yaml:"kind"` // structured | selector | pattern
	Key        string  `yaml:"key,omitempty"`
	Query      string  `yaml:"query,omitempty"`
	Attr       string  `yaml:"attr,omitempty"`
	Regex      string  `yaml:"regex,omitempty"`
	Group      int     `yaml:"group,omitempty"`
	Confidence float64 `yaml:"confidence"`
}

// LoadProfile reads a profile file and applies it to the registry, replacing
// the strategy chains of the named fields. Unknown field keys are an error:
// a typo would otherwise silently disable an override.
func LoadProfile(path string, reg *Registry) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return eris.Wrapf(err, "extract: read profile %s", path)
	}

	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return eris.Wrapf(err, "extract: parse profile %s", path)
	}

	for key, fp := range p.Fields {
		spec := reg.ByKey(key)
		if spec == nil {
			return eris.Errorf("extract: profile references unknown field %q", key)
		}
		chain, err := buildChain(key, fp.Strategies)
		if err != nil {
			return err
		}
		spec.Strategies = chain
	}
	return nil
}

func buildChain(field string, profiles []StrategyProfile) ([]Strategy, error) {
	if len(profiles) == 0 {
		return nil, eris.Errorf("extract: profile for %q has no strategies", field)
	}

	chain := make([]Strategy, 0, len(profiles))
	for _, sp := range profiles {
		switch sp.Kind {
		case "structured":
			if sp.Key == "" {
				return nil, eris.Errorf("extract: profile %s: structured strategy missing key", field)
			}
			chain = append(chain, StructuredData{Key: sp.Key, Conf: sp.Confidence})
		case "selector":
			if sp.Query == "" {
				return nil, eris.Errorf("extract: profile %s: selector strategy missing query", field)
			}
			chain = append(chain, Selector{Query: sp.Query, Attr: sp.Attr, Conf: sp.Confidence})
		case "pattern":
			re, err := regexp.Compile(sp.Regex)
			if err != nil {
				return nil, eris.Wrapf(err, "extract: profile %s: compile pattern", field)
			}
			chain = append(chain, Pattern{Regex: re, Group: sp.Group, Conf: sp.Confidence})
		default:
			return nil, eris.Errorf("extract: profile %s: unknown strategy kind %q", field, sp.Kind)
		}
	}
	return chain, nil
}
