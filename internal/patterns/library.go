package patterns

import (
	_ "embed"
	"errors"
	"fmt"
	"math"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/joelkehle/value-model-agent/internal/drivers"
)

//go:embed patterns.yaml
var builtinYAML []byte

type ValueSplit struct {
	Revenue float64 `yaml:"revenue" json:"revenue"`
	Cost    float64 `yaml:"cost" json:"cost"`
	Risk    float64 `yaml:"risk" json:"risk"`
}

func (s ValueSplit) Total() float64 { return s.Revenue + s.Cost + s.Risk }

type ROIRange struct {
	Min           float64 `yaml:"min" json:"min"`
	Max           float64 `yaml:"max" json:"max"`
	PaybackMonths int     `yaml:"payback_months" json:"payback_months"`
}

type DriverIDs struct {
	Primary   []string `yaml:"primary" json:"primary"`
	Secondary []string `yaml:"secondary" json:"secondary"`
}

// All returns primary then secondary ids, each once.
func (d DriverIDs) All() []string {
	return union(nil, d.Primary, d.Secondary)
}

type ValuePattern struct {
	ID              string     `yaml:"id" json:"id"`
	Name            string     `yaml:"name" json:"name"`
	IndustryTags    []string   `yaml:"industry_tags" json:"industry_tags"`
	PersonaTags     []string   `yaml:"persona_tags" json:"persona_tags"`
	FunctionTags    []string   `yaml:"function_tags" json:"function_tags"`
	ProblemKeywords []string   `yaml:"problem_keywords" json:"problem_keywords"`
	Drivers         DriverIDs  `yaml:"drivers" json:"drivers"`
	ValueSplit      ValueSplit `yaml:"value_split" json:"value_split"`
	KPIs            []string   `yaml:"kpis" json:"kpis"`
	ROIRange        ROIRange   `yaml:"roi_range" json:"roi_range"`
}

type libraryFile struct {
	Patterns []ValuePattern `yaml:"patterns"`
}

// Library is an ordered, immutable set of value patterns. Declaration order is
// the tie-break for matching.
type Library struct {
	patterns []ValuePattern
	catalog  *drivers.Catalog
}

// NewLibrary parses the embedded pattern library and validates it against the
// catalog.
func NewLibrary(catalog *drivers.Catalog) (*Library, error) {
	return Parse(builtinYAML, catalog)
}

// LoadFile reads a library from a YAML file on disk.
func LoadFile(path string, catalog *drivers.Catalog) (*Library, error) {
	blob, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read pattern library: %w", err)
	}
	return Parse(blob, catalog)
}

func Parse(blob []byte, catalog *drivers.Catalog) (*Library, error) {
	var f libraryFile
	if err := yaml.Unmarshal(blob, &f); err != nil {
		return nil, fmt.Errorf("parse pattern library: %w", err)
	}
	lib := &Library{patterns: f.Patterns, catalog: catalog}
	if err := lib.Validate(catalog); err != nil {
		return nil, err
	}
	return lib, nil
}

// MustNewLibrary panics if the embedded library is invalid; the embedded file
// ships with the binary so this only fails on a broken build.
func MustNewLibrary(catalog *drivers.Catalog) *Library {
	lib, err := NewLibrary(catalog)
	if err != nil {
		panic(err)
	}
	return lib
}

// Validate checks split totals, ROI bounds and id uniqueness. Driver ids are
// checked when catalog is non-nil.
func (l *Library) Validate(catalog *drivers.Catalog) error {
	if len(l.patterns) == 0 {
		return errors.New("pattern library is empty")
	}
	seen := map[string]bool{}
	var errs []error
	for _, p := range l.patterns {
		if p.ID == "" {
			errs = append(errs, errors.New("pattern with empty id"))
			continue
		}
		if seen[p.ID] {
			errs = append(errs, fmt.Errorf("%s: duplicate pattern id", p.ID))
		}
		seen[p.ID] = true
		if math.Abs(p.ValueSplit.Total()-100) > splitTolerance {
			errs = append(errs, fmt.Errorf("%s: value split sums to %.2f, want 100", p.ID, p.ValueSplit.Total()))
		}
		if p.ROIRange.Min > p.ROIRange.Max {
			errs = append(errs, fmt.Errorf("%s: roi min exceeds max", p.ID))
		}
		if catalog != nil {
			for _, id := range p.Drivers.All() {
				if !catalog.Has(id) {
					errs = append(errs, fmt.Errorf("%s: unknown driver %q", p.ID, id))
				}
			}
		}
	}
	return errors.Join(errs...)
}

func (l *Library) Patterns() []ValuePattern {
	return append([]ValuePattern(nil), l.patterns...)
}

func (l *Library) Get(id string) (ValuePattern, bool) {
	for _, p := range l.patterns {
		if p.ID == id {
			return p, true
		}
	}
	return ValuePattern{}, false
}

const splitTolerance = 0.5

const fallbackID = "generic"

// Fallback is the pattern used when nothing in the library matches.
func (l *Library) Fallback() ValuePattern {
	var ids []string
	if l.catalog != nil {
		ids = l.catalog.DefaultSelection()
	}
	return ValuePattern{
		ID:         fallbackID,
		Name:       "Generic B2B value model",
		Drivers:    DriverIDs{Primary: ids},
		ValueSplit: ValueSplit{Revenue: 50, Cost: 40, Risk: 10},
		KPIs:       []string{"revenue per rep", "cost to serve", "time to value"},
		ROIRange:   ROIRange{Min: 100, Max: 300, PaybackMonths: 12},
	}
}

func union(dst []string, lists ...[]string) []string {
	seen := map[string]bool{}
	for _, v := range dst {
		seen[v] = true
	}
	for _, list := range lists {
		for _, v := range list {
			if seen[v] {
				continue
			}
			seen[v] = true
			dst = append(dst, v)
		}
	}
	return dst
}
